package aqgeval

import "errors"

var (
	ErrProjectNotFound     = errors.New("project not found")
	ErrDataDirMissing      = errors.New("data directory does not exist")
	ErrSegmentIndex        = errors.New("segment index out of range")
	ErrUnknownQuestionType = errors.New("unknown question type")
	ErrUnknownKeywordType  = errors.New("unknown keyword type")
	ErrInvalidSettings     = errors.New("invalid project settings")
	ErrEmptyTranscript     = errors.New("transcript is empty")
	ErrFolderMissing       = errors.New("segment folder does not exist")
	ErrSegmentNotFound     = errors.New("segment record not found")
	ErrTemplateIndex       = errors.New("template index out of range")
	ErrUnknownBackend      = errors.New("unknown model backend")
	ErrUnknownGuidance     = errors.New("unknown guidance bundle")
)
