package aqgeval

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// QuestionType identifies one of the four generated question kinds
type QuestionType int

const (
	SAQ QuestionType = iota // short answer
	MCQ                     // multiple choice
	GFQ                     // gap fill
	BLQ                     // boolean
)

// QuestionTypes lists every question type in dispatch order
var QuestionTypes = [...]QuestionType{SAQ, MCQ, GFQ, BLQ}

// exportOrder is the row order used by the CSV export within a segment
var exportOrder = [...]QuestionType{SAQ, MCQ, BLQ, GFQ}

var questionTypeKeys = [...]string{SAQ: "saqs", MCQ: "mcqs", GFQ: "gfqs", BLQ: "blqs"}

// String returns the persisted key of the question list ("saqs", "mcqs", ...)
func (t QuestionType) String() string {
	if !t.Valid() {
		return fmt.Sprintf("QuestionType(%d)", int(t))
	}
	return questionTypeKeys[t]
}

// Valid reports whether t is one of the four known question types
func (t QuestionType) Valid() bool {
	return t >= SAQ && t <= BLQ
}

// KeywordType returns the keyword alias mapping feeding this question type
func (t QuestionType) KeywordType() KeywordType {
	return KeywordType(t)
}

// ParseQuestionType maps a persisted key to its QuestionType
func ParseQuestionType(s string) (QuestionType, error) {
	for i, key := range questionTypeKeys {
		if strings.EqualFold(s, key) {
			return QuestionType(i), nil
		}
	}
	return 0, fmt.Errorf("%w: %q (valid: %s)", ErrUnknownQuestionType, s, strings.Join(questionTypeKeys[:], ", "))
}

// KeywordType identifies one of the four per-question-type keyword aliases
type KeywordType int

const (
	SAQKeywords KeywordType = KeywordType(SAQ)
	MCQKeywords KeywordType = KeywordType(MCQ)
	GFQKeywords KeywordType = KeywordType(GFQ)
	BLQKeywords KeywordType = KeywordType(BLQ)
)

// String returns the keyword set name, e.g. "saqs_keywords"
func (k KeywordType) String() string {
	if !k.Valid() {
		return fmt.Sprintf("KeywordType(%d)", int(k))
	}
	return questionTypeKeys[k] + "_keywords"
}

// Valid reports whether k is one of the four keyword sets
func (k KeywordType) Valid() bool {
	return QuestionType(k).Valid()
}

// Source returns which segment text this keyword alias is derived from
func (k KeywordType) Source() TextSource {
	switch k {
	case SAQKeywords, MCQKeywords:
		return SourceTranscript
	default:
		return SourceSummary
	}
}

// ParseKeywordType maps "saqs_keywords" and friends to a KeywordType
func ParseKeywordType(s string) (KeywordType, error) {
	for i := range questionTypeKeys {
		k := KeywordType(i)
		if strings.EqualFold(s, k.String()) {
			return k, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownKeywordType, s)
}

// TextSource selects which text of a segment a stage reads
type TextSource int

const (
	SourceTranscript TextSource = iota
	SourceSummary
)

// String returns "transcript" or "summary"
func (s TextSource) String() string {
	if s == SourceSummary {
		return "summary"
	}
	return "transcript"
}

// AnswerKind tags the variant held by an Answer
type AnswerKind int

const (
	AnswerUnset AnswerKind = iota
	AnswerText
	AnswerOptions
	AnswerBool
)

// Answer is the answer of a generated question: free text for SAQs, an
// option list for MCQs and GFQs, a boolean for BLQs. AnswerUnset marks a
// BLQ answer that could not be interpreted.
type Answer struct {
	Kind    AnswerKind
	Text    string
	Options []string
	Bool    bool
}

// TextAnswer returns a free-text answer
func TextAnswer(s string) Answer { return Answer{Kind: AnswerText, Text: s} }

// OptionsAnswer returns a list answer
func OptionsAnswer(opts []string) Answer {
	return Answer{Kind: AnswerOptions, Options: append([]string{}, opts...)}
}

// BoolAnswer returns a true/false answer
func BoolAnswer(b bool) Answer { return Answer{Kind: AnswerBool, Bool: b} }

// IsUnset reports whether the answer carries no usable value
func (a Answer) IsUnset() bool { return a.Kind == AnswerUnset }

// String renders the answer as a single line for prompts and exports
func (a Answer) String() string {
	switch a.Kind {
	case AnswerText:
		return a.Text
	case AnswerOptions:
		return strings.Join(a.Options, ", ")
	case AnswerBool:
		if a.Bool {
			return "True"
		}
		return "False"
	}
	return ""
}

// MarshalJSON encodes the answer as a string, list, bool or null
func (a Answer) MarshalJSON() ([]byte, error) {
	switch a.Kind {
	case AnswerText:
		return marshalNoEscape(a.Text)
	case AnswerOptions:
		opts := a.Options
		if opts == nil {
			opts = []string{}
		}
		return marshalNoEscape(opts)
	case AnswerBool:
		return json.Marshal(a.Bool)
	}
	return []byte("null"), nil
}

// UnmarshalJSON accepts any of the shapes MarshalJSON writes
func (a *Answer) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		*a = Answer{}
		return nil
	}
	switch trimmed[0] {
	case '"':
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return err
		}
		*a = TextAnswer(s)
	case '[':
		var opts []string
		if err := json.Unmarshal(trimmed, &opts); err != nil {
			return fmt.Errorf("failed to decode answer options: %w", err)
		}
		*a = OptionsAnswer(opts)
	case 't', 'f':
		var b bool
		if err := json.Unmarshal(trimmed, &b); err != nil {
			return err
		}
		*a = BoolAnswer(b)
	default:
		return fmt.Errorf("unsupported answer value: %s", trimmed)
	}
	return nil
}

// Question is one generated question/answer pair
type Question struct {
	Question   string              `json:"question"`
	Answer     Answer              `json:"answer"`
	Evaluation *QuestionEvaluation `json:"question_evaluation,omitempty"`
}

// EvaluationResult is the outcome of one metric. A score of NotEvaluated
// means the metric was not run or failed.
type EvaluationResult struct {
	Score     float64 `json:"score"`
	Reasoning string  `json:"reasoning"`
}

// NotEvaluated is the sentinel score of a missing or failed metric
const NotEvaluated = -1

// EmptyEvaluation returns the sentinel result
func EmptyEvaluation() EvaluationResult {
	return EvaluationResult{Score: NotEvaluated}
}

// Failed reports whether r is the sentinel result
func (r EvaluationResult) Failed() bool {
	return r.Score == NotEvaluated
}

// QuestionEvaluation holds the seven metric results of one question
type QuestionEvaluation struct {
	Relevance            EvaluationResult `json:"relevance"`
	ReadingComprehension EvaluationResult `json:"reading_comprehension"`
	QuestionDifficulty   EvaluationResult `json:"question_difficulty"`
	QuestionClarity      EvaluationResult `json:"question_clarity"`
	AnswerRelevance      EvaluationResult `json:"answer_relevance"`
	AnswerCorrectness    EvaluationResult `json:"answer_correctness"`
	ContextUtilisation   EvaluationResult `json:"context_utilisation"`
	GenerationTime       float64          `json:"generation_time"`
}

// NewQuestionEvaluation returns an evaluation with every metric at the sentinel
func NewQuestionEvaluation() *QuestionEvaluation {
	return &QuestionEvaluation{
		Relevance:            EmptyEvaluation(),
		ReadingComprehension: EmptyEvaluation(),
		QuestionDifficulty:   EmptyEvaluation(),
		QuestionClarity:      EmptyEvaluation(),
		AnswerRelevance:      EmptyEvaluation(),
		AnswerCorrectness:    EmptyEvaluation(),
		ContextUtilisation:   EmptyEvaluation(),
		GenerationTime:       NotEvaluated,
	}
}

// Scores returns the seven metric scores in export column order
func (e *QuestionEvaluation) Scores() [7]float64 {
	if e == nil {
		return [7]float64{-1, -1, -1, -1, -1, -1, -1}
	}
	return [7]float64{
		e.Relevance.Score,
		e.ReadingComprehension.Score,
		e.QuestionDifficulty.Score,
		e.QuestionClarity.Score,
		e.AnswerRelevance.Score,
		e.AnswerCorrectness.Score,
		e.ContextUtilisation.Score,
	}
}

// Segment is the persisted pipeline state of one slice of the transcript.
// Field order is the on-disk key order.
type Segment struct {
	Transcript string `json:"transcript"`
	Summary    string `json:"summary"`

	GeneratedTranscriptKeywords *KeywordCounts `json:"generated_transcript_keywords"`
	GeneratedSummaryKeywords    *KeywordCounts `json:"generated_summary_keywords"`

	SAQs         []Question     `json:"saqs"`
	SAQsKeywords *KeywordCounts `json:"saqs_keywords"`

	MCQs         []Question     `json:"mcqs"`
	MCQsKeywords *KeywordCounts `json:"mcqs_keywords"`

	GFQs         []Question     `json:"gfqs"`
	GFQsKeywords *KeywordCounts `json:"gfqs_keywords"`

	BLQs         []Question     `json:"blqs"`
	BLQsKeywords *KeywordCounts `json:"blqs_keywords"`
}

// NewSegment returns a segment with fresh, empty containers
func NewSegment(transcript string) *Segment {
	return &Segment{
		Transcript:                  transcript,
		GeneratedTranscriptKeywords: NewKeywordCounts(),
		GeneratedSummaryKeywords:    NewKeywordCounts(),
		SAQs:                        []Question{},
		SAQsKeywords:                NewKeywordCounts(),
		MCQs:                        []Question{},
		MCQsKeywords:                NewKeywordCounts(),
		GFQs:                        []Question{},
		GFQsKeywords:                NewKeywordCounts(),
		BLQs:                        []Question{},
		BLQsKeywords:                NewKeywordCounts(),
	}
}

// normalize replaces nil containers left by a sparse record with empty ones
func (s *Segment) normalize() {
	for _, kc := range []**KeywordCounts{
		&s.GeneratedTranscriptKeywords, &s.GeneratedSummaryKeywords,
		&s.SAQsKeywords, &s.MCQsKeywords, &s.GFQsKeywords, &s.BLQsKeywords,
	} {
		if *kc == nil {
			*kc = NewKeywordCounts()
		}
	}
	for _, qs := range []*[]Question{&s.SAQs, &s.MCQs, &s.GFQs, &s.BLQs} {
		if *qs == nil {
			*qs = []Question{}
		}
	}
}

// Questions returns the question list of the given type
func (s *Segment) Questions(t QuestionType) []Question {
	switch t {
	case SAQ:
		return s.SAQs
	case MCQ:
		return s.MCQs
	case GFQ:
		return s.GFQs
	case BLQ:
		return s.BLQs
	}
	return nil
}

// SetQuestions replaces the question list of the given type wholesale
func (s *Segment) SetQuestions(t QuestionType, qs []Question) {
	if qs == nil {
		qs = []Question{}
	}
	switch t {
	case SAQ:
		s.SAQs = qs
	case MCQ:
		s.MCQs = qs
	case GFQ:
		s.GFQs = qs
	case BLQ:
		s.BLQs = qs
	}
}

// Keywords returns the keyword alias mapping of the given type
func (s *Segment) Keywords(k KeywordType) *KeywordCounts {
	switch k {
	case SAQKeywords:
		return s.SAQsKeywords
	case MCQKeywords:
		return s.MCQsKeywords
	case GFQKeywords:
		return s.GFQsKeywords
	case BLQKeywords:
		return s.BLQsKeywords
	}
	return nil
}

// Text returns the segment text of the given source
func (s *Segment) Text(src TextSource) string {
	if src == SourceSummary {
		return s.Summary
	}
	return s.Transcript
}

// SetTranscriptKeywords stores freshly generated transcript keywords and
// overwrites the SAQ and MCQ aliases in the same step.
func (s *Segment) SetTranscriptKeywords(kc *KeywordCounts) {
	s.GeneratedTranscriptKeywords = kc.Copy()
	s.SAQsKeywords = kc.Copy()
	s.MCQsKeywords = kc.Copy()
}

// SetSummaryKeywords stores freshly generated summary keywords and
// overwrites the GFQ and BLQ aliases in the same step.
func (s *Segment) SetSummaryKeywords(kc *KeywordCounts) {
	s.GeneratedSummaryKeywords = kc.Copy()
	s.GFQsKeywords = kc.Copy()
	s.BLQsKeywords = kc.Copy()
}

// marshalNoEscape encodes v without HTML escaping so transcripts stay readable
func marshalNoEscape(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}
