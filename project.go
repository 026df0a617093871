package aqgeval

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Toolkit bundles the model-backed components a project drives
type Toolkit struct {
	Summarizer *Summarizer
	Keywords   *KeywordExtractor
	Questions  *QuestionMaker
	Evaluator  *QuestionEvaluator
}

// NewToolkit wires every component to the same gateway and guidance
func NewToolkit(gateway Gateway, guidance *GuidanceSet, metrics *Metrics, logger zerolog.Logger) *Toolkit {
	parser := NewParser(logger, metrics)
	return &Toolkit{
		Summarizer: NewSummarizer(gateway, guidance, logger),
		Keywords:   NewKeywordExtractor(gateway, guidance, parser, logger),
		Questions:  NewQuestionMaker(gateway, guidance, parser, metrics, logger),
		Evaluator:  NewQuestionEvaluator(gateway, guidance, parser, nil, logger),
	}
}

// stageRecorder is implemented by stores that remember the last stage run
type stageRecorder interface {
	RecordStage(stage string) error
}

// questionDispatch describes where a question type takes its inputs from
type questionDispatch struct {
	source   TextSource
	keywords KeywordType
	// indices returns the (prefix, suffix) template selectors.
	indices func(ProjectSettings) (int, int)
}

var questionDispatchTable = [...]questionDispatch{
	SAQ: {SourceTranscript, SAQKeywords, func(s ProjectSettings) (int, int) { return s.SAQPrefixIndex, s.SAQSuffixIndex }},
	// The MCQ selectors are read crosswise; existing project settings
	// depend on it.
	MCQ: {SourceTranscript, MCQKeywords, func(s ProjectSettings) (int, int) { return s.MCQSuffixIndex, s.MCQPrefixIndex }},
	GFQ: {SourceSummary, GFQKeywords, func(s ProjectSettings) (int, int) { return s.GFQPrefixIndex, s.GFQSuffixIndex }},
	BLQ: {SourceSummary, BLQKeywords, func(s ProjectSettings) (int, int) { return s.BLQPrefixIndex, s.BLQSuffixIndex }},
}

// KeywordOutcome reports what AddKeyword or RemoveKeyword did
type KeywordOutcome string

const (
	KeywordAdded          KeywordOutcome = "added"
	KeywordAlreadyPresent KeywordOutcome = "already present"
	KeywordRemoved        KeywordOutcome = "removed"
	KeywordNotPresent     KeywordOutcome = "not present"
)

// Project is a named transcript and its segment records. Every stage reads
// and writes the segment store one segment at a time and can be re-run
// independently of the others.
type Project struct {
	mu sync.Mutex

	name       string
	dir        string
	transcript string
	settings   ProjectSettings

	store   SegmentStore
	tools   *Toolkit
	metrics *Metrics
	log     zerolog.Logger
}

// Name returns the project name
func (p *Project) Name() string { return p.name }

// Dir returns the project folder
func (p *Project) Dir() string { return p.dir }

// Transcript returns the raw transcript
func (p *Project) Transcript() string { return p.transcript }

// Settings returns the settings in effect
func (p *Project) Settings() ProjectSettings {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.settings
}

// SavedSettings returns the settings stored on disk, or the defaults
func (p *Project) SavedSettings() ProjectSettings {
	return LoadSettings(p.settingsPath())
}

func (p *Project) settingsPath() string       { return filepath.Join(p.dir, settingsFileName) }
func (p *Project) transcriptPath() string     { return filepath.Join(p.dir, transcriptFileName) }
func (p *Project) keywordsHistoryDir() string { return filepath.Join(p.dir, keywordsHistoryDirName) }
func (p *Project) segmentsDir() string        { return filepath.Join(p.dir, segmentsDirName) }

// CSVPath returns where ExportCSV writes the project table
func (p *Project) CSVPath() string { return filepath.Join(p.dir, p.name+".csv") }

func (p *Project) stageLogger(stage string) zerolog.Logger {
	return p.log.With().Str("stage", stage).Logger()
}

// IsValid reports whether the project's segment store exists
func (p *Project) IsValid() bool {
	return p.store.Ready()
}

// Initialise splits the transcript into segments and reconciles them with
// the stored records. A record whose transcript is unchanged is kept with
// all its derived data; other records are replaced by fresh ones and
// records beyond the new segment count are deleted.
func (p *Project) Initialise() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	defer p.metrics.ObserveStage("initialise", time.Now())
	log := p.stageLogger("initialise")

	if strings.TrimSpace(p.transcript) == "" {
		return ErrEmptyTranscript
	}
	if err := p.settings.Validate(); err != nil {
		return err
	}

	for _, dir := range []string{p.dir, p.segmentsDir(), p.keywordsHistoryDir()} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create project folder: %w", err)
		}
	}
	if err := p.store.Prepare(); err != nil {
		return err
	}
	if err := SaveSettings(p.settingsPath(), p.settings); err != nil {
		return err
	}
	if err := os.WriteFile(p.transcriptPath(), []byte(p.transcript), 0644); err != nil {
		return fmt.Errorf("failed to write transcript: %w", err)
	}

	chunks := SegmentTranscript(p.transcript, p.settings.TranscriptSegmentSize)

	existing, err := p.store.Indices()
	if err != nil {
		return err
	}
	for _, idx := range existing {
		if idx < len(chunks) {
			continue
		}
		if err := p.store.Delete(idx); err != nil {
			return err
		}
		log.Info().Int("index", idx).Msg("deleted orphaned segment")
	}

	var written, kept int
	for i, chunk := range chunks {
		current, err := p.store.Read(i)
		if err == nil && current.Transcript == chunk {
			kept++
			continue
		}
		if err != nil && !errors.Is(err, ErrSegmentNotFound) {
			log.Warn().Err(err).Int("index", i).Msg("unreadable segment record, replacing it")
		}
		if _, err := p.store.Write(i, NewSegment(chunk)); err != nil {
			return err
		}
		written++
	}

	p.recordStage("initialised")
	log.Info().Int("segments", len(chunks)).Int("written", written).Int("kept", kept).Msg("initialised project")
	return nil
}

// GenerateSegmentSummaries overwrites the summary of every segment
func (p *Project) GenerateSegmentSummaries(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	defer p.metrics.ObserveStage("summaries", time.Now())
	log := p.stageLogger("summaries")

	err := p.eachSegment(ctx, func(i int, seg *Segment) (bool, error) {
		summary, err := p.tools.Summarizer.Summarize(ctx, seg.Transcript, p.settings.SummariesWordLimit, p.settings.LLMName)
		if err != nil {
			return false, fmt.Errorf("segment %d: %w", i, err)
		}
		seg.Summary = summary
		log.Debug().Int("index", i).Msg("summarized segment")
		return true, nil
	})
	if err != nil {
		return err
	}
	p.recordStage("summarized")
	return nil
}

// GenerateTranscriptKeywords extracts keywords from every segment
// transcript and copies them into the SAQ and MCQ keyword sets.
func (p *Project) GenerateTranscriptKeywords(ctx context.Context) error {
	return p.generateKeywords(ctx, SourceTranscript)
}

// GenerateSummaryKeywords extracts keywords from every segment summary and
// copies them into the GFQ and BLQ keyword sets.
func (p *Project) GenerateSummaryKeywords(ctx context.Context) error {
	return p.generateKeywords(ctx, SourceSummary)
}

func (p *Project) generateKeywords(ctx context.Context, src TextSource) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	stage := src.String() + "-keywords"
	defer p.metrics.ObserveStage(stage, time.Now())
	log := p.stageLogger(stage)

	count := p.settings.NumberOfTranscriptKeywords
	if src == SourceSummary {
		count = p.settings.NumberOfSummaryKeywords
	}

	err := p.eachSegment(ctx, func(i int, seg *Segment) (bool, error) {
		p.archiveKeywords(i, seg)

		text := seg.Text(src)
		kc := NewKeywordCounts()
		if strings.TrimSpace(text) == "" {
			log.Warn().Int("index", i).Msg("segment has no text for keyword extraction, storing an empty set")
		} else {
			var err error
			kc, err = p.tools.Keywords.Generate(ctx, text, count, p.settings.LLMName, p.settings.SAQPrefixIndex, p.settings.SAQSuffixIndex)
			if err != nil {
				return false, fmt.Errorf("segment %d: %w", i, err)
			}
		}

		if src == SourceSummary {
			seg.SetSummaryKeywords(kc)
		} else {
			seg.SetTranscriptKeywords(kc)
		}
		log.Debug().Int("index", i).Strs("keywords", kc.Keys()).Msg("extracted keywords")
		return true, nil
	})
	if err != nil {
		return err
	}
	p.recordStage("keywords-extracted")
	return nil
}

// archiveKeywords keeps the keyword sets a regeneration is about to replace
func (p *Project) archiveKeywords(index int, seg *Segment) {
	if seg.GeneratedTranscriptKeywords.Len() == 0 && seg.GeneratedSummaryKeywords.Len() == 0 {
		return
	}
	snapshot := struct {
		Transcript *KeywordCounts `json:"generated_transcript_keywords"`
		Summary    *KeywordCounts `json:"generated_summary_keywords"`
		SAQs       *KeywordCounts `json:"saqs_keywords"`
		MCQs       *KeywordCounts `json:"mcqs_keywords"`
		GFQs       *KeywordCounts `json:"gfqs_keywords"`
		BLQs       *KeywordCounts `json:"blqs_keywords"`
	}{seg.GeneratedTranscriptKeywords, seg.GeneratedSummaryKeywords, seg.SAQsKeywords, seg.MCQsKeywords, seg.GFQsKeywords, seg.BLQsKeywords}

	data, err := marshalNoEscape(snapshot)
	if err == nil {
		name := fmt.Sprintf("segment-%d-%d.json", index, time.Now().UnixNano())
		err = os.WriteFile(filepath.Join(p.keywordsHistoryDir(), name), data, 0644)
	}
	if err != nil {
		p.log.Warn().Err(err).Int("index", index).Msg("failed to archive keywords")
	}
}

// AddKeyword adds word to a segment's keyword set, counting it in the text
// that set is derived from.
func (p *Project) AddKeyword(index int, kt KeywordType, word string) (KeywordOutcome, error) {
	return p.editKeywords(index, kt, func(seg *Segment, kc *KeywordCounts) KeywordOutcome {
		if kc.Has(word) {
			return KeywordAlreadyPresent
		}
		counted := WordsFrequency([]string{word}, seg.Text(kt.Source()), 1)
		for _, k := range counted.Keys() {
			n, _ := counted.Get(k)
			kc.Set(k, n)
		}
		return KeywordAdded
	})
}

// RemoveKeyword deletes word from a segment's keyword set
func (p *Project) RemoveKeyword(index int, kt KeywordType, word string) (KeywordOutcome, error) {
	return p.editKeywords(index, kt, func(seg *Segment, kc *KeywordCounts) KeywordOutcome {
		if !kc.Delete(word) {
			return KeywordNotPresent
		}
		return KeywordRemoved
	})
}

func (p *Project) editKeywords(index int, kt KeywordType, edit func(*Segment, *KeywordCounts) KeywordOutcome) (KeywordOutcome, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !kt.Valid() {
		return "", fmt.Errorf("%w: %d", ErrUnknownKeywordType, int(kt))
	}
	seg, err := p.segment(index)
	if err != nil {
		return "", err
	}

	outcome := edit(seg, seg.Keywords(kt))
	p.log.Info().Int("index", index).Str("keywords", kt.String()).Str("outcome", string(outcome)).Msg("edited keywords")
	if outcome == KeywordAlreadyPresent || outcome == KeywordNotPresent {
		return outcome, nil
	}
	if _, err := p.store.Write(index, seg); err != nil {
		return "", err
	}
	return outcome, nil
}

// GenerateQuestionsOfType regenerates the questions of type t for every
// segment, persisting each segment as soon as it is done. It returns the
// new questions per segment.
func (p *Project) GenerateQuestionsOfType(ctx context.Context, t QuestionType) ([][]Question, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !t.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownQuestionType, int(t))
	}
	defer p.metrics.ObserveStage("questions", time.Now())

	var all [][]Question
	err := p.eachSegment(ctx, func(i int, seg *Segment) (bool, error) {
		qs, err := p.generateQuestions(ctx, i, seg, t)
		if err != nil {
			return false, err
		}
		all = append(all, qs)
		return true, nil
	})
	if err != nil {
		return all, err
	}
	p.recordStage("questions-generated")
	return all, nil
}

// GenerateSegmentQuestionsOfType regenerates the questions of type t for
// one segment
func (p *Project) GenerateSegmentQuestionsOfType(ctx context.Context, index int, t QuestionType) ([]Question, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !t.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownQuestionType, int(t))
	}
	defer p.metrics.ObserveStage("questions", time.Now())

	seg, err := p.segment(index)
	if err != nil {
		return nil, err
	}
	qs, err := p.generateQuestions(ctx, index, seg, t)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if _, err := p.store.Write(index, seg); err != nil {
		return nil, err
	}
	return qs, nil
}

// generateQuestions replaces seg's list of type t; the caller persists seg
func (p *Project) generateQuestions(ctx context.Context, index int, seg *Segment, t QuestionType) ([]Question, error) {
	d := questionDispatchTable[t]
	prefix, suffix := d.indices(p.settings)
	qs, err := p.tools.Questions.Generate(ctx, GenerationRequest{
		Type:        t,
		Text:        seg.Text(d.source),
		Keywords:    seg.Keywords(d.keywords).Keys(),
		Count:       p.settings.NumberOfQuestions,
		Backend:     p.settings.LLMName,
		PrefixIndex: prefix,
		SuffixIndex: suffix,
	})
	if err != nil {
		return nil, fmt.Errorf("segment %d: %w", index, err)
	}
	seg.SetQuestions(t, qs)
	return qs, nil
}

// AllQuestionsOfType returns the questions of type t of every segment in
// segment order
func (p *Project) AllQuestionsOfType(t QuestionType) ([]Question, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !t.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownQuestionType, int(t))
	}
	segs, err := p.allSegments()
	if err != nil {
		return nil, err
	}
	all := []Question{}
	for _, seg := range segs {
		all = append(all, seg.Questions(t)...)
	}
	return all, nil
}

// EvaluateSegment scores the questions of one segment. Only the given
// types are evaluated, or all of them when none are given. The record is
// persisted after each question type.
func (p *Project) EvaluateSegment(ctx context.Context, index int, types ...QuestionType) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.evaluateSegment(ctx, index, types)
}

// EvaluateAllSegments evaluates every segment in index order
func (p *Project) EvaluateAllSegments(ctx context.Context, types ...QuestionType) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	indices, err := p.indices()
	if err != nil {
		return err
	}
	for _, idx := range indices {
		if err := p.evaluateSegment(ctx, idx, types); err != nil {
			return err
		}
	}
	p.recordStage("evaluated")
	return nil
}

func (p *Project) evaluateSegment(ctx context.Context, index int, types []QuestionType) error {
	defer p.metrics.ObserveStage("evaluation", time.Now())
	log := p.stageLogger("evaluation").With().Int("index", index).Logger()

	enabled, err := enabledTypes(types)
	if err != nil {
		return err
	}
	seg, err := p.segment(index)
	if err != nil {
		return err
	}

	for _, t := range QuestionTypes {
		if !enabled[t] {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		d := questionDispatchTable[t]
		text := seg.Text(d.source)
		groundTruth := strings.Join(seg.Keywords(d.keywords).Keys(), ", ")
		qs := seg.Questions(t)
		for j := range qs {
			answer, ok := evaluationAnswer(t, qs[j].Answer)
			if !ok {
				log.Warn().Str("type", t.String()).Int("question", j).Str("question_text", qs[j].Question).Msg("answer is unset, skipping evaluation")
				continue
			}
			eval, err := p.tools.Evaluator.Evaluate(ctx, text, groundTruth, qs[j].Question, answer)
			if err != nil {
				return fmt.Errorf("segment %d %s question %d: %w", index, t, j, err)
			}
			qs[j].Evaluation = eval
			p.metrics.RecordQuestionEvaluated(t)
		}
		seg.SetQuestions(t, qs)

		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := p.store.Write(index, seg); err != nil {
			return fmt.Errorf("failed to persist %s evaluations of segment %d: %w", t, index, err)
		}
		log.Info().Str("type", t.String()).Int("questions", len(qs)).Msg("evaluated questions")
	}
	return nil
}

func enabledTypes(types []QuestionType) (map[QuestionType]bool, error) {
	enabled := make(map[QuestionType]bool, len(QuestionTypes))
	if len(types) == 0 {
		for _, t := range QuestionTypes {
			enabled[t] = true
		}
		return enabled, nil
	}
	for _, t := range types {
		if !t.Valid() {
			return nil, fmt.Errorf("%w: %d", ErrUnknownQuestionType, int(t))
		}
		enabled[t] = true
	}
	return enabled, nil
}

// evaluationAnswer renders an answer the way the evaluation prompts expect
// it: the first option of an MCQ, the joined blanks of a GFQ.
func evaluationAnswer(t QuestionType, a Answer) (string, bool) {
	switch t {
	case MCQ:
		switch a.Kind {
		case AnswerOptions:
			if len(a.Options) == 0 {
				return "", true
			}
			return a.Options[0], true
		case AnswerText:
			return strings.Split(a.Text, ", ")[0], true
		}
	case BLQ:
		if a.IsUnset() {
			return "", false
		}
	}
	return a.String(), true
}

// Segment returns the record at index
func (p *Project) Segment(index int) (*Segment, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.segment(index)
}

// NumberOfSegments returns how many segment records exist
func (p *Project) NumberOfSegments() (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	indices, err := p.indices()
	return len(indices), err
}

// FullTranscript joins the segment transcripts with single spaces
func (p *Project) FullTranscript() (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	segs, err := p.allSegments()
	if err != nil {
		return "", err
	}
	parts := make([]string, 0, len(segs))
	for _, seg := range segs {
		parts = append(parts, seg.Transcript)
	}
	return strings.TrimSpace(strings.Join(parts, " ")), nil
}

// SetNumberOfQuestions changes and persists the question count
func (p *Project) SetNumberOfQuestions(n int) error {
	return p.updateSettings(func(s *ProjectSettings) { s.NumberOfQuestions = n })
}

// SetNumberOfKeywords changes and persists the transcript keyword count
func (p *Project) SetNumberOfKeywords(n int) error {
	return p.updateSettings(func(s *ProjectSettings) { s.NumberOfTranscriptKeywords = n })
}

func (p *Project) updateSettings(change func(*ProjectSettings)) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	next := p.settings
	change(&next)
	if err := next.Validate(); err != nil {
		return err
	}
	if err := SaveSettings(p.settingsPath(), next); err != nil {
		return err
	}
	p.settings = next
	return nil
}

// eachSegment loads every segment in index order, applies fn and writes the
// record back when fn reports a change. It stops at the first error or once
// ctx is done, without writing the segment in hand; records already written
// stay written.
func (p *Project) eachSegment(ctx context.Context, fn func(index int, seg *Segment) (bool, error)) error {
	indices, err := p.indices()
	if err != nil {
		return err
	}
	for _, idx := range indices {
		seg, err := p.store.Read(idx)
		if err != nil {
			return err
		}
		changed, err := fn(idx, seg)
		if err != nil {
			return err
		}
		if !changed {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := p.store.Write(idx, seg); err != nil {
			return err
		}
	}
	return nil
}

func (p *Project) indices() ([]int, error) {
	if !p.store.Ready() {
		return nil, fmt.Errorf("%w: %s", ErrProjectNotFound, p.name)
	}
	return p.store.Indices()
}

func (p *Project) segment(index int) (*Segment, error) {
	indices, err := p.indices()
	if err != nil {
		return nil, err
	}
	if index < 0 || index >= len(indices) {
		return nil, fmt.Errorf("%w: %d (have %d)", ErrSegmentIndex, index, len(indices))
	}
	return p.store.Read(indices[index])
}

func (p *Project) allSegments() ([]*Segment, error) {
	indices, err := p.indices()
	if err != nil {
		return nil, err
	}
	segs := make([]*Segment, 0, len(indices))
	for _, idx := range indices {
		seg, err := readOrEmpty(p.store, idx)
		if err != nil {
			return nil, err
		}
		segs = append(segs, seg)
	}
	return segs, nil
}

func (p *Project) recordStage(stage string) {
	rec, ok := p.store.(stageRecorder)
	if !ok {
		return
	}
	if err := rec.RecordStage(stage); err != nil {
		p.log.Warn().Err(err).Str("stage", stage).Msg("failed to record stage")
	}
}
