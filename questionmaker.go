package aqgeval

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
)

// GenerationRequest describes one batch of questions to generate
type GenerationRequest struct {
	Type        QuestionType `json:"type"`
	Text        string       `json:"text"`
	Keywords    []string     `json:"keywords"`
	Count       int          `json:"count"`
	Backend     string       `json:"backend"`
	PrefixIndex int          `json:"prefix_index"`
	SuffixIndex int          `json:"suffix_index"`
}

// questionGuidance is indexed by QuestionType
var questionGuidance = [...]string{
	SAQ: GuidanceSAQs,
	MCQ: GuidanceMCQs,
	GFQ: GuidanceGFQs,
	BLQ: GuidanceBLQs,
}

// QuestionMaker generates question/answer pairs of one type from a text
type QuestionMaker struct {
	gateway  Gateway
	guidance *GuidanceSet
	parser   *Parser
	metrics  *Metrics
	log      zerolog.Logger
}

// NewQuestionMaker creates a new question maker
func NewQuestionMaker(gateway Gateway, guidance *GuidanceSet, parser *Parser, metrics *Metrics, logger zerolog.Logger) *QuestionMaker {
	return &QuestionMaker{
		gateway:  gateway,
		guidance: guidance,
		parser:   parser,
		metrics:  metrics,
		log:      componentLogger(logger, "question-maker"),
	}
}

// Generate produces at most req.Count questions. The free-text reply of the
// generation prompt is converted to JSON by the question formatting prompt;
// only that conversion is retried. An unusable reply yields an empty batch;
// a cancelled ctx yields an error.
func (qm *QuestionMaker) Generate(ctx context.Context, req GenerationRequest) ([]Question, error) {
	if !req.Type.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownQuestionType, int(req.Type))
	}
	qm.log.Info().Str("type", req.Type.String()).Int("count", req.Count).Str("backend", req.Backend).Msg("generating questions")

	prompt, err := qm.guidance.Render(questionGuidance[req.Type], req.PrefixIndex, req.SuffixIndex, map[string]string{
		"number_of_questions": strconv.Itoa(req.Count),
		"text":                req.Text,
		"keywords":            strings.Join(req.Keywords, ", "),
	})
	if err != nil {
		return nil, err
	}

	raw, err := qm.gateway.Generate(ctx, prompt, QuestionModel(req.Backend))
	if err != nil {
		return nil, fmt.Errorf("failed to generate questions: %w", err)
	}

	formatPrompt, err := qm.guidance.Render(GuidanceQuestionsFormatting, 0, 0, map[string]string{
		"text": sanitizeGeneratedQuestions(raw),
	})
	if err != nil {
		return nil, err
	}

	batch, attempts, err := qm.parser.ParseQuestionBatch(ctx, func(ctx context.Context, attempt int) (string, error) {
		return qm.gateway.Generate(ctx, formatPrompt, FormattingModel(PurposeQuestionFormatting))
	})
	if err != nil {
		return nil, fmt.Errorf("failed to format questions: %w", err)
	}

	format := answerFormatters[req.Type]
	questions := make([]Question, 0, len(batch))
	for _, rq := range batch {
		if len(questions) >= req.Count {
			break
		}
		questions = append(questions, Question{
			Question: rq.Question,
			Answer:   format(rq.Answer),
		})
	}

	qm.metrics.RecordQuestionsGenerated(req.Type, len(questions))
	qm.log.Info().
		Str("type", req.Type.String()).
		Int("generated", len(questions)).
		Int("decoded", len(batch)).
		Int("attempts", attempts).
		Msg("generated questions")
	return questions, nil
}
