package aqgeval

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cast"
	"github.com/tidwall/gjson"
)

// ContextScorer measures how much of a context was used to reach an answer.
// It returns an error only when ctx is done.
type ContextScorer interface {
	ScoreContext(ctx context.Context, text, question, answer string) (EvaluationResult, error)
}

// QuestionEvaluator scores generated questions against their source text.
// Every metric is requested separately; a metric whose response cannot be
// decoded falls back to the sentinel result without affecting the others.
type QuestionEvaluator struct {
	gateway  Gateway
	guidance *GuidanceSet
	parser   *Parser
	scorer   ContextScorer
	log      zerolog.Logger
	now      func() time.Time
}

// NewQuestionEvaluator creates an evaluator. A nil scorer uses LLMContextScorer.
func NewQuestionEvaluator(gateway Gateway, guidance *GuidanceSet, parser *Parser, scorer ContextScorer, logger zerolog.Logger) *QuestionEvaluator {
	if scorer == nil {
		scorer = NewLLMContextScorer(gateway, guidance, parser)
	}
	return &QuestionEvaluator{
		gateway:  gateway,
		guidance: guidance,
		parser:   parser,
		scorer:   scorer,
		log:      componentLogger(logger, "evaluator"),
		now:      time.Now,
	}
}

// Evaluate runs all seven metrics for one question and records the time the
// whole batch took. It stops at the first metric interrupted by ctx and
// returns no evaluation.
func (qe *QuestionEvaluator) Evaluate(ctx context.Context, text, groundTruth, question, answer string) (*QuestionEvaluation, error) {
	start := qe.now()

	eval := &QuestionEvaluation{}
	metrics := []struct {
		dst *EvaluationResult
		run func() (EvaluationResult, error)
	}{
		{&eval.Relevance, func() (EvaluationResult, error) { return qe.Relevance(ctx, text, question) }},
		{&eval.ReadingComprehension, func() (EvaluationResult, error) { return qe.ReadingComprehension(ctx, question) }},
		{&eval.QuestionDifficulty, func() (EvaluationResult, error) { return qe.QuestionDifficulty(ctx, text, question) }},
		{&eval.QuestionClarity, func() (EvaluationResult, error) { return qe.QuestionClarity(ctx, question) }},
		{&eval.AnswerRelevance, func() (EvaluationResult, error) { return qe.AnswerRelevancy(ctx, answer, groundTruth) }},
		{&eval.AnswerCorrectness, func() (EvaluationResult, error) { return qe.AnswerCorrectness(ctx, text, question, answer) }},
		{&eval.ContextUtilisation, func() (EvaluationResult, error) { return qe.ContextUtilisation(ctx, text, question, answer) }},
	}
	for _, m := range metrics {
		res, err := m.run()
		if err != nil {
			return nil, err
		}
		*m.dst = res
	}
	eval.GenerationTime = roundTo(qe.now().Sub(start).Seconds(), 3)

	scores := eval.Scores()
	qe.log.Debug().Floats64("scores", scores[:]).Float64("generation_time", eval.GenerationTime).Msg("evaluated question")
	return eval, nil
}

// Relevance scores how closely the question follows the text
func (qe *QuestionEvaluator) Relevance(ctx context.Context, text, question string) (EvaluationResult, error) {
	return qe.metric(ctx, GuidanceRelevance, map[string]string{"text": text, "question": question})
}

// ReadingComprehension scores the reading level the question demands
func (qe *QuestionEvaluator) ReadingComprehension(ctx context.Context, question string) (EvaluationResult, error) {
	return qe.metric(ctx, GuidanceReadingComprehension, map[string]string{"question": question})
}

// QuestionDifficulty scores how hard the question is given the text
func (qe *QuestionEvaluator) QuestionDifficulty(ctx context.Context, text, question string) (EvaluationResult, error) {
	return qe.metric(ctx, GuidanceQuestionDifficulty, map[string]string{"text": text, "question": question})
}

// QuestionClarity scores how unambiguous the question is
func (qe *QuestionEvaluator) QuestionClarity(ctx context.Context, question string) (EvaluationResult, error) {
	return qe.metric(ctx, GuidanceQuestionClarity, map[string]string{"question": question})
}

// AnswerRelevancy scores the answer against the keyword ground truth
func (qe *QuestionEvaluator) AnswerRelevancy(ctx context.Context, answer, groundTruth string) (EvaluationResult, error) {
	return qe.metric(ctx, GuidanceAnswerRelevancy, map[string]string{"answer": answer, "ground_truth": groundTruth})
}

// AnswerCorrectness scores whether the text supports the answer
func (qe *QuestionEvaluator) AnswerCorrectness(ctx context.Context, text, question, answer string) (EvaluationResult, error) {
	return qe.metric(ctx, GuidanceAnswerCorrectness, map[string]string{"text": text, "question": question, "answer": answer})
}

// ContextUtilisation delegates to the configured ContextScorer
func (qe *QuestionEvaluator) ContextUtilisation(ctx context.Context, text, question, answer string) (EvaluationResult, error) {
	return qe.scorer.ScoreContext(ctx, text, question, answer)
}

func (qe *QuestionEvaluator) metric(ctx context.Context, bundle string, vars map[string]string) (EvaluationResult, error) {
	prompt, err := qe.guidance.Render(bundle, 0, 0, vars)
	if err != nil {
		qe.log.Error().Err(err).Str("metric", bundle).Msg("failed to build evaluation prompt")
		return EmptyEvaluation(), nil
	}
	result, _, err := qe.parser.ParseEvaluation(ctx, func(ctx context.Context, attempt int) (string, error) {
		return qe.gateway.Generate(ctx, prompt, EvaluationModel(bundle))
	})
	return result, err
}

// LLMContextScorer asks the evaluation model for one usefulness verdict per
// context statement and reports their average precision, rounded to two
// decimals. A direct "score" in the response is used as is. Neither is
// rescaled like the 0-5 metrics.
type LLMContextScorer struct {
	gateway  Gateway
	guidance *GuidanceSet
	parser   *Parser
}

// NewLLMContextScorer creates a scorer backed by the evaluation model
func NewLLMContextScorer(gateway Gateway, guidance *GuidanceSet, parser *Parser) *LLMContextScorer {
	return &LLMContextScorer{gateway: gateway, guidance: guidance, parser: parser}
}

// ScoreContext requests the verdicts for text and scores them
func (s *LLMContextScorer) ScoreContext(ctx context.Context, text, question, answer string) (EvaluationResult, error) {
	prompt, err := s.guidance.Render(GuidanceContextUtilisation, 0, 0, map[string]string{
		"text": text, "question": question, "answer": answer,
	})
	if err != nil {
		s.parser.log.Error().Err(err).Msg("failed to build context utilisation prompt")
		return EmptyEvaluation(), nil
	}
	result, _, err := decodeWithRetry(ctx, s.parser, "context-utilisation",
		func(ctx context.Context, attempt int) (string, error) {
			return s.gateway.Generate(ctx, prompt, EvaluationModel(GuidanceContextUtilisation))
		},
		decodeContextVerdicts,
	)
	result, _, err = fallbackOnExhausted(result, 0, err, EmptyEvaluation())
	return result, err
}

func decodeContextVerdicts(text string) (EvaluationResult, bool) {
	text = stripCodeFences(text)
	if !gjson.Valid(text) {
		return EvaluationResult{}, false
	}
	resp := gjson.Get(text, "response")
	reasoning := resp.Get("reasoning").String()

	if score := resp.Get("score"); score.Exists() {
		f, err := cast.ToFloat64E(score.Value())
		if err != nil {
			return EvaluationResult{}, false
		}
		return EvaluationResult{Score: roundTo(f, 2), Reasoning: reasoning}, true
	}

	verdicts := resp.Get("verdicts")
	if !verdicts.IsArray() {
		return EvaluationResult{}, false
	}
	var values []float64
	for _, v := range verdicts.Array() {
		f, err := cast.ToFloat64E(v.Value())
		if err != nil {
			return EvaluationResult{}, false
		}
		values = append(values, f)
	}
	return EvaluationResult{Score: roundTo(averagePrecision(values), 2), Reasoning: reasoning}, true
}

// averagePrecision weights each useful verdict by the precision of the
// verdicts up to and including it.
func averagePrecision(verdicts []float64) float64 {
	var numerator, useful float64
	for i, v := range verdicts {
		useful += v
		numerator += useful / float64(i+1) * v
	}
	if useful == 0 {
		return 0
	}
	return numerator / useful
}
