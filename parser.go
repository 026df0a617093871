package aqgeval

import (
	"context"
	"errors"
	"math"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/cast"
	"github.com/tidwall/gjson"
)

// DefaultParseAttempts bounds how many generations a decode may consume
const DefaultParseAttempts = 2

// Parser decodes noisy model output. Each decode may re-request the text
// from the model a bounded number of times; when every attempt fails the
// decode yields its fallback value instead of an error. A cancelled context
// is reported as an error so that callers never persist a fallback.
type Parser struct {
	Attempts int
	log      zerolog.Logger
	metrics  *Metrics
}

// NewParser returns a parser with the default attempt bound
func NewParser(logger zerolog.Logger, metrics *Metrics) *Parser {
	return &Parser{Attempts: DefaultParseAttempts, log: componentLogger(logger, "parser"), metrics: metrics}
}

// generateFunc produces the text for one attempt, numbered from 1
type generateFunc func(ctx context.Context, attempt int) (string, error)

// errRetriesExhausted marks a decode whose every attempt failed
var errRetriesExhausted = errors.New("decode retries exhausted")

// decodeWithRetry runs generate then decode until decode succeeds or the
// attempts are used up. It returns the decoded value and the number of
// attempts consumed. A generate error counts as a failed attempt. Running
// out of attempts yields errRetriesExhausted; a done ctx yields ctx.Err().
func decodeWithRetry[T any](ctx context.Context, p *Parser, contract string, generate generateFunc, decode func(string) (T, bool)) (T, int, error) {
	var zero T
	attempts := p.Attempts
	if attempts <= 0 {
		attempts = DefaultParseAttempts
	}

	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			p.log.Warn().Err(err).Str("contract", contract).Msg("decode abandoned")
			return zero, attempt - 1, err
		}

		text, err := generate(ctx, attempt)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				p.log.Warn().Err(ctxErr).Str("contract", contract).Msg("decode abandoned")
				return zero, attempt, ctxErr
			}
			p.log.Warn().Err(err).Str("contract", contract).Int("attempt", attempt).Msg("generation failed during decode")
			p.metrics.RecordParseAttempt(contract, false)
			continue
		}

		value, ok := decode(text)
		p.metrics.RecordParseAttempt(contract, ok)
		if ok {
			return value, attempt, nil
		}
		p.log.Warn().
			Str("contract", contract).
			Int("attempt", attempt).
			Int("max_attempts", attempts).
			Str("raw", text).
			Msg("model output did not match the expected shape")
	}

	p.log.Error().Str("contract", contract).Int("attempts", attempts).Msg("decode retries exhausted, using fallback")
	p.metrics.RecordParseFallback(contract)
	return zero, attempts, errRetriesExhausted
}

// fallbackOnExhausted swaps an exhausted decode for its fallback value.
// Any other error is returned as is.
func fallbackOnExhausted[T any](value T, n int, err error, fallback T) (T, int, error) {
	if errors.Is(err, errRetriesExhausted) {
		return fallback, n, nil
	}
	return value, n, err
}

// ParseEvaluation decodes one evaluation response, returning the sentinel
// result when every attempt fails. The error is non-nil only when ctx is
// done.
func (p *Parser) ParseEvaluation(ctx context.Context, generate generateFunc) (EvaluationResult, int, error) {
	res, n, err := decodeWithRetry(ctx, p, "evaluation", generate, decodeEvaluation)
	return fallbackOnExhausted(res, n, err, EmptyEvaluation())
}

// ParseQuestionBatch decodes a batch of question/answer pairs, returning an
// empty batch when every attempt fails. The error is non-nil only when ctx
// is done.
func (p *Parser) ParseQuestionBatch(ctx context.Context, generate generateFunc) ([]rawQuestion, int, error) {
	batch, n, err := decodeWithRetry(ctx, p, "question-batch", generate, decodeQuestionBatch)
	return fallbackOnExhausted(batch, n, err, []rawQuestion{})
}

// ParseCommaList decodes a comma separated list, returning nil when every
// attempt fails. The error is non-nil only when ctx is done.
func (p *Parser) ParseCommaList(ctx context.Context, generate generateFunc) ([]string, int, error) {
	list, n, err := decodeWithRetry(ctx, p, "comma-list", generate, decodeCommaList)
	return fallbackOnExhausted(list, n, err, nil)
}

// rawQuestion is a decoded question whose answer has not been normalized
type rawQuestion struct {
	Question string
	Answer   any
}

func decodeQuestionBatch(text string) ([]rawQuestion, bool) {
	text = stripCodeFences(text)
	if !gjson.Valid(text) {
		return nil, false
	}
	doc := gjson.Parse(text)
	list := doc
	if !doc.IsArray() {
		list = doc.Get("response")
	}
	if !list.IsArray() {
		return nil, false
	}

	batch := []rawQuestion{}
	for _, item := range list.Array() {
		q := item.Get("question")
		if !q.Exists() || q.String() == "" {
			continue
		}
		batch = append(batch, rawQuestion{Question: q.String(), Answer: item.Get("answer").Value()})
	}
	return batch, true
}

func decodeEvaluation(text string) (EvaluationResult, bool) {
	text = stripCodeFences(text)
	if !gjson.Valid(text) {
		return EvaluationResult{}, false
	}
	resp := gjson.Get(text, "response")
	score := resp.Get("score")
	if !score.Exists() {
		return EvaluationResult{}, false
	}

	value, ok := scoreValue(score)
	if !ok {
		return EvaluationResult{}, false
	}
	return EvaluationResult{
		Score:     NormalizeScore(value),
		Reasoning: resp.Get("reasoning").String(),
	}, true
}

// scoreValue reads a numeric score. Strings starting with "T" or "F" are
// boolean verdicts and map to 1 and 0.
func scoreValue(r gjson.Result) (float64, bool) {
	if r.Type == gjson.String {
		s := r.String()
		switch {
		case strings.HasPrefix(s, "T"):
			return 1, true
		case strings.HasPrefix(s, "F"):
			return 0, true
		}
	}
	if r.Type == gjson.True {
		return 1, true
	}
	if r.Type == gjson.False {
		return 0, true
	}
	f, err := cast.ToFloat64E(r.Value())
	if err != nil {
		return 0, false
	}
	return f, true
}

// NormalizeScore rescales a 0-5 score to 0-1 rounded to 3 decimals. Zero
// and negative scores are returned unchanged.
func NormalizeScore(s float64) float64 {
	if s > 0 {
		return roundTo(s/5, 3)
	}
	return s
}

func decodeCommaList(text string) ([]string, bool) {
	text = strings.TrimSpace(stripCodeFences(text))
	text = strings.TrimSuffix(text, ".")
	var items []string
	for _, part := range strings.Split(text, ",") {
		if part = strings.TrimSpace(part); part != "" {
			items = append(items, part)
		}
	}
	return items, len(items) > 0
}

func stripCodeFences(text string) string {
	text = strings.ReplaceAll(text, "```json", "")
	return strings.TrimSpace(strings.ReplaceAll(text, "```", ""))
}

// sanitizeGeneratedQuestions prepares free-text model output for embedding
// in a follow-up prompt. Double quotes become single quotes and braces are
// doubled so prompt rendering keeps them literal.
func sanitizeGeneratedQuestions(text string) string {
	return strings.NewReplacer(`"`, "'", "{", "{{", "}", "}}").Replace(text)
}

func roundTo(x float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(x*p) / p
}
