package aqgeval

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestEvaluateRunsEveryMetric(t *testing.T) {
	gw := newFakeGateway().
		reply(PurposeEvaluation, evaluationReply).
		reply(PurposeEvaluation+":"+GuidanceContextUtilisation, contextReply)
	qe := NewQuestionEvaluator(gw, testGuidance(t), NewParser(zerolog.Nop(), nil), nil, zerolog.Nop())

	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	ticks := []time.Time{start, start.Add(1500 * time.Millisecond)}
	qe.now = func() time.Time {
		now := ticks[0]
		ticks = ticks[1:]
		return now
	}

	eval, err := qe.Evaluate(context.Background(), "Samuel coined it.", "Samuel", "Who coined it?", "Samuel")
	if err != nil {
		t.Fatal(err)
	}
	want := [7]float64{0.8, 0.8, 0.8, 0.8, 0.8, 0.8, 0.83}
	if got := eval.Scores(); got != want {
		t.Errorf("Scores = %v, want %v", got, want)
	}
	if eval.GenerationTime != 1.5 {
		t.Errorf("GenerationTime = %v, want 1.5", eval.GenerationTime)
	}
	if eval.Relevance.Reasoning != "fine" {
		t.Errorf("Reasoning lost: %+v", eval.Relevance)
	}
	if n := gw.count(PurposeEvaluation); n != 7 {
		t.Errorf("Expected 7 evaluation requests, got %d", n)
	}
	for _, c := range gw.calls {
		if c.Config.Backend != FormattingBackend {
			t.Errorf("Metric %s used backend %s", c.Config.Purpose, c.Config.Backend)
		}
	}
}

func TestEvaluateIsolatesFailingMetric(t *testing.T) {
	gw := newFakeGateway().
		reply(PurposeEvaluation, evaluationReply).
		reply(PurposeEvaluation+":"+GuidanceQuestionClarity, "I would rather not say").
		reply(PurposeEvaluation+":"+GuidanceContextUtilisation, contextReply)
	qe := NewQuestionEvaluator(gw, testGuidance(t), NewParser(zerolog.Nop(), nil), nil, zerolog.Nop())

	eval, err := qe.Evaluate(context.Background(), "text", "kw", "q", "a")
	if err != nil {
		t.Fatal(err)
	}
	if !eval.QuestionClarity.Failed() {
		t.Errorf("Expected sentinel clarity, got %+v", eval.QuestionClarity)
	}
	if eval.Relevance.Score != 0.8 || eval.AnswerCorrectness.Score != 0.8 {
		t.Error("Other metrics should be unaffected")
	}
	if n := len(gw.callsFor(PurposeEvaluation + ":" + GuidanceQuestionClarity)); n != DefaultParseAttempts {
		t.Errorf("Expected %d clarity requests, got %d", DefaultParseAttempts, n)
	}
}

type fixedScorer float64

func (f fixedScorer) ScoreContext(ctx context.Context, text, question, answer string) (EvaluationResult, error) {
	return EvaluationResult{Score: float64(f)}, nil
}

func TestEvaluateUsesInjectedScorer(t *testing.T) {
	gw := newFakeGateway().reply(PurposeEvaluation, `{"response": {"score": "False"}}`)
	qe := NewQuestionEvaluator(gw, testGuidance(t), NewParser(zerolog.Nop(), nil), fixedScorer(0.5), zerolog.Nop())

	eval, err := qe.Evaluate(context.Background(), "text", "kw", "q", "a")
	if err != nil {
		t.Fatal(err)
	}
	if eval.ContextUtilisation.Score != 0.5 {
		t.Errorf("Expected injected score, got %v", eval.ContextUtilisation.Score)
	}
	if eval.QuestionClarity.Score != 0 {
		t.Errorf("False verdict should score 0, got %v", eval.QuestionClarity.Score)
	}
	if n := gw.count(PurposeEvaluation); n != 6 {
		t.Errorf("Expected 6 model requests, got %d", n)
	}
}

func TestAnswerRelevancyPromptCarriesGroundTruth(t *testing.T) {
	gw := newFakeGateway().reply(PurposeEvaluation, evaluationReply)
	qe := NewQuestionEvaluator(gw, testGuidance(t), NewParser(zerolog.Nop(), nil), fixedScorer(0), zerolog.Nop())

	if _, err := qe.AnswerRelevancy(context.Background(), "the answer", "alpha, beta"); err != nil {
		t.Fatal(err)
	}
	calls := gw.callsFor(PurposeEvaluation + ":" + GuidanceAnswerRelevancy)
	if len(calls) != 1 {
		t.Fatalf("Expected one request, got %d", len(calls))
	}
	if !strings.Contains(calls[0].Prompt, "alpha, beta") || !strings.Contains(calls[0].Prompt, "the answer") {
		t.Errorf("Prompt misses its inputs:\n%s", calls[0].Prompt)
	}
}

func TestEvaluateStopsWhenCancelled(t *testing.T) {
	gw := newFakeGateway().reply(PurposeEvaluation, evaluationReply)
	ctx, cancel := context.WithCancel(context.Background())
	cg := &cancellingGateway{Gateway: gw}
	cg.cancelOn(PurposeEvaluation+":"+GuidanceQuestionDifficulty, cancel)
	qe := NewQuestionEvaluator(cg, testGuidance(t), NewParser(zerolog.Nop(), nil), nil, zerolog.Nop())

	eval, err := qe.Evaluate(ctx, "text", "kw", "q", "a")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Expected context.Canceled, got %v", err)
	}
	if eval != nil {
		t.Errorf("A cancelled evaluation must not be returned, got %+v", eval)
	}
	if n := gw.count(PurposeEvaluation); n != 2 {
		t.Errorf("Expected the metrics after the cancelled one to be skipped, got %d requests", n)
	}
}
