package aqgeval

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
)

func TestNormalizeScore(t *testing.T) {
	tests := []struct {
		in, want float64
	}{
		{4, 0.8},
		{5, 1},
		{1, 0.2},
		{3.3, 0.66},
		{2.2222, 0.444},
		{0, 0},
		{-1, -1},
	}
	for _, tt := range tests {
		if got := NormalizeScore(tt.in); got != tt.want {
			t.Errorf("NormalizeScore(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestDecodeEvaluation(t *testing.T) {
	tests := []struct {
		name  string
		text  string
		score float64
		ok    bool
	}{
		{"number", `{"response": {"score": 4, "reasoning": "r"}}`, 0.8, true},
		{"numeric string", `{"response": {"score": "3", "reasoning": "r"}}`, 0.6, true},
		{"true verdict", `{"response": {"score": "True", "reasoning": "r"}}`, 0.2, true},
		{"false verdict", `{"response": {"score": "False", "reasoning": "r"}}`, 0, true},
		{"json bool", `{"response": {"score": true}}`, 0.2, true},
		{"fenced", "```json\n{\"response\": {\"score\": 5}}\n```", 1, true},
		{"missing score", `{"response": {"reasoning": "r"}}`, 0, false},
		{"not json", `The score is 4`, 0, false},
		{"garbage score", `{"response": {"score": "high"}}`, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, ok := decodeEvaluation(tt.text)
			if ok != tt.ok {
				t.Fatalf("ok = %v, want %v", ok, tt.ok)
			}
			if ok && res.Score != tt.score {
				t.Errorf("Score = %v, want %v", res.Score, tt.score)
			}
		})
	}
}

func TestParseEvaluationFallsBackAfterRetries(t *testing.T) {
	p := NewParser(zerolog.Nop(), nil)
	calls := 0
	res, attempts, err := p.ParseEvaluation(context.Background(), func(ctx context.Context, attempt int) (string, error) {
		calls++
		return "not json at all", nil
	})
	if err != nil {
		t.Fatalf("Exhausted retries should not be an error: %v", err)
	}
	if !res.Failed() || res.Reasoning != "" {
		t.Errorf("Expected sentinel result, got %+v", res)
	}
	if calls != DefaultParseAttempts || attempts != DefaultParseAttempts {
		t.Errorf("Expected %d attempts, got calls=%d attempts=%d", DefaultParseAttempts, calls, attempts)
	}
}

func TestParseEvaluationRecoversOnSecondAttempt(t *testing.T) {
	p := NewParser(zerolog.Nop(), nil)
	replies := []string{"oops", `{"response": {"score": 2, "reasoning": "ok"}}`}
	res, attempts, err := p.ParseEvaluation(context.Background(), func(ctx context.Context, attempt int) (string, error) {
		return replies[attempt-1], nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.Score != 0.4 || res.Reasoning != "ok" {
		t.Errorf("Unexpected result %+v", res)
	}
	if attempts != 2 {
		t.Errorf("Expected 2 attempts, got %d", attempts)
	}
}

func TestParseCountsGenerationErrorsAsAttempts(t *testing.T) {
	p := NewParser(zerolog.Nop(), nil)
	calls := 0
	list, _, err := p.ParseCommaList(context.Background(), func(ctx context.Context, attempt int) (string, error) {
		calls++
		return "", errors.New("boom")
	})
	if err != nil {
		t.Fatalf("Generation errors should fall back, got %v", err)
	}
	if list != nil {
		t.Errorf("Expected nil list, got %q", list)
	}
	if calls != DefaultParseAttempts {
		t.Errorf("Expected %d calls, got %d", DefaultParseAttempts, calls)
	}
}

func TestParseStopsOnCancelledContext(t *testing.T) {
	p := NewParser(zerolog.Nop(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	calls := 0
	_, attempts, err := p.ParseQuestionBatch(ctx, func(ctx context.Context, attempt int) (string, error) {
		calls++
		return "[]", nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
	if calls != 0 || attempts != 0 {
		t.Errorf("Expected no attempts, got calls=%d attempts=%d", calls, attempts)
	}
}

func TestParseReportsCancellationDuringGeneration(t *testing.T) {
	p := NewParser(zerolog.Nop(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	res, _, err := p.ParseEvaluation(ctx, func(ctx context.Context, attempt int) (string, error) {
		calls++
		cancel()
		return "", ctx.Err()
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Expected context.Canceled, got %v", err)
	}
	if calls != 1 {
		t.Errorf("Expected a single attempt, got %d", calls)
	}
	if res.Failed() {
		t.Error("A cancelled decode must not produce the fallback sentinel")
	}
}

func TestDecodeQuestionBatch(t *testing.T) {
	tests := []struct {
		name string
		text string
		n    int
		ok   bool
	}{
		{"array", `[{"question": "Q1", "answer": "A1"}, {"question": "Q2", "answer": ["a", "b"]}]`, 2, true},
		{"response object", `{"response": [{"question": "Q1", "answer": true}]}`, 1, true},
		{"skips blank questions", `[{"question": "", "answer": "x"}, {"answer": "y"}, {"question": "Q", "answer": "z"}]`, 1, true},
		{"fenced", "```json\n[{\"question\": \"Q\", \"answer\": \"A\"}]\n```", 1, true},
		{"object without list", `{"question": "Q"}`, 0, false},
		{"prose", `Here are your questions`, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			batch, ok := decodeQuestionBatch(tt.text)
			if ok != tt.ok {
				t.Fatalf("ok = %v, want %v", ok, tt.ok)
			}
			if len(batch) != tt.n {
				t.Errorf("Expected %d questions, got %d", tt.n, len(batch))
			}
		})
	}
}

func TestDecodeCommaList(t *testing.T) {
	list, ok := decodeCommaList(" machine learning, Arthur Samuel ,IBM. ")
	if !ok {
		t.Fatal("Expected success")
	}
	want := []string{"machine learning", "Arthur Samuel", "IBM"}
	if len(list) != len(want) {
		t.Fatalf("Expected %q, got %q", want, list)
	}
	for i := range want {
		if list[i] != want[i] {
			t.Errorf("Item %d = %q, want %q", i, list[i], want[i])
		}
	}

	if _, ok := decodeCommaList(" , . "); ok {
		t.Error("Expected failure for an empty list")
	}
}

func TestSanitizeGeneratedQuestions(t *testing.T) {
	got := sanitizeGeneratedQuestions(`Q: "What" is {x}?`)
	want := `Q: 'What' is {{x}}?`
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestAveragePrecision(t *testing.T) {
	res, ok := decodeContextVerdicts(`{"response": {"verdicts": [1, 0, 1], "reasoning": "r"}}`)
	if !ok {
		t.Fatal("Expected success")
	}
	// (1/1*1 + 2/3*1) / 2 = 0.8333
	if res.Score != 0.83 {
		t.Errorf("Score = %v, want 0.83", res.Score)
	}

	res, ok = decodeContextVerdicts(`{"response": {"verdicts": [0, 0]}}`)
	if !ok || res.Score != 0 {
		t.Errorf("Expected 0 for no useful verdicts, got %+v ok=%v", res, ok)
	}

	res, ok = decodeContextVerdicts(`{"response": {"score": 0.756}}`)
	if !ok || res.Score != 0.76 {
		t.Errorf("Expected direct score rounded to 0.76, got %+v", res)
	}
}
