package aqgeval

import (
	"context"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestSummarizeShortTranscriptSkipsModel(t *testing.T) {
	gw := newFakeGateway()
	s := NewSummarizer(gw, testGuidance(t), zerolog.Nop())

	got, err := s.Summarize(context.Background(), "  ten words or fewer here  ", 50, "chatgpt")
	if err != nil {
		t.Fatal(err)
	}
	if got != "ten words or fewer here" {
		t.Errorf("got %q", got)
	}
	if len(gw.calls) != 0 {
		t.Errorf("Expected no model calls, got %d", len(gw.calls))
	}
}

func TestSummarizeLongTranscript(t *testing.T) {
	gw := newFakeGateway().
		reply(PurposeSummary, "Summary: Samuel named machine learning.").
		reply(PurposeSummaryFormatting, "  Samuel named machine learning.\n")
	s := NewSummarizer(gw, testGuidance(t), zerolog.Nop())

	got, err := s.Summarize(context.Background(), wordsTranscript("word", 60), 50, "mistral")
	if err != nil {
		t.Fatal(err)
	}
	if got != "Samuel named machine learning." {
		t.Errorf("got %q", got)
	}

	first := gw.callsFor(PurposeSummary)
	if len(first) != 1 || first[0].Config.Backend != "mistral" || !strings.Contains(first[0].Prompt, "word limit of 50") {
		t.Errorf("Unexpected summary request %+v", first)
	}
	second := gw.callsFor(PurposeSummaryFormatting)
	if len(second) != 1 || !strings.Contains(second[0].Prompt, "Summary: Samuel named machine learning.") {
		t.Errorf("Formatting pass should receive the raw summary, got %+v", second)
	}
}
