package aqgeval

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
)

const summaryPrompt = "Summarize the provided text. Maintain fidelity of all the important ideas and topics. " +
	"Aim for a summary word limit of %d or less. Your output must ONLY include the summary and NOTHING ELSE, no heading, no caption, etc. " +
	"In the output DO NOT add prefixes like 'The Summary' or 'Summary', etc. " +
	"\nThe text: %s"

// Summarizer compresses segment transcripts to a bounded number of words
type Summarizer struct {
	gateway  Gateway
	guidance *GuidanceSet
	log      zerolog.Logger
}

// NewSummarizer creates a summarizer using the summary formatting guidance
func NewSummarizer(gateway Gateway, guidance *GuidanceSet, logger zerolog.Logger) *Summarizer {
	return &Summarizer{gateway: gateway, guidance: guidance, log: componentLogger(logger, "summarizer")}
}

// Summarize returns the trimmed transcript when it already fits in wordLimit
// words. Otherwise it requests a summary from backend and passes it through
// the summary formatting prompt.
func (s *Summarizer) Summarize(ctx context.Context, transcript string, wordLimit int, backend string) (string, error) {
	trimmed := strings.TrimSpace(transcript)
	if words := len(strings.Split(trimmed, " ")); words <= wordLimit {
		s.log.Debug().Int("words", words).Int("limit", wordLimit).Msg("transcript already within the word limit")
		return trimmed, nil
	}

	raw, err := s.gateway.Generate(ctx, fmt.Sprintf(summaryPrompt, wordLimit, transcript), TranscriptModel(backend, PurposeSummary))
	if err != nil {
		return "", fmt.Errorf("failed to generate summary: %w", err)
	}

	prompt, err := s.guidance.Render(GuidanceSummaryFormatting, 0, 0, map[string]string{
		"previous_llm_output": strings.TrimSpace(raw),
	})
	if err != nil {
		return "", err
	}
	formatted, err := s.gateway.Generate(ctx, prompt, FormattingModel(PurposeSummaryFormatting))
	if err != nil {
		return "", fmt.Errorf("failed to format summary: %w", err)
	}

	summary := strings.TrimSpace(formatted)
	s.log.Debug().Int("words", len(strings.Fields(summary))).Msg("generated summary")
	return summary, nil
}
