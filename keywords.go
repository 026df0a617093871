package aqgeval

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
)

// KeywordExtractor asks a model for the keywords of a text and ranks them
// by how often they occur in it.
type KeywordExtractor struct {
	gateway  Gateway
	guidance *GuidanceSet
	parser   *Parser
	log      zerolog.Logger
}

// NewKeywordExtractor creates an extractor sharing the given parser
func NewKeywordExtractor(gateway Gateway, guidance *GuidanceSet, parser *Parser, logger zerolog.Logger) *KeywordExtractor {
	return &KeywordExtractor{gateway: gateway, guidance: guidance, parser: parser, log: componentLogger(logger, "keywords")}
}

// Generate requests count keywords of text. The raw reply is rewritten into
// a comma separated list by the keyword formatting prompt, retried when the
// list comes back empty. The selectors pick the prompt templates of both
// passes.
func (k *KeywordExtractor) Generate(ctx context.Context, text string, count int, backend string, prefixIndex, suffixIndex int) (*KeywordCounts, error) {
	prompt, err := k.guidance.Render(GuidanceKeywords, prefixIndex, suffixIndex, map[string]string{
		"number_of_keywords": strconv.Itoa(count),
		"text":               text,
	})
	if err != nil {
		return nil, err
	}
	raw, err := k.gateway.Generate(ctx, prompt, TranscriptModel(backend, PurposeKeywords))
	if err != nil {
		return nil, fmt.Errorf("failed to generate keywords: %w", err)
	}

	formatPrompt, err := k.guidance.Render(GuidanceKeywordsFormatting, prefixIndex, suffixIndex, map[string]string{
		"text": raw,
	})
	if err != nil {
		return nil, err
	}
	keywords, _, err := k.parser.ParseCommaList(ctx, func(ctx context.Context, attempt int) (string, error) {
		return k.gateway.Generate(ctx, formatPrompt, FormattingModel(PurposeKeywordsFormatting))
	})
	if err != nil {
		return nil, fmt.Errorf("failed to format keywords: %w", err)
	}
	if len(keywords) == 0 {
		k.log.Warn().Str("raw", raw).Msg("no keywords could be extracted")
	}

	return WordsFrequency(keywords, text, count), nil
}

// WordsFrequency counts the case-insensitive occurrences of each keyword in
// text. Only the first max keywords are kept, then the result is sorted by
// count, highest first.
func WordsFrequency(keywords []string, text string, max int) *KeywordCounts {
	kc := NewKeywordCounts()
	lower := strings.ToLower(text)
	n := 0
	for _, keyword := range keywords {
		if n >= max {
			break
		}
		keyword = strings.TrimSpace(keyword)
		if keyword == "" {
			continue
		}
		kc.Set(keyword, strings.Count(lower, strings.ToLower(keyword)))
		n++
	}
	kc.SortDescending()
	return kc
}
