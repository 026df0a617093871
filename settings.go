package aqgeval

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/tidwall/gjson"
)

// ProjectSettings is the per-project configuration persisted as settings.json
type ProjectSettings struct {
	SummariesWordLimit         int    `json:"summaries_word_limit"`
	NumberOfTranscriptKeywords int    `json:"number_of_transcript_keywords"`
	NumberOfSummaryKeywords    int    `json:"number_of_summary_keywords"`
	NumberOfQuestions          int    `json:"number_of_questions"`
	TranscriptSegmentSize      int    `json:"transcript_segment_size"`
	LLMName                    string `json:"llm_name"`

	SAQPrefixIndex int `json:"saq_prefix_index"`
	SAQSuffixIndex int `json:"saq_suffix_index"`
	GFQPrefixIndex int `json:"gfq_prefix_index"`
	GFQSuffixIndex int `json:"gfq_suffix_index"`
	BLQPrefixIndex int `json:"blq_prefix_index"`
	BLQSuffixIndex int `json:"blq_suffix_index"`
	MCQPrefixIndex int `json:"mcq_prefix_index"`
	MCQSuffixIndex int `json:"mcq_suffix_index"`
}

var settingsKeys = []string{
	"summaries_word_limit", "number_of_transcript_keywords", "number_of_summary_keywords",
	"number_of_questions", "transcript_segment_size", "llm_name",
	"saq_prefix_index", "saq_suffix_index", "gfq_prefix_index", "gfq_suffix_index",
	"blq_prefix_index", "blq_suffix_index", "mcq_prefix_index", "mcq_suffix_index",
}

// DefaultSettings returns the settings used when none are stored
func DefaultSettings() ProjectSettings {
	return ProjectSettings{
		SummariesWordLimit:         50,
		NumberOfTranscriptKeywords: 3,
		NumberOfSummaryKeywords:    3,
		NumberOfQuestions:          3,
		TranscriptSegmentSize:      500,
		LLMName:                    "chatgpt",
	}
}

// Validate checks value ranges and the backend name
func (s ProjectSettings) Validate() error {
	var problems []string
	if s.SummariesWordLimit <= 0 {
		problems = append(problems, "summaries_word_limit must be positive")
	}
	if s.NumberOfTranscriptKeywords < 0 || s.NumberOfSummaryKeywords < 0 {
		problems = append(problems, "keyword counts must not be negative")
	}
	if s.NumberOfQuestions < 0 {
		problems = append(problems, "number_of_questions must not be negative")
	}
	if s.TranscriptSegmentSize <= 0 {
		problems = append(problems, "transcript_segment_size must be positive")
	}
	if _, ok := LookupBackend(s.LLMName); !ok {
		problems = append(problems, fmt.Sprintf("llm_name %q is not a known backend", s.LLMName))
	}
	for _, idx := range []int{
		s.SAQPrefixIndex, s.SAQSuffixIndex, s.GFQPrefixIndex, s.GFQSuffixIndex,
		s.BLQPrefixIndex, s.BLQSuffixIndex, s.MCQPrefixIndex, s.MCQSuffixIndex,
	} {
		if idx < 0 {
			problems = append(problems, "template indices must not be negative")
			break
		}
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidSettings, strings.Join(problems, "; "))
	}
	return nil
}

// ParseSettings decodes a settings document. Every key must be present and
// well typed.
func ParseSettings(data []byte) (ProjectSettings, error) {
	if !gjson.ValidBytes(data) {
		return ProjectSettings{}, fmt.Errorf("%w: not valid JSON", ErrInvalidSettings)
	}
	results := gjson.GetManyBytes(data, settingsKeys...)
	for i, r := range results {
		if !r.Exists() {
			return ProjectSettings{}, fmt.Errorf("%w: missing key %q", ErrInvalidSettings, settingsKeys[i])
		}
	}
	var s ProjectSettings
	if err := json.Unmarshal(data, &s); err != nil {
		return ProjectSettings{}, fmt.Errorf("%w: %v", ErrInvalidSettings, err)
	}
	return s, nil
}

// SettingsOrDefault decodes data, falling back to DefaultSettings when the
// document is malformed.
func SettingsOrDefault(data []byte) ProjectSettings {
	s, err := ParseSettings(data)
	if err != nil {
		log.Warn().Err(err).Msg("not a valid project settings document, using default settings")
		return DefaultSettings()
	}
	return s
}

// LoadSettings reads settings from path, falling back to the defaults when
// the file is absent or malformed.
func LoadSettings(path string) ProjectSettings {
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Warn().Err(err).Str("path", path).Msg("failed to read project settings, using default settings")
		}
		return DefaultSettings()
	}
	return SettingsOrDefault(data)
}

// SaveSettings writes settings to path with four-space indentation
func SaveSettings(path string, s ProjectSettings) error {
	data, err := json.MarshalIndent(s, "", "    ")
	if err != nil {
		return fmt.Errorf("failed to encode project settings: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write project settings: %w", err)
	}
	return nil
}
