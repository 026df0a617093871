package aqgeval

import (
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cast"
)

// AnswerFormatter rewrites the raw answer field of a decoded question
type AnswerFormatter func(raw any) Answer

// answerFormatters is indexed by QuestionType
var answerFormatters = [...]AnswerFormatter{
	SAQ: FormatSAQAnswer,
	MCQ: FormatMCQAnswer,
	GFQ: FormatGFQAnswer,
	BLQ: FormatBLQAnswer,
}

// FormatSAQAnswer coerces the answer to a single string, joining lists
func FormatSAQAnswer(raw any) Answer {
	switch v := raw.(type) {
	case string:
		return TextAnswer(v)
	case []any:
		return TextAnswer(strings.Join(stringList(v), ", "))
	case []string:
		return TextAnswer(strings.Join(v, ", "))
	case nil:
		return TextAnswer("")
	}
	s, err := cast.ToStringE(raw)
	if err != nil {
		log.Warn().Interface("answer", raw).Err(err).Msg("saq answer is not representable as text")
	}
	return TextAnswer(s)
}

// FormatMCQAnswer splits the answer on ", " into an option list
func FormatMCQAnswer(raw any) Answer {
	var opts []string
	switch v := raw.(type) {
	case []any:
		opts = stringList(v)
	case []string:
		opts = v
	default:
		s := strings.TrimSpace(cast.ToString(raw))
		for _, part := range strings.Split(s, ", ") {
			opts = append(opts, strings.TrimSpace(part))
		}
	}
	if len(opts) != 4 {
		log.Warn().Int("options", len(opts)).Strs("answer", opts).Msg("mcq answer does not have exactly 4 options")
	}
	return OptionsAnswer(opts)
}

// FormatGFQAnswer splits the answer on "," into a trimmed list
func FormatGFQAnswer(raw any) Answer {
	switch v := raw.(type) {
	case []any:
		return OptionsAnswer(stringList(v))
	case []string:
		return OptionsAnswer(v)
	}
	var opts []string
	for _, part := range strings.Split(cast.ToString(raw), ",") {
		opts = append(opts, strings.TrimSpace(part))
	}
	return OptionsAnswer(opts)
}

// FormatBLQAnswer maps the answer to a boolean. Text containing "t" is true,
// otherwise text containing "f" is false; anything else stays unset.
func FormatBLQAnswer(raw any) Answer {
	switch v := raw.(type) {
	case bool:
		return BoolAnswer(v)
	case []any:
		if len(v) == 0 {
			return Answer{}
		}
		return FormatBLQAnswer(v[0])
	case []string:
		if len(v) == 0 {
			return Answer{}
		}
		return FormatBLQAnswer(v[0])
	}
	s := strings.ToLower(strings.TrimSpace(cast.ToString(raw)))
	switch {
	case strings.Contains(s, "t"):
		return BoolAnswer(true)
	case strings.Contains(s, "f"):
		return BoolAnswer(false)
	}
	log.Warn().Interface("answer", raw).Msg("blq answer is neither true nor false, leaving it unset")
	return Answer{}
}

func stringList(values []any) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		out = append(out, cast.ToString(v))
	}
	return out
}
