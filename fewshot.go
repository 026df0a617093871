package aqgeval

import (
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed guidance/*.yaml
var embeddedGuidance embed.FS

// Guidance bundle names
const (
	GuidanceKeywords             = "keywords-generation"
	GuidanceKeywordsFormatting   = "keywords-formatting"
	GuidanceSummaryFormatting    = "summary-formatting"
	GuidanceSAQs                 = "saqs"
	GuidanceMCQs                 = "mcqs"
	GuidanceGFQs                 = "gfqs"
	GuidanceBLQs                 = "blqs"
	GuidanceQuestionsFormatting  = "questions-formatting"
	GuidanceRelevance            = "relevance"
	GuidanceReadingComprehension = "reading-comprehension"
	GuidanceQuestionDifficulty   = "question-difficulty"
	GuidanceQuestionClarity      = "question-clarity"
	GuidanceAnswerRelevancy      = "answer-relevancy"
	GuidanceAnswerCorrectness    = "answer-correctness"
	GuidanceContextUtilisation   = "context-utilisation"
)

// GuidanceBundle is a few-shot prompt definition: interchangeable prefixes,
// interchangeable suffix templates, and worked examples.
type GuidanceBundle struct {
	Name            string            `yaml:"name"`
	Variables       []string          `yaml:"variables"`
	Prefixes        []string          `yaml:"prefixes"`
	SuffixTemplates []string          `yaml:"suffix_templates"`
	Examples        []GuidanceExample `yaml:"examples"`
}

// GuidanceExample is one worked input/output pair
type GuidanceExample struct {
	Inputs map[string]string `yaml:"inputs"`
	Output string            `yaml:"output"`
}

// Validate checks that the bundle can produce prompts
func (b *GuidanceBundle) Validate() error {
	if b.Name == "" {
		return fmt.Errorf("guidance bundle has no name")
	}
	if len(b.Prefixes) == 0 {
		return fmt.Errorf("guidance bundle %s has no prefixes", b.Name)
	}
	if len(b.SuffixTemplates) == 0 {
		return fmt.Errorf("guidance bundle %s has no suffix templates", b.Name)
	}
	for i, ex := range b.Examples {
		for _, v := range b.Variables {
			if _, ok := ex.Inputs[v]; !ok {
				return fmt.Errorf("guidance bundle %s example %d is missing input %q", b.Name, i, v)
			}
		}
	}
	return nil
}

// Suffix fills the suffix template at index with vars
func (b *GuidanceBundle) Suffix(index int, vars map[string]string) (string, error) {
	if index < 0 || index >= len(b.SuffixTemplates) {
		return "", fmt.Errorf("%w: %s suffix %d (have %d)", ErrTemplateIndex, b.Name, index, len(b.SuffixTemplates))
	}
	return substitute(b.SuffixTemplates[index], vars), nil
}

// Prompt assembles the prefix at prefixIndex, the rendered examples and
// suffix, separated by blank lines. Doubled braces in the result collapse
// to single ones.
func (b *GuidanceBundle) Prompt(prefixIndex int, suffix string) (string, error) {
	if prefixIndex < 0 || prefixIndex >= len(b.Prefixes) {
		return "", fmt.Errorf("%w: %s prefix %d (have %d)", ErrTemplateIndex, b.Name, prefixIndex, len(b.Prefixes))
	}
	parts := make([]string, 0, len(b.Examples)+2)
	parts = append(parts, b.Prefixes[prefixIndex])
	parts = append(parts, b.formattedExamples()...)
	parts = append(parts, suffix)
	return unescapeBraces(strings.Join(parts, "\n\n")), nil
}

// formattedExamples renders each example through the first suffix template
func (b *GuidanceBundle) formattedExamples() []string {
	out := make([]string, 0, len(b.Examples))
	for _, ex := range b.Examples {
		input := b.SuffixTemplates[0]
		for _, v := range b.Variables {
			input = strings.ReplaceAll(input, "{"+v+"}", strings.TrimSpace(ex.Inputs[v]))
		}
		out = append(out, "user: "+input+"\nai-response: "+strings.TrimSpace(ex.Output))
	}
	return out
}

// substitute replaces {name} placeholders found in vars. Doubled braces and
// unknown placeholders are copied through unchanged.
func substitute(tmpl string, vars map[string]string) string {
	var sb strings.Builder
	for i := 0; i < len(tmpl); {
		c := tmpl[i]
		if c == '{' && i+1 < len(tmpl) && tmpl[i+1] == '{' {
			sb.WriteString("{{")
			i += 2
			continue
		}
		if c == '{' {
			if end := strings.IndexByte(tmpl[i+1:], '}'); end >= 0 {
				name := tmpl[i+1 : i+1+end]
				if v, ok := vars[name]; ok && isIdentifier(name) {
					sb.WriteString(v)
					i += end + 2
					continue
				}
			}
		}
		sb.WriteByte(c)
		i++
	}
	return sb.String()
}

func unescapeBraces(s string) string {
	return strings.NewReplacer("{{", "{", "}}", "}").Replace(s)
}

func isIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r == '_', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case i > 0 && r >= '0' && r <= '9':
		default:
			return false
		}
	}
	return true
}

// GuidanceSet is the collection of bundles available to a workspace
type GuidanceSet struct {
	bundles map[string]*GuidanceBundle
}

// LoadGuidance reads every *.yaml bundle from dir. An empty dir loads the
// bundles compiled into the binary.
func LoadGuidance(dir string) (*GuidanceSet, error) {
	if dir == "" {
		sub, err := fs.Sub(embeddedGuidance, "guidance")
		if err != nil {
			return nil, fmt.Errorf("failed to open embedded guidance: %w", err)
		}
		return loadGuidanceFS(sub)
	}
	return loadGuidanceFS(os.DirFS(dir))
}

func loadGuidanceFS(fsys fs.FS) (*GuidanceSet, error) {
	names, err := fs.Glob(fsys, "*.yaml")
	if err != nil {
		return nil, fmt.Errorf("failed to list guidance bundles: %w", err)
	}
	set := &GuidanceSet{bundles: make(map[string]*GuidanceBundle)}
	for _, name := range names {
		data, err := fs.ReadFile(fsys, name)
		if err != nil {
			return nil, fmt.Errorf("failed to read guidance bundle %s: %w", name, err)
		}
		var b GuidanceBundle
		if err := yaml.Unmarshal(data, &b); err != nil {
			return nil, fmt.Errorf("failed to parse guidance bundle %s: %w", name, err)
		}
		if b.Name == "" {
			b.Name = strings.TrimSuffix(path.Base(name), ".yaml")
		}
		if err := b.Validate(); err != nil {
			return nil, err
		}
		set.bundles[b.Name] = &b
	}
	return set, nil
}

// Bundle returns the named bundle
func (g *GuidanceSet) Bundle(name string) (*GuidanceBundle, error) {
	b, ok := g.bundles[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownGuidance, name)
	}
	return b, nil
}

// Names returns the loaded bundle names, sorted
func (g *GuidanceSet) Names() []string {
	names := make([]string, 0, len(g.bundles))
	for name := range g.bundles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Render fills the suffix template at suffixIndex with vars and assembles the
// full prompt with the prefix at prefixIndex.
func (g *GuidanceSet) Render(name string, prefixIndex, suffixIndex int, vars map[string]string) (string, error) {
	b, err := g.Bundle(name)
	if err != nil {
		return "", err
	}
	suffix, err := b.Suffix(suffixIndex, vars)
	if err != nil {
		return "", err
	}
	return b.Prompt(prefixIndex, suffix)
}
