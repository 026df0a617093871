package aqgeval

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	openai "github.com/sashabaranov/go-openai"
)

// Gateway turns a fully formatted prompt into raw model text
type Gateway interface {
	Generate(ctx context.Context, prompt string, cfg ModelConfig) (string, error)
}

// ModelConfig selects a backend and its sampling parameters for one request
type ModelConfig struct {
	Backend     string
	MaxTokens   int
	Temperature float32
	// Purpose names the pipeline step issuing the request. It labels logs
	// and metrics.
	Purpose string
}

// Request purposes
const (
	PurposeSummary            = "summary"
	PurposeSummaryFormatting  = "summary-formatting"
	PurposeKeywords           = "keywords"
	PurposeKeywordsFormatting = "keywords-formatting"
	PurposeQuestions          = "questions"
	PurposeQuestionFormatting = "questions-formatting"
	PurposeEvaluation         = "evaluation"
)

// FormattingBackend serves every formatting pass and every evaluation metric
const FormattingBackend = "chatgpt"

// QuestionModel is used for question generation
func QuestionModel(backend string) ModelConfig {
	return ModelConfig{Backend: backend, MaxTokens: 2048, Temperature: 0.6, Purpose: PurposeQuestions}
}

// TranscriptModel is used for summaries and keyword extraction
func TranscriptModel(backend, purpose string) ModelConfig {
	return ModelConfig{Backend: backend, MaxTokens: 2048, Temperature: 0.15, Purpose: purpose}
}

// FormattingModel is used for the passes that coerce output into a strict shape
func FormattingModel(purpose string) ModelConfig {
	return ModelConfig{Backend: FormattingBackend, MaxTokens: 2048, Temperature: 0.5, Purpose: purpose}
}

// EvaluationModel is used for every evaluation metric
func EvaluationModel(metric string) ModelConfig {
	return ModelConfig{Backend: FormattingBackend, MaxTokens: 1024, Temperature: 0.45, Purpose: PurposeEvaluation + ":" + metric}
}

// Provider is an OpenAI-compatible endpoint
type Provider struct {
	Name    string
	BaseURL string // empty means the OpenAI default
	KeyEnv  string
}

var (
	ProviderOpenAI    = Provider{Name: "openai", KeyEnv: "OPENAI_API_KEY"}
	ProviderAnthropic = Provider{Name: "anthropic", BaseURL: "https://api.anthropic.com/v1/", KeyEnv: "ANTHROPIC_API_KEY"}
	ProviderMistral   = Provider{Name: "mistral", BaseURL: "https://api.mistral.ai/v1", KeyEnv: "MISTRAL_API_KEY"}
	ProviderTogether  = Provider{Name: "together", BaseURL: "https://api.together.xyz/v1", KeyEnv: "TOGETHER_API_KEY"}
)

// Backend is a named model served by a provider
type Backend struct {
	Name     string
	Model    string
	Provider Provider
}

var backends = map[string]Backend{
	"chatgpt":    {"chatgpt", "gpt-4o-mini", ProviderOpenAI},
	"claude":     {"claude", "claude-3-5-sonnet-20240620", ProviderAnthropic},
	"gemma":      {"gemma", "google/gemma-2-27b-it", ProviderTogether},
	"mistral":    {"mistral", "mistral-large-2407", ProviderMistral},
	"llama":      {"llama", "meta-llama/Meta-Llama-3.1-405B-Instruct-Turbo", ProviderTogether},
	"wizard":     {"wizard", "microsoft/WizardLM-2-8x22B", ProviderTogether},
	"databricks": {"databricks", "databricks/dbrx-instruct", ProviderTogether},
	"gryphe":     {"gryphe", "Gryphe/MythoMax-L2-13b-Lite", ProviderTogether},
	"upstage":    {"upstage", "upstage/SOLAR-10.7B-Instruct-v1.0", ProviderTogether},
	"qwen":       {"qwen", "Qwen/Qwen2.5-72B-Instruct-Turbo", ProviderTogether},
	"deep_seek":  {"deep_seek", "deepseek-ai/deepseek-llm-67b-chat", ProviderTogether},
}

// LookupBackend returns the backend registered under name
func LookupBackend(name string) (Backend, bool) {
	b, ok := backends[name]
	return b, ok
}

// BackendNames returns the registered backend names, sorted
func BackendNames() []string {
	names := make([]string, 0, len(backends))
	for name := range backends {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// GatewayOptions configures an OpenAIGateway
type GatewayOptions struct {
	// APIKeys maps provider names to keys. Missing keys are read from the
	// provider's environment variable.
	APIKeys map[string]string
	// BaseURLs overrides provider endpoints, keyed by provider name.
	BaseURLs map[string]string
	// RequestDelay is slept before every request.
	RequestDelay time.Duration
	// TransientRetries is how many times a rate-limited or 5xx request is
	// retried before the error is returned.
	TransientRetries int
	TransientBackoff time.Duration
}

// OpenAIGateway sends prompts to OpenAI-compatible chat completion endpoints
type OpenAIGateway struct {
	opts    GatewayOptions
	log     zerolog.Logger
	mu      sync.Mutex
	clients map[string]*openai.Client
	sleep   func(context.Context, time.Duration) error
}

// NewOpenAIGateway creates a gateway. Clients are built lazily per provider.
func NewOpenAIGateway(opts GatewayOptions, logger zerolog.Logger) *OpenAIGateway {
	return &OpenAIGateway{
		opts:    opts,
		log:     componentLogger(logger, "gateway"),
		clients: make(map[string]*openai.Client),
		sleep:   sleepContext,
	}
}

func (g *OpenAIGateway) client(p Provider) (*openai.Client, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if c, ok := g.clients[p.Name]; ok {
		return c, nil
	}
	key := g.opts.APIKeys[p.Name]
	if key == "" {
		key = os.Getenv(p.KeyEnv)
	}
	if key == "" {
		return nil, fmt.Errorf("no API key for provider %s (set %s)", p.Name, p.KeyEnv)
	}
	cfg := openai.DefaultConfig(key)
	if u := g.opts.BaseURLs[p.Name]; u != "" {
		cfg.BaseURL = u
	} else if p.BaseURL != "" {
		cfg.BaseURL = p.BaseURL
	}
	c := openai.NewClientWithConfig(cfg)
	g.clients[p.Name] = c
	return c, nil
}

// Generate sends prompt as a single user message and returns the reply text
func (g *OpenAIGateway) Generate(ctx context.Context, prompt string, cfg ModelConfig) (string, error) {
	backend, ok := LookupBackend(cfg.Backend)
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownBackend, cfg.Backend)
	}
	client, err := g.client(backend.Provider)
	if err != nil {
		return "", err
	}

	req := openai.ChatCompletionRequest{
		Model: backend.Model,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleUser,
				Content: prompt,
			},
		},
		MaxTokens:   cfg.MaxTokens,
		Temperature: cfg.Temperature,
	}

	backoff := g.opts.TransientBackoff
	if backoff <= 0 {
		backoff = time.Second
	}
	for attempt := 0; ; attempt++ {
		if err := g.sleep(ctx, g.opts.RequestDelay); err != nil {
			return "", err
		}

		resp, err := client.CreateChatCompletion(ctx, req)
		if err == nil {
			if len(resp.Choices) == 0 {
				return "", fmt.Errorf("no response from %s", backend.Model)
			}
			return resp.Choices[0].Message.Content, nil
		}

		if !isTransient(err) || attempt >= g.opts.TransientRetries {
			return "", fmt.Errorf("failed to generate with %s: %w", backend.Name, err)
		}
		g.log.Warn().
			Err(err).
			Str("backend", backend.Name).
			Str("purpose", cfg.Purpose).
			Int("attempt", attempt+1).
			Dur("backoff", backoff).
			Msg("transient generation failure, retrying")
		if err := g.sleep(ctx, backoff); err != nil {
			return "", err
		}
		backoff *= 2
	}
}

// isTransient reports whether err is a rate limit or server side failure
func isTransient(err error) bool {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode == http.StatusTooManyRequests || apiErr.HTTPStatusCode >= 500
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode == http.StatusTooManyRequests || reqErr.HTTPStatusCode >= 500
	}
	return false
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// InstrumentedGateway records every request in the LLM transcript log and
// in the metrics before delegating.
type InstrumentedGateway struct {
	next    Gateway
	llmLog  *LLMLogger
	metrics *Metrics
	log     zerolog.Logger
}

// Instrument wraps next. llmLog and metrics may be nil.
func Instrument(next Gateway, llmLog *LLMLogger, metrics *Metrics, logger zerolog.Logger) *InstrumentedGateway {
	return &InstrumentedGateway{next: next, llmLog: llmLog, metrics: metrics, log: componentLogger(logger, "gateway")}
}

// Generate logs and measures the request, then delegates it
func (g *InstrumentedGateway) Generate(ctx context.Context, prompt string, cfg ModelConfig) (string, error) {
	if g.llmLog != nil {
		g.llmLog.LogLLMRequest(cfg.Purpose, cfg.Backend, prompt)
	}

	start := time.Now()
	text, err := g.next.Generate(ctx, prompt, cfg)
	elapsed := time.Since(start)
	g.metrics.RecordLLMRequest(purposeLabel(cfg.Purpose), elapsed, err)

	if err != nil {
		if g.llmLog != nil {
			g.llmLog.LogLLMError(cfg.Purpose, err)
		}
		g.log.Error().Err(err).Str("purpose", cfg.Purpose).Str("backend", cfg.Backend).Dur("duration", elapsed).Msg("generation failed")
		return "", err
	}
	if g.llmLog != nil {
		g.llmLog.LogLLMResponse(cfg.Purpose, text)
	}
	g.log.Debug().Str("purpose", cfg.Purpose).Str("backend", cfg.Backend).Dur("duration", elapsed).Int("chars", len(text)).Msg("generation completed")
	return text, nil
}

// purposeLabel folds per-metric evaluation purposes into one label value
func purposeLabel(purpose string) string {
	if i := strings.IndexByte(purpose, ':'); i >= 0 {
		return purpose[:i]
	}
	return purpose
}
