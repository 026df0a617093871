package aqgeval

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"
)

type fakeCall struct {
	Prompt string
	Config ModelConfig
}

// fakeGateway answers by request purpose. Replies queued for a purpose are
// consumed in order and the last one repeats. A per-metric evaluation
// purpose ("evaluation:relevance") falls back to the "evaluation" queue.
type fakeGateway struct {
	mu      sync.Mutex
	replies map[string][]string
	errs    map[string]error
	calls   []fakeCall
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{replies: make(map[string][]string), errs: make(map[string]error)}
}

func (f *fakeGateway) reply(purpose string, texts ...string) *fakeGateway {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.replies[purpose] = append(f.replies[purpose], texts...)
	return f
}

func (f *fakeGateway) fail(purpose string, err error) *fakeGateway {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs[purpose] = err
	return f
}

func (f *fakeGateway) Generate(ctx context.Context, prompt string, cfg ModelConfig) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, fakeCall{Prompt: prompt, Config: cfg})

	key := cfg.Purpose
	if _, ok := f.replies[key]; !ok {
		if _, ok := f.errs[key]; !ok {
			key = purposeLabel(key)
		}
	}
	if err := f.errs[key]; err != nil {
		return "", err
	}
	queue := f.replies[key]
	if len(queue) == 0 {
		return "", fmt.Errorf("no fake reply for purpose %q", cfg.Purpose)
	}
	if len(queue) > 1 {
		f.replies[key] = queue[1:]
	}
	return queue[0], nil
}

// count returns how many requests carried purpose, or a purpose with that
// prefix before ':'
func (f *fakeGateway) count(purpose string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c.Config.Purpose == purpose || purposeLabel(c.Config.Purpose) == purpose {
			n++
		}
	}
	return n
}

func (f *fakeGateway) callsFor(purpose string) []fakeCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []fakeCall
	for _, c := range f.calls {
		if c.Config.Purpose == purpose {
			out = append(out, c)
		}
	}
	return out
}

func testGuidance(t *testing.T) *GuidanceSet {
	t.Helper()
	g, err := LoadGuidance("")
	if err != nil {
		t.Fatalf("LoadGuidance: %v", err)
	}
	return g
}

func testWorkspace(t *testing.T, gw Gateway) *Workspace {
	t.Helper()
	logger := zerolog.Nop()
	return NewWorkspace(t.TempDir(), NewToolkit(gw, testGuidance(t), nil, logger), nil, nil, logger)
}

// wordsTranscript returns n space separated words
func wordsTranscript(word string, n int) string {
	return strings.TrimSpace(strings.Repeat(word+" ", n))
}

const evaluationReply = `{"response": {"score": 4, "reasoning": "fine"}}`
const contextReply = `{"response": {"verdicts": [1, 0, 1], "reasoning": "mostly used"}}`

// cancellingGateway delegates to Gateway until a request with the armed
// purpose (or purpose label) arrives; that request cancels its context and
// fails with the context error.
type cancellingGateway struct {
	Gateway
	mu      sync.Mutex
	purpose string
	cancel  context.CancelFunc
}

func (g *cancellingGateway) cancelOn(purpose string, cancel context.CancelFunc) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.purpose, g.cancel = purpose, cancel
}

func (g *cancellingGateway) Generate(ctx context.Context, prompt string, cfg ModelConfig) (string, error) {
	g.mu.Lock()
	cancel := g.cancel
	hit := cancel != nil && (cfg.Purpose == g.purpose || purposeLabel(cfg.Purpose) == g.purpose)
	g.mu.Unlock()
	if hit {
		cancel()
		return "", ctx.Err()
	}
	return g.Gateway.Generate(ctx, prompt, cfg)
}
