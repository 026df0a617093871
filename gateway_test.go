package aqgeval

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

type eventLog struct {
	mu     sync.Mutex
	events []string
}

func (l *eventLog) add(e string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
}

func (l *eventLog) String() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return fmt.Sprint(l.events)
}

// chatServer answers chat completions after failing the first failures
// requests with 429
type chatServer struct {
	mu       sync.Mutex
	failures int
	events   *eventLog
}

func (s *chatServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events.add("request")
	w.Header().Set("Content-Type", "application/json")
	if s.failures > 0 {
		s.failures--
		w.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprint(w, `{"error": {"message": "slow down", "type": "rate_limit_exceeded"}}`)
		return
	}
	fmt.Fprint(w, `{"id": "1", "object": "chat.completion", "model": "gpt-4o-mini",
		"choices": [{"index": 0, "message": {"role": "assistant", "content": "hello"}, "finish_reason": "stop"}]}`)
}

func newTestGateway(t *testing.T, failures int, opts GatewayOptions) (*OpenAIGateway, *eventLog) {
	t.Helper()
	events := &eventLog{}
	srv := httptest.NewServer(&chatServer{failures: failures, events: events})
	t.Cleanup(srv.Close)

	opts.APIKeys = map[string]string{"openai": "test"}
	opts.BaseURLs = map[string]string{"openai": srv.URL + "/v1"}
	g := NewOpenAIGateway(opts, zerolog.Nop())
	g.sleep = func(ctx context.Context, d time.Duration) error {
		events.add(fmt.Sprintf("sleep %v", d))
		return ctx.Err()
	}
	return g, events
}

func TestGatewaySleepsBeforeEveryRequest(t *testing.T) {
	g, events := newTestGateway(t, 0, GatewayOptions{RequestDelay: DefaultRequestDelay})

	for i := 0; i < 2; i++ {
		text, err := g.Generate(context.Background(), "hi", QuestionModel("chatgpt"))
		if err != nil {
			t.Fatal(err)
		}
		if text != "hello" {
			t.Errorf("got %q", text)
		}
	}

	want := []string{"sleep 250ms", "request", "sleep 250ms", "request"}
	if events.String() != fmt.Sprint(want) {
		t.Errorf("events = %v, want %v", events, want)
	}
}

func TestGatewayRetriesRateLimits(t *testing.T) {
	g, events := newTestGateway(t, 1, GatewayOptions{
		RequestDelay:     DefaultRequestDelay,
		TransientRetries: 2,
		TransientBackoff: time.Second,
	})

	if _, err := g.Generate(context.Background(), "hi", QuestionModel("chatgpt")); err != nil {
		t.Fatal(err)
	}
	want := []string{"sleep 250ms", "request", "sleep 1s", "sleep 250ms", "request"}
	if events.String() != fmt.Sprint(want) {
		t.Errorf("events = %v, want %v", events, want)
	}
}

func TestGatewayStopsWhenCancelled(t *testing.T) {
	g, events := newTestGateway(t, 0, GatewayOptions{RequestDelay: DefaultRequestDelay})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := g.Generate(ctx, "hi", QuestionModel("chatgpt")); !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
	if got := events.String(); got != "[sleep 250ms]" {
		t.Errorf("No request should be sent after cancellation, got %v", got)
	}
}

func TestGatewayRejectsUnknownBackend(t *testing.T) {
	g, _ := newTestGateway(t, 0, GatewayOptions{})
	if _, err := g.Generate(context.Background(), "hi", QuestionModel("eliza")); !errors.Is(err, ErrUnknownBackend) {
		t.Errorf("Expected ErrUnknownBackend, got %v", err)
	}
}
