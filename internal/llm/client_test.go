package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soyeahso/chatterbox/internal/config"
	"github.com/soyeahso/chatterbox/internal/logging"
)

func silentLog() *logging.Logger {
	return logging.New(nil, "silent")
}

// --- fake OpenAI-compatible server ---

type fakeBackend struct {
	requests []map[string]any
	respond  func(w http.ResponseWriter)
}

func newFakeBackend(t *testing.T, respond func(w http.ResponseWriter)) (*fakeBackend, *httptest.Server) {
	fb := &fakeBackend{respond: respond}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		body, err := io.ReadAll(r.Body)
		assert.NoError(t, err)
		var req map[string]any
		assert.NoError(t, json.Unmarshal(body, &req))
		fb.requests = append(fb.requests, req)
		w.Header().Set("Content-Type", "application/json")
		fb.respond(w)
	}))
	t.Cleanup(srv.Close)
	return fb, srv
}

func writeJSON(w http.ResponseWriter, status int, body string) {
	w.WriteHeader(status)
	_, _ = io.WriteString(w, body)
}

const toolCallResponse = `{
  "id": "chatcmpl-1", "object": "chat.completion", "created": 1, "model": "gpt-4o",
  "choices": [{
    "index": 0, "finish_reason": "tool_calls",
    "message": {"role": "assistant", "content": null, "tool_calls": [
      {"id": "call_1", "type": "function", "function": {"name": "get_weather", "arguments": "{\"location\":\"Kansas City, MO\"}"}},
      {"id": "call_2", "type": "function", "function": {"name": "get_current_datetime", "arguments": "not json"}}
    ]}
  }],
  "usage": {"prompt_tokens": 1000, "completion_tokens": 500, "total_tokens": 1500}
}`

const stopResponse = `{
  "id": "chatcmpl-2", "object": "chat.completion", "created": 1, "model": "llama3.1:8b",
  "choices": [{"index": 0, "finish_reason": "stop", "message": {"role": "assistant", "content": "It's sunny."}}],
  "usage": {"prompt_tokens": 10, "completion_tokens": 3, "total_tokens": 13}
}`

func newTestProvider(t *testing.T, srv *httptest.Server, model string, opts ...OpenAIOption) *OpenAIProvider {
	t.Helper()
	opts = append([]OpenAIOption{WithBaseURL(srv.URL + "/v1"), WithAPIKey("test"), WithLogger(silentLog())}, opts...)
	p, err := NewOpenAIProvider(model, opts...)
	require.NoError(t, err)
	return p
}

// --- OpenAIProvider ---

func TestOpenAIProviderToolCalls(t *testing.T) {
	fb, srv := newFakeBackend(t, func(w http.ResponseWriter) { writeJSON(w, 200, toolCallResponse) })
	p := newTestProvider(t, srv, "gpt-4o")

	tools := []ToolDefinition{{
		Name:        "get_weather",
		Description: "Get the weather",
		Parameters:  map[string]any{"type": "object", "properties": map[string]any{"location": map[string]any{"type": "string"}}},
	}}
	res, err := p.Complete(context.Background(), []Message{UserMessage("weather?")}, tools)
	require.NoError(t, err)

	assert.Equal(t, FinishToolCalls, res.FinishReason)
	assert.Nil(t, res.Content)
	require.Len(t, res.ToolCalls, 2)
	assert.Equal(t, "call_1", res.ToolCalls[0].ID)
	assert.Equal(t, "get_weather", res.ToolCalls[0].Name)
	assert.Equal(t, map[string]any{"location": "Kansas City, MO"}, res.ToolCalls[0].Arguments)
	assert.Equal(t, map[string]any{}, res.ToolCalls[1].Arguments, "malformed arguments degrade to an empty map")

	assert.Equal(t, RoleAssistant, res.RawMessage.Role)
	assert.Len(t, res.RawMessage.ToolCalls, 2)

	require.NotNil(t, res.Usage)
	assert.Equal(t, int64(1500), res.Usage.TotalTokens)
	require.NotNil(t, res.Usage.EstimatedCostUSD)
	assert.InDelta(t, 0.005+0.0075, *res.Usage.EstimatedCostUSD, 1e-9)

	require.Len(t, fb.requests, 1)
	sent := fb.requests[0]
	assert.Equal(t, "gpt-4o", sent["model"])
	assert.InDelta(t, 0.7, sent["temperature"], 1e-9)
	sentTools, ok := sent["tools"].([]any)
	require.True(t, ok)
	require.Len(t, sentTools, 1)
	fn := sentTools[0].(map[string]any)["function"].(map[string]any)
	assert.Equal(t, "get_weather", fn["name"])
}

func TestOpenAIProviderStopOmitsEmptyTools(t *testing.T) {
	fb, srv := newFakeBackend(t, func(w http.ResponseWriter) { writeJSON(w, 200, stopResponse) })
	p := newTestProvider(t, srv, "llama3.1:8b", WithTemperature(0.2))

	res, err := p.Complete(context.Background(), []Message{SystemMessage("be brief"), UserMessage("hi")}, nil)
	require.NoError(t, err)

	assert.Equal(t, FinishStop, res.FinishReason)
	assert.Equal(t, "It's sunny.", res.Text())
	require.NotNil(t, res.Usage)
	assert.Nil(t, res.Usage.EstimatedCostUSD, "local models have no price")

	require.Len(t, fb.requests, 1)
	_, hasTools := fb.requests[0]["tools"]
	assert.False(t, hasTools)
	assert.InDelta(t, 0.2, fb.requests[0]["temperature"], 1e-9)
	msgs := fb.requests[0]["messages"].([]any)
	require.Len(t, msgs, 2)
	assert.Equal(t, "system", msgs[0].(map[string]any)["role"])
}

func TestOpenAIProviderUsageTrackingOff(t *testing.T) {
	_, srv := newFakeBackend(t, func(w http.ResponseWriter) { writeJSON(w, 200, stopResponse) })
	p := newTestProvider(t, srv, "llama3.1:8b", WithUsageTracking(false))

	res, err := p.Complete(context.Background(), []Message{UserMessage("hi")}, nil)
	require.NoError(t, err)
	assert.Nil(t, res.Usage)
}

func TestOpenAIProviderReplaysToolHistory(t *testing.T) {
	fb, srv := newFakeBackend(t, func(w http.ResponseWriter) { writeJSON(w, 200, stopResponse) })
	p := newTestProvider(t, srv, "llama3.1:8b")

	history := []Message{
		UserMessage("weather?"),
		{Role: RoleAssistant, ToolCalls: []ToolCall{{ID: "call_9", Name: "get_weather", Arguments: map[string]any{"location": "Paris"}}}},
		ToolResultMessage("call_9", `{"temperature_c": 20}`),
	}
	_, err := p.Complete(context.Background(), history, nil)
	require.NoError(t, err)

	msgs := fb.requests[0]["messages"].([]any)
	require.Len(t, msgs, 3)
	asst := msgs[1].(map[string]any)
	calls := asst["tool_calls"].([]any)
	require.Len(t, calls, 1)
	call := calls[0].(map[string]any)
	assert.Equal(t, "call_9", call["id"])
	assert.Equal(t, "function", call["type"])
	assert.JSONEq(t, `{"location":"Paris"}`, call["function"].(map[string]any)["arguments"].(string))
	tool := msgs[2].(map[string]any)
	assert.Equal(t, "tool", tool["role"])
	assert.Equal(t, "call_9", tool["tool_call_id"])
}

func TestOpenAIProviderUnknownRole(t *testing.T) {
	_, srv := newFakeBackend(t, func(w http.ResponseWriter) { writeJSON(w, 200, stopResponse) })
	p := newTestProvider(t, srv, "m")

	_, err := p.Complete(context.Background(), []Message{{Role: "narrator", Content: "x"}}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown message role")
}

func TestOpenAIProviderErrorClassification(t *testing.T) {
	tests := []struct {
		name   string
		status int
		check  func(error) bool
	}{
		{"rate limit", 429, IsRateLimit},
		{"server error", 500, IsAPI},
		{"unauthorized", 401, IsAPI},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, srv := newFakeBackend(t, func(w http.ResponseWriter) {
				writeJSON(w, tt.status, `{"error": {"message": "nope", "type": "x"}}`)
			})
			p := newTestProvider(t, srv, "m")

			_, err := p.Complete(context.Background(), []Message{UserMessage("hi")}, nil)
			require.Error(t, err)
			assert.True(t, tt.check(err), "unexpected classification: %v", err)

			e, ok := AsError(err)
			require.True(t, ok)
			assert.Equal(t, tt.status, e.StatusCode)
		})
	}
}

func TestOpenAIProviderConnectionError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	p, err := NewOpenAIProvider("m", WithBaseURL(url+"/v1"), WithLogger(silentLog()), WithTimeout(2*time.Second))
	require.NoError(t, err)

	_, err = p.Complete(context.Background(), []Message{UserMessage("hi")}, nil)
	require.Error(t, err)
	assert.True(t, IsConnection(err))
	assert.False(t, IsAPI(err))
}

func TestOpenAIProviderWaitsForRateLimiter(t *testing.T) {
	_, srv := newFakeBackend(t, func(w http.ResponseWriter) { writeJSON(w, 200, stopResponse) })
	limiter, err := NewRateLimiter(1)
	require.NoError(t, err)
	p := newTestProvider(t, srv, "m", WithRateLimiter(limiter))

	_, err = p.Complete(context.Background(), []Message{UserMessage("hi")}, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = p.Complete(ctx, []Message{UserMessage("hi")}, nil)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestNewOpenAIProviderDefaults(t *testing.T) {
	p, err := NewOpenAIProvider("")
	require.NoError(t, err)
	assert.Equal(t, DefaultModel, p.Model())
	assert.Equal(t, "openai", p.Name())
}

func TestDecodeArguments(t *testing.T) {
	assert.Equal(t, map[string]any{}, decodeArguments(""))
	assert.Equal(t, map[string]any{}, decodeArguments("{"))
	assert.Equal(t, map[string]any{}, decodeArguments("null"))
	assert.Equal(t, map[string]any{}, decodeArguments(`[1,2]`))
	assert.Equal(t, map[string]any{"a": float64(1)}, decodeArguments(`{"a":1}`))
}

// --- errors ---

func TestErrorTaxonomy(t *testing.T) {
	rl := NewRateLimitError("p", "slow down", nil)
	conn := NewConnectionError("p", "down", errors.New("dial tcp: refused"))
	api := NewAPIError("p", 503, "unavailable", nil)

	assert.True(t, IsRateLimit(rl))
	assert.False(t, IsConnection(rl))
	assert.True(t, IsConnection(conn))
	assert.True(t, IsAPI(api))

	wrapped := fmt.Errorf("turn failed: %w", api)
	e, ok := AsError(wrapped)
	require.True(t, ok)
	assert.Equal(t, 503, e.StatusCode)
	assert.Equal(t, KindAPI, e.Kind)

	assert.Contains(t, conn.Error(), "connection")
	assert.ErrorContains(t, errors.Unwrap(conn), "refused")
	assert.Equal(t, "p: api: 503 unavailable", api.Error())
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(NewRateLimitError("p", "", nil)))
	assert.True(t, IsRetryable(NewConnectionError("p", "", nil)))
	assert.True(t, IsRetryable(NewAPIError("p", 502, "", nil)))
	assert.True(t, IsRetryable(NewAPIError("p", 401, "", nil)))
	assert.False(t, IsRetryable(NewAPIError("p", 400, "", nil)))
	assert.False(t, IsRetryable(errors.New("plain")))
	assert.False(t, IsRetryable(nil))
}

// --- cost ---

func TestEstimateCost(t *testing.T) {
	cost := EstimateCost("gpt-4o-mini", 2000, 1000)
	require.NotNil(t, cost)
	assert.InDelta(t, 0.0003+0.0006, *cost, 1e-12)

	cost = EstimateCost("claude-opus-4-6", 1000, 1000)
	require.NotNil(t, cost)
	assert.InDelta(t, 0.09, *cost, 1e-12)

	assert.Nil(t, EstimateCost("llama3.1:8b", 1000, 1000))
}

// --- rate limiter ---

func TestNewRateLimiterRejectsNonPositive(t *testing.T) {
	_, err := NewRateLimiter(0)
	assert.Error(t, err)
	_, err = NewRateLimiter(-3)
	assert.Error(t, err)
}

func TestRateLimiterSlidingWindow(t *testing.T) {
	l, err := NewRateLimiter(2)
	require.NoError(t, err)

	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	var slept []time.Duration
	l.now = func() time.Time { return now }
	l.sleep = func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		now = now.Add(d)
		return nil
	}

	ctx := context.Background()
	require.NoError(t, l.Acquire(ctx))
	now = now.Add(10 * time.Second)
	require.NoError(t, l.Acquire(ctx))
	assert.Empty(t, slept)
	assert.Equal(t, 2, l.InWindow())

	// Third call waits until the first one leaves the window.
	require.NoError(t, l.Acquire(ctx))
	require.Len(t, slept, 1)
	assert.Equal(t, 50*time.Second, slept[0])
	assert.Equal(t, 2, l.InWindow())
}

func TestRateLimiterCancelledWhileWaiting(t *testing.T) {
	l, err := NewRateLimiter(1)
	require.NoError(t, err)
	require.NoError(t, l.Acquire(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	start := time.Now()
	err = l.Acquire(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.Equal(t, 1, l.InWindow())
}

// --- breaker ---

func TestBreakerOpensAfterFailures(t *testing.T) {
	var calls atomic.Int32
	inner := &MockProvider{
		ProviderName: "flaky",
		CompleteFunc: func(context.Context, []Message, []ToolDefinition) (*CompletionResult, error) {
			calls.Add(1)
			return nil, NewConnectionError("flaky", "down", nil)
		},
	}
	bp := NewBreakerProvider(inner, BreakerConfig{FailureThreshold: 2, OpenTimeout: time.Minute}, silentLog())

	for i := 0; i < 2; i++ {
		_, err := bp.Complete(context.Background(), nil, nil)
		require.Error(t, err)
	}
	assert.Equal(t, gobreaker.StateOpen, bp.State())

	_, err := bp.Complete(context.Background(), nil, nil)
	require.Error(t, err)
	assert.True(t, IsConnection(err))
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Equal(t, int32(2), calls.Load(), "open circuit must not reach the backend")
	assert.Equal(t, "flaky", bp.Name())
}

func TestBreakerIgnoresClientErrors(t *testing.T) {
	inner := &MockProvider{
		CompleteFunc: func(context.Context, []Message, []ToolDefinition) (*CompletionResult, error) {
			return nil, NewAPIError("m", 400, "bad request", nil)
		},
	}
	bp := NewBreakerProvider(inner, BreakerConfig{FailureThreshold: 1}, silentLog())

	for i := 0; i < 3; i++ {
		_, err := bp.Complete(context.Background(), nil, nil)
		require.Error(t, err)
		assert.True(t, IsAPI(err))
	}
	assert.Equal(t, gobreaker.StateClosed, bp.State())
}

// --- failover ---

func TestFailoverFallsBackOnRetryable(t *testing.T) {
	primary := &MockProvider{
		ProviderName: "primary",
		CompleteFunc: func(context.Context, []Message, []ToolDefinition) (*CompletionResult, error) {
			return nil, NewRateLimitError("primary", "slow down", nil)
		},
	}
	secondary := &MockProvider{ProviderName: "secondary"}

	f := NewFailoverProvider(silentLog(), primary, secondary)
	res, err := f.Complete(context.Background(), []Message{UserMessage("hi")}, nil)
	require.NoError(t, err)
	assert.Equal(t, "mock response", res.Text())
	assert.Equal(t, 1, primary.CallCount())
	assert.Equal(t, 1, secondary.CallCount())
	assert.Equal(t, "primary,secondary", f.Name())
}

func TestFailoverStopsOnNonRetryable(t *testing.T) {
	primary := &MockProvider{
		CompleteFunc: func(context.Context, []Message, []ToolDefinition) (*CompletionResult, error) {
			return nil, NewAPIError("primary", 400, "bad", nil)
		},
	}
	secondary := &MockProvider{}

	f := NewFailoverProvider(silentLog(), primary, secondary)
	_, err := f.Complete(context.Background(), nil, nil)
	require.Error(t, err)
	assert.True(t, IsAPI(err))
	assert.Equal(t, 0, secondary.CallCount())
}

func TestFailoverReturnsLastError(t *testing.T) {
	fail := func(context.Context, []Message, []ToolDefinition) (*CompletionResult, error) {
		return nil, NewConnectionError("x", "down", nil)
	}
	f := NewFailoverProvider(silentLog(), &MockProvider{CompleteFunc: fail}, &MockProvider{CompleteFunc: fail})
	_, err := f.Complete(context.Background(), nil, nil)
	assert.True(t, IsConnection(err))
}

// --- registry ---

func TestNewFromConfig(t *testing.T) {
	cfg := config.Defaults().LLM
	p, err := NewFromConfig(cfg, silentLog())
	require.NoError(t, err)
	_, ok := p.(*OpenAIProvider)
	assert.True(t, ok)

	cfg.CircuitBreaker.Enabled = true
	p, err = NewFromConfig(cfg, silentLog())
	require.NoError(t, err)
	_, ok = p.(*BreakerProvider)
	assert.True(t, ok)

	cfg.RateLimitPerMinute = 10
	cfg.Fallbacks = []config.FallbackEntry{{BaseURL: "http://localhost:1/v1", Model: "backup"}}
	p, err = NewFromConfig(cfg, silentLog())
	require.NoError(t, err)
	fo, ok := p.(*FailoverProvider)
	require.True(t, ok)
	assert.Contains(t, fo.Name(), "fallback-1:backup")
}

// --- mock ---

func TestMockSequence(t *testing.T) {
	m := &MockProvider{CompleteFunc: Sequence(
		ToolCallsResult(ToolCall{ID: "1", Name: "t", Arguments: map[string]any{}}),
		StopResult("done"),
	)}

	r1, _ := m.Complete(context.Background(), nil, nil)
	r2, _ := m.Complete(context.Background(), nil, nil)
	r3, _ := m.Complete(context.Background(), nil, nil)
	assert.Equal(t, FinishToolCalls, r1.FinishReason)
	assert.Equal(t, "done", r2.Text())
	assert.Equal(t, "done", r3.Text())
	assert.Equal(t, 3, m.CallCount())
}
