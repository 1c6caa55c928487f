package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soyeahso/chatterbox/internal/llm"
	"github.com/soyeahso/chatterbox/internal/logging"
	"github.com/soyeahso/chatterbox/internal/tools"
)

func silentLog() *logging.Logger {
	return logging.New(nil, "silent")
}

type dispatchCall struct {
	Name string
	Args map[string]any
}

// recordingDispatcher returns result for every call and records it.
type recordingDispatcher struct {
	mu     sync.Mutex
	calls  []dispatchCall
	result func(name string, args map[string]any) (string, error)
}

func (d *recordingDispatcher) Dispatch(ctx context.Context, name string, args map[string]any) (string, error) {
	d.mu.Lock()
	d.calls = append(d.calls, dispatchCall{Name: name, Args: args})
	d.mu.Unlock()
	if d.result == nil {
		return `{"ok":true}`, nil
	}
	return d.result(name, args)
}

func (d *recordingDispatcher) Calls() []dispatchCall {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]dispatchCall(nil), d.calls...)
}

var weatherDef = llm.ToolDefinition{
	Name:        "get_weather",
	Description: "Get weather",
	Parameters:  map[string]any{"type": "object"},
}

func TestLoopStopMakesOneCall(t *testing.T) {
	provider := &llm.MockProvider{CompleteFunc: llm.Sequence(llm.StopResult("Hello there."))}
	d := &recordingDispatcher{}
	loop := NewLoop(provider, d.Dispatch, silentLog(), LoopOptions{})

	out, err := loop.Run(context.Background(), "Hi", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "Hello there.", out)
	assert.Equal(t, 1, provider.CallCount())
	assert.Empty(t, d.Calls())
}

func TestLoopNilContentIsEmptyString(t *testing.T) {
	provider := &llm.MockProvider{CompleteFunc: llm.Sequence(&llm.CompletionResult{FinishReason: llm.FinishStop})}
	loop := NewLoop(provider, (&recordingDispatcher{}).Dispatch, silentLog(), LoopOptions{})

	out, err := loop.Run(context.Background(), "Hi", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "", out)
}

func TestLoopOneToolRoundThenStop(t *testing.T) {
	provider := &llm.MockProvider{CompleteFunc: llm.Sequence(
		llm.ToolCallsResult(llm.ToolCall{ID: "call_1", Name: "get_weather", Arguments: map[string]any{"location": "Paris"}}),
		llm.StopResult("It is sunny in Paris."),
	)}
	d := &recordingDispatcher{result: func(string, map[string]any) (string, error) {
		return `{"conditions":"Clear sky"}`, nil
	}}
	loop := NewLoop(provider, d.Dispatch, silentLog(), LoopOptions{})

	out, err := loop.Run(context.Background(), "Weather in Paris?", nil, []llm.ToolDefinition{weatherDef})
	require.NoError(t, err)
	assert.Equal(t, "It is sunny in Paris.", out)
	assert.Equal(t, 2, provider.CallCount())

	calls := d.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "get_weather", calls[0].Name)
	assert.Equal(t, map[string]any{"location": "Paris"}, calls[0].Args)

	// Second provider call sees user, assistant tool request, tool result.
	second := provider.Calls()[1].Messages
	require.Len(t, second, 3)
	assert.Equal(t, llm.RoleUser, second[0].Role)
	assert.Equal(t, llm.RoleAssistant, second[1].Role)
	require.Len(t, second[1].ToolCalls, 1)
	assert.Equal(t, "call_1", second[1].ToolCalls[0].ID)
	assert.Equal(t, llm.ToolResultMessage("call_1", `{"conditions":"Clear sky"}`), second[2])
	assert.Equal(t, []llm.ToolDefinition{weatherDef}, provider.Calls()[1].Tools)
}

func TestLoopIterationCap(t *testing.T) {
	for _, limit := range []int{1, 3, 10} {
		provider := &llm.MockProvider{CompleteFunc: llm.Sequence(
			llm.ToolCallsResult(llm.ToolCall{ID: "c", Name: "get_weather", Arguments: map[string]any{}}),
		)}
		loop := NewLoop(provider, (&recordingDispatcher{}).Dispatch, silentLog(), LoopOptions{MaxIterations: limit})

		_, err := loop.Run(context.Background(), "loop forever", nil, nil)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrIterationLimit)
		assert.Equal(t, limit, provider.CallCount())
	}
}

func TestLoopDefaultIterationCap(t *testing.T) {
	loop := NewLoop(&llm.MockProvider{}, nil, silentLog(), LoopOptions{})
	assert.Equal(t, DefaultMaxIterations, loop.MaxIterations())
}

func TestLoopToolFailureIsFedBack(t *testing.T) {
	provider := &llm.MockProvider{CompleteFunc: llm.Sequence(
		llm.ToolCallsResult(llm.ToolCall{ID: "c1", Name: "broken", Arguments: map[string]any{}}),
		llm.StopResult("I could not check that."),
	)}
	d := &recordingDispatcher{result: func(string, map[string]any) (string, error) {
		return "", errors.New("database on fire")
	}}
	loop := NewLoop(provider, d.Dispatch, silentLog(), LoopOptions{})

	out, err := loop.Run(context.Background(), "Do it", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "I could not check that.", out)

	toolMsg := provider.Calls()[1].Messages[2]
	assert.Equal(t, llm.RoleTool, toolMsg.Role)
	assert.Contains(t, toolMsg.Content, "error")
	var payload map[string]string
	require.NoError(t, json.Unmarshal([]byte(toolMsg.Content), &payload))
	assert.Equal(t, "database on fire", payload["error"])
}

func TestLoopToolPanicIsFedBack(t *testing.T) {
	provider := &llm.MockProvider{CompleteFunc: llm.Sequence(
		llm.ToolCallsResult(llm.ToolCall{ID: "c1", Name: "panicky", Arguments: map[string]any{}}),
		llm.StopResult("done"),
	)}
	d := &recordingDispatcher{result: func(string, map[string]any) (string, error) {
		panic("nil map write")
	}}
	loop := NewLoop(provider, d.Dispatch, silentLog(), LoopOptions{})

	out, err := loop.Run(context.Background(), "Do it", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "done", out)
	assert.Contains(t, provider.Calls()[1].Messages[2].Content, "error")
}

func TestLoopDispatchesConcurrentlyAndKeepsOrder(t *testing.T) {
	provider := &llm.MockProvider{CompleteFunc: llm.Sequence(
		llm.ToolCallsResult(
			llm.ToolCall{ID: "slow", Name: "slow", Arguments: map[string]any{}},
			llm.ToolCall{ID: "fast", Name: "fast", Arguments: map[string]any{}},
			llm.ToolCall{ID: "fail", Name: "fail", Arguments: map[string]any{}},
		),
		llm.StopResult("ok"),
	)}

	var inflight, peak atomic.Int32
	d := &recordingDispatcher{result: func(name string, _ map[string]any) (string, error) {
		n := inflight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		defer inflight.Add(-1)
		switch name {
		case "slow":
			time.Sleep(50 * time.Millisecond)
		case "fail":
			time.Sleep(20 * time.Millisecond)
			return "", errors.New("nope")
		}
		time.Sleep(20 * time.Millisecond)
		return `"` + name + `"`, nil
	}}
	loop := NewLoop(provider, d.Dispatch, silentLog(), LoopOptions{})

	_, err := loop.Run(context.Background(), "go", nil, nil)
	require.NoError(t, err)
	assert.Greater(t, peak.Load(), int32(1))

	msgs := provider.Calls()[1].Messages
	require.Len(t, msgs, 5)
	assert.Equal(t, llm.ToolResultMessage("slow", `"slow"`), msgs[2])
	assert.Equal(t, llm.ToolResultMessage("fast", `"fast"`), msgs[3])
	assert.Equal(t, "fail", msgs[4].ToolCallID)
	assert.Contains(t, msgs[4].Content, "nope")
}

func TestLoopUnexpectedFinishReasonReturnsContent(t *testing.T) {
	provider := &llm.MockProvider{CompleteFunc: llm.Sequence(
		&llm.CompletionResult{FinishReason: "length", Content: llm.StringPtr("partial answer")},
	)}
	loop := NewLoop(provider, (&recordingDispatcher{}).Dispatch, silentLog(), LoopOptions{})

	out, err := loop.Run(context.Background(), "Hi", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "partial answer", out)
	assert.Equal(t, 1, provider.CallCount())
}

func TestLoopToolCallsWithoutCallsReturnsContent(t *testing.T) {
	provider := &llm.MockProvider{CompleteFunc: llm.Sequence(
		&llm.CompletionResult{FinishReason: llm.FinishToolCalls, Content: llm.StringPtr("odd")},
	)}
	d := &recordingDispatcher{}
	loop := NewLoop(provider, d.Dispatch, silentLog(), LoopOptions{})

	out, err := loop.Run(context.Background(), "Hi", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "odd", out)
	assert.Empty(t, d.Calls())
}

func TestLoopProviderErrorPropagates(t *testing.T) {
	rl := llm.NewRateLimitError("mock", "slow down", nil)
	provider := &llm.MockProvider{CompleteFunc: func(context.Context, []llm.Message, []llm.ToolDefinition) (*llm.CompletionResult, error) {
		return nil, rl
	}}
	loop := NewLoop(provider, (&recordingDispatcher{}).Dispatch, silentLog(), LoopOptions{})

	_, err := loop.Run(context.Background(), "Hi", nil, nil)
	assert.ErrorIs(t, err, llm.ErrRateLimit)
}

func TestLoopMessageLayoutAndHistoryNotMutated(t *testing.T) {
	provider := &llm.MockProvider{CompleteFunc: llm.Sequence(
		llm.ToolCallsResult(llm.ToolCall{ID: "c", Name: "get_weather", Arguments: map[string]any{}}),
		llm.StopResult("done"),
	)}
	loop := NewLoop(provider, (&recordingDispatcher{}).Dispatch, silentLog(), LoopOptions{SystemPrompt: "be brief"})

	history := make([]llm.Message, 2, 8)
	history[0] = llm.UserMessage("earlier")
	history[1] = llm.AssistantMessage("reply")
	snapshot := append([]llm.Message(nil), history...)

	_, err := loop.Run(context.Background(), "now", history, nil)
	require.NoError(t, err)
	assert.Equal(t, snapshot, history)
	assert.Equal(t, llm.Message{}, history[:3][2])

	first := provider.Calls()[0].Messages
	require.Len(t, first, 4)
	assert.Equal(t, llm.SystemMessage("be brief"), first[0])
	assert.Equal(t, llm.UserMessage("earlier"), first[1])
	assert.Equal(t, llm.AssistantMessage("reply"), first[2])
	assert.Equal(t, llm.UserMessage("now"), first[3])
}

func TestLoopWithRegistryDispatcher(t *testing.T) {
	reg := tools.NewRegistry(silentLog())
	require.NoError(t, reg.Register(weatherDef, func(ctx context.Context, args map[string]any) (string, error) {
		return `{"temperature_f":72}`, nil
	}))

	provider := &llm.MockProvider{CompleteFunc: llm.Sequence(
		llm.ToolCallsResult(
			llm.ToolCall{ID: "a", Name: "get_weather", Arguments: map[string]any{"location": "KC"}},
			llm.ToolCall{ID: "b", Name: "get_stock_price", Arguments: map[string]any{}},
		),
		llm.StopResult("72 and sunny"),
	)}
	loop := NewLoop(provider, reg.BuildDispatcher(tools.DispatcherOptions{Timeout: time.Second}), silentLog(), LoopOptions{})

	out, err := loop.Run(context.Background(), "weather?", nil, reg.Definitions())
	require.NoError(t, err)
	assert.Equal(t, "72 and sunny", out)

	msgs := provider.Calls()[1].Messages
	assert.Equal(t, `{"temperature_f":72}`, msgs[2].Content)
	assert.Contains(t, msgs[3].Content, "Unknown tool: 'get_stock_price'")
}
