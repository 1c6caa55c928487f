package llm

import (
	"context"
	"sync"
)

// MockProvider is a test double for Provider. It records every call.
type MockProvider struct {
	ProviderName string
	CompleteFunc func(ctx context.Context, messages []Message, tools []ToolDefinition) (*CompletionResult, error)

	mu    sync.Mutex
	calls []MockCall
}

// MockCall is one recorded Complete invocation.
type MockCall struct {
	Messages []Message
	Tools    []ToolDefinition
}

// Name implements Provider.
func (m *MockProvider) Name() string {
	if m.ProviderName == "" {
		return "mock"
	}
	return m.ProviderName
}

// Complete implements Provider.
func (m *MockProvider) Complete(ctx context.Context, messages []Message, tools []ToolDefinition) (*CompletionResult, error) {
	m.mu.Lock()
	m.calls = append(m.calls, MockCall{
		Messages: append([]Message(nil), messages...),
		Tools:    append([]ToolDefinition(nil), tools...),
	})
	m.mu.Unlock()

	if m.CompleteFunc != nil {
		return m.CompleteFunc(ctx, messages, tools)
	}
	return StopResult("mock response"), nil
}

// Calls returns a copy of the recorded calls.
func (m *MockProvider) Calls() []MockCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]MockCall(nil), m.calls...)
}

// CallCount returns the number of Complete calls so far.
func (m *MockProvider) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

// StopResult builds a final-answer result.
func StopResult(content string) *CompletionResult {
	return &CompletionResult{
		FinishReason: FinishStop,
		Content:      StringPtr(content),
		RawMessage:   AssistantMessage(content),
	}
}

// ToolCallsResult builds a result requesting the given tool calls.
func ToolCallsResult(calls ...ToolCall) *CompletionResult {
	return &CompletionResult{
		FinishReason: FinishToolCalls,
		ToolCalls:    calls,
		RawMessage:   Message{Role: RoleAssistant, ToolCalls: calls},
	}
}

// Sequence returns a CompleteFunc that replays results in order and then
// keeps returning the last one.
func Sequence(results ...*CompletionResult) func(context.Context, []Message, []ToolDefinition) (*CompletionResult, error) {
	var mu sync.Mutex
	i := 0
	return func(context.Context, []Message, []ToolDefinition) (*CompletionResult, error) {
		mu.Lock()
		defer mu.Unlock()
		r := results[i]
		if i < len(results)-1 {
			i++
		}
		return r, nil
	}
}
