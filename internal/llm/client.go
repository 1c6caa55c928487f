// Package llm defines the chat-completion provider interface used by the
// agentic loop, together with the typed error taxonomy, usage accounting,
// client-side rate limiting and the OpenAI-compatible backend.
//
// Any backend that speaks the OpenAI chat-completions protocol (OpenAI,
// Ollama, vLLM, LM Studio, llama.cpp server) can be used through
// OpenAIProvider. Providers compose: a FailoverProvider tries several
// backends in order and a BreakerProvider guards one backend with a circuit
// breaker.
package llm

import (
	"context"
)

// Role constants for messages.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Finish reasons reported in CompletionResult.
const (
	FinishStop      = "stop"
	FinishToolCalls = "tool_calls"
)

// Message is a single entry in the conversation sent to the provider.
// Assistant messages may carry tool calls; tool messages carry the id of the
// call they answer.
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

// SystemMessage builds a system message.
func SystemMessage(content string) Message { return Message{Role: RoleSystem, Content: content} }

// UserMessage builds a user message.
func UserMessage(content string) Message { return Message{Role: RoleUser, Content: content} }

// AssistantMessage builds a plain assistant reply.
func AssistantMessage(content string) Message {
	return Message{Role: RoleAssistant, Content: content}
}

// ToolResultMessage builds the reply to a tool call. The id must be the
// provider's tool call id, echoed verbatim.
func ToolResultMessage(toolCallID, content string) Message {
	return Message{Role: RoleTool, Content: content, ToolCallID: toolCallID}
}

// ToolDefinition describes a tool the LLM can invoke. Parameters is an
// opaque JSON Schema document passed through to the wire format.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// ToolCall is an LLM request to invoke a tool.
type ToolCall struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// Usage tracks token consumption for one completion.
type Usage struct {
	PromptTokens     int64    `json:"prompt_tokens"`
	CompletionTokens int64    `json:"completion_tokens"`
	TotalTokens      int64    `json:"total_tokens"`
	EstimatedCostUSD *float64 `json:"estimated_cost_usd,omitempty"` // nil when the model has no known price
}

// CompletionResult is the outcome of one provider round-trip.
type CompletionResult struct {
	FinishReason string     `json:"finish_reason"`
	Content      *string    `json:"content,omitempty"`
	ToolCalls    []ToolCall `json:"tool_calls,omitempty"`

	// RawMessage is the assistant message as it must be replayed into the
	// conversation on the next call.
	RawMessage Message `json:"raw_message"`
	Usage      *Usage  `json:"usage,omitempty"`
	Model      string  `json:"model,omitempty"`
}

// Text returns the content or the empty string when there is none.
func (r *CompletionResult) Text() string {
	if r == nil || r.Content == nil {
		return ""
	}
	return *r.Content
}

// Provider is the interface all chat-completion backends implement.
type Provider interface {
	// Complete sends the conversation and the available tools and returns
	// the model's next step. An empty tools slice disables function calling
	// for the call.
	Complete(ctx context.Context, messages []Message, tools []ToolDefinition) (*CompletionResult, error)

	// Name identifies the backend in logs and errors.
	Name() string
}

// StringPtr returns a pointer to s.
func StringPtr(s string) *string { return &s }
