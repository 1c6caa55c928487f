// Package tools holds the tool registry, the dispatcher built from it and
// the TTL result cache that can sit in front of a dispatcher.
//
// A tool is a name, a description and a JSON Schema for its arguments
// (an llm.ToolDefinition) plus a Handler. Handlers should report expected
// failures such as "location not found" as a JSON error payload in their
// result; unexpected errors returned from a handler are turned into the
// same kind of payload by the agentic loop.
package tools

import (
	"context"
	"encoding/json"

	"github.com/soyeahso/chatterbox/internal/llm"
)

// Handler executes a tool with parsed arguments and returns a JSON string.
type Handler func(ctx context.Context, args map[string]any) (string, error)

// Dispatcher routes a call to the named tool.
type Dispatcher func(ctx context.Context, name string, args map[string]any) (string, error)

// Tool is implemented by packaged tools such as weather and datetime.
type Tool interface {
	// Definition returns the LLM-facing descriptor.
	Definition() llm.ToolDefinition

	// Execute runs the tool.
	Execute(ctx context.Context, args map[string]any) (string, error)
}

// ErrorPayload encodes msg as {"error": msg}.
func ErrorPayload(msg string) string {
	b, err := json.Marshal(map[string]string{"error": msg})
	if err != nil {
		return `{"error":"unencodable error"}`
	}
	return string(b)
}

// JSONResult encodes v as a tool result, falling back to an error payload.
func JSONResult(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return ErrorPayload("failed to encode result: " + err.Error())
	}
	return string(b)
}
