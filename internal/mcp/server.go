// Package mcp exposes the chatterbox tool registry as a Model Context
// Protocol server, so other agents can call get_weather and
// get_current_datetime through the same dispatcher and cache the
// conversation loop uses.
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"io"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/soyeahso/chatterbox/internal/llm"
	"github.com/soyeahso/chatterbox/internal/logging"
	"github.com/soyeahso/chatterbox/internal/tools"
)

// Server wraps an MCP server whose tools route through a tools.Dispatcher.
type Server struct {
	sdk      *mcpsdk.Server
	dispatch tools.Dispatcher
	names    []string
	log      *logging.Logger
}

// New creates a server named name advertising defs.
func New(name, version string, defs []llm.ToolDefinition, dispatch tools.Dispatcher, log *logging.Logger) *Server {
	s := &Server{
		sdk:      mcpsdk.NewServer(&mcpsdk.Implementation{Name: name, Version: version}, nil),
		dispatch: dispatch,
		log:      log.Sub("mcp"),
	}
	for _, d := range defs {
		schema := d.Parameters
		if schema == nil {
			schema = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		s.sdk.AddTool(&mcpsdk.Tool{
			Name:        d.Name,
			Description: d.Description,
			InputSchema: schema,
		}, s.handler(d.Name))
		s.names = append(s.names, d.Name)
	}
	return s
}

// Tools returns the advertised tool names.
func (s *Server) Tools() []string { return s.names }

// Connect attaches the server to t and returns the session.
func (s *Server) Connect(ctx context.Context, t mcpsdk.Transport) (*mcpsdk.ServerSession, error) {
	return s.sdk.Connect(ctx, t, nil)
}

// Serve runs one session over newline-delimited JSON on in and out until
// the input closes or ctx is cancelled.
func (s *Server) Serve(ctx context.Context, in io.Reader, out io.Writer) error {
	s.log.Info().Strs("tools", s.names).Msg("mcp server listening on stdio")
	err := s.sdk.Run(ctx, &mcpsdk.IOTransport{
		Reader: io.NopCloser(in),
		Writer: nopWriteCloser{out},
	})
	switch {
	case err == nil, errors.Is(err, context.Canceled), errors.Is(err, io.EOF):
		s.log.Info().Msg("mcp session ended")
		return nil
	default:
		return err
	}
}

func (s *Server) handler(name string) mcpsdk.ToolHandler {
	return func(ctx context.Context, req *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
		var args map[string]any
		if raw := req.Params.Arguments; len(raw) > 0 {
			if err := json.Unmarshal(raw, &args); err != nil {
				return textResult(tools.ErrorPayload("arguments must be a JSON object"), true), nil
			}
		}

		result, err := s.dispatch(ctx, name, args)
		if err != nil {
			s.log.Warn().Err(err).Str("tool", name).Msg("tool call failed")
			msg := err.Error()
			if tools.IsTimeout(err) {
				msg = "tool timed out"
			}
			return textResult(tools.ErrorPayload(msg), true), nil
		}
		return textResult(result, isErrorPayload(result)), nil
	}
}

func textResult(text string, isErr bool) *mcpsdk.CallToolResult {
	return &mcpsdk.CallToolResult{
		Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: text}},
		IsError: isErr,
	}
}

// isErrorPayload reports whether result is exactly {"error": ...}. A
// result that carries data next to an "error" warning, such as a datetime
// answer for an unknown zone, is still a usable result.
func isErrorPayload(result string) bool {
	var obj map[string]json.RawMessage
	if json.Unmarshal([]byte(result), &obj) != nil || len(obj) != 1 {
		return false
	}
	_, ok := obj["error"]
	return ok
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }
