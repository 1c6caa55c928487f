package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"testing"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soyeahso/chatterbox/internal/llm"
	"github.com/soyeahso/chatterbox/internal/logging"
	"github.com/soyeahso/chatterbox/internal/tools"
)

func testServer(dispatch tools.Dispatcher) *Server {
	defs := []llm.ToolDefinition{
		{
			Name:        "echo",
			Description: "Echo the input",
			Parameters: map[string]any{
				"type":       "object",
				"properties": map[string]any{"text": map[string]any{"type": "string"}},
			},
		},
		{Name: "slow", Description: "Always times out"},
		{Name: "broken", Description: "Reports a failure payload"},
	}
	return New("chatterbox", "test", defs, dispatch, logging.New(nil, "silent"))
}

func echoDispatch(_ context.Context, name string, args map[string]any) (string, error) {
	switch name {
	case "echo":
		return tools.JSONResult(map[string]any{"text": args["text"]}), nil
	case "slow":
		return "", fmt.Errorf("slow: %w", tools.ErrToolTimeout)
	}
	return tools.ErrorPayload("backend unavailable"), nil
}

// connect returns a client session talking to s in memory.
func connect(t *testing.T, s *Server) *mcpsdk.ClientSession {
	t.Helper()
	ctx := context.Background()
	st, ct := mcpsdk.NewInMemoryTransports()
	ss, err := s.Connect(ctx, st)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ss.Close() })

	client := mcpsdk.NewClient(&mcpsdk.Implementation{Name: "test-client", Version: "1"}, nil)
	cs, err := client.Connect(ctx, ct, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = cs.Close() })
	return cs
}

func text(t *testing.T, res *mcpsdk.CallToolResult) string {
	t.Helper()
	require.Len(t, res.Content, 1)
	tc, ok := res.Content[0].(*mcpsdk.TextContent)
	require.True(t, ok)
	return tc.Text
}

func TestListTools(t *testing.T) {
	cs := connect(t, testServer(echoDispatch))
	res, err := cs.ListTools(context.Background(), nil)
	require.NoError(t, err)

	names := make([]string, 0, len(res.Tools))
	for _, tl := range res.Tools {
		names = append(names, tl.Name)
	}
	assert.ElementsMatch(t, []string{"echo", "slow", "broken"}, names)
}

func TestCallTool(t *testing.T) {
	cs := connect(t, testServer(echoDispatch))
	ctx := context.Background()

	res, err := cs.CallTool(ctx, &mcpsdk.CallToolParams{Name: "echo", Arguments: map[string]any{"text": "hi"}})
	require.NoError(t, err)
	assert.False(t, res.IsError)
	assert.JSONEq(t, `{"text":"hi"}`, text(t, res))

	res, err = cs.CallTool(ctx, &mcpsdk.CallToolParams{Name: "slow"})
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.JSONEq(t, `{"error":"tool timed out"}`, text(t, res))

	res, err = cs.CallTool(ctx, &mcpsdk.CallToolParams{Name: "broken"})
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Contains(t, text(t, res), "backend unavailable")

	_, err = cs.CallTool(ctx, &mcpsdk.CallToolParams{Name: "nope"})
	assert.Error(t, err)
}

func TestServeOverStreams(t *testing.T) {
	inR, inW := io.Pipe()
	outR, outW := io.Pipe()

	done := make(chan error, 1)
	go func() {
		done <- testServer(echoDispatch).Serve(context.Background(), inR, outW)
		_ = outW.Close()
	}()

	send := func(line string) {
		_, err := io.WriteString(inW, line+"\n")
		require.NoError(t, err)
	}
	sc := bufio.NewScanner(outR)
	next := func() map[string]any {
		require.True(t, sc.Scan())
		var m map[string]any
		require.NoError(t, json.Unmarshal(sc.Bytes(), &m), sc.Text())
		return m
	}

	send(`{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2025-06-18","capabilities":{},"clientInfo":{"name":"cli","version":"1"}}}`)
	hello := next()
	assert.EqualValues(t, 1, hello["id"])
	info := hello["result"].(map[string]any)["serverInfo"].(map[string]any)
	assert.Equal(t, "chatterbox", info["name"])

	send(`{"jsonrpc":"2.0","method":"notifications/initialized","params":{}}`)
	send(`{"jsonrpc":"2.0","id":2,"method":"tools/call","params":{"name":"echo","arguments":{"text":"hey"}}}`)
	call := next()
	assert.EqualValues(t, 2, call["id"])
	assert.Contains(t, fmt.Sprint(call["result"]), "hey")

	require.NoError(t, inW.Close())
	assert.NoError(t, <-done)
}

func TestIsErrorPayload(t *testing.T) {
	assert.True(t, isErrorPayload(`{"error":"x"}`))
	assert.False(t, isErrorPayload(`{"temperature_c":3}`))
	assert.False(t, isErrorPayload(`[1,2]`))
	assert.False(t, isErrorPayload(`plain`))
	assert.False(t, isErrorPayload(`{"datetime_iso":"2026-10-18T12:00:00Z","timezone":"UTC","day_of_week":"Sunday","error":"Unknown timezone 'Mars/Base'; showing UTC instead."}`))
}
