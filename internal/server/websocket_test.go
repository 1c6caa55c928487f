package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soyeahso/chatterbox/internal/config"
)

func dialWS(t *testing.T, s *Server, header http.Header) *websocket.Conn {
	t.Helper()
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	resp.Body.Close()
	t.Cleanup(func() { conn.Close() })
	return conn
}

func roundTrip(t *testing.T, conn *websocket.Conn, frame Frame) Frame {
	t.Helper()
	require.NoError(t, conn.WriteJSON(frame))
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var resp Frame
	require.NoError(t, conn.ReadJSON(&resp))
	return resp
}

func request(t *testing.T, id, method string, params any) Frame {
	t.Helper()
	f, err := NewRequest(id, method, params)
	require.NoError(t, err)
	return f
}

func TestWebSocketProcessAndClear(t *testing.T) {
	entity := newEntity(echoProvider(), true)
	s := newTestServer(t, defaultServerConfig(), entity)
	conn := dialWS(t, s, nil)

	resp := roundTrip(t, conn, request(t, "1", MethodProcess, map[string]any{
		"text":            "hello",
		"conversation_id": "ws-1",
	}))
	assert.Equal(t, FrameTypeResponse, resp.Type)
	assert.Equal(t, "1", resp.ID)
	require.NotNil(t, resp.OK)
	assert.True(t, *resp.OK)

	var out ConversationResponse
	require.NoError(t, json.Unmarshal(resp.Payload, &out))
	assert.Equal(t, "echo: hello", out.ResponseText)
	require.NotNil(t, out.ConversationID)
	assert.Equal(t, "ws-1", *out.ConversationID)

	resp = roundTrip(t, conn, request(t, "2", MethodHealth, nil))
	var h HealthResponse
	require.NoError(t, json.Unmarshal(resp.Payload, &h))
	assert.Equal(t, 1, h.ActiveSessions)

	resp = roundTrip(t, conn, request(t, "3", MethodClear, ClearParams{ConversationID: "ws-1"}))
	assert.True(t, *resp.OK)
	assert.JSONEq(t, `{"cleared":true}`, string(resp.Payload))

	resp = roundTrip(t, conn, request(t, "4", MethodHealth, nil))
	require.NoError(t, json.Unmarshal(resp.Payload, &h))
	assert.Zero(t, h.ActiveSessions)
}

func TestWebSocketErrors(t *testing.T) {
	s := newTestServer(t, defaultServerConfig(), newEntity(echoProvider(), true))
	conn := dialWS(t, s, nil)

	resp := roundTrip(t, conn, request(t, "a", "conversation.nope", nil))
	require.NotNil(t, resp.OK)
	assert.False(t, *resp.OK)
	assert.Equal(t, CodeMethodNotFound, resp.Error.Code)

	resp = roundTrip(t, conn, request(t, "b", MethodProcess, map[string]any{"language": "en"}))
	assert.Equal(t, "b", resp.ID)
	assert.Equal(t, CodeInvalidParams, resp.Error.Code)

	resp = roundTrip(t, conn, Frame{Type: FrameTypeResponse, ID: "c"})
	assert.Equal(t, CodeInvalidFrame, resp.Error.Code)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("not json")))
	var bad Frame
	require.NoError(t, conn.ReadJSON(&bad))
	assert.Equal(t, CodeInvalidFrame, bad.Error.Code)

	// the connection survives bad frames
	resp = roundTrip(t, conn, request(t, "d", MethodProcess, map[string]any{"text": "still here"}))
	assert.True(t, *resp.OK)
}

func TestWebSocketRequiresAuth(t *testing.T) {
	cfg := defaultServerConfig()
	cfg.Auth = config.ServerAuth{Mode: AuthModeToken, Token: "tok"}
	s := newTestServer(t, cfg, newEntity(echoProvider(), true))
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"

	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	conn := dialWS(t, s, http.Header{"Authorization": {"Bearer tok"}})
	resp2 := roundTrip(t, conn, request(t, "1", MethodHealth, nil))
	assert.True(t, *resp2.OK)
}

func TestWebSocketDisabled(t *testing.T) {
	cfg := defaultServerConfig()
	cfg.WebSocket = false
	s := newTestServer(t, cfg, newEntity(echoProvider(), true))

	rec := do(t, s, http.MethodGet, "/ws", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestWebSocketTracksPeers(t *testing.T) {
	s := newTestServer(t, defaultServerConfig(), newEntity(echoProvider(), true))
	conn := dialWS(t, s, nil)

	resp := roundTrip(t, conn, request(t, "1", MethodHealth, nil))
	assert.True(t, *resp.OK)
	assert.Equal(t, 1, s.Clients())

	require.NoError(t, conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))
	assert.Eventually(t, func() bool { return s.Clients() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestPeerKeepaliveStopsOnClose(t *testing.T) {
	p := &peer{id: "p", done: make(chan struct{}), closed: true}
	close(p.done)

	finished := make(chan struct{})
	go func() {
		p.keepalive()
		close(finished)
	}()
	select {
	case <-finished:
	case <-time.After(time.Second):
		t.Fatal("keepalive did not stop")
	}
	assert.ErrorIs(t, p.send(Frame{}), errPeerClosed)
}
