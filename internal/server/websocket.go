package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
)

// maxFrameBytes caps a single inbound WebSocket message.
const maxFrameBytes = 1 << 20

// frameHandler answers one request frame.
type frameHandler func(ctx context.Context, c *peer, f Frame)

func (s *Server) frameHandlers() map[string]frameHandler {
	return map[string]frameHandler{
		MethodProcess: s.wsProcess,
		MethodClear:   s.wsClear,
		MethodHealth:  s.wsHealth,
	}
}

// handleWebSocket upgrades the request and serves frames until the peer
// goes away. Turns run concurrently; responses are matched by frame id.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("websocket upgrade failed")
		return
	}
	client := newPeer(conn, r.RemoteAddr)
	s.clients.add(client)
	go client.keepalive()

	ctx, cancel := context.WithCancel(r.Context())
	var inflight sync.WaitGroup
	defer func() {
		cancel()
		inflight.Wait()
		s.clients.remove(client)
		client.close()
	}()

	for {
		frame, err := client.next()
		if err != nil {
			var bad *badFrame
			if errors.As(err, &bad) {
				_ = client.fail("", CodeInvalidFrame, bad.Error())
				continue
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.log.Debug().Str("conn_id", client.id).Msg("client closed connection")
			} else {
				s.log.Debug().Err(err).Str("conn_id", client.id).Msg("read error")
			}
			return
		}

		if frame.Type != FrameTypeRequest {
			_ = client.fail(frame.ID, CodeInvalidFrame, "expected a request frame")
			continue
		}
		handler, ok := s.wsHandlers[frame.Method]
		if !ok {
			_ = client.fail(frame.ID, CodeMethodNotFound, "unknown method: "+frame.Method)
			continue
		}

		inflight.Add(1)
		go func() {
			defer inflight.Done()
			handler(ctx, client, frame)
		}()
	}
}

func (s *Server) wsProcess(ctx context.Context, c *peer, f Frame) {
	var req ConversationRequest
	if err := decodeParams(f, &req); err != nil {
		_ = c.fail(f.ID, CodeInvalidParams, err.Error())
		return
	}
	if err := validateRequest(req); err != nil {
		_ = c.fail(f.ID, CodeInvalidParams, err.Error())
		return
	}

	in := inputFrom(req)
	s.respond(c, f, toResponse(s.entity.Process(ctx, in)))
}

func (s *Server) wsClear(ctx context.Context, c *peer, f Frame) {
	var p ClearParams
	if err := decodeParams(f, &p); err != nil {
		_ = c.fail(f.ID, CodeInvalidParams, err.Error())
		return
	}

	var err error
	if p.ConversationID == "" {
		err = s.entity.ClearAllHistory(ctx)
	} else {
		err = s.entity.ClearHistory(ctx, p.ConversationID)
	}
	if err != nil {
		s.log.Error().Err(err).Str("conversation_id", p.ConversationID).Msg("clear history failed")
		_ = c.fail(f.ID, CodeInternal, "failed to clear conversation")
		return
	}
	s.respond(c, f, map[string]any{"cleared": true})
}

func (s *Server) wsHealth(ctx context.Context, c *peer, f Frame) {
	n, err := s.entity.ActiveSessions(ctx)
	if err != nil {
		_ = c.fail(f.ID, CodeInternal, "session store unavailable")
		return
	}
	s.respond(c, f, HealthResponse{Status: "ok", EntityName: s.entity.Name(), ActiveSessions: n})
}

func (s *Server) respond(c *peer, f Frame, payload any) {
	if err := c.ok(f.ID, payload); err != nil && !errors.Is(err, errPeerClosed) {
		s.log.Warn().Err(err).Str("method", f.Method).Str("conn_id", c.id).Msg("failed to send response")
	}
}

func decodeParams(f Frame, target any) error {
	if len(f.Params) == 0 {
		return nil
	}
	return json.Unmarshal(f.Params, target)
}
