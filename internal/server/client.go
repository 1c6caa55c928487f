package server

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/soyeahso/chatterbox/internal/logging"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

var errPeerClosed = errors.New("websocket peer closed")

// peer is one WebSocket connection. Turns answer out of order, so writes
// are serialized here rather than by the read loop.
type peer struct {
	id     string
	remote string
	ws     *websocket.Conn
	done   chan struct{}

	wmu    sync.Mutex
	closed bool
}

func newPeer(ws *websocket.Conn, remote string) *peer {
	p := &peer{
		id:     uuid.NewString(),
		remote: remote,
		ws:     ws,
		done:   make(chan struct{}),
	}
	ws.SetReadLimit(maxFrameBytes)
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})
	return p
}

func (p *peer) write(kind int, fn func() error) error {
	p.wmu.Lock()
	defer p.wmu.Unlock()
	if p.closed {
		return errPeerClosed
	}
	_ = p.ws.SetWriteDeadline(time.Now().Add(writeWait))
	if fn != nil {
		return fn()
	}
	return p.ws.WriteMessage(kind, nil)
}

func (p *peer) send(f Frame) error {
	return p.write(websocket.TextMessage, func() error { return p.ws.WriteJSON(f) })
}

func (p *peer) ok(reqID string, payload any) error {
	f, err := NewResponse(reqID, payload)
	if err != nil {
		return err
	}
	return p.send(f)
}

func (p *peer) fail(reqID, code, message string) error {
	return p.send(NewErrorResponse(reqID, ErrorShape{Code: code, Message: message}))
}

// keepalive pings until the peer closes; a missed pong trips the read
// deadline and ends the read loop.
func (p *peer) keepalive() {
	t := time.NewTicker(pingPeriod)
	defer t.Stop()
	for {
		select {
		case <-p.done:
			return
		case <-t.C:
			if err := p.write(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// next reads one frame. A message that arrives intact but does not
// decode is a *badFrame, and the connection stays usable.
func (p *peer) next() (Frame, error) {
	_, msg, err := p.ws.ReadMessage()
	if err != nil {
		return Frame{}, err
	}
	var f Frame
	if err := json.Unmarshal(msg, &f); err != nil {
		return Frame{}, &badFrame{err}
	}
	return f, nil
}

type badFrame struct{ err error }

func (e *badFrame) Error() string { return "decode frame: " + e.err.Error() }
func (e *badFrame) Unwrap() error { return e.err }

func (p *peer) close() {
	p.wmu.Lock()
	defer p.wmu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	close(p.done)
	_ = p.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseGoingAway, ""), time.Now().Add(time.Second))
	_ = p.ws.Close()
}

// peers tracks open connections so shutdown can close them.
type peers struct {
	mu  sync.Mutex
	set map[string]*peer
	log *logging.Logger
}

func newPeers(log *logging.Logger) *peers {
	return &peers{set: make(map[string]*peer), log: log}
}

func (ps *peers) add(p *peer) {
	ps.mu.Lock()
	ps.set[p.id] = p
	n := len(ps.set)
	ps.mu.Unlock()
	ps.log.Info().Str("conn_id", p.id).Str("remote", p.remote).Int("open", n).Msg("websocket connected")
}

func (ps *peers) remove(p *peer) {
	ps.mu.Lock()
	delete(ps.set, p.id)
	ps.mu.Unlock()
	ps.log.Info().Str("conn_id", p.id).Msg("websocket disconnected")
}

func (ps *peers) count() int {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	return len(ps.set)
}

func (ps *peers) closeAll() {
	ps.mu.Lock()
	open := make([]*peer, 0, len(ps.set))
	for id, p := range ps.set {
		open = append(open, p)
		delete(ps.set, id)
	}
	ps.mu.Unlock()
	for _, p := range open {
		p.close()
	}
}
