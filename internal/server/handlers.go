package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/soyeahso/chatterbox/internal/conversation"
)

// maxBodyBytes caps POST /conversation bodies.
const maxBodyBytes = 1 << 20

// errMissingText rejects bodies without a text field. An empty string is
// a valid (if silent) utterance.
var errMissingText = errors.New("text is required and must be a string")

// registerRoutes sets up all HTTP routes on the mux.
func (s *Server) registerRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /conversation", s.handleProcess)
	mux.HandleFunc("DELETE /conversation/{id}", s.handleClear)
	mux.HandleFunc("DELETE /conversation", s.handleClearAll)
	mux.HandleFunc("GET /health", s.handleHealth)
	if s.cfg.WebSocket {
		mux.HandleFunc("GET /ws", s.handleWebSocket)
	}
	if s.cfg.Metrics && s.metricsHandler != nil {
		mux.Handle("GET /metrics", s.metricsHandler)
	}

	mux.HandleFunc("/", handleNotFound)
}

func (s *Server) handleProcess(w http.ResponseWriter, r *http.Request) {
	var req ConversationRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(&req); err != nil {
		writeDetail(w, http.StatusUnprocessableEntity, fmt.Sprintf("invalid request body: %v", err))
		return
	}
	if err := validateRequest(req); err != nil {
		writeDetail(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, s.process(r, req))
}

func validateRequest(req ConversationRequest) error {
	if req.Text == nil {
		return errMissingText
	}
	return nil
}

// process runs one turn and maps the result to the wire shape.
func (s *Server) process(r *http.Request, req ConversationRequest) ConversationResponse {
	in := inputFrom(req)
	s.log.Debug().
		Str("request_id", RequestID(r.Context())).
		Str("conversation_id", in.ConversationID).
		Int("text_len", len(in.Text)).
		Msg("conversation request")

	return toResponse(s.entity.Process(r.Context(), in))
}

func inputFrom(req ConversationRequest) conversation.Input {
	in := conversation.Input{Text: *req.Text, Language: req.Language}
	if req.ConversationID != nil {
		in.ConversationID = *req.ConversationID
	}
	return in
}

func toResponse(res conversation.Result) ConversationResponse {
	out := ConversationResponse{ResponseText: res.ResponseText, Extra: res.Extra}
	if res.ConversationID != "" {
		id := res.ConversationID
		out.ConversationID = &id
	}
	if out.Extra == nil {
		out.Extra = map[string]any{}
	}
	return out
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.entity.ClearHistory(r.Context(), id); err != nil {
		s.log.Error().Err(err).Str("conversation_id", id).Msg("clear history failed")
		writeDetail(w, http.StatusInternalServerError, "failed to clear conversation")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleClearAll(w http.ResponseWriter, r *http.Request) {
	if err := s.entity.ClearAllHistory(r.Context()); err != nil {
		s.log.Error().Err(err).Msg("clear all history failed")
		writeDetail(w, http.StatusInternalServerError, "failed to clear conversations")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	n, err := s.entity.ActiveSessions(r.Context())
	if err != nil {
		s.log.Error().Err(err).Msg("counting sessions failed")
		writeDetail(w, http.StatusInternalServerError, "session store unavailable")
		return
	}
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:         "ok",
		EntityName:     s.entity.Name(),
		ActiveSessions: n,
	})
}

// handleNotFound returns a 404 for unknown routes.
func handleNotFound(w http.ResponseWriter, r *http.Request) {
	writeDetail(w, http.StatusNotFound, "not found: "+r.URL.Path)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeDetail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}
