package server

import "encoding/json"

// Frame types for the WebSocket protocol.
const (
	FrameTypeRequest  = "req"
	FrameTypeResponse = "res"
)

// WebSocket methods.
const (
	MethodProcess = "conversation.process"
	MethodClear   = "conversation.clear"
	MethodHealth  = "health"
)

// Frame is the envelope for every WebSocket message. Type discriminates
// between request and response frames.
type Frame struct {
	Type string `json:"type"`
	ID   string `json:"id,omitempty"`

	// Request fields
	Method string          `json:"method,omitempty"`
	Params json.RawMessage `json:"params,omitempty"`

	// Response fields
	OK      *bool           `json:"ok,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   *ErrorShape     `json:"error,omitempty"`
}

// ErrorShape is the error format in response frames.
type ErrorShape struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes carried in ErrorShape.Code.
const (
	CodeInvalidFrame   = "invalid_frame"
	CodeInvalidParams  = "invalid_params"
	CodeMethodNotFound = "method_not_found"
	CodeInternal       = "internal_error"
)

// ConversationRequest is the body of POST /conversation and the params of
// conversation.process.
type ConversationRequest struct {
	Text           *string `json:"text"` // nil when absent or null
	ConversationID *string `json:"conversation_id,omitempty"`
	Language       string  `json:"language,omitempty"`
}

// ConversationResponse is the reply to one turn. ConversationID is null
// when the entity runs stateless and the caller supplied none.
type ConversationResponse struct {
	ResponseText   string         `json:"response_text"`
	ConversationID *string        `json:"conversation_id"`
	Extra          map[string]any `json:"extra"`
}

// ClearParams are the params of conversation.clear. An absent id clears
// every session.
type ClearParams struct {
	ConversationID string `json:"conversation_id,omitempty"`
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status         string `json:"status"`
	EntityName     string `json:"entity_name"`
	ActiveSessions int    `json:"active_sessions"`
}

// NewRequest creates a request frame.
func NewRequest(id, method string, params any) (Frame, error) {
	raw, err := json.Marshal(params)
	if err != nil {
		return Frame{}, err
	}
	return Frame{
		Type:   FrameTypeRequest,
		ID:     id,
		Method: method,
		Params: raw,
	}, nil
}

// NewResponse creates a success response frame.
func NewResponse(id string, payload any) (Frame, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Frame{}, err
	}
	ok := true
	return Frame{
		Type:    FrameTypeResponse,
		ID:      id,
		OK:      &ok,
		Payload: raw,
	}, nil
}

// NewErrorResponse creates an error response frame.
func NewErrorResponse(id string, errShape ErrorShape) Frame {
	ok := false
	return Frame{
		Type:  FrameTypeResponse,
		ID:    id,
		OK:    &ok,
		Error: &errShape,
	}
}
