package llm

import (
	"errors"
	"fmt"
)

// Kind classifies a provider failure.
type Kind int

const (
	// KindRateLimit means the backend refused the call for quota reasons (HTTP 429).
	KindRateLimit Kind = iota + 1
	// KindConnection means the backend could not be reached or did not answer in time.
	KindConnection
	// KindAPI means the backend answered with some other non-2xx status.
	KindAPI
)

func (k Kind) String() string {
	switch k {
	case KindRateLimit:
		return "rate_limit"
	case KindConnection:
		return "connection"
	case KindAPI:
		return "api"
	default:
		return "unknown"
	}
}

// Sentinels for errors.Is checks against a specific Kind.
var (
	ErrRateLimit  = errors.New("llm: rate limited")
	ErrConnection = errors.New("llm: connection failed")
	ErrAPI        = errors.New("llm: api error")
)

// Error is the common type for every provider failure. Callers can catch
// all of them with errors.As, or one kind with errors.Is and the sentinels.
type Error struct {
	Kind       Kind
	Provider   string
	StatusCode int // HTTP status when known (429, 500, ...)
	Message    string
	Cause      error
}

func (e *Error) Error() string {
	prefix := e.Provider
	if prefix == "" {
		prefix = "llm"
	}
	switch {
	case e.StatusCode > 0:
		return fmt.Sprintf("%s: %s: %d %s", prefix, e.Kind, e.StatusCode, e.Message)
	case e.Message != "":
		return fmt.Sprintf("%s: %s: %s", prefix, e.Kind, e.Message)
	case e.Cause != nil:
		return fmt.Sprintf("%s: %s: %v", prefix, e.Kind, e.Cause)
	default:
		return fmt.Sprintf("%s: %s", prefix, e.Kind)
	}
}

func (e *Error) Unwrap() error { return e.Cause }

// Is reports whether target is the sentinel for this error's Kind.
func (e *Error) Is(target error) bool {
	switch target {
	case ErrRateLimit:
		return e.Kind == KindRateLimit
	case ErrConnection:
		return e.Kind == KindConnection
	case ErrAPI:
		return e.Kind == KindAPI
	}
	return false
}

// NewRateLimitError builds a KindRateLimit error.
func NewRateLimitError(provider, message string, cause error) *Error {
	return &Error{Kind: KindRateLimit, Provider: provider, StatusCode: 429, Message: message, Cause: cause}
}

// NewConnectionError builds a KindConnection error.
func NewConnectionError(provider, message string, cause error) *Error {
	return &Error{Kind: KindConnection, Provider: provider, Message: message, Cause: cause}
}

// NewAPIError builds a KindAPI error carrying the HTTP status.
func NewAPIError(provider string, status int, message string, cause error) *Error {
	return &Error{Kind: KindAPI, Provider: provider, StatusCode: status, Message: message, Cause: cause}
}

// AsError extracts the provider error from err's chain.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// IsRateLimit reports whether err is a rate-limit failure.
func IsRateLimit(err error) bool { return errors.Is(err, ErrRateLimit) }

// IsConnection reports whether err is a connection failure.
func IsConnection(err error) bool { return errors.Is(err, ErrConnection) }

// IsAPI reports whether err is a non-2xx API failure.
func IsAPI(err error) bool { return errors.Is(err, ErrAPI) }

// IsRetryable reports whether another backend might succeed where this
// one failed: quota, reachability, auth and server-side errors.
func IsRetryable(err error) bool {
	e, ok := AsError(err)
	if !ok {
		return false
	}
	switch e.Kind {
	case KindRateLimit, KindConnection:
		return true
	case KindAPI:
		switch e.StatusCode {
		case 401, 403, 429, 500, 502, 503, 504, 529:
			return true
		}
	}
	return false
}
