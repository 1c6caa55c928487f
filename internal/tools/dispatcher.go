package tools

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrToolTimeout is returned when a handler exceeds the dispatcher timeout.
var ErrToolTimeout = errors.New("tool call timed out")

// DispatcherOptions configures BuildDispatcher.
type DispatcherOptions struct {
	// Timeout bounds each handler invocation. Zero disables it.
	Timeout time.Duration

	// MaxRetries is the number of additional attempts after a retryable failure.
	MaxRetries int

	// Retryable selects which errors are retried. Defaults to timeouts only.
	Retryable func(error) bool
}

// IsTimeout reports whether err is a tool timeout.
func IsTimeout(err error) bool { return errors.Is(err, ErrToolTimeout) }

// BuildDispatcher snapshots the registry and returns a dispatcher over it.
// Tools registered afterwards are not visible to the returned dispatcher.
//
// Unknown tools and argument validation failures produce a JSON error
// payload as the result. Handler errors that are not retried, or that
// exhaust the retry budget, are returned to the caller.
func (r *Registry) BuildDispatcher(opts DispatcherOptions) Dispatcher {
	entries := r.snapshot()
	retryable := opts.Retryable
	if retryable == nil {
		retryable = IsTimeout
	}
	maxRetries := max(opts.MaxRetries, 0)
	log := r.log
	metrics := r.metrics

	return func(ctx context.Context, name string, args map[string]any) (string, error) {
		e, ok := entries[name]
		if !ok {
			log.Warn().Str("tool", name).Msg("unknown tool requested")
			return ErrorPayload(fmt.Sprintf("Unknown tool: '%s'", name)), nil
		}
		if args == nil {
			args = map[string]any{}
		}
		if e.schema != nil {
			if err := validateArgs(e.schema, args); err != nil {
				log.Debug().Str("tool", name).Err(err).Msg("argument validation failed")
				metrics.RecordToolCall(ctx, name, "invalid", 0)
				return ErrorPayload(fmt.Sprintf("%s for tool '%s': %v", ErrInvalidArguments, name, err)), nil
			}
		}

		call := withTimeout(e.handler, opts.Timeout)

		var (
			result string
			err    error
		)
		for attempt := 0; attempt <= maxRetries; attempt++ {
			start := time.Now()
			result, err = call(ctx, args)
			elapsed := time.Since(start)

			if err == nil {
				log.Debug().Str("tool", name).Int("attempt", attempt+1).Dur("duration", elapsed).Msg("tool call")
				metrics.RecordToolCall(ctx, name, "ok", elapsed)
				return result, nil
			}

			status := "error"
			if IsTimeout(err) {
				status = "timeout"
			}
			metrics.RecordToolCall(ctx, name, status, elapsed)
			log.Warn().Str("tool", name).Int("attempt", attempt+1).Dur("duration", elapsed).Err(err).Msg("tool call failed")

			if !retryable(err) || ctx.Err() != nil {
				break
			}
		}
		return "", fmt.Errorf("tool %s: %w", name, err)
	}
}

// withTimeout wraps h so that it is abandoned after d. The handler's
// context is cancelled on expiry so well-behaved handlers stop early.
func withTimeout(h Handler, d time.Duration) Handler {
	if d <= 0 {
		return h
	}
	return func(ctx context.Context, args map[string]any) (string, error) {
		ctx, cancel := context.WithTimeout(ctx, d)
		defer cancel()

		type outcome struct {
			result string
			err    error
		}
		done := make(chan outcome, 1)
		go func() {
			res, err := h(ctx, args)
			done <- outcome{res, err}
		}()

		select {
		case o := <-done:
			if o.err != nil && errors.Is(o.err, context.DeadlineExceeded) && errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return "", fmt.Errorf("%w after %s", ErrToolTimeout, d)
			}
			return o.result, o.err
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return "", fmt.Errorf("%w after %s", ErrToolTimeout, d)
			}
			return "", ctx.Err()
		}
	}
}
