package llm

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/soyeahso/chatterbox/internal/logging"
)

// Default circuit breaker settings.
const (
	defaultBreakerFailures uint32 = 5
	defaultBreakerTimeout         = 30 * time.Second
	defaultBreakerInterval        = 60 * time.Second
)

// BreakerConfig configures a BreakerProvider.
type BreakerConfig struct {
	// FailureThreshold is the number of consecutive failures that opens the circuit.
	FailureThreshold uint32
	// OpenTimeout is how long the circuit stays open before a half-open probe.
	OpenTimeout time.Duration
	// Interval clears failure counts periodically while closed.
	Interval time.Duration
}

// BreakerProvider guards a Provider with a circuit breaker. While the
// circuit is open calls fail fast with a connection error and never reach
// the backend.
type BreakerProvider struct {
	inner   Provider
	breaker *gobreaker.CircuitBreaker[*CompletionResult]
	log     *logging.Logger
}

// NewBreakerProvider wraps inner. Zero config fields take defaults.
func NewBreakerProvider(inner Provider, cfg BreakerConfig, log *logging.Logger) *BreakerProvider {
	threshold := cfg.FailureThreshold
	if threshold == 0 {
		threshold = defaultBreakerFailures
	}
	timeout := cfg.OpenTimeout
	if timeout == 0 {
		timeout = defaultBreakerTimeout
	}
	interval := cfg.Interval
	if interval == 0 {
		interval = defaultBreakerInterval
	}

	p := &BreakerProvider{inner: inner, log: log.Sub("breaker")}
	p.breaker = gobreaker.NewCircuitBreaker[*CompletionResult](gobreaker.Settings{
		Name:        "llm:" + inner.Name(),
		MaxRequests: 1,
		Interval:    interval,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			p.log.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("circuit breaker state change")
		},
		// Only backend health problems count against the circuit. A bad
		// request (4xx) says nothing about availability.
		IsSuccessful: func(err error) bool {
			return err == nil || !IsRetryable(err)
		},
		IsExcluded: func(err error) bool {
			return errors.Is(err, context.Canceled)
		},
	})
	return p
}

// Name implements Provider.
func (p *BreakerProvider) Name() string { return p.inner.Name() }

// Complete implements Provider.
func (p *BreakerProvider) Complete(ctx context.Context, messages []Message, tools []ToolDefinition) (*CompletionResult, error) {
	res, err := p.breaker.Execute(func() (*CompletionResult, error) {
		return p.inner.Complete(ctx, messages, tools)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, NewConnectionError(p.inner.Name(), "circuit open", err)
	}
	return res, err
}

// State returns the breaker state for health reporting.
func (p *BreakerProvider) State() gobreaker.State { return p.breaker.State() }
