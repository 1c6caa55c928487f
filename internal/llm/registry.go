package llm

import (
	"fmt"

	"github.com/soyeahso/chatterbox/internal/config"
	"github.com/soyeahso/chatterbox/internal/logging"
)

// NewFromConfig builds the provider chain described by cfg: the primary
// backend, then each fallback, each optionally behind its own circuit
// breaker and rate limiter.
func NewFromConfig(cfg config.LLMConfig, log *logging.Logger) (Provider, error) {
	primary, err := newBackend("primary", cfg.BaseURL, cfg.Model, cfg.APIKey, cfg, log)
	if err != nil {
		return nil, err
	}
	if len(cfg.Fallbacks) == 0 {
		return primary, nil
	}

	fallbacks := make([]Provider, 0, len(cfg.Fallbacks))
	for i, fb := range cfg.Fallbacks {
		p, err := newBackend(fmt.Sprintf("fallback-%d", i+1), fb.BaseURL, fb.Model, fb.APIKey, cfg, log)
		if err != nil {
			return nil, err
		}
		fallbacks = append(fallbacks, p)
	}
	return NewFailoverProvider(log, primary, fallbacks...), nil
}

func newBackend(name, baseURL, model, apiKey string, cfg config.LLMConfig, log *logging.Logger) (Provider, error) {
	opts := []OpenAIOption{
		WithName(name + ":" + model),
		WithBaseURL(baseURL),
		WithAPIKey(apiKey),
		WithTimeout(cfg.Timeout),
		WithUsageTracking(cfg.TrackUsage),
		WithLogger(log),
	}
	if cfg.Temperature != nil {
		opts = append(opts, WithTemperature(*cfg.Temperature))
	}
	if cfg.RateLimitPerMinute > 0 {
		limiter, err := NewRateLimiter(cfg.RateLimitPerMinute)
		if err != nil {
			return nil, err
		}
		opts = append(opts, WithRateLimiter(limiter))
	}

	p, err := NewOpenAIProvider(model, opts...)
	if err != nil {
		return nil, err
	}
	if !cfg.CircuitBreaker.Enabled {
		return p, nil
	}
	return NewBreakerProvider(p, BreakerConfig{
		FailureThreshold: uint32(cfg.CircuitBreaker.FailureThreshold),
		OpenTimeout:      cfg.CircuitBreaker.OpenTimeout,
	}, log), nil
}
