package llm

import (
	"context"
	"errors"
	"strings"

	"github.com/soyeahso/chatterbox/internal/logging"
)

// FailoverProvider tries providers in order, moving to the next one only
// when the failure suggests another backend could succeed.
type FailoverProvider struct {
	providers []Provider
	log       *logging.Logger
}

// NewFailoverProvider creates a provider that tries primary first, then
// each fallback.
func NewFailoverProvider(log *logging.Logger, primary Provider, fallbacks ...Provider) *FailoverProvider {
	return &FailoverProvider{
		providers: append([]Provider{primary}, fallbacks...),
		log:       log.Sub("failover"),
	}
}

// Name implements Provider.
func (f *FailoverProvider) Name() string {
	names := make([]string, len(f.providers))
	for i, p := range f.providers {
		names[i] = p.Name()
	}
	return strings.Join(names, ",")
}

// Complete implements Provider.
func (f *FailoverProvider) Complete(ctx context.Context, messages []Message, tools []ToolDefinition) (*CompletionResult, error) {
	var lastErr error
	for i, p := range f.providers {
		res, err := p.Complete(ctx, messages, tools)
		if err == nil {
			return res, nil
		}
		lastErr = err

		if ctx.Err() != nil || errors.Is(err, context.Canceled) {
			return nil, err
		}
		if !IsRetryable(err) {
			return nil, err
		}
		if i < len(f.providers)-1 {
			f.log.Warn().
				Str("provider", p.Name()).
				Str("next", f.providers[i+1].Name()).
				Err(err).
				Msg("retryable error, trying next provider")
		}
	}
	return nil, lastErr
}
