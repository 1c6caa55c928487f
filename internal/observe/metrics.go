// Package observe holds the OpenTelemetry metric instruments for Chatterbox
// and the Prometheus bridge that serves them on /metrics.
//
// Components take a *Metrics that may be nil; every Record method is a
// no-op on a nil receiver so tests and embedders need not wire metrics.
package observe

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope for all Chatterbox metrics.
const meterName = "github.com/soyeahso/chatterbox"

// Metrics holds all metric instruments.
type Metrics struct {
	// LLMDuration tracks provider round-trip latency by provider and status.
	LLMDuration metric.Float64Histogram
	// LLMTokens counts tokens by provider and direction (prompt, completion).
	LLMTokens metric.Int64Counter
	// LLMCost accumulates estimated spend in USD by provider.
	LLMCost metric.Float64Counter

	// ToolDuration tracks tool execution latency by tool and status.
	ToolDuration metric.Float64Histogram
	// CacheLookups counts result cache lookups by tool and outcome (hit, miss).
	CacheLookups metric.Int64Counter

	// TurnDuration tracks whole conversation turns by outcome.
	TurnDuration metric.Float64Histogram

	// HTTPRequestDuration tracks HTTP handling time by method, route and status.
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets are histogram boundaries in seconds, sized for LLM and
// tool round trips rather than in-process work.
var latencyBuckets = []float64{
	0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60,
}

// NewMetrics creates all instruments from mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.LLMDuration, err = m.Float64Histogram("chatterbox.llm.duration",
		metric.WithDescription("Latency of chat completion calls."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.LLMTokens, err = m.Int64Counter("chatterbox.llm.tokens",
		metric.WithDescription("Tokens consumed by provider and direction."),
	); err != nil {
		return nil, err
	}
	if met.LLMCost, err = m.Float64Counter("chatterbox.llm.cost",
		metric.WithDescription("Estimated provider spend."),
		metric.WithUnit("USD"),
	); err != nil {
		return nil, err
	}
	if met.ToolDuration, err = m.Float64Histogram("chatterbox.tool.duration",
		metric.WithDescription("Latency of tool execution."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.CacheLookups, err = m.Int64Counter("chatterbox.tool.cache.lookups",
		metric.WithDescription("Tool result cache lookups by outcome."),
	); err != nil {
		return nil, err
	}
	if met.TurnDuration, err = m.Float64Histogram("chatterbox.turn.duration",
		metric.WithDescription("Latency of whole conversation turns."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("chatterbox.http.request.duration",
		metric.WithDescription("HTTP request latency by method, route and status."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// RecordLLMCall records one provider round trip.
func (m *Metrics) RecordLLMCall(ctx context.Context, provider, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.LLMDuration.Record(ctx, d.Seconds(), metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.String("status", status),
	))
}

// RecordUsage records token counts and, when known, the estimated cost.
func (m *Metrics) RecordUsage(ctx context.Context, provider string, prompt, completion int64, costUSD *float64) {
	if m == nil {
		return
	}
	m.LLMTokens.Add(ctx, prompt, metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.String("direction", "prompt"),
	))
	m.LLMTokens.Add(ctx, completion, metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.String("direction", "completion"),
	))
	if costUSD != nil {
		m.LLMCost.Add(ctx, *costUSD, metric.WithAttributes(attribute.String("provider", provider)))
	}
}

// RecordToolCall records one tool execution.
func (m *Metrics) RecordToolCall(ctx context.Context, tool, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.ToolDuration.Record(ctx, d.Seconds(), metric.WithAttributes(
		attribute.String("tool", tool),
		attribute.String("status", status),
	))
}

// RecordCacheLookup records a result cache hit or miss.
func (m *Metrics) RecordCacheLookup(ctx context.Context, tool string, hit bool) {
	if m == nil {
		return
	}
	outcome := "miss"
	if hit {
		outcome = "hit"
	}
	m.CacheLookups.Add(ctx, 1, metric.WithAttributes(
		attribute.String("tool", tool),
		attribute.String("outcome", outcome),
	))
}

// RecordTurn records one conversation turn.
func (m *Metrics) RecordTurn(ctx context.Context, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.TurnDuration.Record(ctx, d.Seconds(), metric.WithAttributes(attribute.String("outcome", outcome)))
}

// RecordHTTPRequest records one handled HTTP request.
func (m *Metrics) RecordHTTPRequest(ctx context.Context, method, route string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequestDuration.Record(ctx, d.Seconds(), metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("route", route),
		attribute.Int("status", status),
	))
}
