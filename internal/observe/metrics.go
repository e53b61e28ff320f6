// Package observe holds the engine's OpenTelemetry instruments. A Prometheus
// exporter bridge is installed by InitProvider so they can be scraped at
// /metrics; tests build Metrics on their own MeterProvider.
package observe

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

const meterName = "github.com/saker-ai/presence-engine"

// Metrics groups every instrument. The zero value is not usable; a nil
// *Metrics is, and records nothing.
type Metrics struct {
	ChatDuration   metric.Float64Histogram
	SpeechDuration metric.Float64Histogram
	TurnDuration   metric.Float64Histogram
	HTTPDuration   metric.Float64Histogram

	// Turns counts finished turns by outcome.
	Turns metric.Int64Counter
	// ProviderErrors counts endpoint failures by endpoint and kind.
	ProviderErrors metric.Int64Counter
	// SpeechFallbacks counts replies spoken by the local voice.
	SpeechFallbacks metric.Int64Counter
	// Frames counts published frames.
	Frames metric.Int64Counter
}

// Seconds; remote chat and synthesis dominate, so the upper buckets are wide.
var latencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 20, 30, 60,
}

// NewMetrics creates the instruments on mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	histogram := func(name, desc string) (metric.Float64Histogram, error) {
		return m.Float64Histogram(name,
			metric.WithDescription(desc),
			metric.WithUnit("s"),
			metric.WithExplicitBucketBoundaries(latencyBuckets...),
		)
	}
	if met.ChatDuration, err = histogram("presence.chat.duration", "Latency of chat completions."); err != nil {
		return nil, err
	}
	if met.SpeechDuration, err = histogram("presence.speech.duration", "Latency of speech synthesis."); err != nil {
		return nil, err
	}
	if met.TurnDuration, err = histogram("presence.turn.duration", "Time from input to the end of the spoken reply."); err != nil {
		return nil, err
	}
	if met.HTTPDuration, err = histogram("presence.http.duration", "HTTP request processing time."); err != nil {
		return nil, err
	}

	if met.Turns, err = m.Int64Counter("presence.turns",
		metric.WithDescription("Finished turns by outcome."),
	); err != nil {
		return nil, err
	}
	if met.ProviderErrors, err = m.Int64Counter("presence.provider.errors",
		metric.WithDescription("Endpoint failures by endpoint and error kind."),
	); err != nil {
		return nil, err
	}
	if met.SpeechFallbacks, err = m.Int64Counter("presence.speech.fallbacks",
		metric.WithDescription("Replies spoken by the local voice."),
	); err != nil {
		return nil, err
	}
	if met.Frames, err = m.Int64Counter("presence.frames",
		metric.WithDescription("Published animation frames."),
	); err != nil {
		return nil, err
	}
	return met, nil
}

// Nop returns instruments that record nothing.
func Nop() *Metrics {
	met, _ := NewMetrics(noop.NewMeterProvider())
	return met
}

// RecordChat records one chat call.
func (m *Metrics) RecordChat(ctx context.Context, d time.Duration, kind string) {
	if m == nil {
		return
	}
	m.ChatDuration.Record(ctx, d.Seconds())
	m.recordError(ctx, "chat", kind)
}

// RecordSpeech records one speech call.
func (m *Metrics) RecordSpeech(ctx context.Context, d time.Duration, kind string) {
	if m == nil {
		return
	}
	m.SpeechDuration.Record(ctx, d.Seconds())
	m.recordError(ctx, "speech", kind)
}

// RecordFallback counts a local voice reply.
func (m *Metrics) RecordFallback(ctx context.Context, reason string) {
	if m == nil {
		return
	}
	m.SpeechFallbacks.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

// RecordTurn records a finished turn.
func (m *Metrics) RecordTurn(ctx context.Context, d time.Duration, outcome string) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("outcome", outcome))
	m.TurnDuration.Record(ctx, d.Seconds(), attrs)
	m.Turns.Add(ctx, 1, attrs)
}

// RecordFrame counts a published frame.
func (m *Metrics) RecordFrame(ctx context.Context) {
	if m == nil {
		return
	}
	m.Frames.Add(ctx, 1)
}

func (m *Metrics) recordError(ctx context.Context, endpoint, kind string) {
	if kind == "" || kind == "none" || kind == "canceled" {
		return
	}
	m.ProviderErrors.Add(ctx, 1, metric.WithAttributes(
		attribute.String("endpoint", endpoint),
		attribute.String("kind", kind),
	))
}
