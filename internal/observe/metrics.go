// Package observe provides application-wide observability primitives for
// Lectern: OpenTelemetry metrics and structured-logging helpers.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can be
// scraped by the standard collectors. A package-level default [Metrics]
// instance ([DefaultMetrics]) is provided for convenience; tests should use
// [NewMetrics] with a custom [metric.MeterProvider] to avoid cross-test
// pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all Lectern metrics.
const meterName = "github.com/hexaphone/lectern"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Live session ---

	// FramesSent counts outbound audio frames delivered to the transport.
	FramesSent metric.Int64Counter

	// FramesDropped counts outbound frames dropped by the capture pipeline
	// (mute gate excluded — only send failures and not-connected drops).
	FramesDropped metric.Int64Counter

	// ChunksScheduled counts inbound audio chunks handed to the playback
	// scheduler.
	ChunksScheduled metric.Int64Counter

	// ChunksMalformed counts inbound chunks discarded by the codec layer.
	ChunksMalformed metric.Int64Counter

	// Interruptions counts server-initiated playback interruptions.
	Interruptions metric.Int64Counter

	// SessionDuration tracks the wall-clock lifetime of live sessions.
	SessionDuration metric.Float64Histogram

	// ActiveSessions tracks the number of live voice sessions.
	ActiveSessions metric.Int64UpDownCounter

	// --- One-shot generation ---

	// GenerateDuration tracks one-shot generation latency. Use with
	// attribute.String("op", ...): extract, synthesize, describe, imagine.
	GenerateDuration metric.Float64Histogram

	// GenerateErrors counts one-shot generation failures by op.
	GenerateErrors metric.Int64Counter
}

// sessionBuckets defines histogram bucket boundaries (in seconds) sized for
// conversational session lifetimes.
var sessionBuckets = []float64{
	1, 5, 15, 30, 60, 120, 300, 600, 900,
}

// latencyBuckets defines histogram bucket boundaries (in seconds) for the
// one-shot generation calls.
var latencyBuckets = []float64{
	0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Counters.
	if met.FramesSent, err = m.Int64Counter("lectern.live.frames_sent",
		metric.WithDescription("Outbound audio frames delivered to the transport."),
	); err != nil {
		return nil, err
	}
	if met.FramesDropped, err = m.Int64Counter("lectern.live.frames_dropped",
		metric.WithDescription("Outbound audio frames dropped by send failures."),
	); err != nil {
		return nil, err
	}
	if met.ChunksScheduled, err = m.Int64Counter("lectern.live.chunks_scheduled",
		metric.WithDescription("Inbound audio chunks handed to the playback scheduler."),
	); err != nil {
		return nil, err
	}
	if met.ChunksMalformed, err = m.Int64Counter("lectern.live.chunks_malformed",
		metric.WithDescription("Inbound audio chunks discarded as malformed."),
	); err != nil {
		return nil, err
	}
	if met.Interruptions, err = m.Int64Counter("lectern.live.interruptions",
		metric.WithDescription("Server-initiated playback interruptions."),
	); err != nil {
		return nil, err
	}

	// Histograms.
	if met.SessionDuration, err = m.Float64Histogram("lectern.live.session.duration",
		metric.WithDescription("Wall-clock lifetime of live voice sessions."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(sessionBuckets...),
	); err != nil {
		return nil, err
	}
	if met.GenerateDuration, err = m.Float64Histogram("lectern.generate.duration",
		metric.WithDescription("One-shot generation latency by operation."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("lectern.live.active_sessions",
		metric.WithDescription("Number of live voice sessions."),
	); err != nil {
		return nil, err
	}

	// Error counters.
	if met.GenerateErrors, err = m.Int64Counter("lectern.generate.errors",
		metric.WithDescription("One-shot generation failures by operation."),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it
// on first call using [otel.GetMeterProvider]. Subsequent calls return the
// same pointer. Panics if instrument creation fails (should not happen with
// the global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordGenerate records one one-shot generation call: its latency and, on
// failure, an error counter increment. op is one of "extract", "synthesize",
// "describe", "imagine".
func (m *Metrics) RecordGenerate(ctx context.Context, op string, seconds float64, err error) {
	m.GenerateDuration.Record(ctx, seconds, metric.WithAttributes(Attr("op", op)))
	if err != nil {
		m.GenerateErrors.Add(ctx, 1, metric.WithAttributes(Attr("op", op)))
	}
}
