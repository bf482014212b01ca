// Package observe provides application-wide observability primitives for
// Paperwave: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still
// be scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all Paperwave metrics.
const meterName = "github.com/paperwave/paperwave"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// PaperFetchDuration tracks end-to-end paper summary fetch latency.
	PaperFetchDuration metric.Float64Histogram

	// ChatStreamDuration tracks grounded chat stream latency, first request
	// byte to final chunk.
	ChatStreamDuration metric.Float64Histogram

	// --- Voice pipeline counters ---

	// VoiceFramesSent counts outbound capture frames handed to the transport.
	VoiceFramesSent metric.Int64Counter

	// VoiceFramesReceived counts inbound audio frames from the live service.
	// Use with attribute.String("status", "scheduled"|"dropped").
	VoiceFramesReceived metric.Int64Counter

	// VoiceInterruptions counts barge-in signals handled by playback.
	VoiceInterruptions metric.Int64Counter

	// --- Error counters ---

	// ProviderErrors counts provider errors. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// --- Gauges ---

	// ActiveVoiceSessions tracks the number of live voice sessions.
	ActiveVoiceSessions metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with
	// attributes: attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for interactive request latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.PaperFetchDuration, err = m.Float64Histogram("paperwave.papers.fetch.duration",
		metric.WithDescription("Latency of paper summary fetches."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ChatStreamDuration, err = m.Float64Histogram("paperwave.chat.stream.duration",
		metric.WithDescription("Latency of grounded chat streams, request to final chunk."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Voice pipeline counters.
	if met.VoiceFramesSent, err = m.Int64Counter("paperwave.voice.frames.sent",
		metric.WithDescription("Outbound capture frames handed to the transport."),
	); err != nil {
		return nil, err
	}
	if met.VoiceFramesReceived, err = m.Int64Counter("paperwave.voice.frames.received",
		metric.WithDescription("Inbound audio frames from the live service by status."),
	); err != nil {
		return nil, err
	}
	if met.VoiceInterruptions, err = m.Int64Counter("paperwave.voice.interruptions",
		metric.WithDescription("Barge-in signals handled by the playback scheduler."),
	); err != nil {
		return nil, err
	}

	// Error counters.
	if met.ProviderErrors, err = m.Int64Counter("paperwave.provider.errors",
		metric.WithDescription("Total provider errors by provider and kind."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveVoiceSessions, err = m.Int64UpDownCounter("paperwave.voice.active_sessions",
		metric.WithDescription("Number of live voice sessions."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("paperwave.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
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

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
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

// RecordProviderError is a convenience method that records a provider error
// counter increment.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}

// RecordFrameReceived is a convenience method that records an inbound voice
// frame with its handling status ("scheduled" or "dropped").
func (m *Metrics) RecordFrameReceived(ctx context.Context, status string) {
	m.VoiceFramesReceived.Add(ctx, 1,
		metric.WithAttributes(attribute.String("status", status)),
	)
}
