// Package observe provides application-wide observability primitives for
// slashvoice: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all slashvoice metrics.
const meterName = "github.com/superslash/slashvoice"

// Metrics holds all OpenTelemetry metric instruments for the application.
// The underlying OTel types handle their own synchronisation.
type Metrics struct {
	// --- Session lifecycle ---

	// SessionsStarted counts sessions that entered Connecting.
	SessionsStarted metric.Int64Counter

	// SessionsClosed counts sessions that reached Closed. Use with attribute:
	//   attribute.String("reason", ...)
	SessionsClosed metric.Int64Counter

	// ActiveSessions tracks the number of sessions not yet Closed.
	ActiveSessions metric.Int64UpDownCounter

	// SessionDuration tracks the wall-clock length of closed sessions.
	SessionDuration metric.Float64Histogram

	// --- Audio path ---

	// ChunksSent counts capture windows handed to the provider.
	ChunksSent metric.Int64Counter

	// ChunksReceived counts audio chunks received from the provider.
	ChunksReceived metric.Int64Counter

	// DecodeErrors counts received chunks dropped because they could not be
	// decoded.
	DecodeErrors metric.Int64Counter

	// PlaybackDegraded counts output device failures while scheduling.
	PlaybackDegraded metric.Int64Counter

	// Interruptions counts barge-in signals honoured by the scheduler.
	Interruptions metric.Int64Counter

	// TranscriptFragments counts transcript deltas. Use with attribute:
	//   attribute.String("role", ...)
	TranscriptFragments metric.Int64Counter

	// --- Providers ---

	// ProviderRequests counts provider API calls. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...), attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// ProviderErrors counts provider errors. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// ChatDuration tracks text chat, image and transcription call latency.
	ChatDuration metric.Float64Histogram

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) for
// request latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// sessionBuckets defines histogram bucket boundaries (in seconds) for
// session lengths.
var sessionBuckets = []float64{
	1, 5, 15, 30, 60, 120, 300, 600, 900,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Session lifecycle.
	if met.SessionsStarted, err = m.Int64Counter("slashvoice.sessions.started",
		metric.WithDescription("Total voice sessions started."),
	); err != nil {
		return nil, err
	}
	if met.SessionsClosed, err = m.Int64Counter("slashvoice.sessions.closed",
		metric.WithDescription("Total voice sessions closed by reason."),
	); err != nil {
		return nil, err
	}
	if met.ActiveSessions, err = m.Int64UpDownCounter("slashvoice.active_sessions",
		metric.WithDescription("Number of voice sessions not yet closed."),
	); err != nil {
		return nil, err
	}
	if met.SessionDuration, err = m.Float64Histogram("slashvoice.session.duration",
		metric.WithDescription("Length of closed voice sessions."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(sessionBuckets...),
	); err != nil {
		return nil, err
	}

	// Audio path.
	if met.ChunksSent, err = m.Int64Counter("slashvoice.audio.chunks_sent",
		metric.WithDescription("Total capture windows sent to the live provider."),
	); err != nil {
		return nil, err
	}
	if met.ChunksReceived, err = m.Int64Counter("slashvoice.audio.chunks_received",
		metric.WithDescription("Total audio chunks received from the live provider."),
	); err != nil {
		return nil, err
	}
	if met.DecodeErrors, err = m.Int64Counter("slashvoice.audio.decode_errors",
		metric.WithDescription("Total received audio chunks dropped as undecodable."),
	); err != nil {
		return nil, err
	}
	if met.PlaybackDegraded, err = m.Int64Counter("slashvoice.playback.degraded",
		metric.WithDescription("Total output device failures while scheduling audio."),
	); err != nil {
		return nil, err
	}
	if met.Interruptions, err = m.Int64Counter("slashvoice.playback.interruptions",
		metric.WithDescription("Total barge-in interruptions."),
	); err != nil {
		return nil, err
	}
	if met.TranscriptFragments, err = m.Int64Counter("slashvoice.transcript.fragments",
		metric.WithDescription("Total transcript fragments by role."),
	); err != nil {
		return nil, err
	}

	// Providers.
	if met.ProviderRequests, err = m.Int64Counter("slashvoice.provider.requests",
		metric.WithDescription("Total provider API requests by provider, kind, and status."),
	); err != nil {
		return nil, err
	}
	if met.ProviderErrors, err = m.Int64Counter("slashvoice.provider.errors",
		metric.WithDescription("Total provider errors by provider and kind."),
	); err != nil {
		return nil, err
	}
	if met.ChatDuration, err = m.Float64Histogram("slashvoice.chat.duration",
		metric.WithDescription("Latency of chat, image analysis and transcription calls."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("slashvoice.http.request.duration",
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

// RecordSessionStarted increments the started counter and the active gauge.
func (m *Metrics) RecordSessionStarted(ctx context.Context) {
	m.SessionsStarted.Add(ctx, 1)
	m.ActiveSessions.Add(ctx, 1)
}

// RecordSessionClosed records a session reaching Closed after d.
func (m *Metrics) RecordSessionClosed(ctx context.Context, reason string, d time.Duration) {
	m.SessionsClosed.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
	m.ActiveSessions.Add(ctx, -1)
	m.SessionDuration.Record(ctx, d.Seconds())
}

// RecordTranscriptFragment increments the fragment counter for role.
func (m *Metrics) RecordTranscriptFragment(ctx context.Context, role string) {
	m.TranscriptFragments.Add(ctx, 1, metric.WithAttributes(attribute.String("role", role)))
}

// RecordProviderRequest is a convenience method that records a provider
// request counter increment with the standard attribute set.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
			attribute.String("status", status),
		),
	)
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
