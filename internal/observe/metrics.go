// Package observe provides application-wide observability primitives for
// Parivox: OpenTelemetry metrics, distributed tracing, structured logging,
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

// meterName is the instrumentation scope name used for all Parivox metrics.
const meterName = "github.com/MrWong99/parivox"

// Outcome attribute values shared by the capture and playback counters.
const (
	OutcomeSent            = "sent"
	OutcomeDroppedClosed   = "dropped_closed"
	OutcomeDroppedOverflow = "dropped_overflow"
	OutcomeScheduled       = "scheduled"
	OutcomeSuppressed      = "suppressed"
	OutcomeFlushed         = "flushed"
)

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// ConnectDuration tracks the time from dial to a completed setup handshake.
	ConnectDuration metric.Float64Histogram

	// ToolExecutionDuration tracks tool dispatch latency.
	ToolExecutionDuration metric.Float64Histogram

	// --- Counters ---

	// CaptureFrames counts captured frames. Use with attribute:
	//   attribute.String("outcome", OutcomeSent|OutcomeDroppedClosed|OutcomeDroppedOverflow)
	CaptureFrames metric.Int64Counter

	// PlaybackBuffers counts inbound audio buffers. Use with attribute:
	//   attribute.String("outcome", OutcomeScheduled|OutcomeSuppressed|OutcomeFlushed)
	PlaybackBuffers metric.Int64Counter

	// BargeIns counts playback flushes. Use with attribute:
	//   attribute.String("reason", ...)
	BargeIns metric.Int64Counter

	// ToolCalls counts tool invocations. Use with attributes:
	//   attribute.String("tool", ...), attribute.String("status", ...)
	ToolCalls metric.Int64Counter

	// SessionTransitions counts session state changes. Use with attribute:
	//   attribute.String("state", ...)
	SessionTransitions metric.Int64Counter

	// --- Error counters ---

	// SessionFailures counts failed sessions. Use with attribute:
	//   attribute.String("kind", "transport"|"device")
	SessionFailures metric.Int64Counter

	// DecodeErrors counts malformed inbound envelopes.
	DecodeErrors metric.Int64Counter

	// DroppedToolResponses counts tool responses that could not be delivered.
	DroppedToolResponses metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks the number of live voice sessions.
	ActiveSessions metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("route", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for voice-pipeline latencies.
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
	if met.ConnectDuration, err = m.Float64Histogram("parivox.session.connect.duration",
		metric.WithDescription("Latency from dial to completed setup handshake."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ToolExecutionDuration, err = m.Float64Histogram("parivox.tool_execution.duration",
		metric.WithDescription("Latency of tool dispatch."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.CaptureFrames, err = m.Int64Counter("parivox.capture.frames",
		metric.WithDescription("Captured microphone frames by outcome."),
	); err != nil {
		return nil, err
	}
	if met.PlaybackBuffers, err = m.Int64Counter("parivox.playback.buffers",
		metric.WithDescription("Inbound audio buffers by outcome."),
	); err != nil {
		return nil, err
	}
	if met.BargeIns, err = m.Int64Counter("parivox.bargein.flushes",
		metric.WithDescription("Playback flushes by reason."),
	); err != nil {
		return nil, err
	}
	if met.ToolCalls, err = m.Int64Counter("parivox.tool.calls",
		metric.WithDescription("Total tool invocations by tool name and status."),
	); err != nil {
		return nil, err
	}
	if met.SessionTransitions, err = m.Int64Counter("parivox.session.transitions",
		metric.WithDescription("Session state transitions by target state."),
	); err != nil {
		return nil, err
	}

	// Error counters.
	if met.SessionFailures, err = m.Int64Counter("parivox.session.failures",
		metric.WithDescription("Failed sessions by failure kind."),
	); err != nil {
		return nil, err
	}
	if met.DecodeErrors, err = m.Int64Counter("parivox.protocol.decode_errors",
		metric.WithDescription("Malformed inbound envelopes that were dropped."),
	); err != nil {
		return nil, err
	}
	if met.DroppedToolResponses, err = m.Int64Counter("parivox.tool.responses_dropped",
		metric.WithDescription("Tool responses dropped because the transport was not open."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("parivox.active_sessions",
		metric.WithDescription("Number of live voice sessions."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("parivox.http.request.duration",
		metric.WithDescription("HTTP request latency by method and route pattern."),
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

// RecordCaptureFrame records one captured frame with the given outcome.
func (m *Metrics) RecordCaptureFrame(ctx context.Context, outcome string) {
	m.CaptureFrames.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// RecordPlaybackBuffers records n inbound buffers with the given outcome.
func (m *Metrics) RecordPlaybackBuffers(ctx context.Context, outcome string, n int) {
	if n <= 0 {
		return
	}
	m.PlaybackBuffers.Add(ctx, int64(n), metric.WithAttributes(attribute.String("outcome", outcome)))
}

// RecordBargeIn records a playback flush.
func (m *Metrics) RecordBargeIn(ctx context.Context, reason string) {
	m.BargeIns.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

// RecordToolCall is a convenience method that records a tool call counter
// increment and its latency with the standard attribute set.
func (m *Metrics) RecordToolCall(ctx context.Context, tool, status string, d time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("tool", tool),
		attribute.String("status", status),
	)
	m.ToolCalls.Add(ctx, 1, attrs)
	m.ToolExecutionDuration.Record(ctx, d.Seconds(), attrs)
}

// RecordSessionTransition records a session state change.
func (m *Metrics) RecordSessionTransition(ctx context.Context, state string) {
	m.SessionTransitions.Add(ctx, 1, metric.WithAttributes(attribute.String("state", state)))
}

// RecordSessionFailure records a failed session.
func (m *Metrics) RecordSessionFailure(ctx context.Context, kind string) {
	m.SessionFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

// RecordDecodeError records a dropped malformed envelope.
func (m *Metrics) RecordDecodeError(ctx context.Context) {
	m.DecodeErrors.Add(ctx, 1)
}

// RecordDroppedToolResponse records an undeliverable tool response.
func (m *Metrics) RecordDroppedToolResponse(ctx context.Context, tool string) {
	m.DroppedToolResponses.Add(ctx, 1, metric.WithAttributes(attribute.String("tool", tool)))
}

// RecordConnect records handshake latency for a persona.
func (m *Metrics) RecordConnect(ctx context.Context, persona string, d time.Duration) {
	m.ConnectDuration.Record(ctx, d.Seconds(), metric.WithAttributes(attribute.String("persona", persona)))
}
