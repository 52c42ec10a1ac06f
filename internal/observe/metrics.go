// Package observe provides application-wide observability primitives for
// advisorsim: OpenTelemetry metrics, tracing helpers, trace-aware logging and
// an HTTP middleware for the operations endpoints.
//
// Metrics are recorded through the OpenTelemetry Metrics API and exposed in
// Prometheus format via [Init]. A package-level default [Metrics]
// instance ([DefaultMetrics]) is provided for convenience; tests should use
// [NewMetrics] with their own [metric.MeterProvider] to avoid cross-test
// pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all advisorsim metrics.
const meterName = "github.com/MrWong99/advisorsim"

// Audio frame directions.
const (
	DirectionInbound  = "inbound"
	DirectionOutbound = "outbound"
)

// Audio frame outcomes.
const (
	OutcomeSent        = "sent"
	OutcomeDropped     = "dropped"
	OutcomeSendError   = "send_error"
	OutcomeScheduled   = "scheduled"
	OutcomeDecodeError = "decode_error"
)

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use.
type Metrics struct {
	// ChatDuration tracks the latency of one text-chat exchange, retries
	// included.
	ChatDuration metric.Float64Histogram

	// ReportDuration tracks feedback report generation latency.
	ReportDuration metric.Float64Histogram

	// TTSDuration tracks speech synthesis latency.
	TTSDuration metric.Float64Histogram

	// LiveConnectDuration tracks how long the live handshake takes.
	LiveConnectDuration metric.Float64Histogram

	// ProviderRequests counts provider API calls. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...), attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// ProviderErrors counts provider errors. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// AudioFrames counts live audio frames. Use with attributes:
	//   attribute.String("direction", ...), attribute.String("outcome", ...)
	AudioFrames metric.Int64Counter

	// ConversationEndings counts finished conversations by ending path.
	ConversationEndings metric.Int64Counter

	// ActiveLiveSessions tracks the number of connected live voice sessions.
	ActiveLiveSessions metric.Int64UpDownCounter

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds). Report
// generation regularly takes tens of seconds, hence the long tail.
var latencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 40,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	histograms := []struct {
		dst  *metric.Float64Histogram
		name string
		desc string
	}{
		{&met.ChatDuration, "advisorsim.chat.duration", "Latency of one text chat exchange."},
		{&met.ReportDuration, "advisorsim.report.duration", "Latency of feedback report generation."},
		{&met.TTSDuration, "advisorsim.tts.duration", "Latency of speech synthesis."},
		{&met.LiveConnectDuration, "advisorsim.live.connect.duration", "Latency of the live session handshake."},
	}
	for _, h := range histograms {
		if *h.dst, err = m.Float64Histogram(h.name,
			metric.WithDescription(h.desc),
			metric.WithUnit("s"),
			metric.WithExplicitBucketBoundaries(latencyBuckets...),
		); err != nil {
			return nil, err
		}
	}

	if met.ProviderRequests, err = m.Int64Counter("advisorsim.provider.requests",
		metric.WithDescription("Total provider API requests by provider, kind, and status."),
	); err != nil {
		return nil, err
	}
	if met.ProviderErrors, err = m.Int64Counter("advisorsim.provider.errors",
		metric.WithDescription("Total provider errors by provider and kind."),
	); err != nil {
		return nil, err
	}
	if met.AudioFrames, err = m.Int64Counter("advisorsim.live.audio_frames",
		metric.WithDescription("Live audio frames by direction and outcome."),
	); err != nil {
		return nil, err
	}
	if met.ConversationEndings, err = m.Int64Counter("advisorsim.conversation.endings",
		metric.WithDescription("Finished conversations by ending path."),
	); err != nil {
		return nil, err
	}
	if met.ActiveLiveSessions, err = m.Int64UpDownCounter("advisorsim.live.active_sessions",
		metric.WithDescription("Number of connected live voice sessions."),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("advisorsim.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Panics if instrument creation
// fails.
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

// Attr is a convenience alias for [attribute.String].
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordProviderRequest records a provider request with the standard
// attribute set.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
			attribute.String("status", status),
		),
	)
}

// RecordProviderError records a provider error.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}

// RecordAudioFrame records one live audio frame with its direction and
// outcome (see the Direction* and Outcome* constants).
func (m *Metrics) RecordAudioFrame(ctx context.Context, direction, outcome string) {
	m.AudioFrames.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("direction", direction),
			attribute.String("outcome", outcome),
		),
	)
}

// RecordConversationEnd records a finished conversation.
func (m *Metrics) RecordConversationEnd(ctx context.Context, path string) {
	m.ConversationEndings.Add(ctx, 1,
		metric.WithAttributes(attribute.String("path", path)),
	)
}
