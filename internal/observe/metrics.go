// Package observe provides application-wide observability primitives for
// earshot: OpenTelemetry metrics, distributed tracing, structured logging,
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

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all earshot metrics.
const meterName = "github.com/earshot-audio/earshot"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms per pipeline stage ---

	// AttributeDuration tracks speaker-attribution (diarization) latency.
	AttributeDuration metric.Float64Histogram

	// TranscribeDuration tracks speech-to-text transcription latency.
	TranscribeDuration metric.Float64Histogram

	// GenerateDuration tracks response-generation latency.
	GenerateDuration metric.Float64Histogram

	// UtteranceDuration tracks end-to-end latency from utterance
	// finalization to reply emission.
	UtteranceDuration metric.Float64Histogram

	// --- Counters ---

	// Utterances counts finalized utterances by outcome. Use with attribute:
	//   attribute.String("outcome", ...) — one of "emitted", "discarded_short",
	//   "discarded_nonmatch", "discarded_noise", "discarded_empty", "failed".
	Utterances metric.Int64Counter

	// QueueDrops counts finalized utterances dropped from the bounded queue
	// under backpressure.
	QueueDrops metric.Int64Counter

	// CalibrationAttempts counts calibration window attempts by status. Use
	// with attribute: attribute.String("status", "ok"|"no_speakers"|"error").
	CalibrationAttempts metric.Int64Counter

	// ProviderRequests counts external service calls. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...),
	//   attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// ProviderErrors counts external service errors. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// --- Gauges ---

	// Degraded is 1 while the pipeline is in degraded mode (consecutive
	// downstream failures above the configured threshold), 0 otherwise.
	Degraded metric.Int64UpDownCounter

	// OpenUtteranceSamples tracks the byte size of the currently open
	// utterance buffer, to watch for cap misconfiguration.
	OpenUtteranceSamples metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for voice-pipeline latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// Utterance outcome attribute values for [Metrics.Utterances].
const (
	OutcomeEmitted           = "emitted"
	OutcomeDiscardedShort    = "discarded_short"
	OutcomeDiscardedNonMatch = "discarded_nonmatch"
	OutcomeDiscardedNoise    = "discarded_noise"
	OutcomeDiscardedEmpty    = "discarded_empty"
	OutcomeFailed            = "failed"
)

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.AttributeDuration, err = m.Float64Histogram("earshot.attribute.duration",
		metric.WithDescription("Latency of per-utterance speaker attribution."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.TranscribeDuration, err = m.Float64Histogram("earshot.transcribe.duration",
		metric.WithDescription("Latency of speech-to-text transcription."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.GenerateDuration, err = m.Float64Histogram("earshot.generate.duration",
		metric.WithDescription("Latency of response generation."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.UtteranceDuration, err = m.Float64Histogram("earshot.utterance.duration",
		metric.WithDescription("End-to-end latency from utterance finalization to reply."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.Utterances, err = m.Int64Counter("earshot.utterances",
		metric.WithDescription("Finalized utterances by outcome."),
	); err != nil {
		return nil, err
	}
	if met.QueueDrops, err = m.Int64Counter("earshot.queue.drops",
		metric.WithDescription("Utterances dropped from the bounded queue under backpressure."),
	); err != nil {
		return nil, err
	}
	if met.CalibrationAttempts, err = m.Int64Counter("earshot.calibration.attempts",
		metric.WithDescription("Calibration window attempts by status."),
	); err != nil {
		return nil, err
	}
	if met.ProviderRequests, err = m.Int64Counter("earshot.provider.requests",
		metric.WithDescription("External service requests by provider, kind, and status."),
	); err != nil {
		return nil, err
	}
	if met.ProviderErrors, err = m.Int64Counter("earshot.provider.errors",
		metric.WithDescription("External service errors by provider and kind."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.Degraded, err = m.Int64UpDownCounter("earshot.degraded",
		metric.WithDescription("1 while the pipeline is in degraded mode, 0 otherwise."),
	); err != nil {
		return nil, err
	}
	if met.OpenUtteranceSamples, err = m.Int64UpDownCounter("earshot.open_utterance.bytes",
		metric.WithDescription("Byte size of the currently open utterance buffer."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("earshot.http.request.duration",
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

// RecordUtterance records one finalized utterance with the given outcome.
func (m *Metrics) RecordUtterance(ctx context.Context, outcome string) {
	m.Utterances.Add(ctx, 1,
		metric.WithAttributes(attribute.String("outcome", outcome)),
	)
}

// RecordQueueDrop records one utterance dropped under backpressure.
func (m *Metrics) RecordQueueDrop(ctx context.Context) {
	m.QueueDrops.Add(ctx, 1)
}

// RecordCalibrationAttempt records one calibration window attempt.
func (m *Metrics) RecordCalibrationAttempt(ctx context.Context, status string) {
	m.CalibrationAttempts.Add(ctx, 1,
		metric.WithAttributes(attribute.String("status", status)),
	)
}

// RecordProviderRequest records an external service call with the standard
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

// RecordProviderError records an external service error.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}

// SetDegraded moves the degraded gauge to 1 (entering) or 0 (leaving).
func (m *Metrics) SetDegraded(ctx context.Context, degraded bool) {
	if degraded {
		m.Degraded.Add(ctx, 1)
	} else {
		m.Degraded.Add(ctx, -1)
	}
}
