// Package observe provides application-wide observability primitives for
// aurist: OpenTelemetry metrics, distributed tracing, structured logging,
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

// meterName is the instrumentation scope name used for all aurist metrics.
const meterName = "github.com/MrWong99/aurist"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// TranscriptionDuration tracks backend transcription latency. Use with
	// attributes:
	//   attribute.String("mode", ...), attribute.String("status", ...)
	TranscriptionDuration metric.Float64Histogram

	// UtteranceDuration tracks the audio length of finalized utterances in
	// seconds.
	UtteranceDuration metric.Float64Histogram

	// ModelLoadDuration tracks how long loading a backend into memory takes.
	ModelLoadDuration metric.Float64Histogram

	// --- Counters ---

	// FramesConsumed counts audio frames accepted into the pipeline.
	FramesConsumed metric.Int64Counter

	// FramesDropped counts frames discarded on queue overflow. Use with
	// attribute:
	//   attribute.String("policy", ...)
	FramesDropped metric.Int64Counter

	// Utterances counts segmented utterances. Use with attribute:
	//   attribute.String("status", ...) with "final", "early" or "discarded"
	Utterances metric.Int64Counter

	// GateFaults counts voice-activity gate errors that were treated as
	// silence.
	GateFaults metric.Int64Counter

	// --- Error counters ---

	// TranscriptionErrors counts failed transcription jobs. Use with
	// attribute:
	//   attribute.String("mode", ...)
	TranscriptionErrors metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks the number of live dictation sessions.
	ActiveSessions metric.Int64UpDownCounter

	// ResidentModels tracks the number of backends currently loaded in
	// memory.
	ResidentModels metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for dictation-pipeline latencies.
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
	if met.TranscriptionDuration, err = m.Float64Histogram("aurist.transcription.duration",
		metric.WithDescription("Latency of backend transcription jobs."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.UtteranceDuration, err = m.Float64Histogram("aurist.utterance.duration",
		metric.WithDescription("Audio length of finalized utterances."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ModelLoadDuration, err = m.Float64Histogram("aurist.model.load.duration",
		metric.WithDescription("Time spent loading a transcription backend."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.FramesConsumed, err = m.Int64Counter("aurist.frames.consumed",
		metric.WithDescription("Total audio frames accepted into the pipeline."),
	); err != nil {
		return nil, err
	}
	if met.FramesDropped, err = m.Int64Counter("aurist.frames.dropped",
		metric.WithDescription("Total audio frames discarded on queue overflow by policy."),
	); err != nil {
		return nil, err
	}
	if met.Utterances, err = m.Int64Counter("aurist.utterances",
		metric.WithDescription("Total segmented utterances by status."),
	); err != nil {
		return nil, err
	}
	if met.GateFaults, err = m.Int64Counter("aurist.gate.faults",
		metric.WithDescription("Total voice-activity gate errors treated as silence."),
	); err != nil {
		return nil, err
	}

	// Error counters.
	if met.TranscriptionErrors, err = m.Int64Counter("aurist.transcription.errors",
		metric.WithDescription("Total failed transcription jobs by backend mode."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("aurist.active_sessions",
		metric.WithDescription("Number of live dictation sessions."),
	); err != nil {
		return nil, err
	}
	if met.ResidentModels, err = m.Int64UpDownCounter("aurist.models.resident",
		metric.WithDescription("Number of transcription backends loaded in memory."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("aurist.http.request.duration",
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

// RecordTranscription records one transcription job with its latency and
// outcome.
func (m *Metrics) RecordTranscription(ctx context.Context, mode, status string, seconds float64) {
	m.TranscriptionDuration.Record(ctx, seconds,
		metric.WithAttributes(
			attribute.String("mode", mode),
			attribute.String("status", status),
		),
	)
	if status != "ok" {
		m.TranscriptionErrors.Add(ctx, 1,
			metric.WithAttributes(attribute.String("mode", mode)),
		)
	}
}

// RecordUtterance records one segmented utterance with its status.
func (m *Metrics) RecordUtterance(ctx context.Context, status string, seconds float64) {
	m.Utterances.Add(ctx, 1,
		metric.WithAttributes(attribute.String("status", status)),
	)
	if seconds > 0 {
		m.UtteranceDuration.Record(ctx, seconds)
	}
}

// RecordDroppedFrames records frames discarded on queue overflow.
func (m *Metrics) RecordDroppedFrames(ctx context.Context, n int64, policy string) {
	m.FramesDropped.Add(ctx, n,
		metric.WithAttributes(attribute.String("policy", policy)),
	)
}

// RecordGateFault records one gate error that was treated as silence.
func (m *Metrics) RecordGateFault(ctx context.Context) {
	m.GateFaults.Add(ctx, 1)
}
