// Package observe provides application-wide observability primitives for
// Lectern: OpenTelemetry metrics, distributed tracing, structured logging,
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

// meterName is the instrumentation scope name used for all Lectern metrics.
const meterName = "github.com/MrWong99/lectern"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms per pipeline stage ---

	// SynthesisDuration tracks per-sentence speech synthesis latency.
	SynthesisDuration metric.Float64Histogram

	// AlignmentDuration tracks forced-alignment latency per sentence.
	AlignmentDuration metric.Float64Histogram

	// --- Counters ---

	// CacheLookups counts alignment cache lookups. Use with attribute:
	//   attribute.String("result", "hit"|"miss")
	CacheLookups metric.Int64Counter

	// SentencesDelivered counts sentences handed to the consumer. Use with
	// attribute:
	//   attribute.String("source", "synthesized"|"cached"|"empty")
	SentencesDelivered metric.Int64Counter

	// SupersededSentences counts synthesis results discarded because the
	// session advanced while they were in flight.
	SupersededSentences metric.Int64Counter

	// --- Error counters ---

	// SynthesisFailures counts sentences that exhausted their retries. Use
	// with attributes:
	//   attribute.String("voice", ...), attribute.String("reason", ...)
	SynthesisFailures metric.Int64Counter

	// --- Gauges ---

	// BufferedSentences tracks the number of synthesized sentences currently
	// held ahead of playback.
	BufferedSentences metric.Int64UpDownCounter

	// BufferedBytes tracks the PCM bytes currently buffered ahead of playback.
	BufferedBytes metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for per-sentence synthesis and alignment latencies.
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
	if met.SynthesisDuration, err = m.Float64Histogram("lectern.synthesis.duration",
		metric.WithDescription("Latency of per-sentence speech synthesis."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.AlignmentDuration, err = m.Float64Histogram("lectern.alignment.duration",
		metric.WithDescription("Latency of forced alignment per sentence."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.CacheLookups, err = m.Int64Counter("lectern.cache.lookups",
		metric.WithDescription("Total alignment cache lookups by result."),
	); err != nil {
		return nil, err
	}
	if met.SentencesDelivered, err = m.Int64Counter("lectern.sentences.delivered",
		metric.WithDescription("Total sentences delivered to the consumer by source."),
	); err != nil {
		return nil, err
	}
	if met.SupersededSentences, err = m.Int64Counter("lectern.sentences.superseded",
		metric.WithDescription("Total synthesis results discarded due to session change."),
	); err != nil {
		return nil, err
	}

	// Error counters.
	if met.SynthesisFailures, err = m.Int64Counter("lectern.synthesis.failures",
		metric.WithDescription("Total sentences that failed synthesis after retries, by voice and reason."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.BufferedSentences, err = m.Int64UpDownCounter("lectern.buffered_sentences",
		metric.WithDescription("Synthesized sentences currently buffered ahead of playback."),
	); err != nil {
		return nil, err
	}
	if met.BufferedBytes, err = m.Int64UpDownCounter("lectern.buffered_bytes",
		metric.WithDescription("PCM bytes currently buffered ahead of playback."),
		metric.WithUnit("By"),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("lectern.http.request.duration",
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

// RecordCacheLookup records one alignment cache lookup with its result.
func (m *Metrics) RecordCacheLookup(ctx context.Context, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	m.CacheLookups.Add(ctx, 1,
		metric.WithAttributes(attribute.String("result", result)),
	)
}

// RecordSentenceDelivered records one sentence handed to the consumer.
func (m *Metrics) RecordSentenceDelivered(ctx context.Context, source string) {
	m.SentencesDelivered.Add(ctx, 1,
		metric.WithAttributes(attribute.String("source", source)),
	)
}

// RecordSynthesisFailure records a sentence that exhausted its retries.
func (m *Metrics) RecordSynthesisFailure(ctx context.Context, voice, reason string) {
	m.SynthesisFailures.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("voice", voice),
			attribute.String("reason", reason),
		),
	)
}
