// Package observe provides application-wide observability primitives for
// speakerid: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware for the admin endpoint.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can be
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

// meterName is the instrumentation scope name used for all speakerid metrics.
const meterName = "github.com/MrWong99/speakerid"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Resolution pipeline ---

	// ResolveDuration tracks end-to-end resolution run latency. Use with
	// attribute: attribute.String("status", "ok"|"error").
	ResolveDuration metric.Float64Histogram

	// StageDuration tracks per-stage latency within a run. Use with
	// attribute: attribute.String("stage", "load"|"match"|"reason"|"merge").
	StageDuration metric.Float64Histogram

	// Runs counts resolution runs. Use with attribute:
	//   attribute.String("status", "ok"|"error"|"rejected")
	Runs metric.Int64Counter

	// AutoMatches counts speakers resolved by the two-channel profile matcher.
	AutoMatches metric.Int64Counter

	// Judgments counts reasoner verdicts. Use with attribute:
	//   attribute.String("status", "ok"|"fallback")
	Judgments metric.Int64Counter

	// --- Providers ---

	// ProviderRequests counts provider API calls. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...), attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// ProviderErrors counts provider errors. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// --- Profile store ---

	// ProfilesSaved counts profile writes by the confirmation step. Use with
	// attribute: attribute.String("outcome", "created"|"reconfirmed").
	ProfilesSaved metric.Int64Counter

	// --- Gauges ---

	// ActiveRuns tracks the number of resolution runs currently in flight.
	ActiveRuns metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks admin-endpoint request processing time. Use
	// with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// runBuckets defines histogram bucket boundaries (in seconds) sized for
// resolution runs, which are dominated by one LLM round-trip per name mention.
var runBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.ResolveDuration, err = m.Float64Histogram("speakerid.resolve.duration",
		metric.WithDescription("End-to-end latency of a resolution run."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(runBuckets...),
	); err != nil {
		return nil, err
	}
	if met.StageDuration, err = m.Float64Histogram("speakerid.resolve.stage.duration",
		metric.WithDescription("Latency of individual pipeline stages by stage name."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(runBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.Runs, err = m.Int64Counter("speakerid.resolve.runs",
		metric.WithDescription("Total resolution runs by status."),
	); err != nil {
		return nil, err
	}
	if met.AutoMatches, err = m.Int64Counter("speakerid.matcher.auto_matches",
		metric.WithDescription("Total speakers resolved by two-channel profile matching."),
	); err != nil {
		return nil, err
	}
	if met.Judgments, err = m.Int64Counter("speakerid.reasoner.judgments",
		metric.WithDescription("Total name-mention judgments by status."),
	); err != nil {
		return nil, err
	}
	if met.ProviderRequests, err = m.Int64Counter("speakerid.provider.requests",
		metric.WithDescription("Total provider API requests by provider, kind, and status."),
	); err != nil {
		return nil, err
	}
	if met.ProviderErrors, err = m.Int64Counter("speakerid.provider.errors",
		metric.WithDescription("Total provider errors by provider and kind."),
	); err != nil {
		return nil, err
	}
	if met.ProfilesSaved, err = m.Int64Counter("speakerid.profiles.saved",
		metric.WithDescription("Total profile writes by the confirmation step, by outcome."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveRuns, err = m.Int64UpDownCounter("speakerid.active_runs",
		metric.WithDescription("Number of resolution runs currently in flight."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("speakerid.http.request.duration",
		metric.WithDescription("Admin endpoint request latency by method and path."),
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

// RecordRun records one completed (or failed) resolution run: the run counter
// and the end-to-end duration histogram, both tagged with status.
func (m *Metrics) RecordRun(ctx context.Context, status string, d time.Duration) {
	attrs := metric.WithAttributes(attribute.String("status", status))
	m.Runs.Add(ctx, 1, attrs)
	m.ResolveDuration.Record(ctx, d.Seconds(), attrs)
}

// RecordStage records the duration of one pipeline stage.
func (m *Metrics) RecordStage(ctx context.Context, stage string, d time.Duration) {
	m.StageDuration.Record(ctx, d.Seconds(),
		metric.WithAttributes(attribute.String("stage", stage)),
	)
}

// RecordJudgment records one reasoner verdict by status ("ok" or "fallback").
func (m *Metrics) RecordJudgment(ctx context.Context, status string) {
	m.Judgments.Add(ctx, 1,
		metric.WithAttributes(attribute.String("status", status)),
	)
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

// RecordProfileSaved records one profile write by the confirmation step.
// outcome is "created" for a first save and "reconfirmed" for a confidence
// increment of an existing profile.
func (m *Metrics) RecordProfileSaved(ctx context.Context, outcome string) {
	m.ProfilesSaved.Add(ctx, 1,
		metric.WithAttributes(attribute.String("outcome", outcome)),
	)
}
