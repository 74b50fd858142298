// Package observe wires Digi-Battle into OpenTelemetry. It owns the metric
// instruments, the exchange and request spans, trace-aware logging and the
// HTTP middleware used by the diagnostics server.
//
// [InitProvider] installs the global providers with a Prometheus exporter
// behind them. Code that records metrics takes a [*Metrics]; production code
// shares [DefaultMetrics] while tests build their own with [NewMetrics] on a
// private meter provider.
package observe

import (
	"context"
	"errors"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// scopeName is the instrumentation scope of every Digi-Battle meter and
// tracer.
const scopeName = "github.com/digibattleapp/Digi-Battle"

// Metrics is the set of instruments recorded by the link engine, the
// exchange runner and the diagnostics server. Safe for concurrent use.
type Metrics struct {
	// ExchangeDuration is the wall time from engine start to session end,
	// by role and outcome.
	ExchangeDuration metric.Float64Histogram
	// RoundTrip is the delay in milliseconds between the first played sample
	// and the first heard activity.
	RoundTrip metric.Float64Histogram
	// Partitions is how far each exchange got, by role.
	Partitions metric.Int64Histogram

	// Exchanges counts ended exchanges by role and outcome.
	Exchanges metric.Int64Counter
	// SetupFailures counts exchanges that never reached the line, by stage.
	SetupFailures metric.Int64Counter
	// Cutovers counts early cutovers applied by the engine.
	Cutovers metric.Int64Counter
	// MessagesDecoded counts payloads read from the peer, by result.
	MessagesDecoded metric.Int64Counter

	// ActiveExchanges is 1 while an exchange holds the audio device.
	ActiveExchanges metric.Int64UpDownCounter

	// HTTPRequestDuration tracks diagnostics request time by method, route
	// pattern and status code.
	HTTPRequestDuration metric.Float64Histogram
}

// durationBuckets covers exchanges from a single short frame to a long
// multi-message battle, in seconds.
var durationBuckets = []float64{
	0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60,
}

// rttBuckets covers the loopback delay of a cable plus sound card, in
// milliseconds.
var rttBuckets = []float64{
	1, 5, 10, 20, 30, 50, 75, 100, 200, 500,
}

// instruments creates instruments on one meter and keeps the first errors
// instead of failing at each call.
type instruments struct {
	meter metric.Meter
	errs  []error
}

func (in *instruments) f64Histogram(name string, opts ...metric.Float64HistogramOption) metric.Float64Histogram {
	h, err := in.meter.Float64Histogram(name, opts...)
	in.errs = append(in.errs, err)
	return h
}

func (in *instruments) i64Histogram(name string, opts ...metric.Int64HistogramOption) metric.Int64Histogram {
	h, err := in.meter.Int64Histogram(name, opts...)
	in.errs = append(in.errs, err)
	return h
}

func (in *instruments) counter(name, desc string) metric.Int64Counter {
	c, err := in.meter.Int64Counter(name, metric.WithDescription(desc))
	in.errs = append(in.errs, err)
	return c
}

// NewMetrics creates every instrument on a meter from mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	in := &instruments{meter: mp.Meter(scopeName)}

	active, err := in.meter.Int64UpDownCounter("digibattle.active_exchanges",
		metric.WithDescription("Exchanges currently holding the audio device."))
	in.errs = append(in.errs, err)

	m := &Metrics{
		ExchangeDuration: in.f64Histogram("digibattle.exchange.duration",
			metric.WithDescription("Wall time of an exchange from engine start to session end."),
			metric.WithUnit("s"),
			metric.WithExplicitBucketBoundaries(durationBuckets...)),
		RoundTrip: in.f64Histogram("digibattle.link.round_trip",
			metric.WithDescription("Delay between the first played sample and the first heard activity."),
			metric.WithUnit("ms"),
			metric.WithExplicitBucketBoundaries(rttBuckets...)),
		Partitions: in.i64Histogram("digibattle.exchange.partitions",
			metric.WithDescription("Partitions reached per exchange."),
			metric.WithExplicitBucketBoundaries(0, 1, 2, 4, 8, 16, 32)),

		Exchanges:       in.counter("digibattle.exchanges", "Ended exchanges by role and outcome."),
		SetupFailures:   in.counter("digibattle.exchange.setup_failures", "Exchanges that failed before reaching the line, by stage."),
		Cutovers:        in.counter("digibattle.link.cutovers", "Early cutovers applied by the link engine."),
		MessagesDecoded: in.counter("digibattle.messages.decoded", "Payloads decoded from the peer by result."),

		ActiveExchanges: active,

		HTTPRequestDuration: in.f64Histogram("digibattle.http.request.duration",
			metric.WithDescription("Diagnostics request latency by method, route and status."),
			metric.WithUnit("s")),
	}
	if err := errors.Join(in.errs...); err != nil {
		return nil, err
	}
	return m, nil
}

// DefaultMetrics returns the process-wide [Metrics] built on
// [otel.GetMeterProvider] at first use. It panics if an instrument cannot be
// created.
var DefaultMetrics = sync.OnceValue(func() *Metrics {
	m, err := NewMetrics(otel.GetMeterProvider())
	if err != nil {
		panic("observe: default metrics: " + err.Error())
	}
	return m
})

// RecordExchange records one ended exchange: its outcome counter, its
// duration and its partition count.
func (m *Metrics) RecordExchange(ctx context.Context, role, outcome string, seconds float64, partitions int) {
	byOutcome := metric.WithAttributes(
		attribute.String("role", role),
		attribute.String("outcome", outcome),
	)
	m.Exchanges.Add(ctx, 1, byOutcome)
	m.ExchangeDuration.Record(ctx, seconds, byOutcome)
	m.Partitions.Record(ctx, int64(partitions), metric.WithAttributes(attribute.String("role", role)))
}

// RecordSetupFailure counts an exchange that failed at stage.
func (m *Metrics) RecordSetupFailure(ctx context.Context, stage string) {
	m.SetupFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("stage", stage)))
}

// RecordDecoded counts one decoded payload with result "ok" or "truncated".
func (m *Metrics) RecordDecoded(ctx context.Context, result string) {
	m.MessagesDecoded.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}
