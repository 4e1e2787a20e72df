// Package observe wires OpenTelemetry metrics and tracing for the chat
// backend. Metrics are exported through a Prometheus bridge so they can be
// scraped from /metrics.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/comigor/localchat"

// Metrics holds every instrument used by the application. The zero value is
// not usable; build one with NewMetrics or DefaultMetrics.
type Metrics struct {
	// TurnDuration tracks chat turns from request to terminal state, by
	// attribute "state".
	TurnDuration metric.Float64Histogram

	// Turns counts chat turns by terminal "state".
	Turns metric.Int64Counter

	// ActiveStreams tracks chat turns currently streaming.
	ActiveStreams metric.Int64UpDownCounter

	// MemorySearchFailures counts long-term memory searches that were
	// dropped from the prompt.
	MemorySearchFailures metric.Int64Counter

	// PersistErrors counts failed background writes, by "target"
	// (history or memory).
	PersistErrors metric.Int64Counter

	// TTSDuration tracks speech synthesis latency, by "status".
	TTSDuration metric.Float64Histogram

	// HTTPRequestDuration tracks HTTP handling time, by "method" and "route".
	HTTPRequestDuration metric.Float64Histogram
}

var latencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60,
}

// NewMetrics creates every instrument on mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.TurnDuration, err = m.Float64Histogram("localchat.chat.turn.duration",
		metric.WithDescription("Latency of chat turns until their terminal state."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.Turns, err = m.Int64Counter("localchat.chat.turns",
		metric.WithDescription("Chat turns by terminal state."),
	); err != nil {
		return nil, err
	}
	if met.ActiveStreams, err = m.Int64UpDownCounter("localchat.chat.active_streams",
		metric.WithDescription("Chat turns currently streaming."),
	); err != nil {
		return nil, err
	}
	if met.MemorySearchFailures, err = m.Int64Counter("localchat.memory.search_failures",
		metric.WithDescription("Long-term memory searches omitted from the prompt."),
	); err != nil {
		return nil, err
	}
	if met.PersistErrors, err = m.Int64Counter("localchat.persist.errors",
		metric.WithDescription("Failed background writes by target."),
	); err != nil {
		return nil, err
	}
	if met.TTSDuration, err = m.Float64Histogram("localchat.tts.duration",
		metric.WithDescription("Latency of speech synthesis."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("localchat.http.request.duration",
		metric.WithDescription("HTTP request latency by method and route."),
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

// DefaultMetrics returns a package-level Metrics built on the global
// MeterProvider. Call it after InitProvider so instruments are exported.
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

// RecordTurn records a finished chat turn.
func (m *Metrics) RecordTurn(ctx context.Context, state string, d time.Duration) {
	attrs := metric.WithAttributes(attribute.String("state", state))
	m.TurnDuration.Record(ctx, d.Seconds(), attrs)
	m.Turns.Add(ctx, 1, attrs)
}

// RecordPersistError counts a failed background write to target.
func (m *Metrics) RecordPersistError(ctx context.Context, target string) {
	m.PersistErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("target", target)))
}

// RecordTTS records one synthesis call.
func (m *Metrics) RecordTTS(ctx context.Context, d time.Duration, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.TTSDuration.Record(ctx, d.Seconds(), metric.WithAttributes(attribute.String("status", status)))
}
