// Package observe holds the relay's OpenTelemetry instruments and the
// Prometheus bridge that exposes them on /metrics.
package observe

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

const meterName = "github.com/room4-2/voicebridge"

// Direction of a relayed audio frame
const (
	DirectionUp   = "client_to_upstream"
	DirectionDown = "upstream_to_client"
)

// Doc QA outcomes
const (
	OutcomeAnswered    = "answered"
	OutcomeFailed      = "failed"
	OutcomeUnavailable = "unavailable"
)

// Metrics groups every instrument the relay records. Safe for concurrent use.
type Metrics struct {
	ActiveSessions metric.Int64UpDownCounter
	UpstreamOpens  metric.Int64Counter // attribute "status": ok|error
	UpstreamErrors metric.Int64Counter
	AudioFrames    metric.Int64Counter // attribute "direction"
	BargeIns       metric.Int64Counter
	DocQueries     metric.Int64Counter // attribute "outcome"
	DocQADuration  metric.Float64Histogram
}

var latencyBuckets = []float64{0.1, 0.25, 0.5, 1, 2, 4, 8, 16}

// NewMetrics creates all instruments on mp
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.ActiveSessions, err = m.Int64UpDownCounter("voicebridge.sessions.active",
		metric.WithDescription("Client WebSocket sessions currently open."),
	); err != nil {
		return nil, err
	}
	if met.UpstreamOpens, err = m.Int64Counter("voicebridge.upstream.opens",
		metric.WithDescription("Upstream live session open attempts by status."),
	); err != nil {
		return nil, err
	}
	if met.UpstreamErrors, err = m.Int64Counter("voicebridge.upstream.errors",
		metric.WithDescription("Errors reported by upstream live sessions."),
	); err != nil {
		return nil, err
	}
	if met.AudioFrames, err = m.Int64Counter("voicebridge.audio.frames",
		metric.WithDescription("Audio frames relayed by direction."),
	); err != nil {
		return nil, err
	}
	if met.BargeIns, err = m.Int64Counter("voicebridge.barge_ins",
		metric.WithDescription("Client barge-in requests."),
	); err != nil {
		return nil, err
	}
	if met.DocQueries, err = m.Int64Counter("voicebridge.doc_qa.queries",
		metric.WithDescription("Document questions by outcome."),
	); err != nil {
		return nil, err
	}
	if met.DocQADuration, err = m.Float64Histogram("voicebridge.doc_qa.duration",
		metric.WithDescription("Latency of document question answering."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	return met, nil
}

// Discard returns instruments that record nothing
func Discard() *Metrics {
	m, _ := NewMetrics(noop.NewMeterProvider())
	return m
}

func (m *Metrics) SessionOpened(ctx context.Context) { m.ActiveSessions.Add(ctx, 1) }
func (m *Metrics) SessionClosed(ctx context.Context) { m.ActiveSessions.Add(ctx, -1) }

func (m *Metrics) UpstreamOpened(ctx context.Context, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.UpstreamOpens.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}

func (m *Metrics) UpstreamError(ctx context.Context) { m.UpstreamErrors.Add(ctx, 1) }

func (m *Metrics) AudioFrame(ctx context.Context, direction string) {
	m.AudioFrames.Add(ctx, 1, metric.WithAttributes(attribute.String("direction", direction)))
}

func (m *Metrics) BargeIn(ctx context.Context) { m.BargeIns.Add(ctx, 1) }

// DocQuery records one document question and how long it took
func (m *Metrics) DocQuery(ctx context.Context, outcome string, took time.Duration) {
	attrs := metric.WithAttributes(attribute.String("outcome", outcome))
	m.DocQueries.Add(ctx, 1, attrs)
	m.DocQADuration.Record(ctx, took.Seconds(), attrs)
}
