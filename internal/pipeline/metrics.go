package pipeline

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

type metrics struct {
	requests metric.Int64Counter
	stages   metric.Float64Histogram
	bytes    metric.Int64Histogram
}

func newMetrics(meter metric.Meter) (*metrics, error) {
	requests, err := meter.Int64Counter("voiceagent.requests",
		metric.WithDescription("Processed requests by outcome."))
	if err != nil {
		return nil, err
	}
	stages, err := meter.Float64Histogram("voiceagent.stage.duration",
		metric.WithDescription("Pipeline stage latency."),
		metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}
	bytes, err := meter.Int64Histogram("voiceagent.audio.bytes",
		metric.WithDescription("Size of accepted audio artifacts."),
		metric.WithUnit("By"))
	if err != nil {
		return nil, err
	}
	return &metrics{requests: requests, stages: stages, bytes: bytes}, nil
}

func (m *metrics) request(ctx context.Context, outcome string) {
	m.requests.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

func (m *metrics) stage(ctx context.Context, stage string, d time.Duration) {
	m.stages.Record(ctx, d.Seconds(), metric.WithAttributes(attribute.String("stage", stage)))
}

func (m *metrics) audioBytes(ctx context.Context, n int64) {
	m.bytes.Record(ctx, n)
}
