package stream

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/coachpo/pulse/internal/telemetry"
)

type streamMetrics struct {
	environment string

	connects       metric.Int64Counter
	framesReceived metric.Int64Counter
	framesSkipped  metric.Int64Counter
	frameBytes     metric.Int64Histogram
	pingLatency    metric.Float64Histogram
	terminal       metric.Int64Counter
}

func newStreamMetrics() *streamMetrics {
	meter := otel.Meter("pulse.stream")
	sm := &streamMetrics{
		environment:    telemetry.Environment(),
		connects:       nil,
		framesReceived: nil,
		framesSkipped:  nil,
		frameBytes:     nil,
		pingLatency:    nil,
		terminal:       nil,
	}

	sm.connects, _ = meter.Int64Counter("pulse_stream_connects",
		metric.WithDescription("Websocket connection attempts by result"),
		metric.WithUnit("{attempt}"))

	sm.framesReceived, _ = meter.Int64Counter("pulse_stream_frames",
		metric.WithDescription("Text frames handed to the message handler"),
		metric.WithUnit("{frame}"))

	sm.framesSkipped, _ = meter.Int64Counter("pulse_stream_frames_skipped",
		metric.WithDescription("Non-text frames ignored by the manager"),
		metric.WithUnit("{frame}"))

	sm.frameBytes, _ = meter.Int64Histogram("pulse_stream_frame_bytes",
		metric.WithDescription("Size of received text frames"),
		metric.WithUnit("By"))

	sm.pingLatency, _ = meter.Float64Histogram("pulse_stream_ping_latency",
		metric.WithDescription("Round trip latency of keepalive pings"),
		metric.WithUnit("ms"))

	sm.terminal, _ = meter.Int64Counter("pulse_stream_terminal",
		metric.WithDescription("Times the manager gave up after exhausting reconnect attempts"),
		metric.WithUnit("{event}"))

	return sm
}

func (sm *streamMetrics) baseAttrs() []attribute.KeyValue {
	return []attribute.KeyValue{telemetry.AttrEnvironment.String(sm.environment)}
}

func (sm *streamMetrics) recordConnect(ctx context.Context, result string) {
	if sm == nil || sm.connects == nil {
		return
	}
	attrs := append(sm.baseAttrs(), telemetry.AttrResult.String(result))
	sm.connects.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func (sm *streamMetrics) recordFrame(ctx context.Context, size int) {
	if sm == nil || sm.framesReceived == nil {
		return
	}
	attrs := metric.WithAttributes(sm.baseAttrs()...)
	sm.framesReceived.Add(ctx, 1, attrs)
	if sm.frameBytes != nil {
		sm.frameBytes.Record(ctx, int64(size), attrs)
	}
}

func (sm *streamMetrics) recordSkipped(ctx context.Context) {
	if sm == nil || sm.framesSkipped == nil {
		return
	}
	sm.framesSkipped.Add(ctx, 1, metric.WithAttributes(sm.baseAttrs()...))
}

func (sm *streamMetrics) recordPing(ctx context.Context, latency time.Duration, result string) {
	if sm == nil || sm.pingLatency == nil {
		return
	}
	attrs := append(sm.baseAttrs(), telemetry.AttrResult.String(result))
	sm.pingLatency.Record(ctx, float64(latency.Microseconds())/1000, metric.WithAttributes(attrs...))
}

func (sm *streamMetrics) recordTerminal(ctx context.Context) {
	if sm == nil || sm.terminal == nil {
		return
	}
	sm.terminal.Add(ctx, 1, metric.WithAttributes(sm.baseAttrs()...))
}
