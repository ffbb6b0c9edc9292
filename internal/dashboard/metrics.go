package dashboard

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/coachpo/pulse/internal/telemetry"
)

type dashboardMetrics struct {
	frames metric.Int64Counter
}

func newDashboardMetrics() *dashboardMetrics {
	meter := otel.Meter("pulse.dashboard")
	frames, _ := meter.Int64Counter("pulse_dashboard_frames",
		metric.WithDescription("Inbound frames dispatched by message type and outcome"),
		metric.WithUnit("{frame}"))
	return &dashboardMetrics{frames: frames}
}

func (dm *dashboardMetrics) recordFrame(ctx context.Context, kind, result string) {
	if dm == nil || dm.frames == nil {
		return
	}
	attrs := append(telemetry.ResultAttributes(result), telemetry.AttrMessageType.String(kind))
	dm.frames.Add(ctx, 1, metric.WithAttributes(attrs...))
}
