package chart

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/coachpo/pulse/internal/telemetry"
)

type chartMetrics struct {
	fetches metric.Int64Counter
}

func newChartMetrics() *chartMetrics {
	meter := otel.Meter("pulse.chart")
	cm := &chartMetrics{fetches: nil}
	cm.fetches, _ = meter.Int64Counter("pulse_chart_history_fetches",
		metric.WithDescription("History backfills by resolution and outcome"),
		metric.WithUnit("{fetch}"))
	return cm
}

func (cm *chartMetrics) recordFetch(ctx context.Context, res Resolution, result string) {
	if cm == nil || cm.fetches == nil {
		return
	}
	cm.fetches.Add(ctx, 1, metric.WithAttributes(
		telemetry.AttrEnvironment.String(telemetry.Environment()),
		telemetry.AttrResolution.String(string(res)),
		telemetry.AttrResult.String(result),
	))
}
