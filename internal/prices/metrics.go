package prices

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/coachpo/pulse/internal/telemetry"
)

type priceMetrics struct {
	records metric.Int64Counter
}

func newPriceMetrics() *priceMetrics {
	meter := otel.Meter("pulse.prices")
	pm := &priceMetrics{records: nil}
	pm.records, _ = meter.Int64Counter("pulse_price_records",
		metric.WithDescription("Price records processed by outcome"),
		metric.WithUnit("{record}"))
	return pm
}

func (pm *priceMetrics) recordApply(ctx context.Context, applied, skipped int) {
	if pm == nil || pm.records == nil {
		return
	}
	if applied > 0 {
		pm.records.Add(ctx, int64(applied), metric.WithAttributes(telemetry.ResultAttributes(telemetry.ResultSuccess)...))
	}
	if skipped > 0 {
		pm.records.Add(ctx, int64(skipped), metric.WithAttributes(telemetry.ResultAttributes(telemetry.ResultSkipped)...))
	}
}

func (pm *priceMetrics) recordRejected(ctx context.Context, n int) {
	if pm == nil || pm.records == nil || n == 0 {
		return
	}
	pm.records.Add(ctx, int64(n), metric.WithAttributes(telemetry.ResultAttributes(telemetry.ResultError)...))
}
