package api

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/coachpo/pulse/errs"
	"github.com/coachpo/pulse/internal/telemetry"
)

type apiMetrics struct {
	requests metric.Int64Counter
	duration metric.Float64Histogram
}

func newAPIMetrics() *apiMetrics {
	meter := otel.Meter("pulse.api")
	am := &apiMetrics{requests: nil, duration: nil}

	am.requests, _ = meter.Int64Counter("pulse.api.requests",
		metric.WithDescription("Backfill requests by endpoint and outcome"),
		metric.WithUnit("{request}"))

	am.duration, _ = meter.Float64Histogram("pulse.api.request.duration",
		metric.WithDescription("Latency of backfill requests"),
		metric.WithUnit("ms"))

	return am
}

func (am *apiMetrics) recordRequest(ctx context.Context, endpoint string, elapsed time.Duration, err error) {
	if am == nil || am.requests == nil {
		return
	}
	result := telemetry.ResultSuccess
	if err != nil {
		result = telemetry.ResultError
		if code, ok := errs.CodeOf(err); ok {
			result = string(code)
		}
	}
	attrs := metric.WithAttributes(
		telemetry.AttrEnvironment.String(telemetry.Environment()),
		telemetry.AttrEndpoint.String(endpoint),
		telemetry.AttrResult.String(result),
	)
	am.requests.Add(ctx, 1, attrs)
	if am.duration != nil {
		am.duration.Record(ctx, float64(elapsed.Microseconds())/1000, attrs)
	}
}
