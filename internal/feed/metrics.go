package feed

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/coachpo/pulse/internal/telemetry"
)

type feedMetrics struct {
	feed string

	pages    metric.Int64Counter
	added    metric.Int64Counter
	duration metric.Float64Histogram
}

func newFeedMetrics(feed string) *feedMetrics {
	meter := otel.Meter("pulse.feed")
	fm := &feedMetrics{feed: feed, pages: nil, added: nil, duration: nil}

	fm.pages, _ = meter.Int64Counter("pulse_feed_page_requests",
		metric.WithDescription("Paginated feed load requests by outcome"),
		metric.WithUnit("{request}"))

	fm.added, _ = meter.Int64Counter("pulse_feed_items_added",
		metric.WithDescription("Items appended to a feed by pagination"),
		metric.WithUnit("{item}"))

	fm.duration, _ = meter.Float64Histogram("pulse_feed_page_duration",
		metric.WithDescription("Latency of feed page requests"),
		metric.WithUnit("ms"))

	return fm
}

func (fm *feedMetrics) recordPage(ctx context.Context, result string, elapsed time.Duration, added int) {
	if fm == nil || fm.pages == nil {
		return
	}
	attrs := metric.WithAttributes(telemetry.FeedAttributes(fm.feed, result)...)
	fm.pages.Add(ctx, 1, attrs)
	if elapsed > 0 && fm.duration != nil {
		fm.duration.Record(ctx, float64(elapsed.Microseconds())/1000, attrs)
	}
	if added > 0 && fm.added != nil {
		fm.added.Add(ctx, int64(added), attrs)
	}
}
