package dashboard

import (
	"context"

	"github.com/coachpo/pulse/internal/feed"
	"github.com/coachpo/pulse/internal/observability"
	"github.com/coachpo/pulse/internal/schema"
	"github.com/coachpo/pulse/internal/telemetry"
)

// handleFrame runs on the connection's read goroutine. Frames that fail to decode
// are logged and dropped; the connection stays up.
func (d *Dashboard) handleFrame(frame []byte) {
	msg, err := schema.Decode(frame)
	if err != nil {
		d.logger.Warn("dropping inbound frame", observability.F("error", err),
			observability.F("bytes", len(frame)))
		d.deadLetters.Offer("stream", err.Error(), frame, d.cfg.Clock())
		d.metrics.recordFrame(context.Background(), "unknown", telemetry.ResultSkipped)
		return
	}
	d.dispatch(msg)
	d.metrics.recordFrame(context.Background(), string(msg.Kind()), telemetry.ResultSuccess)
	d.publish()
}

func (d *Dashboard) dispatch(msg schema.Inbound) {
	switch m := msg.(type) {
	case schema.Update:
		if m.Prices != nil {
			d.applyPrices(*m.Prices)
		}
		for _, pushed := range m.Messages {
			d.messages.Upsert(feed.NormalizeMessage(pushed))
		}
		for _, bad := range m.Rejected {
			d.deadLetters.Offer("telegram", bad.Err.Error(), bad.Raw, d.cfg.Clock())
		}
	case schema.FeedPush:
		d.messages.Upsert(feed.NormalizeMessage(m.Message))
	case schema.Prices:
		d.applyPrices(m.Prices)
	default:
		d.logger.Warn("unhandled inbound kind", observability.F("type", string(msg.Kind())))
		return
	}
	d.mu.Lock()
	d.lastUpdate = d.cfg.Clock()
	d.mu.Unlock()
}

// applyPrices merges a price delta and forwards each priced record to its open chart.
func (d *Dashboard) applyPrices(update schema.PriceUpdate) {
	d.prices.ApplyUpdate(update)
	for symbol, err := range update.Rejected {
		d.deadLetters.Offer("prices", symbol+": "+err.Error(), nil, d.cfg.Clock())
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.charts) == 0 {
		return
	}
	for symbol, rec := range update.Records {
		if !rec.HasPrice() {
			continue
		}
		entry, ok := d.charts[symbol]
		if !ok {
			continue
		}
		entry.series.Push(rec.Timestamp, *rec.Price)
	}
}
