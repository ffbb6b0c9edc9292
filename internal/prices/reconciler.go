// Package prices merges incremental price records into a consistent quote book.
package prices

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/shopspring/decimal"

	"github.com/coachpo/pulse/internal/observability"
	"github.com/coachpo/pulse/internal/schema"
)

// Direction is the sign of the last price move.
type Direction string

const (
	DirectionUp        Direction = "up"
	DirectionDown      Direction = "down"
	DirectionUnchanged Direction = "unchanged"
)

// Quote is a merged price record plus the movement derived from the previous value.
type Quote struct {
	Symbol     string          `json:"symbol"`
	Price      decimal.Decimal `json:"price"`
	Previous   decimal.Decimal `json:"previous"`
	Change24h  float64         `json:"change24h"`
	Volume24h  float64         `json:"volume24h,omitempty"`
	High24h    float64         `json:"high24h,omitempty"`
	Low24h     float64         `json:"low24h,omitempty"`
	RSI        *float64        `json:"rsi,omitempty"`
	IsTrending bool            `json:"isTrending,omitempty"`
	Timestamp  schema.Millis   `json:"timestamp"`
	Direction  Direction       `json:"direction"`
	Changed    bool            `json:"changed"`
}

// Snapshot is an immutable view of the quote book. The zero value is empty.
type Snapshot struct {
	quotes  map[string]Quote
	stats   *schema.GlobalStats
	version uint64
}

// Get returns the quote for symbol.
func (s Snapshot) Get(symbol string) (Quote, bool) {
	q, ok := s.quotes[symbol]
	return q, ok
}

// Len returns the number of symbols.
func (s Snapshot) Len() int {
	return len(s.quotes)
}

// Version increases by one for every applied update.
func (s Snapshot) Version() uint64 {
	return s.version
}

// Symbols returns the known symbols in ascending order.
func (s Snapshot) Symbols() []string {
	out := make([]string, 0, len(s.quotes))
	for symbol := range s.quotes {
		out = append(out, symbol)
	}
	sort.Strings(out)
	return out
}

// Quotes returns a copy of the book keyed by symbol.
func (s Snapshot) Quotes() map[string]Quote {
	out := make(map[string]Quote, len(s.quotes))
	for k, v := range s.quotes {
		out[k] = v
	}
	return out
}

// GlobalStats returns the most recent market-wide aggregates, if any were seen.
func (s Snapshot) GlobalStats() (schema.GlobalStats, bool) {
	if s.stats == nil {
		return schema.GlobalStats{}, false
	}
	return *s.stats, true
}

// Reconciler owns the quote book. Writers are serialized; readers load the last
// published snapshot without locking.
type Reconciler struct {
	mu      sync.Mutex
	current atomic.Pointer[Snapshot]
	logger  observability.Logger
	metrics *priceMetrics
}

// NewReconciler returns an empty reconciler. A nil logger uses the global logger.
func NewReconciler(logger observability.Logger) *Reconciler {
	if logger == nil {
		logger = observability.Log()
	}
	r := &Reconciler{logger: logger, metrics: newPriceMetrics()}
	r.current.Store(&Snapshot{quotes: map[string]Quote{}})
	return r
}

// Apply merges update into the book and publishes the result. Symbols absent from
// update are left untouched; records without a price are skipped.
func (r *Reconciler) Apply(update map[string]schema.PriceRecord) Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	prev := r.current.Load()
	next := &Snapshot{
		quotes:  make(map[string]Quote, len(prev.quotes)+len(update)),
		stats:   prev.stats,
		version: prev.version + 1,
	}
	for k, v := range prev.quotes {
		next.quotes[k] = v
	}

	keys := make([]string, 0, len(update))
	for key := range update {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	applied, skipped := 0, 0
	statsTaken := false
	for _, key := range keys {
		rec := update[key]
		symbol := rec.Symbol
		if symbol == "" {
			symbol = key
		}
		if !statsTaken && rec.GlobalStats != nil {
			stats := *rec.GlobalStats
			next.stats = &stats
			statsTaken = true
		}
		if !rec.HasPrice() {
			skipped++
			r.logger.Warn("price record without price skipped", observability.F("symbol", symbol))
			continue
		}
		old := decimal.Zero
		if existing, ok := prev.quotes[symbol]; ok {
			old = existing.Price
		}
		next.quotes[symbol] = merge(symbol, rec, old)
		applied++
	}

	r.current.Store(next)
	r.metrics.recordApply(context.Background(), applied, skipped)
	return *next
}

// ApplyUpdate applies a decoded payload and logs entries that failed to decode.
func (r *Reconciler) ApplyUpdate(update schema.PriceUpdate) Snapshot {
	for symbol, err := range update.Rejected {
		r.logger.Warn("malformed price record dropped", observability.F("symbol", symbol), observability.F("error", err))
	}
	r.metrics.recordRejected(context.Background(), len(update.Rejected))
	return r.Apply(update.Records)
}

// Snapshot returns the last published book.
func (r *Reconciler) Snapshot() Snapshot {
	return *r.current.Load()
}

// Get returns the current quote for symbol.
func (r *Reconciler) Get(symbol string) (Quote, bool) {
	return r.Snapshot().Get(symbol)
}

// GlobalStats returns the most recent market-wide aggregates.
func (r *Reconciler) GlobalStats() (schema.GlobalStats, bool) {
	return r.Snapshot().GlobalStats()
}

func merge(symbol string, rec schema.PriceRecord, old decimal.Decimal) Quote {
	price := *rec.Price
	q := Quote{
		Symbol:     symbol,
		Price:      price,
		Previous:   old,
		Change24h:  rec.Change24h,
		Volume24h:  rec.Volume24h,
		High24h:    rec.High24h,
		Low24h:     rec.Low24h,
		RSI:        rec.RSI,
		IsTrending: rec.IsTrending,
		Timestamp:  rec.Timestamp,
		Direction:  DirectionUnchanged,
		Changed:    !price.Equal(old),
	}
	switch price.Cmp(old) {
	case 1:
		q.Direction = DirectionUp
	case -1:
		q.Direction = DirectionDown
	}
	return q
}
