package chart

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/coachpo/pulse/errs"
	"github.com/coachpo/pulse/internal/observability"
	"github.com/coachpo/pulse/internal/schema"
	"github.com/coachpo/pulse/internal/telemetry"
)

// HistoryFetcher loads the stored series for a symbol over a period.
type HistoryFetcher interface {
	History(ctx context.Context, symbol, period string) ([]schema.HistoryPoint, error)
}

// SeriesConfig configures a Series.
type SeriesConfig struct {
	Resolution Resolution
	MaxPoints  int
	Clock      func() time.Time
	Logger     observability.Logger
}

// View is a display-ready copy of a series.
type View struct {
	Symbol     string     `json:"symbol"`
	Resolution Resolution `json:"resolution"`
	Open       bool       `json:"open"`
	Loading    bool       `json:"loading"`
	Anchor     time.Time  `json:"anchor"`
	Points     []Point    `json:"points"`
	Stats      Stats      `json:"stats"`
}

// Series is the chart state of one symbol. Each resolution keeps its own history;
// live ticks are ingested into every populated one while the series is open.
type Series struct {
	symbol  string
	fetcher HistoryFetcher
	cfg     SeriesConfig
	logger  observability.Logger
	metrics *chartMetrics

	mu        sync.Mutex
	open      bool
	res       Resolution
	histories map[Resolution]*History
	gen       uint64
	loading   bool
	anchor    time.Time
	resCh     chan struct{}
}

// NewSeries returns a closed series for symbol.
func NewSeries(symbol string, fetcher HistoryFetcher, cfg SeriesConfig) *Series {
	if !cfg.Resolution.Valid() {
		cfg.Resolution = DefaultResolution
	}
	if cfg.MaxPoints <= 0 {
		cfg.MaxPoints = MaxPoints
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = observability.Log()
	}
	return &Series{
		symbol:    symbol,
		fetcher:   fetcher,
		cfg:       cfg,
		logger:    logger,
		metrics:   newChartMetrics(),
		res:       cfg.Resolution,
		histories: make(map[Resolution]*History),
		resCh:     make(chan struct{}, 1),
	}
}

// Symbol returns the series symbol.
func (s *Series) Symbol() string {
	return s.symbol
}

// Open marks the series visible and backfills the active resolution if it is empty.
func (s *Series) Open(ctx context.Context) error {
	s.mu.Lock()
	s.open = true
	populated := s.historyLocked(s.res).Len() > 0
	s.mu.Unlock()
	s.syncAnchor()
	if populated {
		return nil
	}
	return s.fetch(ctx)
}

// Close stops live ingestion and invalidates any in-flight fetch. Histories are kept.
func (s *Series) Close() {
	s.mu.Lock()
	s.open = false
	s.gen++
	s.loading = false
	s.mu.Unlock()
}

// IsOpen reports whether the series is visible.
func (s *Series) IsOpen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.open
}

// Resolution returns the active resolution.
func (s *Series) Resolution() Resolution {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.res
}

// SetResolution switches the active resolution, clears its ingest throttle and
// backfills it unless it already holds points. Any fetch still in flight is discarded.
func (s *Series) SetResolution(ctx context.Context, res Resolution) error {
	if !res.Valid() {
		return errs.New("chart", errs.CodeInvalid,
			errs.WithMessage("unknown resolution"), errs.WithField("resolution", string(res)))
	}
	s.mu.Lock()
	s.res = res
	s.gen++
	s.loading = false
	h := s.historyLocked(res)
	h.ResetThrottle()
	populated := h.Len() > 0
	s.mu.Unlock()

	select {
	case s.resCh <- struct{}{}:
	default:
	}
	s.syncAnchor()
	if populated {
		return nil
	}
	return s.fetch(ctx)
}

// Refresh re-fetches the active resolution.
func (s *Series) Refresh(ctx context.Context) error {
	return s.fetch(ctx)
}

// fetch backfills the active resolution. A response that arrives after a newer fetch
// started, or after the series closed, is discarded with CodeStale.
func (s *Series) fetch(ctx context.Context) error {
	s.mu.Lock()
	s.gen++
	token := s.gen
	res := s.res
	s.loading = true
	s.mu.Unlock()

	points, err := s.fetcher.History(ctx, s.symbol, string(res))

	s.mu.Lock()
	defer s.mu.Unlock()
	if token != s.gen {
		s.metrics.recordFetch(ctx, res, telemetry.ResultStale)
		return errs.New("chart", errs.CodeStale,
			errs.WithMessage("superseded history response discarded"),
			errs.WithField("symbol", s.symbol), errs.WithField("resolution", string(res)))
	}
	s.loading = false
	if err != nil {
		s.metrics.recordFetch(ctx, res, telemetry.ResultError)
		s.logger.Warn("history fetch failed",
			observability.F("symbol", s.symbol),
			observability.F("resolution", string(res)),
			observability.F("error", err))
		return fmt.Errorf("fetch %s history: %w", s.symbol, err)
	}
	s.historyLocked(res).Replace(points)
	s.metrics.recordFetch(ctx, res, telemetry.ResultSuccess)
	return nil
}

// Push ingests a live tick. It reports whether the active history took the point.
// A zero time is replaced by the clock.
func (s *Series) Push(ts schema.Millis, price decimal.Decimal) bool {
	if ts == 0 {
		ts = schema.Millis(s.cfg.Clock().UnixMilli())
	}
	p := Point{Time: ts, Price: price}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.open {
		return false
	}
	took := false
	for res, h := range s.histories {
		if res != s.res && h.Len() == 0 {
			continue
		}
		if h.Ingest(p) && res == s.res {
			took = true
		}
	}
	return took
}

// Anchor returns the later of now and the newest point of the active history.
func (s *Series) Anchor(now time.Time) time.Time {
	s.mu.Lock()
	h := s.historyLocked(s.res)
	s.mu.Unlock()
	if latest, ok := h.Latest(); ok {
		if t := time.UnixMilli(int64(latest.Time)); t.After(now) {
			return t
		}
	}
	return now
}

// Display returns the down-sampled active history anchored at Anchor(now).
func (s *Series) Display(now time.Time) []Point {
	s.mu.Lock()
	res := s.res
	h := s.historyLocked(res)
	s.mu.Unlock()
	return Sample(h.Points(), res, s.Anchor(now))
}

// Stats summarizes the full active history.
func (s *Series) Stats() Stats {
	s.mu.Lock()
	h := s.historyLocked(s.res)
	s.mu.Unlock()
	return Summarize(h.Points())
}

// Snapshot returns the series as last anchored by the ticker.
func (s *Series) Snapshot() View {
	s.mu.Lock()
	res := s.res
	h := s.historyLocked(res)
	anchor := s.anchor
	v := View{Symbol: s.symbol, Resolution: res, Open: s.open, Loading: s.loading}
	s.mu.Unlock()

	if anchor.IsZero() {
		anchor = s.Anchor(s.cfg.Clock())
	}
	points := h.Points()
	v.Anchor = anchor
	v.Points = Sample(points, res, anchor)
	v.Stats = Summarize(points)
	return v
}

// RunTicker advances the anchor at the active resolution's refresh interval until
// ctx is done, calling onTick after each advance. A resolution change restarts the
// interval immediately.
func (s *Series) RunTicker(ctx context.Context, onTick func(time.Time)) {
	for {
		timer := time.NewTimer(s.Resolution().Refresh())
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-s.resCh:
			timer.Stop()
		case <-timer.C:
		}
		anchor := s.syncAnchor()
		if onTick != nil {
			onTick(anchor)
		}
	}
}

func (s *Series) syncAnchor() time.Time {
	anchor := s.Anchor(s.cfg.Clock())
	s.mu.Lock()
	s.anchor = anchor
	s.mu.Unlock()
	return anchor
}

func (s *Series) historyLocked(res Resolution) *History {
	h, ok := s.histories[res]
	if !ok {
		h = NewHistory(res, s.cfg.MaxPoints)
		s.histories[res] = h
	}
	return h
}
