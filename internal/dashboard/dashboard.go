// Package dashboard wires the connection, reconcilers and derived views into a
// single consumer-facing state.
package dashboard

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sourcegraph/conc"

	"github.com/coachpo/pulse/errs"
	"github.com/coachpo/pulse/internal/chart"
	"github.com/coachpo/pulse/internal/feed"
	"github.com/coachpo/pulse/internal/notify"
	"github.com/coachpo/pulse/internal/observability"
	"github.com/coachpo/pulse/internal/prices"
	"github.com/coachpo/pulse/internal/schema"
	"github.com/coachpo/pulse/internal/sentiment"
	"github.com/coachpo/pulse/internal/stream"
	"github.com/coachpo/pulse/internal/view"
)

// Connection is the duplex market connection.
type Connection interface {
	Start(ctx context.Context, url string, onMessage func([]byte)) error
	Stop()
	Status() stream.Status
	Subscribe(fn func(stream.Status)) func()
}

// Backend serves the request/response endpoints.
type Backend interface {
	Messages(ctx context.Context, limit, skip int) ([]schema.Message, error)
	News(ctx context.Context, limit, skip int) ([]schema.Article, error)
	chart.HistoryFetcher
	sentiment.Fetcher
}

// Config tunes the dashboard.
type Config struct {
	URL               string
	PageSize          int
	ChartResolution   chart.Resolution
	MaxPoints         int
	SentimentEnabled  bool
	SentimentInterval time.Duration
	Clock             func() time.Time
	Logger            observability.Logger
}

// State is an immutable copy of everything a consumer renders.
type State struct {
	Connection        stream.Status       `json:"connection"`
	Rows              []prices.Quote      `json:"rows"`
	View              view.State          `json:"view"`
	GlobalStats       *schema.GlobalStats `json:"globalStats,omitempty"`
	Messages          []schema.Message    `json:"messages"`
	News              []schema.Article    `json:"news"`
	MessagesLoading   bool                `json:"messagesLoading"`
	MessagesExhausted bool                `json:"messagesExhausted"`
	NewsLoading       bool                `json:"newsLoading"`
	NewsExhausted     bool                `json:"newsExhausted"`
	Sentiment         sentiment.Reading   `json:"sentiment"`
	Charts            []string            `json:"charts"`
	LastUpdate        time.Time           `json:"lastUpdate,omitempty"`
	PriceVersion      uint64              `json:"priceVersion"`
	DeadLetters       int                 `json:"deadLetters"`
}

const deadLetterCapacity = 100

type chartEntry struct {
	series *chart.Series
	cancel context.CancelFunc
}

// Dashboard owns all client state. Frames are applied on the connection's read
// goroutine in arrival order; consumers read snapshots and are notified on change.
type Dashboard struct {
	cfg     Config
	conn    Connection
	backend Backend
	logger  observability.Logger
	metrics *dashboardMetrics

	prices        *prices.Reconciler
	messages      *feed.Collection[schema.Message]
	messageLoader *feed.Loader[schema.Message]
	news          *feed.Collection[schema.Article]
	newsLoader    *feed.Loader[schema.Article]
	projector     *view.Projector
	sentiment     *sentiment.Poller
	hub           *notify.Hub[State]
	deadLetters   *observability.DeadLetterQueue

	mu         sync.Mutex
	charts     map[string]*chartEntry
	lastUpdate time.Time
	runCtx     context.Context
	cancel     context.CancelFunc
	started    bool
	stopped    bool
	unwatch    func()

	wg       conc.WaitGroup
	stopOnce sync.Once
}

// New assembles a dashboard. Nothing runs until Start.
func New(cfg Config, conn Connection, backend Backend) *Dashboard {
	if cfg.PageSize <= 0 {
		cfg.PageSize = feed.DefaultPageSize
	}
	if !cfg.ChartResolution.Valid() {
		cfg.ChartResolution = chart.DefaultResolution
	}
	if cfg.MaxPoints <= 0 {
		cfg.MaxPoints = chart.MaxPoints
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = observability.Log()
	}

	d := &Dashboard{
		cfg:         cfg,
		conn:        conn,
		backend:     backend,
		logger:      logger,
		metrics:     newDashboardMetrics(),
		prices:      prices.NewReconciler(logger),
		messages:    feed.NewCollection(schema.Message.Key),
		news:        feed.NewCollection(schema.Article.Key),
		projector:   view.NewProjector(),
		hub:         notify.NewHub[State](8),
		deadLetters: observability.NewDeadLetterQueue(deadLetterCapacity),
		charts:      make(map[string]*chartEntry),
	}
	d.messageLoader = feed.NewLoader(d.messages,
		feed.PageFetcherFunc[schema.Message](backend.Messages),
		feed.LoaderConfig[schema.Message]{
			Name:      "messages",
			PageSize:  cfg.PageSize,
			Normalize: feed.NormalizeMessage,
			OnChange:  d.publish,
			Logger:    logger,
		})
	d.newsLoader = feed.NewLoader(d.news,
		feed.PageFetcherFunc[schema.Article](backend.News),
		feed.LoaderConfig[schema.Article]{
			Name:     "news",
			PageSize: cfg.PageSize,
			OnChange: d.publish,
			Logger:   logger,
		})
	d.sentiment = sentiment.NewPoller(backend, sentiment.Options{
		Interval: cfg.SentimentInterval,
		OnChange: func(sentiment.Reading) { d.publish() },
		Clock:    cfg.Clock,
		Logger:   logger,
	})
	return d
}

// Start opens the connection, loads the first page of both feeds concurrently and
// starts the sentiment poller.
func (d *Dashboard) Start(ctx context.Context) error {
	d.mu.Lock()
	if d.started {
		d.mu.Unlock()
		return errs.New("dashboard", errs.CodeInvalid, errs.WithMessage("dashboard already started"))
	}
	d.started = true
	d.runCtx, d.cancel = context.WithCancel(ctx)
	runCtx := d.runCtx
	d.unwatch = d.conn.Subscribe(func(status stream.Status) {
		d.logger.Debug("connection status", observability.F("state", string(status.State)),
			observability.F("attempts", status.Attempts))
		d.publish()
	})
	d.mu.Unlock()

	if err := d.conn.Start(runCtx, d.cfg.URL, d.handleFrame); err != nil {
		d.abortStart()
		return fmt.Errorf("start connection: %w", err)
	}

	d.wg.Go(func() { _, _ = d.messageLoader.LoadMore(runCtx) })
	d.wg.Go(func() { _, _ = d.newsLoader.LoadMore(runCtx) })
	if d.cfg.SentimentEnabled {
		d.wg.Go(func() { d.sentiment.Run(runCtx) })
	}
	d.logger.Info("dashboard started", observability.F("url", d.cfg.URL))
	return nil
}

// abortStart undoes a Start whose connection failed so a later Start can retry.
func (d *Dashboard) abortStart() {
	d.mu.Lock()
	cancel, unwatch := d.cancel, d.unwatch
	d.started = false
	d.runCtx, d.cancel, d.unwatch = nil, nil, nil
	d.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	if unwatch != nil {
		unwatch()
	}
}

// Stop closes the connection and cancels pollers and tickers. It waits for
// background work until ctx is done. Calling it again is a no-op.
func (d *Dashboard) Stop(ctx context.Context) error {
	var err error
	d.stopOnce.Do(func() {
		d.mu.Lock()
		d.stopped = true
		cancel := d.cancel
		unwatch := d.unwatch
		for _, entry := range d.charts {
			entry.series.Close()
			if entry.cancel != nil {
				entry.cancel()
			}
		}
		d.mu.Unlock()

		if cancel != nil {
			cancel()
		}
		d.conn.Stop()
		if unwatch != nil {
			unwatch()
		}

		done := make(chan struct{})
		go func() {
			d.wg.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			err = fmt.Errorf("dashboard stop: %w", ctx.Err())
		}
		d.hub.Close()
		d.logger.Info("dashboard stopped")
	})
	return err
}

// Reconnect drops the current connection and starts a new one with a fresh retry budget.
func (d *Dashboard) Reconnect() error {
	runCtx, err := d.running()
	if err != nil {
		return err
	}
	d.conn.Stop()
	if err := d.conn.Start(runCtx, d.cfg.URL, d.handleFrame); err != nil {
		return fmt.Errorf("restart connection: %w", err)
	}
	return nil
}

// Subscribe calls fn with a fresh State after every change, on its own goroutine.
// Under load intermediate states may be skipped; the latest is always delivered.
func (d *Dashboard) Subscribe(fn func(State)) func() {
	id, ch := d.hub.Subscribe(context.Background())
	go func() {
		for s := range ch {
			fn(s)
		}
	}()
	return func() { d.hub.Unsubscribe(id) }
}

// State returns the current consumer-facing state.
func (d *Dashboard) State() State {
	snap := d.prices.Snapshot()
	st := State{
		Connection:        d.conn.Status(),
		Rows:              d.projector.Project(snap.Quotes()),
		View:              d.projector.State(),
		Messages:          d.messages.Items(),
		News:              d.news.Items(),
		MessagesLoading:   d.messageLoader.Loading(),
		MessagesExhausted: d.messageLoader.Exhausted(),
		NewsLoading:       d.newsLoader.Loading(),
		NewsExhausted:     d.newsLoader.Exhausted(),
		Sentiment:         d.sentiment.Current(),
		PriceVersion:      snap.Version(),
		DeadLetters:       d.deadLetters.Len(),
	}
	if stats, ok := snap.GlobalStats(); ok {
		st.GlobalStats = &stats
	}

	d.mu.Lock()
	st.LastUpdate = d.lastUpdate
	for symbol, entry := range d.charts {
		if entry.series.IsOpen() {
			st.Charts = append(st.Charts, symbol)
		}
	}
	d.mu.Unlock()
	sort.Strings(st.Charts)
	return st
}

// DeadLetters returns the most recent inbound payloads that could not be applied.
func (d *Dashboard) DeadLetters() []observability.DeadLetter {
	return d.deadLetters.Letters()
}

// LoadMoreMessages pages older feed messages in.
func (d *Dashboard) LoadMoreMessages(ctx context.Context) (int, error) {
	return d.messageLoader.LoadMore(ctx)
}

// LoadMoreNews pages older news articles in.
func (d *Dashboard) LoadMoreNews(ctx context.Context) (int, error) {
	return d.newsLoader.LoadMore(ctx)
}

// SetFilter changes the row filter.
func (d *Dashboard) SetFilter(mode string) error {
	if err := d.projector.SetFilter(view.FilterMode(mode)); err != nil {
		return err
	}
	d.publish()
	return nil
}

// SetSort orders rows by a column. Choosing the current column again flips the
// direction; an empty key restores the filter's default order.
func (d *Dashboard) SetSort(key string) error {
	if err := d.projector.SetSort(view.SortKey(key)); err != nil {
		return err
	}
	d.publish()
	return nil
}

// SetSearch changes the symbol search query.
func (d *Dashboard) SetSearch(query string) {
	d.projector.SetSearch(query)
	d.publish()
}

// ToggleExpand expands or collapses a row, freezing the row order while any row is expanded.
func (d *Dashboard) ToggleExpand(symbol string, open bool) {
	current := d.projector.Project(d.prices.Snapshot().Quotes())
	d.projector.Toggle(symbol, open, current)
	d.publish()
}

// OpenChart expands symbol's row and shows its chart, backfilling history when needed.
func (d *Dashboard) OpenChart(ctx context.Context, symbol string) error {
	symbol = strings.TrimSpace(symbol)
	if symbol == "" {
		return errs.New("dashboard", errs.CodeInvalid, errs.WithMessage("symbol required"))
	}
	runCtx, err := d.running()
	if err != nil {
		return err
	}

	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return errs.New("dashboard", errs.CodeUnavailable, errs.WithMessage("dashboard not running"))
	}
	entry, ok := d.charts[symbol]
	if !ok {
		entry = &chartEntry{series: chart.NewSeries(symbol, d.backend, chart.SeriesConfig{
			Resolution: d.cfg.ChartResolution,
			MaxPoints:  d.cfg.MaxPoints,
			Clock:      d.cfg.Clock,
			Logger:     d.logger,
		})}
		d.charts[symbol] = entry
	}
	if entry.cancel == nil {
		tickCtx, cancel := context.WithCancel(runCtx)
		entry.cancel = cancel
		series := entry.series
		d.wg.Go(func() { series.RunTicker(tickCtx, func(time.Time) { d.publish() }) })
	}
	series := entry.series
	d.mu.Unlock()

	d.ToggleExpand(symbol, true)
	err = series.Open(ctx)
	d.publish()
	if err != nil && !errs.Is(err, errs.CodeStale) {
		return err
	}
	return nil
}

// CloseChart hides symbol's chart and collapses its row. Its histories are kept.
func (d *Dashboard) CloseChart(symbol string) {
	d.mu.Lock()
	entry, ok := d.charts[symbol]
	if ok {
		entry.series.Close()
		if entry.cancel != nil {
			entry.cancel()
			entry.cancel = nil
		}
	}
	d.mu.Unlock()
	d.ToggleExpand(symbol, false)
}

// SetChartResolution switches an open chart to res.
func (d *Dashboard) SetChartResolution(ctx context.Context, symbol, res string) error {
	parsed, err := chart.ParseResolution(res)
	if err != nil {
		return err
	}
	series, err := d.openSeries(symbol)
	if err != nil {
		return err
	}
	err = series.SetResolution(ctx, parsed)
	d.publish()
	if err != nil && !errs.Is(err, errs.CodeStale) {
		return err
	}
	return nil
}

// Chart returns the display view of an open chart.
func (d *Dashboard) Chart(symbol string) (chart.View, error) {
	series, err := d.openSeries(symbol)
	if err != nil {
		return chart.View{}, err
	}
	return series.Snapshot(), nil
}

func (d *Dashboard) openSeries(symbol string) (*chart.Series, error) {
	d.mu.Lock()
	entry, ok := d.charts[symbol]
	d.mu.Unlock()
	if !ok || !entry.series.IsOpen() {
		return nil, errs.New("dashboard", errs.CodeNotFound,
			errs.WithMessage("chart not open"), errs.WithField("symbol", symbol))
	}
	return entry.series, nil
}

func (d *Dashboard) running() (context.Context, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.started || d.stopped {
		return nil, errs.New("dashboard", errs.CodeUnavailable, errs.WithMessage("dashboard not running"))
	}
	return d.runCtx, nil
}

func (d *Dashboard) publish() {
	if d.hub.Len() == 0 {
		return
	}
	d.hub.Publish(d.State())
}
