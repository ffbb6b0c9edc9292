package feed

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/coachpo/pulse/internal/observability"
	"github.com/coachpo/pulse/internal/telemetry"
)

// DefaultPageSize is the number of items requested per page.
const DefaultPageSize = 20

// PageFetcher retrieves one page of older items.
type PageFetcher[T any] interface {
	FetchPage(ctx context.Context, limit, skip int) ([]T, error)
}

// PageFetcherFunc adapts a function to PageFetcher.
type PageFetcherFunc[T any] func(ctx context.Context, limit, skip int) ([]T, error)

// FetchPage calls f.
func (f PageFetcherFunc[T]) FetchPage(ctx context.Context, limit, skip int) ([]T, error) {
	return f(ctx, limit, skip)
}

// LoaderConfig configures a Loader.
type LoaderConfig[T any] struct {
	// Name labels logs and metrics, e.g. "messages" or "news".
	Name     string
	PageSize int
	// Normalize, when set, is applied to every fetched item before merging.
	Normalize func(T) T
	// OnChange is called whenever the loading or exhausted flags flip.
	OnChange func()
	Logger   observability.Logger
}

// Loader pages older items into a Collection. At most one request is in flight.
type Loader[T any] struct {
	cfg     LoaderConfig[T]
	items   *Collection[T]
	fetcher PageFetcher[T]
	logger  observability.Logger
	metrics *feedMetrics

	loading   atomic.Bool
	exhausted atomic.Bool
}

// NewLoader binds fetcher to items.
func NewLoader[T any](items *Collection[T], fetcher PageFetcher[T], cfg LoaderConfig[T]) *Loader[T] {
	if cfg.PageSize <= 0 {
		cfg.PageSize = DefaultPageSize
	}
	logger := cfg.Logger
	if logger == nil {
		logger = observability.Log()
	}
	return &Loader[T]{
		cfg:     cfg,
		items:   items,
		fetcher: fetcher,
		logger:  logger,
		metrics: newFeedMetrics(cfg.Name),
	}
}

// LoadMore requests the next page at offset Len() and merges unseen items. It returns
// the number of appended items. It does nothing while another request is in flight or
// after the feed is exhausted. A failed request leaves the collection and the
// exhaustion flag as they were.
func (l *Loader[T]) LoadMore(ctx context.Context) (int, error) {
	if !l.loading.CompareAndSwap(false, true) {
		l.metrics.recordPage(ctx, "in_flight", 0, 0)
		return 0, nil
	}
	// exhausted is stored before the guard is released.
	if l.exhausted.Load() {
		l.loading.Store(false)
		l.metrics.recordPage(ctx, "exhausted", 0, 0)
		return 0, nil
	}
	l.changed()
	defer func() {
		l.loading.Store(false)
		l.changed()
	}()

	skip := l.items.Len()
	start := time.Now()
	page, err := l.fetcher.FetchPage(ctx, l.cfg.PageSize, skip)
	if err != nil {
		l.metrics.recordPage(ctx, telemetry.ResultError, time.Since(start), 0)
		l.logger.Error("page fetch failed",
			observability.F("feed", l.cfg.Name),
			observability.F("skip", skip),
			observability.F("error", err))
		return 0, fmt.Errorf("load %s page at %d: %w", l.cfg.Name, skip, err)
	}

	if l.cfg.Normalize != nil {
		for i := range page {
			page[i] = l.cfg.Normalize(page[i])
		}
	}
	added := l.items.Merge(page)
	if len(page) < l.cfg.PageSize {
		l.exhausted.Store(true)
	}
	l.metrics.recordPage(ctx, telemetry.ResultSuccess, time.Since(start), added)
	l.logger.Debug("page loaded",
		observability.F("feed", l.cfg.Name),
		observability.F("skip", skip),
		observability.F("received", len(page)),
		observability.F("added", added))
	return added, nil
}

// Loading reports whether a request is in flight.
func (l *Loader[T]) Loading() bool {
	return l.loading.Load()
}

// Exhausted reports whether the last page was short.
func (l *Loader[T]) Exhausted() bool {
	return l.exhausted.Load()
}

// Items returns the underlying collection.
func (l *Loader[T]) Items() *Collection[T] {
	return l.items
}

func (l *Loader[T]) changed() {
	if l.cfg.OnChange != nil {
		l.cfg.OnChange()
	}
}
