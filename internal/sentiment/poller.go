// Package sentiment polls the market fear and greed index.
package sentiment

import (
	"context"
	"sync"
	"time"

	"github.com/coachpo/pulse/internal/observability"
	"github.com/coachpo/pulse/internal/schema"
)

// DefaultInterval is how often the index is refreshed.
const DefaultInterval = 5 * time.Minute

// Fetcher retrieves the current reading.
type Fetcher interface {
	Sentiment(ctx context.Context) (schema.Sentiment, error)
}

// Reading is the last known index value. Until the first successful poll it holds
// the neutral value.
type Reading struct {
	Value           int       `json:"value"`
	Classification  string    `json:"classification"`
	TimeUntilUpdate int64     `json:"timeUntilUpdate,omitempty"`
	UpdatedAt       time.Time `json:"updatedAt,omitempty"`
	LastError       string    `json:"lastError,omitempty"`
}

// Options configures a Poller.
type Options struct {
	Interval time.Duration
	// OnChange is called after every poll, successful or not.
	OnChange func(Reading)
	Clock    func() time.Time
	Logger   observability.Logger
}

// Poller keeps the latest reading. A failed poll keeps the previous value and records
// the error.
type Poller struct {
	fetcher Fetcher
	opts    Options
	logger  observability.Logger

	mu      sync.RWMutex
	current Reading
}

// NewPoller returns a poller seeded with the neutral reading.
func NewPoller(fetcher Fetcher, opts Options) *Poller {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	logger := opts.Logger
	if logger == nil {
		logger = observability.Log()
	}
	neutral := schema.NeutralSentiment()
	return &Poller{
		fetcher: fetcher,
		opts:    opts,
		logger:  logger,
		current: Reading{Value: neutral.Value, Classification: neutral.Classification},
	}
}

// Run polls immediately and then on every interval until ctx is done.
func (p *Poller) Run(ctx context.Context) {
	_ = p.Poll(ctx)

	ticker := time.NewTicker(p.opts.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = p.Poll(ctx)
		}
	}
}

// Poll performs a single fetch.
func (p *Poller) Poll(ctx context.Context) error {
	s, err := p.fetcher.Sentiment(ctx)

	p.mu.Lock()
	if err != nil {
		p.current.LastError = err.Error()
	} else {
		p.current = Reading{
			Value:           s.Value,
			Classification:  s.Classification,
			TimeUntilUpdate: int64(s.TimeUntilUpdate),
			UpdatedAt:       p.opts.Clock(),
		}
	}
	reading := p.current
	p.mu.Unlock()

	if err != nil {
		if ctx.Err() == nil {
			p.logger.Warn("sentiment poll failed", observability.F("error", err))
		}
	} else {
		p.logger.Debug("sentiment updated",
			observability.F("value", reading.Value),
			observability.F("classification", reading.Classification))
	}
	if p.opts.OnChange != nil {
		p.opts.OnChange(reading)
	}
	return err
}

// Current returns the latest reading.
func (p *Poller) Current() Reading {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.current
}
