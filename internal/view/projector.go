// Package view derives the ordered row list shown to consumers from the quote book.
package view

import (
	"cmp"
	"sort"
	"strings"
	"sync"

	"github.com/coachpo/pulse/errs"
	"github.com/coachpo/pulse/internal/prices"
)

// FilterMode selects which quotes are listed and how they are ordered.
type FilterMode string

const (
	// FilterAll lists every quote by 24h change, highest first.
	FilterAll FilterMode = "all"
	// FilterGainers lists positive movers, highest first.
	FilterGainers FilterMode = "gainers"
	// FilterLosers lists negative movers, lowest first.
	FilterLosers FilterMode = "losers"
)

// ParseFilter validates a filter name.
func ParseFilter(raw string) (FilterMode, error) {
	mode := FilterMode(strings.ToLower(strings.TrimSpace(raw)))
	switch mode {
	case FilterAll, FilterGainers, FilterLosers:
		return mode, nil
	default:
		return "", errs.New("view", errs.CodeInvalid,
			errs.WithMessage("unknown filter mode"), errs.WithField("filter", raw))
	}
}

// SortKey names the column rows are ordered by. The empty key keeps the filter's own order.
type SortKey string

const (
	SortNone     SortKey = ""
	SortSymbol   SortKey = "symbol"
	SortPrice    SortKey = "price"
	SortChange   SortKey = "change_24h"
	SortVolume   SortKey = "volume_24h"
	SortTrending SortKey = "is_trending"
)

// ParseSortKey validates a sort column name.
func ParseSortKey(raw string) (SortKey, error) {
	key := SortKey(strings.ToLower(strings.TrimSpace(raw)))
	switch key {
	case SortNone, SortSymbol, SortPrice, SortChange, SortVolume, SortTrending:
		return key, nil
	default:
		return "", errs.New("view", errs.CodeInvalid,
			errs.WithMessage("unknown sort key"), errs.WithField("sort", raw))
	}
}

// State is a copy of the projector's settings.
type State struct {
	Filter   FilterMode `json:"filter"`
	Search   string     `json:"search,omitempty"`
	Sort     SortKey    `json:"sort,omitempty"`
	SortDesc bool       `json:"sortDesc,omitempty"`
	Expanded []string   `json:"expanded"`
	Frozen   bool       `json:"frozen"`
}

// Projector turns a quote book into display rows. While any row is expanded the
// row order is frozen so expanded rows do not move under the reader.
type Projector struct {
	mu       sync.Mutex
	filter   FilterMode
	search   string
	sortKey  SortKey
	sortDesc bool
	frozen   []string
	expanded map[string]struct{}
}

// NewProjector returns a projector listing all quotes.
func NewProjector() *Projector {
	return &Projector{filter: FilterAll, expanded: make(map[string]struct{})}
}

// Project returns the rows for quotes.
func (p *Projector) Project(quotes map[string]prices.Quote) []prices.Quote {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.projectLocked(quotes)
}

func (p *Projector) projectLocked(quotes map[string]prices.Quote) []prices.Quote {
	if len(p.frozen) > 0 {
		rows := make([]prices.Quote, 0, len(p.frozen))
		for _, symbol := range p.frozen {
			if q, ok := quotes[symbol]; ok {
				rows = append(rows, q)
			}
		}
		return rows
	}

	needle := strings.ToLower(p.search)
	rows := make([]prices.Quote, 0, len(quotes))
	for _, q := range quotes {
		if needle != "" && !strings.Contains(strings.ToLower(q.Symbol), needle) {
			continue
		}
		switch p.filter {
		case FilterGainers:
			if q.Change24h <= 0 {
				continue
			}
		case FilterLosers:
			if q.Change24h >= 0 {
				continue
			}
		}
		rows = append(rows, q)
	}

	key, desc := p.sortKey, p.sortDesc
	if key == SortNone {
		key, desc = SortChange, p.filter != FilterLosers
	}
	sort.Slice(rows, func(i, j int) bool {
		a, b := rows[i], rows[j]
		if c := compareBy(key, a, b); c != 0 {
			if desc {
				return c > 0
			}
			return c < 0
		}
		return a.Symbol < b.Symbol
	})
	return rows
}

func compareBy(key SortKey, a, b prices.Quote) int {
	switch key {
	case SortSymbol:
		return strings.Compare(a.Symbol, b.Symbol)
	case SortPrice:
		return a.Price.Cmp(b.Price)
	case SortVolume:
		return cmp.Compare(a.Volume24h, b.Volume24h)
	case SortTrending:
		switch {
		case a.IsTrending == b.IsTrending:
			return 0
		case a.IsTrending:
			return 1
		default:
			return -1
		}
	default:
		return cmp.Compare(a.Change24h, b.Change24h)
	}
}

// Toggle expands or collapses symbol. Expanding the first row freezes the order of
// current, the rows as currently displayed; collapsing the last one releases it.
func (p *Projector) Toggle(symbol string, open bool, current []prices.Quote) {
	p.mu.Lock()
	defer p.mu.Unlock()

	_, isOpen := p.expanded[symbol]
	switch {
	case open && !isOpen:
		if len(p.expanded) == 0 {
			order := make([]string, 0, len(current)+1)
			seen := false
			for _, q := range current {
				order = append(order, q.Symbol)
				seen = seen || q.Symbol == symbol
			}
			if !seen {
				order = append(order, symbol)
			}
			p.frozen = order
		}
		p.expanded[symbol] = struct{}{}
	case !open && isOpen:
		delete(p.expanded, symbol)
		if len(p.expanded) == 0 {
			p.frozen = nil
		}
	}
}

// SetFilter changes the filter mode. It rejects unknown modes.
func (p *Projector) SetFilter(mode FilterMode) error {
	parsed, err := ParseFilter(string(mode))
	if err != nil {
		return err
	}
	p.mu.Lock()
	p.filter = parsed
	p.mu.Unlock()
	return nil
}

// SetSort orders rows by key. Choosing the current key again flips the direction; a new
// key starts descending. The empty key restores the filter's order. Frozen rows keep
// their order until released.
func (p *Projector) SetSort(key SortKey) error {
	parsed, err := ParseSortKey(string(key))
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	switch {
	case parsed == SortNone:
		p.sortKey, p.sortDesc = SortNone, false
	case parsed == p.sortKey:
		p.sortDesc = !p.sortDesc
	default:
		p.sortKey, p.sortDesc = parsed, true
	}
	return nil
}

// SetSearch sets a case-insensitive symbol filter. It has no effect while frozen.
func (p *Projector) SetSearch(query string) {
	p.mu.Lock()
	p.search = strings.TrimSpace(query)
	p.mu.Unlock()
}

// IsExpanded reports whether symbol is expanded.
func (p *Projector) IsExpanded(symbol string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.expanded[symbol]
	return ok
}

// State returns the current settings.
func (p *Projector) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	expanded := make([]string, 0, len(p.expanded))
	for symbol := range p.expanded {
		expanded = append(expanded, symbol)
	}
	sort.Strings(expanded)
	return State{
		Filter:   p.filter,
		Search:   p.search,
		Sort:     p.sortKey,
		SortDesc: p.sortDesc,
		Expanded: expanded,
		Frozen:   len(p.frozen) > 0,
	}
}
