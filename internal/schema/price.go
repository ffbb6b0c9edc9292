package schema

import (
	"bytes"
	"fmt"
	"strconv"

	json "github.com/goccy/go-json"
	"github.com/shopspring/decimal"
)

// Millis is a unix timestamp in milliseconds. It accepts integral or fractional JSON numbers.
type Millis int64

// UnmarshalJSON decodes a JSON number (or null) into milliseconds, truncating fractions.
func (m *Millis) UnmarshalJSON(b []byte) error {
	v, err := parseFlexInt(b)
	if err != nil {
		return fmt.Errorf("decode millis: %w", err)
	}
	*m = Millis(v)
	return nil
}

// Seconds is a duration in whole seconds that may arrive as a JSON number or numeric string.
type Seconds int64

// UnmarshalJSON decodes a JSON number, numeric string or null into seconds.
func (s *Seconds) UnmarshalJSON(b []byte) error {
	v, err := parseFlexInt(b)
	if err != nil {
		return fmt.Errorf("decode seconds: %w", err)
	}
	*s = Seconds(v)
	return nil
}

func parseFlexInt(b []byte) (int64, error) {
	raw := bytes.TrimSpace(b)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return 0, nil
	}
	raw = bytes.Trim(raw, `"`)
	if len(raw) == 0 {
		return 0, nil
	}
	if v, err := strconv.ParseInt(string(raw), 10, 64); err == nil {
		return v, nil
	}
	f, err := strconv.ParseFloat(string(raw), 64)
	if err != nil {
		return 0, fmt.Errorf("parse %q: %w", raw, err)
	}
	return int64(f), nil
}

// GlobalStats carries market-wide aggregates attached to price records.
type GlobalStats struct {
	TotalTVL   float64 `json:"total_tvl"`
	ChainCount int     `json:"chain_count"`
}

// PriceRecord is one symbol entry of a price snapshot or delta.
type PriceRecord struct {
	Symbol      string           `json:"symbol"`
	Price       *decimal.Decimal `json:"price"`
	Change24h   float64          `json:"change_24h"`
	Volume24h   float64          `json:"volume_24h,omitempty"`
	High24h     float64          `json:"high_24h,omitempty"`
	Low24h      float64          `json:"low_24h,omitempty"`
	Timestamp   Millis           `json:"timestamp"`
	RSI         *float64         `json:"rsi,omitempty"`
	IsTrending  bool             `json:"is_trending,omitempty"`
	GlobalStats *GlobalStats     `json:"global_stats,omitempty"`
}

// HasPrice reports whether the record carries a price.
func (r PriceRecord) HasPrice() bool {
	return r.Price != nil
}

// PriceUpdate is a keyed set of price records. Entries that fail to decode are
// collected in Rejected instead of failing the whole payload.
type PriceUpdate struct {
	Records  map[string]PriceRecord
	Rejected map[string]error
}

// UnmarshalJSON decodes each symbol independently so one bad entry cannot abort the batch.
func (u *PriceUpdate) UnmarshalJSON(b []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return fmt.Errorf("decode price map: %w", err)
	}
	u.Records = make(map[string]PriceRecord, len(raw))
	u.Rejected = nil
	for symbol, entry := range raw {
		var rec PriceRecord
		if err := json.Unmarshal(entry, &rec); err != nil {
			if u.Rejected == nil {
				u.Rejected = make(map[string]error)
			}
			u.Rejected[symbol] = err
			continue
		}
		if rec.Symbol == "" {
			rec.Symbol = symbol
		}
		u.Records[symbol] = rec
	}
	return nil
}

// Len returns the number of decoded records.
func (u PriceUpdate) Len() int {
	return len(u.Records)
}
