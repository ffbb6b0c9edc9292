package schema

import "github.com/shopspring/decimal"

// HistoryPoint is one (time, price) sample of a symbol's series.
type HistoryPoint struct {
	Time  Millis          `json:"time"`
	Price decimal.Decimal `json:"price"`
}

// HistoryResponse is the payload of the history backfill endpoint.
type HistoryResponse struct {
	Symbol  string         `json:"symbol,omitempty"`
	Source  string         `json:"source,omitempty"`
	Period  string         `json:"period,omitempty"`
	History []HistoryPoint `json:"history"`
}

// Sentiment is the fear and greed index reading.
type Sentiment struct {
	Value           int     `json:"value"`
	Classification  string  `json:"value_classification"`
	TimeUntilUpdate Seconds `json:"time_until_update,omitempty"`
	Error           string  `json:"error,omitempty"`
}

// NeutralSentiment is reported until a reading is available or when the upstream fails.
func NeutralSentiment() Sentiment {
	return Sentiment{Value: 50, Classification: "Neutral"}
}
