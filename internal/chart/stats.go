package chart

import "github.com/shopspring/decimal"

// Stats summarizes a series.
type Stats struct {
	Min           decimal.Decimal `json:"min"`
	Max           decimal.Decimal `json:"max"`
	First         decimal.Decimal `json:"first"`
	Last          decimal.Decimal `json:"last"`
	Change        decimal.Decimal `json:"change"`
	ChangePercent float64         `json:"changePercent"`
}

// Summarize computes Stats over points. An empty series yields zeros.
func Summarize(points []Point) Stats {
	if len(points) == 0 {
		return Stats{}
	}
	st := Stats{
		Min:   points[0].Price,
		Max:   points[0].Price,
		First: points[0].Price,
		Last:  points[len(points)-1].Price,
	}
	for _, p := range points[1:] {
		if p.Price.LessThan(st.Min) {
			st.Min = p.Price
		}
		if p.Price.GreaterThan(st.Max) {
			st.Max = p.Price
		}
	}
	st.Change = st.Last.Sub(st.First)
	if !st.First.IsZero() {
		st.ChangePercent = st.Change.Div(st.First).Mul(decimal.NewFromInt(100)).InexactFloat64()
	}
	return st
}
