// Package report reduces simulated trades into summary statistics and
// converts result tables to and from CSV.
package report

import (
	"github.com/shopspring/decimal"

	"breakout/internal/domain"
)

// Summary aggregates the returns of one exit-policy instance or one horizon.
// Count is every row, Valid only rows with a return; AvgReturnPct, Best and
// Worst are nil when no row has a return.
type Summary struct {
	Count        int      `json:"count"`
	Valid        int      `json:"count_valid"`
	Truncated    int      `json:"truncated"`
	Wins         int      `json:"wins"`
	WinRate      float64  `json:"win_rate"`
	AvgReturnPct *float64 `json:"avg_return_pct"`
	BestPct      *float64 `json:"best_pct"`
	WorstPct     *float64 `json:"worst_pct"`
}

// HorizonSummary is the Summary for one holding horizon.
type HorizonSummary struct {
	Horizon int `json:"horizon"`
	Summary
}

// SummarizeReturns reduces a list of nullable returns.
func SummarizeReturns(returns []*float64) Summary {
	s := Summary{Count: len(returns)}
	var sum float64
	var best, worst float64
	for _, r := range returns {
		if r == nil {
			s.Truncated++
			continue
		}
		v := *r
		if s.Valid == 0 {
			best, worst = v, v
		}
		best, worst = max(best, v), min(worst, v)
		sum += v
		s.Valid++
		if v > 0 {
			s.Wins++
		}
	}
	if s.Valid > 0 {
		avg := sum / float64(s.Valid)
		s.AvgReturnPct = &avg
		s.BestPct = &best
		s.WorstPct = &worst
		s.WinRate = float64(s.Wins) / float64(s.Valid)
	}
	return s
}

// Summarize reduces a trade list.
func Summarize(trades []domain.Trade) Summary {
	returns := make([]*float64, len(trades))
	for i, t := range trades {
		returns[i] = t.ReturnPct
	}
	return SummarizeReturns(returns)
}

// SummarizeHorizons returns one summary per horizon, in the given order.
// Outcomes are matched by horizon value, not by position.
func SummarizeHorizons(rows []domain.HorizonRow, horizons []int) []HorizonSummary {
	out := make([]HorizonSummary, len(horizons))
	for k, h := range horizons {
		var returns []*float64
		for _, row := range rows {
			for _, o := range row.Outcomes {
				if o.Horizon == h {
					returns = append(returns, o.ReturnPct)
				}
			}
		}
		out[k] = HorizonSummary{Horizon: h, Summary: SummarizeReturns(returns)}
	}
	return out
}

// FormatPct renders an optional percentage with two decimals, or "n/a".
func FormatPct(v *float64) string {
	if v == nil {
		return "n/a"
	}
	return decimal.NewFromFloat(*v).StringFixed(2) + "%"
}

// FormatPrice renders a price with two decimals.
func FormatPrice(v float64) string {
	return decimal.NewFromFloat(v).StringFixed(2)
}
