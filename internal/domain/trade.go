package domain

import (
	"fmt"
	"strings"
	"time"
)

// ExitReason records how a simulated position was closed.
type ExitReason int

const (
	ExitOpen ExitReason = iota
	ExitStopLoss
	ExitTakeProfit
	ExitHorizon
	ExitTruncated
)

func (r ExitReason) String() string {
	switch r {
	case ExitOpen:
		return "open"
	case ExitStopLoss:
		return "stop_loss"
	case ExitTakeProfit:
		return "take_profit"
	case ExitHorizon:
		return "horizon"
	case ExitTruncated:
		return "truncated"
	default:
		return "unknown"
	}
}

// ParseExitReason is the inverse of ExitReason.String.
func ParseExitReason(s string) (ExitReason, error) {
	switch strings.TrimSpace(s) {
	case "open":
		return ExitOpen, nil
	case "stop_loss":
		return ExitStopLoss, nil
	case "take_profit":
		return ExitTakeProfit, nil
	case "horizon":
		return ExitHorizon, nil
	case "truncated":
		return ExitTruncated, nil
	}
	return ExitOpen, fmt.Errorf("unknown exit reason %q", s)
}

// MarshalText implements encoding.TextMarshaler so reasons serialise by name.
func (r ExitReason) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (r *ExitReason) UnmarshalText(b []byte) error {
	v, err := ParseExitReason(string(b))
	if err != nil {
		return err
	}
	*r = v
	return nil
}

// Trade is one simulated position opened at the close of a breakout day.
// SellDate, SellPrice and ReturnPct are nil when the position could not be
// closed within the available data.
type Trade struct {
	BuyDate   time.Time  `json:"buy_date"`
	BuyPrice  float64    `json:"buy_price"`
	SellDate  *time.Time `json:"sell_date"`
	SellPrice *float64   `json:"sell_price"`
	ReturnPct *float64   `json:"return_pct"`
	Exit      ExitReason `json:"exit"`
}

// Closed reports whether the trade has a sell price.
func (t Trade) Closed() bool {
	return t.SellPrice != nil
}

// HorizonOutcome is the fixed-horizon exit of a breakout day for one horizon.
type HorizonOutcome struct {
	Horizon   int        `json:"horizon"`
	SellDate  *time.Time `json:"sell_date"`
	SellPrice *float64   `json:"sell_price"`
	ReturnPct *float64   `json:"return_pct"`
}

// HorizonRow groups all horizon outcomes of a single breakout day.
type HorizonRow struct {
	BuyDate  time.Time        `json:"breakout_date"`
	BuyPrice float64          `json:"buy_price"`
	Outcomes []HorizonOutcome `json:"outcomes"`
}

// ReturnPct computes the percentage return from buy to sell.
func ReturnPct(buy, sell float64) float64 {
	return (sell - buy) / buy * 100.0
}
