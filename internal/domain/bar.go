// Package domain defines the core types shared by the signal engine, the trade
// simulator and the report aggregator: bars, trades, horizon outcomes and the
// error taxonomy surfaced to callers.
package domain

import (
	"fmt"
	"time"
)

// DateLayout is the calendar-date format used for parameters and exports.
const DateLayout = "2006-01-02"

// Bar is one trading day of OHLCV data for a single symbol.
type Bar struct {
	Symbol     string    `json:"symbol"`
	Timestamp  time.Time `json:"timestamp"`
	Open       float64   `json:"open"`
	High       float64   `json:"high"`
	Low        float64   `json:"low"`
	Close      float64   `json:"close"`
	Volume     int64     `json:"volume"`
	TradeCount int64     `json:"trade_count,omitempty"`
	VWAP       float64   `json:"vwap,omitempty"`
}

// Date returns the bar's calendar date (midnight UTC).
func (b Bar) Date() time.Time {
	y, m, d := b.Timestamp.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Range returns the intraday high-low range.
func (b Bar) Range() float64 {
	return b.High - b.Low
}

// Validate checks the OHLC invariants of a single bar.
func (b Bar) Validate() error {
	switch {
	case b.Open <= 0 || b.High <= 0 || b.Low <= 0 || b.Close <= 0:
		return fmt.Errorf("non-positive price")
	case b.Volume < 0:
		return fmt.Errorf("negative volume %d", b.Volume)
	case b.High < b.Low:
		return fmt.Errorf("high %v below low %v", b.High, b.Low)
	case b.High < b.Open || b.High < b.Close:
		return fmt.Errorf("high %v below open/close", b.High)
	case b.Low > b.Open || b.Low > b.Close:
		return fmt.Errorf("low %v above open/close", b.Low)
	}
	return nil
}

// ValidateSeries checks that bars form a non-empty, single-symbol sequence
// with strictly increasing dates and valid OHLC values. It returns a
// *DataShapeError describing the first violation found.
func ValidateSeries(bars []Bar) error {
	if len(bars) == 0 {
		return &DataShapeError{Reason: "empty bar sequence"}
	}
	symbol := bars[0].Symbol
	for i, b := range bars {
		if b.Symbol != symbol {
			return &DataShapeError{Index: i, Reason: fmt.Sprintf("mixed symbols %q and %q", symbol, b.Symbol)}
		}
		if err := b.Validate(); err != nil {
			return &DataShapeError{Index: i, Reason: err.Error()}
		}
		if i > 0 && !b.Timestamp.After(bars[i-1].Timestamp) {
			return &DataShapeError{Index: i, Reason: fmt.Sprintf("timestamp %s not after %s",
				b.Timestamp.Format(DateLayout), bars[i-1].Timestamp.Format(DateLayout))}
		}
	}
	return nil
}
