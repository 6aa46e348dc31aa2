// Package store defines the bar cache used by the market data layer and its
// backends: in-process memory, Parquet files, SQL (SQLite or Postgres) and
// Redis.
//
// An entry is written once per key and never modified afterwards. A Put for a
// key that is already populated leaves the existing entry in place.
package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"breakout/internal/domain"
)

// DefaultInterval is the only bar interval the backtester requests.
const DefaultInterval = "1d"

// CacheKey identifies one fetch: ticker, inclusive date range and interval.
type CacheKey struct {
	Ticker   string
	Start    time.Time
	End      time.Time
	Interval string
}

// NewCacheKey normalises ticker case, truncates the range to dates and
// defaults the interval.
func NewCacheKey(ticker string, start, end time.Time, interval string) CacheKey {
	if interval == "" {
		interval = DefaultInterval
	}
	return CacheKey{
		Ticker:   strings.ToUpper(strings.TrimSpace(ticker)),
		Start:    dateOnly(start),
		End:      dateOnly(end),
		Interval: interval,
	}
}

// String renders the key as TICKER|start|end|interval.
func (k CacheKey) String() string {
	return fmt.Sprintf("%s|%s|%s|%s", k.Ticker,
		k.Start.Format(domain.DateLayout), k.End.Format(domain.DateLayout), k.Interval)
}

// BarCache stores complete bar series by fetch key.
type BarCache interface {
	// Get returns the cached series and true, or false on a miss.
	Get(ctx context.Context, key CacheKey) ([]domain.Bar, bool, error)

	// Put stores bars under key unless the key is already populated.
	Put(ctx context.Context, key CacheKey, bars []domain.Bar) error
}

func dateOnly(t time.Time) time.Time {
	if t.IsZero() {
		return t
	}
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func cloneBars(bars []domain.Bar) []domain.Bar {
	if bars == nil {
		return nil
	}
	return append([]domain.Bar(nil), bars...)
}
