// Package marketdata fetches daily OHLCV bars for a ticker and date range.
//
// Providers compose: AlpacaProvider and CSVProvider talk to a source,
// ResilientProvider adds a deadline, rate limiting, retries and a circuit
// breaker, and CachedProvider memoises complete series in a store.BarCache.
package marketdata

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"breakout/internal/domain"
	"breakout/internal/store"
)

// ErrUnavailable is returned when the upstream is known to be failing and
// requests are being shed.
var ErrUnavailable = errors.New("market data provider unavailable")

// Provider fetches bars for one ticker in [start, end] (calendar dates,
// inclusive) at the given interval. An empty result is domain.ErrNoData.
type Provider interface {
	FetchBars(ctx context.Context, ticker string, start, end time.Time, interval string) ([]domain.Bar, error)
}

// Observer receives fetch and cache events. metrics.Collector implements it.
type Observer interface {
	CacheLookup(hit bool)
	FetchDone(source string, elapsed time.Duration, err error)
}

type nopObserver struct{}

func (nopObserver) CacheLookup(bool)                       {}
func (nopObserver) FetchDone(string, time.Duration, error) {}

// checkRequest normalises the ticker and validates the request shape.
func checkRequest(ticker string, start, end time.Time, interval string) (string, error) {
	t, err := domain.NormalizeTicker(ticker)
	if err != nil {
		return "", err
	}
	if interval != "" && interval != store.DefaultInterval {
		return "", domain.InvalidParam("interval", "unsupported interval %q, only %q", interval, store.DefaultInterval)
	}
	if start.After(end) {
		return "", domain.InvalidParam("start_date", "start %s is after end %s",
			start.Format(domain.DateLayout), end.Format(domain.DateLayout))
	}
	return t, nil
}

// finish clips bars to [start, end] by calendar date, sorts them and reports
// ErrNoData for an empty result.
func finish(ticker string, bars []domain.Bar, start, end time.Time) ([]domain.Bar, error) {
	from, to := dayOf(start), dayOf(end)
	out := bars[:0]
	for _, b := range bars {
		d := b.Date()
		if d.Before(from) || d.After(to) {
			continue
		}
		out = append(out, b)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	if len(out) == 0 {
		return nil, fmt.Errorf("%s %s..%s: %w", ticker,
			start.Format(domain.DateLayout), end.Format(domain.DateLayout), domain.ErrNoData)
	}
	return out, nil
}

func dayOf(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
