package marketdata

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"breakout/internal/domain"
	"breakout/internal/store"
)

var (
	jan2  = time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	jan31 = time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC)
)

func dailyBars(symbol string, from time.Time, n int) []domain.Bar {
	bars := make([]domain.Bar, n)
	for i := range bars {
		p := 100 + float64(i)
		bars[i] = domain.Bar{
			Symbol: symbol, Timestamp: from.AddDate(0, 0, i).Add(5 * time.Hour),
			Open: p, High: p + 1, Low: p - 1, Close: p, Volume: 1000,
		}
	}
	return bars
}

// fakeProvider returns errs in order, then bars.
type fakeProvider struct {
	mu    sync.Mutex
	calls int
	bars  []domain.Bar
	errs  []error
	gate  chan struct{}
}

func (f *fakeProvider) FetchBars(ctx context.Context, _ string, _, _ time.Time, _ string) ([]domain.Bar, error) {
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		return nil, err
	}
	return append([]domain.Bar(nil), f.bars...), nil
}

func (f *fakeProvider) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type recordingObserver struct {
	mu           sync.Mutex
	hits, misses int
	fetches      []error
}

func (o *recordingObserver) CacheLookup(hit bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if hit {
		o.hits++
	} else {
		o.misses++
	}
}

func (o *recordingObserver) FetchDone(_ string, _ time.Duration, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.fetches = append(o.fetches, err)
}

// ---------------------------------------------------------------------------
// Alpaca
// ---------------------------------------------------------------------------

type fakeAlpaca struct {
	req  marketdata.GetBarsRequest
	sym  string
	bars []marketdata.Bar
	err  error
}

func (f *fakeAlpaca) GetBars(symbol string, req marketdata.GetBarsRequest) ([]marketdata.Bar, error) {
	f.sym, f.req = symbol, req
	return f.bars, f.err
}

func TestAlpacaProviderFetch(t *testing.T) {
	ts := time.Date(2024, 1, 2, 5, 0, 0, 0, time.UTC)
	fa := &fakeAlpaca{bars: []marketdata.Bar{
		{Timestamp: ts.AddDate(0, 0, 1), Open: 2, High: 3, Low: 1, Close: 2.5, Volume: 20, TradeCount: 4, VWAP: 2.2},
		{Timestamp: ts, Open: 1, High: 2, Low: 0.5, Close: 1.5, Volume: 10},
		{Timestamp: ts.AddDate(0, 1, 0), Open: 1, High: 1, Low: 1, Close: 1, Volume: 1},
	}}
	p := newAlpacaProvider(fa, "", "")

	bars, err := p.FetchBars(context.Background(), " aapl", jan2, jan31, "")
	require.NoError(t, err)

	assert.Equal(t, "AAPL", fa.sym)
	assert.Equal(t, marketdata.OneDay, fa.req.TimeFrame)
	assert.Equal(t, jan2, fa.req.Start)
	assert.Equal(t, jan31.AddDate(0, 0, 1), fa.req.End)
	assert.Equal(t, marketdata.Feed("iex"), fa.req.Feed)
	assert.Equal(t, marketdata.All, fa.req.Adjustment)

	require.Len(t, bars, 2, "bars after end are clipped")
	assert.True(t, bars[0].Timestamp.Before(bars[1].Timestamp), "bars are sorted")
	assert.Equal(t, "AAPL", bars[1].Symbol)
	assert.Equal(t, int64(20), bars[1].Volume)
	assert.Equal(t, int64(4), bars[1].TradeCount)
}

func TestAlpacaProviderErrors(t *testing.T) {
	p := newAlpacaProvider(&fakeAlpaca{}, "sip", "raw")
	_, err := p.FetchBars(context.Background(), "ZZZZ", jan2, jan31, "1d")
	assert.ErrorIs(t, err, domain.ErrNoData)

	p = newAlpacaProvider(&fakeAlpaca{err: errors.New("boom")}, "", "")
	_, err = p.FetchBars(context.Background(), "AAPL", jan2, jan31, "1d")
	require.Error(t, err)
	assert.NotErrorIs(t, err, domain.ErrNoData)

	_, err = p.FetchBars(context.Background(), "", jan2, jan31, "1d")
	assert.True(t, domain.IsInvalidParameter(err))
	_, err = p.FetchBars(context.Background(), "AAPL", jan2, jan31, "1h")
	assert.True(t, domain.IsInvalidParameter(err))
	_, err = p.FetchBars(context.Background(), "AAPL", jan31, jan2, "1d")
	assert.True(t, domain.IsInvalidParameter(err))
}

// ---------------------------------------------------------------------------
// CSV
// ---------------------------------------------------------------------------

func TestCSVProvider(t *testing.T) {
	dir := t.TempDir()
	content := "Date,Open,High,Low,Close,Adj Close,Volume\n" +
		"2024-01-03,11,12,10,11.5,11.4,2000\n" +
		"2024-01-02,10,11,9,10.5,10.4,1000\n" +
		"2024-02-01,12,13,11,12.5,12.4,3000\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "MSFT.csv"), []byte(content), 0o644))

	p := NewCSVProvider(dir)
	bars, err := p.FetchBars(context.Background(), "msft", jan2, jan31, "")
	require.NoError(t, err)
	require.Len(t, bars, 2)
	assert.Equal(t, jan2, bars[0].Timestamp)
	assert.Equal(t, 10.5, bars[0].Close)
	assert.Equal(t, int64(2000), bars[1].Volume)
	assert.Equal(t, "MSFT", bars[1].Symbol)

	_, err = p.FetchBars(context.Background(), "NOPE", jan2, jan31, "")
	assert.ErrorIs(t, err, domain.ErrNoData)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "BAD.csv"), []byte("Day,Price\n"), 0o644))
	_, err = p.FetchBars(context.Background(), "BAD", jan2, jan31, "")
	require.Error(t, err)
	assert.NotErrorIs(t, err, domain.ErrNoData)
}

func TestCSVProviderStaysInsideDir(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "bars")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "SECRET.csv"),
		[]byte("Date,Open,High,Low,Close,Volume\n2024-01-03,1,1,1,1,1\n"), 0o644))

	p := NewCSVProvider(dir)
	for _, ticker := range []string{"../secret", "../SECRET", "..", "x/../../secret"} {
		bars, err := p.FetchBars(context.Background(), ticker, jan2, jan31, "")
		assert.Nil(t, bars)
		assert.True(t, domain.IsInvalidParameter(err), "ticker %q: %v", ticker, err)
	}
}

// ---------------------------------------------------------------------------
// Cache
// ---------------------------------------------------------------------------

func TestCachedProviderServesFromCache(t *testing.T) {
	up := &fakeProvider{bars: dailyBars("AAPL", jan2, 5)}
	obs := &recordingObserver{}
	p := NewCachedProvider(up, store.NewMemoryCache(), obs)
	ctx := context.Background()

	first, err := p.FetchBars(ctx, "AAPL", jan2, jan31, "1d")
	require.NoError(t, err)
	first[0].Close = -1

	second, err := p.FetchBars(ctx, "aapl", jan2, jan31, "")
	require.NoError(t, err)
	assert.Equal(t, 1, up.Calls(), "second fetch must be a cache hit")
	assert.Equal(t, 100.0, second[0].Close, "callers get private copies")
	assert.Equal(t, 1, obs.hits)
	assert.Equal(t, 1, obs.misses)

	_, err = p.FetchBars(ctx, "AAPL", jan2, jan31.AddDate(0, 0, 1), "")
	require.NoError(t, err)
	assert.Equal(t, 2, up.Calls(), "a different range is a different key")
}

func TestCachedProviderCollapsesConcurrentMisses(t *testing.T) {
	up := &fakeProvider{bars: dailyBars("AAPL", jan2, 5), gate: make(chan struct{})}
	p := NewCachedProvider(up, store.NewMemoryCache(), nil)

	var wg sync.WaitGroup
	results := make([][]domain.Bar, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			bars, err := p.FetchBars(context.Background(), "AAPL", jan2, jan31, "")
			if err == nil {
				results[i] = bars
			}
		}(i)
	}
	time.Sleep(20 * time.Millisecond)
	close(up.gate)
	wg.Wait()

	assert.Equal(t, 1, up.Calls())
	for i, r := range results {
		assert.Len(t, r, 5, "caller %d", i)
	}
}

func TestCachedProviderCallerCancelDoesNotFailOthers(t *testing.T) {
	up := &fakeProvider{bars: dailyBars("AAPL", jan2, 5), gate: make(chan struct{})}
	p := NewCachedProvider(up, store.NewMemoryCache(), nil)

	ctxA, cancelA := context.WithCancel(context.Background())
	errA := make(chan error, 1)
	go func() {
		_, err := p.FetchBars(ctxA, "AAPL", jan2, jan31, "")
		errA <- err
	}()
	time.Sleep(20 * time.Millisecond)

	type result struct {
		bars []domain.Bar
		err  error
	}
	resB := make(chan result, 1)
	go func() {
		bars, err := p.FetchBars(context.Background(), "AAPL", jan2, jan31, "")
		resB <- result{bars, err}
	}()
	time.Sleep(20 * time.Millisecond)

	cancelA()
	assert.ErrorIs(t, <-errA, context.Canceled, "the cancelling caller stops waiting")

	close(up.gate)
	b := <-resB
	require.NoError(t, b.err, "a live caller must not inherit another caller's cancellation")
	assert.Len(t, b.bars, 5)
	assert.Equal(t, 1, up.Calls())

	// The detached fill still populated the cache.
	_, err := p.FetchBars(context.Background(), "AAPL", jan2, jan31, "")
	require.NoError(t, err)
	assert.Equal(t, 1, up.Calls())
}

func TestCachedProviderFillTimeout(t *testing.T) {
	up := &fakeProvider{bars: dailyBars("AAPL", jan2, 5), gate: make(chan struct{})}
	defer close(up.gate)
	p := NewCachedProvider(up, store.NewMemoryCache(), nil)
	p.SetFillTimeout(20 * time.Millisecond)

	_, err := p.FetchBars(context.Background(), "AAPL", jan2, jan31, "")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestCachedProviderRejectsPathLikeTicker(t *testing.T) {
	up := &fakeProvider{bars: dailyBars("AAPL", jan2, 5)}
	p := NewCachedProvider(up, store.NewParquetCache(t.TempDir()), nil)

	_, err := p.FetchBars(context.Background(), "../secret", jan2, jan31, "")
	assert.True(t, domain.IsInvalidParameter(err), "got %v", err)
	assert.Zero(t, up.Calls())
}

func TestCachedProviderDoesNotCacheErrors(t *testing.T) {
	up := &fakeProvider{bars: dailyBars("AAPL", jan2, 3), errs: []error{domain.ErrNoData}}
	p := NewCachedProvider(up, store.NewMemoryCache(), nil)

	_, err := p.FetchBars(context.Background(), "AAPL", jan2, jan31, "")
	assert.ErrorIs(t, err, domain.ErrNoData)

	bars, err := p.FetchBars(context.Background(), "AAPL", jan2, jan31, "")
	require.NoError(t, err)
	assert.Len(t, bars, 3)
	assert.Equal(t, 2, up.Calls())
}

// ---------------------------------------------------------------------------
// Resilience
// ---------------------------------------------------------------------------

func fastOptions() ResilientOptions {
	return ResilientOptions{
		Name:            "test",
		Timeout:         time.Second,
		Attempts:        3,
		RetryDelay:      time.Millisecond,
		BreakerFailures: 2,
		BreakerCooldown: time.Hour,
	}
}

func TestResilientProviderRetriesTransientErrors(t *testing.T) {
	up := &fakeProvider{bars: dailyBars("AAPL", jan2, 3), errs: []error{errors.New("502"), errors.New("503")}}
	obs := &recordingObserver{}
	p := NewResilientProvider(up, fastOptions(), obs)

	bars, err := p.FetchBars(context.Background(), "AAPL", jan2, jan31, "")
	require.NoError(t, err)
	assert.Len(t, bars, 3)
	assert.Equal(t, 3, up.Calls())
	assert.Equal(t, []error{nil}, obs.fetches)
}

func TestResilientProviderDoesNotRetryAnswers(t *testing.T) {
	up := &fakeProvider{errs: []error{domain.ErrNoData, domain.ErrNoData, domain.ErrNoData}}
	p := NewResilientProvider(up, fastOptions(), nil)

	for i := 0; i < 3; i++ {
		_, err := p.FetchBars(context.Background(), "AAPL", jan2, jan31, "")
		assert.ErrorIs(t, err, domain.ErrNoData)
	}
	assert.Equal(t, 3, up.Calls(), "one call per fetch, no retries")
	assert.Equal(t, "closed", p.State(), "empty results do not trip the breaker")
}

func TestResilientProviderOpensBreaker(t *testing.T) {
	boom := errors.New("connection refused")
	up := &fakeProvider{errs: []error{boom, boom, boom, boom, boom, boom}}
	o := fastOptions()
	o.Attempts = 1
	p := NewResilientProvider(up, o, nil)

	for i := 0; i < 2; i++ {
		_, err := p.FetchBars(context.Background(), "AAPL", jan2, jan31, "")
		assert.ErrorIs(t, err, boom)
	}
	assert.Equal(t, "open", p.State())

	_, err := p.FetchBars(context.Background(), "AAPL", jan2, jan31, "")
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.Equal(t, 2, up.Calls(), "open breaker sheds the call")
}

func TestResilientProviderTimeout(t *testing.T) {
	up := &fakeProvider{gate: make(chan struct{})}
	o := fastOptions()
	o.Timeout = 20 * time.Millisecond
	p := NewResilientProvider(up, o, nil)

	_, err := p.FetchBars(context.Background(), "AAPL", jan2, jan31, "")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	close(up.gate)
}
