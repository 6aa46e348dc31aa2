package marketdata

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"breakout/internal/domain"
	"breakout/internal/store"
)

// Compile-time interface check.
var _ Provider = (*CachedProvider)(nil)

// DefaultFillTimeout bounds a shared upstream fill.
const DefaultFillTimeout = 2 * time.Minute

// CachedProvider serves fetches from a store.BarCache and fills misses from
// the upstream provider. Concurrent misses for the same key share a single
// upstream call, which runs detached from any one caller: a caller that
// gives up stops waiting but does not cancel the fill for the others.
// Cache failures are logged and bypassed.
type CachedProvider struct {
	upstream    Provider
	cache       store.BarCache
	group       singleflight.Group
	obs         Observer
	fillTimeout time.Duration
	log         *slog.Logger
}

// NewCachedProvider wraps upstream with cache. obs may be nil.
func NewCachedProvider(upstream Provider, cache store.BarCache, obs Observer) *CachedProvider {
	if obs == nil {
		obs = nopObserver{}
	}
	return &CachedProvider{
		upstream:    upstream,
		cache:       cache,
		obs:         obs,
		fillTimeout: DefaultFillTimeout,
		log:         slog.Default().With("component", "bar-cache"),
	}
}

// SetFillTimeout overrides DefaultFillTimeout. Non-positive values are ignored.
func (p *CachedProvider) SetFillTimeout(d time.Duration) {
	if d > 0 {
		p.fillTimeout = d
	}
}

// FetchBars returns a private copy of the series for the request.
func (p *CachedProvider) FetchBars(ctx context.Context, ticker string, start, end time.Time, interval string) ([]domain.Bar, error) {
	if _, err := checkRequest(ticker, start, end, interval); err != nil {
		return nil, err
	}
	key := store.NewCacheKey(ticker, start, end, interval)

	if bars, ok := p.lookup(ctx, key); ok {
		return bars, nil
	}

	fillCtx := context.WithoutCancel(ctx)
	ch := p.group.DoChan(key.String(), func() (any, error) {
		return p.fill(fillCtx, key)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-ch:
		if r.Err != nil {
			return nil, r.Err
		}
		if r.Shared {
			p.log.Debug("shared in-flight fetch", "key", key.String())
		}
		return append([]domain.Bar(nil), r.Val.([]domain.Bar)...), nil
	}
}

// fill fetches key from upstream under the provider's own deadline and
// stores the result.
func (p *CachedProvider) fill(ctx context.Context, key store.CacheKey) ([]domain.Bar, error) {
	ctx, cancel := context.WithTimeout(ctx, p.fillTimeout)
	defer cancel()

	// Another flight may have filled the key since the first lookup.
	if bars, ok, err := p.cache.Get(ctx, key); err == nil && ok {
		return bars, nil
	}
	bars, err := p.upstream.FetchBars(ctx, key.Ticker, key.Start, key.End, key.Interval)
	if err != nil {
		return nil, err
	}
	if err := p.cache.Put(ctx, key, bars); err != nil {
		p.log.Warn("cache put failed", "key", key.String(), "error", err)
	}
	return bars, nil
}

func (p *CachedProvider) lookup(ctx context.Context, key store.CacheKey) ([]domain.Bar, bool) {
	bars, ok, err := p.cache.Get(ctx, key)
	if err != nil {
		p.log.Warn("cache get failed", "key", key.String(), "error", err)
		return nil, false
	}
	p.obs.CacheLookup(ok)
	return bars, ok
}
