// Package app assembles the backtest service from configuration: the bar
// source, its resilience and cache layers, metrics and variant defaults.
package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"breakout/internal/backtest"
	"breakout/internal/config"
	"breakout/internal/marketdata"
	"breakout/internal/metrics"
	"breakout/internal/store"
)

// App is a wired backtest service and the resources backing it.
type App struct {
	Service  *backtest.Service
	Metrics  *metrics.Collector
	Provider *marketdata.ResilientProvider
	Cache    store.BarCache // nil when caching is disabled

	closers []io.Closer
	log     *slog.Logger
}

// New builds the provider chain source -> resilient -> cached and the
// service on top of it.
func New(ctx context.Context, cfg *config.Config, log *slog.Logger) (*App, error) {
	if log == nil {
		log = slog.Default()
	}
	a := &App{Metrics: metrics.New(), log: log.With("component", "app")}

	source, err := newSource(cfg)
	if err != nil {
		return nil, err
	}

	md := cfg.MarketData
	a.Provider = marketdata.NewResilientProvider(source, marketdata.ResilientOptions{
		Name:            md.Source,
		Timeout:         md.Timeout,
		RateLimitPerMin: md.RateLimitPerMin,
		Attempts:        md.Retries + 1,
		RetryDelay:      md.RetryDelay,
		BreakerFailures: md.BreakerFailures,
		BreakerCooldown: md.BreakerCooldown,
	}, a.Metrics)

	var provider marketdata.Provider = a.Provider
	cache, err := a.newCache(ctx, cfg)
	if err != nil {
		a.Close()
		return nil, err
	}
	if cache != nil {
		a.Cache = cache
		cached := marketdata.NewCachedProvider(a.Provider, cache, a.Metrics)
		// The upstream deadline plus room for the cache read and write.
		cached.SetFillTimeout(2 * md.Timeout)
		provider = cached
	}

	registry := backtest.DefaultRegistry()
	applyDefaults(registry, cfg.Defaults)

	a.Service = backtest.NewService(provider, registry, backtest.ServiceOptions{
		WarmupDays: md.Warmup(),
		Metrics:    a.Metrics,
		Logger:     log,
	})
	a.log.Info("backtest service ready",
		"source", md.Source,
		"cache", cfg.Cache.Backend,
		"warmup_days", md.Warmup(),
	)
	return a, nil
}

// Close releases cache connections.
func (a *App) Close() error {
	var first error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil && first == nil {
			first = err
		}
	}
	a.closers = nil
	return first
}

func newSource(cfg *config.Config) (marketdata.Provider, error) {
	switch cfg.MarketData.Source {
	case "csv":
		return marketdata.NewCSVProvider(cfg.MarketData.CSVDir), nil
	case "alpaca":
		return marketdata.NewAlpacaProvider(marketdata.AlpacaOptions{
			APIKey:     cfg.Alpaca.APIKey,
			APISecret:  cfg.Alpaca.APISecret,
			DataURL:    cfg.Alpaca.DataURL,
			Feed:       cfg.Alpaca.Feed,
			Adjustment: cfg.Alpaca.Adjustment,
		}), nil
	default:
		return nil, fmt.Errorf("unknown marketdata source %q", cfg.MarketData.Source)
	}
}

func (a *App) newCache(ctx context.Context, cfg *config.Config) (store.BarCache, error) {
	c := cfg.Cache
	switch c.Backend {
	case "none":
		return nil, nil
	case "memory":
		return store.NewMemoryCache(), nil
	case "parquet":
		return store.NewParquetCache(cfg.Storage.DataDir), nil
	case "sqlite":
		if err := os.MkdirAll(filepath.Dir(cfg.Storage.SQLitePath), 0o755); err != nil {
			return nil, fmt.Errorf("creating sqlite dir: %w", err)
		}
		sc, err := store.NewSQLCache(ctx, "sqlite", cfg.Storage.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("opening sqlite cache: %w", err)
		}
		a.closers = append(a.closers, sc)
		return sc, nil
	case "postgres":
		sc, err := store.NewSQLCache(ctx, "postgres", c.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("opening postgres cache: %w", err)
		}
		a.closers = append(a.closers, sc)
		return sc, nil
	case "redis":
		rc := store.NewRedisCache(c.RedisAddr, c.RedisPassword, c.RedisDB, c.TTL)
		a.closers = append(a.closers, rc)
		if err := rc.Ping(ctx); err != nil {
			// Lookups degrade to misses; the server still answers.
			a.log.Warn("redis unreachable", "addr", c.RedisAddr, "error", err)
		}
		return rc, nil
	default:
		return nil, fmt.Errorf("unknown cache backend %q", c.Backend)
	}
}

// applyDefaults overlays the configured defaults on every variant.
func applyDefaults(r *backtest.Registry, d config.Defaults) {
	r.UpdateDefaults(func(p *backtest.Params) {
		if t := strings.TrimSpace(d.Ticker); t != "" {
			p.Ticker = strings.ToUpper(t)
		}
		if d.VolumeThresholdPct > 0 {
			p.VolumeThresholdPct = d.VolumeThresholdPct
		}
		if d.DailyThresholdPct != nil {
			p.DailyThresholdPct = *d.DailyThresholdPct
		}
		if d.HoldingPeriod > 0 {
			p.HoldingPeriod = d.HoldingPeriod
		}
	})
}
