// Package metrics exposes Prometheus collectors for backtest runs, market
// data fetches and the bar cache.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector holds the backtester's collectors on a private registry.
type Collector struct {
	registry *prometheus.Registry

	Runs          *prometheus.CounterVec
	RunDuration   *prometheus.HistogramVec
	Breakouts     *prometheus.CounterVec
	Trades        *prometheus.CounterVec
	CacheLookups  *prometheus.CounterVec
	FetchDuration *prometheus.HistogramVec
}

// New creates a Collector with Go runtime and process collectors attached.
func New() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),

		Runs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "breakout_runs_total",
				Help: "Backtest runs by variant and outcome",
			},
			[]string{"variant", "outcome"},
		),

		RunDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "breakout_run_duration_seconds",
				Help:    "End-to-end backtest run duration",
				Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			},
			[]string{"variant"},
		),

		Breakouts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "breakout_signals_total",
				Help: "Breakout days flagged by variant",
			},
			[]string{"variant"},
		),

		Trades: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "breakout_trades_total",
				Help: "Simulated trades by variant and exit reason",
			},
			[]string{"variant", "exit"},
		),

		CacheLookups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "breakout_bar_cache_lookups_total",
				Help: "Bar cache lookups by result",
			},
			[]string{"result"},
		),

		FetchDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "breakout_fetch_duration_seconds",
				Help:    "Upstream market data fetch duration",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"source", "result"},
		),
	}

	c.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		c.Runs, c.RunDuration, c.Breakouts, c.Trades, c.CacheLookups, c.FetchDuration,
	)
	return c
}

// Registry returns the underlying registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// CacheLookup records a bar cache hit or miss.
func (c *Collector) CacheLookup(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	c.CacheLookups.WithLabelValues(result).Inc()
}

// FetchDone records one upstream fetch.
func (c *Collector) FetchDone(source string, elapsed time.Duration, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	c.FetchDuration.WithLabelValues(source, result).Observe(elapsed.Seconds())
}

// RunDone records one backtest run. exits counts trades per exit reason.
func (c *Collector) RunDone(variant, outcome string, elapsed time.Duration, breakouts int, exits map[string]int) {
	c.Runs.WithLabelValues(variant, outcome).Inc()
	c.RunDuration.WithLabelValues(variant).Observe(elapsed.Seconds())
	if breakouts > 0 {
		c.Breakouts.WithLabelValues(variant).Add(float64(breakouts))
	}
	for exit, n := range exits {
		c.Trades.WithLabelValues(variant, exit).Add(float64(n))
	}
}
