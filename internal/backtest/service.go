package backtest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"breakout/internal/domain"
	"breakout/internal/marketdata"
	"breakout/internal/metrics"
	"breakout/internal/report"
	"breakout/internal/signals"
	"breakout/internal/simulate"
	"breakout/internal/store"
)

// Result is the outcome of one run. Exactly one of Trades or Rows is set,
// matching the variant's policy.
type Result struct {
	RunID     string          `json:"run_id"`
	Variant   string          `json:"variant"`
	Policy    string          `json:"policy"`
	Params    Params          `json:"params"`
	Bars      int             `json:"bars"`
	Breakouts int             `json:"breakouts"`
	Message   string          `json:"message,omitempty"`
	FileName  string          `json:"file_name"`
	ElapsedMS int64           `json:"elapsed_ms"`
	Summary   *report.Summary `json:"summary,omitempty"`

	Trades   []domain.Trade          `json:"trades,omitempty"`
	Rows     []domain.HorizonRow     `json:"rows,omitempty"`
	Horizons []report.HorizonSummary `json:"horizon_summaries,omitempty"`
}

// Empty reports whether the run found no breakouts.
func (r *Result) Empty() bool {
	return r.Breakouts == 0
}

// WriteCSV writes the trade or horizon table. Stop-loss/take-profit runs
// carry the band columns.
func (r *Result) WriteCSV(w io.Writer) error {
	if r.Policy == simulate.MultiHorizonPolicy.String() {
		return report.WriteHorizonsCSV(w, r.Rows, r.Params.Horizons)
	}
	var bands *report.Bands
	if r.Policy == simulate.StopLossTakeProfitPolicy.String() {
		bands = &report.Bands{StopLossPct: r.Params.StopLossPct, TakeProfitPct: r.Params.TakeProfitPct}
	}
	return report.WriteTradesCSV(w, r.Trades, bands)
}

// ServiceOptions configures NewService.
type ServiceOptions struct {
	// WarmupDays is the calendar-day lookback fetched before the start date
	// so the rolling windows are populated on the first eligible day.
	WarmupDays int
	Metrics    *metrics.Collector
	Logger     *slog.Logger
}

// Service runs backtests. It holds no per-run state and is safe for
// concurrent use.
type Service struct {
	provider   marketdata.Provider
	registry   *Registry
	warmupDays int
	metrics    *metrics.Collector
	log        *slog.Logger
	now        func() time.Time
}

// NewService creates a Service over provider and registry.
func NewService(provider marketdata.Provider, registry *Registry, o ServiceOptions) *Service {
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.WarmupDays < 0 {
		o.WarmupDays = 0
	}
	return &Service{
		provider:   provider,
		registry:   registry,
		warmupDays: o.WarmupDays,
		metrics:    o.Metrics,
		log:        o.Logger.With("component", "backtest"),
		now:        time.Now,
	}
}

// Registry returns the variant registry.
func (s *Service) Registry() *Registry {
	return s.registry
}

// Variant looks up a variant, reporting an unknown name as an invalid
// parameter.
func (s *Service) Variant(name string) (Variant, error) {
	v, ok := s.registry.Get(name)
	if !ok {
		return Variant{}, domain.InvalidParam("variant", "unknown variant %q, want one of %v", name, s.registry.List())
	}
	return v, nil
}

// RunQuery parses q against the variant defaults and runs it.
func (s *Service) RunQuery(ctx context.Context, variant string, q Getter) (*Result, error) {
	v, err := s.Variant(variant)
	if err != nil {
		return nil, err
	}
	p, err := v.ParseParams(q, s.now())
	if err != nil {
		return nil, err
	}
	return s.Run(ctx, variant, p)
}

// Run executes fetch, breakout detection, simulation and summary for one
// variant. An empty trade list is a valid result carrying a message.
func (s *Service) Run(ctx context.Context, variant string, p Params) (*Result, error) {
	began := time.Now()
	runID := uuid.NewString()

	res, err := s.run(ctx, runID, variant, p)
	elapsed := time.Since(began)

	outcome := Outcome(err)
	log := s.log.With("run_id", runID, "variant", variant, "ticker", p.Ticker, "elapsed", elapsed.Round(time.Millisecond))
	if err != nil {
		log.Warn("backtest failed", "outcome", outcome, "error", err)
	} else {
		res.ElapsedMS = elapsed.Milliseconds()
		log.Info("backtest complete",
			"bars", res.Bars,
			"breakouts", res.Breakouts,
			"trades", len(res.Trades)+len(res.Rows),
		)
	}

	if s.metrics != nil {
		var breakouts int
		var exits map[string]int
		if res != nil {
			breakouts = res.Breakouts
			exits = exitCounts(res.Trades)
		}
		s.metrics.RunDone(variant, outcome, elapsed, breakouts, exits)
	}
	return res, err
}

func (s *Service) run(ctx context.Context, runID, variant string, p Params) (*Result, error) {
	v, err := s.Variant(variant)
	if err != nil {
		return nil, err
	}
	if err := v.Validate(p); err != nil {
		return nil, err
	}

	p.Ticker, _ = domain.NormalizeTicker(p.Ticker)
	fetchStart := p.Start.AddDate(0, 0, -s.warmupDays)
	bars, err := s.provider.FetchBars(ctx, p.Ticker, fetchStart, s.fetchEnd(v, p), store.DefaultInterval)
	if err != nil {
		return nil, fmt.Errorf("fetching %s: %w", p.Ticker, err)
	}

	sp := signals.Params{
		VolumeFactor:      p.VolumeThresholdPct / 100,
		DailyThresholdPct: p.DailyThresholdPct,
		EligibleFrom:      p.Start,
		EligibleTo:        p.End,
	}
	if v.VolatilityFilter {
		sp.ATRMultiplier = p.ATRMultiplier
		sp.ATRWindow = p.ATRWindow
	}
	series, err := signals.Compute(bars, sp)
	if err != nil {
		return nil, fmt.Errorf("computing signals: %w", err)
	}

	policy := simulate.Policy{
		Kind:          v.Policy,
		HoldingPeriod: p.HoldingPeriod,
		StopLossPct:   p.StopLossPct / 100,
		TakeProfitPct: p.TakeProfitPct / 100,
		Horizons:      p.Horizons,
	}
	sim, err := simulate.Run(bars, series.Breakout, policy)
	if err != nil {
		return nil, fmt.Errorf("simulating: %w", err)
	}

	res := &Result{
		RunID:     runID,
		Variant:   v.Name,
		Policy:    v.Policy.String(),
		Params:    p,
		Bars:      len(bars),
		Breakouts: len(series.BreakoutIndices()),
		FileName:  v.FileName(p.Ticker),
		Trades:    sim.Trades,
		Rows:      sim.Rows,
	}

	if v.Policy == simulate.MultiHorizonPolicy {
		h, _ := domain.NewHorizons(p.Horizons)
		res.Params.Horizons = h
		res.Horizons = report.SummarizeHorizons(sim.Rows, h)
		if len(sim.Rows) == 0 {
			res.Message = "No breakouts found for the given parameters."
		}
	} else {
		sum := report.Summarize(sim.Trades)
		res.Summary = &sum
		if sum.Truncated > 0 {
			s.log.Debug("positions ran past the data", "run_id", runID, "truncated", sum.Truncated)
		}
		if len(sim.Trades) == 0 {
			res.Message = "No breakouts found with the given criteria."
		}
	}
	return res, nil
}

// exitLookaheadDays converts a holding period in trading days to calendar
// days, with room for weekends and market holidays.
func exitLookaheadDays(holding int) int {
	return holding*7/5 + 10
}

// fetchEnd is the last calendar day fetched. Variants that exit past the end
// date read far enough ahead to close every position, but never past today.
func (s *Service) fetchEnd(v Variant, p Params) time.Time {
	if !v.ExitPastEnd {
		return p.End
	}
	end := p.End.AddDate(0, 0, exitLookaheadDays(p.HoldingPeriod))
	if today := dayOf(s.now()); end.After(today) {
		end = today
	}
	if end.Before(p.End) {
		return p.End
	}
	return end
}

func exitCounts(trades []domain.Trade) map[string]int {
	if len(trades) == 0 {
		return nil
	}
	out := make(map[string]int)
	for _, t := range trades {
		out[t.Exit.String()]++
	}
	return out
}

// Outcome classifies a run error for metrics and logs.
func Outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case domain.IsInvalidParameter(err):
		return "invalid_parameter"
	case errors.Is(err, domain.ErrNoData):
		return "no_data"
	case domain.IsDataShape(err):
		return "data_shape"
	case errors.Is(err, marketdata.ErrUnavailable):
		return "unavailable"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	default:
		return "error"
	}
}
