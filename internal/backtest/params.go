package backtest

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"

	"breakout/internal/domain"
)

// Query parameter names shared by the HTTP API and the CLI.
const (
	KeyTicker        = "ticker"
	KeyStart         = "start_date"
	KeyEnd           = "end_date"
	KeyVolumePct     = "volume_threshold_pct"
	KeyDailyPct      = "daily_threshold_pct"
	KeyHolding       = "holding_period"
	KeyStopLossPct   = "stop_loss_pct"
	KeyTakeProfitPct = "take_profit_pct"
	KeyATRMultiplier = "atr_multiplier"
	KeyATRWindow     = "atr_window"
	KeyHorizons      = "horizons"
)

// Params are the user-facing inputs of a run. Percentages are in percent
// (200 for a 200% volume threshold, 5 for a 5% stop).
type Params struct {
	Ticker             string
	Start              time.Time
	End                time.Time
	VolumeThresholdPct float64
	DailyThresholdPct  float64
	HoldingPeriod      int
	StopLossPct        float64
	TakeProfitPct      float64
	ATRMultiplier      float64
	ATRWindow          int
	Horizons           domain.Horizons
}

type paramsJSON struct {
	Ticker             string  `json:"ticker"`
	Start              string  `json:"start_date,omitempty"`
	End                string  `json:"end_date,omitempty"`
	VolumeThresholdPct float64 `json:"volume_threshold_pct"`
	DailyThresholdPct  float64 `json:"daily_threshold_pct"`
	HoldingPeriod      int     `json:"holding_period,omitempty"`
	StopLossPct        float64 `json:"stop_loss_pct,omitempty"`
	TakeProfitPct      float64 `json:"take_profit_pct,omitempty"`
	ATRMultiplier      float64 `json:"atr_multiplier,omitempty"`
	ATRWindow          int     `json:"atr_window,omitempty"`
	Horizons           []int   `json:"horizons,omitempty"`
}

// MarshalJSON renders dates as 2006-01-02.
func (p Params) MarshalJSON() ([]byte, error) {
	return json.Marshal(paramsJSON{
		Ticker:             p.Ticker,
		Start:              formatDate(p.Start),
		End:                formatDate(p.End),
		VolumeThresholdPct: p.VolumeThresholdPct,
		DailyThresholdPct:  p.DailyThresholdPct,
		HoldingPeriod:      p.HoldingPeriod,
		StopLossPct:        p.StopLossPct,
		TakeProfitPct:      p.TakeProfitPct,
		ATRMultiplier:      p.ATRMultiplier,
		ATRWindow:          p.ATRWindow,
		Horizons:           p.Horizons,
	})
}

func formatDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(domain.DateLayout)
}

// Getter is satisfied by url.Values.
type Getter interface {
	Get(key string) string
}

// ParseParams overlays the non-empty values from q on the variant defaults
// and validates the result. A missing end date is today.
func (v Variant) ParseParams(q Getter, today time.Time) (Params, error) {
	p := v.Defaults
	p.Horizons = append(domain.Horizons(nil), v.Defaults.Horizons...)
	p.End = dayOf(today)

	var err error
	if s := q.Get(KeyTicker); s != "" {
		p.Ticker = s
	}
	if p.Start, err = dateParam(q, KeyStart, p.Start); err != nil {
		return p, err
	}
	if p.End, err = dateParam(q, KeyEnd, p.End); err != nil {
		return p, err
	}
	if p.VolumeThresholdPct, err = floatParam(q, KeyVolumePct, p.VolumeThresholdPct); err != nil {
		return p, err
	}
	if p.DailyThresholdPct, err = floatParam(q, KeyDailyPct, p.DailyThresholdPct); err != nil {
		return p, err
	}
	if p.HoldingPeriod, err = intParam(q, KeyHolding, p.HoldingPeriod); err != nil {
		return p, err
	}
	if p.StopLossPct, err = floatParam(q, KeyStopLossPct, p.StopLossPct); err != nil {
		return p, err
	}
	if p.TakeProfitPct, err = floatParam(q, KeyTakeProfitPct, p.TakeProfitPct); err != nil {
		return p, err
	}
	if p.ATRMultiplier, err = floatParam(q, KeyATRMultiplier, p.ATRMultiplier); err != nil {
		return p, err
	}
	if p.ATRWindow, err = intParam(q, KeyATRWindow, p.ATRWindow); err != nil {
		return p, err
	}
	if s := q.Get(KeyHorizons); s != "" {
		if p.Horizons, err = domain.ParseHorizons(s); err != nil {
			return p, err
		}
	}

	if t, err := domain.NormalizeTicker(p.Ticker); err == nil {
		p.Ticker = t
	}
	return p, v.Validate(p)
}

// Validate checks the parameters the variant uses. Parameters the variant
// ignores are not checked.
func (v Variant) Validate(p Params) error {
	if _, err := domain.NormalizeTicker(p.Ticker); err != nil {
		return err
	}
	if p.Start.IsZero() || p.End.IsZero() {
		return domain.InvalidParam(KeyStart, "start and end dates are required")
	}
	if p.Start.After(p.End) {
		return domain.InvalidParam(KeyStart, "start %s is after end %s", formatDate(p.Start), formatDate(p.End))
	}
	if !(p.VolumeThresholdPct > 0) || math.IsInf(p.VolumeThresholdPct, 0) {
		return domain.InvalidParam(KeyVolumePct, "must be > 0, got %v", p.VolumeThresholdPct)
	}
	if !(p.DailyThresholdPct >= 0) || math.IsInf(p.DailyThresholdPct, 0) {
		return domain.InvalidParam(KeyDailyPct, "must be >= 0, got %v", p.DailyThresholdPct)
	}

	switch v.Name {
	case Horizons:
		if _, err := domain.NewHorizons(p.Horizons); err != nil {
			return err
		}
		return nil
	case SLTP:
		if !(p.StopLossPct > 0 && p.StopLossPct < 100) {
			return domain.InvalidParam(KeyStopLossPct, "must be in (0, 100), got %v", p.StopLossPct)
		}
		if !(p.TakeProfitPct > 0 && p.TakeProfitPct < 100) {
			return domain.InvalidParam(KeyTakeProfitPct, "must be in (0, 100), got %v", p.TakeProfitPct)
		}
	}
	if v.VolatilityFilter {
		if !(p.ATRMultiplier > 0) || math.IsInf(p.ATRMultiplier, 0) {
			return domain.InvalidParam(KeyATRMultiplier, "must be > 0, got %v", p.ATRMultiplier)
		}
		if p.ATRWindow < 1 {
			return domain.InvalidParam(KeyATRWindow, "must be >= 1, got %d", p.ATRWindow)
		}
	}
	if p.HoldingPeriod < 1 {
		return domain.InvalidParam(KeyHolding, "must be >= 1, got %d", p.HoldingPeriod)
	}
	return nil
}

func dateParam(q Getter, key string, def time.Time) (time.Time, error) {
	s := strings.TrimSpace(q.Get(key))
	if s == "" {
		return def, nil
	}
	t, err := time.Parse(domain.DateLayout, s)
	if err != nil {
		return def, domain.InvalidParam(key, "expected YYYY-MM-DD, got %q", s)
	}
	return t, nil
}

func floatParam(q Getter, key string, def float64) (float64, error) {
	s := strings.TrimSpace(q.Get(key))
	if s == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) {
		return def, domain.InvalidParam(key, "expected a number, got %q", s)
	}
	return f, nil
}

func intParam(q Getter, key string, def int) (int, error) {
	s := strings.TrimSpace(q.Get(key))
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def, domain.InvalidParam(key, "expected an integer, got %q", s)
	}
	return n, nil
}

func dayOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
