// Package signals computes the derived per-bar series (trailing average
// volume, percent change, true range, ATR) and the boolean breakout flag.
//
// All functions are pure: the input bars are never modified and every call
// returns freshly allocated series aligned by index with the input.
package signals

import (
	"math"
	"time"

	"breakout/internal/domain"
)

const (
	// DefaultVolumeWindow is the trailing window for the average volume.
	DefaultVolumeWindow = 20
	// DefaultATRWindow is the trailing window for the Average True Range.
	DefaultATRWindow = 14
)

// Value is a derived number that may be undefined for early bars.
type Value struct {
	V     float64 `json:"v"`
	Valid bool    `json:"valid"`
}

func defined(v float64) Value { return Value{V: v, Valid: true} }

// Params controls breakout detection.
type Params struct {
	// VolumeFactor is the multiple of the trailing average volume the day's
	// volume must exceed (2.0 for a 200% threshold).
	VolumeFactor float64
	// DailyThresholdPct is the minimum close-to-close change in percent.
	DailyThresholdPct float64
	// VolumeWindow defaults to DefaultVolumeWindow when zero.
	VolumeWindow int
	// ATRWindow defaults to DefaultATRWindow when zero.
	ATRWindow int
	// ATRMultiplier enables the volatility filter when positive: the day's
	// high-low range must be at least ATRMultiplier times the ATR.
	ATRMultiplier float64
	// EligibleFrom and EligibleTo bound the dates that may be flagged. Zero
	// values leave that side unbounded. Bars outside the window still feed
	// the rolling statistics.
	EligibleFrom time.Time
	EligibleTo   time.Time
}

func (p Params) withDefaults() Params {
	if p.VolumeWindow == 0 {
		p.VolumeWindow = DefaultVolumeWindow
	}
	if p.ATRWindow == 0 {
		p.ATRWindow = DefaultATRWindow
	}
	return p
}

// Validate checks parameter ranges after defaults are applied.
func (p Params) Validate() error {
	p = p.withDefaults()
	switch {
	case !(p.VolumeFactor > 0) || math.IsInf(p.VolumeFactor, 0):
		return domain.InvalidParam("volume_factor", "must be > 0, got %v", p.VolumeFactor)
	case math.IsNaN(p.DailyThresholdPct) || math.IsInf(p.DailyThresholdPct, 0):
		return domain.InvalidParam("daily_threshold_pct", "must be a finite number")
	case p.VolumeWindow < 1:
		return domain.InvalidParam("volume_window", "must be >= 1, got %d", p.VolumeWindow)
	case p.ATRWindow < 1:
		return domain.InvalidParam("atr_window", "must be >= 1, got %d", p.ATRWindow)
	case p.ATRMultiplier < 0 || math.IsNaN(p.ATRMultiplier):
		return domain.InvalidParam("atr_multiplier", "must be >= 0, got %v", p.ATRMultiplier)
	case !p.EligibleFrom.IsZero() && !p.EligibleTo.IsZero() && p.EligibleFrom.After(p.EligibleTo):
		return domain.InvalidParam("start_date", "start %s is after end %s",
			p.EligibleFrom.Format(domain.DateLayout), p.EligibleTo.Format(domain.DateLayout))
	}
	return nil
}

// VolatilityFilter reports whether the ATR range filter is active.
func (p Params) VolatilityFilter() bool {
	return p.ATRMultiplier > 0
}

func (p Params) eligible(b domain.Bar) bool {
	d := b.Date()
	if !p.EligibleFrom.IsZero() && d.Before(truncateDay(p.EligibleFrom)) {
		return false
	}
	if !p.EligibleTo.IsZero() && d.After(truncateDay(p.EligibleTo)) {
		return false
	}
	return true
}

func truncateDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Series holds the derived values for every input bar, aligned by index.
type Series struct {
	AvgVolume []Value   `json:"avg_volume"`
	PctChange []Value   `json:"pct_change"`
	TrueRange []float64 `json:"true_range"`
	ATR       []Value   `json:"atr"`
	Breakout  []bool    `json:"breakout"`
}

// Len returns the number of bars covered.
func (s *Series) Len() int {
	return len(s.Breakout)
}

// BreakoutIndices returns the indices of flagged bars in ascending order.
func (s *Series) BreakoutIndices() []int {
	var idx []int
	for i, b := range s.Breakout {
		if b {
			idx = append(idx, i)
		}
	}
	return idx
}

// Compute derives the per-bar series and breakout flags for a single-ticker,
// date-ascending bar sequence.
//
// AvgVolume[i] is the mean of the VolumeWindow volumes strictly before i, so
// it never sees the current day's volume. ATR[i] is the mean of the last
// ATRWindow true ranges including day i; only the previous close used by the
// true range is historical.
func Compute(bars []domain.Bar, p Params) (*Series, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if err := domain.ValidateSeries(bars); err != nil {
		return nil, err
	}
	p = p.withDefaults()

	n := len(bars)
	s := &Series{
		AvgVolume: make([]Value, n),
		PctChange: make([]Value, n),
		TrueRange: make([]float64, n),
		ATR:       make([]Value, n),
		Breakout:  make([]bool, n),
	}

	vol := NewRollingMean(p.VolumeWindow)
	tr := NewRollingMean(p.ATRWindow)

	for i, b := range bars {
		// Read the volume window before today's volume enters it.
		if vol.Full() {
			s.AvgVolume[i] = defined(vol.Mean())
		}
		vol.Push(float64(b.Volume))

		s.TrueRange[i] = b.Range()
		if i > 0 {
			prev := bars[i-1].Close
			s.PctChange[i] = defined(domain.ReturnPct(prev, b.Close))
			s.TrueRange[i] = TrueRange(b.High, b.Low, prev)
		}
		tr.Push(s.TrueRange[i])
		if tr.Full() {
			s.ATR[i] = defined(tr.Mean())
		}

		s.Breakout[i] = p.flag(b, s, i)
	}
	return s, nil
}

func (p Params) flag(b domain.Bar, s *Series, i int) bool {
	avg, pct := s.AvgVolume[i], s.PctChange[i]
	if !avg.Valid || !pct.Valid || !p.eligible(b) {
		return false
	}
	if !(float64(b.Volume) > p.VolumeFactor*avg.V) || !(pct.V >= p.DailyThresholdPct) {
		return false
	}
	if p.VolatilityFilter() {
		atr := s.ATR[i]
		if !atr.Valid || !(b.Range() >= p.ATRMultiplier*atr.V) {
			return false
		}
	}
	return true
}

// TrueRange is max(high-low, |high-prevClose|, |low-prevClose|).
func TrueRange(high, low, prevClose float64) float64 {
	return max(high-low, math.Abs(high-prevClose), math.Abs(low-prevClose))
}
