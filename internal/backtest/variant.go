// Package backtest wires market data, breakout detection, trade simulation
// and reporting into named backtest variants.
package backtest

import (
	"sort"
	"time"

	"breakout/internal/simulate"
)

// Variant names.
const (
	Basic      = "basic"
	SLTP       = "sltp"
	Volatility = "volatility"
	Horizons   = "horizons"
)

// Variant is one backtest flavour: a signal configuration, an exit policy
// and the defaults its parameters start from.
type Variant struct {
	Name        string              `json:"name"`
	Title       string              `json:"title"`
	Description string              `json:"description"`
	Policy      simulate.PolicyKind `json:"-"`
	PolicyName  string              `json:"policy"`
	// VolatilityFilter enables the ATR range condition on breakouts.
	VolatilityFilter bool `json:"volatility_filter"`
	// ExitPastEnd lets positions opened near the end date close on bars
	// after it. Breakouts are still only taken inside [start, end].
	ExitPastEnd bool   `json:"exit_past_end"`
	Defaults    Params `json:"defaults"`

	csvName func(ticker string) string
}

// FileName is the suggested CSV download name for a run on ticker.
func (v Variant) FileName(ticker string) string {
	if v.csvName == nil {
		return v.Name + ".csv"
	}
	return v.csvName(ticker)
}

// Registry holds the known variants for lookup and enumeration.
type Registry struct {
	variants map[string]Variant
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		variants: make(map[string]Variant),
	}
}

// Register adds a variant, keyed by its Name.
func (r *Registry) Register(v Variant) {
	v.PolicyName = v.Policy.String()
	r.variants[v.Name] = v
}

// Get retrieves a variant by name. The second return value indicates whether
// the variant was found.
func (r *Registry) Get(name string) (Variant, bool) {
	v, ok := r.variants[name]
	return v, ok
}

// List returns a sorted slice of all registered variant names.
func (r *Registry) List() []string {
	names := make([]string, 0, len(r.variants))
	for name := range r.variants {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// UpdateDefaults applies fn to the defaults of every registered variant.
func (r *Registry) UpdateDefaults(fn func(*Params)) {
	for name, v := range r.variants {
		fn(&v.Defaults)
		r.variants[name] = v
	}
}

// All returns every registered variant sorted by name.
func (r *Registry) All() []Variant {
	out := make([]Variant, 0, len(r.variants))
	for _, name := range r.List() {
		out = append(out, r.variants[name])
	}
	return out
}

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// baseDefaults are the parameter defaults shared by every variant.
func baseDefaults(start time.Time) Params {
	return Params{
		Ticker:             "AAPL",
		Start:              start,
		VolumeThresholdPct: 200,
		DailyThresholdPct:  2,
		HoldingPeriod:      10,
	}
}

// DefaultRegistry returns the four built-in variants.
func DefaultRegistry() *Registry {
	r := NewRegistry()

	r.Register(Variant{
		Name:        Basic,
		Title:       "Mini Strategy Analysis: Volume & Price Breakouts",
		Description: "Buy at the close of every volume and price breakout day and sell after a fixed holding period.",
		Policy:      simulate.FixedHorizonPolicy,
		ExitPastEnd: true,
		Defaults:    baseDefaults(date(2020, 1, 1)),
		csvName:     func(ticker string) string { return ticker + "_breakout_report.csv" },
	})

	sltp := baseDefaults(date(2022, 1, 1))
	sltp.StopLossPct = 5
	sltp.TakeProfitPct = 10
	r.Register(Variant{
		Name:        SLTP,
		Title:       "Stop Loss & Take Profit",
		Description: "Exit on the first close below the stop or above the target, otherwise at the end of the holding period.",
		Policy:      simulate.StopLossTakeProfitPolicy,
		Defaults:    sltp,
		csvName:     func(string) string { return "sl_tp_trades.csv" },
	})

	vol := baseDefaults(date(2021, 1, 1))
	vol.ATRMultiplier = 1.5
	vol.ATRWindow = 14
	r.Register(Variant{
		Name:             Volatility,
		Title:            "Volatility-Adjusted Filter",
		Description:      "Only count a breakout when the day's high-low range is at least a multiple of the ATR.",
		Policy:           simulate.FixedHorizonPolicy,
		VolatilityFilter: true,
		Defaults:         vol,
		csvName:          func(string) string { return "volatility_adjusted_trades.csv" },
	})

	hz := baseDefaults(date(2021, 1, 1))
	hz.HoldingPeriod = 0
	hz.Horizons = []int{5, 10, 20}
	r.Register(Variant{
		Name:        Horizons,
		Title:       "Multiple Time Horizons",
		Description: "Compare the returns of every breakout across several holding periods.",
		Policy:      simulate.MultiHorizonPolicy,
		Defaults:    hz,
		csvName:     func(string) string { return "multiple_horizons.csv" },
	})

	return r
}
