// Package simulate turns breakout flags into simulated trades under one of
// three exit policies: a fixed holding period, a stop-loss/take-profit race
// bounded by the holding period, or a fan-out over several horizons.
//
// A position is always bought at the close of the breakout day and sold at a
// later close. Every breakout day produces exactly one trade (or one horizon
// row), in chronological order, including positions that run past the end of
// the data; those carry nil sell fields.
package simulate

import (
	"fmt"
	"time"

	"breakout/internal/domain"
)

// PolicyKind selects the exit rule.
type PolicyKind int

const (
	FixedHorizonPolicy PolicyKind = iota
	StopLossTakeProfitPolicy
	MultiHorizonPolicy
)

func (k PolicyKind) String() string {
	switch k {
	case FixedHorizonPolicy:
		return "fixed_horizon"
	case StopLossTakeProfitPolicy:
		return "stop_loss_take_profit"
	case MultiHorizonPolicy:
		return "multi_horizon"
	default:
		return "unknown"
	}
}

// Policy is the exit configuration of a simulation run. StopLossPct and
// TakeProfitPct are fractions (0.05 for 5%).
type Policy struct {
	Kind          PolicyKind
	HoldingPeriod int
	StopLossPct   float64
	TakeProfitPct float64
	Horizons      domain.Horizons
}

// Validate checks the fields the selected kind uses.
func (p Policy) Validate() error {
	switch p.Kind {
	case FixedHorizonPolicy:
		return validateHolding(p.HoldingPeriod)
	case StopLossTakeProfitPolicy:
		if err := validateHolding(p.HoldingPeriod); err != nil {
			return err
		}
		if !(p.StopLossPct > 0 && p.StopLossPct < 1) {
			return domain.InvalidParam("stop_loss_pct", "must be in (0, 100), got %v", p.StopLossPct*100)
		}
		if !(p.TakeProfitPct > 0 && p.TakeProfitPct < 1) {
			return domain.InvalidParam("take_profit_pct", "must be in (0, 100), got %v", p.TakeProfitPct*100)
		}
	case MultiHorizonPolicy:
		if _, err := domain.NewHorizons(p.Horizons); err != nil {
			return err
		}
	default:
		return domain.InvalidParam("policy", "unknown policy %d", int(p.Kind))
	}
	return nil
}

func validateHolding(h int) error {
	if h < 1 {
		return domain.InvalidParam("holding_period", "must be >= 1, got %d", h)
	}
	return nil
}

// Result carries the output of Run; exactly one of Trades or Rows is set
// depending on the policy kind.
type Result struct {
	Trades []domain.Trade
	Rows   []domain.HorizonRow
}

// Run simulates every breakout under policy p.
func Run(bars []domain.Bar, breakouts []bool, p Policy) (Result, error) {
	if err := p.Validate(); err != nil {
		return Result{}, err
	}
	if err := aligned(bars, breakouts); err != nil {
		return Result{}, err
	}
	switch p.Kind {
	case StopLossTakeProfitPolicy:
		return Result{Trades: stopLossTakeProfit(bars, breakouts, p.HoldingPeriod, p.StopLossPct, p.TakeProfitPct)}, nil
	case MultiHorizonPolicy:
		h, _ := domain.NewHorizons(p.Horizons)
		return Result{Rows: multiHorizon(bars, breakouts, h)}, nil
	default:
		return Result{Trades: fixedHorizon(bars, breakouts, p.HoldingPeriod)}, nil
	}
}

// FixedHorizon buys at each breakout close and sells holding bars later.
func FixedHorizon(bars []domain.Bar, breakouts []bool, holding int) ([]domain.Trade, error) {
	res, err := Run(bars, breakouts, Policy{Kind: FixedHorizonPolicy, HoldingPeriod: holding})
	return res.Trades, err
}

// StopLossTakeProfit walks forward from each breakout, exiting on the first
// close below the stop or above the target, otherwise at the holding period.
// slPct and tpPct are fractions.
func StopLossTakeProfit(bars []domain.Bar, breakouts []bool, holding int, slPct, tpPct float64) ([]domain.Trade, error) {
	res, err := Run(bars, breakouts, Policy{
		Kind:          StopLossTakeProfitPolicy,
		HoldingPeriod: holding,
		StopLossPct:   slPct,
		TakeProfitPct: tpPct,
	})
	return res.Trades, err
}

// MultiHorizon computes an independent fixed-horizon exit for every horizon
// of every breakout day.
func MultiHorizon(bars []domain.Bar, breakouts []bool, horizons []int) ([]domain.HorizonRow, error) {
	res, err := Run(bars, breakouts, Policy{Kind: MultiHorizonPolicy, Horizons: horizons})
	return res.Rows, err
}

func aligned(bars []domain.Bar, breakouts []bool) error {
	if len(bars) != len(breakouts) {
		return &domain.DataShapeError{
			Index:  min(len(bars), len(breakouts)),
			Reason: fmt.Sprintf("%d breakout flags for %d bars", len(breakouts), len(bars)),
		}
	}
	return nil
}

func fixedHorizon(bars []domain.Bar, breakouts []bool, holding int) []domain.Trade {
	var trades []domain.Trade
	for i, flagged := range breakouts {
		if !flagged {
			continue
		}
		t := open(bars[i])
		if j := i + holding; j < len(bars) {
			t = closeAt(t, bars[j], domain.ExitHorizon)
		} else {
			t.Exit = domain.ExitTruncated
		}
		trades = append(trades, t)
	}
	return trades
}

func stopLossTakeProfit(bars []domain.Bar, breakouts []bool, holding int, slPct, tpPct float64) []domain.Trade {
	var trades []domain.Trade
	for i, flagged := range breakouts {
		if !flagged {
			continue
		}
		trades = append(trades, raceExit(bars, i, holding, slPct, tpPct))
	}
	return trades
}

// raceExit runs the per-trade state machine. The position starts open and
// moves to exactly one terminal state. Days are scanned in order so the
// earliest trigger wins; on a single day the stop is evaluated first.
func raceExit(bars []domain.Bar, i, holding int, slPct, tpPct float64) domain.Trade {
	t := open(bars[i])
	slPrice := t.BuyPrice * (1 - slPct)
	tpPrice := t.BuyPrice * (1 + tpPct)

	last := min(i+holding, len(bars)-1)
	for j := i + 1; j <= last; j++ {
		c := bars[j].Close
		if c < slPrice {
			return closeAt(t, bars[j], domain.ExitStopLoss)
		}
		if c > tpPrice {
			return closeAt(t, bars[j], domain.ExitTakeProfit)
		}
	}
	if i+holding < len(bars) {
		return closeAt(t, bars[i+holding], domain.ExitHorizon)
	}
	t.Exit = domain.ExitTruncated
	return t
}

func multiHorizon(bars []domain.Bar, breakouts []bool, horizons domain.Horizons) []domain.HorizonRow {
	var rows []domain.HorizonRow
	for i, flagged := range breakouts {
		if !flagged {
			continue
		}
		row := domain.HorizonRow{
			BuyDate:  bars[i].Date(),
			BuyPrice: bars[i].Close,
			Outcomes: make([]domain.HorizonOutcome, len(horizons)),
		}
		for k, h := range horizons {
			out := domain.HorizonOutcome{Horizon: h}
			if j := i + h; j < len(bars) {
				out.SellDate, out.SellPrice, out.ReturnPct = sale(row.BuyPrice, bars[j])
			}
			row.Outcomes[k] = out
		}
		rows = append(rows, row)
	}
	return rows
}

func open(b domain.Bar) domain.Trade {
	return domain.Trade{BuyDate: b.Date(), BuyPrice: b.Close, Exit: domain.ExitOpen}
}

func closeAt(t domain.Trade, b domain.Bar, reason domain.ExitReason) domain.Trade {
	t.SellDate, t.SellPrice, t.ReturnPct = sale(t.BuyPrice, b)
	t.Exit = reason
	return t
}

func sale(buy float64, b domain.Bar) (*time.Time, *float64, *float64) {
	date := b.Date()
	price := b.Close
	ret := domain.ReturnPct(buy, price)
	return &date, &price, &ret
}
