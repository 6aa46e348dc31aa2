package main

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"breakout/internal/backtest"
	"breakout/internal/domain"
	"breakout/internal/report"
	"breakout/pkg/breakout"
)

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("245")).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
	gainStyle   = cellStyle.Foreground(lipgloss.Color("10"))
	lossStyle   = cellStyle.Foreground(lipgloss.Color("9"))
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	borderStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
)

type variantView struct {
	name, title, policy, defaults string
}

type summaryView struct {
	label     string
	count     int
	valid     int
	truncated int
	wins      int
	winRate   float64
	avgPct    *float64
	bestPct   *float64
	worstPct  *float64
}

type tradeView struct {
	buyDate   string
	buyPrice  float64
	sellDate  string
	sellPrice *float64
	returnPct *float64
	exit      string
}

// runView is what the CLI prints for one run, from either an in-process
// result or a server response.
type runView struct {
	title     string
	message   string
	bars      int
	breakouts int
	summaries []summaryView
	trades    []tradeView
}

func viewFromResult(res *backtest.Result) runView {
	v := runView{
		title:     fmt.Sprintf("%s %s  %s..%s", res.Variant, res.Params.Ticker, dateText(&res.Params.Start), dateText(&res.Params.End)),
		message:   res.Message,
		bars:      res.Bars,
		breakouts: res.Breakouts,
	}
	if res.Summary != nil {
		v.summaries = append(v.summaries, summaryFrom("all", *res.Summary))
	}
	for _, h := range res.Horizons {
		v.summaries = append(v.summaries, summaryFrom(fmt.Sprintf("%dd", h.Horizon), h.Summary))
	}
	for _, t := range res.Trades {
		v.trades = append(v.trades, tradeView{
			buyDate: dateText(&t.BuyDate), buyPrice: t.BuyPrice,
			sellDate: dateText(t.SellDate), sellPrice: t.SellPrice, returnPct: t.ReturnPct,
			exit: t.Exit.String(),
		})
	}
	return v
}

func summaryFrom(label string, s report.Summary) summaryView {
	return summaryView{
		label: label, count: s.Count, valid: s.Valid, truncated: s.Truncated,
		wins: s.Wins, winRate: s.WinRate,
		avgPct: s.AvgReturnPct, bestPct: s.BestPct, worstPct: s.WorstPct,
	}
}

func viewFromRemote(res *breakout.Result) runView {
	v := runView{
		title:     fmt.Sprintf("%s %s  %s..%s", res.Variant, res.Params.Ticker, res.Params.StartDate, res.Params.EndDate),
		message:   res.Message,
		bars:      res.Bars,
		breakouts: res.Breakouts,
	}
	if s := res.Summary; s != nil {
		v.summaries = append(v.summaries, summaryView{
			label: "all", count: s.Count, valid: s.Valid, truncated: s.Truncated,
			wins: s.Wins, winRate: s.WinRate,
			avgPct: s.AvgReturnPct, bestPct: s.BestPct, worstPct: s.WorstPct,
		})
	}
	for _, h := range res.Horizons {
		v.summaries = append(v.summaries, summaryView{
			label: fmt.Sprintf("%dd", h.Horizon), count: h.Count, valid: h.Valid, truncated: h.Truncated,
			wins: h.Wins, winRate: h.WinRate,
			avgPct: h.AvgReturnPct, bestPct: h.BestPct, worstPct: h.WorstPct,
		})
	}
	for _, t := range res.Trades {
		v.trades = append(v.trades, tradeView{
			buyDate: dateText(&t.BuyDate), buyPrice: t.BuyPrice,
			sellDate: dateText(t.SellDate), sellPrice: t.SellPrice, returnPct: t.ReturnPct,
			exit: t.Exit,
		})
	}
	return v
}

// resultFromRemote rebuilds the parts of a server result the CSV writers
// need, so a remote run is fetched once and rendered locally.
func resultFromRemote(r *breakout.Result) (*backtest.Result, error) {
	res := &backtest.Result{
		RunID:    r.RunID,
		Variant:  r.Variant,
		Policy:   r.Policy,
		FileName: r.FileName,
		Params: backtest.Params{
			Ticker:        r.Params.Ticker,
			StopLossPct:   r.Params.StopLossPct,
			TakeProfitPct: r.Params.TakeProfitPct,
			Horizons:      r.Params.Horizons,
		},
	}
	for _, t := range r.Trades {
		exit, err := domain.ParseExitReason(t.Exit)
		if err != nil {
			return nil, fmt.Errorf("trade on %s: %w", dateText(&t.BuyDate), err)
		}
		res.Trades = append(res.Trades, domain.Trade{
			BuyDate: t.BuyDate, BuyPrice: t.BuyPrice,
			SellDate: t.SellDate, SellPrice: t.SellPrice, ReturnPct: t.ReturnPct,
			Exit: exit,
		})
	}
	for _, row := range r.Rows {
		out := domain.HorizonRow{BuyDate: row.BreakoutDate, BuyPrice: row.BuyPrice}
		for _, o := range row.Outcomes {
			out.Outcomes = append(out.Outcomes, domain.HorizonOutcome{
				Horizon: o.Horizon, SellDate: o.SellDate, SellPrice: o.SellPrice, ReturnPct: o.ReturnPct,
			})
		}
		res.Rows = append(res.Rows, out)
	}
	return res, nil
}

func csvBytes(res *backtest.Result) ([]byte, error) {
	var buf bytes.Buffer
	if err := res.WriteCSV(&buf); err != nil {
		return nil, fmt.Errorf("rendering csv: %w", err)
	}
	return buf.Bytes(), nil
}

func dateText(t *time.Time) string {
	if t == nil || t.IsZero() {
		return ""
	}
	return t.UTC().Format(domain.DateLayout)
}

func priceText(v *float64) string {
	if v == nil {
		return ""
	}
	return report.FormatPrice(*v)
}

func newTable() *table.Table {
	return table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(borderStyle)
}

// pctStyle colours a cell by the sign of a percentage.
func pctStyle(v *float64) lipgloss.Style {
	switch {
	case v == nil:
		return cellStyle.Inherit(dimStyle)
	case *v > 0:
		return gainStyle
	case *v < 0:
		return lossStyle
	default:
		return cellStyle
	}
}

func renderRun(v runView, showTrades bool) string {
	var sb strings.Builder
	sb.WriteString(titleStyle.Render(v.title))
	sb.WriteString("\n")
	sb.WriteString(dimStyle.Render(fmt.Sprintf("%d bars, %d breakouts", v.bars, v.breakouts)))
	sb.WriteString("\n")
	if v.message != "" {
		sb.WriteString(v.message)
		return sb.String()
	}

	avgs := make([]*float64, len(v.summaries))
	rows := make([][]string, len(v.summaries))
	for i, s := range v.summaries {
		avgs[i] = s.avgPct
		rate := s.winRate * 100
		rows[i] = []string{
			s.label,
			fmt.Sprint(s.count),
			fmt.Sprint(s.valid),
			fmt.Sprint(s.truncated),
			fmt.Sprintf("%d (%s)", s.wins, report.FormatPct(&rate)),
			report.FormatPct(s.avgPct),
			report.FormatPct(s.bestPct),
			report.FormatPct(s.worstPct),
		}
	}
	t := newTable().
		Headers("Scope", "Trades", "Closed", "Open", "Wins", "Avg Return", "Best", "Worst").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			if col == 5 && row >= 0 && row < len(avgs) {
				return pctStyle(avgs[row])
			}
			return cellStyle
		})
	sb.WriteString(t.String())

	if showTrades && len(v.trades) > 0 {
		rets := make([]*float64, len(v.trades))
		trows := make([][]string, len(v.trades))
		for i, tr := range v.trades {
			rets[i] = tr.returnPct
			trows[i] = []string{
				tr.buyDate, report.FormatPrice(tr.buyPrice),
				tr.sellDate, priceText(tr.sellPrice),
				report.FormatPct(tr.returnPct), tr.exit,
			}
		}
		tt := newTable().
			Headers("Buy Date", "Buy Price", "Sell Date", "Sell Price", "Return", "Exit").
			Rows(trows...).
			StyleFunc(func(row, col int) lipgloss.Style {
				if row == table.HeaderRow {
					return headerStyle
				}
				if col == 4 && row >= 0 && row < len(rets) {
					return pctStyle(rets[row])
				}
				return cellStyle
			})
		sb.WriteString("\n")
		sb.WriteString(tt.String())
	}
	return sb.String()
}

func renderVariants(vs []variantView) string {
	rows := make([][]string, len(vs))
	for i, v := range vs {
		rows[i] = []string{v.name, v.title, v.policy, v.defaults}
	}
	return newTable().
		Headers("Variant", "Title", "Exit Policy", "Defaults").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		}).
		String()
}
