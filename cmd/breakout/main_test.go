package main

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"breakout/internal/backtest"
	"breakout/pkg/breakout"
)

func TestQueryFromFlagsOnlyChanged(t *testing.T) {
	fs := runCmd.Flags()
	if err := fs.Parse([]string{"--ticker", "nvda", "--stop-loss", "4.5", "--horizons", "5,10"}); err != nil {
		t.Fatalf("parse: %v", err)
	}
	q := queryFromFlags(fs)

	if got := q.Get(backtest.KeyTicker); got != "nvda" {
		t.Errorf("ticker = %q", got)
	}
	if got := q.Get(backtest.KeyStopLossPct); got != "4.5" {
		t.Errorf("stop loss = %q", got)
	}
	if got := q.Get(backtest.KeyHorizons); got != "5,10" {
		t.Errorf("horizons = %q", got)
	}
	if _, ok := q[backtest.KeyHolding]; ok {
		t.Error("unset holding flag must not be sent")
	}
}

func TestCSVTarget(t *testing.T) {
	dir := t.TempDir()
	if got := csvTarget(dir, "sl_tp_trades.csv"); got != filepath.Join(dir, "sl_tp_trades.csv") {
		t.Errorf("directory target = %q", got)
	}

	sub := filepath.Join(dir, "out") + string(os.PathSeparator)
	if got := csvTarget(sub, "multiple_horizons.csv"); got != filepath.Join(dir, "out", "multiple_horizons.csv") {
		t.Errorf("new directory target = %q", got)
	}
	if _, err := os.Stat(filepath.Join(dir, "out")); err != nil {
		t.Errorf("expected directory to be created: %v", err)
	}

	file := filepath.Join(dir, "mine.csv")
	if got := csvTarget(file, "ignored.csv"); got != file {
		t.Errorf("file target = %q", got)
	}
}

func TestRenderRun(t *testing.T) {
	avg, best, worst := 2.5, 10.0, -5.0
	ret := -5.0
	v := runView{
		title:     "sltp AAPL  2024-01-01..2024-06-30",
		bars:      120,
		breakouts: 2,
		summaries: []summaryView{{
			label: "all", count: 2, valid: 2, wins: 1, winRate: 0.5,
			avgPct: &avg, bestPct: &best, worstPct: &worst,
		}},
		trades: []tradeView{{buyDate: "2024-02-01", buyPrice: 100, sellDate: "2024-02-05", sellPrice: &best, returnPct: &ret, exit: "stop_loss"}},
	}

	out := renderRun(v, true)
	for _, want := range []string{"sltp AAPL", "120 bars, 2 breakouts", "2.50%", "-5.00%", "1 (50.00%)", "stop_loss", "2024-02-05"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}

	v.message = "No breakouts found with the given criteria."
	v.summaries = nil
	if out := renderRun(v, false); !strings.Contains(out, v.message) {
		t.Errorf("expected message in output:\n%s", out)
	}
}

func TestDefaultsText(t *testing.T) {
	if got := defaultsText("AAPL", "2020-01-01", 10, nil); got != "AAPL, from 2020-01-01, hold 10d" {
		t.Errorf("got %q", got)
	}
	if got := defaultsText("AAPL", "2021-01-01", 10, []int{5, 10, 20}); got != "AAPL, from 2021-01-01, horizons 5,10,20" {
		t.Errorf("got %q", got)
	}
}

const sltpResultJSON = `{
  "run_id": "r-1", "variant": "sltp", "policy": "stop_loss_take_profit",
  "params": {"ticker": "AAPL", "start_date": "2024-01-01", "end_date": "2024-02-08", "stop_loss_pct": 5, "take_profit_pct": 10, "holding_period": 10},
  "bars": 99, "breakouts": 1, "file_name": "sl_tp_trades.csv",
  "summary": {"count": 1, "count_valid": 1, "wins": 1, "win_rate": 1, "avg_return_pct": 10.68, "best_pct": 10.68, "worst_pct": 10.68},
  "trades": [{"buy_date": "2024-01-10T00:00:00Z", "buy_price": 103, "sell_date": "2024-01-17T00:00:00Z", "sell_price": 114, "return_pct": 10.68, "exit": "take_profit"}]
}`

func TestRunRemoteCSVFetchesOnce(t *testing.T) {
	var hits atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.URL.Query().Get("format") == "csv" {
			t.Errorf("CSV should be rendered locally, got %s", r.URL)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(sltpResultJSON))
	}))
	defer ts.Close()

	dir := t.TempDir()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"run", "sltp", "--server", ts.URL, "--csv=" + dir})
	defer func() {
		rootCmd.SetArgs(nil)
		serverURL, runCSVPath = "", ""
	}()
	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("run: %v", err)
	}

	if n := hits.Load(); n != 1 {
		t.Errorf("server hit %d times, want 1", n)
	}
	data, err := os.ReadFile(filepath.Join(dir, "sl_tp_trades.csv"))
	if err != nil {
		t.Fatalf("reading csv: %v", err)
	}
	want := "Buy Date,Buy Price,Sell Date,Sell Price,Return %,Exit,Stop Loss %,Take Profit %\n" +
		"2024-01-10,103,2024-01-17,114,10.68,take_profit,5,10\n"
	if string(data) != want {
		t.Errorf("csv =\n%s\nwant\n%s", data, want)
	}
}

func TestResultFromRemoteHorizons(t *testing.T) {
	ret := 4.0
	sell := 107.12
	r := &breakout.Result{
		Policy: "multi_horizon",
		Params: breakout.Params{Horizons: []int{5, 10}},
		Rows: []breakout.HorizonRow{{
			BuyPrice: 103,
			Outcomes: []breakout.HorizonOutcome{{Horizon: 5, SellPrice: &sell, ReturnPct: &ret}, {Horizon: 10}},
		}},
	}
	res, err := resultFromRemote(r)
	if err != nil {
		t.Fatalf("resultFromRemote: %v", err)
	}
	data, err := csvBytes(res)
	if err != nil {
		t.Fatalf("csvBytes: %v", err)
	}
	if !strings.HasPrefix(string(data), "Breakout Date,Buy Price,Sell Date 5d,") {
		t.Errorf("unexpected header:\n%s", data)
	}

	r.Trades = []breakout.Trade{{Exit: "sideways"}}
	if _, err := resultFromRemote(r); err == nil {
		t.Error("unknown exit reason should be rejected")
	}
}
