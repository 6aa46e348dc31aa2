package main

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"breakout/internal/backtest"
)

var runCmd = &cobra.Command{
	Use:   "run <variant>",
	Short: "Run one backtest variant",
	Long: `Run a backtest variant (basic, sltp, volatility or horizons) and print
its summary. Unset parameters take the variant defaults; the end date
defaults to today.

Examples:
  breakout run basic --ticker AAPL --start 2020-01-01 --holding 10
  breakout run volatility --atr-multiplier 2 --atr-window 20 --trades
  breakout run horizons --horizons "5, 10, 20" --csv=out/`,
	Args: cobra.ExactArgs(1),
	RunE: runRun,
}

// Run command flags
var (
	runShowTrades bool
	runCSVPath    string
)

// paramFlags maps flag names to query parameter keys.
var paramFlags = map[string]string{
	"ticker":         backtest.KeyTicker,
	"start":          backtest.KeyStart,
	"end":            backtest.KeyEnd,
	"volume-pct":     backtest.KeyVolumePct,
	"daily-pct":      backtest.KeyDailyPct,
	"holding":        backtest.KeyHolding,
	"stop-loss":      backtest.KeyStopLossPct,
	"take-profit":    backtest.KeyTakeProfitPct,
	"atr-multiplier": backtest.KeyATRMultiplier,
	"atr-window":     backtest.KeyATRWindow,
	"horizons":       backtest.KeyHorizons,
}

func init() {
	rootCmd.AddCommand(runCmd)

	f := runCmd.Flags()
	f.String("ticker", "", "Ticker symbol")
	f.String("start", "", "Start date (YYYY-MM-DD)")
	f.String("end", "", "End date (YYYY-MM-DD, default today)")
	f.Float64("volume-pct", 0, "Volume threshold in percent of the 20-day average")
	f.Float64("daily-pct", 0, "Minimum daily close-to-close change in percent")
	f.Int("holding", 0, "Holding period in trading days")
	f.Float64("stop-loss", 0, "Stop loss in percent (sltp)")
	f.Float64("take-profit", 0, "Take profit in percent (sltp)")
	f.Float64("atr-multiplier", 0, "ATR range multiplier (volatility)")
	f.Int("atr-window", 0, "ATR window in days (volatility)")
	f.String("horizons", "", "Comma-separated holding horizons (horizons)")

	f.BoolVar(&runShowTrades, "trades", false, "Print every trade")
	f.StringVar(&runCSVPath, "csv", "", "Write the result table to this file or directory")
	f.Lookup("csv").NoOptDefVal = "."
}

// queryFromFlags collects only the flags set on the command line.
func queryFromFlags(fs *pflag.FlagSet) url.Values {
	q := url.Values{}
	fs.Visit(func(fl *pflag.Flag) {
		if key, ok := paramFlags[fl.Name]; ok {
			q.Set(key, fl.Value.String())
		}
	})
	return q
}

func runRun(cmd *cobra.Command, args []string) error {
	variant := args[0]
	q := queryFromFlags(cmd.Flags())

	var view runView
	var csvData []byte
	var fileName string

	if serverURL != "" {
		c := remote()
		res, err := c.Backtest(cmd.Context(), variant, q)
		if err != nil {
			return err
		}
		view = viewFromRemote(res)
		if runCSVPath != "" {
			local, err := resultFromRemote(res)
			if err != nil {
				return err
			}
			if csvData, err = csvBytes(local); err != nil {
				return err
			}
			fileName = res.FileName
		}
	} else {
		a, err := openLocal(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		res, err := a.Service.RunQuery(cmd.Context(), variant, q)
		if err != nil {
			return err
		}
		view = viewFromResult(res)
		if runCSVPath != "" {
			if csvData, err = csvBytes(res); err != nil {
				return err
			}
			fileName = res.FileName
		}
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, renderRun(view, runShowTrades))

	if runCSVPath != "" {
		path := csvTarget(runCSVPath, fileName)
		if err := os.WriteFile(path, csvData, 0o644); err != nil {
			return fmt.Errorf("writing csv: %w", err)
		}
		fmt.Fprintf(out, "wrote %s\n", path)
	}
	return nil
}

// csvTarget resolves --csv: a directory (or a path ending in a separator)
// receives the suggested file name.
func csvTarget(path, fileName string) string {
	if fi, err := os.Stat(path); err == nil && fi.IsDir() {
		return filepath.Join(path, fileName)
	}
	if os.IsPathSeparator(path[len(path)-1]) {
		os.MkdirAll(path, 0o755)
		return filepath.Join(path, fileName)
	}
	return path
}
