package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"breakout/internal/app"
	"breakout/internal/config"
	"breakout/internal/util"
	"breakout/pkg/breakout"
)

const version = "0.1.0"

// Global flags
var (
	configPath string
	serverURL  string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "breakout",
	Short: "Volume and price breakout backtester",
	Long: `Backtest volume/price breakouts on daily bars.

A breakout day closes more than daily_threshold_pct above the previous close
on volume above volume_threshold_pct of the 20-day average. Each variant
buys at the breakout close and exits by its own rule.

Examples:
  breakout variants
  breakout run basic --ticker AAPL --start 2020-01-01
  breakout run sltp --ticker NVDA --stop-loss 4 --take-profit 12 --csv
  breakout run horizons --horizons 5,10,20,60 --server http://localhost:8080`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", config.PathFromEnv(), "Config file (missing file uses defaults)")
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "Run against a breakout-server instead of in-process")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level override (debug|info|warn|error)")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the CLI version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "breakout %s\n", version)
		},
	})
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		cancel()
		os.Exit(1)
	}
}

// openLocal builds the in-process service from the config file. Logs go to
// stderr in text form unless LOG_FORMAT=json.
func openLocal(ctx context.Context) (*app.App, error) {
	cfg, err := config.LoadOrDefault(configPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	level := cfg.Logging.Level
	if logLevel != "" {
		level = logLevel
	} else if level == "info" {
		level = "warn"
	}
	format := "text"
	if os.Getenv("LOG_FORMAT") == "json" {
		format = "json"
	}
	logger := util.NewLogger(level, format)
	util.SetDefault(logger)
	return app.New(ctx, cfg, logger)
}

func remote() *breakout.Client {
	return breakout.NewClient(serverURL)
}
