package marketdata

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"

	"breakout/internal/domain"
)

// Compile-time interface check.
var _ Provider = (*AlpacaProvider)(nil)

// barsClient is the subset of the Alpaca market-data client used here.
type barsClient interface {
	GetBars(symbol string, req marketdata.GetBarsRequest) ([]marketdata.Bar, error)
}

// AlpacaProvider fetches split- and dividend-adjusted daily bars from the
// Alpaca market-data API.
type AlpacaProvider struct {
	client barsClient
	feed   marketdata.Feed
	adjust marketdata.Adjustment
	log    *slog.Logger
}

// AlpacaOptions configures NewAlpacaProvider. Empty Feed and Adjustment fall
// back to "iex" and "all".
type AlpacaOptions struct {
	APIKey     string
	APISecret  string
	DataURL    string
	Feed       string
	Adjustment string
}

// NewAlpacaProvider creates an AlpacaProvider with the given credentials.
func NewAlpacaProvider(o AlpacaOptions) *AlpacaProvider {
	opts := marketdata.ClientOpts{
		APIKey:    o.APIKey,
		APISecret: o.APISecret,
	}
	if o.DataURL != "" {
		opts.BaseURL = o.DataURL
	}
	return newAlpacaProvider(marketdata.NewClient(opts), o.Feed, o.Adjustment)
}

func newAlpacaProvider(client barsClient, feed, adjust string) *AlpacaProvider {
	if feed == "" {
		feed = "iex"
	}
	if adjust == "" {
		adjust = string(marketdata.All)
	}
	return &AlpacaProvider{
		client: client,
		feed:   marketdata.Feed(feed),
		adjust: marketdata.Adjustment(adjust),
		log:    slog.Default().With("provider", "alpaca"),
	}
}

// FetchBars fetches daily bars for ticker in [start, end].
func (p *AlpacaProvider) FetchBars(ctx context.Context, ticker string, start, end time.Time, interval string) ([]domain.Bar, error) {
	symbol, err := checkRequest(ticker, start, end, interval)
	if err != nil {
		return nil, err
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	// Daily bars are stamped at midnight New York time, so the day after end
	// (UTC midnight) still excludes the next session.
	alpacaBars, err := p.client.GetBars(symbol, marketdata.GetBarsRequest{
		TimeFrame:  marketdata.OneDay,
		Start:      dayOf(start),
		End:        dayOf(end).AddDate(0, 0, 1),
		Feed:       p.feed,
		Adjustment: p.adjust,
	})
	if err != nil {
		return nil, fmt.Errorf("GetBars %s: %w", symbol, err)
	}

	bars := make([]domain.Bar, 0, len(alpacaBars))
	for _, ab := range alpacaBars {
		bars = append(bars, domain.Bar{
			Symbol:     symbol,
			Timestamp:  ab.Timestamp,
			Open:       ab.Open,
			High:       ab.High,
			Low:        ab.Low,
			Close:      ab.Close,
			Volume:     int64(ab.Volume),
			TradeCount: int64(ab.TradeCount),
			VWAP:       ab.VWAP,
		})
	}
	p.log.Debug("fetched bars", "ticker", symbol, "bars", len(bars))
	return finish(symbol, bars, start, end)
}
