// Package breakout is a Go client for the breakout-server HTTP API.
package breakout

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client provides a Go SDK for interacting with the breakout-server API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a new breakout API client.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
}

// WithHTTPClient replaces the underlying HTTP client.
func (c *Client) WithHTTPClient(hc *http.Client) *Client {
	c.httpClient = hc
	return c
}

// ---------------------------------------------------------------------------
// Response types
// ---------------------------------------------------------------------------

// Params echoes the parameters a run used. Percentages are in percent.
type Params struct {
	Ticker             string  `json:"ticker"`
	StartDate          string  `json:"start_date"`
	EndDate            string  `json:"end_date"`
	VolumeThresholdPct float64 `json:"volume_threshold_pct"`
	DailyThresholdPct  float64 `json:"daily_threshold_pct"`
	HoldingPeriod      int     `json:"holding_period"`
	StopLossPct        float64 `json:"stop_loss_pct"`
	TakeProfitPct      float64 `json:"take_profit_pct"`
	ATRMultiplier      float64 `json:"atr_multiplier"`
	ATRWindow          int     `json:"atr_window"`
	Horizons           []int   `json:"horizons"`
}

// Variant describes one backtest flavour.
type Variant struct {
	Name             string `json:"name"`
	Title            string `json:"title"`
	Description      string `json:"description"`
	Policy           string `json:"policy"`
	VolatilityFilter bool   `json:"volatility_filter"`
	Defaults         Params `json:"defaults"`
	FileName         string `json:"file_name"`
}

// Summary aggregates trade returns. Pointer fields are nil when no trade
// closed.
type Summary struct {
	Count        int      `json:"count"`
	Valid        int      `json:"count_valid"`
	Truncated    int      `json:"truncated"`
	Wins         int      `json:"wins"`
	WinRate      float64  `json:"win_rate"`
	AvgReturnPct *float64 `json:"avg_return_pct"`
	BestPct      *float64 `json:"best_pct"`
	WorstPct     *float64 `json:"worst_pct"`
}

// HorizonSummary is the Summary of one holding horizon.
type HorizonSummary struct {
	Horizon int `json:"horizon"`
	Summary
}

// Trade is one simulated position.
type Trade struct {
	BuyDate   time.Time  `json:"buy_date"`
	BuyPrice  float64    `json:"buy_price"`
	SellDate  *time.Time `json:"sell_date"`
	SellPrice *float64   `json:"sell_price"`
	ReturnPct *float64   `json:"return_pct"`
	Exit      string     `json:"exit"`
}

// HorizonOutcome is the exit at one horizon of a HorizonRow.
type HorizonOutcome struct {
	Horizon   int        `json:"horizon"`
	SellDate  *time.Time `json:"sell_date"`
	SellPrice *float64   `json:"sell_price"`
	ReturnPct *float64   `json:"return_pct"`
}

// HorizonRow is one breakout day of a multi-horizon run.
type HorizonRow struct {
	BreakoutDate time.Time        `json:"breakout_date"`
	BuyPrice     float64          `json:"buy_price"`
	Outcomes     []HorizonOutcome `json:"outcomes"`
}

// Result is the JSON document of a backtest run.
type Result struct {
	RunID     string   `json:"run_id"`
	Variant   string   `json:"variant"`
	Policy    string   `json:"policy"`
	Params    Params   `json:"params"`
	Bars      int      `json:"bars"`
	Breakouts int      `json:"breakouts"`
	Message   string   `json:"message"`
	FileName  string   `json:"file_name"`
	ElapsedMS int64    `json:"elapsed_ms"`
	Summary   *Summary `json:"summary"`

	Trades   []Trade          `json:"trades"`
	Rows     []HorizonRow     `json:"rows"`
	Horizons []HorizonSummary `json:"horizon_summaries"`
}

// Health is the server health report.
type Health struct {
	Status   string `json:"status"`
	Provider string `json:"provider"`
	Version  string `json:"version"`
}

// APIError is returned for any non-2xx response.
type APIError struct {
	StatusCode int
	Message    string `json:"error"`
	Outcome    string `json:"outcome"`
	Field      string `json:"field"`
}

func (e *APIError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("breakout api: %d %s (%s): %s", e.StatusCode, e.Outcome, e.Field, e.Message)
	}
	return fmt.Sprintf("breakout api: %d %s: %s", e.StatusCode, e.Outcome, e.Message)
}

// ---------------------------------------------------------------------------
// Endpoints
// ---------------------------------------------------------------------------

// Variants lists the backtest variants the server offers.
func (c *Client) Variants(ctx context.Context) ([]Variant, error) {
	var out struct {
		Variants []Variant `json:"variants"`
	}
	if err := c.getJSON(ctx, "/api/variants", nil, &out); err != nil {
		return nil, err
	}
	return out.Variants, nil
}

// Variant returns one variant with its defaults.
func (c *Client) Variant(ctx context.Context, name string) (*Variant, error) {
	var v Variant
	if err := c.getJSON(ctx, "/api/variants/"+url.PathEscape(name), nil, &v); err != nil {
		return nil, err
	}
	return &v, nil
}

// Backtest runs variant with the given query parameters (ticker,
// start_date, holding_period, ...). Unset parameters take the server
// defaults.
func (c *Client) Backtest(ctx context.Context, variant string, q url.Values) (*Result, error) {
	var res Result
	if err := c.getJSON(ctx, "/api/backtest/"+url.PathEscape(variant), q, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// BacktestCSV runs variant and returns the CSV table with the suggested
// file name.
func (c *Client) BacktestCSV(ctx context.Context, variant string, q url.Values) ([]byte, string, error) {
	v := url.Values{}
	for k, vals := range q {
		v[k] = vals
	}
	v.Set("format", "csv")

	resp, err := c.do(ctx, "/api/backtest/"+url.PathEscape(variant), v)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("reading csv body: %w", err)
	}
	var name string
	if _, params, err := mime.ParseMediaType(resp.Header.Get("Content-Disposition")); err == nil {
		name = params["filename"]
	}
	return body, name, nil
}

// Health returns the server health report.
func (c *Client) Health(ctx context.Context) (*Health, error) {
	var h Health
	if err := c.getJSON(ctx, "/healthz", nil, &h); err != nil {
		return nil, err
	}
	return &h, nil
}

func (c *Client) getJSON(ctx context.Context, path string, q url.Values, out any) error {
	resp, err := c.do(ctx, path, q)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding %s: %w", path, err)
	}
	return nil
}

// do issues a GET and converts non-2xx responses to *APIError.
func (c *Client) do(ctx context.Context, path string, q url.Values) (*http.Response, error) {
	u := c.baseURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("GET %s: %w", path, err)
	}
	if resp.StatusCode/100 == 2 {
		return resp, nil
	}
	defer resp.Body.Close()

	apiErr := &APIError{StatusCode: resp.StatusCode}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if json.Unmarshal(body, apiErr) != nil || apiErr.Message == "" {
		apiErr.Message = strings.TrimSpace(string(body))
		if apiErr.Message == "" {
			apiErr.Message = http.StatusText(resp.StatusCode)
		}
	}
	return nil, apiErr
}
