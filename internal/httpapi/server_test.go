package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"breakout/internal/backtest"
	"breakout/internal/domain"
	"breakout/internal/marketdata"
	"breakout/internal/metrics"
)

var day0 = time.Date(2023, 11, 1, 0, 0, 0, 0, time.UTC)

// spikeBars is 100 flat days with one +3% close on triple volume at index 70
// (2024-01-10).
func spikeBars() []domain.Bar {
	bars := make([]domain.Bar, 100)
	for i := range bars {
		b := domain.Bar{Symbol: "AAPL", Timestamp: day0.AddDate(0, 0, i), Volume: 1000,
			Open: 100, High: 101, Low: 99, Close: 100}
		if i == 70 {
			b.High, b.Close, b.Volume = 104, 103, 3000
		} else if i > 70 {
			b.Close = 103 + float64(i-70)
			b.High = b.Close + 1
		}
		bars[i] = b
	}
	return bars
}

type stubProvider struct {
	bars []domain.Bar
	err  error
}

func (s stubProvider) FetchBars(context.Context, string, time.Time, time.Time, string) ([]domain.Bar, error) {
	return s.bars, s.err
}

type fixedState string

func (f fixedState) State() string { return string(f) }

func newTestServer(p stubProvider, o Options) *httptest.Server {
	m := metrics.New()
	svc := backtest.NewService(p, backtest.DefaultRegistry(), backtest.ServiceOptions{Metrics: m})
	if o.Metrics == nil {
		o.Metrics = m.Handler()
	}
	return httptest.NewServer(NewServer(svc, o).Handler())
}

const window = "start_date=2024-01-01&end_date=2024-02-08"

func get(t *testing.T, url string) (*http.Response, []byte) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, body
}

func TestBacktestJSON(t *testing.T) {
	ts := newTestServer(stubProvider{bars: spikeBars()}, Options{})
	defer ts.Close()

	resp, body := get(t, ts.URL+"/api/backtest/basic?ticker=aapl&"+window)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))

	var doc struct {
		Variant   string `json:"variant"`
		Breakouts int    `json:"breakouts"`
		Params    struct {
			Ticker string `json:"ticker"`
		} `json:"params"`
		Summary struct {
			Count int `json:"count"`
		} `json:"summary"`
		Trades []struct {
			BuyDate string `json:"buy_date"`
		} `json:"trades"`
	}
	require.NoError(t, json.Unmarshal(body, &doc))
	assert.Equal(t, "basic", doc.Variant)
	assert.Equal(t, "AAPL", doc.Params.Ticker)
	assert.Equal(t, 1, doc.Breakouts)
	assert.Equal(t, 1, doc.Summary.Count)
	assert.Len(t, doc.Trades, 1)
}

func TestBacktestCSV(t *testing.T) {
	ts := newTestServer(stubProvider{bars: spikeBars()}, Options{})
	defer ts.Close()

	resp, body := get(t, ts.URL+"/api/backtest/sltp?format=csv&ticker=AAPL&"+window)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	assert.Equal(t, `attachment; filename="sl_tp_trades.csv"`, resp.Header.Get("Content-Disposition"))
	assert.NotEmpty(t, resp.Header.Get("X-Run-Id"))

	lines := strings.Split(strings.TrimSpace(string(body)), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "Buy Date,Buy Price,Sell Date,Sell Price,Return %,Exit,Stop Loss %,Take Profit %", lines[0])
	assert.True(t, strings.HasPrefix(lines[1], "2024-01-10,103,"), lines[1])
}

func TestBacktestHorizonsCSVFileName(t *testing.T) {
	ts := newTestServer(stubProvider{bars: spikeBars()}, Options{})
	defer ts.Close()

	resp, body := get(t, ts.URL+"/api/backtest/horizons?format=csv&horizons=5,abc,10&"+window)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	assert.Contains(t, resp.Header.Get("Content-Disposition"), "multiple_horizons.csv")
	assert.True(t, strings.HasPrefix(string(body), "Breakout Date,Buy Price,Sell Date 5d,Sell Price 5d,Return_5d,Sell Date 10d"))
}

func TestBacktestErrorStatus(t *testing.T) {
	cases := []struct {
		name    string
		prov    stubProvider
		path    string
		status  int
		outcome string
		field   string
	}{
		{"unknown variant", stubProvider{}, "/api/backtest/nope?" + window, 400, "invalid_parameter", "variant"},
		{"bad number", stubProvider{}, "/api/backtest/basic?holding_period=x&" + window, 400, "invalid_parameter", "holding_period"},
		{"bad horizons", stubProvider{}, "/api/backtest/horizons?horizons=a,0&" + window, 400, "invalid_parameter", "horizons"},
		{"bad format", stubProvider{}, "/api/backtest/basic?format=xml&" + window, 400, "invalid_parameter", "format"},
		{"path-like ticker", stubProvider{}, "/api/backtest/basic?ticker=..%2Fsecret&" + window, 400, "invalid_parameter", "ticker"},
		{"no data", stubProvider{err: fmt.Errorf("fetching: %w", domain.ErrNoData)}, "/api/backtest/basic?" + window, 404, "no_data", ""},
		{"bad bars", stubProvider{bars: []domain.Bar{{Symbol: "AAPL", Timestamp: day0, Open: 1, High: 0.5, Low: 1, Close: 1}}}, "/api/backtest/basic?" + window, 422, "data_shape", ""},
		{"breaker open", stubProvider{err: fmt.Errorf("%w: circuit open", marketdata.ErrUnavailable)}, "/api/backtest/basic?" + window, 503, "unavailable", ""},
		{"timeout", stubProvider{err: context.DeadlineExceeded}, "/api/backtest/basic?" + window, 504, "timeout", ""},
		{"transport", stubProvider{err: errors.New("connection reset")}, "/api/backtest/basic?" + window, 502, "error", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ts := newTestServer(tc.prov, Options{})
			defer ts.Close()

			resp, body := get(t, ts.URL+tc.path)
			require.Equal(t, tc.status, resp.StatusCode, string(body))

			var e ErrorResponse
			require.NoError(t, json.Unmarshal(body, &e))
			assert.Equal(t, tc.outcome, e.Outcome)
			assert.Equal(t, tc.field, e.Field)
			assert.NotEmpty(t, e.Error)
		})
	}
}

func TestEmptyResultIsNotAnError(t *testing.T) {
	flat := spikeBars()[:60]
	ts := newTestServer(stubProvider{bars: flat}, Options{})
	defer ts.Close()

	resp, body := get(t, ts.URL+"/api/backtest/basic?start_date=2023-11-01&end_date=2023-12-30")
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	assert.Contains(t, string(body), "No breakouts found with the given criteria.")
}

func TestVariants(t *testing.T) {
	ts := newTestServer(stubProvider{}, Options{})
	defer ts.Close()

	resp, body := get(t, ts.URL+"/api/variants")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var vr VariantsResponse
	require.NoError(t, json.Unmarshal(body, &vr))
	var names []string
	for _, v := range vr.Variants {
		names = append(names, v.Name)
	}
	assert.ElementsMatch(t, []string{"basic", "sltp", "volatility", "horizons"}, names)

	resp, body = get(t, ts.URL+"/api/variants/volatility")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var v VariantJSON
	require.NoError(t, json.Unmarshal(body, &v))
	assert.True(t, v.VolatilityFilter)
	assert.Equal(t, "volatility_adjusted_trades.csv", v.FileName)

	resp, _ = get(t, ts.URL+"/api/variants/nope")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHealthAndMetrics(t *testing.T) {
	ts := newTestServer(stubProvider{bars: spikeBars()}, Options{Breaker: fixedState("open"), Version: "test"})
	defer ts.Close()

	resp, body := get(t, ts.URL+"/healthz")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var h HealthResponse
	require.NoError(t, json.Unmarshal(body, &h))
	assert.Equal(t, HealthResponse{Status: "degraded", Provider: "open", Version: "test"}, h)

	get(t, ts.URL+"/api/backtest/basic?"+window)
	resp, body = get(t, ts.URL+"/metrics")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "breakout_runs_total")
}

func TestCORSPreflight(t *testing.T) {
	ts := newTestServer(stubProvider{}, Options{})
	defer ts.Close()

	req, err := http.NewRequest(http.MethodOptions, ts.URL+"/api/variants", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusOK, StatusFor(nil))
	assert.Equal(t, http.StatusBadRequest, StatusFor(fmt.Errorf("wrapped: %w", domain.InvalidParam("x", "bad"))))
	assert.Equal(t, 499, StatusFor(context.Canceled))
}
