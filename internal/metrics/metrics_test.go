package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCollectorCounts(t *testing.T) {
	c := New()

	c.CacheLookup(true)
	c.CacheLookup(false)
	c.CacheLookup(false)
	if got := testutil.ToFloat64(c.CacheLookups.WithLabelValues("miss")); got != 2 {
		t.Errorf("cache misses = %v, want 2", got)
	}

	c.RunDone("sltp", "ok", 10*time.Millisecond, 3, map[string]int{"stop_loss": 2, "truncated": 1})
	c.RunDone("sltp", "no_data", time.Millisecond, 0, nil)
	if got := testutil.ToFloat64(c.Runs.WithLabelValues("sltp", "ok")); got != 1 {
		t.Errorf("ok runs = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.Breakouts.WithLabelValues("sltp")); got != 3 {
		t.Errorf("breakouts = %v, want 3", got)
	}
	if got := testutil.ToFloat64(c.Trades.WithLabelValues("sltp", "stop_loss")); got != 2 {
		t.Errorf("stop-loss trades = %v, want 2", got)
	}

	c.FetchDone("alpaca", time.Second, errors.New("boom"))
	if n := testutil.CollectAndCount(c.FetchDuration); n != 1 {
		t.Errorf("fetch duration series = %d, want 1", n)
	}
}

func TestHandlerExposesMetrics(t *testing.T) {
	c := New()
	c.CacheLookup(true)

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), `breakout_bar_cache_lookups_total{result="hit"} 1`) {
		t.Errorf("exposition missing cache counter:\n%s", body)
	}
}
