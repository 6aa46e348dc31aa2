package marketdata

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"breakout/internal/domain"
)

// Compile-time interface check.
var _ Provider = (*CSVProvider)(nil)

// CSVProvider reads daily bars from <Dir>/<TICKER>.csv. The header must name
// Date, Open, High, Low, Close and Volume columns (any order, any case);
// extra columns are ignored. Dates use the 2006-01-02 layout.
type CSVProvider struct {
	Dir string
}

// NewCSVProvider creates a CSVProvider over dir.
func NewCSVProvider(dir string) *CSVProvider {
	return &CSVProvider{Dir: dir}
}

// FetchBars reads the ticker's file and returns the bars within [start, end].
func (p *CSVProvider) FetchBars(ctx context.Context, ticker string, start, end time.Time, interval string) ([]domain.Bar, error) {
	symbol, err := checkRequest(ticker, start, end, interval)
	if err != nil {
		return nil, err
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	f, err := os.Open(filepath.Join(p.Dir, symbol+".csv"))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%s: %w", symbol, domain.ErrNoData)
		}
		return nil, err
	}
	defer f.Close()

	bars, err := ReadBarsCSV(f, symbol)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", f.Name(), err)
	}
	return finish(symbol, bars, start, end)
}

// ReadBarsCSV parses an OHLCV table for symbol.
func ReadBarsCSV(r io.Reader, symbol string) ([]domain.Bar, error) {
	cr := csv.NewReader(r)
	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("reading header: %w", err)
	}

	cols := make(map[string]int, len(header))
	for i, h := range header {
		cols[strings.ToLower(strings.TrimSpace(h))] = i
	}
	need := []string{"date", "open", "high", "low", "close", "volume"}
	idx := make([]int, len(need))
	for i, name := range need {
		c, ok := cols[name]
		if !ok {
			return nil, fmt.Errorf("missing column %q", name)
		}
		idx[i] = c
	}

	var bars []domain.Bar
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		ts, err := time.Parse(domain.DateLayout, strings.TrimSpace(rec[idx[0]]))
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		var px [4]float64
		for k := 0; k < 4; k++ {
			if px[k], err = strconv.ParseFloat(strings.TrimSpace(rec[idx[k+1]]), 64); err != nil {
				return nil, fmt.Errorf("line %d: %s: %w", line, need[k+1], err)
			}
		}
		vol, err := strconv.ParseFloat(strings.TrimSpace(rec[idx[5]]), 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: volume: %w", line, err)
		}
		bars = append(bars, domain.Bar{
			Symbol:    symbol,
			Timestamp: ts,
			Open:      px[0],
			High:      px[1],
			Low:       px[2],
			Close:     px[3],
			Volume:    int64(vol),
		})
	}
	return bars, nil
}
