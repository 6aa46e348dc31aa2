package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/parquet-go/parquet-go"

	"breakout/internal/domain"
)

// Compile-time interface check.
var _ BarCache = (*ParquetCache)(nil)

// ParquetCache implements BarCache with one Parquet file per fetch key.
type ParquetCache struct {
	DataDir string
}

// NewParquetCache creates a new ParquetCache rooted at the given data directory.
func NewParquetCache(dataDir string) *ParquetCache {
	return &ParquetCache{DataDir: dataDir}
}

// ---------------------------------------------------------------------------
// Parquet record type (on-disk schema)
// ---------------------------------------------------------------------------

// BarRecord is the Parquet schema for cached bars.
type BarRecord struct {
	Symbol     string  `parquet:"symbol"`
	Timestamp  int64   `parquet:"timestamp,timestamp(millisecond)"` // Unix ms
	Open       float64 `parquet:"open"`
	High       float64 `parquet:"high"`
	Low        float64 `parquet:"low"`
	Close      float64 `parquet:"close"`
	Volume     int64   `parquet:"volume"`
	TradeCount int64   `parquet:"trade_count"`
	VWAP       float64 `parquet:"vwap"`
}

func toRecord(b domain.Bar) BarRecord {
	return BarRecord{
		Symbol:     b.Symbol,
		Timestamp:  b.Timestamp.UnixMilli(),
		Open:       b.Open,
		High:       b.High,
		Low:        b.Low,
		Close:      b.Close,
		Volume:     b.Volume,
		TradeCount: b.TradeCount,
		VWAP:       b.VWAP,
	}
}

func (r BarRecord) bar() domain.Bar {
	return domain.Bar{
		Symbol:     r.Symbol,
		Timestamp:  time.UnixMilli(r.Timestamp).UTC(),
		Open:       r.Open,
		High:       r.High,
		Low:        r.Low,
		Close:      r.Close,
		Volume:     r.Volume,
		TradeCount: r.TradeCount,
		VWAP:       r.VWAP,
	}
}

// ---------------------------------------------------------------------------
// BarCache implementation
// ---------------------------------------------------------------------------

// Get reads the file for key. A missing file is a miss.
func (c *ParquetCache) Get(_ context.Context, key CacheKey) ([]domain.Bar, bool, error) {
	if _, err := domain.NormalizeTicker(key.Ticker); err != nil {
		return nil, false, err
	}
	records, err := readParquetFile[BarRecord](c.barPath(key))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("reading cached bars for %s: %w", key, err)
	}

	bars := make([]domain.Bar, len(records))
	for i, r := range records {
		bars[i] = r.bar()
	}
	return bars, true, nil
}

// Put writes bars for key. The file is written under a temporary name and
// renamed so readers never observe a partial file.
func (c *ParquetCache) Put(_ context.Context, key CacheKey, bars []domain.Bar) error {
	if _, err := domain.NormalizeTicker(key.Ticker); err != nil {
		return err
	}
	path := c.barPath(key)
	if _, err := os.Stat(path); err == nil {
		return nil
	}

	records := make([]BarRecord, len(bars))
	for i, b := range bars {
		records[i] = toRecord(b)
	}
	records = dedupeBarRecords(records)

	tmp := path + ".tmp"
	if err := writeParquetFile(tmp, records); err != nil {
		return fmt.Errorf("writing cached bars for %s: %w", key, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("publishing cached bars for %s: %w", key, err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Path helpers
// ---------------------------------------------------------------------------

// barPath returns the filesystem path for a cached series.
// Layout: <dataDir>/bars/<interval>/<TICKER>/<START>_<END>.parquet
func (c *ParquetCache) barPath(key CacheKey) string {
	name := key.Start.Format(domain.DateLayout) + "_" + key.End.Format(domain.DateLayout) + ".parquet"
	return filepath.Join(c.DataDir, "bars", key.Interval, strings.ToUpper(key.Ticker), name)
}

// ---------------------------------------------------------------------------
// Parquet file helpers
// ---------------------------------------------------------------------------

func writeParquetFile[T any](path string, records []T) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return parquet.WriteFile(path, records)
}

func readParquetFile[T any](path string) ([]T, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}
	rows, err := parquet.ReadFile[T](path)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// dedupeBarRecords drops repeated (symbol, timestamp) pairs, keeping the last
// occurrence, and sorts by timestamp.
func dedupeBarRecords(records []BarRecord) []BarRecord {
	type key struct {
		symbol string
		ts     int64
	}
	seen := make(map[key]BarRecord, len(records))
	for _, r := range records {
		seen[key{r.Symbol, r.Timestamp}] = r
	}

	out := make([]BarRecord, 0, len(seen))
	for _, r := range seen {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Timestamp < out[j].Timestamp
	})
	return out
}
