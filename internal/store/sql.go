package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"   // Postgres driver.
	_ "modernc.org/sqlite" // Pure-Go SQLite driver.

	"breakout/internal/domain"
)

// Compile-time interface check.
var _ BarCache = (*SQLCache)(nil)

var sqlSchema = []string{
	`CREATE TABLE IF NOT EXISTS bar_cache_entries (
		cache_key  TEXT PRIMARY KEY,
		bar_count  INTEGER NOT NULL,
		created_at BIGINT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS bar_cache_bars (
		cache_key   TEXT NOT NULL,
		symbol      TEXT NOT NULL,
		ts          BIGINT NOT NULL,
		open        DOUBLE PRECISION NOT NULL,
		high        DOUBLE PRECISION NOT NULL,
		low         DOUBLE PRECISION NOT NULL,
		close       DOUBLE PRECISION NOT NULL,
		volume      BIGINT NOT NULL,
		trade_count BIGINT NOT NULL,
		vwap        DOUBLE PRECISION NOT NULL,
		PRIMARY KEY (cache_key, ts)
	)`,
}

// SQLCache implements BarCache on SQLite ("sqlite") or Postgres ("postgres").
// An entry row is committed in the same transaction as its bars, so a key is
// visible only once complete.
type SQLCache struct {
	db *sqlx.DB
}

// sqlBar is the row shape of bar_cache_bars.
type sqlBar struct {
	Symbol     string  `db:"symbol"`
	TS         int64   `db:"ts"`
	Open       float64 `db:"open"`
	High       float64 `db:"high"`
	Low        float64 `db:"low"`
	Close      float64 `db:"close"`
	Volume     int64   `db:"volume"`
	TradeCount int64   `db:"trade_count"`
	VWAP       float64 `db:"vwap"`
}

// NewSQLCache opens the database and creates the cache tables if needed.
func NewSQLCache(ctx context.Context, driver, dsn string) (*SQLCache, error) {
	db, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("opening %s cache: %w", driver, err)
	}
	if driver == "sqlite" {
		// SQLite allows a single writer.
		db.SetMaxOpenConns(1)
	}
	c := &SQLCache{db: db}
	if err := c.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return c, nil
}

// NewSQLCacheFromDB wraps an existing connection. The schema must exist.
func NewSQLCacheFromDB(db *sqlx.DB) *SQLCache {
	return &SQLCache{db: db}
}

func (c *SQLCache) migrate(ctx context.Context) error {
	for _, stmt := range sqlSchema {
		if _, err := c.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("creating cache schema: %w", err)
		}
	}
	return nil
}

// Close closes the underlying database connection.
func (c *SQLCache) Close() error {
	return c.db.Close()
}

// ---------------------------------------------------------------------------
// BarCache implementation
// ---------------------------------------------------------------------------

// Get returns the bars stored for key in timestamp order.
func (c *SQLCache) Get(ctx context.Context, key CacheKey) ([]domain.Bar, bool, error) {
	var count int
	err := c.db.GetContext(ctx, &count,
		c.db.Rebind(`SELECT COUNT(*) FROM bar_cache_entries WHERE cache_key = ?`), key.String())
	if err != nil {
		return nil, false, fmt.Errorf("looking up %s: %w", key, err)
	}
	if count == 0 {
		return nil, false, nil
	}

	var rows []sqlBar
	err = c.db.SelectContext(ctx, &rows, c.db.Rebind(
		`SELECT symbol, ts, open, high, low, close, volume, trade_count, vwap
		 FROM bar_cache_bars WHERE cache_key = ? ORDER BY ts`), key.String())
	if err != nil {
		return nil, false, fmt.Errorf("reading bars for %s: %w", key, err)
	}

	bars := make([]domain.Bar, len(rows))
	for i, r := range rows {
		bars[i] = domain.Bar{
			Symbol:     r.Symbol,
			Timestamp:  time.UnixMilli(r.TS).UTC(),
			Open:       r.Open,
			High:       r.High,
			Low:        r.Low,
			Close:      r.Close,
			Volume:     r.Volume,
			TradeCount: r.TradeCount,
			VWAP:       r.VWAP,
		}
	}
	return bars, true, nil
}

// Put inserts the entry and its bars in one transaction. A key that already
// exists is left untouched.
func (c *SQLCache) Put(ctx context.Context, key CacheKey, bars []domain.Bar) error {
	tx, err := c.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin cache write: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, tx.Rebind(
		`INSERT INTO bar_cache_entries (cache_key, bar_count, created_at) VALUES (?, ?, ?)
		 ON CONFLICT (cache_key) DO NOTHING`),
		key.String(), len(bars), time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("writing cache entry %s: %w", key, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return nil
	}

	stmt, err := tx.PreparexContext(ctx, tx.Rebind(
		`INSERT INTO bar_cache_bars
		 (cache_key, symbol, ts, open, high, low, close, volume, trade_count, vwap)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (cache_key, ts) DO NOTHING`))
	if err != nil {
		return fmt.Errorf("preparing bar insert: %w", err)
	}
	defer stmt.Close()

	for _, b := range bars {
		if _, err := stmt.ExecContext(ctx, key.String(), b.Symbol, b.Timestamp.UnixMilli(),
			b.Open, b.High, b.Low, b.Close, b.Volume, b.TradeCount, b.VWAP); err != nil {
			return fmt.Errorf("writing bar %s for %s: %w", b.Timestamp.Format(domain.DateLayout), key, err)
		}
	}
	return tx.Commit()
}
