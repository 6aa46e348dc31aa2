// Package config loads the backtester's YAML configuration and applies
// environment overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultPath is used when BREAKOUT_CONFIG is unset.
const DefaultPath = "config/breakout.yaml"

// ---------------------------------------------------------------------------
// Configuration structs
// ---------------------------------------------------------------------------

// Config is the top-level configuration for the breakout backtester.
type Config struct {
	Storage    Storage    `yaml:"storage"`
	Server     Server     `yaml:"server"`
	Alpaca     Alpaca     `yaml:"alpaca"`
	MarketData MarketData `yaml:"marketdata"`
	Cache      Cache      `yaml:"cache"`
	Logging    Logging    `yaml:"logging"`
	Defaults   Defaults   `yaml:"defaults"`
}

// Storage holds paths for data persistence.
type Storage struct {
	DataDir    string `yaml:"data_dir"`
	SQLitePath string `yaml:"sqlite_path"`
}

// Server holds network listener configuration.
type Server struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	GRPCPort int    `yaml:"grpc_port"`
}

// Addr returns host:port for the HTTP listener.
func (s Server) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// GRPCAddr returns host:grpc_port for the health listener.
func (s Server) GRPCAddr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.GRPCPort)
}

// Alpaca holds credentials and endpoints for the Alpaca market-data API.
type Alpaca struct {
	APIKey     string `yaml:"api_key"`
	APISecret  string `yaml:"api_secret"`
	DataURL    string `yaml:"data_url"`
	Feed       string `yaml:"feed"`
	Adjustment string `yaml:"adjustment"`
}

// MarketData selects the bar source and its resilience settings.
type MarketData struct {
	Source          string        `yaml:"source"` // alpaca | csv
	CSVDir          string        `yaml:"csv_dir"`
	Timeout         time.Duration `yaml:"timeout"`
	RateLimitPerMin int           `yaml:"rate_limit_per_min"`
	Retries         int           `yaml:"retries"`
	RetryDelay      time.Duration `yaml:"retry_delay"`
	WarmupDays      *int          `yaml:"warmup_days"` // unset: DefaultWarmupDays, 0: none
	BreakerFailures uint32        `yaml:"breaker_failures"`
	BreakerCooldown time.Duration `yaml:"breaker_cooldown"`
}

// DefaultWarmupDays is the calendar-day lookback used when warmup_days is
// not set.
const DefaultWarmupDays = 60

// Warmup returns the configured warm-up lookback in calendar days.
func (m MarketData) Warmup() int {
	if m.WarmupDays == nil {
		return DefaultWarmupDays
	}
	return *m.WarmupDays
}

// Cache selects the bar cache backend.
type Cache struct {
	Backend       string        `yaml:"backend"` // none | memory | parquet | sqlite | postgres | redis
	PostgresDSN   string        `yaml:"postgres_dsn"`
	RedisAddr     string        `yaml:"redis_addr"`
	RedisPassword string        `yaml:"redis_password"`
	RedisDB       int           `yaml:"redis_db"`
	TTL           time.Duration `yaml:"ttl"`
}

// Logging configures the application logger.
type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Defaults override the built-in parameter defaults of every variant. Empty
// and zero values leave the built-in default in place, except for
// DailyThresholdPct where 0 is a valid threshold and only nil means unset.
type Defaults struct {
	Ticker             string   `yaml:"ticker"`
	VolumeThresholdPct float64  `yaml:"volume_threshold_pct"`
	DailyThresholdPct  *float64 `yaml:"daily_threshold_pct"`
	HoldingPeriod      int      `yaml:"holding_period"`
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// PathFromEnv returns BREAKOUT_CONFIG or DefaultPath.
func PathFromEnv() string {
	if p := os.Getenv("BREAKOUT_CONFIG"); p != "" {
		return p
	}
	return DefaultPath
}

// Load reads the YAML configuration file at the given path, parses it into a
// Config struct, applies environment variable overrides and validates the
// result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// LoadOrDefault is Load, except that a missing file yields the defaults
// with environment overrides applied.
func LoadOrDefault(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg := &Config{}
		applyEnvOverrides(cfg)
		return cfg, cfg.Validate()
	}
	return Load(path)
}

// Validate fills defaults and rejects unusable settings.
func (c *Config) Validate() error {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Storage.DataDir == "" {
		c.Storage.DataDir = "data"
	}
	if c.Storage.SQLitePath == "" {
		c.Storage.SQLitePath = c.Storage.DataDir + "/breakout.db"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}

	md := &c.MarketData
	if md.Source == "" {
		md.Source = "alpaca"
	}
	if md.Timeout == 0 {
		md.Timeout = 30 * time.Second
	}
	if md.Retries == 0 {
		md.Retries = 3
	}
	if md.RetryDelay == 0 {
		md.RetryDelay = 500 * time.Millisecond
	}
	if md.BreakerFailures == 0 {
		md.BreakerFailures = 5
	}
	if md.BreakerCooldown == 0 {
		md.BreakerCooldown = time.Minute
	}
	switch md.Source {
	case "alpaca":
	case "csv":
		if md.CSVDir == "" {
			return fmt.Errorf("marketdata.csv_dir is required for the csv source")
		}
	default:
		return fmt.Errorf("unknown marketdata.source %q", md.Source)
	}
	if md.Timeout < 0 || md.Retries < 0 || md.Warmup() < 0 || md.RateLimitPerMin < 0 {
		return fmt.Errorf("marketdata durations and counts must not be negative")
	}
	if d := c.Defaults.DailyThresholdPct; d != nil && *d < 0 {
		return fmt.Errorf("defaults.daily_threshold_pct must not be negative, got %v", *d)
	}

	if c.Cache.Backend == "" {
		c.Cache.Backend = "memory"
	}
	switch c.Cache.Backend {
	case "none", "memory", "parquet", "sqlite":
	case "postgres":
		if c.Cache.PostgresDSN == "" {
			return fmt.Errorf("cache.postgres_dsn is required for the postgres backend")
		}
	case "redis":
		if c.Cache.RedisAddr == "" {
			c.Cache.RedisAddr = "localhost:6379"
		}
	default:
		return fmt.Errorf("unknown cache.backend %q", c.Cache.Backend)
	}
	return nil
}

// applyEnvOverrides checks well-known environment variables and overrides the
// corresponding configuration fields when they are set.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("DATA_DIR"); v != "" {
		cfg.Storage.DataDir = v
	}
	if v := os.Getenv("SQLITE_PATH"); v != "" {
		cfg.Storage.SQLitePath = v
	}

	if v := os.Getenv("ALPACA_API_KEY"); v != "" {
		cfg.Alpaca.APIKey = v
	}
	if v := os.Getenv("ALPACA_API_SECRET"); v != "" {
		cfg.Alpaca.APISecret = v
	}
	if v := os.Getenv("ALPACA_DATA_URL"); v != "" {
		cfg.Alpaca.DataURL = v
	}
	if v := os.Getenv("ALPACA_FEED"); v != "" {
		cfg.Alpaca.Feed = v
	}

	if v := os.Getenv("MARKETDATA_SOURCE"); v != "" {
		cfg.MarketData.Source = v
	}
	if v := os.Getenv("MARKETDATA_CSV_DIR"); v != "" {
		cfg.MarketData.CSVDir = v
	}
	if v := os.Getenv("WARMUP_DAYS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MarketData.WarmupDays = &n
		}
	}

	if v := os.Getenv("CACHE_BACKEND"); v != "" {
		cfg.Cache.Backend = v
	}
	if v := os.Getenv("POSTGRES_DSN"); v != "" {
		cfg.Cache.PostgresDSN = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Cache.RedisAddr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.Cache.RedisPassword = v
	}

	if v := os.Getenv("HTTP_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = n
		}
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}

	// Standard Alpaca env vars (highest priority, canonical names used by the SDK).
	if v := os.Getenv("APCA_API_KEY_ID"); v != "" {
		cfg.Alpaca.APIKey = v
	}
	if v := os.Getenv("APCA_API_SECRET_KEY"); v != "" {
		cfg.Alpaca.APISecret = v
	}
}
