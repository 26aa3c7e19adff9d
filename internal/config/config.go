package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

type Server struct {
	Port              string `json:"port" validate:"required,numeric"`
	RequestTimeoutSec int    `json:"request_timeout_sec" validate:"gt=0"`
	// RateLimitPerSec and RateLimitBurst bound requests per client IP; 0 disables.
	RateLimitPerSec float64 `json:"rate_limit_per_sec" validate:"gte=0"`
	RateLimitBurst  int     `json:"rate_limit_burst" validate:"gte=0"`
}

type Log struct {
	Level          string `json:"level" validate:"oneof=trace debug info warn error"`
	Format         string `json:"format" validate:"oneof=json pretty"`
	FileEnabled    bool   `json:"file_enabled"`
	FilePath       string `json:"file_path" validate:"required_if=FileEnabled true"`
	RotationSizeMB int    `json:"rotation_size_mb" validate:"gte=0"`
	RetentionDays  int    `json:"retention_days" validate:"gte=0"`
}

type Quotes struct {
	CacheFreshnessSec int    `json:"cache_freshness_sec" validate:"gte=0"`
	CacheBackend      string `json:"cache_backend" validate:"oneof=memory redis"`
	CacheMaxItems     int    `json:"cache_max_items" validate:"gte=0"`
	RedisURL          string `json:"redis_url" validate:"required_if=CacheBackend redis"`
	SweepIntervalSec  int    `json:"sweep_interval_sec" validate:"gte=0"`

	SymbolBudgetMs    int `json:"symbol_budget_ms" validate:"gt=0"`
	AdapterTimeoutMs  int `json:"adapter_timeout_ms" validate:"gt=0"`
	RetryCount        int `json:"retry_count" validate:"gte=0,lte=5"`
	RetryBackoffMs    int `json:"retry_backoff_ms" validate:"gte=0"`
	RetryMaxBackoffMs int `json:"retry_max_backoff_ms" validate:"gtefield=RetryBackoffMs"`

	// Priority lists provider names, highest first.
	Priority []string `json:"priority" validate:"required,min=1,unique,dive,oneof=alphavantage finnhub yahoo stooq"`

	AggregateDeadlineMs int `json:"aggregate_deadline_ms" validate:"gt=0"`
	MaxConcurrency      int `json:"max_concurrency" validate:"gte=0"`

	RandomSeed uint64   `json:"random_seed"`
	Universe   []string `json:"universe" validate:"required,min=1"`

	LowPriceThreshold  float64 `json:"low_price_threshold" validate:"gte=0"`
	HighPriceThreshold float64 `json:"high_price_threshold" validate:"gtfield=LowPriceThreshold"`
}

// Provider holds the knobs shared by every adapter.
type Provider struct {
	Enabled               bool   `json:"enabled"`
	APIKey                string `json:"api_key"`
	BaseURL               string `json:"base_url" validate:"omitempty,url"`
	MaxRequestsPerMinute  int    `json:"max_requests_per_minute" validate:"gte=0"`
	MinRequestIntervalSec int    `json:"min_request_interval_sec" validate:"gte=0"`
	Burst                 int    `json:"burst" validate:"gte=0"`
}

type Database struct {
	URL      string `json:"url"`
	MaxConns int32  `json:"max_conns" validate:"gte=0"`
}

type Scheduler struct {
	Enabled bool     `json:"enabled"`
	Spec    string   `json:"spec" validate:"required_if=Enabled true"`
	Owners  []string `json:"owners"`
}

type Config struct {
	Server       Server    `json:"server"`
	Log          Log       `json:"log"`
	Quotes       Quotes    `json:"quotes"`
	AlphaVantage Provider  `json:"alphavantage"`
	Finnhub      Provider  `json:"finnhub"`
	Yahoo        Provider  `json:"yahoo"`
	Stooq        Provider  `json:"stooq"`
	Database     Database  `json:"database"`
	Scheduler    Scheduler `json:"scheduler"`
}

func Default() Config {
	return Config{
		Server: Server{Port: "8080", RequestTimeoutSec: 10, RateLimitPerSec: 5, RateLimitBurst: 20},
		Log: Log{
			Level:          "info",
			Format:         "pretty",
			FilePath:       "logs",
			RotationSizeMB: 100,
			RetentionDays:  7,
		},
		Quotes: Quotes{
			CacheFreshnessSec:   60,
			CacheBackend:        "memory",
			CacheMaxItems:       10000,
			SweepIntervalSec:    300,
			SymbolBudgetMs:      10000,
			AdapterTimeoutMs:    4000,
			RetryCount:          1,
			RetryBackoffMs:      200,
			RetryMaxBackoffMs:   2000,
			Priority:            []string{"alphavantage", "finnhub", "yahoo", "stooq"},
			AggregateDeadlineMs: 15000,
			MaxConcurrency:      8,
			Universe: []string{
				"AAPL", "MSFT", "GOOGL", "AMZN", "NVDA", "META", "TSLA", "JPM", "V", "JNJ",
				"WMT", "PG", "XOM", "KO", "PEP", "DIS", "NFLX", "INTC", "AMD", "IBM",
			},
			LowPriceThreshold:  5,
			HighPriceThreshold: 500,
		},
		AlphaVantage: Provider{Enabled: true, MaxRequestsPerMinute: 5, Burst: 1},
		Finnhub:      Provider{Enabled: true, MaxRequestsPerMinute: 60, Burst: 5},
		Yahoo:        Provider{Enabled: true, MinRequestIntervalSec: 1},
		Stooq:        Provider{Enabled: true, MinRequestIntervalSec: 1},
		Database:     Database{MaxConns: 10},
		Scheduler:    Scheduler{Spec: "@every 5m"},
	}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Load reads JSON config from path. If path is empty or file does not exist,
// it returns defaults. A .env file, when present, is loaded into the process
// environment first; environment variables then override select fields.
func Load(path string) (Config, error) {
	cfg := Default()
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return cfg, fmt.Errorf("load .env: %w", err)
	}
	if path == "" {
		if _, err := os.Stat("config.json"); err == nil {
			path = "config.json"
		}
	}
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err == nil {
			if err := json.Unmarshal(b, &cfg); err != nil {
				return cfg, fmt.Errorf("parse config: %w", err)
			}
		}
	}
	if err := applyEnv(&cfg); err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate rejects configurations the engine cannot run with.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

func applyEnv(cfg *Config) error {
	var errs []error
	str := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	num := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			x, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = x
		}
	}
	flag := func(key string, dst *bool) {
		if v := os.Getenv(key); v != "" {
			switch strings.ToLower(v) {
			case "1", "true", "yes", "y":
				*dst = true
			case "0", "false", "no", "n":
				*dst = false
			default:
				errs = append(errs, fmt.Errorf("%s: not a boolean: %q", key, v))
			}
		}
	}

	str("PORT", &cfg.Server.Port)
	num("REQUEST_TIMEOUT_SEC", &cfg.Server.RequestTimeoutSec)
	num("RATE_LIMIT_BURST", &cfg.Server.RateLimitBurst)
	if v := os.Getenv("RATE_LIMIT_PER_SEC"); v != "" {
		x, err := strconv.ParseFloat(v, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("RATE_LIMIT_PER_SEC: %w", err))
		} else {
			cfg.Server.RateLimitPerSec = x
		}
	}

	str("LOG_LEVEL", &cfg.Log.Level)
	str("LOG_FORMAT", &cfg.Log.Format)
	flag("LOG_FILE_ENABLED", &cfg.Log.FileEnabled)
	str("LOG_FILE_PATH", &cfg.Log.FilePath)

	num("CACHE_FRESHNESS_SEC", &cfg.Quotes.CacheFreshnessSec)
	str("CACHE_BACKEND", &cfg.Quotes.CacheBackend)
	str("REDIS_URL", &cfg.Quotes.RedisURL)
	num("SYMBOL_BUDGET_MS", &cfg.Quotes.SymbolBudgetMs)
	num("ADAPTER_TIMEOUT_MS", &cfg.Quotes.AdapterTimeoutMs)
	num("RETRY_COUNT", &cfg.Quotes.RetryCount)
	num("RETRY_BACKOFF_MS", &cfg.Quotes.RetryBackoffMs)
	num("RETRY_MAX_BACKOFF_MS", &cfg.Quotes.RetryMaxBackoffMs)
	num("AGGREGATE_DEADLINE_MS", &cfg.Quotes.AggregateDeadlineMs)
	num("MAX_CONCURRENCY", &cfg.Quotes.MaxConcurrency)
	if v := os.Getenv("PROVIDER_PRIORITY"); v != "" {
		cfg.Quotes.Priority = splitCSV(strings.ToLower(v))
	}
	if v := os.Getenv("DISCOVER_UNIVERSE"); v != "" {
		cfg.Quotes.Universe = splitCSV(v)
	}
	if v := os.Getenv("RANDOM_SEED"); v != "" {
		x, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("RANDOM_SEED: %w", err))
		} else {
			cfg.Quotes.RandomSeed = x
		}
	}

	str("ALPHAVANTAGE_API_KEY", &cfg.AlphaVantage.APIKey)
	flag("ALPHAVANTAGE_ENABLED", &cfg.AlphaVantage.Enabled)
	num("ALPHAVANTAGE_MAX_RPM", &cfg.AlphaVantage.MaxRequestsPerMinute)
	str("FINNHUB_API_KEY", &cfg.Finnhub.APIKey)
	flag("FINNHUB_ENABLED", &cfg.Finnhub.Enabled)
	num("FINNHUB_MAX_RPM", &cfg.Finnhub.MaxRequestsPerMinute)
	flag("YAHOO_ENABLED", &cfg.Yahoo.Enabled)
	flag("STOOQ_ENABLED", &cfg.Stooq.Enabled)

	str("DATABASE_URL", &cfg.Database.URL)
	flag("SCHEDULER_ENABLED", &cfg.Scheduler.Enabled)
	str("SCHEDULER_SPEC", &cfg.Scheduler.Spec)
	if v := os.Getenv("SCHEDULER_OWNERS"); v != "" {
		cfg.Scheduler.Owners = splitCSV(v)
	}
	return errors.Join(errs...)
}

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func ms(n int) time.Duration { return time.Duration(n) * time.Millisecond }

func (q Quotes) CacheFreshness() time.Duration    { return time.Duration(q.CacheFreshnessSec) * time.Second }
func (q Quotes) SweepInterval() time.Duration     { return time.Duration(q.SweepIntervalSec) * time.Second }
func (q Quotes) SymbolBudget() time.Duration      { return ms(q.SymbolBudgetMs) }
func (q Quotes) AdapterTimeout() time.Duration    { return ms(q.AdapterTimeoutMs) }
func (q Quotes) RetryBackoff() time.Duration      { return ms(q.RetryBackoffMs) }
func (q Quotes) RetryMaxBackoff() time.Duration   { return ms(q.RetryMaxBackoffMs) }
func (q Quotes) AggregateDeadline() time.Duration { return ms(q.AggregateDeadlineMs) }

func (s Server) RequestTimeout() time.Duration { return time.Duration(s.RequestTimeoutSec) * time.Second }

func (p Provider) MinInterval() time.Duration {
	return time.Duration(p.MinRequestIntervalSec) * time.Second
}
