package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"laddertrade/internal/logger"
)

const (
	ExchangePaper   = "paper"
	ExchangeBinance = "binance"
)

type Config struct {
	HTTPAddr    string `yaml:"http_addr"`
	DatabaseURL string `yaml:"database_url"`

	ExchangeMode     string `yaml:"exchange_mode"`
	BinanceAPIKey    string `yaml:"-"`
	BinanceSecretKey string `yaml:"-"`
	BinanceTestnet   bool   `yaml:"binance_testnet"`
	BinanceProxy     string `yaml:"binance_proxy"`

	OperatorJWTSecret string   `yaml:"-"`
	MetricsUser       string   `yaml:"-"`
	MetricsPassword   string   `yaml:"-"`
	RateLimit         int      `yaml:"rate_limit_per_minute"`
	CORSOrigins       []string `yaml:"cors_origins"`

	Ladder  LadderConfig  `yaml:"ladder"`
	Scanner ScannerConfig `yaml:"scanner"`
}

type LadderConfig struct {
	TickInterval time.Duration   `yaml:"tick_interval"`
	CallTimeout  time.Duration   `yaml:"call_timeout"`
	MaxRetries   int             `yaml:"max_retries"`
	EntryOffset  decimal.Decimal `yaml:"entry_offset"`
	TagPrefix    string          `yaml:"tag_prefix"`
}

type ScannerConfig struct {
	MinAbsChange   decimal.Decimal `yaml:"min_abs_change"`
	MinQuoteVolume decimal.Decimal `yaml:"min_quote_volume"`
	QuoteAsset     string          `yaml:"quote_asset"`
	Limit          int             `yaml:"limit"`
}

func defaults() *Config {
	return &Config{
		HTTPAddr:     ":8080",
		ExchangeMode: ExchangePaper,
		RateLimit:    100,
		CORSOrigins:  []string{"http://localhost:3000", "http://localhost:5173"},
		Ladder: LadderConfig{
			TickInterval: time.Second,
			CallTimeout:  5 * time.Second,
			MaxRetries:   3,
			EntryOffset:  decimal.RequireFromString("0.001"),
			TagPrefix:    "LADDER",
		},
		Scanner: ScannerConfig{
			MinAbsChange: decimal.NewFromInt(5),
			QuoteAsset:   "USDT",
			Limit:        20,
		},
	}
}

// Load reads .env, the environment and then CONFIG_FILE if set. Values from the
// YAML file win over the environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		logger.Debug(context.Background(), "Config: .env file not found, using environment")
	}

	cfg := defaults()
	cfg.HTTPAddr = envString("HTTP_ADDR", cfg.HTTPAddr)
	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	cfg.ExchangeMode = strings.ToLower(envString("EXCHANGE_MODE", cfg.ExchangeMode))
	cfg.BinanceAPIKey = os.Getenv("BINANCE_API_KEY")
	cfg.BinanceSecretKey = os.Getenv("BINANCE_SECRET_KEY")
	cfg.BinanceProxy = os.Getenv("BINANCE_PROXY")
	cfg.OperatorJWTSecret = os.Getenv("OPERATOR_JWT_SECRET")
	cfg.MetricsUser = os.Getenv("METRICS_USER")
	cfg.MetricsPassword = os.Getenv("METRICS_PASSWORD")
	if v := os.Getenv("CORS_ORIGINS"); v != "" {
		cfg.CORSOrigins = strings.Split(v, ",")
	}

	var err error
	if cfg.BinanceTestnet, err = envBool("BINANCE_TESTNET", false); err != nil {
		return nil, err
	}
	if cfg.RateLimit, err = envInt("RATE_LIMIT_PER_MINUTE", cfg.RateLimit); err != nil {
		return nil, err
	}
	if cfg.Ladder.TickInterval, err = envDuration("LADDER_TICK_INTERVAL", cfg.Ladder.TickInterval); err != nil {
		return nil, err
	}
	if cfg.Ladder.CallTimeout, err = envDuration("LADDER_CALL_TIMEOUT", cfg.Ladder.CallTimeout); err != nil {
		return nil, err
	}
	if cfg.Ladder.MaxRetries, err = envInt("LADDER_MAX_RETRIES", cfg.Ladder.MaxRetries); err != nil {
		return nil, err
	}
	if cfg.Ladder.EntryOffset, err = envDecimal("LADDER_ENTRY_OFFSET", cfg.Ladder.EntryOffset); err != nil {
		return nil, err
	}
	cfg.Ladder.TagPrefix = envString("LADDER_TAG_PREFIX", cfg.Ladder.TagPrefix)
	if cfg.Scanner.MinAbsChange, err = envDecimal("SCANNER_MIN_CHANGE", cfg.Scanner.MinAbsChange); err != nil {
		return nil, err
	}
	if cfg.Scanner.MinQuoteVolume, err = envDecimal("SCANNER_MIN_VOLUME", cfg.Scanner.MinQuoteVolume); err != nil {
		return nil, err
	}
	if cfg.Scanner.Limit, err = envInt("SCANNER_LIMIT", cfg.Scanner.Limit); err != nil {
		return nil, err
	}

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.overlayFile(path); err != nil {
			return nil, err
		}
	}

	cfg.Ladder.TickInterval = clampTick(cfg.Ladder.TickInterval)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) overlayFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) Validate() error {
	var errs []error
	switch c.ExchangeMode {
	case ExchangePaper:
	case ExchangeBinance:
		if c.BinanceAPIKey == "" || c.BinanceSecretKey == "" {
			errs = append(errs, errors.New("BINANCE_API_KEY and BINANCE_SECRET_KEY are required in binance mode"))
		}
	default:
		errs = append(errs, fmt.Errorf("EXCHANGE_MODE must be %q or %q, got %q", ExchangePaper, ExchangeBinance, c.ExchangeMode))
	}
	if c.Ladder.CallTimeout <= 0 {
		errs = append(errs, errors.New("ladder call timeout must be positive"))
	}
	if c.Ladder.MaxRetries < 0 {
		errs = append(errs, errors.New("ladder max retries must not be negative"))
	}
	if c.Ladder.EntryOffset.IsNegative() || c.Ladder.EntryOffset.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		errs = append(errs, errors.New("ladder entry offset must be in [0, 1)"))
	}
	if c.RateLimit <= 0 {
		errs = append(errs, errors.New("rate limit must be positive"))
	}
	if (c.MetricsUser == "") != (c.MetricsPassword == "") {
		errs = append(errs, errors.New("METRICS_USER and METRICS_PASSWORD must be set together"))
	}
	return errors.Join(errs...)
}

// clampTick keeps the polling interval within 1-3 seconds.
func clampTick(d time.Duration) time.Duration {
	switch {
	case d < time.Second:
		return time.Second
	case d > 3*time.Second:
		return 3 * time.Second
	}
	return d
}

func envString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func envBool(key string, def bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%s: %w", key, err)
	}
	return b, nil
}

func envDuration(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}

func envDecimal(key string, def decimal.Decimal) (decimal.Decimal, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := decimal.NewFromString(v)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}
