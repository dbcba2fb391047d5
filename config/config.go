// Package config loads backtest settings from defaults, an optional YAML
// file and the environment (a .env file is honoured), in that order.
// Command-line flags are applied on top by the caller.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"quant-signals/internal/indicator"
	"quant-signals/internal/marketdata"
	"quant-signals/internal/model"
	"quant-signals/internal/portfolio"
	"quant-signals/internal/strategy"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ErrInvalidConfig is wrapped by every Validate failure.
var ErrInvalidConfig = errors.New("invalid config")

// Angel holds the Angel One SmartAPI credentials.
type Angel struct {
	APIKey     string `yaml:"api_key"`
	ClientCode string `yaml:"client_code"`
	Password   string `yaml:"password"`
	TOTPSecret string `yaml:"totp_secret"`
	Exchange   string `yaml:"exchange"`
}

// MACD configures the momentum backtest.
type MACD struct {
	Symbol string               `yaml:"symbol"`
	Start  string               `yaml:"start"`
	End    string               `yaml:"end"`
	Params indicator.MACDParams `yaml:",inline"`
}

// Pairs configures the correlation pairs backtest.
type Pairs struct {
	SymbolA   string  `yaml:"symbol_a"`
	SymbolB   string  `yaml:"symbol_b"`
	Start     string  `yaml:"start"`
	End       string  `yaml:"end"`
	Window    int     `yaml:"window"`
	Threshold float64 `yaml:"threshold"`
	GapPolicy string  `yaml:"gap_policy"`
}

// Config holds all application configuration.
type Config struct {
	Source      string `yaml:"source"`
	CSVDir      string `yaml:"csv_dir"`
	UseAdjClose bool   `yaml:"use_adj_close"`
	Angel       Angel  `yaml:"angel"`

	// Infrastructure
	SQLitePath    string        `yaml:"sqlite_path"`
	RedisAddr     string        `yaml:"redis_addr"`
	RedisPassword string        `yaml:"redis_password"`
	CacheTTL      time.Duration `yaml:"cache_ttl"`
	MetricsAddr   string        `yaml:"metrics_addr"`
	ChartAddr     string        `yaml:"chart_addr"`
	OutputDir     string        `yaml:"output_dir"`
	DumpDir       string        `yaml:"dump_dir"`
	LogLevel      string        `yaml:"log_level"`

	// Alerts
	WebhookURL       string `yaml:"webhook_url"`
	TelegramBotToken string `yaml:"telegram_bot_token"`
	TelegramChatID   string `yaml:"telegram_chat_id"`

	Summary portfolio.SummaryConfig `yaml:"summary"`
	MACD    MACD                    `yaml:"macd"`
	Pairs   Pairs                   `yaml:"pairs"`
}

// Default returns the built-in configuration: MU 12/26/9 and GLD/UUP with a
// 60 day window, both from dividend and split adjusted Yahoo Finance closes
// with no caches or servers enabled.
func Default() *Config {
	return &Config{
		Source:      marketdata.SourceYahoo,
		CSVDir:      "data/csv",
		UseAdjClose: true,
		CacheTTL:    24 * time.Hour,
		LogLevel:    "info",
		Angel:       Angel{Exchange: "NSE"},
		Summary:     portfolio.DefaultSummaryConfig,
		MACD: MACD{
			Symbol: "MU",
			Start:  "2015-01-01",
			End:    "2025-10-31",
			Params: indicator.DefaultMACDParams,
		},
		Pairs: Pairs{
			SymbolA:   "GLD",
			SymbolB:   "UUP",
			Start:     "2008-01-01",
			End:       "2025-10-31",
			Window:    60,
			Threshold: strategy.DefaultCorrThreshold,
			GapPolicy: string(strategy.GapNoTrade),
		},
	}
}

// Load builds the configuration. path may be empty to skip the YAML file.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	// Load environment variables from .env file
	_ = godotenv.Load()

	cfg.loadFromEnv()
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	if err := yaml.NewDecoder(file).Decode(c); err != nil {
		return fmt.Errorf("decode yaml: %w", err)
	}
	return nil
}

func (c *Config) loadFromEnv() {
	c.Source = getEnv("SOURCE", c.Source)
	c.CSVDir = getEnv("CSV_DIR", c.CSVDir)
	c.SQLitePath = getEnv("SQLITE_PATH", c.SQLitePath)
	c.RedisAddr = getEnv("REDIS_ADDR", c.RedisAddr)
	c.RedisPassword = getEnv("REDIS_PASSWORD", c.RedisPassword)
	c.MetricsAddr = getEnv("METRICS_ADDR", c.MetricsAddr)
	c.ChartAddr = getEnv("CHART_ADDR", c.ChartAddr)
	c.OutputDir = getEnv("OUTPUT_DIR", c.OutputDir)
	c.DumpDir = getEnv("DUMP_DIR", c.DumpDir)
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)

	c.WebhookURL = getEnv("WEBHOOK_URL", c.WebhookURL)
	c.TelegramBotToken = getEnv("TELEGRAM_BOT_TOKEN", c.TelegramBotToken)
	c.TelegramChatID = getEnv("TELEGRAM_CHAT_ID", c.TelegramChatID)

	c.Angel.APIKey = getEnv("ANGEL_API_KEY", c.Angel.APIKey)
	c.Angel.ClientCode = getEnv("ANGEL_CLIENT_CODE", c.Angel.ClientCode)
	c.Angel.Password = getEnv("ANGEL_PASSWORD", c.Angel.Password)
	c.Angel.TOTPSecret = getEnv("ANGEL_TOTP_SECRET", c.Angel.TOTPSecret)

	if val := os.Getenv("CACHE_TTL"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			c.CacheTTL = d
		}
	}
	if val := os.Getenv("USE_ADJ_CLOSE"); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			c.UseAdjClose = b
		}
	}
}

// Validate checks every field a run depends on.
func (c *Config) Validate() error {
	switch c.Source {
	case marketdata.SourceYahoo:
	case marketdata.SourceCSV:
		if c.CSVDir == "" {
			return invalid("csv_dir", "required for the csv source")
		}
	case marketdata.SourceSmartAPI:
		a := c.Angel
		if a.APIKey == "" || a.ClientCode == "" || a.Password == "" || a.TOTPSecret == "" {
			return invalid("angel", "api key, client code, password and TOTP secret are required for smartapi")
		}
	default:
		return invalid("source", fmt.Sprintf("unknown source %q", c.Source))
	}

	if c.CacheTTL < 0 {
		return invalid("cache_ttl", "must not be negative")
	}
	if c.Summary.PeriodsPerYear < 1 {
		return invalid("summary.periods_per_year", "must be >= 1")
	}

	if strings.TrimSpace(c.MACD.Symbol) == "" {
		return invalid("macd.symbol", "required")
	}
	if _, _, err := ParseRange(c.MACD.Start, c.MACD.End); err != nil {
		return invalid("macd.start/end", err.Error())
	}
	if err := c.MACD.Params.Validate(); err != nil {
		return invalid("macd periods", err.Error())
	}

	if strings.TrimSpace(c.Pairs.SymbolA) == "" || strings.TrimSpace(c.Pairs.SymbolB) == "" {
		return invalid("pairs.symbol_a/symbol_b", "required")
	}
	if strings.EqualFold(c.Pairs.SymbolA, c.Pairs.SymbolB) {
		return invalid("pairs.symbol_b", "must differ from symbol_a")
	}
	if _, _, err := ParseRange(c.Pairs.Start, c.Pairs.End); err != nil {
		return invalid("pairs.start/end", err.Error())
	}
	if c.Pairs.Window < 2 {
		return invalid("pairs.window", "must be >= 2")
	}
	if c.Pairs.Threshold < -1 || c.Pairs.Threshold > 1 {
		return invalid("pairs.threshold", "must be within [-1, 1]")
	}
	if _, err := strategy.ParseGapPolicy(c.Pairs.GapPolicy); err != nil {
		return invalid("pairs.gap_policy", err.Error())
	}
	return nil
}

// ParseRange parses a [start, end) pair of calendar dates.
func ParseRange(start, end string) (time.Time, time.Time, error) {
	s, err := time.Parse(model.DateLayout, start)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("start: %w", err)
	}
	e, err := time.Parse(model.DateLayout, end)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("end: %w", err)
	}
	if !s.Before(e) {
		return time.Time{}, time.Time{}, fmt.Errorf("start %s not before end %s", start, end)
	}
	return s, e, nil
}

func invalid(field, msg string) error {
	return fmt.Errorf("%w: %s: %s", ErrInvalidConfig, field, msg)
}

func getEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}
