package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"simbroker/internal/broker"
)

// DefaultPath is read when SIMBROKER_CONFIG is unset.
const DefaultPath = "config/simbroker.yaml"

// ---------------------------------------------------------------------------
// Configuration structs
// ---------------------------------------------------------------------------

// Config is the top-level configuration for simbroker.
type Config struct {
	Storage  Storage        `yaml:"storage"`
	Alpaca   Alpaca         `yaml:"alpaca"`
	Logging  Logging        `yaml:"logging"`
	Broker   BrokerConfig   `yaml:"broker"`
	Risk     RiskConfig     `yaml:"risk"`
	Backtest BacktestConfig `yaml:"backtest"`
}

// Storage holds paths for data persistence.
type Storage struct {
	DataDir    string `yaml:"data_dir"`
	SQLitePath string `yaml:"sqlite_path"`
}

// Alpaca holds credentials and endpoints for the Alpaca market-data API.
type Alpaca struct {
	APIKey          string `yaml:"api_key"`
	APISecret       string `yaml:"api_secret"`
	DataURL         string `yaml:"data_url"`
	Feed            string `yaml:"feed"`
	BatchSize       int    `yaml:"batch_size"`
	RateLimitPerMin int    `yaml:"rate_limit_per_min"`
}

// Logging configures the application logger.
type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// BrokerConfig configures the simulated broker.
type BrokerConfig struct {
	StartingCash float64          `yaml:"starting_cash"`
	CheckSubmit  bool             `yaml:"check_submit"`
	EOSBar       bool             `yaml:"eos_bar"`
	Filler       FillerConfig     `yaml:"filler"`
	Commission   CommissionConfig `yaml:"commission"`
	Journal      JournalConfig    `yaml:"journal"`
}

// FillerConfig selects the partial-fill policy: "" or "full", "fixed"
// (Size units per bar) or "volume" (Percent of the bar volume).
type FillerConfig struct {
	Kind    string  `yaml:"kind"`
	Size    float64 `yaml:"size"`
	Percent float64 `yaml:"percent"`
}

// CommissionConfig selects the commission scheme: "" or "none", "percent"
// (Rate of traded value) or "per_share" (Rate per share, at least Minimum).
type CommissionConfig struct {
	Kind    string  `yaml:"kind"`
	Rate    float64 `yaml:"rate"`
	Minimum float64 `yaml:"minimum"`
}

// JournalConfig selects where fills are journaled: "" or "none", "csv"
// (Path) or "sqlite" (Storage.SQLitePath).
type JournalConfig struct {
	Kind string `yaml:"kind"`
	Path string `yaml:"path"`
}

// RiskConfig configures the check-before-accept hook.
type RiskConfig struct {
	MaxPositionPct float64 `yaml:"max_position_pct"`
}

// BacktestConfig holds the defaults of the backtest command.
type BacktestConfig struct {
	Strategy  string   `yaml:"strategy"`
	Symbols   []string `yaml:"symbols"`
	Market    string   `yaml:"market"`
	StartDate string   `yaml:"start_date"`
	EndDate   string   `yaml:"end_date"`
	Size      float64  `yaml:"size"`
	Short     int      `yaml:"short"`
	Long      int      `yaml:"long"`
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// Path returns SIMBROKER_CONFIG, or DefaultPath when it is unset.
func Path() string {
	if v := os.Getenv("SIMBROKER_CONFIG"); v != "" {
		return v
	}
	return DefaultPath
}

// LoadEnvFiles exports the variables of the given dotenv files that are not
// already set. Missing files are skipped.
func LoadEnvFiles(paths ...string) error {
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("loading %s: %w", p, err)
		}
	}
	return nil
}

// Load reads the YAML configuration file at the given path, parses it into a
// Config struct, and then applies environment variable overrides.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()

	return cfg, nil
}

// applyEnvOverrides checks well-known environment variables and overrides the
// corresponding configuration fields when they are set.
func applyEnvOverrides(cfg *Config) error {
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

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	if v := os.Getenv("STARTING_CASH"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("STARTING_CASH %q: %w", v, err)
		}
		cfg.Broker.StartingCash = f
	}

	if v := os.Getenv("CHECK_SUBMIT"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("CHECK_SUBMIT %q: %w", v, err)
		}
		cfg.Broker.CheckSubmit = b
	}

	if v := os.Getenv("JOURNAL_PATH"); v != "" {
		cfg.Broker.Journal.Path = v
		if cfg.Broker.Journal.Kind == "" {
			cfg.Broker.Journal.Kind = "csv"
		}
	}

	// Standard Alpaca env vars (highest priority, as read by the SDK).
	if v := os.Getenv("APCA_API_KEY_ID"); v != "" {
		cfg.Alpaca.APIKey = v
	}
	if v := os.Getenv("APCA_API_SECRET_KEY"); v != "" {
		cfg.Alpaca.APISecret = v
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.Storage.DataDir == "" {
		c.Storage.DataDir = "data"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
	if c.Backtest.Market == "" {
		c.Backtest.Market = "us"
	}
}

// ---------------------------------------------------------------------------
// Broker wiring
// ---------------------------------------------------------------------------

// BrokerSettings returns the broker configuration.
func (c *Config) BrokerSettings() broker.Config {
	return broker.Config{
		StartingCash: decimal.NewFromFloat(c.Broker.StartingCash),
		CheckSubmit:  c.Broker.CheckSubmit,
		EOSBar:       c.Broker.EOSBar,
	}
}

// CommissionScheme builds the configured commission scheme.
func (c *Config) CommissionScheme() (broker.CommissionScheme, error) {
	cc := c.Broker.Commission
	switch strings.ToLower(cc.Kind) {
	case "", "none":
		return broker.NoCommission{}, nil
	case "percent":
		return broker.PercentCommission{Rate: decimal.NewFromFloat(cc.Rate)}, nil
	case "per_share":
		return broker.PerShareCommission{
			PerShare: decimal.NewFromFloat(cc.Rate),
			Minimum:  decimal.NewFromFloat(cc.Minimum),
		}, nil
	}
	return nil, fmt.Errorf("unknown commission kind %q", cc.Kind)
}

// Filler builds the configured partial-fill policy; nil means whole fills.
func (c *Config) Filler() (broker.Filler, error) {
	fc := c.Broker.Filler
	switch strings.ToLower(fc.Kind) {
	case "", "full":
		return nil, nil
	case "fixed":
		if fc.Size <= 0 {
			return nil, fmt.Errorf("fixed filler needs a positive size, got %v", fc.Size)
		}
		return broker.FixedSize{Size: decimal.NewFromFloat(fc.Size)}, nil
	case "volume":
		if fc.Percent <= 0 {
			return nil, fmt.Errorf("volume filler needs a positive percent, got %v", fc.Percent)
		}
		return broker.BarVolumePercent{Percent: decimal.NewFromFloat(fc.Percent)}, nil
	}
	return nil, fmt.Errorf("unknown filler kind %q", fc.Kind)
}

// BacktestRange parses the backtest start and end dates. An empty end date
// means today.
func (c *Config) BacktestRange() (time.Time, time.Time, error) {
	start, err := time.Parse(time.DateOnly, c.Backtest.StartDate)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("backtest start_date: %w", err)
	}
	end := time.Now().UTC().Truncate(24 * time.Hour)
	if c.Backtest.EndDate != "" {
		if end, err = time.Parse(time.DateOnly, c.Backtest.EndDate); err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("backtest end_date: %w", err)
		}
	}
	if end.Before(start) {
		return time.Time{}, time.Time{}, fmt.Errorf("backtest end_date %s before start_date %s", c.Backtest.EndDate, c.Backtest.StartDate)
	}
	return start, end, nil
}
