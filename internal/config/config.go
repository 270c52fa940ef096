package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrMissing is wrapped by every validation error for an absent required
// setting.
var ErrMissing = errors.New("required setting missing")

// ---------------------------------------------------------------------------
// Configuration structs
// ---------------------------------------------------------------------------

// Config is the top-level configuration for evalgate.
type Config struct {
	Storage    Storage          `yaml:"storage"`
	Server     Server           `yaml:"server"`
	Alpaca     Alpaca           `yaml:"alpaca"`
	Logging    Logging          `yaml:"logging"`
	Backtest   BacktestConfig   `yaml:"backtest"`
	Audit      AuditConfig      `yaml:"audit"`
	Promotion  PromotionConfig  `yaml:"promotion"`
	Risk       RiskConfig       `yaml:"risk"`
	Evaluation EvaluationConfig `yaml:"evaluation"`
	Trading    TradingConfig    `yaml:"trading"`
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

// Alpaca holds credentials and endpoints for the Alpaca APIs.
type Alpaca struct {
	APIKey          string `yaml:"api_key"`
	APISecret       string `yaml:"api_secret"`
	BaseURL         string `yaml:"base_url"`
	DataURL         string `yaml:"data_url"`
	Feed            string `yaml:"feed"`
	RateLimitPerMin int    `yaml:"rate_limit_per_min"`
}

// Logging configures the application logger.
type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// BacktestConfig holds walk-forward parameters. Window sizes are bars.
type BacktestConfig struct {
	TrainWindow        *int    `yaml:"train_window"`
	TestWindow         *int    `yaml:"test_window"`
	Step               *int    `yaml:"step"`
	SlippagePct        float64 `yaml:"slippage_pct"`
	CommissionPerTrade float64 `yaml:"commission_per_trade"`
	RiskFreeRate       float64 `yaml:"risk_free_rate"`
	InitialCapital     float64 `yaml:"initial_capital"`
	PartialWindows     string  `yaml:"partial_windows"`
}

// AuditConfig holds auditor thresholds. Zero values fall back to the
// auditor's defaults.
type AuditConfig struct {
	OverfitMinOOSRatio        float64  `yaml:"overfit_min_oos_ratio"`
	OverfitMaxSharpeGap       float64  `yaml:"overfit_max_sharpe_gap"`
	OverfitEscalationFraction float64  `yaml:"overfit_escalation_fraction"`
	MaxGapSessions            int      `yaml:"max_gap_sessions"`
	MaxGapMultiple            float64  `yaml:"max_gap_multiple"`
	Holidays                  []string `yaml:"holidays"`
}

// PromotionConfig holds promotion gates. All fields are required.
type PromotionConfig struct {
	MinPaperTradingDays *int     `yaml:"min_paper_trading_days"`
	ComparisonTolerance *float64 `yaml:"comparison_tolerance"`
	MaxSharpeDrift      *float64 `yaml:"max_sharpe_drift"`
	DrawdownMultiple    float64  `yaml:"drawdown_multiple"`
}

// RiskConfig holds the order-level hard limits, in percent of equity. The
// three limits are required; there is no safe default for them.
type RiskConfig struct {
	MaxPositionPct            *float64          `yaml:"max_position_pct"`
	MaxDailyLossPct           *float64          `yaml:"max_daily_loss_pct"`
	MaxSectorConcentrationPct *float64          `yaml:"max_sector_concentration_pct"`
	WarnFraction              float64           `yaml:"warn_fraction"`
	Sectors                   map[string]string `yaml:"sectors"`
}

// EvaluationConfig controls the candidate evaluation cycle.
type EvaluationConfig struct {
	MaxWorkers    int    `yaml:"max_workers"`
	LookbackDays  int    `yaml:"lookback_days"`
	SpecsFile     string `yaml:"specs_file"`
	UniverseFile  string `yaml:"universe_file"`
	CycleInterval string `yaml:"cycle_interval"`
}

// DefaultCycleInterval is used when cycle_interval is unset.
const DefaultCycleInterval = 24 * time.Hour

// Interval parses CycleInterval, falling back to DefaultCycleInterval.
func (e EvaluationConfig) Interval() (time.Duration, error) {
	if e.CycleInterval == "" {
		return DefaultCycleInterval, nil
	}
	d, err := time.ParseDuration(e.CycleInterval)
	if err != nil {
		return 0, fmt.Errorf("evaluation.cycle_interval: %w", err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("evaluation.cycle_interval must be positive, got %s", d)
	}
	return d, nil
}

// TradingConfig defines execution parameters.
type TradingConfig struct {
	PaperMode    bool    `yaml:"paper_mode"`
	PaperCapital float64 `yaml:"paper_capital"`
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// Load reads the YAML configuration file at the given path, parses it into a
// Config struct, and then applies environment variable overrides. It does
// not validate; callers that need the safety-relevant sections call
// Validate.
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

	return cfg, nil
}

// Path returns the config file path from EVALGATE_CONFIG or the default.
func Path() string {
	if p := os.Getenv("EVALGATE_CONFIG"); p != "" {
		return p
	}
	return "config/evalgate.yaml"
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
	if v := os.Getenv("ALPACA_BASE_URL"); v != "" {
		cfg.Alpaca.BaseURL = v
	}
	if v := os.Getenv("ALPACA_DATA_URL"); v != "" {
		cfg.Alpaca.DataURL = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	// Standard Alpaca env vars (highest priority, canonical names used by SDK).
	if v := os.Getenv("APCA_API_KEY_ID"); v != "" {
		cfg.Alpaca.APIKey = v
	}
	if v := os.Getenv("APCA_API_SECRET_KEY"); v != "" {
		cfg.Alpaca.APISecret = v
	}
}

// ---------------------------------------------------------------------------
// Validation
// ---------------------------------------------------------------------------

// Validate checks that every safety-relevant setting is present and sane.
// All problems are reported together.
func (c *Config) Validate() error {
	var errs []error
	missing := func(name string) {
		errs = append(errs, fmt.Errorf("%s: %w", name, ErrMissing))
	}
	positive := func(name string, v float64) {
		if v <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %v", name, v))
		}
	}

	// Risk limits.
	if c.Risk.MaxPositionPct == nil {
		missing("risk.max_position_pct")
	} else {
		positive("risk.max_position_pct", *c.Risk.MaxPositionPct)
	}
	if c.Risk.MaxDailyLossPct == nil {
		missing("risk.max_daily_loss_pct")
	} else {
		positive("risk.max_daily_loss_pct", *c.Risk.MaxDailyLossPct)
	}
	if c.Risk.MaxSectorConcentrationPct == nil {
		missing("risk.max_sector_concentration_pct")
	} else {
		positive("risk.max_sector_concentration_pct", *c.Risk.MaxSectorConcentrationPct)
	}

	// Promotion gates.
	if c.Promotion.MinPaperTradingDays == nil {
		missing("promotion.min_paper_trading_days")
	} else if *c.Promotion.MinPaperTradingDays < 0 {
		errs = append(errs, fmt.Errorf("promotion.min_paper_trading_days must not be negative"))
	}
	if c.Promotion.ComparisonTolerance == nil {
		missing("promotion.comparison_tolerance")
	} else {
		positive("promotion.comparison_tolerance", *c.Promotion.ComparisonTolerance)
	}
	if c.Promotion.MaxSharpeDrift == nil {
		missing("promotion.max_sharpe_drift")
	} else {
		positive("promotion.max_sharpe_drift", *c.Promotion.MaxSharpeDrift)
	}

	// Backtest windows.
	for _, w := range []struct {
		name string
		v    *int
	}{
		{"backtest.train_window", c.Backtest.TrainWindow},
		{"backtest.test_window", c.Backtest.TestWindow},
		{"backtest.step", c.Backtest.Step},
	} {
		if w.v == nil {
			missing(w.name)
		} else {
			positive(w.name, float64(*w.v))
		}
	}

	if _, err := c.Evaluation.Interval(); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}
