package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const fullYAML = `
storage:
  data_dir: "/tmp/evalgate/data"
  sqlite_path: "/tmp/evalgate/evalgate.db"
server:
  host: "0.0.0.0"
  port: 8080
  grpc_port: 9090
alpaca:
  api_key: "test-key"
  api_secret: "test-secret"
  base_url: "https://paper-api.alpaca.markets"
  data_url: "https://data.alpaca.markets"
  feed: "iex"
  rate_limit_per_min: 200
logging:
  level: "info"
  format: "json"
backtest:
  train_window: 252
  test_window: 63
  step: 21
  slippage_pct: 0.05
  commission_per_trade: 1
  risk_free_rate: 0.02
  initial_capital: 100000
  partial_windows: "drop"
audit:
  overfit_min_oos_ratio: 0.5
  max_gap_sessions: 3
  holidays: ["2024-07-04"]
promotion:
  min_paper_trading_days: 20
  comparison_tolerance: 0.05
  max_sharpe_drift: 0.5
risk:
  max_position_pct: 10
  max_daily_loss_pct: 2
  max_sector_concentration_pct: 30
  sectors:
    AAPL: tech
    XOM: energy
evaluation:
  max_workers: 4
  lookback_days: 800
trading:
  paper_mode: true
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "evalgate.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("failed to write temp file: %v", err)
	}
	return path
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"ALPACA_API_KEY", "ALPACA_API_SECRET", "APCA_API_KEY_ID",
		"APCA_API_SECRET_KEY", "DATA_DIR", "SQLITE_PATH", "LOG_LEVEL",
	} {
		t.Setenv(k, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load(writeConfig(t, fullYAML))
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}

	// -- Storage --
	if cfg.Storage.DataDir != "/tmp/evalgate/data" {
		t.Errorf("Storage.DataDir = %q, want %q", cfg.Storage.DataDir, "/tmp/evalgate/data")
	}
	if cfg.Storage.SQLitePath != "/tmp/evalgate/evalgate.db" {
		t.Errorf("Storage.SQLitePath = %q, want %q", cfg.Storage.SQLitePath, "/tmp/evalgate/evalgate.db")
	}

	// -- Server --
	if cfg.Server.Port != 8080 || cfg.Server.GRPCPort != 9090 {
		t.Errorf("Server ports = %d/%d, want 8080/9090", cfg.Server.Port, cfg.Server.GRPCPort)
	}

	// -- Alpaca --
	if cfg.Alpaca.APIKey != "test-key" {
		t.Errorf("Alpaca.APIKey = %q, want %q", cfg.Alpaca.APIKey, "test-key")
	}
	if cfg.Alpaca.Feed != "iex" {
		t.Errorf("Alpaca.Feed = %q, want %q", cfg.Alpaca.Feed, "iex")
	}

	// -- Backtest --
	if cfg.Backtest.TrainWindow == nil || *cfg.Backtest.TrainWindow != 252 {
		t.Errorf("Backtest.TrainWindow = %v, want 252", cfg.Backtest.TrainWindow)
	}
	if cfg.Backtest.SlippagePct != 0.05 {
		t.Errorf("Backtest.SlippagePct = %v, want 0.05", cfg.Backtest.SlippagePct)
	}

	// -- Audit --
	if len(cfg.Audit.Holidays) != 1 || cfg.Audit.Holidays[0] != "2024-07-04" {
		t.Errorf("Audit.Holidays = %v, want [2024-07-04]", cfg.Audit.Holidays)
	}

	// -- Risk --
	if *cfg.Risk.MaxPositionPct != 10 {
		t.Errorf("Risk.MaxPositionPct = %v, want 10", *cfg.Risk.MaxPositionPct)
	}
	if cfg.Risk.Sectors["XOM"] != "energy" {
		t.Errorf("Risk.Sectors[XOM] = %q, want energy", cfg.Risk.Sectors["XOM"])
	}

	// -- Trading --
	if !cfg.Trading.PaperMode {
		t.Error("Trading.PaperMode = false, want true")
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() = %v, want nil", err)
	}
}

func TestEnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("ALPACA_API_KEY", "env-key")
	t.Setenv("APCA_API_SECRET_KEY", "apca-secret")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load(writeConfig(t, fullYAML))
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}
	if cfg.Alpaca.APIKey != "env-key" {
		t.Errorf("Alpaca.APIKey = %q, want %q", cfg.Alpaca.APIKey, "env-key")
	}
	if cfg.Alpaca.APISecret != "apca-secret" {
		t.Errorf("Alpaca.APISecret = %q, want %q", cfg.Alpaca.APISecret, "apca-secret")
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q, want %q", cfg.Logging.Level, "debug")
	}
}

func TestValidateMissingRiskLimits(t *testing.T) {
	clearEnv(t)
	body := strings.Replace(fullYAML, "  max_daily_loss_pct: 2\n", "", 1)

	cfg, err := Load(writeConfig(t, body))
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}
	err = cfg.Validate()
	if !errors.Is(err, ErrMissing) {
		t.Fatalf("Validate() = %v, want ErrMissing", err)
	}
	if !strings.Contains(err.Error(), "risk.max_daily_loss_pct") {
		t.Errorf("Validate() error %q does not name the missing field", err)
	}
}

func TestValidateReportsAll(t *testing.T) {
	cfg := &Config{}
	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() on empty config should fail")
	}
	for _, name := range []string{
		"risk.max_position_pct",
		"promotion.min_paper_trading_days",
		"promotion.max_sharpe_drift",
		"backtest.step",
	} {
		if !strings.Contains(err.Error(), name) {
			t.Errorf("Validate() error missing %s", name)
		}
	}
}

func TestValidateErrorOrderIsStable(t *testing.T) {
	first := (&Config{}).Validate().Error()
	for i := 0; i < 20; i++ {
		if got := (&Config{}).Validate().Error(); got != first {
			t.Fatalf("Validate() run %d = %q, want %q", i, got, first)
		}
	}
	train := strings.Index(first, "backtest.train_window")
	test := strings.Index(first, "backtest.test_window")
	step := strings.Index(first, "backtest.step")
	if train < 0 || !(train < test && test < step) {
		t.Errorf("backtest fields out of declaration order in %q", first)
	}
}

func TestValidateNonPositive(t *testing.T) {
	clearEnv(t)
	body := strings.Replace(fullYAML, "max_position_pct: 10", "max_position_pct: 0", 1)
	cfg, err := Load(writeConfig(t, body))
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}
	err = cfg.Validate()
	if err == nil || errors.Is(err, ErrMissing) {
		t.Errorf("Validate() = %v, want a non-positive error", err)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("Load() of a missing file should fail")
	}
}

func TestPath(t *testing.T) {
	t.Setenv("EVALGATE_CONFIG", "")
	if got := Path(); got != "config/evalgate.yaml" {
		t.Errorf("Path() = %q, want default", got)
	}
	t.Setenv("EVALGATE_CONFIG", "/etc/evalgate.yaml")
	if got := Path(); got != "/etc/evalgate.yaml" {
		t.Errorf("Path() = %q, want /etc/evalgate.yaml", got)
	}
}

func TestEvaluationInterval(t *testing.T) {
	tests := []struct {
		in      string
		want    time.Duration
		wantErr bool
	}{
		{"", DefaultCycleInterval, false},
		{"6h", 6 * time.Hour, false},
		{"soon", 0, true},
		{"-1h", 0, true},
	}
	for _, tt := range tests {
		got, err := EvaluationConfig{CycleInterval: tt.in}.Interval()
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("Interval(%q) = %v, %v; want %v, err=%v", tt.in, got, err, tt.want, tt.wantErr)
		}
	}
}
