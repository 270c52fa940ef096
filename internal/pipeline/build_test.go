package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"evalgate/internal/config"
	"evalgate/internal/marketdata"
	"evalgate/internal/strategy/builtins"
)

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestBuildOffline(t *testing.T) {
	for _, k := range []string{"ALPACA_API_KEY", "ALPACA_API_SECRET", "APCA_API_KEY_ID", "APCA_API_SECRET_KEY", "DATA_DIR", "SQLITE_PATH"} {
		t.Setenv(k, "")
	}
	dir := t.TempDir()
	universe := writeFile(t, dir, "universe.yaml", `
source: test-universe
listings:
  spy: {status: listed}
`)
	specs := writeFile(t, dir, "strategies.yaml", `
strategies:
  - {id: sma-spy, version: 1, logic: sma-cross, params: {short: 10, long: 50}, universe: [SPY]}
  - {id: flat-spy, version: 1, logic: flat, universe: [SPY]}
`)
	cfgPath := writeFile(t, dir, "evalgate.yaml", `
storage:
  data_dir: `+filepath.Join(dir, "data")+`
backtest: {train_window: 252, test_window: 63, step: 21}
promotion: {min_paper_trading_days: 30, comparison_tolerance: 0.1, max_sharpe_drift: 0.5}
risk: {max_position_pct: 10, max_daily_loss_pct: 2, max_sector_concentration_pct: 25}
evaluation:
  specs_file: `+specs+`
  universe_file: `+universe+`
`)

	cfg, err := config.Load(cfgPath)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	c, err := Build(cfg, nil)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	defer c.Close()

	if _, err := os.Stat(filepath.Join(dir, "data", "evalgate.db")); err != nil {
		t.Errorf("sqlite file not created: %v", err)
	}

	u, err := c.Listings.Resolve(context.Background(), []string{"SPY"})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if u.Source != "test-universe" || !u.AttestsHistory {
		t.Errorf("universe = %+v, want the static universe file", u)
	}

	// No credentials: the cache has no upstream and reports missing data.
	end := time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC)
	if _, err := c.Bars.Bars(context.Background(), "SPY", end.AddDate(0, -1, 0), end); !errors.Is(err, marketdata.ErrNoData) {
		t.Errorf("Bars err = %v, want ErrNoData", err)
	}

	cands, err := c.Candidates("")
	if err != nil {
		t.Fatalf("Candidates: %v", err)
	}
	if len(cands) != 2 {
		t.Fatalf("len(candidates) = %d, want 2", len(cands))
	}
	if cands[0].Spec.ID != "sma-spy" || cands[1].Spec.ID != "flat-spy" {
		t.Errorf("candidates out of file order: %s, %s", cands[0].Spec.ID, cands[1].Spec.ID)
	}

	recs, err := c.Promoter.List(context.Background(), "")
	if err != nil || len(recs) != 0 {
		t.Errorf("List = %v, %v; want an empty store", recs, err)
	}
}

func TestBuildRejectsInvalidConfig(t *testing.T) {
	if _, err := Build(&config.Config{}, nil); !errors.Is(err, config.ErrMissing) {
		t.Errorf("Build err = %v, want ErrMissing", err)
	}
}

func TestCandidatesUnknownLogic(t *testing.T) {
	dir := t.TempDir()
	specs := writeFile(t, dir, "strategies.yaml", `
strategies:
  - {id: x, logic: no-such-logic, universe: [SPY]}
`)
	c := &Components{Config: &config.Config{}, Registry: builtins.NewRegistry()}
	if _, err := c.Candidates(specs); err == nil {
		t.Error("Candidates accepted an unregistered logic")
	}
	if _, err := c.Candidates(""); err == nil {
		t.Error("Candidates with no file configured should fail")
	}
}
