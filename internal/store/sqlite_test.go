package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"evalgate/internal/backtest"
	"evalgate/internal/domain"
)

func openSQLite(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("NewSQLiteStore(%q) returned error: %v", dbPath, err)
	}
	t.Cleanup(func() {
		if cerr := s.Close(); cerr != nil {
			t.Errorf("Close() returned error: %v", cerr)
		}
	})
	return s
}

func TestSQLiteStoreOpen(t *testing.T) {
	s := openSQLite(t)
	if err := s.db.Ping(); err != nil {
		t.Fatalf("db.Ping() returned error: %v", err)
	}
}

func TestSQLiteStoreReopenKeepsSchema(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	ctx := context.Background()
	if err := s.RecordEquity(ctx, EquityRow{StrategyID: "a", Date: time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC), Equity: 1}); err != nil {
		t.Fatalf("RecordEquity: %v", err)
	}
	s.Close()

	s, err = NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s.Close()
	var version int
	if err := s.db.QueryRow(`SELECT MAX(version) FROM schema_migrations`).Scan(&version); err != nil {
		t.Fatalf("schema version: %v", err)
	}
	if version != len(migrations) {
		t.Errorf("schema version = %d, want %d", version, len(migrations))
	}
	rows, err := s.EquityCurve(ctx, "a", time.Time{})
	if err != nil || len(rows) != 1 {
		t.Errorf("EquityCurve after reopen = %v, %v", rows, err)
	}
}

func candidateRecord(id string, at time.Time) (domain.PromotionRecord, domain.TransitionEntry) {
	rec := domain.PromotionRecord{
		StrategyID: id,
		State:      domain.StateCandidate,
		EnteredAt:  at,
		Baseline:   domain.PerformanceBaseline{TotalReturn: 0.12, Sharpe: 1.4, MaxDrawdown: 0.08, Trades: 9},
		Version:    1,
		UpdatedAt:  at,
	}
	entry := domain.TransitionEntry{StrategyID: id, From: "", To: domain.StateCandidate, Event: "admit", At: at}
	return rec, entry
}

func TestSQLiteStorePromotionLifecycle(t *testing.T) {
	s := openSQLite(t)
	ctx := context.Background()
	t0 := time.Date(2024, 5, 1, 14, 30, 0, 0, time.UTC)

	rec, entry := candidateRecord("sma@abc", t0)
	if err := s.CreatePromotion(ctx, rec, entry); err != nil {
		t.Fatalf("CreatePromotion: %v", err)
	}
	if err := s.CreatePromotion(ctx, rec, entry); !errors.Is(err, ErrExists) {
		t.Errorf("duplicate CreatePromotion error = %v, want ErrExists", err)
	}

	got, err := s.GetPromotion(ctx, "sma@abc")
	if err != nil {
		t.Fatalf("GetPromotion: %v", err)
	}
	if got.State != domain.StateCandidate || got.Version != 1 || got.Baseline.Sharpe != 1.4 || got.Snapshot != nil {
		t.Errorf("GetPromotion = %+v", got)
	}
	if !got.EnteredAt.Equal(t0) {
		t.Errorf("EnteredAt = %v, want %v", got.EnteredAt, t0)
	}

	t1 := t0.Add(time.Hour)
	next := *got
	next.State = domain.StatePaperTesting
	next.EnteredAt = t1
	next.UpdatedAt = t1
	next.Snapshot = &domain.LiveSnapshot{AsOf: t1, Days: 0}
	move := &domain.TransitionEntry{StrategyID: "sma@abc", From: domain.StateCandidate, To: domain.StatePaperTesting, Event: "start_paper", At: t1}
	if err := s.SwapPromotion(ctx, domain.StateCandidate, 1, next, move); err != nil {
		t.Fatalf("SwapPromotion: %v", err)
	}

	// A second writer holding the stale version loses.
	if err := s.SwapPromotion(ctx, domain.StateCandidate, 1, next, move); !errors.Is(err, ErrStateConflict) {
		t.Errorf("stale SwapPromotion error = %v, want ErrStateConflict", err)
	}
	missing, _ := candidateRecord("nope", t1)
	if err := s.SwapPromotion(ctx, domain.StateCandidate, 1, missing, nil); !errors.Is(err, ErrNotFound) {
		t.Errorf("SwapPromotion(missing) error = %v, want ErrNotFound", err)
	}

	got, err = s.GetPromotion(ctx, "sma@abc")
	if err != nil {
		t.Fatalf("GetPromotion: %v", err)
	}
	if got.State != domain.StatePaperTesting || got.Version != 2 {
		t.Errorf("after swap state=%s version=%d, want paper_testing 2", got.State, got.Version)
	}
	if got.Snapshot == nil || !got.Snapshot.AsOf.Equal(t1) {
		t.Errorf("Snapshot = %+v", got.Snapshot)
	}

	// Snapshot refresh without a transition bumps the version only.
	refresh := *got
	refresh.Snapshot = &domain.LiveSnapshot{AsOf: t1.Add(24 * time.Hour), Days: 1, Return: 0.01}
	if err := s.SwapPromotion(ctx, domain.StatePaperTesting, 2, refresh, nil); err != nil {
		t.Fatalf("SwapPromotion refresh: %v", err)
	}

	hist, err := s.PromotionHistory(ctx, "sma@abc")
	if err != nil {
		t.Fatalf("PromotionHistory: %v", err)
	}
	if len(hist) != 2 {
		t.Fatalf("history length = %d, want 2", len(hist))
	}
	if hist[0].Event != "admit" || hist[1].To != domain.StatePaperTesting {
		t.Errorf("history = %+v", hist)
	}

	if _, err := s.GetPromotion(ctx, "nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetPromotion(nope) error = %v, want ErrNotFound", err)
	}
}

func TestSQLiteStoreListPromotions(t *testing.T) {
	s := openSQLite(t)
	ctx := context.Background()
	t0 := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

	for _, id := range []string{"c", "a", "b"} {
		rec, entry := candidateRecord(id, t0)
		if err := s.CreatePromotion(ctx, rec, entry); err != nil {
			t.Fatalf("CreatePromotion(%s): %v", id, err)
		}
	}
	rec, _ := s.GetPromotion(ctx, "b")
	rec.State = domain.StateRetired
	if err := s.SwapPromotion(ctx, domain.StateCandidate, 1, *rec, nil); err != nil {
		t.Fatalf("SwapPromotion: %v", err)
	}

	all, err := s.ListPromotions(ctx, "")
	if err != nil {
		t.Fatalf("ListPromotions: %v", err)
	}
	if len(all) != 3 || all[0].StrategyID != "a" || all[2].StrategyID != "c" {
		t.Errorf("ListPromotions(all) = %+v", all)
	}
	cands, err := s.ListPromotions(ctx, domain.StateCandidate)
	if err != nil {
		t.Fatalf("ListPromotions: %v", err)
	}
	if len(cands) != 2 {
		t.Errorf("ListPromotions(candidate) returned %d, want 2", len(cands))
	}
}

func TestSQLiteStoreEvaluations(t *testing.T) {
	s := openSQLite(t)
	ctx := context.Background()
	t0 := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

	for i, run := range []string{"r1", "r2", "r3"} {
		err := s.SaveEvaluation(ctx, EvaluationRecord{
			RunID:       run,
			StrategyID:  "sma@abc",
			SpecID:      "sma",
			Logic:       "sma-cross",
			Symbol:      "AAPL",
			WindowCount: 5,
			Summary:     backtest.PerformanceSummary{TotalReturn: float64(i) / 10, Computed: true},
			Passed:      i != 1,
			Critical:    boolInt(i == 1),
			Findings: []domain.Finding{{
				Severity: domain.SeverityWarning, Category: domain.CategorySurvivorship, Message: "m",
			}},
			CreatedAt: t0.Add(time.Duration(i) * time.Hour),
		})
		if err != nil {
			t.Fatalf("SaveEvaluation(%s): %v", run, err)
		}
	}

	latest, err := s.LatestEvaluation(ctx, "sma@abc")
	if err != nil {
		t.Fatalf("LatestEvaluation: %v", err)
	}
	if latest.RunID != "r3" || latest.Summary.TotalReturn != 0.2 || len(latest.Findings) != 1 {
		t.Errorf("LatestEvaluation = %+v", latest)
	}

	list, err := s.ListEvaluations(ctx, "sma@abc", 2)
	if err != nil {
		t.Fatalf("ListEvaluations: %v", err)
	}
	if len(list) != 2 || list[1].RunID != "r2" || list[1].Passed {
		t.Errorf("ListEvaluations = %+v", list)
	}
	all, _ := s.ListEvaluations(ctx, "sma@abc", 0)
	if len(all) != 3 {
		t.Errorf("ListEvaluations(limit 0) returned %d, want 3", len(all))
	}

	if _, err := s.LatestEvaluation(ctx, "other"); !errors.Is(err, ErrNotFound) {
		t.Errorf("LatestEvaluation(other) error = %v, want ErrNotFound", err)
	}
	if err := s.SaveEvaluation(ctx, EvaluationRecord{RunID: "r1", StrategyID: "x", CreatedAt: t0}); err == nil {
		t.Error("SaveEvaluation accepted a duplicate run id")
	}
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func TestSQLiteStorePaperEquity(t *testing.T) {
	s := openSQLite(t)
	ctx := context.Background()
	day := func(d int) time.Time { return time.Date(2024, 7, d, 20, 0, 0, 0, time.UTC) }

	for d, eq := range map[int]float64{1: 100, 2: 101, 3: 99} {
		if err := s.RecordEquity(ctx, EquityRow{StrategyID: "s", Date: day(d), Equity: eq}); err != nil {
			t.Fatalf("RecordEquity: %v", err)
		}
	}
	// Same session date overwrites.
	if err := s.RecordEquity(ctx, EquityRow{StrategyID: "s", Date: day(3), Equity: 102, RiskViolation: true}); err != nil {
		t.Fatalf("RecordEquity overwrite: %v", err)
	}

	rows, err := s.EquityCurve(ctx, "s", time.Date(2024, 7, 2, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("EquityCurve: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("EquityCurve returned %d rows, want 2", len(rows))
	}
	if rows[0].Equity != 101 || rows[1].Equity != 102 || !rows[1].RiskViolation {
		t.Errorf("EquityCurve = %+v", rows)
	}
	if !rows[1].Date.Equal(time.Date(2024, 7, 3, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("Date = %v, want session date", rows[1].Date)
	}
}

func TestSnapshotFromPaperEquity(t *testing.T) {
	s := openSQLite(t)
	ctx := context.Background()
	asOf := time.Date(2024, 8, 10, 0, 0, 0, 0, time.UTC)

	empty, err := Snapshot(ctx, s, "s", time.Time{}, asOf)
	if err != nil {
		t.Fatalf("Snapshot(empty): %v", err)
	}
	if empty.Days != 0 || !empty.AsOf.Equal(asOf) {
		t.Errorf("empty snapshot = %+v", empty)
	}

	for i, eq := range []float64{100, 110, 88, 99} {
		row := EquityRow{StrategyID: "s", Date: time.Date(2024, 8, 1+i, 0, 0, 0, 0, time.UTC), Equity: eq, RiskViolation: i == 3}
		if err := s.RecordEquity(ctx, row); err != nil {
			t.Fatalf("RecordEquity: %v", err)
		}
	}
	snap, err := Snapshot(ctx, s, "s", time.Time{}, asOf)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if snap.Days != 4 {
		t.Errorf("Days = %d, want 4", snap.Days)
	}
	if d := snap.Return - (-0.01); d > 1e-9 || d < -1e-9 {
		t.Errorf("Return = %v, want -0.01", snap.Return)
	}
	if d := snap.MaxDrawdown - 0.2; d > 1e-9 || d < -1e-9 {
		t.Errorf("MaxDrawdown = %v, want 0.2", snap.MaxDrawdown)
	}
	if !snap.RiskViolation {
		t.Error("RiskViolation = false, want latest row's flag")
	}
}
