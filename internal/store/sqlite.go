package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"time"

	"evalgate/internal/domain"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.
)

// Compile-time interface checks.
var _ PromotionStore = (*SQLiteStore)(nil)
var _ EvaluationStore = (*SQLiteStore)(nil)
var _ PaperEquityStore = (*SQLiteStore)(nil)

// SQLiteStore implements PromotionStore, EvaluationStore, and
// PaperEquityStore backed by a SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// migrations are applied in order; the index+1 is the schema version.
var migrations = []string{
	`CREATE TABLE promotion_records (
		strategy_id TEXT PRIMARY KEY,
		state       TEXT NOT NULL,
		entered_at  TEXT NOT NULL,
		baseline    TEXT NOT NULL,
		snapshot    TEXT,
		version     INTEGER NOT NULL,
		updated_at  TEXT NOT NULL
	);
	CREATE INDEX idx_promotion_records_state ON promotion_records(state);
	CREATE TABLE promotion_history (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		strategy_id TEXT NOT NULL,
		from_state  TEXT NOT NULL,
		to_state    TEXT NOT NULL,
		event       TEXT NOT NULL,
		reason      TEXT NOT NULL DEFAULT '',
		at          TEXT NOT NULL
	);
	CREATE INDEX idx_promotion_history_strategy ON promotion_history(strategy_id, id);`,

	`CREATE TABLE evaluations (
		run_id       TEXT PRIMARY KEY,
		strategy_id  TEXT NOT NULL,
		spec_id      TEXT NOT NULL,
		logic        TEXT NOT NULL,
		symbol       TEXT NOT NULL,
		window_count INTEGER NOT NULL,
		summary      TEXT NOT NULL,
		passed       INTEGER NOT NULL,
		critical     INTEGER NOT NULL,
		warnings     INTEGER NOT NULL,
		info         INTEGER NOT NULL,
		findings     TEXT NOT NULL,
		created_at   TEXT NOT NULL
	);
	CREATE INDEX idx_evaluations_strategy ON evaluations(strategy_id, created_at);`,

	`CREATE TABLE paper_equity (
		strategy_id    TEXT NOT NULL,
		date           TEXT NOT NULL,
		equity         REAL NOT NULL,
		risk_violation INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (strategy_id, date)
	);`,
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath, applies
// pending migrations, and returns a ready-to-use SQLiteStore. The database
// runs in WAL mode with a busy timeout, and transactions take the write lock
// up front so concurrent writers queue instead of failing.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	q := url.Values{}
	q.Add("_pragma", "busy_timeout(5000)")
	q.Add("_pragma", "journal_mode(WAL)")
	q.Add("_pragma", "foreign_keys(1)")
	q.Set("_txlock", "immediate")
	db, err := sql.Open("sqlite", "file:"+dbPath+"?"+q.Encode())
	if err != nil {
		return nil, err
	}
	s := &SQLiteStore{db: db}
	if err := s.migrate(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating %s: %w", dbPath, err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx,
		`CREATE TABLE IF NOT EXISTS schema_migrations (version INTEGER PRIMARY KEY, applied_at TEXT NOT NULL)`); err != nil {
		return err
	}
	var current int
	if err := s.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(version), 0) FROM schema_migrations`).Scan(&current); err != nil {
		return err
	}
	for i := current; i < len(migrations); i++ {
		err := s.inTx(ctx, func(tx *sql.Tx) error {
			if _, err := tx.ExecContext(ctx, migrations[i]); err != nil {
				return err
			}
			_, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?)`,
				i+1, formatTime(time.Now()))
			return err
		})
		if err != nil {
			return fmt.Errorf("migration %d: %w", i+1, err)
		}
	}
	return nil
}

func (s *SQLiteStore) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

// ---------------------------------------------------------------------------
// PromotionStore implementation
// ---------------------------------------------------------------------------

// CreatePromotion inserts a new record and its first history row.
func (s *SQLiteStore) CreatePromotion(ctx context.Context, rec domain.PromotionRecord, entry domain.TransitionEntry) error {
	baseline, snapshot, err := encodeRecord(rec)
	if err != nil {
		return err
	}
	return s.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO promotion_records (strategy_id, state, entered_at, baseline, snapshot, version, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(strategy_id) DO NOTHING`,
			rec.StrategyID, string(rec.State), formatTime(rec.EnteredAt), baseline, snapshot,
			rec.Version, formatTime(rec.UpdatedAt))
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("promotion record %s: %w", rec.StrategyID, ErrExists)
		}
		return insertHistory(ctx, tx, entry)
	})
}

// GetPromotion retrieves the record for a strategy.
func (s *SQLiteStore) GetPromotion(ctx context.Context, strategyID string) (*domain.PromotionRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT strategy_id, state, entered_at, baseline, snapshot, version, updated_at
		FROM promotion_records WHERE strategy_id = ?`, strategyID)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("promotion record %s: %w", strategyID, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// ListPromotions returns records filtered by state.
func (s *SQLiteStore) ListPromotions(ctx context.Context, state domain.PromotionState) ([]domain.PromotionRecord, error) {
	query := `SELECT strategy_id, state, entered_at, baseline, snapshot, version, updated_at FROM promotion_records`
	var args []any
	if state != "" {
		query += ` WHERE state = ?`
		args = append(args, string(state))
	}
	query += ` ORDER BY strategy_id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.PromotionRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

// SwapPromotion performs the compare-and-swap on (state, version).
func (s *SQLiteStore) SwapPromotion(ctx context.Context, expectState domain.PromotionState, expectVersion int64,
	next domain.PromotionRecord, entry *domain.TransitionEntry) error {
	baseline, snapshot, err := encodeRecord(next)
	if err != nil {
		return err
	}
	return s.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE promotion_records
			SET state = ?, entered_at = ?, baseline = ?, snapshot = ?, version = ?, updated_at = ?
			WHERE strategy_id = ? AND state = ? AND version = ?`,
			string(next.State), formatTime(next.EnteredAt), baseline, snapshot, expectVersion+1,
			formatTime(next.UpdatedAt), next.StrategyID, string(expectState), expectVersion)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			var exists int
			err := tx.QueryRowContext(ctx, `SELECT 1 FROM promotion_records WHERE strategy_id = ?`, next.StrategyID).Scan(&exists)
			if errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("promotion record %s: %w", next.StrategyID, ErrNotFound)
			}
			return fmt.Errorf("promotion record %s expected %s@v%d: %w", next.StrategyID, expectState, expectVersion, ErrStateConflict)
		}
		if entry == nil {
			return nil
		}
		return insertHistory(ctx, tx, *entry)
	})
}

// PromotionHistory returns the audit trail of a strategy.
func (s *SQLiteStore) PromotionHistory(ctx context.Context, strategyID string) ([]domain.TransitionEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT strategy_id, from_state, to_state, event, reason, at
		FROM promotion_history WHERE strategy_id = ? ORDER BY id`, strategyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.TransitionEntry
	for rows.Next() {
		var e domain.TransitionEntry
		var from, to, at string
		if err := rows.Scan(&e.StrategyID, &from, &to, &e.Event, &e.Reason, &at); err != nil {
			return nil, err
		}
		e.From, e.To = domain.PromotionState(from), domain.PromotionState(to)
		if e.At, err = parseTime(at); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func insertHistory(ctx context.Context, tx *sql.Tx, e domain.TransitionEntry) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO promotion_history (strategy_id, from_state, to_state, event, reason, at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		e.StrategyID, string(e.From), string(e.To), e.Event, e.Reason, formatTime(e.At))
	return err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (*domain.PromotionRecord, error) {
	var rec domain.PromotionRecord
	var state, entered, baseline, updated string
	var snapshot sql.NullString
	if err := row.Scan(&rec.StrategyID, &state, &entered, &baseline, &snapshot, &rec.Version, &updated); err != nil {
		return nil, err
	}
	rec.State = domain.PromotionState(state)
	var err error
	if rec.EnteredAt, err = parseTime(entered); err != nil {
		return nil, err
	}
	if rec.UpdatedAt, err = parseTime(updated); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(baseline), &rec.Baseline); err != nil {
		return nil, fmt.Errorf("decoding baseline: %w", err)
	}
	if snapshot.Valid && snapshot.String != "" {
		rec.Snapshot = &domain.LiveSnapshot{}
		if err := json.Unmarshal([]byte(snapshot.String), rec.Snapshot); err != nil {
			return nil, fmt.Errorf("decoding snapshot: %w", err)
		}
	}
	return &rec, nil
}

func encodeRecord(rec domain.PromotionRecord) (baseline string, snapshot sql.NullString, err error) {
	b, err := json.Marshal(rec.Baseline)
	if err != nil {
		return "", snapshot, fmt.Errorf("encoding baseline: %w", err)
	}
	if rec.Snapshot != nil {
		sb, err := json.Marshal(rec.Snapshot)
		if err != nil {
			return "", snapshot, fmt.Errorf("encoding snapshot: %w", err)
		}
		snapshot = sql.NullString{String: string(sb), Valid: true}
	}
	return string(b), snapshot, nil
}

// ---------------------------------------------------------------------------
// EvaluationStore implementation
// ---------------------------------------------------------------------------

// SaveEvaluation inserts one evaluation run.
func (s *SQLiteStore) SaveEvaluation(ctx context.Context, rec EvaluationRecord) error {
	summary, err := json.Marshal(rec.Summary)
	if err != nil {
		return fmt.Errorf("encoding summary: %w", err)
	}
	findings := rec.Findings
	if findings == nil {
		findings = []domain.Finding{}
	}
	fj, err := json.Marshal(findings)
	if err != nil {
		return fmt.Errorf("encoding findings: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO evaluations (run_id, strategy_id, spec_id, logic, symbol, window_count, summary,
			passed, critical, warnings, info, findings, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.RunID, rec.StrategyID, rec.SpecID, rec.Logic, rec.Symbol, rec.WindowCount, string(summary),
		rec.Passed, rec.Critical, rec.Warnings, rec.Info, string(fj), formatTime(rec.CreatedAt))
	return err
}

// LatestEvaluation returns the most recent run for a strategy.
func (s *SQLiteStore) LatestEvaluation(ctx context.Context, strategyID string) (*EvaluationRecord, error) {
	recs, err := s.ListEvaluations(ctx, strategyID, 1)
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, fmt.Errorf("evaluation for %s: %w", strategyID, ErrNotFound)
	}
	return &recs[0], nil
}

// ListEvaluations returns runs for a strategy, newest first. A non-positive
// limit returns all of them.
func (s *SQLiteStore) ListEvaluations(ctx context.Context, strategyID string, limit int) ([]EvaluationRecord, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, strategy_id, spec_id, logic, symbol, window_count, summary,
			passed, critical, warnings, info, findings, created_at
		FROM evaluations WHERE strategy_id = ?
		ORDER BY created_at DESC, rowid DESC LIMIT ?`, strategyID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []EvaluationRecord
	for rows.Next() {
		var r EvaluationRecord
		var summary, findings, created string
		if err := rows.Scan(&r.RunID, &r.StrategyID, &r.SpecID, &r.Logic, &r.Symbol, &r.WindowCount,
			&summary, &r.Passed, &r.Critical, &r.Warnings, &r.Info, &findings, &created); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(summary), &r.Summary); err != nil {
			return nil, fmt.Errorf("decoding summary: %w", err)
		}
		if err := json.Unmarshal([]byte(findings), &r.Findings); err != nil {
			return nil, fmt.Errorf("decoding findings: %w", err)
		}
		if r.CreatedAt, err = parseTime(created); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ---------------------------------------------------------------------------
// PaperEquityStore implementation
// ---------------------------------------------------------------------------

// RecordEquity upserts one daily observation.
func (s *SQLiteStore) RecordEquity(ctx context.Context, row EquityRow) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO paper_equity (strategy_id, date, equity, risk_violation) VALUES (?, ?, ?, ?)
		ON CONFLICT(strategy_id, date) DO UPDATE SET equity = excluded.equity, risk_violation = excluded.risk_violation`,
		row.StrategyID, row.Date.UTC().Format(time.DateOnly), row.Equity, row.RiskViolation)
	return err
}

// EquityCurve returns observations since the given date.
func (s *SQLiteStore) EquityCurve(ctx context.Context, strategyID string, since time.Time) ([]EquityRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT strategy_id, date, equity, risk_violation FROM paper_equity
		WHERE strategy_id = ? AND date >= ? ORDER BY date`,
		strategyID, since.UTC().Format(time.DateOnly))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []EquityRow
	for rows.Next() {
		var r EquityRow
		var date string
		if err := rows.Scan(&r.StrategyID, &date, &r.Equity, &r.RiskViolation); err != nil {
			return nil, err
		}
		if r.Date, err = time.Parse(time.DateOnly, date); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ---------------------------------------------------------------------------
// Time helpers
// ---------------------------------------------------------------------------

func formatTime(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

func parseTime(s string) (time.Time, error) { return time.Parse(time.RFC3339Nano, s) }
