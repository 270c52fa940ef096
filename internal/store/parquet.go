package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/parquet-go/parquet-go"

	"evalgate/internal/backtest"
	"evalgate/internal/domain"
)

// Compile-time interface checks.
var _ BarStore = (*ParquetStore)(nil)
var _ LedgerStore = (*ParquetStore)(nil)

// ParquetStore implements BarStore and LedgerStore using Parquet files on disk.
type ParquetStore struct {
	DataDir string
}

// NewParquetStore creates a new ParquetStore rooted at the given data directory.
func NewParquetStore(dataDir string) *ParquetStore {
	return &ParquetStore{DataDir: dataDir}
}

// ---------------------------------------------------------------------------
// Parquet record types (on-disk schema)
// ---------------------------------------------------------------------------

// BarRecord is the Parquet schema for daily bar data.
type BarRecord struct {
	Symbol     string  `parquet:"symbol"`
	Timestamp  int64   `parquet:"timestamp,timestamp(millisecond)"` // Unix ms
	Open       float64 `parquet:"open"`
	High       float64 `parquet:"high"`
	Low        float64 `parquet:"low"`
	Close      float64 `parquet:"close"`
	Volume     int64   `parquet:"volume"`
	TradeCount int64   `parquet:"trade_count"`
	VWAP       float64 `parquet:"vwap"`
}

// LedgerTradeRecord is the Parquet schema for one simulated round trip.
type LedgerTradeRecord struct {
	Window         int32   `parquet:"window"`
	Symbol         string  `parquet:"symbol"`
	SignalDate     int64   `parquet:"signal_date,timestamp(millisecond)"`
	EntryDate      int64   `parquet:"entry_date,timestamp(millisecond)"`
	EntryPrice     float64 `parquet:"entry_price"`
	ExitSignalDate int64   `parquet:"exit_signal_date,timestamp(millisecond)"`
	ExitDate       int64   `parquet:"exit_date,timestamp(millisecond)"`
	ExitPrice      float64 `parquet:"exit_price"`
	Qty            float64 `parquet:"qty"`
	Commission     float64 `parquet:"commission"`
	PnL            float64 `parquet:"pnl"`
	ExitReason     string  `parquet:"exit_reason"`
}

// EquityRecord is the Parquet schema for one point of a stitched equity curve.
type EquityRecord struct {
	Timestamp int64   `parquet:"timestamp,timestamp(millisecond)"`
	Value     float64 `parquet:"value"`
}

// ---------------------------------------------------------------------------
// BarStore implementation
// ---------------------------------------------------------------------------

// WriteBars writes bars under the US market directory. Use
// WriteBarsForMarket for other markets.
func (s *ParquetStore) WriteBars(_ context.Context, bars []domain.Bar) error {
	if len(bars) == 0 {
		return nil
	}
	return s.WriteBarsForMarket(bars, string(domain.MarketUS))
}

// WriteBarsForMarket writes bars to Parquet grouped by symbol and year under
// the given market directory. Each symbol+year combination produces a file at:
//
//	<DataDir>/<market>/daily/<SYMBOL>/<YYYY>.parquet
//
// Existing rows are merged, with incoming bars replacing rows that share a
// timestamp.
func (s *ParquetStore) WriteBarsForMarket(bars []domain.Bar, market string) error {
	type key struct {
		symbol string
		year   int
	}
	groups := make(map[key][]BarRecord)
	for _, b := range bars {
		ts := b.Timestamp.UTC()
		k := key{symbol: strings.ToUpper(b.Symbol), year: ts.Year()}
		groups[k] = append(groups[k], BarRecord{
			Symbol:     k.symbol,
			Timestamp:  ts.UnixMilli(),
			Open:       b.Open,
			High:       b.High,
			Low:        b.Low,
			Close:      b.Close,
			Volume:     b.Volume,
			TradeCount: b.TradeCount,
			VWAP:       b.VWAP,
		})
	}

	for k, records := range groups {
		path := s.barPath(k.symbol, market, k.year)

		existing, err := readParquetFile[BarRecord](path)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("reading bars for %s/%d: %w", k.symbol, k.year, err)
		}
		merged := mergeBarRecords(existing, records)

		if err := writeParquetFile(path, merged); err != nil {
			return fmt.Errorf("writing bars for %s/%d: %w", k.symbol, k.year, err)
		}
	}
	return nil
}

// ReadBars reads bar data from Parquet files for the given symbol and time
// range, oldest first. Timestamps are returned in UTC.
func (s *ParquetStore) ReadBars(_ context.Context, symbol string, market string, start, end time.Time) ([]domain.Bar, error) {
	var bars []domain.Bar
	for year := start.UTC().Year(); year <= end.UTC().Year(); year++ {
		path := s.barPath(symbol, market, year)

		records, err := readParquetFile[BarRecord](path)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("reading bars for %s/%d: %w", symbol, year, err)
		}

		for _, r := range records {
			ts := time.UnixMilli(r.Timestamp).UTC()
			if ts.Before(start) || ts.After(end) {
				continue
			}
			bars = append(bars, domain.Bar{
				Symbol:     r.Symbol,
				Timestamp:  ts,
				Open:       r.Open,
				High:       r.High,
				Low:        r.Low,
				Close:      r.Close,
				Volume:     r.Volume,
				TradeCount: r.TradeCount,
				VWAP:       r.VWAP,
			})
		}
	}
	return bars, nil
}

// ListSymbols lists all symbols that have bar data in the given market.
func (s *ParquetStore) ListSymbols(_ context.Context, market string) ([]string, error) {
	dir := filepath.Join(s.DataDir, market, "daily")
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var symbols []string
	for _, e := range entries {
		if e.IsDir() {
			symbols = append(symbols, e.Name())
		}
	}
	sort.Strings(symbols)
	return symbols, nil
}

// ---------------------------------------------------------------------------
// LedgerStore implementation
// ---------------------------------------------------------------------------

// WriteLedger writes the trades and equity curve of one run to
//
//	<DataDir>/ledgers/<runID>/{trades,equity}.parquet
//
// Rewriting a run replaces both files.
func (s *ParquetStore) WriteLedger(_ context.Context, runID string, trades []backtest.Trade, equity []backtest.EquityPoint) error {
	if runID == "" || strings.ContainsAny(runID, `/\`) || runID == "." || runID == ".." {
		return fmt.Errorf("invalid run id %q", runID)
	}

	tr := make([]LedgerTradeRecord, len(trades))
	for i, t := range trades {
		tr[i] = LedgerTradeRecord{
			Window:         int32(t.Window),
			Symbol:         t.Symbol,
			SignalDate:     t.SignalDate.UnixMilli(),
			EntryDate:      t.EntryDate.UnixMilli(),
			EntryPrice:     t.EntryPrice,
			ExitSignalDate: t.ExitSignalDate.UnixMilli(),
			ExitDate:       t.ExitDate.UnixMilli(),
			ExitPrice:      t.ExitPrice,
			Qty:            t.Qty,
			Commission:     t.Commission,
			PnL:            t.PnL,
			ExitReason:     t.ExitReason,
		}
	}
	eq := make([]EquityRecord, len(equity))
	for i, p := range equity {
		eq[i] = EquityRecord{Timestamp: p.Timestamp.UnixMilli(), Value: p.Value}
	}

	if err := writeParquetFile(s.ledgerPath(runID, "trades"), tr); err != nil {
		return fmt.Errorf("writing trades for run %s: %w", runID, err)
	}
	if err := writeParquetFile(s.ledgerPath(runID, "equity"), eq); err != nil {
		return fmt.Errorf("writing equity for run %s: %w", runID, err)
	}
	return nil
}

// ReadLedger reads back a run written by WriteLedger. A run that was never
// written returns ErrNotFound.
func (s *ParquetStore) ReadLedger(_ context.Context, runID string) ([]backtest.Trade, []backtest.EquityPoint, error) {
	tr, err := readParquetFile[LedgerTradeRecord](s.ledgerPath(runID, "trades"))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil, fmt.Errorf("ledger %s: %w", runID, ErrNotFound)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("reading trades for run %s: %w", runID, err)
	}
	eq, err := readParquetFile[EquityRecord](s.ledgerPath(runID, "equity"))
	if err != nil {
		return nil, nil, fmt.Errorf("reading equity for run %s: %w", runID, err)
	}

	trades := make([]backtest.Trade, len(tr))
	for i, r := range tr {
		trades[i] = backtest.Trade{
			Window:         int(r.Window),
			Symbol:         r.Symbol,
			SignalDate:     time.UnixMilli(r.SignalDate).UTC(),
			EntryDate:      time.UnixMilli(r.EntryDate).UTC(),
			EntryPrice:     r.EntryPrice,
			ExitSignalDate: time.UnixMilli(r.ExitSignalDate).UTC(),
			ExitDate:       time.UnixMilli(r.ExitDate).UTC(),
			ExitPrice:      r.ExitPrice,
			Qty:            r.Qty,
			Commission:     r.Commission,
			PnL:            r.PnL,
			ExitReason:     r.ExitReason,
		}
	}
	equity := make([]backtest.EquityPoint, len(eq))
	for i, r := range eq {
		equity[i] = backtest.EquityPoint{Timestamp: time.UnixMilli(r.Timestamp).UTC(), Value: r.Value}
	}
	return trades, equity, nil
}

// ---------------------------------------------------------------------------
// Path helpers
// ---------------------------------------------------------------------------

// barPath returns the filesystem path for a bar Parquet file.
// Layout: <dataDir>/<market>/daily/<SYMBOL>/<YYYY>.parquet
func (s *ParquetStore) barPath(symbol, market string, year int) string {
	return filepath.Join(s.DataDir, market, "daily", strings.ToUpper(symbol), fmt.Sprintf("%d.parquet", year))
}

// ledgerPath returns <dataDir>/ledgers/<runID>/<name>.parquet.
func (s *ParquetStore) ledgerPath(runID, name string) string {
	return filepath.Join(s.DataDir, "ledgers", runID, name+".parquet")
}

// ---------------------------------------------------------------------------
// Parquet file helpers
// ---------------------------------------------------------------------------

func writeParquetFile[T any](path string, records []T) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return parquet.WriteFile(path, records)
}

func readParquetFile[T any](path string) ([]T, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}
	return parquet.ReadFile[T](path)
}

// mergeBarRecords deduplicates bar records by (symbol, timestamp), preferring
// new records over existing ones.
func mergeBarRecords(existing, incoming []BarRecord) []BarRecord {
	type key struct {
		symbol string
		ts     int64
	}
	seen := make(map[key]BarRecord, len(existing)+len(incoming))
	for _, r := range existing {
		seen[key{r.Symbol, r.Timestamp}] = r
	}
	for _, r := range incoming {
		seen[key{r.Symbol, r.Timestamp}] = r
	}

	merged := make([]BarRecord, 0, len(seen))
	for _, r := range seen {
		merged = append(merged, r)
	}
	sort.Slice(merged, func(i, j int) bool {
		return merged[i].Timestamp < merged[j].Timestamp
	})
	return merged
}
