package marketdata

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// BackfillResult summarises a Backfill run.
type BackfillResult struct {
	Symbols int           `json:"symbols"`
	Bars    int64         `json:"bars"`
	Empty   []string      `json:"empty,omitempty"`
	Failed  []string      `json:"failed,omitempty"`
	Elapsed time.Duration `json:"elapsed"`
}

// Backfill requests [start, end] for every symbol through p with up to
// workers requests in flight. Over a CachedProvider this warms the bar
// store ahead of an evaluation cycle. Symbols with no data are listed in
// Empty; other failures in Failed and the joined error.
func Backfill(ctx context.Context, p Provider, symbols []string, start, end time.Time, workers int) (BackfillResult, error) {
	log := slog.Default().With("component", "marketdata", "op", "backfill")
	res := BackfillResult{Symbols: len(symbols)}
	if len(symbols) == 0 {
		return res, nil
	}
	workers = max(1, min(workers, len(symbols)))

	symCh := make(chan string, len(symbols))
	for _, s := range symbols {
		symCh <- s
	}
	close(symCh)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		errs     []error
		total    atomic.Int64
		runStart = time.Now()
	)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for sym := range symCh {
				if ctx.Err() != nil {
					return
				}
				bars, err := p.Bars(ctx, sym, start, end)
				mu.Lock()
				switch {
				case errors.Is(err, ErrNoData):
					res.Empty = append(res.Empty, sym)
				case err != nil:
					res.Failed = append(res.Failed, sym)
					errs = append(errs, err)
					log.Error("backfill failed", "symbol", sym, "error", err)
				default:
					total.Add(int64(len(bars)))
				}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	res.Bars = total.Load()
	res.Elapsed = time.Since(runStart)
	log.Info("backfill complete",
		"symbols", res.Symbols,
		"bars", res.Bars,
		"empty", len(res.Empty),
		"failed", len(res.Failed),
		"elapsed", res.Elapsed.Round(time.Millisecond),
	)
	if err := ctx.Err(); err != nil {
		return res, err
	}
	return res, errors.Join(errs...)
}
