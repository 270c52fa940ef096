package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"evalgate/internal/broker"
	"evalgate/internal/config"
	"evalgate/internal/pipeline"
	"evalgate/internal/util"
)

func main() {
	once := flag.Bool("once", false, "run a single paper-trading session and exit")
	every := flag.Duration("interval", 24*time.Hour, "time between sessions")
	specs := flag.String("specs", "", "strategies file (default: evaluation.specs_file)")
	live := flag.Bool("live", false, "also route promoted strategies' orders to the Alpaca account at alpaca.base_url")
	flag.Parse()

	cfg, err := config.Load(config.Path())
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}
	logger := util.NewLogger(cfg.Logging.Level, cfg.Logging.Format)
	util.SetDefault(logger)

	c, err := pipeline.Build(cfg, logger)
	if err != nil {
		log.Fatalf("building pipeline: %v", err)
	}
	defer c.Close()

	cands, err := c.Candidates(*specs)
	if err != nil {
		log.Fatalf("loading candidates: %v", err)
	}

	opts := pipeline.PaperOptions{
		Capital: cfg.Trading.PaperCapital,
		Sectors: cfg.Risk.Sectors,
	}
	if *live {
		if cfg.Alpaca.APIKey == "" || cfg.Alpaca.APISecret == "" {
			log.Fatalf("-live needs alpaca credentials")
		}
		opts.Live = broker.NewAlpacaBroker(cfg.Alpaca.APIKey, cfg.Alpaca.APISecret, cfg.Alpaca.BaseURL)
		logger.Info("live routing enabled for promoted strategies", "base_url", cfg.Alpaca.BaseURL)
	}
	trader := pipeline.NewPaperTrader(c.SQLite, c.SQLite, c.Bars, c.Gate, cands, opts, c.Metrics, logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger.Info("evalgate-trader started", "candidates", len(cands), "once", *once)
	if *once {
		session(ctx, trader, logger)
		return
	}

	ticker := time.NewTicker(*every)
	defer ticker.Stop()
	for {
		session(ctx, trader, logger)
		select {
		case <-ctx.Done():
			logger.Info("evalgate-trader stopped")
			return
		case <-ticker.C:
		}
	}
}

func session(ctx context.Context, trader *pipeline.PaperTrader, logger *slog.Logger) {
	results, err := trader.Step(ctx)
	if err != nil {
		logger.Error("paper session", "error", err)
	}
	for _, r := range results {
		attrs := []any{"strategy", r.StrategyID, "signal", r.Signal, "equity", r.Equity}
		if sub := r.Submission; sub != nil {
			attrs = append(attrs, "approved", sub.Risk.Approved)
			if sub.Order != nil {
				attrs = append(attrs, "side", sub.Order.Side, "qty", sub.Order.Qty)
			}
		}
		if sub := r.Live; sub != nil && sub.Order != nil {
			attrs = append(attrs, "live_qty", sub.Order.Qty, "live_status", sub.Order.Status)
		}
		if len(r.Violations) > 0 {
			attrs = append(attrs, "violations", r.Violations)
		}
		logger.Info("paper step", attrs...)
	}
}
