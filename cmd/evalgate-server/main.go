package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"evalgate/internal/api"
	"evalgate/internal/config"
	"evalgate/internal/pipeline"
	"evalgate/internal/util"
)

func main() {
	cfg, err := config.Load(config.Path())
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}
	interval, err := cfg.Evaluation.Interval()
	if err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	logger := util.NewLogger(cfg.Logging.Level, cfg.Logging.Format)
	util.SetDefault(logger)

	c, err := pipeline.Build(cfg, logger)
	if err != nil {
		log.Fatalf("building pipeline: %v", err)
	}
	defer c.Close()

	srv := api.NewServer(c.Promoter, c.Gate, cfg.Risk.Sectors, c.SQLite, c.Metrics, logger)

	httpAddr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	grpcAddr := ""
	if cfg.Server.GRPCPort > 0 {
		grpcAddr = fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.GRPCPort)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.ListenAndServe(gctx, httpAddr, grpcAddr)
	})
	g.Go(func() error {
		runCycles(gctx, c, interval, logger)
		return nil
	})

	logger.Info("evalgate-server started", "http", httpAddr, "grpc", grpcAddr, "cycle_interval", interval)
	if err := g.Wait(); err != nil {
		logger.Error("server stopped", "error", err)
	}
	logger.Info("evalgate-server stopped")
}

// runCycles evaluates the configured candidates and then runs the daily
// promotion check, once at startup and then every interval.
func runCycles(ctx context.Context, c *pipeline.Components, interval time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		runCycle(ctx, c, logger)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func runCycle(ctx context.Context, c *pipeline.Components, logger *slog.Logger) {
	if c.Config.Evaluation.SpecsFile != "" {
		cands, err := c.Candidates("")
		if err != nil {
			logger.Error("loading candidates", "error", err)
		} else if evals, err := c.Evaluator.EvaluateAll(ctx, cands); err != nil {
			logger.Warn("evaluation cycle interrupted", "error", err)
			return
		} else {
			counts := make(map[string]int)
			for _, ev := range evals {
				counts[ev.Result]++
			}
			logger.Info("evaluation cycle complete", "candidates", len(cands), "results", counts)
		}
	}

	decisions, err := c.Cycle.RunDaily(ctx)
	if err != nil {
		logger.Error("promotion cycle", "error", err)
	}
	logger.Info("promotion cycle complete", "decisions", len(decisions))
}
