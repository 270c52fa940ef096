package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"evalgate/internal/config"
	"evalgate/internal/domain"
	"evalgate/internal/marketdata"
	"evalgate/internal/pipeline"
	"evalgate/internal/strategy"
	"evalgate/internal/util"
	"evalgate/pkg/evalgate"
)

const version = "0.1.0"

const defaultLookbackDays = 5 * 365

func main() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: evalgate-cli <command> [args]\n\n")
		fmt.Fprintf(os.Stderr, "Server commands (EVALGATE_URL, default from config):\n")
		fmt.Fprintf(os.Stderr, "  status                      Server health and strategies by state\n")
		fmt.Fprintf(os.Stderr, "  list [state]                List strategies, optionally in one state\n")
		fmt.Fprintf(os.Stderr, "  show <id>                   Show one strategy's promotion record\n")
		fmt.Fprintf(os.Stderr, "  history <id>                Show a strategy's transitions\n")
		fmt.Fprintf(os.Stderr, "  evaluations <id> [limit]    Show a strategy's evaluation runs\n")
		fmt.Fprintf(os.Stderr, "  start-paper <id>            Move a candidate into paper trading\n")
		fmt.Fprintf(os.Stderr, "  retire <id> [reason]        Retire a strategy\n")
		fmt.Fprintf(os.Stderr, "  watch [state]               Live view of the promotion pipeline\n")
		fmt.Fprintf(os.Stderr, "\nLocal commands (EVALGATE_CONFIG):\n")
		fmt.Fprintf(os.Stderr, "  backtest <logic> <symbol> [k=v ...]  Walk-forward backtest only\n")
		fmt.Fprintf(os.Stderr, "  evaluate [strategies.yaml]           Backtest, audit and admit candidates\n")
		fmt.Fprintf(os.Stderr, "  backfill [symbol ...]                Cache bars (default: strategies universe)\n")
		fmt.Fprintf(os.Stderr, "\n  version                     Print the CLI version\n")
	}

	if len(os.Args) < 2 {
		flag.Usage()
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cmd, args := os.Args[1], os.Args[2:]
	var err error
	switch cmd {
	case "version":
		fmt.Printf("evalgate-cli %s\n", version)
	case "status":
		err = status(ctx, client())
	case "list":
		var state domain.PromotionState
		if len(args) > 0 {
			state = domain.PromotionState(args[0])
		}
		var recs []domain.PromotionRecord
		if recs, err = client().ListPromotions(ctx, state); err == nil {
			fmt.Print(renderPromotions(recs))
		}
	case "show":
		err = withID(args, func(id string) error {
			rec, err := client().GetPromotion(ctx, id)
			if err == nil {
				fmt.Print(renderRecord(rec))
			}
			return err
		})
	case "history":
		err = withID(args, func(id string) error {
			entries, err := client().History(ctx, id)
			if err == nil {
				fmt.Print(renderHistory(entries))
			}
			return err
		})
	case "evaluations":
		err = withID(args, func(id string) error {
			limit := 0
			if len(args) > 1 {
				n, err := strconv.Atoi(args[1])
				if err != nil {
					return fmt.Errorf("invalid limit %q", args[1])
				}
				limit = n
			}
			recs, err := client().Evaluations(ctx, id, limit)
			if err == nil {
				fmt.Print(renderEvaluationRecords(recs))
			}
			return err
		})
	case "start-paper":
		err = withID(args, func(id string) error {
			rec, err := client().StartPaperTrading(ctx, id)
			if err == nil {
				fmt.Print(renderRecord(rec))
			}
			return err
		})
	case "retire":
		err = withID(args, func(id string) error {
			rec, err := client().Retire(ctx, id, strings.Join(args[1:], " "))
			if err == nil {
				fmt.Print(renderRecord(rec))
			}
			return err
		})
	case "watch":
		var state domain.PromotionState
		if len(args) > 0 {
			state = domain.PromotionState(args[0])
		}
		err = watch(client(), state)
	case "backtest":
		err = runBacktest(ctx, args)
	case "evaluate":
		err = runEvaluate(ctx, args)
	case "backfill":
		err = runBackfill(ctx, args)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", cmd)
		flag.Usage()
		os.Exit(1)
	}

	if err != nil {
		switch {
		case evalgate.IsNotFound(err):
			fmt.Fprintf(os.Stderr, "not found: %v\n", err)
		case evalgate.IsConflict(err):
			fmt.Fprintf(os.Stderr, "conflict: %v\n", err)
		default:
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
		}
		os.Exit(1)
	}
}

func withID(args []string, fn func(id string) error) error {
	if len(args) < 1 {
		return fmt.Errorf("missing strategy id")
	}
	return fn(args[0])
}

// client targets EVALGATE_URL, or the port in the local config file.
func client() *evalgate.Client {
	if u := os.Getenv("EVALGATE_URL"); u != "" {
		return evalgate.NewClient(u)
	}
	port := 8080
	if cfg, err := config.Load(config.Path()); err == nil && cfg.Server.Port > 0 {
		port = cfg.Server.Port
	}
	return evalgate.NewClient(fmt.Sprintf("http://localhost:%d", port))
}

func status(ctx context.Context, c *evalgate.Client) error {
	recs, err := c.ListPromotions(ctx, "")
	if err != nil {
		return err
	}
	counts := make(map[domain.PromotionState]int)
	for _, r := range recs {
		counts[r.State]++
	}
	fmt.Println(titleStyle.Render(" evalgate-server ok "))
	for _, s := range []domain.PromotionState{domain.StateCandidate, domain.StatePaperTesting, domain.StatePromoted, domain.StateRetired} {
		fmt.Printf("  %s %d\n", cell(stateStyle(s), string(s), 14), counts[s])
	}
	return nil
}

// ---------------------------------------------------------------------------
// Local commands
// ---------------------------------------------------------------------------

// build wires the pipeline from the local config. Logs go to stderr so the
// tables on stdout stay clean.
func build() (*pipeline.Components, error) {
	cfg, err := config.Load(config.Path())
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	var logger *slog.Logger
	if cfg.Logging.Level == "debug" {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: util.ParseLevel(cfg.Logging.Level)}))
	} else {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	slog.SetDefault(logger)
	return pipeline.Build(cfg, logger)
}

func runBacktest(ctx context.Context, args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: backtest <logic> <symbol> [k=v ...]")
	}
	spec := strategy.StrategySpec{
		ID:       args[0] + "-" + strings.ToLower(args[1]),
		Version:  1,
		Logic:    args[0],
		Params:   make(map[string]float64),
		Universe: []string{strings.ToUpper(args[1])},
	}
	for _, kv := range args[2:] {
		k, v, ok := strings.Cut(kv, "=")
		if !ok {
			return fmt.Errorf("parameter %q: want key=value", kv)
		}
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("parameter %q: %w", kv, err)
		}
		spec.Params[k] = f
	}

	c, err := build()
	if err != nil {
		return err
	}
	defer c.Close()

	cand, err := strategy.NewCandidate(c.Registry, spec)
	if err != nil {
		return err
	}
	lookback := c.Config.Evaluation.LookbackDays
	if lookback <= 0 {
		lookback = defaultLookbackDays
	}
	end := time.Now().UTC().Truncate(24 * time.Hour)
	bars, err := c.Bars.Bars(ctx, spec.PrimarySymbol(), end.AddDate(0, 0, -lookback), end)
	if err != nil {
		return err
	}
	res, err := c.Backtester.Run(ctx, spec.Identity(), cand.Strategy, bars)
	if err != nil {
		return err
	}
	fmt.Print(renderBacktest(res))
	return nil
}

func runEvaluate(ctx context.Context, args []string) error {
	c, err := build()
	if err != nil {
		return err
	}
	defer c.Close()

	path := ""
	if len(args) > 0 {
		path = args[0]
	}
	cands, err := c.Candidates(path)
	if err != nil {
		return err
	}
	evals, err := c.Evaluator.EvaluateAll(ctx, cands)
	if err != nil {
		return err
	}
	fmt.Print(renderEvaluations(evals))
	return nil
}

func runBackfill(ctx context.Context, args []string) error {
	c, err := build()
	if err != nil {
		return err
	}
	defer c.Close()

	var symbols []string
	if len(args) > 0 {
		for _, a := range args {
			symbols = append(symbols, strings.ToUpper(a))
		}
	} else {
		cands, err := c.Candidates("")
		if err != nil {
			return err
		}
		seen := make(map[string]bool)
		for _, cand := range cands {
			for _, s := range cand.Spec.Universe {
				if s = strings.ToUpper(s); !seen[s] {
					seen[s] = true
					symbols = append(symbols, s)
				}
			}
		}
	}

	lookback := c.Config.Evaluation.LookbackDays
	if lookback <= 0 {
		lookback = defaultLookbackDays
	}
	end := time.Now().UTC().Truncate(24 * time.Hour)
	res, err := marketdata.Backfill(ctx, c.Bars, symbols, end.AddDate(0, 0, -lookback), end, c.Config.Evaluation.MaxWorkers)
	fmt.Printf("%d symbols, %d bars in %s\n", res.Symbols, res.Bars, res.Elapsed.Round(time.Millisecond))
	if len(res.Empty) > 0 {
		fmt.Println(warningStyle.Render("no data: " + strings.Join(res.Empty, " ")))
	}
	if len(res.Failed) > 0 {
		fmt.Println(criticalStyle.Render("failed: " + strings.Join(res.Failed, " ")))
	}
	return err
}
