package pipeline

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"evalgate/internal/audit"
	"evalgate/internal/backtest"
	"evalgate/internal/config"
	"evalgate/internal/engine"
	"evalgate/internal/marketdata"
	"evalgate/internal/metrics"
	"evalgate/internal/promotion"
	"evalgate/internal/store"
	"evalgate/internal/strategy"
	"evalgate/internal/strategy/builtins"
)

// Components is everything the binaries build from one configuration.
type Components struct {
	Config     *config.Config
	SQLite     *store.SQLiteStore
	Parquet    *store.ParquetStore
	Metrics    *metrics.Metrics
	Backtester *backtest.Backtester
	Auditor    *audit.Auditor
	Promoter   *promotion.Promoter
	Gate       *engine.RiskGate
	Bars       marketdata.Provider
	Listings   marketdata.ListingResolver
	Registry   *strategy.Registry
	Evaluator  *Evaluator
	Cycle      *Cycle
}

// Build validates cfg and wires the stores, the gates and the pipeline.
// Bars are read from the Parquet store and, when Alpaca credentials are
// configured, fetched through on a cache miss. Listings come from the
// universe file when one is set, otherwise from Alpaca, otherwise from an
// empty universe that cannot attest history.
func Build(cfg *config.Config, log *slog.Logger) (*Components, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if log == nil {
		log = slog.Default()
	}

	c := &Components{Config: cfg, Metrics: metrics.New(), Registry: builtins.NewRegistry()}

	var err error
	if c.Backtester, err = backtest.NewBacktester(BacktestSettings(cfg), log); err != nil {
		return nil, err
	}
	if c.Auditor, err = audit.NewAuditor(AuditSettings(cfg)); err != nil {
		return nil, err
	}
	if c.Gate, err = engine.NewRiskGate(RiskSettings(cfg)); err != nil {
		return nil, err
	}

	c.Bars, c.Listings, err = marketData(cfg, log)
	if err != nil {
		return nil, err
	}

	dataDir := cfg.Storage.DataDir
	if dataDir == "" {
		dataDir = "data"
	}
	dbPath := cfg.Storage.SQLitePath
	if dbPath == "" {
		dbPath = filepath.Join(dataDir, "evalgate.db")
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, err
	}
	if c.SQLite, err = store.NewSQLiteStore(dbPath); err != nil {
		return nil, err
	}
	c.Parquet = store.NewParquetStore(dataDir)
	c.Bars = marketdata.NewCachedProvider(c.Parquet, c.Bars).WithCalendar(AuditSettings(cfg).Calendar)

	if c.Promoter, err = promotion.NewPromoter(PromotionSettings(cfg), c.SQLite, c.Metrics, log); err != nil {
		c.SQLite.Close()
		return nil, err
	}

	c.Evaluator, err = NewEvaluator(Deps{
		Backtester:  c.Backtester,
		Auditor:     c.Auditor,
		Promoter:    c.Promoter,
		Bars:        c.Bars,
		Listings:    c.Listings,
		Evaluations: c.SQLite,
		Ledgers:     c.Parquet,
		Metrics:     c.Metrics,
		Logger:      log,
	}, Options{
		LookbackDays: cfg.Evaluation.LookbackDays,
		MaxWorkers:   cfg.Evaluation.MaxWorkers,
	})
	if err != nil {
		c.SQLite.Close()
		return nil, err
	}
	c.Cycle = NewCycle(c.Promoter, c.SQLite, log)
	return c, nil
}

// marketData picks the upstream bar provider and the listing resolver. The
// returned provider is nil when no credentials are configured.
func marketData(cfg *config.Config, log *slog.Logger) (marketdata.Provider, marketdata.ListingResolver, error) {
	a := cfg.Alpaca
	online := a.APIKey != "" && a.APISecret != ""

	var bars marketdata.Provider
	if online {
		bars = marketdata.NewAlpacaProvider(a.APIKey, a.APISecret, a.DataURL, a.Feed, a.RateLimitPerMin)
	} else {
		log.Info("no alpaca credentials, bars served from the local store only")
	}

	switch {
	case cfg.Evaluation.UniverseFile != "":
		l, err := marketdata.LoadStaticListings(cfg.Evaluation.UniverseFile)
		if err != nil {
			return nil, nil, fmt.Errorf("loading universe: %w", err)
		}
		return bars, l, nil
	case online:
		return bars, marketdata.NewAlpacaListings(a.APIKey, a.APISecret, a.BaseURL), nil
	default:
		return bars, &marketdata.StaticListings{Source: "none"}, nil
	}
}

// Candidates loads the strategies file and builds every spec through the
// registry.
func (c *Components) Candidates(path string) ([]strategy.Candidate, error) {
	if path == "" {
		path = c.Config.Evaluation.SpecsFile
	}
	if path == "" {
		return nil, errors.New("no strategies file configured (evaluation.specs_file)")
	}
	specs, err := strategy.LoadSpecs(path)
	if err != nil {
		return nil, err
	}
	out := make([]strategy.Candidate, 0, len(specs))
	for _, s := range specs {
		cand, err := strategy.NewCandidate(c.Registry, s)
		if err != nil {
			return nil, fmt.Errorf("strategy %s: %w", s.ID, err)
		}
		out = append(out, cand)
	}
	return out, nil
}

// Close releases the SQLite store.
func (c *Components) Close() error {
	return c.SQLite.Close()
}
