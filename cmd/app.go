package cmd

import (
	"context"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"path/filepath"

	"reportpilot/ai"
	"reportpilot/chart"
	"reportpilot/config"
	"reportpilot/db"
	"reportpilot/executor"
	"reportpilot/redaction"
	"reportpilot/routing"
	"reportpilot/service"
	"reportpilot/sources"
	"reportpilot/strategy"
	"reportpilot/telemetry"
	"reportpilot/workingset"
)

// app is the wired process: storage, sources, inference and the
// orchestrator built on them.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	db       *db.DB
	store    *workingset.Store
	registry *sources.Registry
	rules    *redaction.StaticProvider
	core     *service.Orchestrator
	closers  []io.Closer
	shutdown func(context.Context) error
}

func newApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg}

	logger, logCloser, err := telemetry.InitLogger(cfg.Log)
	if err != nil {
		return nil, err
	}
	a.logger = logger
	a.closers = append(a.closers, logCloser)

	a.shutdown, err = telemetry.InitTracing(ctx, cfg.Log)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.db, err = db.New(cfg.DBPath)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	a.closers = append(a.closers, a.db)

	if cfg.WorkingSetPath != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.WorkingSetPath), 0755); err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to create working set directory: %w", err)
		}
	}
	a.store, err = workingset.New(workingset.Options{
		Path:                cfg.WorkingSetPath,
		MaxTablesPerSession: cfg.Core.MaxTablesPerSession,
		OpTimeout:           cfg.Core.StoreTimeout,
	})
	if err != nil {
		a.Close()
		return nil, err
	}
	a.closers = append(a.closers, a.store)

	a.registry = sources.FromConfig(cfg.Sources)
	a.closers = append(a.closers, a.registry)
	a.rules = redaction.NewStaticProvider(cfg.Redaction)

	completer, err := ai.NewCompleter(cfg.Inference)
	if err != nil {
		a.Close()
		return nil, err
	}
	inference := ai.New(completer, ai.Options{
		MaxRetries:        cfg.Inference.MaxRetries,
		RetryBaseDelay:    cfg.Inference.RetryBaseDelay,
		CallTimeout:       cfg.Inference.Timeout,
		RequestsPerSecond: cfg.Inference.RequestsPerSecond,
		ChartCacheTTL:     cfg.Inference.ChartCacheTTL,
		ModelName:         cfg.Inference.ModelName,
	})
	a.closers = append(a.closers, inference)

	set := strategy.NewSet(strategy.Deps{
		Planner: inference,
		Charts: chart.NewSynthesizer(inference, chart.NormalizeOptions{
			Ratio: cfg.Core.NormalizeRatio,
			Lower: cfg.Core.NormalizeLower,
			Upper: cfg.Core.NormalizeUpper,
		}),
		Executor:  executor.New(executor.Options{StepTimeout: cfg.Core.SourceTimeout}),
		Store:     a.store,
		Sources:   a.registry,
		Redaction: a.rules,
	})
	a.core = service.New(service.Deps{
		DB:         a.db,
		Store:      a.store,
		Router:     routing.New(inference, cfg.Core.RecentTurns),
		Strategies: set,
		Summarizer: inference,
		Sources:    a.registry,
		Logger:     logger,
	}, service.Options{
		RecentTurns:        cfg.Core.RecentTurns,
		CompressAfterTurns: cfg.Core.CompressAfterTurns,
		SummaryTimeout:     cfg.Inference.Timeout,
		IdleTTL:            cfg.Core.IdleTTL,
		JanitorInterval:    cfg.Core.JanitorInterval,
	})
	log.Printf("[APP] Ready: %d sources, %d redaction rules", len(a.registry.List()), len(cfg.Redaction))
	return a, nil
}

// watchRules reloads redaction rules when the config file changes. Source
// changes need a restart.
func (a *app) watchRules(ctx context.Context) {
	if a.cfg.ConfigFile == "" {
		return
	}
	go func() {
		err := config.Watch(ctx, a.cfg.ConfigFile, func(f *config.FileConfig) {
			a.rules.Set(f.Redaction)
		})
		if err != nil {
			log.Printf("[APP] Config watcher stopped: %v", err)
		}
	}()
}

// Close releases everything in reverse order of creation.
func (a *app) Close() {
	if a.shutdown != nil {
		if err := a.shutdown(context.Background()); err != nil {
			log.Printf("[APP] Failed to flush traces: %v", err)
		}
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			log.Printf("[APP] Close failed: %v", err)
		}
	}
}
