// Sentinel - ledger fraud audit server.
//
// Usage:
//
//	sentinel -config sentinel.toml
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/opensource-finance/sentinel/internal/api"
	"github.com/opensource-finance/sentinel/internal/bus"
	"github.com/opensource-finance/sentinel/internal/cache"
	"github.com/opensource-finance/sentinel/internal/config"
	"github.com/opensource-finance/sentinel/internal/domain"
	"github.com/opensource-finance/sentinel/internal/ledger"
	"github.com/opensource-finance/sentinel/internal/processor"
	"github.com/opensource-finance/sentinel/internal/repository"
	"github.com/opensource-finance/sentinel/internal/rules"
	"github.com/opensource-finance/sentinel/internal/session"
	"github.com/opensource-finance/sentinel/internal/stream"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	configPath := flag.String("config", os.Getenv("SENTINEL_CONFIG"), "Path to TOML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.SetDefault(config.NewLogger(cfg.Logging))

	slog.Info("starting sentinel",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)
	slog.Info("configuration loaded",
		"ledger_source", cfg.Ledger.Source,
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
		"tracing", cfg.Tracing.Enabled,
	)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		slog.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	if err := run(ctx, cfg); err != nil {
		slog.Error("sentinel failed", "error", err)
		os.Exit(1)
	}

	slog.Info("sentinel shutdown complete")
}

func run(ctx context.Context, cfg *domain.Config) error {
	// Initialize Repository (optional)
	var repo domain.Repository
	if cfg.Repository.Driver != "" {
		sqlRepo, err := repository.New(ctx, cfg.Repository)
		if err != nil {
			return fmt.Errorf("initialize repository: %w", err)
		}
		defer sqlRepo.Close()
		repo = sqlRepo
		slog.Info("repository initialized", "driver", cfg.Repository.Driver)
	}

	// Load the ledger; data-shape errors are fatal
	var lister ledger.Lister
	if repo != nil {
		lister = repo
	}
	store, err := ledger.Open(ctx, cfg.Ledger, lister)
	if err != nil {
		return fmt.Errorf("load ledger: %w", err)
	}
	bounds, _ := store.Bounds()
	slog.Info("ledger loaded",
		"source", cfg.Ledger.Source,
		"transactions", store.Len(),
		"first_step", bounds.From,
		"last_step", bounds.To,
	)

	// Initialize Cache
	cacheImpl, err := cache.New(cfg.Cache)
	if err != nil {
		return fmt.Errorf("initialize cache: %w", err)
	}
	defer cacheImpl.Close()
	slog.Info("cache initialized", "type", cfg.Cache.Type)

	// Initialize EventBus
	busImpl, err := bus.New(cfg.EventBus)
	if err != nil {
		return fmt.Errorf("initialize event bus: %w", err)
	}
	defer busImpl.Close()
	slog.Info("event bus initialized", "type", cfg.EventBus.Type)

	// Initialize Rule Engine with custom rules from the database
	engine, err := rules.NewEngine()
	if err != nil {
		return fmt.Errorf("initialize rule engine: %w", err)
	}
	defer engine.Close()

	if cfg.Scoring.LoadCustomRules && repo != nil {
		if err := loadRulesFromDatabase(ctx, repo, engine); err != nil {
			return fmt.Errorf("load custom rules: %w", err)
		}
	}

	scoring := rules.Config{HighAmountThreshold: cfg.Scoring.HighAmountThreshold}
	scorer := engine.Scorer(scoring)
	slog.Info("risk scorer initialized",
		"rules_count", scorer.RulesCount(),
		"custom_rules", engine.RulesCount(),
		"version", scorer.Version(),
	)

	sessions := session.NewManager(session.Options{
		Ledger: store,
		Simulator: stream.New(store, stream.Options{
			MinBatch: cfg.Stream.MinBatch,
			MaxBatch: cfg.Stream.MaxBatch,
			Seed:     cfg.Stream.Seed,
		}),
		Processor: processor.New(scorer, cfg.Scoring.Workers),
		Cache:     cacheImpl,
		Bus:       busImpl,
		ResultTTL: cfg.Cache.ResultTTL,
	})
	defer sessions.Close()

	// Initialize Server
	srv := api.NewServer(cfg.Server, cfg.Metrics, api.HandlerConfig{
		Scoring:      scoring,
		Pace:         cfg.Stream.Pace,
		LedgerSource: cfg.Ledger.Source,
		Version:      Version,
	}, repo, cacheImpl, busImpl, engine, sessions)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	slog.Info("sentinel is ready",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
	)

	printBanner(cfg, Version)

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	}
	slog.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}
	return nil
}

// loadRulesFromDatabase loads custom rules from the database into the engine.
func loadRulesFromDatabase(ctx context.Context, repo domain.Repository, engine *rules.Engine) error {
	dbRules, err := repo.ListRuleConfigs(ctx)
	if err != nil {
		slog.Warn("failed to list rules from database", "error", err)
		return nil // Start with the built-in rules only
	}

	if len(dbRules) > 0 {
		slog.Info("loading rules from database", "count", len(dbRules))
		return engine.LoadRules(dbRules)
	}

	slog.Info("no custom rules in database - configure via POST /rules API")
	return nil
}

func printBanner(cfg *domain.Config, version string) {
	fmt.Println()
	fmt.Println("  SENTINEL - Ledger Fraud Audit")
	fmt.Println()
	fmt.Printf("  Version:  %s\n", version)
	fmt.Printf("  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    POST /live/{step}           - Replay a tick through the scorer")
	fmt.Println("    GET  /incidents             - Session incident log")
	fmt.Println("    GET  /forensics/benford     - Benford first-digit check")
	fmt.Println("    GET  /forensics/liquidation - Full-liquidation rule validation")
	fmt.Println("    POST /audit                 - Run the forensic audit")
	fmt.Println("    GET  /report                - Download the audit report")
	fmt.Println("    GET  /rules                 - List custom rules")
	fmt.Println("    POST /rules                 - Create a custom rule")
	fmt.Println("    POST /rules/reload          - Hot-reload rules from database")
	fmt.Println("    GET  /health                - Health check")
	fmt.Println()
}
