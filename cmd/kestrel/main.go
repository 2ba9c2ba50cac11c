// Kestrel - Click scoring and fraud attribution engine.

package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/clickshield/kestrel/internal/aggregate"
	"github.com/clickshield/kestrel/internal/api"
	"github.com/clickshield/kestrel/internal/bus"
	"github.com/clickshield/kestrel/internal/cache"
	"github.com/clickshield/kestrel/internal/domain"
	"github.com/clickshield/kestrel/internal/pipeline"
	"github.com/clickshield/kestrel/internal/report"
	"github.com/clickshield/kestrel/internal/repository"
	"github.com/clickshield/kestrel/internal/reputation"
	"github.com/clickshield/kestrel/internal/rules"
	"github.com/clickshield/kestrel/internal/signals"
	"github.com/clickshield/kestrel/internal/worker"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	// Load configuration
	cfg := domain.DefaultConfig()

	// Check for Pro tier via environment
	proTier := os.Getenv("KESTREL_TIER") == "pro"
	if proTier {
		cfg = domain.ProConfig()
	}
	applyEnvOverrides(cfg)

	// Initialize structured logger from the logging config.
	// KESTREL_DEBUG=true overrides the configured level.
	slog.SetDefault(slog.New(newLogHandler(cfg.Logging)))

	// Log startup
	slog.Info("starting kestrel",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)
	if proTier {
		slog.Info("running in Pro tier mode")
	}

	slog.Info("configuration loaded",
		"tier", cfg.Tier,
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
		"fraud_threshold", cfg.Scoring.FraudThreshold,
		"velocity_threshold", cfg.Scoring.VelocityThreshold,
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

	// Initialize Repository
	repo, err := repository.New(cfg.Repository)
	if err != nil {
		slog.Error("failed to initialize repository", "error", err)
		os.Exit(1)
	}
	defer repo.Close()
	slog.Info("repository initialized", "driver", cfg.Repository.Driver)

	// Initialize Cache
	cacheImpl, err := cache.New(cfg.Cache)
	if err != nil {
		slog.Error("failed to initialize cache", "error", err)
		os.Exit(1)
	}
	defer cacheImpl.Close()
	slog.Info("cache initialized", "type", cfg.Cache.Type)

	// Initialize EventBus
	busImpl, err := bus.New(cfg.EventBus)
	if err != nil {
		slog.Error("failed to initialize event bus", "error", err)
		os.Exit(1)
	}
	defer busImpl.Close()
	slog.Info("event bus initialized", "type", cfg.EventBus.Type)

	// Initialize Reputation Store and warm it from the database
	repStore := reputation.NewStore(repo, cacheImpl, busImpl,
		cfg.Scoring.VelocityWindow, cfg.Scoring.ReputationTimeout)
	if err := repStore.Warm(ctx); err != nil {
		slog.Warn("reputation warm-up failed, continuing cold", "error", err)
	}
	slog.Info("reputation store initialized")

	// Initialize Custom Rule Engine
	customEngine, err := rules.NewCustomEngine()
	if err != nil {
		slog.Error("failed to initialize custom rule engine", "error", err)
		os.Exit(1)
	}
	defer customEngine.Close()

	// Load custom rules from database (no hardcoded defaults - configure via API)
	if err := loadCustomRules(ctx, repo, customEngine); err != nil {
		slog.Error("failed to load custom rules", "error", err)
		os.Exit(1)
	}
	slog.Info("custom rule engine initialized", "rules_count", customEngine.RulesCount())

	// Initialize Scorer
	scorer := rules.NewScorer(cfg.Scoring, customEngine)
	slog.Info("scorer initialized",
		"fraud_threshold", cfg.Scoring.FraudThreshold,
	)

	// Initialize Aggregator
	aggregator := aggregate.NewAggregator(repo)

	// Async persistence is a Pro tier feature; the worker becomes the
	// single writer of the scored click log.
	asyncPersist := cfg.Tier == domain.TierPro || os.Getenv("KESTREL_ASYNC_WORKER") == "true"

	// Initialize Pipeline
	pipe := pipeline.New(
		signals.NewExtractor(),
		repStore,
		scorer,
		aggregator,
		repo,
		busImpl,
		cfg.Scoring,
		asyncPersist,
	)

	// Initialize async Worker
	var asyncWorker *worker.Worker
	if asyncPersist {
		asyncWorker = worker.NewWorker(busImpl, repo)
		if err := asyncWorker.Start(); err != nil {
			slog.Error("failed to start async worker", "error", err)
			os.Exit(1)
		}
	}

	// Initialize Report Generator
	reports := report.NewGenerator(repo)

	// Initialize Server
	srv := api.NewServer(cfg.Server, cfg.Tracing, pipe, reports, repStore, aggregator, customEngine, repo, cacheImpl, Version)

	// Start Server in goroutine
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("kestrel is ready",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
	)

	printBanner(cfg, Version)

	// Wait for shutdown signal
	<-ctx.Done()
	slog.Info("shutting down...")

	// Stop async worker first so in-flight clicks drain to the repository
	if asyncWorker != nil {
		asyncWorker.Stop()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	slog.Info("kestrel shutdown complete")
}

// newLogHandler builds the slog handler described by the logging config.
// Unknown levels and formats fall back to info and JSON.
func newLogHandler(cfg domain.LoggingConfig) slog.Handler {
	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	if os.Getenv("KESTREL_DEBUG") == "true" {
		level = slog.LevelDebug
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "text" {
		return slog.NewTextHandler(os.Stdout, opts)
	}
	return slog.NewJSONHandler(os.Stdout, opts)
}

// applyEnvOverrides maps a small set of environment variables onto the
// tier defaults.
func applyEnvOverrides(cfg *domain.Config) {
	if v := os.Getenv("KESTREL_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("KESTREL_SQLITE_PATH"); v != "" {
		cfg.Repository.SQLitePath = v
	}
	if v := os.Getenv("KESTREL_POSTGRES_HOST"); v != "" {
		cfg.Repository.PostgresHost = v
	}
	if v := os.Getenv("KESTREL_POSTGRES_USER"); v != "" {
		cfg.Repository.PostgresUser = v
	}
	if v := os.Getenv("KESTREL_POSTGRES_PASSWORD"); v != "" {
		cfg.Repository.PostgresPassword = v
	}
	if v := os.Getenv("KESTREL_REDIS_ADDR"); v != "" {
		cfg.Cache.RedisAddr = v
	}
	if v := os.Getenv("KESTREL_NATS_URL"); v != "" {
		cfg.EventBus.NATSUrl = v
	}
	if v := os.Getenv("KESTREL_FRAUD_THRESHOLD"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Scoring.FraudThreshold = n
		}
	}
	if v := os.Getenv("KESTREL_VELOCITY_THRESHOLD"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Scoring.VelocityThreshold = n
		}
	}
	if v := os.Getenv("KESTREL_VELOCITY_WINDOW"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Scoring.VelocityWindow = d
		}
	}
	if v := os.Getenv("KESTREL_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("KESTREL_LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
	if v := os.Getenv("KESTREL_TRACING"); v != "" {
		cfg.Tracing.Enabled = v == "true"
	}
}

// loadCustomRules loads custom rules from the database into the engine.
// All custom rules are configured via POST /rules - no hardcoded defaults.
func loadCustomRules(ctx context.Context, repo domain.Repository, engine *rules.CustomEngine) error {
	configs, err := repo.ListCustomRules(ctx)
	if err != nil {
		slog.Warn("failed to list custom rules from database", "error", err)
		return nil // Start with empty rules - they can be added via API
	}

	if len(configs) > 0 {
		slog.Info("loading custom rules from database", "count", len(configs))
		return engine.LoadRules(configs)
	}

	slog.Info("no custom rules in database - configure via POST /rules API")
	return nil
}

func printBanner(cfg *domain.Config, version string) {
	fmt.Println()
	fmt.Println("  ╔═══════════════════════════════════════════╗")
	fmt.Println("  ║                KESTREL                    ║")
	fmt.Println("  ║   Click Scoring & Fraud Attribution       ║")
	fmt.Println("  ║       Every click accounted for.          ║")
	fmt.Println("  ╚═══════════════════════════════════════════╝")
	fmt.Println()
	fmt.Printf("  Version:  %s\n", version)
	fmt.Printf("  Tier:     %s\n", cfg.Tier)
	fmt.Printf("  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    POST /collect                  - Score an incoming click")
	fmt.Println("    GET  /reports/{campaignID}     - Fraud report (JSON or ?format=csv)")
	fmt.Println("    GET  /aggregates/{campaignID}  - Live campaign aggregate")
	fmt.Println("    GET  /clicks/{clickID}         - Scored click record")
	fmt.Println("    PUT  /reputation/{ip}          - Allowlist/blocklist an IP")
	fmt.Println("    GET  /reputation/{ip}          - Read IP reputation")
	fmt.Println("    GET  /rules                    - List custom rules")
	fmt.Println("    POST /rules                    - Create a custom rule")
	fmt.Println("    POST /rules/reload             - Hot-reload rules from database")
	fmt.Println("    GET  /health                   - Health check")
	fmt.Println()
}
