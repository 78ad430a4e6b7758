// Dossier analysis service for credit committees.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/NGAPNAAHMED/e3w-cameroon-connect-sub001/internal/analysis"
	"github.com/NGAPNAAHMED/e3w-cameroon-connect-sub001/internal/api"
	"github.com/NGAPNAAHMED/e3w-cameroon-connect-sub001/internal/bus"
	"github.com/NGAPNAAHMED/e3w-cameroon-connect-sub001/internal/cache"
	"github.com/NGAPNAAHMED/e3w-cameroon-connect-sub001/internal/domain"
	"github.com/NGAPNAAHMED/e3w-cameroon-connect-sub001/internal/metrics"
	"github.com/NGAPNAAHMED/e3w-cameroon-connect-sub001/internal/notify"
	"github.com/NGAPNAAHMED/e3w-cameroon-connect-sub001/internal/quota"
	"github.com/NGAPNAAHMED/e3w-cameroon-connect-sub001/internal/repository"
	"github.com/NGAPNAAHMED/e3w-cameroon-connect-sub001/internal/rules"
	"github.com/NGAPNAAHMED/e3w-cameroon-connect-sub001/internal/scorer"
	"github.com/NGAPNAAHMED/e3w-cameroon-connect-sub001/internal/worker"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	cfg := domain.LoadConfig()

	slog.SetDefault(newLogger(cfg.Logging))

	slog.Info("starting dossier service",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)

	slog.Info("configuration loaded",
		"tier", cfg.Tier,
		"mode", cfg.AnalysisMode,
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
		"scorer", cfg.Scorer.Provider,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		slog.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	repo, err := repository.New(cfg.Repository)
	if err != nil {
		slog.Error("failed to initialize repository", "error", err)
		os.Exit(1)
	}
	defer repo.Close()
	slog.Info("repository initialized", "driver", cfg.Repository.Driver)

	cacheImpl, err := cache.New(cfg.Cache)
	if err != nil {
		slog.Error("failed to initialize cache", "error", err)
		os.Exit(1)
	}
	defer cacheImpl.Close()
	slog.Info("cache initialized", "kind", cacheImpl.Kind())

	busImpl, err := bus.New(cfg.EventBus)
	if err != nil {
		slog.Error("failed to initialize event bus", "error", err)
		os.Exit(1)
	}
	defer busImpl.Close()
	slog.Info("event bus initialized", "type", cfg.EventBus.Type)

	quotaSvc := quota.NewService(repo, cacheImpl, cfg.Quota)

	// The engine asks the quota service how often a dossier was analysed.
	engine, err := rules.NewEngine(quotaSvc.HistoryGetter(), 100)
	if err != nil {
		slog.Error("failed to initialize rule engine", "error", err)
		os.Exit(1)
	}
	defer engine.Close()

	if err := loadRules(ctx, repo, engine, cfg.SeedRules); err != nil {
		slog.Error("failed to load rules", "error", err)
		os.Exit(1)
	}
	slog.Info("rule engine initialized", "rules_count", engine.Count())

	var narrative domain.NarrativeScorer
	if cfg.AnalysisMode == domain.ModeAssisted {
		narrative, err = scorer.New(cfg.Scorer)
		if err != nil {
			slog.Error("failed to initialize narrative scorer", "error", err)
			os.Exit(1)
		}
		slog.Info("narrative scorer initialized", "provider", cfg.Scorer.Provider, "model", cfg.Scorer.Model)
	}

	recorder := metrics.NewRecorder()

	service := analysis.NewService(analysis.Options{
		Repo:      repo,
		Cache:     cacheImpl,
		Bus:       busImpl,
		Engine:    engine,
		Scorer:    narrative,
		Quota:     quotaSvc,
		Metrics:   recorder,
		Mode:      cfg.AnalysisMode,
		Policy:    cfg.Policy,
		Timeout:   time.Duration(cfg.Scorer.TimeoutSecs) * time.Second,
		Language:  cfg.Scorer.Language,
		ResultTTL: cfg.Cache.ResultTTL,
	})

	var asyncWorker *worker.Worker
	if cfg.AsyncWorker {
		asyncWorker = worker.NewWorker(busImpl, service)

		if err := asyncWorker.Start(worker.Config{TenantIDs: cfg.Tenants, WorkerCount: cfg.WorkerCount}); err != nil {
			slog.Error("failed to start async worker", "error", err)
		}
	}

	var notifier *notify.Notifier
	if cfg.Notify.Enabled {
		notifier = notify.NewNotifier(busImpl, notify.NewSender(cfg.Notify), cfg.Notify.Recipients)
		if err := notifier.Start(ctx, cfg.Tenants); err != nil {
			slog.Error("failed to start notifier", "error", err)
		}
	}

	srv := api.NewServer(cfg.Server, api.Deps{
		Service: service,
		Repo:    repo,
		Cache:   cacheImpl,
		Bus:     busImpl,
		Engine:  engine,
		Metrics: recorder,
		Version: Version,
	})

	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("dossier service is ready",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
	)

	printBanner(cfg, Version)

	<-ctx.Done()
	slog.Info("shutting down...")

	if notifier != nil {
		notifier.Stop()
	}
	if asyncWorker != nil {
		if err := asyncWorker.Stop(); err != nil {
			slog.Error("failed to stop async worker", "error", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	slog.Info("dossier service shutdown complete")
}

// newLogger builds the process logger from the logging settings.
func newLogger(cfg domain.LoggingConfig) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}

	if strings.EqualFold(cfg.Format, "text") {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}

// loadRules loads the shared rules from the database. With seed set and
// no rule stored yet, the builtin eligibility rules are saved first.
func loadRules(ctx context.Context, repo domain.Repository, engine *rules.Engine, seed bool) error {
	dbRules, err := repo.ListRuleConfigs(ctx, domain.AllTenants)
	if err != nil {
		slog.Warn("failed to list rules from database", "error", err)
		return nil // Start with empty rules - they can be added via API
	}

	if len(dbRules) == 0 && seed {
		for _, rule := range rules.BuiltinRules() {
			rule.TenantID = domain.AllTenants
			if err := repo.SaveRuleConfig(ctx, domain.AllTenants, rule); err != nil {
				return fmt.Errorf("failed to seed rule %s: %w", rule.ID, err)
			}
			dbRules = append(dbRules, rule)
		}
		slog.Info("builtin rules seeded", "count", len(dbRules))
	}

	if len(dbRules) > 0 {
		slog.Info("loading rules from database", "count", len(dbRules))
		return engine.LoadAll(dbRules)
	}

	slog.Info("no rules in database - configure via POST /rules API")
	return nil
}

func printBanner(cfg *domain.Config, version string) {
	fmt.Println()
	fmt.Println("  Dossier - analyse des demandes de crédit")
	fmt.Println()
	fmt.Printf("  Version:  %s\n", version)
	fmt.Printf("  Tier:     %s\n", cfg.Tier)
	fmt.Printf("  Mode:     %s\n", cfg.AnalysisMode)
	fmt.Printf("  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    POST /ratios                       - Ratios and deterministic class")
	fmt.Println("    POST /analyze                      - Stateless analysis")
	fmt.Println("    POST /dossiers                     - Submit a dossier")
	fmt.Println("    GET  /dossiers                     - List dossiers")
	fmt.Println("    PUT  /dossiers/{id}/status         - Change dossier status")
	fmt.Println("    POST /dossiers/{id}/analyze        - Analyse a dossier (?async=true)")
	fmt.Println("    GET  /dossiers/{id}/results/latest - Latest result")
	fmt.Println("    GET  /results/{id}                 - Result by ID")
	fmt.Println("    GET  /rules                        - List all rules")
	fmt.Println("    POST /rules                        - Create a new rule")
	fmt.Println("    POST /rules/reload                 - Hot-reload rules from database")
	fmt.Println("    GET  /health                       - Health check")
	fmt.Println("    GET  /metrics                      - Prometheus metrics")
	fmt.Println()
}
