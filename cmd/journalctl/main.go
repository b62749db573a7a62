// journalctl runs the pipeline's ambient bootstrap: load config, connect to
// Postgres, run migrations, and drive the tick loop that advances every
// active run. There is no HTTP surface; see spec §1 non-goals.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/journalctl/core/internal/apperrors"
	"github.com/journalctl/core/internal/bundle"
	"github.com/journalctl/core/internal/config"
	"github.com/journalctl/core/internal/llmclient"
	"github.com/journalctl/core/internal/store"
	"github.com/journalctl/core/internal/tick"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	configDir := flag.String("config-dir",
		getEnv("CONFIG_DIR", "./deploy/config"),
		"Path to configuration directory")
	maxJobsPerTick := flag.Int("max-jobs-per-tick", 5, "Maximum queued jobs a single tick processes per run")
	pollInterval := flag.Duration("poll-interval", 2*time.Second, "Delay between sweeps over active runs")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	envPath := filepath.Join(*configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		slog.Warn("no .env file loaded, continuing with existing environment", "path", envPath, "error", err)
	} else {
		slog.Info("loaded environment file", "path", envPath)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dbCfg, err := store.LoadConfigFromEnv()
	if err != nil {
		slog.Error("invalid database configuration", "error", err)
		os.Exit(1)
	}

	s, err := store.NewStore(ctx, dbCfg)
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := s.Close(); err != nil {
			slog.Error("error closing store", "error", err)
		}
	}()
	slog.Info("connected to postgres and applied migrations")

	pricing, err := config.LoadPricingBookYAML(filepath.Join(*configDir, "pricing.yaml"))
	if err != nil {
		slog.Warn("no pricing book loaded; only the stub model will be usable", "error", err)
		pricing = config.NewPricingBook(nil)
	}

	if profiles, err := config.LoadFilterProfilesYAML(filepath.Join(*configDir, "filter_profiles.yaml")); err != nil {
		slog.Warn("no filter profile fixtures loaded", "error", err)
	} else {
		slog.Info("loaded filter profile fixtures", "count", len(profiles))
	}

	llmEnv := config.LoadLLMEnv()
	openAI, anthropic := buildProviders(llmEnv)

	bundleSvc := bundle.NewService(s.Atoms)
	tickSvc := tick.NewService(s, bundleSvc, pricing, openAI, anthropic, llmEnv)

	slog.Info("journalctl bootstrap complete",
		"llmMode", string(llmEnv.Mode),
		"maxJobsPerTick", *maxJobsPerTick,
		"pollInterval", pollInterval.String())

	runTickLoop(ctx, s, tickSvc, *maxJobsPerTick, *pollInterval)
	slog.Info("journalctl shutting down")
}

// buildProviders constructs real LLM provider adapters only when the
// process is configured for LLM_MODE=real and a credential is present;
// otherwise the returned provider is nil and any non-stub summarize call
// fails with MissingApiKeyError rather than silently hitting a live API
// (spec §6 "dry_run" default).
func buildProviders(env config.LLMEnv) (openAI, anthropic llmclient.Provider) {
	if env.Mode != config.ModeReal {
		return nil, nil
	}
	if key, ok := env.APIKeyFor(config.ProviderOpenAI); ok {
		openAI = llmclient.NewOpenAIProvider(key, "")
	}
	if key, ok := env.APIKeyFor(config.ProviderAnthropic); ok {
		anthropic = llmclient.NewAnthropicProvider(key, "")
	}
	return openAI, anthropic
}

// runTickLoop sweeps active runs every pollInterval, processing up to
// maxJobsPerTick queued jobs on each, until ctx is cancelled. Grounded on
// the teacher's pkg/queue/worker.go poll loop, adapted from one worker
// claiming one session at a time to one sweep advancing every active run.
func runTickLoop(ctx context.Context, s *store.Store, tickSvc *tick.Service, maxJobsPerTick int, pollInterval time.Duration) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sweepActiveRuns(ctx, s, tickSvc, maxJobsPerTick)
		}
	}
}

func sweepActiveRuns(ctx context.Context, s *store.Store, tickSvc *tick.Service, maxJobsPerTick int) {
	runIDs, err := s.Runs.ActiveIDs(ctx)
	if err != nil {
		slog.Error("failed to list active runs", "error", err)
		return
	}

	for _, runID := range runIDs {
		log := slog.With("runId", runID)
		progress, err := tickSvc.ProcessTick(ctx, runID, maxJobsPerTick)
		if err != nil {
			var inProgress *apperrors.TickInProgressError
			if errors.As(err, &inProgress) {
				log.Debug("tick already in progress elsewhere, skipping")
				continue
			}
			log.Error("tick failed", "error", err)
			continue
		}
		log.Info("tick processed",
			"status", string(progress.Status),
			"jobCounts", progress.JobCounts,
			"processedDays", len(progress.ProcessedDayDates))
	}
}
