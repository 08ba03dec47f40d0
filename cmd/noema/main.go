package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/ethr-ai/noema/internal/budget"
	"github.com/ethr-ai/noema/internal/config"
	"github.com/ethr-ai/noema/internal/dissonance"
	"github.com/ethr-ai/noema/internal/insights"
	"github.com/ethr-ai/noema/internal/llm"
	"github.com/ethr-ai/noema/internal/mcp"
	"github.com/ethr-ai/noema/internal/memory"
	"github.com/ethr-ai/noema/internal/model"
	"github.com/ethr-ai/noema/internal/reclassify"
	"github.com/ethr-ai/noema/internal/resolution"
	"github.com/ethr-ai/noema/internal/smf"
	"github.com/ethr-ai/noema/internal/storage"
	"github.com/ethr-ai/noema/internal/telemetry"
	"github.com/ethr-ai/noema/migrations"
)

// version is set at build time via -ldflags.
var version = "dev"

// budgetCheckInterval is how often the month-to-date spend is projected
// against the monthly limit.
const budgetCheckInterval = time.Hour

func main() {
	os.Exit(run0())
}

func run0() int {
	level := slog.LevelInfo
	if os.Getenv("NOEMA_LOG_LEVEL") == "debug" {
		level = slog.LevelDebug
	}
	// Logs go to stderr: stdout belongs to the MCP stdio transport.
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, logger); err != nil {
		slog.Error("fatal error", "error", err)
		return 1
	}
	return 0
}

func run(ctx context.Context, logger *slog.Logger) error {
	// Load .env file if present (non-fatal; production won't have one).
	_ = godotenv.Load()

	// Load configuration. A broken YAML file is non-fatal: the env-only
	// config comes back alongside the error and built-in defaults apply.
	cfg, err := config.Load()
	if err != nil {
		if cfg.DatabaseURL == "" {
			return fmt.Errorf("load config: %w", err)
		}
		logger.Warn("config file unreadable, using built-in defaults", "error", err)
	}

	slog.Info("noema starting", "version", version, "project", cfg.Project, "transport", cfg.Transport)

	// Initialize OpenTelemetry.
	otelShutdown, err := telemetry.Init(ctx, cfg.OTELEndpoint, cfg.ServiceName, version, cfg.OTELInsecure)
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() { _ = otelShutdown(context.Background()) }()

	// Connect to database. The project identity is a deterministic UUID over
	// the configured project name, so restarts always land in the same scope.
	projectID := uuid.NewSHA1(uuid.NameSpaceOID, []byte("noema:"+cfg.Project))
	db, err := storage.New(ctx, cfg.DatabaseURL, projectID, logger)
	if err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	defer db.Close()

	// Run embedded migrations. RunMigrations tracks applied files in
	// schema_migrations and skips duplicates, so errors here indicate real
	// failures (not "already exists").
	if err := db.RunMigrations(ctx, migrations.FS); err != nil {
		slog.Warn("migrations failed", "error", err)
	}

	// Verify critical tables exist after migration. If the pgvector
	// extension failed to create, the schema migration fails silently and
	// the server would start with no tables. Catch this early.
	var schemaOK bool
	if err := db.Pool().QueryRow(ctx,
		`SELECT EXISTS (SELECT FROM information_schema.tables WHERE table_schema = 'public' AND table_name = 'edges')`,
	).Scan(&schemaOK); err != nil {
		return fmt.Errorf("schema verification: %w", err)
	}
	if !schemaOK {
		return fmt.Errorf("critical table 'edges' does not exist after migration: check that the vector extension is installed")
	}

	// Classifier, budget meter, retrier, and fallback tracker. The meter
	// doubles as the retry recorder so every backoff lands in the retry log.
	classifier, err := llm.New(cfg)
	if err != nil {
		return fmt.Errorf("llm: %w", err)
	}
	meter := budget.NewMeter(db, cfg.File, logger)
	retrier := llm.NewRetrier(cfg.MaxRetries, cfg.BaseDelay, meter, logger)
	health := llm.NewHealthTracker(logger)

	// Decay table and relevance scorer.
	decay := memory.NewDecayTable(cfg.File.Decay, logger)
	scorer := memory.NewScorer(decay, logger)

	// SMF service with its action executors. Proposals carry the action
	// name; executors apply the approved action inside the same transaction
	// that flips the proposal state.
	smfSvc := smf.New(db, nil, cfg.MaxRetries, cfg.BaseDelay, logger)
	smfSvc.RegisterExecutor(model.ActionResolveDissonance, resolution.New(logger))
	reclassifyExec := reclassify.NewExecutor(logger)
	smfSvc.RegisterExecutor(model.ActionReclassify, reclassifyExec)
	smfSvc.RegisterExecutor(model.ActionReclassifySector, reclassifyExec)
	insightExec := insights.NewExecutor(logger)
	smfSvc.RegisterExecutor(model.ActionUpdateInsight, insightExec)
	smfSvc.RegisterExecutor(model.ActionDeleteInsight, insightExec)

	// Dissonance engine proposes resolutions through the SMF.
	engine := dissonance.New(db, classifier, cfg.ClassifierModel, retrier, health, meter, nil, logger)
	engine.SetProposer(smfSvc)

	reclassifySvc := reclassify.New(db, logger)
	insightSvc := insights.New(db, logger)

	mcpSrv := mcp.New(db, engine, smfSvc, reclassifySvc, insightSvc, meter, health, scorer, logger)

	// Background loops: fallback recovery probes and budget projection.
	go health.RunProbes(ctx, cfg.HealthProbeInterval, cfg.HealthProbeTimeout,
		map[string]func(ctx context.Context) error{
			classifier.Name(): classifier.Probe,
		})
	go budgetCheckLoop(ctx, meter, logger)

	// Serve MCP on the configured transport.
	errCh := make(chan error, 1)
	var httpSrv *mcpserver.StreamableHTTPServer

	switch cfg.Transport {
	case "stdio":
		stdio := mcpserver.NewStdioServer(mcpSrv.MCPServer())
		go func() {
			if err := stdio.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
				errCh <- err
			}
		}()
	case "http":
		httpSrv = mcpserver.NewStreamableHTTPServer(mcpSrv.MCPServer())
		addr := fmt.Sprintf(":%d", cfg.Port)
		logger.Info("mcp: http transport listening", "addr", addr)
		go func() {
			if err := httpSrv.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
		}()
	default:
		return fmt.Errorf("unknown transport %q (want stdio or http)", cfg.Transport)
	}

	// Wait for shutdown signal or server error.
	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}

	slog.Info("noema shutting down")

	if httpSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			slog.Error("http shutdown error", "error", err)
		}
		cancel()
	}

	slog.Info("noema stopped")
	return nil
}

// budgetCheckLoop periodically projects month-to-date spend against the
// monthly limit and records alerts. One check runs at startup so a fresh
// process notices an already-blown budget immediately.
func budgetCheckLoop(ctx context.Context, meter *budget.Meter, logger *slog.Logger) {
	if err := meter.CheckBudget(ctx); err != nil {
		logger.Warn("budget check failed", "error", err)
	}

	ticker := time.NewTicker(budgetCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := meter.CheckBudget(ctx); err != nil {
				logger.Warn("budget check failed", "error", err)
			}
		}
	}
}
