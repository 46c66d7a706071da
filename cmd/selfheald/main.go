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

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/Priyanshiguptaaa/SelfHealingAgents/internal/apply"
	"github.com/Priyanshiguptaaa/SelfHealingAgents/internal/audit"
	"github.com/Priyanshiguptaaa/SelfHealingAgents/internal/auth"
	"github.com/Priyanshiguptaaa/SelfHealingAgents/internal/bus"
	"github.com/Priyanshiguptaaa/SelfHealingAgents/internal/config"
	"github.com/Priyanshiguptaaa/SelfHealingAgents/internal/diagnose"
	"github.com/Priyanshiguptaaa/SelfHealingAgents/internal/guardrail"
	"github.com/Priyanshiguptaaa/SelfHealingAgents/internal/incident"
	"github.com/Priyanshiguptaaa/SelfHealingAgents/internal/mcp"
	"github.com/Priyanshiguptaaa/SelfHealingAgents/internal/orchestrator"
	"github.com/Priyanshiguptaaa/SelfHealingAgents/internal/patch"
	"github.com/Priyanshiguptaaa/SelfHealingAgents/internal/server"
	"github.com/Priyanshiguptaaa/SelfHealingAgents/internal/target"
	"github.com/Priyanshiguptaaa/SelfHealingAgents/internal/telemetry"
	"github.com/Priyanshiguptaaa/SelfHealingAgents/internal/verify"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run0())
}

func run0() int {
	// The level is adjustable so run can apply the configured value
	// once the environment is loaded.
	level := new(slog.LevelVar)
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, logger, level); err != nil {
		slog.Error("fatal error", "error", err)
		return 1
	}
	return 0
}

func run(ctx context.Context, logger *slog.Logger, level *slog.LevelVar) error {
	// Load .env file if present (non-fatal; production won't have one).
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	level.Set(cfg.SlogLevel())

	slog.Info("selfheal starting", "version", version, "port", cfg.Port, "auto_heal", cfg.AutoHeal)

	// Initialize OpenTelemetry.
	otelShutdown, err := telemetry.Init(ctx, telemetry.Config{
		Endpoint:    cfg.OTELEndpoint,
		ServiceName: cfg.ServiceName,
		Version:     version,
		Insecure:    cfg.OTELInsecure,
	})
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() { _ = otelShutdown(context.Background()) }()

	// Seed the demo target workspace. Every start resets it to the known
	// broken state so the first trigger has a failure to heal.
	root := cfg.TargetRoot
	if root == "" {
		root, err = os.MkdirTemp("", "selfheal_target_")
		if err != nil {
			return fmt.Errorf("target workspace: %w", err)
		}
		defer os.RemoveAll(root)
	}
	if err := target.Seed(root); err != nil {
		return fmt.Errorf("seed target: %w", err)
	}
	tgt := target.New(root, logger)
	logger.Info("target seeded", "root", root)

	// Audit store: Postgres when configured, in-memory otherwise.
	var store audit.Store
	if cfg.DatabaseURL != "" {
		pg, err := audit.NewPGStore(ctx, cfg.DatabaseURL, logger)
		if err != nil {
			return fmt.Errorf("audit store: %w", err)
		}
		store = pg
		logger.Info("audit store: postgres")
	} else {
		store = audit.NewMemoryStore()
		logger.Info("audit store: memory (no DATABASE_URL)")
	}
	defer store.Close()

	// Event bus and incident manager. The errgroup supervises the
	// manager loop and the HTTP server; the first hard error tears the
	// group down.
	b := bus.New(logger, bus.WithRetention(cfg.EventRetention))
	if err := b.RegisterMetrics(); err != nil {
		logger.Warn("bus metrics registration failed", "error", err)
	}
	g, gctx := errgroup.WithContext(ctx)

	// The manager and the audit recorder must outlive the shutdown
	// signal: pipelines unwinding during drain still publish their
	// terminal events, and those have to be applied and persisted. Both
	// consumers stop via the bus close at the end of shutdown instead
	// of the signal context.
	manager := incident.NewManager(logger)
	managerSub := b.Subscribe()
	g.Go(func() error { return manager.Run(context.Background(), managerSub) })

	// Audit recorder persists every published event; stopped by Drain.
	recorder := audit.NewRecorder(store, logger, cfg.AuditBatchSize, cfg.AuditFlushTimeout)
	recorder.Start(context.Background(), b.Subscribe(bus.FromStart()))

	// SSE broker.
	broker := server.NewBroker(logger)
	go broker.Start(ctx, b.Subscribe(bus.FromStart()))

	// Healing collaborators.
	applier, err := apply.New(root, logger)
	if err != nil {
		return fmt.Errorf("applier: %w", err)
	}
	defer applier.Close()

	guard, err := guardrail.New(logger, guardrail.Config{MaxLOC: cfg.MaxLOC})
	if err != nil {
		return fmt.Errorf("guardrails: %w", err)
	}

	// Diagnosis and patch generation. With no OpenAI key the pattern
	// diagnoser and simulated patcher carry the whole flow.
	var primary diagnose.Provider
	var patcher patch.Provider = patch.NewSimulatedProvider()
	if cfg.OpenAIAPIKey != "" {
		primary = diagnose.NewOpenAIProvider(cfg.OpenAIAPIKey, cfg.OpenAIModel)
		patcher = patch.NewOpenAIProvider(cfg.OpenAIAPIKey, cfg.OpenAIModel)
		logger.Info("model provider: openai", "model", cfg.OpenAIModel)
	} else {
		logger.Info("model provider: built-in patterns (no OPENAI_API_KEY)")
	}

	orch := orchestrator.New(orchestrator.Config{
		AutoHeal:        cfg.AutoHeal,
		DiagnoseTimeout: cfg.DiagnoseTimeout,
		PatchTimeout:    cfg.PatchTimeout,
		ApplyTimeout:    cfg.ApplyTimeout,
		VerifyTimeout:   cfg.VerifyTimeout,
		ApprovalTimeout: cfg.ApprovalTimeout,
	}, logger, b, manager, tgt,
		diagnose.NewResilient(primary, logger),
		patch.NewBuilder(patcher),
		guard, applier, apply.SelfReloader{}, verify.New(tgt, logger))

	// Operator auth, enabled only when a key hash is configured.
	var jwtMgr *auth.JWTManager
	if cfg.APIKeyHash != "" {
		jwtMgr, err = auth.NewJWTManager(logger, cfg.JWTExpiration)
		if err != nil {
			return fmt.Errorf("auth: %w", err)
		}
		logger.Info("operator auth: enabled")
	} else {
		logger.Warn("operator auth: disabled (no SELFHEAL_API_KEY_HASH)")
	}

	// MCP server, mounted at /mcp.
	mcpSrv := mcp.New(orch, manager, logger, version)

	srv := server.New(server.ServerConfig{
		Handlers: server.HandlersDeps{
			Orchestrator:        orch,
			Manager:             manager,
			Store:               store,
			Broker:              broker,
			JWTMgr:              jwtMgr,
			APIKeyHash:          cfg.APIKeyHash,
			Target:              tgt,
			Logger:              logger,
			Version:             version,
			MaxRequestBodyBytes: cfg.MaxRequestBodyBytes,
		},
		MCPServer:    mcpSrv.MCPServer(),
		Port:         cfg.Port,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	// Start HTTP server in the group.
	g.Go(func() error {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	// Wait for shutdown signal or the first group error.
	<-gctx.Done()

	// Graceful shutdown. Each phase gets its own timeout so early
	// completion doesn't steal budget from later phases.
	// Order: (1) stop accepting HTTP requests, (2) let in-flight healing
	// runs finish or roll back, (3) flush the audit recorder, (4) close
	// the bus.
	slog.Info("selfheal shutting down")

	httpCtx, httpCancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := srv.Shutdown(httpCtx); err != nil {
		slog.Error("http shutdown error", "error", err)
	}
	httpCancel()

	orch.Drain()

	recCtx, recCancel := context.WithTimeout(context.Background(), 10*time.Second)
	recorder.Drain(recCtx)
	recCancel()

	b.Close()

	if err := g.Wait(); err != nil {
		return err
	}

	slog.Info("selfheal stopped")
	return nil
}
