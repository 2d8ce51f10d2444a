package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/hpcomplexio/mission-control/common/id"
	"github.com/hpcomplexio/mission-control/common/logger"
	"github.com/hpcomplexio/mission-control/common/otel"
	"github.com/hpcomplexio/mission-control/common/resiliency"
	"github.com/hpcomplexio/mission-control/core/config"
	"github.com/hpcomplexio/mission-control/core/db"
	"github.com/hpcomplexio/mission-control/internal/contract"
	"github.com/hpcomplexio/mission-control/internal/healer"
	"github.com/hpcomplexio/mission-control/internal/http/middleware"
	httprouter "github.com/hpcomplexio/mission-control/internal/http/router"
	"github.com/hpcomplexio/mission-control/internal/hub"
	"github.com/hpcomplexio/mission-control/internal/orchestrator"
	"github.com/hpcomplexio/mission-control/internal/queue"
	"github.com/hpcomplexio/mission-control/internal/service"
	"github.com/hpcomplexio/mission-control/internal/store"
	"github.com/hpcomplexio/mission-control/internal/worker"
)

func main() {
	fmt.Printf("%s\n", banner)
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		slog.ErrorContext(ctx, "failed to load config", "error", err)
		os.Exit(1)
	}

	// OTel must init before logger (logger uses OTel provider in production)
	telemetry, err := otel.Setup(ctx, cfg.OTel)
	if err != nil {
		os.Stderr.WriteString("failed to initialize otel: " + err.Error() + "\n")
		os.Exit(1)
	}

	logger.Setup(cfg)

	if telemetry != nil {
		slog.InfoContext(ctx, "otel initialized", "endpoint", cfg.OTel.Endpoint)
	} else {
		slog.InfoContext(ctx, "otel disabled (no endpoint configured)")
	}

	slog.InfoContext(ctx, "mission control starting", "env", cfg.Env, "service", cfg.OTel.ServiceName)
	if err := id.Init(cfg.NodeID); err != nil {
		slog.ErrorContext(ctx, "failed to initialize snowflake id generator", "error", err)
		os.Exit(1)
	}

	eventContract, err := loadContract(cfg.SchemaPath)
	if err != nil {
		slog.ErrorContext(ctx, "failed to load event contract", "error", err, "path", cfg.SchemaPath)
		os.Exit(1)
	}

	database, err := db.Open(ctx, cfg.DB)
	if err != nil {
		slog.ErrorContext(ctx, "failed to open database", "error", err, "path", cfg.DB.Path)
		os.Exit(1)
	}
	defer database.Close()
	slog.InfoContext(ctx, "database ready", "path", cfg.DB.Path)

	stores := store.NewStores(database.SQL())

	hubOpts := []hub.Option{hub.WithHeartbeatInterval(cfg.Hub.HeartbeatInterval)}
	var mirror *queue.RedisMirror
	if cfg.Mirror.Enabled() {
		mirror, err = newMirror(ctx, cfg.Mirror)
		if err != nil {
			slog.ErrorContext(ctx, "failed to connect to redis", "error", err)
			os.Exit(1)
		}
		hubOpts = append(hubOpts, hub.WithMirror(mirror))
		slog.InfoContext(ctx, "redis mirror enabled", "stream", cfg.Mirror.RedisStream)
	}
	eventHub := hub.New(stores.EventLogs(), hubOpts...)

	breaker := resiliency.NewCircuitBreaker("self-healer", cfg.Healer.FailureThreshold, cfg.Healer.OpenDuration)
	poster := resiliency.NewRetryingClient(resiliency.WithAttemptTimeout(cfg.Healer.Timeout))
	healerClient := healer.NewClient(cfg.Healer.URL, cfg.Healer.Token, poster, breaker, slog.Default())

	orch := orchestrator.New(
		eventHub,
		stores.AgentRuns(),
		stores.Decisions(),
		healerClient,
		worker.ShellRunner{},
		worker.NewFSWatcher(slog.Default()),
		orchestrator.WithConfig(orchestratorConfig(cfg.Orchestrator)),
	)

	services := service.NewServices(stores, eventContract, eventHub, slog.Default())

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	router := setupRouter(cfg, httprouter.Dependencies{
		Services:     services,
		Stream:       eventHub,
		Orchestrator: orch,
		Contract:     eventContract,
	})
	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		// No WriteTimeout: /events is a long-lived stream.
		IdleTimeout: 120 * time.Second,
	}

	runCtx, stopBackground := context.WithCancel(ctx)
	go eventHub.Run(runCtx)
	go orch.Run(runCtx)

	go func() {
		slog.InfoContext(ctx, "http server starting", "port", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.ErrorContext(ctx, "http server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.InfoContext(ctx, "shutting down...")

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	// Streams are detached first so Shutdown does not wait on them.
	stopBackground()
	orch.Close()
	eventHub.Close()

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.ErrorContext(shutdownCtx, "http server shutdown error", "error", err)
	}

	if mirror != nil {
		if err := mirror.Close(); err != nil {
			slog.ErrorContext(shutdownCtx, "redis mirror close error", "error", err)
		}
	}

	if telemetry != nil {
		if err := telemetry.Shutdown(shutdownCtx); err != nil {
			slog.ErrorContext(shutdownCtx, "otel shutdown error", "error", err)
		}
	}

	slog.InfoContext(shutdownCtx, "shutdown complete")
}

func setupRouter(cfg config.Config, deps httprouter.Dependencies) *gin.Engine {
	router := gin.New()

	// Order matters: OTel creates span → Recovery catches panics → Logger logs with trace context
	if cfg.OTel.Enabled() {
		router.Use(otelgin.Middleware(cfg.OTel.ServiceName))
	}
	router.Use(middleware.Recovery())
	router.Use(middleware.Logger())

	routerCfg := httprouter.RouterConfig{AuthToken: cfg.AuthToken}
	if cfg.RateLimit.Enabled() {
		routerCfg.RateLimiter = middleware.NewRateLimiter(cfg.RateLimit.RPS, cfg.RateLimit.Burst, nil)
	}
	httprouter.SetupRoutes(router, deps, routerCfg)

	return router
}

func loadContract(path string) (*contract.Contract, error) {
	if path == "" {
		return contract.Default(), nil
	}
	return contract.Load(path)
}

func newMirror(ctx context.Context, cfg config.MirrorConfig) (*queue.RedisMirror, error) {
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("pinging redis: %w", err)
	}
	return queue.NewRedisMirror(client, cfg.RedisStream, slog.Default()), nil
}

func orchestratorConfig(c config.OrchestratorConfig) orchestrator.Config {
	oc := orchestrator.DefaultConfig()
	oc.BuildTimeout = c.BuildTimeout
	oc.Debounce = c.Debounce
	oc.StallThreshold = c.StallThreshold
	oc.StallSweepInterval = c.StallSweepInterval
	oc.DefaultBuildCommand = c.DefaultBuildCommand
	oc.DefaultTestCommand = c.DefaultTestCommand
	return oc
}

const banner = `
 __  __ _         _                ___         _           _
|  \/  (_)_______(_)___ _ _       / __|___ _ _| |_ _ _ ___| |
| |\/| | (_-<_-<| / _ \ ' \     | (__/ _ \ ' \  _| '_/ _ \ |
|_|  |_|_/__/__/|_\___/_||_|     \___\___/_||_\__|_| \___/_|
`
