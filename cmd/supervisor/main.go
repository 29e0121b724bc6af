// Package main is the entry point for the procplane supervisor: an HTTP API
// over a table of named, long-running processes.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"procplane/internal/auth"
	"procplane/internal/config"
	"procplane/internal/controller"
	"procplane/internal/controller/handlers"
	"procplane/internal/logger"
	"procplane/internal/observability"
	"procplane/internal/runtime"
	"procplane/internal/store/postgres"
	"procplane/internal/supervisor"
)

func main() {
	if err := run(); err != nil {
		slog.Error("supervisor failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// Parse flags
	migrateFlag := flag.Bool("migrate", false, "Run database migrations before starting")
	configPath := flag.String("config", "", "Path to config file (YAML)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log := logger.New(cfg.LogLevel)
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Tracing
	shutdownTracer, err := observability.InitTracer(ctx, observability.TracingConfig{
		ServiceName: "procplane-supervisor",
		Endpoint:    cfg.OTELEndpoint,
		SampleRatio: cfg.TraceSampleRatio,
	})
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer func() {
		if err := shutdownTracer(context.Background()); err != nil {
			log.Warn("failed to shutdown tracer", "error", err)
		}
	}()

	// Metrics
	metricsHandler, shutdownMetrics, err := observability.InitMetrics()
	if err != nil {
		return fmt.Errorf("init metrics: %w", err)
	}
	defer func() {
		if err := shutdownMetrics(context.Background()); err != nil {
			log.Warn("failed to shutdown metrics", "error", err)
		}
	}()

	deps := handlers.Deps{Logger: log}
	opts := supervisor.Options{Logger: log, ReadTimeout: cfg.ReadTimeout}

	// Run history is optional.
	if cfg.DatabaseURL != "" {
		store, err := postgres.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("connect to database: %w", err)
		}
		defer store.Close()

		if *migrateFlag {
			log.Info("running database migrations")
			version, err := postgres.Migrate(store.DB())
			if err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
			log.Info("migrations completed", "version", version)
		}

		opts.Recorder = store
		deps.Runs = store
		deps.Ping = store.Ping
	}

	rt, err := runtime.New(runtime.Settings{
		Kind:       cfg.Runtime,
		WorkDir:    cfg.RuntimeWorkDir,
		Image:      cfg.DockerImage,
		LineBuffer: cfg.LineBuffer,
		Kubernetes: runtime.KubernetesConfig{
			Namespace:          cfg.KubernetesNamespace,
			ServiceAccount:     cfg.KubernetesServiceAccount,
			DefaultCPULimit:    cfg.KubernetesCPULimit,
			DefaultMemoryLimit: cfg.KubernetesMemoryLimit,
		},
	})
	if err != nil {
		return err
	}
	log.Info("using runtime", "runtime", rt.Name())

	registry := supervisor.New(rt, opts)
	deps.Registry = registry
	deps.Runtime = rt
	deps.Script = config.LoadScript(cfg.ScriptConfig)
	if deps.Script.IsZero() {
		log.Info("no default interpreter configured", "script_config", cfg.ScriptConfig)
	} else {
		log.Info("using default interpreter", "interpreter", deps.Script.Interpreter, "script", deps.Script.Script)
	}

	var tokenHash string
	if cfg.APIToken != "" {
		tokenHash = auth.HashKey(cfg.APIToken)
	} else {
		log.Warn("api_token is not set; the API is unauthenticated")
	}

	addr := fmt.Sprintf(":%d", cfg.HTTPPort)
	srv := controller.New(addr, handlers.New(deps), controller.ServerConfig{
		TokenHash: tokenHash,
		RateLimit: cfg.RateLimit,
		Burst:     cfg.RateLimitBurst,
		Metrics:   metricsHandler,
		Logger:    log,
	})

	log.Info("supervisor starting", "addr", addr)
	serveErr := srv.Run(ctx)

	// Every process dies with the supervisor.
	log.Info("stopping all processes", "count", registry.Len())
	stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := registry.StopAll(stopCtx); err != nil {
		log.Error("failed to stop all processes", "error", err)
	}

	if serveErr != nil {
		return fmt.Errorf("server: %w", serveErr)
	}
	log.Info("supervisor exited properly")
	return nil
}
