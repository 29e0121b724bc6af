// Package main runs the polled-query harness: it spawns a set of processes,
// sends each a sequence of queries through a bounded worker pool and prints
// a JSON report.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"procplane/internal/config"
	"procplane/internal/harness"
	"procplane/internal/logger"
	"procplane/internal/observability"
	"procplane/internal/runtime"
)

func main() {
	code, err := run()
	if err != nil {
		slog.Error("harness failed", "error", err)
		os.Exit(1)
	}
	os.Exit(code)
}

func run() (int, error) {
	configPath := flag.String("config", "", "Path to config file (YAML)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return 0, fmt.Errorf("load config: %w", err)
	}

	log := logger.New(cfg.LogLevel)
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracer, err := observability.InitTracer(ctx, observability.TracingConfig{
		ServiceName: "procplane-harness",
		Endpoint:    cfg.OTELEndpoint,
		SampleRatio: cfg.TraceSampleRatio,
	})
	if err != nil {
		return 0, fmt.Errorf("init tracing: %w", err)
	}
	defer func() {
		if err := shutdownTracer(context.Background()); err != nil {
			log.Warn("failed to shutdown tracer", "error", err)
		}
	}()

	metricsHandler, shutdownMetrics, err := observability.InitMetrics()
	if err != nil {
		return 0, fmt.Errorf("init metrics: %w", err)
	}
	defer func() {
		if err := shutdownMetrics(context.Background()); err != nil {
			log.Warn("failed to shutdown metrics", "error", err)
		}
	}()
	metricsSrv := observability.ServeMetrics(ctx, fmt.Sprintf(":%d", cfg.MetricsPort), metricsHandler, log)
	defer metricsSrv.Close()

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
		return 0, err
	}

	hc := cfg.Harness
	h := harness.New(rt, harness.Config{
		Processes:     hc.Processes,
		Rounds:        hc.Rounds,
		Concurrency:   hc.Concurrency,
		RoundInterval: hc.Interval,
		Command: runtime.StartOptions{
			Executable: hc.Executable,
			Args:       hc.Args,
		},
		Sequenced:   hc.Sequenced,
		CloseInput:  hc.CloseInput,
		ExitTimeout: hc.ExitTimeout,
	}, log)

	report, err := h.Run(ctx)
	if err != nil {
		return 0, err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		return 0, fmt.Errorf("write report: %w", err)
	}

	if failed := report.Failed(); failed > 0 {
		log.Warn("harness finished with failures", "failed", failed)
		return 2, nil
	}
	return 0, nil
}
