package config

import (
	"os"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	tmpFile, err := os.CreateTemp(t.TempDir(), "procplane-test-*.yaml")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	if _, err := tmpFile.WriteString(content); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	tmpFile.Close()
	return tmpFile.Name()
}

func TestLoad_DefaultValues(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.HTTPPort != 6161 {
		t.Errorf("expected HTTPPort 6161, got %d", cfg.HTTPPort)
	}
	if cfg.MetricsPort != 6162 {
		t.Errorf("expected MetricsPort 6162, got %d", cfg.MetricsPort)
	}
	if cfg.Runtime != "exec" {
		t.Errorf("expected Runtime exec, got %s", cfg.Runtime)
	}
	if cfg.OTELEndpoint != "localhost:4317" {
		t.Errorf("expected OTELEndpoint localhost:4317, got %s", cfg.OTELEndpoint)
	}
	if cfg.ReadTimeout != 30*time.Second {
		t.Errorf("expected ReadTimeout 30s, got %v", cfg.ReadTimeout)
	}
	if cfg.LineBuffer != 4096 {
		t.Errorf("expected LineBuffer 4096, got %d", cfg.LineBuffer)
	}
	if cfg.DatabaseURL != "" {
		t.Errorf("expected no database by default, got %s", cfg.DatabaseURL)
	}
	if cfg.Harness.Processes != 3 || cfg.Harness.Rounds != 5 || cfg.Harness.Concurrency != 4 {
		t.Errorf("unexpected harness defaults %+v", cfg.Harness)
	}
	if cfg.Harness.Interval != 2*time.Second {
		t.Errorf("expected harness interval 2s, got %v", cfg.Harness.Interval)
	}
	if cfg.Harness.Executable != "ping" || len(cfg.Harness.Args) != 3 {
		t.Errorf("unexpected harness command %s %v", cfg.Harness.Executable, cfg.Harness.Args)
	}
	if !cfg.Harness.Sequenced {
		t.Error("expected harness rounds to be sequenced by default")
	}
}

func TestLoad_EnvVarOverrides(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://custom/db")
	t.Setenv("PORT", "9999")
	t.Setenv("API_TOKEN", "secret")
	t.Setenv("RUNTIME", "docker")
	t.Setenv("RUNTIME_WORKDIR", "/tmp/procs")
	t.Setenv("READ_TIMEOUT", "5s")
	t.Setenv("HARNESS_ARGS", "-c 2 localhost")
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "otel-collector:4317")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.DatabaseURL != "postgres://custom/db" {
		t.Errorf("expected DatabaseURL from env, got %s", cfg.DatabaseURL)
	}
	if cfg.HTTPPort != 9999 {
		t.Errorf("expected HTTPPort 9999, got %d", cfg.HTTPPort)
	}
	if cfg.APIToken != "secret" {
		t.Errorf("expected APIToken from env, got %s", cfg.APIToken)
	}
	if cfg.Runtime != "docker" {
		t.Errorf("expected Runtime docker, got %s", cfg.Runtime)
	}
	if cfg.RuntimeWorkDir != "/tmp/procs" {
		t.Errorf("expected RuntimeWorkDir /tmp/procs, got %s", cfg.RuntimeWorkDir)
	}
	if cfg.ReadTimeout != 5*time.Second {
		t.Errorf("expected ReadTimeout 5s, got %v", cfg.ReadTimeout)
	}
	if len(cfg.Harness.Args) != 3 || cfg.Harness.Args[2] != "localhost" {
		t.Errorf("expected harness args from env, got %v", cfg.Harness.Args)
	}
	if cfg.OTELEndpoint != "otel-collector:4317" {
		t.Errorf("expected OTELEndpoint otel-collector:4317, got %s", cfg.OTELEndpoint)
	}
}

func TestLoad_InvalidRuntime(t *testing.T) {
	t.Setenv("RUNTIME", "invalid")

	if _, err := Load(""); err == nil {
		t.Error("expected error for invalid runtime")
	}
}

func TestLoad_ConfigFile(t *testing.T) {
	path := writeConfig(t, `
database_url: "postgres://config-file/db"
http_port: 7777
runtime: kubernetes
kubernetes_namespace: procs
harness_processes: 8
harness_interval: 250ms
`)

	// Clear env vars that would override
	t.Setenv("DATABASE_URL", "")
	t.Setenv("PORT", "")
	t.Setenv("RUNTIME", "")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.DatabaseURL != "postgres://config-file/db" {
		t.Errorf("expected DatabaseURL from config file, got %s", cfg.DatabaseURL)
	}
	if cfg.HTTPPort != 7777 {
		t.Errorf("expected HTTPPort 7777, got %d", cfg.HTTPPort)
	}
	if cfg.Runtime != "kubernetes" {
		t.Errorf("expected Runtime kubernetes, got %s", cfg.Runtime)
	}
	if cfg.KubernetesNamespace != "procs" {
		t.Errorf("expected namespace procs, got %s", cfg.KubernetesNamespace)
	}
	if cfg.Harness.Processes != 8 {
		t.Errorf("expected 8 harness processes, got %d", cfg.Harness.Processes)
	}
	if cfg.Harness.Interval != 250*time.Millisecond {
		t.Errorf("expected harness interval 250ms, got %v", cfg.Harness.Interval)
	}
}

func TestLoad_EnvOverridesConfigFile(t *testing.T) {
	path := writeConfig(t, `
database_url: "postgres://from-file/db"
http_port: 7777
`)

	t.Setenv("DATABASE_URL", "postgres://from-env/db")
	t.Setenv("PORT", "8888")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.DatabaseURL != "postgres://from-env/db" {
		t.Errorf("expected DatabaseURL from env, got %s", cfg.DatabaseURL)
	}
	if cfg.HTTPPort != 8888 {
		t.Errorf("expected HTTPPort 8888 from env, got %d", cfg.HTTPPort)
	}
}

func TestLoad_InvalidConfigFile(t *testing.T) {
	if _, err := Load("/nonexistent/path/to/config.yaml"); err == nil {
		t.Error("expected error for nonexistent config file")
	}
}

func TestLoad_InvalidPort(t *testing.T) {
	t.Setenv("PORT", "70000")

	if _, err := Load(""); err == nil {
		t.Error("expected error for out-of-range port")
	}
}

func TestLoad_TraceSampleRatio(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.TraceSampleRatio != 1 {
		t.Errorf("expected full sampling by default, got %v", cfg.TraceSampleRatio)
	}

	t.Setenv("TRACE_SAMPLE_RATIO", "1.5")
	if _, err := Load(""); err == nil {
		t.Error("expected error for a ratio above 1")
	}
}
