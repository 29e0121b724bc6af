// Package config loads settings from an optional YAML file and environment
// variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration values for the application.
type Config struct {
	// HTTP server port for the supervisor API
	HTTPPort int
	// Port for the standalone /metrics listener
	MetricsPort int

	// Bearer token required by the API. Empty disables auth.
	APIToken string
	// Requests per second per client. Zero disables rate limiting.
	RateLimit      float64
	RateLimitBurst int

	// Optional; enables run history.
	DatabaseURL string

	// Process backend: exec, docker or kubernetes
	Runtime        string
	RuntimeWorkDir string
	DockerImage    string

	KubernetesNamespace      string
	KubernetesServiceAccount string
	KubernetesCPULimit       string
	KubernetesMemoryLimit    string

	OTELEndpoint     string
	// Fraction of new traces sampled
	TraceSampleRatio float64
	LogLevel         string

	// Bound on a blocking single-line read
	ReadTimeout time.Duration
	// Lines buffered per output stream
	LineBuffer int

	// Path of the interpreter/script JSON file
	ScriptConfig string

	Harness HarnessConfig
}

// HarnessConfig configures the polled-query harness binary.
type HarnessConfig struct {
	Processes   int
	Rounds      int
	Concurrency int
	Interval    time.Duration
	Executable  string
	Args        []string
	ExitTimeout time.Duration
	CloseInput  bool
	Sequenced   bool
}

var validRuntimes = map[string]bool{
	"exec":       true,
	"docker":     true,
	"kubernetes": true,
}

// envBindings maps config keys to environment variables that do not follow
// the upper-cased key convention.
var envBindings = map[string]string{
	"http_port":     "PORT",
	"otel_endpoint": "OTEL_EXPORTER_OTLP_ENDPOINT",
}

// Load reads configuration from path (optional) and the environment.
// Environment variables override file values.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("failed to bind %s: %w", env, err)
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	cfg := &Config{
		HTTPPort:                 v.GetInt("http_port"),
		MetricsPort:              v.GetInt("metrics_port"),
		APIToken:                 v.GetString("api_token"),
		RateLimit:                v.GetFloat64("rate_limit"),
		RateLimitBurst:           v.GetInt("rate_limit_burst"),
		DatabaseURL:              v.GetString("database_url"),
		Runtime:                  strings.ToLower(v.GetString("runtime")),
		RuntimeWorkDir:           v.GetString("runtime_workdir"),
		DockerImage:              v.GetString("docker_image"),
		KubernetesNamespace:      v.GetString("kubernetes_namespace"),
		KubernetesServiceAccount: v.GetString("kubernetes_service_account"),
		KubernetesCPULimit:       v.GetString("kubernetes_cpu_limit"),
		KubernetesMemoryLimit:    v.GetString("kubernetes_memory_limit"),
		OTELEndpoint:             v.GetString("otel_endpoint"),
		TraceSampleRatio:         v.GetFloat64("trace_sample_ratio"),
		LogLevel:                 v.GetString("log_level"),
		ReadTimeout:              v.GetDuration("read_timeout"),
		LineBuffer:               v.GetInt("line_buffer"),
		ScriptConfig:             v.GetString("script_config"),
		Harness: HarnessConfig{
			Processes:   v.GetInt("harness_processes"),
			Rounds:      v.GetInt("harness_rounds"),
			Concurrency: v.GetInt("harness_concurrency"),
			Interval:    v.GetDuration("harness_interval"),
			Executable:  v.GetString("harness_executable"),
			Args:        v.GetStringSlice("harness_args"),
			ExitTimeout: v.GetDuration("harness_exit_timeout"),
			CloseInput:  v.GetBool("harness_close_input"),
			Sequenced:   v.GetBool("harness_sequenced"),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("http_port", 6161)
	v.SetDefault("metrics_port", 6162)
	v.SetDefault("rate_limit", 0)
	v.SetDefault("rate_limit_burst", 20)
	v.SetDefault("runtime", "exec")
	v.SetDefault("docker_image", "alpine:latest")
	v.SetDefault("kubernetes_namespace", "default")
	v.SetDefault("kubernetes_cpu_limit", "500m")
	v.SetDefault("kubernetes_memory_limit", "256Mi")
	v.SetDefault("otel_endpoint", "localhost:4317")
	v.SetDefault("trace_sample_ratio", 1.0)
	v.SetDefault("log_level", "info")
	v.SetDefault("read_timeout", 30*time.Second)
	v.SetDefault("line_buffer", 4096)
	v.SetDefault("script_config", defaultScriptConfig())

	v.SetDefault("harness_processes", 3)
	v.SetDefault("harness_rounds", 5)
	v.SetDefault("harness_concurrency", 4)
	v.SetDefault("harness_interval", 2*time.Second)
	v.SetDefault("harness_executable", "ping")
	v.SetDefault("harness_args", []string{"-c", "5", "127.0.0.1"})
	v.SetDefault("harness_exit_timeout", 30*time.Second)
	v.SetDefault("harness_close_input", false)
	v.SetDefault("harness_sequenced", true)
}

func defaultScriptConfig() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".config", "procplane", "config.json")
	}
	return filepath.Join(home, ".config", "procplane", "config.json")
}

func (c *Config) validate() error {
	if !validRuntimes[c.Runtime] {
		return fmt.Errorf("invalid runtime %q (want exec, docker or kubernetes)", c.Runtime)
	}
	if c.HTTPPort <= 0 || c.HTTPPort > 65535 {
		return fmt.Errorf("invalid http_port %d", c.HTTPPort)
	}
	if c.RateLimit < 0 {
		return errors.New("rate_limit must not be negative")
	}
	if c.TraceSampleRatio < 0 || c.TraceSampleRatio > 1 {
		return fmt.Errorf("trace_sample_ratio must be within [0, 1], got %v", c.TraceSampleRatio)
	}
	if c.LineBuffer <= 0 {
		return fmt.Errorf("line_buffer must be positive, got %d", c.LineBuffer)
	}
	return nil
}
