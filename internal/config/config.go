// Package config handles environment variable loading for ports, resource
// ceilings, relay timing, and the import allow-list.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration values for the hub.
type Config struct {
	// HTTP server port for the hub
	HTTPPort int

	// DataDir is the root for scripts, per-experiment output directories,
	// the record store, and result archives.
	DataDir string

	// NATSURL is the device channel endpoint.
	NATSURL string

	// ExperimentImage is the container image experiments run in.
	ExperimentImage string

	// MaxExperimentDuration is the per-experiment wall-clock limit.
	MaxExperimentDuration time.Duration

	// MemoryLimitBytes and CPUShare are the per-container ceilings.
	MemoryLimitBytes int64
	CPUShare         float64

	// AggregateMemoryBytes and AggregateCPU cap total committed resources.
	AggregateMemoryBytes int64
	AggregateCPU         float64

	// RelayCommandTimeout bounds one hardware round trip; the keepalive
	// interval bounds dead-channel detection.
	RelayCommandTimeout    time.Duration
	RelayKeepaliveInterval time.Duration

	// ArchiveRetention is how long result archives are kept before purge.
	ArchiveRetention time.Duration

	// TerminationGrace is the clean-stop window before a hard kill.
	TerminationGrace time.Duration

	// AllowedImports is the script import allow-list.
	AllowedImports []string

	// SubmitRatePerSec and SubmitBurst bound script submissions per client.
	SubmitRatePerSec float64
	SubmitBurst      int

	// OTELEndpoint is the OTLP collector address; empty disables tracing.
	OTELEndpoint string
}

// defaultAllowedImports matches the packages baked into the experiment image.
var defaultAllowedImports = []string{
	"numpy", "pandas", "matplotlib", "sklearn", "scipy",
	"math", "time", "json", "csv", "random", "bioreactor_client",
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		HTTPPort:               8000,
		DataDir:                "data",
		NATSURL:                "nats://localhost:4222",
		ExperimentImage:        "bioreactor-user-experiment:latest",
		MaxExperimentDuration:  24 * time.Hour,
		MemoryLimitBytes:       512 << 20,
		CPUShare:               1.0,
		AggregateMemoryBytes:   4 << 30,
		AggregateCPU:           4.0,
		RelayCommandTimeout:    30 * time.Second,
		RelayKeepaliveInterval: 10 * time.Second,
		ArchiveRetention:       7 * 24 * time.Hour,
		TerminationGrace:       10 * time.Second,
		AllowedImports:         defaultAllowedImports,
		SubmitRatePerSec:       1,
		SubmitBurst:            5,
	}

	var err error
	if cfg.HTTPPort, err = intEnv("PORT", cfg.HTTPPort); err != nil {
		return nil, err
	}
	if v := os.Getenv("HUB_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("NATS_URL"); v != "" {
		cfg.NATSURL = v
	}
	if v := os.Getenv("EXPERIMENT_IMAGE"); v != "" {
		cfg.ExperimentImage = v
	}
	if cfg.MaxExperimentDuration, err = durationEnv("MAX_EXPERIMENT_DURATION", cfg.MaxExperimentDuration); err != nil {
		return nil, err
	}
	if cfg.MemoryLimitBytes, err = int64Env("MEMORY_LIMIT_BYTES", cfg.MemoryLimitBytes); err != nil {
		return nil, err
	}
	if cfg.CPUShare, err = floatEnv("CPU_SHARE", cfg.CPUShare); err != nil {
		return nil, err
	}
	if cfg.AggregateMemoryBytes, err = int64Env("AGGREGATE_MEMORY_BYTES", cfg.AggregateMemoryBytes); err != nil {
		return nil, err
	}
	if cfg.AggregateCPU, err = floatEnv("AGGREGATE_CPU", cfg.AggregateCPU); err != nil {
		return nil, err
	}
	if cfg.RelayCommandTimeout, err = durationEnv("RELAY_COMMAND_TIMEOUT", cfg.RelayCommandTimeout); err != nil {
		return nil, err
	}
	if cfg.RelayKeepaliveInterval, err = durationEnv("RELAY_KEEPALIVE_INTERVAL", cfg.RelayKeepaliveInterval); err != nil {
		return nil, err
	}
	if cfg.ArchiveRetention, err = durationEnv("ARCHIVE_RETENTION", cfg.ArchiveRetention); err != nil {
		return nil, err
	}
	if cfg.TerminationGrace, err = durationEnv("TERMINATION_GRACE", cfg.TerminationGrace); err != nil {
		return nil, err
	}
	if v := os.Getenv("ALLOWED_IMPORTS"); v != "" {
		cfg.AllowedImports = splitList(v)
	}
	if cfg.SubmitRatePerSec, err = floatEnv("SUBMIT_RATE_PER_SEC", cfg.SubmitRatePerSec); err != nil {
		return nil, err
	}
	if cfg.SubmitBurst, err = intEnv("SUBMIT_BURST", cfg.SubmitBurst); err != nil {
		return nil, err
	}
	cfg.OTELEndpoint = os.Getenv("OTEL_ENDPOINT")

	return cfg, nil
}

func intEnv(name string, def int) (int, error) {
	v := os.Getenv(name)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", name, err)
	}
	return n, nil
}

func int64Env(name string, def int64) (int64, error) {
	v := os.Getenv(name)
	if v == "" {
		return def, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", name, err)
	}
	return n, nil
}

func floatEnv(name string, def float64) (float64, error) {
	v := os.Getenv(name)
	if v == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", name, err)
	}
	return f, nil
}

func durationEnv(name string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(name)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", name, err)
	}
	return d, nil
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
