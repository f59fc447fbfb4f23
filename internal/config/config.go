// Package config handles loading and validating Sanduku configuration.
//
// Configuration is resolved in three layers: built-in defaults, an optional
// YAML/JSON config file, and SANDUKU_* environment variables. Environment
// variables always win.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults.
const (
	DefaultTimeoutSeconds          = 30
	DefaultMaxSessions             = 50
	DefaultSessionTTLMinutes       = 120
	DefaultMaxOutputBytes          = 1 << 20 // 1 MB per stream
	DefaultMaxLogEntries           = 200
	DefaultEvictionIntervalSeconds = 60
	DefaultHost                    = "127.0.0.1"
	DefaultPort                    = 8000
)

// Transport names accepted by Config.Transport.
const (
	TransportStdio = "stdio"
	TransportHTTP  = "http"
)

// Config is the root configuration for Sanduku.
// Immutable after Load — components receive it by value or copy what they need.
type Config struct {
	TimeoutSeconds          int    `json:"timeout_seconds" yaml:"timeout_seconds"`                         // Per-execution wall clock limit.
	MaxSessions             int    `json:"max_sessions" yaml:"max_sessions"`                               // Hard session population ceiling.
	SessionTTLMinutes       int    `json:"session_ttl_minutes" yaml:"session_ttl_minutes"`                 // Idle expiry.
	MaxOutputBytes          int    `json:"max_output_bytes" yaml:"max_output_bytes"`                       // Per-stream capture ceiling.
	MaxLogEntries           int    `json:"max_log_entries" yaml:"max_log_entries"`                         // History cap per session (oldest dropped).
	SandboxEnabled          bool   `json:"sandbox_enabled" yaml:"sandbox_enabled"`                         // Best-effort capability blocking.
	WorkingDirectory        string `json:"working_directory,omitempty" yaml:"working_directory,omitempty"` // Root for file execution and the fs module.
	Transport               string `json:"transport" yaml:"transport"`                                     // "stdio" (default) or "http".
	Host                    string `json:"host" yaml:"host"`
	Port                    int    `json:"port" yaml:"port"`
	EvictionIntervalSeconds int    `json:"eviction_interval_seconds" yaml:"eviction_interval_seconds"` // Periodic TTL sweep cadence.

	Gateway       *GatewayConfig       `json:"gateway,omitempty" yaml:"gateway,omitempty"`             // nil = admin HTTP API disabled.
	Observability *ObservabilityConfig `json:"observability,omitempty" yaml:"observability,omitempty"` // nil = observability disabled.
}

// GatewayConfig configures the admin/REST HTTP gateway.
type GatewayConfig struct {
	Enabled           bool              `json:"enabled" yaml:"enabled"`
	ListenAddr        string            `json:"listen_addr" yaml:"listen_addr"`                 // e.g. ":8080"
	APIKeys           map[string]string `json:"api_keys,omitempty" yaml:"api_keys,omitempty"`   // API key -> caller ID.
	RequestsPerMinute int               `json:"requests_per_minute" yaml:"requests_per_minute"` // 0 = unlimited.
	BurstSize         int               `json:"burst_size" yaml:"burst_size"`
	EnableDocs        bool              `json:"enable_docs" yaml:"enable_docs"`
}

// ObservabilityConfig configures metrics and tracing.
type ObservabilityConfig struct {
	Metrics *MetricsConfig `json:"metrics,omitempty" yaml:"metrics,omitempty"`
	Tracing *TracingConfig `json:"tracing,omitempty" yaml:"tracing,omitempty"`
}

// MetricsConfig configures Prometheus metrics exposition.
type MetricsConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Path    string `json:"path" yaml:"path"` // Default: "/metrics"
}

// TracingConfig configures OpenTelemetry tracing with an OTLP exporter.
type TracingConfig struct {
	Enabled     bool    `json:"enabled" yaml:"enabled"`
	ServiceName string  `json:"service_name" yaml:"service_name"` // Default: "sanduku"
	Endpoint    string  `json:"endpoint" yaml:"endpoint"`         // OTLP collector endpoint.
	Protocol    string  `json:"protocol" yaml:"protocol"`         // "grpc" (default) or "http".
	Insecure    bool    `json:"insecure" yaml:"insecure"`
	SampleRate  float64 `json:"sample_rate" yaml:"sample_rate"` // 0 = 1.0
}

// Default returns a Config populated with built-in defaults.
func Default() *Config {
	wd, err := os.Getwd()
	if err != nil {
		wd = "."
	}
	return &Config{
		TimeoutSeconds:          DefaultTimeoutSeconds,
		MaxSessions:             DefaultMaxSessions,
		SessionTTLMinutes:       DefaultSessionTTLMinutes,
		MaxOutputBytes:          DefaultMaxOutputBytes,
		MaxLogEntries:           DefaultMaxLogEntries,
		SandboxEnabled:          false,
		WorkingDirectory:        wd,
		Transport:               TransportStdio,
		Host:                    DefaultHost,
		Port:                    DefaultPort,
		EvictionIntervalSeconds: DefaultEvictionIntervalSeconds,
	}
}

// DefaultConfigPath returns the default config file location (~/.sanduku/config.yaml).
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "config.yaml"
	}
	return filepath.Join(home, ".sanduku", "config.yaml")
}

// Load builds the configuration: defaults, then the config file at path
// (a missing default-path file is fine — the server runs env-only), then
// SANDUKU_* environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := unmarshalFile(path, data, cfg); err != nil {
				return nil, err
			}
		case os.IsNotExist(err) && path == DefaultConfigPath():
			// No config file is a supported setup.
		default:
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func unmarshalFile(path string, data []byte, cfg *Config) error {
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yml", ".yaml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("parsing YAML config %s: %w", path, err)
		}
	default:
		if err := json.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("parsing JSON config %s: %w", path, err)
		}
	}
	return nil
}

// applyEnv overlays SANDUKU_* environment variables onto cfg.
func applyEnv(cfg *Config) {
	envInt("SANDUKU_TIMEOUT", &cfg.TimeoutSeconds)
	envInt("SANDUKU_MAX_SESSIONS", &cfg.MaxSessions)
	envInt("SANDUKU_SESSION_TTL", &cfg.SessionTTLMinutes)
	envInt("SANDUKU_MAX_OUTPUT", &cfg.MaxOutputBytes)
	envInt("SANDUKU_MAX_LOG_ENTRIES", &cfg.MaxLogEntries)
	envInt("SANDUKU_EVICTION_INTERVAL", &cfg.EvictionIntervalSeconds)
	envInt("SANDUKU_PORT", &cfg.Port)
	envBool("SANDUKU_SANDBOX", &cfg.SandboxEnabled)
	envString("SANDUKU_WORKDIR", &cfg.WorkingDirectory)
	envString("SANDUKU_TRANSPORT", &cfg.Transport)
	envString("SANDUKU_HOST", &cfg.Host)
}

func envString(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func envInt(key string, dst *int) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func envBool(key string, dst *bool) {
	switch strings.ToLower(os.Getenv(key)) {
	case "1", "true", "yes", "on":
		*dst = true
	case "0", "false", "no", "off":
		*dst = false
	}
}

// Validate checks invariants that would otherwise surface as runtime faults.
func (c *Config) Validate() error {
	if c.TimeoutSeconds <= 0 {
		return fmt.Errorf("timeout_seconds must be positive, got %d", c.TimeoutSeconds)
	}
	if c.MaxSessions <= 0 {
		return fmt.Errorf("max_sessions must be positive, got %d", c.MaxSessions)
	}
	if c.SessionTTLMinutes <= 0 {
		return fmt.Errorf("session_ttl_minutes must be positive, got %d", c.SessionTTLMinutes)
	}
	if c.MaxOutputBytes <= 0 {
		return fmt.Errorf("max_output_bytes must be positive, got %d", c.MaxOutputBytes)
	}
	if c.Transport != TransportStdio && c.Transport != TransportHTTP {
		return fmt.Errorf("transport must be %q or %q, got %q", TransportStdio, TransportHTTP, c.Transport)
	}
	if info, err := os.Stat(c.WorkingDirectory); err != nil || !info.IsDir() {
		return fmt.Errorf("working_directory %q is not a directory", c.WorkingDirectory)
	}
	return nil
}

// Timeout returns the per-execution deadline as a duration.
func (c *Config) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// SessionTTL returns the idle expiry as a duration.
func (c *Config) SessionTTL() time.Duration {
	return time.Duration(c.SessionTTLMinutes) * time.Minute
}

// EvictionInterval returns the periodic sweep cadence as a duration.
func (c *Config) EvictionInterval() time.Duration {
	return time.Duration(c.EvictionIntervalSeconds) * time.Second
}

// ListenAddr joins host and port for the MCP HTTP transport.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
