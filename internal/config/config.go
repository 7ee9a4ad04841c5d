// Package config loads and watches the daemon configuration under the
// trackd home directory.
package config

import (
	"fmt"
	"hash/fnv"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// CORSConfig controls cross-origin access to the HTTP gateway.
type CORSConfig struct {
	Enabled        bool     `yaml:"enabled"`
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
	MaxAge         int      `yaml:"max_age"`
}

// TelemetryConfig controls the OpenTelemetry provider.
type TelemetryConfig struct {
	Enabled bool `yaml:"enabled"`
	// Exporter is "stdout" or "otlp".
	Exporter    string  `yaml:"exporter"`
	Endpoint    string  `yaml:"endpoint"`
	ServiceName string  `yaml:"service_name"`
	SampleRate  float64 `yaml:"sample_rate"`
}

type Config struct {
	HomeDir string `yaml:"-"`

	BindAddr  string `yaml:"bind_addr"`
	LogLevel  string `yaml:"log_level"`
	AuthToken string `yaml:"auth_token"`

	// DBPath overrides the default tracker.db location under HomeDir.
	DBPath string `yaml:"db_path"`

	// AllowOrigins controls accepted Origin headers for browser WebSocket
	// connections to the audit stream. Empty means same-origin only.
	AllowOrigins []string `yaml:"allow_origins"`

	// AllowReopen permits completed or dropped tasks to be moved back to
	// inbox. Off by default: terminal states stay terminal.
	AllowReopen bool `yaml:"allow_reopen"`

	// AuditTimeoutMillis bounds each audit emission. 0 uses the default (2s).
	AuditTimeoutMillis int `yaml:"audit_timeout_millis"`

	// Retention policy (days). 0 keeps audit records forever.
	RetentionAuditDays int `yaml:"retention_audit_days"`
	// RetentionSweepCron schedules the purge sweep. Standard 5-field cron.
	RetentionSweepCron string `yaml:"retention_sweep_cron"`

	CORS      CORSConfig      `yaml:"cors"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// ConfigPath returns the path to config.yaml within the given home directory.
func ConfigPath(homeDir string) string {
	return filepath.Join(homeDir, "config.yaml")
}

// DatabasePath returns the effective sqlite database path.
func (c Config) DatabasePath() string {
	if c.DBPath != "" {
		return c.DBPath
	}
	return filepath.Join(c.HomeDir, "tracker.db")
}

// AuditTimeout returns the configured audit emission bound.
func (c Config) AuditTimeout() time.Duration {
	if c.AuditTimeoutMillis <= 0 {
		return 0
	}
	return time.Duration(c.AuditTimeoutMillis) * time.Millisecond
}

// Fingerprint returns a stable hash of the active config, exposed in the
// health payload so operators can tell which config a daemon is running.
func (c Config) Fingerprint() string {
	h := fnv.New64a()
	fmt.Fprintf(h, "bind=%s|log=%s|db=%s|reopen=%t|audit_ms=%d|retention=%d|sweep=%s|origins=%v",
		c.BindAddr, c.LogLevel, c.DBPath, c.AllowReopen, c.AuditTimeoutMillis,
		c.RetentionAuditDays, c.RetentionSweepCron, c.AllowOrigins)
	return fmt.Sprintf("cfg-%x", h.Sum64())
}

func defaultConfig() Config {
	return Config{
		BindAddr:           "127.0.0.1:18990",
		LogLevel:           "info",
		RetentionAuditDays: 365,
		RetentionSweepCron: "0 3 * * *",
		Telemetry: TelemetryConfig{
			Exporter:    "stdout",
			ServiceName: "trackd",
			SampleRate:  1.0,
		},
	}
}

func HomeDir() string {
	if override := os.Getenv("TRACKD_HOME"); override != "" {
		return override
	}
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		home = "."
	}
	return filepath.Join(home, ".trackd")
}

func Load() (Config, error) {
	return LoadFrom(HomeDir())
}

// LoadFrom reads config.yaml from the given home directory, creating the
// directory if needed. A missing file yields the defaults.
func LoadFrom(homeDir string) (Config, error) {
	cfg := defaultConfig()
	cfg.HomeDir = homeDir

	if err := os.MkdirAll(cfg.HomeDir, 0o755); err != nil {
		return cfg, fmt.Errorf("create trackd home: %w", err)
	}

	data, err := os.ReadFile(ConfigPath(cfg.HomeDir))
	if err != nil {
		if !os.IsNotExist(err) {
			return cfg, fmt.Errorf("read config.yaml: %w", err)
		}
	} else if len(data) > 0 {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config.yaml: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	normalize(&cfg)
	return cfg, nil
}

func normalize(cfg *Config) {
	if cfg.BindAddr == "" {
		cfg.BindAddr = "127.0.0.1:18990"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.RetentionSweepCron == "" {
		cfg.RetentionSweepCron = "0 3 * * *"
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = "trackd"
	}
	if cfg.Telemetry.Exporter == "" {
		cfg.Telemetry.Exporter = "stdout"
	}
	if cfg.Telemetry.SampleRate <= 0 || cfg.Telemetry.SampleRate > 1 {
		cfg.Telemetry.SampleRate = 1.0
	}
}

func applyEnvOverrides(cfg *Config) {
	if raw := os.Getenv("TRACKD_BIND_ADDR"); raw != "" {
		cfg.BindAddr = raw
	}
	if raw := os.Getenv("TRACKD_LOG_LEVEL"); raw != "" {
		cfg.LogLevel = raw
	}
	if raw := os.Getenv("TRACKD_AUTH_TOKEN"); raw != "" {
		cfg.AuthToken = raw
	}
	if raw := os.Getenv("TRACKD_DB_PATH"); raw != "" {
		cfg.DBPath = raw
	}
	if raw := os.Getenv("TRACKD_ALLOW_REOPEN"); raw != "" {
		if v, err := strconv.ParseBool(raw); err == nil {
			cfg.AllowReopen = v
		}
	}
	if raw := os.Getenv("TRACKD_RETENTION_AUDIT_DAYS"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			cfg.RetentionAuditDays = v
		}
	}
}
