package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/odvcencio/visitbridge/pkg/logging"
	"github.com/odvcencio/visitbridge/pkg/visit"
)

// Default configuration values exported for documentation and validation
const (
	DefaultAddr               = "127.0.0.1:8765"
	DefaultReadTimeout        = 15 * time.Second
	DefaultShutdownTimeout    = 10 * time.Second
	DefaultLogLevel           = "info"
	DefaultBusKind            = BusMemory
	DefaultSubjectPrefix      = "visitbridge"
	DefaultBusRetention       = 64
	DefaultServiceName        = "visitbridge"
	DefaultMetricsPath        = "/metrics"
	DefaultPingInterval       = 20 * time.Second
	DefaultWriteTimeout       = 10 * time.Second
	DefaultMailboxSize        = 256
	DefaultMaxMessageBytes    = 1 << 20
	DefaultFailureStatusCode  = 500
	DefaultInvalidationPolicy = string(visit.PreserveVisitID)
)

// Bus kinds.
const (
	BusNone   = "none"
	BusMemory = "memory"
	BusNATS   = "nats"
)

// Config represents the complete visitbridge configuration
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Session  SessionConfig  `yaml:"session"`
	Logging  LoggingConfig  `yaml:"logging"`
	Bus      BusConfig      `yaml:"bus"`
	Tracing  TracingConfig  `yaml:"tracing"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Renderer RendererConfig `yaml:"renderer"`
}

// ServerConfig configures the HTTP host.
type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	// AllowedOrigins lists websocket origins accepted besides the host's own.
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// SessionConfig holds the defaults for every visit session.
type SessionConfig struct {
	ProgressDelay      time.Duration `yaml:"progress_delay"`
	InterceptWindow    time.Duration `yaml:"intercept_window"`
	InvalidationPolicy string        `yaml:"invalidation_policy"`
	FailureStatusCode  int           `yaml:"failure_status_code"`
	Screenshots        bool          `yaml:"screenshots"`
}

// LoggingConfig configures the process logger and the session journal.
type LoggingConfig struct {
	Level string `yaml:"level"`
	// JournalDir enables the JSONL session journal when set.
	JournalDir string `yaml:"journal_dir"`
}

// BusConfig selects where session events and remote visit requests travel.
type BusConfig struct {
	Kind    string        `yaml:"kind"`
	URL     string        `yaml:"url"`
	Prefix  string        `yaml:"prefix"`
	Timeout time.Duration `yaml:"timeout"`
	Persist bool          `yaml:"persist"`

	// Retention is how many recent events per session the memory bus keeps
	// for replay.
	Retention int `yaml:"retention"`
}

// TracingConfig configures visit spans.
type TracingConfig struct {
	Enabled     bool   `yaml:"enabled"`
	ServiceName string `yaml:"service_name"`
}

// MetricsConfig configures the prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// RendererConfig tunes remote renderer connections.
type RendererConfig struct {
	PingInterval    time.Duration `yaml:"ping_interval"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	MailboxSize     int           `yaml:"mailbox_size"`
	MaxMessageBytes int64         `yaml:"max_message_bytes"`
}

// DefaultConfig returns the built-in configuration.
func DefaultConfig() *Config {
	settings := visit.DefaultSettings()
	return &Config{
		Server: ServerConfig{
			Addr:            DefaultAddr,
			ReadTimeout:     DefaultReadTimeout,
			ShutdownTimeout: DefaultShutdownTimeout,
		},
		Session: SessionConfig{
			ProgressDelay:      settings.ProgressDelay,
			InterceptWindow:    settings.InterceptWindow,
			InvalidationPolicy: DefaultInvalidationPolicy,
			FailureStatusCode:  DefaultFailureStatusCode,
			Screenshots:        settings.Screenshots,
		},
		Logging: LoggingConfig{
			Level: DefaultLogLevel,
		},
		Bus: BusConfig{
			Kind:      DefaultBusKind,
			URL:       "nats://127.0.0.1:4222",
			Prefix:    DefaultSubjectPrefix,
			Timeout:   10 * time.Second,
			Retention: DefaultBusRetention,
		},
		Tracing: TracingConfig{
			ServiceName: DefaultServiceName,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    DefaultMetricsPath,
		},
		Renderer: RendererConfig{
			PingInterval:    DefaultPingInterval,
			WriteTimeout:    DefaultWriteTimeout,
			MailboxSize:     DefaultMailboxSize,
			MaxMessageBytes: DefaultMaxMessageBytes,
		},
	}
}

// Load loads configuration from default locations with proper precedence:
// defaults, ~/.visitbridge/config.yaml, ./visitbridge.yaml, environment.
func Load() (*Config, error) {
	cfg := DefaultConfig()
	configEnv := loadConfigEnvVars()

	home, err := os.UserHomeDir()
	if err != nil {
		home = os.Getenv("HOME")
	}
	if home != "" {
		userConfigPath := filepath.Join(home, ".visitbridge", "config.yaml")
		if err := loadAndMerge(cfg, userConfigPath); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("loading user config: %w", err)
		}
	}

	if err := loadAndMerge(cfg, "visitbridge.yaml"); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("loading project config: %w", err)
	}

	applyEnvOverrides(cfg, configEnv)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

// LoadFromPath loads configuration from a specific file path
func LoadFromPath(path string) (*Config, error) {
	cfg := DefaultConfig()
	configEnv := loadConfigEnvVars()

	if err := loadAndMerge(cfg, path); err != nil {
		return nil, fmt.Errorf("loading config from %s: %w", path, err)
	}

	applyEnvOverrides(cfg, configEnv)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

// envLookup reads key from the process environment, then from the
// ~/.visitbridge/config.env file.
type envLookup map[string]string

func (e envLookup) get(key string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return e[key]
}

func (e envLookup) bool(key string) (bool, bool) {
	switch strings.ToLower(e.get(key)) {
	case "1", "true", "yes", "on":
		return true, true
	case "0", "false", "no", "off":
		return false, true
	default:
		return false, false
	}
}

func (e envLookup) duration(key string, dst *time.Duration) {
	if v := e.get(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}

// applyEnvOverrides applies environment variable overrides
func applyEnvOverrides(cfg *Config, configEnv map[string]string) {
	env := envLookup(configEnv)

	if v := env.get("VISITBRIDGE_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := env.get("VISITBRIDGE_ALLOWED_ORIGINS"); v != "" {
		cfg.Server.AllowedOrigins = splitCommaList(v)
	}

	env.duration("VISITBRIDGE_PROGRESS_DELAY", &cfg.Session.ProgressDelay)
	env.duration("VISITBRIDGE_INTERCEPT_WINDOW", &cfg.Session.InterceptWindow)
	if v := env.get("VISITBRIDGE_INVALIDATION_POLICY"); v != "" {
		cfg.Session.InvalidationPolicy = v
	}
	if v := env.get("VISITBRIDGE_FAILURE_STATUS"); v != "" {
		if code, err := strconv.Atoi(v); err == nil {
			cfg.Session.FailureStatusCode = code
		}
	}
	if val, ok := env.bool("VISITBRIDGE_SCREENSHOTS"); ok {
		cfg.Session.Screenshots = val
	}

	if v := env.get("VISITBRIDGE_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := env.get("VISITBRIDGE_JOURNAL_DIR"); v != "" {
		cfg.Logging.JournalDir = v
	}

	if v := env.get("VISITBRIDGE_BUS"); v != "" {
		cfg.Bus.Kind = v
	}
	if v := env.get("VISITBRIDGE_NATS_URL"); v != "" {
		cfg.Bus.URL = v
	}
	if val, ok := env.bool("VISITBRIDGE_BUS_PERSIST"); ok {
		cfg.Bus.Persist = val
	}

	if val, ok := env.bool("VISITBRIDGE_TRACING"); ok {
		cfg.Tracing.Enabled = val
	}
	if val, ok := env.bool("VISITBRIDGE_METRICS"); ok {
		cfg.Metrics.Enabled = val
	}
}

func splitCommaList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		out = append(out, part)
	}
	return out
}

// Validate checks configuration validity
func (c *Config) Validate() error {
	if _, _, err := net.SplitHostPort(c.Server.Addr); err != nil {
		return fmt.Errorf("invalid server.addr %q: %w", c.Server.Addr, err)
	}
	if c.Server.ReadTimeout < 0 || c.Server.ShutdownTimeout < 0 {
		return fmt.Errorf("server timeouts must not be negative")
	}

	if c.Session.ProgressDelay < 0 {
		return fmt.Errorf("session.progress_delay must not be negative")
	}
	if c.Session.InterceptWindow < 0 {
		return fmt.Errorf("session.intercept_window must not be negative")
	}
	if _, err := visit.ParseInvalidationPolicy(c.Session.InvalidationPolicy); err != nil {
		return fmt.Errorf("invalid session.invalidation_policy: %s (valid: preserve, clear)", c.Session.InvalidationPolicy)
	}
	if c.Session.FailureStatusCode < 100 || c.Session.FailureStatusCode > 599 {
		return fmt.Errorf("session.failure_status_code must be an HTTP status, got %d", c.Session.FailureStatusCode)
	}

	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("invalid logging.level: %s (valid: debug, info, warn, error)", c.Logging.Level)
	}

	switch strings.ToLower(c.Bus.Kind) {
	case BusNone, BusMemory:
	case BusNATS:
		if strings.TrimSpace(c.Bus.URL) == "" {
			return fmt.Errorf("bus.url is required when bus.kind is nats")
		}
	default:
		return fmt.Errorf("invalid bus.kind: %s (valid: none, memory, nats)", c.Bus.Kind)
	}
	if c.Bus.Retention < 0 {
		return fmt.Errorf("bus.retention must not be negative")
	}
	if strings.ContainsAny(c.Bus.Prefix, ".*> ") {
		return fmt.Errorf("bus.prefix must be a single subject token, got %q", c.Bus.Prefix)
	}

	if c.Metrics.Enabled && !strings.HasPrefix(c.Metrics.Path, "/") {
		return fmt.Errorf("metrics.path must start with /, got %q", c.Metrics.Path)
	}

	if c.Renderer.PingInterval <= 0 || c.Renderer.WriteTimeout <= 0 {
		return fmt.Errorf("renderer ping_interval and write_timeout must be positive")
	}
	if c.Renderer.MailboxSize <= 0 {
		return fmt.Errorf("renderer.mailbox_size must be positive")
	}
	if c.Renderer.MaxMessageBytes <= 0 {
		return fmt.Errorf("renderer.max_message_bytes must be positive")
	}
	return nil
}

// ValidationWarnings reports settings that are valid but probably unintended.
func (c *Config) ValidationWarnings() []string {
	var warnings []string
	if !isLoopbackBindAddress(c.Server.Addr) && len(c.Server.AllowedOrigins) == 0 {
		warnings = append(warnings, "server.addr is not loopback and no allowed_origins are set; only same-origin renderers can connect")
	}
	if c.Session.InterceptWindow == 0 {
		warnings = append(warnings, "session.intercept_window is 0; duplicate link intercepts will each propose a visit")
	}
	if c.Tracing.Enabled && c.Tracing.ServiceName == "" {
		warnings = append(warnings, "tracing is enabled without a service_name")
	}
	return warnings
}

// VisitSettings converts the session section into visit.Settings.
func (c *Config) VisitSettings() (visit.Settings, error) {
	policy, err := visit.ParseInvalidationPolicy(c.Session.InvalidationPolicy)
	if err != nil {
		return visit.Settings{}, err
	}
	return visit.Settings{
		ProgressDelay:      c.Session.ProgressDelay,
		InterceptWindow:    c.Session.InterceptWindow,
		InvalidationPolicy: policy,
		FailureStatusCode:  c.Session.FailureStatusCode,
		Screenshots:        c.Session.Screenshots,
	}, nil
}

// JournalDir returns the journal directory with ~ expanded, or "" when the
// journal is disabled.
func (c *Config) JournalDir() string {
	return expandHomeDir(c.Logging.JournalDir)
}

func isLoopbackBindAddress(addr string) bool {
	host, _, err := net.SplitHostPort(strings.TrimSpace(addr))
	if err != nil {
		return false
	}
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

func loadConfigEnvVars() map[string]string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return nil
	}

	data, err := os.ReadFile(filepath.Join(home, ".visitbridge", "config.env"))
	if err != nil {
		return nil
	}

	vars := make(map[string]string)
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimSpace(strings.TrimPrefix(line, "export "))
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		vars[key] = strings.Trim(strings.TrimSpace(value), "\"'")
	}
	return vars
}
