package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// loadAndMerge loads a YAML file and merges it into the config.
func loadAndMerge(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	var override Config
	if err := yaml.Unmarshal(data, &override); err != nil {
		return fmt.Errorf("parsing YAML: %w", err)
	}

	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("parsing YAML: %w", err)
	}

	mergeConfigs(cfg, &override, raw)
	return nil
}

// mergeConfigs merges override into base. Zero values leave base alone;
// booleans are taken whenever the file sets them.
func mergeConfigs(base, override *Config, raw map[string]any) {
	if override == nil {
		return
	}

	if override.Server.Addr != "" {
		base.Server.Addr = override.Server.Addr
	}
	if override.Server.ReadTimeout != 0 {
		base.Server.ReadTimeout = override.Server.ReadTimeout
	}
	if override.Server.ShutdownTimeout != 0 {
		base.Server.ShutdownTimeout = override.Server.ShutdownTimeout
	}
	if len(override.Server.AllowedOrigins) > 0 {
		base.Server.AllowedOrigins = append([]string(nil), override.Server.AllowedOrigins...)
	}

	if fieldSet(raw, "session", "progress_delay") {
		base.Session.ProgressDelay = override.Session.ProgressDelay
	}
	if fieldSet(raw, "session", "intercept_window") {
		base.Session.InterceptWindow = override.Session.InterceptWindow
	}
	if override.Session.InvalidationPolicy != "" {
		base.Session.InvalidationPolicy = override.Session.InvalidationPolicy
	}
	if override.Session.FailureStatusCode != 0 {
		base.Session.FailureStatusCode = override.Session.FailureStatusCode
	}
	if fieldSet(raw, "session", "screenshots") {
		base.Session.Screenshots = override.Session.Screenshots
	}

	if override.Logging.Level != "" {
		base.Logging.Level = override.Logging.Level
	}
	if override.Logging.JournalDir != "" {
		base.Logging.JournalDir = override.Logging.JournalDir
	}

	if override.Bus.Kind != "" {
		base.Bus.Kind = override.Bus.Kind
	}
	if override.Bus.URL != "" {
		base.Bus.URL = override.Bus.URL
	}
	if override.Bus.Prefix != "" {
		base.Bus.Prefix = override.Bus.Prefix
	}
	if override.Bus.Timeout != 0 {
		base.Bus.Timeout = override.Bus.Timeout
	}
	if fieldSet(raw, "bus", "retention") {
		base.Bus.Retention = override.Bus.Retention
	}
	if fieldSet(raw, "bus", "persist") {
		base.Bus.Persist = override.Bus.Persist
	}

	if fieldSet(raw, "tracing", "enabled") {
		base.Tracing.Enabled = override.Tracing.Enabled
	}
	if override.Tracing.ServiceName != "" {
		base.Tracing.ServiceName = override.Tracing.ServiceName
	}

	if fieldSet(raw, "metrics", "enabled") {
		base.Metrics.Enabled = override.Metrics.Enabled
	}
	if override.Metrics.Path != "" {
		base.Metrics.Path = override.Metrics.Path
	}

	if override.Renderer.PingInterval != 0 {
		base.Renderer.PingInterval = override.Renderer.PingInterval
	}
	if override.Renderer.WriteTimeout != 0 {
		base.Renderer.WriteTimeout = override.Renderer.WriteTimeout
	}
	if override.Renderer.MailboxSize != 0 {
		base.Renderer.MailboxSize = override.Renderer.MailboxSize
	}
	if override.Renderer.MaxMessageBytes != 0 {
		base.Renderer.MaxMessageBytes = override.Renderer.MaxMessageBytes
	}
}

// fieldSet reports whether the YAML document sets the nested key, so that
// explicit zero values (false, 0s) can override defaults.
func fieldSet(raw map[string]any, path ...string) bool {
	if len(path) == 0 || raw == nil {
		return false
	}
	current := any(raw)
	for _, key := range path {
		m, ok := current.(map[string]any)
		if !ok {
			return false
		}
		val, ok := m[key]
		if !ok {
			return false
		}
		current = val
	}
	return true
}

func expandHomeDir(path string) string {
	path = strings.TrimSpace(path)
	if path == "" {
		return ""
	}
	if path == "~" {
		if home, err := os.UserHomeDir(); err == nil && strings.TrimSpace(home) != "" {
			return home
		}
		return path
	}
	if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil && strings.TrimSpace(home) != "" {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}
