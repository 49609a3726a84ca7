package config

import (
	"testing"
	"time"
)

func TestMergeConfigsPreservesBooleanDefaults(t *testing.T) {
	base := DefaultConfig()
	override := &Config{
		Logging: LoggingConfig{Level: "warn"},
	}
	raw := map[string]any{
		"logging": map[string]any{"level": "warn"},
	}

	mergeConfigs(base, override, raw)

	if !base.Session.Screenshots {
		t.Fatalf("screenshots should remain true when not overridden")
	}
	if !base.Metrics.Enabled {
		t.Fatalf("metrics should remain enabled when not overridden")
	}
	if base.Logging.Level != "warn" {
		t.Fatalf("expected logging level to be overridden")
	}
}

func TestMergeConfigsRespectsZeroOverrides(t *testing.T) {
	base := DefaultConfig()
	override := &Config{}
	raw := map[string]any{
		"session": map[string]any{
			"screenshots":      false,
			"intercept_window": "0s",
		},
		"metrics": map[string]any{"enabled": false},
		"bus":     map[string]any{"retention": 0},
	}

	mergeConfigs(base, override, raw)

	if base.Bus.Retention != 0 {
		t.Fatalf("bus retention should be zeroed, got %d", base.Bus.Retention)
	}

	if base.Session.Screenshots {
		t.Fatalf("screenshots should be disabled by explicit override")
	}
	if base.Session.InterceptWindow != 0 {
		t.Fatalf("intercept window should be zeroed, got %v", base.Session.InterceptWindow)
	}
	if base.Metrics.Enabled {
		t.Fatalf("metrics should be disabled by explicit override")
	}
	if base.Session.ProgressDelay != 500*time.Millisecond {
		t.Fatalf("progress delay should keep its default")
	}
}

func TestFieldSet(t *testing.T) {
	raw := map[string]any{"a": map[string]any{"b": false}}
	if !fieldSet(raw, "a", "b") {
		t.Fatalf("expected a.b to be set")
	}
	if fieldSet(raw, "a", "c") || fieldSet(raw, "x") || fieldSet(nil, "a") || fieldSet(raw) {
		t.Fatalf("unexpected set field")
	}
}

func TestEnvLookupFallsBackToFile(t *testing.T) {
	t.Setenv("VISITBRIDGE_BUS", "")
	cfg := DefaultConfig()
	applyEnvOverrides(cfg, map[string]string{
		"VISITBRIDGE_BUS":              "none",
		"VISITBRIDGE_INTERCEPT_WINDOW": "bogus",
	})
	if cfg.Bus.Kind != "none" {
		t.Fatalf("config.env value should apply, got %q", cfg.Bus.Kind)
	}
	if cfg.Session.InterceptWindow != 500*time.Millisecond {
		t.Fatalf("unparseable durations are ignored")
	}
}
