package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Server.AdminAddress != ":50061" {
		t.Errorf("admin address = %s", cfg.Server.AdminAddress)
	}
	if cfg.Server.MetricsAddress != ":2113" {
		t.Errorf("metrics address = %s", cfg.Server.MetricsAddress)
	}
	if cfg.Detector.Sensitivity != 2.0 {
		t.Errorf("sensitivity = %v", cfg.Detector.Sensitivity)
	}
	if cfg.Remediation.CooldownWindow.Std() != 30*time.Minute {
		t.Errorf("cooldown = %v", cfg.Remediation.CooldownWindow)
	}
	if cfg.Remediation.ActionThreshold != "high" {
		t.Errorf("action threshold = %s", cfg.Remediation.ActionThreshold)
	}
	if cfg.Executor.MaxExecutionsPerMinute != 10 {
		t.Errorf("max per minute = %d", cfg.Executor.MaxExecutionsPerMinute)
	}
	if cfg.Executor.DryRun {
		t.Error("dry run must default off")
	}
	if cfg.Loop.Interval.Std() != 10*time.Minute {
		t.Errorf("loop interval = %v", cfg.Loop.Interval)
	}
	if cfg.Cache.Enabled {
		t.Error("cache must default off")
	}
}

func TestLoadYAMLFile(t *testing.T) {
	content := `
server:
  adminAddress: ":6000"
logging:
  level: debug
  json: true
agent:
  baseURL: "http://agent:8090"
executor:
  dryRun: true
  maxExecutionsPerMinute: 3
remediation:
  cooldownWindow: 5m
  actionThreshold: critical
loop:
  interval: 1m
  services: [db, web]
storage:
  path: /tmp/remedyd-test
`
	path := filepath.Join(t.TempDir(), "remedyd.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.AdminAddress != ":6000" {
		t.Errorf("admin address = %s", cfg.Server.AdminAddress)
	}
	if !cfg.Logging.JSON || cfg.Logging.Level != "debug" {
		t.Errorf("logging = %+v", cfg.Logging)
	}
	if cfg.Agent.BaseURL != "http://agent:8090" {
		t.Errorf("agent base url = %s", cfg.Agent.BaseURL)
	}
	if !cfg.Executor.DryRun || cfg.Executor.MaxExecutionsPerMinute != 3 {
		t.Errorf("executor = %+v", cfg.Executor)
	}
	if cfg.Remediation.CooldownWindow.Std() != 5*time.Minute {
		t.Errorf("cooldown = %v", cfg.Remediation.CooldownWindow)
	}
	if cfg.Remediation.ActionThreshold != "critical" {
		t.Errorf("threshold = %s", cfg.Remediation.ActionThreshold)
	}
	if len(cfg.Loop.Services) != 2 || cfg.Loop.Services[0] != "db" {
		t.Errorf("services = %v", cfg.Loop.Services)
	}
	// Unset keys keep defaults.
	if cfg.Server.MetricsAddress != ":2113" {
		t.Errorf("metrics address = %s", cfg.Server.MetricsAddress)
	}
	if cfg.Agent.HealthPath != "/api/v1/agent/health" {
		t.Errorf("health path = %s", cfg.Agent.HealthPath)
	}
}

func TestLoadMissingFileFails(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("missing explicit config file must fail")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("REMEDYD_LOG_LEVEL", "warn")
	t.Setenv("REMEDYD_LOG_FORMAT", "json")
	t.Setenv("REMEDYD_EXECUTOR_DRY_RUN", "true")
	t.Setenv("REMEDYD_EXECUTOR_MAX_PER_MINUTE", "7")
	t.Setenv("REMEDYD_COOLDOWN_WINDOW", "15m")
	t.Setenv("REMEDYD_ACTION_THRESHOLD", "medium")
	t.Setenv("REMEDYD_LOOP_INTERVAL", "30s")
	t.Setenv("REMEDYD_CACHE_ENABLED", "1")
	t.Setenv("REMEDYD_CACHE_ADDR", "localhost:6379")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Logging.Level != "warn" || !cfg.Logging.JSON {
		t.Errorf("logging = %+v", cfg.Logging)
	}
	if !cfg.Executor.DryRun || cfg.Executor.MaxExecutionsPerMinute != 7 {
		t.Errorf("executor = %+v", cfg.Executor)
	}
	if cfg.Remediation.CooldownWindow.Std() != 15*time.Minute {
		t.Errorf("cooldown = %v", cfg.Remediation.CooldownWindow)
	}
	if cfg.Remediation.ActionThreshold != "medium" {
		t.Errorf("threshold = %s", cfg.Remediation.ActionThreshold)
	}
	if cfg.Loop.Interval.Std() != 30*time.Second {
		t.Errorf("interval = %v", cfg.Loop.Interval)
	}
	if !cfg.Cache.Enabled || cfg.Cache.Addr != "localhost:6379" {
		t.Errorf("cache = %+v", cfg.Cache)
	}
}

func TestEnvOverridesIgnoreMalformedValues(t *testing.T) {
	t.Setenv("REMEDYD_COOLDOWN_WINDOW", "soon")
	t.Setenv("REMEDYD_EXECUTOR_MAX_PER_MINUTE", "many")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Remediation.CooldownWindow.Std() != 30*time.Minute {
		t.Errorf("cooldown = %v, want default kept", cfg.Remediation.CooldownWindow)
	}
	if cfg.Executor.MaxExecutionsPerMinute != 10 {
		t.Errorf("max per minute = %d, want default kept", cfg.Executor.MaxExecutionsPerMinute)
	}
}
