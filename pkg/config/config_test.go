package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultsValidate(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.Sweep.Interval.Std() != 30*time.Second {
		t.Errorf("sweep interval = %v", cfg.Sweep.Interval)
	}
}

func TestLoadEmptyPathReturnsDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Store.Path != "flowplane.db" {
		t.Errorf("store path = %q", cfg.Store.Path)
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
store:
  path: /var/lib/flowplane/engine.db
catalog:
  paths: [/etc/flowplane/workflows]
  watch: true
sweep:
  enabled: true
  interval: 10s
  batch_size: 250
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Store.Path != "/var/lib/flowplane/engine.db" {
		t.Errorf("store path = %q", cfg.Store.Path)
	}
	if !cfg.Catalog.Watch || len(cfg.Catalog.Paths) != 1 {
		t.Errorf("catalog = %+v", cfg.Catalog)
	}
	if cfg.Sweep.Interval.Std() != 10*time.Second || cfg.Sweep.BatchSize != 250 {
		t.Errorf("sweep = %+v", cfg.Sweep)
	}
	// Untouched sections keep their defaults.
	if cfg.Server.HealthAddr != ":8080" {
		t.Errorf("health addr = %q", cfg.Server.HealthAddr)
	}
}

func TestLoadRejectsMissingStorePath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("store:\n  path: \"\"\n"), 0o644); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected validation error for empty store path")
	}
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("store: ["), 0o644); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected parse error")
	}
}
