package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	// Point CONFIG_PATH at a file that does not exist so defaults apply
	t.Setenv("CONFIG_PATH", filepath.Join(t.TempDir(), "missing.yaml"))

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}

	if time.Duration(cfg.CacheMaxAge) != time.Hour {
		t.Errorf("CacheMaxAge = %v, want %v", cfg.CacheMaxAge, time.Hour)
	}
	if cfg.MaxConcurrent != 4 {
		t.Errorf("MaxConcurrent = %v, want 4", cfg.MaxConcurrent)
	}
	if !cfg.AWS.Enabled || !cfg.GCP.Enabled {
		t.Error("AWS and GCP should be enabled by default")
	}
	if cfg.DigitalOcean.Enabled {
		t.Error("DigitalOcean should be disabled by default")
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "vmbroker.yaml")
	tempConfig := `cache_dir: "/tmp/vmbroker-cache"
cache_max_age: 30m
gcp:
  enabled: true
  project_id: "my-project"
  zones: ["us-west1-a"]
digitalocean:
  enabled: true
`
	if err := os.WriteFile(configPath, []byte(tempConfig), 0644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("CONFIG_PATH", configPath)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}

	if cfg.CacheDir != "/tmp/vmbroker-cache" {
		t.Errorf("CacheDir = %q", cfg.CacheDir)
	}
	if time.Duration(cfg.CacheMaxAge) != 30*time.Minute {
		t.Errorf("CacheMaxAge = %v, want 30m", cfg.CacheMaxAge)
	}
	if cfg.GCP.ProjectID != "my-project" {
		t.Errorf("GCP.ProjectID = %q", cfg.GCP.ProjectID)
	}
	if !cfg.DigitalOcean.Enabled {
		t.Error("DigitalOcean should be enabled")
	}
}

func TestProjectIDEnvOverride(t *testing.T) {
	t.Setenv("CONFIG_PATH", filepath.Join(t.TempDir(), "missing.yaml"))
	t.Setenv("GCP_PROJECT_ID", "env-project")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}
	if cfg.GCP.ProjectID != "env-project" {
		t.Errorf("GCP.ProjectID = %q, want env-project", cfg.GCP.ProjectID)
	}
}
