package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cirrusflow.yaml")
	data := []byte("db_root: /var/lib/cirrusflow\nworker_pool_size: 8\nauth_tokens:\n  - tok-a\n  - tok-b\n")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.DBRoot != "/var/lib/cirrusflow" {
		t.Fatalf("DBRoot = %q", cfg.DBRoot)
	}
	if cfg.WorkerPoolSize != 8 {
		t.Fatalf("WorkerPoolSize = %d, want 8", cfg.WorkerPoolSize)
	}
	if cfg.PerHostPoolSize != Default().PerHostPoolSize {
		t.Fatalf("PerHostPoolSize should keep its default when unspecified, got %d", cfg.PerHostPoolSize)
	}
	if len(cfg.AuthTokens) != 2 || cfg.AuthTokens[0] != "tok-a" {
		t.Fatalf("AuthTokens = %v", cfg.AuthTokens)
	}
}

func TestLoadMissingFileErrors(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected an error for a missing config file")
	}
}

func TestEngineConfigProjectsTunables(t *testing.T) {
	cfg := Default()
	cfg.WorkerPoolSize = 99
	ec := cfg.EngineConfig()
	if ec.WorkerPoolSize != 99 {
		t.Fatalf("WorkerPoolSize = %d, want 99", ec.WorkerPoolSize)
	}
	if float64(ec.SubmitRate) != cfg.SubmitRatePerSecond {
		t.Fatalf("SubmitRate = %v, want %v", ec.SubmitRate, cfg.SubmitRatePerSecond)
	}
}
