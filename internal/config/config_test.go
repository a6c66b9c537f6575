package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestSaveAndLoad(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.toml")

	cfg := Default()
	cfg.DefaultSession = "work"
	cfg.Server.Addr = ":8080"
	if err := Save(path, cfg); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if loaded.DefaultSession != "work" {
		t.Errorf("DefaultSession = %q, want %q", loaded.DefaultSession, "work")
	}
	if loaded.Server.Addr != ":8080" {
		t.Errorf("Server.Addr = %q, want %q", loaded.Server.Addr, ":8080")
	}
}

func TestLoadMissingReturnsDefaults(t *testing.T) {
	cfg, err := Load("/nonexistent/config.toml")
	if err != nil {
		t.Fatalf("Load() error = %v, want defaults for missing file", err)
	}
	if cfg.Server.Addr != ":5000" {
		t.Errorf("Server.Addr = %q, want :5000", cfg.Server.Addr)
	}
	if cfg.Reconnect.MaxAttempts != 10 {
		t.Errorf("Reconnect.MaxAttempts = %d, want 10", cfg.Reconnect.MaxAttempts)
	}
}

func TestLoadAppliesDefaultsToPartialFile(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.toml")
	content := "[server]\naddr = \":9000\"\n"
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Addr != ":9000" {
		t.Errorf("Server.Addr = %q, want :9000", cfg.Server.Addr)
	}
	if cfg.Reconnect.BaseDelaySeconds != 5 {
		t.Errorf("BaseDelaySeconds = %d, want default 5", cfg.Reconnect.BaseDelaySeconds)
	}
	if cfg.AutoReply.Endpoint == "" {
		t.Error("AutoReply.Endpoint should default to the OpenRouter endpoint")
	}
}

func TestReconnectDurations(t *testing.T) {
	r := Reconnect{BaseDelaySeconds: 5, MaxDelaySeconds: 30}
	if r.BaseDelay() != 5*time.Second {
		t.Errorf("BaseDelay() = %v, want 5s", r.BaseDelay())
	}
	if r.MaxDelay() != 30*time.Second {
		t.Errorf("MaxDelay() = %v, want 30s", r.MaxDelay())
	}
}

func TestSavePermissions(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.toml")

	if err := Save(path, Default()); err != nil {
		t.Fatal(err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	perm := info.Mode().Perm()
	if perm != 0600 {
		t.Errorf("file permission = %o, want 0600", perm)
	}
}
