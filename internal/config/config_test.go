package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	cfg := Default()
	if cfg.Agents.MaxConcurrent != 5 {
		t.Errorf("MaxConcurrent = %d, want 5", cfg.Agents.MaxConcurrent)
	}
	if cfg.Agents.StopGrace != 5*time.Second {
		t.Errorf("StopGrace = %s, want 5s", cfg.Agents.StopGrace)
	}
	if cfg.Agents.EditInterval != 2*time.Second {
		t.Errorf("EditInterval = %s, want 2s", cfg.Agents.EditInterval)
	}
}

func TestLoadFromPath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
anthropic:
  api_key: test-key
agents:
  max_concurrent: 3
  stop_grace: 10s
webhook:
  enabled: true
  addr: ":8080"
  routes:
    me/repo: 555
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFromPath(path)
	if err != nil {
		t.Fatalf("LoadFromPath failed: %v", err)
	}
	if cfg.Anthropic.APIKey != "test-key" {
		t.Errorf("APIKey = %q", cfg.Anthropic.APIKey)
	}
	if cfg.Agents.MaxConcurrent != 3 {
		t.Errorf("MaxConcurrent = %d, want 3", cfg.Agents.MaxConcurrent)
	}
	if cfg.Agents.StopGrace != 10*time.Second {
		t.Errorf("StopGrace = %s, want 10s", cfg.Agents.StopGrace)
	}
	// Unset values keep their defaults.
	if cfg.Agents.EditInterval != 2*time.Second {
		t.Errorf("EditInterval = %s, want default 2s", cfg.Agents.EditInterval)
	}
	if !cfg.Webhook.Enabled || cfg.Webhook.Addr != ":8080" {
		t.Errorf("unexpected webhook config: %+v", cfg.Webhook)
	}
	if cfg.Webhook.Routes["me/repo"] != 555 {
		t.Errorf("routes = %v", cfg.Webhook.Routes)
	}
}

func TestLoadFromPathExpandsEnv(t *testing.T) {
	t.Setenv("TEST_ATTACHE_KEY", "from-env")

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	os.WriteFile(path, []byte("anthropic:\n  api_key: ${TEST_ATTACHE_KEY}\n"), 0644)

	cfg, err := LoadFromPath(path)
	if err != nil {
		t.Fatalf("LoadFromPath failed: %v", err)
	}
	if cfg.Anthropic.APIKey != "from-env" {
		t.Errorf("APIKey = %q, want from-env", cfg.Anthropic.APIKey)
	}
}

func TestLoadFromPathMissing(t *testing.T) {
	if _, err := LoadFromPath("/nonexistent/config.yaml"); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestProjectsRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "projects.yaml")

	projects := Projects{
		"webapp": {Path: "/home/u/webapp", Repo: "me/webapp", ChatID: 42},
		"api":    {Path: "/home/u/api"},
	}
	if err := projects.Save(path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	loaded, err := LoadProjects(path)
	if err != nil {
		t.Fatalf("LoadProjects failed: %v", err)
	}
	if len(loaded) != 2 {
		t.Fatalf("expected 2 projects, got %d", len(loaded))
	}
	if loaded["webapp"].Repo != "me/webapp" || loaded["webapp"].ChatID != 42 {
		t.Errorf("unexpected webapp entry: %+v", loaded["webapp"])
	}

	names := loaded.Names()
	if len(names) != 2 || names[0] != "api" || names[1] != "webapp" {
		t.Errorf("unexpected names: %v", names)
	}
}

func TestLoadProjectsMissingFile(t *testing.T) {
	projects, err := LoadProjects(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("LoadProjects failed: %v", err)
	}
	if len(projects) != 0 {
		t.Errorf("expected empty registry, got %v", projects)
	}
}
