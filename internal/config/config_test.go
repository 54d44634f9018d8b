package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaultsWhenAbsent(t *testing.T) {
	cfg, err := Load(t.TempDir())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Model != Default().Model {
		t.Fatalf("expected default model, got %q", cfg.Model)
	}
}

func TestLoadYAMLOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	yaml := "model: gpt-4o\nsandbox_level: full\n"
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Model != "gpt-4o" {
		t.Fatalf("expected gpt-4o, got %q", cfg.Model)
	}
	if cfg.SandboxLevel != "full" {
		t.Fatalf("expected full, got %q", cfg.SandboxLevel)
	}
}

func TestEnvOverridesYAML(t *testing.T) {
	dir := t.TempDir()
	yaml := "model: gpt-4o\n"
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("LOCALGPT_MODEL", "claude-opus-4")
	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Model != "claude-opus-4" {
		t.Fatalf("expected env override, got %q", cfg.Model)
	}
}

func TestAPIKeyVarExpansion(t *testing.T) {
	dir := t.TempDir()
	yaml := "api_key: ${TEST_LOCALGPT_KEY}\n"
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("TEST_LOCALGPT_KEY", "sk-secret")
	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.APIKey != "sk-secret" {
		t.Fatalf("expected expanded api key, got %q", cfg.APIKey)
	}
}

func TestSaveThenLoadRoundTrips(t *testing.T) {
	dir := t.TempDir()
	cfg := Default()
	cfg.Model = "claude-haiku-4"
	if err := Save(dir, cfg); err != nil {
		t.Fatalf("Save: %v", err)
	}
	loaded, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.Model != "claude-haiku-4" {
		t.Fatalf("expected round-tripped model, got %q", loaded.Model)
	}
}
