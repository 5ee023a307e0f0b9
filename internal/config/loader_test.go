package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("writing %s: %v", name, err)
	}
	return path
}

func TestLoadDefaultsOnly(t *testing.T) {
	cfg, err := Load("", "")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.DefaultAgent != "feature" {
		t.Errorf("DefaultAgent = %q", cfg.DefaultAgent)
	}
	if cfg.Agents["feature"].Command != "claude" {
		t.Errorf("feature agent command = %q", cfg.Agents["feature"].Command)
	}
	if cfg.AutoMode.MaxConcurrency != 3 {
		t.Errorf("MaxConcurrency = %d, want 3", cfg.AutoMode.MaxConcurrency)
	}
	if cfg.AutoMode.BaseBranch != "main" {
		t.Errorf("BaseBranch = %q", cfg.AutoMode.BaseBranch)
	}
}

func TestLoadMissingFilesAreNotErrors(t *testing.T) {
	dir := t.TempDir()
	cfg, err := Load(filepath.Join(dir, "nope.json"), filepath.Join(dir, "also-nope.json"))
	if err != nil {
		t.Fatalf("Load with missing files: %v", err)
	}
	if cfg.DefaultAgent != "feature" {
		t.Errorf("DefaultAgent = %q", cfg.DefaultAgent)
	}
}

func TestLoadMalformedJSON(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "bad.json", "{not json")
	if _, err := Load(path, ""); err == nil {
		t.Fatal("expected error for malformed JSON")
	}
}

func TestLoadMergePrecedence(t *testing.T) {
	dir := t.TempDir()
	global := writeConfig(t, dir, "global.json", `{
		"default_agent": "bugfix",
		"agents": {"feature": {"command": "claude", "model": "global-model"}},
		"auto_mode": {"max_concurrency": 5, "base_branch": "develop"}
	}`)
	project := writeConfig(t, dir, "project.json", `{
		"agents": {"feature": {"command": "claude", "model": "project-model"}},
		"auto_mode": {"base_branch": "release"}
	}`)

	cfg, err := Load(global, project)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	// Project wins over global where both set a value.
	if got := cfg.Agents["feature"].Model; got != "project-model" {
		t.Errorf("feature model = %q, want project-model", got)
	}
	if cfg.AutoMode.BaseBranch != "release" {
		t.Errorf("BaseBranch = %q, want release", cfg.AutoMode.BaseBranch)
	}
	// Global wins over defaults where the project is silent.
	if cfg.DefaultAgent != "bugfix" {
		t.Errorf("DefaultAgent = %q, want bugfix", cfg.DefaultAgent)
	}
	if cfg.AutoMode.MaxConcurrency != 5 {
		t.Errorf("MaxConcurrency = %d, want 5", cfg.AutoMode.MaxConcurrency)
	}
	// Defaults survive for untouched agents.
	if cfg.Agents["docs"].Command != "claude" {
		t.Errorf("docs agent command = %q", cfg.Agents["docs"].Command)
	}
}

func TestSaveRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "config.json")

	cfg := DefaultConfig()
	cfg.DefaultAgent = "refactor"
	cfg.AutoMode.MaxConcurrency = 7

	if err := Save(cfg, path); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := Load(path, "")
	if err != nil {
		t.Fatalf("Load after Save: %v", err)
	}
	if loaded.DefaultAgent != "refactor" {
		t.Errorf("DefaultAgent = %q", loaded.DefaultAgent)
	}
	if loaded.AutoMode.MaxConcurrency != 7 {
		t.Errorf("MaxConcurrency = %d", loaded.AutoMode.MaxConcurrency)
	}
}
