package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadReadsSingleFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "featbench.toml")
	content := `[harness]
root_dir = "custom_swap"
workers = 8
log_prefix = "nightly"

[agents.claude-code]
api_key = "sk-test"
model = "claude-opus"
provider = "anthropic"
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Harness.RootDir != "custom_swap" {
		t.Errorf("RootDir = %q, want custom_swap", cfg.Harness.RootDir)
	}
	if cfg.Harness.Workers != 8 {
		t.Errorf("Workers = %d, want 8", cfg.Harness.Workers)
	}
	agent, ok := cfg.Agents["claude-code"]
	if !ok {
		t.Fatal("expected agents.claude-code section")
	}
	if agent.APIKey != "sk-test" || agent.Model != "claude-opus" {
		t.Errorf("agent = %+v", agent)
	}
}

func TestLoadMissingFileErrors(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.toml")); err == nil {
		t.Fatal("expected an error for a missing file")
	}
}

func TestLoadLayeredMergesInOrder(t *testing.T) {
	dir := t.TempDir()
	settings := `[harness]
workers = 2

[dataset]
default_type = "full"
`
	agents := `[agents.gemini-cli]
model = "gemini-2.5-pro"
provider = "google"
`
	secrets := `[agents.gemini-cli]
api_key = "secret-value"
`
	for name, content := range map[string]string{
		"settings.toml": settings,
		"agents.toml":   agents,
		".secrets.toml": secrets,
	} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
			t.Fatalf("WriteFile(%s): %v", name, err)
		}
	}

	cfg, err := LoadLayered(dir)
	if err != nil {
		t.Fatalf("LoadLayered: %v", err)
	}
	if cfg.Harness.Workers != 2 {
		t.Errorf("Workers = %d, want 2", cfg.Harness.Workers)
	}
	if cfg.Dataset.DefaultType != "full" {
		t.Errorf("Dataset.DefaultType = %q, want full", cfg.Dataset.DefaultType)
	}
	agent := cfg.Agents["gemini-cli"]
	if agent.Model != "gemini-2.5-pro" || agent.APIKey != "secret-value" {
		t.Errorf("agent merge = %+v, want model+api_key from both files", agent)
	}
}

func TestLoadLayeredToleratesMissingFiles(t *testing.T) {
	cfg, err := LoadLayered(t.TempDir())
	if err != nil {
		t.Fatalf("LoadLayered: %v", err)
	}
	if cfg.Harness.Workers != DefaultWorkers {
		t.Errorf("Workers = %d, want default %d", cfg.Harness.Workers, DefaultWorkers)
	}
}

func TestApplyEnvOverridesTopLevel(t *testing.T) {
	t.Setenv("FEATBENCH_WORKERS", "16")
	t.Setenv("FEATBENCH_ROOT_DIR", "/tmp/override")

	cfg := Default()
	applyEnvOverrides(cfg)

	if cfg.Harness.Workers != 16 {
		t.Errorf("Workers = %d, want 16", cfg.Harness.Workers)
	}
	if cfg.Harness.RootDir != "/tmp/override" {
		t.Errorf("RootDir = %q, want /tmp/override", cfg.Harness.RootDir)
	}
}

func TestApplyEnvOverridesPerAgent(t *testing.T) {
	t.Setenv("FEATBENCH_AGENTS_CLAUDE_CODE_API_KEY", "sk-from-env")

	cfg := Default()
	cfg.Agents["claude-code"] = AgentConfig{Model: "claude-opus"}
	applyEnvOverrides(cfg)

	agent := cfg.Agents["claude-code"]
	if agent.APIKey != "sk-from-env" {
		t.Errorf("APIKey = %q, want sk-from-env", agent.APIKey)
	}
	if agent.Model != "claude-opus" {
		t.Errorf("Model got clobbered: %q", agent.Model)
	}
}

func TestSaveRoundTrips(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "featbench.toml")

	cfg := Default()
	cfg.Harness.Workers = 12
	if err := Save(cfg, path); err != nil {
		t.Fatalf("Save: %v", err)
	}

	reloaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load after Save: %v", err)
	}
	if reloaded.Harness.Workers != 12 {
		t.Errorf("Workers = %d, want 12", reloaded.Harness.Workers)
	}
}
