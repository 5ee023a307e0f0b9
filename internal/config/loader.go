package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/adrg/xdg"
)

// Load reads and merges configuration from global and project paths.
// Precedence, highest first: project config, global config, defaults.
// Missing files are not errors; malformed JSON is.
func Load(globalPath, projectPath string) (*Config, error) {
	cfg := DefaultConfig()

	if globalPath != "" {
		if err := mergeConfigFile(cfg, globalPath); err != nil {
			return nil, fmt.Errorf("loading global config: %w", err)
		}
	}
	if projectPath != "" {
		if err := mergeConfigFile(cfg, projectPath); err != nil {
			return nil, fmt.Errorf("loading project config: %w", err)
		}
	}

	return cfg, nil
}

// LoadDefault loads configuration from conventional paths.
// Global: $XDG_CONFIG_HOME/taskdeck/config.json
// Project: .taskdeck/config.json (relative to cwd)
func LoadDefault() (*Config, error) {
	globalPath := filepath.Join(xdg.ConfigHome, "taskdeck", "config.json")
	projectPath := filepath.Join(".taskdeck", "config.json")
	return Load(globalPath, projectPath)
}

// DefaultDatabasePath resolves the SQLite path: the configured path if set,
// otherwise $XDG_DATA_HOME/taskdeck/taskdeck.db.
func DefaultDatabasePath(cfg *Config) (string, error) {
	if cfg.DatabasePath != "" {
		return cfg.DatabasePath, nil
	}
	return xdg.DataFile(filepath.Join("taskdeck", "taskdeck.db"))
}

// mergeConfigFile reads a JSON config file and merges it into base.
// Missing files are silently skipped.
func mergeConfigFile(base *Config, path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}

	var loaded Config
	if err := json.Unmarshal(data, &loaded); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}

	if loaded.DatabasePath != "" {
		base.DatabasePath = loaded.DatabasePath
	}
	if loaded.DefaultAgent != "" {
		base.DefaultAgent = loaded.DefaultAgent
	}
	for key, agent := range loaded.Agents {
		base.Agents[key] = agent
	}
	if loaded.Planning.Mode != "" {
		base.Planning.Mode = loaded.Planning.Mode
	}
	if loaded.Planning.RequireApproval {
		base.Planning.RequireApproval = true
	}
	if loaded.Planning.RequireReview {
		base.Planning.RequireReview = true
	}
	if loaded.AutoMode.MaxConcurrency > 0 {
		base.AutoMode.MaxConcurrency = loaded.AutoMode.MaxConcurrency
	}
	if loaded.AutoMode.PlanFirst {
		base.AutoMode.PlanFirst = true
	}
	if loaded.AutoMode.RequirePlanApproval {
		base.AutoMode.RequirePlanApproval = true
	}
	if loaded.AutoMode.BaseBranch != "" {
		base.AutoMode.BaseBranch = loaded.AutoMode.BaseBranch
	}
	if loaded.AutoMode.WorktreeDir != "" {
		base.AutoMode.WorktreeDir = loaded.AutoMode.WorktreeDir
	}

	return nil
}
