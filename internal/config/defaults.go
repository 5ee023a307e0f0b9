package config

// DefaultConfig returns the built-in configuration. Every agent type maps
// to the claude CLI until a user config overrides it.
func DefaultConfig() *Config {
	return &Config{
		DefaultAgent: "feature",
		Agents: map[string]AgentConfig{
			"feature":  {Command: "claude"},
			"bugfix":   {Command: "claude"},
			"refactor": {Command: "claude"},
			"test":     {Command: "claude"},
			"docs":     {Command: "claude"},
		},
		Planning: PlanningConfig{
			Mode:            "lite",
			RequireApproval: false,
			RequireReview:   false,
		},
		AutoMode: AutoModeConfig{
			MaxConcurrency: 3,
			BaseBranch:     "main",
			WorktreeDir:    ".worktrees",
		},
	}
}
