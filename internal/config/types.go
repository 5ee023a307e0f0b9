package config

// AgentConfig defines how one agent type is invoked.
type AgentConfig struct {
	Command string   `json:"command"`        // CLI binary name (e.g., "claude")
	Args    []string `json:"args,omitempty"` // Extra args appended to every invocation
	Model   string   `json:"model,omitempty"`
}

// PlanningConfig holds the task-creation defaults for planning and review.
type PlanningConfig struct {
	Mode            string `json:"mode"`             // "skip", "lite", "spec", or "full"
	RequireApproval bool   `json:"require_approval"` // Gate execution on plan approval
	RequireReview   bool   `json:"require_review"`   // Gate completion on change review
}

// AutoModeConfig configures the concurrent feature scheduler.
type AutoModeConfig struct {
	MaxConcurrency      int    `json:"max_concurrency"`
	PlanFirst           bool   `json:"plan_first"`
	RequirePlanApproval bool   `json:"require_plan_approval"`
	BaseBranch          string `json:"base_branch"`
	WorktreeDir         string `json:"worktree_dir"`
}

// Config is the top-level configuration.
type Config struct {
	DatabasePath string                 `json:"database_path,omitempty"`
	DefaultAgent string                 `json:"default_agent"`
	Agents       map[string]AgentConfig `json:"agents"`
	Planning     PlanningConfig         `json:"planning"`
	AutoMode     AutoModeConfig         `json:"auto_mode"`
}
