// Package worktree manages the isolated git working copies auto mode runs
// features in, so concurrent features don't collide on the same files.
package worktree

import (
	"bufio"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
)

// Tree is one feature's isolated working copy.
type Tree struct {
	Path      string // Absolute path to the worktree directory
	Branch    string // Branch name (e.g., "feature/abc123")
	FeatureID string
	Head      string // HEAD commit hash at creation
}

// MergeResult is the outcome of merging a tree back to the base branch.
type MergeResult struct {
	Merged        bool
	ConflictFiles []string
	Err           error
}

// Config configures the Manager.
type Config struct {
	RepoPath    string // Absolute path to the git repository
	BaseBranch  string // Branch to fork from and merge into (e.g., "main")
	WorktreeDir string // Directory under the repo for worktrees (default ".worktrees")
}

// Manager creates, merges, and removes worktrees. Merges into the main
// repo are serialized to avoid git index lock conflicts.
type Manager struct {
	cfg     Config
	mergeMu sync.Mutex
}

// NewManager creates a Manager.
func NewManager(cfg Config) *Manager {
	if cfg.WorktreeDir == "" {
		cfg.WorktreeDir = ".worktrees"
	}
	if cfg.BaseBranch == "" {
		cfg.BaseBranch = "main"
	}
	return &Manager{cfg: cfg}
}

// runGit executes a git command in dir and returns its combined output.
func runGit(dir string, args ...string) (string, error) {
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	if err != nil {
		return string(out), fmt.Errorf("git %s: %w (output: %s)", strings.Join(args, " "), err, string(out))
	}
	return string(out), nil
}

// Create adds a worktree on a fresh branch for featureID.
func (m *Manager) Create(featureID string) (*Tree, error) {
	branch := "feature/" + featureID
	path := filepath.Join(m.cfg.RepoPath, m.cfg.WorktreeDir, featureID)

	if _, err := runGit(m.cfg.RepoPath, "worktree", "add", "-b", branch, path, m.cfg.BaseBranch); err != nil {
		return nil, fmt.Errorf("failed to create worktree: %w", err)
	}
	head, err := runGit(path, "rev-parse", "HEAD")
	if err != nil {
		return nil, fmt.Errorf("failed to read HEAD: %w", err)
	}

	return &Tree{
		Path:      path,
		Branch:    branch,
		FeatureID: featureID,
		Head:      strings.TrimSpace(head),
	}, nil
}

// Merge merges the tree's branch back into the base branch. Conflicts are
// reported in the result, not as an error: the caller decides whether a
// conflicted feature keeps its branch for manual resolution.
func (m *Manager) Merge(t *Tree) (*MergeResult, error) {
	m.mergeMu.Lock()
	defer m.mergeMu.Unlock()

	if _, err := runGit(m.cfg.RepoPath, "checkout", m.cfg.BaseBranch); err != nil {
		return &MergeResult{Err: err}, nil
	}

	// Dry-run the merge first to detect conflicts without dirtying the tree.
	out, err := runGit(m.cfg.RepoPath, "merge-tree", "--write-tree", m.cfg.BaseBranch, t.Branch)
	if err != nil || strings.Contains(out, "CONFLICT") {
		res := &MergeResult{
			ConflictFiles: parseConflictFiles(out),
			Err:           fmt.Errorf("merge conflict on %s", t.Branch),
		}
		return res, nil
	}

	if out, err := runGit(m.cfg.RepoPath, "merge", "--no-ff", t.Branch); err != nil {
		return &MergeResult{Err: fmt.Errorf("merge failed: %w (output: %s)", err, out)}, nil
	}
	return &MergeResult{Merged: true}, nil
}

// parseConflictFiles extracts conflicting paths from merge-tree output.
func parseConflictFiles(out string) []string {
	var files []string
	scanner := bufio.NewScanner(strings.NewReader(out))
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.Contains(line, "CONFLICT") {
			continue
		}
		if i := strings.LastIndex(line, "in "); i >= 0 {
			files = append(files, strings.TrimSpace(line[i+3:]))
		}
	}
	return files
}

// Cleanup removes the worktree and its branch, escalating to force flags
// when the polite forms fail.
func (m *Manager) Cleanup(t *Tree) error {
	var problems []string

	if _, err := runGit(m.cfg.RepoPath, "worktree", "remove", t.Path); err != nil {
		if _, ferr := runGit(m.cfg.RepoPath, "worktree", "remove", "--force", t.Path); ferr != nil {
			problems = append(problems, fmt.Sprintf("worktree remove: %v", ferr))
		}
	}
	if _, err := runGit(m.cfg.RepoPath, "branch", "-d", t.Branch); err != nil {
		if _, ferr := runGit(m.cfg.RepoPath, "branch", "-D", t.Branch); ferr != nil {
			problems = append(problems, fmt.Sprintf("branch delete: %v", ferr))
		}
	}

	if len(problems) > 0 {
		return fmt.Errorf("cleanup errors: %s", strings.Join(problems, "; "))
	}
	return nil
}

// KeepBranch removes the worktree but leaves the branch for inspection,
// used after merge conflicts.
func (m *Manager) KeepBranch(t *Tree) error {
	if _, err := runGit(m.cfg.RepoPath, "worktree", "remove", "--force", t.Path); err != nil {
		return err
	}
	return nil
}

// Prune clears stale worktree metadata left by crashed runs.
func (m *Manager) Prune() error {
	if _, err := runGit(m.cfg.RepoPath, "worktree", "prune"); err != nil {
		return fmt.Errorf("failed to prune worktrees: %w", err)
	}
	return nil
}
