package worktree

import (
	"os/exec"
	"path/filepath"
	"reflect"
	"testing"
)

func TestNewManagerDefaults(t *testing.T) {
	m := NewManager(Config{RepoPath: "/repo"})
	if m.cfg.WorktreeDir != ".worktrees" {
		t.Errorf("WorktreeDir = %q", m.cfg.WorktreeDir)
	}
	if m.cfg.BaseBranch != "main" {
		t.Errorf("BaseBranch = %q", m.cfg.BaseBranch)
	}
}

func TestParseConflictFiles(t *testing.T) {
	out := `a1b2c3
CONFLICT (content): Merge conflict in internal/app/server.go
some unrelated line
CONFLICT (content): Merge conflict in README.md
`
	got := parseConflictFiles(out)
	want := []string{"internal/app/server.go", "README.md"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("parseConflictFiles = %v, want %v", got, want)
	}

	if got := parseConflictFiles("clean merge output"); got != nil {
		t.Errorf("parseConflictFiles on clean output = %v", got)
	}
}

// TestWorktreeLifecycle drives a real repository end to end.
func TestWorktreeLifecycle(t *testing.T) {
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}

	repo := t.TempDir()
	git := func(args ...string) string {
		t.Helper()
		out, err := runGit(repo, args...)
		if err != nil {
			t.Fatalf("git %v: %v", args, err)
		}
		return out
	}
	git("init", "-b", "main")
	git("config", "user.email", "test@example.com")
	git("config", "user.name", "test")
	git("commit", "--allow-empty", "-m", "initial")

	m := NewManager(Config{RepoPath: repo})

	tree, err := m.Create("f1")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if tree.Branch != "feature/f1" {
		t.Errorf("Branch = %q", tree.Branch)
	}
	if tree.Head == "" {
		t.Error("Head not recorded")
	}
	if filepath.Dir(tree.Path) != filepath.Join(repo, ".worktrees") {
		t.Errorf("Path = %q", tree.Path)
	}

	// Commit work in the worktree and merge it back.
	if _, err := runGit(tree.Path, "commit", "--allow-empty", "-m", "feature work"); err != nil {
		t.Fatalf("commit in worktree: %v", err)
	}
	res, err := m.Merge(tree)
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if !res.Merged {
		t.Fatalf("Merge result = %+v", res)
	}

	if err := m.Cleanup(tree); err != nil {
		t.Fatalf("Cleanup: %v", err)
	}
	if err := m.Prune(); err != nil {
		t.Errorf("Prune: %v", err)
	}
}
