package deps

import (
	"errors"
	"reflect"
	"testing"

	"github.com/taskdeck/taskdeck/internal/task"
)

// TestAddDependencyCycles verifies edges that would close a cycle are
// rejected and the graph is left unchanged.
func TestAddDependencyCycles(t *testing.T) {
	tests := []struct {
		name    string
		edges   [][2]string // taskID depends on depID
		bad     [2]string
		wantErr bool
	}{
		{
			name:  "linear chain stays acyclic",
			edges: [][2]string{{"b", "a"}, {"c", "b"}},
			bad:   [2]string{"d", "c"},
		},
		{
			name:    "self dependency",
			bad:     [2]string{"a", "a"},
			wantErr: true,
		},
		{
			name:    "direct cycle",
			edges:   [][2]string{{"b", "a"}},
			bad:     [2]string{"a", "b"},
			wantErr: true,
		},
		{
			name:    "transitive cycle",
			edges:   [][2]string{{"b", "a"}, {"c", "b"}},
			bad:     [2]string{"a", "c"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewResolver()
			for _, e := range tt.edges {
				if err := r.AddDependency(e[0], e[1]); err != nil {
					t.Fatalf("setup edge %v: %v", e, err)
				}
			}

			err := r.AddDependency(tt.bad[0], tt.bad[1])
			if tt.wantErr {
				if !errors.Is(err, ErrDependencyCycle) {
					t.Fatalf("err = %v, want ErrDependencyCycle", err)
				}
				// Rejected edge must not linger.
				for _, dep := range r.DependenciesOf(tt.bad[0]) {
					if dep == tt.bad[1] {
						t.Error("rejected edge still present")
					}
				}
				return
			}
			if err != nil {
				t.Fatalf("AddDependency: %v", err)
			}
		})
	}
}

func TestResolve(t *testing.T) {
	statuses := map[string]task.Status{
		"done":    task.StatusCompleted,
		"running": task.StatusRunning,
		"failed":  task.StatusFailed,
		"stopped": task.StatusStopped,
	}
	status := func(id string) (task.Status, bool) {
		st, ok := statuses[id]
		return st, ok
	}

	r := NewResolver()
	for _, dep := range []string{"done", "running", "failed", "stopped", "ghost"} {
		if err := r.AddDependency("t", dep); err != nil {
			t.Fatalf("AddDependency(t, %s): %v", dep, err)
		}
	}

	res := r.Resolve("t", status)
	if !res.IsBlocked {
		t.Error("IsBlocked = false, want true")
	}
	if want := []string{"failed", "ghost", "running", "stopped"}; !reflect.DeepEqual(res.BlockingTasks, want) {
		t.Errorf("BlockingTasks = %v, want %v", res.BlockingTasks, want)
	}
	if want := []string{"failed", "stopped"}; !reflect.DeepEqual(res.FailedDependencies, want) {
		t.Errorf("FailedDependencies = %v, want %v", res.FailedDependencies, want)
	}
}

func TestResolveUnblocksWhenDepsComplete(t *testing.T) {
	r := NewResolver()
	if err := r.AddDependency("t", "a"); err != nil {
		t.Fatal(err)
	}

	res := r.Resolve("t", func(string) (task.Status, bool) { return task.StatusCompleted, true })
	if res.IsBlocked {
		t.Errorf("blocked with all deps completed: %+v", res)
	}
}

func TestRemoveTaskNotifiesDependents(t *testing.T) {
	r := NewResolver()
	for _, e := range [][2]string{{"b", "a"}, {"c", "a"}, {"a", "root"}} {
		if err := r.AddDependency(e[0], e[1]); err != nil {
			t.Fatal(err)
		}
	}

	notify := r.RemoveTask("a")
	if want := []string{"b", "c"}; !reflect.DeepEqual(notify, want) {
		t.Errorf("notify = %v, want %v", notify, want)
	}
	if got := r.DependenciesOf("b"); got != nil {
		t.Errorf("b still depends on %v", got)
	}
	if got := r.DependentsOf("root"); got != nil {
		t.Errorf("root still has dependents %v", got)
	}
}

func TestLoadRejectsCyclicStore(t *testing.T) {
	r := NewResolver()
	err := r.Load(map[string][]string{
		"a": {"b"},
		"b": {"a"},
	})
	if !errors.Is(err, ErrDependencyCycle) {
		t.Fatalf("err = %v, want ErrDependencyCycle", err)
	}
	// Corrupt input must leave the resolver empty.
	if got := r.DependenciesOf("a"); got != nil {
		t.Errorf("resolver not emptied: %v", got)
	}
}
