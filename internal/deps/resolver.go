// Package deps tracks declared inter-task dependencies and computes
// blocking status. Dependencies are directed edges in an explicit graph,
// never nested object references; "blocked" is always recomputed from the
// live status of the referenced tasks, never stored.
package deps

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/gammazero/toposort"

	"github.com/taskdeck/taskdeck/internal/task"
)

// ErrDependencyCycle is returned when an edge would make the graph cyclic.
var ErrDependencyCycle = errors.New("dependency cycle")

// StatusFunc reports the live status of a task id.
// The second return is false when the id is unknown to the store.
type StatusFunc func(id string) (task.Status, bool)

// Resolution is the computed blocking state for one task.
type Resolution struct {
	IsBlocked bool
	// BlockingTasks are dependencies whose status is anything other
	// than completed, in sorted order.
	BlockingTasks []string
	// FailedDependencies are the subset of dependencies that are failed
	// or stopped. Reported separately: policy above this layer decides
	// whether such a task auto-fails or stays blocked for manual action.
	FailedDependencies []string
}

// Resolver owns the dependency edge set. It performs no storage of task
// content; callers supply live statuses via StatusFunc.
type Resolver struct {
	mu         sync.RWMutex
	dependsOn  map[string]map[string]struct{} // task -> its dependencies
	dependents map[string]map[string]struct{} // task -> tasks that depend on it
}

// NewResolver creates an empty Resolver.
func NewResolver() *Resolver {
	return &Resolver{
		dependsOn:  make(map[string]map[string]struct{}),
		dependents: make(map[string]map[string]struct{}),
	}
}

// AddDependency declares that taskID depends on depID.
// The edge is rejected with ErrDependencyCycle if it would create a cycle
// (including the self-edge taskID == depID), so the declared graph stays
// acyclic by construction. Redeclaring an existing edge is a no-op.
func (r *Resolver) AddDependency(taskID, depID string) error {
	if taskID == depID {
		return fmt.Errorf("%w: task %s cannot depend on itself", ErrDependencyCycle, taskID)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.dependsOn[taskID][depID]; ok {
		return nil
	}

	r.addEdgeLocked(taskID, depID)
	if err := r.validateLocked(); err != nil {
		r.removeEdgeLocked(taskID, depID)
		return fmt.Errorf("%w: adding %s -> %s: %v", ErrDependencyCycle, taskID, depID, err)
	}
	return nil
}

// RemoveDependency removes the edge and reports whether it existed.
func (r *Resolver) RemoveDependency(taskID, depID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.dependsOn[taskID][depID]; !ok {
		return false
	}
	r.removeEdgeLocked(taskID, depID)
	return true
}

// RemoveTask deletes every edge touching id, both as dependant and as
// dependency, and returns the ids of tasks that depended on it -- their
// blocking status may have changed and they should be re-evaluated.
func (r *Resolver) RemoveTask(id string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var notify []string
	for depedant := range r.dependents[id] {
		notify = append(notify, depedant)
		delete(r.dependsOn[depedant], id)
	}
	delete(r.dependents, id)

	for dep := range r.dependsOn[id] {
		delete(r.dependents[dep], id)
	}
	delete(r.dependsOn, id)

	sort.Strings(notify)
	return notify
}

// DependenciesOf returns the declared dependency set of taskID, sorted.
func (r *Resolver) DependenciesOf(taskID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sortedKeys(r.dependsOn[taskID])
}

// DependentsOf returns the tasks that declared a dependency on taskID, sorted.
func (r *Resolver) DependentsOf(taskID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sortedKeys(r.dependents[taskID])
}

// Resolve computes the blocking state of taskID from its declared
// dependencies and their live statuses. A dependency unknown to the store
// counts as blocking: it may not have been persisted yet, and admitting on
// top of a missing record would be unsafe.
func (r *Resolver) Resolve(taskID string, status StatusFunc) Resolution {
	r.mu.RLock()
	depIDs := sortedKeys(r.dependsOn[taskID])
	r.mu.RUnlock()

	var res Resolution
	for _, depID := range depIDs {
		st, ok := status(depID)
		if !ok {
			res.BlockingTasks = append(res.BlockingTasks, depID)
			continue
		}
		if st != task.StatusCompleted {
			res.BlockingTasks = append(res.BlockingTasks, depID)
		}
		if st == task.StatusFailed || st == task.StatusStopped {
			res.FailedDependencies = append(res.FailedDependencies, depID)
		}
	}
	res.IsBlocked = len(res.BlockingTasks) > 0
	return res
}

// Load replaces the edge set from persisted declarations (task -> deps).
// Returns ErrDependencyCycle naming the unsortable tasks if the stored
// graph is cyclic; the resolver is left empty in that case so a corrupt
// store cannot silently hang the scheduler.
func (r *Resolver) Load(declared map[string][]string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.dependsOn = make(map[string]map[string]struct{})
	r.dependents = make(map[string]map[string]struct{})
	for taskID, depIDs := range declared {
		for _, depID := range depIDs {
			r.addEdgeLocked(taskID, depID)
		}
	}

	if err := r.validateLocked(); err != nil {
		r.dependsOn = make(map[string]map[string]struct{})
		r.dependents = make(map[string]map[string]struct{})
		return fmt.Errorf("%w: persisted dependencies: %v", ErrDependencyCycle, err)
	}
	return nil
}

func (r *Resolver) addEdgeLocked(taskID, depID string) {
	if r.dependsOn[taskID] == nil {
		r.dependsOn[taskID] = make(map[string]struct{})
	}
	r.dependsOn[taskID][depID] = struct{}{}
	if r.dependents[depID] == nil {
		r.dependents[depID] = make(map[string]struct{})
	}
	r.dependents[depID][taskID] = struct{}{}
}

func (r *Resolver) removeEdgeLocked(taskID, depID string) {
	delete(r.dependsOn[taskID], depID)
	delete(r.dependents[depID], taskID)
}

// validateLocked runs a topological sort over the edge set.
// An error means the graph contains a cycle.
func (r *Resolver) validateLocked() error {
	var edges []toposort.Edge
	for taskID, depSet := range r.dependsOn {
		for depID := range depSet {
			// Edge (depID, taskID): depID must come before taskID.
			edges = append(edges, toposort.Edge{depID, taskID})
		}
	}
	if len(edges) == 0 {
		return nil
	}
	if _, err := toposort.Toposort(edges); err != nil {
		return err
	}
	return nil
}

func sortedKeys(set map[string]struct{}) []string {
	if len(set) == 0 {
		return nil
	}
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
