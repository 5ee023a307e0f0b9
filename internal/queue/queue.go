// Package queue implements the single-lane pending-work list.
//
// The queue holds bare task ids, not payloads -- the store is the source of
// truth for task content, so the queue can be rebuilt from store queries
// after a restart. All operations are total over the in-memory state:
// "not found" conditions return sentinel/boolean results rather than errors,
// because the scheduler treats missing entries as routine race outcomes.
package queue

import (
	"sync"
)

// TaskQueue is an in-memory FIFO of task ids plus the id of the task
// currently occupying the execution lane. At most one task processes in
// the lane at a time; admission goes through TryAcquire so two concurrent
// admission attempts cannot both succeed.
type TaskQueue struct {
	mu      sync.Mutex
	order   []string
	present map[string]struct{}
	current string
}

// New creates an empty TaskQueue.
func New() *TaskQueue {
	return &TaskQueue{
		present: make(map[string]struct{}),
	}
}

// Enqueue appends id if absent. Re-adding an already-queued id is a no-op.
func (q *TaskQueue) Enqueue(id string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, ok := q.present[id]; ok {
		return
	}
	q.present[id] = struct{}{}
	q.order = append(q.order, id)
}

// Dequeue removes and returns the head in FIFO order.
// The second return is false when the queue is empty.
func (q *TaskQueue) Dequeue() (string, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.order) == 0 {
		return "", false
	}
	id := q.order[0]
	q.order = q.order[1:]
	delete(q.present, id)
	return id, true
}

// Peek returns the value Dequeue would return, without removing it.
func (q *TaskQueue) Peek() (string, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.order) == 0 {
		return "", false
	}
	return q.order[0], true
}

// Remove removes id if present and reports whether it was present.
func (q *TaskQueue) Remove(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, ok := q.present[id]; !ok {
		return false
	}
	delete(q.present, id)
	for i, v := range q.order {
		if v == id {
			q.order = append(q.order[:i], q.order[i+1:]...)
			break
		}
	}
	return true
}

// Reorder replaces the queue contents with the intersection of the current
// contents and newOrder, in newOrder's sequence. Ids present in only one of
// the two lists are dropped, not an error.
func (q *TaskQueue) Reorder(newOrder []string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	kept := make([]string, 0, len(q.order))
	seen := make(map[string]struct{}, len(q.order))
	for _, id := range newOrder {
		if _, ok := q.present[id]; !ok {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		kept = append(kept, id)
	}

	q.order = kept
	q.present = make(map[string]struct{}, len(kept))
	for _, id := range kept {
		q.present[id] = struct{}{}
	}
}

// Clear empties the queue. The current-task pointer is untouched.
func (q *TaskQueue) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.order = nil
	q.present = make(map[string]struct{})
}

// Contains reports whether id is queued.
func (q *TaskQueue) Contains(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	_, ok := q.present[id]
	return ok
}

// Size returns the number of queued ids.
func (q *TaskQueue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.order)
}

// Snapshot returns the queued ids in order.
func (q *TaskQueue) Snapshot() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]string(nil), q.order...)
}

// TryAcquire atomically claims the execution lane for id.
// Returns false if the lane is already occupied (by any id, including this one).
func (q *TaskQueue) TryAcquire(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.current != "" {
		return false
	}
	q.current = id
	return true
}

// SetCurrentTask records which task occupies the lane. Empty string clears it.
// Prefer TryAcquire for admission; SetCurrentTask exists for restore paths.
func (q *TaskQueue) SetCurrentTask(id string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.current = id
}

// Release clears the lane only if id currently holds it, and reports whether
// it did. Duplicate completion events therefore release the lane exactly once.
func (q *TaskQueue) Release(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.current != id || id == "" {
		return false
	}
	q.current = ""
	return true
}

// CurrentTaskID returns the id occupying the lane, or "".
func (q *TaskQueue) CurrentTaskID() string {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.current
}

// IsProcessing reports whether the lane is occupied.
// Kept consistent with CurrentTaskID as a derived pair.
func (q *TaskQueue) IsProcessing() bool {
	return q.CurrentTaskID() != ""
}
