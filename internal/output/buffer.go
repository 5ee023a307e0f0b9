// Package output buffers per-task executor output for replay.
package output

import (
	"sync"
	"time"
)

// Line is one timestamped output line with its per-task index.
// Indexes start at 0 and increase monotonically within a task's stream.
type Line struct {
	Index     int
	Text      string
	Timestamp time.Time
}

// Buffer is an append-only store of output lines keyed by task id.
// Lines are kept in arrival order; no reordering within a task's stream.
// A buffer resumed after a restart holds only the lines appended since;
// earlier indexes live in persistent storage.
type Buffer struct {
	mu    sync.RWMutex
	lines map[string][]Line
	next  map[string]int
}

// NewBuffer creates an empty Buffer.
func NewBuffer() *Buffer {
	return &Buffer{
		lines: make(map[string][]Line),
		next:  make(map[string]int),
	}
}

// Append adds a line to the task's stream and returns its index.
func (b *Buffer) Append(taskID, text string) Line {
	b.mu.Lock()
	defer b.mu.Unlock()

	line := Line{
		Index:     b.next[taskID],
		Text:      text,
		Timestamp: time.Now(),
	}
	b.lines[taskID] = append(b.lines[taskID], line)
	b.next[taskID]++
	return line
}

// Resume sets the index the next Append will take, so a stream continued
// after a restart does not reuse indexes already persisted. Ignored once
// lines are buffered or when next would move the index backwards.
func (b *Buffer) Resume(taskID string, next int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.lines[taskID]) > 0 || next <= b.next[taskID] {
		return
	}
	b.next[taskID] = next
}

// ReplayFrom returns all buffered lines with Index >= from, for
// reconnecting observers. Yields nil for an unknown task, an index past
// the end, or an index older than the earliest buffered line (the caller
// falls back to persistent storage for full history).
func (b *Buffer) ReplayFrom(taskID string, from int) []Line {
	b.mu.RLock()
	defer b.mu.RUnlock()

	all := b.lines[taskID]
	if from < 0 {
		from = 0
	}
	if len(all) == 0 || from < all[0].Index || from > all[len(all)-1].Index {
		return nil
	}
	return append([]Line(nil), all[from-all[0].Index:]...)
}

// Len returns the number of buffered lines for the task.
func (b *Buffer) Len(taskID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.lines[taskID])
}

// Clear drops all lines for the task. The next Append restarts at index 0.
func (b *Buffer) Clear(taskID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.lines, taskID)
	delete(b.next, taskID)
}
