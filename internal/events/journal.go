// Package events keeps an in-memory journal of metric refresh runs.
// The journal is a fixed-capacity ring: when full, the oldest record is
// evicted to make room for new entries.
package events

import "sync"

// Refresh triggers. Each recompute records what initiated it.
const (
	TriggerManual    = "manual"    // explicit force from the CLI
	TriggerDemand    = "demand"    // stale cache hit on a snapshot request
	TriggerScheduled = "scheduled" // periodic timer
	TriggerWatch     = "watch"     // history file change
	TriggerStartup   = "startup"   // reconcile pass at process start
	TriggerStale     = "stale"     // background staleness check
)

// RefreshRecord describes one completed recompute.
type RefreshRecord struct {
	At           int64  `json:"at"` // Unix milliseconds
	Trigger      string `json:"trigger"`
	DurationMS   int64  `json:"durationMs"`
	TasksChanged int    `json:"tasksChanged"`
	TasksRemoved int    `json:"tasksRemoved"`
	Err          string `json:"err,omitempty"`
}

// Journal is a fixed-capacity, thread-safe refresh history.
// All methods are safe for concurrent use.
type Journal struct {
	mu    sync.RWMutex
	items []RefreshRecord
	cap   int
	head  int // index of the oldest record
	count int // number of records currently stored
}

// NewJournal creates a journal with the given capacity.
// Capacity must be at least 1.
func NewJournal(capacity int) *Journal {
	if capacity < 1 {
		capacity = 1
	}
	return &Journal{
		items: make([]RefreshRecord, capacity),
		cap:   capacity,
	}
}

// Record appends a refresh record. If the journal is full, the oldest
// record is overwritten.
func (j *Journal) Record(r RefreshRecord) {
	j.mu.Lock()
	defer j.mu.Unlock()

	writePos := (j.head + j.count) % j.cap
	if j.count == j.cap {
		j.items[j.head] = r
		j.head = (j.head + 1) % j.cap
	} else {
		j.items[writePos] = r
		j.count++
	}
}

// List returns all records in chronological order (oldest first).
func (j *Journal) List() []RefreshRecord {
	j.mu.RLock()
	defer j.mu.RUnlock()

	return j.listLocked()
}

// ListByTrigger returns records with the given trigger in chronological
// order.
func (j *Journal) ListByTrigger(trigger string) []RefreshRecord {
	j.mu.RLock()
	defer j.mu.RUnlock()

	var result []RefreshRecord
	for _, r := range j.listLocked() {
		if r.Trigger == trigger {
			result = append(result, r)
		}
	}
	return result
}

// Last returns the most recent record, if any.
func (j *Journal) Last() (RefreshRecord, bool) {
	j.mu.RLock()
	defer j.mu.RUnlock()

	if j.count == 0 {
		return RefreshRecord{}, false
	}
	return j.items[(j.head+j.count-1)%j.cap], true
}

// Len returns the number of records currently stored.
func (j *Journal) Len() int {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.count
}

// Cap returns the journal capacity.
func (j *Journal) Cap() int {
	return j.cap
}

// listLocked returns all records in chronological order.
// Caller must hold at least a read lock.
func (j *Journal) listLocked() []RefreshRecord {
	if j.count == 0 {
		return nil
	}
	result := make([]RefreshRecord, j.count)
	for i := 0; i < j.count; i++ {
		result[i] = j.items[(j.head+i)%j.cap]
	}
	return result
}
