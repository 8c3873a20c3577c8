package facts

import "sort"

// Store accumulates facts keyed by task ID. It is the unit the
// aggregator persists inside its cache blob, so all fields are
// exported for JSON round-tripping. Store is not safe for concurrent
// use; the aggregator serializes access.
type Store struct {
	Tasks  map[string]*TaskRecord  `json:"tasks"`
	Tokens map[string][]TokenUsage `json:"tokens"`
	Tools  map[string][]ToolUsage  `json:"tools"`
	Modes  map[string][]ModeSwitch `json:"modes"`
}

// NewStore creates an empty Store.
func NewStore() *Store {
	s := &Store{}
	s.init()
	return s
}

// init makes the maps usable after zero-value construction or a JSON
// decode of an older blob that omitted a field.
func (s *Store) init() {
	if s.Tasks == nil {
		s.Tasks = make(map[string]*TaskRecord)
	}
	if s.Tokens == nil {
		s.Tokens = make(map[string][]TokenUsage)
	}
	if s.Tools == nil {
		s.Tools = make(map[string][]ToolUsage)
	}
	if s.Modes == nil {
		s.Modes = make(map[string][]ModeSwitch)
	}
}

// MergeTask replaces every fact held for the extraction's task with the
// extraction's contents. Re-merging an unchanged extraction is a no-op
// in effect, which keeps incremental recomputes deterministic.
func (s *Store) MergeTask(ex Extraction) {
	s.init()
	id := ex.Task.ID
	task := ex.Task
	s.Tasks[id] = &task

	delete(s.Tokens, id)
	delete(s.Tools, id)
	delete(s.Modes, id)
	if len(ex.Tokens) > 0 {
		s.Tokens[id] = append([]TokenUsage(nil), ex.Tokens...)
	}
	if len(ex.Tools) > 0 {
		s.Tools[id] = append([]ToolUsage(nil), ex.Tools...)
	}
	if len(ex.Modes) > 0 {
		s.Modes[id] = append([]ModeSwitch(nil), ex.Modes...)
	}
}

// RemoveTask drops the task record and every fact for the given ID.
func (s *Store) RemoveTask(id string) {
	s.init()
	delete(s.Tasks, id)
	delete(s.Tokens, id)
	delete(s.Tools, id)
	delete(s.Modes, id)
}

// TaskIDs returns all task IDs in sorted order.
func (s *Store) TaskIDs() []string {
	ids := make([]string, 0, len(s.Tasks))
	for id := range s.Tasks {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// TaskCount returns the number of tasks held.
func (s *Store) TaskCount() int {
	return len(s.Tasks)
}

// FactCount returns the number of facts held for one task.
func (s *Store) FactCount(id string) int {
	return len(s.Tokens[id]) + len(s.Tools[id]) + len(s.Modes[id])
}

// Clone returns a deep copy. The aggregator hands clones to the
// calculator so a concurrent merge can never alter a snapshot's input.
func (s *Store) Clone() *Store {
	out := NewStore()
	for id, task := range s.Tasks {
		t := *task
		out.Tasks[id] = &t
	}
	for id, facts := range s.Tokens {
		out.Tokens[id] = append([]TokenUsage(nil), facts...)
	}
	for id, facts := range s.Tools {
		out.Tools[id] = append([]ToolUsage(nil), facts...)
	}
	for id, facts := range s.Modes {
		out.Modes[id] = append([]ModeSwitch(nil), facts...)
	}
	return out
}
