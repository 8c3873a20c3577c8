package history

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/shrijayan/TWCline-open-source/internal/storage"
)

// ErrTaskNotFound is returned when an operation names a task ID that is
// not present in the history array.
var ErrTaskNotFound = errors.New("task not found in history")

// Service provides typed access to the history records in a Store.
// Absent keys read as empty; malformed stored JSON is an error, since
// silently dropping history would corrupt every derived metric.
type Service struct {
	store storage.Store
}

func NewService(store storage.Store) *Service {
	return &Service{store: store}
}

// Entries returns the full task history array, oldest first as stored.
func (s *Service) Entries() ([]Entry, error) {
	data, ok, err := s.store.Get(TasksKey)
	if err != nil {
		return nil, fmt.Errorf("reading task history: %w", err)
	}
	if !ok {
		return nil, nil
	}
	var entries []Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("decoding task history: %w", err)
	}
	return entries, nil
}

// SaveEntries replaces the task history array.
func (s *Service) SaveEntries(entries []Entry) error {
	data, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("encoding task history: %w", err)
	}
	if err := s.store.Set(TasksKey, data); err != nil {
		return fmt.Errorf("writing task history: %w", err)
	}
	return nil
}

// Upsert inserts the entry or replaces the entry with the same ID.
func (s *Service) Upsert(entry Entry) error {
	entries, err := s.Entries()
	if err != nil {
		return err
	}
	replaced := false
	for i := range entries {
		if entries[i].ID == entry.ID {
			entries[i] = entry
			replaced = true
			break
		}
	}
	if !replaced {
		entries = append(entries, entry)
	}
	return s.SaveEntries(entries)
}

// MarkCompleted sets the completion flag and timestamp on the entry
// with the given ID. Returns ErrTaskNotFound for unknown IDs.
func (s *Service) MarkCompleted(id string, ts int64) error {
	entries, err := s.Entries()
	if err != nil {
		return err
	}
	for i := range entries {
		if entries[i].ID == id {
			done := true
			entries[i].Completed = &done
			entries[i].CompletedTS = &ts
			return s.SaveEntries(entries)
		}
	}
	return fmt.Errorf("marking %q completed: %w", id, ErrTaskNotFound)
}

// Delete removes the entry and its transcript. Unknown IDs are a no-op
// so that host-driven purges and engine cleanup can race safely.
func (s *Service) Delete(id string) error {
	entries, err := s.Entries()
	if err != nil {
		return err
	}
	kept := entries[:0]
	for _, e := range entries {
		if e.ID != id {
			kept = append(kept, e)
		}
	}
	if len(kept) != len(entries) {
		if err := s.SaveEntries(kept); err != nil {
			return err
		}
	}
	if err := s.store.Delete(TranscriptPrefix + id); err != nil {
		return fmt.Errorf("deleting transcript for %q: %w", id, err)
	}
	return nil
}

// Transcript returns the event log for a task. A task with no stored
// transcript yields an empty slice and no error; metrics then fall back
// to the entry's denormalized totals.
func (s *Service) Transcript(id string) ([]Event, error) {
	data, ok, err := s.store.Get(TranscriptPrefix + id)
	if err != nil {
		return nil, fmt.Errorf("reading transcript for %q: %w", id, err)
	}
	if !ok {
		return nil, nil
	}
	var events []Event
	if err := json.Unmarshal(data, &events); err != nil {
		return nil, fmt.Errorf("decoding transcript for %q: %w", id, err)
	}
	return events, nil
}

// SaveTranscript replaces the event log for a task.
func (s *Service) SaveTranscript(id string, events []Event) error {
	data, err := json.Marshal(events)
	if err != nil {
		return fmt.Errorf("encoding transcript for %q: %w", id, err)
	}
	if err := s.store.Set(TranscriptPrefix+id, data); err != nil {
		return fmt.Errorf("writing transcript for %q: %w", id, err)
	}
	return nil
}
