package provenance

// StateKey is the storage key holding the persisted tracker state.
const StateKey = "provenance.state"

// BatchState is the lifecycle of one recorded write. Transitions:
// pending -> partial -> cleared | pruned.
type BatchState string

const (
	StatePending BatchState = "pending"
	StatePartial BatchState = "partial"
	StateCleared BatchState = "cleared"
	StatePruned  BatchState = "pruned"
)

// Batch records the lines written to one file in one edit. Hashes holds
// the still-pending line hashes in written order, oldest first, so
// estimated retirement always consumes the front.
type Batch struct {
	ID        string     `json:"id"`
	FilePath  string     `json:"filePath"`
	Hashes    []string   `json:"hashes,omitempty"`
	Total     int        `json:"total"`
	WrittenAt int64      `json:"writtenAt"`
	State     BatchState `json:"state"`

	// Credited lists commits that already contributed an estimated
	// match, so a commit re-scanned inside the lookback overlap can
	// never credit the same batch twice.
	Credited []string `json:"credited,omitempty"`
}

// trackerState is the whole-blob persisted form.
type trackerState struct {
	Batches        map[string][]*Batch `json:"batches"`
	TotalWritten   int64               `json:"totalWritten"`
	TotalCommitted int64               `json:"totalCommitted"`
	LastCheck      int64               `json:"lastCheck"`
}

func newTrackerState() *trackerState {
	return &trackerState{Batches: make(map[string][]*Batch)}
}

// Stats is the provenance summary reported to the CLI and telemetry.
type Stats struct {
	TotalWritten   int64   `json:"totalWritten"`
	TotalCommitted int64   `json:"totalCommitted"`
	CommitRatio    float64 `json:"commitRatio"`
	PendingBatches int     `json:"pendingBatches"`
	PendingLines   int     `json:"pendingLines"`
	LastCheck      int64   `json:"lastCheck"`
}

// CycleResult summarizes one match cycle. Ran is false when another
// cycle held the lock and this invocation skipped.
type CycleResult struct {
	Ran            bool
	CommitsScanned int
	LinesCleared   int
	BatchesPruned  int
}
