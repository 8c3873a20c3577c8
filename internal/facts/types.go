// Package facts defines the typed usage facts extracted from task
// transcripts and the in-memory store that accumulates them per task.
// Everything here is plain data: extraction lives in parser, math in
// stats, persistence in aggregator.
package facts

// Mode is the assistant interaction mode a task ran in.
type Mode string

const (
	ModePlan Mode = "plan"
	ModeAct  Mode = "act"
)

// TaskRecord summarizes one task's lifecycle.
type TaskRecord struct {
	ID          string `json:"id"`
	StartTime   int64  `json:"startTime"`
	EndTime     int64  `json:"endTime"`
	Completed   bool   `json:"completed"`
	CompletedAt int64  `json:"completedAt,omitempty"`
	Model       string `json:"model,omitempty"`
	Mode        Mode   `json:"mode,omitempty"`
}

// TokenUsage is one API request's token and cost accounting.
type TokenUsage struct {
	TaskID      string  `json:"taskId"`
	TokensIn    int64   `json:"tokensIn"`
	TokensOut   int64   `json:"tokensOut"`
	CacheWrites int64   `json:"cacheWrites"`
	CacheReads  int64   `json:"cacheReads"`
	Cost        float64 `json:"cost"`
	Model       string  `json:"model,omitempty"`
	TS          int64   `json:"ts"`
}

// ToolUsage is one tool invocation and its outcome.
type ToolUsage struct {
	TaskID  string `json:"taskId"`
	Tool    string `json:"tool"`
	Success bool   `json:"success"`
	TS      int64  `json:"ts"`
}

// ModeSwitch records a task changing interaction mode.
type ModeSwitch struct {
	TaskID string `json:"taskId"`
	Mode   Mode   `json:"mode"`
	TS     int64  `json:"ts"`
}

// TaskMeta is the per-task fingerprint the incremental aggregator
// compares to decide whether a task needs re-extraction. Two equal
// TaskMeta values mean the task's facts are guaranteed unchanged.
type TaskMeta struct {
	LastModified  int64 `json:"lastModified"`
	FactCount     int   `json:"factCount"`
	HasTokenData  bool  `json:"hasTokenData"`
	HasCompletion bool  `json:"hasCompletion"`
}

// Extraction is the complete set of facts parsed from one task.
type Extraction struct {
	Task   TaskRecord
	Tokens []TokenUsage
	Tools  []ToolUsage
	Modes  []ModeSwitch
}
