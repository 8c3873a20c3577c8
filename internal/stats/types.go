package stats

import "fmt"

// Range selects how much of the per-day history a snapshot reports.
type Range string

const (
	Range7d  Range = "7d"
	Range30d Range = "30d"
	RangeAll Range = "all"
)

// ParseRange validates a user-supplied range string.
func ParseRange(s string) (Range, error) {
	switch Range(s) {
	case Range7d, Range30d, RangeAll:
		return Range(s), nil
	}
	return "", fmt.Errorf("invalid range %q (expected 7d, 30d, or all)", s)
}

// Snapshot is a complete set of usage metrics computed from extracted facts.
type Snapshot struct {
	// GeneratedAt is the computation time in Unix milliseconds.
	GeneratedAt int64 `json:"generatedAt"`

	// Range is the window the per-day series and series-derived totals cover.
	Range Range `json:"range"`

	Tasks  TaskStats   `json:"tasks"`
	Tokens TokenStats  `json:"tokens"`
	Tools  []ToolStat  `json:"tools,omitempty"`
	Models []ModelStat `json:"models,omitempty"`
	Modes  ModeStats   `json:"modes"`
}

// TaskStats summarizes task counts, completion, and duration.
type TaskStats struct {
	Total          int     `json:"total"`
	Completed      int     `json:"completed"`
	CompletionRate float64 `json:"completionRate"`

	// AvgDurationMS averages completed-task durations. Zero when no task
	// has both a start and a completion timestamp.
	AvgDurationMS float64 `json:"avgDurationMs"`

	// PerDay counts tasks by local start date, ascending.
	PerDay []DayCount `json:"perDay,omitempty"`
}

// DayCount is one day's task count. Date is a local "2006-01-02" string.
type DayCount struct {
	Date  string `json:"date"`
	Count int    `json:"count"`
}

// TokenStats summarizes token consumption and API cost.
type TokenStats struct {
	TokensIn    int64   `json:"tokensIn"`
	TokensOut   int64   `json:"tokensOut"`
	CacheWrites int64   `json:"cacheWrites"`
	CacheReads  int64   `json:"cacheReads"`
	Cost        float64 `json:"cost"`

	// PerDay buckets token usage by local date, ascending.
	PerDay []DayTokens `json:"perDay,omitempty"`
}

// DayTokens is one day's token usage. Date is a local "2006-01-02" string.
type DayTokens struct {
	Date        string  `json:"date"`
	TokensIn    int64   `json:"tokensIn"`
	TokensOut   int64   `json:"tokensOut"`
	CacheWrites int64   `json:"cacheWrites"`
	CacheReads  int64   `json:"cacheReads"`
	Cost        float64 `json:"cost"`
}

// ToolStat is one tool's invocation summary.
type ToolStat struct {
	Name        string  `json:"name"`
	Count       int     `json:"count"`
	Successes   int     `json:"successes"`
	SuccessRate float64 `json:"successRate"`
}

// ModelStat is one model's usage summary. Tokens is input plus output.
type ModelStat struct {
	Model  string  `json:"model"`
	Count  int     `json:"count"`
	Tokens int64   `json:"tokens"`
	Cost   float64 `json:"cost"`
}

// ModeStats counts mode usage. Task-level modes and mode-switch events
// both contribute, so totals can exceed the task count.
type ModeStats struct {
	Plan int `json:"plan"`
	Act  int `json:"act"`
}
