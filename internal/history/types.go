// Package history reads and writes the task records the host extension
// maintains in global storage: the append-mostly task history array and
// one transcript event log per task. The metrics engine derives all of
// its inputs from these two shapes.
package history

// Storage keys. The transcript key is the prefix plus the task ID.
const (
	TasksKey         = "history.tasks"
	TranscriptPrefix = "history.transcript."
)

// Entry is one element of the task history array. Token and cost fields
// are denormalized fallback totals; when a transcript exists its parsed
// facts take precedence.
type Entry struct {
	ID          string  `json:"id"`
	TS          int64   `json:"ts"`
	TokensIn    int64   `json:"tokensIn"`
	TokensOut   int64   `json:"tokensOut"`
	TotalCost   float64 `json:"totalCost"`
	Completed   *bool   `json:"completed,omitempty"`
	CompletedTS *int64  `json:"completedTs,omitempty"`
}

// Event is one transcript event: a type/subtype tag, a millisecond
// timestamp, and an optional payload that is JSON for structured events
// and plain text otherwise.
type Event struct {
	Type string `json:"type"`
	Say  string `json:"say,omitempty"`
	Ask  string `json:"ask,omitempty"`
	TS   int64  `json:"ts"`
	Text string `json:"text,omitempty"`
}

const (
	TypeSay = "say"
	TypeAsk = "ask"
)

// Say subtypes observed in transcripts.
const (
	SayAPIReqStarted     = "api_req_started"
	SayText              = "text"
	SayTool              = "tool"
	SayCompletionResult  = "completion_result"
	SayUserFeedback      = "user_feedback"
	SayCheckpointCreated = "checkpoint_created"
	SayError             = "error"
)

// Ask subtypes observed in transcripts.
const (
	AskFollowup            = "followup"
	AskCommand             = "command"
	AskTool                = "tool"
	AskCompletionResult    = "completion_result"
	AskResumeCompletedTask = "resume_completed_task"
	AskResumeTask          = "resume_task"
)

// Subtype returns the say or ask subtype, whichever applies.
func (e Event) Subtype() string {
	if e.Type == TypeAsk {
		return e.Ask
	}
	return e.Say
}

// IsSay reports whether the event is a say event with the given subtype.
func (e Event) IsSay(subtype string) bool {
	return e.Type == TypeSay && e.Say == subtype
}

// IsAsk reports whether the event is an ask event with the given subtype.
func (e Event) IsAsk(subtype string) bool {
	return e.Type == TypeAsk && e.Ask == subtype
}
