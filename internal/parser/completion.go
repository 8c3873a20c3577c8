package parser

import (
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/shrijayan/TWCline-open-source/internal/history"
)

// tailWindow is how many trailing events the near-end rules examine.
const tailWindow = 5

// idleCutoff is how long a long transcript must sit untouched before
// it counts as finished.
const idleCutoff = 24 * time.Hour

// DetectCompletion classifies a transcript as completed or not and
// returns the completion timestamp. Rules are strictly ordered; the
// first rule that fires decides, and within a rule the latest matching
// event wins. Subtypes alone decide; empty payloads never block a rule.
func DetectCompletion(events []history.Event, now time.Time) (bool, int64) {
	if len(events) == 0 {
		return false, 0
	}

	// An explicit completion signal from either side of the exchange.
	for i := len(events) - 1; i >= 0; i-- {
		ev := events[i]
		if ev.IsSay(history.SayCompletionResult) ||
			ev.IsAsk(history.AskCompletionResult) ||
			ev.IsAsk(history.AskResumeCompletedTask) {
			return true, ev.TS
		}
	}

	// A completion-style tool invocation.
	for i := len(events) - 1; i >= 0; i-- {
		ev := events[i]
		if !ev.IsSay(history.SayTool) && !ev.IsAsk(history.AskTool) {
			continue
		}
		name := strings.ToLower(gjson.Get(ev.Text, "tool").String())
		if strings.Contains(name, "completion") || name == "finish_task" {
			return true, ev.TS
		}
	}

	// User feedback anywhere after the opening event.
	for i := len(events) - 1; i >= 1; i-- {
		if events[i].IsSay(history.SayUserFeedback) {
			return true, events[i].TS
		}
	}

	// A checkpoint near the end of the transcript.
	for i := len(events) - 1; i >= tailStart(events); i-- {
		if events[i].IsSay(history.SayCheckpointCreated) {
			return true, events[i].TS
		}
	}

	// A substantial transcript that ended on feedback or went idle.
	if len(events) > 10 {
		last := events[len(events)-1]
		feedbackNearEnd := false
		for i := len(events) - 1; i >= tailStart(events); i-- {
			if events[i].IsSay(history.SayUserFeedback) {
				feedbackNearEnd = true
				break
			}
		}
		if feedbackNearEnd || last.TS < now.Add(-idleCutoff).UnixMilli() {
			return true, last.TS
		}
	}

	return false, 0
}

func tailStart(events []history.Event) int {
	start := len(events) - tailWindow
	if start < 0 {
		start = 0
	}
	return start
}
