// Package parser turns raw transcript events into typed facts: token
// usage, tool invocations, mode switches, and task completion. Parsing
// is tolerant; a malformed payload skips that fact and never fails the
// task.
package parser

import (
	"log"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/shrijayan/TWCline-open-source/internal/facts"
	"github.com/shrijayan/TWCline-open-source/internal/history"
)

// Extract parses one task's transcript into its complete fact set.
// Token facts are deduplicated before return. The now parameter feeds
// the completion heuristic's idle rule.
func Extract(entry history.Entry, events []history.Event, now time.Time) facts.Extraction {
	ex := facts.Extraction{
		Task: facts.TaskRecord{
			ID:        entry.ID,
			StartTime: entry.TS,
			EndTime:   entry.TS,
			Mode:      facts.ModeAct,
		},
	}

	for _, ev := range events {
		switch {
		case ev.IsSay(history.SayAPIReqStarted):
			if fact, ok := tokenFact(entry.ID, ev); ok {
				ex.Tokens = append(ex.Tokens, fact)
			}
		case ev.IsSay(history.SayTool) || ev.IsAsk(history.AskTool):
			if fact, ok := toolFact(entry.ID, ev); ok {
				ex.Tools = append(ex.Tools, fact)
			}
		}
		if mode, ok := modeSwitch(ev); ok {
			ex.Modes = append(ex.Modes, facts.ModeSwitch{TaskID: entry.ID, Mode: mode, TS: ev.TS})
		}
	}

	// The last event closes the task window even when timestamps
	// arrive out of order.
	if n := len(events); n > 0 {
		ex.Task.EndTime = events[n-1].TS
	}

	ex.Tokens = Dedup(ex.Tokens)

	for i := len(ex.Tokens) - 1; i >= 0; i-- {
		if ex.Tokens[i].Model != "" {
			ex.Task.Model = ex.Tokens[i].Model
			break
		}
	}
	if n := len(ex.Modes); n > 0 {
		ex.Task.Mode = ex.Modes[n-1].Mode
	}

	// An explicit flag from the host is authoritative; the heuristic
	// only fills gaps.
	if entry.Completed != nil {
		ex.Task.Completed = *entry.Completed
		if entry.CompletedTS != nil {
			ex.Task.CompletedAt = *entry.CompletedTS
		} else if ex.Task.Completed {
			ex.Task.CompletedAt = ex.Task.EndTime
		}
	} else if done, at := DetectCompletion(events, now); done {
		ex.Task.Completed = true
		ex.Task.CompletedAt = at
	}

	// Tasks with no transcript still count: synthesize one token fact
	// from the entry's denormalized totals when it has any.
	if len(events) == 0 && (entry.TokensIn > 0 || entry.TokensOut > 0 || entry.TotalCost > 0) {
		ex.Tokens = append(ex.Tokens, facts.TokenUsage{
			TaskID:    entry.ID,
			TokensIn:  entry.TokensIn,
			TokensOut: entry.TokensOut,
			Cost:      entry.TotalCost,
			TS:        entry.TS,
		})
	}

	return ex
}

// Describe computes the change-detection fingerprint for a task from
// its raw inputs. The aggregator compares this against the fingerprint
// stored at last extraction; equality means the task can be skipped.
func Describe(entry history.Entry, events []history.Event) facts.TaskMeta {
	meta := facts.TaskMeta{
		LastModified:  entry.TS,
		FactCount:     len(events),
		HasTokenData:  entry.TokensIn > 0 || entry.TokensOut > 0 || entry.TotalCost > 0,
		HasCompletion: entry.Completed != nil,
	}
	for _, ev := range events {
		if ev.TS > meta.LastModified {
			meta.LastModified = ev.TS
		}
		if ev.IsSay(history.SayAPIReqStarted) {
			meta.HasTokenData = true
		}
	}
	return meta
}

func tokenFact(taskID string, ev history.Event) (facts.TokenUsage, bool) {
	payload := gjson.Parse(ev.Text)
	if !payload.IsObject() {
		log.Printf("WARNING: task %s: skipping api_req_started event with unparseable payload", taskID)
		return facts.TokenUsage{}, false
	}
	// gjson coerces string-typed numerics ("15" → 15), which older
	// transcripts contain.
	return facts.TokenUsage{
		TaskID:      taskID,
		TokensIn:    payload.Get("tokensIn").Int(),
		TokensOut:   payload.Get("tokensOut").Int(),
		CacheWrites: payload.Get("cacheWrites").Int(),
		CacheReads:  payload.Get("cacheReads").Int(),
		Cost:        payload.Get("cost").Float(),
		Model:       payload.Get("model").String(),
		TS:          ev.TS,
	}, true
}

func toolFact(taskID string, ev history.Event) (facts.ToolUsage, bool) {
	payload := gjson.Parse(ev.Text)
	if !payload.IsObject() {
		return facts.ToolUsage{}, false
	}
	name := payload.Get("tool").String()
	if name == "" {
		return facts.ToolUsage{}, false
	}

	// Success unless the payload explicitly says otherwise.
	success := true
	if v := payload.Get("success"); v.Exists() && !v.Bool() {
		success = false
	}
	if v := payload.Get("error"); v.Exists() {
		switch v.Type {
		case gjson.False, gjson.Null:
			// explicit non-error
		case gjson.String:
			if v.Str != "" {
				success = false
			}
		default:
			success = false
		}
	}

	return facts.ToolUsage{TaskID: taskID, Tool: name, Success: success, TS: ev.TS}, true
}

func modeSwitch(ev history.Event) (facts.Mode, bool) {
	if !ev.IsSay(history.SayText) {
		return "", false
	}
	text := strings.ToLower(ev.Text)
	switch {
	case strings.Contains(text, "switching to plan mode"):
		return facts.ModePlan, true
	case strings.Contains(text, "switching to act mode"):
		return facts.ModeAct, true
	}
	return "", false
}
