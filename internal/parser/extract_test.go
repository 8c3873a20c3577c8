package parser

import (
	"testing"
	"time"

	"github.com/shrijayan/TWCline-open-source/internal/facts"
	"github.com/shrijayan/TWCline-open-source/internal/history"
)

var testNow = time.UnixMilli(1_700_000_000_000)

func say(subtype string, ts int64, text string) history.Event {
	return history.Event{Type: history.TypeSay, Say: subtype, TS: ts, Text: text}
}

func ask(subtype string, ts int64, text string) history.Event {
	return history.Event{Type: history.TypeAsk, Ask: subtype, TS: ts, Text: text}
}

func TestExtract_TokenFacts(t *testing.T) {
	entry := history.Entry{ID: "t1", TS: 1000}
	events := []history.Event{
		say(history.SayAPIReqStarted, 1500, `{"tokensIn":100,"tokensOut":50,"cacheWrites":10,"cacheReads":20,"cost":0.25,"model":"claude-sonnet"}`),
		say(history.SayText, 2000, "working on it"),
		say(history.SayAPIReqStarted, 90_000, `{"tokensIn":30,"tokensOut":5,"cost":0.05,"model":"claude-sonnet"}`),
	}

	ex := Extract(entry, events, testNow)

	if len(ex.Tokens) != 2 {
		t.Fatalf("want 2 token facts, got %d", len(ex.Tokens))
	}
	first := ex.Tokens[0]
	if first.TokensIn != 100 || first.TokensOut != 50 || first.CacheWrites != 10 || first.CacheReads != 20 {
		t.Errorf("token counts wrong: %+v", first)
	}
	if first.Cost != 0.25 || first.Model != "claude-sonnet" || first.TS != 1500 {
		t.Errorf("cost/model/ts wrong: %+v", first)
	}
	if ex.Task.Model != "claude-sonnet" {
		t.Errorf("task model: want claude-sonnet, got %q", ex.Task.Model)
	}
	if ex.Task.StartTime != 1000 || ex.Task.EndTime != 90_000 {
		t.Errorf("task window: want [1000,90000], got [%d,%d]", ex.Task.StartTime, ex.Task.EndTime)
	}
}

func TestExtract_StringTypedNumericsCoerce(t *testing.T) {
	entry := history.Entry{ID: "t1", TS: 1000}
	events := []history.Event{
		say(history.SayAPIReqStarted, 1500, `{"tokensIn":"150","tokensOut":"75","cost":"0.5","model":"m"}`),
	}

	ex := Extract(entry, events, testNow)

	if len(ex.Tokens) != 1 {
		t.Fatalf("want 1 token fact, got %d", len(ex.Tokens))
	}
	if ex.Tokens[0].TokensIn != 150 || ex.Tokens[0].TokensOut != 75 {
		t.Errorf("string numerics not coerced: %+v", ex.Tokens[0])
	}
	if ex.Tokens[0].Cost != 0.5 {
		t.Errorf("string cost not coerced: %v", ex.Tokens[0].Cost)
	}
}

func TestExtract_MalformedPayloadsSkipped(t *testing.T) {
	entry := history.Entry{ID: "t1", TS: 1000}
	events := []history.Event{
		say(history.SayAPIReqStarted, 1500, `{"tokensIn":`),
		say(history.SayAPIReqStarted, 2000, `not json at all`),
		say(history.SayAPIReqStarted, 2500, `[1,2,3]`),
		say(history.SayAPIReqStarted, 3000, `{"tokensIn":7}`),
		say(history.SayTool, 3500, `{"no_tool_name":true}`),
	}

	ex := Extract(entry, events, testNow)

	if len(ex.Tokens) != 1 || ex.Tokens[0].TokensIn != 7 {
		t.Errorf("want only the valid token fact, got %+v", ex.Tokens)
	}
	if len(ex.Tools) != 0 {
		t.Errorf("payload without tool name should be skipped, got %+v", ex.Tools)
	}
	if ex.Task.EndTime != 3500 {
		t.Errorf("malformed events still extend the task window: want 3500, got %d", ex.Task.EndTime)
	}
}

func TestExtract_ToolOutcomes(t *testing.T) {
	entry := history.Entry{ID: "t1", TS: 1000}
	events := []history.Event{
		say(history.SayTool, 1100, `{"tool":"readFile"}`),
		say(history.SayTool, 1200, `{"tool":"writeFile","success":false}`),
		say(history.SayTool, 1300, `{"tool":"execCommand","error":"exit status 1"}`),
		say(history.SayTool, 1400, `{"tool":"listFiles","error":false}`),
		ask(history.AskTool, 1500, `{"tool":"applyDiff","error":true}`),
		say(history.SayTool, 1600, `{"tool":"searchFiles","success":true,"error":""}`),
	}

	ex := Extract(entry, events, testNow)

	if len(ex.Tools) != 6 {
		t.Fatalf("want 6 tool facts, got %d", len(ex.Tools))
	}
	wantSuccess := map[string]bool{
		"readFile":    true,
		"writeFile":   false,
		"execCommand": false,
		"listFiles":   true,
		"applyDiff":   false,
		"searchFiles": true,
	}
	for _, tool := range ex.Tools {
		if tool.Success != wantSuccess[tool.Tool] {
			t.Errorf("tool %s: want success=%v, got %v", tool.Tool, wantSuccess[tool.Tool], tool.Success)
		}
	}
}

func TestExtract_ModeSwitches(t *testing.T) {
	entry := history.Entry{ID: "t1", TS: 1000}
	events := []history.Event{
		say(history.SayText, 1100, "Switching to Plan Mode because we need design first"),
		say(history.SayText, 1200, "ordinary narration"),
		say(history.SayText, 1300, "switching to act mode"),
		// The phrase inside a tool payload is not a mode switch.
		say(history.SayTool, 1400, `{"tool":"echo","text":"switching to plan mode"}`),
	}

	ex := Extract(entry, events, testNow)

	if len(ex.Modes) != 2 {
		t.Fatalf("want 2 mode switches, got %d", len(ex.Modes))
	}
	if ex.Modes[0].Mode != facts.ModePlan || ex.Modes[1].Mode != facts.ModeAct {
		t.Errorf("mode sequence wrong: %+v", ex.Modes)
	}
	if ex.Task.Mode != facts.ModeAct {
		t.Errorf("task mode should follow the last switch, got %s", ex.Task.Mode)
	}
}

func TestExtract_DefaultModeIsAct(t *testing.T) {
	ex := Extract(history.Entry{ID: "t1", TS: 1000}, nil, testNow)
	if ex.Task.Mode != facts.ModeAct {
		t.Errorf("default mode: want act, got %s", ex.Task.Mode)
	}
}

func TestExtract_ExplicitFlagBeatsHeuristic(t *testing.T) {
	done := false
	entry := history.Entry{ID: "t1", TS: 1000, Completed: &done}
	// The transcript alone would classify as completed.
	events := []history.Event{
		say(history.SayAPIReqStarted, 1100, `{"tokensIn":1}`),
		say(history.SayCompletionResult, 1200, "done"),
	}

	ex := Extract(entry, events, testNow)

	if ex.Task.Completed {
		t.Error("explicit completed=false must override the heuristic")
	}

	yes := true
	ts := int64(4242)
	entry = history.Entry{ID: "t1", TS: 1000, Completed: &yes, CompletedTS: &ts}
	ex = Extract(entry, nil, testNow)
	if !ex.Task.Completed || ex.Task.CompletedAt != 4242 {
		t.Errorf("explicit completion not honored: %+v", ex.Task)
	}
}

func TestExtract_HeuristicFillsMissingFlag(t *testing.T) {
	entry := history.Entry{ID: "t1", TS: 1000}
	events := []history.Event{
		say(history.SayAPIReqStarted, 1100, `{"tokensIn":1}`),
		say(history.SayCompletionResult, 1200, "done"),
	}

	ex := Extract(entry, events, testNow)

	if !ex.Task.Completed || ex.Task.CompletedAt != 1200 {
		t.Errorf("heuristic should classify completion at 1200: %+v", ex.Task)
	}
}

func TestExtract_FallbackFactFromEntry(t *testing.T) {
	entry := history.Entry{ID: "t1", TS: 1000, TokensIn: 500, TokensOut: 200, TotalCost: 1.5}

	ex := Extract(entry, nil, testNow)

	if len(ex.Tokens) != 1 {
		t.Fatalf("want 1 fallback token fact, got %d", len(ex.Tokens))
	}
	fact := ex.Tokens[0]
	if fact.TokensIn != 500 || fact.TokensOut != 200 || fact.Cost != 1.5 || fact.TS != 1000 {
		t.Errorf("fallback fact wrong: %+v", fact)
	}
	if fact.Model != "" {
		t.Errorf("fallback fact has no model attribution, got %q", fact.Model)
	}

	// No totals on the entry means no synthetic fact.
	ex = Extract(history.Entry{ID: "t2", TS: 1000}, nil, testNow)
	if len(ex.Tokens) != 0 {
		t.Errorf("empty entry should yield no facts, got %+v", ex.Tokens)
	}
}

func TestDescribe_Fingerprint(t *testing.T) {
	entry := history.Entry{ID: "t1", TS: 5000}
	events := []history.Event{
		say(history.SayText, 4000, "x"),
		say(history.SayAPIReqStarted, 9000, `{"tokensIn":1}`),
	}

	meta := Describe(entry, events)

	if meta.LastModified != 9000 {
		t.Errorf("lastModified: want max(entry, events)=9000, got %d", meta.LastModified)
	}
	if meta.FactCount != 2 {
		t.Errorf("factCount: want 2, got %d", meta.FactCount)
	}
	if !meta.HasTokenData {
		t.Error("hasTokenData: want true with api_req_started present")
	}
	if meta.HasCompletion {
		t.Error("hasCompletion: want false without explicit flag")
	}

	done := true
	meta = Describe(history.Entry{ID: "t2", TS: 100, TotalCost: 0.5, Completed: &done}, nil)
	if !meta.HasTokenData || !meta.HasCompletion {
		t.Errorf("entry-level signals missed: %+v", meta)
	}
	if meta.LastModified != 100 || meta.FactCount != 0 {
		t.Errorf("transcript-free fingerprint wrong: %+v", meta)
	}
}

func TestDescribe_EqualityDetectsChange(t *testing.T) {
	entry := history.Entry{ID: "t1", TS: 5000}
	events := []history.Event{say(history.SayText, 4000, "x")}

	before := Describe(entry, events)
	unchanged := Describe(entry, events)
	if before != unchanged {
		t.Error("identical inputs must produce equal fingerprints")
	}

	grown := append(events, say(history.SayText, 4500, "y"))
	if Describe(entry, grown) == before {
		t.Error("appended event must change the fingerprint even when entry.TS is stale")
	}
}
