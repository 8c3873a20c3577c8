package stats

import (
	"reflect"
	"testing"
	"time"

	"github.com/shrijayan/TWCline-open-source/internal/facts"
)

// fixedNow pins the clock so per-day buckets land on known dates.
var fixedNow = time.Date(2025, 3, 15, 12, 0, 0, 0, time.Local)

func testCalculator() *Calculator {
	return NewCalculator(WithNow(func() time.Time { return fixedNow }))
}

func ms(t time.Time) int64 {
	return t.UnixMilli()
}

func day(offset int) time.Time {
	return fixedNow.AddDate(0, 0, offset)
}

func TestCalculator_EmptyStore(t *testing.T) {
	snap := testCalculator().Compute(facts.NewStore())

	if snap.Tasks.Total != 0 {
		t.Errorf("want 0 tasks, got %d", snap.Tasks.Total)
	}
	if len(snap.Tasks.PerDay) != seriesDays {
		t.Errorf("want %d seeded days, got %d", seriesDays, len(snap.Tasks.PerDay))
	}
	if got := snap.Tasks.PerDay[seriesDays-1].Date; got != fixedNow.Format(dateFormat) {
		t.Errorf("want last day %s, got %s", fixedNow.Format(dateFormat), got)
	}
	if got := snap.Tasks.PerDay[0].Date; got != day(-29).Format(dateFormat) {
		t.Errorf("want first day %s, got %s", day(-29).Format(dateFormat), got)
	}
	if len(snap.Tools) != 0 || len(snap.Models) != 0 {
		t.Errorf("want empty tool/model tables, got %d/%d", len(snap.Tools), len(snap.Models))
	}
	if snap.Range != RangeAll {
		t.Errorf("want range %q, got %q", RangeAll, snap.Range)
	}
}

func TestCalculator_NilStore(t *testing.T) {
	snap := testCalculator().Compute(nil)
	if snap == nil {
		t.Fatal("want empty snapshot for nil store, got nil")
	}
	if snap.Tasks.Total != 0 {
		t.Errorf("want 0 tasks, got %d", snap.Tasks.Total)
	}
}

func TestCalculator_TaskStats(t *testing.T) {
	store := facts.NewStore()
	store.Tasks["a"] = &facts.TaskRecord{
		ID:          "a",
		StartTime:   ms(day(0).Add(-2 * time.Hour)),
		Completed:   true,
		CompletedAt: ms(day(0).Add(-1 * time.Hour)),
	}
	store.Tasks["b"] = &facts.TaskRecord{
		ID:        "b",
		StartTime: ms(day(-1)),
	}
	// Completion stamp earlier than the start; the duration still counts
	// by magnitude.
	store.Tasks["c"] = &facts.TaskRecord{
		ID:          "c",
		StartTime:   ms(day(-1).Add(30 * time.Minute)),
		Completed:   true,
		CompletedAt: ms(day(-1)),
	}

	snap := testCalculator().Compute(store)

	if snap.Tasks.Total != 3 {
		t.Errorf("want 3 tasks, got %d", snap.Tasks.Total)
	}
	if snap.Tasks.Completed != 2 {
		t.Errorf("want 2 completed, got %d", snap.Tasks.Completed)
	}
	if want := 2.0 / 3.0; snap.Tasks.CompletionRate != want {
		t.Errorf("want completion rate %f, got %f", want, snap.Tasks.CompletionRate)
	}

	hour := float64(time.Hour / time.Millisecond)
	halfHour := float64(30 * time.Minute / time.Millisecond)
	if want := (hour + halfHour) / 2; snap.Tasks.AvgDurationMS != want {
		t.Errorf("want avg duration %f, got %f", want, snap.Tasks.AvgDurationMS)
	}

	counts := make(map[string]int)
	for _, d := range snap.Tasks.PerDay {
		counts[d.Date] = d.Count
	}
	if got := counts[day(0).Format(dateFormat)]; got != 1 {
		t.Errorf("want 1 task today, got %d", got)
	}
	if got := counts[day(-1).Format(dateFormat)]; got != 2 {
		t.Errorf("want 2 tasks yesterday, got %d", got)
	}
}

func TestCalculator_TaskSeriesKeepsOldDays(t *testing.T) {
	store := facts.NewStore()
	old := day(-45)
	store.Tasks["old"] = &facts.TaskRecord{ID: "old", StartTime: ms(old)}

	snap := testCalculator().Compute(store)

	if len(snap.Tasks.PerDay) != seriesDays+1 {
		t.Fatalf("want %d days, got %d", seriesDays+1, len(snap.Tasks.PerDay))
	}
	first := snap.Tasks.PerDay[0]
	if first.Date != old.Format(dateFormat) || first.Count != 1 {
		t.Errorf("want old day %s count 1 first, got %s count %d", old.Format(dateFormat), first.Date, first.Count)
	}
}

func TestCalculator_TokenStats(t *testing.T) {
	store := facts.NewStore()
	store.Tokens["a"] = []facts.TokenUsage{
		{TaskID: "a", TokensIn: 100, TokensOut: 50, CacheWrites: 10, CacheReads: 5, Cost: 0.25, Model: "sonnet", TS: ms(day(0))},
		{TaskID: "a", TokensIn: 200, TokensOut: 80, Cost: 0.5, Model: "sonnet", TS: ms(day(-2))},
	}
	store.Tokens["b"] = []facts.TokenUsage{
		{TaskID: "b", TokensIn: 30, TokensOut: 20, Cost: 0.1, Model: "opus", TS: ms(day(0))},
	}

	snap := testCalculator().Compute(store)

	if snap.Tokens.TokensIn != 330 {
		t.Errorf("want 330 tokens in, got %d", snap.Tokens.TokensIn)
	}
	if snap.Tokens.TokensOut != 150 {
		t.Errorf("want 150 tokens out, got %d", snap.Tokens.TokensOut)
	}
	if snap.Tokens.CacheWrites != 10 || snap.Tokens.CacheReads != 5 {
		t.Errorf("want cache 10/5, got %d/%d", snap.Tokens.CacheWrites, snap.Tokens.CacheReads)
	}
	if want := 0.85; snap.Tokens.Cost != want {
		t.Errorf("want cost %f, got %f", want, snap.Tokens.Cost)
	}

	byDate := make(map[string]DayTokens)
	for _, d := range snap.Tokens.PerDay {
		byDate[d.Date] = d
	}
	today := byDate[day(0).Format(dateFormat)]
	if today.TokensIn != 130 || today.TokensOut != 70 {
		t.Errorf("want today 130/70, got %d/%d", today.TokensIn, today.TokensOut)
	}
	twoAgo := byDate[day(-2).Format(dateFormat)]
	if twoAgo.TokensIn != 200 || twoAgo.Cost != 0.5 {
		t.Errorf("want two days ago 200 in cost 0.5, got %d/%f", twoAgo.TokensIn, twoAgo.Cost)
	}
}

func TestCalculator_ToolOrdering(t *testing.T) {
	store := facts.NewStore()
	store.Tools["a"] = []facts.ToolUsage{
		{TaskID: "a", Tool: "read_file", Success: true, TS: 1},
		{TaskID: "a", Tool: "read_file", Success: true, TS: 2},
		{TaskID: "a", Tool: "write_to_file", Success: false, TS: 3},
	}
	store.Tools["b"] = []facts.ToolUsage{
		{TaskID: "b", Tool: "write_to_file", Success: true, TS: 4},
		{TaskID: "b", Tool: "execute_command", Success: true, TS: 5},
		{TaskID: "b", Tool: "browser_action", Success: true, TS: 6},
	}

	tools := testCalculator().Compute(store).Tools

	want := []string{"read_file", "write_to_file", "browser_action", "execute_command"}
	var got []string
	for _, tool := range tools {
		got = append(got, tool.Name)
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("want order %v, got %v", want, got)
	}

	if tools[1].Successes != 1 {
		t.Errorf("want 1 write_to_file success, got %d", tools[1].Successes)
	}
	if tools[1].SuccessRate != 0.5 {
		t.Errorf("want 0.5 success rate, got %f", tools[1].SuccessRate)
	}
}

func TestCalculator_ModelBreakdown(t *testing.T) {
	store := facts.NewStore()
	store.Tokens["a"] = []facts.TokenUsage{
		{TaskID: "a", TokensIn: 10, TokensOut: 5, Cost: 0.1, Model: "sonnet", TS: 1},
		{TaskID: "a", TokensIn: 20, TokensOut: 10, Cost: 0.2, Model: "sonnet", TS: 2},
		{TaskID: "a", TokensIn: 7, TokensOut: 3, Cost: 0.05, TS: 3},
	}

	models := testCalculator().Compute(store).Models

	if len(models) != 2 {
		t.Fatalf("want 2 models, got %d", len(models))
	}
	if models[0].Model != "sonnet" || models[0].Count != 2 {
		t.Errorf("want sonnet first with count 2, got %s count %d", models[0].Model, models[0].Count)
	}
	if models[0].Tokens != 45 {
		t.Errorf("want 45 sonnet tokens, got %d", models[0].Tokens)
	}
	if models[1].Model != "unknown" || models[1].Tokens != 10 {
		t.Errorf("want unknown with 10 tokens, got %s with %d", models[1].Model, models[1].Tokens)
	}
}

func TestCalculator_ModeDistribution(t *testing.T) {
	store := facts.NewStore()
	// Ended in act after switching through plan. The task-level mode and
	// each switch fact all contribute.
	store.Tasks["a"] = &facts.TaskRecord{ID: "a", StartTime: 1, Mode: facts.ModeAct}
	store.Modes["a"] = []facts.ModeSwitch{
		{TaskID: "a", Mode: facts.ModePlan, TS: 2},
		{TaskID: "a", Mode: facts.ModeAct, TS: 3},
	}
	// Plan only, no switches.
	store.Tasks["b"] = &facts.TaskRecord{ID: "b", StartTime: 4, Mode: facts.ModePlan}
	// No mode information at all.
	store.Tasks["c"] = &facts.TaskRecord{ID: "c", StartTime: 5}

	modes := testCalculator().Compute(store).Modes

	if modes.Plan != 2 {
		t.Errorf("want plan 2, got %d", modes.Plan)
	}
	if modes.Act != 2 {
		t.Errorf("want act 2, got %d", modes.Act)
	}
}

func TestCalculator_Deterministic(t *testing.T) {
	store := facts.NewStore()
	store.Tasks["a"] = &facts.TaskRecord{ID: "a", StartTime: ms(day(-3)), Completed: true, CompletedAt: ms(day(-3).Add(time.Minute))}
	store.Tokens["a"] = []facts.TokenUsage{{TaskID: "a", TokensIn: 1, TokensOut: 2, Model: "m", TS: ms(day(-3))}}
	store.Tools["a"] = []facts.ToolUsage{{TaskID: "a", Tool: "read_file", Success: true, TS: ms(day(-3))}}

	calc := testCalculator()
	first := calc.Compute(store)
	second := calc.Compute(store)

	if !reflect.DeepEqual(first, second) {
		t.Error("want identical snapshots from identical facts")
	}
}
