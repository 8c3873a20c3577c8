// Package stats computes usage metrics from extracted task facts.
// All calculations are pure: they read a fact store and produce a
// snapshot with no side effects.
package stats

import (
	"sort"
	"time"

	"github.com/shrijayan/TWCline-open-source/internal/facts"
)

// dateFormat is the per-day bucket key, rendered in local time so the
// series matches the user's calendar.
const dateFormat = "2006-01-02"

// seriesDays is the trailing window the per-day series always covers,
// today included. Days with activity outside the window are kept too.
const seriesDays = 30

// Calculator computes metric snapshots from fact stores.
type Calculator struct {
	now func() time.Time
}

// Option configures a Calculator.
type Option func(*Calculator)

// WithNow overrides the clock. Tests use this to pin bucket boundaries.
func WithNow(now func() time.Time) Option {
	return func(c *Calculator) {
		c.now = now
	}
}

// NewCalculator creates a calculator with the real clock.
func NewCalculator(opts ...Option) *Calculator {
	c := &Calculator{now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Compute builds a full snapshot from the given facts. The input is not
// modified. Identical facts always produce an identical snapshot apart
// from GeneratedAt and the seeded empty days around "today".
func (c *Calculator) Compute(store *facts.Store) *Snapshot {
	now := c.now()
	snap := &Snapshot{
		GeneratedAt: now.UnixMilli(),
		Range:       RangeAll,
	}
	if store == nil {
		return snap
	}

	snap.Tasks = c.computeTaskStats(store, now)
	snap.Tokens = c.computeTokenStats(store, now)
	snap.Tools = c.computeToolStats(store)
	snap.Models = c.computeModelStats(store)
	snap.Modes = c.computeModeStats(store)
	return snap
}

// computeTaskStats derives task totals, the completion rate, the average
// completed-task duration, and the per-day task series.
func (c *Calculator) computeTaskStats(store *facts.Store, now time.Time) TaskStats {
	ts := TaskStats{Total: len(store.Tasks)}

	var durSum float64
	var durCount int
	counts := make(map[string]int)

	for _, task := range store.Tasks {
		if task.Completed {
			ts.Completed++
		}
		if task.CompletedAt > 0 && task.StartTime > 0 {
			dur := task.CompletedAt - task.StartTime
			if dur < 0 {
				// Clock skew between host writes can invert the pair.
				dur = -dur
			}
			durSum += float64(dur)
			durCount++
		}
		if task.StartTime > 0 {
			counts[localDate(task.StartTime)]++
		}
	}

	if ts.Total > 0 {
		ts.CompletionRate = float64(ts.Completed) / float64(ts.Total)
	}
	if durCount > 0 {
		ts.AvgDurationMS = durSum / float64(durCount)
	}

	ts.PerDay = make([]DayCount, 0, seriesDays)
	for _, date := range seriesDates(now, counts) {
		ts.PerDay = append(ts.PerDay, DayCount{Date: date, Count: counts[date]})
	}
	return ts
}

// computeTokenStats sums token and cost facts and buckets them by day.
func (c *Calculator) computeTokenStats(store *facts.Store, now time.Time) TokenStats {
	ts := TokenStats{}
	days := make(map[string]*DayTokens)

	for _, usages := range store.Tokens {
		for _, u := range usages {
			ts.TokensIn += u.TokensIn
			ts.TokensOut += u.TokensOut
			ts.CacheWrites += u.CacheWrites
			ts.CacheReads += u.CacheReads
			ts.Cost += u.Cost

			date := localDate(u.TS)
			day := days[date]
			if day == nil {
				day = &DayTokens{Date: date}
				days[date] = day
			}
			day.TokensIn += u.TokensIn
			day.TokensOut += u.TokensOut
			day.CacheWrites += u.CacheWrites
			day.CacheReads += u.CacheReads
			day.Cost += u.Cost
		}
	}

	observed := make(map[string]int, len(days))
	for date := range days {
		observed[date] = 1
	}
	ts.PerDay = make([]DayTokens, 0, seriesDays)
	for _, date := range seriesDates(now, observed) {
		if day := days[date]; day != nil {
			ts.PerDay = append(ts.PerDay, *day)
		} else {
			ts.PerDay = append(ts.PerDay, DayTokens{Date: date})
		}
	}
	return ts
}

// computeToolStats aggregates tool invocations by name, most used first.
func (c *Calculator) computeToolStats(store *facts.Store) []ToolStat {
	byName := make(map[string]*ToolStat)

	for _, uses := range store.Tools {
		for _, u := range uses {
			stat := byName[u.Tool]
			if stat == nil {
				stat = &ToolStat{Name: u.Tool}
				byName[u.Tool] = stat
			}
			stat.Count++
			if u.Success {
				stat.Successes++
			}
		}
	}

	tools := make([]ToolStat, 0, len(byName))
	for _, stat := range byName {
		if stat.Count > 0 {
			stat.SuccessRate = float64(stat.Successes) / float64(stat.Count)
		}
		tools = append(tools, *stat)
	}
	sort.Slice(tools, func(i, j int) bool {
		if tools[i].Count != tools[j].Count {
			return tools[i].Count > tools[j].Count
		}
		return tools[i].Name < tools[j].Name
	})
	return tools
}

// computeModelStats aggregates token facts by model, most used first.
// Facts with no model name are reported under "unknown".
func (c *Calculator) computeModelStats(store *facts.Store) []ModelStat {
	byModel := make(map[string]*ModelStat)

	for _, usages := range store.Tokens {
		for _, u := range usages {
			name := u.Model
			if name == "" {
				name = "unknown"
			}
			stat := byModel[name]
			if stat == nil {
				stat = &ModelStat{Model: name}
				byModel[name] = stat
			}
			stat.Count++
			stat.Tokens += u.TokensIn + u.TokensOut
			stat.Cost += u.Cost
		}
	}

	models := make([]ModelStat, 0, len(byModel))
	for _, stat := range byModel {
		models = append(models, *stat)
	}
	sort.Slice(models, func(i, j int) bool {
		if models[i].Count != models[j].Count {
			return models[i].Count > models[j].Count
		}
		return models[i].Model < models[j].Model
	})
	return models
}

// computeModeStats sums plan/act counts from the task-level mode and
// from every mode-switch fact. Both sources contribute, so a task that
// switched modes counts more than once and totals can exceed the task
// count.
func (c *Calculator) computeModeStats(store *facts.Store) ModeStats {
	var ms ModeStats
	for _, task := range store.Tasks {
		switch task.Mode {
		case facts.ModePlan:
			ms.Plan++
		case facts.ModeAct:
			ms.Act++
		}
	}
	for _, switches := range store.Modes {
		for _, sw := range switches {
			switch sw.Mode {
			case facts.ModePlan:
				ms.Plan++
			case facts.ModeAct:
				ms.Act++
			}
		}
	}
	return ms
}

// localDate renders a Unix-millisecond timestamp as a local calendar day.
func localDate(ms int64) string {
	return time.UnixMilli(ms).Format(dateFormat)
}

// seriesDates returns the per-day series keys in ascending order: the
// trailing seriesDays window ending today, merged with every observed
// date outside it.
func seriesDates[V any](now time.Time, observed map[string]V) []string {
	seen := make(map[string]bool, seriesDays+len(observed))
	dates := make([]string, 0, seriesDays+len(observed))

	for i := seriesDays - 1; i >= 0; i-- {
		date := now.AddDate(0, 0, -i).Format(dateFormat)
		if !seen[date] {
			seen[date] = true
			dates = append(dates, date)
		}
	}
	for date := range observed {
		if !seen[date] {
			seen[date] = true
			dates = append(dates, date)
		}
	}
	sort.Strings(dates)
	return dates
}
