package stats

import "time"

// Filter returns a copy of snap restricted to the trailing window named
// by r. Per-day series are cut at the window boundary and the totals
// derived from them (task total, token sums, cost) are re-summed from
// the kept days. Completion figures, tool, model, and mode tables keep
// their lifetime values. RangeAll returns snap unchanged.
func Filter(snap *Snapshot, r Range, now time.Time) *Snapshot {
	if snap == nil || r == RangeAll || r == "" {
		return snap
	}

	days := 30
	if r == Range7d {
		days = 7
	}
	// The window covers today and the days-1 days before it. ISO dates
	// compare correctly as strings.
	cutoff := now.AddDate(0, 0, -(days - 1)).Format(dateFormat)

	out := *snap
	out.Range = r

	out.Tasks.PerDay = nil
	out.Tasks.Total = 0
	for _, day := range snap.Tasks.PerDay {
		if day.Date < cutoff {
			continue
		}
		out.Tasks.PerDay = append(out.Tasks.PerDay, day)
		out.Tasks.Total += day.Count
	}

	out.Tokens = TokenStats{}
	for _, day := range snap.Tokens.PerDay {
		if day.Date < cutoff {
			continue
		}
		out.Tokens.PerDay = append(out.Tokens.PerDay, day)
		out.Tokens.TokensIn += day.TokensIn
		out.Tokens.TokensOut += day.TokensOut
		out.Tokens.CacheWrites += day.CacheWrites
		out.Tokens.CacheReads += day.CacheReads
		out.Tokens.Cost += day.Cost
	}

	return &out
}
