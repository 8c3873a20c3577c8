package parser

import (
	"sort"

	"github.com/shrijayan/TWCline-open-source/internal/facts"
)

// bucketMS is the dedup window. Transcripts record the same API request
// more than once as its payload is progressively enriched, always
// within well under a minute of the first write.
const bucketMS = 60_000

// Dedup collapses token facts that describe the same API request:
// facts sharing a task, a 60-second timestamp bucket, and a model merge
// into one fact carrying the element-wise maximum of every numeric
// field and the earliest timestamp in the bucket. Progressive payload
// enrichment only ever grows values, so max recovers the final
// accounting.
//
// Output is ordered by task, timestamp, then model, and the function
// is idempotent.
func Dedup(in []facts.TokenUsage) []facts.TokenUsage {
	if len(in) == 0 {
		return in
	}

	type key struct {
		task   string
		bucket int64
		model  string
	}
	merged := make(map[key]facts.TokenUsage, len(in))
	for _, f := range in {
		k := key{f.TaskID, f.TS / bucketMS, f.Model}
		cur, ok := merged[k]
		if !ok {
			merged[k] = f
			continue
		}
		cur.TokensIn = max(cur.TokensIn, f.TokensIn)
		cur.TokensOut = max(cur.TokensOut, f.TokensOut)
		cur.CacheWrites = max(cur.CacheWrites, f.CacheWrites)
		cur.CacheReads = max(cur.CacheReads, f.CacheReads)
		cur.Cost = max(cur.Cost, f.Cost)
		cur.TS = min(cur.TS, f.TS)
		merged[k] = cur
	}

	out := make([]facts.TokenUsage, 0, len(merged))
	for _, f := range merged {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].TaskID != out[j].TaskID {
			return out[i].TaskID < out[j].TaskID
		}
		if out[i].TS != out[j].TS {
			return out[i].TS < out[j].TS
		}
		return out[i].Model < out[j].Model
	})
	return out
}
