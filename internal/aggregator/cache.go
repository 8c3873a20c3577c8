package aggregator

import (
	"encoding/json"
	"fmt"

	"github.com/shrijayan/TWCline-open-source/internal/facts"
	"github.com/shrijayan/TWCline-open-source/internal/stats"
	"github.com/shrijayan/TWCline-open-source/internal/storage"
)

// CacheKey is the storage key holding the persisted aggregation state.
const CacheKey = "metrics.cache"

// Cache is the persisted aggregation state: the fingerprint index that
// drives incremental skips, the accumulated facts, and the snapshot
// computed from them. It is written as a single blob so a reader never
// observes a half-updated state.
type Cache struct {
	LastCalculated int64                     `json:"lastCalculated"`
	Index          map[string]facts.TaskMeta `json:"index"`
	Facts          *facts.Store              `json:"facts"`
	Snapshot       *stats.Snapshot           `json:"snapshot"`
}

// loadCache reads the persisted cache. A missing key yields nil with no
// error. A corrupt blob is reported as an error so the caller can log
// it and rebuild from scratch.
func loadCache(store storage.Store) (*Cache, error) {
	data, ok, err := store.Get(CacheKey)
	if err != nil {
		return nil, fmt.Errorf("reading metrics cache: %w", err)
	}
	if !ok {
		return nil, nil
	}
	var c Cache
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("decoding metrics cache: %w", err)
	}
	return &c, nil
}

// persistCache writes the whole cache with one Set.
func persistCache(store storage.Store, c *Cache) error {
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("encoding metrics cache: %w", err)
	}
	if err := store.Set(CacheKey, data); err != nil {
		return fmt.Errorf("writing metrics cache: %w", err)
	}
	return nil
}
