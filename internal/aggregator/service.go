// Package aggregator maintains the metrics cache incrementally: only
// tasks whose fingerprint changed since the last run are re-extracted,
// and the resulting facts, index, and snapshot persist as one blob.
package aggregator

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/shrijayan/TWCline-open-source/internal/events"
	"github.com/shrijayan/TWCline-open-source/internal/facts"
	"github.com/shrijayan/TWCline-open-source/internal/history"
	"github.com/shrijayan/TWCline-open-source/internal/parser"
	"github.com/shrijayan/TWCline-open-source/internal/stats"
	"github.com/shrijayan/TWCline-open-source/internal/storage"
)

const (
	defaultFreshness = 5 * time.Second
	defaultBatchSize = 5
)

// Meter receives measurements from successful recomputes. The telemetry
// package provides the exporting implementation.
type Meter interface {
	RecordRecompute(trigger string, duration time.Duration, tasksChanged, tasksRemoved int)
}

// Service computes and caches metric snapshots over the task history.
// All methods are safe for concurrent use.
type Service struct {
	store   storage.Store
	history *history.Service
	calc    *stats.Calculator

	freshness time.Duration
	batchSize int
	now       func() time.Time
	journal   *events.Journal
	meter     Meter

	// inFlight guards against overlapping recomputes. A caller that
	// loses the flag gets the last snapshot back immediately.
	inFlight atomic.Bool
	group    singleflight.Group

	mu       sync.RWMutex
	index    map[string]facts.TaskMeta
	facts    *facts.Store
	snapshot *stats.Snapshot
	lastCalc time.Time

	tmu         sync.Mutex
	transcripts map[string]cachedTranscript
}

// cachedTranscript is one parsed transcript plus the entry timestamp it
// was read under, which decides reuse.
type cachedTranscript struct {
	entryTS int64
	events  []history.Event
}

// Option configures a Service.
type Option func(*Service)

// WithFreshness sets how long a snapshot serves without a staleness
// check. Zero means every request recomputes.
func WithFreshness(d time.Duration) Option {
	return func(s *Service) {
		if d >= 0 {
			s.freshness = d
		}
	}
}

// WithBatchSize sets how many changed tasks process between
// cancellation checks.
func WithBatchSize(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.batchSize = n
		}
	}
}

// WithNow overrides the clock for tests.
func WithNow(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// WithJournal records every refresh run into the given journal.
func WithJournal(j *events.Journal) Option {
	return func(s *Service) {
		s.journal = j
	}
}

// WithMeter reports successful recomputes to the given meter.
func WithMeter(m Meter) Option {
	return func(s *Service) {
		s.meter = m
	}
}

// NewService builds a Service and restores any persisted cache state.
// A corrupt cache is discarded with a warning; the next snapshot then
// recomputes from scratch.
func NewService(store storage.Store, hist *history.Service, opts ...Option) *Service {
	s := &Service{
		store:       store,
		history:     hist,
		freshness:   defaultFreshness,
		batchSize:   defaultBatchSize,
		now:         time.Now,
		index:       make(map[string]facts.TaskMeta),
		facts:       facts.NewStore(),
		transcripts: make(map[string]cachedTranscript),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.calc = stats.NewCalculator(stats.WithNow(s.now))
	s.restore()
	return s
}

func (s *Service) restore() {
	c, err := loadCache(s.store)
	if err != nil {
		log.Printf("WARNING: discarding metrics cache: %v", err)
		return
	}
	if c == nil {
		return
	}
	if c.Index != nil {
		s.index = c.Index
	}
	if c.Facts != nil {
		s.facts = c.Facts
	}
	s.snapshot = c.Snapshot
	if c.LastCalculated > 0 {
		s.lastCalc = time.UnixMilli(c.LastCalculated)
	}
}

// Snapshot returns the current metrics, recomputing when the cache is
// stale or force is set. When a recompute is already in flight the last
// computed snapshot is returned immediately, which may be nil early in
// the process lifetime.
func (s *Service) Snapshot(ctx context.Context, force bool) (*stats.Snapshot, error) {
	trigger := events.TriggerDemand
	if force {
		trigger = events.TriggerManual
	}
	return s.snapshotAs(ctx, trigger, force)
}

// RefreshAs runs the snapshot path under an explicit trigger label. The
// scheduler uses it to distinguish startup, timer, and watch runs in
// the journal and exported metrics.
func (s *Service) RefreshAs(ctx context.Context, trigger string, force bool) (*stats.Snapshot, error) {
	return s.snapshotAs(ctx, trigger, force)
}

// Refresh returns a snapshot restricted to the given range. The range
// filters the returned copy only; computation and persistence always
// cover the full history.
func (s *Service) Refresh(ctx context.Context, r stats.Range, force bool) (*stats.Snapshot, error) {
	snap, err := s.Snapshot(ctx, force)
	if err != nil {
		return nil, err
	}
	return stats.Filter(snap, r, s.now()), nil
}

// LastSnapshot returns the most recent snapshot without touching
// storage. Nil until the first computation finishes.
func (s *Service) LastSnapshot() *stats.Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshot
}

func (s *Service) snapshotAs(ctx context.Context, trigger string, force bool) (*stats.Snapshot, error) {
	if !s.inFlight.CompareAndSwap(false, true) {
		return s.LastSnapshot(), nil
	}
	defer s.inFlight.Store(false)

	if !force {
		s.mu.RLock()
		snap := s.snapshot
		fresh := snap != nil && s.now().Sub(s.lastCalc) < s.freshness
		s.mu.RUnlock()
		if fresh {
			s.checkStaleAsync()
			return snap, nil
		}
	}

	return s.recompute(ctx, trigger, force)
}

// checkStaleAsync probes in the background whether history drifted from
// the cached index, recomputing if so. Concurrent probes coalesce; a
// probe that finds a recompute already running skips, since fresh state
// is on its way regardless.
func (s *Service) checkStaleAsync() {
	go func() {
		s.group.Do("stale", func() (any, error) {
			if !s.inFlight.CompareAndSwap(false, true) {
				return nil, nil
			}
			defer s.inFlight.Store(false)

			stale, err := s.isStale()
			if err != nil {
				log.Printf("WARNING: staleness check failed: %v", err)
				return nil, nil
			}
			if !stale {
				return nil, nil
			}
			if _, err := s.recompute(context.Background(), events.TriggerStale, false); err != nil {
				log.Printf("WARNING: background refresh failed: %v", err)
			}
			return nil, nil
		})
	}()
}

// isStale reports whether any task's fingerprint differs from the
// cached index, including added and removed tasks.
func (s *Service) isStale() (bool, error) {
	entries, err := s.history.Entries()
	if err != nil {
		return false, err
	}

	s.mu.RLock()
	index := s.index
	s.mu.RUnlock()

	if len(entries) != len(index) {
		return true, nil
	}
	for _, e := range entries {
		cached, ok := index[e.ID]
		if !ok {
			return true, nil
		}
		evs, err := s.transcript(e, false)
		if err != nil {
			return false, err
		}
		if parser.Describe(e, evs) != cached {
			return true, nil
		}
	}
	return false, nil
}

// recompute rebuilds facts for changed tasks, drops facts for removed
// ones, recomputes the snapshot, and persists the whole state. The
// caller holds the in-flight flag. refreshTranscripts bypasses the
// transcript cache so forced runs pick up appends that never bumped the
// entry timestamp.
func (s *Service) recompute(ctx context.Context, trigger string, refreshTranscripts bool) (*stats.Snapshot, error) {
	start := s.now()

	entries, err := s.history.Entries()
	if err != nil {
		s.record(start, trigger, 0, 0, err)
		return nil, err
	}

	s.mu.RLock()
	prevIndex := s.index
	working := s.facts.Clone()
	s.mu.RUnlock()

	index := make(map[string]facts.TaskMeta, len(entries))
	current := make(map[string]bool, len(entries))
	var changed []history.Entry

	for _, e := range entries {
		current[e.ID] = true
		evs, err := s.transcript(e, refreshTranscripts)
		if err != nil {
			log.Printf("WARNING: reading transcript for task %s: %v", e.ID, err)
			evs = nil
		}
		meta := parser.Describe(e, evs)
		index[e.ID] = meta
		if prev, ok := prevIndex[e.ID]; ok && prev == meta {
			continue
		}
		changed = append(changed, e)
	}

	removed := 0
	for id := range prevIndex {
		if !current[id] {
			working.RemoveTask(id)
			s.dropTranscript(id)
			removed++
		}
	}

	now := s.now()
	for i := 0; i < len(changed); i += s.batchSize {
		if err := ctx.Err(); err != nil {
			s.record(start, trigger, i, removed, err)
			return nil, err
		}
		end := min(i+s.batchSize, len(changed))
		for _, e := range changed[i:end] {
			// The classify pass above warmed the cache.
			evs, err := s.transcript(e, false)
			if err != nil {
				log.Printf("WARNING: reading transcript for task %s: %v", e.ID, err)
				evs = nil
			}
			working.MergeTask(parser.Extract(e, evs, now))
		}
	}

	snap := s.calc.Compute(working)

	blob := &Cache{
		LastCalculated: snap.GeneratedAt,
		Index:          index,
		Facts:          working,
		Snapshot:       snap,
	}
	// The snapshot stays valid even if persistence fails; the next run
	// simply recomputes more than it had to.
	if err := persistCache(s.store, blob); err != nil {
		log.Printf("WARNING: %v", err)
	}

	s.mu.Lock()
	s.index = index
	s.facts = working
	s.snapshot = snap
	s.lastCalc = time.UnixMilli(snap.GeneratedAt)
	s.mu.Unlock()

	s.record(start, trigger, len(changed), removed, nil)
	return snap, nil
}

// record writes the journal entry and meter measurement for one run.
func (s *Service) record(start time.Time, trigger string, changed, removed int, err error) {
	dur := s.now().Sub(start)
	if s.journal != nil {
		rec := events.RefreshRecord{
			At:           start.UnixMilli(),
			Trigger:      trigger,
			DurationMS:   dur.Milliseconds(),
			TasksChanged: changed,
			TasksRemoved: removed,
		}
		if err != nil {
			rec.Err = err.Error()
		}
		s.journal.Record(rec)
	}
	if s.meter != nil && err == nil {
		s.meter.RecordRecompute(trigger, dur, changed, removed)
	}
}

// transcript returns a task's parsed transcript, reusing the in-memory
// copy while the entry timestamp is unchanged. Entries are retired only
// when their task leaves history, so the map grows with lifetime task
// count.
func (s *Service) transcript(e history.Entry, refresh bool) ([]history.Event, error) {
	if !refresh {
		s.tmu.Lock()
		c, ok := s.transcripts[e.ID]
		s.tmu.Unlock()
		if ok && c.entryTS == e.TS {
			return c.events, nil
		}
	}

	evs, err := s.history.Transcript(e.ID)
	if err != nil {
		return nil, err
	}
	s.tmu.Lock()
	s.transcripts[e.ID] = cachedTranscript{entryTS: e.TS, events: evs}
	s.tmu.Unlock()
	return evs, nil
}

func (s *Service) dropTranscript(id string) {
	s.tmu.Lock()
	delete(s.transcripts, id)
	s.tmu.Unlock()
}
