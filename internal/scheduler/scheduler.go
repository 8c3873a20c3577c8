// Package scheduler drives the engine's background work: a reconcile
// pass at startup, periodic forced refreshes, file-watch refreshes,
// and provenance match cycles.
package scheduler

import (
	"context"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"github.com/shrijayan/TWCline-open-source/internal/aggregator"
	"github.com/shrijayan/TWCline-open-source/internal/events"
	"github.com/shrijayan/TWCline-open-source/internal/history"
	"github.com/shrijayan/TWCline-open-source/internal/parser"
	"github.com/shrijayan/TWCline-open-source/internal/provenance"
)

const (
	defaultRefreshEvery    = time.Hour
	defaultProvenanceEvery = 30 * time.Minute

	// watchRefreshTimeout bounds the refresh triggered by a file-watch
	// callback so a wedged store cannot pile up timer goroutines.
	watchRefreshTimeout = time.Minute

	stopTimeout = 30 * time.Second
)

// Scheduler owns the tickers and the startup reconcile. Start launches
// the loop; Stop waits for an in-flight cycle to finish.
type Scheduler struct {
	agg  *aggregator.Service
	hist *history.Service

	tracker *provenance.Tracker

	refreshEvery    time.Duration
	provenanceEvery time.Duration
	now             func() time.Time

	cancel  context.CancelFunc
	done    chan struct{}
	started atomic.Bool
	stopped atomic.Bool
}

type Option func(*Scheduler)

// WithRefreshInterval overrides the cadence of the periodic forced
// refresh. Non-positive values keep the default.
func WithRefreshInterval(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.refreshEvery = d
		}
	}
}

// WithProvenance adds periodic match cycles for the given tracker.
// Non-positive intervals keep the default.
func WithProvenance(tr *provenance.Tracker, every time.Duration) Option {
	return func(s *Scheduler) {
		s.tracker = tr
		if every > 0 {
			s.provenanceEvery = every
		}
	}
}

// WithNow overrides the clock used by the completion heuristic.
func WithNow(now func() time.Time) Option {
	return func(s *Scheduler) {
		s.now = now
	}
}

func New(agg *aggregator.Service, hist *history.Service, opts ...Option) *Scheduler {
	s := &Scheduler{
		agg:             agg,
		hist:            hist,
		refreshEvery:    defaultRefreshEvery,
		provenanceEvery: defaultProvenanceEvery,
		now:             time.Now,
		done:            make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start runs the reconcile pass synchronously, then launches the
// ticker loop. Reconcile failures are logged; the loop starts anyway
// so one bad transcript cannot keep the engine down.
func (s *Scheduler) Start(ctx context.Context) {
	if s.stopped.Load() || !s.started.CompareAndSwap(false, true) {
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	if _, err := s.Reconcile(runCtx); err != nil {
		log.Printf("WARNING: startup reconcile failed: %v", err)
	}

	go s.loop(runCtx)
}

// Stop halts the loop and waits for an in-flight cycle to finish.
// Safe to call more than once, and before Start.
func (s *Scheduler) Stop() {
	if !s.stopped.CompareAndSwap(false, true) {
		return
	}
	if !s.started.Load() {
		return
	}
	s.cancel()
	select {
	case <-s.done:
	case <-time.After(stopTimeout):
		log.Printf("WARNING: scheduler loop did not stop within %v", stopTimeout)
	}
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.done)

	refresh := time.NewTicker(s.refreshEvery)
	defer refresh.Stop()

	var provC <-chan time.Time
	if s.tracker != nil {
		prov := time.NewTicker(s.provenanceEvery)
		defer prov.Stop()
		provC = prov.C
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-refresh.C:
			s.runRefresh(ctx)
		case <-provC:
			s.runProvenance(ctx)
		}
	}
}

// Reconcile walks history entries that carry no completion flag, marks
// the ones whose transcripts now read as completed, and forces a
// refresh so the snapshot picks up the new flags. Returns how many
// tasks were marked.
func (s *Scheduler) Reconcile(ctx context.Context) (int, error) {
	entries, err := s.hist.Entries()
	if err != nil {
		return 0, fmt.Errorf("listing history: %w", err)
	}

	var marked, failed int
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return marked, err
		}
		if e.Completed != nil {
			continue
		}
		evs, err := s.hist.Transcript(e.ID)
		if err != nil {
			failed++
			log.Printf("ERROR: reading transcript for %s: %v", e.ID, err)
			continue
		}
		done, at := parser.DetectCompletion(evs, s.now())
		if !done {
			continue
		}
		if err := s.hist.MarkCompleted(e.ID, at); err != nil {
			failed++
			log.Printf("ERROR: marking %s completed: %v", e.ID, err)
			continue
		}
		marked++
	}
	if failed > 0 {
		log.Printf("WARNING: %d task(s) failed to reconcile", failed)
	}
	if marked > 0 {
		log.Printf("reconcile: marked %d task(s) completed", marked)
	}

	_, err = s.agg.RefreshAs(ctx, events.TriggerStartup, true)
	return marked, err
}

// OnHistoryChange is the file-watch callback. It runs the staleness
// path, which serves the cached snapshot when fresh and recomputes
// otherwise.
func (s *Scheduler) OnHistoryChange() {
	ctx, cancel := context.WithTimeout(context.Background(), watchRefreshTimeout)
	defer cancel()
	if _, err := s.agg.RefreshAs(ctx, events.TriggerWatch, false); err != nil {
		log.Printf("WARNING: watch refresh failed: %v", err)
	}
}

func (s *Scheduler) runRefresh(ctx context.Context) {
	if _, err := s.agg.RefreshAs(ctx, events.TriggerScheduled, true); err != nil {
		log.Printf("ERROR: scheduled refresh failed: %v", err)
	}
}

func (s *Scheduler) runProvenance(ctx context.Context) {
	res, err := s.tracker.MatchCycle(ctx)
	if err != nil {
		log.Printf("ERROR: provenance cycle failed: %v", err)
		return
	}
	if res.LinesCleared > 0 || res.BatchesPruned > 0 {
		log.Printf("provenance: cleared %d line(s), pruned %d batch(es)", res.LinesCleared, res.BatchesPruned)
	}
}
