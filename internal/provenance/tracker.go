// Package provenance tracks which assistant-written lines later land
// in git commits. Writes are recorded as batches of line hashes; a
// periodic match cycle scans recent commits and retires hashes it finds,
// yielding a written-to-committed ratio.
package provenance

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"math"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/google/uuid"

	"github.com/shrijayan/TWCline-open-source/internal/config"
	"github.com/shrijayan/TWCline-open-source/internal/gitlog"
	"github.com/shrijayan/TWCline-open-source/internal/storage"
)

// fingerprintMin is the minimum alphanumeric length for a line to count
// toward the code-density estimate. Shorter lines (braces, "return",
// import separators) are too generic to attribute.
const fingerprintMin = 8

// Git abstracts the git queries a match cycle performs. Production
// wires ExecGit; tests substitute a fake repository.
type Git interface {
	IsRepo(ctx context.Context, dir string) bool
	Root(ctx context.Context, dir string) (string, error)
	Commits(ctx context.Context, dir string, since time.Time, max int) ([]string, error)
	Show(ctx context.Context, dir, hash, path string) (string, bool, error)
}

// ExecGit runs real git through the gitlog package.
type ExecGit struct{}

func (ExecGit) IsRepo(ctx context.Context, dir string) bool { return gitlog.IsRepo(ctx, dir) }
func (ExecGit) Root(ctx context.Context, dir string) (string, error) {
	return gitlog.Root(ctx, dir)
}
func (ExecGit) Commits(ctx context.Context, dir string, since time.Time, max int) ([]string, error) {
	return gitlog.Commits(ctx, dir, since, max)
}
func (ExecGit) Show(ctx context.Context, dir, hash, path string) (string, bool, error) {
	return gitlog.Show(ctx, dir, hash, path)
}

// Meter receives committed-line counts. The telemetry package provides
// the exporting implementation.
type Meter interface {
	RecordLinesCommitted(n int)
}

// Tracker records written lines and matches them against commits.
// All methods are safe for concurrent use.
type Tracker struct {
	store storage.Store
	git   Git
	cfg   config.ProvenanceConfig
	now   func() time.Time
	meter Meter

	// cycling keeps match cycles from overlapping; a losing invocation
	// skips rather than queues.
	cycling atomic.Bool

	mu    sync.Mutex
	state *trackerState
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithNow overrides the clock for tests.
func WithNow(now func() time.Time) Option {
	return func(t *Tracker) {
		t.now = now
	}
}

// WithMeter reports cleared line counts to the given meter.
func WithMeter(m Meter) Option {
	return func(t *Tracker) {
		t.meter = m
	}
}

// NewTracker builds a Tracker and restores persisted state. Corrupt
// state is discarded with a warning and tracking starts fresh.
func NewTracker(store storage.Store, git Git, cfg config.ProvenanceConfig, opts ...Option) *Tracker {
	t := &Tracker{
		store: store,
		git:   git,
		cfg:   cfg,
		now:   time.Now,
		state: newTrackerState(),
	}
	for _, opt := range opts {
		opt(t)
	}
	t.restore()
	return t
}

func (t *Tracker) restore() {
	data, ok, err := t.store.Get(StateKey)
	if err != nil {
		log.Printf("WARNING: reading provenance state: %v", err)
		return
	}
	if !ok {
		return
	}
	var state trackerState
	if err := json.Unmarshal(data, &state); err != nil {
		log.Printf("WARNING: discarding provenance state: %v", err)
		return
	}
	if state.Batches == nil {
		state.Batches = make(map[string][]*Batch)
	}
	t.state = &state
}

// RecordLinesWritten registers lines the assistant wrote to a file.
// Lines are normalized and hashed; duplicates within the call collapse
// so a line can earn credit at most once. Excluded paths and calls with
// no substantive lines are no-ops.
func (t *Tracker) RecordLinesWritten(filePath string, lines []string) error {
	if t.excluded(filePath) {
		return nil
	}

	seen := make(map[string]bool, len(lines))
	hashes := make([]string, 0, len(lines))
	for _, line := range lines {
		norm := normalizeLine(line)
		if norm == "" {
			continue
		}
		h := hashLine(norm)
		if seen[h] {
			continue
		}
		seen[h] = true
		hashes = append(hashes, h)
	}
	if len(hashes) == 0 {
		return nil
	}

	batch := &Batch{
		ID:        uuid.NewString(),
		FilePath:  filePath,
		Hashes:    hashes,
		Total:     len(hashes),
		WrittenAt: t.now().UnixMilli(),
		State:     StatePending,
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.state.Batches[filePath] = append(t.state.Batches[filePath], batch)
	t.state.TotalWritten += int64(len(hashes))
	return t.persistLocked()
}

// MatchCycle scans recent commits in every tracked folder and retires
// pending hashes found in them, then prunes expired batches. At most
// one cycle runs at a time; an overlapping invocation returns with
// Ran=false.
func (t *Tracker) MatchCycle(ctx context.Context) (CycleResult, error) {
	if !t.cycling.CompareAndSwap(false, true) {
		return CycleResult{}, nil
	}
	defer t.cycling.Store(false)

	res := CycleResult{Ran: true}
	now := t.now()

	t.mu.Lock()
	lastCheck := t.state.LastCheck
	t.mu.Unlock()

	// Overlap the previous window so commits pushed with older author
	// dates are still seen.
	var since time.Time
	if lastCheck > 0 {
		since = time.UnixMilli(lastCheck).Add(-t.lookback())
	}

	for _, folder := range t.cfg.Folders {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		files := t.pendingFiles(folder)
		if len(files) == 0 {
			continue
		}
		if !t.git.IsRepo(ctx, folder) {
			continue
		}
		root, err := t.git.Root(ctx, folder)
		if err != nil {
			log.Printf("WARNING: resolving repo root for %s: %v", folder, err)
			continue
		}
		commits, err := t.git.Commits(ctx, folder, since, t.cfg.MaxCommits)
		if err != nil {
			log.Printf("WARNING: listing commits in %s: %v", folder, err)
			continue
		}
		res.CommitsScanned += len(commits)
		res.LinesCleared += t.matchFiles(ctx, folder, root, files, commits)
	}

	res.BatchesPruned = t.prune(now)

	t.mu.Lock()
	t.state.LastCheck = now.UnixMilli()
	err := t.persistLocked()
	t.mu.Unlock()
	if err != nil {
		log.Printf("WARNING: %v", err)
	}

	if t.meter != nil && res.LinesCleared > 0 {
		t.meter.RecordLinesCommitted(res.LinesCleared)
	}
	return res, nil
}

// Stats returns the current provenance summary.
func (t *Tracker) Stats() Stats {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := Stats{
		TotalWritten:   t.state.TotalWritten,
		TotalCommitted: t.state.TotalCommitted,
		LastCheck:      t.state.LastCheck,
	}
	if s.TotalWritten > 0 {
		s.CommitRatio = float64(s.TotalCommitted) / float64(s.TotalWritten)
	}
	for _, batches := range t.state.Batches {
		for _, b := range batches {
			if b.State == StatePending || b.State == StatePartial {
				s.PendingBatches++
				s.PendingLines += len(b.Hashes)
			}
		}
	}
	return s
}

// matchFiles runs both match tiers for every pending file against the
// given commits and returns the number of hashes retired.
func (t *Tracker) matchFiles(ctx context.Context, folder, root string, files, commits []string) int {
	cleared := 0
	for _, hash := range commits {
		if ctx.Err() != nil {
			return cleared
		}
		for _, file := range files {
			for _, cand := range candidatePaths(file, folder, root) {
				content, ok, err := t.git.Show(ctx, folder, hash, cand)
				if err != nil {
					log.Printf("WARNING: reading %s at %s: %v", cand, hash, err)
					continue
				}
				if !ok {
					continue
				}
				cleared += t.creditContent(file, hash, content)
				break
			}
		}
	}
	return cleared
}

// creditContent matches one committed file version against the file's
// pending batches. Exact line-hash matches retire first; a batch with
// no exact match gets a one-time estimate scaled by the content's code
// density, consuming its oldest hashes.
func (t *Tracker) creditContent(file, commit, content string) int {
	committed := make(map[string]bool)
	var nonEmpty, dense int
	for _, line := range strings.Split(content, "\n") {
		norm := normalizeLine(line)
		if norm == "" {
			continue
		}
		nonEmpty++
		committed[hashLine(norm)] = true
		if fingerprint(norm) != "" {
			dense++
		}
	}
	if nonEmpty == 0 {
		return 0
	}
	density := float64(dense) / float64(nonEmpty)

	t.mu.Lock()
	defer t.mu.Unlock()

	cleared := 0
	for _, b := range t.state.Batches[file] {
		if len(b.Hashes) == 0 {
			continue
		}

		kept := b.Hashes[:0]
		removed := 0
		for _, h := range b.Hashes {
			if committed[h] {
				removed++
			} else {
				kept = append(kept, h)
			}
		}
		b.Hashes = kept

		if removed == 0 && dense > 0 && !contains(b.Credited, commit) {
			est := int(math.Round(density * float64(len(b.Hashes))))
			if est > len(b.Hashes) {
				est = len(b.Hashes)
			}
			if est > 0 {
				b.Hashes = b.Hashes[est:]
				b.Credited = append(b.Credited, commit)
				removed = est
			}
		}

		if removed > 0 {
			cleared += removed
			t.state.TotalCommitted += int64(removed)
			if len(b.Hashes) == 0 {
				b.State = StateCleared
			} else {
				b.State = StatePartial
			}
		}
	}
	return cleared
}

// prune expires batches older than the retention window. Pending and
// partial batches become pruned tombstones and their hashes never earn
// credit; terminal batches past the window age out of the state.
func (t *Tracker) prune(now time.Time) int {
	cutoff := now.Add(-t.retention()).UnixMilli()
	pruned := 0

	t.mu.Lock()
	defer t.mu.Unlock()

	for file, batches := range t.state.Batches {
		kept := batches[:0]
		for _, b := range batches {
			if b.WrittenAt >= cutoff {
				kept = append(kept, b)
				continue
			}
			switch b.State {
			case StatePending, StatePartial:
				b.State = StatePruned
				b.Hashes = nil
				b.Credited = nil
				pruned++
				kept = append(kept, b)
			default:
				// cleared and pruned tombstones drop
			}
		}
		if len(kept) == 0 {
			delete(t.state.Batches, file)
		} else {
			t.state.Batches[file] = kept
		}
	}
	return pruned
}

// pendingFiles lists files with pending hashes that plausibly live in
// the folder. Relative paths cannot be attributed, so they are tried
// against every folder.
func (t *Tracker) pendingFiles(folder string) []string {
	prefix := filepath.ToSlash(folder)
	if !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	var files []string
	for file, batches := range t.state.Batches {
		pending := false
		for _, b := range batches {
			if len(b.Hashes) > 0 {
				pending = true
				break
			}
		}
		if !pending {
			continue
		}
		if filepath.IsAbs(file) {
			slash := filepath.ToSlash(file)
			if slash != strings.TrimSuffix(prefix, "/") && !strings.HasPrefix(slash, prefix) {
				continue
			}
		}
		files = append(files, file)
	}
	return files
}

func (t *Tracker) excluded(filePath string) bool {
	slash := filepath.ToSlash(filePath)
	for _, pattern := range t.cfg.Exclude {
		if ok, err := doublestar.Match(pattern, slash); err == nil && ok {
			return true
		}
	}
	return false
}

func (t *Tracker) persistLocked() error {
	data, err := json.Marshal(t.state)
	if err != nil {
		return fmt.Errorf("encoding provenance state: %w", err)
	}
	if err := t.store.Set(StateKey, data); err != nil {
		return fmt.Errorf("writing provenance state: %w", err)
	}
	return nil
}

func (t *Tracker) lookback() time.Duration {
	days := t.cfg.LookbackDays
	if days <= 0 {
		days = 7
	}
	return time.Duration(days) * 24 * time.Hour
}

func (t *Tracker) retention() time.Duration {
	days := t.cfg.RetentionDays
	if days <= 0 {
		days = 14
	}
	return time.Duration(days) * 24 * time.Hour
}

// candidatePaths lists the spellings a recorded path may have inside
// the repository: as recorded, slash-normalized, and root-relative.
func candidatePaths(file, folder, root string) []string {
	seen := make(map[string]bool, 4)
	var out []string
	add := func(p string) {
		p = strings.TrimPrefix(filepath.ToSlash(p), "./")
		if p == "" || p == "." || seen[p] {
			return
		}
		seen[p] = true
		out = append(out, p)
	}

	if filepath.IsAbs(file) {
		if rel, err := filepath.Rel(root, file); err == nil && !strings.HasPrefix(rel, "..") {
			add(rel)
		}
		if rel, err := filepath.Rel(folder, file); err == nil && !strings.HasPrefix(rel, "..") {
			add(rel)
		}
		return out
	}

	add(file)
	if rel, err := filepath.Rel(root, filepath.Join(folder, file)); err == nil && !strings.HasPrefix(rel, "..") {
		add(rel)
	}
	return out
}

// normalizeLine trims and collapses internal whitespace so formatting
// churn does not defeat exact matching.
func normalizeLine(line string) string {
	return strings.Join(strings.Fields(line), " ")
}

func hashLine(norm string) string {
	sum := sha256.Sum256([]byte(norm))
	return hex.EncodeToString(sum[:])
}

// fingerprint reduces a normalized line to its alphanumeric core, empty
// when too short to attribute.
func fingerprint(norm string) string {
	var b strings.Builder
	for _, r := range norm {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	if b.Len() < fingerprintMin {
		return ""
	}
	return b.String()
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
