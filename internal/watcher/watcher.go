// Package watcher notifies when the metrics database changes on disk.
// The host extension writes task history through its own connection, so
// a file-level watch is how the engine notices edits between refresh
// ticks. fsnotify drives the watch; when it cannot start, a polling
// loop compares sizes and mtimes instead.
package watcher

import (
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
)

const (
	defaultDebounce = 2 * time.Second
	defaultPoll     = 2 * time.Second
)

// fileSig is the change signature the polling fallback tracks.
type fileSig struct {
	size  int64
	mtime int64
}

// Watcher watches one path, a database file or a directory, and invokes
// onChange after a debounced quiet period.
type Watcher struct {
	path     string
	isDir    bool
	onChange func()
	debounce time.Duration
	poll     time.Duration

	stop   chan struct{}
	wg     sync.WaitGroup
	closed atomic.Bool

	mu    sync.Mutex
	timer *time.Timer
	sigs  map[string]fileSig
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithDebounce sets the quiet period before onChange fires.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// WithPollInterval sets the fallback polling cadence.
func WithPollInterval(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.poll = d
		}
	}
}

// New creates a watcher for the given path. onChange runs on a watcher
// goroutine; keep it fast or hand off.
func New(path string, onChange func(), opts ...Option) *Watcher {
	w := &Watcher{
		path:     path,
		onChange: onChange,
		debounce: defaultDebounce,
		poll:     defaultPoll,
		stop:     make(chan struct{}),
		sigs:     make(map[string]fileSig),
	}
	for _, opt := range opts {
		opt(w)
	}
	if info, err := os.Stat(path); err == nil && info.IsDir() {
		w.isDir = true
	}
	return w
}

// Start begins watching. It never fails outright: when fsnotify cannot
// start, the polling fallback takes over.
func (w *Watcher) Start() error {
	fsw, err := fsnotify.NewWatcher()
	if err == nil {
		dir := w.path
		if !w.isDir {
			dir = filepath.Dir(w.path)
		}
		err = fsw.Add(dir)
		if err != nil {
			fsw.Close()
		}
	}
	if err != nil {
		log.Printf("WARNING: file watch unavailable (%v), falling back to polling", err)
		w.wg.Add(1)
		go w.pollLoop()
		return nil
	}

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		for {
			select {
			case event, ok := <-fsw.Events:
				if !ok {
					return
				}
				if !w.relevant(event.Name) {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
					w.bump()
				}
			case _, ok := <-fsw.Errors:
				if !ok {
					return
				}
			case <-w.stop:
				fsw.Close()
				return
			}
		}
	}()
	return nil
}

// Close stops the watcher and waits for its goroutines. Safe to call
// more than once.
func (w *Watcher) Close() {
	if !w.closed.CompareAndSwap(false, true) {
		return
	}
	close(w.stop)
	w.wg.Wait()

	w.mu.Lock()
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
	w.mu.Unlock()
}

// relevant filters events down to the watched file and its SQLite
// sidecars (-wal, -shm). Directory watches accept everything.
func (w *Watcher) relevant(name string) bool {
	if w.isDir {
		return true
	}
	return strings.HasPrefix(name, w.path)
}

// bump arms or extends the debounce timer. onChange fires once per
// burst of events.
func (w *Watcher) bump() {
	if w.closed.Load() {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer == nil {
		w.timer = time.AfterFunc(w.debounce, func() {
			w.mu.Lock()
			w.timer = nil
			w.mu.Unlock()
			if !w.closed.Load() {
				w.onChange()
			}
		})
		return
	}
	w.timer.Reset(w.debounce)
}

func (w *Watcher) pollLoop() {
	defer w.wg.Done()
	ticker := time.NewTicker(w.poll)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			w.pollOnce()
		case <-w.stop:
			return
		}
	}
}

// pollOnce compares current file signatures against the last pass. The
// first sighting of a file only registers it; changes after that bump.
func (w *Watcher) pollOnce() {
	changed := false

	w.mu.Lock()
	for _, p := range w.candidates() {
		info, err := os.Stat(p)
		if err != nil {
			continue
		}
		sig := fileSig{size: info.Size(), mtime: info.ModTime().UnixNano()}
		prev, known := w.sigs[p]
		if !known {
			w.sigs[p] = sig
			continue
		}
		if prev != sig {
			w.sigs[p] = sig
			changed = true
		}
	}
	w.mu.Unlock()

	if changed {
		w.bump()
	}
}

// candidates lists the paths one poll pass stats.
func (w *Watcher) candidates() []string {
	if !w.isDir {
		return []string{w.path, w.path + "-wal", w.path + "-shm"}
	}
	entries, err := os.ReadDir(w.path)
	if err != nil {
		return nil
	}
	var paths []string
	for _, e := range entries {
		if !e.IsDir() {
			paths = append(paths, filepath.Join(w.path, e.Name()))
		}
	}
	return paths
}
