package config

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/dshills/panelbus/internal/logging"
)

// DefaultDebounce is how long the Watcher waits for writes to settle.
const DefaultDebounce = 250 * time.Millisecond

// Poster runs a function on the loop goroutine.
type Poster interface {
	Post(fn func()) bool
}

// Change describes what changed during one debounce window.
type Change struct {
	// Config is true when the config file was written, created,
	// renamed or removed.
	Config bool
	// Plugins is true when anything below a plugin directory changed.
	Plugins bool
	// Paths are the changed paths, sorted.
	Paths []string
}

// ChangeFunc receives a coalesced Change on the loop goroutine.
type ChangeFunc func(Change)

// WatcherOption configures a Watcher.
type WatcherOption func(*Watcher)

// WithDebounce sets the debounce delay.
func WithDebounce(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.delay = d
		}
	}
}

// WithWatcherLogger sets the watcher's logger.
func WithWatcherLogger(l *logging.Logger) WatcherOption {
	return func(w *Watcher) {
		w.log = logging.OrNop(l).WithComponent("config-watch")
	}
}

// Watcher reports changes to the config file and plugin directories.
// Events are coalesced until no new event has arrived for the debounce
// delay; the resulting Change is posted to the loop.
//
// The config file's directory is watched rather than the file so that
// editors which save by rename are seen.
type Watcher struct {
	fsw        *fsnotify.Watcher
	poster     Poster
	onChange   ChangeFunc
	delay      time.Duration
	log        *logging.Logger
	configPath string
	pluginDirs []string

	mu      sync.Mutex
	pending Change
	seen    map[string]bool
	timer   *time.Timer
	closed  bool

	closeCh  chan struct{}
	closedWg sync.WaitGroup

	fired  atomic.Uint64
	errors atomic.Uint64
}

// NewWatcher starts watching configPath and pluginDirs. Paths that do
// not exist are skipped. fn is called through p.
func NewWatcher(p Poster, configPath string, pluginDirs []string, fn ChangeFunc, opts ...WatcherOption) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		fsw:      fsw,
		poster:   p,
		onChange: fn,
		delay:    DefaultDebounce,
		log:      logging.Nop(),
		seen:     make(map[string]bool),
		closeCh:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}

	if configPath != "" {
		if abs, err := filepath.Abs(configPath); err == nil {
			w.configPath = abs
			w.add(filepath.Dir(abs))
		}
	}
	for _, dir := range pluginDirs {
		abs, err := filepath.Abs(dir)
		if err != nil {
			continue
		}
		w.pluginDirs = append(w.pluginDirs, abs)
		w.addTree(abs)
	}

	w.closedWg.Add(1)
	go w.processLoop()
	return w, nil
}

func (w *Watcher) add(dir string) {
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return
	}
	if err := w.fsw.Add(dir); err != nil {
		w.log.Warn("cannot watch %s: %v", dir, err)
	}
}

// addTree watches a plugin directory and its immediate subdirectories.
func (w *Watcher) addTree(dir string) {
	w.add(dir)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}
	for _, e := range entries {
		if e.IsDir() {
			w.add(filepath.Join(dir, e.Name()))
		}
	}
}

// WatchedPaths returns the directories being watched.
func (w *Watcher) WatchedPaths() []string {
	paths := w.fsw.WatchList()
	sort.Strings(paths)
	return paths
}

// Fired returns how many Changes have been posted.
func (w *Watcher) Fired() uint64 {
	return w.fired.Load()
}

// Close stops the watcher. Pending changes are discarded.
func (w *Watcher) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	close(w.closeCh)
	if w.timer != nil {
		w.timer.Stop()
	}
	w.mu.Unlock()

	w.closedWg.Wait()
	return w.fsw.Close()
}

func (w *Watcher) processLoop() {
	defer w.closedWg.Done()

	for {
		select {
		case <-w.closeCh:
			return

		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handle(ev)

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.errors.Add(1)
			w.log.Warn("watch error: %v", err)
		}
	}
}

func (w *Watcher) handle(ev fsnotify.Event) {
	if ev.Op == 0 || ev.Op == fsnotify.Chmod {
		return
	}

	isConfig := ev.Name == w.configPath
	isPlugin := w.underPluginDir(ev.Name)
	if !isConfig && !isPlugin {
		return
	}

	if isPlugin && ev.Op.Has(fsnotify.Create) {
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			w.add(ev.Name)
		}
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	w.pending.Config = w.pending.Config || isConfig
	w.pending.Plugins = w.pending.Plugins || isPlugin
	if !w.seen[ev.Name] {
		w.seen[ev.Name] = true
		w.pending.Paths = append(w.pending.Paths, ev.Name)
	}

	if w.timer == nil {
		w.timer = time.AfterFunc(w.delay, w.fire)
	} else {
		w.timer.Reset(w.delay)
	}
}

func (w *Watcher) underPluginDir(path string) bool {
	for _, dir := range w.pluginDirs {
		if path == dir || strings.HasPrefix(path, dir+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

func (w *Watcher) fire() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	change := w.pending
	w.pending = Change{}
	w.seen = make(map[string]bool)
	w.mu.Unlock()

	if len(change.Paths) == 0 {
		return
	}
	sort.Strings(change.Paths)
	w.fired.Add(1)

	if !w.poster.Post(func() { w.onChange(change) }) {
		w.log.Warn("loop rejected config change for %v", change.Paths)
	}
}
