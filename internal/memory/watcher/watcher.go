// Package watcher watches a workspace (and any extra roots) for markdown
// changes and drives incremental re-indexing with a debounce window, so a
// running agent's memory index stays in sync with files edited outside it.
package watcher

import (
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

const debounce = 2 * time.Second

var skipDirs = map[string]bool{
	".git": true, "node_modules": true, ".cache": true,
}

// Indexer is the subset of *index.Index the watcher drives. Defined here
// (rather than imported) so the watcher package has no compile-time
// dependency on the sqlite-backed index package, only on this contract.
type Indexer interface {
	IndexFile(path string, force bool) error
}

// Watcher watches one or more roots for .md create/write events and calls
// Indexer.IndexFile for each unique changed path once the debounce window
// has elapsed with no relevant event under any watched root; one shared
// timer covers all pending paths.
type Watcher struct {
	fsw     *fsnotify.Watcher
	indexer Indexer
	roots   []string

	pending map[string]bool
	timer   *time.Timer
	done    chan struct{}
}

// New creates a Watcher over roots (typically the workspace plus any extra
// memory roots from config). It does not start watching until Start is
// called.
func New(indexer Indexer, roots []string) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{
		fsw:     fsw,
		indexer: indexer,
		roots:   roots,
		pending: make(map[string]bool),
		done:    make(chan struct{}),
	}, nil
}

// Start adds all roots (recursively) to the underlying watch and begins
// the dedicated event loop goroutine. Failures to index a debounced path
// are logged, never propagated — a watcher is best-effort background
// maintenance, not a request path.
func (w *Watcher) Start() error {
	for _, root := range w.roots {
		w.addDir(root)
	}
	go w.loop()
	return nil
}

// Close stops the event loop and releases the underlying OS watch.
func (w *Watcher) Close() error {
	close(w.done)
	return w.fsw.Close()
}

func (w *Watcher) addDir(root string) {
	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			if os.IsPermission(err) {
				return filepath.SkipDir
			}
			return nil
		}
		if !info.IsDir() {
			return nil
		}
		base := filepath.Base(path)
		if skipDirs[base] || (strings.HasPrefix(base, ".") && base != filepath.Base(root)) {
			return filepath.SkipDir
		}
		if err := w.fsw.Add(path); err != nil && !os.IsPermission(err) {
			log.Printf("memory watcher: add %s: %v", path, err)
		}
		return nil
	})
	if err != nil {
		log.Printf("memory watcher: walk %s: %v", root, err)
	}
}

func (w *Watcher) loop() {
	var timerCh <-chan time.Time

	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if !relevant(event) {
				continue
			}
			w.pending[event.Name] = true
			if w.timer != nil {
				w.timer.Stop()
			}
			w.timer = time.NewTimer(debounce)
			timerCh = w.timer.C
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			log.Printf("memory watcher: fsnotify error: %v", err)
		case <-timerCh:
			timerCh = nil
			w.flush()
		}
	}
}

func (w *Watcher) flush() {
	for path := range w.pending {
		if err := w.indexer.IndexFile(path, false); err != nil {
			log.Printf("memory watcher: index %s: %v", path, err)
		}
	}
	w.pending = make(map[string]bool)
}

func relevant(event fsnotify.Event) bool {
	if !strings.HasSuffix(event.Name, ".md") {
		return false
	}
	return event.Op&(fsnotify.Create|fsnotify.Write) != 0
}
