// Package watch implements the File-change Watcher Registry (C4): one
// debounced fsnotify watcher per workspace, multiplexed to N subscribers.
// The snapshot-before-iterate discipline under the mutex mirrors the
// teacher's general pattern of copying a map/slice under a lock before
// iterating outside it (e.g. container.Manager.StopAll).
package watch

import (
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

const debounceWindow = 100 * time.Millisecond

type Subscriber func(paths []string)

type entry struct {
	watchDir string
	watcher  *fsnotify.Watcher

	mu          sync.Mutex
	subscribers map[int]Subscriber
	nextID      int
	pending     map[string]struct{}
	timer       *time.Timer
}

// Registry owns one entry per distinct watchDir.
type Registry struct {
	log zerolog.Logger

	mu      sync.Mutex
	entries map[string]*entry
}

func NewRegistry(log zerolog.Logger) *Registry {
	return &Registry{log: log.With().Str("component", "watch").Logger(), entries: make(map[string]*entry)}
}

// Subscribe ensures a watcher exists for watchDir and registers a callback,
// returning an unsubscribe func. The underlying fsnotify watcher is torn
// down when the last subscriber unsubscribes.
func (r *Registry) Subscribe(watchDir string, sub Subscriber) (unsubscribe func(), err error) {
	r.mu.Lock()
	e, ok := r.entries[watchDir]
	if !ok {
		w, werr := fsnotify.NewWatcher()
		if werr != nil {
			r.mu.Unlock()
			return nil, werr
		}
		if werr := w.Add(watchDir); werr != nil {
			w.Close()
			r.mu.Unlock()
			return nil, werr
		}
		e = &entry{watchDir: watchDir, watcher: w, subscribers: make(map[int]Subscriber), pending: make(map[string]struct{})}
		r.entries[watchDir] = e
		go r.pump(e)
	}
	e.mu.Lock()
	id := e.nextID
	e.nextID++
	e.subscribers[id] = sub
	e.mu.Unlock()
	r.mu.Unlock()

	return func() { r.unsubscribe(watchDir, id) }, nil
}

func (r *Registry) unsubscribe(watchDir string, id int) {
	r.mu.Lock()
	e, ok := r.entries[watchDir]
	if !ok {
		r.mu.Unlock()
		return
	}
	e.mu.Lock()
	delete(e.subscribers, id)
	empty := len(e.subscribers) == 0
	e.mu.Unlock()
	if empty {
		delete(r.entries, watchDir)
	}
	r.mu.Unlock()

	if empty {
		e.stop()
	}
}

func (e *entry) stop() {
	e.mu.Lock()
	if e.timer != nil {
		e.timer.Stop()
	}
	e.mu.Unlock()
	e.watcher.Close()
}

func (r *Registry) pump(e *entry) {
	for {
		select {
		case fsEvent, ok := <-e.watcher.Events:
			if !ok {
				return
			}
			rel, err := filepath.Rel(e.watchDir, fsEvent.Name)
			if err != nil {
				rel = fsEvent.Name
			}
			e.schedule(rel)
		case err, ok := <-e.watcher.Errors:
			if !ok {
				return
			}
			r.log.Warn().Err(err).Str("watch_dir", e.watchDir).Msg("watcher error")
		}
	}
}

// schedule implements the 100ms debounce window: the first event starts the
// timer, further events accumulate into pendingPaths, and on expiry every
// subscriber is invoked exactly once with the deduplicated set.
func (e *entry) schedule(relPath string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pending[relPath] = struct{}{}
	if e.timer != nil {
		return
	}
	e.timer = time.AfterFunc(debounceWindow, e.flush)
}

func (e *entry) flush() {
	e.mu.Lock()
	paths := make([]string, 0, len(e.pending))
	for p := range e.pending {
		paths = append(paths, p)
	}
	e.pending = make(map[string]struct{})
	e.timer = nil
	subs := make([]Subscriber, 0, len(e.subscribers))
	for _, s := range e.subscribers {
		subs = append(subs, s)
	}
	e.mu.Unlock()

	for _, s := range subs {
		s(paths)
	}
}
