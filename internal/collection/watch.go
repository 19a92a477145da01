package collection

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/samber/oops"

	"github.com/sigmacore/sigmacore/internal/corrstate"
	"github.com/sigmacore/sigmacore/internal/event"
	"github.com/sigmacore/sigmacore/internal/logutil"
	"github.com/sigmacore/sigmacore/internal/rules"
)

// settleDelay absorbs the burst of fsnotify events a single file save
// typically produces (write, then chmod, then rename-into-place) before
// triggering a reload.
const settleDelay = 200 * time.Millisecond

// Watcher holds a hot-reloadable Collection built from a rule directory.
// Reads (Match/MatchUnfiltered/Current) are safe to call concurrently with
// a reload in progress; a reload never observes a half-loaded collection
// because FromDirectory builds the replacement in full before it is
// swapped in.
type Watcher struct {
	root    string
	backend corrstate.Backend

	mu      sync.RWMutex
	current *Collection

	fsw *fsnotify.Watcher
}

// NewWatcher loads root once and, if backend is non-nil, registers it
// against every correlation rule before returning.
func NewWatcher(root string, backend corrstate.Backend) (*Watcher, []rules.Failure, error) {
	c, failures, err := FromDirectory(root)
	if err != nil {
		return nil, nil, err
	}
	if backend != nil {
		if err := c.RegisterBackend(backend); err != nil {
			return nil, nil, err
		}
	}
	return &Watcher{root: root, backend: backend, current: c}, failures, nil
}

// Current returns the collection in effect at the time of the call.
func (w *Watcher) Current() *Collection {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}

// Match delegates to the currently active collection.
func (w *Watcher) Match(ctx context.Context, ev event.Event) ([]string, error) {
	return w.Current().Match(ctx, ev)
}

// MatchUnfiltered delegates to the currently active collection.
func (w *Watcher) MatchUnfiltered(ctx context.Context, ev event.Event) ([]string, error) {
	return w.Current().MatchUnfiltered(ctx, ev)
}

// Start watches root for filesystem changes and reloads the collection on
// settled activity. It blocks until ctx is cancelled or a fatal watcher
// setup error occurs. A reload whose directory walk or backend binding
// fails is logged and the previously active collection is kept in place;
// files that fail to parse are logged as warnings and the reloaded
// collection, without their rules, replaces the active one.
func (w *Watcher) Start(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return oops.Code("watcher_init_failed").Wrapf(err, "creating fsnotify watcher")
	}
	w.fsw = fsw
	defer fsw.Close()

	if err := addRecursive(fsw, w.root); err != nil {
		return oops.Code("watcher_init_failed").With("root", w.root).Wrapf(err, "watching rule directory")
	}

	var timer *time.Timer
	reload := make(chan struct{}, 1)

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if ev.Op&fsnotify.Create != 0 {
				if info, err := statIsDir(ev.Name); err == nil && info {
					_ = addRecursive(fsw, ev.Name)
				}
			}
			if timer == nil {
				timer = time.AfterFunc(settleDelay, func() {
					select {
					case reload <- struct{}{}:
					default:
					}
				})
			} else {
				timer.Reset(settleDelay)
			}

		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			logutil.Error("rule directory watcher error: %v", err)

		case <-reload:
			w.reload()
		}
	}
}

func (w *Watcher) reload() {
	c, failures, err := FromDirectory(w.root)
	if err != nil {
		logutil.Error("rule directory reload failed: %v", err)
		return
	}
	if w.backend != nil {
		if err := c.RegisterBackend(w.backend); err != nil {
			logutil.Error("rule directory reload failed to bind state backend: %v", err)
			return
		}
	}
	for _, f := range failures {
		logutil.Warn("rule reload: %s: %v", f.Path, f.Err)
	}

	w.mu.Lock()
	w.current = c
	w.mu.Unlock()
	logutil.Info("reloaded %d rule(s) from %s", c.Len(), w.root)
}

// Close stops the underlying filesystem watcher, if running.
func (w *Watcher) Close() error {
	if w.fsw == nil {
		return nil
	}
	return w.fsw.Close()
}

func addRecursive(fsw *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return fsw.Add(path)
		}
		return nil
	})
}

func statIsDir(path string) (bool, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return false, err
	}
	return fi.IsDir(), nil
}
