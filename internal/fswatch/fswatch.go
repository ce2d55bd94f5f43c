// Package fswatch watches a single directory and reports debounced changes to matching files.
package fswatch

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/pitabwire/util"
)

const DefaultDebounce = 250 * time.Millisecond

// Matcher selects the file names a watcher cares about.
type Matcher func(name string) bool

// Watcher delivers one callback per burst of filesystem events.
type Watcher struct {
	dir      string
	match    Matcher
	debounce time.Duration
	watcher  *fsnotify.Watcher
}

// New starts watching dir. Events for names rejected by match are ignored.
func New(dir string, match Matcher, debounce time.Duration) (*Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	if err = w.Add(dir); err != nil {
		_ = w.Close()
		return nil, err
	}

	if debounce <= 0 {
		debounce = DefaultDebounce
	}

	return &Watcher{
		dir:      dir,
		match:    match,
		debounce: debounce,
		watcher:  w,
	}, nil
}

// Run blocks until ctx is done, invoking onChange after each quiet period that
// followed at least one matching event. The watcher is closed on return.
func (w *Watcher) Run(ctx context.Context, onChange func(ctx context.Context)) {
	log := util.Log(ctx).WithField("dir", w.dir)
	defer util.CloseAndLogOnError(ctx, w.watcher, "could not close file watcher")

	timer := time.NewTimer(w.debounce)
	if !timer.Stop() {
		<-timer.C
	}
	pending := false

	for {
		select {
		case <-ctx.Done():
			timer.Stop()
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) &&
				!event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
				continue
			}
			if w.match != nil && !w.match(filepath.Base(event.Name)) {
				continue
			}
			if pending && !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(w.debounce)
			pending = true

		case <-timer.C:
			pending = false
			onChange(ctx)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.WithError(err).Warn("file watcher reported an error")
		}
	}
}
