package retriever

import (
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// startWatcher arms a best-effort fsnotify watch on the hint file's and
// override file's parent directories. Events are coalesced onto d.wake,
// which the supervisor selects on to interrupt its sleep and run the
// next tick immediately. The watcher never decides anything by itself:
// the mtime comparison in reloadHint (and the override reconciler)
// remains the sole authority on whether a reload actually happens.
//
// Failure to start (permissions, missing directory, platform without
// inotify) is logged and the daemon falls back to waiting out the full
// sleeptime between polls.
func (d *Daemon) startWatcher() {
	d.wake = make(chan struct{}, 1)

	w, err := fsnotify.NewWatcher()
	if err != nil {
		d.logger.WithField("error", err).Warn("starting hint/override file watcher failed, falling back to full sleeptime")
		return
	}

	dirs := map[string]bool{}
	if d.cfg.HintFile != "" {
		dirs[filepath.Dir(d.cfg.HintFile)] = true
	}
	if d.cfg.OverrideFile != "" {
		dirs[filepath.Dir(d.cfg.OverrideFile)] = true
	}
	for dir := range dirs {
		if err := w.Add(dir); err != nil {
			d.logger.WithField("dir", dir).WithField("error", err).
				Warn("watching directory for early wake failed")
		}
	}

	d.watcher = w
	go d.forwardEvents(w)
}

// forwardEvents collapses the watcher's event stream into at most one
// pending wake-up. It exits when stopWatcher closes the watcher.
func (d *Daemon) forwardEvents(w *fsnotify.Watcher) {
	for {
		select {
		case _, ok := <-w.Events:
			if !ok {
				return
			}
			select {
			case d.wake <- struct{}{}:
			default:
			}
		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			d.logger.WithField("error", err).Warn("hint/override file watcher error")
		}
	}
}

// Wake implements supervisor.Waker. The channel never fires when the
// watcher failed to start, which leaves the plain per-tick polling as
// the only cadence.
func (d *Daemon) Wake() <-chan struct{} {
	return d.wake
}

func (d *Daemon) stopWatcher() {
	if d.watcher != nil {
		d.watcher.Close()
	}
}
