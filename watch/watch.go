// Package watch polls a revision source and runs an action once the
// revision has moved and then stayed put for a debounce window. The page
// watcher uses it to refresh the profile banner when records change, be it
// from a save in this process or from an admin edit in another.
package watch

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"
)

// Revision returns a token that changes whenever the watched data changes.
type Revision func(ctx context.Context) (int64, error)

// Options tunes the watcher behaviour.
type Options struct {
	// Interval is the polling frequency. Default: 1s.
	Interval time.Duration
	// Debounce is the quiet period after a change before the action fires.
	// Further changes during the window restart it. 0 fires immediately.
	Debounce time.Duration
	Logger   *slog.Logger
}

func (o *Options) defaults() {
	if o.Interval <= 0 {
		o.Interval = time.Second
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// Watcher polls a Revision. It is safe for concurrent use.
type Watcher struct {
	rev  Revision
	opts Options

	version atomic.Int64

	checks  atomic.Int64
	changes atomic.Int64
	errors  atomic.Int64
	fires   atomic.Int64
}

// Stats are point-in-time counters.
type Stats struct {
	Checks          int64 `json:"checks"`
	ChangesDetected int64 `json:"changes_detected"`
	Errors          int64 `json:"errors"`
	Fires           int64 `json:"fires"`
}

// New creates a Watcher over rev. Call OnChange to start the loop.
func New(rev Revision, opts Options) *Watcher {
	opts.defaults()
	return &Watcher{rev: rev, opts: opts}
}

// Stats returns the current counters.
func (w *Watcher) Stats() Stats {
	return Stats{
		Checks:          w.checks.Load(),
		ChangesDetected: w.changes.Load(),
		Errors:          w.errors.Load(),
		Fires:           w.fires.Load(),
	}
}

// Version returns the last revision the action succeeded for.
func (w *Watcher) Version() int64 { return w.version.Load() }

// OnChange blocks until ctx is cancelled. The revision seen at start is the
// baseline and does not fire. When action fails the revision is not
// recorded, so the next poll retries.
func (w *Watcher) OnChange(ctx context.Context, action func() error) {
	log := w.opts.Logger

	if v, err := w.rev(ctx); err != nil {
		log.Warn("watch: initial revision check failed", "error", err)
	} else {
		w.version.Store(v)
	}

	ticker := time.NewTicker(w.opts.Interval)
	defer ticker.Stop()

	var debounce *time.Timer
	var debounceCh <-chan time.Time
	pending := int64(-1)

	for {
		select {
		case <-ctx.Done():
			if debounce != nil {
				debounce.Stop()
			}
			return

		case <-ticker.C:
			w.checks.Add(1)
			cur, err := w.rev(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				w.errors.Add(1)
				log.Warn("watch: revision check failed", "error", err)
				continue
			}
			if cur == w.version.Load() || cur == pending {
				continue
			}
			w.changes.Add(1)
			pending = cur

			if w.opts.Debounce <= 0 {
				w.fire(action, pending)
				pending = -1
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.NewTimer(w.opts.Debounce)
			debounceCh = debounce.C
			log.Debug("watch: change detected, debouncing", "revision", cur)

		case <-debounceCh:
			debounceCh = nil
			if pending >= 0 {
				w.fire(action, pending)
				pending = -1
			}
		}
	}
}

func (w *Watcher) fire(action func() error, rev int64) {
	if err := action(); err != nil {
		w.errors.Add(1)
		w.opts.Logger.Error("watch: action failed", "error", err, "revision", rev)
		return
	}
	w.fires.Add(1)
	w.version.Store(rev)
	w.opts.Logger.Debug("watch: fired", "revision", rev)
}
