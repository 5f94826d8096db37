package capture

import (
	"log/slog"
	"sync"
	"time"
)

// DefaultTTL is how long a captured post stays eligible for correlation.
const DefaultTTL = 30 * time.Second

// Tracker owns the single pending-capture slot. Expiry is evaluated lazily
// against the injected clock whenever the slot is read.
type Tracker struct {
	mu   sync.Mutex
	slot *Snapshot

	ext    *Extractor
	ttl    time.Duration
	now    func() time.Time
	logger *slog.Logger
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithTTL overrides DefaultTTL.
func WithTTL(d time.Duration) Option {
	return func(t *Tracker) {
		if d > 0 {
			t.ttl = d
		}
	}
}

// WithClock injects the time source.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(t *Tracker) { t.logger = l }
}

// NewTracker creates a tracker that extracts clicks with ext.
func NewTracker(ext *Extractor, opts ...Option) *Tracker {
	t := &Tracker{
		ext:    ext,
		ttl:    DefaultTTL,
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, o := range opts {
		o(t)
	}
	return t
}

// HandleClick extracts a snapshot from a click fragment and, if it carries
// text, makes it the pending capture. It returns the stored snapshot or nil.
func (t *Tracker) HandleClick(fragment string) *Snapshot {
	if t.ext == nil {
		return nil
	}
	s := t.ext.Extract(fragment)
	if s == nil {
		return nil
	}
	if !t.Offer(*s) {
		t.logger.Debug("capture: post without text ignored", "author", s.AuthorUsername)
		return nil
	}
	return t.Pending()
}

// Offer replaces the pending capture with s, stamped with the current time.
// Snapshots without text are refused.
func (t *Tracker) Offer(s Snapshot) bool {
	if s.Text == "" {
		return false
	}
	s.CapturedAt = t.now()
	t.mu.Lock()
	t.slot = &s
	t.mu.Unlock()
	t.logger.Debug("capture: post captured", "author", s.AuthorUsername, "url", s.URL)
	return true
}

// Pending returns a copy of the pending capture, or nil if there is none or
// it is older than the TTL. An expired capture is dropped.
func (t *Tracker) Pending() *Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.slot == nil {
		return nil
	}
	if t.now().Sub(t.slot.CapturedAt) >= t.ttl {
		t.logger.Debug("capture: pending capture expired", "author", t.slot.AuthorUsername)
		t.slot = nil
		return nil
	}
	cp := *t.slot
	if cp.Media != nil {
		m := *cp.Media
		cp.Media = &m
	}
	return &cp
}

// Clear drops the pending capture.
func (t *Tracker) Clear() {
	t.mu.Lock()
	t.slot = nil
	t.mu.Unlock()
}
