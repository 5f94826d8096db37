// Package banner shows the saved block annotation on the profile or post
// page of a blocked user.
package banner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/hazyhaar/blockreasons/store"
)

// Defaults for inserting the banner while the page is still rendering.
const (
	DefaultRetries       = 10
	DefaultRetryInterval = 200 * time.Millisecond
	// DefaultSettleDelay is waited after a navigation before the lookup.
	DefaultSettleDelay = 500 * time.Millisecond
)

// Surface inserts and removes the banner in the page.
type Surface interface {
	// ShowBanner replaces any existing banner with html as the first child
	// of the primary content region. It reports false when that region
	// does not exist yet.
	ShowBanner(ctx context.Context, html string) (bool, error)
	RemoveBanner(ctx context.Context) error
}

// Lookup reads block records and category labels.
type Lookup interface {
	Block(ctx context.Context, username string) (store.BlockRecord, error)
	Labels(ctx context.Context) (map[string]string, error)
}

// Scheduler runs fn after d.
type Scheduler func(d time.Duration, fn func())

// Presenter keeps the banner in sync with the current page.
type Presenter struct {
	lookup   Lookup
	surface  Surface
	after    Scheduler
	retries  int
	interval time.Duration
	logger   *slog.Logger

	gen atomic.Uint64
}

// Option configures a Presenter.
type Option func(*Presenter)

// WithScheduler sets how retries are delayed. Defaults to time.AfterFunc.
func WithScheduler(s Scheduler) Option {
	return func(p *Presenter) { p.after = s }
}

// WithRetry overrides the insertion retry count and spacing.
func WithRetry(n int, interval time.Duration) Option {
	return func(p *Presenter) {
		p.retries = n
		p.interval = interval
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Presenter) { p.logger = l }
}

// NewPresenter creates a Presenter.
func NewPresenter(lookup Lookup, surface Surface, opts ...Option) *Presenter {
	p := &Presenter{
		lookup:   lookup,
		surface:  surface,
		after:    func(d time.Duration, fn func()) { time.AfterFunc(d, fn) },
		retries:  DefaultRetries,
		interval: DefaultRetryInterval,
		logger:   slog.Default(),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Navigate updates the banner for the page at path. Pending retries from an
// earlier navigation are abandoned.
func (p *Presenter) Navigate(ctx context.Context, path string) error {
	gen := p.gen.Add(1)

	username, ok := ParseProfilePath(path)
	if !ok {
		return p.remove(ctx)
	}
	rec, err := p.lookup.Block(ctx, username)
	if errors.Is(err, store.ErrNotFound) {
		p.logger.Debug("banner: no block record", "username", username)
		return p.remove(ctx)
	}
	if err != nil {
		return fmt.Errorf("banner: lookup %s: %w", username, err)
	}
	labels, err := p.lookup.Labels(ctx)
	if err != nil {
		return fmt.Errorf("banner: load labels: %w", err)
	}
	html, err := Render(rec, labels)
	if err != nil {
		return err
	}
	p.show(ctx, gen, username, html, 0)
	return nil
}

func (p *Presenter) show(ctx context.Context, gen uint64, username, html string, retry int) {
	if p.gen.Load() != gen || ctx.Err() != nil {
		return
	}
	inserted, err := p.surface.ShowBanner(ctx, html)
	if err != nil {
		p.logger.Warn("banner: insert", "username", username, "error", err)
		return
	}
	if inserted {
		p.logger.Info("banner: shown", "username", username)
		return
	}
	if retry >= p.retries {
		p.logger.Debug("banner: primary column never appeared", "username", username, "attempts", retry+1)
		return
	}
	p.after(p.interval, func() { p.show(ctx, gen, username, html, retry+1) })
}

func (p *Presenter) remove(ctx context.Context) error {
	if err := p.surface.RemoveBanner(ctx); err != nil {
		return fmt.Errorf("banner: remove: %w", err)
	}
	return nil
}
