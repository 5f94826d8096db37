// Package blockwatch runs blockreasons against one browser page. It owns
// the browser, installs the page hook, and drives capture, dialog
// interception, the annotation prompt, archival and the profile banner
// from a single loop goroutine.
package blockwatch

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-rod/rod"

	"github.com/hazyhaar/blockreasons/annotate"
	"github.com/hazyhaar/blockreasons/archive"
	"github.com/hazyhaar/blockreasons/banner"
	"github.com/hazyhaar/blockreasons/blockwatch/internal/browser"
	"github.com/hazyhaar/blockreasons/blockwatch/internal/config"
	"github.com/hazyhaar/blockreasons/blockwatch/internal/hostpage"
	"github.com/hazyhaar/blockreasons/capture"
	"github.com/hazyhaar/blockreasons/intercept"
	"github.com/hazyhaar/blockreasons/store"
	"github.com/hazyhaar/blockreasons/watch"
)

// Config is the watcher configuration.
type Config = config.Config

// LoadConfig reads a YAML configuration file.
func LoadConfig(path string) (*Config, error) { return config.LoadFile(path) }

// DefaultConfig returns a configuration with every default applied.
func DefaultConfig() *Config { return config.Default() }

// surface is what the page offers the components: dialog arming, the
// prompt and the banner.
type surface interface {
	intercept.Host
	annotate.Prompter
	banner.Surface
}

// Watcher is the top-level orchestrator. Create one per page.
type Watcher struct {
	cfg    *Config
	store  *store.Store
	mgr    *browser.Manager
	logger *slog.Logger

	tracker  *capture.Tracker
	archiver *archive.Archiver
	nav      banner.NavTracker

	interceptor *intercept.Interceptor
	annotator   *annotate.Annotator
	presenter   *banner.Presenter

	events chan hostpage.Event
	calls  chan func()
	done   chan struct{}
	ctx    context.Context
}

// New creates a Watcher from configuration. Records are kept in st.
func New(cfg *Config, st *store.Store, logger *slog.Logger) (*Watcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	ext, err := capture.NewExtractor(cfg.Selectors.Post, cfg.Site.Origin, logger)
	if err != nil {
		return nil, fmt.Errorf("blockwatch: %w", err)
	}

	w := &Watcher{
		cfg:    cfg,
		store:  st,
		logger: logger,
		mgr: browser.NewManager(browser.Config{
			RemoteURL:   cfg.Browser.Remote,
			Bin:         cfg.Browser.Bin,
			UserDataDir: cfg.Browser.UserDataDir,
			Headless:    cfg.Browser.Headless,
			Stealth:     *cfg.Browser.Stealth,
			Logger:      logger,
		}),
		tracker: capture.NewTracker(ext,
			capture.WithTTL(cfg.Timing.CaptureTTL),
			capture.WithLogger(logger),
		),
		events: make(chan hostpage.Event, 64),
		calls:  make(chan func(), 64),
		done:   make(chan struct{}),
	}
	if *cfg.Archive.Enabled {
		w.archiver = archive.New(st,
			archive.WithBases(cfg.Archive.SaveBase, cfg.Archive.ViewBase),
			archive.WithRetry(cfg.Archive.RetryMax, time.Second, 10*time.Second),
			archive.WithTimeout(cfg.Archive.Timeout),
			archive.WithLogger(logger),
		)
	}
	return w, nil
}

// Run launches the browser, opens the site and processes page events until
// ctx is done.
func (w *Watcher) Run(ctx context.Context) error {
	if _, err := w.store.EnsureCategories(ctx); err != nil {
		return fmt.Errorf("blockwatch: seed categories: %w", err)
	}

	if _, err := w.mgr.Start(ctx); err != nil {
		return fmt.Errorf("blockwatch: start browser: %w", err)
	}
	page, err := browser.OpenPage(ctx, w.mgr, w.cfg.Site.URL)
	if err != nil {
		w.mgr.Close()
		return fmt.Errorf("blockwatch: open page: %w", err)
	}
	defer w.stop(page)

	bridge := hostpage.NewBridge(hostpage.RodPage{Page: page}, w.logger)
	w.attach(bridge)

	if err := hostpage.Install(ctx, page, hostpage.Selectors{
		MoreOptions:   w.cfg.Selectors.Post.MoreOptions,
		PostContainer: w.cfg.Selectors.Post.PostContainer,
		Confirm:       w.cfg.Selectors.ConfirmButton,
		PrimaryColumn: w.cfg.Selectors.PrimaryColumn,
	}); err != nil {
		return fmt.Errorf("blockwatch: %w", err)
	}
	go hostpage.Listen(ctx, page, bridge, w.events)

	records := watch.New(w.store.Revision, watch.Options{
		Interval: w.cfg.Timing.StoreWatch,
		Debounce: w.cfg.Timing.StoreWatch / 4,
		Logger:   w.logger,
	})
	go records.OnChange(ctx, func() error {
		w.post(w.refreshBanner)
		return nil
	})

	w.logger.Info("blockwatch: watching page", "url", w.cfg.Site.URL)
	w.loop(ctx)
	return nil
}

// attach wires the components that talk to the page.
func (w *Watcher) attach(s surface) {
	w.interceptor = intercept.New(s, w.onConfirmed,
		intercept.WithScheduler(w.after),
		intercept.WithSettleDelay(w.cfg.Timing.SettleDelay),
		intercept.WithConfirmSelectors(w.cfg.Selectors.ConfirmButton),
		intercept.WithLogger(w.logger),
	)

	policy, _ := annotate.ParsePolicy(w.cfg.Annotate.SavePolicy)
	opts := []annotate.Option{
		annotate.WithPolicy(policy),
		annotate.WithMultiSelect(*w.cfg.Annotate.MultiSelect),
		annotate.WithDispatcher(w.post),
		annotate.WithLogger(w.logger),
	}
	if w.archiver != nil {
		opts = append(opts, annotate.WithArchiver(w.archiver))
	}
	w.annotator = annotate.New(w.store, w.tracker, s, opts...)

	w.presenter = banner.NewPresenter(w.store, s,
		banner.WithScheduler(w.after),
		banner.WithRetry(w.cfg.Timing.BannerRetries, w.cfg.Timing.BannerInterval),
		banner.WithLogger(w.logger),
	)
}

func (w *Watcher) loop(ctx context.Context) {
	w.ctx = ctx
	defer close(w.done)
	for {
		select {
		case <-ctx.Done():
			w.annotator.Cancel()
			return
		case ev := <-w.events:
			w.handle(ctx, ev)
		case fn := <-w.calls:
			fn()
		}
	}
}

func (w *Watcher) handle(ctx context.Context, ev hostpage.Event) {
	switch ev.Type {
	case hostpage.TypeClick:
		w.tracker.HandleClick(ev.HTML)
	case hostpage.TypeNavigate:
		if !w.nav.Changed(ev.Path) {
			return
		}
		path := ev.Path
		w.after(w.cfg.Timing.NavSettle, func() {
			if w.nav.Last() != path {
				return
			}
			if err := w.presenter.Navigate(ctx, path); err != nil {
				w.logger.Error("blockwatch: banner", "path", path, "error", err)
			}
		})
	default:
		if iev, ok := ev.Interception(); ok {
			w.interceptor.Handle(iev)
		}
	}
}

// refreshBanner re-renders the banner for the current page after records
// changed.
func (w *Watcher) refreshBanner() {
	path := w.nav.Last()
	if path == "" {
		return
	}
	if err := w.presenter.Navigate(w.ctx, path); err != nil {
		w.logger.Error("blockwatch: refresh banner", "path", path, "error", err)
	}
}

// onConfirmed runs on the loop once a confirmed block dialog has settled.
func (w *Watcher) onConfirmed(username string) {
	w.annotator.Handle(w.ctx, username)
}

// after runs fn on the loop once d has elapsed.
func (w *Watcher) after(d time.Duration, fn func()) {
	time.AfterFunc(d, func() { w.post(fn) })
}

// post queues fn for the loop. It is dropped once the loop has exited.
func (w *Watcher) post(fn func()) {
	select {
	case w.calls <- fn:
	case <-w.done:
	}
}

func (w *Watcher) stop(page *rod.Page) {
	if w.archiver != nil {
		w.archiver.Wait()
	}
	if w.mgr.Remote() {
		if err := page.Close(); err != nil {
			w.logger.Warn("blockwatch: close page", "error", err)
		}
	}
	if err := w.mgr.Close(); err != nil {
		w.logger.Warn("blockwatch: close browser", "error", err)
	}
	w.logger.Info("blockwatch: stopped")
}
