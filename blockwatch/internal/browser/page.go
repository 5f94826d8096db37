package browser

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
)

// NavigateTimeout bounds the initial navigation of a page.
const NavigateTimeout = 30 * time.Second

// ErrNotStarted is returned by OpenPage before Manager.Start.
var ErrNotStarted = errors.New("browser: not started")

// OpenPage creates a new tab and navigates it to pageURL. With stealth on,
// the tab is created through go-rod/stealth so automation markers are
// hidden from the site.
func OpenPage(ctx context.Context, mgr *Manager, pageURL string) (*rod.Page, error) {
	b := mgr.Browser()
	if b == nil {
		return nil, ErrNotStarted
	}
	newTab := func() (*rod.Page, error) { return b.Page(proto.TargetCreateTarget{}) }
	if mgr.cfg.Stealth {
		newTab = func() (*rod.Page, error) { return stealth.Page(b) }
	}
	page, err := newTab()
	if err != nil {
		return nil, fmt.Errorf("browser: create tab: %w", err)
	}

	navCtx, cancel := context.WithTimeout(ctx, NavigateTimeout)
	defer cancel()

	if err := page.Context(navCtx).Navigate(pageURL); err != nil {
		page.Close()
		return nil, fmt.Errorf("browser: navigate %s: %w", pageURL, err)
	}

	// A slow timeline is not fatal: the hook attaches to whatever loads.
	if err := page.Context(navCtx).WaitLoad(); err != nil {
		mgr.cfg.Logger.Warn("browser: page still loading", "url", pageURL, "error", err)
	}
	return page, nil
}
