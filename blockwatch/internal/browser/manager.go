// Package browser manages the Chrome instance blockreasons augments: launch
// a local Chrome (usually headful, with the user's profile) or attach to one
// already running, and open the site page.
package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
)

// ErrClosed is returned by Start once the manager has been closed.
var ErrClosed = errors.New("browser: manager is closed")

// Config configures the browser manager.
type Config struct {
	// RemoteURL is the DevTools WebSocket URL of a Chrome the user already
	// runs. When set nothing is launched and Close leaves that Chrome alive.
	RemoteURL string

	Bin         string // empty: launcher auto-detection
	UserDataDir string // keeps the logged-in session between runs
	Headless    bool
	Stealth     bool

	Logger *slog.Logger
}

// Manager owns the connection to Chrome and, for a local launch, the
// Chrome process itself.
type Manager struct {
	cfg Config

	mu      sync.Mutex
	browser *rod.Browser
	local   *launcher.Launcher // nil when attached to RemoteURL
	closed  bool
}

// NewManager returns a Manager. Nothing is launched until Start.
func NewManager(cfg Config) *Manager {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Manager{cfg: cfg}
}

// Start connects to Chrome, launching it first unless RemoteURL is set.
// Repeated calls return the same browser.
func (m *Manager) Start(ctx context.Context) (*rod.Browser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch {
	case m.closed:
		return nil, ErrClosed
	case m.browser != nil:
		return m.browser, nil
	}

	wsURL, err := m.controlURL(ctx)
	if err != nil {
		return nil, err
	}
	b := rod.New().ControlURL(wsURL)
	if err := b.Connect(); err != nil {
		m.release()
		return nil, fmt.Errorf("browser: connect %s: %w", wsURL, err)
	}
	m.browser = b
	return b, nil
}

// controlURL resolves the DevTools URL to connect to. For a local launch
// it starts Chrome and keeps the launcher for cleanup.
func (m *Manager) controlURL(ctx context.Context) (string, error) {
	if m.cfg.RemoteURL != "" {
		m.cfg.Logger.Info("browser: attaching to running chrome", "url", m.cfg.RemoteURL)
		return m.cfg.RemoteURL, nil
	}

	l := launcher.New().Context(ctx).Headless(m.cfg.Headless)
	if m.cfg.Bin != "" {
		l = l.Bin(m.cfg.Bin)
	}
	if m.cfg.UserDataDir != "" {
		l = l.UserDataDir(m.cfg.UserDataDir)
	}
	if m.cfg.Stealth {
		l = l.Set("disable-blink-features", "AutomationControlled")
	}
	u, err := l.Launch()
	if err != nil {
		return "", fmt.Errorf("browser: launch chrome: %w", err)
	}
	m.local = l
	m.cfg.Logger.Info("browser: chrome launched", "url", u, "headless", m.cfg.Headless, "profile", m.cfg.UserDataDir)
	return u, nil
}

// Browser returns the connected browser, or nil before Start.
func (m *Manager) Browser() *rod.Browser {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.browser
}

// Remote reports whether the manager attached to a Chrome it does not own.
func (m *Manager) Remote() bool { return m.cfg.RemoteURL != "" }

// Close shuts down a launched Chrome. A remote Chrome is left running.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true

	var err error
	if m.browser != nil && m.local != nil {
		err = m.browser.Close()
	}
	m.browser = nil
	m.release()
	return err
}

func (m *Manager) release() {
	if m.local != nil {
		m.local.Cleanup()
		m.local = nil
	}
}
