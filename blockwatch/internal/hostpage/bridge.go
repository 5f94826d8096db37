package hostpage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hazyhaar/blockreasons/annotate"
	"github.com/hazyhaar/blockreasons/intercept"
)

// ErrNodeGone is returned when the hook no longer knows a dialog node.
var ErrNodeGone = errors.New("hostpage: node not found")

// CallTimeout bounds page calls made without a caller context.
const CallTimeout = 5 * time.Second

// Page evaluates a JavaScript function in the page and returns its result
// as JSON.
type Page interface {
	Call(ctx context.Context, js string, args ...any) ([]byte, error)
}

// Bridge is the Go-side face of the hook. It implements intercept.Host,
// annotate.Prompter and banner.Surface.
type Bridge struct {
	page   Page
	logger *slog.Logger

	mu      sync.Mutex
	waiters map[string]chan annotate.Answer
}

// NewBridge returns a Bridge calling into page.
func NewBridge(page Page, logger *slog.Logger) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bridge{
		page:    page,
		logger:  logger,
		waiters: make(map[string]chan annotate.Answer),
	}
}

// Dispatch decodes a binding payload. Answers are delivered to the prompt
// waiting for their token and reported as not forwarded; every other valid
// event is returned for the caller's loop.
func (b *Bridge) Dispatch(payload string) (Event, bool) {
	ev, err := Decode(payload)
	if err != nil {
		b.logger.Debug("hostpage: drop event", "error", err)
		return Event{}, false
	}
	if ev.Type != TypeAnswer {
		return ev, true
	}

	b.mu.Lock()
	ch, ok := b.waiters[ev.Token]
	delete(b.waiters, ev.Token)
	b.mu.Unlock()
	if !ok {
		b.logger.Debug("hostpage: answer for unknown prompt", "token", ev.Token)
		return Event{}, false
	}
	ch <- ev.Answer()
	return Event{}, false
}

// ArmConfirm attaches the non-intercepting confirm listener to a dialog.
func (b *Bridge) ArmConfirm(node intercept.NodeID) error {
	return b.nodeCall("armConfirm", node)
}

// WatchRemoval asks the hook to report when the dialog leaves the DOM.
func (b *Bridge) WatchRemoval(node intercept.NodeID) error {
	return b.nodeCall("watchRemoval", node)
}

// Unwatch forgets a dialog.
func (b *Bridge) Unwatch(node intercept.NodeID) {
	if err := b.nodeCall("unwatch", node); err != nil {
		b.logger.Debug("hostpage: unwatch", "node", node, "error", err)
	}
}

func (b *Bridge) nodeCall(method string, node intercept.NodeID) error {
	ctx, cancel := context.WithTimeout(context.Background(), CallTimeout)
	defer cancel()
	ok, err := b.callBool(ctx, method, string(node))
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrNodeGone, node)
	}
	return nil
}

// Prompt injects the modal for req and waits for the user's answer. When
// ctx ends first the modal is removed.
func (b *Bridge) Prompt(ctx context.Context, req annotate.Request) (annotate.Answer, error) {
	ch := make(chan annotate.Answer, 1)
	b.mu.Lock()
	b.waiters[req.Token] = ch
	b.mu.Unlock()

	forget := func() {
		b.mu.Lock()
		delete(b.waiters, req.Token)
		b.mu.Unlock()
	}

	shown, err := b.callBool(ctx, "showModal", req.HTML)
	if err == nil && !shown {
		err = errors.New("hostpage: modal markup rejected")
	}
	if err != nil {
		forget()
		return annotate.Answer{}, err
	}

	select {
	case ans := <-ch:
		return ans, nil
	case <-ctx.Done():
		forget()
		rctx, cancel := context.WithTimeout(context.Background(), CallTimeout)
		defer cancel()
		if _, err := b.callBool(rctx, "removeModal", req.Token); err != nil {
			b.logger.Debug("hostpage: remove modal", "token", req.Token, "error", err)
		}
		return annotate.Answer{}, ctx.Err()
	}
}

// ShowBanner injects the banner at the top of the primary column. It
// reports false while the column is not rendered yet.
func (b *Bridge) ShowBanner(ctx context.Context, html string) (bool, error) {
	return b.callBool(ctx, "showBanner", html)
}

// RemoveBanner removes the banner if present.
func (b *Bridge) RemoveBanner(ctx context.Context) error {
	_, err := b.callBool(ctx, "removeBanner")
	return err
}

func (b *Bridge) callBool(ctx context.Context, method string, args ...any) (bool, error) {
	js := fmt.Sprintf(`(...args) => window.__blockreasons ? window.__blockreasons.%s(...args) : null`, method)
	raw, err := b.page.Call(ctx, js, args...)
	if err != nil {
		return false, fmt.Errorf("hostpage: %s: %w", method, err)
	}
	var res *bool
	if err := json.Unmarshal(raw, &res); err != nil {
		return false, fmt.Errorf("hostpage: %s: decode result: %w", method, err)
	}
	if res == nil {
		return false, fmt.Errorf("hostpage: %s: hook not installed", method)
	}
	return *res, nil
}
