package hostpage

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
)

//go:embed hook.js
var hookJS string

// Selectors are the host-page matchers the hook needs in the browser.
type Selectors struct {
	MoreOptions   []string `json:"moreOptions"`
	PostContainer []string `json:"postContainer"`
	Confirm       []string `json:"confirm"`
	PrimaryColumn []string `json:"primaryColumn"`
}

// Script returns the hook source preceded by its configuration.
func Script(sel Selectors) (string, error) {
	cfg, err := json.Marshal(sel)
	if err != nil {
		return "", fmt.Errorf("hostpage: encode selectors: %w", err)
	}
	return "window.__blockreasons_config = " + string(cfg) + ";\n" + hookJS, nil
}

// RodPage adapts a rod page to Page.
type RodPage struct {
	Page *rod.Page
}

// Call evaluates js with args and returns the result value as JSON.
func (p RodPage) Call(ctx context.Context, js string, args ...any) ([]byte, error) {
	res, err := p.Page.Context(ctx).Eval(js, args...)
	if err != nil {
		return nil, err
	}
	return []byte(res.Value.JSON("", "")), nil
}

// Install registers the binding and the hook on page. The hook runs in
// every new document and once immediately in the current one.
func Install(ctx context.Context, page *rod.Page, sel Selectors) error {
	script, err := Script(sel)
	if err != nil {
		return err
	}
	p := page.Context(ctx)

	if err := (proto.RuntimeAddBinding{Name: BindingName}).Call(p); err != nil {
		return fmt.Errorf("hostpage: add binding: %w", err)
	}
	if _, err := p.EvalOnNewDocument(script); err != nil {
		return fmt.Errorf("hostpage: install on new document: %w", err)
	}
	if _, err := (proto.RuntimeEvaluate{Expression: script}).Call(p); err != nil {
		return fmt.Errorf("hostpage: install: %w", err)
	}
	return nil
}

// Listen forwards hook events from page to out until ctx is done. Prompt
// answers are consumed by bridge.
func Listen(ctx context.Context, page *rod.Page, bridge *Bridge, out chan<- Event) {
	wait := page.Context(ctx).EachEvent(func(e *proto.RuntimeBindingCalled) {
		if e.Name != BindingName {
			return
		}
		ev, ok := bridge.Dispatch(e.Payload)
		if !ok {
			return
		}
		select {
		case out <- ev:
		case <-ctx.Done():
		}
	})
	wait()
}
