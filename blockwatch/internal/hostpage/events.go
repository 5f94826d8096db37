// Package hostpage bridges the Go side to the site page: an injected hook
// reports clicks, dialog insertions and removals, navigations and prompt
// answers through a CDP binding, and exposes a small API the Go side calls
// to arm dialogs and inject the modal and banner.
package hostpage

import (
	"encoding/json"
	"fmt"

	"github.com/hazyhaar/blockreasons/annotate"
	"github.com/hazyhaar/blockreasons/intercept"
)

// BindingName is the CDP binding the hook reports through.
const BindingName = "__blockreasons_binding"

// Event types reported by the hook.
const (
	TypeClick    = "click"
	TypeInserted = "inserted"
	TypeConfirm  = "confirm"
	TypeRemoved  = "removed"
	TypeNavigate = "navigate"
	TypeAnswer   = "answer"
)

// Event is one decoded hook message. Which fields are set depends on Type.
type Event struct {
	Type       string   `json:"type"`
	Node       string   `json:"node,omitempty"`
	HTML       string   `json:"html,omitempty"`
	Path       string   `json:"path,omitempty"`
	Token      string   `json:"token,omitempty"`
	Action     string   `json:"action,omitempty"`
	Categories []string `json:"categories,omitempty"`
	Reason     string   `json:"reason,omitempty"`
}

// Decode parses a binding payload.
func Decode(payload string) (Event, error) {
	var ev Event
	if err := json.Unmarshal([]byte(payload), &ev); err != nil {
		return Event{}, fmt.Errorf("hostpage: decode event: %w", err)
	}
	switch ev.Type {
	case TypeClick, TypeInserted:
		if ev.HTML == "" {
			return Event{}, fmt.Errorf("hostpage: %s event without html", ev.Type)
		}
		if ev.Type == TypeInserted && ev.Node == "" {
			return Event{}, fmt.Errorf("hostpage: inserted event without node")
		}
	case TypeConfirm, TypeRemoved:
		if ev.Node == "" {
			return Event{}, fmt.Errorf("hostpage: %s event without node", ev.Type)
		}
	case TypeNavigate:
		if ev.Path == "" {
			ev.Path = "/"
		}
	case TypeAnswer:
		if ev.Token == "" {
			return Event{}, fmt.Errorf("hostpage: answer without token")
		}
	default:
		return Event{}, fmt.Errorf("hostpage: unknown event type %q", ev.Type)
	}
	return ev, nil
}

// Interception converts dialog events to interceptor events.
func (ev Event) Interception() (intercept.Event, bool) {
	switch ev.Type {
	case TypeInserted:
		return intercept.Inserted{Node: intercept.NodeID(ev.Node), HTML: ev.HTML}, true
	case TypeConfirm:
		return intercept.ConfirmClicked{Node: intercept.NodeID(ev.Node)}, true
	case TypeRemoved:
		return intercept.Removed{Node: intercept.NodeID(ev.Node)}, true
	}
	return nil, false
}

// Answer converts an answer event to a prompt answer. Unknown actions
// read as close.
func (ev Event) Answer() annotate.Answer {
	action := annotate.Action(ev.Action)
	switch action {
	case annotate.ActionSave, annotate.ActionSkip, annotate.ActionClose:
	default:
		action = annotate.ActionClose
	}
	return annotate.Answer{
		Token:      ev.Token,
		Action:     action,
		Categories: ev.Categories,
		Reason:     ev.Reason,
	}
}
