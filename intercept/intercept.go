// Package intercept recognises the host page's block confirmation dialog
// and reports, after the dialog closes, whether the user actually confirmed
// the block. It never suppresses or alters the page's own handling.
//
// Each dialog runs an explicit state machine
//
//	Idle -> Candidate -> Armed -> WatchingClose -> Resolved
//
// A candidate without an @handle, and an armed dialog whose removal cannot
// be watched, fall back to Idle and keep no state.
// driven by abstract insertion, confirm-click and removal events so that the
// logic does not depend on any particular DOM observation primitive.
package intercept

import (
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

// NodeID identifies a DOM node across events. The page hook assigns it.
type NodeID string

// State of one dialog instance.
type State int

const (
	Idle State = iota
	Candidate
	Armed
	WatchingClose
	Resolved
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Candidate:
		return "candidate"
	case Armed:
		return "armed"
	case WatchingClose:
		return "watching_close"
	case Resolved:
		return "resolved"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Event is one observation fed to the Interceptor.
type Event interface{ node() NodeID }

// Inserted reports a subtree added to the document.
type Inserted struct {
	Node NodeID
	HTML string
}

// ConfirmClicked reports a click on an armed dialog's confirm button.
type ConfirmClicked struct{ Node NodeID }

// Removed reports that the node, or an ancestor containing it, left the
// document.
type Removed struct{ Node NodeID }

func (e Inserted) node() NodeID       { return e.Node }
func (e ConfirmClicked) node() NodeID { return e.Node }
func (e Removed) node() NodeID        { return e.Node }

// Host performs the few page-side actions the state machine needs.
type Host interface {
	// ArmConfirm attaches a passive click listener to the dialog's confirm
	// button. The listener must not cancel or alter the click.
	ArmConfirm(node NodeID) error
	// WatchRemoval starts reporting Removed for node.
	WatchRemoval(node NodeID) error
	// Unwatch stops removal reporting for node.
	Unwatch(node NodeID)
}

// Scheduler runs fn after d. The orchestrator supplies one that posts fn
// back into its event loop.
type Scheduler func(d time.Duration, fn func())

// DefaultSettleDelay lets the host page finish its own block handling before
// the annotation prompt appears.
const DefaultSettleDelay = 300 * time.Millisecond

// DefaultConfirmSelectors match the confirm button of a confirmation sheet.
var DefaultConfirmSelectors = []string{
	`[data-testid="confirmationSheetConfirm"]`,
	`[role="alertdialog"] button[data-testid$="Confirm"]`,
}

var handleRe = regexp.MustCompile(`@(\w+)`)

// Dialog is the tracked state of one armed dialog.
type Dialog struct {
	Node      NodeID
	Username  string
	State     State
	Confirmed bool
}

// Interceptor runs the dialog state machines. It is not safe for concurrent
// use; all calls must come from the owning event loop.
type Interceptor struct {
	host        Host
	onConfirmed func(username string)
	after       Scheduler
	delay       time.Duration
	confirmSel  []string
	logger      *slog.Logger

	transitions func(node NodeID, from, to State)

	// dialogs holds live dialogs only. An entry is the duplicate-insert
	// guard and is dropped once the dialog is resolved or cannot be watched.
	dialogs map[NodeID]*Dialog
	target  string
}

// Option configures an Interceptor.
type Option func(*Interceptor)

// WithScheduler sets how delayed callbacks are run. Defaults to time.AfterFunc.
func WithScheduler(s Scheduler) Option {
	return func(in *Interceptor) { in.after = s }
}

// WithSettleDelay overrides DefaultSettleDelay.
func WithSettleDelay(d time.Duration) Option {
	return func(in *Interceptor) { in.delay = d }
}

// WithConfirmSelectors overrides DefaultConfirmSelectors.
func WithConfirmSelectors(sel []string) Option {
	return func(in *Interceptor) {
		if len(sel) > 0 {
			in.confirmSel = sel
		}
	}
}

// WithTransitions registers fn to observe every state change of a dialog.
func WithTransitions(fn func(node NodeID, from, to State)) Option {
	return func(in *Interceptor) { in.transitions = fn }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(in *Interceptor) { in.logger = l }
}

// New creates an Interceptor. onConfirmed is invoked with the blocked
// username once a confirmed dialog has closed and the settle delay elapsed.
func New(host Host, onConfirmed func(username string), opts ...Option) *Interceptor {
	in := &Interceptor{
		host:        host,
		onConfirmed: onConfirmed,
		after:       func(d time.Duration, fn func()) { time.AfterFunc(d, fn) },
		delay:       DefaultSettleDelay,
		confirmSel:  DefaultConfirmSelectors,
		logger:      slog.Default(),
		dialogs:     make(map[NodeID]*Dialog),
	}
	for _, o := range opts {
		o(in)
	}
	return in
}

// Handle advances the state machine of the dialog ev refers to and returns
// its resulting state. Events for unknown nodes leave everything unchanged
// and report Idle.
func (in *Interceptor) Handle(ev Event) State {
	switch e := ev.(type) {
	case Inserted:
		return in.inserted(e)
	case ConfirmClicked:
		d, ok := in.dialogs[e.Node]
		if !ok {
			return Idle
		}
		d.Confirmed = true
		in.logger.Debug("intercept: confirm clicked", "username", d.Username)
		return d.State
	case Removed:
		return in.removed(e)
	}
	return Idle
}

func (in *Interceptor) inserted(e Inserted) State {
	if d, ok := in.dialogs[e.Node]; ok {
		in.logger.Debug("intercept: dialog already handled", "node", e.Node)
		return d.State
	}

	text, ok := Classify(e.HTML, in.confirmSel)
	if !ok {
		return Idle
	}
	d := &Dialog{Node: e.Node}
	in.move(d, Candidate)

	username := ExtractUsername(text)
	if username == "" {
		in.logger.Debug("intercept: block dialog without handle", "node", e.Node)
		return in.move(d, Idle)
	}

	d.Username = username
	in.dialogs[e.Node] = d
	in.target = username
	in.move(d, Armed)

	if err := in.host.ArmConfirm(e.Node); err != nil {
		in.logger.Warn("intercept: arm confirm", "node", e.Node, "error", err)
	}
	if err := in.host.WatchRemoval(e.Node); err != nil {
		// Without a removal report the dialog can never resolve.
		in.logger.Warn("intercept: watch removal", "node", e.Node, "error", err)
		delete(in.dialogs, e.Node)
		return in.move(d, Idle)
	}
	in.logger.Info("intercept: block dialog armed", "username", username)
	return in.move(d, WatchingClose)
}

func (in *Interceptor) removed(e Removed) State {
	d, ok := in.dialogs[e.Node]
	if !ok {
		return Idle
	}
	delete(in.dialogs, e.Node)
	in.host.Unwatch(e.Node)
	in.move(d, Resolved)

	if !d.Confirmed {
		in.logger.Debug("intercept: dialog closed without confirm", "username", d.Username)
		return Resolved
	}
	username := d.Username
	in.logger.Info("intercept: block confirmed", "username", username)
	if in.onConfirmed != nil {
		in.after(in.delay, func() { in.onConfirmed(username) })
	}
	return Resolved
}

func (in *Interceptor) move(d *Dialog, to State) State {
	from := d.State
	d.State = to
	if in.transitions != nil {
		in.transitions(d.Node, from, to)
	}
	return to
}

// Target returns the username of the most recently armed dialog.
func (in *Interceptor) Target() string { return in.target }

// Pending returns the dialogs still waiting to close.
func (in *Interceptor) Pending() []Dialog {
	out := make([]Dialog, 0, len(in.dialogs))
	for _, d := range in.dialogs {
		out = append(out, *d)
	}
	return out
}

// Classify reports whether fragment is a block confirmation: it must contain
// a confirm button and its text must mention "block" but not "unblock",
// which rules out mute and other sheets sharing the same markup. The
// returned text is the fragment's text content.
func Classify(fragment string, confirmSel []string) (string, bool) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(fragment))
	if err != nil {
		return "", false
	}
	if len(confirmSel) == 0 {
		confirmSel = DefaultConfirmSelectors
	}
	found := false
	for _, q := range confirmSel {
		if doc.Find(q).Length() > 0 {
			found = true
			break
		}
	}
	if !found {
		return "", false
	}
	text := doc.Text()
	lower := strings.ToLower(text)
	return text, strings.Contains(lower, "block") && !strings.Contains(lower, "unblock")
}

// ExtractUsername returns the first @handle in text without the "@", or "".
func ExtractUsername(text string) string {
	if m := handleRe.FindStringSubmatch(text); m != nil {
		return m[1]
	}
	return ""
}
