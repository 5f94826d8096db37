// Package annotate turns a confirmed block into a saved annotation: it
// correlates the block with the pending post capture, prompts the user for
// categories and a reason, persists the record and hands the post URL to the
// archiver.
package annotate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/hazyhaar/blockreasons/capture"
	"github.com/hazyhaar/blockreasons/idgen"
	"github.com/hazyhaar/blockreasons/store"
)

// Policy decides whether an answer with no content is persisted.
type Policy string

const (
	// PolicyStrict saves only when a category, a reason or a correlated
	// post is present.
	PolicyStrict Policy = "strict"
	// PolicyLenient always saves, even an empty record.
	PolicyLenient Policy = "lenient"
)

// ParsePolicy validates a policy name. Empty selects PolicyStrict.
func ParsePolicy(s string) (Policy, error) {
	switch Policy(strings.ToLower(strings.TrimSpace(s))) {
	case "", PolicyStrict:
		return PolicyStrict, nil
	case PolicyLenient:
		return PolicyLenient, nil
	}
	return "", fmt.Errorf("annotate: unknown save policy %q", s)
}

// Action is how the user left the prompt.
type Action string

const (
	ActionSave  Action = "save"
	ActionSkip  Action = "skip"
	ActionClose Action = "close"
)

// ErrSuperseded is returned for a prompt replaced by a newer one.
var ErrSuperseded = errors.New("annotate: prompt superseded")

// Request describes one prompt to show.
type Request struct {
	Token       string
	Username    string
	Tweet       *capture.Snapshot
	Matched     bool
	Categories  []store.Category
	MultiSelect bool
	// HTML is the sanitized modal markup.
	HTML string
}

// Answer is the user's response to a Request.
type Answer struct {
	Token      string   `json:"token"`
	Action     Action   `json:"action"`
	Categories []string `json:"categories"`
	Reason     string   `json:"reason"`
}

// Prompter shows a prompt and waits for its answer. Implementations remove
// any prompt already on screen before showing a new one, and give up when
// ctx is cancelled.
type Prompter interface {
	Prompt(ctx context.Context, req Request) (Answer, error)
}

// Records is the part of the store the annotator needs.
type Records interface {
	Categories(ctx context.Context) ([]store.Category, error)
	PutBlock(ctx context.Context, rec store.BlockRecord) (store.BlockRecord, error)
}

// Archiver starts background archival of a post.
type Archiver interface {
	Archive(ctx context.Context, username, postURL string)
}

// Pending exposes the capture slot.
type Pending interface {
	Pending() *capture.Snapshot
	Clear()
}

// Outcome summarizes a finished prompt.
type Outcome struct {
	Action  Action
	Saved   bool
	Record  store.BlockRecord
	Matched bool
}

// Annotator runs annotation prompts, at most one at a time.
type Annotator struct {
	records  Records
	pending  Pending
	prompter Prompter
	archiver Archiver
	policy   Policy
	multi    bool
	newToken idgen.Generator
	dispatch func(func())
	logger   *slog.Logger

	mu      sync.Mutex
	current string
	cancel  context.CancelFunc
}

// Option configures an Annotator.
type Option func(*Annotator)

// WithPolicy sets the empty-record policy.
func WithPolicy(p Policy) Option {
	return func(a *Annotator) { a.policy = p }
}

// WithMultiSelect allows more than one category per record.
func WithMultiSelect(on bool) Option {
	return func(a *Annotator) { a.multi = on }
}

// WithArchiver sets the archival side-channel. Without one nothing is
// archived.
func WithArchiver(ar Archiver) Option {
	return func(a *Annotator) { a.archiver = ar }
}

// WithTokens sets the prompt token generator.
func WithTokens(g idgen.Generator) Option {
	return func(a *Annotator) { a.newToken = g }
}

// WithDispatcher sets how Handle runs completion work. The orchestrator
// passes a function that posts back into its event loop.
func WithDispatcher(fn func(func())) Option {
	return func(a *Annotator) { a.dispatch = fn }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *Annotator) { a.logger = l }
}

// New creates an Annotator.
func New(records Records, pending Pending, prompter Prompter, opts ...Option) *Annotator {
	a := &Annotator{
		records:  records,
		pending:  pending,
		prompter: prompter,
		policy:   PolicyStrict,
		multi:    true,
		newToken: idgen.PromptTokens(),
		dispatch: func(fn func()) { fn() },
		logger:   slog.Default(),
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Correlate pairs the pending capture with the blocked username. A capture
// whose author matches case-insensitively is matched; any other capture is
// still returned as best-effort context.
func Correlate(pending *capture.Snapshot, username string) (tweet *capture.Snapshot, matched bool) {
	if pending == nil {
		return nil, false
	}
	return pending, pending.AuthorUsername != "" && strings.EqualFold(pending.AuthorUsername, username)
}

// Handle starts the prompt for username in the background and returns
// immediately. A prompt already in flight is cancelled.
func (a *Annotator) Handle(ctx context.Context, username string) {
	req, pctx, err := a.begin(ctx, username)
	if err != nil {
		a.logger.Error("annotate: prepare prompt", "username", username, "error", err)
		return
	}
	go func() {
		ans, err := a.prompter.Prompt(pctx, req)
		a.dispatch(func() {
			if _, err := a.complete(ctx, req, ans, err); err != nil && !errors.Is(err, ErrSuperseded) {
				a.logger.Error("annotate: complete prompt", "username", username, "error", err)
			}
		})
	}()
}

// Annotate prompts for username and waits for the outcome.
func (a *Annotator) Annotate(ctx context.Context, username string) (Outcome, error) {
	req, pctx, err := a.begin(ctx, username)
	if err != nil {
		return Outcome{}, err
	}
	ans, err := a.prompter.Prompt(pctx, req)
	return a.complete(ctx, req, ans, err)
}

// Cancel aborts the prompt in flight, if any.
func (a *Annotator) Cancel() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.cancel != nil {
		a.cancel()
		a.cancel = nil
	}
	a.current = ""
}

func (a *Annotator) begin(ctx context.Context, username string) (Request, context.Context, error) {
	tweet, matched := Correlate(a.pending.Pending(), username)
	switch {
	case tweet == nil:
		a.logger.Debug("annotate: no pending capture", "username", username)
	case !matched:
		a.logger.Debug("annotate: capture author differs, offering it anyway",
			"username", username, "author", tweet.AuthorUsername)
	}

	cats, err := a.records.Categories(ctx)
	if err != nil {
		return Request{}, nil, fmt.Errorf("annotate: load categories: %w", err)
	}

	req := Request{
		Token:       a.newToken(),
		Username:    username,
		Tweet:       tweet,
		Matched:     matched,
		Categories:  cats,
		MultiSelect: a.multi,
	}
	if req.HTML, err = RenderModal(req); err != nil {
		return Request{}, nil, err
	}

	pctx, cancel := context.WithCancel(ctx)
	a.mu.Lock()
	if a.cancel != nil {
		a.cancel()
	}
	a.current, a.cancel = req.Token, cancel
	a.mu.Unlock()
	return req, pctx, nil
}

func (a *Annotator) complete(ctx context.Context, req Request, ans Answer, promptErr error) (Outcome, error) {
	a.mu.Lock()
	if a.current != req.Token {
		a.mu.Unlock()
		return Outcome{}, ErrSuperseded
	}
	a.cancel()
	a.current, a.cancel = "", nil
	a.mu.Unlock()

	if promptErr != nil {
		return Outcome{}, fmt.Errorf("annotate: prompt %s: %w", req.Username, promptErr)
	}
	if ans.Token != "" && ans.Token != req.Token {
		return Outcome{}, ErrSuperseded
	}

	out := Outcome{Action: ans.Action, Matched: req.Matched}
	a.pending.Clear()
	if ans.Action != ActionSave {
		a.logger.Info("annotate: prompt dismissed", "username", req.Username, "action", ans.Action)
		return out, nil
	}

	rec := a.buildRecord(req, ans)
	if a.policy == PolicyStrict && isEmpty(rec) {
		a.logger.Info("annotate: empty annotation not saved", "username", req.Username)
		return out, nil
	}
	saved, err := a.records.PutBlock(ctx, rec)
	if err != nil {
		return out, fmt.Errorf("annotate: save %s: %w", req.Username, err)
	}
	out.Saved, out.Record = true, saved
	a.logger.Info("annotate: block annotated", "username", saved.Username,
		"categories", saved.Categories, "with_tweet", saved.Tweet != nil)

	if a.archiver != nil && saved.HasTweetURL() {
		a.archiver.Archive(ctx, saved.Username, *saved.TweetURL)
	}
	return out, nil
}

func (a *Annotator) buildRecord(req Request, ans Answer) store.BlockRecord {
	rec := store.BlockRecord{
		Username:   req.Username,
		Categories: selectCategories(ans.Categories, req.Categories, a.multi),
		Reason:     strings.TrimSpace(ans.Reason),
	}
	if t := req.Tweet; t != nil {
		rec.Tweet = store.StringPtr(t.Text)
		rec.TweetURL = store.StringPtr(t.URL)
		if t.Media != nil {
			rec.TweetMedia = store.StringPtr(*t.Media)
		}
	}
	return rec
}

// selectCategories keeps known, distinct ids in answer order. Single-select
// mode keeps only the first.
func selectCategories(chosen []string, known []store.Category, multi bool) []string {
	valid := make(map[string]bool, len(known))
	for _, c := range known {
		valid[c.ID] = true
	}
	out := []string{}
	seen := make(map[string]bool)
	for _, id := range chosen {
		if !valid[id] || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
		if !multi {
			break
		}
	}
	return out
}

func isEmpty(rec store.BlockRecord) bool {
	return len(rec.Categories) == 0 && rec.Reason == "" && rec.Tweet == nil
}
