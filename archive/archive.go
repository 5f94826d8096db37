// Package archive asks a public web archive to snapshot a blocked post and
// records the resulting view URL on the block record.
//
// The request is fire-and-forget: its response is never inspected, and the
// view URL is written as soon as the request completes, whatever the status.
// Callers must treat the archive URL as optional for the record's lifetime.
package archive

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/hazyhaar/blockreasons/safety"
)

// Public endpoints.
const (
	DefaultSaveBase = "https://web.archive.org/save/"
	DefaultViewBase = "https://web.archive.org/web/"
)

// Recorder stores the archive URL on an existing record. It reports false
// when no eligible record exists.
type Recorder interface {
	SetArchiveURL(ctx context.Context, username, archiveURL string) (bool, error)
}

// Archiver dispatches archive requests in the background.
type Archiver struct {
	rec      Recorder
	client   *retryablehttp.Client
	saveBase string
	viewBase string
	timeout  time.Duration
	logger   *slog.Logger

	wg sync.WaitGroup
}

// Option configures an Archiver.
type Option func(*Archiver)

// WithBases overrides the save and view URL prefixes.
func WithBases(save, view string) Option {
	return func(a *Archiver) {
		a.saveBase = save
		a.viewBase = view
	}
}

// WithHTTPClient sets the underlying client.
func WithHTTPClient(c *http.Client) Option {
	return func(a *Archiver) { a.client.HTTPClient = c }
}

// WithRetry bounds retries and their backoff.
func WithRetry(max int, waitMin, waitMax time.Duration) Option {
	return func(a *Archiver) {
		a.client.RetryMax = max
		a.client.RetryWaitMin = waitMin
		a.client.RetryWaitMax = waitMax
	}
}

// WithTimeout bounds one archive attempt sequence.
func WithTimeout(d time.Duration) Option {
	return func(a *Archiver) { a.timeout = d }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *Archiver) { a.logger = l }
}

// New creates an Archiver writing results to rec.
func New(rec Recorder, opts ...Option) *Archiver {
	client := retryablehttp.NewClient()
	client.RetryMax = 2
	client.RetryWaitMin = 500 * time.Millisecond
	client.RetryWaitMax = 5 * time.Second
	// Hand back the last response instead of an error once retries run out:
	// any HTTP status counts as dispatched.
	client.ErrorHandler = retryablehttp.PassthroughErrorHandler

	a := &Archiver{
		rec:      rec,
		client:   client,
		saveBase: DefaultSaveBase,
		viewBase: DefaultViewBase,
		timeout:  2 * time.Minute,
		logger:   slog.Default(),
	}
	for _, o := range opts {
		o(a)
	}
	a.client.Logger = a.logger
	return a
}

// SaveURL is the archive request URL for postURL.
func (a *Archiver) SaveURL(postURL string) string { return a.saveBase + postURL }

// SnapshotURL is the display URL of the latest snapshot of postURL.
func (a *Archiver) SnapshotURL(postURL string) string { return a.viewBase + postURL }

// Archive starts archiving postURL for username and returns immediately.
// Cancelling ctx aborts the request; the record then keeps no archive URL.
func (a *Archiver) Archive(ctx context.Context, username, postURL string) {
	if postURL == "" {
		return
	}
	if err := safety.ValidatePostURL(postURL); err != nil {
		a.logger.Warn("archive: refusing post URL", "username", username, "url", postURL, "error", err)
		return
	}
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.run(ctx, username, postURL)
	}()
}

// Wait blocks until all dispatched requests have finished.
func (a *Archiver) Wait() { a.wg.Wait() }

func (a *Archiver) run(ctx context.Context, username, postURL string) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, a.SaveURL(postURL), nil)
	if err != nil {
		a.logger.Warn("archive: build request", "url", postURL, "error", err)
		return
	}
	resp, err := a.client.Do(req)
	if err != nil {
		a.logger.Warn("archive: request failed", "username", username, "url", postURL, "error", err)
		return
	}
	io.Copy(io.Discard, io.LimitReader(resp.Body, safety.MaxBody))
	resp.Body.Close()

	view := a.SnapshotURL(postURL)
	ok, err := a.rec.SetArchiveURL(ctx, username, view)
	switch {
	case err != nil:
		a.logger.Error("archive: store archive url", "username", username, "error", err)
	case !ok:
		a.logger.Debug("archive: no eligible record", "username", username)
	default:
		a.logger.Info("archive: snapshot requested", "username", username, "status", resp.StatusCode, "archive_url", view)
	}
}
