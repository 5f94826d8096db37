// Package capture extracts a snapshot of the post whose "more options" menu
// the user just opened, and holds at most one such snapshot for a short time
// so a following block confirmation can be correlated with it.
package capture

import (
	"fmt"
	"log/slog"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

// Snapshot is the extracted context of one post.
type Snapshot struct {
	Text              string    `json:"text"`
	URL               string    `json:"url"`
	Media             *string   `json:"media"`
	AuthorUsername    string    `json:"authorUsername"`
	AuthorDisplayName string    `json:"authorDisplayName"`
	CapturedAt        time.Time `json:"capturedAt"`
}

var (
	handleRe  = regexp.MustCompile(`@(\w+)`)
	segmentRe = regexp.MustCompile(`^[A-Za-z0-9_]+$`)
)

// Extractor turns post HTML into a Snapshot.
type Extractor struct {
	sel    Selectors
	origin *url.URL
	logger *slog.Logger
}

// NewExtractor returns an extractor resolving relative links against origin
// (for example "https://x.com"). Empty selector lists fall back to defaults.
func NewExtractor(sel Selectors, origin string, logger *slog.Logger) (*Extractor, error) {
	if logger == nil {
		logger = slog.Default()
	}
	u, err := url.Parse(origin)
	if err != nil {
		return nil, fmt.Errorf("capture: parse origin: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("capture: origin %q must be absolute", origin)
	}
	return &Extractor{sel: sel.Merge(), origin: u, logger: logger}, nil
}

// Extract parses fragment, the outer HTML of the post around a click with the
// clicked element carrying ClickMarker. It returns nil when the click was not
// on a more-options affordance, when no post container encloses it, or when
// the markup cannot be parsed.
func (e *Extractor) Extract(fragment string) (snap *Snapshot) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Debug("capture: extraction panicked", "panic", r)
			snap = nil
		}
	}()

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(fragment))
	if err != nil {
		e.logger.Debug("capture: parse fragment", "error", err)
		return nil
	}
	target := doc.Find("[" + ClickMarker + "]").First()
	if target.Length() == 0 {
		return nil
	}
	more := closest(target, e.sel.MoreOptions)
	if more == nil {
		return nil
	}
	post := closest(more, e.sel.PostContainer)
	if post == nil {
		e.logger.Debug("capture: more-options click outside any post")
		return nil
	}

	s := &Snapshot{
		Text: strings.TrimSpace(find(post, e.sel.Body).Text()),
		URL:  e.permalink(post),
	}
	s.AuthorUsername, s.AuthorDisplayName = e.author(post)
	s.Media = e.media(post)
	return s
}

func (e *Extractor) permalink(post *goquery.Selection) string {
	for _, q := range e.sel.Permalink {
		links := post.Find(q)
		if links.Length() == 0 {
			continue
		}
		link := links.Has("time").First()
		if link.Length() == 0 {
			link = links.First()
		}
		href, _ := link.Attr("href")
		if abs := e.resolve(href); abs != nil {
			return abs.String()
		}
	}
	return ""
}

func (e *Extractor) author(post *goquery.Selection) (username, display string) {
	if id := find(post, e.sel.Identity); id.Length() > 0 {
		text := id.Text()
		if m := handleRe.FindStringSubmatch(text); m != nil {
			username = m[1]
		}
		if i := strings.Index(text, "@"); i >= 0 {
			display = strings.TrimSpace(text[:i])
		} else {
			display = strings.TrimSpace(text)
		}
	}
	if username != "" {
		return username, display
	}

	post.Find("a[href]").EachWithBreak(func(_ int, a *goquery.Selection) bool {
		href, _ := a.Attr("href")
		u := e.resolve(href)
		if u == nil || !strings.EqualFold(u.Host, e.origin.Host) {
			return true
		}
		segs := strings.Split(strings.Trim(u.Path, "/"), "/")
		if len(segs) != 1 || !segmentRe.MatchString(segs[0]) {
			return true
		}
		if reservedPaths[strings.ToLower(segs[0])] {
			return true
		}
		username = segs[0]
		return false
	})
	return username, display
}

func (e *Extractor) media(post *goquery.Selection) *string {
	var parts []string
	if n := count(post, e.sel.Photo); n > 0 {
		if n == 1 {
			parts = append(parts, "1 image")
		} else {
			parts = append(parts, fmt.Sprintf("%d images", n))
		}
	}
	if count(post, e.sel.Video) > 0 {
		parts = append(parts, "video")
	}
	if count(post, e.sel.GIF) > 0 {
		parts = append(parts, "GIF")
	}
	if len(parts) == 0 {
		return nil
	}
	m := strings.Join(parts, ", ")
	return &m
}

func (e *Extractor) resolve(href string) *url.URL {
	if href == "" {
		return nil
	}
	ref, err := url.Parse(href)
	if err != nil {
		return nil
	}
	return e.origin.ResolveReference(ref)
}

// closest returns the nearest ancestor-or-self of sel matching the first
// selector in qs that hits, or nil.
func closest(sel *goquery.Selection, qs []string) *goquery.Selection {
	for _, q := range qs {
		if c := sel.Closest(q); c.Length() > 0 {
			return c.First()
		}
	}
	return nil
}

// find returns the first descendant of sel matching the first selector in qs
// that hits. The result may be empty.
func find(sel *goquery.Selection, qs []string) *goquery.Selection {
	for _, q := range qs {
		if f := sel.Find(q); f.Length() > 0 {
			return f.First()
		}
	}
	return sel.Slice(0, 0)
}

func count(sel *goquery.Selection, qs []string) int {
	for _, q := range qs {
		if n := sel.Find(q).Length(); n > 0 {
			return n
		}
	}
	return 0
}
