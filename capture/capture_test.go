package capture

import (
	"fmt"
	"testing"
	"time"
)

const fullPost = `<article data-testid="tweet" role="article">
  <div data-testid="User-Name">
    <a href="/bob"><span>Bob Builder</span></a>
    <a href="/bob"><span>@bob</span></a><span>·</span>
    <a href="/bob/status/12345"><time datetime="2026-03-14T10:00:00Z">2h</time></a>
  </div>
  <div data-testid="tweetText"><span>hello </span><a href="/hashtag/x">#x</a></div>
  <a href="/alice/status/999">quoted post</a>
  <div data-testid="tweetPhoto"><img src="a.jpg"></div>
  <div data-testid="tweetPhoto"><img src="b.jpg"></div>
  <div data-testid="videoPlayer"><video></video></div>
  <button data-testid="caret" aria-haspopup="menu"><svg %s><path d="M0"></path></svg></button>
</article>`

func mark(tpl string) string { return fmt.Sprintf(tpl, ClickMarker) }

func newExtractor(t *testing.T) *Extractor {
	t.Helper()
	e, err := NewExtractor(Selectors{}, "https://x.com", nil)
	if err != nil {
		t.Fatal(err)
	}
	return e
}

func TestExtract_FullPost(t *testing.T) {
	s := newExtractor(t).Extract(mark(fullPost))
	if s == nil {
		t.Fatal("expected snapshot")
	}
	if s.Text != "hello #x" {
		t.Errorf("text = %q", s.Text)
	}
	if s.URL != "https://x.com/bob/status/12345" {
		t.Errorf("url = %q", s.URL)
	}
	if s.AuthorUsername != "bob" {
		t.Errorf("author = %q", s.AuthorUsername)
	}
	if s.AuthorDisplayName != "Bob Builder" {
		t.Errorf("display = %q", s.AuthorDisplayName)
	}
	if s.Media == nil || *s.Media != "2 images, video" {
		t.Errorf("media = %v", s.Media)
	}
}

func TestExtract_ClickOutsideMoreOptions(t *testing.T) {
	html := `<article data-testid="tweet">
  <div data-testid="tweetText" ` + ClickMarker + `>hello</div>
  <button data-testid="caret"></button>
</article>`
	if s := newExtractor(t).Extract(html); s != nil {
		t.Fatalf("expected nil, got %+v", s)
	}
}

func TestExtract_FallbackMatchers(t *testing.T) {
	html := mark(`<article>
  <a href="/home">Home</a>
  <a href="https://elsewhere.example/dave">offsite</a>
  <a href="/carol/likes">likes</a>
  <a href="/carol">Carol</a>
  <div data-testid="tweetText">gif post</div>
  <div data-testid="gifPlayer"></div>
  <a href="/carol/status/77">permalink without time</a>
  <div><button aria-label="More" %s>...</button></div>
</article>`)
	s := newExtractor(t).Extract(html)
	if s == nil {
		t.Fatal("expected snapshot")
	}
	if s.AuthorUsername != "carol" {
		t.Errorf("author = %q", s.AuthorUsername)
	}
	if s.AuthorDisplayName != "" {
		t.Errorf("display = %q", s.AuthorDisplayName)
	}
	if s.URL != "https://x.com/carol/status/77" {
		t.Errorf("url = %q", s.URL)
	}
	if s.Media == nil || *s.Media != "GIF" {
		t.Errorf("media = %v", s.Media)
	}
}

func TestExtract_Nil(t *testing.T) {
	cases := map[string]string{
		"empty":        "",
		"no marker":    `<article><button data-testid="caret"></button></article>`,
		"no container": mark(`<div><button data-testid="caret" %s></button></div>`),
		"garbage":      "<<<>>>&&&",
	}
	e := newExtractor(t)
	for name, html := range cases {
		t.Run(name, func(t *testing.T) {
			if s := e.Extract(html); s != nil {
				t.Fatalf("expected nil, got %+v", s)
			}
		})
	}
}

func TestExtract_NoMedia(t *testing.T) {
	html := mark(`<article data-testid="tweet">
  <div data-testid="User-Name">Eve @eve</div>
  <div data-testid="tweetText">plain</div>
  <button data-testid="caret" %s></button>
</article>`)
	s := newExtractor(t).Extract(html)
	if s == nil {
		t.Fatal("expected snapshot")
	}
	if s.Media != nil {
		t.Errorf("media = %q, want nil", *s.Media)
	}
	if s.URL != "" {
		t.Errorf("url = %q, want empty", s.URL)
	}
}

func TestNewExtractor_RelativeOrigin(t *testing.T) {
	if _, err := NewExtractor(Selectors{}, "/relative", nil); err == nil {
		t.Fatal("expected error")
	}
}

func TestSelectors_MergeKeepsOverrides(t *testing.T) {
	s := Selectors{Body: []string{`.body`}}.Merge()
	if len(s.Body) != 1 || s.Body[0] != ".body" {
		t.Errorf("body = %v", s.Body)
	}
	if len(s.MoreOptions) != 3 {
		t.Errorf("more options not defaulted: %v", s.MoreOptions)
	}
}

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTracker(t *testing.T) (*Tracker, *fakeClock) {
	t.Helper()
	clk := &fakeClock{t: time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)}
	return NewTracker(newExtractor(t), WithClock(clk.now)), clk
}

func TestTracker_HandleClick(t *testing.T) {
	tr, clk := newTracker(t)
	s := tr.HandleClick(mark(fullPost))
	if s == nil {
		t.Fatal("expected capture")
	}
	if !s.CapturedAt.Equal(clk.t) {
		t.Errorf("capturedAt = %v", s.CapturedAt)
	}
	if p := tr.Pending(); p == nil || p.AuthorUsername != "bob" {
		t.Fatalf("pending = %+v", p)
	}
}

func TestTracker_EmptyTextNotRetained(t *testing.T) {
	tr, _ := newTracker(t)
	tr.Offer(Snapshot{Text: "first", AuthorUsername: "a"})

	empty := mark(`<article data-testid="tweet">
  <div data-testid="User-Name">Z @z</div>
  <button data-testid="caret" %s></button>
</article>`)
	if s := tr.HandleClick(empty); s != nil {
		t.Fatalf("expected nil, got %+v", s)
	}
	if p := tr.Pending(); p == nil || p.Text != "first" {
		t.Fatalf("previous capture lost: %+v", p)
	}
}

func TestTracker_Expiry(t *testing.T) {
	tr, clk := newTracker(t)
	tr.Offer(Snapshot{Text: "hello", AuthorUsername: "bob"})

	clk.advance(DefaultTTL - time.Second)
	if tr.Pending() == nil {
		t.Fatal("expired too early")
	}
	clk.advance(time.Second)
	if p := tr.Pending(); p != nil {
		t.Fatalf("expected expiry at TTL, got %+v", p)
	}
	clk.advance(-time.Minute)
	if tr.Pending() != nil {
		t.Fatal("expired capture must stay cleared")
	}
}

func TestTracker_SupersededCaptureRestartsWindow(t *testing.T) {
	tr, clk := newTracker(t)
	tr.Offer(Snapshot{Text: "one", AuthorUsername: "a"})
	clk.advance(20 * time.Second)
	tr.Offer(Snapshot{Text: "two", AuthorUsername: "b"})
	clk.advance(20 * time.Second)

	p := tr.Pending()
	if p == nil || p.Text != "two" {
		t.Fatalf("pending = %+v, want second capture", p)
	}
}

func TestTracker_PendingReturnsCopy(t *testing.T) {
	tr, _ := newTracker(t)
	m := "video"
	tr.Offer(Snapshot{Text: "x", Media: &m})

	p := tr.Pending()
	*p.Media = "changed"
	p.Text = "changed"
	if q := tr.Pending(); q.Text != "x" || *q.Media != "video" {
		t.Fatalf("slot mutated through copy: %+v", q)
	}
}

func TestTracker_Clear(t *testing.T) {
	tr, _ := newTracker(t)
	tr.Offer(Snapshot{Text: "x"})
	tr.Clear()
	if tr.Pending() != nil {
		t.Fatal("expected empty slot")
	}
}
