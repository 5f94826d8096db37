package capture

// ClickMarker is the attribute the page hook sets on the clicked element
// before serialising the enclosing post, so the click target survives the
// trip into Go.
const ClickMarker = "data-br-click"

// Selectors are prioritized matcher lists. For each concern the first
// selector that yields a hit wins; host markup drift is absorbed by adding a
// selector to the list, not by changing extraction logic.
type Selectors struct {
	// MoreOptions matches the post's "more options" affordance, checked
	// from the clicked element upwards.
	//   [data-testid="caret"]          current test-id on the menu button
	//   [aria-label="More"]            accessible label, stable across redesigns
	//   button[aria-haspopup="menu"]   any menu-opening button as last resort
	MoreOptions []string `yaml:"more_options"`

	// PostContainer matches the post enclosing the affordance.
	//   article[data-testid="tweet"]   timeline and detail posts
	//   article                        any article when test-ids are missing
	PostContainer []string `yaml:"post_container"`

	// Body matches the post text block.
	Body []string `yaml:"body"`

	// Permalink matches links to the post itself; a link wrapping a <time>
	// element (the timestamp) is preferred over any other status link.
	Permalink []string `yaml:"permalink"`

	// Identity matches the author block whose text reads "Name @handle".
	Identity []string `yaml:"identity"`

	Photo []string `yaml:"photo"`
	Video []string `yaml:"video"`
	GIF   []string `yaml:"gif"`
}

// DefaultSelectors returns the matchers for current host markup.
func DefaultSelectors() Selectors {
	return Selectors{
		MoreOptions:   []string{`[data-testid="caret"]`, `[aria-label="More"]`, `button[aria-haspopup="menu"]`},
		PostContainer: []string{`article[data-testid="tweet"]`, `article`},
		Body:          []string{`[data-testid="tweetText"]`},
		Permalink:     []string{`a[href*="/status/"]`},
		Identity:      []string{`[data-testid="User-Name"]`},
		Photo:         []string{`[data-testid="tweetPhoto"]`},
		Video:         []string{`[data-testid="videoPlayer"]`},
		GIF:           []string{`[data-testid="gifPlayer"]`},
	}
}

// Merge fills empty lists of s from DefaultSelectors.
func (s Selectors) Merge() Selectors {
	d := DefaultSelectors()
	fill := func(dst *[]string, def []string) {
		if len(*dst) == 0 {
			*dst = def
		}
	}
	fill(&s.MoreOptions, d.MoreOptions)
	fill(&s.PostContainer, d.PostContainer)
	fill(&s.Body, d.Body)
	fill(&s.Permalink, d.Permalink)
	fill(&s.Identity, d.Identity)
	fill(&s.Photo, d.Photo)
	fill(&s.Video, d.Video)
	fill(&s.GIF, d.GIF)
	return s
}

// reservedPaths are first path segments that are site routes, not handles.
var reservedPaths = map[string]bool{
	"home":          true,
	"explore":       true,
	"search":        true,
	"notifications": true,
	"messages":      true,
	"i":             true,
}
