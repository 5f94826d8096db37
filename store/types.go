package store

import (
	"strings"
	"time"
	"unicode"
)

// Top-level keys of the key-value collaborator. Values are stored whole.
const (
	KeyCategories = "categories"
	KeyBlocks     = "blocks"
)

// Category is a user-editable block reason. ID is derived from Label by
// Slugify and is unique within the ordered category list.
type Category struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

// BlockRecord is the annotation attached to one blocked account.
// Nullable fields are pointers so that "absent" survives a JSON round trip
// as null, matching what other consumers of the store expect.
type BlockRecord struct {
	Username        string    `json:"username"`
	Categories      []string  `json:"categories"`
	Reason          string    `json:"reason"`
	Tweet           *string   `json:"tweet"`
	TweetURL        *string   `json:"tweetUrl"`
	TweetMedia      *string   `json:"tweetMedia"`
	TweetArchiveURL *string   `json:"tweetArchiveUrl"`
	Date            time.Time `json:"date"`
}

// Key returns the storage key for the record.
func (r BlockRecord) Key() string { return Key(r.Username) }

// HasTweetURL reports whether the record carries a correlated post URL.
func (r BlockRecord) HasTweetURL() bool { return r.TweetURL != nil && *r.TweetURL != "" }

// HasCategory reports whether id is among the record's categories.
func (r BlockRecord) HasCategory(id string) bool {
	for _, c := range r.Categories {
		if c == id {
			return true
		}
	}
	return false
}

// Stats aggregates the block map for the list view.
type Stats struct {
	Total         int            `json:"total"`
	ByCategory    map[string]int `json:"by_category"`
	Uncategorized int            `json:"uncategorized"`
	WithTweet     int            `json:"with_tweet"`
	Archived      int            `json:"archived"`
}

// Dump is the whole-store export format.
type Dump struct {
	Categories []Category             `json:"categories"`
	Blocks     map[string]BlockRecord `json:"blocks"`
}

// DefaultCategories is the seed list materialised on first run.
var DefaultCategories = []Category{
	{ID: "political", Label: "Political"},
	{ID: "annoying", Label: "Annoying"},
	{ID: "misinformation", Label: "Misinformation"},
	{ID: "creepy", Label: "Creepy"},
	{ID: "harassment", Label: "Harassment"},
	{ID: "trolling", Label: "Trolling"},
	{ID: "other", Label: "Other"},
}

// Key normalises a username into its storage key: lowercase, no leading '@'.
func Key(username string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(username), "@"))
}

// Slugify derives a category ID from a label: lowercased, surrounding
// whitespace trimmed, each run of inner whitespace replaced by '-'.
func Slugify(label string) string {
	var b strings.Builder
	inSpace := false
	for _, r := range strings.TrimSpace(strings.ToLower(label)) {
		if unicode.IsSpace(r) {
			if !inSpace {
				b.WriteByte('-')
			}
			inSpace = true
			continue
		}
		inSpace = false
		b.WriteRune(r)
	}
	return b.String()
}

// StringPtr returns nil for "", else a pointer to s.
func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// Deref returns the pointed-to string or "".
func Deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func copyCategories(cats []Category) []Category {
	out := make([]Category, len(cats))
	copy(out, cats)
	return out
}
