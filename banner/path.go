package banner

import (
	"net/url"
	"regexp"
	"strings"
)

// reserved are leading path segments that are site routes, not profiles.
var reserved = map[string]bool{
	"home":          true,
	"explore":       true,
	"search":        true,
	"messages":      true,
	"notifications": true,
	"settings":      true,
	"i":             true,
}

var (
	profileRe = regexp.MustCompile(`^/([^/]+)/?$`)
	statusRe  = regexp.MustCompile(`^/([^/]+)/status/\d+`)
)

// ParseProfilePath returns the lowercased username for a profile path
// ("/alice") or a post path ("/alice/status/123"). Reserved routes and any
// other shape report false. A query or fragment is ignored.
func ParseProfilePath(path string) (string, bool) {
	if u, err := url.Parse(path); err == nil {
		path = u.Path
	}
	m := profileRe.FindStringSubmatch(path)
	if m == nil {
		m = statusRe.FindStringSubmatch(path)
	}
	if m == nil {
		return "", false
	}
	name := strings.ToLower(m[1])
	if reserved[name] {
		return "", false
	}
	return name, true
}

// NavTracker detects single-page-app navigation by comparing each observed
// path with the last one.
type NavTracker struct {
	last string
	seen bool
}

// Changed records path and reports whether it differs from the previous
// observation. The first observation always counts as a change.
func (n *NavTracker) Changed(path string) bool {
	if n.seen && path == n.last {
		return false
	}
	n.last, n.seen = path, true
	return true
}

// Last returns the most recently observed path.
func (n *NavTracker) Last() string { return n.last }
