package safety

import (
	"regexp"
	"sync"

	"github.com/microcosm-cc/bluemonday"
)

var (
	policyOnce sync.Once
	policy     *bluemonday.Policy
)

// Policy returns the allow-list used for markup injected into the host page
// (the annotation modal and the profile banner). Only the elements those two
// surfaces render survive; scripts, handlers and styles are stripped.
func Policy() *bluemonday.Policy {
	policyOnce.Do(func() {
		p := bluemonday.NewPolicy()
		p.AllowElements("div", "span", "p", "strong", "h2", "label", "button", "textarea", "input", "a")
		p.AllowAttrs("class").Globally()
		p.AllowAttrs("id").Matching(regexp.MustCompile(`^br-[a-z-]+$`)).Globally()
		p.AllowDataAttributes()
		p.AllowAttrs("type").Matching(regexp.MustCompile(`^(checkbox|radio|button)$`)).OnElements("input", "button")
		p.AllowAttrs("name", "value").OnElements("input")
		p.AllowAttrs("placeholder", "rows", "maxlength").OnElements("textarea")
		p.AllowStandardURLs()
		p.AllowAttrs("href").OnElements("a")
		p.AddTargetBlankToFullyQualifiedLinks(true)
		policy = p
	})
	return policy
}

// Sanitize filters an HTML fragment through Policy.
func Sanitize(fragment string) string {
	return Policy().Sanitize(fragment)
}
