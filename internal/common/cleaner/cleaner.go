package cleaner

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// Cleaner sanitizes text scraped from listing pages using Bluemonday
type Cleaner struct {
	policy *bluemonday.Policy
	strict *bluemonday.Policy
}

// NewCleaner creates a cleaner whose Clean keeps basic formatting
func NewCleaner() *Cleaner {
	policy := bluemonday.NewPolicy()

	policy.AllowElements("p", "br", "div", "span")
	policy.AllowElements("strong", "b", "em", "i", "u")
	policy.AllowElements("ul", "ol", "li")

	// Links but no javascript:
	policy.AllowAttrs("href").OnElements("a")
	policy.RequireParseableURLs(true)
	policy.AllowURLSchemes("http", "https")

	return &Cleaner{policy: policy, strict: bluemonday.StrictPolicy()}
}

// Clean sanitizes HTML content, keeping safe formatting
func (c *Cleaner) Clean(s string) string {
	return c.policy.Sanitize(s)
}

// Text removes all markup, decodes entities and collapses whitespace
// into single spaces. Used for titles, locations and descriptions.
func (c *Cleaner) Text(s string) string {
	if s == "" {
		return ""
	}
	// Block-level breaks become spaces before tags are dropped
	s = strings.NewReplacer("<br>", " ", "<br/>", " ", "<br />", " ", "</p>", " ", "</li>", " ").Replace(s)
	text := html.UnescapeString(c.strict.Sanitize(s))
	return strings.Join(strings.Fields(text), " ")
}

// Map cleans every string value of m
func (c *Cleaner) Map(m map[string]string) map[string]string {
	if len(m) == 0 {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = c.Text(v)
	}
	return out
}
