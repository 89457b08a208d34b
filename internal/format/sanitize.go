package format

import (
	"regexp"

	"github.com/microcosm-cc/bluemonday"
)

var classPattern = regexp.MustCompile(`^[\w\s/\-.:]+$`)

// Sanitizer strips anything outside the formatter's fragment vocabulary from
// rendered markup. Replies are free text from a remote service, so markup they
// carry themselves (scripts, handlers, links) must not reach the page.
type Sanitizer struct {
	policy *bluemonday.Policy
}

// NewSanitizer builds a sanitizer allowing only formatter elements and their
// class attributes.
func NewSanitizer() *Sanitizer {
	p := bluemonday.NewPolicy()
	p.AllowElements(Elements...)
	p.AllowAttrs("class").Matching(classPattern).OnElements(Elements...)
	return &Sanitizer{policy: p}
}

// Sanitize returns markup with disallowed elements and attributes removed.
func (s *Sanitizer) Sanitize(markup string) string {
	return s.policy.Sanitize(markup)
}
