// Package recipients pulls recipient addresses out of origin messages and
// resolves them to chat endpoints through a directory.
package recipients

import (
	"regexp"
	"sort"
	"strings"
)

const (
	DefaultStartMarker = "Email Recipients"
	DefaultEndMarker   = "Email Subject"
)

var addressPattern = regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`)

// Set is a normalized, order-free collection of recipient identifiers.
type Set map[string]struct{}

// NewSet builds a set from raw identifiers, normalizing each one.
func NewSet(ids ...string) Set {
	s := make(Set, len(ids))
	for _, id := range ids {
		if n := Normalize(id); n != "" {
			s[n] = struct{}{}
		}
	}
	return s
}

// Has reports whether id (after normalization) is in the set.
func (s Set) Has(id string) bool {
	_, ok := s[Normalize(id)]
	return ok
}

// Sorted returns the identifiers in lexical order.
func (s Set) Sorted() []string {
	out := make([]string, 0, len(s))
	for id := range s {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Normalize lower-cases and trims an identifier.
func Normalize(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}

// Extractor finds the recipient block between two markers and collects the
// addresses inside it. Text outside the block is never scanned.
type Extractor struct {
	block *regexp.Regexp
}

// NewExtractor builds an extractor for the given markers. Empty markers fall
// back to the defaults.
func NewExtractor(startMarker, endMarker string) *Extractor {
	startMarker = strings.TrimSpace(startMarker)
	if startMarker == "" {
		startMarker = DefaultStartMarker
	}
	endMarker = strings.TrimSpace(endMarker)
	if endMarker == "" {
		endMarker = DefaultEndMarker
	}
	return &Extractor{
		block: regexp.MustCompile(`(?is)` + regexp.QuoteMeta(startMarker) + `(.*?)` + regexp.QuoteMeta(endMarker)),
	}
}

// Extract returns the recipients named in the bounded block of text. An
// empty set means the text is not a routable origin.
func (e *Extractor) Extract(text string) Set {
	m := e.block.FindStringSubmatch(text)
	if m == nil {
		return Set{}
	}
	return NewSet(addressPattern.FindAllString(m[1], -1)...)
}
