// Package codec maps gig-scoped section assignments to opaque string tokens
// stored inside the shared tag collection. The tag schema has no per-gig
// namespace, so scoped facts ride alongside ordinary descriptive tags and
// are told apart purely by a sentinel prefix. Every consumer of the tag
// collection must run values through Decode first; anything that fails the
// grammar is a genuine tag, never an error.
package codec

import (
	"net/url"
	"strings"
)

const (
	// Sentinel marks an encoded token. No descriptive tag may start with it.
	Sentinel = "#gig:"
	// Separator splits the gig identity from the escaped section label.
	Separator = "/"
)

// Assignment is the structured fact carried by an encoded token.
type Assignment struct {
	GigID   string
	Section string
}

// Normalize trims surrounding whitespace and collapses internal runs of
// whitespace to a single space.
func Normalize(section string) string {
	return strings.Join(strings.Fields(section), " ")
}

// Encode packs a (gigID, section) pair into a token. The section label is
// normalized and percent-escaped so separators inside labels survive the
// round trip.
func Encode(gigID, section string) string {
	return Sentinel + gigID + Separator + url.PathEscape(Normalize(section))
}

// Decode is the strict inverse of Encode. It reports ok=false for any value
// that does not match the token grammar: missing sentinel, missing
// separator, empty gig identity, or an invalid percent escape.
func Decode(token string) (Assignment, bool) {
	rest, found := strings.CutPrefix(token, Sentinel)
	if !found {
		return Assignment{}, false
	}
	gigID, escaped, found := strings.Cut(rest, Separator)
	if !found || gigID == "" {
		return Assignment{}, false
	}
	section, err := url.PathUnescape(escaped)
	if err != nil {
		return Assignment{}, false
	}
	return Assignment{GigID: gigID, Section: section}, true
}

// TokenPrefix returns the prefix shared by every token a gig encodes. Used
// for prefix-matched deletion so reassigning one gig's section never
// disturbs another gig's encoding of the same song.
func TokenPrefix(gigID string) string {
	return Sentinel + gigID + Separator
}
