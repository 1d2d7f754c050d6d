// Package namematch canonicalizes free-form participant names against the
// authoritative participant list of a meeting.
//
// LLMs routinely echo names with changed casing, stray whitespace, or a
// one-character typo ("sara" for "Sara", "Jon" for "John"). Canonical
// resolves those to the exact spelling from the participant list in three
// passes of decreasing strictness:
//
//  1. Exact match.
//  2. Case-insensitive match with collapsed whitespace.
//  3. Levenshtein distance ≤ 1 between the folded forms.
//
// Within a pass the first participant in list order wins, so callers should
// pass the participant list in its authoritative order.
package namematch

import (
	"strings"

	"github.com/antzucaro/matchr"
)

const defaultMaxDistance = 1

// Option is a functional option for configuring a [Matcher].
type Option func(*Matcher)

// WithMaxDistance sets the maximum Levenshtein distance accepted in the fuzzy
// pass. Default: 1.
func WithMaxDistance(d int) Option {
	return func(m *Matcher) {
		m.maxDistance = d
	}
}

// Matcher resolves free-form names to their canonical participant spelling.
// All methods are safe for concurrent use — the Matcher is read-only after
// construction.
type Matcher struct {
	maxDistance int
}

// New returns a new [Matcher] configured with the supplied options.
func New(opts ...Option) *Matcher {
	m := &Matcher{maxDistance: defaultMaxDistance}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Canonical resolves name against participants and returns the canonical
// spelling. The boolean is false when no participant matches under any pass;
// the returned string is empty in that case.
func (m *Matcher) Canonical(name string, participants []string) (string, bool) {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return "", false
	}

	for _, p := range participants {
		if p == trimmed {
			return p, true
		}
	}

	folded := fold(trimmed)
	for _, p := range participants {
		if fold(p) == folded {
			return p, true
		}
	}

	for _, p := range participants {
		if matchr.Levenshtein(folded, fold(p)) <= m.maxDistance {
			return p, true
		}
	}

	return "", false
}

// fold lowercases s and collapses all whitespace runs to single spaces.
func fold(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}
