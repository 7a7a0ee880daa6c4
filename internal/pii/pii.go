// Package pii detects and redacts personally identifiable information with a
// fixed battery of regular expressions. It makes no external calls.
package pii

import (
	"regexp"
	"sort"
	"strings"
)

// Type identifies a class of PII.
type Type string

const (
	TypeEmail      Type = "email"
	TypePhone      Type = "phone"
	TypeSSN        Type = "ssn"
	TypeCreditCard Type = "credit_card"
	TypeAddress    Type = "address"
)

// Match is one PII occurrence. Start and End are byte offsets into the
// scanned text, End exclusive.
type Match struct {
	Type  Type   `json:"type"`
	Text  string `json:"text"`
	Start int    `json:"start"`
	End   int    `json:"end"`
}

type pattern struct {
	typ Type
	re  *regexp.Regexp
}

// battery is ordered: when two matches start at the same offset the longer
// one wins, and on equal length the earlier pattern wins.
var battery = []pattern{
	{TypeEmail, regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`)},
	{TypeCreditCard, regexp.MustCompile(`\b(?:4[0-9]{12}(?:[0-9]{3})?|5[1-5][0-9]{14}|3[47][0-9]{13}|6(?:011|5[0-9]{2})[0-9]{12}|(?:[0-9]{4}[- ]){3}[0-9]{4})\b`)},
	{TypeSSN, regexp.MustCompile(`\b[0-9]{3}-[0-9]{2}-[0-9]{4}\b`)},
	{TypePhone, regexp.MustCompile(`(?:\+?1[-.\s]?)?(?:\([0-9]{3}\)\s?|\b[0-9]{3}[-.\s]?)[0-9]{3}[-.\s]?[0-9]{4}\b`)},
	{TypeAddress, regexp.MustCompile(`(?i)\b[0-9]{1,5}\s+(?:[A-Za-z0-9.]+\s+){1,4}(?:street|st|avenue|ave|road|rd|boulevard|blvd|lane|ln|drive|dr|court|ct|way|place|pl|terrace|ter)\b\.?`)},
}

// AllTypes returns every type the battery can detect, in battery order.
func AllTypes() []Type {
	out := make([]Type, len(battery))
	for i, p := range battery {
		out[i] = p.typ
	}
	return out
}

// ValidType reports whether t is a type the battery can detect.
func ValidType(t Type) bool {
	for _, p := range battery {
		if p.typ == t {
			return true
		}
	}
	return false
}

// Detector scans text for a subset of the battery.
type Detector struct {
	patterns []pattern
}

// NewDetector returns a detector restricted to the given types. With no types
// the full battery is used. Unknown types are ignored.
func NewDetector(types ...Type) *Detector {
	if len(types) == 0 {
		return &Detector{patterns: battery}
	}
	want := make(map[Type]bool, len(types))
	for _, t := range types {
		want[t] = true
	}
	d := &Detector{}
	for _, p := range battery {
		if want[p.typ] {
			d.patterns = append(d.patterns, p)
		}
	}
	return d
}

// Find returns non-overlapping matches ordered by position.
func (d *Detector) Find(text string) []Match {
	type ranked struct {
		Match
		rank int
	}
	var all []ranked
	for rank, p := range d.patterns {
		for _, loc := range p.re.FindAllStringIndex(text, -1) {
			all = append(all, ranked{
				Match: Match{Type: p.typ, Text: text[loc[0]:loc[1]], Start: loc[0], End: loc[1]},
				rank:  rank,
			})
		}
	}
	sort.SliceStable(all, func(i, j int) bool {
		if all[i].Start != all[j].Start {
			return all[i].Start < all[j].Start
		}
		li, lj := all[i].End-all[i].Start, all[j].End-all[j].Start
		if li != lj {
			return li > lj
		}
		return all[i].rank < all[j].rank
	})

	matches := make([]Match, 0, len(all))
	end := -1
	for _, m := range all {
		if m.Start < end {
			continue
		}
		matches = append(matches, m.Match)
		end = m.End
	}
	return matches
}

// Sanitize replaces every match with a bracketed upper-case type tag,
// e.g. "[EMAIL]". Matches must be non-overlapping and ordered, as returned
// by Find.
func Sanitize(text string, matches []Match) string {
	if len(matches) == 0 {
		return text
	}
	var b strings.Builder
	b.Grow(len(text))
	prev := 0
	for _, m := range matches {
		b.WriteString(text[prev:m.Start])
		b.WriteString(Tag(m.Type))
		prev = m.End
	}
	b.WriteString(text[prev:])
	return b.String()
}

// Tag returns the replacement tag for a type.
func Tag(t Type) string {
	return "[" + strings.ToUpper(string(t)) + "]"
}

var defaultDetector = NewDetector()

// Redact sanitizes text with the full battery. It is the redaction applied
// to content fragments before they reach logs or the audit store.
func Redact(text string) string {
	return Sanitize(text, defaultDetector.Find(text))
}
