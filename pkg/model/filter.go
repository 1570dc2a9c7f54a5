package model

import "strings"

// Filter is the parsed form of a model filter string (spec.md §4.10):
// a bitmask over {vocab, output} plus a named-component list, with an
// optional negation that complements the whole set. ALL is the zero
// value with Negate set (complement of nothing is everything).
type Filter struct {
	Negate     bool
	Vocab      bool
	Output     bool
	Components []string
}

// AllFilter selects every part of a model.
func AllFilter() Filter { return Filter{Negate: true} }

// IncludesVocab reports whether the vocabulary is selected.
func (f Filter) IncludesVocab() bool { return f.Negate != f.Vocab }

// IncludesOutput reports whether the output tree is selected.
func (f Filter) IncludesOutput() bool { return f.Negate != f.Output }

// IncludesComponent reports whether the named component is selected.
func (f Filter) IncludesComponent(name string) bool {
	matched := false
	for _, c := range f.Components {
		if strings.EqualFold(c, name) {
			matched = true
			break
		}
	}
	return f.Negate != matched
}

// ParseFilter parses a model filter string of the form
// `mdl,<selectors>:<filename>`, where selectors is a comma-separated list
// of `o`, `v`, or `c<name>`, optionally prefixed with `-` to invert the
// whole set. A bare filename (no `mdl,` prefix) parses as AllFilter.
// Any malformed selector string is not an error: parsing falls back to
// AllFilter with the original raw string as the filename (spec.md §4.10
// "non-fatal" degradation).
func ParseFilter(raw string) (Filter, string) {
	const prefix = "mdl,"
	if !strings.HasPrefix(raw, prefix) {
		return AllFilter(), raw
	}
	rest := raw[len(prefix):]
	colon := strings.IndexByte(rest, ':')
	if colon < 0 {
		return AllFilter(), raw
	}
	selPart, filename := rest[:colon], rest[colon+1:]

	f := Filter{}
	if strings.HasPrefix(selPart, "-") {
		f.Negate = true
		selPart = selPart[1:]
	}
	if selPart == "" {
		return AllFilter(), raw
	}
	for _, tok := range strings.Split(selPart, ",") {
		tok = strings.TrimSpace(tok)
		switch {
		case tok == "o":
			f.Output = true
		case tok == "v":
			f.Vocab = true
		case strings.HasPrefix(tok, "c"):
			name := strings.TrimPrefix(tok, "c")
			name = strings.TrimPrefix(name, "<")
			name = strings.TrimSuffix(name, ">")
			if name == "" {
				return AllFilter(), raw
			}
			f.Components = append(f.Components, name)
		default:
			return AllFilter(), raw
		}
	}
	return f, filename
}
