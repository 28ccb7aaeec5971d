// Package formats holds the compiled-in format catalog and the directed
// compatibility rules between formats.
package formats

import (
	"errors"
	"strings"
)

var ErrNotFound = errors.New("format not found")

// Registry indexes a catalog. The zero value is not usable; use Default or New.
type Registry struct {
	formats []Format
	byID    map[string]Format
}

// New builds a registry over the given formats. Later duplicates are ignored.
func New(list []Format) *Registry {
	r := &Registry{byID: make(map[string]Format, len(list))}
	for _, f := range list {
		key := normalize(f.ID)
		if _, exists := r.byID[key]; exists {
			continue
		}
		r.byID[key] = f
		r.formats = append(r.formats, f)
	}
	return r
}

var defaultRegistry = New(catalog)

// Default returns the registry over the built-in catalog.
func Default() *Registry { return defaultRegistry }

func normalize(s string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(s), "."))
}

// Lookup resolves an extension or id, case-insensitively and with an optional
// leading dot.
func (r *Registry) Lookup(extOrID string) (Format, error) {
	f, ok := r.byID[normalize(extOrID)]
	if !ok {
		return Format{}, ErrNotFound
	}
	return f, nil
}

// All returns every format in catalog order.
func (r *Registry) All() []Format {
	out := make([]Format, len(r.formats))
	copy(out, r.formats)
	return out
}

// ByCategory returns the formats of one category in catalog order.
func (r *Registry) ByCategory(cat Category) []Format {
	var out []Format
	for _, f := range r.formats {
		if f.Category == cat {
			out = append(out, f)
		}
	}
	return out
}

// Match returns the first rule allowing source to be converted into target.
func (r *Registry) Match(source, target Format) (Rule, bool) {
	if source.ID == target.ID {
		return Rule{}, false
	}
	if source.Category == target.Category {
		fam, ok := sameCategoryFamily[source.Category]
		if !ok {
			return Rule{}, false
		}
		return Rule{Name: "same-category", Family: fam}, true
	}
	for _, rule := range rules {
		if rule.match(source, target) {
			return rule, true
		}
	}
	return Rule{}, false
}

// IsCompatible reports whether any rule allows source → target.
func (r *Registry) IsCompatible(source, target Format) bool {
	_, ok := r.Match(source, target)
	return ok
}

// Targets lists every format source can be converted into.
func (r *Registry) Targets(source Format) []Format {
	var out []Format
	for _, t := range r.formats {
		if r.IsCompatible(source, t) {
			out = append(out, t)
		}
	}
	return out
}

// Pairs enumerates every compatible (source, target) pair.
func (r *Registry) Pairs() [][2]Format {
	var out [][2]Format
	for _, s := range r.formats {
		for _, t := range r.Targets(s) {
			out = append(out, [2]Format{s, t})
		}
	}
	return out
}
