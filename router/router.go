// Package router resolves a (source, target) pair to the single strategy that
// serves it.
package router

import (
	"errors"
	"fmt"

	"fileconvert/apperrors"
	"fileconvert/converters"
	"fileconvert/formats"
)

type Router struct {
	registry   *formats.Registry
	strategies map[formats.Family]converters.Strategy
}

// Route is a resolved conversion.
type Route struct {
	Source   formats.Format
	Target   formats.Format
	Rule     formats.Rule
	Strategy converters.Strategy
}

// NewRouter fails unless every family has exactly one strategy.
func NewRouter(registry *formats.Registry, strategies ...converters.Strategy) (*Router, error) {
	r := &Router{registry: registry, strategies: make(map[formats.Family]converters.Strategy, len(strategies))}
	for _, s := range strategies {
		if _, dup := r.strategies[s.Family()]; dup {
			return nil, fmt.Errorf("duplicate strategy for family %s", s.Family())
		}
		r.strategies[s.Family()] = s
	}
	for _, fam := range formats.Families {
		if _, ok := r.strategies[fam]; !ok {
			return nil, fmt.Errorf("no strategy registered for family %s", fam)
		}
	}
	return r, nil
}

// Resolve looks both formats up and matches them against the rule table.
func (r *Router) Resolve(source, target string) (Route, error) {
	src, err := r.lookup(source)
	if err != nil {
		return Route{}, err
	}
	dst, err := r.lookup(target)
	if err != nil {
		return Route{}, err
	}
	rule, ok := r.registry.Match(src, dst)
	if !ok {
		return Route{}, &apperrors.IncompatiblePairError{Source: src.ID, Target: dst.ID}
	}
	return Route{Source: src, Target: dst, Rule: rule, Strategy: r.strategies[rule.Family]}, nil
}

// Route returns the strategy for source → target.
func (r *Router) Route(source, target string) (converters.Strategy, error) {
	route, err := r.Resolve(source, target)
	if err != nil {
		return nil, err
	}
	return route.Strategy, nil
}

func (r *Router) Registry() *formats.Registry { return r.registry }

// Targets lists the formats source can be converted into: the pairs the rule
// table allows, minus those the serving strategy reports it cannot produce.
func (r *Router) Targets(source formats.Format) []formats.Format {
	var out []formats.Format
	for _, t := range r.registry.Targets(source) {
		if r.produces(source, t) {
			out = append(out, t)
		}
	}
	return out
}

func (r *Router) produces(source, target formats.Format) bool {
	rule, ok := r.registry.Match(source, target)
	if !ok {
		return false
	}
	p, ok := r.strategies[rule.Family].(converters.Producer)
	return !ok || p.Produces(source, target)
}

func (r *Router) lookup(id string) (formats.Format, error) {
	f, err := r.registry.Lookup(id)
	if errors.Is(err, formats.ErrNotFound) {
		return formats.Format{}, &apperrors.UnknownFormatError{Format: id}
	}
	return f, err
}
