package graph

import (
	"maps"
	"slices"
)

// Graph is a set of triples plus namespace bindings. Bindings are only used
// for serialization and never take part in equality.
//
// A Graph is not safe for concurrent mutation; the set operations below never
// mutate their receiver or argument.
type Graph struct {
	triples    map[Triple]struct{}
	namespaces map[string]string
}

// New returns an empty graph with no namespace bindings.
func New() *Graph {
	return &Graph{
		triples:    make(map[Triple]struct{}),
		namespaces: make(map[string]string),
	}
}

// FromTriples builds a graph holding the given triples. Repeated triples
// collapse into one.
func FromTriples(ts ...Triple) *Graph {
	g := New()
	for _, t := range ts {
		g.Add(t)
	}
	return g
}

// --- Mutation ---

// Add inserts t and reports whether it was not already present.
func (g *Graph) Add(t Triple) bool {
	if _, ok := g.triples[t]; ok {
		return false
	}
	g.triples[t] = struct{}{}
	return true
}

// Remove deletes t and reports whether it was present.
func (g *Graph) Remove(t Triple) bool {
	if _, ok := g.triples[t]; !ok {
		return false
	}
	delete(g.triples, t)
	return true
}

// Bind associates prefix with a namespace IRI.
func (g *Graph) Bind(prefix, iri string) {
	g.namespaces[prefix] = iri
}

// BindAll copies every binding in ns onto g.
func (g *Graph) BindAll(ns map[string]string) {
	maps.Copy(g.namespaces, ns)
}

// --- Queries ---

// Len returns the number of triples.
func (g *Graph) Len() int {
	if g == nil {
		return 0
	}
	return len(g.triples)
}

// Contains reports whether t is a member of the graph.
func (g *Graph) Contains(t Triple) bool {
	if g == nil {
		return false
	}
	_, ok := g.triples[t]
	return ok
}

// Namespaces returns a copy of the prefix bindings.
func (g *Graph) Namespaces() map[string]string {
	return maps.Clone(g.namespaces)
}

// Each calls fn for every triple in unspecified order. Iteration stops when
// fn returns false.
func (g *Graph) Each(fn func(Triple) bool) {
	if g == nil {
		return
	}
	for t := range g.triples {
		if !fn(t) {
			return
		}
	}
}

// Triples returns the triples sorted with Compare, giving a deterministic order.
func (g *Graph) Triples() []Triple {
	if g == nil {
		return nil
	}
	out := slices.Collect(maps.Keys(g.triples))
	slices.SortFunc(out, Compare)
	return out
}

// Objects returns the objects asserted for (s, p).
func (g *Graph) Objects(s, p Term) []Term {
	var out []Term
	g.Each(func(t Triple) bool {
		if t.Subject == s && t.Predicate == p {
			out = append(out, t.Object)
		}
		return true
	})
	return out
}

// Subjects returns the subjects that have predicate p with object o.
func (g *Graph) Subjects(p, o Term) []Term {
	var out []Term
	g.Each(func(t Triple) bool {
		if t.Predicate == p && t.Object == o {
			out = append(out, t.Subject)
		}
		return true
	})
	slices.SortFunc(out, compareTerm)
	return out
}

// --- Set algebra ---

// Clone returns a deep copy of g.
func (g *Graph) Clone() *Graph {
	return &Graph{
		triples:    maps.Clone(g.triples),
		namespaces: maps.Clone(g.namespaces),
	}
}

// Union returns a new graph with the triples of g and other. Bindings of g
// win over bindings of other for the same prefix.
func (g *Graph) Union(other *Graph) *Graph {
	out := g.Clone()
	if other == nil {
		return out
	}
	for t := range other.triples {
		out.triples[t] = struct{}{}
	}
	for prefix, iri := range other.namespaces {
		if _, ok := out.namespaces[prefix]; !ok {
			out.namespaces[prefix] = iri
		}
	}
	return out
}

// Difference returns the triples of g that are not in other.
func (g *Graph) Difference(other *Graph) *Graph {
	out := New()
	out.BindAll(g.namespaces)
	for t := range g.triples {
		if !other.Contains(t) {
			out.triples[t] = struct{}{}
		}
	}
	return out
}

// Intersection returns the triples present in both g and other.
func (g *Graph) Intersection(other *Graph) *Graph {
	out := New()
	out.BindAll(g.namespaces)
	for t := range g.triples {
		if other.Contains(t) {
			out.triples[t] = struct{}{}
		}
	}
	return out
}

// Equal reports whether g and other hold the same triples.
func (g *Graph) Equal(other *Graph) bool {
	if g.Len() != other.Len() {
		return false
	}
	for t := range g.triples {
		if !other.Contains(t) {
			return false
		}
	}
	return true
}

// MergeAll returns the union of every graph in gs.
func MergeAll(gs ...*Graph) *Graph {
	out := New()
	for _, g := range gs {
		if g == nil {
			continue
		}
		for t := range g.triples {
			out.triples[t] = struct{}{}
		}
		for prefix, iri := range g.namespaces {
			if _, ok := out.namespaces[prefix]; !ok {
				out.namespaces[prefix] = iri
			}
		}
	}
	return out
}
