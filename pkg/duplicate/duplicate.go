// Package duplicate classifies the overlap between an incoming graph and an
// existing one, and resolves conflicting facts according to a Policy.
package duplicate

import (
	"cmp"
	"slices"

	"github.com/mannyrivera2010/go-ontovault/pkg/graph"
)

// Source says which graph an object was found in.
type Source string

const (
	SourceExisting Source = "existing"
	SourceNew      Source = "new"
	SourceBoth     Source = "both"
)

// Kind classifies a Duplicate.
type Kind string

const (
	// KindExact is a triple present verbatim in both graphs.
	KindExact Kind = "exact"
	// KindSimilar is an object of a (subject, predicate) pair whose object
	// sets differ between the graphs but still share at least one object.
	KindSimilar Kind = "similar"
	// KindConflict is an object of a (subject, predicate) pair whose object
	// sets are disjoint between the graphs.
	KindConflict Kind = "conflict"
)

// Duplicate is one overlapping fact.
type Duplicate struct {
	Subject   graph.Term `json:"subject"`
	Predicate graph.Term `json:"predicate"`
	Object    graph.Term `json:"object"`
	Source    Source     `json:"source"`
	Kind      Kind       `json:"kind"`
}

// Triple returns the statement the duplicate describes.
func (d Duplicate) Triple() graph.Triple {
	return graph.NewTriple(d.Subject, d.Predicate, d.Object)
}

// objectSets maps each (subject, predicate) pair to the set of its objects.
type objectSets map[graph.PairKey]map[graph.Term]struct{}

func index(g *graph.Graph) objectSets {
	idx := make(objectSets)
	g.Each(func(t graph.Triple) bool {
		k := t.Key()
		objs, ok := idx[k]
		if !ok {
			objs = make(map[graph.Term]struct{}, 1)
			idx[k] = objs
		}
		objs[t.Object] = struct{}{}
		return true
	})
	return idx
}

// Detect reports every exact duplicate between incoming and existing, and one
// entry per distinct object for every (subject, predicate) pair that occurs in
// both graphs with differing object sets. It runs in time linear in the size
// of both graphs. The result is ordered by kind (exact first), then by triple.
func Detect(incoming, existing *graph.Graph) []Duplicate {
	var out []Duplicate

	incoming.Each(func(t graph.Triple) bool {
		if existing.Contains(t) {
			out = append(out, Duplicate{
				Subject:   t.Subject,
				Predicate: t.Predicate,
				Object:    t.Object,
				Source:    SourceBoth,
				Kind:      KindExact,
			})
		}
		return true
	})

	newIdx, oldIdx := index(incoming), index(existing)
	for key, newObjs := range newIdx {
		oldObjs, ok := oldIdx[key]
		if !ok || sameSet(newObjs, oldObjs) {
			continue
		}
		kind := KindConflict
		if overlaps(newObjs, oldObjs) {
			kind = KindSimilar
		}
		for _, o := range unionKeys(newObjs, oldObjs) {
			_, inNew := newObjs[o]
			_, inOld := oldObjs[o]
			src := SourceBoth
			switch {
			case inNew && !inOld:
				src = SourceNew
			case inOld && !inNew:
				src = SourceExisting
			}
			out = append(out, Duplicate{
				Subject:   key.Subject,
				Predicate: key.Predicate,
				Object:    o,
				Source:    src,
				Kind:      kind,
			})
		}
	}

	slices.SortFunc(out, compareDuplicates)
	return out
}

var kindOrder = map[Kind]int{KindExact: 0, KindConflict: 1, KindSimilar: 2}

func compareDuplicates(a, b Duplicate) int {
	if c := cmp.Compare(kindOrder[a.Kind], kindOrder[b.Kind]); c != 0 {
		return c
	}
	if c := graph.Compare(a.Triple(), b.Triple()); c != 0 {
		return c
	}
	return cmp.Compare(a.Source, b.Source)
}

func sameSet(a, b map[graph.Term]struct{}) bool {
	if len(a) != len(b) {
		return false
	}
	for k := range a {
		if _, ok := b[k]; !ok {
			return false
		}
	}
	return true
}

func overlaps(a, b map[graph.Term]struct{}) bool {
	if len(b) < len(a) {
		a, b = b, a
	}
	for k := range a {
		if _, ok := b[k]; ok {
			return true
		}
	}
	return false
}

func unionKeys(a, b map[graph.Term]struct{}) []graph.Term {
	out := make([]graph.Term, 0, len(a)+len(b))
	for k := range a {
		out = append(out, k)
	}
	for k := range b {
		if _, ok := a[k]; !ok {
			out = append(out, k)
		}
	}
	return out
}

// Summary counts the entries returned by Detect.
type Summary struct {
	Exact    int `json:"exact"`
	Similar  int `json:"similar"`
	Conflict int `json:"conflict"`
	// ConflictKeys is the number of distinct (subject, predicate) pairs whose
	// object sets differ.
	ConflictKeys int `json:"conflict_keys"`
}

// Summarize tallies ds.
func Summarize(ds []Duplicate) Summary {
	var s Summary
	keys := make(map[graph.PairKey]struct{})
	for _, d := range ds {
		switch d.Kind {
		case KindExact:
			s.Exact++
			continue
		case KindSimilar:
			s.Similar++
		case KindConflict:
			s.Conflict++
		}
		keys[graph.PairKey{Subject: d.Subject, Predicate: d.Predicate}] = struct{}{}
	}
	s.ConflictKeys = len(keys)
	return s
}
