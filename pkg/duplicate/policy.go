package duplicate

import (
	"github.com/mannyrivera2010/go-ontovault/pkg/graph"
	"github.com/pkg/errors"
)

// Policy decides what happens to conflicting facts when two graphs merge.
type Policy string

const (
	// PolicyUnion keeps every object from both graphs. It never loses data.
	PolicyUnion Policy = "union"
	// PolicyLastWriterWins replaces the existing objects of every differing
	// (subject, predicate) pair with the incoming ones. It is the only
	// policy that removes existing triples.
	PolicyLastWriterWins Policy = "last-writer-wins"
	// PolicyReject refuses the merge when any pair differs.
	PolicyReject Policy = "reject"
)

// Policies lists every supported policy.
var Policies = []Policy{PolicyUnion, PolicyLastWriterWins, PolicyReject}

// ErrConflictsRejected is returned by Resolve under PolicyReject.
var ErrConflictsRejected = errors.New("conflicting facts rejected")

// ParsePolicy converts a configuration string into a Policy. The empty
// string selects PolicyUnion.
func ParsePolicy(s string) (Policy, error) {
	if s == "" {
		return PolicyUnion, nil
	}
	for _, p := range Policies {
		if string(p) == s {
			return p, nil
		}
	}
	return "", errors.Errorf("unknown conflict policy %q", s)
}

// Resolve merges incoming into existing under p. ds must be the result of
// Detect(incoming, existing). Neither input graph is modified.
func Resolve(p Policy, existing, incoming *graph.Graph, ds []Duplicate) (*graph.Graph, error) {
	switch p {
	case PolicyUnion, "":
		return existing.Union(incoming), nil

	case PolicyReject:
		if s := Summarize(ds); s.ConflictKeys > 0 {
			return nil, errors.Wrapf(ErrConflictsRejected,
				"%d subject/predicate pairs differ (%d conflict, %d similar)", s.ConflictKeys, s.Conflict, s.Similar)
		}
		return existing.Union(incoming), nil

	case PolicyLastWriterWins:
		merged := existing.Clone()
		for _, d := range ds {
			if d.Kind != KindExact && d.Source == SourceExisting {
				merged.Remove(d.Triple())
			}
		}
		return merged.Union(incoming), nil

	default:
		return nil, errors.Errorf("unknown conflict policy %q", string(p))
	}
}
