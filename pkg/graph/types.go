// Package graph defines the in-memory triple set used by ontovault: the
// Term and Triple value types, the Graph set with namespace bindings, and the
// Codec boundary that turns bytes into graphs and back.
package graph

import (
	"strconv"
	"strings"
)

// TermKind identifies which RDF node type a Term holds.
type TermKind uint8

const (
	KindIRI TermKind = iota + 1
	KindBlank
	KindLiteral
)

// String returns the lowercase name of the kind.
func (k TermKind) String() string {
	switch k {
	case KindIRI:
		return "iri"
	case KindBlank:
		return "blank"
	case KindLiteral:
		return "literal"
	default:
		return "unknown"
	}
}

// Term is a single RDF node. It is a comparable value type so that triples
// can be used directly as map keys.
type Term struct {
	Kind  TermKind `json:"kind"`
	Value string   `json:"value"`
	// Language is the language tag of a literal, empty otherwise.
	Language string `json:"language,omitempty"`
	// Datatype is the datatype IRI of a typed literal. Plain xsd:string
	// literals are stored with an empty Datatype.
	Datatype string `json:"datatype,omitempty"`
}

// IRI returns an IRI term.
func IRI(v string) Term {
	return Term{Kind: KindIRI, Value: v}
}

// Blank returns a blank node term. A leading "_:" is stripped.
func Blank(id string) Term {
	return Term{Kind: KindBlank, Value: strings.TrimPrefix(id, "_:")}
}

// Literal returns a plain string literal.
func Literal(v string) Term {
	return Term{Kind: KindLiteral, Value: v}
}

// LangLiteral returns a language-tagged literal.
func LangLiteral(v, lang string) Term {
	return Term{Kind: KindLiteral, Value: v, Language: strings.ToLower(lang)}
}

// TypedLiteral returns a literal with the given datatype IRI.
func TypedLiteral(v, datatype string) Term {
	if datatype == XSDString {
		datatype = ""
	}
	return Term{Kind: KindLiteral, Value: v, Datatype: datatype}
}

func (t Term) IsIRI() bool     { return t.Kind == KindIRI }
func (t Term) IsLiteral() bool { return t.Kind == KindLiteral }

// String renders the term in N-Triples form.
func (t Term) String() string {
	switch t.Kind {
	case KindIRI:
		return "<" + t.Value + ">"
	case KindBlank:
		return "_:" + t.Value
	case KindLiteral:
		s := strconv.Quote(t.Value)
		if t.Language != "" {
			return s + "@" + t.Language
		}
		if t.Datatype != "" {
			return s + "^^<" + t.Datatype + ">"
		}
		return s
	default:
		return ""
	}
}

// Triple represents a single, atomic RDF statement.
// It is the fundamental unit of data in the system.
type Triple struct {
	Subject   Term `json:"subject"`
	Predicate Term `json:"predicate"`
	Object    Term `json:"object"`
}

// NewTriple builds a triple from its three terms.
func NewTriple(s, p, o Term) Triple {
	return Triple{Subject: s, Predicate: p, Object: o}
}

// String renders the triple as a single N-Triples statement.
func (t Triple) String() string {
	return t.Subject.String() + " " + t.Predicate.String() + " " + t.Object.String() + " ."
}

// Key returns the (subject, predicate) pair of the triple.
func (t Triple) Key() PairKey {
	return PairKey{Subject: t.Subject, Predicate: t.Predicate}
}

// PairKey groups triples that share a subject and predicate.
type PairKey struct {
	Subject   Term
	Predicate Term
}

// Compare orders triples by subject, predicate and object rendering.
func Compare(a, b Triple) int {
	if c := compareTerm(a.Subject, b.Subject); c != 0 {
		return c
	}
	if c := compareTerm(a.Predicate, b.Predicate); c != 0 {
		return c
	}
	return compareTerm(a.Object, b.Object)
}

func compareTerm(a, b Term) int {
	if a.Kind != b.Kind {
		if a.Kind < b.Kind {
			return -1
		}
		return 1
	}
	if c := strings.Compare(a.Value, b.Value); c != 0 {
		return c
	}
	if c := strings.Compare(a.Language, b.Language); c != 0 {
		return c
	}
	return strings.Compare(a.Datatype, b.Datatype)
}
