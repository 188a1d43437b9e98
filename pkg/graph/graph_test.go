package graph

import (
	"bytes"
	"fmt"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const diet = DefaultBaseNamespace

func food(n int) Triple {
	return NewTriple(IRI(fmt.Sprintf("%sfood%d", diet, n)), IRI(RDFType), IRI(diet+"Food"))
}

func TestGraph_SetSemantics(t *testing.T) {
	g := New()
	assert.True(t, g.Add(food(1)))
	assert.False(t, g.Add(food(1)), "structurally equal triple must not be added twice")
	assert.Equal(t, 1, g.Len())

	// Equality is structural, not by identity.
	copyOf := NewTriple(IRI(diet+"food1"), IRI(RDFType), IRI(diet+"Food"))
	assert.True(t, g.Contains(copyOf))

	assert.True(t, g.Remove(copyOf))
	assert.False(t, g.Contains(food(1)))
	assert.Equal(t, 0, g.Len())
}

func TestGraph_LiteralEquality(t *testing.T) {
	plain := Literal("사과")
	typed := TypedLiteral("사과", XSDString)
	assert.Equal(t, plain, typed, "xsd:string literals normalize to plain literals")
	assert.NotEqual(t, plain, LangLiteral("사과", "ko"))
	assert.Equal(t, LangLiteral("x", "KO"), LangLiteral("x", "ko"))
}

func TestGraph_SetAlgebra(t *testing.T) {
	a := FromTriples(food(1), food(2), food(3))
	b := FromTriples(food(3), food(4))

	union := a.Union(b)
	assert.Equal(t, 4, union.Len())
	assert.Equal(t, 3, a.Len(), "union must not mutate the receiver")
	assert.Equal(t, 2, b.Len(), "union must not mutate the argument")

	diff := a.Difference(b)
	if d := cmp.Diff([]Triple{food(1), food(2)}, diff.Triples()); d != "" {
		t.Errorf("Difference() mismatch (-want +got):\n%s", d)
	}

	inter := a.Intersection(b)
	assert.Equal(t, []Triple{food(3)}, inter.Triples())

	assert.True(t, a.Union(b).Equal(b.Union(a)))
	assert.Equal(t, 0, New().Difference(a).Len())
}

func TestGraph_NamespacesNotPartOfEquality(t *testing.T) {
	a := FromTriples(food(1))
	b := FromTriples(food(1))
	a.Bind("diet", diet)
	assert.True(t, a.Equal(b))

	b.Bind("diet", "http://other.example/#")
	u := a.Union(b)
	assert.Equal(t, diet, u.Namespaces()["diet"], "receiver bindings win")
}

func TestGraph_Queries(t *testing.T) {
	apple := IRI(diet + "apple")
	g := FromTriples(
		NewTriple(apple, IRI(RDFSLabel), LangLiteral("사과", "ko")),
		NewTriple(apple, IRI(RDFSLabel), Literal("apple")),
		NewTriple(apple, IRI(RDFType), IRI(OWLClass)),
	)
	assert.Len(t, g.Objects(apple, IRI(RDFSLabel)), 2)
	assert.Equal(t, []Term{apple}, g.Subjects(IRI(RDFType), IRI(OWLClass)))
	assert.NotEmpty(t, g.Objects(apple, IRI(RDFType)))
	assert.Empty(t, g.Objects(apple, IRI(RDFSDomain)))
}

func TestMergeAll(t *testing.T) {
	merged := MergeAll(FromTriples(food(1)), nil, FromTriples(food(1), food(2)), FromTriples(food(3)))
	assert.Equal(t, 3, merged.Len())
}

func TestTurtleCodec_RoundTrip(t *testing.T) {
	codec := NewTurtleCodec(diet)
	apple := IRI(diet + "apple")
	g := New()
	g.BindAll(DefaultNamespaces(diet))
	g.Add(NewTriple(apple, IRI(RDFType), IRI(diet+"Food")))
	g.Add(NewTriple(apple, IRI(RDFSLabel), LangLiteral("사과", "ko")))
	g.Add(NewTriple(apple, IRI(diet+"hasCategory"), Literal("과일")))
	g.Add(NewTriple(apple, IRI(diet+"hasCaloriesPer100g"), TypedLiteral("52.0", XSDDecimal)))

	data, err := Marshal(codec, g)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), "@prefix : <"+diet+"> ."))

	back, err := Unmarshal(codec, data)
	require.NoError(t, err)
	if d := cmp.Diff(g.Triples(), back.Triples()); d != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", d)
	}

	again, err := Marshal(codec, back)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(data, again), "encoding must be deterministic")
}

func TestTurtleCodec_DecodePrefixedDocument(t *testing.T) {
	doc := `@prefix : <http://example.org/diet#> .
@prefix rdf: <http://www.w3.org/1999/02/22-rdf-syntax-ns#> .
@prefix rdfs: <http://www.w3.org/2000/01/rdf-schema#> .
@prefix owl: <http://www.w3.org/2002/07/owl#> .

:Food rdf:type owl:Class ;
    rdfs:label "Food"@en .
`
	g, err := NewTurtleCodec(diet).Decode(strings.NewReader(doc))
	require.NoError(t, err)
	assert.Equal(t, 2, g.Len())
	assert.True(t, g.Contains(NewTriple(IRI(diet+"Food"), IRI(RDFType), IRI(OWLClass))))
	assert.Equal(t, diet, g.Namespaces()[""])
}

func TestTurtleCodec_SyntaxError(t *testing.T) {
	_, err := NewTurtleCodec(diet).Decode(strings.NewReader("this is { not turtle <<< ."))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSyntax)
}
