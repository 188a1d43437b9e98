package graph

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/knakk/rdf"
	"github.com/pkg/errors"
)

// Codec converts between serialized bytes and a Graph.
type Codec interface {
	// Decode parses r into a new graph.
	Decode(r io.Reader) (*Graph, error)
	// Encode writes g to w. Encoding the same graph twice yields identical bytes.
	Encode(w io.Writer, g *Graph) error
}

// ErrSyntax wraps every parse failure returned by a Codec.
var ErrSyntax = errors.New("graph syntax invalid")

// TurtleCodec reads Turtle and writes a Turtle document made of @prefix
// directives followed by one statement per line in N-Triples form.
type TurtleCodec struct {
	// Namespaces are bound on every decoded graph, since the parser does not
	// surface the document's own prefixes.
	Namespaces map[string]string
}

var _ Codec = TurtleCodec{}

// NewTurtleCodec returns a codec that binds the default namespaces for base.
func NewTurtleCodec(base string) TurtleCodec {
	return TurtleCodec{Namespaces: DefaultNamespaces(base)}
}

// Decode parses a Turtle document.
func (c TurtleCodec) Decode(r io.Reader) (*Graph, error) {
	g := New()
	g.BindAll(c.Namespaces)
	dec := rdf.NewTripleDecoder(r, rdf.Turtle)
	for {
		rt, err := dec.Decode()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.Wrapf(ErrSyntax, "%v", err)
		}
		t, err := fromRDF(rt)
		if err != nil {
			return nil, errors.Wrapf(ErrSyntax, "%v", err)
		}
		g.Add(t)
	}
	return g, nil
}

// Encode writes g as Turtle, sorted for stable output.
func (c TurtleCodec) Encode(w io.Writer, g *Graph) error {
	bw := bufio.NewWriter(w)
	ns := g.Namespaces()
	prefixes := make([]string, 0, len(ns))
	for p := range ns {
		prefixes = append(prefixes, p)
	}
	slices.Sort(prefixes)
	for _, p := range prefixes {
		if _, err := fmt.Fprintf(bw, "@prefix %s: <%s> .\n", p, ns[p]); err != nil {
			return errors.Wrap(err, "writing prefix")
		}
	}
	if len(prefixes) > 0 {
		if _, err := bw.WriteString("\n"); err != nil {
			return errors.Wrap(err, "writing prefix")
		}
	}
	enc := rdf.NewTripleEncoder(bw, rdf.NTriples)
	for _, t := range g.Triples() {
		rt, err := toRDF(t)
		if err != nil {
			return err
		}
		if err := enc.Encode(rt); err != nil {
			return errors.Wrapf(err, "encoding %s", t)
		}
	}
	if err := enc.Close(); err != nil {
		return errors.Wrap(err, "closing encoder")
	}
	return bw.Flush()
}

// Marshal encodes g to a byte slice.
func Marshal(c Codec, g *Graph) ([]byte, error) {
	var buf bytes.Buffer
	if err := c.Encode(&buf, g); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Unmarshal decodes a byte slice.
func Unmarshal(c Codec, data []byte) (*Graph, error) {
	return c.Decode(bytes.NewReader(data))
}

func fromRDF(t rdf.Triple) (Triple, error) {
	s, err := fromTerm(t.Subj)
	if err != nil {
		return Triple{}, err
	}
	p, err := fromTerm(t.Pred)
	if err != nil {
		return Triple{}, err
	}
	o, err := fromTerm(t.Obj)
	if err != nil {
		return Triple{}, err
	}
	return NewTriple(s, p, o), nil
}

func fromTerm(t rdf.Term) (Term, error) {
	switch v := t.(type) {
	case rdf.IRI:
		return IRI(v.String()), nil
	case rdf.Blank:
		return Blank(v.String()), nil
	case rdf.Literal:
		if lang := v.Lang(); lang != "" {
			return LangLiteral(v.String(), lang), nil
		}
		return TypedLiteral(v.String(), v.DataType.String()), nil
	default:
		return Term{}, errors.Errorf("unsupported term %v", t)
	}
}

func toRDF(t Triple) (rdf.Triple, error) {
	s, err := toTerm(t.Subject)
	if err != nil {
		return rdf.Triple{}, err
	}
	p, err := toTerm(t.Predicate)
	if err != nil {
		return rdf.Triple{}, err
	}
	o, err := toTerm(t.Object)
	if err != nil {
		return rdf.Triple{}, err
	}
	subj, ok := s.(rdf.Subject)
	if !ok {
		return rdf.Triple{}, errors.Errorf("term %s cannot be a subject", t.Subject)
	}
	pred, ok := p.(rdf.Predicate)
	if !ok {
		return rdf.Triple{}, errors.Errorf("term %s cannot be a predicate", t.Predicate)
	}
	obj, ok := o.(rdf.Object)
	if !ok {
		return rdf.Triple{}, errors.Errorf("term %s cannot be an object", t.Object)
	}
	return rdf.Triple{Subj: subj, Pred: pred, Obj: obj}, nil
}

func toTerm(t Term) (rdf.Term, error) {
	switch t.Kind {
	case KindIRI:
		iri, err := rdf.NewIRI(t.Value)
		if err != nil {
			return nil, errors.Wrapf(err, "iri %q", t.Value)
		}
		return iri, nil
	case KindBlank:
		b, err := rdf.NewBlank(strings.TrimPrefix(t.Value, "_:"))
		if err != nil {
			return nil, errors.Wrapf(err, "blank node %q", t.Value)
		}
		return b, nil
	case KindLiteral:
		if t.Language != "" {
			l, err := rdf.NewLangLiteral(t.Value, t.Language)
			if err != nil {
				return nil, errors.Wrapf(err, "literal %q", t.Value)
			}
			return l, nil
		}
		dt := t.Datatype
		if dt == "" {
			dt = XSDString
		}
		iri, err := rdf.NewIRI(dt)
		if err != nil {
			return nil, errors.Wrapf(err, "datatype %q", dt)
		}
		return rdf.NewTypedLiteral(t.Value, iri), nil
	default:
		return nil, errors.Errorf("unknown term kind %d", t.Kind)
	}
}
