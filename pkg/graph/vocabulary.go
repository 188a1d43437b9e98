package graph

// Namespace IRIs bound on every graph written by ontovault.
const (
	RDFNamespace  = "http://www.w3.org/1999/02/22-rdf-syntax-ns#"
	RDFSNamespace = "http://www.w3.org/2000/01/rdf-schema#"
	OWLNamespace  = "http://www.w3.org/2002/07/owl#"
	XSDNamespace  = "http://www.w3.org/2001/XMLSchema#"

	// DefaultBaseNamespace is the diet ontology namespace.
	DefaultBaseNamespace = "http://example.org/diet#"
)

// Vocabulary terms consulted by the validator.
const (
	RDFType = RDFNamespace + "type"

	RDFSLabel      = RDFSNamespace + "label"
	RDFSComment    = RDFSNamespace + "comment"
	RDFSDomain     = RDFSNamespace + "domain"
	RDFSRange      = RDFSNamespace + "range"
	RDFSSubClassOf = RDFSNamespace + "subClassOf"

	OWLClass            = OWLNamespace + "Class"
	OWLDatatypeProperty = OWLNamespace + "DatatypeProperty"
	OWLObjectProperty   = OWLNamespace + "ObjectProperty"

	XSDString  = XSDNamespace + "string"
	XSDDecimal = XSDNamespace + "decimal"
)

// DefaultNamespaces returns the standard prefix bindings with base bound to
// the empty prefix.
func DefaultNamespaces(base string) map[string]string {
	if base == "" {
		base = DefaultBaseNamespace
	}
	return map[string]string{
		"":     base,
		"rdf":  RDFNamespace,
		"rdfs": RDFSNamespace,
		"owl":  OWLNamespace,
		"xsd":  XSDNamespace,
	}
}
