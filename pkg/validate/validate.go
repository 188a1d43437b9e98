// Package validate checks persisted graph files. It never returns an error
// for a missing or unparseable file: those outcomes are reported in a Result
// so callers can decide whether to repair.
package validate

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/go-git/go-billy/v5"
	"github.com/mannyrivera2010/go-ontovault/internal/fsutil"
	"github.com/mannyrivera2010/go-ontovault/pkg/graph"
	"github.com/pkg/errors"
)

// Result is the outcome of validating one file.
type Result struct {
	Valid         bool     `json:"is_valid"`
	Errors        []string `json:"errors"`
	Warnings      []string `json:"warnings"`
	TripleCount   int      `json:"triple_count"`
	ClassCount    int      `json:"class_count"`
	PropertyCount int      `json:"property_count"`
}

// Config holds configuration for a Validator.
type Config struct {
	// Codec parses files. Defaults to a Turtle codec for the default namespace.
	Codec graph.Codec
	// ParseTimeout bounds how long a single parse may take. Zero means no limit
	// beyond the caller's context.
	ParseTimeout time.Duration
	// Logger receives structured log output. Defaults to slog.Default().
	Logger *slog.Logger
}

// Validator parses graph files and runs schema-quality checks on them.
type Validator struct {
	fs     billy.Filesystem
	codec  graph.Codec
	cfg    Config
	logger *slog.Logger
}

// New returns a Validator reading through fs.
func New(fs billy.Filesystem, cfg Config) *Validator {
	if cfg.Codec == nil {
		cfg.Codec = graph.NewTurtleCodec(graph.DefaultBaseNamespace)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Validator{fs: fs, codec: cfg.Codec, cfg: cfg, logger: cfg.Logger}
}

// Validate parses path and reports its statistics and quality warnings.
func (v *Validator) Validate(ctx context.Context, path string) Result {
	_, res := v.Load(ctx, path)
	return res
}

// Load is Validate that also returns the parsed graph. The graph is nil
// whenever the file could not be read or parsed.
func (v *Validator) Load(ctx context.Context, path string) (*graph.Graph, Result) {
	res := Result{Errors: []string{}, Warnings: []string{}}

	data, err := fsutil.ReadFile(v.fs, path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			res.Errors = append(res.Errors, fmt.Sprintf("file not found: %s", path))
		} else {
			res.Errors = append(res.Errors, fmt.Sprintf("reading %s: %v", path, err))
		}
		v.logger.Warn("Validation failed", "path", path, "error", res.Errors[0])
		return nil, res
	}

	g, err := v.parse(ctx, data)
	if err != nil {
		switch {
		case errors.Is(err, graph.ErrSyntax):
			res.Errors = append(res.Errors, fmt.Sprintf("syntax error: %v", err))
		case errors.Is(err, context.DeadlineExceeded):
			res.Errors = append(res.Errors, fmt.Sprintf("parse timed out: %v", err))
		default:
			res.Errors = append(res.Errors, fmt.Sprintf("validation aborted: %v", err))
		}
		v.logger.Warn("Validation failed", "path", path, "error", res.Errors[0])
		return nil, res
	}

	Check(g, &res)
	res.Valid = len(res.Errors) == 0
	v.logger.Debug("Validated graph file",
		"path", path,
		"valid", res.Valid,
		"triples", res.TripleCount,
		"classes", res.ClassCount,
		"properties", res.PropertyCount,
		"warnings", len(res.Warnings))
	return g, res
}

// parse decodes data, giving up when ctx or the configured parse timeout
// expires. An abandoned decode finishes in the background and is discarded.
func (v *Validator) parse(ctx context.Context, data []byte) (*graph.Graph, error) {
	if v.cfg.ParseTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, v.cfg.ParseTimeout)
		defer cancel()
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	type parsed struct {
		g   *graph.Graph
		err error
	}
	done := make(chan parsed, 1)
	go func() {
		g, err := graph.Unmarshal(v.codec, data)
		done <- parsed{g, err}
	}()

	select {
	case p := <-done:
		return p.g, p.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Check fills the statistics and warnings of res from g in a single pass
// over its triples.
func Check(g *graph.Graph, res *Result) {
	rdfType := graph.IRI(graph.RDFType)
	kinds := map[graph.Term]string{
		graph.IRI(graph.OWLClass):            "class",
		graph.IRI(graph.OWLDatatypeProperty): "datatype property",
		graph.IRI(graph.OWLObjectProperty):   "object property",
	}
	described := map[graph.Term]bool{
		graph.IRI(graph.RDFSLabel):  true,
		graph.IRI(graph.RDFSDomain): true,
		graph.IRI(graph.RDFSRange):  true,
	}

	typed := make(map[string][]graph.Term, len(kinds))
	has := make(map[[2]graph.Term]bool)
	g.Each(func(t graph.Triple) bool {
		if t.Predicate == rdfType {
			if kind, ok := kinds[t.Object]; ok {
				typed[kind] = append(typed[kind], t.Subject)
			}
		}
		if described[t.Predicate] {
			has[[2]graph.Term{t.Subject, t.Predicate}] = true
		}
		return true
	})
	missing := func(s graph.Term, p string) bool {
		return !has[[2]graph.Term{s, graph.IRI(p)}]
	}

	res.TripleCount = g.Len()
	for _, terms := range typed {
		slices.SortFunc(terms, func(a, b graph.Term) int {
			return strings.Compare(a.String(), b.String())
		})
	}

	res.ClassCount = len(typed["class"])
	for _, c := range typed["class"] {
		if missing(c, graph.RDFSLabel) {
			res.Warnings = append(res.Warnings, fmt.Sprintf("class %s has no label", c))
		}
	}
	for _, kind := range []string{"datatype property", "object property"} {
		res.PropertyCount += len(typed[kind])
		for _, p := range typed[kind] {
			if missing(p, graph.RDFSDomain) {
				res.Warnings = append(res.Warnings, fmt.Sprintf("%s %s has no domain", kind, p))
			}
			if missing(p, graph.RDFSRange) {
				res.Warnings = append(res.Warnings, fmt.Sprintf("%s %s has no range", kind, p))
			}
		}
	}
}
