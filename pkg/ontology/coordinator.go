// Package ontology merges newly derived graphs into long-lived graph files.
//
// Every destructive write is preceded by a verified backup and followed by
// re-validation. Writes to the same file are serialized by a per-path lock
// and replace the file atomically.
package ontology

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-git/go-billy/v5"
	"github.com/mannyrivera2010/go-ontovault/internal/fsutil"
	"github.com/mannyrivera2010/go-ontovault/pkg/backup"
	"github.com/mannyrivera2010/go-ontovault/pkg/duplicate"
	"github.com/mannyrivera2010/go-ontovault/pkg/graph"
	"github.com/mannyrivera2010/go-ontovault/pkg/validate"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Config holds configuration for a Coordinator.
type Config struct {
	// Codec serializes graphs. Defaults to a Turtle codec for the default namespace.
	Codec graph.Codec
	// Validator checks files before and after a merge. Defaults to a
	// validator using Codec.
	Validator *validate.Validator
	// Backups snapshots target files. Required.
	Backups *backup.Manager
	// Strategy names the backups taken before a merge.
	Strategy backup.Strategy
	// Policy resolves conflicting facts. Defaults to duplicate.PolicyUnion.
	Policy duplicate.Policy
	// FallbackDirs are tried in order when writing a target file fails.
	// Relative entries are resolved against the target's directory.
	// Defaults to DefaultFallbackDirs().
	FallbackDirs []string
	// WatchDebounce is how long Watch waits for further events before
	// re-validating. Defaults to 100ms.
	WatchDebounce time.Duration
	// Logger receives structured log output. Defaults to slog.Default().
	Logger *slog.Logger
	// Metrics, if set, is updated by every operation.
	Metrics *Metrics
	// Tracer creates spans. Defaults to the global otel tracer.
	Tracer trace.Tracer
}

// MergeResult reports the outcome of Merge.
type MergeResult struct {
	Success              bool                  `json:"success"`
	Target               string                `json:"target"`
	ActualPath           string                `json:"actual_path"`
	UsedFallback         bool                  `json:"used_fallback"`
	MergedTripleCount    int                   `json:"merged_triple_count"`
	NewTripleCount       int                   `json:"new_triple_count"`
	DuplicateTripleCount int                   `json:"duplicate_triple_count"`
	BackupID             string                `json:"backup_id,omitempty"`
	BackupPath           string                `json:"backup_path,omitempty"`
	Repaired             bool                  `json:"repaired"`
	Duplicates           []duplicate.Duplicate `json:"duplicates"`
	Summary              duplicate.Summary     `json:"summary"`
	Validation           validate.Result       `json:"validation"`
	Errors               []string              `json:"errors"`
	Warnings             []string              `json:"warnings"`
}

// Coordinator loads, merges, saves and repairs graph files.
//
// All methods are safe for concurrent use. Operations on the same target
// file are serialized.
type Coordinator struct {
	fs        billy.Filesystem
	cfg       Config
	codec     graph.Codec
	bindings  map[string]string
	validator *validate.Validator
	backups   *backup.Manager
	locks     *fsutil.PathLocker
	logger    *slog.Logger
	metrics   *Metrics
	tracer    trace.Tracer
	stats     counters
}

// New creates a Coordinator working through fs.
func New(fs billy.Filesystem, cfg Config) (*Coordinator, error) {
	if fs == nil {
		return nil, errors.New("filesystem is required")
	}
	if cfg.Backups == nil {
		return nil, errors.New("backup manager is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Codec == nil {
		cfg.Codec = graph.NewTurtleCodec(graph.DefaultBaseNamespace)
	}
	if cfg.Validator == nil {
		cfg.Validator = validate.New(fs, validate.Config{Codec: cfg.Codec, Logger: cfg.Logger})
	}
	if cfg.Strategy == "" {
		cfg.Strategy = backup.StrategyTimestamp
	}
	if _, err := backup.ParseStrategy(string(cfg.Strategy)); err != nil {
		return nil, err
	}
	if _, err := duplicate.ParsePolicy(string(cfg.Policy)); err != nil {
		return nil, err
	}
	if cfg.Policy == "" {
		cfg.Policy = duplicate.PolicyUnion
	}
	if cfg.FallbackDirs == nil {
		cfg.FallbackDirs = DefaultFallbackDirs()
	}
	if cfg.WatchDebounce <= 0 {
		cfg.WatchDebounce = 100 * time.Millisecond
	}
	if cfg.Tracer == nil {
		cfg.Tracer = otel.Tracer("ontovault.ontology")
	}
	// The codec binds its namespaces on every decoded graph. Seeding new
	// files with the same bindings keeps the first write byte-identical to
	// later rewrites of the same triples.
	empty, err := graph.Unmarshal(cfg.Codec, nil)
	if err != nil {
		return nil, errors.Wrap(err, "codec rejects an empty document")
	}
	return &Coordinator{
		fs:        fs,
		cfg:       cfg,
		codec:     cfg.Codec,
		bindings:  empty.Namespaces(),
		validator: cfg.Validator,
		backups:   cfg.Backups,
		locks:     fsutil.NewPathLocker(fs, cfg.Logger),
		logger:    cfg.Logger,
		metrics:   cfg.Metrics,
		tracer:    cfg.Tracer,
	}, nil
}

// Backups returns the backup manager used by the coordinator.
func (c *Coordinator) Backups() *backup.Manager { return c.backups }

// Stats returns a snapshot of the coordinator's activity counters.
func (c *Coordinator) Stats() Stats { return c.stats.snapshot() }

// Load parses path and validates it. The graph is nil when the file is
// missing or invalid.
func (c *Coordinator) Load(ctx context.Context, path string) (*graph.Graph, validate.Result) {
	g, res := c.validateFile(ctx, path)
	if g != nil {
		c.stats.filesLoaded.Add(1)
	}
	return g, res
}

// Validate validates path without loading it for further use.
func (c *Coordinator) Validate(ctx context.Context, path string) validate.Result {
	_, res := c.validateFile(ctx, path)
	return res
}

func (c *Coordinator) validateFile(ctx context.Context, path string) (*graph.Graph, validate.Result) {
	g, res := c.validator.Load(ctx, path)
	c.stats.validations.Add(1)
	c.metrics.validation(res.Valid)
	return g, res
}

// MergeGraphs returns the union of gs.
func (c *Coordinator) MergeGraphs(gs ...*graph.Graph) *graph.Graph {
	return graph.MergeAll(gs...)
}

// Merge adds the triples of incoming to the graph stored at target.
//
// When target exists it is validated (and repaired from its latest good
// backup if invalid) and then backed up; a failed backup aborts the merge
// before anything is written. The merged graph is written with Save and
// the written file is validated again. Expected failures are reported in
// the result, never as a panic. incoming must not be nil.
func (c *Coordinator) Merge(ctx context.Context, incoming *graph.Graph, target string) MergeResult {
	if incoming == nil {
		panic("ontology: Merge called with nil graph")
	}
	start := time.Now()
	res := MergeResult{Target: target, Errors: []string{}, Warnings: []string{}}

	ctx, span := c.tracer.Start(ctx, "Coordinator.Merge",
		trace.WithAttributes(
			attribute.String("ontology.target", target),
			attribute.Int("ontology.incoming_triples", incoming.Len()),
		),
	)
	defer span.End()

	status := "failed"
	defer func() {
		c.metrics.merge(status, time.Since(start).Seconds(), res.NewTripleCount)
		span.SetAttributes(
			attribute.Bool("ontology.success", res.Success),
			attribute.Int("ontology.new_triples", res.NewTripleCount),
			attribute.Int("ontology.merged_triples", res.MergedTripleCount),
		)
		if !res.Success && len(res.Errors) > 0 {
			span.SetStatus(codes.Error, res.Errors[0])
		}
	}()

	abs, err := fsutil.Abs(target)
	if err != nil {
		res.Errors = append(res.Errors, err.Error())
		return res
	}
	res.Target = abs

	unlock, err := c.locks.Lock(ctx, abs)
	if err != nil {
		res.Errors = append(res.Errors, fmt.Sprintf("locking %s: %v", abs, err))
		return res
	}
	defer unlock()

	existing := graph.New()
	existing.BindAll(c.bindings)
	if fsutil.Exists(c.fs, abs) {
		g, vr := c.validateFile(ctx, abs)
		if !vr.Valid {
			c.logger.Warn("Existing graph file is invalid, repairing before merge", "path", abs, "errors", vr.Errors)
			rr := c.repairLocked(ctx, abs)
			if !rr.Success {
				res.Errors = append(res.Errors, "existing file is invalid and could not be repaired")
				res.Errors = append(res.Errors, rr.Errors...)
				return res
			}
			res.Repaired = true
			res.Warnings = append(res.Warnings, fmt.Sprintf("existing file was restored from backup %s", rr.BackupID))
			if g, vr = c.validateFile(ctx, abs); !vr.Valid {
				res.Errors = append(res.Errors, vr.Errors...)
				return res
			}
		}
		existing = g

		rec, err := c.backups.Ensure(ctx, abs, c.cfg.Strategy)
		if err != nil {
			c.logger.Error("Backup failed, merge aborted", "path", abs, "error", err.Error())
			res.Errors = append(res.Errors, fmt.Sprintf("backup failed: %v", err))
			return res
		}
		c.stats.backupsCreated.Add(1)
		res.BackupID = rec.ID
		res.BackupPath = rec.BackupFile
	}
	if err := ctx.Err(); err != nil {
		res.Errors = append(res.Errors, err.Error())
		return res
	}

	res.Duplicates = duplicate.Detect(incoming, existing)
	res.Summary = duplicate.Summarize(res.Duplicates)
	c.metrics.duplicates(string(duplicate.KindExact), res.Summary.Exact)
	c.metrics.duplicates(string(duplicate.KindSimilar), res.Summary.Similar)
	c.metrics.duplicates(string(duplicate.KindConflict), res.Summary.Conflict)
	if res.Summary.ConflictKeys > 0 {
		res.Warnings = append(res.Warnings, fmt.Sprintf(
			"%d subject/predicate pairs have differing objects (policy %s)", res.Summary.ConflictKeys, c.cfg.Policy))
	}

	merged, err := duplicate.Resolve(c.cfg.Policy, existing, incoming, res.Duplicates)
	if err != nil {
		if errors.Is(err, duplicate.ErrConflictsRejected) {
			status = "rejected"
		}
		res.Errors = append(res.Errors, err.Error())
		return res
	}

	res.NewTripleCount = incoming.Difference(existing).Len()
	res.DuplicateTripleCount = incoming.Len() - res.NewTripleCount
	res.MergedTripleCount = merged.Len()

	out := c.saveLocked(ctx, merged, abs)
	if !out.Success {
		res.Errors = append(res.Errors, fmt.Sprintf("save failed: %v", out.Err))
		return res
	}
	res.ActualPath = out.ActualPath
	res.UsedFallback = out.UsedFallback
	if out.UsedFallback {
		res.Warnings = append(res.Warnings, fmt.Sprintf("target was not writable, merged graph saved to %s", out.ActualPath))
	}

	res.Validation = c.Validate(ctx, out.ActualPath)
	if !res.Validation.Valid {
		res.Errors = append(res.Errors, res.Validation.Errors...)
		return res
	}

	res.Success = true
	status = "success"
	c.stats.merges.Add(1)
	c.logger.Info("Graph merged",
		"target", abs,
		"path", res.ActualPath,
		"new_triples", res.NewTripleCount,
		"duplicate_triples", res.DuplicateTripleCount,
		"merged_triples", res.MergedTripleCount,
		"conflicting_pairs", res.Summary.ConflictKeys,
		"backup", res.BackupPath)
	return res
}
