package ontology

import (
	"context"
	"os"
	"path/filepath"

	"github.com/mannyrivera2010/go-ontovault/internal/fsutil"
	"github.com/mannyrivera2010/go-ontovault/pkg/graph"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// DefaultFallbackDirs returns the fallback chain used when a target file
// cannot be written: an "alternative" directory next to the target, the
// temp dir and the user's home directory.
func DefaultFallbackDirs() []string {
	dirs := []string{"alternative", os.TempDir()}
	if home, err := os.UserHomeDir(); err == nil {
		dirs = append(dirs, home)
	}
	return dirs
}

// SaveOutcome reports where Save wrote a graph.
type SaveOutcome struct {
	Success      bool   `json:"success"`
	ActualPath   string `json:"actual_path"`
	UsedFallback bool   `json:"used_fallback"`
	Err          error  `json:"-"`
}

// Save serializes g and atomically writes it to path, creating parent
// directories. When that fails the same bytes are written under the same
// file name into each fallback directory in turn; the first that succeeds
// is reported with UsedFallback set.
func (c *Coordinator) Save(ctx context.Context, g *graph.Graph, path string) SaveOutcome {
	abs, err := fsutil.Abs(path)
	if err != nil {
		return SaveOutcome{Err: err}
	}
	unlock, err := c.locks.Lock(ctx, abs)
	if err != nil {
		return SaveOutcome{Err: errors.Wrapf(err, "locking %s", abs)}
	}
	defer unlock()
	return c.saveLocked(ctx, g, abs)
}

func (c *Coordinator) saveLocked(ctx context.Context, g *graph.Graph, path string) SaveOutcome {
	ctx, span := c.tracer.Start(ctx, "Coordinator.Save",
		trace.WithAttributes(
			attribute.String("ontology.path", path),
			attribute.Int("ontology.triples", g.Len()),
		),
	)
	defer span.End()

	data, err := graph.Marshal(c.codec, g)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		c.metrics.save("failed")
		return SaveOutcome{Err: errors.Wrap(err, "serializing graph")}
	}

	candidates := append([]string{path}, c.fallbackPaths(path)...)
	var lastErr error
	for i, candidate := range candidates {
		if err := ctx.Err(); err != nil {
			lastErr = err
			break
		}
		if err := fsutil.WriteFileAtomic(c.fs, candidate, data, 0644); err != nil {
			lastErr = err
			if i == 0 {
				c.logger.Warn("Write to target failed, trying fallback directories", "path", candidate, "error", err.Error())
			} else {
				c.logger.Debug("Write to fallback failed", "path", candidate, "error", err.Error())
			}
			continue
		}
		out := SaveOutcome{Success: true, ActualPath: candidate, UsedFallback: i > 0}
		span.SetAttributes(
			attribute.String("ontology.actual_path", candidate),
			attribute.Bool("ontology.used_fallback", out.UsedFallback),
		)
		if out.UsedFallback {
			c.stats.fallbackSaves.Add(1)
			c.metrics.save("fallback")
			c.logger.Warn("Graph saved to fallback location", "target", path, "path", candidate)
		} else {
			c.metrics.save("primary")
			c.logger.Debug("Graph saved", "path", candidate, "bytes", len(data))
		}
		return out
	}

	c.metrics.save("failed")
	err = errors.Wrapf(lastErr, "no location accepted %s", path)
	span.SetStatus(codes.Error, err.Error())
	c.logger.Error("Graph save failed", "path", path, "error", lastErr.Error())
	return SaveOutcome{Err: err}
}

// fallbackPaths returns the candidate paths for path in the fallback
// directories, skipping any that resolve to path itself.
func (c *Coordinator) fallbackPaths(path string) []string {
	base := filepath.Base(path)
	dir := filepath.Dir(path)
	var out []string
	for _, d := range c.cfg.FallbackDirs {
		if !filepath.IsAbs(d) {
			d = filepath.Join(dir, d)
		}
		p := filepath.Join(d, base)
		if p != path {
			out = append(out, p)
		}
	}
	return out
}
