package ontology

import (
	"context"
	"fmt"

	"github.com/mannyrivera2010/go-ontovault/internal/fsutil"
	"github.com/mannyrivera2010/go-ontovault/pkg/backup"
	"github.com/mannyrivera2010/go-ontovault/pkg/validate"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// RepairResult reports the outcome of ValidateAndRepair.
type RepairResult struct {
	// Success is true when the file is valid on return.
	Success bool `json:"success"`
	// Repaired is true when the file was restored from a backup.
	Repaired bool `json:"repaired"`
	// BackupID is the backup the file was restored from.
	BackupID string          `json:"backup_id,omitempty"`
	Before   validate.Result `json:"before"`
	After    validate.Result `json:"after"`
	Errors   []string        `json:"errors"`
}

// ValidateAndRepair validates path and, when it is invalid, restores the
// newest successful backup that verifies and yields a valid file. Backups
// failing their integrity check are skipped, never restored.
func (c *Coordinator) ValidateAndRepair(ctx context.Context, path string) RepairResult {
	abs, err := fsutil.Abs(path)
	if err != nil {
		return RepairResult{Errors: []string{err.Error()}}
	}
	unlock, err := c.locks.Lock(ctx, abs)
	if err != nil {
		return RepairResult{Errors: []string{fmt.Sprintf("locking %s: %v", abs, err)}}
	}
	defer unlock()
	return c.repairLocked(ctx, abs)
}

func (c *Coordinator) repairLocked(ctx context.Context, path string) RepairResult {
	ctx, span := c.tracer.Start(ctx, "Coordinator.ValidateAndRepair",
		trace.WithAttributes(attribute.String("ontology.path", path)))
	defer span.End()

	res := RepairResult{Errors: []string{}}
	res.Before = c.Validate(ctx, path)
	if res.Before.Valid {
		res.Success = true
		res.After = res.Before
		c.metrics.repair("not_needed")
		return res
	}
	c.stats.repairs.Add(1)

	records, err := c.backups.List(ctx, path)
	if err != nil {
		res.Errors = append(res.Errors, fmt.Sprintf("listing backups: %v", err))
		return c.repairFailed(span, res)
	}
	tried := 0
	for _, rec := range records {
		if !rec.Succeeded() {
			continue
		}
		if err := ctx.Err(); err != nil {
			res.Errors = append(res.Errors, err.Error())
			break
		}
		tried++
		if err := c.backups.Restore(ctx, rec.ID, path); err != nil {
			c.logger.Warn("Backup not usable for repair, trying an older one",
				"path", path, "backup_id", rec.ID, "kind", backup.KindOf(err), "error", err.Error())
			res.Errors = append(res.Errors, fmt.Sprintf("backup %s: %v", rec.ID, err))
			continue
		}
		res.After = c.Validate(ctx, path)
		if !res.After.Valid {
			res.Errors = append(res.Errors, fmt.Sprintf("backup %s restored an invalid file", rec.ID))
			continue
		}
		res.Success = true
		res.Repaired = true
		res.BackupID = rec.ID
		c.metrics.repair("restored")
		c.logger.Info("Graph file repaired from backup", "path", path, "backup_id", rec.ID, "backup", rec.BackupFile)
		return res
	}
	if tried == 0 {
		res.Errors = append(res.Errors, fmt.Sprintf("no successful backup of %s", path))
	}
	return c.repairFailed(span, res)
}

func (c *Coordinator) repairFailed(span trace.Span, res RepairResult) RepairResult {
	c.metrics.repair("failed")
	span.SetStatus(codes.Error, "repair failed")
	c.logger.Error("Graph file could not be repaired", "errors", res.Errors)
	return res
}
