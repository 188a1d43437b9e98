package ontology

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/go-git/go-billy/v5"
	"github.com/mannyrivera2010/go-ontovault/internal/fsutil"
	"github.com/mannyrivera2010/go-ontovault/pkg/backup"
	"github.com/mannyrivera2010/go-ontovault/pkg/duplicate"
	"github.com/mannyrivera2010/go-ontovault/pkg/graph"
	"github.com/mannyrivera2010/go-ontovault/pkg/integrity"
	"github.com/mannyrivera2010/go-ontovault/pkg/validate"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
)

// Store is the embeddable API for keeping graph files safe while they are
// merged into. All implementations must be safe for concurrent use.
type Store interface {
	// --- Graph files ---

	// Load parses and validates a graph file. The graph is nil if the file
	// is missing or invalid.
	Load(ctx context.Context, path string) (*graph.Graph, validate.Result)

	// Validate checks a graph file without keeping the parsed graph.
	Validate(ctx context.Context, path string) validate.Result

	// Merge adds a graph to the file at target, backing the file up first.
	Merge(ctx context.Context, incoming *graph.Graph, target string) MergeResult

	// Save writes a graph to path, falling back to alternative directories.
	Save(ctx context.Context, g *graph.Graph, path string) SaveOutcome

	// ValidateAndRepair restores an invalid file from its newest good backup.
	ValidateAndRepair(ctx context.Context, path string) RepairResult

	// Watch re-validates and repairs a file whenever it changes on disk,
	// until ctx is done.
	Watch(ctx context.Context, path string, handler WatchHandler) error

	// --- Backups ---

	// Backup snapshots a file using the configured strategy.
	Backup(ctx context.Context, path string) (backup.Record, error)

	// Restore copies a verified backup over target, or over the backup's
	// original file when target is empty.
	Restore(ctx context.Context, id, target string) error

	// ListBackups returns the backup records of a file, newest first. An
	// empty path lists every record.
	ListBackups(ctx context.Context, path string) ([]backup.Record, error)

	// VerifyBackups re-hashes every successful backup of a file.
	VerifyBackups(ctx context.Context, path string) ([]backup.VerifyResult, error)

	// CleanupBackups enforces the retention bound for a file.
	CleanupBackups(ctx context.Context, path string) error

	// Stats returns activity counters.
	Stats() Stats

	// Close releases the backup history. It must be called when the
	// application is done with the Store.
	Close() error
}

var _ Store = (*Coordinator)(nil)

// History store kinds accepted by OpenOptions.
const (
	HistoryJSON   = "json"
	HistoryBadger = "badger"
)

// OpenOptions configures Open.
type OpenOptions struct {
	// FS is the filesystem holding graph files and backups. Defaults to the
	// host filesystem.
	FS billy.Filesystem
	// BackupDir is the primary backup directory.
	BackupDir string
	// BackupFallbackDirs are used when BackupDir rejects a copy.
	BackupFallbackDirs []string
	// MaxBackups bounds the successful backups kept per file.
	MaxBackups int
	// MinInterval suppresses backups younger than this.
	MinInterval time.Duration
	// Checksum is the digest algorithm for new backups.
	Checksum integrity.Algorithm
	// Strategy names backups.
	Strategy backup.Strategy
	// History selects the record store, HistoryJSON (default) or HistoryBadger.
	History string
	// HistoryPath is the JSON document or Badger directory. Defaults to a
	// location inside BackupDir.
	HistoryPath string
	// Policy resolves conflicting facts during merges.
	Policy duplicate.Policy
	// FallbackDirs are used when a graph file cannot be written.
	FallbackDirs []string
	// ParseTimeout bounds parsing during validation.
	ParseTimeout time.Duration
	// BaseNamespace is bound to the empty prefix in written files.
	BaseNamespace string
	// Logger receives structured log output.
	Logger *slog.Logger
	// Registerer, if set, receives the coordinator's Prometheus collectors.
	Registerer prometheus.Registerer
}

// Open wires a history store, backup manager, validator and coordinator
// together from opts.
func Open(ctx context.Context, opts OpenOptions) (*Coordinator, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if opts.FS == nil {
		opts.FS = fsutil.OS()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	defaults := backup.DefaultConfig()
	if opts.BackupDir == "" {
		opts.BackupDir = defaults.Dir
	}
	if opts.BackupFallbackDirs == nil {
		opts.BackupFallbackDirs = defaults.FallbackDirs
	}
	if opts.MaxBackups == 0 {
		opts.MaxBackups = defaults.MaxBackups
	}
	backupDir, err := fsutil.Abs(opts.BackupDir)
	if err != nil {
		return nil, err
	}

	var history backup.History
	switch opts.History {
	case "", HistoryJSON:
		path := opts.HistoryPath
		if path == "" {
			path = filepath.Join(backupDir, backup.DefaultHistoryFile)
		}
		if path, err = fsutil.Abs(path); err != nil {
			return nil, err
		}
		history = backup.NewJSONHistory(opts.FS, path)
	case HistoryBadger:
		path := opts.HistoryPath
		if path == "" {
			path = filepath.Join(backupDir, "history.badger")
		}
		cfg := backup.DefaultBadgerConfig(path)
		cfg.Logger = opts.Logger.With("component", "badger")
		h, err := backup.OpenBadgerHistory(cfg)
		if err != nil {
			return nil, err
		}
		history = h
	default:
		return nil, errors.Errorf("unknown history store %q", opts.History)
	}

	manager, err := backup.NewManager(opts.FS, history, backup.Config{
		Dir:          backupDir,
		FallbackDirs: opts.BackupFallbackDirs,
		MaxBackups:   opts.MaxBackups,
		MinInterval:  opts.MinInterval,
		Checksum:     opts.Checksum,
		Logger:       opts.Logger,
	})
	if err != nil {
		history.Close()
		return nil, err
	}

	codec := graph.NewTurtleCodec(opts.BaseNamespace)
	var metrics *Metrics
	if opts.Registerer != nil {
		metrics = NewMetrics(opts.Registerer)
	}
	c, err := New(opts.FS, Config{
		Codec: codec,
		Validator: validate.New(opts.FS, validate.Config{
			Codec:        codec,
			ParseTimeout: opts.ParseTimeout,
			Logger:       opts.Logger,
		}),
		Backups:      manager,
		Strategy:     opts.Strategy,
		Policy:       opts.Policy,
		FallbackDirs: opts.FallbackDirs,
		Logger:       opts.Logger,
		Metrics:      metrics,
	})
	if err != nil {
		manager.Close()
		return nil, err
	}
	return c, nil
}

// Backup snapshots path with the configured strategy.
func (c *Coordinator) Backup(ctx context.Context, path string) (backup.Record, error) {
	rec, err := c.backups.Create(ctx, path, c.cfg.Strategy)
	if err == nil {
		c.stats.backupsCreated.Add(1)
	}
	return rec, err
}

// Restore restores backup id while holding the lock of the file it
// overwrites.
func (c *Coordinator) Restore(ctx context.Context, id, target string) error {
	rec, err := c.backups.Get(ctx, id)
	if err != nil {
		return err
	}
	if target == "" {
		target = rec.OriginalFile
	}
	abs, err := fsutil.Abs(target)
	if err != nil {
		return err
	}
	unlock, err := c.locks.Lock(ctx, abs)
	if err != nil {
		return errors.Wrapf(err, "locking %s", abs)
	}
	defer unlock()
	return c.backups.Restore(ctx, id, abs)
}

func (c *Coordinator) ListBackups(ctx context.Context, path string) ([]backup.Record, error) {
	return c.backups.List(ctx, path)
}

func (c *Coordinator) VerifyBackups(ctx context.Context, path string) ([]backup.VerifyResult, error) {
	return c.backups.VerifyAll(ctx, path)
}

func (c *Coordinator) CleanupBackups(ctx context.Context, path string) error {
	return c.backups.Cleanup(ctx, path)
}

// Close closes the backup history.
func (c *Coordinator) Close() error {
	return c.backups.Close()
}
