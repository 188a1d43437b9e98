// Package backup creates checksummed snapshots of graph files, keeps a
// bounded number of them per file, and restores them on demand.
//
// Every attempt, successful or not, is recorded in a History. A snapshot is
// only ever restored after its content has been re-hashed and compared with
// the checksum recorded when it was taken.
package backup

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/go-git/go-billy/v5"
	"github.com/google/uuid"
	"github.com/mannyrivera2010/go-ontovault/internal/fsutil"
	"github.com/mannyrivera2010/go-ontovault/pkg/integrity"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

// Config holds configuration for a Manager.
type Config struct {
	// Dir is the primary backup directory.
	Dir string
	// FallbackDirs are tried in order when copying into Dir fails.
	FallbackDirs []string
	// MaxBackups bounds the number of successful backups kept per file.
	MaxBackups int
	// MinInterval suppresses a new backup when the latest successful one is
	// younger than this. Zero always creates a backup.
	MinInterval time.Duration
	// Checksum selects the digest algorithm for new records.
	Checksum integrity.Algorithm
	// Logger receives structured log output. Defaults to slog.Default().
	Logger *slog.Logger
	// Now returns the current time. Defaults to time.Now.
	Now func() time.Time
}

// DefaultConfig returns the defaults: ./backups, ten backups per file, MD5
// checksums and the fallback chain fallback_backups, the temp dir and the
// user's home directory.
func DefaultConfig() Config {
	fallbacks := []string{"fallback_backups", os.TempDir()}
	if home, err := os.UserHomeDir(); err == nil {
		fallbacks = append(fallbacks, home)
	}
	return Config{
		Dir:          "backups",
		FallbackDirs: fallbacks,
		MaxBackups:   10,
		Checksum:     integrity.MD5,
	}
}

// Manager creates, verifies, restores and prunes backups.
//
// All methods are safe for concurrent use. Mutations of the history are
// serialized by the Manager.
type Manager struct {
	fs      billy.Filesystem
	history History
	cfg     Config
	logger  *slog.Logger

	mu sync.Mutex
}

// NewManager creates a Manager writing snapshots through fs and recording
// them in history. Relative directories in cfg are resolved against the
// working directory.
func NewManager(fs billy.Filesystem, history History, cfg Config) (*Manager, error) {
	if history == nil {
		return nil, errors.New("backup history is required")
	}
	if cfg.MaxBackups <= 0 {
		return nil, errors.Errorf("max backups must be positive, got %d", cfg.MaxBackups)
	}
	if cfg.Checksum == "" {
		cfg.Checksum = integrity.MD5
	}
	if !cfg.Checksum.Valid() {
		return nil, errors.Wrapf(integrity.ErrUnknownAlgorithm, "%q", string(cfg.Checksum))
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	dir, err := fsutil.Abs(cfg.Dir)
	if err != nil {
		return nil, err
	}
	cfg.Dir = dir
	fallbacks := make([]string, 0, len(cfg.FallbackDirs))
	for _, d := range cfg.FallbackDirs {
		abs, err := fsutil.Abs(d)
		if err != nil {
			return nil, err
		}
		fallbacks = append(fallbacks, abs)
	}
	cfg.FallbackDirs = fallbacks
	if err := fs.MkdirAll(cfg.Dir, 0755); err != nil {
		cfg.Logger.Warn("Could not create backup directory, fallbacks will be used",
			"dir", cfg.Dir, "error", err.Error())
	}
	return &Manager{
		fs:      fs,
		history: history,
		cfg:     cfg,
		logger:  cfg.Logger,
	}, nil
}

// Config returns the effective configuration.
func (m *Manager) Config() Config { return m.cfg }

// --- Creating backups ---

// Create snapshots file using strategy. It honours MinInterval.
//
// On failure a record with StatusFailed is still appended to the history and
// the error is returned. Errors wrap ErrNotFound when file is missing and
// ErrIOFailure when no candidate directory accepted the copy.
func (m *Manager) Create(ctx context.Context, file string, strategy Strategy) (Record, error) {
	return m.create(ctx, file, strategy, false)
}

// Force snapshots file using strategy regardless of MinInterval.
func (m *Manager) Force(ctx context.Context, file string, strategy Strategy) (Record, error) {
	return m.create(ctx, file, strategy, true)
}

// Ensure returns a successful backup whose content matches file as it is
// now. A backup reused because of MinInterval is only returned when the file
// has not changed since; otherwise a new one is forced.
func (m *Manager) Ensure(ctx context.Context, file string, strategy Strategy) (Record, error) {
	rec, err := m.Create(ctx, file, strategy)
	if err != nil {
		return rec, err
	}
	current, err := integrity.Verify(m.fs, algorithmOf(rec.Checksum), rec.OriginalFile, rec.Checksum)
	if err != nil {
		return rec, errors.Wrapf(ErrIOFailure, "hashing %s: %v", rec.OriginalFile, err)
	}
	if current {
		return rec, nil
	}
	m.logger.Debug("Reused backup is stale, forcing a new one", "file", rec.OriginalFile, "backup_id", rec.ID)
	return m.Force(ctx, file, strategy)
}

func (m *Manager) create(ctx context.Context, file string, strategy Strategy, force bool) (Record, error) {
	if err := ctx.Err(); err != nil {
		return Record{}, err
	}
	if strategy == "" {
		strategy = StrategyTimestamp
	}
	if _, err := ParseStrategy(string(strategy)); err != nil {
		return Record{}, err
	}
	file, err := fsutil.Abs(file)
	if err != nil {
		return Record{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.cfg.Now()
	rec := Record{
		ID:           newID(now),
		OriginalFile: file,
		Timestamp:    now,
		Strategy:     strategy,
		Metadata:     map[string]string{},
	}

	if !fsutil.Exists(m.fs, file) {
		err := errors.Wrapf(ErrNotFound, "backup source %s", file)
		return m.fail(ctx, rec, err)
	}

	all, err := m.history.Load(ctx)
	if err != nil {
		return Record{}, errors.Wrap(err, "loading backup history")
	}
	prior := filterRecords(all, func(r Record) bool { return r.OriginalFile == file })
	latest, hasLatest := latestSuccess(prior)

	if !force && hasLatest && m.cfg.MinInterval > 0 && now.Sub(latest.Timestamp) < m.cfg.MinInterval &&
		fsutil.Exists(m.fs, latest.BackupFile) {
		m.logger.Info("Recent backup exists, skipping",
			"file", file, "backup", latest.BackupFile, "age", now.Sub(latest.Timestamp))
		return latest, nil
	}

	data, err := fsutil.ReadFile(m.fs, file)
	if err != nil {
		return m.fail(ctx, rec, errors.Wrapf(ErrIOFailure, "reading %s: %v", file, err))
	}
	sum, err := integrity.Bytes(m.cfg.Checksum, data)
	if err != nil {
		return Record{}, err
	}

	if strategy == StrategyIncremental && hasLatest && latest.Checksum == sum &&
		m.verifyRecord(latest) == nil {
		m.logger.Info("Content unchanged since last backup, reusing it",
			"file", file, "backup_id", latest.ID)
		reused := latest
		reused.Metadata = cloneMeta(latest.Metadata)
		reused.Metadata[MetaUnchanged] = "true"
		return reused, nil
	}

	version := nextVersion(prior)
	rec.Metadata[MetaVersion] = strconv.Itoa(version)
	if force {
		rec.Metadata[MetaForced] = "true"
	}
	if strategy == StrategyIncremental && hasLatest {
		rec.Metadata[MetaParentBackup] = latest.ID
	}

	name := Name(file, strategy, now, version)
	backupPath, usedDir, err := m.write(name, data)
	if err != nil {
		return m.fail(ctx, rec, err)
	}
	if usedDir != m.cfg.Dir {
		rec.Metadata[MetaFallbackDir] = usedDir
	}

	rec.BackupFile = backupPath
	rec.FileSize = int64(len(data))
	rec.Checksum = sum
	rec.Status = StatusSuccess
	if err := m.history.Append(ctx, rec); err != nil {
		return Record{}, errors.Wrap(err, "recording backup")
	}
	m.logger.Info("Backup created",
		"file", file, "backup", backupPath, "backup_id", rec.ID, "strategy", strategy, "size", rec.FileSize)

	if err := m.cleanupLocked(ctx, file); err != nil {
		m.logger.Warn("Backup retention cleanup failed", "file", file, "error", err.Error())
	}
	return rec, nil
}

// write copies data into the primary directory, then each fallback
// directory, returning the first path that succeeded.
func (m *Manager) write(name string, data []byte) (string, string, error) {
	dirs := append([]string{m.cfg.Dir}, m.cfg.FallbackDirs...)
	var lastErr error
	for i, dir := range dirs {
		path := m.freePath(dir, name)
		if err := fsutil.WriteFileAtomic(m.fs, path, data, 0644); err != nil {
			lastErr = err
			if i == 0 {
				m.logger.Warn("Backup to primary directory failed, trying fallbacks", "dir", dir, "error", err.Error())
			} else {
				m.logger.Debug("Backup to fallback directory failed", "dir", dir, "error", err.Error())
			}
			continue
		}
		if i > 0 {
			m.logger.Warn("Backup written to fallback directory", "path", path)
		}
		return path, dir, nil
	}
	return "", "", errors.Wrapf(ErrIOFailure, "no backup directory accepted %s: %v", name, lastErr)
}

// freePath returns dir/name, or dir/name with a "_{n}" index when a backup
// with the same second-resolution name already exists.
func (m *Manager) freePath(dir, name string) string {
	path := filepath.Join(dir, name)
	for n := 1; fsutil.Exists(m.fs, path); n++ {
		path = filepath.Join(dir, withCollisionIndex(name, n))
	}
	return path
}

func (m *Manager) fail(ctx context.Context, rec Record, cause error) (Record, error) {
	rec.Status = StatusFailed
	rec.Metadata[MetaError] = cause.Error()
	if err := m.history.Append(ctx, rec); err != nil {
		m.logger.Error("Failed to record failed backup", "file", rec.OriginalFile, "error", err.Error())
	}
	m.logger.Error("Backup failed", "file", rec.OriginalFile, "error", cause.Error())
	return rec, cause
}

// --- Retention ---

// Cleanup removes the oldest successful backups of file beyond MaxBackups,
// deleting both the snapshot and its record. A snapshot that cannot be
// deleted is logged and its record is still dropped so that the retention
// bound holds.
func (m *Manager) Cleanup(ctx context.Context, file string) error {
	file, err := fsutil.Abs(file)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cleanupLocked(ctx, file)
}

func (m *Manager) cleanupLocked(ctx context.Context, file string) error {
	all, err := m.history.Load(ctx)
	if err != nil {
		return errors.Wrap(err, "loading backup history")
	}
	ok := filterRecords(all, func(r Record) bool {
		return r.OriginalFile == file && r.Succeeded()
	})
	if len(ok) <= m.cfg.MaxBackups {
		return nil
	}
	excess := ok[:len(ok)-m.cfg.MaxBackups]
	ids := make([]string, 0, len(excess))
	for _, r := range excess {
		if err := m.fs.Remove(r.BackupFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			m.logger.Warn("Failed to delete old backup, dropping its record",
				"backup", r.BackupFile, "error", err.Error())
		} else {
			m.logger.Debug("Deleted old backup", "backup", r.BackupFile)
		}
		ids = append(ids, r.ID)
	}
	return m.history.Delete(ctx, ids...)
}

// --- Lookup ---

// List returns the records of file, newest first. An empty file lists every
// record.
func (m *Manager) List(ctx context.Context, file string) ([]Record, error) {
	all, err := m.history.Load(ctx)
	if err != nil {
		return nil, err
	}
	if file != "" {
		abs, err := fsutil.Abs(file)
		if err != nil {
			return nil, err
		}
		all = filterRecords(all, func(r Record) bool { return r.OriginalFile == abs })
	}
	slices.Reverse(all)
	return all, nil
}

// Get returns the record with the given id.
func (m *Manager) Get(ctx context.Context, id string) (Record, error) {
	all, err := m.history.Load(ctx)
	if err != nil {
		return Record{}, err
	}
	for _, r := range all {
		if r.ID == id {
			return r, nil
		}
	}
	return Record{}, errors.Wrapf(ErrRecordNotFound, "id %s", id)
}

// LatestSuccess returns the newest successful record of file.
func (m *Manager) LatestSuccess(ctx context.Context, file string) (Record, bool, error) {
	rs, err := m.List(ctx, file)
	if err != nil {
		return Record{}, false, err
	}
	r, ok := latestSuccess(rs)
	return r, ok, nil
}

// Orphans returns backup files of file in the backup directory that follow
// a naming convention but have no record, such as snapshots written before
// a history existed.
func (m *Manager) Orphans(ctx context.Context, file string) ([]string, error) {
	file, err := fsutil.Abs(file)
	if err != nil {
		return nil, err
	}
	rs, err := m.List(ctx, file)
	if err != nil {
		return nil, err
	}
	known := make(map[string]bool, len(rs))
	for _, r := range rs {
		known[r.BackupFile] = true
	}
	entries, err := m.fs.ReadDir(m.cfg.Dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, errors.Wrapf(err, "listing %s", m.cfg.Dir)
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		p, ok := ParseName(e.Name())
		if !ok || p.Original != filepath.Base(file) {
			continue
		}
		path := filepath.Join(m.cfg.Dir, e.Name())
		if !known[path] {
			out = append(out, path)
		}
	}
	slices.Sort(out)
	return out, nil
}

// --- Verification & restore ---

// Verify checks that the snapshot of record id exists, is non-empty unless
// the original was, and still matches its recorded checksum.
func (m *Manager) Verify(ctx context.Context, id string) error {
	r, err := m.Get(ctx, id)
	if err != nil {
		return err
	}
	return m.verifyRecord(r)
}

func (m *Manager) verifyRecord(r Record) error {
	_, err := m.snapshot(r)
	return err
}

// snapshot reads the backup file of r once and returns its bytes if they
// still match the recorded checksum. A zero-length snapshot is only
// accepted for a record of an empty file.
func (m *Manager) snapshot(r Record) ([]byte, error) {
	if !r.Succeeded() {
		return nil, errors.Wrapf(ErrNotRestorable, "backup %s has status %s", r.ID, r.Status)
	}
	data, err := fsutil.ReadFile(m.fs, r.BackupFile)
	if err != nil {
		return nil, errors.Wrapf(ErrNotFound, "backup file %s: %v", r.BackupFile, err)
	}
	if len(data) == 0 && r.FileSize != 0 {
		return nil, errors.Wrapf(ErrEmptyBackup, "%s", r.BackupFile)
	}
	sum, err := integrity.Bytes(algorithmOf(r.Checksum), data)
	if err != nil {
		return nil, err
	}
	if sum != r.Checksum {
		return nil, errors.Wrapf(ErrIntegrityMismatch, "%s", r.BackupFile)
	}
	return data, nil
}

// VerifyResult pairs a record with the outcome of verifying it.
type VerifyResult struct {
	Record Record
	Err    error
}

// VerifyAll verifies every successful backup of file concurrently. An empty
// file verifies all records. The returned slice is ordered newest first.
func (m *Manager) VerifyAll(ctx context.Context, file string) ([]VerifyResult, error) {
	rs, err := m.List(ctx, file)
	if err != nil {
		return nil, err
	}
	rs = filterRecords(rs, Record.Succeeded)
	results := make([]VerifyResult, len(rs))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i, r := range rs {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			results[i] = VerifyResult{Record: r, Err: m.verifyRecord(r)}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// Restore writes the snapshot of record id over target, or over the
// record's original file when target is empty. The bytes written are the
// bytes that were verified; on any verification failure target is left
// untouched.
func (m *Manager) Restore(ctx context.Context, id, target string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r, err := m.Get(ctx, id)
	if err != nil {
		return err
	}
	if target == "" {
		target = r.OriginalFile
	}
	target, err = fsutil.Abs(target)
	if err != nil {
		return err
	}
	data, err := m.snapshot(r)
	if err != nil {
		m.logger.Error("Refusing to restore unverified backup",
			"backup_id", id, "backup", r.BackupFile, "error", err.Error())
		return err
	}
	if err := fsutil.WriteFileAtomic(m.fs, target, data, 0644); err != nil {
		return errors.Wrapf(ErrIOFailure, "restoring %s to %s: %v", r.BackupFile, target, err)
	}
	m.logger.Info("Backup restored", "backup_id", id, "backup", r.BackupFile, "target", target)
	return nil
}

// Close closes the history store.
func (m *Manager) Close() error {
	return m.history.Close()
}

// algorithmOf infers the digest algorithm from the length of a hex checksum,
// so records written under a different configuration still verify.
func algorithmOf(sum string) integrity.Algorithm {
	if len(sum) == 64 {
		return integrity.SHA256
	}
	return integrity.MD5
}

func latestSuccess(rs []Record) (Record, bool) {
	var best Record
	found := false
	for _, r := range rs {
		if !r.Succeeded() {
			continue
		}
		if !found || byTime(r, best) > 0 {
			best, found = r, true
		}
	}
	return best, found
}

func nextVersion(prior []Record) int {
	maxVersion := 0
	for _, r := range prior {
		if v, err := strconv.Atoi(r.Metadata[MetaVersion]); err == nil && v > maxVersion {
			maxVersion = v
		}
	}
	if maxVersion == 0 {
		maxVersion = len(filterRecords(prior, Record.Succeeded))
	}
	return maxVersion + 1
}

// newID returns an id that sorts chronologically.
func newID(now time.Time) string {
	return fmt.Sprintf("%s-%s", now.UTC().Format("20060102T150405.000000000Z"), uuid.NewString()[:8])
}

func cloneMeta(m map[string]string) map[string]string {
	out := make(map[string]string, len(m)+1)
	for k, v := range m {
		out[k] = v
	}
	return out
}
