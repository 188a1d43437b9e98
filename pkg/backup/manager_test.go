package backup

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/util"
	"github.com/mannyrivera2010/go-ontovault/internal/fsutil"
	"github.com/mannyrivera2010/go-ontovault/internal/fsutil/fsutiltest"
	"github.com/mannyrivera2010/go-ontovault/pkg/integrity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const target = "/data/diet-ontology.ttl"

// stepClock returns a clock that advances one second per call.
func stepClock(start time.Time) func() time.Time {
	var mu sync.Mutex
	now := start
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		now = now.Add(time.Second)
		return now
	}
}

type fixture struct {
	fs      *fsutiltest.FaultFS
	manager *Manager
	history *JSONHistory
}

func newFixture(t *testing.T, mutate func(*Config)) *fixture {
	t.Helper()
	fs := fsutiltest.New()
	cfg := Config{
		Dir:          "/backups",
		FallbackDirs: []string{"/fallback_backups"},
		MaxBackups:   3,
		Checksum:     integrity.MD5,
		Now:          stepClock(time.Date(2025, 3, 1, 9, 30, 0, 0, time.Local)),
	}
	if mutate != nil {
		mutate(&cfg)
	}
	history := NewJSONHistory(fs, "/backups/"+DefaultHistoryFile)
	m, err := NewManager(fs, history, cfg)
	require.NoError(t, err)
	writeFile(t, fs, target, "v1")
	return &fixture{fs: fs, manager: m, history: history}
}

func writeFile(t *testing.T, fs billy.Filesystem, path, content string) {
	t.Helper()
	require.NoError(t, util.WriteFile(fs, path, []byte(content), 0644))
}

func readFile(t *testing.T, fs billy.Filesystem, path string) string {
	t.Helper()
	data, err := fsutil.ReadFile(fs, path)
	require.NoError(t, err)
	return string(data)
}

func TestName(t *testing.T) {
	ts := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	tests := []struct {
		strategy Strategy
		version  int
		want     string
	}{
		{StrategyTimestamp, 0, "diet-ontology_backup_20250102_030405.ttl"},
		{StrategyVersioned, 7, "diet-ontology_v007_20250102_030405.ttl"},
		{StrategyVersioned, 1234, "diet-ontology_v1234_20250102_030405.ttl"},
		{StrategyIncremental, 0, "diet-ontology_incremental_20250102_030405.ttl"},
		{StrategyRolling, 0, "diet-ontology_rolling_20250102_030405.ttl"},
	}
	for _, tc := range tests {
		t.Run(string(tc.strategy), func(t *testing.T) {
			got := Name("/data/diet-ontology.ttl", tc.strategy, ts, tc.version)
			assert.Equal(t, tc.want, got)

			parsed, ok := ParseName(got)
			require.True(t, ok)
			assert.Equal(t, "diet-ontology.ttl", parsed.Original)
			assert.Equal(t, tc.strategy, parsed.Strategy)
			assert.Equal(t, tc.version, parsed.Version)
			assert.Equal(t, "20250102_030405", parsed.Timestamp.Format(TimestampLayout))
		})
	}

	_, ok := ParseName("diet-ontology.ttl")
	assert.False(t, ok)
	parsed, ok := ParseName("notes_backup_20250102_030405_2")
	require.True(t, ok)
	assert.Equal(t, "notes", parsed.Original)
}

func TestParseStrategy(t *testing.T) {
	s, err := ParseStrategy("")
	require.NoError(t, err)
	assert.Equal(t, StrategyTimestamp, s)
	s, err = ParseStrategy("versioned")
	require.NoError(t, err)
	assert.Equal(t, StrategyVersioned, s)
	_, err = ParseStrategy("differential")
	assert.Error(t, err)
}

func TestManager_Create(t *testing.T) {
	ctx := context.Background()

	t.Run("writes snapshot and success record", func(t *testing.T) {
		f := newFixture(t, nil)
		rec, err := f.manager.Create(ctx, target, StrategyTimestamp)
		require.NoError(t, err)

		assert.Equal(t, StatusSuccess, rec.Status)
		assert.Equal(t, target, rec.OriginalFile)
		assert.Equal(t, "/backups/diet-ontology_backup_20250301_093001.ttl", rec.BackupFile)
		assert.Equal(t, int64(2), rec.FileSize)
		sum, _ := integrity.Bytes(integrity.MD5, []byte("v1"))
		assert.Equal(t, sum, rec.Checksum)
		assert.Equal(t, "v1", readFile(t, f.fs, rec.BackupFile))

		var stored []map[string]any
		require.NoError(t, json.Unmarshal([]byte(readFile(t, f.fs, f.history.Path())), &stored))
		require.Len(t, stored, 1)
		for _, key := range []string{"backup_id", "original_file", "backup_file", "timestamp",
			"file_size", "checksum", "status", "strategy", "metadata"} {
			assert.Contains(t, stored[0], key)
		}
		assert.Equal(t, "success", stored[0]["status"])
		assert.Equal(t, "timestamp", stored[0]["strategy"])
	})

	t.Run("missing source records a failed attempt", func(t *testing.T) {
		f := newFixture(t, nil)
		rec, err := f.manager.Create(ctx, "/data/missing.ttl", StrategyTimestamp)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrNotFound)
		assert.Equal(t, KindNotFound, KindOf(err))
		assert.Equal(t, StatusFailed, rec.Status)

		rs, err := f.manager.List(ctx, "/data/missing.ttl")
		require.NoError(t, err)
		require.Len(t, rs, 1)
		assert.Equal(t, StatusFailed, rs[0].Status)
		assert.NotEmpty(t, rs[0].Metadata[MetaError])
	})

	t.Run("versioned numbering is monotonic across retention", func(t *testing.T) {
		f := newFixture(t, nil)
		var names []string
		for i := 0; i < 5; i++ {
			rec, err := f.manager.Create(ctx, target, StrategyVersioned)
			require.NoError(t, err)
			names = append(names, filepath.Base(rec.BackupFile))
		}
		for i, name := range names {
			assert.True(t, strings.HasPrefix(name, fmt.Sprintf("diet-ontology_v%03d_", i+1)), name)
		}
	})

	t.Run("same-second names get a collision index", func(t *testing.T) {
		fixed := time.Date(2025, 3, 1, 9, 30, 0, 0, time.Local)
		f := newFixture(t, func(c *Config) { c.Now = func() time.Time { return fixed } })
		a, err := f.manager.Create(ctx, target, StrategyTimestamp)
		require.NoError(t, err)
		b, err := f.manager.Create(ctx, target, StrategyTimestamp)
		require.NoError(t, err)
		assert.Equal(t, "/backups/diet-ontology_backup_20250301_093000.ttl", a.BackupFile)
		assert.Equal(t, "/backups/diet-ontology_backup_20250301_093000_1.ttl", b.BackupFile)
	})

	t.Run("falls back when the primary directory fails", func(t *testing.T) {
		f := newFixture(t, nil)
		f.fs.FailWrites("/backups")
		// Keep the history writable in a separate location.
		f.manager.history = NewJSONHistory(f.fs, "/state/history.json")

		rec, err := f.manager.Create(ctx, target, StrategyTimestamp)
		require.NoError(t, err)
		assert.Equal(t, "/fallback_backups", filepath.Dir(rec.BackupFile))
		assert.Equal(t, "/fallback_backups", rec.Metadata[MetaFallbackDir])
	})

	t.Run("fails with IOFailure when every directory fails", func(t *testing.T) {
		f := newFixture(t, nil)
		f.fs.FailWrites("/backups")
		f.fs.FailWrites("/fallback_backups")
		f.manager.history = NewJSONHistory(f.fs, "/state/history.json")

		_, err := f.manager.Create(ctx, target, StrategyTimestamp)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrIOFailure)
		assert.Equal(t, KindIOFailure, KindOf(err))

		rs, err := f.manager.List(ctx, target)
		require.NoError(t, err)
		require.Len(t, rs, 1)
		assert.Equal(t, StatusFailed, rs[0].Status)
	})

	t.Run("min interval reuses a recent backup unless forced", func(t *testing.T) {
		f := newFixture(t, func(c *Config) { c.MinInterval = time.Hour })
		first, err := f.manager.Create(ctx, target, StrategyTimestamp)
		require.NoError(t, err)
		again, err := f.manager.Create(ctx, target, StrategyTimestamp)
		require.NoError(t, err)
		assert.Equal(t, first.ID, again.ID)

		forced, err := f.manager.Force(ctx, target, StrategyTimestamp)
		require.NoError(t, err)
		assert.NotEqual(t, first.ID, forced.ID)
		assert.Equal(t, "true", forced.Metadata[MetaForced])
	})

	t.Run("incremental skips unchanged content", func(t *testing.T) {
		f := newFixture(t, nil)
		first, err := f.manager.Create(ctx, target, StrategyIncremental)
		require.NoError(t, err)
		assert.Contains(t, first.BackupFile, "_incremental_")

		same, err := f.manager.Create(ctx, target, StrategyIncremental)
		require.NoError(t, err)
		assert.Equal(t, first.ID, same.ID)
		assert.Equal(t, "true", same.Metadata[MetaUnchanged])

		writeFile(t, f.fs, target, "v2")
		next, err := f.manager.Create(ctx, target, StrategyIncremental)
		require.NoError(t, err)
		assert.NotEqual(t, first.ID, next.ID)
		assert.Equal(t, first.ID, next.Metadata[MetaParentBackup])

		rs, err := f.manager.List(ctx, target)
		require.NoError(t, err)
		assert.Len(t, rs, 2)
	})
}

func TestManager_Retention(t *testing.T) {
	ctx := context.Background()
	const k, m = 3, 4
	f := newFixture(t, func(c *Config) { c.MaxBackups = k })

	var created []Record
	for i := 0; i < k+m; i++ {
		writeFile(t, f.fs, target, fmt.Sprintf("v%d", i))
		rec, err := f.manager.Create(ctx, target, StrategyTimestamp)
		require.NoError(t, err)
		created = append(created, rec)
	}

	rs, err := f.manager.List(ctx, target)
	require.NoError(t, err)
	require.Len(t, rs, k)
	for i, r := range rs {
		want := created[len(created)-1-i]
		assert.Equal(t, want.ID, r.ID, "retained set must be the most recent")
	}
	for _, old := range created[:m] {
		assert.False(t, fsutil.Exists(f.fs, old.BackupFile), "old snapshot %s should be deleted", old.BackupFile)
	}
	for _, kept := range created[m:] {
		assert.True(t, fsutil.Exists(f.fs, kept.BackupFile))
	}
}

func TestManager_RetentionSurvivesDeleteFailure(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, func(c *Config) { c.MaxBackups = 1 })

	first, err := f.manager.Create(ctx, target, StrategyTimestamp)
	require.NoError(t, err)
	f.fs.FailWrites(first.BackupFile)

	_, err = f.manager.Create(ctx, target, StrategyTimestamp)
	require.NoError(t, err)

	rs, err := f.manager.List(ctx, target)
	require.NoError(t, err)
	assert.Len(t, rs, 1, "retention bound holds even when a delete fails")
}

func TestManager_Restore(t *testing.T) {
	ctx := context.Background()

	t.Run("round trip reproduces original bytes", func(t *testing.T) {
		f := newFixture(t, nil)
		writeFile(t, f.fs, target, "@prefix : <http://example.org/diet#> .\n")
		rec, err := f.manager.Create(ctx, target, StrategyTimestamp)
		require.NoError(t, err)

		writeFile(t, f.fs, target, "garbage")
		require.NoError(t, f.manager.Restore(ctx, rec.ID, ""))

		sum, _, err := integrity.File(f.fs, integrity.MD5, target)
		require.NoError(t, err)
		assert.Equal(t, rec.Checksum, sum)
	})

	t.Run("restores to an explicit target", func(t *testing.T) {
		f := newFixture(t, nil)
		rec, err := f.manager.Create(ctx, target, StrategyTimestamp)
		require.NoError(t, err)
		require.NoError(t, f.manager.Restore(ctx, rec.ID, "/restore/copy.ttl"))
		assert.Equal(t, "v1", readFile(t, f.fs, "/restore/copy.ttl"))
	})

	t.Run("rejects a tampered backup and leaves target untouched", func(t *testing.T) {
		f := newFixture(t, nil)
		rec, err := f.manager.Create(ctx, target, StrategyTimestamp)
		require.NoError(t, err)

		writeFile(t, f.fs, rec.BackupFile, "tampered")
		writeFile(t, f.fs, target, "current")

		err = f.manager.Restore(ctx, rec.ID, "")
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrIntegrityMismatch)
		assert.Equal(t, KindIntegrityMismatch, KindOf(err))
		assert.Equal(t, "current", readFile(t, f.fs, target))
	})

	t.Run("missing backup file", func(t *testing.T) {
		f := newFixture(t, nil)
		rec, err := f.manager.Create(ctx, target, StrategyTimestamp)
		require.NoError(t, err)
		require.NoError(t, f.fs.Remove(rec.BackupFile))

		err = f.manager.Restore(ctx, rec.ID, "")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("unknown id", func(t *testing.T) {
		f := newFixture(t, nil)
		err := f.manager.Restore(ctx, "nope", "")
		assert.ErrorIs(t, err, ErrRecordNotFound)
	})

	t.Run("backup of an empty file round trips", func(t *testing.T) {
		f := newFixture(t, nil)
		writeFile(t, f.fs, target, "")
		rec, err := f.manager.Create(ctx, target, StrategyTimestamp)
		require.NoError(t, err)
		assert.Equal(t, StatusSuccess, rec.Status)
		assert.Zero(t, rec.FileSize)

		require.NoError(t, f.manager.Verify(ctx, rec.ID))
		writeFile(t, f.fs, target, "garbage")
		require.NoError(t, f.manager.Restore(ctx, rec.ID, ""))
		assert.Empty(t, readFile(t, f.fs, target))
	})

	t.Run("truncated snapshot of a non-empty file is rejected", func(t *testing.T) {
		f := newFixture(t, nil)
		rec, err := f.manager.Create(ctx, target, StrategyTimestamp)
		require.NoError(t, err)
		writeFile(t, f.fs, rec.BackupFile, "")
		writeFile(t, f.fs, target, "current")

		err = f.manager.Restore(ctx, rec.ID, "")
		assert.ErrorIs(t, err, ErrEmptyBackup)
		assert.Equal(t, "current", readFile(t, f.fs, target))
	})
}

func TestManager_SharedHistoryDocument(t *testing.T) {
	ctx := context.Background()
	fs := fsutiltest.New()
	historyPath := "/backups/" + DefaultHistoryFile
	files := []string{"/data/a.ttl", "/data/b.ttl"}

	var managers []*Manager
	for _, file := range files {
		writeFile(t, fs, file, "content of "+file)
		m, err := NewManager(fs, NewJSONHistory(fs, historyPath), Config{Dir: "/backups", MaxBackups: 50})
		require.NoError(t, err)
		managers = append(managers, m)
	}

	var wg sync.WaitGroup
	for i, m := range managers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for n := 0; n < 20; n++ {
				_, err := m.Force(ctx, files[i], StrategyTimestamp)
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()

	rs, err := managers[0].List(ctx, "")
	require.NoError(t, err)
	assert.Len(t, rs, 40, "every backup keeps its record")
}

func TestManager_LogsErrorsWithoutStacks(t *testing.T) {
	var buf strings.Builder
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	f := newFixture(t, func(c *Config) { c.Logger = logger })

	_, err := f.manager.Create(context.Background(), "/data/missing.ttl", StrategyTimestamp)
	require.ErrorIs(t, err, ErrNotFound)
	assert.Contains(t, buf.String(), "backup source /data/missing.ttl")
	assert.NotContains(t, buf.String(), ".go:", "log lines carry the message, not a stack trace")
}

func TestManager_LatestSuccess(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)

	_, ok, err := f.manager.LatestSuccess(ctx, target)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = f.manager.Create(ctx, target, StrategyTimestamp)
	require.NoError(t, err)
	second, err := f.manager.Create(ctx, target, StrategyRolling)
	require.NoError(t, err)
	_, _ = f.manager.Create(ctx, "/data/missing.ttl", StrategyTimestamp)

	latest, ok, err := f.manager.LatestSuccess(ctx, target)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, second.ID, latest.ID)
}

func TestManager_VerifyAll(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	a, err := f.manager.Create(ctx, target, StrategyTimestamp)
	require.NoError(t, err)
	b, err := f.manager.Create(ctx, target, StrategyTimestamp)
	require.NoError(t, err)
	writeFile(t, f.fs, a.BackupFile, "")

	results, err := f.manager.VerifyAll(ctx, target)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, b.ID, results[0].Record.ID)
	assert.NoError(t, results[0].Err)
	assert.ErrorIs(t, results[1].Err, ErrEmptyBackup)

	assert.NoError(t, f.manager.Verify(ctx, b.ID))
}

func TestManager_Orphans(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	rec, err := f.manager.Create(ctx, target, StrategyTimestamp)
	require.NoError(t, err)
	writeFile(t, f.fs, "/backups/diet-ontology_backup_20240101_000000.ttl", "legacy")
	writeFile(t, f.fs, "/backups/other_backup_20240101_000000.ttl", "legacy")

	orphans, err := f.manager.Orphans(ctx, target)
	require.NoError(t, err)
	assert.Equal(t, []string{"/backups/diet-ontology_backup_20240101_000000.ttl"}, orphans)
	assert.NotContains(t, orphans, rec.BackupFile)
}

func TestManager_SHA256(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, func(c *Config) { c.Checksum = integrity.SHA256 })
	rec, err := f.manager.Create(ctx, target, StrategyTimestamp)
	require.NoError(t, err)
	assert.Len(t, rec.Checksum, 64)
	require.NoError(t, f.manager.Restore(ctx, rec.ID, ""))
}

func TestNewManager_InvalidConfig(t *testing.T) {
	fs := fsutiltest.New()
	h := NewJSONHistory(fs, "/h.json")
	_, err := NewManager(fs, h, Config{Dir: "/b", MaxBackups: 0})
	assert.Error(t, err)
	_, err = NewManager(fs, h, Config{Dir: "/b", MaxBackups: 1, Checksum: "crc"})
	assert.ErrorIs(t, err, integrity.ErrUnknownAlgorithm)
	_, err = NewManager(fs, nil, Config{Dir: "/b", MaxBackups: 1})
	assert.Error(t, err)
}

func TestManager_Ensure(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, func(c *Config) { c.MinInterval = time.Hour })

	first, err := f.manager.Ensure(ctx, target, StrategyTimestamp)
	require.NoError(t, err)
	same, err := f.manager.Ensure(ctx, target, StrategyTimestamp)
	require.NoError(t, err)
	assert.Equal(t, first.ID, same.ID, "unchanged content reuses the recent backup")

	writeFile(t, f.fs, target, "v2")
	fresh, err := f.manager.Ensure(ctx, target, StrategyTimestamp)
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, fresh.ID)
	assert.Equal(t, "v2", readFile(t, f.fs, fresh.BackupFile))
}
