package fsutil

import (
	"context"
	"log/slog"
	"os"
	"sync"

	"github.com/go-git/go-billy/v5"
)

// PathLocker hands out exclusive locks keyed by file path.
//
// Within a process, callers for the same path are serialized by a
// per-path semaphore that honours context cancellation. The semaphores are
// shared by every PathLocker in the process, so independent owners of one
// file (two histories on the same document, say) exclude each other. Across
// processes an
// advisory lock is additionally taken on "<path>.lock" when the filesystem
// supports it; failing to create that file degrades to the in-process lock.
//
// All methods are safe for concurrent use.
type PathLocker struct {
	fs     billy.Filesystem
	logger *slog.Logger
	table  *lockTable
}

type lockTable struct {
	mu    sync.Mutex
	locks map[string]*pathLock
}

var processLocks = &lockTable{locks: make(map[string]*pathLock)}

type pathLock struct {
	sem  chan struct{}
	refs int
}

// NewPathLocker creates a locker over fs.
func NewPathLocker(fs billy.Filesystem, logger *slog.Logger) *PathLocker {
	if logger == nil {
		logger = slog.Default()
	}
	return &PathLocker{
		fs:     fs,
		logger: logger,
		table:  processLocks,
	}
}

// Lock blocks until the lock for path is held or ctx is done. The returned
// function releases the lock and must be called exactly once.
func (l *PathLocker) Lock(ctx context.Context, path string) (func(), error) {
	pl := l.table.acquire(path)
	select {
	case pl.sem <- struct{}{}:
	case <-ctx.Done():
		l.table.release(path)
		return nil, ctx.Err()
	}

	lockFile := l.lockFile(path)
	return func() {
		if lockFile != nil {
			if err := lockFile.Unlock(); err != nil {
				l.logger.Warn("Failed to release advisory lock", "path", path, "error", err.Error())
			}
			lockFile.Close()
		}
		<-pl.sem
		l.table.release(path)
	}, nil
}

func (l *PathLocker) lockFile(path string) billy.File {
	f, err := l.fs.OpenFile(path+".lock", os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		l.logger.Debug("Advisory lock file unavailable, using in-process lock only",
			"path", path, "error", err.Error())
		return nil
	}
	if err := f.Lock(); err != nil {
		l.logger.Debug("Advisory lock failed, using in-process lock only",
			"path", path, "error", err.Error())
		f.Close()
		return nil
	}
	return f
}

func (t *lockTable) acquire(path string) *pathLock {
	t.mu.Lock()
	defer t.mu.Unlock()
	pl, ok := t.locks[path]
	if !ok {
		pl = &pathLock{sem: make(chan struct{}, 1)}
		t.locks[path] = pl
	}
	pl.refs++
	return pl
}

func (t *lockTable) release(path string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	pl := t.locks[path]
	pl.refs--
	if pl.refs == 0 {
		delete(t.locks, path)
	}
}
