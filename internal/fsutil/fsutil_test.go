package fsutil

import (
	"context"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-git/go-billy/v5/memfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteFileAtomic(t *testing.T) {
	t.Run("creates parents and replaces content", func(t *testing.T) {
		fs := memfs.New()
		path := "/data/nested/diet.ttl"

		require.NoError(t, WriteFileAtomic(fs, path, []byte("v1"), 0644))
		require.NoError(t, WriteFileAtomic(fs, path, []byte("v2"), 0644))

		got, err := ReadFile(fs, path)
		require.NoError(t, err)
		assert.Equal(t, "v2", string(got))

		entries, err := fs.ReadDir("/data/nested")
		require.NoError(t, err)
		assert.Len(t, entries, 1, "temp files must not be left behind")
	})

	t.Run("works on the host filesystem", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "out", "diet.ttl")
		fs := OS()
		require.NoError(t, WriteFileAtomic(fs, path, []byte("hello"), 0644))
		assert.True(t, Exists(fs, path))
	})
}

func TestPathLocker(t *testing.T) {
	t.Run("serializes holders of the same path", func(t *testing.T) {
		locker := NewPathLocker(memfs.New(), nil)
		var inside, maxInside int32
		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				unlock, err := locker.Lock(context.Background(), "/data/diet.ttl")
				if !assert.NoError(t, err) {
					return
				}
				n := atomic.AddInt32(&inside, 1)
				for {
					m := atomic.LoadInt32(&maxInside)
					if n <= m || atomic.CompareAndSwapInt32(&maxInside, m, n) {
						break
					}
				}
				time.Sleep(time.Millisecond)
				atomic.AddInt32(&inside, -1)
				unlock()
			}()
		}
		wg.Wait()
		assert.Equal(t, int32(1), maxInside)
		locker.table.mu.Lock()
		defer locker.table.mu.Unlock()
		assert.NotContains(t, locker.table.locks, "/data/diet.ttl", "entries are released when unused")
	})

	t.Run("different paths do not block each other", func(t *testing.T) {
		locker := NewPathLocker(memfs.New(), nil)
		unlockA, err := locker.Lock(context.Background(), "/a.ttl")
		require.NoError(t, err)
		defer unlockA()

		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		unlockB, err := locker.Lock(ctx, "/b.ttl")
		require.NoError(t, err)
		unlockB()
	})

	t.Run("separate lockers exclude each other", func(t *testing.T) {
		fs := memfs.New()
		first, second := NewPathLocker(fs, nil), NewPathLocker(fs, nil)
		unlock, err := first.Lock(context.Background(), "/shared.json")
		require.NoError(t, err)

		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		_, err = second.Lock(ctx, "/shared.json")
		assert.ErrorIs(t, err, context.DeadlineExceeded)

		unlock()
		unlock, err = second.Lock(context.Background(), "/shared.json")
		require.NoError(t, err)
		unlock()
	})

	t.Run("honours context cancellation", func(t *testing.T) {
		locker := NewPathLocker(memfs.New(), nil)
		unlock, err := locker.Lock(context.Background(), "/a.ttl")
		require.NoError(t, err)
		defer unlock()

		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		_, err = locker.Lock(ctx, "/a.ttl")
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})
}
