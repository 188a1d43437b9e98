// Package fsutiltest provides filesystem doubles for tests.
package fsutiltest

import (
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/memfs"
)

// ErrInjected is returned by FaultFS for every refused operation.
var ErrInjected = &os.PathError{Op: "write", Path: "injected", Err: os.ErrPermission}

// FaultFS wraps a billy.Filesystem and refuses writes below selected
// directories. Reads always pass through. It is safe for concurrent use,
// which memfs on its own is not.
type FaultFS struct {
	billy.Filesystem

	mu       sync.Mutex
	readOnly []string
}

// New returns a FaultFS over a fresh in-memory filesystem.
func New() *FaultFS {
	return &FaultFS{Filesystem: memfs.New()}
}

// Wrap returns a FaultFS over fs.
func Wrap(fs billy.Filesystem) *FaultFS {
	return &FaultFS{Filesystem: fs}
}

// FailWrites makes every write below dir fail.
func (f *FaultFS) FailWrites(dir string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.readOnly = append(f.readOnly, filepath.Clean(dir))
}

// Heal clears all injected failures.
func (f *FaultFS) Heal() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.readOnly = nil
}

func (f *FaultFS) refused(path string) bool {
	path = filepath.Clean(path)
	for _, dir := range f.readOnly {
		if path == dir || strings.HasPrefix(path, dir+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

func (f *FaultFS) OpenFile(filename string, flag int, perm os.FileMode) (billy.File, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if flag&(os.O_WRONLY|os.O_RDWR|os.O_CREATE|os.O_TRUNC|os.O_APPEND) != 0 && f.refused(filename) {
		return nil, ErrInjected
	}
	return f.Filesystem.OpenFile(filename, flag, perm)
}

func (f *FaultFS) Create(filename string) (billy.File, error) {
	return f.OpenFile(filename, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0666)
}

func (f *FaultFS) Open(filename string) (billy.File, error) {
	return f.OpenFile(filename, os.O_RDONLY, 0)
}

func (f *FaultFS) TempFile(dir, prefix string) (billy.File, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.refused(dir) {
		return nil, ErrInjected
	}
	return f.Filesystem.TempFile(dir, prefix)
}

func (f *FaultFS) MkdirAll(path string, perm os.FileMode) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.refused(path) {
		return ErrInjected
	}
	return f.Filesystem.MkdirAll(path, perm)
}

func (f *FaultFS) Rename(from, to string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.refused(to) {
		return ErrInjected
	}
	return f.Filesystem.Rename(from, to)
}

func (f *FaultFS) Remove(filename string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.refused(filename) {
		return ErrInjected
	}
	return f.Filesystem.Remove(filename)
}

func (f *FaultFS) Stat(filename string) (os.FileInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Filesystem.Stat(filename)
}

func (f *FaultFS) ReadDir(path string) ([]os.FileInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Filesystem.ReadDir(path)
}

var _ billy.Filesystem = (*FaultFS)(nil)
