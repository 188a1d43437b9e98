// Package fsutil holds the small set of billy filesystem helpers shared by
// the backup and ontology packages: absolute path handling, whole-file reads,
// and write-temp-then-rename replacement.
package fsutil

import (
	"io"
	"os"
	"path/filepath"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/pkg/errors"
)

// OS returns a filesystem rooted at "/" so that absolute host paths can be
// used unchanged.
func OS() billy.Filesystem {
	return osfs.New("/")
}

// Abs cleans path and makes it absolute.
func Abs(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", errors.Wrapf(err, "resolving path %s", path)
	}
	return abs, nil
}

// Exists reports whether path names an existing regular file.
func Exists(fs billy.Filesystem, path string) bool {
	info, err := fs.Stat(path)
	return err == nil && !info.IsDir()
}

// ReadFile returns the full contents of path.
func ReadFile(fs billy.Filesystem, path string) ([]byte, error) {
	f, err := fs.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, errors.Wrapf(err, "reading %s", path)
	}
	return data, nil
}

// WriteFileAtomic replaces path with data. The content is written to a
// temporary file in the same directory and renamed over path, so readers
// observe either the old or the new content, never a partial write.
// Parent directories are created as needed.
func WriteFileAtomic(fs billy.Filesystem, path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := fs.MkdirAll(dir, 0755); err != nil {
		return errors.Wrapf(err, "creating directory %s", dir)
	}
	tmp, err := fs.TempFile(dir, "."+filepath.Base(path)+".tmp-")
	if err != nil {
		return errors.Wrapf(err, "creating temp file in %s", dir)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		fs.Remove(tmpName)
		return errors.Wrapf(err, "writing %s", tmpName)
	}
	if err := tmp.Close(); err != nil {
		fs.Remove(tmpName)
		return errors.Wrapf(err, "closing %s", tmpName)
	}
	if chmod, ok := fs.(billy.Change); ok {
		// Best effort; memfs and some chroots ignore modes.
		_ = chmod.Chmod(tmpName, perm)
	}
	if err := fs.Rename(tmpName, path); err != nil {
		fs.Remove(tmpName)
		return errors.Wrapf(err, "renaming %s to %s", tmpName, path)
	}
	return nil
}
