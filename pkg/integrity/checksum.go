// Package integrity computes content digests used to detect corruption of
// backup snapshots.
package integrity

import (
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"hash"
	"io"

	"github.com/go-git/go-billy/v5"
	"github.com/pkg/errors"
)

// Algorithm names a digest function.
type Algorithm string

const (
	// MD5 detects accidental corruption only. It is the default for
	// compatibility with existing backup histories.
	MD5 Algorithm = "md5"
	// SHA256 also resists deliberate tampering.
	SHA256 Algorithm = "sha256"
)

// ErrUnknownAlgorithm is returned for an Algorithm that is not supported.
var ErrUnknownAlgorithm = errors.New("unknown checksum algorithm")

// Valid reports whether a is a supported algorithm.
func (a Algorithm) Valid() bool {
	return a == MD5 || a == SHA256
}

func (a Algorithm) newHash() (hash.Hash, error) {
	switch a {
	case MD5, "":
		return md5.New(), nil
	case SHA256:
		return sha256.New(), nil
	default:
		return nil, errors.Wrapf(ErrUnknownAlgorithm, "%q", string(a))
	}
}

// Bytes returns the hex digest of data.
func Bytes(a Algorithm, data []byte) (string, error) {
	h, err := a.newHash()
	if err != nil {
		return "", err
	}
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Reader returns the hex digest of everything read from r and the number of
// bytes consumed.
func Reader(a Algorithm, r io.Reader) (string, int64, error) {
	h, err := a.newHash()
	if err != nil {
		return "", 0, err
	}
	n, err := io.Copy(h, r)
	if err != nil {
		return "", n, errors.Wrap(err, "hashing content")
	}
	return hex.EncodeToString(h.Sum(nil)), n, nil
}

// File returns the hex digest and size of the file at path in fs.
func File(fs billy.Filesystem, a Algorithm, path string) (string, int64, error) {
	f, err := fs.Open(path)
	if err != nil {
		return "", 0, errors.Wrapf(err, "opening %s", path)
	}
	defer f.Close()
	return Reader(a, f)
}

// Verify reports whether the file at path currently hashes to want.
func Verify(fs billy.Filesystem, a Algorithm, path, want string) (bool, error) {
	got, _, err := File(fs, a, path)
	if err != nil {
		return false, err
	}
	return got == want, nil
}
