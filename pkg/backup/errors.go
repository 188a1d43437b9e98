package backup

import (
	"os"

	"github.com/mannyrivera2010/go-ontovault/pkg/graph"
	"github.com/pkg/errors"
)

// Sentinel errors returned (wrapped) by the Manager.
var (
	// ErrNotFound means the source or backup file does not exist.
	ErrNotFound = errors.New("file not found")
	// ErrRecordNotFound means no history record has the requested id.
	ErrRecordNotFound = errors.New("backup record not found")
	// ErrIntegrityMismatch means a backup file no longer matches its recorded checksum.
	ErrIntegrityMismatch = errors.New("backup checksum mismatch")
	// ErrIOFailure means a copy could not be written to any candidate directory.
	ErrIOFailure = errors.New("backup i/o failure")
	// ErrEmptyBackup means a backup file has zero length.
	ErrEmptyBackup = errors.New("backup file is empty")
	// ErrNotRestorable means the record did not describe a successful backup.
	ErrNotRestorable = errors.New("backup record is not restorable")
)

// Kind classifies a failure for callers that need to decide between retry,
// repair and abort.
type Kind int

const (
	KindUnknown Kind = iota
	KindNotFound
	KindSyntaxInvalid
	KindIntegrityMismatch
	KindIOFailure
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindSyntaxInvalid:
		return "syntax_invalid"
	case KindIntegrityMismatch:
		return "integrity_mismatch"
	case KindIOFailure:
		return "io_failure"
	default:
		return "unknown"
	}
}

// KindOf returns the classification of err.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return KindUnknown
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrRecordNotFound), errors.Is(err, os.ErrNotExist):
		return KindNotFound
	case errors.Is(err, graph.ErrSyntax):
		return KindSyntaxInvalid
	case errors.Is(err, ErrIntegrityMismatch), errors.Is(err, ErrEmptyBackup):
		return KindIntegrityMismatch
	case errors.Is(err, ErrIOFailure):
		return KindIOFailure
	default:
		return KindUnknown
	}
}
