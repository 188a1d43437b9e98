package backup

import (
	"context"
	"encoding/json"
	"os"
	"slices"

	"github.com/go-git/go-billy/v5"
	"github.com/mannyrivera2010/go-ontovault/internal/fsutil"
	"github.com/pkg/errors"
)

// History persists backup records. Implementations must be safe for
// concurrent use.
type History interface {
	// Load returns every record, oldest first.
	Load(ctx context.Context) ([]Record, error)
	// Append adds a record.
	Append(ctx context.Context, r Record) error
	// Delete removes the records with the given ids. Unknown ids are ignored.
	Delete(ctx context.Context, ids ...string) error
	// Close releases any resources held by the store.
	Close() error
}

// DefaultHistoryFile is the name of the JSON history inside the backup directory.
const DefaultHistoryFile = "backup_history.json"

// JSONHistory stores all records as one JSON array. Every change reads the
// whole document, mutates it and atomically rewrites it while holding the
// path lock of the document, so histories sharing one file do not lose
// each other's writes.
type JSONHistory struct {
	fs    billy.Filesystem
	path  string
	locks *fsutil.PathLocker
}

var _ History = (*JSONHistory)(nil)

// NewJSONHistory returns a history backed by the JSON document at path.
// The file is created on first write.
func NewJSONHistory(fs billy.Filesystem, path string) *JSONHistory {
	return &JSONHistory{fs: fs, path: path, locks: fsutil.NewPathLocker(fs, nil)}
}

// Path returns the location of the JSON document.
func (h *JSONHistory) Path() string { return h.path }

func (h *JSONHistory) Load(ctx context.Context) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	// Writers replace the document by rename, so a read needs no lock.
	return h.read()
}

func (h *JSONHistory) Append(ctx context.Context, r Record) error {
	return h.update(ctx, func(rs []Record) []Record {
		return append(rs, r)
	})
}

func (h *JSONHistory) Delete(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	return h.update(ctx, func(rs []Record) []Record {
		return slices.DeleteFunc(rs, func(r Record) bool {
			return slices.Contains(ids, r.ID)
		})
	})
}

func (h *JSONHistory) Close() error { return nil }

func (h *JSONHistory) update(ctx context.Context, fn func([]Record) []Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	unlock, err := h.locks.Lock(ctx, h.path)
	if err != nil {
		return err
	}
	defer unlock()
	rs, err := h.read()
	if err != nil {
		return err
	}
	rs = fn(rs)
	if rs == nil {
		rs = []Record{}
	}
	data, err := json.MarshalIndent(rs, "", "  ")
	if err != nil {
		return errors.Wrap(err, "encoding backup history")
	}
	if err := fsutil.WriteFileAtomic(h.fs, h.path, data, 0644); err != nil {
		return errors.Wrap(err, "writing backup history")
	}
	return nil
}

func (h *JSONHistory) read() ([]Record, error) {
	data, err := fsutil.ReadFile(h.fs, h.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "reading backup history %s", h.path)
	}
	if len(data) == 0 {
		return nil, nil
	}
	var rs []Record
	if err := json.Unmarshal(data, &rs); err != nil {
		return nil, errors.Wrapf(err, "decoding backup history %s", h.path)
	}
	sortRecords(rs)
	return rs, nil
}
