package backup

import (
	"cmp"
	"slices"
	"time"
)

// Status is the outcome of a backup attempt.
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
)

// Metadata keys written by the Manager.
const (
	MetaVersion      = "version"
	MetaError        = "error"
	MetaFallbackDir  = "fallback_dir"
	MetaParentBackup = "parent_backup_id"
	MetaUnchanged    = "unchanged"
	MetaForced       = "forced"
)

// Record describes one backup attempt. Records are immutable once written
// and only ever removed by retention cleanup.
type Record struct {
	ID           string            `json:"backup_id"`
	OriginalFile string            `json:"original_file"`
	BackupFile   string            `json:"backup_file"`
	Timestamp    time.Time         `json:"timestamp"`
	FileSize     int64             `json:"file_size"`
	Checksum     string            `json:"checksum"`
	Status       Status            `json:"status"`
	Strategy     Strategy          `json:"strategy"`
	Metadata     map[string]string `json:"metadata"`
}

// Succeeded reports whether the record describes a usable snapshot.
func (r Record) Succeeded() bool {
	return r.Status == StatusSuccess
}

// byTime orders records oldest first. IDs embed a sortable timestamp and
// break ties between records created within the same clock tick.
func byTime(a, b Record) int {
	if c := a.Timestamp.Compare(b.Timestamp); c != 0 {
		return c
	}
	return cmp.Compare(a.ID, b.ID)
}

// sortRecords sorts rs oldest first in place.
func sortRecords(rs []Record) {
	slices.SortStableFunc(rs, byTime)
}

func filterRecords(rs []Record, keep func(Record) bool) []Record {
	var out []Record
	for _, r := range rs {
		if keep(r) {
			out = append(out, r)
		}
	}
	return out
}
