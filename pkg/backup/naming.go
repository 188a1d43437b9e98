package backup

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// TimestampLayout is the Go layout of the %Y%m%d_%H%M%S stamp embedded in
// backup file names.
const TimestampLayout = "20060102_150405"

// Strategy selects how a backup file is named and whether unchanged content
// is copied again.
type Strategy string

const (
	// StrategyTimestamp names backups {stem}_backup_{ts}{suffix}.
	StrategyTimestamp Strategy = "timestamp"
	// StrategyVersioned names backups {stem}_v{NNN}_{ts}{suffix}.
	StrategyVersioned Strategy = "versioned"
	// StrategyIncremental names backups {stem}_incremental_{ts}{suffix} and
	// skips the copy when the content matches the latest backup.
	StrategyIncremental Strategy = "incremental"
	// StrategyRolling names backups {stem}_rolling_{ts}{suffix}.
	StrategyRolling Strategy = "rolling"
)

// Strategies lists every supported strategy.
var Strategies = []Strategy{StrategyTimestamp, StrategyVersioned, StrategyIncremental, StrategyRolling}

// ParseStrategy converts a configuration string into a Strategy. The empty
// string selects StrategyTimestamp.
func ParseStrategy(s string) (Strategy, error) {
	if s == "" {
		return StrategyTimestamp, nil
	}
	for _, st := range Strategies {
		if string(st) == s {
			return st, nil
		}
	}
	return "", errors.Errorf("unknown backup strategy %q", s)
}

// SplitName splits a file name into stem and suffix the way the backup
// names expect: the suffix is the final extension including its dot.
func SplitName(file string) (stem, suffix string) {
	base := filepath.Base(file)
	suffix = filepath.Ext(base)
	if suffix == base {
		// Dotfiles such as ".ontology" have no suffix.
		return base, ""
	}
	return strings.TrimSuffix(base, suffix), suffix
}

// Name returns the backup file name for file under strategy. version is only
// used by StrategyVersioned.
func Name(file string, strategy Strategy, ts time.Time, version int) string {
	stem, suffix := SplitName(file)
	stamp := ts.Format(TimestampLayout)
	switch strategy {
	case StrategyVersioned:
		return fmt.Sprintf("%s_v%03d_%s%s", stem, version, stamp, suffix)
	case StrategyIncremental:
		return fmt.Sprintf("%s_incremental_%s%s", stem, stamp, suffix)
	case StrategyRolling:
		return fmt.Sprintf("%s_rolling_%s%s", stem, stamp, suffix)
	default:
		return fmt.Sprintf("%s_backup_%s%s", stem, stamp, suffix)
	}
}

// withCollisionIndex inserts "_{n}" before the suffix of name.
func withCollisionIndex(name string, n int) string {
	stem, suffix := SplitName(name)
	return stem + "_" + strconv.Itoa(n) + suffix
}

var nameRE = regexp.MustCompile(`^(.+?)_(backup|v(\d{3,})|incremental|rolling)_(\d{8}_\d{6})(?:_\d+)?(\.[^.]*)?$`)

// ParsedName describes a backup file name produced by Name.
type ParsedName struct {
	Original  string
	Strategy  Strategy
	Version   int
	Timestamp time.Time
}

// ParseName recovers the original file name, strategy and timestamp from a
// backup file name. It reports false for names that do not follow any
// strategy's convention.
func ParseName(name string) (ParsedName, bool) {
	m := nameRE.FindStringSubmatch(filepath.Base(name))
	if m == nil {
		return ParsedName{}, false
	}
	ts, err := time.ParseInLocation(TimestampLayout, m[4], time.Local)
	if err != nil {
		return ParsedName{}, false
	}
	p := ParsedName{Original: m[1] + m[5], Timestamp: ts}
	switch {
	case m[2] == "backup":
		p.Strategy = StrategyTimestamp
	case m[2] == "incremental":
		p.Strategy = StrategyIncremental
	case m[2] == "rolling":
		p.Strategy = StrategyRolling
	default:
		p.Strategy = StrategyVersioned
		p.Version, _ = strconv.Atoi(m[3])
	}
	return p, true
}
