// Package config loads the ontovault YAML configuration.
package config

import (
	"bytes"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/go-git/go-billy/v5"
	"github.com/go-playground/validator/v10"
	"github.com/mannyrivera2010/go-ontovault/internal/fsutil"
	"github.com/mannyrivera2010/go-ontovault/pkg/graph"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// DefaultFile is the configuration file looked up when none is given.
const DefaultFile = "ontovault.yaml"

// Config is the on-disk configuration.
type Config struct {
	// TargetFile is the graph file merges write to by default.
	TargetFile string `yaml:"target_file" validate:"required"`
	// BaseNamespace is bound to the empty prefix in written files.
	BaseNamespace string `yaml:"base_namespace" validate:"required,url"`

	BackupDir          string        `yaml:"backup_dir" validate:"required"`
	BackupFallbackDirs []string      `yaml:"backup_fallback_dirs"`
	MaxBackups         int           `yaml:"max_backups" validate:"min=1"`
	Strategy           string        `yaml:"strategy" validate:"oneof=timestamp versioned incremental rolling"`
	Checksum           string        `yaml:"checksum" validate:"oneof=md5 sha256"`
	MinInterval        time.Duration `yaml:"min_interval" validate:"gte=0"`
	// History selects where backup records are kept.
	History     string `yaml:"history" validate:"oneof=json badger"`
	HistoryPath string `yaml:"history_path"`

	// FallbackDirs are tried when the target file cannot be written.
	FallbackDirs   []string      `yaml:"fallback_dirs"`
	ParseTimeout   time.Duration `yaml:"parse_timeout" validate:"gte=0"`
	ConflictPolicy string        `yaml:"conflict_policy" validate:"oneof=union last-writer-wins reject"`

	LogLevel  string `yaml:"log_level" validate:"oneof=debug info warn error"`
	LogFormat string `yaml:"log_format" validate:"oneof=text json"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		TargetFile:     "diet-ontology.ttl",
		BaseNamespace:  graph.DefaultBaseNamespace,
		BackupDir:      "backups",
		MaxBackups:     10,
		Strategy:       "timestamp",
		Checksum:       "md5",
		History:        "json",
		ParseTimeout:   30 * time.Second,
		ConflictPolicy: "union",
		LogLevel:       "info",
		LogFormat:      "text",
	}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks c against its field constraints.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fe.Namespace()+": failed "+fe.Tag()+" check")
			}
			return errors.Errorf("invalid configuration: %s", strings.Join(msgs, "; "))
		}
		return errors.Wrap(err, "invalid configuration")
	}
	return nil
}

// Parse reads YAML from r over the defaults. Unknown keys are rejected.
func Parse(r io.Reader) (Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, errors.Wrap(err, "decoding configuration")
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Load reads the configuration at path. An empty path, or a missing
// DefaultFile, yields the defaults.
func Load(fs billy.Filesystem, path string) (Config, error) {
	explicit := path != ""
	if !explicit {
		path = DefaultFile
	}
	abs, err := fsutil.Abs(path)
	if err != nil {
		return Config{}, err
	}
	data, err := fsutil.ReadFile(fs, abs)
	if err != nil {
		if !explicit && errors.Is(err, os.ErrNotExist) {
			return Default(), nil
		}
		return Config{}, errors.Wrapf(err, "reading configuration %s", abs)
	}
	cfg, err := Parse(bytes.NewReader(data))
	if err != nil {
		return Config{}, errors.Wrapf(err, "%s", abs)
	}
	return cfg, nil
}

// Level returns the slog level named by LogLevel.
func (c Config) Level() slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return l
}
