// Package config loads the database settings file.
//
// The file is YAML; every key is optional:
//
//	backend: pebble          # sqlite (default) or pebble
//	path: /var/lib/edb       # database file (sqlite) or directory (pebble)
//	commit_cache_size: 4096
//	revision_check: true
//	log_level: debug         # debug, info (default), warn, error
//
// Command-line flags override file values.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/roach88/edb/internal/edb"
)

// Backends.
const (
	BackendSQLite = "sqlite"
	BackendPebble = "pebble"
)

// Backends lists the accepted backend names.
var Backends = []string{BackendSQLite, BackendPebble}

// DefaultPath is the database location when neither the file nor a flag
// sets one.
const DefaultPath = "edb.db"

// Config holds database settings.
type Config struct {
	Backend         string `yaml:"backend"`
	Path            string `yaml:"path"`
	CommitCacheSize int    `yaml:"commit_cache_size"`
	RevisionCheck   bool   `yaml:"revision_check"`
	LogLevel        string `yaml:"log_level"`
}

// Default returns the settings used without a file.
func Default() Config {
	return Config{
		Backend:         BackendSQLite,
		Path:            DefaultPath,
		CommitCacheSize: edb.DefaultCommitCacheSize,
		LogLevel:        "info",
	}
}

// Load reads path over the defaults. A missing file is an error; callers
// that treat the file as optional check for it first.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return Config{}, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes YAML settings over the defaults and validates the result.
// Unknown keys are rejected so typos do not pass silently.
func Parse(data []byte) (Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the settings.
func (c Config) Validate() error {
	if !slices.Contains(Backends, c.Backend) {
		return fmt.Errorf("backend %q: must be one of %v", c.Backend, Backends)
	}
	if c.Path == "" {
		return errors.New("path must not be empty")
	}
	if c.CommitCacheSize < 0 {
		return fmt.Errorf("commit_cache_size %d: must not be negative", c.CommitCacheSize)
	}
	if _, err := c.Level(); err != nil {
		return err
	}
	return nil
}

// Level parses LogLevel.
func (c Config) Level() (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("log_level %q: %w", c.LogLevel, err)
	}
	return l, nil
}

// DatabaseOptions returns the edb options the settings imply.
func (c Config) DatabaseOptions() []edb.DatabaseOption {
	return []edb.DatabaseOption{
		edb.WithCommitCacheSize(c.CommitCacheSize),
		edb.WithRevisionCheck(c.RevisionCheck),
	}
}
