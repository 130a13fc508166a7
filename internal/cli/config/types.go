// Package config provides configuration management for the tabularlint CLI.
package config

import (
	"fmt"
	"strings"

	"github.com/leapstack-labs/tabularlint/pkg/core"
	"github.com/leapstack-labs/tabularlint/pkg/lint"
)

// Config holds all CLI configuration options.
type Config struct {
	Catalog      string      `koanf:"catalog"`
	OutputFormat string      `koanf:"output"`
	Verbose      bool        `koanf:"verbose"`
	Workers      int         `koanf:"workers"`
	Severity     string      `koanf:"severity"`
	Record       string      `koanf:"record"`
	StatePath    string      `koanf:"state_path"`
	RecordDir    string      `koanf:"record_dir"`
	Lint         *LintConfig `koanf:"lint"`

	// ProjectRoot is the directory paths in the config file resolve against.
	ProjectRoot string `koanf:"-"`
}

// LintConfig holds rule overrides.
type LintConfig struct {
	Disabled []string          `koanf:"disabled"`
	Severity map[string]string `koanf:"severity"`
}

// Recorder sinks.
const (
	RecordNone   = "none"
	RecordSQLite = "sqlite"
	RecordDir    = "dir"
)

// Default configuration values.
const (
	DefaultOutput    = "auto" // Auto-detect: TTY=text, non-TTY=markdown
	DefaultSeverity  = "warning"
	DefaultRecord    = RecordNone
	DefaultStateFile = ".tabularlint/state.db"
	DefaultRecordDir = ".tabularlint/runs"
)

// Validate checks enumerated values.
func (c *Config) Validate() error {
	switch c.Record {
	case RecordNone, RecordSQLite, RecordDir:
	default:
		return fmt.Errorf("record must be one of none, sqlite, dir; got %q", c.Record)
	}
	if _, ok := core.ParseSeverity(c.Severity); !ok {
		return fmt.Errorf("unknown severity %q", c.Severity)
	}
	if c.Workers < 0 {
		return fmt.Errorf("workers must not be negative")
	}
	if c.Lint != nil {
		if _, err := c.Lint.Build(); err != nil {
			return err
		}
	}
	return nil
}

// MinSeverity returns the parsed severity threshold.
func (c *Config) MinSeverity() core.Severity {
	if s, ok := core.ParseSeverity(c.Severity); ok {
		return s
	}
	return core.SeverityWarning
}

// LintSettings converts the lint section into evaluator overrides.
func (c *Config) LintSettings() (*lint.Config, error) {
	if c.Lint == nil {
		return lint.NewConfig(), nil
	}
	return c.Lint.Build()
}

// Build converts the section into evaluator overrides.
func (l *LintConfig) Build() (*lint.Config, error) {
	cfg := lint.NewConfig()
	for _, id := range l.Disabled {
		cfg.Disable(strings.TrimSpace(id))
	}
	for id, sev := range l.Severity {
		s, ok := core.ParseSeverity(sev)
		if !ok {
			return nil, fmt.Errorf("lint.severity.%s: unknown severity %q", id, sev)
		}
		cfg.SetSeverity(id, s)
	}
	return cfg, nil
}
