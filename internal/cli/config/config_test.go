package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/leapstack-labs/tabularlint/pkg/core"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rootFlags() *pflag.FlagSet {
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	fs.String("config", "", "")
	fs.StringP("output", "o", "", "")
	fs.BoolP("verbose", "v", false, "")
	fs.String("catalog", "", "")
	fs.Int("workers", 0, "")
	fs.String("state", "", "")
	return fs
}

func writeConfig(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "tabularlint.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadConfig_Defaults(t *testing.T) {
	ResetConfig()
	dir := t.TempDir()
	t.Chdir(dir)

	cfg, err := LoadConfig("", nil)
	require.NoError(t, err)

	assert.Equal(t, "", cfg.Catalog)
	assert.Equal(t, DefaultOutput, cfg.OutputFormat)
	assert.Equal(t, DefaultSeverity, cfg.Severity)
	assert.Equal(t, RecordNone, cfg.Record)
	assert.Equal(t, filepath.Join(dir, DefaultStateFile), cfg.StatePath)
	assert.Equal(t, filepath.Join(dir, DefaultRecordDir), cfg.RecordDir)
	assert.Empty(t, GetConfigFileUsed())
	assert.Same(t, cfg, GetCurrentConfig())
}

func TestLoadConfig_FileFoundUpward(t *testing.T) {
	ResetConfig()
	root := t.TempDir()
	writeConfig(t, root, `
catalog: standards/team.yaml
severity: error
record: sqlite
workers: 3
lint:
  disabled: [dax.coding.division]
  severity:
    naming.column.pascal: error
`)
	nested := filepath.Join(root, "models", "sales")
	require.NoError(t, os.MkdirAll(nested, 0o755))
	t.Chdir(nested)

	cfg, err := LoadConfig("", nil)
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(root, "standards", "team.yaml"), cfg.Catalog)
	assert.Equal(t, "error", cfg.Severity)
	assert.Equal(t, core.SeverityError, cfg.MinSeverity())
	assert.Equal(t, RecordSQLite, cfg.Record)
	assert.Equal(t, 3, cfg.Workers)
	assert.Equal(t, filepath.Join(root, DefaultStateFile), cfg.StatePath)
	assert.Equal(t, root, cfg.ProjectRoot)

	lintCfg, err := cfg.LintSettings()
	require.NoError(t, err)
	assert.True(t, lintCfg.IsDisabled("dax.coding.division"))
	assert.Equal(t, core.SeverityError, lintCfg.GetSeverity("naming.column.pascal", core.SeverityWarning))
}

func TestLoadConfig_Precedence(t *testing.T) {
	ResetConfig()
	dir := t.TempDir()
	writeConfig(t, dir, "output: markdown\nworkers: 2\nverbose: false\n")
	t.Chdir(dir)

	t.Setenv("TABULARLINT_OUTPUT", "json")
	t.Setenv("TABULARLINT_WORKERS", "4")

	flags := rootFlags()
	require.NoError(t, flags.Parse([]string{"--workers", "8", "-v", "--state", "tmp/s.db"}))

	cfg, err := LoadConfig("", flags)
	require.NoError(t, err)

	assert.Equal(t, "json", cfg.OutputFormat, "env overrides file")
	assert.Equal(t, 8, cfg.Workers, "flag overrides env")
	assert.True(t, cfg.Verbose)
	assert.Equal(t, filepath.Join(dir, "tmp", "s.db"), cfg.StatePath)
}

func TestLoadConfig_ExplicitFile(t *testing.T) {
	ResetConfig()
	other := t.TempDir()
	path := writeConfig(t, other, "record: dir\nrecord_dir: out\n")
	t.Chdir(t.TempDir())

	cfg, err := LoadConfig(path, nil)
	require.NoError(t, err)
	assert.Equal(t, path, GetConfigFileUsed())
	assert.Equal(t, RecordDir, cfg.Record)
	assert.Equal(t, filepath.Join(other, "out"), cfg.RecordDir)
}

func TestLoadConfig_Errors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		errSub  string
	}{
		{"bad yaml", "record: [\n", "error reading config file"},
		{"bad record", "record: postgres\n", "record must be one of"},
		{"bad severity", "severity: loud\n", "unknown severity"},
		{"bad lint severity", "lint:\n  severity:\n    some.rule: loud\n", "lint.severity.some.rule"},
		{"negative workers", "workers: -1\n", "workers"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ResetConfig()
			dir := t.TempDir()
			writeConfig(t, dir, tt.content)
			t.Chdir(dir)

			_, err := LoadConfig("", nil)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errSub)
		})
	}

	ResetConfig()
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"), nil)
	assert.Error(t, err)
}

func TestGetLogger_Fallback(t *testing.T) {
	assert.NotNil(t, GetLogger(t.Context()))
}
