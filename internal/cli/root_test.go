package cli

import (
	"bytes"
	"context"
	"testing"

	"github.com/leapstack-labs/tabularlint/internal/cli/config"
	clitest "github.com/leapstack-labs/tabularlint/internal/cli/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRootCmd(t *testing.T) {
	root := NewRootCmd()

	var names []string
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	for _, want := range []string{"check", "patch", "rules", "runs", "watch", "version"} {
		assert.Contains(t, names, want)
	}
	for _, flag := range []string{"config", "output", "verbose", "catalog", "workers", "state"} {
		assert.NotNil(t, root.PersistentFlags().Lookup(flag), "persistent flag %q", flag)
	}
}

func TestRootCmd_LoadsConfigBeforeRunning(t *testing.T) {
	dir, _ := clitest.SetupTestProject(t)
	t.Chdir(dir)
	config.ResetConfig()
	t.Cleanup(config.ResetConfig)

	root := NewRootCmd()
	var out, errOut bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs([]string{"-o", "json", "--workers", "2", "rules"})

	require.NoError(t, root.ExecuteContext(context.Background()))
	cfg := config.GetCurrentConfig()
	require.NotNil(t, cfg)
	assert.Equal(t, "json", cfg.OutputFormat)
	assert.Equal(t, 2, cfg.Workers)
	assert.Contains(t, out.String(), `"catalog_version"`)
}

func TestRootCmd_InvalidConfig(t *testing.T) {
	t.Chdir(t.TempDir())
	config.ResetConfig()
	t.Cleanup(config.ResetConfig)

	root := NewRootCmd()
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"--workers", "-1", "rules"})

	err := root.ExecuteContext(context.Background())
	assert.ErrorContains(t, err, "invalid configuration")
}
