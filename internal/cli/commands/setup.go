// Package commands implements the tabularlint subcommands.
package commands

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/leapstack-labs/tabularlint/internal/cli/config"
	"github.com/leapstack-labs/tabularlint/internal/cli/output"
	"github.com/leapstack-labs/tabularlint/internal/engine"
	"github.com/leapstack-labs/tabularlint/internal/state"
	"github.com/leapstack-labs/tabularlint/pkg/loader"
	"github.com/spf13/cobra"
)

// CommandContext holds common dependencies for command execution.
type CommandContext struct {
	Cfg      *config.Config
	Logger   *slog.Logger
	Renderer *output.Renderer
}

// NewCommandContext creates a CommandContext from the loaded configuration.
// A non-empty format overrides the configured output mode.
func NewCommandContext(cmd *cobra.Command, format string) (*CommandContext, error) {
	cfg := getConfig()
	if format == "" {
		format = cfg.OutputFormat
	}
	mode, err := output.ParseMode(format)
	if err != nil {
		return nil, err
	}
	return &CommandContext{
		Cfg:      cfg,
		Logger:   getLogger(cmd),
		Renderer: output.NewRenderer(cmd.OutOrStdout(), cmd.ErrOrStderr(), mode),
	}, nil
}

func getLogger(cmd *cobra.Command) *slog.Logger {
	return config.GetLogger(cmd.Context())
}

// getConfig returns the current configuration, or defaults when none was loaded.
func getConfig() *config.Config {
	if cfg := config.GetCurrentConfig(); cfg != nil {
		return cfg
	}
	return config.Default()
}

// NewEngine builds an engine from the configuration. A nil recorder records nothing.
func (c *CommandContext) NewEngine(recorder state.Recorder) (*engine.Engine, error) {
	cat, err := engine.LoadCatalog(c.Cfg.Catalog)
	if err != nil {
		return nil, err
	}
	lintCfg, err := c.Cfg.LintSettings()
	if err != nil {
		return nil, err
	}
	return engine.New(engine.Config{
		Catalog:  cat,
		Lint:     lintCfg,
		Workers:  c.Cfg.Workers,
		Recorder: recorder,
		Logger:   c.Logger,
	})
}

// OpenRecorder opens the configured run recorder. The returned cleanup must
// be called once the recorder is no longer needed.
func (c *CommandContext) OpenRecorder(ctx context.Context, kind string) (state.Recorder, func(), error) {
	noop := func() {}
	switch kind {
	case "", config.RecordNone:
		return nil, noop, nil
	case config.RecordDir:
		return state.NewDirStore(c.Cfg.RecordDir, c.Logger), noop, nil
	case config.RecordSQLite:
		store, err := c.OpenStore(ctx)
		if err != nil {
			return nil, noop, err
		}
		return store, func() { _ = store.Close() }, nil
	default:
		return nil, noop, fmt.Errorf("unknown recorder %q", kind)
	}
}

// OpenStore opens the SQLite run store at the configured state path.
func (c *CommandContext) OpenStore(ctx context.Context) (*state.SQLiteStore, error) {
	store, err := state.OpenSQLiteStore(ctx, c.Cfg.StatePath, c.Logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open state store: %w", err)
	}
	return store, nil
}

// inputSets groups command arguments into model inputs. With merge set all
// paths form one model; otherwise every discovered input is its own model.
func inputSets(args []string, merge bool) ([][]string, error) {
	if len(args) == 0 {
		args = []string{"."}
	}
	if merge {
		return [][]string{args}, nil
	}
	found, err := loader.Discover(args...)
	if err != nil {
		return nil, fmt.Errorf("failed to discover models: %w", err)
	}
	if len(found) == 0 {
		return nil, fmt.Errorf("no models found in %v", args)
	}
	sets := make([][]string, len(found))
	for i, p := range found {
		sets[i] = []string{p}
	}
	return sets, nil
}
