package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
)

// WatchOptions holds options for the watch command.
type WatchOptions struct {
	Check    CheckOptions
	Debounce time.Duration
}

// NewWatchCommand creates the watch command.
func NewWatchCommand() *cobra.Command {
	opts := &WatchOptions{}
	cmd := &cobra.Command{
		Use:   "watch [paths...]",
		Short: "Re-run check whenever model files change",
		Long: `Run check once, then again every time a model, sidecar or catalog file
under the given paths changes. Bursts of changes are coalesced.

Press Ctrl+C to stop.`,
		Example: `  # Watch a bundle
  tabularlint watch Sales.SemanticModel

  # Slow editors: wait longer before re-checking
  tabularlint watch . --debounce 500ms`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(cmd, args, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.Check.Format, "format", "f", "", "Output format: text, markdown, json")
	cmd.Flags().StringVar(&opts.Check.Severity, "severity", "", "Minimum failing severity: error, warning, info, hint")
	cmd.Flags().StringVar(&opts.Check.Record, "record", "", "Record each run: none, sqlite, dir")
	cmd.Flags().BoolVar(&opts.Check.Merge, "merge", false, "Load all paths as one model")
	cmd.Flags().DurationVar(&opts.Debounce, "debounce", 200*time.Millisecond, "Quiet period before re-checking")

	return cmd
}

func runWatch(cmd *cobra.Command, args []string, opts *WatchOptions) error {
	if len(args) == 0 {
		args = []string{"."}
	}
	logger := getLogger(cmd)
	ctx := cmd.Context()

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer func() { _ = watcher.Close() }()

	for _, p := range args {
		if err := watchPath(watcher, p); err != nil {
			return fmt.Errorf("failed to watch %s: %w", p, err)
		}
	}

	check := func() {
		err := runCheck(cmd, args, &opts.Check)
		switch {
		case err == nil, errors.Is(err, ErrViolations):
		default:
			_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "Error: %v\n", err)
		}
		_, _ = fmt.Fprintln(cmd.ErrOrStderr(), "Watching for changes...")
	}

	check()
	watchLoop(ctx, watcher, opts.Debounce, logger, func(changed string) {
		logger.Info("change detected", slog.String("file", changed))
		check()
	})
	return nil
}

// watchPath adds a directory tree, or the directory holding a file. Editors
// often replace files by rename, which only the parent directory sees.
func watchPath(watcher *fsnotify.Watcher, path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return watcher.Add(filepath.Dir(path))
	}
	return filepath.WalkDir(path, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if p != path && strings.HasPrefix(d.Name(), ".") {
			return filepath.SkipDir
		}
		return watcher.Add(p)
	})
}

// relevantChange reports whether an event can affect a check result.
func relevantChange(ev fsnotify.Event) bool {
	if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
		return false
	}
	switch strings.ToLower(filepath.Ext(ev.Name)) {
	case ".tmdl", ".bim", ".json", ".pbip", ".yaml", ".yml", ".toml":
		return true
	}
	return false
}

// watchLoop calls onChange once per burst of relevant events, after the
// debounce period passes without another event. It returns when ctx is done
// or the watcher closes.
func watchLoop(ctx context.Context, watcher *fsnotify.Watcher, debounce time.Duration, logger *slog.Logger, onChange func(changed string)) {
	var (
		timer   *time.Timer
		fire    <-chan time.Time
		pending string
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-watcher.Events:
			if !ok {
				return
			}
			if ev.Op&fsnotify.Create != 0 {
				if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
					_ = watchPath(watcher, ev.Name)
				}
			}
			if !relevantChange(ev) {
				continue
			}
			pending = ev.Name
			if timer == nil {
				timer = time.NewTimer(debounce)
			} else {
				timer.Reset(debounce)
			}
			fire = timer.C
		case <-fire:
			fire = nil
			onChange(pending)
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			logger.Warn("watcher error", slog.String("error", err.Error()))
		}
	}
}
