package commands

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/leapstack-labs/tabularlint/internal/engine"
	"github.com/leapstack-labs/tabularlint/pkg/patch"
	"github.com/spf13/cobra"
)

// PatchOptions holds options for the patch command.
type PatchOptions struct {
	Format  string // Patch encoding: json, msgpack, text
	Out     string // Write the encoded patch set to a file
	Preview bool   // Print patched sources instead of patches
	OutDir  string // Write patched copies of the model files under a directory
	Record  string // Recorder override: none, sqlite, dir
	Merge   bool   // Load all paths as one model
}

// NewPatchCommand creates the patch command.
func NewPatchCommand() *cobra.Command {
	opts := &PatchOptions{}
	cmd := &cobra.Command{
		Use:   "patch [paths...]",
		Short: "Generate rewrite patches for fixable violations",
		Long: `Evaluate the catalog and emit text patches that bring the model into
compliance. Each patch replaces one span of a source file, or inserts a
property that is missing.

Patches are emitted as JSON by default. Use --format msgpack with --out for
the compact binary form, --preview to print the patched sources, or --out-dir
to write patched copies of the model files under a directory, keeping their
paths relative to each input. Source files are never modified. Checking the
copies again produces no further patches.`,
		Example: `  # Print the patch set as JSON
  tabularlint patch Sales.SemanticModel

  # Save a binary patch set
  tabularlint patch model.bim --format msgpack --out fixes.msgpack

  # Show the rewritten files
  tabularlint patch model.bim --preview

  # Write a fixed copy of the model
  tabularlint patch Sales.SemanticModel --out-dir fixed`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPatch(cmd, args, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.Format, "format", "f", "json", "Patch format: json, msgpack, text")
	cmd.Flags().StringVar(&opts.Out, "out", "", "Write the patch set to a file")
	cmd.Flags().BoolVar(&opts.Preview, "preview", false, "Print patched sources")
	cmd.Flags().StringVar(&opts.OutDir, "out-dir", "", "Write patched copies of the model files under this directory")
	cmd.Flags().StringVar(&opts.Record, "record", "", "Record the run: none, sqlite, dir")
	cmd.Flags().BoolVar(&opts.Merge, "merge", false, "Load all paths as one model")
	cmd.MarkFlagsMutuallyExclusive("preview", "out-dir")

	return cmd
}

func runPatch(cmd *cobra.Command, args []string, opts *PatchOptions) error {
	cmdCtx, err := NewCommandContext(cmd, "")
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	record := cmdCtx.Cfg.Record
	if opts.Record != "" {
		record = opts.Record
	}
	sets, err := inputSets(args, opts.Merge)
	if err != nil {
		return err
	}
	recorder, cleanup, err := cmdCtx.OpenRecorder(ctx, record)
	if err != nil {
		return err
	}
	defer cleanup()

	eng, err := cmdCtx.NewEngine(recorder)
	if err != nil {
		return err
	}

	var results []*engine.Result
	for _, inputs := range sets {
		res, err := eng.Run(ctx, inputs...)
		if err != nil {
			return err
		}
		results = append(results, res)
	}

	switch {
	case opts.Preview:
		return previewPatches(cmd, results)
	case opts.OutDir != "":
		return writeCopies(cmd, sets, results, opts.OutDir)
	default:
		var all []patch.Patch
		for _, res := range results {
			all = append(all, res.Patches...)
		}
		return emitPatches(cmd, all, opts)
	}
}

func emitPatches(cmd *cobra.Command, ps []patch.Patch, opts *PatchOptions) error {
	var data []byte
	if opts.Format == "text" {
		for _, p := range ps {
			data = fmt.Appendln(data, p.String())
		}
	} else {
		codec, err := patch.CodecFor(opts.Format)
		if err != nil {
			return err
		}
		if data, err = codec.Encode(ps); err != nil {
			return err
		}
	}

	if opts.Out != "" {
		if err := os.WriteFile(opts.Out, data, 0o644); err != nil { //nolint:gosec // G306: patch sets are not secret
			return fmt.Errorf("failed to write %s: %w", opts.Out, err)
		}
		return nil
	}
	_, err := cmd.OutOrStdout().Write(data)
	return err
}

// patched applies a result's patches to its sources and returns only the
// files that change.
func patched(res *engine.Result) (map[string]string, error) {
	sources := make(map[string]string)
	for _, f := range res.Model.Files() {
		if src, ok := res.Model.Source(f); ok {
			sources[f] = src
		}
	}
	out, err := patch.ApplyAll(sources, res.Patches)
	if err != nil {
		return nil, err
	}
	for f, src := range out {
		if sources[f] == src {
			delete(out, f)
		}
	}
	return out, nil
}

func previewPatches(cmd *cobra.Command, results []*engine.Result) error {
	w := cmd.OutOrStdout()
	for _, res := range results {
		files, err := patched(res)
		if err != nil {
			return err
		}
		for _, f := range sortedKeys(files) {
			_, _ = fmt.Fprintf(w, "--- %s\n%s", f, files[f])
			if n := len(files[f]); n > 0 && files[f][n-1] != '\n' {
				_, _ = fmt.Fprintln(w)
			}
		}
	}
	return nil
}

// writeCopies writes every file of each patched model under dir, at its
// path relative to the parent of the input it was loaded from.
func writeCopies(cmd *cobra.Command, sets [][]string, results []*engine.Result, dir string) error {
	root, err := filepath.Abs(dir)
	if err != nil {
		return err
	}
	written := 0
	for i, res := range results {
		sources := make(map[string]string)
		for _, f := range res.Model.Files() {
			if src, ok := res.Model.Source(f); ok {
				sources[f] = src
			}
		}
		files, err := patch.ApplyAll(sources, res.Patches)
		if err != nil {
			return err
		}
		for _, f := range sortedKeys(files) {
			rel, err := relativeToInput(f, sets[i])
			if err != nil {
				return err
			}
			target := filepath.Join(root, rel)
			if abs, _ := filepath.Abs(f); abs == target {
				return fmt.Errorf("refusing to overwrite source file %s", f)
			}
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil { //nolint:gosec // G301: output directory is user-chosen
				return err
			}
			if err := os.WriteFile(target, []byte(files[f]), 0o644); err != nil { //nolint:gosec // G306: model files are not secret
				return fmt.Errorf("failed to write %s: %w", target, err)
			}
			written++
		}
	}
	_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "Wrote %d file(s) to %s\n", written, dir)
	return nil
}

// relativeToInput returns file relative to the parent directory of the
// input that contains it.
func relativeToInput(file string, inputs []string) (string, error) {
	abs, err := filepath.Abs(file)
	if err != nil {
		return "", err
	}
	for _, in := range inputs {
		in, err := filepath.Abs(in)
		if err != nil {
			return "", err
		}
		if abs != in && !strings.HasPrefix(abs, in+string(filepath.Separator)) {
			continue
		}
		return filepath.Rel(filepath.Dir(in), abs)
	}
	return "", fmt.Errorf("%s is outside the inputs %v", file, inputs)
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
