package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/leapstack-labs/tabularlint/pkg/core"
	"github.com/leapstack-labs/tabularlint/pkg/lint"
	"github.com/leapstack-labs/tabularlint/pkg/patch"
)

// Files written for each run by DirStore.
const (
	ReportFile        = "report.json"
	PatchesJSONFile   = "patches.json"
	PatchesBinaryFile = "patches.msgpack"
	SummaryFile       = "summary.json"
)

// DirStore records each run as a directory of files under Root.
type DirStore struct {
	Root   string
	logger *slog.Logger
}

var _ Store = (*DirStore)(nil)

// NewDirStore creates a store rooted at root. A nil logger discards output.
func NewDirStore(root string, logger *slog.Logger) *DirStore {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &DirStore{Root: root, logger: logger}
}

// dirSummary is the content of summary.json.
type dirSummary struct {
	Summary
	InputsDigest string            `json:"inputs_digest"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// Record writes the run's files. The files are staged in a temporary
// directory and renamed into place; an existing run directory is left as is.
func (d *DirStore) Record(ctx context.Context, run *Run) error {
	if err := ctx.Err(); err != nil {
		return core.RecordError(run.ID, err)
	}
	dir := filepath.Join(d.Root, run.ID)
	if _, err := os.Stat(filepath.Join(dir, SummaryFile)); err == nil {
		d.logger.Debug("run already recorded", slog.String("id", run.ID))
		return nil
	}
	if err := os.MkdirAll(d.Root, 0o755); err != nil {
		return core.RecordError(run.ID, fmt.Errorf("failed to create record directory: %w", err))
	}

	tmp, err := os.MkdirTemp(d.Root, "."+run.ID+"-*")
	if err != nil {
		return core.RecordError(run.ID, fmt.Errorf("failed to stage run: %w", err))
	}
	defer func() { _ = os.RemoveAll(tmp) }()

	if err := writeRunFiles(tmp, run); err != nil {
		return core.RecordError(run.ID, err)
	}
	if err := os.Rename(tmp, dir); err != nil {
		if _, statErr := os.Stat(filepath.Join(dir, SummaryFile)); statErr == nil {
			return nil // recorded concurrently
		}
		return core.RecordError(run.ID, fmt.Errorf("failed to move run into place: %w", err))
	}

	d.logger.Debug("recorded run", slog.String("id", run.ID), slog.String("dir", dir))
	return nil
}

func writeRunFiles(dir string, run *Run) error {
	report := run.Report
	if report == nil {
		report = &lint.Report{CatalogVersion: run.CatalogVersion}
	}
	if err := writeJSON(filepath.Join(dir, ReportFile), report); err != nil {
		return err
	}

	for _, out := range []struct {
		name  string
		codec patch.Codec
	}{
		{PatchesJSONFile, patch.JSONCodec{}},
		{PatchesBinaryFile, patch.MsgpackCodec{}},
	} {
		data, err := out.codec.Encode(run.Patches)
		if err != nil {
			return err
		}
		if err := os.WriteFile(filepath.Join(dir, out.name), data, 0o644); err != nil {
			return fmt.Errorf("failed to write %s: %w", out.name, err)
		}
	}

	return writeJSON(filepath.Join(dir, SummaryFile), dirSummary{
		Summary:      run.Summarize(),
		InputsDigest: run.InputsDigest,
		Metadata:     run.Metadata,
	})
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", filepath.Base(path), err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", filepath.Base(path), err)
	}
	return nil
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path is inside the record root
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to decode %s: %w", path, err)
	}
	return nil
}

// GetRun reads a recorded run back. Patches come from the msgpack file.
func (d *DirStore) GetRun(_ context.Context, id string) (*Run, error) {
	dir := filepath.Join(d.Root, id)
	var sum dirSummary
	if err := readJSON(filepath.Join(dir, SummaryFile), &sum); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("run not found: %s", id)
		}
		return nil, err
	}
	report := &lint.Report{}
	if err := readJSON(filepath.Join(dir, ReportFile), report); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(dir, PatchesBinaryFile)) //nolint:gosec // G304: path is inside the record root
	if err != nil {
		return nil, err
	}
	patches, err := patch.MsgpackCodec{}.Decode(data)
	if err != nil {
		return nil, err
	}
	return &Run{
		ID:             sum.ID,
		CatalogVersion: sum.CatalogVersion,
		Inputs:         sum.Inputs,
		InputsDigest:   sum.InputsDigest,
		Metadata:       sum.Metadata,
		Report:         report,
		Patches:        patches,
		RecordedAt:     sum.RecordedAt,
	}, nil
}

// ListRuns returns run summaries, newest first. A limit <= 0 returns all.
func (d *DirStore) ListRuns(_ context.Context, limit int) ([]Summary, error) {
	entries, err := os.ReadDir(d.Root)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}

	var out []Summary
	for _, e := range entries {
		if !e.IsDir() || e.Name()[0] == '.' {
			continue
		}
		var sum dirSummary
		err := readJSON(filepath.Join(d.Root, e.Name(), SummaryFile), &sum)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, sum.Summary)
	}
	slices.SortFunc(out, func(a, b Summary) int {
		if c := b.RecordedAt.Compare(a.RecordedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Close implements Store.
func (d *DirStore) Close() error { return nil }
