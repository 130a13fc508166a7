// Package state records pipeline runs: the violation report and patch set
// produced for one set of inputs under one catalog version.
//
// Run ids are content addressed, so recording the same outcome twice is a
// no-op in every store.
package state

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/leapstack-labs/tabularlint/pkg/core"
	"github.com/leapstack-labs/tabularlint/pkg/lint"
	"github.com/leapstack-labs/tabularlint/pkg/patch"
)

// runNamespace scopes UUIDv5 run ids.
var runNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://github.com/leapstack-labs/tabularlint/runs"))

// Run is one recorded pipeline outcome.
type Run struct {
	ID             string            `json:"id"`
	CatalogVersion string            `json:"catalog_version"`
	Inputs         []string          `json:"inputs"`
	InputsDigest   string            `json:"inputs_digest"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	Report         *lint.Report      `json:"report"`
	Patches        []patch.Patch     `json:"patches"`
	RecordedAt     time.Time         `json:"recorded_at"`
}

// NewRun assembles a run for a model, its report and its patches, and
// derives the run id from their content.
func NewRun(m *core.Model, report *lint.Report, patches []patch.Patch) (*Run, error) {
	run := &Run{
		CatalogVersion: report.CatalogVersion,
		Inputs:         m.Inputs(),
		InputsDigest:   InputsDigest(m),
		Metadata:       m.Metadata(),
		Report:         report,
		Patches:        patches,
		RecordedAt:     time.Now().UTC(),
	}
	id, err := RunID(run)
	if err != nil {
		return nil, err
	}
	run.ID = id
	return run, nil
}

// InputsDigest hashes every source file of a model, in path order.
func InputsDigest(m *core.Model) string {
	h := sha256.New()
	for _, f := range m.Files() {
		src, _ := m.Source(f)
		fmt.Fprintf(h, "%s\x00%d\x00", f, len(src))
		h.Write([]byte(src))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// RunID returns the UUIDv5 of the canonical JSON of the run's outcome.
// The timestamp and the metadata do not take part.
func RunID(run *Run) (string, error) {
	report := run.Report
	if report == nil {
		report = &lint.Report{}
	}
	canonical, err := json.Marshal(struct {
		CatalogVersion string           `json:"catalog_version"`
		InputsDigest   string           `json:"inputs_digest"`
		Violations     []lint.Violation `json:"violations"`
		Inconclusive   []lint.Finding   `json:"inconclusive"`
		Patches        []patch.Patch    `json:"patches"`
	}{
		CatalogVersion: run.CatalogVersion,
		InputsDigest:   run.InputsDigest,
		Violations:     nonNil(report.Violations),
		Inconclusive:   nonNil(report.Inconclusive),
		Patches:        nonNil(run.Patches),
	})
	if err != nil {
		return "", fmt.Errorf("canonical run encoding: %w", err)
	}
	return uuid.NewSHA1(runNamespace, canonical).String(), nil
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

// Summary is the row shown when listing runs.
type Summary struct {
	ID             string    `json:"id"`
	CatalogVersion string    `json:"catalog_version"`
	Inputs         []string  `json:"inputs"`
	Violations     int       `json:"violations"`
	Fixable        int       `json:"fixable"`
	Inconclusive   int       `json:"inconclusive"`
	Patches        int       `json:"patches"`
	RecordedAt     time.Time `json:"recorded_at"`
}

// Summarize counts the contents of a run.
func (r *Run) Summarize() Summary {
	s := Summary{
		ID:             r.ID,
		CatalogVersion: r.CatalogVersion,
		Inputs:         r.Inputs,
		Patches:        len(r.Patches),
		RecordedAt:     r.RecordedAt,
	}
	if r.Report != nil {
		s.Violations = len(r.Report.Violations)
		s.Fixable = len(r.Report.Fixable())
		s.Inconclusive = len(r.Report.Inconclusive)
	}
	return s
}

// Recorder persists runs.
type Recorder interface {
	Record(ctx context.Context, run *Run) error
}

// Store is a Recorder that can read runs back.
type Store interface {
	Recorder
	GetRun(ctx context.Context, id string) (*Run, error)
	ListRuns(ctx context.Context, limit int) ([]Summary, error)
	Close() error
}

// Nop discards runs.
type Nop struct{}

// Record implements Recorder.
func (Nop) Record(context.Context, *Run) error { return nil }
