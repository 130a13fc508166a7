package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/leapstack-labs/tabularlint/pkg/core"
	"github.com/leapstack-labs/tabularlint/pkg/lint"
	"github.com/leapstack-labs/tabularlint/pkg/patch"
	"github.com/leapstack-labs/tabularlint/pkg/token"
	_ "modernc.org/sqlite" // SQLite driver (pure Go)
)

// timeLayout is fixed width so stored timestamps sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	path   string
	logger *slog.Logger
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore creates a new SQLite state store instance.
// A nil logger discards output.
func NewSQLiteStore(logger *slog.Logger) *SQLiteStore {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &SQLiteStore{logger: logger}
}

// OpenSQLiteStore opens the database at path and migrates it.
func OpenSQLiteStore(ctx context.Context, path string, logger *slog.Logger) (*SQLiteStore, error) {
	s := NewSQLiteStore(logger)
	if err := s.Open(path); err != nil {
		return nil, err
	}
	if err := s.Migrate(ctx); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

// Open opens a connection to the SQLite database.
// Use ":memory:" for an in-memory database.
func (s *SQLiteStore) Open(path string) error {
	dsn := ":memory:?_pragma=foreign_keys(1)"
	if path != ":memory:" {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return fmt.Errorf("failed to create state directory: %w", err)
			}
		}
		dsn = path + "?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open sqlite database: %w", err)
	}
	if path == ":memory:" {
		// Every connection would get its own empty database.
		db.SetMaxOpenConns(1)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping sqlite database: %w", err)
	}

	s.db = db
	s.path = path
	s.logger.Debug("opened state store", slog.String("path", path))
	return nil
}

// Close closes the SQLite database connection.
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Record stores a run. Recording a run id that already exists is a no-op.
func (s *SQLiteStore) Record(ctx context.Context, run *Run) (err error) {
	if s.db == nil {
		return core.RecordError(run.ID, fmt.Errorf("database not opened"))
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return core.RecordError(run.ID, fmt.Errorf("failed to begin transaction: %w", err))
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var one int
	err = tx.QueryRowContext(ctx, `SELECT 1 FROM runs WHERE id = ?`, run.ID).Scan(&one)
	switch {
	case err == nil:
		s.logger.Debug("run already recorded", slog.String("id", run.ID))
		return tx.Rollback()
	case !errors.Is(err, sql.ErrNoRows):
		return core.RecordError(run.ID, fmt.Errorf("failed to look up run: %w", err))
	}

	if err = insertRun(ctx, tx, run); err != nil {
		return core.RecordError(run.ID, err)
	}
	if err = tx.Commit(); err != nil {
		return core.RecordError(run.ID, fmt.Errorf("failed to commit run: %w", err))
	}

	s.logger.Debug("recorded run",
		slog.String("id", run.ID),
		slog.Int("patches", len(run.Patches)))
	return nil
}

func insertRun(ctx context.Context, tx *sql.Tx, run *Run) error {
	sum := run.Summarize()
	inputs, err := json.Marshal(nonNil(run.Inputs))
	if err != nil {
		return fmt.Errorf("failed to encode inputs: %w", err)
	}
	meta := run.Metadata
	if meta == nil {
		meta = map[string]string{}
	}
	metadata, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("failed to encode metadata: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO runs (id, catalog_version, inputs, inputs_digest, metadata,
		 violation_count, fixable_count, finding_count, patch_count, recorded_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.CatalogVersion, string(inputs), run.InputsDigest, string(metadata),
		sum.Violations, sum.Fixable, sum.Inconclusive, sum.Patches,
		run.RecordedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}

	if run.Report != nil {
		for i, v := range run.Report.Violations {
			_, err := tx.ExecContext(ctx,
				`INSERT INTO violations (run_id, seq, element_kind, table_name, element_name,
				 rule_id, rule_index, severity, field, actual, expected, message,
				 fix_field, suggestion, superseded)
				 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				run.ID, i, v.Element.Kind.String(), v.Element.Table, v.Element.Name,
				v.RuleID, v.RuleIndex, v.Severity.String(), string(v.Evidence.Field),
				nullOpt(v.Evidence.Actual), v.Evidence.Expected, v.Evidence.Message,
				string(v.FixField), nullOpt(v.Suggestion), v.Superseded,
			)
			if err != nil {
				return fmt.Errorf("failed to insert violation: %w", err)
			}
		}
		for i, f := range run.Report.Inconclusive {
			_, err := tx.ExecContext(ctx,
				`INSERT INTO findings (run_id, seq, element_kind, table_name, element_name,
				 rule_id, rule_index, reason) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
				run.ID, i, f.Element.Kind.String(), f.Element.Table, f.Element.Name,
				f.RuleID, f.RuleIndex, f.Reason,
			)
			if err != nil {
				return fmt.Errorf("failed to insert finding: %w", err)
			}
		}
	}

	for i, p := range run.Patches {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO patches (run_id, seq, element_kind, table_name, element_name,
			 rule_id, rule_index, field, file,
			 start_line, start_column, start_offset, end_line, end_column, end_offset,
			 original_text, replacement_text)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			run.ID, i, p.Element.Kind.String(), p.Element.Table, p.Element.Name,
			p.RuleID, p.RuleIndex, string(p.Field), p.File,
			p.Span.Start.Line, p.Span.Start.Column, p.Span.Start.Offset,
			p.Span.End.Line, p.Span.End.Column, p.Span.End.Offset,
			p.Original, p.Replacement,
		)
		if err != nil {
			return fmt.Errorf("failed to insert patch: %w", err)
		}
	}
	return nil
}

// GetRun retrieves a run by ID.
func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*Run, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database not opened")
	}

	run := &Run{Report: &lint.Report{}}
	var inputs, metadata, recordedAt string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, catalog_version, inputs, inputs_digest, metadata, recorded_at
		 FROM runs WHERE id = ?`, id,
	).Scan(&run.ID, &run.CatalogVersion, &inputs, &run.InputsDigest, &metadata, &recordedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run not found: %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	if err := json.Unmarshal([]byte(inputs), &run.Inputs); err != nil {
		return nil, fmt.Errorf("failed to decode inputs: %w", err)
	}
	if err := json.Unmarshal([]byte(metadata), &run.Metadata); err != nil {
		return nil, fmt.Errorf("failed to decode metadata: %w", err)
	}
	if run.RecordedAt, err = time.Parse(timeLayout, recordedAt); err != nil {
		return nil, fmt.Errorf("failed to parse recorded_at: %w", err)
	}
	run.Report.CatalogVersion = run.CatalogVersion

	if run.Report.Violations, err = s.violations(ctx, id); err != nil {
		return nil, err
	}
	if run.Report.Inconclusive, err = s.findings(ctx, id); err != nil {
		return nil, err
	}
	if run.Patches, err = s.patches(ctx, id); err != nil {
		return nil, err
	}
	return run, nil
}

func (s *SQLiteStore) violations(ctx context.Context, id string) ([]lint.Violation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT element_kind, table_name, element_name, rule_id, rule_index, severity,
		 field, actual, expected, message, fix_field, suggestion, superseded
		 FROM violations WHERE run_id = ? ORDER BY seq`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query violations: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := []lint.Violation{}
	for rows.Next() {
		var (
			v                  lint.Violation
			kind, sev          string
			field, fixField    string
			actual, suggestion sql.NullString
		)
		if err := rows.Scan(&kind, &v.Element.Table, &v.Element.Name, &v.RuleID, &v.RuleIndex, &sev,
			&field, &actual, &v.Evidence.Expected, &v.Evidence.Message, &fixField, &suggestion, &v.Superseded); err != nil {
			return nil, fmt.Errorf("failed to scan violation: %w", err)
		}
		if err := v.Element.Kind.UnmarshalText([]byte(kind)); err != nil {
			return nil, err
		}
		if err := v.Severity.UnmarshalText([]byte(sev)); err != nil {
			return nil, err
		}
		v.Evidence.Field = core.Field(field)
		v.Evidence.Actual = optFrom(actual)
		v.FixField = core.Field(fixField)
		v.Suggestion = optFrom(suggestion)
		out = append(out, v)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) findings(ctx context.Context, id string) ([]lint.Finding, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT element_kind, table_name, element_name, rule_id, rule_index, reason
		 FROM findings WHERE run_id = ? ORDER BY seq`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query findings: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := []lint.Finding{}
	for rows.Next() {
		var (
			f    lint.Finding
			kind string
		)
		if err := rows.Scan(&kind, &f.Element.Table, &f.Element.Name, &f.RuleID, &f.RuleIndex, &f.Reason); err != nil {
			return nil, fmt.Errorf("failed to scan finding: %w", err)
		}
		if err := f.Element.Kind.UnmarshalText([]byte(kind)); err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) patches(ctx context.Context, id string) ([]patch.Patch, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT element_kind, table_name, element_name, rule_id, rule_index, field, file,
		 start_line, start_column, start_offset, end_line, end_column, end_offset,
		 original_text, replacement_text
		 FROM patches WHERE run_id = ? ORDER BY seq`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query patches: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := []patch.Patch{}
	for rows.Next() {
		var (
			p           patch.Patch
			kind, field string
			start, end  token.Position
		)
		if err := rows.Scan(&kind, &p.Element.Table, &p.Element.Name, &p.RuleID, &p.RuleIndex, &field, &p.File,
			&start.Line, &start.Column, &start.Offset, &end.Line, &end.Column, &end.Offset,
			&p.Original, &p.Replacement); err != nil {
			return nil, fmt.Errorf("failed to scan patch: %w", err)
		}
		if err := p.Element.Kind.UnmarshalText([]byte(kind)); err != nil {
			return nil, err
		}
		p.Field = core.Field(field)
		p.Span = token.Span{Start: start, End: end}
		out = append(out, p)
	}
	return out, rows.Err()
}

// ListRuns returns run summaries, newest first. A limit <= 0 returns all.
func (s *SQLiteStore) ListRuns(ctx context.Context, limit int) ([]Summary, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database not opened")
	}
	if limit <= 0 {
		limit = -1 // SQLite: no limit
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, catalog_version, inputs, violation_count, fixable_count,
		 finding_count, patch_count, recorded_at
		 FROM runs ORDER BY recorded_at DESC, id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Summary
	for rows.Next() {
		var (
			sum                Summary
			inputs, recordedAt string
		)
		if err := rows.Scan(&sum.ID, &sum.CatalogVersion, &inputs, &sum.Violations, &sum.Fixable,
			&sum.Inconclusive, &sum.Patches, &recordedAt); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		if err := json.Unmarshal([]byte(inputs), &sum.Inputs); err != nil {
			return nil, fmt.Errorf("failed to decode inputs: %w", err)
		}
		if sum.RecordedAt, err = time.Parse(timeLayout, recordedAt); err != nil {
			return nil, fmt.Errorf("failed to parse recorded_at: %w", err)
		}
		out = append(out, sum)
	}
	return out, rows.Err()
}

func nullOpt(o core.Opt) sql.NullString {
	v, ok := o.Get()
	return sql.NullString{String: v, Valid: ok}
}

func optFrom(ns sql.NullString) core.Opt {
	if !ns.Valid {
		return core.None()
	}
	return core.Some(ns.String)
}
