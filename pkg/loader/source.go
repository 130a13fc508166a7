// Package loader turns TMDL bundles and JSON model exports into one
// normalized core.Model.
package loader

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/leapstack-labs/tabularlint/pkg/core"
)

// Document is the model fragment yielded by one Source. Relationships are
// still unattached; the loader resolves them against every fragment.
type Document struct {
	Tables        []core.Table
	Relationships []core.Relationship
	Sources       map[string]string // file path -> original text
	TableOrder    []TableRef        // table order hints ("ref table" lines)
}

// TableRef is a "ref table" line of a model file.
type TableRef struct {
	Name     string
	Location core.Location
}

func newDocument() *Document {
	return &Document{Sources: make(map[string]string)}
}

// Source is anything that can yield a model fragment.
type Source interface {
	Load(ctx context.Context) (*Document, error)
}

// Open detects the shape of the input at path and returns its Source.
func Open(path string) (Source, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, core.LoadError(core.ErrMalformed, "", fmt.Errorf("open input: %w", err)).At(path, 0)
	}
	if info.IsDir() {
		return &BundleSource{Dir: path}, nil
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".tmdl":
		return &TMDLSource{Files: []string{path}}, nil
	case ".json", ".bim":
		return &ExportSource{Path: path}, nil
	case ".pbip":
		stem := strings.TrimSuffix(path, filepath.Ext(path))
		dir := stem + ".SemanticModel"
		if st, err := os.Stat(dir); err == nil && st.IsDir() {
			return &BundleSource{Dir: dir}, nil
		}
		return nil, core.LoadError(core.ErrMalformed, "", fmt.Errorf("no semantic model next to project file")).At(path, 0)
	default:
		return nil, core.LoadError(core.ErrMalformed, "", fmt.Errorf("unrecognized input format %q", filepath.Ext(path))).At(path, 0)
	}
}

// TMDLSource reads a fixed list of TMDL files.
type TMDLSource struct {
	Files []string
}

// Load implements Source.
func (s *TMDLSource) Load(ctx context.Context) (*Document, error) {
	doc := newDocument()
	for _, f := range s.Files {
		if err := ctx.Err(); err != nil {
			return nil, core.LoadError(core.ErrCanceled, "", err).At(f, 0)
		}
		data, err := os.ReadFile(f)
		if err != nil {
			return nil, core.LoadError(core.ErrMalformed, "", fmt.Errorf("read tmdl: %w", err)).At(f, 0)
		}
		doc.Sources[f] = string(data)
		if err := parseTMDL(f, string(data), doc); err != nil {
			return nil, err
		}
	}
	return doc, nil
}

// Loader loads input locations into one model.
type Loader struct {
	logger *slog.Logger
}

// New creates a loader. A nil logger discards output.
func New(logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Loader{logger: logger}
}

// Load opens every input, merges the fragments and validates the result.
// It returns exactly one model or a load error.
func (l *Loader) Load(ctx context.Context, paths ...string) (*core.Model, error) {
	if len(paths) == 0 {
		return nil, core.LoadError(core.ErrMalformed, "", fmt.Errorf("no input locations"))
	}
	docs := make([]*Document, 0, len(paths))
	metadata := make(map[string]string)
	for _, p := range paths {
		src, err := Open(p)
		if err != nil {
			return nil, err
		}
		doc, err := src.Load(ctx)
		if err != nil {
			return nil, err
		}
		l.logger.Debug("loaded source",
			slog.String("path", p),
			slog.Int("tables", len(doc.Tables)),
			slog.Int("relationships", len(doc.Relationships)))
		docs = append(docs, doc)

		meta, err := ReadSidecar(p)
		if err != nil {
			return nil, err
		}
		for k, v := range meta {
			metadata[k] = v
		}
	}
	return Build(docs, metadata, paths)
}
