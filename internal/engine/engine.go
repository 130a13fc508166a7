// Package engine runs the standards pipeline: load the model, evaluate the
// rule catalog, generate patches, classify and record the run.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/leapstack-labs/tabularlint/internal/classify"
	"github.com/leapstack-labs/tabularlint/internal/state"
	"github.com/leapstack-labs/tabularlint/pkg/catalog"
	"github.com/leapstack-labs/tabularlint/pkg/core"
	"github.com/leapstack-labs/tabularlint/pkg/lint"
	"github.com/leapstack-labs/tabularlint/pkg/loader"
	"github.com/leapstack-labs/tabularlint/pkg/patch"
)

// Config holds engine configuration.
type Config struct {
	// Catalog is the rule catalog; nil uses the embedded default.
	Catalog *catalog.Catalog
	// Lint holds rule overrides (optional).
	Lint *lint.Config
	// Workers bounds concurrent table evaluation; 0 means GOMAXPROCS.
	Workers int
	// Classifier tags the model with a domain; nil uses sidecar metadata.
	Classifier classify.Classifier
	// Recorder persists runs; nil records nothing.
	Recorder state.Recorder
	// Logger is the structured logger (optional, uses discard if nil).
	Logger *slog.Logger
}

// Engine wires the pipeline stages together. It holds no per-run state and
// may be reused.
type Engine struct {
	catalog    *catalog.Catalog
	loader     *loader.Loader
	evaluator  *lint.Evaluator
	generator  *patch.Generator
	classifier classify.Classifier
	recorder   state.Recorder
	logger     *slog.Logger
}

// New creates an engine.
func New(cfg Config) (*Engine, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	cat := cfg.Catalog
	if cat == nil {
		var err error
		if cat, err = catalog.Default(); err != nil {
			return nil, fmt.Errorf("failed to load default catalog: %w", err)
		}
	}
	classifier := cfg.Classifier
	if classifier == nil {
		classifier = classify.Metadata{}
	}
	recorder := cfg.Recorder
	if recorder == nil {
		recorder = state.Nop{}
	}

	for _, id := range cfg.Lint.UnknownRules(cat) {
		logger.Warn("lint settings name a rule the catalog does not define", slog.String("rule", id))
	}

	logger.Debug("initializing engine",
		slog.String("catalog_version", cat.Version()),
		slog.Int("rules", cat.Len()))

	return &Engine{
		catalog: cat,
		loader:  loader.New(logger),
		evaluator: lint.NewEvaluator(cat, lint.Options{
			Config:  cfg.Lint,
			Workers: cfg.Workers,
			Logger:  logger,
		}),
		generator:  patch.NewGenerator(logger),
		classifier: classifier,
		recorder:   recorder,
		logger:     logger,
	}, nil
}

// Catalog returns the catalog the engine evaluates.
func (e *Engine) Catalog() *catalog.Catalog {
	return e.catalog
}

// Result is the outcome of one run.
type Result struct {
	Model          *core.Model
	Report         *lint.Report
	Patches        []patch.Patch
	Classification classify.Classification
	Run            *state.Run
}

// Run loads the inputs and runs every stage. It returns a complete result or
// the first terminal error; a failing stage stops the run.
func (e *Engine) Run(ctx context.Context, paths ...string) (*Result, error) {
	start := time.Now()

	m, err := e.loader.Load(ctx, paths...)
	if err != nil {
		return nil, err
	}
	res, err := e.RunModel(ctx, m)
	if err != nil {
		return nil, err
	}

	e.logger.Info("run completed",
		slog.String("run_id", res.Run.ID),
		slog.Int("violations", len(res.Report.Violations)),
		slog.Int("patches", len(res.Patches)),
		slog.Duration("elapsed", time.Since(start)))
	return res, nil
}

// RunModel runs every stage after loading on an already built model.
func (e *Engine) RunModel(ctx context.Context, m *core.Model) (*Result, error) {
	report, err := e.evaluator.Evaluate(ctx, m)
	if err != nil {
		return nil, err
	}
	patches, err := e.generator.Generate(m, report)
	if err != nil {
		return nil, err
	}

	class, err := e.classifier.Classify(ctx, m)
	if err != nil {
		if ctx.Err() != nil {
			return nil, core.RecordError("classification", ctx.Err())
		}
		e.logger.Warn("classification failed, using generic domain", slog.String("error", err.Error()))
		class = classify.Classification{Domain: classify.GenericDomain, Intent: classify.DefaultIntent, Metadata: m.Metadata()}
	}

	run, err := state.NewRun(m, report, patches)
	if err != nil {
		return nil, core.RecordError("", err)
	}
	if run.Metadata == nil {
		run.Metadata = make(map[string]string)
	}
	run.Metadata["classification.domain"] = class.Domain
	run.Metadata["classification.intent"] = class.Intent

	if err := e.recorder.Record(ctx, run); err != nil {
		return nil, err
	}

	return &Result{
		Model:          m,
		Report:         report,
		Patches:        patches,
		Classification: class,
		Run:            run,
	}, nil
}

// LoadCatalog reads a catalog document, or the embedded default when path
// is empty.
func LoadCatalog(path string) (*catalog.Catalog, error) {
	if path == "" || path == catalog.DefaultPath {
		return catalog.Default()
	}
	return catalog.Load(path)
}
