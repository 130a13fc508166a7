package engine

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/leapstack-labs/tabularlint/internal/classify"
	"github.com/leapstack-labs/tabularlint/internal/state"
	"github.com/leapstack-labs/tabularlint/internal/testutil"
	"github.com/leapstack-labs/tabularlint/pkg/catalog"
	"github.com/leapstack-labs/tabularlint/pkg/core"
	"github.com/leapstack-labs/tabularlint/pkg/lint"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const salesTMDL = `table Sales

	column customer_key
		dataType: int64

	measure 'Total Sales' = SUM(Sales[customer_key])
		displayFolder: Totals
		formatString: 0
`

func setupModel(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := testutil.WriteFiles(t, files)
	return filepath.Join(dir, "model.tmdl")
}

type recorderFunc func(ctx context.Context, run *state.Run) error

func (f recorderFunc) Record(ctx context.Context, run *state.Run) error { return f(ctx, run) }

type classifierFunc func(ctx context.Context, m *core.Model) (classify.Classification, error)

func (f classifierFunc) Classify(ctx context.Context, m *core.Model) (classify.Classification, error) {
	return f(ctx, m)
}

func TestNew_Defaults(t *testing.T) {
	e, err := New(Config{})
	require.NoError(t, err)

	def, err := catalog.Default()
	require.NoError(t, err)
	assert.Equal(t, def.Version(), e.Catalog().Version())
	assert.Equal(t, def.Len(), e.Catalog().Len())
}

func TestEngine_Run(t *testing.T) {
	path := setupModel(t, map[string]string{
		"model.tmdl":          salesTMDL,
		"model.metadata.json": `{"domain": "Sales", "intent": "publish"}`,
	})

	var recorded *state.Run
	e, err := New(Config{
		Logger: testutil.NewTestLogger(t),
		Recorder: recorderFunc(func(_ context.Context, run *state.Run) error {
			recorded = run
			return nil
		}),
	})
	require.NoError(t, err)

	res, err := e.Run(context.Background(), path)
	require.NoError(t, err)

	assert.NotEmpty(t, res.Report.Violations)
	assert.NotEmpty(t, res.Patches)
	assert.Equal(t, classify.Classification{
		Domain:   "sales",
		Intent:   "publish",
		Metadata: map[string]string{"domain": "Sales", "intent": "publish"},
	}, res.Classification)

	require.NotNil(t, recorded)
	assert.Same(t, res.Run, recorded)
	assert.Equal(t, "sales", recorded.Metadata["classification.domain"])
	assert.Equal(t, "publish", recorded.Metadata["classification.intent"])
	assert.Equal(t, e.Catalog().Version(), recorded.CatalogVersion)
	assert.Equal(t, []string{path}, recorded.Inputs)

	// The model's own metadata is untouched.
	_, ok := res.Model.Metadata()["classification.domain"]
	assert.False(t, ok)
}

func TestEngine_RunIsDeterministic(t *testing.T) {
	path := setupModel(t, map[string]string{"model.tmdl": salesTMDL})
	e, err := New(Config{Workers: 4})
	require.NoError(t, err)

	first, err := e.Run(context.Background(), path)
	require.NoError(t, err)
	second, err := e.Run(context.Background(), path)
	require.NoError(t, err)

	assert.Equal(t, first.Run.ID, second.Run.ID)
	assert.Equal(t, first.Patches, second.Patches)
	assert.Equal(t, first.Report, second.Report)
}

func TestEngine_RunRecordsToDirStore(t *testing.T) {
	ctx := context.Background()
	path := setupModel(t, map[string]string{"model.tmdl": salesTMDL})
	store := state.NewDirStore(filepath.Join(t.TempDir(), "runs"), nil)

	e, err := New(Config{Recorder: store})
	require.NoError(t, err)
	res, err := e.Run(ctx, path)
	require.NoError(t, err)

	got, err := store.GetRun(ctx, res.Run.ID)
	require.NoError(t, err)
	assert.Equal(t, res.Patches, got.Patches)
	assert.Equal(t, "generic", got.Metadata["classification.domain"])
}

func TestEngine_LintConfig(t *testing.T) {
	path := setupModel(t, map[string]string{"model.tmdl": salesTMDL})

	all, err := New(Config{})
	require.NoError(t, err)
	base, err := all.Run(context.Background(), path)
	require.NoError(t, err)
	require.NotEmpty(t, base.Report.Violations)

	cfg := lint.NewConfig()
	for _, r := range all.Catalog().Rules() {
		cfg.Disable(r.ID)
	}
	none, err := New(Config{Lint: cfg})
	require.NoError(t, err)
	res, err := none.Run(context.Background(), path)
	require.NoError(t, err)
	assert.Empty(t, res.Report.Violations)
	assert.Empty(t, res.Patches)
}

func TestEngine_ClassifierFailureFallsBack(t *testing.T) {
	path := setupModel(t, map[string]string{"model.tmdl": salesTMDL})
	logger, logs := testutil.NewRecordingLogger(t)
	e, err := New(Config{
		Logger: logger,
		Classifier: classifierFunc(func(context.Context, *core.Model) (classify.Classification, error) {
			return classify.Classification{}, errors.New("classifier offline")
		}),
	})
	require.NoError(t, err)

	res, err := e.Run(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, classify.GenericDomain, res.Classification.Domain)
	assert.Equal(t, classify.DefaultIntent, res.Classification.Intent)
	assert.Contains(t, logs.String(), "classifier offline")
	assert.Contains(t, logs.String(), "run completed")
}

func TestEngine_RunErrors(t *testing.T) {
	errBoom := errors.New("disk full")

	tests := []struct {
		name      string
		files     map[string]string
		recorder  state.Recorder
		wantStage core.Stage
	}{
		{
			name:      "malformed input",
			files:     map[string]string{"model.tmdl": "table\n"},
			wantStage: core.StageLoad,
		},
		{
			name:  "recorder fails",
			files: map[string]string{"model.tmdl": salesTMDL},
			recorder: recorderFunc(func(_ context.Context, run *state.Run) error {
				return core.RecordError(run.ID, errBoom)
			}),
			wantStage: core.StageRecord,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := setupModel(t, tt.files)
			e, err := New(Config{Recorder: tt.recorder, Logger: testutil.NewTestLogger(t)})
			require.NoError(t, err)

			res, err := e.Run(context.Background(), path)
			require.Error(t, err)
			assert.Nil(t, res)
			stage, ok := core.StageOf(err)
			require.True(t, ok, "error %v carries no stage", err)
			assert.Equal(t, tt.wantStage, stage)
		})
	}
}

func TestEngine_RunMissingInput(t *testing.T) {
	e, err := New(Config{})
	require.NoError(t, err)

	_, err = e.Run(context.Background())
	assert.Error(t, err)
	_, err = e.Run(context.Background(), filepath.Join(t.TempDir(), "nope.tmdl"))
	assert.Error(t, err)
}

func TestEngine_RunCancelled(t *testing.T) {
	path := setupModel(t, map[string]string{"model.tmdl": salesTMDL})
	e, err := New(Config{})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = e.Run(ctx, path)
	assert.ErrorIs(t, err, context.Canceled)
	stage, ok := core.StageOf(err)
	require.True(t, ok)
	assert.Equal(t, core.StageLoad, stage)
}

func TestLoadCatalog(t *testing.T) {
	cat, err := LoadCatalog("")
	require.NoError(t, err)
	assert.Positive(t, cat.Len())

	_, err = LoadCatalog(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
