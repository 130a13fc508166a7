package lint

import (
	"context"
	"testing"

	"github.com/leapstack-labs/tabularlint/internal/testutil"
	"github.com/leapstack-labs/tabularlint/pkg/catalog"
	"github.com/leapstack-labs/tabularlint/pkg/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustCatalog(t *testing.T, doc string) *catalog.Catalog {
	t.Helper()
	c, err := catalog.Parse([]byte(doc), catalog.FormatYAML)
	require.NoError(t, err)
	return c
}

func evaluate(t *testing.T, cat *catalog.Catalog, m *core.Model, opts Options) *Report {
	t.Helper()
	if opts.Logger == nil {
		opts.Logger = testutil.NewTestLogger(t)
	}
	r, err := NewEvaluator(cat, opts).Evaluate(context.Background(), m)
	require.NoError(t, err)
	return r
}

func measure(table, name, expr string, folder core.Opt) core.Measure {
	return core.Measure{Table: table, Name: name, Expression: core.Some(expr), DisplayFolder: folder}
}

func salesModel() *core.Model {
	return core.NewModel([]core.Table{
		{
			Name: "Sales",
			Columns: []core.Column{
				{Table: "Sales", Name: "CustomerId"},
				{Table: "Sales", Name: "order_date"},
			},
			Measures: []core.Measure{
				measure("Sales", "total_sales", "SUM(Sales[Amount])", core.None()),
				measure("Sales", "lookup_name", "LOOKUPVALUE(Customer[Name], Customer[Id], 1)", core.Some("Lookups")),
			},
		},
		{
			Name: "Customer",
			Columns: []core.Column{
				{Table: "Customer", Name: "Id"},
			},
		},
	}, nil, nil, nil)
}

func ruleIDs(vs []Violation) []string {
	out := make([]string, 0, len(vs))
	for _, v := range vs {
		out = append(out, v.RuleID+"@"+v.Element.String())
	}
	return out
}

func TestEvaluate_CasingFixpoint(t *testing.T) {
	pascal := mustCatalog(t, `
rules:
  - id: col.pascal
    applies_to: [column]
    automation: {check: {kind: casing, style: PascalCase}}
`)
	snake := mustCatalog(t, `
rules:
  - id: col.snake
    applies_to: [column]
    automation: {check: {kind: casing, style: snake_case}}
`)
	m := core.NewModel([]core.Table{{
		Name:    "Sales",
		Columns: []core.Column{{Table: "Sales", Name: "CustomerId"}},
	}}, nil, nil, nil)

	assert.Empty(t, evaluate(t, pascal, m, Options{}).Violations)

	r := evaluate(t, snake, m, Options{})
	require.Len(t, r.Violations, 1)
	assert.Equal(t, "customer_id", r.Violations[0].Evidence.Expected)
}

func TestEvaluate_PresenceWithAssign(t *testing.T) {
	cat := mustCatalog(t, `
rules:
  - id: measure.folder
    applies_to: [measure]
    automation:
      check: {kind: presence, field: display_folder}
      auto_fix: {kind: assign, value: _Final}
`)
	r := evaluate(t, cat, salesModel(), Options{})

	require.Len(t, r.Violations, 1)
	v := r.Violations[0]
	assert.Equal(t, core.ElementRef{Kind: core.KindMeasure, Table: "Sales", Name: "total_sales"}, v.Element)
	assert.Equal(t, core.FieldDisplayFolder, v.FixField)
	s, ok := v.Suggestion.Get()
	require.True(t, ok)
	assert.NotEmpty(t, s)
	assert.True(t, v.Fixable())
	assert.False(t, v.Evidence.Actual.IsSet())
}

func TestEvaluate_AntiPatternHasNoSuggestion(t *testing.T) {
	cat := mustCatalog(t, `
rules:
  - id: dax.lookup
    applies_to: [measure]
    automation: {check: {kind: antipattern, construct: lookupvalue}}
`)
	r := evaluate(t, cat, salesModel(), Options{})

	require.Len(t, r.Violations, 1)
	v := r.Violations[0]
	assert.Equal(t, "lookup_name", v.Element.Name)
	assert.False(t, v.Suggestion.IsSet())
	assert.Empty(t, r.Fixable())
}

func TestEvaluate_Supersession(t *testing.T) {
	cat := mustCatalog(t, `
rules:
  - id: col.snake
    applies_to: [column]
    automation:
      check: {kind: casing, style: snake_case}
      auto_fix: {kind: rename}
  - id: col.camel
    applies_to: [column]
    automation:
      check: {kind: casing, style: camelCase}
      auto_fix: {kind: rename}
`)
	m := core.NewModel([]core.Table{{
		Name:    "Sales",
		Columns: []core.Column{{Table: "Sales", Name: "Customer Id"}},
	}}, nil, nil, nil)

	r := evaluate(t, cat, m, Options{})
	require.Len(t, r.Violations, 2)

	first, second := r.Violations[0], r.Violations[1]
	assert.Equal(t, 0, first.RuleIndex)
	assert.Equal(t, core.Some("customer_id"), first.Suggestion)
	assert.False(t, first.Superseded)

	assert.Equal(t, 1, second.RuleIndex)
	assert.True(t, second.Superseded)
	assert.False(t, second.Suggestion.IsSet())
	assert.Len(t, r.Fixable(), 1)
}

func TestEvaluate_OrderAndDeterminism(t *testing.T) {
	cat, err := catalog.Default()
	require.NoError(t, err)

	var tables []core.Table
	for _, name := range []string{"Zeta", "Alpha", "Mid"} {
		tables = append(tables, core.Table{
			Name: name,
			Columns: []core.Column{
				{Table: name, Name: "bad_column"},
				{Table: name, Name: "Good"},
			},
			Measures: []core.Measure{
				measure(name, "Total Sales", "SUM(x[y]) / 2", core.None()),
				measure(name, "total_cost", "LOOKUPVALUE(a[b], a[c], 1)", core.Some("Cost")),
				measure(name, "total_margin", "1", core.Some("Cost")),
			},
		})
	}
	m := core.NewModel(tables, nil, nil, nil)

	serial := evaluate(t, cat, m, Options{Workers: 1})
	parallel := evaluate(t, cat, m, Options{Workers: 8})
	assert.Equal(t, serial, parallel)
	assert.Equal(t, serial, evaluate(t, cat, m, Options{Workers: 3}))

	// Tables in document order, then element order, then rule order.
	var tableOrder []string
	for _, v := range serial.Violations {
		if len(tableOrder) == 0 || tableOrder[len(tableOrder)-1] != v.Element.Table {
			tableOrder = append(tableOrder, v.Element.Table)
		}
	}
	assert.Equal(t, []string{"Zeta", "Alpha", "Mid"}, tableOrder)

	zeta := serial.Violations[:len(serial.Violations)/3]
	assert.Equal(t, core.KindColumn, zeta[0].Element.Kind)
	for i := 1; i < len(zeta); i++ {
		if zeta[i].Element == zeta[i-1].Element {
			assert.Less(t, zeta[i-1].RuleIndex, zeta[i].RuleIndex)
		}
	}
}

func TestEvaluate_UnsupportedCheck(t *testing.T) {
	cat := mustCatalog(t, `
rules:
  - id: future.rule
    applies_to: [measure]
    automation: {check: {kind: semantic_similarity}}
`)
	_, err := NewEvaluator(cat, Options{}).Evaluate(context.Background(), salesModel())
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrUnsupportedCondition)
	stage, _ := core.StageOf(err)
	assert.Equal(t, core.StageEvaluate, stage)

	// A disabled unsupported rule is never looked at.
	cfg := NewConfig().Disable("future.rule")
	_, err = NewEvaluator(cat, Options{Config: cfg}).Evaluate(context.Background(), salesModel())
	assert.NoError(t, err)
}

func TestEvaluate_InconclusiveScan(t *testing.T) {
	cat := mustCatalog(t, `
rules:
  - id: dax.lookup
    applies_to: [measure]
    automation: {check: {kind: antipattern, construct: lookupvalue}}
`)
	m := core.NewModel([]core.Table{{
		Name: "Sales",
		Measures: []core.Measure{
			measure("Sales", "broken", "LOOKUPVALUE(a[b], a[c], 1", core.None()),
		},
	}}, nil, nil, nil)

	r := evaluate(t, cat, m, Options{})
	assert.Empty(t, r.Violations)
	require.Len(t, r.Inconclusive, 1)
	assert.Equal(t, "dax.lookup", r.Inconclusive[0].RuleID)
	assert.Contains(t, r.Inconclusive[0].Reason, "unclosed")
}

func TestEvaluate_FolderConsistency(t *testing.T) {
	cat := mustCatalog(t, `
rules:
  - id: folder.consistent
    applies_to: [measure]
    automation:
      check: {kind: folder_consistency}
      auto_fix: {kind: assign, value: "{{ .Expected }}"}
`)
	m := core.NewModel([]core.Table{{
		Name: "Sales",
		Measures: []core.Measure{
			measure("Sales", "total_sales", "1", core.Some("Totals")),
			measure("Sales", "total_cost", "1", core.Some("Totals")),
			measure("Sales", "total_tax", "1", core.Some("Tax")),
			measure("Sales", "total_units", "1", core.None()),
			measure("Sales", "avg_price", "1", core.Some("B")),
			measure("Sales", "avg_cost", "1", core.Some("A")),
			measure("Sales", "lonely", "1", core.None()),
		},
	}}, nil, nil, nil)

	r := evaluate(t, cat, m, Options{})
	got := make(map[string]core.Opt)
	for _, v := range r.Violations {
		got[v.Element.Name] = v.Suggestion
	}
	assert.Equal(t, map[string]core.Opt{
		"total_tax":   core.Some("Totals"),
		"total_units": core.Some("Totals"),
		"avg_price":   core.Some("A"), // tie goes to the smallest folder name
	}, got)
}

func TestEvaluate_ConfigOverrides(t *testing.T) {
	cat := mustCatalog(t, `
rules:
  - id: col.pascal
    applies_to: [column]
    severity: warning
    automation: {check: {kind: casing, style: PascalCase}}
  - id: measure.folder
    applies_to: [measure]
    automation: {check: {kind: presence, field: display_folder}}
`)
	cfg := NewConfig().Disable("measure.folder").SetSeverity("col.pascal", core.SeverityError)
	r := evaluate(t, cat, salesModel(), Options{Config: cfg})

	assert.Equal(t, []string{"col.pascal@column Sales[order_date]"}, ruleIDs(r.Violations))
	assert.Equal(t, core.SeverityError, r.Violations[0].Severity)
	assert.True(t, r.HasFailures(core.SeverityError))
	assert.Equal(t, 1, r.Counts()[core.SeverityError])

	cfg.Disable("measure.folders").SetSeverity("col.snake", core.SeverityHint)
	assert.Equal(t, []string{"col.snake", "measure.folders"}, cfg.UnknownRules(cat))

	var none *Config
	assert.Nil(t, none.UnknownRules(cat))
	assert.False(t, none.IsDisabled("col.pascal"))
	assert.Equal(t, core.SeverityInfo, none.GetSeverity("col.pascal", core.SeverityInfo))
}

func TestEvaluate_FormatAssign(t *testing.T) {
	cat := mustCatalog(t, `
rules:
  - id: fmt
    applies_to: [measure, column]
    automation:
      check: {kind: presence, field: format_string}
      auto_fix: {kind: format_assign, defaults: {Int64: "#,##0"}}
`)
	m := core.NewModel([]core.Table{{
		Name:     "Sales",
		Columns:  []core.Column{{Table: "Sales", Name: "Qty", DataType: core.Some("int64")}},
		Measures: []core.Measure{measure("Sales", "total", "1", core.None())},
	}}, nil, nil, nil)

	r := evaluate(t, cat, m, Options{})
	require.Len(t, r.Violations, 2)
	assert.Equal(t, core.Some("#,##0"), r.Violations[0].Suggestion)
	assert.Equal(t, core.Some(catalog.DefaultFormatString), r.Violations[1].Suggestion)
}

func TestEvaluate_Cancelled(t *testing.T) {
	cat, err := catalog.Default()
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = NewEvaluator(cat, Options{Workers: 1}).Evaluate(ctx, salesModel())
	assert.ErrorIs(t, err, context.Canceled)
	assert.ErrorIs(t, err, core.ErrCanceled)
	stage, ok := core.StageOf(err)
	require.True(t, ok, "cancellation is reported as a stage error")
	assert.Equal(t, core.StageEvaluate, stage)
}

func TestEvaluate_SuggestionMustSatisfyCheck(t *testing.T) {
	tests := []struct {
		name    string
		catalog string
		want    map[string]core.Opt // element name -> suggestion
	}{
		{
			name: "assign outside the allowed values",
			catalog: `
rules:
  - id: folder.allowed
    applies_to: [measure]
    automation:
      check: {kind: membership, field: display_folder, allowed: [Sales, _Final]}
      auto_fix: {kind: assign, value: "{{ .Prefix | title }}"}
`,
			want: map[string]core.Opt{"lookup_name": core.None()},
		},
		{
			name: "assign of the first allowed value",
			catalog: `
rules:
  - id: folder.allowed
    applies_to: [measure]
    automation:
      check: {kind: membership, field: display_folder, allowed: [Sales, _Final]}
      auto_fix: {kind: assign, value: "{{ .Expected }}"}
`,
			want: map[string]core.Opt{"lookup_name": core.Some("Sales")},
		},
		{
			name: "blank assign",
			catalog: `
rules:
  - id: folder.required
    applies_to: [measure]
    automation:
      check: {kind: presence, field: display_folder}
      auto_fix: {kind: assign, value: "{{ .Expected }}"}
`,
			want: map[string]core.Opt{"total_sales": core.None()},
		},
		{
			name: "rename that still fails the pattern",
			catalog: `
rules:
  - id: col.letters
    applies_to: [column]
    automation:
      check: {kind: pattern, field: name, regex: "^[a-z]+$"}
      auto_fix: {kind: rename, style: snake_case}
`,
			want: map[string]core.Opt{"CustomerId": core.None(), "order_date": core.None()},
		},
		{
			name: "table display folder",
			catalog: `
rules:
  - id: table.folder
    applies_to: [table]
    automation:
      check: {kind: presence, field: display_folder}
      auto_fix: {kind: assign, value: Tables}
`,
			want: map[string]core.Opt{"Sales": core.Some("Tables"), "Customer": core.Some("Tables")},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := evaluate(t, mustCatalog(t, tt.catalog), salesModel(), Options{})
			got := make(map[string]core.Opt)
			for _, v := range r.Violations {
				got[v.Element.Name] = v.Suggestion
			}
			assert.Equal(t, tt.want, got)
			for _, v := range r.Violations {
				assert.Equal(t, v.Suggestion.IsSet(), v.Fixable(), v.Element.String())
			}
		})
	}
}

func TestEvaluate_FolderConsistencyHonorsAllowedFolders(t *testing.T) {
	cat := mustCatalog(t, `
rules:
  - id: folder.allowed
    applies_to: [measure, column]
    automation:
      check: {kind: membership, field: display_folder, allowed: [_Final, _Base]}
      auto_fix: {kind: assign, value: _Final}
  - id: folder.consistent
    applies_to: [measure]
    automation:
      check: {kind: folder_consistency}
      auto_fix: {kind: assign, value: "{{ .Expected }}"}
  - id: folder.required
    applies_to: [measure]
    automation:
      check: {kind: presence, field: display_folder}
      auto_fix: {kind: assign, value: _Final}
`)
	m := core.NewModel([]core.Table{{
		Name:    "Sales",
		Columns: []core.Column{{Table: "Sales", Name: "Key", DisplayFolder: core.Some("Keys")}},
		Measures: []core.Measure{
			measure("Sales", "total_sales", "1", core.Some("Totals")),
			measure("Sales", "total_cost", "1", core.Some("Totals")),
			measure("Sales", "total_units", "1", core.None()),
			measure("Sales", "avg_price", "1", core.Some("_Base")),
			measure("Sales", "avg_cost", "1", core.Some("_Final")),
			measure("Sales", "avg_units", "1", core.Some("_Base")),
		},
	}}, nil, nil, nil)

	r := evaluate(t, cat, m, Options{})
	got := make(map[string]core.Opt)
	for _, v := range r.Fixable() {
		got[v.RuleID+"@"+v.Element.Name] = v.Suggestion
	}
	assert.Equal(t, map[string]core.Opt{
		"folder.allowed@Key":          core.Some("_Final"),
		"folder.allowed@total_sales":  core.Some("_Final"),
		"folder.allowed@total_cost":   core.Some("_Final"),
		"folder.required@total_units": core.Some("_Final"),
		"folder.consistent@avg_cost":  core.Some("_Base"),
	}, got)
}
