package loader

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/leapstack-labs/tabularlint/internal/testutil"
	"github.com/leapstack-labs/tabularlint/pkg/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const bundleDir = "testdata/Sales.SemanticModel"

func loadModel(t *testing.T, paths ...string) *core.Model {
	t.Helper()
	m, err := New(testutil.NewTestLogger(t)).Load(context.Background(), paths...)
	require.NoError(t, err)
	return m
}

func spanText(t *testing.T, m *core.Model, loc core.Location, f core.Field) string {
	t.Helper()
	span, ok := loc.FieldSpan(f)
	require.True(t, ok, "field %s has no span", f)
	src, ok := m.Source(loc.File)
	require.True(t, ok)
	text, ok := span.Text(src)
	require.True(t, ok)
	return text
}

func TestLoad_Bundle(t *testing.T) {
	m := loadModel(t, bundleDir)

	tables := m.Tables()
	require.Len(t, tables, 2)
	assert.Equal(t, "Customer", tables[0].Name, "ref table order wins over file order")
	assert.Equal(t, "Sales", tables[1].Name)

	sales := tables[1]
	assert.Equal(t, core.Some("Fact table of sales"), sales.Description)
	require.Len(t, sales.Columns, 3)
	require.Len(t, sales.Measures, 3)
	require.Len(t, sales.Relationships, 1)

	amount, ok := sales.Column("Sales Amount")
	require.True(t, ok)
	assert.Equal(t, "'Sales Amount'", spanText(t, m, amount.Location, core.FieldName))
	assert.Equal(t, core.Some("Amounts"), amount.DisplayFolder)
	assert.False(t, amount.FormatString.IsSet())

	margin, _ := sales.Column("Margin")
	assert.Equal(t, core.Some("[Sales Amount] - [Cost]"), margin.Expression)

	total, ok := sales.Measure("total_sales")
	require.True(t, ok)
	assert.Equal(t, core.Some("SUM(Sales[Sales Amount])"), total.Expression)
	assert.Equal(t, core.Some("#,##0.00;(#,##0.00);-"), total.FormatString)
	assert.Equal(t, "#,##0.00;(#,##0.00);-", spanText(t, m, total.Location, core.FieldFormatString))
	assert.Equal(t, core.SyntaxTMDL, total.Location.Syntax)
	assert.Equal(t, "\t\t", total.Location.Indent)

	tm, _ := sales.Measure("Total Margin")
	assert.Equal(t, core.Some("SUMX(\nSales,\n[Margin]\n)"), tm.Expression)
	assert.Equal(t, core.Some("Margin over all rows"), tm.Description)

	lookup, _ := sales.Measure("lookup_name")
	assert.Equal(t, core.Some("LOOKUPVALUE(Customer[Name], Customer[CustomerKey], 1)"), lookup.Expression)
	assert.False(t, lookup.DisplayFolder.IsSet(), "missing optional fields stay absent")
	assert.True(t, lookup.Location.Insert.IsInsertion())

	rel := sales.Relationships[0]
	assert.Equal(t, "0a1b", rel.Name)
	assert.Equal(t, "Sales", rel.FromTable)
	assert.Equal(t, "CustomerKey", rel.FromColumn)
	assert.Equal(t, "Customer", rel.ToTable)
	assert.Equal(t, "CustomerKey", spanText(t, m, rel.Location, core.FieldFromColumn))

	assert.Equal(t, "sales", m.Metadata()["domain"])
	assert.Equal(t, "finance", m.Metadata()["owner.team"])
	assert.Equal(t, "gold,certified", m.Metadata()["tags"])
}

func TestLoad_ExportMatchesBundle(t *testing.T) {
	bundle := loadModel(t, bundleDir)
	export := loadModel(t, filepath.Join("testdata", "export", "model.bim"))

	summarize := func(m *core.Model) map[string]map[core.Field]core.Opt {
		out := make(map[string]map[core.Field]core.Opt)
		fields := []core.Field{
			core.FieldName, core.FieldDisplayFolder, core.FieldFormatString, core.FieldDataType,
			core.FieldDescription, core.FieldExpression, core.FieldFromTable, core.FieldFromColumn,
			core.FieldToTable, core.FieldToColumn,
		}
		for _, tbl := range m.Tables() {
			for _, e := range tbl.Elements() {
				vals := make(map[core.Field]core.Opt)
				for _, f := range fields {
					vals[f] = e.Value(f)
				}
				out[e.Ref().String()] = vals
			}
		}
		return out
	}
	assert.Equal(t, summarize(bundle), summarize(export))
}

func TestLoad_ExportSpans(t *testing.T) {
	m := loadModel(t, filepath.Join("testdata", "export", "model.bim"))
	sales, ok := m.Table("Sales")
	require.True(t, ok)

	total, _ := sales.Measure("total_sales")
	assert.Equal(t, core.SyntaxJSON, total.Location.Syntax)
	assert.Equal(t, `"total_sales"`, spanText(t, m, total.Location, core.FieldName))
	assert.Equal(t, `"Sales"`, spanText(t, m, total.Location, core.FieldDisplayFolder))

	src, _ := m.Source(total.Location.File)
	insert := total.Location.Insert.Start.Offset
	assert.Equal(t, byte('{'), src[insert-1], "insertion point follows the opening brace")

	tm, _ := sales.Measure("Total Margin")
	assert.Equal(t, core.Some("Sales"), tm.DisplayFolder, "keys match case-insensitively")
}

func TestLoad_TableAndRelationshipProperties(t *testing.T) {
	tests := []struct {
		name  string
		files map[string]string
		input string
		// quoted reports whether names appear in JSON string quotes
		quoted bool
	}{
		{
			name: "tmdl",
			files: map[string]string{
				"m/definition/model.tmdl": "model Model\n\nref table 'Fact Sales'\nref table Dim\n",
				"m/definition/tables/F.tmdl": "table 'Fact Sales'\n\tdisplayFolder: Facts\n\tformatString: 0\n" +
					"\tcolumn Key\n",
				"m/definition/tables/D.tmdl": "table Dim\n\tcolumn Key\n",
				"m/definition/relationships.tmdl": "relationship r1\n\tdisplayFolder: Links\n" +
					"\tfromColumn: 'Fact Sales'.Key\n\ttoColumn: Dim.Key\n",
			},
			input: "m",
		},
		{
			name: "json",
			files: map[string]string{
				"model.bim": `{"model": {"tables": [` +
					`{"name": "Fact Sales", "displayFolder": "Facts", "formatString": "0", "columns": [{"name": "Key"}]},` +
					`{"name": "Dim", "columns": [{"name": "Key"}]}],` +
					`"relationships": [{"name": "r1", "displayFolder": "Links", "fromTable": "Fact Sales", "fromColumn": "Key", "toTable": "Dim", "toColumn": "Key"}]}}`,
			},
			input:  "model.bim",
			quoted: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := testutil.WriteFiles(t, tt.files)
			m := loadModel(t, filepath.Join(dir, tt.input))
			q := func(s string) string {
				if tt.quoted {
					return `"` + s + `"`
				}
				return s
			}

			fact, ok := m.Table("Fact Sales")
			require.True(t, ok)
			assert.Equal(t, core.Some("Facts"), fact.Value(core.FieldDisplayFolder))
			assert.Equal(t, core.Some("0"), fact.Value(core.FieldFormatString))

			require.Len(t, fact.Relationships, 1)
			rel := fact.Relationships[0]
			assert.Equal(t, core.Some("Links"), rel.Value(core.FieldDisplayFolder))
			assert.Equal(t, core.Some("Fact Sales"), rel.Value(core.FieldFromTable))
			assert.Equal(t, core.Some("Dim"), rel.Value(core.FieldToTable))
			if tt.quoted {
				assert.Equal(t, `"Fact Sales"`, spanText(t, m, rel.Location, core.FieldFromTable))
			} else {
				assert.Equal(t, "'Fact Sales'", spanText(t, m, rel.Location, core.FieldFromTable))
			}
			assert.Equal(t, q("Dim"), spanText(t, m, rel.Location, core.FieldToTable))
			assert.Equal(t, q("Key"), spanText(t, m, rel.Location, core.FieldToColumn))
		})
	}
}

func TestLoad_TableRefs(t *testing.T) {
	m := loadModel(t, bundleDir)
	customer, ok := m.Table("Customer")
	require.True(t, ok)
	require.Len(t, customer.Refs, 1)

	ref := customer.Refs[0]
	src, ok := m.Source(ref.File)
	require.True(t, ok)
	text, ok := ref.Name.Text(src)
	require.True(t, ok)
	assert.Equal(t, "Customer", text)
	assert.Equal(t, 4, ref.Name.Start.Line)
}

func TestLoad_JSONNullKeepsSpan(t *testing.T) {
	dir := testutil.WriteFiles(t, map[string]string{
		"model.bim": `{"model": {"tables": [{"name": "T", "measures": [{"name": "m", "displayFolder": null}]}]}}`,
	})
	m := loadModel(t, filepath.Join(dir, "model.bim"))
	tbl, _ := m.Table("T")
	ms, ok := tbl.Measure("m")
	require.True(t, ok)

	assert.False(t, ms.DisplayFolder.IsSet(), "null reads as absent")
	assert.Equal(t, "null", spanText(t, m, ms.Location, core.FieldDisplayFolder))
}

func TestLoad_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	for _, input := range []string{bundleDir, filepath.Join("testdata", "export", "model.bim")} {
		t.Run(filepath.Base(input), func(t *testing.T) {
			_, err := New(nil).Load(ctx, input)
			require.Error(t, err)
			assert.ErrorIs(t, err, context.Canceled)
			assert.ErrorIs(t, err, core.ErrCanceled)
			stage, ok := core.StageOf(err)
			require.True(t, ok)
			assert.Equal(t, core.StageLoad, stage)
		})
	}
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name     string
		files    map[string]string
		input    string
		kind     error
		wantLine int
	}{
		{
			name: "duplicate column and measure",
			files: map[string]string{
				"m/definition/tables/T.tmdl": "table T\n\tcolumn Amount\n\tmeasure Amount = 1\n",
			},
			input:    "m",
			kind:     core.ErrDuplicateElement,
			wantLine: 3,
		},
		{
			name: "duplicate table across files",
			files: map[string]string{
				"m/definition/tables/A.tmdl": "table T\n",
				"m/definition/tables/B.tmdl": "table T\n",
			},
			input:    "m",
			kind:     core.ErrDuplicateElement,
			wantLine: 1,
		},
		{
			name: "relationship to missing column",
			files: map[string]string{
				"m/definition/tables/A.tmdl":      "table A\n\tcolumn Key\n",
				"m/definition/tables/B.tmdl":      "table B\n\tcolumn Id\n",
				"m/definition/relationships.tmdl": "relationship r1\n\tfromColumn: A.Key\n\ttoColumn: B.Key\n",
			},
			input:    "m",
			kind:     core.ErrUnresolvedReference,
			wantLine: 1,
		},
		{
			name: "unterminated quoted name",
			files: map[string]string{
				"m/definition/tables/A.tmdl": "table A\n\tcolumn 'Broken\n",
			},
			input:    "m",
			kind:     core.ErrMalformed,
			wantLine: 2,
		},
		{
			name: "invalid json",
			files: map[string]string{
				"model.bim": "{\n  \"model\": {\n    \"tables\": [,]\n  }\n}\n",
			},
			input:    "model.bim",
			kind:     core.ErrMalformed,
			wantLine: 3,
		},
		{
			name: "json table without name",
			files: map[string]string{
				"model.bim": `{"model": {"tables": [{"columns": []}]}}`,
			},
			input:    "model.bim",
			kind:     core.ErrMalformed,
			wantLine: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := testutil.WriteFiles(t, tt.files)
			_, err := New(nil).Load(context.Background(), filepath.Join(dir, tt.input))
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.kind)

			var se *core.StageError
			require.True(t, errors.As(err, &se))
			assert.Equal(t, core.StageLoad, se.Stage)
			assert.Equal(t, tt.wantLine, se.Line)
		})
	}
}

func TestLoad_MergesInputs(t *testing.T) {
	dir := testutil.WriteFiles(t, map[string]string{
		"a.tmdl":  "table A\n\tcolumn Key\n",
		"b.bim":   `{"model": {"tables": [{"name": "B", "columns": [{"name": "Key"}]}], "relationships": [{"name": "r", "fromTable": "B", "fromColumn": "Key", "toTable": "A", "toColumn": "Key"}]}}`,
		"dup.bim": `{"model": {"tables": [{"name": "A"}]}}`,
	})

	m := loadModel(t, filepath.Join(dir, "a.tmdl"), filepath.Join(dir, "b.bim"))
	require.Len(t, m.Tables(), 2)
	b, _ := m.Table("B")
	require.Len(t, b.Relationships, 1)
	assert.Len(t, m.Files(), 2)

	_, err := New(nil).Load(context.Background(), filepath.Join(dir, "a.tmdl"), filepath.Join(dir, "dup.bim"))
	assert.ErrorIs(t, err, core.ErrDuplicateElement)
}

func TestParseTMDL_QuotedNames(t *testing.T) {
	src := "table 'Order ''Lines'''\n\tmeasure 'It''s' = 1\n\t\tdisplayFolder: \"Key \"\"Metrics\"\"\"\n"
	doc := newDocument()
	require.NoError(t, parseTMDL("t.tmdl", src, doc))
	require.Len(t, doc.Tables, 1)

	tbl := doc.Tables[0]
	assert.Equal(t, "Order 'Lines'", tbl.Name)
	require.Len(t, tbl.Measures, 1)
	assert.Equal(t, "It's", tbl.Measures[0].Name)
	assert.Equal(t, core.Some(`Key "Metrics"`), tbl.Measures[0].DisplayFolder)

	text, ok := tbl.Measures[0].Location.Name.Text(src)
	require.True(t, ok)
	assert.Equal(t, "'It''s'", text)
}

func TestDiscover(t *testing.T) {
	dir := testutil.WriteFiles(t, map[string]string{
		"a/Sales.SemanticModel/definition/model.tmdl": "model Model\n",
		"a/Sales.SemanticModel/metadata.json":         "{}",
		"b/export.json":                               "{}",
		"b/export.metadata.json":                      "{}",
		"b/metadata.json":                             "{}",
		"c/Finance.pbip/model.bim":                    "{}",
		".hidden/x.json":                              "{}",
		"notes.txt":                                   "",
	})

	got, err := Discover(dir)
	require.NoError(t, err)

	rel := make([]string, 0, len(got))
	for _, p := range got {
		r, err := filepath.Rel(dir, p)
		require.NoError(t, err)
		rel = append(rel, filepath.ToSlash(r))
	}
	assert.Equal(t, []string{
		"a/Sales.SemanticModel",
		"b/export.json",
		"c/Finance.pbip",
	}, rel)

	// A bundle target is returned unchanged.
	got, err = Discover(filepath.Join(dir, "a", "Sales.SemanticModel"))
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestOpen_DetectsShape(t *testing.T) {
	dir := testutil.WriteFiles(t, map[string]string{
		"x.tmdl":                    "table X\n",
		"x.bim":                     "{}",
		"P.pbip":                    "{}",
		"P.SemanticModel/model.bim": "{}",
		"x.csv":                     "",
	})

	src, err := Open(filepath.Join(dir, "x.tmdl"))
	require.NoError(t, err)
	assert.IsType(t, &TMDLSource{}, src)

	src, err = Open(filepath.Join(dir, "x.bim"))
	require.NoError(t, err)
	assert.IsType(t, &ExportSource{}, src)

	src, err = Open(filepath.Join(dir, "P.pbip"))
	require.NoError(t, err)
	require.IsType(t, &BundleSource{}, src)
	assert.Equal(t, filepath.Join(dir, "P.SemanticModel"), src.(*BundleSource).Dir)

	_, err = Open(filepath.Join(dir, "x.csv"))
	assert.ErrorIs(t, err, core.ErrMalformed)
}
