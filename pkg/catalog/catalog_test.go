package catalog

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/leapstack-labs/tabularlint/pkg/casing"
	"github.com/leapstack-labs/tabularlint/pkg/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleYAML = `
version: 3
rules:
  - id: measure.snake
    applies_to: measures
    description: snake names
    severity: error
    automation:
      check: {kind: casing, style: snake_case}
      auto_fix: {type: transform, strategy: snake}
  - id: measure.folder
    applies_to: [measure]
    description: folders from a list
    automation:
      check: {type: allowed, field: displayFolder, allowed: [Sales, _Final]}
      auto_fix: {kind: assign, value: "{{ .Prefix | title }}"}
  - id: docs.only
    applies_to: [table]
    description: manual review
`

func TestParse_YAML(t *testing.T) {
	c, err := Parse([]byte(sampleYAML), FormatYAML)
	require.NoError(t, err)

	assert.Equal(t, "3", c.Version())
	require.Equal(t, 3, c.Len())

	rules := c.Rules()
	assert.Equal(t, []string{"measure.snake", "measure.folder", "docs.only"},
		[]string{rules[0].ID, rules[1].ID, rules[2].ID}, "declaration order is preserved")
	for i, r := range rules {
		assert.Equal(t, i, r.Index)
	}

	snake := rules[0]
	assert.Equal(t, []core.ElementKind{core.KindMeasure}, snake.AppliesTo)
	assert.Equal(t, core.SeverityError, snake.Severity)
	assert.Equal(t, CasingCheck{Target: core.FieldName, Style: casing.Snake}, snake.Check)
	assert.Equal(t, RenameFix{Style: casing.Snake}, snake.Fix)

	folder := rules[1]
	assert.Equal(t, core.SeverityWarning, folder.Severity, "severity defaults to warning")
	assert.Equal(t, MembershipCheck{Target: core.FieldDisplayFolder, Allowed: []string{"Sales", "_Final"}}, folder.Check)
	fix, ok := folder.Fix.(AssignFix)
	require.True(t, ok)
	assert.Equal(t, core.FieldDisplayFolder, fix.Field(), "assign defaults to the checked field")
	v, err := fix.Render(TemplateData{Name: "total_sales", Prefix: "total"})
	require.NoError(t, err)
	assert.Equal(t, "Total", v)

	assert.False(t, rules[2].Automated())
}

func TestParse_Formats(t *testing.T) {
	jsonDoc := `{"version": "1", "rules": [
		{"id": "r1", "applies_to": ["column"], "description": "d",
		 "automation": {"check": {"kind": "pattern", "regex": "^[A-Z]"}}}
	]}`
	tomlDoc := `
version = "1"

[[rules]]
id = "r1"
applies_to = ["column"]
description = "d"

[rules.automation.check]
kind = "pattern"
regex = "^[A-Z]"
`
	for name, tc := range map[string]struct {
		data   string
		format Format
	}{
		"json": {jsonDoc, FormatJSON},
		"toml": {tomlDoc, FormatTOML},
	} {
		t.Run(name, func(t *testing.T) {
			c, err := Parse([]byte(tc.data), tc.format)
			require.NoError(t, err)
			r, ok := c.Rule("r1")
			require.True(t, ok)
			pc, ok := r.Check.(PatternCheck)
			require.True(t, ok)
			assert.Equal(t, core.FieldName, pc.Target)
			assert.True(t, pc.Regex.MatchString("Amount"))
		})
	}
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		kind error
	}{
		{
			name: "duplicate id",
			doc:  "rules:\n  - {id: a, applies_to: [table]}\n  - {id: a, applies_to: [column]}\n",
			kind: core.ErrDuplicateRuleID,
		},
		{
			name: "unknown element kind",
			doc:  "rules:\n  - {id: a, applies_to: [visual]}\n",
			kind: core.ErrUnknownElementKind,
		},
		{
			name: "empty applies_to",
			doc:  "rules:\n  - {id: a, applies_to: []}\n",
			kind: core.ErrUnknownElementKind,
		},
		{
			name: "missing id",
			doc:  "rules:\n  - {applies_to: [table]}\n",
			kind: core.ErrMalformed,
		},
		{
			name: "bad severity",
			doc:  "rules:\n  - {id: a, applies_to: [table], severity: loud}\n",
			kind: core.ErrMalformed,
		},
		{
			name: "bad regex",
			doc:  "rules:\n  - id: a\n    applies_to: [table]\n    automation: {check: {kind: pattern, regex: '('}}\n",
			kind: core.ErrMalformed,
		},
		{
			name: "unknown param",
			doc:  "rules:\n  - id: a\n    applies_to: [table]\n    automation: {check: {kind: presence, field: name, colour: red}}\n",
			kind: core.ErrMalformed,
		},
		{
			name: "anti-pattern with fix",
			doc:  "rules:\n  - id: a\n    applies_to: [measure]\n    automation:\n      check: {kind: antipattern, construct: lookupvalue}\n      auto_fix: {kind: assign, value: x}\n",
			kind: core.ErrMalformed,
		},
		{
			name: "bad casing style",
			doc:  "rules:\n  - id: a\n    applies_to: [measure]\n    automation: {check: {kind: casing, style: kebab}}\n",
			kind: core.ErrMalformed,
		},
		{
			name: "bad template",
			doc:  "rules:\n  - id: a\n    applies_to: [measure]\n    automation:\n      check: {kind: presence, field: description}\n      auto_fix: {kind: assign, value: '{{ .Name'}\n",
			kind: core.ErrMalformed,
		},
		{
			name: "rename paired with a non-name check",
			doc:  "rules:\n  - id: a\n    applies_to: [measure]\n    automation:\n      check: {kind: presence, field: display_folder}\n      auto_fix: {kind: rename, style: snake_case}\n",
			kind: core.ErrMalformed,
		},
		{
			name: "not yaml",
			doc:  "rules: [",
			kind: core.ErrMalformed,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.doc), FormatYAML)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.kind)
			stage, ok := core.StageOf(err)
			require.True(t, ok)
			assert.Equal(t, core.StageCatalogParse, stage)
		})
	}
}

func TestParse_UnsupportedKindsDecode(t *testing.T) {
	doc := "rules:\n  - id: a\n    applies_to: [measure]\n    automation:\n      check: {kind: dax_parse, depth: 3}\n      auto_fix: {kind: reformat}\n"
	c, err := Parse([]byte(doc), FormatYAML)
	require.NoError(t, err)

	r, _ := c.Rule("a")
	uc, ok := r.Check.(UnsupportedCheck)
	require.True(t, ok)
	assert.Equal(t, "dax_parse", uc.CheckKind())
	uf, ok := r.Fix.(UnsupportedFix)
	require.True(t, ok)
	assert.Equal(t, "reformat", uf.FixKind())
}

func TestCatalog_ReadOnly(t *testing.T) {
	c, err := Parse([]byte(sampleYAML), FormatYAML)
	require.NoError(t, err)

	rules := c.Rules()
	rules[0].ID = "mutated"
	rules[0].AppliesTo[0] = core.KindTable

	again, ok := c.Rule("measure.snake")
	require.True(t, ok)
	assert.Equal(t, []core.ElementKind{core.KindMeasure}, again.AppliesTo)
	_, ok = c.Rule("mutated")
	assert.False(t, ok)
}

func TestLoad_SetsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte("rules:\n  - {id: a, applies_to: [nope]}\n"), 0o600))

	_, err := Load(path)
	var se *core.StageError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, path, se.File)
	assert.Equal(t, "a", se.Entity)
}

func TestDefault(t *testing.T) {
	c, err := Default()
	require.NoError(t, err)
	require.NotZero(t, c.Len())

	r, ok := c.Rule("dax.formatting.measure.format_string_required")
	require.True(t, ok)
	fa, ok := r.Fix.(FormatAssignFix)
	require.True(t, ok)
	assert.Equal(t, "#,##0", fa.FormatFor(core.Some("Int64")))
	assert.Equal(t, DefaultFormatString, fa.FormatFor(core.None()))

	for _, rule := range c.Rules() {
		if _, ok := rule.Check.(AntiPatternCheck); ok {
			assert.Nil(t, rule.Fix, rule.ID)
		}
	}
}

func TestDefault_DisplayFolderAllowed(t *testing.T) {
	c, err := Default()
	require.NoError(t, err)

	r, ok := c.Rule("dax.naming.display_folder.allowed")
	require.True(t, ok)
	assert.True(t, r.AppliesToKind(core.KindMeasure))
	assert.True(t, r.AppliesToKind(core.KindColumn))

	mc, ok := r.Check.(MembershipCheck)
	require.True(t, ok)
	assert.Equal(t, core.FieldDisplayFolder, mc.Target)

	fix, ok := r.Fix.(AssignFix)
	require.True(t, ok)
	assert.Equal(t, core.FieldDisplayFolder, fix.Field())
	value, err := fix.Render(TemplateData{Name: "x"})
	require.NoError(t, err)
	assert.Contains(t, mc.Allowed, value, "the default folder is itself allowed")

	required, ok := c.Rule("dax.naming.display_folder.required")
	require.True(t, ok)
	value, err = required.Fix.(AssignFix).Render(TemplateData{Name: "x"})
	require.NoError(t, err)
	assert.Contains(t, mc.Allowed, value)
}
