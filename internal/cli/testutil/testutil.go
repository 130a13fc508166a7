// Package testutil provides test utilities for CLI testing.
package testutil

import (
	"bytes"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	"github.com/leapstack-labs/tabularlint/internal/cli/output"
	"github.com/leapstack-labs/tabularlint/internal/testutil"
)

// SalesTable is a TMDL table with a few standards violations: a measure name
// that is not snake_case, a snake_case column, and a measure without a
// display folder or format string.
const SalesTable = `table Sales

	column customer_key
		dataType: int64

	column Amount
		dataType: decimal

	measure 'Total Sales' = SUM(Sales[Amount])
		displayFolder: Totals
		formatString: 0

	measure total_units = COUNTROWS(Sales)
`

// SetupTestProject creates a temporary project holding one TMDL bundle and
// returns the project directory and the bundle path.
func SetupTestProject(t *testing.T) (dir, bundle string) {
	t.Helper()
	dir = testutil.WriteFiles(t, map[string]string{
		"Sales.SemanticModel/definition/model.tmdl":        "model Model\n\tculture: en-US\n",
		"Sales.SemanticModel/definition/tables/Sales.tmdl": SalesTable,
		"Sales.SemanticModel/metadata.json":                `{"domain": "sales"}`,
	})
	return dir, filepath.Join(dir, "Sales.SemanticModel")
}

// TestRenderer wraps a Renderer for testing with captured output buffers.
type TestRenderer struct {
	*output.Renderer
	Out    *bytes.Buffer
	ErrOut *bytes.Buffer
}

// NewTestRenderer creates a new test renderer with the specified mode and TTY state.
// Output is captured in buffers for inspection.
func NewTestRenderer(mode output.Mode, isTTY bool) *TestRenderer {
	out := &bytes.Buffer{}
	errOut := &bytes.Buffer{}
	return &TestRenderer{
		Renderer: output.NewRendererWithTTY(out, errOut, isTTY, mode),
		Out:      out,
		ErrOut:   errOut,
	}
}

// NewTestRendererMarkdown creates a new test renderer in markdown mode.
func NewTestRendererMarkdown() *TestRenderer {
	return NewTestRenderer(output.ModeMarkdown, false)
}

// NewTestRendererJSON creates a new test renderer in JSON mode.
func NewTestRendererJSON() *TestRenderer {
	return NewTestRenderer(output.ModeJSON, false)
}

// Output returns the stdout output as a string.
func (tr *TestRenderer) Output() string {
	return tr.Out.String()
}

// ansiPattern matches ANSI escape codes.
var ansiPattern = regexp.MustCompile(`\x1b\[[0-9;]*[a-zA-Z]`)

// AssertNoANSI checks that a string contains no ANSI escape codes.
func AssertNoANSI(t *testing.T, s string) {
	t.Helper()
	if ansiPattern.MatchString(s) {
		t.Errorf("string contains ANSI escape codes: %q", s)
	}
}

// AssertValidMarkdown performs basic markdown validation.
// It checks for unclosed code fences and empty headers.
func AssertValidMarkdown(t *testing.T, md string) {
	t.Helper()

	if n := strings.Count(md, "```"); n%2 != 0 {
		t.Errorf("unbalanced code fences in markdown: found %d occurrences", n)
	}
	for i, line := range strings.Split(md, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "#") && strings.TrimLeft(trimmed, "# ") == "" {
			t.Errorf("empty header at line %d: %q", i+1, line)
		}
	}
}
