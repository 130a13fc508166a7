package lint

import (
	"slices"

	"github.com/leapstack-labs/tabularlint/pkg/core"
)

// Evidence explains why an element failed a rule.
type Evidence struct {
	Field    core.Field `json:"field"`
	Actual   core.Opt   `json:"actual"`
	Expected string     `json:"expected,omitempty"`
	Message  string     `json:"message"`
}

// Violation is one failing (element, rule) pair.
type Violation struct {
	Element   core.ElementRef `json:"element"`
	RuleID    string          `json:"rule_id"`
	RuleIndex int             `json:"rule_index"`
	Severity  core.Severity   `json:"severity"`
	Evidence  Evidence        `json:"evidence"`

	// FixField is the field the suggestion rewrites; empty without auto-fix.
	FixField   core.Field `json:"fix_field,omitempty"`
	Suggestion core.Opt   `json:"suggestion"`
	// Superseded marks a fix shadowed by an earlier rule on the same field.
	Superseded bool `json:"superseded"`
}

// Fixable reports whether the violation carries a usable suggestion.
func (v Violation) Fixable() bool {
	return !v.Superseded && v.Suggestion.IsSet()
}

// Finding records a check that could not reach a verdict.
type Finding struct {
	Element   core.ElementRef `json:"element"`
	RuleID    string          `json:"rule_id"`
	RuleIndex int             `json:"rule_index"`
	Reason    string          `json:"reason"`
}

// Report is the outcome of evaluating a catalog against a model.
type Report struct {
	CatalogVersion string      `json:"catalog_version"`
	Violations     []Violation `json:"violations"`
	Inconclusive   []Finding   `json:"inconclusive"`
}

// AtLeast returns the violations at or above min severity.
func (r *Report) AtLeast(min core.Severity) []Violation {
	var out []Violation
	for _, v := range r.Violations {
		if v.Severity.AtLeast(min) {
			out = append(out, v)
		}
	}
	return out
}

// HasFailures reports whether any violation reaches min severity.
func (r *Report) HasFailures(min core.Severity) bool {
	return slices.ContainsFunc(r.Violations, func(v Violation) bool {
		return v.Severity.AtLeast(min)
	})
}

// Counts tallies violations by severity.
func (r *Report) Counts() map[core.Severity]int {
	out := make(map[core.Severity]int)
	for _, v := range r.Violations {
		out[v.Severity]++
	}
	return out
}

// Fixable returns the violations the patch generator can act on.
func (r *Report) Fixable() []Violation {
	var out []Violation
	for _, v := range r.Violations {
		if v.Fixable() {
			out = append(out, v)
		}
	}
	return out
}
