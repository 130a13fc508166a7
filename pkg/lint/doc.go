// Package lint evaluates a rule catalog against a tabular model.
//
// The Evaluator walks every table of a model concurrently, applies the
// automated check of each catalog rule to the elements the rule targets, and
// merges the per-table results into one Report in a canonical order:
//
//	(table, element name, element kind, catalog rule index)
//
// A Violation carries the evidence that triggered it and, when the rule
// declares an automatic fix, the field and value that would satisfy it.
// Two fixes that write the same field of the same element are reconciled in
// favour of the rule listed first in the catalog; the other is kept in the
// report but marked superseded.
//
// Rules without a check, or whose check cannot decide for an element, are
// reported as inconclusive findings rather than dropped.
//
// Config disables rules or overrides their severity without editing the
// catalog:
//
//	cfg := lint.NewConfig().
//		Disable("dax.coding.variables").
//		SetSeverity("dax.coding.division", core.SeverityError)
//	report, err := lint.NewEvaluator(cat, lint.Options{Config: cfg}).Evaluate(ctx, model)
package lint
