package lint

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"slices"
	"strings"

	"github.com/leapstack-labs/tabularlint/pkg/casing"
	"github.com/leapstack-labs/tabularlint/pkg/catalog"
	"github.com/leapstack-labs/tabularlint/pkg/core"
	"golang.org/x/sync/errgroup"
)

// Options configures an Evaluator.
type Options struct {
	Config  *Config
	Workers int // concurrent table workers; 0 means GOMAXPROCS
	Logger  *slog.Logger
}

// Evaluator runs the rules of a catalog against a model.
type Evaluator struct {
	catalog *catalog.Catalog
	config  *Config
	workers int
	logger  *slog.Logger
}

// NewEvaluator creates an evaluator for a catalog.
func NewEvaluator(cat *catalog.Catalog, opts Options) *Evaluator {
	if opts.Config == nil {
		opts.Config = NewConfig()
	}
	if opts.Workers <= 0 {
		opts.Workers = runtime.GOMAXPROCS(0)
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	return &Evaluator{
		catalog: cat,
		config:  opts.Config,
		workers: opts.Workers,
		logger:  opts.Logger,
	}
}

// tableResult is what one table worker produces.
type tableResult struct {
	violations []ordered
	findings   []Finding
}

// ordered carries the canonical position of a violation.
type ordered struct {
	table, element int
	v              Violation
}

// Evaluate produces the violation report. The report lists tables in
// document order; within a table the table itself, its columns, measures and
// relationships; within an element the rules in catalog order.
func (e *Evaluator) Evaluate(ctx context.Context, m *core.Model) (*Report, error) {
	rules := e.activeRules()
	if err := preflight(rules); err != nil {
		return nil, err
	}

	folders := buildFolderIndex(m, rules)
	tables := m.Tables()
	results := make([]tableResult, len(tables))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)
	for i, t := range tables {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			res, err := e.evaluateTable(i, t, rules, folders)
			if err != nil {
				return err
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		if _, ok := core.StageOf(err); !ok {
			err = core.EvaluationError(core.ErrCanceled, "", err)
		}
		return nil, err
	}

	var (
		all      []ordered
		findings []Finding
	)
	for _, res := range results {
		all = append(all, res.violations...)
		findings = append(findings, res.findings...)
	}
	slices.SortStableFunc(all, func(a, b ordered) int {
		if a.table != b.table {
			return a.table - b.table
		}
		if a.element != b.element {
			return a.element - b.element
		}
		return a.v.RuleIndex - b.v.RuleIndex
	})

	report := &Report{
		CatalogVersion: e.catalog.Version(),
		Violations:     make([]Violation, 0, len(all)),
		Inconclusive:   findings,
	}
	for _, o := range all {
		report.Violations = append(report.Violations, o.v)
	}
	supersede(report.Violations)

	e.logger.Debug("evaluation complete",
		slog.Int("tables", len(tables)),
		slog.Int("rules", len(rules)),
		slog.Int("violations", len(report.Violations)),
		slog.Int("inconclusive", len(report.Inconclusive)))
	return report, nil
}

func (e *Evaluator) activeRules() []catalog.Rule {
	var out []catalog.Rule
	for _, r := range e.catalog.Rules() {
		if !r.Automated() || e.config.IsDisabled(r.ID) {
			continue
		}
		r.Severity = e.config.GetSeverity(r.ID, r.Severity)
		out = append(out, r)
	}
	return out
}

// preflight rejects catalogs that use checks or fixes this build cannot run.
func preflight(rules []catalog.Rule) error {
	for _, r := range rules {
		if uc, ok := r.Check.(catalog.UnsupportedCheck); ok {
			return core.EvaluationError(core.ErrUnsupportedCondition, r.ID,
				fmt.Errorf("check kind %q", uc.Kind))
		}
		if uf, ok := r.Fix.(catalog.UnsupportedFix); ok {
			return core.EvaluationError(core.ErrUnsupportedCondition, r.ID,
				fmt.Errorf("auto_fix kind %q", uf.Kind))
		}
	}
	return nil
}

func (e *Evaluator) evaluateTable(ti int, t core.Table, rules []catalog.Rule, folders folderIndex) (tableResult, error) {
	var res tableResult
	for ei, el := range t.Elements() {
		for _, r := range rules {
			if !r.AppliesToKind(el.Kind()) {
				continue
			}
			out := evalCheck(el, r.Check, folders)
			if out.inconclusive != "" {
				res.findings = append(res.findings, Finding{
					Element:   el.Ref(),
					RuleID:    r.ID,
					RuleIndex: r.Index,
					Reason:    out.inconclusive,
				})
				continue
			}
			if !out.fail {
				continue
			}
			v := Violation{
				Element:   el.Ref(),
				RuleID:    r.ID,
				RuleIndex: r.Index,
				Severity:  r.Severity,
				Evidence:  out.evidence,
			}
			if r.Fix != nil {
				suggestion, err := suggest(el, r.Fix, out.expected)
				if err != nil {
					return res, core.EvaluationError(core.ErrMalformed, r.ID,
						fmt.Errorf("%s: %w", el.Ref(), err))
				}
				v.FixField = r.Fix.Field()
				cur, ok := el.Value(v.FixField).Get()
				switch {
				case ok && cur == suggestion:
				case !satisfies(el, r, rules, suggestion, folders):
					e.logger.Warn("fix does not satisfy its rule, suggestion dropped",
						slog.String("rule", r.ID),
						slog.String("element", el.Ref().String()),
						slog.String("suggestion", suggestion))
				default:
					v.Suggestion = core.Some(suggestion)
				}
			}
			res.violations = append(res.violations, ordered{table: ti, element: ei, v: v})
		}
	}
	return res, nil
}

// satisfies reports whether writing suggestion into the fix field of el
// clears every active check on that field, the fixing rule's own included.
// Blank assignments never do.
func satisfies(el core.Element, fix catalog.Rule, rules []catalog.Rule, suggestion string, folders folderIndex) bool {
	if _, ok := fix.Fix.(catalog.AssignFix); ok && strings.TrimSpace(suggestion) == "" {
		return false
	}
	field := fix.Fix.Field()
	patched := overlay{Element: el, field: field, value: suggestion}
	for _, r := range rules {
		if !r.AppliesToKind(el.Kind()) || r.Check.Field() != field {
			continue
		}
		if out := evalCheck(patched, r.Check, folders); out.fail {
			return false
		}
	}
	return true
}

// overlay is an element with one field replaced.
type overlay struct {
	core.Element
	field core.Field
	value string
}

func (o overlay) Value(f core.Field) core.Opt {
	if f == o.field {
		return core.Some(o.value)
	}
	return o.Element.Value(f)
}

// unwrap returns the element under any overlay.
func unwrap(el core.Element) core.Element {
	if o, ok := el.(overlay); ok {
		return unwrap(o.Element)
	}
	return el
}

// checkOutcome is the verdict of one check on one element.
type checkOutcome struct {
	fail         bool
	expected     string // value the check wanted, when it knows one
	evidence     Evidence
	inconclusive string
}

func evalCheck(el core.Element, check catalog.Check, folders folderIndex) checkOutcome {
	field := check.Field()
	actual := el.Value(field)
	val, set := actual.Get()
	ev := Evidence{Field: field, Actual: actual}
	what := fmt.Sprintf("%s %s", el.Kind(), strings.ReplaceAll(string(field), "_", " "))

	switch c := check.(type) {
	case catalog.PatternCheck:
		if !set || c.Regex.MatchString(val) != c.Forbid {
			return checkOutcome{}
		}
		ev.Expected = c.Regex.String()
		if c.Forbid {
			ev.Message = fmt.Sprintf("%s %q matches forbidden pattern %s", what, val, c.Regex)
		} else {
			ev.Message = fmt.Sprintf("%s %q does not match %s", what, val, c.Regex)
		}
		return checkOutcome{fail: true, evidence: ev}

	case catalog.CasingCheck:
		if !set || casing.Is(c.Style, val) {
			return checkOutcome{}
		}
		want := casing.Convert(c.Style, val)
		ev.Expected = want
		ev.Message = fmt.Sprintf("%s %q is not %s", what, val, c.Style)
		return checkOutcome{fail: true, expected: want, evidence: ev}

	case catalog.MembershipCheck:
		if !set || slices.Contains(c.Allowed, val) {
			return checkOutcome{}
		}
		ev.Expected = strings.Join(c.Allowed, " | ")
		ev.Message = fmt.Sprintf("%s %q is not one of %s", what, val, ev.Expected)
		return checkOutcome{fail: true, expected: c.Allowed[0], evidence: ev}

	case catalog.PresenceCheck:
		if set && strings.TrimSpace(val) != "" {
			return checkOutcome{}
		}
		ev.Message = fmt.Sprintf("%s is missing", what)
		return checkOutcome{fail: true, evidence: ev}

	case catalog.FolderConsistencyCheck:
		ms, ok := unwrap(el).(core.Measure)
		if !ok {
			return checkOutcome{}
		}
		want, ok := folders.expected(ms, c.MinGroup)
		if !ok || (set && val == want) {
			return checkOutcome{}
		}
		ev.Expected = want
		ev.Message = fmt.Sprintf("measures prefixed %q live in %q, this one in %s",
			casing.Prefix(ms.Name), want, actual)
		return checkOutcome{fail: true, expected: want, evidence: ev}

	case catalog.AntiPatternCheck:
		if !set {
			return checkOutcome{}
		}
		code, err := scanDAX(val)
		if err != nil {
			return checkOutcome{inconclusive: err.Error()}
		}
		found, desc := matchConstruct(code, c)
		if !found {
			return checkOutcome{}
		}
		ev.Actual = core.None() // expressions are too long to echo
		ev.Message = "expression " + desc
		return checkOutcome{fail: true, evidence: ev}

	default:
		// Unsupported checks are rejected before evaluation starts.
		return checkOutcome{}
	}
}

func suggest(el core.Element, fix catalog.Fix, expected string) (string, error) {
	name := el.Value(core.FieldName).Or("")
	switch f := fix.(type) {
	case catalog.RenameFix:
		return casing.Convert(f.Style, name), nil
	case catalog.AssignFix:
		return f.Render(catalog.TemplateData{
			Name:     name,
			Table:    el.Ref().Table,
			Kind:     el.Kind().String(),
			Prefix:   casing.Prefix(name),
			Expected: expected,
		})
	case catalog.FormatAssignFix:
		return f.FormatFor(el.Value(core.FieldDataType)), nil
	default:
		return "", fmt.Errorf("auto_fix kind %q", fix.FixKind())
	}
}

// supersede keeps the suggestion of the earliest rule per (element, field)
// and marks later fixes for the same field as superseded. Violations without
// a suggestion do not take part. Violations are already grouped by element
// and ordered by rule index.
func supersede(vs []Violation) {
	type key struct {
		el    core.ElementRef
		field core.Field
	}
	seen := make(map[key]bool)
	for i := range vs {
		v := &vs[i]
		if v.FixField == "" || !v.Suggestion.IsSet() {
			continue
		}
		k := key{el: v.Element, field: v.FixField}
		if seen[k] {
			v.Superseded = true
			v.Suggestion = core.None()
			continue
		}
		seen[k] = true
	}
}
