package commands

import (
	"errors"
	"fmt"
	"strings"

	"github.com/leapstack-labs/tabularlint/internal/cli/output"
	"github.com/leapstack-labs/tabularlint/internal/engine"
	"github.com/leapstack-labs/tabularlint/pkg/core"
	"github.com/leapstack-labs/tabularlint/pkg/lint"
	"github.com/spf13/cobra"
)

// ErrViolations is returned when a check finds violations at or above the
// severity threshold.
var ErrViolations = errors.New("standards violations found")

// CheckOptions holds options for the check command.
type CheckOptions struct {
	Format   string // Output format override
	Severity string // Minimum severity that fails the command
	Record   string // Recorder override: none, sqlite, dir
	Merge    bool   // Load all paths as one model
}

// NewCheckCommand creates the check command.
func NewCheckCommand() *cobra.Command {
	opts := &CheckOptions{}
	cmd := &cobra.Command{
		Use:   "check [paths...]",
		Short: "Validate tabular models against the rule catalog",
		Long: `Load one or more tabular models, evaluate every catalog rule and report
violations.

Paths may be TMDL bundle directories, *.pbip project files, loose .tmdl files
or model.bim / JSON exports. Directories that are not bundles are searched for
models, and every model found is checked on its own. Use --merge to treat all
paths as fragments of one model.

The command exits non-zero when a violation reaches --severity.`,
		Example: `  # Check every model under the current directory
  tabularlint check

  # Check one bundle and fail only on errors
  tabularlint check Sales.SemanticModel --severity error

  # Record the run in the SQLite state store
  tabularlint check model.bim --record sqlite

  # Machine-readable report
  tabularlint check -o json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCheck(cmd, args, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.Format, "format", "f", "", "Output format: text, markdown, json")
	cmd.Flags().StringVar(&opts.Severity, "severity", "", "Minimum failing severity: error, warning, info, hint")
	cmd.Flags().StringVar(&opts.Record, "record", "", "Record the run: none, sqlite, dir")
	cmd.Flags().BoolVar(&opts.Merge, "merge", false, "Load all paths as one model")

	return cmd
}

func runCheck(cmd *cobra.Command, args []string, opts *CheckOptions) error {
	cmdCtx, err := NewCommandContext(cmd, opts.Format)
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	threshold := cmdCtx.Cfg.MinSeverity()
	if opts.Severity != "" {
		s, ok := core.ParseSeverity(opts.Severity)
		if !ok {
			return fmt.Errorf("unknown severity %q", opts.Severity)
		}
		threshold = s
	}
	record := cmdCtx.Cfg.Record
	if opts.Record != "" {
		record = opts.Record
	}

	sets, err := inputSets(args, opts.Merge)
	if err != nil {
		return err
	}
	recorder, cleanup, err := cmdCtx.OpenRecorder(ctx, record)
	if err != nil {
		return err
	}
	defer cleanup()

	eng, err := cmdCtx.NewEngine(recorder)
	if err != nil {
		return err
	}

	results := make([]*engine.Result, 0, len(sets))
	for _, inputs := range sets {
		res, err := eng.Run(ctx, inputs...)
		if err != nil {
			return err
		}
		results = append(results, res)
	}

	if renderCheck(cmdCtx.Renderer, results, threshold) {
		return ErrViolations
	}
	return nil
}

// renderCheck writes the reports and reports whether any violation reaches threshold.
func renderCheck(r *output.Renderer, results []*engine.Result, threshold core.Severity) bool {
	failed := false
	for _, res := range results {
		if res.Report.HasFailures(threshold) {
			failed = true
		}
	}

	if r.EffectiveMode() == output.ModeJSON {
		_ = r.JSON(checkJSON(results, threshold))
		return failed
	}

	total := 0
	for _, res := range results {
		total += len(res.Report.Violations)
		renderReport(r, res)
	}
	if total == 0 {
		r.Success(fmt.Sprintf("No violations in %d model(s)", len(results)))
		return failed
	}
	r.Printf("Summary: %s in %d model(s)\n", summarize(results), len(results))
	return failed
}

func renderReport(r *output.Renderer, res *engine.Result) {
	styles := r.Styles()
	title := strings.Join(res.Model.Inputs(), ", ")
	if r.EffectiveMode() == output.ModeMarkdown {
		r.Printf("## %s\n\n", title)
	} else {
		r.Println(styles.ModelPath.Render(title))
	}

	if len(res.Report.Violations) > 0 {
		rows := make([][]string, 0, len(res.Report.Violations))
		for _, v := range res.Report.Violations {
			rows = append(rows, []string{
				styles.SeverityLabel(v.Severity),
				v.Element.String(),
				styles.Bold.Render(v.RuleID),
				v.Evidence.Message,
				fixText(v),
			})
		}
		r.Table([]string{"Severity", "Element", "Rule", "Message", "Fix"}, rows)
	}

	for _, f := range res.Report.Inconclusive {
		r.Printf("%s %s %s: %s\n", styles.Muted.Render("inconclusive"), f.Element, f.RuleID, f.Reason)
	}
	r.Println("")
}

func fixText(v lint.Violation) string {
	if v.Superseded {
		return "(superseded)"
	}
	if s, ok := v.Suggestion.Get(); ok {
		return fmt.Sprintf("%s → %q", v.FixField, s)
	}
	return ""
}

func summarize(results []*engine.Result) string {
	counts := make(map[core.Severity]int)
	total := 0
	for _, res := range results {
		for sev, n := range res.Report.Counts() {
			counts[sev] += n
			total += n
		}
	}
	parts := []string{fmt.Sprintf("%d violations", total)}
	for _, sev := range []core.Severity{core.SeverityError, core.SeverityWarning, core.SeverityInfo, core.SeverityHint} {
		if counts[sev] > 0 {
			parts = append(parts, fmt.Sprintf("%d %s", counts[sev], sev))
		}
	}
	return strings.Join(parts, ", ")
}

// CheckOutput is the JSON output of the check command.
type CheckOutput struct {
	Threshold string            `json:"threshold"`
	Failed    bool              `json:"failed"`
	Models    []CheckModelEntry `json:"models"`
}

// CheckModelEntry is one model's report in CheckOutput.
type CheckModelEntry struct {
	Inputs  []string     `json:"inputs"`
	RunID   string       `json:"run_id"`
	Domain  string       `json:"domain"`
	Intent  string       `json:"intent"`
	Patches int          `json:"patches"`
	Report  *lint.Report `json:"report"`
}

func checkJSON(results []*engine.Result, threshold core.Severity) CheckOutput {
	out := CheckOutput{Threshold: threshold.String(), Models: make([]CheckModelEntry, 0, len(results))}
	for _, res := range results {
		out.Failed = out.Failed || res.Report.HasFailures(threshold)
		out.Models = append(out.Models, CheckModelEntry{
			Inputs:  res.Model.Inputs(),
			RunID:   res.Run.ID,
			Domain:  res.Classification.Domain,
			Intent:  res.Classification.Intent,
			Patches: len(res.Patches),
			Report:  res.Report,
		})
	}
	return out
}
