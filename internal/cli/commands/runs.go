package commands

import (
	"strconv"
	"strings"
	"time"

	"github.com/leapstack-labs/tabularlint/internal/cli/output"
	"github.com/leapstack-labs/tabularlint/internal/state"
	"github.com/spf13/cobra"
)

// RunsOptions holds options for the runs command.
type RunsOptions struct {
	Limit  int    // Maximum runs to list
	Dir    bool   // Read the directory recorder instead of SQLite
	Format string // Output format
}

// NewRunsCommand creates the runs command.
func NewRunsCommand() *cobra.Command {
	opts := &RunsOptions{}
	cmd := &cobra.Command{
		Use:   "runs [run-id]",
		Short: "List recorded runs",
		Long: `List runs recorded by check or patch with --record, newest first.

Runs are read from the SQLite state store (state_path) unless --dir selects
the directory recorder (record_dir). Pass a run id to show one run.`,
		Example: `  # Ten most recent runs
  tabularlint runs --limit 10

  # Details of one run
  tabularlint runs 2f1c0c1e-7d1a-5d0b-9c53-0b5b2d1f5a11`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRuns(cmd, args, opts)
		},
	}

	cmd.Flags().IntVarP(&opts.Limit, "limit", "n", 20, "Maximum runs to list (0 for all)")
	cmd.Flags().BoolVar(&opts.Dir, "dir", false, "Read runs from the directory recorder")
	cmd.Flags().StringVarP(&opts.Format, "format", "f", "", "Output format: text, markdown, json")

	return cmd
}

func runRuns(cmd *cobra.Command, args []string, opts *RunsOptions) error {
	cmdCtx, err := NewCommandContext(cmd, opts.Format)
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	var store state.Store
	if opts.Dir {
		store = state.NewDirStore(cmdCtx.Cfg.RecordDir, cmdCtx.Logger)
	} else {
		s, err := cmdCtx.OpenStore(ctx)
		if err != nil {
			return err
		}
		store = s
	}
	defer func() { _ = store.Close() }()

	r := cmdCtx.Renderer
	if len(args) == 1 {
		run, err := store.GetRun(ctx, args[0])
		if err != nil {
			return err
		}
		return showRun(r, run)
	}

	summaries, err := store.ListRuns(ctx, opts.Limit)
	if err != nil {
		return err
	}
	if r.EffectiveMode() == output.ModeJSON {
		if summaries == nil {
			summaries = []state.Summary{}
		}
		return r.JSON(summaries)
	}
	if len(summaries) == 0 {
		r.Println("No recorded runs")
		return nil
	}

	rows := make([][]string, 0, len(summaries))
	for _, s := range summaries {
		rows = append(rows, []string{
			s.ID,
			s.RecordedAt.Local().Format(time.DateTime),
			s.CatalogVersion,
			strconv.Itoa(s.Violations),
			strconv.Itoa(s.Fixable),
			strconv.Itoa(s.Patches),
			strings.Join(s.Inputs, ", "),
		})
	}
	r.Table([]string{"ID", "Recorded", "Catalog", "Violations", "Fixable", "Patches", "Inputs"}, rows)
	return nil
}

func showRun(r *output.Renderer, run *state.Run) error {
	if r.EffectiveMode() == output.ModeJSON {
		return r.JSON(run)
	}
	s := run.Summarize()
	styles := r.Styles()
	r.Println(styles.Header1.Render("Run " + run.ID))
	r.Println("")
	r.Printf("  %s: %s\n", styles.Bold.Render("Recorded"), run.RecordedAt.Local().Format(time.DateTime))
	r.Printf("  %s: %s\n", styles.Bold.Render("Catalog"), run.CatalogVersion)
	r.Printf("  %s: %s\n", styles.Bold.Render("Inputs"), strings.Join(run.Inputs, ", "))
	r.Printf("  %s: %s\n", styles.Bold.Render("Digest"), run.InputsDigest)
	r.Printf("  %s: %d (%d fixable, %d inconclusive)\n", styles.Bold.Render("Violations"), s.Violations, s.Fixable, s.Inconclusive)
	r.Printf("  %s: %d\n", styles.Bold.Render("Patches"), s.Patches)
	for _, k := range sortedKeys(run.Metadata) {
		r.Printf("  %s: %s\n", styles.Muted.Render(k), run.Metadata[k])
	}
	if run.Report != nil && len(run.Report.Violations) > 0 {
		r.Println("")
		rows := make([][]string, 0, len(run.Report.Violations))
		for _, v := range run.Report.Violations {
			rows = append(rows, []string{styles.SeverityLabel(v.Severity), v.Element.String(), v.RuleID, fixText(v)})
		}
		r.Table([]string{"Severity", "Element", "Rule", "Fix"}, rows)
	}
	return nil
}
