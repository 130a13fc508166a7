package commands

import (
	"fmt"
	"slices"
	"strings"

	"github.com/leapstack-labs/tabularlint/internal/cli/output"
	"github.com/leapstack-labs/tabularlint/internal/engine"
	"github.com/leapstack-labs/tabularlint/pkg/catalog"
	"github.com/leapstack-labs/tabularlint/pkg/core"
	"github.com/spf13/cobra"
)

// RulesOptions holds options for the rules command.
type RulesOptions struct {
	Tag     string // Filter by tag
	Kind    string // Filter by element kind
	Verbose bool   // Show descriptions
	Format  string // Output format
}

// NewRulesCommand creates the rules command.
func NewRulesCommand() *cobra.Command {
	opts := &RulesOptions{}
	cmd := &cobra.Command{
		Use:   "rules [rule-id]",
		Short: "List the rules of the catalog",
		Long: `List the rules of the active catalog in declaration order.

The catalog is the embedded default unless --catalog or the catalog key in
tabularlint.yaml names another document. Rules without a check are listed
as manual; they are documented but never evaluated.

Output adapts to environment:
  - Terminal: Styled output with colors
  - Piped/Scripted: Markdown format
  - JSON: Machine-readable format`,
		Example: `  # List all rules
  tabularlint rules

  # Show details for a specific rule
  tabularlint rules dax.coding.division

  # Rules that apply to columns
  tabularlint rules --kind column

  # Rules tagged naming, with descriptions
  tabularlint rules --tag naming -V`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) > 0 {
				return showRule(cmd, args[0], opts)
			}
			return listRules(cmd, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.Tag, "tag", "t", "", "Filter by tag")
	cmd.Flags().StringVar(&opts.Kind, "kind", "", "Filter by element kind: table, column, measure, relationship")
	cmd.Flags().BoolVarP(&opts.Verbose, "verbose", "V", false, "Show descriptions")
	cmd.Flags().StringVarP(&opts.Format, "format", "f", "", "Output format: text, json, markdown")

	return cmd
}

func loadRules(cmd *cobra.Command, format string) (*CommandContext, *catalog.Catalog, error) {
	cmdCtx, err := NewCommandContext(cmd, format)
	if err != nil {
		return nil, nil, err
	}
	cat, err := engine.LoadCatalog(cmdCtx.Cfg.Catalog)
	if err != nil {
		return nil, nil, err
	}
	return cmdCtx, cat, nil
}

func listRules(cmd *cobra.Command, opts *RulesOptions) error {
	cmdCtx, cat, err := loadRules(cmd, opts.Format)
	if err != nil {
		return err
	}
	rules, err := filterRules(cat.Rules(), opts)
	if err != nil {
		return err
	}
	infos := make([]catalog.RuleInfo, len(rules))
	for i, r := range rules {
		infos[i] = r.Info()
	}

	r := cmdCtx.Renderer
	switch r.EffectiveMode() {
	case output.ModeJSON:
		return r.JSON(RulesJSONOutput{Version: cat.Version(), Rules: infos, Count: len(infos)})
	case output.ModeMarkdown:
		r.Printf("# Rules (catalog %s)\n\n", cat.Version())
	default:
		r.Println(r.Styles().Header1.Render(fmt.Sprintf("Rules (catalog %s, %d rules)", cat.Version(), len(infos))))
		r.Println("")
	}

	header := []string{"ID", "Severity", "Applies To", "Check", "Fix"}
	if opts.Verbose {
		header = append(header, "Description")
	}
	rows := make([][]string, 0, len(infos))
	for i, info := range infos {
		row := []string{
			info.ID,
			r.Styles().Severity(rules[i].Severity).Render(info.Severity),
			strings.Join(info.AppliesTo, ", "),
			orDash(info.Check, "manual"),
			orDash(info.Fix, "-"),
		}
		if opts.Verbose {
			row = append(row, truncateOneLine(info.Description, 80))
		}
		rows = append(rows, row)
	}
	r.Table(header, rows)

	if r.EffectiveMode() == output.ModeText {
		r.Println(r.Styles().Muted.Render("Use 'tabularlint rules <rule-id>' for details"))
	}
	return nil
}

func filterRules(rules []catalog.Rule, opts *RulesOptions) ([]catalog.Rule, error) {
	var kind core.ElementKind
	if opts.Kind != "" {
		k, ok := core.ParseElementKind(opts.Kind)
		if !ok {
			return nil, fmt.Errorf("unknown element kind %q", opts.Kind)
		}
		kind = k
	}
	var out []catalog.Rule
	for _, r := range rules {
		if opts.Tag != "" && !slices.Contains(r.Tags, opts.Tag) {
			continue
		}
		if opts.Kind != "" && !r.AppliesToKind(kind) {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

// RulesJSONOutput is the JSON output structure for rules listing.
type RulesJSONOutput struct {
	Version string             `json:"catalog_version"`
	Rules   []catalog.RuleInfo `json:"rules"`
	Count   int                `json:"count"`
}

func showRule(cmd *cobra.Command, ruleID string, opts *RulesOptions) error {
	cmdCtx, cat, err := loadRules(cmd, opts.Format)
	if err != nil {
		return err
	}
	rule, ok := cat.Rule(ruleID)
	if !ok {
		return fmt.Errorf("rule %q not found", ruleID)
	}
	info := rule.Info()

	r := cmdCtx.Renderer
	switch r.EffectiveMode() {
	case output.ModeJSON:
		return r.JSON(info)
	case output.ModeMarkdown:
		r.Printf("# %s\n\n", info.ID)
		if info.Title != "" {
			r.Printf("**%s**\n\n", info.Title)
		}
		r.Printf("**Severity:** `%s` | **Applies to:** %s\n\n", info.Severity, strings.Join(info.AppliesTo, ", "))
		r.Println(info.Description)
		r.Println("")
		r.Printf("- Check: `%s`\n- Fix: `%s`\n", orDash(info.Check, "manual"), orDash(info.Fix, "none"))
		if len(info.Tags) > 0 {
			r.Printf("- Tags: %s\n", strings.Join(info.Tags, ", "))
		}
		return nil
	}

	styles := r.Styles()
	r.Println(styles.Header1.Render(info.ID))
	if info.Title != "" {
		r.Println(styles.Bold.Render(info.Title))
	}
	r.Println("")
	r.Printf("  %s: %s\n", styles.Bold.Render("Severity"), styles.Severity(rule.Severity).Render(info.Severity))
	r.Printf("  %s: %s\n", styles.Bold.Render("Applies to"), strings.Join(info.AppliesTo, ", "))
	r.Printf("  %s: %s\n", styles.Bold.Render("Check"), orDash(info.Check, "manual"))
	r.Printf("  %s: %s\n", styles.Bold.Render("Fix"), orDash(info.Fix, "none"))
	if len(info.Tags) > 0 {
		r.Printf("  %s: %s\n", styles.Bold.Render("Tags"), strings.Join(info.Tags, ", "))
	}
	r.Println("")
	r.Println(styles.Bold.Render("Description"))
	r.Println("  " + info.Description)
	return nil
}

func orDash(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

func truncateOneLine(s string, maxLen int) string {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
