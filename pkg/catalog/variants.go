package catalog

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"
	"text/template"

	"github.com/leapstack-labs/tabularlint/pkg/casing"
	"github.com/leapstack-labs/tabularlint/pkg/core"
)

// =============================================================================
// Checks
// =============================================================================

// Check is the closed set of automated conditions. Evaluators switch over the
// concrete types; UnsupportedCheck stands for kinds this build does not know.
type Check interface {
	CheckKind() string
	// Field returns the element field the check inspects.
	Field() core.Field
	isCheck()
}

// Check kinds.
const (
	CheckPattern           = "pattern"
	CheckCasing            = "casing"
	CheckMembership        = "membership"
	CheckPresence          = "presence"
	CheckFolderConsistency = "folder_consistency"
	CheckAntiPattern       = "antipattern"
)

// PatternCheck requires a field to match (or, with Forbid, not match) a
// regular expression. Absent values pass.
type PatternCheck struct {
	Target core.Field
	Regex  *regexp.Regexp
	Forbid bool
}

// CasingCheck requires a field to already be in a naming style.
type CasingCheck struct {
	Target core.Field
	Style  casing.Style
}

// MembershipCheck requires a field value to be one of Allowed. Absent values
// pass; pair with a PresenceCheck to require the field.
type MembershipCheck struct {
	Target  core.Field
	Allowed []string
}

// PresenceCheck requires a field to be set.
type PresenceCheck struct {
	Target core.Field
}

// FolderConsistencyCheck requires measures sharing a name prefix to share
// the group's dominant display folder.
type FolderConsistencyCheck struct {
	MinGroup int
}

// AntiPatternCheck flags a construct in a DAX expression.
type AntiPatternCheck struct {
	Construct Construct
	MinLines  int // only used by ConstructLongWithoutVar
}

// UnsupportedCheck is a check kind unknown to this build.
type UnsupportedCheck struct {
	Kind   string
	Params map[string]any
}

func (PatternCheck) CheckKind() string           { return CheckPattern }
func (CasingCheck) CheckKind() string            { return CheckCasing }
func (MembershipCheck) CheckKind() string        { return CheckMembership }
func (PresenceCheck) CheckKind() string          { return CheckPresence }
func (FolderConsistencyCheck) CheckKind() string { return CheckFolderConsistency }
func (AntiPatternCheck) CheckKind() string       { return CheckAntiPattern }
func (c UnsupportedCheck) CheckKind() string     { return c.Kind }

func (c PatternCheck) Field() core.Field         { return c.Target }
func (c CasingCheck) Field() core.Field          { return c.Target }
func (c MembershipCheck) Field() core.Field      { return c.Target }
func (c PresenceCheck) Field() core.Field        { return c.Target }
func (FolderConsistencyCheck) Field() core.Field { return core.FieldDisplayFolder }
func (AntiPatternCheck) Field() core.Field       { return core.FieldExpression }
func (UnsupportedCheck) Field() core.Field       { return "" }

func (PatternCheck) isCheck()           {}
func (CasingCheck) isCheck()            {}
func (MembershipCheck) isCheck()        {}
func (PresenceCheck) isCheck()          {}
func (FolderConsistencyCheck) isCheck() {}
func (AntiPatternCheck) isCheck()       {}
func (UnsupportedCheck) isCheck()       {}

// Construct names a DAX anti-pattern.
type Construct string

// Known constructs.
const (
	ConstructAllTable             Construct = "all_table"
	ConstructDivideWithoutDefault Construct = "divide_without_default"
	ConstructLookupValue          Construct = "lookupvalue"
	ConstructRawDivision          Construct = "raw_division"
	ConstructCountColumn          Construct = "count_column"
	ConstructLongWithoutVar       Construct = "long_without_var"
)

// Constructs lists every known construct.
var Constructs = []Construct{
	ConstructAllTable,
	ConstructDivideWithoutDefault,
	ConstructLookupValue,
	ConstructRawDivision,
	ConstructCountColumn,
	ConstructLongWithoutVar,
}

// ParseConstruct accepts construct names case-insensitively.
func ParseConstruct(s string) (Construct, bool) {
	c := Construct(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Constructs {
		if c == known {
			return c, true
		}
	}
	return "", false
}

// =============================================================================
// Fixes
// =============================================================================

// Fix is the closed set of auto-fix strategies.
type Fix interface {
	FixKind() string
	// Field returns the element field the fix rewrites.
	Field() core.Field
	isFix()
}

// Fix kinds.
const (
	FixRename       = "rename"
	FixAssign       = "assign"
	FixFormatAssign = "format_assign"
)

// DefaultFormatString is used when no format default matches.
const DefaultFormatString = "#,##0.00;(#,##0.00);-"

// RenameFix rewrites the element name into a naming style.
type RenameFix struct {
	Style casing.Style
}

// AssignFix sets a field to a templated value.
type AssignFix struct {
	Target core.Field
	Value  string // template source
	tmpl   *template.Template
}

// FormatAssignFix sets the format string from the element's data type.
type FormatAssignFix struct {
	Defaults map[string]string // lower-cased data type -> format string
	Fallback string
}

// UnsupportedFix is a fix kind unknown to this build.
type UnsupportedFix struct {
	Kind   string
	Params map[string]any
}

func (RenameFix) FixKind() string        { return FixRename }
func (AssignFix) FixKind() string        { return FixAssign }
func (FormatAssignFix) FixKind() string  { return FixFormatAssign }
func (f UnsupportedFix) FixKind() string { return f.Kind }

func (RenameFix) Field() core.Field       { return core.FieldName }
func (f AssignFix) Field() core.Field     { return f.Target }
func (FormatAssignFix) Field() core.Field { return core.FieldFormatString }
func (UnsupportedFix) Field() core.Field  { return "" }

func (RenameFix) isFix()       {}
func (AssignFix) isFix()       {}
func (FormatAssignFix) isFix() {}
func (UnsupportedFix) isFix()  {}

// TemplateData is what an assign template sees.
type TemplateData struct {
	Name     string
	Table    string
	Kind     string
	Prefix   string // lower-cased first word of the name
	Expected string // value the check expected, when it knows one
}

// NewAssignFix compiles an assign template.
func NewAssignFix(target core.Field, value string) (AssignFix, error) {
	tmpl, err := template.New(string(target)).
		Funcs(casing.Funcs()).
		Option("missingkey=error").
		Parse(value)
	if err != nil {
		return AssignFix{}, fmt.Errorf("parse value template: %w", err)
	}
	return AssignFix{Target: target, Value: value, tmpl: tmpl}, nil
}

// Render evaluates the value template.
func (f AssignFix) Render(data TemplateData) (string, error) {
	if f.tmpl == nil {
		return f.Value, nil
	}
	var buf bytes.Buffer
	if err := f.tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render value template: %w", err)
	}
	return buf.String(), nil
}

// FormatFor picks the format string for a data type.
func (f FormatAssignFix) FormatFor(dataType core.Opt) string {
	if dt, ok := dataType.Get(); ok {
		if v, ok := f.Defaults[strings.ToLower(dt)]; ok {
			return v
		}
	}
	if f.Fallback != "" {
		return f.Fallback
	}
	return DefaultFormatString
}
