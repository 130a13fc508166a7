package catalog

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/go-viper/mapstructure/v2"
	"github.com/leapstack-labs/tabularlint/pkg/casing"
	"github.com/leapstack-labs/tabularlint/pkg/core"
	"gopkg.in/yaml.v3"
)

// Format is the encoding of a rule document.
type Format string

// Supported formats.
const (
	FormatYAML Format = "yaml"
	FormatJSON Format = "json"
	FormatTOML Format = "toml"
)

// FormatForPath picks a format from a file extension, defaulting to YAML.
func FormatForPath(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return FormatJSON
	case ".toml":
		return FormatTOML
	default:
		return FormatYAML
	}
}

// document is the raw shape of a rule document.
type document struct {
	Version any       `yaml:"version" json:"version" toml:"version"`
	Rules   []ruleDoc `yaml:"rules" json:"rules" toml:"rules"`
}

type ruleDoc struct {
	ID          string         `yaml:"id" json:"id" toml:"id"`
	Title       string         `yaml:"title" json:"title" toml:"title"`
	AppliesTo   any            `yaml:"applies_to" json:"applies_to" toml:"applies_to"`
	Description string         `yaml:"description" json:"description" toml:"description"`
	Severity    string         `yaml:"severity" json:"severity" toml:"severity"`
	Tags        []string       `yaml:"tags" json:"tags" toml:"tags"`
	Automation  *automationDoc `yaml:"automation" json:"automation" toml:"automation"`
}

type automationDoc struct {
	Check   map[string]any `yaml:"check" json:"check" toml:"check"`
	AutoFix map[string]any `yaml:"auto_fix" json:"auto_fix" toml:"auto_fix"`
}

// Load reads and parses a rule document from disk.
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, core.CatalogError(core.ErrMalformed, "", fmt.Errorf("read catalog: %w", err)).At(path, 0)
	}
	c, err := Parse(data, FormatForPath(path))
	if err != nil {
		var se *core.StageError
		if errors.As(err, &se) && se.File == "" {
			se.File = path
		}
		return nil, err
	}
	return c, nil
}

// Parse decodes a rule document. Rules keep their declaration order.
func Parse(data []byte, format Format) (*Catalog, error) {
	var doc document
	var err error
	switch format {
	case FormatJSON:
		err = json.Unmarshal(data, &doc)
	case FormatTOML:
		err = toml.Unmarshal(data, &doc)
	default:
		err = yaml.Unmarshal(data, &doc)
	}
	if err != nil {
		return nil, core.CatalogError(core.ErrMalformed, "", fmt.Errorf("decode %s: %w", format, err))
	}

	version := ""
	if doc.Version != nil {
		version = fmt.Sprint(doc.Version)
	}
	rules := make([]Rule, 0, len(doc.Rules))
	for i, rd := range doc.Rules {
		r, err := rd.rule(i)
		if err != nil {
			return nil, err
		}
		rules = append(rules, r)
	}
	return New(version, rules)
}

func (rd ruleDoc) rule(i int) (Rule, error) {
	entity := rd.ID
	if entity == "" {
		entity = fmt.Sprintf("rule #%d", i+1)
	}
	malformed := func(format string, args ...any) error {
		return core.CatalogError(core.ErrMalformed, entity, fmt.Errorf(format, args...))
	}
	if rd.ID == "" {
		return Rule{}, malformed("missing id")
	}

	kinds, err := appliesTo(rd.AppliesTo)
	if err != nil {
		return Rule{}, core.CatalogError(core.ErrUnknownElementKind, entity, err)
	}

	sev := core.SeverityWarning
	if rd.Severity != "" {
		var ok bool
		if sev, ok = core.ParseSeverity(rd.Severity); !ok {
			return Rule{}, malformed("unknown severity %q", rd.Severity)
		}
	}

	r := Rule{
		ID:          rd.ID,
		Title:       rd.Title,
		Description: rd.Description,
		AppliesTo:   kinds,
		Severity:    sev,
		Tags:        rd.Tags,
	}
	if rd.Automation == nil || rd.Automation.Check == nil {
		if rd.Automation != nil && rd.Automation.AutoFix != nil {
			return Rule{}, malformed("auto_fix without check")
		}
		return r, nil
	}

	if r.Check, err = decodeCheck(rd.Automation.Check); err != nil {
		return Rule{}, malformed("check: %w", err)
	}
	if rd.Automation.AutoFix != nil {
		if _, ok := r.Check.(AntiPatternCheck); ok {
			return Rule{}, malformed("anti-pattern rules cannot carry an auto_fix")
		}
		if r.Fix, err = decodeFix(rd.Automation.AutoFix, r.Check); err != nil {
			return Rule{}, malformed("auto_fix: %w", err)
		}
	}
	return r, nil
}

func appliesTo(v any) ([]core.ElementKind, error) {
	var names []string
	switch t := v.(type) {
	case nil:
	case string:
		names = []string{t}
	case []any:
		for _, item := range t {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("applies_to entry %v is not a string", item)
			}
			names = append(names, s)
		}
	case []string:
		names = t
	default:
		return nil, fmt.Errorf("applies_to must be a string or a list")
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("applies_to names no element kind")
	}
	var kinds []core.ElementKind
	for _, n := range names {
		k, ok := core.ParseElementKind(n)
		if !ok {
			return nil, fmt.Errorf("%q", n)
		}
		if !containsKind(kinds, k) {
			kinds = append(kinds, k)
		}
	}
	return kinds, nil
}

func containsKind(kinds []core.ElementKind, k core.ElementKind) bool {
	for _, x := range kinds {
		if x == k {
			return true
		}
	}
	return false
}

// kindOf reads the variant tag, accepting "kind" or "type".
func kindOf(raw map[string]any) (string, error) {
	for _, key := range []string{"kind", "type"} {
		if v, ok := raw[key]; ok {
			s, ok := v.(string)
			if !ok || s == "" {
				return "", fmt.Errorf("%s must be a non-empty string", key)
			}
			return strings.ToLower(s), nil
		}
	}
	return "", fmt.Errorf("missing kind")
}

// decodeParams decodes the variant parameters into out, rejecting unknown
// keys.
func decodeParams(raw map[string]any, out any) error {
	params := make(map[string]any, len(raw))
	for k, v := range raw {
		if k != "kind" && k != "type" {
			params[k] = v
		}
	}
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		DecodeHook:       mapstructure.TextUnmarshallerHookFunc(),
	})
	if err != nil {
		return err
	}
	return dec.Decode(params)
}

func parseField(s string, def core.Field) (core.Field, error) {
	if s == "" {
		if def == "" {
			return "", fmt.Errorf("missing field")
		}
		return def, nil
	}
	f, ok := core.ParseField(s)
	if !ok {
		return "", fmt.Errorf("unknown field %q", s)
	}
	return f, nil
}

func decodeCheck(raw map[string]any) (Check, error) {
	kind, err := kindOf(raw)
	if err != nil {
		return nil, err
	}
	switch kind {
	case "pattern", "regex", "matcher":
		var p struct {
			Field   string `mapstructure:"field"`
			Regex   string `mapstructure:"regex"`
			Pattern string `mapstructure:"pattern"`
			Forbid  bool   `mapstructure:"forbid"`
		}
		if err := decodeParams(raw, &p); err != nil {
			return nil, err
		}
		f, err := parseField(p.Field, core.FieldName)
		if err != nil {
			return nil, err
		}
		expr := p.Regex
		if expr == "" {
			expr = p.Pattern
		}
		if expr == "" {
			return nil, fmt.Errorf("pattern check needs a regex")
		}
		re, err := regexp.Compile(expr)
		if err != nil {
			return nil, fmt.Errorf("bad regex: %w", err)
		}
		return PatternCheck{Target: f, Regex: re, Forbid: p.Forbid}, nil

	case "casing", "case", "naming":
		var p struct {
			Field    string       `mapstructure:"field"`
			Style    casing.Style `mapstructure:"style"`
			Strategy casing.Style `mapstructure:"strategy"`
		}
		if err := decodeParams(raw, &p); err != nil {
			return nil, err
		}
		f, err := parseField(p.Field, core.FieldName)
		if err != nil {
			return nil, err
		}
		style := p.Style
		if style == 0 {
			style = p.Strategy
		}
		if style == 0 {
			return nil, fmt.Errorf("casing check needs a style")
		}
		return CasingCheck{Target: f, Style: style}, nil

	case "membership", "allowed", "allowed_values", "enum":
		var p struct {
			Field   string   `mapstructure:"field"`
			Allowed []string `mapstructure:"allowed"`
		}
		if err := decodeParams(raw, &p); err != nil {
			return nil, err
		}
		f, err := parseField(p.Field, "")
		if err != nil {
			return nil, err
		}
		if len(p.Allowed) == 0 {
			return nil, fmt.Errorf("membership check needs allowed values")
		}
		return MembershipCheck{Target: f, Allowed: p.Allowed}, nil

	case "presence", "required":
		var p struct {
			Field string `mapstructure:"field"`
		}
		if err := decodeParams(raw, &p); err != nil {
			return nil, err
		}
		f, err := parseField(p.Field, "")
		if err != nil {
			return nil, err
		}
		return PresenceCheck{Target: f}, nil

	case "folder_consistency":
		p := struct {
			MinGroup int `mapstructure:"min_group"`
		}{MinGroup: 2}
		if err := decodeParams(raw, &p); err != nil {
			return nil, err
		}
		if p.MinGroup < 1 {
			return nil, fmt.Errorf("min_group must be at least 1")
		}
		return FolderConsistencyCheck{MinGroup: p.MinGroup}, nil

	case "antipattern", "anti_pattern":
		p := struct {
			Construct string `mapstructure:"construct"`
			MinLines  int    `mapstructure:"min_lines"`
		}{MinLines: 10}
		if err := decodeParams(raw, &p); err != nil {
			return nil, err
		}
		c, ok := ParseConstruct(p.Construct)
		if !ok {
			return nil, fmt.Errorf("unknown construct %q", p.Construct)
		}
		return AntiPatternCheck{Construct: c, MinLines: p.MinLines}, nil

	default:
		return UnsupportedCheck{Kind: kind, Params: raw}, nil
	}
}

func decodeFix(raw map[string]any, check Check) (Fix, error) {
	kind, err := kindOf(raw)
	if err != nil {
		return nil, err
	}
	switch kind {
	case "rename", "transform":
		if _, unsupported := check.(UnsupportedCheck); !unsupported && check.Field() != core.FieldName {
			return nil, fmt.Errorf("rename fixes the name, but the check reads %s", check.Field())
		}
		var p struct {
			Style    casing.Style `mapstructure:"style"`
			Strategy casing.Style `mapstructure:"strategy"`
		}
		if err := decodeParams(raw, &p); err != nil {
			return nil, err
		}
		style := p.Style
		if style == 0 {
			style = p.Strategy
		}
		if cc, ok := check.(CasingCheck); ok && style == 0 {
			style = cc.Style
		}
		if style == 0 {
			return nil, fmt.Errorf("rename needs a style")
		}
		return RenameFix{Style: style}, nil

	case "assign":
		var p struct {
			Field string `mapstructure:"field"`
			Value string `mapstructure:"value"`
		}
		if err := decodeParams(raw, &p); err != nil {
			return nil, err
		}
		f, err := parseField(p.Field, check.Field())
		if err != nil {
			return nil, err
		}
		if p.Value == "" {
			return nil, fmt.Errorf("assign needs a value")
		}
		return NewAssignFix(f, p.Value)

	case "format_assign", "format":
		var p struct {
			Defaults map[string]string `mapstructure:"defaults"`
			Fallback string            `mapstructure:"fallback"`
		}
		if err := decodeParams(raw, &p); err != nil {
			return nil, err
		}
		defaults := make(map[string]string, len(p.Defaults))
		for k, v := range p.Defaults {
			defaults[strings.ToLower(k)] = v
		}
		return FormatAssignFix{Defaults: defaults, Fallback: p.Fallback}, nil

	default:
		return UnsupportedFix{Kind: kind, Params: raw}, nil
	}
}
