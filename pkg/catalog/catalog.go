// Package catalog parses versioned rule documents into an immutable, ordered
// set of standard rules.
package catalog

import (
	"fmt"
	"slices"

	"github.com/leapstack-labs/tabularlint/pkg/core"
)

// Rule is one standard rule. Rules without a Check are documented but never
// evaluated.
type Rule struct {
	ID          string
	Title       string
	Description string
	AppliesTo   []core.ElementKind
	Severity    core.Severity
	Tags        []string
	Index       int   // declaration order within the catalog
	Check       Check // nil when the rule has no automation
	Fix         Fix   // nil when the rule has no auto-fix
}

// AppliesToKind reports whether the rule targets elements of kind k.
func (r Rule) AppliesToKind(k core.ElementKind) bool {
	return slices.Contains(r.AppliesTo, k)
}

// Automated reports whether the rule can be evaluated.
func (r Rule) Automated() bool {
	return r.Check != nil
}

// RuleInfo is a flat description of a rule for listings.
type RuleInfo struct {
	ID          string   `json:"id"`
	Title       string   `json:"title,omitempty"`
	Description string   `json:"description"`
	AppliesTo   []string `json:"applies_to"`
	Severity    string   `json:"severity"`
	Check       string   `json:"check,omitempty"`
	Fix         string   `json:"fix,omitempty"`
	Tags        []string `json:"tags,omitempty"`
}

// Info extracts listing metadata from a rule.
func (r Rule) Info() RuleInfo {
	info := RuleInfo{
		ID:          r.ID,
		Title:       r.Title,
		Description: r.Description,
		Severity:    r.Severity.String(),
		Tags:        r.Tags,
	}
	for _, k := range r.AppliesTo {
		info.AppliesTo = append(info.AppliesTo, k.String())
	}
	if r.Check != nil {
		info.Check = r.Check.CheckKind()
	}
	if r.Fix != nil {
		info.Fix = r.Fix.FixKind()
	}
	return info
}

// Catalog is an ordered, immutable set of rules with unique ids.
type Catalog struct {
	version string
	rules   []Rule
	byID    map[string]int
}

// New builds a catalog, assigning each rule its declaration index.
func New(version string, rules []Rule) (*Catalog, error) {
	c := &Catalog{
		version: version,
		rules:   make([]Rule, len(rules)),
		byID:    make(map[string]int, len(rules)),
	}
	for i, r := range rules {
		if r.ID == "" {
			return nil, core.CatalogError(core.ErrMalformed, fmt.Sprintf("rule #%d", i+1), fmt.Errorf("missing id"))
		}
		if _, dup := c.byID[r.ID]; dup {
			return nil, core.CatalogError(core.ErrDuplicateRuleID, r.ID, nil)
		}
		r.Index = i
		r.AppliesTo = slices.Clone(r.AppliesTo)
		r.Tags = slices.Clone(r.Tags)
		c.rules[i] = r
		c.byID[r.ID] = i
	}
	return c, nil
}

// Version returns the catalog version string.
func (c *Catalog) Version() string { return c.version }

// Len returns the number of rules.
func (c *Catalog) Len() int { return len(c.rules) }

// Rules returns the rules in declaration order.
func (c *Catalog) Rules() []Rule {
	out := make([]Rule, len(c.rules))
	for i, r := range c.rules {
		r.AppliesTo = slices.Clone(r.AppliesTo)
		r.Tags = slices.Clone(r.Tags)
		out[i] = r
	}
	return out
}

// Rule looks up a rule by id.
func (c *Catalog) Rule(id string) (Rule, bool) {
	i, ok := c.byID[id]
	if !ok {
		return Rule{}, false
	}
	r := c.rules[i]
	r.AppliesTo = slices.Clone(r.AppliesTo)
	r.Tags = slices.Clone(r.Tags)
	return r, true
}
