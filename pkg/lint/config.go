package lint

import (
	"slices"

	"github.com/leapstack-labs/tabularlint/pkg/catalog"
	"github.com/leapstack-labs/tabularlint/pkg/core"
)

// Config adjusts a catalog at evaluation time. A nil Config leaves every
// rule enabled at its catalog severity.
type Config struct {
	disabled  map[string]bool
	overrides map[string]core.Severity
}

// NewConfig creates an empty configuration.
func NewConfig() *Config {
	return &Config{
		disabled:  make(map[string]bool),
		overrides: make(map[string]core.Severity),
	}
}

// IsDisabled reports whether the rule is skipped.
func (c *Config) IsDisabled(ruleID string) bool {
	return c != nil && c.disabled[ruleID]
}

// GetSeverity returns the overridden severity of a rule, or def.
func (c *Config) GetSeverity(ruleID string, def core.Severity) core.Severity {
	if c == nil {
		return def
	}
	if sev, ok := c.overrides[ruleID]; ok {
		return sev
	}
	return def
}

// Disable skips a rule.
func (c *Config) Disable(ruleID string) *Config {
	c.disabled[ruleID] = true
	return c
}

// SetSeverity overrides the catalog severity of a rule.
func (c *Config) SetSeverity(ruleID string, severity core.Severity) *Config {
	c.overrides[ruleID] = severity
	return c
}

// UnknownRules returns the configured rule ids that cat does not define,
// sorted.
func (c *Config) UnknownRules(cat *catalog.Catalog) []string {
	if c == nil {
		return nil
	}
	seen := make(map[string]bool)
	for id := range c.disabled {
		seen[id] = true
	}
	for id := range c.overrides {
		seen[id] = true
	}
	var out []string
	for id := range seen {
		if _, ok := cat.Rule(id); !ok {
			out = append(out, id)
		}
	}
	slices.Sort(out)
	return out
}
