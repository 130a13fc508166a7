// Package patch turns fixable violations into text edits against the
// original model sources.
//
// A patch replaces the exact bytes of one property value (or inserts a new
// property) in the native syntax of its file. Patches are generated, never
// applied to disk: Apply exists for previews and tests.
package patch

import (
	"cmp"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"

	"github.com/leapstack-labs/tabularlint/pkg/core"
	"github.com/leapstack-labs/tabularlint/pkg/lint"
	"github.com/leapstack-labs/tabularlint/pkg/token"
)

// Patch is a single text edit.
type Patch struct {
	Element     core.ElementRef `json:"element" msgpack:"element"`
	RuleID      string          `json:"rule_id" msgpack:"rule_id"`
	RuleIndex   int             `json:"rule_index" msgpack:"rule_index"`
	Field       core.Field      `json:"field" msgpack:"field"`
	File        string          `json:"file" msgpack:"file"`
	Span        token.Span      `json:"span" msgpack:"span"`
	Original    string          `json:"original_text" msgpack:"original_text"`
	Replacement string          `json:"replacement_text" msgpack:"replacement_text"`
}

// IsInsertion reports whether the patch adds text without replacing any.
func (p Patch) IsInsertion() bool {
	return p.Span.IsInsertion()
}

// String renders a one-line summary, e.g. "model.tmdl:12:9 name: a -> b".
func (p Patch) String() string {
	if p.IsInsertion() {
		return fmt.Sprintf("%s:%s insert %s", p.File, p.Span.Start, strings.TrimSpace(p.Replacement))
	}
	return fmt.Sprintf("%s:%s %s: %s -> %s", p.File, p.Span.Start, p.Field, p.Original, p.Replacement)
}

// Compare orders patches by element (table, name, kind), rule index, then
// span start.
func Compare(a, b Patch) int {
	if c := a.Element.Compare(b.Element); c != 0 {
		return c
	}
	if c := cmp.Compare(a.RuleIndex, b.RuleIndex); c != 0 {
		return c
	}
	if c := cmp.Compare(a.Span.Start.Offset, b.Span.Start.Offset); c != 0 {
		return c
	}
	return strings.Compare(a.File, b.File)
}

// Generator builds patches from a report.
type Generator struct {
	logger *slog.Logger
}

// NewGenerator creates a generator. A nil logger discards output.
func NewGenerator(logger *slog.Logger) *Generator {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Generator{logger: logger}
}

// Generate returns one patch per fixable violation, plus the companion
// patches a rename needs, sorted with Compare. Renames that would give two
// elements of one namespace the same name are left out.
func (g *Generator) Generate(m *core.Model, r *lint.Report) ([]Patch, error) {
	fixable := g.dropCollisions(m, r.Fixable())

	var out []Patch
	for _, v := range fixable {
		el, ok := lookup(m, v.Element)
		if !ok {
			return nil, core.PatchError(core.ErrUnresolvedSpan, v.Element.String(),
				fmt.Errorf("element not in model"))
		}
		suggestion, _ := v.Suggestion.Get()
		p, err := edit(m, el, v.FixField, suggestion)
		if err != nil {
			return nil, err
		}
		p.RuleID, p.RuleIndex = v.RuleID, v.RuleIndex
		out = append(out, p)

		if v.FixField != core.FieldName {
			continue
		}
		var companions []Patch
		switch v.Element.Kind {
		case core.KindTable:
			companions, err = tableRenameEdits(m, el.(core.Table), suggestion)
		case core.KindColumn:
			companions, err = relationshipEdits(m, v.Element, suggestion)
		}
		if err != nil {
			return nil, err
		}
		for _, c := range companions {
			c.RuleID, c.RuleIndex = v.RuleID, v.RuleIndex
			out = append(out, c)
		}
	}

	slices.SortStableFunc(out, Compare)
	if err := checkOverlaps(out); err != nil {
		return nil, err
	}
	g.logger.Debug("patches generated",
		slog.Int("fixable", len(r.Fixable())),
		slog.Int("patches", len(out)))
	return out, nil
}

// namespace identifies a set of names that must stay unique: all tables, the
// columns and measures of one table, or the relationships of one table.
type namespace struct {
	relationships bool
	table         string // "" for the table namespace
}

func namespaceOf(ref core.ElementRef) namespace {
	switch ref.Kind {
	case core.KindTable:
		return namespace{}
	case core.KindRelationship:
		return namespace{relationships: true, table: ref.Table}
	default:
		return namespace{table: ref.Table}
	}
}

// dropCollisions removes renames whose new name is taken by another element
// of the same namespace after all renames are applied. A rename that
// collides with an element keeping its name is dropped; of two renames to
// the same name the later one in report order is dropped. A dropped element
// keeps its old name, which can block another rename, so the check repeats
// until nothing more is dropped.
func (g *Generator) dropCollisions(m *core.Model, vs []lint.Violation) []lint.Violation {
	names := make(map[namespace]map[string]core.ElementRef)
	claim := func(ref core.ElementRef, name string) {
		ns := namespaceOf(ref)
		if names[ns] == nil {
			names[ns] = make(map[string]core.ElementRef)
		}
		names[ns][name] = ref
	}
	for _, t := range m.Tables() {
		for _, el := range t.Elements() {
			claim(el.Ref(), el.Ref().Name)
		}
	}

	keep := slices.Clone(vs)
	for {
		// final maps every element to its name once the kept renames apply.
		final := make(map[namespace]map[string]core.ElementRef)
		renamed := make(map[core.ElementRef]bool)
		for _, v := range keep {
			if v.FixField == core.FieldName {
				renamed[v.Element] = true
			}
		}
		for ns, byName := range names {
			final[ns] = make(map[string]core.ElementRef)
			for name, ref := range byName {
				if !renamed[ref] {
					final[ns][name] = ref
				}
			}
		}

		var (
			next    []lint.Violation
			dropped bool
		)
		for _, v := range keep {
			if v.FixField != core.FieldName {
				next = append(next, v)
				continue
			}
			name, _ := v.Suggestion.Get()
			ns := namespaceOf(v.Element)
			if other, taken := final[ns][name]; taken && other != v.Element {
				g.logger.Warn("rename skipped, name already in use",
					slog.String("rule", v.RuleID),
					slog.String("element", v.Element.String()),
					slog.String("name", name),
					slog.String("conflicts_with", other.String()))
				dropped = true
				continue
			}
			final[ns][name] = v.Element
			next = append(next, v)
		}
		keep = next
		if !dropped {
			return keep
		}
	}
}

func lookup(m *core.Model, ref core.ElementRef) (core.Element, bool) {
	t, ok := m.Table(ref.Table)
	if !ok {
		return nil, false
	}
	switch ref.Kind {
	case core.KindTable:
		return t, true
	case core.KindColumn:
		c, ok := t.Column(ref.Name)
		return c, ok
	case core.KindMeasure:
		ms, ok := t.Measure(ref.Name)
		return ms, ok
	case core.KindRelationship:
		for _, rel := range t.Relationships {
			if rel.Name == ref.Name {
				return rel, true
			}
		}
	}
	return nil, false
}

// edit builds the replacement (or insertion) of one field of an element.
func edit(m *core.Model, el core.Element, field core.Field, value string) (Patch, error) {
	return editAt(m, el.Ref(), el.Loc(), field, value)
}

// editAt is edit for an explicit location, such as a reference to the
// element written somewhere else.
func editAt(m *core.Model, ref core.ElementRef, loc core.Location, field core.Field, value string) (Patch, error) {
	unresolved := func(format string, args ...any) (Patch, error) {
		return Patch{}, core.PatchError(core.ErrUnresolvedSpan, ref.String(), fmt.Errorf(format, args...))
	}

	if !loc.HasFile() {
		return unresolved("no source location")
	}
	src, ok := m.Source(loc.File)
	if !ok {
		return unresolved("source %s not loaded", loc.File)
	}
	r, err := rendererFor(loc.Syntax)
	if err != nil {
		return unresolved("%v", err)
	}

	p := Patch{Element: ref, Field: field, File: loc.File}
	if span, ok := loc.FieldSpan(field); ok {
		orig, ok := span.Text(src)
		if !ok {
			return unresolved("%s span %s outside %s", field, span, loc.File)
		}
		p.Span, p.Original = span, orig
		if field == core.FieldName {
			p.Replacement = r.name(value)
		} else {
			p.Replacement = r.value(field, value)
		}
		return p, nil
	}

	if !loc.Insert.IsValid() || !loc.Insert.IsInsertion() || loc.Insert.End.Offset > len(src) {
		return unresolved("no insertion point for %s", field)
	}
	p.Span = loc.Insert
	p.Replacement = r.insert(loc, field, value)
	return p, nil
}

// tableRenameEdits rewrites the "ref table" lines and relationship endpoints
// that name a renamed table.
func tableRenameEdits(m *core.Model, t core.Table, newName string) ([]Patch, error) {
	var out []Patch
	for _, loc := range t.Refs {
		p, err := editAt(m, t.Ref(), loc, core.FieldName, newName)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	for _, rel := range m.Relationships() {
		from, to := rel.ReferencesTable(t.Name)
		for _, f := range []struct {
			hit   bool
			field core.Field
		}{{from, core.FieldFromTable}, {to, core.FieldToTable}} {
			if !f.hit {
				continue
			}
			p, err := edit(m, rel, f.field, newName)
			if err != nil {
				return nil, err
			}
			out = append(out, p)
		}
	}
	return out, nil
}

// relationshipEdits rewrites relationship endpoints that name a renamed column.
func relationshipEdits(m *core.Model, col core.ElementRef, newName string) ([]Patch, error) {
	var out []Patch
	for _, rel := range m.Relationships() {
		from, to := rel.References(col.Table, col.Name)
		for _, f := range []struct {
			hit   bool
			field core.Field
		}{{from, core.FieldFromColumn}, {to, core.FieldToColumn}} {
			if !f.hit {
				continue
			}
			p, err := edit(m, rel, f.field, newName)
			if err != nil {
				return nil, err
			}
			out = append(out, p)
		}
	}
	return out, nil
}

// checkOverlaps rejects patches whose spans collide within one file.
func checkOverlaps(ps []Patch) error {
	byFile := make(map[string][]Patch)
	for _, p := range ps {
		byFile[p.File] = append(byFile[p.File], p)
	}
	for _, file := range slices.Sorted(maps.Keys(byFile)) {
		fps := byFile[file]
		slices.SortStableFunc(fps, func(a, b Patch) int {
			return cmp.Compare(a.Span.Start.Offset, b.Span.Start.Offset)
		})
		for i := range fps {
			for j := i + 1; j < len(fps) && fps[j].Span.Start.Offset <= fps[i].Span.End.Offset; j++ {
				if fps[i].Span.Overlaps(fps[j].Span) {
					return core.PatchError(core.ErrOverlap, fps[i].Element.String(),
						fmt.Errorf("%s (%s) and %s (%s) in %s",
							fps[i].RuleID, fps[i].Span, fps[j].RuleID, fps[j].Span, file))
				}
			}
		}
	}
	return nil
}
