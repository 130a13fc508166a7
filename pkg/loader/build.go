package loader

import (
	"fmt"
	"slices"

	"github.com/leapstack-labs/tabularlint/pkg/core"
)

// Build merges fragments into a validated model.
//
// Table names must be unique across all fragments and column and measure
// names share one namespace per table. Relationships are attached to their
// from-table after both endpoints resolve.
func Build(docs []*Document, metadata map[string]string, inputs []string) (*core.Model, error) {
	var (
		tables  []core.Table
		order   []TableRef
		rels    []core.Relationship
		sources = make(map[string]string)
		byName  = make(map[string]int)
	)
	for _, doc := range docs {
		for file, src := range doc.Sources {
			sources[file] = src
		}
		order = append(order, doc.TableOrder...)
		rels = append(rels, doc.Relationships...)
		for _, t := range doc.Tables {
			if _, dup := byName[t.Name]; dup {
				return nil, duplicate(t)
			}
			if err := checkTableNames(t); err != nil {
				return nil, err
			}
			byName[t.Name] = len(tables)
			tables = append(tables, t)
		}
	}

	for _, ref := range order {
		if i, ok := byName[ref.Name]; ok {
			tables[i].Refs = append(tables[i].Refs, ref.Location)
		}
	}

	for _, r := range rels {
		from, ok := byName[r.FromTable]
		if !ok {
			return nil, unresolved(r, fmt.Errorf("from table %q does not exist", r.FromTable))
		}
		if _, ok := tables[from].Column(r.FromColumn); !ok {
			return nil, unresolved(r, fmt.Errorf("from column %s[%s] does not exist", r.FromTable, r.FromColumn))
		}
		to, ok := byName[r.ToTable]
		if !ok {
			return nil, unresolved(r, fmt.Errorf("to table %q does not exist", r.ToTable))
		}
		if _, ok := tables[to].Column(r.ToColumn); !ok {
			return nil, unresolved(r, fmt.Errorf("to column %s[%s] does not exist", r.ToTable, r.ToColumn))
		}
		for _, existing := range tables[from].Relationships {
			if existing.Name == r.Name {
				return nil, duplicate(r)
			}
		}
		tables[from].Relationships = append(tables[from].Relationships, r)
	}

	return core.NewModel(orderTables(tables, order), sources, metadata, inputs), nil
}

// orderTables moves tables named by order hints to the front, in hint order,
// and keeps the rest in encounter order.
func orderTables(tables []core.Table, order []TableRef) []core.Table {
	if len(order) == 0 {
		return tables
	}
	rank := make(map[string]int, len(order))
	for i, ref := range order {
		if _, seen := rank[ref.Name]; !seen {
			rank[ref.Name] = i
		}
	}
	out := slices.Clone(tables)
	slices.SortStableFunc(out, func(a, b core.Table) int {
		ra, oka := rank[a.Name]
		rb, okb := rank[b.Name]
		switch {
		case oka && okb:
			return ra - rb
		case oka:
			return -1
		case okb:
			return 1
		default:
			return 0
		}
	})
	return out
}

func checkTableNames(t core.Table) error {
	seen := make(map[string]bool, len(t.Columns)+len(t.Measures))
	for _, c := range t.Columns {
		if seen[c.Name] {
			return duplicate(c)
		}
		seen[c.Name] = true
	}
	for _, m := range t.Measures {
		if seen[m.Name] {
			return duplicate(m)
		}
		seen[m.Name] = true
	}
	return nil
}

func duplicate(e core.Element) error {
	loc := e.Loc()
	return core.LoadError(core.ErrDuplicateElement, e.Ref().String(), nil).At(loc.File, loc.Name.Start.Line)
}

func unresolved(r core.Relationship, cause error) error {
	return core.LoadError(core.ErrUnresolvedReference, r.Ref().String(), cause).At(r.Location.File, r.Location.Name.Start.Line)
}
