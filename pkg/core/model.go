package core

import (
	"maps"
	"slices"
)

// =============================================================================
// Model Document
// =============================================================================

// Model is the normalized Model Document. It is built once per run and only
// read afterwards: accessors return copies of the underlying slices and maps.
type Model struct {
	tables   []Table
	sources  map[string]string
	metadata map[string]string
	inputs   []string
}

// NewModel assembles a model from already validated tables.
// sources maps file paths to their original text.
func NewModel(tables []Table, sources map[string]string, metadata map[string]string, inputs []string) *Model {
	return &Model{
		tables:   slices.Clone(tables),
		sources:  maps.Clone(sources),
		metadata: maps.Clone(metadata),
		inputs:   slices.Clone(inputs),
	}
}

// Tables returns the tables in document order.
func (m *Model) Tables() []Table {
	return slices.Clone(m.tables)
}

// Table returns a table by name.
func (m *Model) Table(name string) (Table, bool) {
	for _, t := range m.tables {
		if t.Name == name {
			return t, true
		}
	}
	return Table{}, false
}

// Source returns the original text of a file.
func (m *Model) Source(file string) (string, bool) {
	s, ok := m.sources[file]
	return s, ok
}

// Files returns the source file paths in sorted order.
func (m *Model) Files() []string {
	return slices.Sorted(maps.Keys(m.sources))
}

// Metadata returns the opaque sidecar metadata.
func (m *Model) Metadata() map[string]string {
	return maps.Clone(m.metadata)
}

// Inputs returns the input locations the model was loaded from.
func (m *Model) Inputs() []string {
	return slices.Clone(m.inputs)
}

// Elements returns every element of a table in evaluation order:
// the table itself, then columns, measures and relationships.
func (t Table) Elements() []Element {
	out := make([]Element, 0, 1+len(t.Columns)+len(t.Measures)+len(t.Relationships))
	out = append(out, t)
	for _, c := range t.Columns {
		out = append(out, c)
	}
	for _, m := range t.Measures {
		out = append(out, m)
	}
	for _, r := range t.Relationships {
		out = append(out, r)
	}
	return out
}

// Measures returns every measure in the model in document order.
func (m *Model) Measures() []Measure {
	var out []Measure
	for _, t := range m.tables {
		out = append(out, t.Measures...)
	}
	return out
}

// Relationships returns every relationship in the model in document order.
func (m *Model) Relationships() []Relationship {
	var out []Relationship
	for _, t := range m.tables {
		out = append(out, t.Relationships...)
	}
	return out
}

// =============================================================================
// Element variants
// =============================================================================

// Table is a model table.
type Table struct {
	Name          string
	Description   Opt
	DisplayFolder Opt
	FormatString  Opt
	Columns       []Column
	Measures      []Measure
	Relationships []Relationship
	Location      Location
	Refs          []Location // "ref table" lines that name the table
}

// Kind implements Element.
func (t Table) Kind() ElementKind { return KindTable }

// Ref implements Element.
func (t Table) Ref() ElementRef { return ElementRef{Kind: KindTable, Table: t.Name, Name: t.Name} }

// Loc implements Element.
func (t Table) Loc() Location { return t.Location }

// Value implements Element.
func (t Table) Value(f Field) Opt {
	switch f {
	case FieldName:
		return Some(t.Name)
	case FieldDescription:
		return t.Description
	case FieldDisplayFolder:
		return t.DisplayFolder
	case FieldFormatString:
		return t.FormatString
	default:
		return None()
	}
}

// Column returns a column by name.
func (t Table) Column(name string) (Column, bool) {
	for _, c := range t.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return Column{}, false
}

// Measure returns a measure by name.
func (t Table) Measure(name string) (Measure, bool) {
	for _, m := range t.Measures {
		if m.Name == name {
			return m, true
		}
	}
	return Measure{}, false
}

// Column is a table column. Calculated columns carry an expression.
type Column struct {
	Table         string
	Name          string
	DataType      Opt
	DisplayFolder Opt
	FormatString  Opt
	Description   Opt
	Expression    Opt
	Location      Location
}

// Kind implements Element.
func (c Column) Kind() ElementKind { return KindColumn }

// Ref implements Element.
func (c Column) Ref() ElementRef { return ElementRef{Kind: KindColumn, Table: c.Table, Name: c.Name} }

// Loc implements Element.
func (c Column) Loc() Location { return c.Location }

// Value implements Element.
func (c Column) Value(f Field) Opt {
	switch f {
	case FieldName:
		return Some(c.Name)
	case FieldDataType:
		return c.DataType
	case FieldDisplayFolder:
		return c.DisplayFolder
	case FieldFormatString:
		return c.FormatString
	case FieldDescription:
		return c.Description
	case FieldExpression:
		return c.Expression
	default:
		return None()
	}
}

// Measure is a named calculation attached to a table.
type Measure struct {
	Table         string
	Name          string
	Expression    Opt
	DataType      Opt
	DisplayFolder Opt
	FormatString  Opt
	Description   Opt
	Location      Location
}

// Kind implements Element.
func (m Measure) Kind() ElementKind { return KindMeasure }

// Ref implements Element.
func (m Measure) Ref() ElementRef { return ElementRef{Kind: KindMeasure, Table: m.Table, Name: m.Name} }

// Loc implements Element.
func (m Measure) Loc() Location { return m.Location }

// Value implements Element.
func (m Measure) Value(f Field) Opt {
	switch f {
	case FieldName:
		return Some(m.Name)
	case FieldExpression:
		return m.Expression
	case FieldDataType:
		return m.DataType
	case FieldDisplayFolder:
		return m.DisplayFolder
	case FieldFormatString:
		return m.FormatString
	case FieldDescription:
		return m.Description
	default:
		return None()
	}
}

// Relationship links a column of its owning (from) table to a column of
// another table.
type Relationship struct {
	Name          string
	FromTable     string
	FromColumn    string
	ToTable       string
	ToColumn      string
	DisplayFolder Opt
	FormatString  Opt
	Location      Location
}

// Kind implements Element.
func (r Relationship) Kind() ElementKind { return KindRelationship }

// Ref implements Element.
func (r Relationship) Ref() ElementRef {
	return ElementRef{Kind: KindRelationship, Table: r.FromTable, Name: r.Name}
}

// Loc implements Element.
func (r Relationship) Loc() Location { return r.Location }

// Value implements Element.
func (r Relationship) Value(f Field) Opt {
	switch f {
	case FieldName:
		return Some(r.Name)
	case FieldFromTable:
		return Some(r.FromTable)
	case FieldFromColumn:
		return Some(r.FromColumn)
	case FieldToTable:
		return Some(r.ToTable)
	case FieldToColumn:
		return Some(r.ToColumn)
	case FieldDisplayFolder:
		return r.DisplayFolder
	case FieldFormatString:
		return r.FormatString
	default:
		return None()
	}
}

// ReferencesTable reports whether either end of the relationship lies in the
// given table.
func (r Relationship) ReferencesTable(table string) (from, to bool) {
	return r.FromTable == table, r.ToTable == table
}

// References reports whether the relationship points at the given column.
func (r Relationship) References(table, column string) (from, to bool) {
	return r.FromTable == table && r.FromColumn == column, r.ToTable == table && r.ToColumn == column
}
