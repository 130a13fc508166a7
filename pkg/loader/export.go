package loader

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/leapstack-labs/tabularlint/pkg/core"
	"github.com/leapstack-labs/tabularlint/pkg/token"
)

// ExportSource reads a flat JSON export such as model.bim or
// DataModelSchema.json.
type ExportSource struct {
	Path string
}

// Load implements Source.
func (s *ExportSource) Load(ctx context.Context) (*Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, core.LoadError(core.ErrCanceled, "", err).At(s.Path, 0)
	}
	data, err := os.ReadFile(s.Path)
	if err != nil {
		return nil, core.LoadError(core.ErrMalformed, "", fmt.Errorf("read export: %w", err)).At(s.Path, 0)
	}
	doc := newDocument()
	if err := parseExport(s.Path, string(data), doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// parseExport maps a JSON model document into doc.
func parseExport(file, src string, doc *Document) error {
	li := token.NewLineIndex(src)
	malformed := func(offset int, format string, args ...any) error {
		return core.LoadError(core.ErrMalformed, "", fmt.Errorf(format, args...)).
			At(file, li.Position(offset).Line)
	}

	root, err := parseJSONSpans([]byte(src))
	if err != nil {
		var se *jsonSyntaxError
		off := 0
		if errors.As(err, &se) {
			off = se.Offset
		}
		return malformed(off, "invalid JSON: %w", err)
	}
	if root.kind != jsonObject {
		return malformed(root.start, "export root is not an object")
	}

	model := root.get("model")
	if model == nil {
		model = root
	}
	if model.kind != jsonObject {
		return malformed(model.start, "\"model\" is not an object")
	}
	doc.Sources[file] = src

	m := &exportMapper{file: file, li: li, malformed: malformed}

	if tables := model.get("tables"); tables != nil {
		if tables.kind != jsonArray {
			return malformed(tables.start, "\"tables\" is not an array")
		}
		for _, tn := range tables.items {
			t, err := m.table(tn)
			if err != nil {
				return err
			}
			doc.Tables = append(doc.Tables, t)
		}
	}
	if rels := model.get("relationships"); rels != nil {
		if rels.kind != jsonArray {
			return malformed(rels.start, "\"relationships\" is not an array")
		}
		for _, rn := range rels.items {
			r, err := m.relationship(rn)
			if err != nil {
				return err
			}
			doc.Relationships = append(doc.Relationships, r)
		}
	}
	return nil
}

type exportMapper struct {
	file      string
	li        *token.LineIndex
	malformed func(offset int, format string, args ...any) error
}

var exportFields = []struct {
	key   string
	field core.Field
}{
	{"dataType", core.FieldDataType},
	{"displayFolder", core.FieldDisplayFolder},
	{"formatString", core.FieldFormatString},
	{"description", core.FieldDescription},
	{"expression", core.FieldExpression},
	{"fromTable", core.FieldFromTable},
	{"fromColumn", core.FieldFromColumn},
	{"toTable", core.FieldToTable},
	{"toColumn", core.FieldToColumn},
}

// element reads the name and the addressable fields of an object.
func (m *exportMapper) element(n *jsonNode, what string) (string, map[core.Field]core.Opt, core.Location, error) {
	if n.kind != jsonObject {
		return "", nil, core.Location{}, m.malformed(n.start, "%s entry is not an object", what)
	}
	nameNode := n.get("name")
	if nameNode == nil || nameNode.kind != jsonString || nameNode.str == "" {
		return "", nil, core.Location{}, m.malformed(n.start, "%s has no name", what)
	}
	loc := core.Location{
		File:   m.file,
		Syntax: core.SyntaxJSON,
		Name:   m.li.Span(nameNode.start, nameNode.end),
		Fields: make(map[core.Field]token.Span),
		Insert: m.li.Span(n.start+1, n.start+1),
	}
	values := make(map[core.Field]core.Opt)
	for _, ef := range exportFields {
		v := n.get(ef.key)
		if v == nil {
			continue
		}
		if v.kind == jsonNull {
			// Absent, but a fix must replace the null rather than add a key.
			loc.Fields[ef.field] = m.li.Span(v.start, v.end)
			continue
		}
		s, ok := v.text()
		if !ok {
			return "", nil, core.Location{}, m.malformed(v.start, "%s %s: %q must be a string", what, nameNode.str, ef.key)
		}
		values[ef.field] = core.Some(s)
		loc.Fields[ef.field] = m.li.Span(v.start, v.end)
	}
	return nameNode.str, values, loc, nil
}

func (m *exportMapper) table(n *jsonNode) (core.Table, error) {
	name, vals, loc, err := m.element(n, "table")
	if err != nil {
		return core.Table{}, err
	}
	t := core.Table{
		Name:          name,
		Description:   vals[core.FieldDescription],
		DisplayFolder: vals[core.FieldDisplayFolder],
		FormatString:  vals[core.FieldFormatString],
		Location:      loc,
	}

	if cols := n.get("columns"); cols != nil && cols.kind == jsonArray {
		for _, cn := range cols.items {
			cname, cv, cloc, err := m.element(cn, "column")
			if err != nil {
				return core.Table{}, err
			}
			t.Columns = append(t.Columns, core.Column{
				Table:         name,
				Name:          cname,
				DataType:      cv[core.FieldDataType],
				DisplayFolder: cv[core.FieldDisplayFolder],
				FormatString:  cv[core.FieldFormatString],
				Description:   cv[core.FieldDescription],
				Expression:    cv[core.FieldExpression],
				Location:      cloc,
			})
		}
	}
	if measures := n.get("measures"); measures != nil && measures.kind == jsonArray {
		for _, mn := range measures.items {
			mname, mv, mloc, err := m.element(mn, "measure")
			if err != nil {
				return core.Table{}, err
			}
			t.Measures = append(t.Measures, core.Measure{
				Table:         name,
				Name:          mname,
				Expression:    mv[core.FieldExpression],
				DataType:      mv[core.FieldDataType],
				DisplayFolder: mv[core.FieldDisplayFolder],
				FormatString:  mv[core.FieldFormatString],
				Description:   mv[core.FieldDescription],
				Location:      mloc,
			})
		}
	}
	return t, nil
}

func (m *exportMapper) relationship(n *jsonNode) (core.Relationship, error) {
	name, vals, loc, err := m.element(n, "relationship")
	if err != nil {
		return core.Relationship{}, err
	}
	r := core.Relationship{
		Name:          name,
		DisplayFolder: vals[core.FieldDisplayFolder],
		FormatString:  vals[core.FieldFormatString],
		Location:      loc,
	}
	for _, end := range []struct {
		key   string
		field core.Field
		dst   *string
	}{
		{"fromTable", core.FieldFromTable, &r.FromTable},
		{"fromColumn", core.FieldFromColumn, &r.FromColumn},
		{"toTable", core.FieldToTable, &r.ToTable},
		{"toColumn", core.FieldToColumn, &r.ToColumn},
	} {
		v, ok := vals[end.field].Get()
		if !ok || v == "" {
			return r, m.malformed(n.start, "relationship %s has no %s", name, end.key)
		}
		*end.dst = v
	}
	return r, nil
}
