package loader

import (
	"fmt"
	"strings"

	"github.com/leapstack-labs/tabularlint/pkg/core"
	"github.com/leapstack-labs/tabularlint/pkg/token"
)

// tmdlLine is one physical line of a TMDL file.
type tmdlLine struct {
	num    int    // 1-based line number
	start  int    // offset of the first byte of the line
	indent int    // offset of the first non-whitespace byte
	end    int    // offset after the last content byte (trailing blanks and \r excluded)
	level  int    // indentation depth: one per tab, one per four spaces
	text   string // content without indentation
}

func splitTMDLLines(src string) []tmdlLine {
	var lines []tmdlLine
	num := 0
	for start := 0; start <= len(src); {
		num++
		end, next := len(src), len(src)+1
		if nl := strings.IndexByte(src[start:], '\n'); nl >= 0 {
			end = start + nl
			next = end + 1
		}
		for end > start && (src[end-1] == '\r' || src[end-1] == ' ' || src[end-1] == '\t') {
			end--
		}
		ind, tabs, spaces := start, 0, 0
		for ind < end && (src[ind] == '\t' || src[ind] == ' ') {
			if src[ind] == '\t' {
				tabs++
			} else {
				spaces++
			}
			ind++
		}
		lines = append(lines, tmdlLine{
			num:    num,
			start:  start,
			indent: ind,
			end:    end,
			level:  tabs + spaces/4,
			text:   src[ind:end],
		})
		start = next
	}
	return lines
}

// tmdlProp is a "key: value" property of an object.
type tmdlProp struct {
	value string
	span  token.Span // raw value as written, quotes included
	line  int
}

// tmdlChild is a nested object header inside a block.
type tmdlChild struct {
	idx  int
	desc []string
}

// tmdlBlock is the parsed body of an object declaration.
type tmdlBlock struct {
	expr     core.Opt
	props    map[string]tmdlProp // keyed by lower-cased property name
	children []tmdlChild
	insertAt int    // offset where new property lines are inserted
	indent   string // indentation of property lines
	end      int    // index of the first line after the block
}

type tmdlParser struct {
	file  string
	src   string
	lines []tmdlLine
	li    *token.LineIndex
	doc   *Document
}

// parseTMDL parses one TMDL file into doc.
func parseTMDL(file, src string, doc *Document) error {
	p := &tmdlParser{
		file:  file,
		src:   src,
		lines: splitTMDLLines(src),
		li:    token.NewLineIndex(src),
		doc:   doc,
	}
	return p.parse()
}

func (p *tmdlParser) malformed(line int, format string, args ...any) error {
	return core.LoadError(core.ErrMalformed, "", fmt.Errorf(format, args...)).At(p.file, line)
}

func (p *tmdlParser) parse() error {
	var desc []string
	for i := 0; i < len(p.lines); {
		ln := p.lines[i]
		switch {
		case ln.text == "":
			i++
			continue
		case strings.HasPrefix(ln.text, "///"):
			desc = append(desc, strings.TrimSpace(strings.TrimPrefix(ln.text, "///")))
			i++
			continue
		}

		kw, _ := splitKeyword(ln.text)
		var (
			next int
			err  error
		)
		switch kw {
		case "table":
			next, err = p.parseTable(i, desc)
		case "relationship":
			next, err = p.parseRelationship(i)
		case "ref":
			p.parseRef(ln)
			next = i + 1
		default:
			next = p.skipBlock(i)
		}
		if err != nil {
			return err
		}
		desc = nil
		i = next
	}
	return nil
}

// skipBlock skips an object we do not model, collecting "ref table" hints
// nested inside it.
func (p *tmdlParser) skipBlock(i int) int {
	level := p.lines[i].level
	for i++; i < len(p.lines); i++ {
		ln := p.lines[i]
		if ln.text == "" {
			continue
		}
		if ln.level <= level {
			break
		}
		if strings.HasPrefix(ln.text, "ref ") {
			p.parseRef(ln)
		}
	}
	return i
}

func (p *tmdlParser) parseRef(ln tmdlLine) {
	_, rest := splitKeyword(ln.text)
	kind, rest := splitKeyword(rest)
	if kind != "table" {
		return
	}
	off := ln.end - len(rest)
	name, span, _, err := p.readName(ln, off, false)
	if err == nil && name != "" {
		p.doc.TableOrder = append(p.doc.TableOrder, TableRef{
			Name:     name,
			Location: core.Location{File: p.file, Syntax: core.SyntaxTMDL, Name: span},
		})
	}
}

// header parses "<keyword> <name> [= expr]" and returns the name, its span
// and the inline expression text (hasEq reports whether '=' was present).
func (p *tmdlParser) header(ln tmdlLine) (name string, span token.Span, inline string, hasEq bool, err error) {
	_, rest := splitKeyword(ln.text)
	if rest == "" {
		return "", token.Span{}, "", false, p.malformed(ln.num, "object declaration %q has no name", ln.text)
	}
	off := ln.end - len(rest)
	name, span, after, err := p.readName(ln, off, false)
	if err != nil {
		return "", token.Span{}, "", false, err
	}
	tail := strings.TrimLeft(p.src[after:ln.end], " \t")
	if strings.HasPrefix(tail, "=") {
		return name, span, strings.TrimSpace(tail[1:]), true, nil
	}
	if tail != "" {
		return "", token.Span{}, "", false, p.malformed(ln.num, "unexpected text %q after name", tail)
	}
	return name, span, "", false, nil
}

// readName reads a bare or single-quoted name starting at off. When stopDot is
// set a bare name also ends at '.', as in "Table.Column" references.
func (p *tmdlParser) readName(ln tmdlLine, off int, stopDot bool) (string, token.Span, int, error) {
	if off >= ln.end {
		return "", token.Span{}, off, p.malformed(ln.num, "missing name")
	}
	if p.src[off] == '\'' {
		var b strings.Builder
		for i := off + 1; i < ln.end; i++ {
			if p.src[i] != '\'' {
				b.WriteByte(p.src[i])
				continue
			}
			if i+1 < ln.end && p.src[i+1] == '\'' {
				b.WriteByte('\'')
				i++
				continue
			}
			return b.String(), p.li.Span(off, i+1), i + 1, nil
		}
		return "", token.Span{}, off, p.malformed(ln.num, "unterminated quoted name")
	}
	i := off
	for i < ln.end {
		c := p.src[i]
		if c == ' ' || c == '\t' || c == '=' || (stopDot && c == '.') {
			break
		}
		i++
	}
	if i == off {
		return "", token.Span{}, off, p.malformed(ln.num, "missing name")
	}
	return p.src[off:i], p.li.Span(off, i), i, nil
}

// block parses the expression, properties and children of the object
// declared at line index hdr.
func (p *tmdlParser) block(hdr int, inline string, hasEq bool) (tmdlBlock, error) {
	h := p.lines[hdr]
	b := tmdlBlock{
		props:    make(map[string]tmdlProp),
		insertAt: h.end,
	}
	i := hdr + 1

	if hasEq {
		var exprLines []string
		if inline == "```" {
			closed := false
			for ; i < len(p.lines); i++ {
				if p.lines[i].text == "```" {
					b.insertAt = p.lines[i].end
					i++
					closed = true
					break
				}
				exprLines = append(exprLines, p.lines[i].text)
			}
			if !closed {
				return b, p.malformed(h.num, "unterminated ``` expression block")
			}
		} else {
			if inline != "" {
				exprLines = append(exprLines, inline)
			}
			for j := i; j < len(p.lines); j++ {
				ln := p.lines[j]
				if ln.text == "" {
					continue
				}
				if ln.level < h.level+2 {
					break
				}
				exprLines = append(exprLines, ln.text)
				b.insertAt = ln.end
				i = j + 1
			}
		}
		b.expr = core.Some(strings.Join(exprLines, "\n"))
	}

	var desc []string
	for ; i < len(p.lines); i++ {
		ln := p.lines[i]
		if ln.text == "" {
			continue
		}
		if ln.level <= h.level {
			break
		}
		if ln.level > h.level+1 {
			continue
		}
		if b.indent == "" {
			b.indent = p.src[ln.start:ln.indent]
		}
		if strings.HasPrefix(ln.text, "///") {
			desc = append(desc, strings.TrimSpace(strings.TrimPrefix(ln.text, "///")))
			continue
		}
		if key, prop, ok := p.property(ln); ok {
			b.props[strings.ToLower(key)] = prop
			desc = nil
			continue
		}
		if !strings.ContainsAny(ln.text, " \t") {
			desc = nil
			continue // boolean flag such as isHidden
		}
		b.children = append(b.children, tmdlChild{idx: i, desc: desc})
		desc = nil
	}
	b.end = i
	if b.indent == "" {
		b.indent = p.src[h.start:h.indent] + "\t"
	}
	return b, nil
}

// property recognizes "key: value" lines.
func (p *tmdlParser) property(ln tmdlLine) (string, tmdlProp, bool) {
	colon := strings.IndexByte(ln.text, ':')
	if colon <= 0 || !isIdent(ln.text[:colon]) {
		return "", tmdlProp{}, false
	}
	vs := ln.indent + colon + 1
	for vs < ln.end && (p.src[vs] == ' ' || p.src[vs] == '\t') {
		vs++
	}
	raw := p.src[vs:ln.end]
	return ln.text[:colon], tmdlProp{
		value: unquoteTMDLValue(raw),
		span:  p.li.Span(vs, ln.end),
		line:  ln.num,
	}, true
}

func (p *tmdlParser) location(name token.Span, b tmdlBlock) core.Location {
	loc := core.Location{
		File:   p.file,
		Syntax: core.SyntaxTMDL,
		Name:   name,
		Fields: make(map[core.Field]token.Span),
		Insert: p.li.Span(b.insertAt, b.insertAt),
		Indent: b.indent,
	}
	for key, prop := range b.props {
		if f, ok := core.ParseField(key); ok && f != core.FieldName {
			loc.Fields[f] = prop.span
		}
	}
	return loc
}

func (p *tmdlParser) parseTable(idx int, desc []string) (int, error) {
	ln := p.lines[idx]
	name, span, _, _, err := p.header(ln)
	if err != nil {
		return 0, err
	}
	b, err := p.block(idx, "", false)
	if err != nil {
		return 0, err
	}
	t := core.Table{
		Name:          name,
		Description:   describe(desc, b.props),
		DisplayFolder: propOpt(b.props, "displayfolder"),
		FormatString:  propOpt(b.props, "formatstring"),
		Location:      p.location(span, b),
	}
	for _, child := range b.children {
		kw, _ := splitKeyword(p.lines[child.idx].text)
		switch kw {
		case "column":
			c, err := p.parseColumn(name, child)
			if err != nil {
				return 0, err
			}
			t.Columns = append(t.Columns, c)
		case "measure":
			m, err := p.parseMeasure(name, child)
			if err != nil {
				return 0, err
			}
			t.Measures = append(t.Measures, m)
		}
	}
	p.doc.Tables = append(p.doc.Tables, t)
	return b.end, nil
}

func (p *tmdlParser) parseColumn(table string, child tmdlChild) (core.Column, error) {
	name, span, inline, hasEq, err := p.header(p.lines[child.idx])
	if err != nil {
		return core.Column{}, err
	}
	b, err := p.block(child.idx, inline, hasEq)
	if err != nil {
		return core.Column{}, err
	}
	return core.Column{
		Table:         table,
		Name:          name,
		DataType:      propOpt(b.props, "datatype"),
		DisplayFolder: propOpt(b.props, "displayfolder"),
		FormatString:  propOpt(b.props, "formatstring"),
		Description:   describe(child.desc, b.props),
		Expression:    b.expr,
		Location:      p.location(span, b),
	}, nil
}

func (p *tmdlParser) parseMeasure(table string, child tmdlChild) (core.Measure, error) {
	name, span, inline, hasEq, err := p.header(p.lines[child.idx])
	if err != nil {
		return core.Measure{}, err
	}
	b, err := p.block(child.idx, inline, hasEq)
	if err != nil {
		return core.Measure{}, err
	}
	return core.Measure{
		Table:         table,
		Name:          name,
		Expression:    b.expr,
		DataType:      propOpt(b.props, "datatype"),
		DisplayFolder: propOpt(b.props, "displayfolder"),
		FormatString:  propOpt(b.props, "formatstring"),
		Description:   describe(child.desc, b.props),
		Location:      p.location(span, b),
	}, nil
}

func (p *tmdlParser) parseRelationship(idx int) (int, error) {
	ln := p.lines[idx]
	name, span, _, _, err := p.header(ln)
	if err != nil {
		return 0, err
	}
	b, err := p.block(idx, "", false)
	if err != nil {
		return 0, err
	}
	loc := p.location(span, b)
	r := core.Relationship{
		Name:          name,
		DisplayFolder: propOpt(b.props, "displayfolder"),
		FormatString:  propOpt(b.props, "formatstring"),
		Location:      loc,
	}

	for _, end := range []struct {
		key        string
		tableField core.Field
		colField   core.Field
		table      *string
		col        *string
	}{
		{"fromcolumn", core.FieldFromTable, core.FieldFromColumn, &r.FromTable, &r.FromColumn},
		{"tocolumn", core.FieldToTable, core.FieldToColumn, &r.ToTable, &r.ToColumn},
	} {
		prop, ok := b.props[end.key]
		if !ok {
			return 0, p.malformed(ln.num, "relationship %s has no %s", name, end.key)
		}
		ref, err := p.columnRef(prop)
		if err != nil {
			return 0, err
		}
		*end.table, *end.col = ref.table, ref.column
		loc.Fields[end.tableField] = ref.tableSpan
		loc.Fields[end.colField] = ref.columnSpan
	}
	p.doc.Relationships = append(p.doc.Relationships, r)
	return b.end, nil
}

// qualifiedColumn is a parsed "Table.Column" property value.
type qualifiedColumn struct {
	table, column         string
	tableSpan, columnSpan token.Span
}

// columnRef parses a "Table.Column" property value. Both spans cover the
// names as written, quotes included.
func (p *tmdlParser) columnRef(prop tmdlProp) (qualifiedColumn, error) {
	ln := p.lines[prop.line-1]
	table, tableSpan, after, err := p.readName(ln, prop.span.Start.Offset, true)
	if err != nil {
		return qualifiedColumn{}, err
	}
	if after >= ln.end || p.src[after] != '.' {
		return qualifiedColumn{}, p.malformed(ln.num, "column reference %q is not Table.Column", prop.value)
	}
	col, colSpan, _, err := p.readName(ln, after+1, false)
	if err != nil {
		return qualifiedColumn{}, err
	}
	return qualifiedColumn{table: table, column: col, tableSpan: tableSpan, columnSpan: colSpan}, nil
}

// splitKeyword splits the first whitespace-delimited word from the rest.
func splitKeyword(s string) (string, string) {
	i := strings.IndexAny(s, " \t")
	if i < 0 {
		return s, ""
	}
	return s[:i], strings.TrimLeft(s[i:], " \t")
}

func isIdent(s string) bool {
	for i, c := range s {
		switch {
		case c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z'):
		case i > 0 && c >= '0' && c <= '9':
		default:
			return false
		}
	}
	return s != ""
}

// unquoteTMDLValue strips double quotes from a property value, undoubling
// embedded quotes.
func unquoteTMDLValue(raw string) string {
	if len(raw) >= 2 && raw[0] == '"' && raw[len(raw)-1] == '"' {
		return strings.ReplaceAll(raw[1:len(raw)-1], `""`, `"`)
	}
	return raw
}

func propOpt(props map[string]tmdlProp, key string) core.Opt {
	if p, ok := props[key]; ok {
		return core.Some(p.value)
	}
	return core.None()
}

func describe(desc []string, props map[string]tmdlProp) core.Opt {
	if p, ok := props["description"]; ok {
		return core.Some(p.value)
	}
	if len(desc) > 0 {
		return core.Some(strings.Join(desc, "\n"))
	}
	return core.None()
}
