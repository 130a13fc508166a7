package core

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/leapstack-labs/tabularlint/pkg/token"
)

// =============================================================================
// Element kinds
// =============================================================================

// ElementKind identifies one of the Element variants.
type ElementKind int

// Element kinds, in the order they are visited within a table.
const (
	KindTable ElementKind = iota
	KindColumn
	KindMeasure
	KindRelationship
)

// AllKinds lists every element kind in visiting order.
var AllKinds = []ElementKind{KindTable, KindColumn, KindMeasure, KindRelationship}

// String returns the catalog tag of the kind.
func (k ElementKind) String() string {
	switch k {
	case KindTable:
		return "table"
	case KindColumn:
		return "column"
	case KindMeasure:
		return "measure"
	case KindRelationship:
		return "relationship"
	default:
		return "unknown"
	}
}

// ParseElementKind converts a catalog tag to an ElementKind.
// Plural forms are accepted ("measures").
func ParseElementKind(s string) (ElementKind, bool) {
	switch strings.TrimSuffix(strings.ToLower(strings.TrimSpace(s)), "s") {
	case "table":
		return KindTable, true
	case "column":
		return KindColumn, true
	case "measure":
		return KindMeasure, true
	case "relationship":
		return KindRelationship, true
	default:
		return KindTable, false
	}
}

// MarshalText implements encoding.TextMarshaler.
func (k ElementKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *ElementKind) UnmarshalText(b []byte) error {
	v, ok := ParseElementKind(string(b))
	if !ok {
		return fmt.Errorf("unknown element kind %q", string(b))
	}
	*k = v
	return nil
}

// =============================================================================
// Fields
// =============================================================================

// Field names an addressable attribute of an element.
type Field string

// Addressable fields.
const (
	FieldName          Field = "name"
	FieldDisplayFolder Field = "display_folder"
	FieldFormatString  Field = "format_string"
	FieldDataType      Field = "data_type"
	FieldDescription   Field = "description"
	FieldExpression    Field = "expression"
	FieldFromTable     Field = "from_table"
	FieldFromColumn    Field = "from_column"
	FieldToTable       Field = "to_table"
	FieldToColumn      Field = "to_column"
)

var fieldAliases = map[string]Field{
	"name":          FieldName,
	"displayfolder": FieldDisplayFolder,
	"formatstring":  FieldFormatString,
	"datatype":      FieldDataType,
	"description":   FieldDescription,
	"expression":    FieldExpression,
	"fromtable":     FieldFromTable,
	"fromcolumn":    FieldFromColumn,
	"totable":       FieldToTable,
	"tocolumn":      FieldToColumn,
}

// ParseField accepts snake_case and camelCase spellings of a field name.
func ParseField(s string) (Field, bool) {
	key := strings.ToLower(strings.ReplaceAll(strings.TrimSpace(s), "_", ""))
	f, ok := fieldAliases[key]
	return f, ok
}

// =============================================================================
// Optional values
// =============================================================================

// Opt is an optional string that distinguishes "absent" from "set to empty".
type Opt struct {
	value string
	set   bool
}

// Some returns a present value.
func Some(v string) Opt { return Opt{value: v, set: true} }

// None returns an absent value.
func None() Opt { return Opt{} }

// Get returns the value and whether it is present.
func (o Opt) Get() (string, bool) { return o.value, o.set }

// IsSet reports whether the value is present.
func (o Opt) IsSet() bool { return o.set }

// Or returns the value, or def when absent.
func (o Opt) Or(def string) string {
	if !o.set {
		return def
	}
	return o.value
}

// String renders absent values as <absent>.
func (o Opt) String() string {
	if !o.set {
		return "<absent>"
	}
	return o.value
}

// MarshalJSON encodes an absent value as null.
func (o Opt) MarshalJSON() ([]byte, error) {
	if !o.set {
		return []byte("null"), nil
	}
	return json.Marshal(o.value)
}

// UnmarshalJSON decodes null as absent.
func (o *Opt) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*o = None()
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	*o = Some(s)
	return nil
}

// =============================================================================
// References and locations
// =============================================================================

// ElementRef identifies an element within a model.
type ElementRef struct {
	Kind  ElementKind `json:"kind" msgpack:"kind"`
	Table string      `json:"table" msgpack:"table"`
	Name  string      `json:"name" msgpack:"name"`
}

// String renders the reference, e.g. "measure Sales[total_sales]".
func (r ElementRef) String() string {
	switch r.Kind {
	case KindTable:
		return "table " + r.Table
	case KindRelationship:
		return "relationship " + r.Table + "/" + r.Name
	default:
		return fmt.Sprintf("%s %s[%s]", r.Kind, r.Table, r.Name)
	}
}

// Compare orders references by table, name, then kind.
func (r ElementRef) Compare(o ElementRef) int {
	if c := strings.Compare(r.Table, o.Table); c != 0 {
		return c
	}
	if c := strings.Compare(r.Name, o.Name); c != 0 {
		return c
	}
	return int(r.Kind) - int(o.Kind)
}

// Syntax tags the textual syntax an element was read from.
type Syntax string

// Supported source syntaxes.
const (
	SyntaxTMDL Syntax = "tmdl"
	SyntaxJSON Syntax = "json"
)

// Location marks where an element lives in its original text.
type Location struct {
	File   string               // Path of the source file
	Syntax Syntax               // Syntax of the source file
	Name   token.Span           // Name token as written, quotes included
	Fields map[Field]token.Span // Property values as written
	Insert token.Span           // Insertion point for new properties
	Indent string               // Indentation for inserted properties
}

// HasFile reports whether the location points into a file.
func (l Location) HasFile() bool {
	return l.File != ""
}

// FieldSpan returns the span of a property value.
func (l Location) FieldSpan(f Field) (token.Span, bool) {
	if f == FieldName {
		return l.Name, l.Name.IsValid()
	}
	s, ok := l.Fields[f]
	return s, ok && s.IsValid()
}

// =============================================================================
// Element interface
// =============================================================================

// Element is implemented by Table, Column, Measure and Relationship.
type Element interface {
	Kind() ElementKind
	Ref() ElementRef
	// Value returns the value of a field; the name is always present.
	Value(f Field) Opt
	Loc() Location
}
