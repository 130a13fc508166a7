package patch

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/leapstack-labs/tabularlint/pkg/core"
)

// renderer writes values in the native syntax of a source file.
type renderer interface {
	// name renders an object name as it appears in a declaration or reference.
	name(v string) string
	// value renders a property value that replaces an existing one.
	value(f core.Field, v string) string
	// insert renders a new property added at the element's insertion point.
	insert(loc core.Location, f core.Field, v string) string
}

func rendererFor(s core.Syntax) (renderer, error) {
	switch s {
	case core.SyntaxTMDL:
		return tmdlRenderer{}, nil
	case core.SyntaxJSON:
		return jsonRenderer{}, nil
	default:
		return nil, fmt.Errorf("no renderer for syntax %q", s)
	}
}

// propertyKeys maps fields to the property names used by both syntaxes.
var propertyKeys = map[core.Field]string{
	core.FieldName:          "name",
	core.FieldDisplayFolder: "displayFolder",
	core.FieldFormatString:  "formatString",
	core.FieldDataType:      "dataType",
	core.FieldDescription:   "description",
	core.FieldExpression:    "expression",
	core.FieldFromTable:     "fromTable",
	core.FieldFromColumn:    "fromColumn",
	core.FieldToTable:       "toTable",
	core.FieldToColumn:      "toColumn",
}

func propertyKey(f core.Field) string {
	if k, ok := propertyKeys[f]; ok {
		return k
	}
	return string(f)
}

// =============================================================================
// TMDL
// =============================================================================

type tmdlRenderer struct{}

// name quotes names that are not plain identifiers.
func (tmdlRenderer) name(v string) string {
	if isPlainName(v) {
		return v
	}
	return "'" + strings.ReplaceAll(v, "'", "''") + "'"
}

func (r tmdlRenderer) value(f core.Field, v string) string {
	switch f {
	case core.FieldName, core.FieldFromTable, core.FieldFromColumn, core.FieldToTable, core.FieldToColumn:
		return r.name(v)
	}
	if v == "" || v != strings.TrimSpace(v) || strings.ContainsAny(v, "\"\n\r") {
		return `"` + strings.ReplaceAll(v, `"`, `""`) + `"`
	}
	return v
}

func (r tmdlRenderer) insert(loc core.Location, f core.Field, v string) string {
	return "\n" + loc.Indent + propertyKey(f) + ": " + r.value(f, v)
}

func isPlainName(v string) bool {
	if v == "" {
		return false
	}
	for i, c := range v {
		switch {
		case c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z'):
		case i > 0 && c >= '0' && c <= '9':
		default:
			return false
		}
	}
	return true
}

// =============================================================================
// JSON
// =============================================================================

type jsonRenderer struct{}

func (jsonRenderer) name(v string) string { return jsonString(v) }

func (jsonRenderer) value(_ core.Field, v string) string { return jsonString(v) }

func (jsonRenderer) insert(_ core.Location, f core.Field, v string) string {
	return " " + jsonString(propertyKey(f)) + ": " + jsonString(v) + ","
}

// jsonString encodes s as a JSON string without HTML escaping.
func jsonString(s string) string {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(s) // strings always encode
	return strings.TrimSuffix(buf.String(), "\n")
}
