package loader

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

type jsonKind int

const (
	jsonNull jsonKind = iota
	jsonBool
	jsonNumber
	jsonString
	jsonArray
	jsonObject
)

// jsonNode is a JSON value together with the byte range it occupies in the
// document. Object members keep their declaration order.
type jsonNode struct {
	kind  jsonKind
	start int // offset of the first byte ('{', '[', '"', digit, ...)
	end   int // offset after the last byte
	str   string
	keys  []string
	vals  []*jsonNode
	items []*jsonNode
}

// get returns the member whose key matches name case-insensitively. An exact
// match wins over a case-folded one.
func (n *jsonNode) get(name string) *jsonNode {
	if n == nil || n.kind != jsonObject {
		return nil
	}
	var folded *jsonNode
	for i, k := range n.keys {
		if k == name {
			return n.vals[i]
		}
		if folded == nil && strings.EqualFold(k, name) {
			folded = n.vals[i]
		}
	}
	return folded
}

// text returns a string value, or lines of a string array joined by "\n".
func (n *jsonNode) text() (string, bool) {
	if n == nil {
		return "", false
	}
	switch n.kind {
	case jsonString:
		return n.str, true
	case jsonNumber, jsonBool:
		return n.str, true
	case jsonArray:
		lines := make([]string, 0, len(n.items))
		for _, it := range n.items {
			if it.kind != jsonString {
				return "", false
			}
			lines = append(lines, it.str)
		}
		return strings.Join(lines, "\n"), true
	default:
		return "", false
	}
}

// jsonSyntaxError carries the byte offset of a decoding failure.
type jsonSyntaxError struct {
	Offset int
	Err    error
}

func (e *jsonSyntaxError) Error() string { return e.Err.Error() }
func (e *jsonSyntaxError) Unwrap() error { return e.Err }

// parseJSONSpans decodes src into a jsonNode tree using the token stream of
// encoding/json and the decoder's input offset to recover value spans.
func parseJSONSpans(src []byte) (*jsonNode, error) {
	w := &jsonWalker{src: src, dec: json.NewDecoder(bytes.NewReader(src))}
	w.dec.UseNumber()
	root, err := w.value()
	if err != nil {
		return nil, w.wrap(err)
	}
	if _, err := w.dec.Token(); !errors.Is(err, io.EOF) {
		return nil, w.wrap(fmt.Errorf("unexpected data after top-level value"))
	}
	return root, nil
}

type jsonWalker struct {
	src []byte
	dec *json.Decoder
}

func (w *jsonWalker) wrap(err error) error {
	off := int(w.dec.InputOffset())
	var se *json.SyntaxError
	if errors.As(err, &se) {
		off = int(se.Offset)
	}
	return &jsonSyntaxError{Offset: off, Err: err}
}

// skipSeparators advances past whitespace, ':' and ',' which the decoder
// consumes silently before the next token.
func (w *jsonWalker) skipSeparators(off int) int {
	for off < len(w.src) {
		switch w.src[off] {
		case ' ', '\t', '\r', '\n', ':', ',':
			off++
		default:
			return off
		}
	}
	return off
}

func (w *jsonWalker) value() (*jsonNode, error) {
	start := w.skipSeparators(int(w.dec.InputOffset()))
	tok, err := w.dec.Token()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.ErrUnexpectedEOF
		}
		return nil, err
	}
	n := &jsonNode{start: start}

	switch t := tok.(type) {
	case json.Delim:
		switch t {
		case '{':
			n.kind = jsonObject
			for w.dec.More() {
				kt, err := w.dec.Token()
				if err != nil {
					return nil, err
				}
				key, ok := kt.(string)
				if !ok {
					return nil, fmt.Errorf("object key is not a string")
				}
				v, err := w.value()
				if err != nil {
					return nil, err
				}
				n.keys = append(n.keys, key)
				n.vals = append(n.vals, v)
			}
		case '[':
			n.kind = jsonArray
			for w.dec.More() {
				v, err := w.value()
				if err != nil {
					return nil, err
				}
				n.items = append(n.items, v)
			}
		default:
			return nil, fmt.Errorf("unexpected delimiter %q", rune(t))
		}
		if _, err := w.dec.Token(); err != nil { // closing delimiter
			return nil, err
		}
	case string:
		n.kind = jsonString
		n.str = t
	case json.Number:
		n.kind = jsonNumber
		n.str = t.String()
	case bool:
		n.kind = jsonBool
		n.str = fmt.Sprint(t)
	case nil:
		n.kind = jsonNull
	}
	n.end = int(w.dec.InputOffset())
	return n, nil
}
