package token

import (
	"fmt"
	"sort"
)

// Position represents a location in the source text.
type Position struct {
	Line   int `json:"line" msgpack:"line"`     // 1-based line number
	Column int `json:"column" msgpack:"column"` // 1-based column number (bytes)
	Offset int `json:"offset" msgpack:"offset"` // 0-based byte offset
}

// IsValid returns true if the position is valid (line > 0).
func (p Position) IsValid() bool {
	return p.Line > 0
}

// String formats the position as line:column.
func (p Position) String() string {
	return fmt.Sprintf("%d:%d", p.Line, p.Column)
}

// Span represents a half-open byte range [Start.Offset, End.Offset) in source text.
// A span whose start equals its end is an insertion point.
type Span struct {
	Start Position `json:"start" msgpack:"start"`
	End   Position `json:"end" msgpack:"end"`
}

// Contains returns true if the span contains the given offset.
func (s Span) Contains(offset int) bool {
	return offset >= s.Start.Offset && offset < s.End.Offset
}

// IsValid returns true if both start and end positions are valid.
func (s Span) IsValid() bool {
	return s.Start.IsValid() && s.End.IsValid() && s.End.Offset >= s.Start.Offset
}

// Len returns the number of bytes covered by the span.
func (s Span) Len() int {
	return s.End.Offset - s.Start.Offset
}

// IsInsertion reports whether the span is zero-width.
func (s Span) IsInsertion() bool {
	return s.Start.Offset == s.End.Offset
}

// Overlaps reports whether two spans share at least one byte, or are the
// same non-empty range. Two insertions never overlap each other.
func (s Span) Overlaps(o Span) bool {
	if s.IsInsertion() && o.IsInsertion() {
		return false
	}
	if s.IsInsertion() {
		return o.Start.Offset < s.Start.Offset && s.Start.Offset < o.End.Offset
	}
	if o.IsInsertion() {
		return s.Start.Offset < o.Start.Offset && o.Start.Offset < s.End.Offset
	}
	return s.Start.Offset < o.End.Offset && o.Start.Offset < s.End.Offset
}

// Text returns the slice of src covered by the span, or false when the span
// does not resolve inside src.
func (s Span) Text(src string) (string, bool) {
	if !s.IsValid() || s.End.Offset > len(src) {
		return "", false
	}
	return src[s.Start.Offset:s.End.Offset], true
}

// String formats the span as line:col-line:col.
func (s Span) String() string {
	return s.Start.String() + "-" + s.End.String()
}

// LineIndex converts byte offsets of a single source text into positions.
type LineIndex struct {
	starts []int // byte offset of the first byte of each line
	size   int
}

// NewLineIndex builds a line index for src.
func NewLineIndex(src string) *LineIndex {
	starts := []int{0}
	for i := 0; i < len(src); i++ {
		if src[i] == '\n' {
			starts = append(starts, i+1)
		}
	}
	return &LineIndex{starts: starts, size: len(src)}
}

// Position returns the position of a byte offset. Offsets past the end clamp
// to the end of the text.
func (li *LineIndex) Position(offset int) Position {
	if offset < 0 {
		offset = 0
	}
	if offset > li.size {
		offset = li.size
	}
	line := sort.Search(len(li.starts), func(i int) bool { return li.starts[i] > offset }) - 1
	return Position{
		Line:   line + 1,
		Column: offset - li.starts[line] + 1,
		Offset: offset,
	}
}

// Span returns the span covering [start, end).
func (li *LineIndex) Span(start, end int) Span {
	return Span{Start: li.Position(start), End: li.Position(end)}
}

// LineStart returns the offset of the first byte of the given 1-based line.
func (li *LineIndex) LineStart(line int) int {
	if line < 1 {
		return 0
	}
	if line > len(li.starts) {
		return li.size
	}
	return li.starts[line-1]
}
