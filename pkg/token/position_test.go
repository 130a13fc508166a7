package token

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLineIndex_Position(t *testing.T) {
	src := "table Sales\n\tcolumn Amount\n"
	li := NewLineIndex(src)

	tests := []struct {
		name   string
		offset int
		want   Position
	}{
		{"first byte", 0, Position{Line: 1, Column: 1, Offset: 0}},
		{"table name", 6, Position{Line: 1, Column: 7, Offset: 6}},
		{"second line", 12, Position{Line: 2, Column: 1, Offset: 12}},
		{"column name", 20, Position{Line: 2, Column: 9, Offset: 20}},
		{"end of text", len(src), Position{Line: 3, Column: 1, Offset: len(src)}},
		{"past end clamps", 1000, Position{Line: 3, Column: 1, Offset: len(src)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, li.Position(tt.offset))
		})
	}
}

func TestSpan_Text(t *testing.T) {
	src := "table Sales\n"
	li := NewLineIndex(src)

	text, ok := li.Span(6, 11).Text(src)
	require.True(t, ok)
	assert.Equal(t, "Sales", text)

	_, ok = Span{}.Text(src)
	assert.False(t, ok, "zero span must not resolve")

	_, ok = li.Span(6, 11).Text("short")
	assert.False(t, ok, "span past the end must not resolve")
}

func TestSpan_Overlaps(t *testing.T) {
	li := NewLineIndex("0123456789")
	tests := []struct {
		name string
		a, b Span
		want bool
	}{
		{"disjoint", li.Span(0, 2), li.Span(3, 5), false},
		{"adjacent", li.Span(0, 3), li.Span(3, 5), false},
		{"overlapping", li.Span(0, 4), li.Span(3, 5), true},
		{"identical", li.Span(2, 4), li.Span(2, 4), true},
		{"two insertions same offset", li.Span(3, 3), li.Span(3, 3), false},
		{"insertion inside range", li.Span(3, 3), li.Span(2, 5), true},
		{"insertion at range start", li.Span(2, 2), li.Span(2, 5), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.a.Overlaps(tt.b))
			assert.Equal(t, tt.want, tt.b.Overlaps(tt.a))
		})
	}
}

func TestLineIndex_LineStart(t *testing.T) {
	li := NewLineIndex("a\nbb\nccc")
	assert.Equal(t, 0, li.LineStart(1))
	assert.Equal(t, 2, li.LineStart(2))
	assert.Equal(t, 5, li.LineStart(3))
	assert.Equal(t, 8, li.LineStart(9))
}
