// Package text holds the immutable text value shared by buffers, diff bases
// and snapshots. Rows are separated by '\n'; columns are byte offsets within
// a row.
package text

import (
	"sort"
	"strings"
)

type Point struct {
	Row    int
	Column int
}

func (p Point) Less(o Point) bool {
	return p.Row < o.Row || (p.Row == o.Row && p.Column < o.Column)
}

func Min(a, b Point) Point {
	if b.Less(a) {
		return b
	}
	return a
}

type PointRange struct {
	Start Point
	End   Point
}

// Text is a string with a precomputed row index. The zero value is the empty
// text. Values are never mutated in place; Replace returns a new Text.
type Text struct {
	s          string
	lineStarts []int
}

func New(s string) Text {
	starts := make([]int, 1, strings.Count(s, "\n")+1)
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			starts = append(starts, i+1)
		}
	}
	return Text{s: s, lineStarts: starts}
}

func (t Text) String() string { return t.s }

func (t Text) Len() int { return len(t.s) }

func (t Text) Equal(o Text) bool { return t.s == o.s }

func (t Text) rows() []int {
	if t.lineStarts == nil {
		return []int{0}
	}
	return t.lineStarts
}

// RowCount is the number of rows, which is always MaxPoint().Row + 1.
func (t Text) RowCount() int { return len(t.rows()) }

func (t Text) MaxPoint() Point {
	starts := t.rows()
	last := len(starts) - 1
	return Point{Row: last, Column: len(t.s) - starts[last]}
}

func (t Text) LineLen(row int) int {
	starts := t.rows()
	if row < 0 || row >= len(starts) {
		return 0
	}
	end := len(t.s)
	if row+1 < len(starts) {
		end = starts[row+1] - 1
	}
	return end - starts[row]
}

// ClipPoint clamps p to a valid position in the text.
func (t Text) ClipPoint(p Point) Point {
	max := t.MaxPoint()
	if p.Row < 0 {
		return Point{}
	}
	if p.Row > max.Row {
		return max
	}
	if p.Column < 0 {
		p.Column = 0
	}
	if n := t.LineLen(p.Row); p.Column > n {
		p.Column = n
	}
	return p
}

func (t Text) PointToOffset(p Point) int {
	p = t.ClipPoint(p)
	return t.rows()[p.Row] + p.Column
}

func (t Text) OffsetToPoint(offset int) Point {
	if offset <= 0 {
		return Point{}
	}
	if offset > len(t.s) {
		offset = len(t.s)
	}
	starts := t.rows()
	row := sort.Search(len(starts), func(i int) bool { return starts[i] > offset }) - 1
	return Point{Row: row, Column: offset - starts[row]}
}

// RowOffset is the byte offset of Point{row, 0}, clamped to the end of the
// text when row is past the last row.
func (t Text) RowOffset(row int) int {
	return t.PointToOffset(Min(Point{Row: row}, t.MaxPoint()))
}

// ByteAt returns the byte at offset, or 0 when offset is out of range.
func (t Text) ByteAt(offset int) byte {
	if offset < 0 || offset >= len(t.s) {
		return 0
	}
	return t.s[offset]
}

func (t Text) Slice(start, end int) string {
	start = clamp(start, 0, len(t.s))
	end = clamp(end, start, len(t.s))
	return t.s[start:end]
}

// SliceRows returns the text of rows [start, end). The final row includes its
// trailing newline when it has one.
func (t Text) SliceRows(start, end int) string {
	return t.Slice(t.RowOffset(start), t.RowOffset(end))
}

func (t Text) Replace(start, end int, with string) Text {
	start = clamp(start, 0, len(t.s))
	end = clamp(end, start, len(t.s))
	var b strings.Builder
	b.Grow(len(t.s) - (end - start) + len(with))
	b.WriteString(t.s[:start])
	b.WriteString(with)
	b.WriteString(t.s[end:])
	return New(b.String())
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
