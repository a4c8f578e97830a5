package buffer

import (
	"sort"

	"github.com/kobzarvs/actionlog/internal/text"
)

// Edit is a point-based edit: Old is a range of the earlier snapshot, New the
// range of the later snapshot that replaced it.
type Edit struct {
	Old text.PointRange
	New text.PointRange
}

// Bias picks a side when translating a position that touches an edit.
type Bias int

const (
	Left Bias = iota
	Right
)

type splice struct {
	version Version
	start   int
	oldEnd  int
	newEnd  int
}

type byteEdit struct {
	oldStart, oldEnd int
	newStart, newEnd int
}

// Snapshot is an immutable view of a buffer at one version.
type Snapshot struct {
	id      uint64
	text    text.Text
	version Version
	history []splice
}

func (s Snapshot) BufferID() uint64 { return s.id }

func (s Snapshot) Text() text.Text { return s.text }

func (s Snapshot) String() string { return s.text.String() }

func (s Snapshot) Version() Version { return s.version }

func (s Snapshot) MaxPoint() text.Point { return s.text.MaxPoint() }

// EditsSince returns the coalesced edits that turn old into s, sorted by
// position. old must be an earlier snapshot of the same buffer.
func (s Snapshot) EditsSince(old Snapshot) []Edit {
	byteEdits := s.byteEditsSince(old)
	edits := make([]Edit, 0, len(byteEdits))
	for _, e := range byteEdits {
		if e.oldStart == e.oldEnd && e.newStart == e.newEnd {
			continue
		}
		edits = append(edits, Edit{
			Old: text.PointRange{Start: old.text.OffsetToPoint(e.oldStart), End: old.text.OffsetToPoint(e.oldEnd)},
			New: text.PointRange{Start: s.text.OffsetToPoint(e.newStart), End: s.text.OffsetToPoint(e.newEnd)},
		})
	}
	return edits
}

func (s Snapshot) byteEditsSince(old Snapshot) []byteEdit {
	if old.id != s.id || old.version >= s.version {
		return nil
	}
	from := sort.Search(len(s.history), func(i int) bool { return s.history[i].version > old.version })
	return compose(s.history[from:])
}

// compose folds sequential splices into one sorted list of disjoint edits.
func compose(splices []splice) []byteEdit {
	var edits []byteEdit
	for _, sp := range splices {
		start, end := sp.start, sp.oldEnd
		delta := (sp.newEnd - sp.start) - (end - start)

		i := sort.Search(len(edits), func(k int) bool { return edits[k].newEnd >= start })
		j := i
		for j < len(edits) && edits[j].newStart <= end {
			j++
		}

		var merged byteEdit
		if i == j {
			shift := 0
			if i > 0 {
				shift = edits[i-1].newEnd - edits[i-1].oldEnd
			}
			merged = byteEdit{oldStart: start - shift, oldEnd: end - shift, newStart: start, newEnd: sp.newEnd}
		} else {
			first, last := edits[i], edits[j-1]
			newStart := min(start, first.newStart)
			newEnd := max(end, last.newEnd)
			merged = byteEdit{
				oldStart: first.oldStart - (first.newStart - newStart),
				oldEnd:   last.oldEnd + (newEnd - last.newEnd),
				newStart: newStart,
				newEnd:   newEnd + delta,
			}
		}

		out := make([]byteEdit, 0, len(edits)-(j-i)+1)
		out = append(out, edits[:i]...)
		out = append(out, merged)
		for _, e := range edits[j:] {
			e.newStart += delta
			e.newEnd += delta
			out = append(out, e)
		}
		edits = out
	}
	return edits
}

// TranslateOffset maps an offset of old into s. Positions inside replaced
// text collapse onto the replacement; bias decides whether a position at the
// start of an edit lands before or after the inserted text.
func (s Snapshot) TranslateOffset(old Snapshot, offset int, bias Bias) int {
	shift := 0
	for _, e := range s.byteEditsSince(old) {
		if e.oldEnd < offset {
			shift = e.newEnd - e.oldEnd
			continue
		}
		if e.oldStart > offset {
			break
		}
		if offset == e.oldStart && bias == Left {
			return e.newStart
		}
		return e.newEnd
	}
	return clamp(offset+shift, 0, s.text.Len())
}
