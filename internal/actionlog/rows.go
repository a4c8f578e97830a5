package actionlog

import (
	"github.com/kobzarvs/actionlog/internal/buffer"
	"github.com/kobzarvs/actionlog/internal/patch"
	"github.com/kobzarvs/actionlog/internal/text"
)

// diffSnapshots returns the row edits between two snapshots of one buffer,
// merging edits that land on the same or adjacent rows.
func diffSnapshots(old, new buffer.Snapshot) []patch.Edit {
	edits := new.EditsSince(old)
	rowEdits := make([]patch.Edit, 0, len(edits))
	for i := 0; i < len(edits); i++ {
		edit := pointToRowEdit(edits[i].Old, edits[i].New, old.Text(), new.Text())
		for i+1 < len(edits) {
			next := pointToRowEdit(edits[i+1].Old, edits[i+1].New, old.Text(), new.Text())
			if edit.Old.End < next.Old.Start {
				break
			}
			edit.Old.End = next.Old.End
			edit.New.End = next.New.End
			i++
		}
		rowEdits = append(rowEdits, edit)
	}
	return rowEdits
}

// pointToRowEdit widens a point edit to whole rows. An edit that starts at the
// end of a line and inserts a newline is treated as inserting rows below that
// line rather than rewriting it.
func pointToRowEdit(old, new text.PointRange, oldText, newText text.Text) patch.Edit {
	switch {
	case old.Start.Column == oldText.LineLen(old.Start.Row) &&
		newText.ByteAt(newText.PointToOffset(new.Start)) == '\n' &&
		old.Start != oldText.MaxPoint():
		return patch.Edit{
			Old: patch.Range{Start: old.Start.Row + 1, End: old.End.Row + 1},
			New: patch.Range{Start: new.Start.Row + 1, End: new.End.Row + 1},
		}
	case old.Start.Column == 0 && old.End.Column == 0 && new.End.Column == 0:
		return patch.Edit{
			Old: patch.Range{Start: old.Start.Row, End: old.End.Row},
			New: patch.Range{Start: new.Start.Row, End: new.End.Row},
		}
	default:
		return patch.Edit{
			Old: patch.Range{Start: old.Start.Row, End: old.End.Row + 1},
			New: patch.Range{Start: new.Start.Row, End: new.End.Row + 1},
		}
	}
}
