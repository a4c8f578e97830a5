package actionlog

import (
	"github.com/kobzarvs/actionlog/internal/patch"
	"github.com/kobzarvs/actionlog/internal/text"
)

// applyNonConflictingEdits folds the user's row edits into the baseline.
// unreviewed maps baseline rows to buffer rows; edits are in the coordinates
// of the previous buffer snapshot (old) and of newText (new). Edits touching
// a row range still covered by an unreviewed edit are left out of the
// baseline; they remain in the buffer. It reports whether anything was
// applied.
func applyNonConflictingEdits(unreviewed patch.Patch, edits []patch.Edit, baseline, newText text.Text) (text.Text, bool) {
	pending := unreviewed.Edits()
	appliedDelta := 0
	rebasedDelta := 0
	changed := false

	for i := 0; i < len(edits); i++ {
		edit := edits[i]
		conflict := false

		for len(pending) > 0 {
			prior := pending[0]
			if edit.Old.End < prior.New.Start ||
				(!prior.New.IsEmpty() && edit.Old.End == prior.New.Start) {
				break
			}
			if edit.Old.Start > prior.New.End ||
				(!prior.New.IsEmpty() && edit.Old.Start == prior.New.End) {
				pending = pending[1:]
				rebasedDelta += prior.Delta()
				continue
			}
			conflict = true
			if i+1 < len(edits) && edits[i+1].Old.Overlaps(prior.New) {
				i++
				edit = edits[i]
			} else {
				pending = pending[1:]
				rebasedDelta += prior.Delta()
			}
		}

		if conflict {
			continue
		}
		edit.Old.Start += appliedDelta - rebasedDelta
		edit.Old.End += appliedDelta - rebasedDelta
		oldStart := baseline.PointToOffset(text.Point{Row: edit.Old.Start})
		oldEnd := baseline.RowOffset(edit.Old.End)
		replacement := newText.Slice(newText.PointToOffset(text.Point{Row: edit.New.Start}), newText.RowOffset(edit.New.End))
		baseline = baseline.Replace(oldStart, oldEnd, replacement)
		appliedDelta += edit.Delta()
		changed = true
	}
	return baseline, changed
}
