package actionlog

import (
	"github.com/kobzarvs/actionlog/internal/linediff"
	"github.com/kobzarvs/actionlog/internal/patch"
	"github.com/kobzarvs/actionlog/internal/text"
)

// mergeCommittedEdits folds into the baseline every hunk that was committed
// to git exactly as it is pending review: same baseline rows, same resulting
// text. Everything else stays unreviewed.
func mergeCommittedEdits(unreviewed patch.Patch, agentBase, gitBase, bufferText text.Text) text.Text {
	pending := unreviewed.Edits()
	merged := agentBase
	rowDelta := 0

	for _, committed := range linediff.DiffLines(agentBase.String(), gitBase.String()) {
		for len(pending) > 0 {
			edit := pending[0]
			if committed.Old == edit.Old {
				pendingText := bufferText.SliceRows(edit.New.Start, edit.New.End)
				committedText := gitBase.SliceRows(committed.New.Start, committed.New.End)
				if pendingText == committedText {
					start := merged.PointToOffset(text.Point{Row: edit.Old.Start + rowDelta})
					end := merged.RowOffset(edit.Old.End + rowDelta)
					merged = merged.Replace(start, end, pendingText)
					rowDelta += edit.Delta()
				}
			} else if edit.Old.Start >= committed.Old.End {
				break
			}
			pending = pending[1:]
		}
	}
	return merged
}
