package actionlog

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/kobzarvs/actionlog/internal/buffer"
	"github.com/kobzarvs/actionlog/internal/logger"
	"github.com/kobzarvs/actionlog/internal/patch"
	"github.com/kobzarvs/actionlog/internal/text"
)

// KeepEditsInRange accepts the unreviewed edits whose rows touch r.
func (a *ActionLog) KeepEditsInRange(b *buffer.Buffer, r text.PointRange) {
	a.mu.Lock()
	defer a.mu.Unlock()
	tb, ok := a.tracked[b]
	if !ok {
		return
	}
	if tb.status.Kind == StatusDeleted {
		a.untrackLocked(b)
		return
	}

	current := b.Snapshot().Text()
	rows := rowRange(current, r)
	tracked := tb.snapshot.Text()
	delta := 0
	tb.unreviewedEdits.RetainMut(func(e *patch.Edit) bool {
		e.Old.Start += delta
		e.Old.End += delta
		if rows.End < e.New.Start || rows.Start > e.New.End {
			return true
		}
		start := tb.diffBase.PointToOffset(text.Point{Row: e.Old.Start})
		end := tb.diffBase.RowOffset(e.Old.End)
		accepted := tracked.Slice(tracked.PointToOffset(text.Point{Row: e.New.Start}), tracked.RowOffset(e.New.End))
		tb.diffBase = tb.diffBase.Replace(start, end, accepted)
		delta += e.Delta()
		return false
	})
	tb.rewroteBase()
	if tb.unreviewedEdits.IsEmpty() && tb.status.Kind == StatusCreated {
		tb.status = Status{Kind: StatusModified}
	}
	tb.scheduleDiffUpdate(User)
}

// KeepAllEdits accepts every unreviewed edit of every tracked buffer.
func (a *ActionLog) KeepAllEdits() {
	a.mu.Lock()
	defer a.mu.Unlock()
	for b, tb := range a.tracked {
		if tb.status.Kind == StatusDeleted {
			a.untrackLocked(b)
			continue
		}
		if tb.status.Kind == StatusCreated {
			tb.status = Status{Kind: StatusModified}
		}
		tb.unreviewedEdits.Clear()
		tb.diffBase = tb.snapshot.Text()
		tb.rewroteBase()
		tb.scheduleDiffUpdate(User)
	}
}

// RejectEditsInRanges reverts the unreviewed edits of b that touch any of
// ranges, then persists the result. Ranges must be sorted.
func (a *ActionLog) RejectEditsInRanges(ctx context.Context, b *buffer.Buffer, ranges []text.PointRange) error {
	persist := a.rejectLocked(b, ranges)
	if persist == nil {
		return nil
	}
	return persist(ctx)
}

// rejectLocked updates the buffer and the tracking state, returning the I/O
// that remains to be done.
func (a *ActionLog) rejectLocked(b *buffer.Buffer, ranges []text.PointRange) func(context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	tb, ok := a.tracked[b]
	if !ok {
		return nil
	}

	save := func(ctx context.Context) error { return a.project.SaveBuffer(ctx, b) }

	switch tb.status.Kind {
	case StatusCreated:
		if existing := tb.status.ExistingFileContent; existing != nil {
			b.SetText(existing.String())
			a.untrackLocked(b)
			return save
		}
		// The buffer may hold user content next to the agent's, and only
		// an untouched buffer is safe to delete.
		// TODO: ask the user instead of keeping the file when it was edited.
		pristine := tb.version == b.Version() && b.Text() == tb.snapshot.String()
		a.untrackLocked(b)
		if !pristine {
			return nil
		}
		return func(ctx context.Context) error { return a.project.DeleteEntry(ctx, b) }

	case StatusDeleted:
		b.SetText(tb.diffBase.String())
		a.untrackLocked(b)
		a.trackBufferLocked(b, false)
		return save

	default:
		reverts := a.revertsLocked(tb, ranges)
		if len(reverts) == 0 {
			return nil
		}
		b.Edit(reverts)
		return save
	}
}

// revertsLocked builds the replacements that restore the baseline text of
// every unreviewed edit touching ranges.
func (a *ActionLog) revertsLocked(tb *trackedBuffer, ranges []text.PointRange) []buffer.Replacement {
	current := tb.buffer.Snapshot()
	tracked := tb.snapshot
	rows := make([]patch.Range, len(ranges))
	for i, r := range ranges {
		rows[i] = rowRange(current.Text(), r)
	}

	var reverts []buffer.Replacement
	next := 0
	for _, e := range tb.unreviewedEdits.Edits() {
		start := current.TranslateOffset(tracked, tracked.Text().PointToOffset(text.Point{Row: e.New.Start}), buffer.Left)
		end := current.TranslateOffset(tracked, tracked.Text().RowOffset(e.New.End), buffer.Right)
		editRows := patch.Range{
			Start: current.Text().OffsetToPoint(start).Row,
			End:   current.Text().OffsetToPoint(end).Row,
		}

		touched := false
		for next < len(rows) {
			r := rows[next]
			if r.End < editRows.Start {
				next++
				continue
			}
			touched = r.Start <= editRows.End
			break
		}
		if !touched {
			continue
		}
		oldStart := tb.diffBase.PointToOffset(text.Point{Row: e.Old.Start})
		oldEnd := tb.diffBase.RowOffset(e.Old.End)
		reverts = append(reverts, buffer.Replacement{
			Start: start,
			End:   end,
			Text:  tb.diffBase.Slice(oldStart, oldEnd),
		})
	}
	return reverts
}

// RejectAllEdits rejects every unreviewed edit of every changed buffer. All
// buffers are attempted; the first failure is returned.
func (a *ActionLog) RejectAllEdits(ctx context.Context) error {
	var g errgroup.Group
	for b := range a.ChangedBuffers() {
		g.Go(func() error {
			err := a.RejectEditsInRanges(ctx, b, []text.PointRange{AllRows})
			if err != nil {
				logger.Error("failed to reject edits", "path", bufferPath(b), "error", err)
			}
			return err
		})
	}
	return g.Wait()
}

func rowRange(t text.Text, r text.PointRange) patch.Range {
	return patch.Range{Start: t.ClipPoint(r.Start).Row, End: t.ClipPoint(r.End).Row}
}
