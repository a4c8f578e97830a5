package buffer

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kobzarvs/actionlog/internal/executor"
	"github.com/kobzarvs/actionlog/internal/text"
)

func pt(row, col int) text.Point { return text.Point{Row: row, Column: col} }

func rng(r1, c1, r2, c2 int) text.PointRange {
	return text.PointRange{Start: pt(r1, c1), End: pt(r2, c2)}
}

func TestEditBumpsVersionOncePerTransaction(t *testing.T) {
	b := New(executor.New(), "hello world")
	require.Equal(t, Version(0), b.Version())

	b.Edit([]Replacement{{Start: 0, End: 5, Text: "HELLO"}, {Start: 6, End: 11, Text: "there"}})
	require.Equal(t, Version(1), b.Version())
	require.Equal(t, "HELLO there", b.Text())

	b.Edit(nil)
	require.Equal(t, Version(1), b.Version())
}

func TestEditsSince(t *testing.T) {
	b := New(executor.New(), "abc\ndef\nghi\n")
	start := b.Snapshot()

	b.Insert(pt(1, 3), "!")
	b.Insert(pt(0, 0), ">")
	b.Edit([]Replacement{{Start: 10, End: 13, Text: ""}})

	require.Equal(t, ">abc\ndef!\n\n", b.Text())
	require.Equal(t, []Edit{
		{Old: rng(0, 0, 0, 0), New: rng(0, 0, 0, 1)},
		{Old: rng(1, 3, 1, 3), New: rng(1, 3, 1, 4)},
		{Old: rng(2, 0, 2, 3), New: rng(2, 0, 2, 0)},
	}, b.Snapshot().EditsSince(start))
}

func TestEditsSinceMergesOverlappingEdits(t *testing.T) {
	b := New(executor.New(), "one two three")
	start := b.Snapshot()

	b.Edit([]Replacement{{Start: 4, End: 7, Text: "2"}})
	b.Edit([]Replacement{{Start: 3, End: 6, Text: "-"}})

	require.Equal(t, "one-three", b.Text())
	require.Equal(t, []Edit{{Old: rng(0, 3, 0, 8), New: rng(0, 3, 0, 4)}}, b.Snapshot().EditsSince(start))
}

func TestEditsSinceSameVersion(t *testing.T) {
	b := New(executor.New(), "x")
	snap := b.Snapshot()
	require.Empty(t, snap.EditsSince(snap))

	other := New(executor.New(), "x")
	other.Append("y")
	require.Empty(t, other.Snapshot().EditsSince(snap))
}

func TestTranslateOffset(t *testing.T) {
	b := New(executor.New(), "aaa\nbbb\nccc\n")
	old := b.Snapshot()
	b.Insert(pt(0, 0), "xx\n")
	b.Edit([]Replacement{{Start: 7, End: 10, Text: "BBBB"}})
	cur := b.Snapshot()
	require.Equal(t, "xx\naaa\nBBBB\nccc\n", cur.String())

	// Insertion at a position: left bias stays before it.
	require.Equal(t, 0, cur.TranslateOffset(old, 0, Left))
	require.Equal(t, 3, cur.TranslateOffset(old, 0, Right))
	// Start of "bbb" maps to the start of its replacement on the left.
	require.Equal(t, 7, cur.TranslateOffset(old, 4, Left))
	require.Equal(t, 11, cur.TranslateOffset(old, 4, Right))
	// "ccc" moves by both edits.
	require.Equal(t, 12, cur.TranslateOffset(old, 8, Left))
}

func TestReloadAppliesRowEditsAndMarksClean(t *testing.T) {
	b := New(executor.New(), "a\nb\nc\n")
	b.Append("d\n")
	require.True(t, b.IsDirty())
	before := b.Snapshot()

	b.Reload("a\nB\nc\nd\n")
	require.Equal(t, "a\nB\nc\nd\n", b.Text())
	require.False(t, b.IsDirty())
	require.Equal(t, []Edit{{Old: rng(1, 0, 2, 0), New: rng(1, 0, 2, 0)}}, b.Snapshot().EditsSince(before))

	v := b.Version()
	b.Reload("a\nB\nc\nd\n")
	require.Equal(t, v, b.Version())
}

func TestEventsAreDeliveredInOrder(t *testing.T) {
	ex := executor.New()
	b := NewWithFile(ex, "", File{FullPath: "a.txt", Disk: DiskNew})

	var mu sync.Mutex
	var got []EventKind
	cancel := b.Subscribe(func(ev Event) {
		mu.Lock()
		got = append(got, ev.Kind)
		mu.Unlock()
	})
	defer cancel()

	b.Append("x")
	b.DidSave()
	b.SetDiskState(DiskExists)
	b.SetDiskState(DiskDeleted)
	ex.RunUntilParked()

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []EventKind{Edited, Saved, FileHandleChanged, FileHandleChanged}, got)

	f, ok := b.File()
	require.True(t, ok)
	require.Equal(t, DiskDeleted, f.Disk)
}

func TestBufferIDsAreUnique(t *testing.T) {
	ex := executor.New()
	a, b := New(ex, ""), New(ex, "")
	require.NotEqual(t, a.ID(), b.ID())
	require.Less(t, a.ID(), b.ID())
}
