// Package bufferdiff maintains a live row diff between a base text and a
// buffer. It is the diff view both the action log and the uncommitted-changes
// view are rendered from.
package bufferdiff

import (
	"context"
	"sync"

	"github.com/kobzarvs/actionlog/internal/buffer"
	"github.com/kobzarvs/actionlog/internal/executor"
	"github.com/kobzarvs/actionlog/internal/linediff"
	"github.com/kobzarvs/actionlog/internal/text"
)

// Hunk is one changed region. BaseStart and BaseEnd are byte offsets into the
// base text; Range is the row-aligned region of the buffer.
type Hunk struct {
	BaseStart int
	BaseEnd   int
	Range     text.PointRange
}

type Snapshot struct {
	base  text.Text
	hunks []Hunk
}

func (s Snapshot) BaseText() text.Text { return s.base }

func (s Snapshot) Hunks() []Hunk { return s.hunks }

// HunksIntersectingRows returns the hunks whose buffer rows touch [start, end].
func (s Snapshot) HunksIntersectingRows(start, end int) []Hunk {
	var out []Hunk
	for _, h := range s.hunks {
		if h.Range.End.Row < start || h.Range.Start.Row > end {
			continue
		}
		out = append(out, h)
	}
	return out
}

type EventKind int

const (
	DiffChanged EventKind = iota
)

type Event struct {
	Kind EventKind
}

// Diff is a shared handle to the latest diff snapshot.
type Diff struct {
	events *executor.Emitter[Event]

	mu   sync.RWMutex
	snap Snapshot
}

// New creates a diff whose base is the snapshot's own text, so it starts
// without hunks.
func New(ex *executor.Executor, snapshot buffer.Snapshot) *Diff {
	return &Diff{
		events: executor.NewEmitter[Event](ex),
		snap:   Snapshot{base: snapshot.Text()},
	}
}

func (d *Diff) Snapshot() Snapshot {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.snap
}

func (d *Diff) BaseText() text.Text {
	return d.Snapshot().BaseText()
}

func (d *Diff) HasHunks() bool {
	return len(d.Snapshot().hunks) > 0
}

// SetSnapshot publishes a computed snapshot and notifies subscribers.
func (d *Diff) SetSnapshot(s Snapshot) {
	d.mu.Lock()
	d.snap = s
	d.mu.Unlock()
	d.events.Emit(Event{Kind: DiffChanged})
}

func (d *Diff) Subscribe(fn func(Event)) func() {
	return d.events.Subscribe(fn)
}

// Update recomputes the diff against base and publishes it.
func (d *Diff) Update(ctx context.Context, snapshot buffer.Snapshot, base text.Text) (Snapshot, error) {
	s, err := Compute(ctx, snapshot, base)
	if err != nil {
		return Snapshot{}, err
	}
	d.SetSnapshot(s)
	return s, nil
}

// Compute diffs the buffer snapshot against base without publishing.
func Compute(ctx context.Context, snapshot buffer.Snapshot, base text.Text) (Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return Snapshot{}, err
	}
	current := snapshot.Text()
	var hunks []Hunk
	for _, e := range linediff.DiffLines(base.String(), current.String()) {
		hunks = append(hunks, Hunk{
			BaseStart: base.RowOffset(e.Old.Start),
			BaseEnd:   base.RowOffset(e.Old.End),
			Range: text.PointRange{
				Start: text.Min(text.Point{Row: e.New.Start}, current.MaxPoint()),
				End:   text.Min(text.Point{Row: e.New.End}, current.MaxPoint()),
			},
		})
	}
	if err := ctx.Err(); err != nil {
		return Snapshot{}, err
	}
	return Snapshot{base: base, hunks: hunks}, nil
}
