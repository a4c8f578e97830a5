// Package buffer implements the live, user-editable text buffer that the
// action log supervises. Every transaction bumps a monotonic version and is
// recorded so snapshots can report the edits made since an earlier snapshot.
package buffer

import (
	"sort"
	"sync"
	"sync/atomic"

	"github.com/kobzarvs/actionlog/internal/executor"
	"github.com/kobzarvs/actionlog/internal/linediff"
	"github.com/kobzarvs/actionlog/internal/text"
)

type Version uint64

type DiskState int

const (
	// DiskNew is a file that has never been written.
	DiskNew DiskState = iota
	DiskExists
	DiskDeleted
)

func (d DiskState) Exists() bool { return d == DiskExists }

func (d DiskState) String() string {
	switch d {
	case DiskExists:
		return "exists"
	case DiskDeleted:
		return "deleted"
	default:
		return "new"
	}
}

// File is the on-disk identity of a buffer.
type File struct {
	// FullPath is the worktree-qualified path with forward slashes.
	FullPath string
	AbsPath  string
	Disk     DiskState
}

type EventKind int

const (
	Edited EventKind = iota
	FileHandleChanged
	Saved
)

type Event struct {
	Kind EventKind
}

// Replacement replaces the bytes [Start, End) of the current text.
type Replacement struct {
	Start int
	End   int
	Text  string
}

var nextID atomic.Uint64

type Buffer struct {
	id     uint64
	events *executor.Emitter[Event]

	mu           sync.RWMutex
	text         text.Text
	version      Version
	savedVersion Version
	history      []splice
	file         *File
}

func New(ex *executor.Executor, content string) *Buffer {
	return &Buffer{
		id:     nextID.Add(1),
		events: executor.NewEmitter[Event](ex),
		text:   text.New(content),
	}
}

// NewWithFile creates a buffer backed by f whose contents match the disk.
func NewWithFile(ex *executor.Executor, content string, f File) *Buffer {
	b := New(ex, content)
	b.file = &f
	return b
}

func (b *Buffer) ID() uint64 { return b.id }

func (b *Buffer) Version() Version {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.version
}

func (b *Buffer) Text() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.text.String()
}

func (b *Buffer) Snapshot() Snapshot {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return Snapshot{id: b.id, text: b.text, version: b.version, history: b.history}
}

func (b *Buffer) File() (File, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.file == nil {
		return File{}, false
	}
	return *b.file, true
}

func (b *Buffer) SetFile(f File) {
	b.mu.Lock()
	b.file = &f
	b.mu.Unlock()
	b.events.Emit(Event{Kind: FileHandleChanged})
}

// SetDiskState records an external change of the backing file.
func (b *Buffer) SetDiskState(state DiskState) {
	b.mu.Lock()
	if b.file == nil || b.file.Disk == state {
		b.mu.Unlock()
		return
	}
	b.file.Disk = state
	b.mu.Unlock()
	b.events.Emit(Event{Kind: FileHandleChanged})
}

func (b *Buffer) IsDirty() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.version != b.savedVersion
}

// DidSave marks the current version as persisted.
func (b *Buffer) DidSave() {
	b.mu.Lock()
	b.savedVersion = b.version
	changed := false
	if b.file != nil && b.file.Disk != DiskExists {
		b.file.Disk = DiskExists
		changed = true
	}
	b.mu.Unlock()
	b.events.Emit(Event{Kind: Saved})
	if changed {
		b.events.Emit(Event{Kind: FileHandleChanged})
	}
}

func (b *Buffer) Subscribe(fn func(Event)) func() {
	return b.events.Subscribe(fn)
}

// Edit applies non-overlapping replacements, all expressed against the
// current text, as a single transaction.
func (b *Buffer) Edit(edits []Replacement) {
	b.mu.Lock()
	if !b.applyLocked(edits) {
		b.mu.Unlock()
		return
	}
	b.mu.Unlock()
	b.events.Emit(Event{Kind: Edited})
}

func (b *Buffer) applyLocked(edits []Replacement) bool {
	sorted := make([]Replacement, 0, len(edits))
	for _, e := range edits {
		if e.Start > e.End {
			e.Start, e.End = e.End, e.Start
		}
		if e.Start == e.End && e.Text == "" {
			continue
		}
		sorted = append(sorted, e)
	}
	if len(sorted) == 0 {
		return false
	}
	// Apply back to front so earlier offsets stay valid.
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Start > sorted[j].Start })
	version := b.version + 1
	for _, e := range sorted {
		start := clamp(e.Start, 0, b.text.Len())
		end := clamp(e.End, start, b.text.Len())
		b.text = b.text.Replace(start, end, e.Text)
		b.history = append(b.history, splice{
			version: version,
			start:   start,
			oldEnd:  end,
			newEnd:  start + len(e.Text),
		})
	}
	b.version = version
	return true
}

func (b *Buffer) SetText(s string) {
	b.mu.RLock()
	n := b.text.Len()
	b.mu.RUnlock()
	b.Edit([]Replacement{{Start: 0, End: n, Text: s}})
}

func (b *Buffer) Append(s string) {
	b.mu.RLock()
	n := b.text.Len()
	b.mu.RUnlock()
	b.Edit([]Replacement{{Start: n, End: n, Text: s}})
}

func (b *Buffer) Insert(p text.Point, s string) {
	b.mu.RLock()
	offset := b.text.PointToOffset(p)
	b.mu.RUnlock()
	b.Edit([]Replacement{{Start: offset, End: offset, Text: s}})
}

// Reload replaces the contents with content read from disk using minimal
// row edits, then marks the buffer clean.
func (b *Buffer) Reload(content string) {
	b.mu.Lock()
	old := b.text
	next := text.New(content)
	var edits []Replacement
	for _, hunk := range linediff.DiffLines(old.String(), content) {
		edits = append(edits, Replacement{
			Start: old.RowOffset(hunk.Old.Start),
			End:   old.RowOffset(hunk.Old.End),
			Text:  next.SliceRows(hunk.New.Start, hunk.New.End),
		})
	}
	changed := b.applyLocked(edits)
	b.savedVersion = b.version
	b.mu.Unlock()
	if changed {
		b.events.Emit(Event{Kind: Edited})
	}
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
