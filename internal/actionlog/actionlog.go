// Package actionlog tracks the edits an agent makes to buffers and
// reconciles them with concurrent user edits and git commits, so that the
// agent's changes can be reviewed hunk by hunk and kept or rejected.
package actionlog

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"

	"github.com/kobzarvs/actionlog/internal/buffer"
	"github.com/kobzarvs/actionlog/internal/bufferdiff"
	"github.com/kobzarvs/actionlog/internal/executor"
	"github.com/kobzarvs/actionlog/internal/linediff"
	"github.com/kobzarvs/actionlog/internal/logger"
	"github.com/kobzarvs/actionlog/internal/patch"
	"github.com/kobzarvs/actionlog/internal/text"
)

// ErrNotTracked is returned by reconciliation steps for a buffer that was
// untracked while they ran.
var ErrNotTracked = errors.New("buffer not tracked")

// AllRows covers every row of any buffer.
var AllRows = text.PointRange{End: text.Point{Row: math.MaxInt32}}

const defaultDiffContext = 3

// Project is what the action log needs from the workspace that owns the
// buffers.
type Project interface {
	SaveBuffer(ctx context.Context, b *buffer.Buffer) error
	DeleteEntry(ctx context.Context, b *buffer.Buffer) error
	// OpenUncommittedDiff returns the diff of b against its content at the
	// git HEAD, kept current as the buffer and the repository change.
	OpenUncommittedDiff(ctx context.Context, b *buffer.Buffer) (*bufferdiff.Diff, error)
	// HeadCommit returns the HEAD of the repository containing b.
	HeadCommit(b *buffer.Buffer) (string, bool)
	// RegisterBuffer announces b to language servers. The returned func
	// releases the registration.
	RegisterBuffer(b *buffer.Buffer) func()
}

// ChangedBuffer is the read model handed to review UIs.
type ChangedBuffer struct {
	Diff *bufferdiff.Diff
}

type ActionLog struct {
	project     Project
	exec        *executor.Executor
	diffContext int

	mu      sync.Mutex
	tracked map[*buffer.Buffer]*trackedBuffer
}

func New(project Project, ex *executor.Executor) *ActionLog {
	return &ActionLog{
		project:     project,
		exec:        ex,
		diffContext: defaultDiffContext,
		tracked:     make(map[*buffer.Buffer]*trackedBuffer),
	}
}

func (a *ActionLog) Project() Project { return a.project }

// SetDiffContext sets the number of context lines in unified diffs.
func (a *ActionLog) SetDiffContext(n int) {
	if n < 0 {
		n = 0
	}
	a.mu.Lock()
	a.diffContext = n
	a.mu.Unlock()
}

// LatestSnapshot returns the snapshot the log last reconciled for b.
func (a *ActionLog) LatestSnapshot(b *buffer.Buffer) (buffer.Snapshot, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	tb, ok := a.tracked[b]
	if !ok {
		return buffer.Snapshot{}, false
	}
	return tb.snapshot, true
}

// Status returns the tracking status of b.
func (a *ActionLog) Status(b *buffer.Buffer) (Status, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	tb, ok := a.tracked[b]
	if !ok {
		return Status{}, false
	}
	return tb.status, true
}

// BufferRead records that the agent has seen the current contents of b.
func (a *ActionLog) BufferRead(b *buffer.Buffer) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.trackBufferLocked(b, false)
}

// BufferCreated records that the agent created b. Content already on disk
// is remembered so that rejecting the creation can restore it.
func (a *ActionLog) BufferCreated(b *buffer.Buffer) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.trackBufferLocked(b, true)
}

// BufferEdited records an agent edit to b. The edit must already have been
// applied. Every change since the agent last read or edited b is attributed
// to the agent.
func (a *ActionLog) BufferEdited(b *buffer.Buffer) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.bufferEditedLocked(b)
}

// EditBuffer reads b, applies edit and records it as an agent edit. User
// edits made while edit runs are attributed to the agent.
func (a *ActionLog) EditBuffer(b *buffer.Buffer, edit func(*buffer.Buffer)) {
	a.BufferRead(b)
	edit(b)
	a.BufferEdited(b)
}

func (a *ActionLog) bufferEditedLocked(b *buffer.Buffer) {
	observed := b.Version()
	if tb, ok := a.tracked[b]; ok {
		observed = tb.version
	}
	tb := a.trackBufferLocked(b, false)
	if tb.status.Kind == StatusDeleted {
		tb.status = Status{Kind: StatusModified}
	}
	tb.claimLocked(observed)
	tb.scheduleDiffUpdate(Agent)
}

// WillDeleteBuffer records that the agent is about to delete b's file.
func (a *ActionLog) WillDeleteBuffer(b *buffer.Buffer) {
	a.mu.Lock()
	defer a.mu.Unlock()
	tb := a.trackBufferLocked(b, false)
	switch tb.status.Kind {
	case StatusCreated:
		a.untrackLocked(b)
	case StatusModified:
		b.SetText("")
		tb.status = Status{Kind: StatusDeleted}
		tb.scheduleDiffUpdate(Agent)
	case StatusDeleted:
	}
}

// trackBufferLocked makes sure b is tracked and records the version the
// agent has now seen. Callers hold a.mu.
func (a *ActionLog) trackBufferLocked(b *buffer.Buffer, created bool) *trackedBuffer {
	status := Status{Kind: StatusModified}
	if created {
		if prev, ok := a.tracked[b]; ok {
			a.untrackLocked(b)
			if prev.status.Kind == StatusCreated {
				status = prev.status
			} else {
				base := prev.diffBase
				status = Status{Kind: StatusCreated, ExistingFileContent: &base}
			}
		} else if f, ok := b.File(); ok && f.Disk.Exists() {
			existing := text.New(b.Text())
			status = Status{Kind: StatusCreated, ExistingFileContent: &existing}
		} else {
			status = Status{Kind: StatusCreated}
		}
	}

	tb, ok := a.tracked[b]
	if !ok {
		tb = a.startTracking(b, status)
	}
	tb.version = b.Version()
	return tb
}

func (a *ActionLog) startTracking(b *buffer.Buffer, status Status) *trackedBuffer {
	snap := b.Snapshot()
	tb := &trackedBuffer{
		buffer:   b,
		diff:     bufferdiff.New(a.exec, snap),
		status:   status,
		version:  snap.Version(),
		snapshot: snap,
		updates:  executor.NewQueue[update](a.exec),
	}
	if status.Kind == StatusCreated {
		tb.unreviewedEdits = patch.New([]patch.Edit{{
			Old: patch.Range{Start: 0, End: 1},
			New: patch.Range{Start: 0, End: snap.MaxPoint().Row + 1},
		}})
	} else {
		tb.diffBase = snap.Text()
	}
	tb.lastSeenBase = tb.diffBase

	ctx, cancel := context.WithCancel(context.Background())
	tb.cancel = cancel
	tb.unsubscribe = b.Subscribe(func(ev buffer.Event) { a.handleBufferEvent(b, ev) })
	tb.release = a.project.RegisterBuffer(b)
	a.tracked[b] = tb

	started := a.exec.Begin()
	go a.maintainDiff(ctx, tb, started)
	return tb
}

// untrackLocked stops tracking b. Callers hold a.mu.
func (a *ActionLog) untrackLocked(b *buffer.Buffer) {
	tb, ok := a.tracked[b]
	if !ok {
		return
	}
	delete(a.tracked, b)
	tb.stop()
}

func (a *ActionLog) handleBufferEvent(b *buffer.Buffer, ev buffer.Event) {
	switch ev.Kind {
	case buffer.Edited:
		a.mu.Lock()
		if tb, ok := a.tracked[b]; ok {
			tb.scheduleDiffUpdate(User)
		}
		a.mu.Unlock()
	case buffer.FileHandleChanged:
		a.handleFileChanged(b)
	}
}

func (a *ActionLog) handleFileChanged(b *buffer.Buffer) {
	a.mu.Lock()
	defer a.mu.Unlock()
	tb, ok := a.tracked[b]
	if !ok {
		return
	}
	f, hasFile := b.File()
	switch tb.status.Kind {
	case StatusCreated, StatusModified:
		if hasFile && f.Disk == buffer.DiskDeleted {
			logger.Debug("tracked file deleted externally", "path", f.FullPath)
			a.untrackLocked(b)
		}
	case StatusDeleted:
		if hasFile && f.Disk != buffer.DiskDeleted {
			logger.Debug("deleted file restored externally", "path", f.FullPath)
			a.untrackLocked(b)
			a.trackBufferLocked(b, false)
		}
	}
}

// ChangedBuffers returns the buffers that still have unreviewed hunks.
func (a *ActionLog) ChangedBuffers() map[*buffer.Buffer]ChangedBuffer {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make(map[*buffer.Buffer]ChangedBuffer)
	for b, tb := range a.tracked {
		if tb.hasEdits() {
			out[b] = ChangedBuffer{Diff: tb.diff}
		}
	}
	return out
}

// StaleBuffers returns the buffers that changed since the agent last saw
// them and whose files still exist, ordered by buffer id.
func (a *ActionLog) StaleBuffers() []*buffer.Buffer {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []*buffer.Buffer
	for b, tb := range a.tracked {
		if tb.version == b.Version() {
			continue
		}
		if f, ok := b.File(); !ok || f.Disk == buffer.DiskDeleted {
			continue
		}
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// UnnotifiedUserEdits renders the user edits the agent has not been told
// about as unified diffs, one per buffer.
func (a *ActionLog) UnnotifiedUserEdits() (string, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.unnotifiedLocked()
}

// FlushUnnotifiedUserEdits is UnnotifiedUserEdits, after which the edits
// count as notified.
func (a *ActionLog) FlushUnnotifiedUserEdits() (string, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	out, ok := a.unnotifiedLocked()
	for _, tb := range a.tracked {
		tb.mayHaveUnnotifiedUserEdits = false
		tb.lastSeenBase = tb.diffBase
		tb.userSteps = nil
	}
	return out, ok
}

func (a *ActionLog) unnotifiedLocked() (string, bool) {
	var diffs []string
	for _, tb := range a.sortedLocked() {
		if !tb.mayHaveUnnotifiedUserEdits || tb.lastSeenBase.Equal(tb.diffBase) {
			continue
		}
		path := bufferPath(tb.buffer)
		diff, err := linediff.UnifiedDiff(tb.lastSeenBase.String(), tb.diffBase.String(), "a/"+path, "b/"+path, a.diffContext)
		if err != nil {
			logger.Warn("failed to render user edits", "path", path, "error", err)
			continue
		}
		if diff != "" {
			diffs = append(diffs, diff)
		}
	}
	if len(diffs) == 0 {
		return "", false
	}
	return strings.Join(diffs, "\n\n"), true
}

func (a *ActionLog) sortedLocked() []*trackedBuffer {
	out := make([]*trackedBuffer, 0, len(a.tracked))
	for _, tb := range a.tracked {
		out = append(out, tb)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].buffer.ID() < out[j].buffer.ID() })
	return out
}

func bufferPath(b *buffer.Buffer) string {
	if f, ok := b.File(); ok && f.FullPath != "" {
		return f.FullPath
	}
	return fmt.Sprintf("buffer_%d", b.ID())
}

// Close stops every reconciliation loop.
func (a *ActionLog) Close() {
	a.mu.Lock()
	defer a.mu.Unlock()
	for b := range a.tracked {
		a.untrackLocked(b)
	}
}
