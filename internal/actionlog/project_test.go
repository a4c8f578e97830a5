package actionlog

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kobzarvs/actionlog/internal/buffer"
	"github.com/kobzarvs/actionlog/internal/bufferdiff"
	"github.com/kobzarvs/actionlog/internal/executor"
	"github.com/kobzarvs/actionlog/internal/patch"
	"github.com/kobzarvs/actionlog/internal/text"
)

// fakeProject records I/O instead of touching the disk and simulates a git
// repository whose HEAD moves on commit.
type fakeProject struct {
	ex *executor.Executor

	mu         sync.Mutex
	saved      map[*buffer.Buffer]int
	deleted    map[*buffer.Buffer]bool
	saveErr    error
	repo       bool
	head       string
	commits    int
	diffs      map[*buffer.Buffer]*bufferdiff.Diff
	registered int
}

func newFakeProject(ex *executor.Executor) *fakeProject {
	return &fakeProject{
		ex:      ex,
		saved:   make(map[*buffer.Buffer]int),
		deleted: make(map[*buffer.Buffer]bool),
		diffs:   make(map[*buffer.Buffer]*bufferdiff.Diff),
	}
}

func (p *fakeProject) SaveBuffer(ctx context.Context, b *buffer.Buffer) error {
	p.mu.Lock()
	err := p.saveErr
	if err == nil {
		p.saved[b]++
	}
	p.mu.Unlock()
	if err != nil {
		return err
	}
	b.DidSave()
	return nil
}

func (p *fakeProject) DeleteEntry(ctx context.Context, b *buffer.Buffer) error {
	p.mu.Lock()
	p.deleted[b] = true
	p.mu.Unlock()
	b.SetDiskState(buffer.DiskDeleted)
	return nil
}

func (p *fakeProject) OpenUncommittedDiff(ctx context.Context, b *buffer.Buffer) (*bufferdiff.Diff, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.repo {
		return nil, errors.New("no repository")
	}
	d := bufferdiff.New(p.ex, b.Snapshot())
	p.diffs[b] = d
	return d, nil
}

func (p *fakeProject) HeadCommit(b *buffer.Buffer) (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.head, p.repo
}

func (p *fakeProject) RegisterBuffer(b *buffer.Buffer) func() {
	p.mu.Lock()
	p.registered++
	p.mu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			p.mu.Lock()
			p.registered--
			p.mu.Unlock()
		})
	}
}

// commit moves HEAD and sets b's committed content.
func (p *fakeProject) commit(t *testing.T, b *buffer.Buffer, content string) {
	t.Helper()
	p.mu.Lock()
	p.commits++
	p.head = fmt.Sprintf("c%d", p.commits)
	d := p.diffs[b]
	p.mu.Unlock()
	require.NotNil(t, d, "no uncommitted diff opened for buffer")
	_, err := d.Update(context.Background(), b.Snapshot(), text.New(content))
	require.NoError(t, err)
}

func (p *fakeProject) savedCount(b *buffer.Buffer) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.saved[b]
}

func (p *fakeProject) wasDeleted(b *buffer.Buffer) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.deleted[b]
}

func (p *fakeProject) registrations() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.registered
}

func setup(t *testing.T) (*ActionLog, *fakeProject, *executor.Executor) {
	t.Helper()
	ex := executor.New()
	p := newFakeProject(ex)
	log := New(p, ex)
	t.Cleanup(func() {
		log.Close()
		ex.RunUntilParked()
	})
	return log, p, ex
}

func fileBuffer(ex *executor.Executor, path, content string, disk buffer.DiskState) *buffer.Buffer {
	return buffer.NewWithFile(ex, content, buffer.File{FullPath: path, AbsPath: "/work/" + path, Disk: disk})
}

// state returns the baseline and unreviewed edits of b.
func state(t *testing.T, log *ActionLog, b *buffer.Buffer) (string, []patch.Edit) {
	t.Helper()
	log.mu.Lock()
	defer log.mu.Unlock()
	tb, ok := log.tracked[b]
	require.True(t, ok, "buffer %d is not tracked", b.ID())
	return tb.diffBase.String(), tb.unreviewedEdits.Clone().Edits()
}

func isTracked(log *ActionLog, b *buffer.Buffer) bool {
	log.mu.Lock()
	defer log.mu.Unlock()
	_, ok := log.tracked[b]
	return ok
}

func replaceLine(t *testing.T, b *buffer.Buffer, row int, line string) {
	t.Helper()
	snap := b.Snapshot().Text()
	require.Less(t, row, snap.RowCount())
	start := snap.PointToOffset(text.Point{Row: row})
	end := start + snap.LineLen(row)
	b.Edit([]buffer.Replacement{{Start: start, End: end, Text: line}})
}

func edit(oldStart, oldEnd, newStart, newEnd int) patch.Edit {
	return patch.Edit{
		Old: patch.Range{Start: oldStart, End: oldEnd},
		New: patch.Range{Start: newStart, End: newEnd},
	}
}
