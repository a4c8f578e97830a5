package actionlog

import (
	"context"
	"errors"

	"github.com/kobzarvs/actionlog/internal/buffer"
	"github.com/kobzarvs/actionlog/internal/bufferdiff"
	"github.com/kobzarvs/actionlog/internal/executor"
	"github.com/kobzarvs/actionlog/internal/logger"
	"github.com/kobzarvs/actionlog/internal/patch"
	"github.com/kobzarvs/actionlog/internal/text"
)

// ChangeAuthor attributes a buffer change to the agent or to the user.
type ChangeAuthor int

const (
	User ChangeAuthor = iota
	Agent
)

func (a ChangeAuthor) String() string {
	if a == Agent {
		return "agent"
	}
	return "user"
}

type StatusKind int

const (
	StatusCreated StatusKind = iota
	StatusModified
	StatusDeleted
)

func (k StatusKind) String() string {
	switch k {
	case StatusCreated:
		return "created"
	case StatusDeleted:
		return "deleted"
	default:
		return "modified"
	}
}

// Status is the lifecycle state of a tracked buffer. ExistingFileContent is
// only meaningful for StatusCreated and holds what the file contained before
// the agent overwrote it; nil means the file did not exist.
type Status struct {
	Kind                StatusKind
	ExistingFileContent *text.Text
}

type update struct {
	author   ChangeAuthor
	snapshot buffer.Snapshot
}

// claim is a span of buffer versions the agent attributed to itself with
// BufferEdited: every change after from up to and including to.
type claim struct {
	from, to buffer.Version
}

// userStep is the state a committed user rebase replaced, kept so that a
// later claim can undo it.
type userStep struct {
	to         buffer.Version
	snapshot   buffer.Snapshot
	base       text.Text
	unreviewed patch.Patch
	unnotified bool
}

// trackedBuffer is the review state of one buffer. All fields except buffer,
// diff and updates are guarded by ActionLog.mu.
type trackedBuffer struct {
	buffer *buffer.Buffer
	diff   *bufferdiff.Diff

	// diffBase is the text the user has accepted so far.
	diffBase text.Text
	// lastSeenBase is diffBase as of the last flush of user edits.
	lastSeenBase text.Text
	// unreviewedEdits maps diffBase rows to rows of snapshot.
	unreviewedEdits patch.Patch
	status          Status
	// version is the buffer version the agent last observed.
	version  buffer.Version
	snapshot buffer.Snapshot

	mayHaveUnnotifiedUserEdits bool
	// epoch is bumped whenever diffBase is rewritten outside the
	// reconciliation loop, so a step computed from an older base is stale.
	epoch uint64

	// claims not yet covered by snapshot, and claimSeq counting them all.
	claims   []claim
	claimSeq uint64
	// userSteps are the user rebases committed since the base was last
	// rewritten, flushed or merged with git.
	userSteps []userStep

	updates     *executor.Queue[update]
	cancel      context.CancelFunc
	unsubscribe func()
	release     func()
}

func (t *trackedBuffer) scheduleDiffUpdate(author ChangeAuthor) {
	t.updates.Push(update{author: author, snapshot: t.buffer.Snapshot()})
}

// rewroteBase invalidates every step computed from the previous diffBase.
func (t *trackedBuffer) rewroteBase() {
	t.epoch++
	t.userSteps = nil
}

// claimLocked attributes the changes after observed, up to the current
// version, to the agent. User rebases that already folded some of them into
// diffBase are undone. Callers hold ActionLog.mu.
func (t *trackedBuffer) claimLocked(observed buffer.Version) {
	c := claim{from: observed, to: t.buffer.Version()}
	if c.to <= c.from {
		return
	}
	t.claims = append(t.claims, c)
	t.claimSeq++
	for _, s := range t.userSteps {
		if s.to <= observed {
			continue
		}
		t.snapshot = s.snapshot
		t.diffBase = s.base
		t.unreviewedEdits = s.unreviewed
		t.mayHaveUnnotifiedUserEdits = s.unnotified
		t.epoch++
		break
	}
	t.userSteps = nil
}

// claimedBetween reports whether any change after from up to to was claimed
// by the agent.
func (t *trackedBuffer) claimedBetween(from, to buffer.Version) bool {
	for _, c := range t.claims {
		if from < c.to && to > c.from {
			return true
		}
	}
	return false
}

func (t *trackedBuffer) hasEdits() bool {
	return t.diff.HasHunks()
}

func (t *trackedBuffer) stop() {
	t.cancel()
	t.updates.Close()
	t.unsubscribe()
	if t.release != nil {
		t.release()
	}
}

// maintainDiff reconciles one tracked buffer until it is untracked. Buffer
// updates are always drained before git commit pulses are looked at.
func (a *ActionLog) maintainDiff(ctx context.Context, tb *trackedBuffer, started func()) {
	commits := executor.NewLatest[struct{}](a.exec)
	defer commits.Close()

	gitDiff, err := a.project.OpenUncommittedDiff(ctx, tb.buffer)
	if err != nil {
		logger.Debug("no uncommitted diff for buffer", "buffer", tb.buffer.ID(), "error", err)
		gitDiff = nil
	}
	if gitDiff != nil {
		if head, ok := a.project.HeadCommit(tb.buffer); ok {
			unsubscribe := gitDiff.Subscribe(func(ev bufferdiff.Event) {
				if ev.Kind != bufferdiff.DiffChanged {
					return
				}
				next, _ := a.project.HeadCommit(tb.buffer)
				if next != head {
					head = next
					commits.Push(struct{}{})
				}
			})
			defer unsubscribe()
		}
	}
	started()

	for {
		if u, done, ok := tb.updates.TryPop(); ok {
			err := a.trackEdits(ctx, tb, u.author, u.snapshot)
			done()
			if a.loopShouldStop(ctx, tb, err) {
				return
			}
			continue
		}
		if _, done, ok := commits.TryPop(); ok {
			err := a.keepCommittedEdits(ctx, tb, gitDiff)
			done()
			if a.loopShouldStop(ctx, tb, err) {
				return
			}
			continue
		}
		select {
		case <-ctx.Done():
			return
		case <-tb.updates.Ready():
		case <-commits.Ready():
		}
	}
}

func (a *ActionLog) loopShouldStop(ctx context.Context, tb *trackedBuffer, err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrNotTracked) || ctx.Err() != nil {
		return true
	}
	logger.Warn("failed to reconcile buffer", "buffer", tb.buffer.ID(), "error", err)
	return false
}

// current reports whether tb is still the live entry for its buffer.
// Callers hold a.mu.
func (a *ActionLog) current(tb *trackedBuffer) bool {
	return a.tracked[tb.buffer] == tb
}

// errStale reports a step computed from a diffBase that has since been
// rewritten or, for a user rebase, raced with a claim. Such steps are
// recomputed.
var errStale = errors.New("stale reconciliation")

// step is one reconciliation computed outside the lock.
type step struct {
	previous buffer.Snapshot
	snapshot buffer.Snapshot
	base     text.Text
	epoch    uint64
	claimSeq uint64
	// userChanges is set when a user rebase changed base.
	userChanges bool
	// merged is set for merges of committed edits.
	merged bool
}

// trackEdits reconciles the buffer up to snap. User changes are rebased into
// diffBase unless the agent has claimed any of them.
func (a *ActionLog) trackEdits(ctx context.Context, tb *trackedBuffer, author ChangeAuthor, snap buffer.Snapshot) error {
	for {
		a.mu.Lock()
		if !a.current(tb) {
			a.mu.Unlock()
			return ErrNotTracked
		}
		s := step{
			snapshot: snap,
			base:     tb.diffBase,
			epoch:    tb.epoch,
			previous: tb.snapshot,
			claimSeq: tb.claimSeq,
		}
		rebase := author == User && !tb.claimedBetween(s.previous.Version(), snap.Version())
		unreviewed := tb.unreviewedEdits.Clone()
		a.mu.Unlock()

		if rebase {
			edits := diffSnapshots(s.previous, snap)
			s.base, s.userChanges = applyNonConflictingEdits(unreviewed, edits, s.base, snap.Text())
		}

		if err := a.updateDiff(ctx, tb, s); !errors.Is(err, errStale) {
			return err
		}
	}
}

func (a *ActionLog) keepCommittedEdits(ctx context.Context, tb *trackedBuffer, gitDiff *bufferdiff.Diff) error {
	for {
		a.mu.Lock()
		if !a.current(tb) {
			a.mu.Unlock()
			return ErrNotTracked
		}
		s := step{
			snapshot: tb.snapshot,
			base:     tb.diffBase,
			epoch:    tb.epoch,
			merged:   true,
		}
		unreviewed := tb.unreviewedEdits.Clone()
		a.mu.Unlock()

		s.base = mergeCommittedEdits(unreviewed, s.base, gitDiff.BaseText(), s.snapshot.Text())
		if err := a.updateDiff(ctx, tb, s); !errors.Is(err, errStale) {
			return err
		}
	}
}

// updateDiff recomputes the diff of the step's snapshot against its base and
// re-derives the unreviewed edits from the hunks. A failed diff leaves no
// unreviewed edits. It returns errStale without committing when the base was
// rewritten since the step began, or when a user rebase raced with a claim.
func (a *ActionLog) updateDiff(ctx context.Context, tb *trackedBuffer, s step) error {
	var unreviewed patch.Patch
	diffSnap, err := bufferdiff.Compute(ctx, s.snapshot, s.base)
	if err != nil {
		if ctx.Err() != nil {
			return err
		}
		logger.Warn("failed to diff buffer", "buffer", tb.buffer.ID(), "error", err)
	} else {
		current := s.snapshot.Text()
		for _, h := range diffSnap.HunksIntersectingRows(0, current.MaxPoint().Row) {
			old := text.PointRange{Start: s.base.OffsetToPoint(h.BaseStart), End: s.base.OffsetToPoint(h.BaseEnd)}
			unreviewed.Push(pointToRowEdit(old, h.Range, s.base, current))
		}
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.current(tb) {
		return ErrNotTracked
	}
	if tb.epoch != s.epoch || (s.userChanges && tb.claimSeq != s.claimSeq) {
		return errStale
	}
	if s.userChanges {
		tb.userSteps = append(tb.userSteps, userStep{
			to:         s.snapshot.Version(),
			snapshot:   s.previous,
			base:       tb.diffBase,
			unreviewed: tb.unreviewedEdits,
			unnotified: tb.mayHaveUnnotifiedUserEdits,
		})
		tb.mayHaveUnnotifiedUserEdits = true
	}
	if s.merged {
		tb.userSteps = nil
	}
	if err == nil {
		tb.diff.SetSnapshot(diffSnap)
	}
	tb.diffBase = s.base
	tb.snapshot = s.snapshot
	tb.unreviewedEdits = unreviewed
	claims := tb.claims[:0]
	for _, c := range tb.claims {
		if c.to > s.snapshot.Version() {
			claims = append(claims, c)
		}
	}
	tb.claims = claims
	return nil
}
