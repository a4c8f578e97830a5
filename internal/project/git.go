package project

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/kobzarvs/actionlog/internal/buffer"
	"github.com/kobzarvs/actionlog/internal/bufferdiff"
	"github.com/kobzarvs/actionlog/internal/gitinfo"
	"github.com/kobzarvs/actionlog/internal/logger"
	"github.com/kobzarvs/actionlog/internal/text"
)

// ErrNoRepository is returned by OpenUncommittedDiff outside git.
var ErrNoRepository = errors.New("project is not in a git repository")

// uncommitted keeps one buffer's diff against its HEAD content current.
type uncommitted struct {
	buffer      *buffer.Buffer
	diff        *bufferdiff.Diff
	unsubscribe func()

	// mu orders recomputations so an older result never overwrites a newer one.
	mu   sync.Mutex
	base text.Text
}

func (p *Project) openRepo() error {
	repo, err := gitinfo.Open(p.root)
	if err != nil {
		return err
	}
	head, err := repo.HeadCommit()
	if err != nil {
		return err
	}
	p.repo = repo
	p.head = head
	logger.Debug("git repository opened", "root", repo.Root(), "head", head)
	if !p.opts.Watch {
		return nil
	}

	gitDir, err := gitinfo.GitDir(p.root)
	if err != nil {
		return nil
	}
	w, err := gitinfo.NewHeadWatcher(gitDir, func() {
		if err := p.RefreshHead(p.ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Warn("refresh git head failed", "error", err)
		}
	})
	if err != nil {
		logger.Warn("git head watcher unavailable", "error", err)
		return nil
	}
	p.headWatcher = w
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		w.Run(p.ctx)
	}()
	return nil
}

// HeadCommit reports the HEAD last observed by the project. ok is false
// outside git.
func (p *Project) HeadCommit(*buffer.Buffer) (string, bool) {
	if p.repo == nil {
		return "", false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.head, true
}

// OpenUncommittedDiff returns the shared diff of b against its content in
// the HEAD commit, creating it on first use.
func (p *Project) OpenUncommittedDiff(ctx context.Context, b *buffer.Buffer) (*bufferdiff.Diff, error) {
	if p.repo == nil {
		return nil, ErrNoRepository
	}
	f, ok := b.File()
	if !ok {
		return nil, ErrNoFile
	}

	p.mu.Lock()
	existing, ok := p.diffs[b]
	p.mu.Unlock()
	if ok {
		return existing.diff, nil
	}

	base, err := p.headContent(f.FullPath)
	if err != nil {
		return nil, err
	}
	u := &uncommitted{buffer: b, diff: bufferdiff.New(p.exec, b.Snapshot())}
	if err := u.refresh(ctx, &base); err != nil {
		return nil, err
	}
	u.unsubscribe = b.Subscribe(func(ev buffer.Event) {
		if ev.Kind != buffer.Edited {
			return
		}
		if err := u.refresh(p.ctx, nil); err != nil && !errors.Is(err, context.Canceled) {
			logger.Warn("uncommitted diff update failed", "path", f.FullPath, "error", err)
		}
	})

	p.mu.Lock()
	defer p.mu.Unlock()
	if existing, ok := p.diffs[b]; ok {
		u.unsubscribe()
		return existing.diff, nil
	}
	p.diffs[b] = u
	return u.diff, nil
}

// RefreshHead rereads HEAD and, when it moved, rebases every open uncommitted
// diff on the new commit. The head is recorded before the diffs publish so
// their subscribers observe the new commit.
func (p *Project) RefreshHead(ctx context.Context) error {
	if p.repo == nil {
		return nil
	}
	head, err := p.repo.HeadCommit()
	if err != nil {
		return err
	}

	p.mu.Lock()
	if head == p.head {
		p.mu.Unlock()
		return nil
	}
	p.head = head
	diffs := make([]*uncommitted, 0, len(p.diffs))
	for _, u := range p.diffs {
		diffs = append(diffs, u)
	}
	p.mu.Unlock()
	logger.Info("git head moved", "head", head)

	var errs []error
	for _, u := range diffs {
		f, ok := u.buffer.File()
		if !ok {
			continue
		}
		base, err := p.headContent(f.FullPath)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		errs = append(errs, u.refresh(ctx, &base))
	}
	return errors.Join(errs...)
}

func (p *Project) headContent(rel string) (text.Text, error) {
	content, _, err := p.repo.FileAtHead(rel)
	if err != nil {
		return text.Text{}, fmt.Errorf("read %s at HEAD: %w", rel, err)
	}
	return text.New(content), nil
}

// refresh recomputes the diff from the buffer's current snapshot, switching
// to base first when it is non-nil.
func (u *uncommitted) refresh(ctx context.Context, base *text.Text) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if base != nil {
		u.base = *base
	}
	_, err := u.diff.Update(ctx, u.buffer.Snapshot(), u.base)
	return err
}
