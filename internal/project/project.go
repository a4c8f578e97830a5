// Package project is the workspace the action log runs against: it opens
// buffers from a directory, persists and deletes them, keeps uncommitted git
// diffs current and reloads buffers when their files change on disk.
package project

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/kobzarvs/actionlog/internal/buffer"
	"github.com/kobzarvs/actionlog/internal/config"
	"github.com/kobzarvs/actionlog/internal/executor"
	"github.com/kobzarvs/actionlog/internal/gitinfo"
	"github.com/kobzarvs/actionlog/internal/logger"
	"github.com/kobzarvs/actionlog/internal/lsp"
)

// ErrNoFile is returned when saving or deleting a buffer with no backing file.
var ErrNoFile = errors.New("buffer has no file")

type Project struct {
	root string
	opts config.ProjectOptions
	exec *executor.Executor
	lsp  *lsp.Manager

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// repo is nil outside a git repository or when git support is off.
	repo        *gitinfo.Repo
	headWatcher *gitinfo.HeadWatcher
	files       *fileWatcher

	mu      sync.Mutex
	head    string
	buffers map[string]*buffer.Buffer
	diffs   map[*buffer.Buffer]*uncommitted
}

// Open creates a project rooted at root. ls may be nil.
func Open(root string, opts config.ProjectOptions, ex *executor.Executor, ls *lsp.Manager) (*Project, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", abs)
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &Project{
		root:    abs,
		opts:    opts,
		exec:    ex,
		lsp:     ls,
		ctx:     ctx,
		cancel:  cancel,
		buffers: make(map[string]*buffer.Buffer),
		diffs:   make(map[*buffer.Buffer]*uncommitted),
	}

	if opts.Git {
		if err := p.openRepo(); err != nil {
			logger.Info("git support disabled", "root", abs, "error", err)
		}
	}
	if opts.Watch {
		fw, err := newFileWatcher(p)
		if err != nil {
			_ = p.Close()
			return nil, err
		}
		p.files = fw
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			fw.run(ctx)
		}()
	}
	logger.Info("project opened", "root", abs, "git", p.repo != nil, "watch", opts.Watch)
	return p, nil
}

func (p *Project) Root() string { return p.root }

// Branch is the checked out branch, or "" outside git.
func (p *Project) Branch() string {
	if p.repo == nil {
		return ""
	}
	return gitinfo.Branch(p.root)
}

// OpenBuffer returns the buffer for path, reading it from disk the first
// time. A missing file yields an empty buffer that has not been written yet.
func (p *Project) OpenBuffer(path string) (*buffer.Buffer, error) {
	abs, rel, err := p.resolve(path)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if b, ok := p.buffers[abs]; ok {
		return b, nil
	}

	disk := buffer.DiskExists
	data, err := os.ReadFile(abs)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		disk = buffer.DiskNew
	case err != nil:
		return nil, fmt.Errorf("read %s: %w", rel, err)
	}
	b := buffer.NewWithFile(p.exec, string(data), buffer.File{FullPath: rel, AbsPath: abs, Disk: disk})
	p.buffers[abs] = b
	logger.Debug("buffer opened", "path", rel, "disk", disk.String())
	return b, nil
}


// resolve maps path, absolute or relative to the root, to its absolute path
// and its slash-separated path relative to the root.
func (p *Project) resolve(path string) (string, string, error) {
	abs := path
	if !filepath.IsAbs(abs) {
		abs = filepath.Join(p.root, path)
	}
	abs = filepath.Clean(abs)
	rel, err := filepath.Rel(p.root, abs)
	if err != nil {
		return "", "", err
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", "", fmt.Errorf("%s is outside %s", path, p.root)
	}
	return abs, filepath.ToSlash(rel), nil
}

func (p *Project) SaveBuffer(ctx context.Context, b *buffer.Buffer) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f, ok := b.File()
	if !ok {
		return ErrNoFile
	}
	if err := os.MkdirAll(filepath.Dir(f.AbsPath), 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(f.AbsPath, []byte(b.Text()), 0o644); err != nil {
		return fmt.Errorf("save %s: %w", f.FullPath, err)
	}
	b.DidSave()
	logger.Debug("buffer saved", "path", f.FullPath)
	return nil
}

// DeleteEntry removes the buffer's file. A file that is already gone is not
// an error.
func (p *Project) DeleteEntry(ctx context.Context, b *buffer.Buffer) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f, ok := b.File()
	if !ok {
		return ErrNoFile
	}
	if err := os.Remove(f.AbsPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("delete %s: %w", f.FullPath, err)
	}
	b.SetDiskState(buffer.DiskDeleted)
	logger.Debug("file deleted", "path", f.FullPath)
	return nil
}

// RegisterBuffer opens b with the language server for its file type.
func (p *Project) RegisterBuffer(b *buffer.Buffer) func() {
	f, ok := b.File()
	if p.lsp == nil || !p.opts.LSP || !ok {
		return func() {}
	}
	return p.lsp.Register(f.AbsPath, b.Text()).Release
}

// Close stops the watchers and releases the open diffs. Buffers stay usable.
func (p *Project) Close() error {
	p.cancel()
	var errs []error
	if p.headWatcher != nil {
		errs = append(errs, p.headWatcher.Close())
	}
	if p.files != nil {
		errs = append(errs, p.files.close())
	}
	p.wg.Wait()

	p.mu.Lock()
	for b, u := range p.diffs {
		u.unsubscribe()
		delete(p.diffs, b)
	}
	p.mu.Unlock()
	return errors.Join(errs...)
}
