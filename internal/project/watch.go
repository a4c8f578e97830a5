package project

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"slices"

	"github.com/fsnotify/fsnotify"

	"github.com/kobzarvs/actionlog/internal/buffer"
	"github.com/kobzarvs/actionlog/internal/logger"
)

// fileWatcher follows the worktree and feeds changes of open files back into
// their buffers.
type fileWatcher struct {
	p       *Project
	watcher *fsnotify.Watcher
}

func newFileWatcher(p *Project) (*fileWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	fw := &fileWatcher{p: p, watcher: w}
	if err := fw.addTree(p.root); err != nil {
		_ = w.Close()
		return nil, err
	}
	return fw, nil
}

// addTree watches dir and every directory below it that is not ignored.
func (fw *fileWatcher) addTree(dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == dir {
				return err
			}
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if path != dir && fw.ignored(path) {
			return filepath.SkipDir
		}
		if err := fw.watcher.Add(path); err != nil {
			logger.Debug("watch dir failed", "path", path, "error", err)
		}
		return nil
	})
}

func (fw *fileWatcher) ignored(path string) bool {
	return slices.Contains(fw.p.opts.Ignore, filepath.Base(path))
}

func (fw *fileWatcher) run(ctx context.Context) {
	for {
		select {
		case event, ok := <-fw.watcher.Events:
			if !ok {
				return
			}
			fw.handleEvent(event)
		case err, ok := <-fw.watcher.Errors:
			if !ok {
				return
			}
			logger.Warn("file watcher error", "error", err)
		case <-ctx.Done():
			return
		}
	}
}

func (fw *fileWatcher) handleEvent(event fsnotify.Event) {
	if fw.ignored(event.Name) {
		return
	}
	if event.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if err := fw.addTree(event.Name); err != nil {
				logger.Debug("watch new dir failed", "path", event.Name, "error", err)
			}
			return
		}
	}
	if event.Has(fsnotify.Chmod) && !event.Has(fsnotify.Write) {
		return
	}
	fw.p.fileChanged(event.Name)
}

func (fw *fileWatcher) close() error {
	return fw.watcher.Close()
}

// fileChanged brings the buffer open at abs, if any, in line with the disk.
// A clean buffer is reloaded; a dirty one only learns whether its file
// exists.
func (p *Project) fileChanged(abs string) {
	p.mu.Lock()
	b, ok := p.buffers[filepath.Clean(abs)]
	p.mu.Unlock()
	if !ok {
		return
	}

	data, err := os.ReadFile(abs)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		if f, ok := b.File(); ok && f.Disk == buffer.DiskExists {
			logger.Debug("file removed on disk", "path", f.FullPath)
			b.SetDiskState(buffer.DiskDeleted)
		}
		return
	case err != nil:
		logger.Warn("read changed file failed", "path", abs, "error", err)
		return
	}
	if !b.IsDirty() {
		b.Reload(string(data))
	}
	b.SetDiskState(buffer.DiskExists)
}
