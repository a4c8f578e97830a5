package gitinfo

import (
	"context"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/kobzarvs/actionlog/internal/logger"
)

// HeadWatcher calls onChange whenever HEAD or a branch ref is rewritten, which
// covers commits, checkouts and resets done outside the process.
type HeadWatcher struct {
	gitDir   string
	watcher  *fsnotify.Watcher
	onChange func()
}

func NewHeadWatcher(gitDir string, onChange func()) (*HeadWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &HeadWatcher{gitDir: gitDir, watcher: w, onChange: onChange}, nil
}

// Run watches until ctx is done or the watcher is closed.
func (w *HeadWatcher) Run(ctx context.Context) {
	// git replaces HEAD via rename, so watch the directory rather than the file.
	if err := w.watcher.Add(w.gitDir); err != nil {
		logger.Warn("watch git dir failed", "path", w.gitDir, "error", err)
	}
	refs := filepath.Join(w.gitDir, "refs", "heads")
	if _, err := os.Stat(refs); err == nil {
		if err := w.watcher.Add(refs); err != nil {
			logger.Debug("watch refs failed", "path", refs, "error", err)
		}
	}

	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			logger.Warn("git head watcher error", "error", err)
		case <-ctx.Done():
			return
		}
	}
}

func (w *HeadWatcher) handleEvent(event fsnotify.Event) {
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
		return
	}
	switch name := filepath.Base(event.Name); {
	case name == "HEAD", name == "packed-refs":
	case filepath.Dir(event.Name) == filepath.Join(w.gitDir, "refs", "heads"):
	default:
		return
	}
	logger.Debug("git head changed", "path", event.Name)
	if w.onChange != nil {
		w.onChange()
	}
}

// Close stops Run. Safe to call more than once.
func (w *HeadWatcher) Close() error {
	return w.watcher.Close()
}
