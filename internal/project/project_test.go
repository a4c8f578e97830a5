package project

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kobzarvs/actionlog/internal/actionlog"
	"github.com/kobzarvs/actionlog/internal/buffer"
	"github.com/kobzarvs/actionlog/internal/config"
	"github.com/kobzarvs/actionlog/internal/executor"
	"github.com/kobzarvs/actionlog/internal/text"
)

func openProject(t *testing.T, root string, git bool) (*Project, *executor.Executor) {
	t.Helper()
	ex := executor.New()
	opts := config.Default().Project
	opts.Watch = false
	opts.Git = git
	p, err := Open(root, opts, ex, nil)
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, p.Close())
		ex.RunUntilParked()
	})
	return p, ex
}

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	path := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func readFile(t *testing.T, root, rel string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(rel)))
	require.NoError(t, err)
	return string(data)
}

func initRepo(t *testing.T) string {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not available")
	}
	dir := t.TempDir()
	git(t, dir, "init")
	git(t, dir, "config", "user.email", "test@example.com")
	git(t, dir, "config", "user.name", "Test")
	git(t, dir, "config", "commit.gpgsign", "false")
	return dir
}

func git(t *testing.T, dir string, args ...string) {
	t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	require.NoError(t, err, "git %s\n%s", strings.Join(args, " "), out)
}

func commit(t *testing.T, dir, rel, content string) {
	t.Helper()
	writeFile(t, dir, rel, content)
	git(t, dir, "add", rel)
	git(t, dir, "commit", "-m", "update "+rel)
}

func TestOpenBuffer(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "src/a.txt", "one\ntwo\n")
	p, _ := openProject(t, root, false)

	b, err := p.OpenBuffer("src/a.txt")
	require.NoError(t, err)
	require.Equal(t, "one\ntwo\n", b.Text())
	f, ok := b.File()
	require.True(t, ok)
	require.Equal(t, "src/a.txt", f.FullPath)
	require.Equal(t, filepath.Join(p.Root(), "src", "a.txt"), f.AbsPath)
	require.Equal(t, buffer.DiskExists, f.Disk)

	again, err := p.OpenBuffer(filepath.Join(p.Root(), "src", "a.txt"))
	require.NoError(t, err)
	require.Same(t, b, again)

	missing, err := p.OpenBuffer("new.txt")
	require.NoError(t, err)
	require.Equal(t, "", missing.Text())
	f, _ = missing.File()
	require.Equal(t, buffer.DiskNew, f.Disk)

	require.NotSame(t, b, missing)

	_, err = p.OpenBuffer("../outside.txt")
	require.Error(t, err)
}

func TestSaveAndDelete(t *testing.T) {
	root := t.TempDir()
	p, _ := openProject(t, root, false)
	ctx := context.Background()

	b, err := p.OpenBuffer("dir/new.txt")
	require.NoError(t, err)
	b.SetText("hello\n")
	require.True(t, b.IsDirty())

	require.NoError(t, p.SaveBuffer(ctx, b))
	require.Equal(t, "hello\n", readFile(t, root, "dir/new.txt"))
	require.False(t, b.IsDirty())
	f, _ := b.File()
	require.Equal(t, buffer.DiskExists, f.Disk)

	require.NoError(t, p.DeleteEntry(ctx, b))
	_, err = os.Stat(filepath.Join(root, "dir", "new.txt"))
	require.True(t, os.IsNotExist(err))
	f, _ = b.File()
	require.Equal(t, buffer.DiskDeleted, f.Disk)
	require.NoError(t, p.DeleteEntry(ctx, b))

	loose := buffer.New(executor.New(), "x")
	require.ErrorIs(t, p.SaveBuffer(ctx, loose), ErrNoFile)
	require.ErrorIs(t, p.DeleteEntry(ctx, loose), ErrNoFile)
}

func TestFileChanged(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "clean.txt", "a\nb\n")
	writeFile(t, root, "dirty.txt", "a\nb\n")
	p, _ := openProject(t, root, false)

	clean, err := p.OpenBuffer("clean.txt")
	require.NoError(t, err)
	dirty, err := p.OpenBuffer("dirty.txt")
	require.NoError(t, err)
	dirty.Append("mine\n")

	writeFile(t, root, "clean.txt", "a\nB\n")
	writeFile(t, root, "dirty.txt", "theirs\n")
	p.fileChanged(filepath.Join(p.Root(), "clean.txt"))
	p.fileChanged(filepath.Join(p.Root(), "dirty.txt"))
	require.Equal(t, "a\nB\n", clean.Text())
	require.False(t, clean.IsDirty())
	require.Equal(t, "a\nb\nmine\n", dirty.Text())

	require.NoError(t, os.Remove(filepath.Join(root, "clean.txt")))
	p.fileChanged(filepath.Join(p.Root(), "clean.txt"))
	f, _ := clean.File()
	require.Equal(t, buffer.DiskDeleted, f.Disk)

	writeFile(t, root, "clean.txt", "back\n")
	p.fileChanged(filepath.Join(p.Root(), "clean.txt"))
	f, _ = clean.File()
	require.Equal(t, buffer.DiskExists, f.Disk)
	require.Equal(t, "back\n", clean.Text())

	// Files without an open buffer are ignored.
	p.fileChanged(filepath.Join(p.Root(), "unknown.txt"))
}

func TestNoRepository(t *testing.T) {
	root := t.TempDir()
	p, _ := openProject(t, root, false)
	b, err := p.OpenBuffer("a.txt")
	require.NoError(t, err)

	_, err = p.OpenUncommittedDiff(context.Background(), b)
	require.ErrorIs(t, err, ErrNoRepository)
	_, ok := p.HeadCommit(b)
	require.False(t, ok)
	require.NoError(t, p.RefreshHead(context.Background()))
	require.Equal(t, "", p.Branch())

	release := p.RegisterBuffer(b)
	release()
	release()
}

func TestUncommittedDiffFollowsEditsAndCommits(t *testing.T) {
	root := initRepo(t)
	commit(t, root, "a.txt", "a\nb\nc\n")
	p, ex := openProject(t, root, true)
	ctx := context.Background()

	b, err := p.OpenBuffer("a.txt")
	require.NoError(t, err)
	d, err := p.OpenUncommittedDiff(ctx, b)
	require.NoError(t, err)
	again, err := p.OpenUncommittedDiff(ctx, b)
	require.NoError(t, err)
	require.Same(t, d, again)
	require.False(t, d.HasHunks())
	require.NotEmpty(t, p.Branch())

	first, ok := p.HeadCommit(b)
	require.True(t, ok)
	require.NotEmpty(t, first)

	b.SetText("a\nB\nc\n")
	ex.RunUntilParked()
	require.True(t, d.HasHunks())
	require.Equal(t, "a\nb\nc\n", d.BaseText().String())

	require.NoError(t, p.SaveBuffer(ctx, b))
	git(t, root, "commit", "-am", "edit")
	require.NoError(t, p.RefreshHead(ctx))
	ex.RunUntilParked()

	second, _ := p.HeadCommit(b)
	require.NotEqual(t, first, second)
	require.False(t, d.HasHunks())
	require.Equal(t, "a\nB\nc\n", d.BaseText().String())
}

func TestUncommittedDiffForUntrackedFile(t *testing.T) {
	root := initRepo(t)
	commit(t, root, "a.txt", "a\n")
	p, ex := openProject(t, root, true)

	b, err := p.OpenBuffer("new.txt")
	require.NoError(t, err)
	b.SetText("fresh\n")
	d, err := p.OpenUncommittedDiff(context.Background(), b)
	require.NoError(t, err)
	ex.RunUntilParked()
	require.True(t, d.HasHunks())
	require.Equal(t, "", d.BaseText().String())
}

func TestActionLogKeepsCommittedAgentEdits(t *testing.T) {
	root := initRepo(t)
	commit(t, root, "main.txt", "one\ntwo\nthree\n")
	p, ex := openProject(t, root, true)
	ctx := context.Background()

	log := actionlog.New(p, ex)
	t.Cleanup(func() {
		log.Close()
		ex.RunUntilParked()
	})

	b, err := p.OpenBuffer("main.txt")
	require.NoError(t, err)
	log.BufferRead(b)
	ex.RunUntilParked()
	log.EditBuffer(b, func(b *buffer.Buffer) {
		b.SetText("one\nTWO\nthree\n")
	})
	ex.RunUntilParked()
	require.Len(t, log.ChangedBuffers(), 1)

	require.NoError(t, p.SaveBuffer(ctx, b))
	git(t, root, "commit", "-am", "agent edit")
	require.NoError(t, p.RefreshHead(ctx))
	ex.RunUntilParked()

	require.Empty(t, log.ChangedBuffers())
	require.Equal(t, "one\nTWO\nthree\n", b.Text())
}

func TestActionLogRejectWritesThroughProject(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "notes.txt", "alpha\nbeta\n")
	p, ex := openProject(t, root, false)
	ctx := context.Background()

	log := actionlog.New(p, ex)
	t.Cleanup(func() {
		log.Close()
		ex.RunUntilParked()
	})

	b, err := p.OpenBuffer("notes.txt")
	require.NoError(t, err)
	log.BufferRead(b)
	log.EditBuffer(b, func(b *buffer.Buffer) {
		b.Append("gamma\n")
	})
	ex.RunUntilParked()
	require.Len(t, log.ChangedBuffers(), 1)

	require.NoError(t, log.RejectAllEdits(ctx))
	ex.RunUntilParked()
	require.Equal(t, "alpha\nbeta\n", b.Text())
	require.Equal(t, "alpha\nbeta\n", readFile(t, root, "notes.txt"))
	require.Empty(t, log.ChangedBuffers())

	created, err := p.OpenBuffer("draft.txt")
	require.NoError(t, err)
	log.BufferCreated(created)
	log.EditBuffer(created, func(b *buffer.Buffer) {
		b.SetText("draft\n")
	})
	require.NoError(t, p.SaveBuffer(ctx, created))
	ex.RunUntilParked()

	require.NoError(t, log.RejectEditsInRanges(ctx, created, []text.PointRange{actionlog.AllRows}))
	ex.RunUntilParked()
	_, err = os.Stat(filepath.Join(root, "draft.txt"))
	require.True(t, os.IsNotExist(err))
}
