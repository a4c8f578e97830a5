package app

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kobzarvs/actionlog/internal/actionlog"
	"github.com/kobzarvs/actionlog/internal/buffer"
	"github.com/kobzarvs/actionlog/internal/config"
	"github.com/kobzarvs/actionlog/internal/executor"
	"github.com/kobzarvs/actionlog/internal/project"
)

func newTestConsole(t *testing.T, files map[string]string) (*console, *bytes.Buffer, string) {
	t.Helper()
	root := t.TempDir()
	for rel, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(root, rel), []byte(content), 0o644))
	}
	ex := executor.New()
	opts := config.Default().Project
	opts.Watch = false
	opts.Git = false
	p, err := project.Open(root, opts, ex, nil)
	require.NoError(t, err)
	log := actionlog.New(p, ex)
	t.Cleanup(func() {
		log.Close()
		require.NoError(t, p.Close())
		ex.RunUntilParked()
	})
	var out bytes.Buffer
	return newConsole(p, log, ex, &out), &out, root
}

func TestConsoleReviewSession(t *testing.T) {
	c, out, root := newTestConsole(t, map[string]string{
		"notes.txt": "alpha\nbeta\ngamma\ndelta\nepsilon\n",
	})
	script := strings.Join([]string{
		"# agent reads and edits",
		"read notes.txt",
		"agent notes.txt 2 BETA",
		"changed",
		"user notes.txt 5 EPSILON",
		"flush",
		"diff",
		"reject notes.txt",
		"changed",
		"show notes.txt",
		"bogus",
		"quit",
		"show notes.txt",
	}, "\n")
	require.NoError(t, c.run(context.Background(), strings.NewReader(script)))

	got := out.String()
	require.Contains(t, got, "notes.txt\t1 hunk(s)\n")
	require.Contains(t, got, "-epsilon\n+EPSILON")
	require.Contains(t, got, "alpha\nbeta\ngamma\ndelta\nEPSILON\n")
	require.Contains(t, got, "error: unknown command: bogus\n")
	require.Equal(t, 1, strings.Count(got, "alpha\nbeta\ngamma"), "commands after quit must not run")
	require.Equal(t, 1, strings.Count(got, "+EPSILON"), "flushed edits are reported once")

	data, err := os.ReadFile(filepath.Join(root, "notes.txt"))
	require.NoError(t, err)
	require.Equal(t, "alpha\nbeta\ngamma\ndelta\nEPSILON\n", string(data))
}

func TestConsoleCreateKeepAndDelete(t *testing.T) {
	c, out, root := newTestConsole(t, nil)
	ctx := context.Background()

	for _, line := range []string{
		"create draft.txt",
		"agent draft.txt 1 first",
		"agent draft.txt 2 second",
		"save draft.txt",
		"keep draft.txt 1 1",
	} {
		require.NoError(t, c.execCommand(ctx, line), line)
		c.exec.RunUntilParked()
	}
	b, err := c.project.OpenBuffer("draft.txt")
	require.NoError(t, err)
	require.Equal(t, "first\nsecond\n", b.Text())

	require.NoError(t, c.execCommand(ctx, "keep all"))
	c.exec.RunUntilParked()
	require.Empty(t, c.log.ChangedBuffers())
	status, ok := c.log.Status(b)
	require.True(t, ok)
	require.Equal(t, actionlog.StatusModified, status.Kind)

	require.NoError(t, c.execCommand(ctx, "delete draft.txt"))
	c.exec.RunUntilParked()
	_, err = os.Stat(filepath.Join(root, "draft.txt"))
	require.True(t, os.IsNotExist(err))
	f, _ := b.File()
	require.Equal(t, buffer.DiskDeleted, f.Disk)

	require.NoError(t, c.execCommand(ctx, "changed"))
	c.exec.RunUntilParked()
	require.Contains(t, out.String(), "draft.txt\t")
}

func TestConsoleUsageErrors(t *testing.T) {
	c, _, _ := newTestConsole(t, nil)
	ctx := context.Background()
	for _, line := range []string{
		"read",
		"agent a.txt",
		"agent a.txt zero x",
		"keep a.txt 3 1",
		"reject a.txt 1",
		"save",
	} {
		require.Error(t, c.execCommand(ctx, line), line)
	}
	require.NoError(t, c.execCommand(ctx, ""))
	require.ErrorIs(t, c.execCommand(ctx, "q"), errQuit)
}

func TestReplaceRow(t *testing.T) {
	ex := executor.New()
	b := buffer.New(ex, "")
	replaceRow(b, 0, "one")
	require.Equal(t, "one\n", b.Text())
	replaceRow(b, 5, "two")
	require.Equal(t, "one\ntwo\n", b.Text())
	replaceRow(b, 0, "ONE")
	require.Equal(t, "ONE\ntwo\n", b.Text())

	open := buffer.New(ex, "x")
	replaceRow(open, 1, "y")
	require.Equal(t, "x\ny\n", open.Text())
	ex.RunUntilParked()
}
