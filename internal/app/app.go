// Package app runs a line-oriented review console: an agent's edits are fed
// in as commands and the tracked changes can be listed, kept or rejected.
package app

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"strings"

	"github.com/kobzarvs/actionlog/internal/actionlog"
	"github.com/kobzarvs/actionlog/internal/buffer"
	"github.com/kobzarvs/actionlog/internal/config"
	"github.com/kobzarvs/actionlog/internal/executor"
	"github.com/kobzarvs/actionlog/internal/logger"
	"github.com/kobzarvs/actionlog/internal/lsp"
	"github.com/kobzarvs/actionlog/internal/project"
	"github.com/kobzarvs/actionlog/internal/text"
)

var errQuit = errors.New("quit")

// App is the top-level runtime for the console.
type App struct {
	args []string
	in   io.Reader
	out  io.Writer
}

func New(args []string, in io.Reader, out io.Writer) *App {
	return &App{args: args, in: in, out: out}
}

func (a *App) Run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := logger.Init(cfg.Log.Debug); err != nil {
		logger.InitWriter(io.Discard, false)
	}
	defer logger.Close()

	root := "."
	if len(a.args) > 0 {
		root = a.args[0]
	}

	var ls *lsp.Manager
	if cfg.Project.LSP {
		langs, err := config.LoadLanguages()
		if err != nil {
			return err
		}
		ls = lsp.NewManager(langs)
		defer func() { _ = ls.Stop() }()
	}

	ex := executor.New()
	p, err := project.Open(root, cfg.Project, ex, ls)
	if err != nil {
		return err
	}
	defer func() { _ = p.Close() }()

	log := actionlog.New(p, ex)
	defer log.Close()
	log.SetDiffContext(cfg.Review.DiffContext)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	c := newConsole(p, log, ex, a.out)
	if branch := p.Branch(); branch != "" {
		fmt.Fprintf(a.out, "reviewing %s on %s\n", p.Root(), branch)
	} else {
		fmt.Fprintf(a.out, "reviewing %s\n", p.Root())
	}
	return c.run(ctx, a.in)
}

// console executes review commands against one project.
type console struct {
	project *project.Project
	log     *actionlog.ActionLog
	exec    *executor.Executor
	out     io.Writer
}

func newConsole(p *project.Project, log *actionlog.ActionLog, ex *executor.Executor, out io.Writer) *console {
	return &console{project: p, log: log, exec: ex, out: out}
}

func (c *console) run(ctx context.Context, in io.Reader) error {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		err := c.execCommand(ctx, scanner.Text())
		if errors.Is(err, errQuit) {
			return nil
		}
		if err != nil {
			fmt.Fprintln(c.out, "error:", err)
		}
		if err := c.exec.WaitParked(ctx); err != nil {
			return err
		}
	}
	return scanner.Err()
}

// execCommand runs a single command line.
func (c *console) execCommand(ctx context.Context, line string) error {
	fields := strings.Fields(line)
	if len(fields) == 0 || strings.HasPrefix(fields[0], "#") {
		return nil
	}
	name, args := fields[0], fields[1:]

	switch name {
	case "read", "create":
		if len(args) != 1 {
			return fmt.Errorf("usage: %s <path>", name)
		}
		b, err := c.project.OpenBuffer(args[0])
		if err != nil {
			return err
		}
		if name == "read" {
			c.log.BufferRead(b)
		} else {
			c.log.BufferCreated(b)
		}
		return nil
	case "agent", "user":
		// agent|user <path> <row> [text...] replaces a 1-based row; rows past
		// the end are appended.
		if len(args) < 2 {
			return fmt.Errorf("usage: %s <path> <row> [text]", name)
		}
		b, err := c.project.OpenBuffer(args[0])
		if err != nil {
			return err
		}
		row, err := strconv.Atoi(args[1])
		if err != nil || row < 1 {
			return fmt.Errorf("bad row %q", args[1])
		}
		line := strings.Join(args[2:], " ")
		if name == "agent" {
			c.log.EditBuffer(b, func(b *buffer.Buffer) { replaceRow(b, row-1, line) })
		} else {
			replaceRow(b, row-1, line)
		}
		return nil
	case "save":
		if len(args) != 1 {
			return errors.New("usage: save <path>")
		}
		b, err := c.project.OpenBuffer(args[0])
		if err != nil {
			return err
		}
		return c.project.SaveBuffer(ctx, b)
	case "delete":
		if len(args) != 1 {
			return errors.New("usage: delete <path>")
		}
		b, err := c.project.OpenBuffer(args[0])
		if err != nil {
			return err
		}
		c.log.WillDeleteBuffer(b)
		return c.project.DeleteEntry(ctx, b)
	case "keep":
		if len(args) == 1 && args[0] == "all" {
			c.log.KeepAllEdits()
			return nil
		}
		b, r, err := c.target(args)
		if err != nil {
			return err
		}
		c.log.KeepEditsInRange(b, r)
		return nil
	case "reject":
		if len(args) == 1 && args[0] == "all" {
			return c.log.RejectAllEdits(ctx)
		}
		b, r, err := c.target(args)
		if err != nil {
			return err
		}
		return c.log.RejectEditsInRanges(ctx, b, []text.PointRange{r})
	case "changed":
		c.printChanged()
		return nil
	case "stale":
		for _, b := range c.log.StaleBuffers() {
			fmt.Fprintln(c.out, pathOf(b))
		}
		return nil
	case "diff", "flush":
		diff, ok := c.log.UnnotifiedUserEdits()
		if name == "flush" {
			diff, ok = c.log.FlushUnnotifiedUserEdits()
		}
		if ok {
			fmt.Fprintln(c.out, diff)
		}
		return nil
	case "show":
		if len(args) != 1 {
			return errors.New("usage: show <path>")
		}
		b, err := c.project.OpenBuffer(args[0])
		if err != nil {
			return err
		}
		fmt.Fprint(c.out, b.Text())
		return nil
	case "commit":
		return c.project.RefreshHead(ctx)
	case "quit", "q":
		return errQuit
	default:
		return fmt.Errorf("unknown command: %s", name)
	}
}

// target parses "<path> [from to]" with 1-based inclusive rows.
func (c *console) target(args []string) (*buffer.Buffer, text.PointRange, error) {
	if len(args) != 1 && len(args) != 3 {
		return nil, text.PointRange{}, errors.New("usage: <path> [from to] | all")
	}
	b, err := c.project.OpenBuffer(args[0])
	if err != nil {
		return nil, text.PointRange{}, err
	}
	if len(args) == 1 {
		return b, actionlog.AllRows, nil
	}
	from, err1 := strconv.Atoi(args[1])
	to, err2 := strconv.Atoi(args[2])
	if err1 != nil || err2 != nil || from < 1 || to < from {
		return nil, text.PointRange{}, fmt.Errorf("bad range %s..%s", args[1], args[2])
	}
	return b, text.PointRange{
		Start: text.Point{Row: from - 1},
		End:   text.Point{Row: to - 1},
	}, nil
}

func (c *console) printChanged() {
	changed := c.log.ChangedBuffers()
	paths := make([]string, 0, len(changed))
	hunks := make(map[string]int, len(changed))
	for b, cb := range changed {
		p := pathOf(b)
		paths = append(paths, p)
		hunks[p] = len(cb.Diff.Snapshot().Hunks())
	}
	sort.Strings(paths)
	for _, p := range paths {
		fmt.Fprintf(c.out, "%s\t%d hunk(s)\n", p, hunks[p])
	}
}

func pathOf(b *buffer.Buffer) string {
	if f, ok := b.File(); ok {
		return f.FullPath
	}
	return fmt.Sprintf("buffer_%d", b.ID())
}

// replaceRow replaces row of b with line, appending when row is past the last
// line.
func replaceRow(b *buffer.Buffer, row int, line string) {
	snap := b.Snapshot().Text()
	last := snap.RowCount() - 1
	if row > last || (row == last && snap.LineLen(last) == 0) {
		if n := snap.Len(); n > 0 && snap.ByteAt(n-1) != '\n' {
			line = "\n" + line
		}
		b.Append(line + "\n")
		return
	}
	start := snap.RowOffset(row)
	b.Edit([]buffer.Replacement{{Start: start, End: start + snap.LineLen(row), Text: line}})
}
