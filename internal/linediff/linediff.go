// Package linediff computes row-level differences between two texts.
package linediff

import (
	"strings"

	"github.com/pmezard/go-difflib/difflib"

	"github.com/kobzarvs/actionlog/internal/patch"
)

// Rows splits s into rows, keeping each row's trailing newline. A text that
// ends in a newline has a final empty row, so "a\n" has two rows.
func Rows(s string) []string {
	return strings.SplitAfter(s, "\n")
}

// DiffLines returns the changed row ranges between old and new, sorted and
// disjoint in both texts.
func DiffLines(old, new string) []patch.Edit {
	if old == new {
		return nil
	}
	m := difflib.NewMatcher(Rows(old), Rows(new))
	var edits []patch.Edit
	for _, op := range m.GetOpCodes() {
		if op.Tag == 'e' {
			continue
		}
		edits = append(edits, patch.Edit{
			Old: patch.Range{Start: op.I1, End: op.I2},
			New: patch.Range{Start: op.J1, End: op.J2},
		})
	}
	return edits
}

// UnifiedDiff renders a unified diff from old to new. from and to become the
// "---" and "+++" header names; when both are empty only hunks are written.
func UnifiedDiff(old, new, from, to string, context int) (string, error) {
	return difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        diffRows(old),
		B:        diffRows(new),
		FromFile: from,
		ToFile:   to,
		Context:  context,
	})
}

// diffRows splits s for rendering: no phantom row after a trailing newline,
// and every row newline-terminated.
func diffRows(s string) []string {
	rows := Rows(s)
	if rows[len(rows)-1] == "" {
		rows = rows[:len(rows)-1]
	} else {
		rows[len(rows)-1] += "\n"
	}
	return rows
}
