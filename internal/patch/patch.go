// Package patch produces a unified diff of the page before and after an
// operation, so the DOM mutations a run performed can be reviewed.
package patch

import (
	"fmt"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// contextLines is the number of unchanged lines kept around each change.
const contextLines = 2

type line struct {
	op    diffmatchpatch.Operation
	text  string
	oldNo int // 1-based line number in before, 0 for insertions
	newNo int // 1-based line number in after, 0 for deletions
}

// PageDiff returns a unified diff between two renderings of the page named
// name, or "" when they are equal after normalization.
func PageDiff(name string, before, after []byte) string {
	a, b := normalize(string(before)), normalize(string(after))
	if a == b {
		return ""
	}

	dmp := diffmatchpatch.New()
	ca, cb, table := dmp.DiffLinesToChars(a, b)
	diffs := dmp.DiffCharsToLines(dmp.DiffMain(ca, cb, false), table)
	lines := number(diffs)

	var out strings.Builder
	fmt.Fprintf(&out, "--- a/%s\n+++ b/%s\n", name, name)
	for _, h := range hunks(lines) {
		writeHunk(&out, lines[h[0]:h[1]])
	}
	return out.String()
}

// number splits diffs into lines and assigns line numbers on both sides.
func number(diffs []diffmatchpatch.Diff) []line {
	var (
		out        []line
		oldN, newN int
	)
	for _, d := range diffs {
		for _, text := range splitLines(d.Text) {
			l := line{op: d.Type, text: text}
			switch d.Type {
			case diffmatchpatch.DiffEqual:
				oldN++
				newN++
				l.oldNo, l.newNo = oldN, newN
			case diffmatchpatch.DiffDelete:
				oldN++
				l.oldNo = oldN
			case diffmatchpatch.DiffInsert:
				newN++
				l.newNo = newN
			}
			out = append(out, l)
		}
	}
	return out
}

// hunks groups changed lines with their context into [start, end) ranges.
// Changes closer than twice the context share a hunk.
func hunks(lines []line) [][2]int {
	var out [][2]int
	for i := 0; i < len(lines); i++ {
		if lines[i].op == diffmatchpatch.DiffEqual {
			continue
		}
		start := max(0, i-contextLines)
		end := i + 1
		for j := i + 1; j < len(lines); j++ {
			if lines[j].op != diffmatchpatch.DiffEqual {
				end = j + 1
				continue
			}
			if j-end >= 2*contextLines {
				break
			}
		}
		end = min(len(lines), end+contextLines)
		if n := len(out); n > 0 && start <= out[n-1][1] {
			out[n-1][1] = end
		} else {
			out = append(out, [2]int{start, end})
		}
		i = end - 1
	}
	return out
}

func writeHunk(out *strings.Builder, lines []line) {
	var oldStart, newStart, oldCount, newCount int
	for _, l := range lines {
		if l.oldNo > 0 {
			if oldStart == 0 {
				oldStart = l.oldNo
			}
			oldCount++
		}
		if l.newNo > 0 {
			if newStart == 0 {
				newStart = l.newNo
			}
			newCount++
		}
	}
	fmt.Fprintf(out, "@@ -%d,%d +%d,%d @@\n", oldStart, oldCount, newStart, newCount)
	for _, l := range lines {
		prefix := " "
		switch l.op {
		case diffmatchpatch.DiffDelete:
			prefix = "-"
		case diffmatchpatch.DiffInsert:
			prefix = "+"
		}
		out.WriteString(prefix + l.text + "\n")
	}
}

func splitLines(s string) []string {
	parts := strings.SplitAfter(s, "\n")
	if parts[len(parts)-1] == "" {
		parts = parts[:len(parts)-1]
	}
	for i, p := range parts {
		parts[i] = strings.TrimSuffix(p, "\n")
	}
	return parts
}

// normalize trims trailing whitespace from each line and converts CRLF to LF.
func normalize(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t")
	}
	return strings.Join(lines, "\n")
}
