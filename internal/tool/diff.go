package tool

import (
	"fmt"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// computeDiff produces a unified diff between before and after plus
// line-level addition/deletion counts.
func computeDiff(before, after, path string) (string, int, int) {
	dmp := diffmatchpatch.New()

	// Line-based diff for accurate line counting.
	a, b, lineArray := dmp.DiffLinesToChars(before, after)
	diffs := dmp.DiffMain(a, b, false)
	diffs = dmp.DiffCharsToLines(diffs, lineArray)

	additions, deletions := 0, 0
	for _, d := range diffs {
		switch d.Type {
		case diffmatchpatch.DiffInsert:
			additions += countLines(d.Text)
		case diffmatchpatch.DiffDelete:
			deletions += countLines(d.Text)
		}
	}

	return renderUnifiedDiff(diffs, path), additions, deletions
}

func countLines(text string) int {
	if text == "" {
		return 0
	}
	lines := strings.Count(text, "\n")
	if !strings.HasSuffix(text, "\n") {
		lines++
	}
	return lines
}

// renderUnifiedDiff formats diffs as a unified diff with three context
// lines per hunk.
func renderUnifiedDiff(diffs []diffmatchpatch.Diff, path string) string {
	hasChanges := false
	for _, d := range diffs {
		if d.Type != diffmatchpatch.DiffEqual {
			hasChanges = true
			break
		}
	}
	if !hasChanges {
		return ""
	}

	type diffLine struct {
		text     string
		diffType diffmatchpatch.Operation
	}
	var allLines []diffLine

	for _, d := range diffs {
		lines := strings.Split(d.Text, "\n")
		if len(lines) > 0 && lines[len(lines)-1] == "" {
			lines = lines[:len(lines)-1]
		}
		for _, line := range lines {
			allLines = append(allLines, diffLine{text: line, diffType: d.Type})
		}
	}

	const contextLines = 3
	type hunk struct {
		startOld, countOld int
		startNew, countNew int
		lines              []diffLine
	}

	countHunk := func(h *hunk) {
		for _, l := range h.lines {
			switch l.diffType {
			case diffmatchpatch.DiffEqual:
				h.countOld++
				h.countNew++
			case diffmatchpatch.DiffDelete:
				h.countOld++
			case diffmatchpatch.DiffInsert:
				h.countNew++
			}
		}
	}

	var hunks []hunk
	var current *hunk

	for i, line := range allLines {
		isChange := line.diffType != diffmatchpatch.DiffEqual

		if isChange {
			if current == nil {
				contextStart := i - contextLines
				if contextStart < 0 {
					contextStart = 0
				}

				startOld, startNew := 1, 1
				for j := 0; j < contextStart; j++ {
					switch allLines[j].diffType {
					case diffmatchpatch.DiffEqual:
						startOld++
						startNew++
					case diffmatchpatch.DiffDelete:
						startOld++
					case diffmatchpatch.DiffInsert:
						startNew++
					}
				}

				current = &hunk{startOld: startOld, startNew: startNew}
				for j := contextStart; j < i; j++ {
					current.lines = append(current.lines, allLines[j])
				}
			}
			current.lines = append(current.lines, line)
			continue
		}

		if current == nil {
			continue
		}

		// Close the hunk unless another change follows within range.
		nextChange := -1
		for j := i + 1; j < len(allLines) && j <= i+contextLines*2; j++ {
			if allLines[j].diffType != diffmatchpatch.DiffEqual {
				nextChange = j
				break
			}
		}

		if nextChange != -1 {
			current.lines = append(current.lines, line)
			continue
		}

		for j := i; j < len(allLines) && j < i+contextLines; j++ {
			if allLines[j].diffType != diffmatchpatch.DiffEqual {
				break
			}
			current.lines = append(current.lines, allLines[j])
		}
		countHunk(current)
		hunks = append(hunks, *current)
		current = nil
	}

	if current != nil {
		countHunk(current)
		hunks = append(hunks, *current)
	}

	var buf strings.Builder
	buf.WriteString("--- " + path + "\n")
	buf.WriteString("+++ " + path + "\n")

	for _, h := range hunks {
		buf.WriteString(fmt.Sprintf("@@ -%d,%d +%d,%d @@\n", h.startOld, h.countOld, h.startNew, h.countNew))
		for _, line := range h.lines {
			switch line.diffType {
			case diffmatchpatch.DiffEqual:
				buf.WriteString(" ")
			case diffmatchpatch.DiffDelete:
				buf.WriteString("-")
			case diffmatchpatch.DiffInsert:
				buf.WriteString("+")
			}
			buf.WriteString(line.text)
			buf.WriteString("\n")
		}
	}

	return buf.String()
}
