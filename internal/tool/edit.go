package tool

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/agnivade/levenshtein"
)

const editDescription = `Performs exact string replacements in files.

Usage:
- The path may be absolute or relative to the working directory
- The old_string must exist in the file (exact match required)
- The new_string will replace old_string
- Use replace_all to replace all occurrences
- The edit will FAIL if old_string is not unique (unless using replace_all)`

// EditTool implements exact string replacement with a recorded diff.
type EditTool struct {
	workDir string
}

// NewEditTool creates a new edit tool.
func NewEditTool(workDir string) *EditTool {
	return &EditTool{workDir: workDir}
}

// Metadata implements Tool.
func (t *EditTool) Metadata() Declaration {
	return Declaration{
		Name:        "file-edit",
		Description: editDescription,
		Schema: []byte(`{
			"type": "object",
			"properties": {
				"path": {
					"type": "string",
					"description": "The path to the file to edit"
				},
				"old_string": {
					"type": "string",
					"description": "The exact text to replace"
				},
				"new_string": {
					"type": "string",
					"description": "The replacement text"
				},
				"replace_all": {
					"type": "boolean",
					"description": "Replace every occurrence instead of requiring uniqueness"
				}
			},
			"required": ["path", "old_string", "new_string"]
		}`),
		Annotations: Annotations{Destructive: true},
	}
}

// Execute implements Tool.
func (t *EditTool) Execute(ctx context.Context, args map[string]any, tc *Context) (*Result, error) {
	path := resolveInWorkDir(stringArg(args, "path"), tc, t.workDir)
	oldString := stringArg(args, "old_string")
	newString := stringArg(args, "new_string")
	replaceAll := boolArg(args, "replace_all")

	if oldString == newString {
		return TextErrorf("old_string and new_string are identical"), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return TextErrorf("Cannot read %s: %v", path, err), nil
	}
	before := string(data)

	count := strings.Count(before, oldString)
	switch {
	case count == 0:
		msg := fmt.Sprintf("old_string not found in %s", path)
		if closest := closestLine(before, oldString); closest != "" {
			msg += fmt.Sprintf(" (closest line: %q)", closest)
		}
		return TextErrorf("%s", msg), nil
	case count > 1 && !replaceAll:
		return TextErrorf("old_string appears %d times in %s; pass replace_all or make it unique", count, path), nil
	}

	var after string
	if replaceAll {
		after = strings.ReplaceAll(before, oldString, newString)
	} else {
		after = strings.Replace(before, oldString, newString, 1)
	}

	if err := os.WriteFile(path, []byte(after), 0o644); err != nil {
		return TextErrorf("Cannot write %s: %v", path, err), nil
	}

	diffText, additions, deletions := computeDiff(before, after, path)
	res := TextResult(fmt.Sprintf("Edited %s (+%d -%d)\n%s", path, additions, deletions, diffText))
	res.Metadata = map[string]any{
		"path":      path,
		"additions": additions,
		"deletions": deletions,
		"diff":      diffText,
	}
	return res, nil
}

// closestLine finds the file line most similar to the (first line of
// the) missed old_string, to make the failure actionable.
func closestLine(content, oldString string) string {
	needle := strings.SplitN(oldString, "\n", 2)[0]
	if needle == "" {
		return ""
	}

	best := ""
	bestDist := -1
	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		d := levenshtein.ComputeDistance(needle, trimmed)
		if bestDist == -1 || d < bestDist {
			bestDist = d
			best = trimmed
		}
	}

	// A distance beyond half the needle length is noise, not a near miss.
	if bestDist == -1 || bestDist > len(needle)/2 {
		return ""
	}
	return best
}
