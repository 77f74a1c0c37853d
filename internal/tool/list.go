package tool

import (
	"context"
	"os"
	"path/filepath"
	"strings"
)

const listDescription = `Lists files and directories in a given path.

Usage:
- The path may be absolute or relative to the working directory
- Directories are suffixed with "/"
- Common build and dependency directories are ignored by default
- Additional ignore patterns may be passed as globs`

// defaultIgnorePatterns are skipped unless explicitly requested.
var defaultIgnorePatterns = []string{
	".git/",
	"node_modules/",
	"vendor/",
	"dist/",
	"build/",
	"target/",
	"__pycache__/",
	".venv/",
	".cache/",
	".idea/",
	".vscode/",
}

// ListTool lists directory entries.
type ListTool struct {
	workDir string
}

// NewListTool creates a new list tool.
func NewListTool(workDir string) *ListTool {
	return &ListTool{workDir: workDir}
}

// Metadata implements Tool.
func (t *ListTool) Metadata() Declaration {
	return Declaration{
		Name:        "file-list",
		Description: listDescription,
		Schema: []byte(`{
			"type": "object",
			"properties": {
				"path": {
					"type": "string",
					"description": "The directory to list"
				},
				"ignore": {
					"type": "array",
					"description": "Glob patterns to ignore"
				}
			}
		}`),
		Annotations: Annotations{ReadOnly: true, Idempotent: true},
	}
}

// Execute implements Tool.
func (t *ListTool) Execute(ctx context.Context, args map[string]any, tc *Context) (*Result, error) {
	listPath := t.workDir
	if tc != nil && tc.WorkDir != "" {
		listPath = tc.WorkDir
	}
	if p := stringArg(args, "path"); p != "" && p != "." {
		listPath = resolveInWorkDir(p, tc, t.workDir)
	}

	ignore := append([]string{}, defaultIgnorePatterns...)
	if raw, ok := args["ignore"].([]any); ok {
		for _, v := range raw {
			if s, ok := v.(string); ok {
				ignore = append(ignore, s)
			}
		}
	}

	entries, err := os.ReadDir(listPath)
	if err != nil {
		return TextErrorf("Cannot read directory %s: %v", listPath, err), nil
	}

	var names []string
	for _, entry := range entries {
		if shouldIgnore(entry.Name(), entry.IsDir(), ignore) {
			continue
		}
		name := entry.Name()
		if entry.IsDir() {
			name += "/"
		}
		names = append(names, name)
	}

	res := TextResult(strings.Join(names, "\n"))
	res.Metadata = map[string]any{"path": listPath, "count": len(names)}
	return res, nil
}

// shouldIgnore checks a name against directory-suffixed and plain glob
// patterns.
func shouldIgnore(name string, isDir bool, patterns []string) bool {
	for _, pattern := range patterns {
		if strings.HasSuffix(pattern, "/") {
			if isDir && name == strings.TrimSuffix(pattern, "/") {
				return true
			}
			continue
		}
		if matched, _ := filepath.Match(pattern, name); matched {
			return true
		}
	}
	return false
}
