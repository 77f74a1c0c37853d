package tool

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

const globDescription = `Fast file pattern matching tool that works with any codebase size.

Usage:
- Supports glob patterns like "**/*.js" or "src/**/*.ts"
- Returns matching file paths sorted by modification time
- Use this tool when you need to find files by name patterns`

const maxGlobResults = 100

// GlobTool implements file pattern matching.
type GlobTool struct {
	workDir string
}

// NewGlobTool creates a new glob tool.
func NewGlobTool(workDir string) *GlobTool {
	return &GlobTool{workDir: workDir}
}

// Metadata implements Tool.
func (t *GlobTool) Metadata() Declaration {
	return Declaration{
		Name:        "glob",
		Description: globDescription,
		Schema: []byte(`{
			"type": "object",
			"properties": {
				"pattern": {
					"type": "string",
					"description": "The glob pattern to match files against"
				},
				"path": {
					"type": "string",
					"description": "Directory to search in (default: working directory)"
				}
			},
			"required": ["pattern"]
		}`),
		Annotations: Annotations{ReadOnly: true, Idempotent: true},
	}
}

// Execute implements Tool.
func (t *GlobTool) Execute(ctx context.Context, args map[string]any, tc *Context) (*Result, error) {
	pattern := stringArg(args, "pattern")
	searchDir := resolveInWorkDir(stringArg(args, "path"), tc, t.workDir)

	matches, err := doublestar.Glob(os.DirFS(searchDir), pattern)
	if err != nil {
		return TextErrorf("Invalid glob pattern %q: %v", pattern, err), nil
	}

	// Files only, newest first.
	type match struct {
		path    string
		modTime int64
	}
	var files []match
	for _, m := range matches {
		info, err := os.Stat(filepath.Join(searchDir, m))
		if err != nil || info.IsDir() {
			continue
		}
		files = append(files, match{path: m, modTime: info.ModTime().UnixNano()})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].modTime > files[j].modTime })

	truncated := false
	if len(files) > maxGlobResults {
		files = files[:maxGlobResults]
		truncated = true
	}

	if len(files) == 0 {
		return TextResult("No files matched the pattern"), nil
	}

	paths := make([]string, len(files))
	for i, f := range files {
		paths[i] = f.path
	}
	output := strings.Join(paths, "\n")
	if truncated {
		output += fmt.Sprintf("\n\n(Showing first %d matches)", maxGlobResults)
	}

	res := TextResult(output)
	res.Metadata = map[string]any{"pattern": pattern, "count": len(files), "truncated": truncated}
	return res, nil
}
