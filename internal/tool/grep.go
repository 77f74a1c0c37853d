package tool

import (
	"bufio"
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

const grepDescription = `Searches file contents using regular expressions.

Usage:
- Supports full Go regular expression syntax
- Optionally filter searched files with an include glob like "*.go"
- Returns matching lines with file path and line number`

const (
	maxGrepMatches  = 100
	maxGrepFileSize = 4 * 1024 * 1024
)

// skipDirs are directories never worth searching.
var skipDirs = map[string]bool{
	".git":         true,
	"node_modules": true,
	"vendor":       true,
	".cache":       true,
	"dist":         true,
	"build":        true,
}

// GrepTool implements content search.
type GrepTool struct {
	workDir string
}

// NewGrepTool creates a new grep tool.
func NewGrepTool(workDir string) *GrepTool {
	return &GrepTool{workDir: workDir}
}

// Metadata implements Tool.
func (t *GrepTool) Metadata() Declaration {
	return Declaration{
		Name:        "grep",
		Description: grepDescription,
		Schema: []byte(`{
			"type": "object",
			"properties": {
				"pattern": {
					"type": "string",
					"description": "The regular expression to search for"
				},
				"path": {
					"type": "string",
					"description": "Directory to search in (default: working directory)"
				},
				"include": {
					"type": "string",
					"description": "Glob filter for file names, e.g. \"*.go\""
				}
			},
			"required": ["pattern"]
		}`),
		Annotations: Annotations{ReadOnly: true, Idempotent: true},
	}
}

// Execute implements Tool.
func (t *GrepTool) Execute(ctx context.Context, args map[string]any, tc *Context) (*Result, error) {
	pattern := stringArg(args, "pattern")
	include := stringArg(args, "include")

	re, err := regexp.Compile(pattern)
	if err != nil {
		return TextErrorf("Invalid pattern %q: %v", pattern, err), nil
	}

	searchDir := t.workDir
	if tc != nil && tc.WorkDir != "" {
		searchDir = tc.WorkDir
	}
	if p := stringArg(args, "path"); p != "" {
		searchDir = resolveInWorkDir(p, tc, t.workDir)
	}

	var sb strings.Builder
	matches := 0
	truncated := false

	err = filepath.WalkDir(searchDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			if skipDirs[d.Name()] {
				return filepath.SkipDir
			}
			return nil
		}
		if include != "" {
			if ok, _ := filepath.Match(include, d.Name()); !ok {
				return nil
			}
		}
		if info, err := d.Info(); err != nil || info.Size() > maxGrepFileSize {
			return nil
		}

		rel, _ := filepath.Rel(searchDir, path)
		n, err := grepFile(path, rel, re, maxGrepMatches-matches, &sb)
		if err != nil {
			return nil
		}
		matches += n
		if matches >= maxGrepMatches {
			truncated = true
			return filepath.SkipAll
		}
		return nil
	})
	if err != nil && ctx.Err() != nil {
		return TextErrorf("Search aborted: %v", ctx.Err()), nil
	}

	if matches == 0 {
		return TextResult("No matches found"), nil
	}

	output := sb.String()
	if truncated {
		output += fmt.Sprintf("\n(Showing first %d matches)", maxGrepMatches)
	}
	res := TextResult(output)
	res.Metadata = map[string]any{"pattern": pattern, "matches": matches, "truncated": truncated}
	return res, nil
}

func grepFile(path, rel string, re *regexp.Regexp, budget int, sb *strings.Builder) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 1024*1024), 1024*1024)
	lineNum := 0
	found := 0
	for scanner.Scan() {
		lineNum++
		line := scanner.Text()
		// Binary-looking content ends the file scan.
		if strings.ContainsRune(line, 0) {
			return found, nil
		}
		if re.MatchString(line) {
			fmt.Fprintf(sb, "%s:%d: %s\n", rel, lineNum, line)
			found++
			if found >= budget {
				return found, nil
			}
		}
	}
	return found, scanner.Err()
}
