package tool

import (
	"bufio"
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/obra/lace-sub014/pkg/types"
)

const readDescription = `Reads a file from the local filesystem.

Usage:
- The path may be absolute or relative to the working directory
- By default, reads up to 2000 lines from the beginning
- You can optionally specify offset and limit for pagination
- Returns file contents with line numbers
- Can read image files and return them as base64 data`

const (
	defaultReadLimit = 2000
	maxLineLength    = 2000
)

// ReadTool reads files, returning numbered text lines or inline image
// blocks.
type ReadTool struct {
	workDir string
}

// NewReadTool creates a new read tool.
func NewReadTool(workDir string) *ReadTool {
	return &ReadTool{workDir: workDir}
}

// Metadata implements Tool.
func (t *ReadTool) Metadata() Declaration {
	return Declaration{
		Name:        "file-read",
		Description: readDescription,
		Schema: []byte(`{
			"type": "object",
			"properties": {
				"path": {
					"type": "string",
					"description": "The path to the file to read"
				},
				"offset": {
					"type": "integer",
					"description": "Line number to start reading from (1-based)"
				},
				"limit": {
					"type": "integer",
					"description": "Maximum number of lines to read"
				}
			},
			"required": ["path"]
		}`),
		Annotations: Annotations{ReadOnly: true, Idempotent: true},
	}
}

// Execute implements Tool.
func (t *ReadTool) Execute(ctx context.Context, args map[string]any, tc *Context) (*Result, error) {
	path := resolveInWorkDir(stringArg(args, "path"), tc, t.workDir)
	offset := intArg(args, "offset", 1)
	if offset < 1 {
		offset = 1
	}
	limit := intArg(args, "limit", defaultReadLimit)

	info, err := os.Stat(path)
	if err != nil {
		return TextErrorf("Cannot read %s: %v", path, err), nil
	}
	if info.IsDir() {
		return TextErrorf("%s is a directory; use file-list instead", path), nil
	}

	if blocks, ok := readImage(path); ok {
		return &Result{Content: blocks}, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return TextErrorf("Cannot open %s: %v", path, err), nil
	}
	defer f.Close()

	var sb strings.Builder
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 1024*1024), 1024*1024)
	lineNum := 0
	written := 0
	for scanner.Scan() {
		lineNum++
		if lineNum < offset {
			continue
		}
		if written >= limit {
			sb.WriteString(fmt.Sprintf("\n(truncated at %d lines)", limit))
			break
		}
		line := scanner.Text()
		if len(line) > maxLineLength {
			line = line[:maxLineLength] + "..."
		}
		sb.WriteString(fmt.Sprintf("%6d\t%s\n", lineNum, line))
		written++
	}
	if err := scanner.Err(); err != nil {
		return TextErrorf("Error reading %s: %v", path, err), nil
	}

	return TextResult(sb.String()), nil
}

// imageExtensions maps recognised image extensions to MIME types.
var imageExtensions = map[string]string{
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".gif":  "image/gif",
	".webp": "image/webp",
}

func readImage(path string) ([]types.ContentBlock, bool) {
	mime, ok := imageExtensions[strings.ToLower(filepath.Ext(path))]
	if !ok {
		return nil, false
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, false
	}
	return []types.ContentBlock{{
		Type:     "image",
		MimeType: mime,
		Data:     base64.StdEncoding.EncodeToString(data),
	}}, true
}

// resolveInWorkDir resolves a possibly-relative path against the
// invocation's working directory.
func resolveInWorkDir(path string, tc *Context, fallback string) string {
	if filepath.IsAbs(path) {
		return filepath.Clean(path)
	}
	base := fallback
	if tc != nil && tc.WorkDir != "" {
		base = tc.WorkDir
	}
	return filepath.Join(base, path)
}
