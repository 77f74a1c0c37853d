package tool

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

const writeDescription = `Writes content to a file on the local filesystem.

Usage:
- The path may be absolute or relative to the working directory
- This tool will overwrite existing files
- Parent directories will be created if they don't exist
- ALWAYS prefer editing existing files over creating new ones`

// WriteTool implements file writing.
type WriteTool struct {
	workDir string
}

// NewWriteTool creates a new write tool.
func NewWriteTool(workDir string) *WriteTool {
	return &WriteTool{workDir: workDir}
}

// Metadata implements Tool.
func (t *WriteTool) Metadata() Declaration {
	return Declaration{
		Name:        "file-write",
		Description: writeDescription,
		Schema: []byte(`{
			"type": "object",
			"properties": {
				"path": {
					"type": "string",
					"description": "The path to the file to write"
				},
				"content": {
					"type": "string",
					"description": "The content to write to the file"
				}
			},
			"required": ["path", "content"]
		}`),
		Annotations: Annotations{Destructive: true, Idempotent: true},
	}
}

// Execute implements Tool.
func (t *WriteTool) Execute(ctx context.Context, args map[string]any, tc *Context) (*Result, error) {
	path := resolveInWorkDir(stringArg(args, "path"), tc, t.workDir)
	content := stringArg(args, "content")

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return TextErrorf("Cannot create parent directory for %s: %v", path, err), nil
	}

	existed := false
	if _, err := os.Stat(path); err == nil {
		existed = true
	}

	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return TextErrorf("Cannot write %s: %v", path, err), nil
	}

	verb := "Created"
	if existed {
		verb = "Overwrote"
	}
	res := TextResult(fmt.Sprintf("%s %s (%d bytes)", verb, path, len(content)))
	res.Metadata = map[string]any{"path": path, "bytes": len(content), "existed": existed}
	return res, nil
}
