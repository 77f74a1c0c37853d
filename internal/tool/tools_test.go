package tool

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/obra/lace-sub014/internal/permission"
)

func writeTestFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestReadTool(t *testing.T) {
	dir := t.TempDir()
	writeTestFile(t, dir, "hello.txt", "first\nsecond\nthird\n")

	res, err := NewReadTool(dir).Execute(context.Background(),
		map[string]any{"path": "hello.txt"}, &Context{WorkDir: dir})
	require.NoError(t, err)
	require.False(t, res.IsError)
	assert.Contains(t, res.Content[0].Text, "1\tfirst")
	assert.Contains(t, res.Content[0].Text, "3\tthird")
}

func TestReadToolOffsetLimit(t *testing.T) {
	dir := t.TempDir()
	writeTestFile(t, dir, "nums.txt", "1\n2\n3\n4\n5\n")

	res, err := NewReadTool(dir).Execute(context.Background(),
		map[string]any{"path": "nums.txt", "offset": float64(2), "limit": float64(2)},
		&Context{WorkDir: dir})
	require.NoError(t, err)
	assert.Contains(t, res.Content[0].Text, "2\t2")
	assert.Contains(t, res.Content[0].Text, "3\t3")
	assert.NotContains(t, res.Content[0].Text, "4\t4")
}

func TestReadToolMissingFile(t *testing.T) {
	dir := t.TempDir()
	res, err := NewReadTool(dir).Execute(context.Background(),
		map[string]any{"path": "absent.txt"}, &Context{WorkDir: dir})
	require.NoError(t, err)
	assert.True(t, res.IsError)
}

func TestWriteTool(t *testing.T) {
	dir := t.TempDir()

	res, err := NewWriteTool(dir).Execute(context.Background(),
		map[string]any{"path": "sub/out.txt", "content": "written"},
		&Context{WorkDir: dir})
	require.NoError(t, err)
	require.False(t, res.IsError)

	data, err := os.ReadFile(filepath.Join(dir, "sub", "out.txt"))
	require.NoError(t, err)
	assert.Equal(t, "written", string(data))
	assert.Contains(t, res.Content[0].Text, "Created")

	res, err = NewWriteTool(dir).Execute(context.Background(),
		map[string]any{"path": "sub/out.txt", "content": "replaced"},
		&Context{WorkDir: dir})
	require.NoError(t, err)
	assert.Contains(t, res.Content[0].Text, "Overwrote")
}

func TestEditTool(t *testing.T) {
	dir := t.TempDir()
	path := writeTestFile(t, dir, "code.go", "func main() {\n\told()\n}\n")

	res, err := NewEditTool(dir).Execute(context.Background(), map[string]any{
		"path": "code.go", "old_string": "old()", "new_string": "new()",
	}, &Context{WorkDir: dir})
	require.NoError(t, err)
	require.False(t, res.IsError, res.Content[0].Text)

	data, _ := os.ReadFile(path)
	assert.Contains(t, string(data), "new()")
	assert.Contains(t, res.Content[0].Text, "+")
	assert.Equal(t, 1, res.Metadata["additions"])
	assert.Equal(t, 1, res.Metadata["deletions"])
}

func TestEditToolAmbiguous(t *testing.T) {
	dir := t.TempDir()
	writeTestFile(t, dir, "dup.txt", "x\nx\n")

	res, err := NewEditTool(dir).Execute(context.Background(), map[string]any{
		"path": "dup.txt", "old_string": "x", "new_string": "y",
	}, &Context{WorkDir: dir})
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Contains(t, res.Content[0].Text, "replace_all")
}

func TestEditToolReplaceAll(t *testing.T) {
	dir := t.TempDir()
	path := writeTestFile(t, dir, "dup.txt", "x\nx\n")

	res, err := NewEditTool(dir).Execute(context.Background(), map[string]any{
		"path": "dup.txt", "old_string": "x", "new_string": "y", "replace_all": true,
	}, &Context{WorkDir: dir})
	require.NoError(t, err)
	require.False(t, res.IsError)

	data, _ := os.ReadFile(path)
	assert.Equal(t, "y\ny\n", string(data))
}

func TestEditToolNotFoundSuggestsClosest(t *testing.T) {
	dir := t.TempDir()
	writeTestFile(t, dir, "code.go", "func mian() {}\n")

	res, err := NewEditTool(dir).Execute(context.Background(), map[string]any{
		"path": "code.go", "old_string": "func main() {}", "new_string": "x",
	}, &Context{WorkDir: dir})
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Contains(t, res.Content[0].Text, "mian")
}

func TestListTool(t *testing.T) {
	dir := t.TempDir()
	writeTestFile(t, dir, "a.txt", "")
	writeTestFile(t, dir, "b.txt", "")
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "sub"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "node_modules"), 0o755))

	res, err := NewListTool(dir).Execute(context.Background(),
		map[string]any{"path": "."}, &Context{WorkDir: dir})
	require.NoError(t, err)
	require.False(t, res.IsError)
	assert.Contains(t, res.Content[0].Text, "a.txt")
	assert.Contains(t, res.Content[0].Text, "sub/")
	assert.NotContains(t, res.Content[0].Text, "node_modules")
}

func TestGlobTool(t *testing.T) {
	dir := t.TempDir()
	writeTestFile(t, dir, "main.go", "")
	writeTestFile(t, dir, "sub/util.go", "")
	writeTestFile(t, dir, "README.md", "")

	res, err := NewGlobTool(dir).Execute(context.Background(),
		map[string]any{"pattern": "**/*.go"}, &Context{WorkDir: dir})
	require.NoError(t, err)
	require.False(t, res.IsError)
	assert.Contains(t, res.Content[0].Text, "main.go")
	assert.Contains(t, res.Content[0].Text, "sub/util.go")
	assert.NotContains(t, res.Content[0].Text, "README.md")
}

func TestGrepTool(t *testing.T) {
	dir := t.TempDir()
	writeTestFile(t, dir, "a.go", "package main\nfunc Hello() {}\n")
	writeTestFile(t, dir, "b.txt", "hello world\n")

	res, err := NewGrepTool(dir).Execute(context.Background(),
		map[string]any{"pattern": "Hello", "include": "*.go"}, &Context{WorkDir: dir})
	require.NoError(t, err)
	require.False(t, res.IsError)
	assert.Contains(t, res.Content[0].Text, "a.go:2")
	assert.NotContains(t, res.Content[0].Text, "b.txt")
}

func TestGrepToolNoMatches(t *testing.T) {
	dir := t.TempDir()
	res, err := NewGrepTool(dir).Execute(context.Background(),
		map[string]any{"pattern": "absent"}, &Context{WorkDir: dir})
	require.NoError(t, err)
	assert.Equal(t, "No matches found", res.Content[0].Text)
}

func TestBashTool(t *testing.T) {
	dir := t.TempDir()
	res, err := NewBashTool(dir).Execute(context.Background(),
		map[string]any{"command": "echo hello && pwd"}, &Context{WorkDir: dir})
	require.NoError(t, err)
	require.False(t, res.IsError)
	assert.Contains(t, res.Content[0].Text, "hello")
	assert.Equal(t, 0, res.Metadata["exit"])
}

func TestBashToolNonZeroExit(t *testing.T) {
	dir := t.TempDir()
	res, err := NewBashTool(dir).Execute(context.Background(),
		map[string]any{"command": "exit 3"}, &Context{WorkDir: dir})
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Equal(t, 3, res.Metadata["exit"])
}

func TestBashToolRefusesExternalPaths(t *testing.T) {
	dir := t.TempDir()
	res, err := NewBashTool(dir).Execute(context.Background(),
		map[string]any{"command": "rm -rf /etc/passwd"}, &Context{WorkDir: dir})
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Contains(t, res.Content[0].Text, "outside of")
}

func TestBashToolDenyPattern(t *testing.T) {
	dir := t.TempDir()
	bt := NewBashTool(dir)
	bt.SetBashPatterns(map[string]permission.Action{"curl *": permission.ActionDeny})

	res, err := bt.Execute(context.Background(),
		map[string]any{"command": "curl https://example.com"}, &Context{WorkDir: dir})
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Contains(t, res.Content[0].Text, "not allowed")
}

func TestWebFetchTool(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html><body><h1>Title</h1><p>Body text</p></body></html>"))
	}))
	defer srv.Close()

	res, err := NewWebFetchTool(t.TempDir()).Execute(context.Background(),
		map[string]any{"url": srv.URL, "format": "text"}, nil)
	require.NoError(t, err)
	require.False(t, res.IsError)
	assert.Contains(t, res.Content[0].Text, "Title")
	assert.Contains(t, res.Content[0].Text, "Body text")
}

func TestWebFetchToolRejectsBadScheme(t *testing.T) {
	res, err := NewWebFetchTool(t.TempDir()).Execute(context.Background(),
		map[string]any{"url": "ftp://example.com"}, nil)
	require.NoError(t, err)
	assert.True(t, res.IsError)
}

func TestDelegateToolNeedsRunner(t *testing.T) {
	_, err := NewDelegateTool(nil).Execute(context.Background(),
		map[string]any{"prompt": "do it"}, nil)
	assert.Error(t, err)
}

type echoRunner struct{}

func (echoRunner) RunDelegate(ctx context.Context, parent, modelSpec, prompt string) (string, error) {
	return "answer to: " + prompt, nil
}

func TestDelegateTool(t *testing.T) {
	res, err := NewDelegateTool(echoRunner{}).Execute(context.Background(),
		map[string]any{"prompt": "count files"}, &Context{ThreadID: "lace_x"})
	require.NoError(t, err)
	assert.Equal(t, "answer to: count files", res.Content[0].Text)
}

func TestDefaultRegistry(t *testing.T) {
	r := DefaultRegistry(t.TempDir())
	for _, name := range []string{"file-read", "file-write", "file-edit", "file-list", "glob", "grep", "bash", "webfetch"} {
		_, ok := r.Get(name)
		assert.True(t, ok, "missing built-in %s", name)
	}

	infos := r.ToolInfos()
	assert.Len(t, infos, 8)

	r.RegisterDelegate(echoRunner{})
	_, ok := r.Get("delegate")
	assert.True(t, ok)
}
