package tool

import (
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/PuerkitoBio/goquery"
)

const webfetchDescription = `Fetches content from a specified URL and returns it in the requested format.

Usage notes:
  - The URL must be a fully-formed valid URL starting with http:// or https://
  - This tool is read-only and does not modify any files
  - Results may be truncated if the content is very large (>5MB limit)
  - Use format "markdown" for readable content, "text" for plain text, "html" for raw HTML`

const (
	maxResponseSize = 5 * 1024 * 1024
	fetchTimeout    = 30 * time.Second
)

// WebFetchTool fetches web content. Read-only but not idempotent: the
// network content can change between calls.
type WebFetchTool struct {
	workDir string
	client  *http.Client
}

// NewWebFetchTool creates a new webfetch tool.
func NewWebFetchTool(workDir string) *WebFetchTool {
	return &WebFetchTool{
		workDir: workDir,
		client:  &http.Client{Timeout: fetchTimeout},
	}
}

// Metadata implements Tool.
func (t *WebFetchTool) Metadata() Declaration {
	return Declaration{
		Name:        "webfetch",
		Description: webfetchDescription,
		Schema: []byte(`{
			"type": "object",
			"properties": {
				"url": {
					"type": "string",
					"description": "The URL to fetch"
				},
				"format": {
					"type": "string",
					"enum": ["markdown", "text", "html"],
					"description": "Output format (default markdown)"
				}
			},
			"required": ["url"]
		}`),
		Annotations: Annotations{ReadOnly: true},
		Timeout:     2 * fetchTimeout,
	}
}

// Execute implements Tool.
func (t *WebFetchTool) Execute(ctx context.Context, args map[string]any, tc *Context) (*Result, error) {
	url := stringArg(args, "url")
	format := stringArg(args, "format")
	if format == "" {
		format = "markdown"
	}

	if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		return TextErrorf("URL must start with http:// or https://"), nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return TextErrorf("Invalid URL %s: %v", url, err), nil
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return TextErrorf("Fetch failed: %v", err), nil
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return TextErrorf("Fetch failed: HTTP %d", resp.StatusCode), nil
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return TextErrorf("Read failed: %v", err), nil
	}

	html := string(body)
	var output string
	switch format {
	case "html":
		output = html
	case "text":
		output, err = htmlToText(html)
	default:
		output, err = htmlToMarkdown(html)
	}
	if err != nil {
		return TextErrorf("Convert failed: %v", err), nil
	}

	res := TextResult(output)
	res.Metadata = map[string]any{
		"url":    url,
		"format": format,
		"status": resp.StatusCode,
		"bytes":  len(body),
	}
	return res, nil
}

func htmlToMarkdown(html string) (string, error) {
	converter := md.NewConverter("", true, nil)
	return converter.ConvertString(html)
}

func htmlToText(html string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", err
	}
	doc.Find("script, style, noscript").Remove()
	text := doc.Text()

	var lines []string
	for _, line := range strings.Split(text, "\n") {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			lines = append(lines, trimmed)
		}
	}
	return strings.Join(lines, "\n"), nil
}
