// Package tool provides the tool framework: declarations, the
// registry, and the executor that gates side-effecting tools behind
// the approval protocol.
package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/obra/lace-sub014/pkg/types"
)

// DefaultTimeout bounds a single tool execution unless the declaration
// overrides it.
const DefaultTimeout = 2 * time.Minute

// Annotations describe a tool's side-effect profile. ReadOnly tools
// run without approval; the other two are advisory hints surfaced to
// approvers and providers.
type Annotations struct {
	ReadOnly    bool `json:"readOnly,omitempty"`
	Idempotent  bool `json:"idempotent,omitempty"`
	Destructive bool `json:"destructive,omitempty"`
}

// Declaration is a tool's static metadata: identity, argument schema,
// annotations, and execution timeout.
type Declaration struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Schema      json.RawMessage `json:"schema"`
	Annotations Annotations     `json:"annotations"`
	Timeout     time.Duration   `json:"-"`
}

// Tool is the two-operation handler contract: static metadata plus
// execution over validated arguments.
type Tool interface {
	Metadata() Declaration
	Execute(ctx context.Context, args map[string]any, tc *Context) (*Result, error)
}

// Context carries the identifiers and environment of one invocation.
// Cancellation travels on the ctx passed to Execute, not here.
type Context struct {
	ThreadID  string
	SessionID string
	ProjectID string
	CallID    string
	WorkDir   string
}

// Result is a tool's output: content blocks plus an error flag. IsError
// marks output that describes a failure the provider should see (as
// opposed to a Go error, which marks the handler itself misbehaving).
type Result struct {
	Content  []types.ContentBlock `json:"content"`
	IsError  bool                 `json:"isError,omitempty"`
	Metadata map[string]any       `json:"metadata,omitempty"`
}

// TextResult builds a single-text-block success result.
func TextResult(text string) *Result {
	return &Result{Content: []types.ContentBlock{{Type: "text", Text: text}}}
}

// TextErrorf builds a single-text-block error result.
func TextErrorf(format string, args ...any) *Result {
	return &Result{
		Content: []types.ContentBlock{{Type: "text", Text: fmt.Sprintf(format, args...)}},
		IsError: true,
	}
}
