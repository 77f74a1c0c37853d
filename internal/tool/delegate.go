package tool

import (
	"context"
	"fmt"
)

const delegateDescription = `Delegates a task to a sub-agent and returns its final answer.

Usage:
- Spawns a child conversation under the current thread
- The sub-agent runs with the named provider/model; without one it uses
  the default model of a registered provider, not necessarily the parent's
- The prompt should contain everything the sub-agent needs; it does not
  see the parent conversation`

// DelegateRunner spawns a delegate thread under parentThreadID, drives
// one turn with prompt, and returns the terminal agent message. The
// session layer provides the implementation; the tool package only
// holds the seam.
type DelegateRunner interface {
	RunDelegate(ctx context.Context, parentThreadID, modelSpec, prompt string) (string, error)
}

// DelegateTool spawns sub-agents from inside a running turn.
type DelegateTool struct {
	runner DelegateRunner
}

// NewDelegateTool creates a delegate tool backed by runner.
func NewDelegateTool(runner DelegateRunner) *DelegateTool {
	return &DelegateTool{runner: runner}
}

// Metadata implements Tool.
func (t *DelegateTool) Metadata() Declaration {
	return Declaration{
		Name:        "delegate",
		Description: delegateDescription,
		Schema: []byte(`{
			"type": "object",
			"properties": {
				"prompt": {
					"type": "string",
					"description": "The complete task for the sub-agent"
				},
				"model": {
					"type": "string",
					"description": "Optional provider/model spec, e.g. \"anthropic/claude-3-5-haiku-20241022\""
				}
			},
			"required": ["prompt"]
		}`),
		// Spawning a sub-agent spends tokens and may run its own tools.
		Annotations: Annotations{},
		Timeout:     0,
	}
}

// Execute implements Tool.
func (t *DelegateTool) Execute(ctx context.Context, args map[string]any, tc *Context) (*Result, error) {
	if t.runner == nil {
		return nil, fmt.Errorf("delegate runner not configured")
	}

	prompt := stringArg(args, "prompt")
	modelSpec := stringArg(args, "model")

	parent := ""
	if tc != nil {
		parent = tc.ThreadID
	}

	answer, err := t.runner.RunDelegate(ctx, parent, modelSpec, prompt)
	if err != nil {
		return TextErrorf("Delegate failed: %v", err), nil
	}

	return TextResult(answer), nil
}
