package tool

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/obra/lace-sub014/internal/permission"
	"github.com/obra/lace-sub014/pkg/types"
)

// stubTool is a scriptable tool for executor tests.
type stubTool struct {
	decl    Declaration
	execute func(ctx context.Context, args map[string]any, tc *Context) (*Result, error)
}

func (s *stubTool) Metadata() Declaration { return s.decl }
func (s *stubTool) Execute(ctx context.Context, args map[string]any, tc *Context) (*Result, error) {
	return s.execute(ctx, args, tc)
}

// stubApprover returns a fixed decision and counts requests.
type stubApprover struct {
	decision types.ApprovalDecision
	err      error
	calls    atomic.Int32
}

func (s *stubApprover) Request(ctx context.Context, threadID, sessionID, callID, toolName string) (types.ApprovalDecision, error) {
	s.calls.Add(1)
	return s.decision, s.err
}

func listStub() *stubTool {
	return &stubTool{
		decl: Declaration{
			Name: "file-list",
			Schema: []byte(`{
				"type": "object",
				"properties": {"path": {"type": "string"}},
				"required": ["path"]
			}`),
			Annotations: Annotations{ReadOnly: true},
		},
		execute: func(ctx context.Context, args map[string]any, tc *Context) (*Result, error) {
			return TextResult("a\nb\nc"), nil
		},
	}
}

func writeStub() *stubTool {
	return &stubTool{
		decl: Declaration{
			Name: "file-write",
			Schema: []byte(`{
				"type": "object",
				"properties": {"path": {"type": "string"}},
				"required": ["path"]
			}`),
			Annotations: Annotations{Destructive: true},
		},
		execute: func(ctx context.Context, args map[string]any, tc *Context) (*Result, error) {
			return TextResult("written"), nil
		},
	}
}

func newExecutor(approver Approver, tools ...Tool) *Executor {
	r := NewRegistry("/tmp")
	for _, t := range tools {
		r.Register(t)
	}
	return NewExecutor(r, permission.NewPolicy(), approver)
}

func TestExecuteUnknownTool(t *testing.T) {
	e := newExecutor(nil)
	out := e.Execute(context.Background(), ExecutionRequest{ToolName: "nope"})
	assert.Equal(t, types.ToolResultFailed, out.Status)
	assert.Contains(t, out.Content[0].Text, "Tool not found")
}

func TestExecuteInvalidArgs(t *testing.T) {
	e := newExecutor(nil, listStub())
	out := e.Execute(context.Background(), ExecutionRequest{
		ToolName: "file-list",
		Args:     map[string]any{},
	})
	assert.Equal(t, types.ToolResultFailed, out.Status)
	assert.Contains(t, out.Content[0].Text, "missing required argument")
}

func TestExecuteReadOnlySkipsApproval(t *testing.T) {
	approver := &stubApprover{decision: types.ApprovalDeny}
	e := newExecutor(approver, listStub())

	out := e.Execute(context.Background(), ExecutionRequest{
		ToolName: "file-list",
		CallID:   "c1",
		Args:     map[string]any{"path": "."},
	})

	assert.Equal(t, types.ToolResultCompleted, out.Status)
	assert.Equal(t, "a\nb\nc", out.Content[0].Text)
	assert.Equal(t, int32(0), approver.calls.Load(), "read-only tools never consult the approver")
}

func TestExecuteAllowOnce(t *testing.T) {
	approver := &stubApprover{decision: types.ApprovalAllowOnce}
	e := newExecutor(approver, writeStub())

	out := e.Execute(context.Background(), ExecutionRequest{
		SessionID: "s1", ThreadID: "t1", CallID: "c1",
		ToolName: "file-write",
		Args:     map[string]any{"path": "x"},
	})

	assert.Equal(t, types.ToolResultCompleted, out.Status)
	assert.Equal(t, int32(1), approver.calls.Load())

	// allow-once does not carry over: the next call asks again.
	e.Execute(context.Background(), ExecutionRequest{
		SessionID: "s1", ThreadID: "t1", CallID: "c2",
		ToolName: "file-write",
		Args:     map[string]any{"path": "y"},
	})
	assert.Equal(t, int32(2), approver.calls.Load())
}

func TestExecuteAllowSessionPersists(t *testing.T) {
	approver := &stubApprover{decision: types.ApprovalAllowSession}
	e := newExecutor(approver, writeStub())

	out := e.Execute(context.Background(), ExecutionRequest{
		SessionID: "s1", ThreadID: "t1", CallID: "c1",
		ToolName: "file-write",
		Args:     map[string]any{"path": "x"},
	})
	require.Equal(t, types.ToolResultCompleted, out.Status)
	assert.Equal(t, int32(1), approver.calls.Load())

	out = e.Execute(context.Background(), ExecutionRequest{
		SessionID: "s1", ThreadID: "t1", CallID: "c2",
		ToolName: "file-write",
		Args:     map[string]any{"path": "y"},
	})
	assert.Equal(t, types.ToolResultCompleted, out.Status)
	assert.Equal(t, int32(1), approver.calls.Load(), "allow-session pre-approves the rest of the session")
}

func TestExecuteDenied(t *testing.T) {
	approver := &stubApprover{decision: types.ApprovalDeny}
	e := newExecutor(approver, writeStub())

	out := e.Execute(context.Background(), ExecutionRequest{
		SessionID: "s1", ThreadID: "t1", CallID: "c1",
		ToolName: "file-write",
		Args:     map[string]any{"path": "x"},
	})

	assert.Equal(t, types.ToolResultAborted, out.Status)
	assert.Equal(t, DeniedMessage, out.Content[0].Text)
}

func TestExecuteProfileDeny(t *testing.T) {
	approver := &stubApprover{decision: types.ApprovalAllowOnce}
	e := newExecutor(approver, writeStub())

	out := e.Execute(context.Background(), ExecutionRequest{
		SessionID: "s1", ThreadID: "t1", CallID: "c1",
		ToolName:      "file-write",
		Args:          map[string]any{"path": "x"},
		ProfileAction: permission.ActionDeny,
	})

	assert.Equal(t, types.ToolResultAborted, out.Status)
	assert.Equal(t, int32(0), approver.calls.Load(), "a profile deny never reaches the approver")
}

func TestExecuteApproverErrorIsDeny(t *testing.T) {
	approver := &stubApprover{err: errors.New("coordinator down")}
	e := newExecutor(approver, writeStub())

	out := e.Execute(context.Background(), ExecutionRequest{
		SessionID: "s1", ThreadID: "t1", CallID: "c1",
		ToolName: "file-write",
		Args:     map[string]any{"path": "x"},
	})
	assert.Equal(t, types.ToolResultAborted, out.Status)
}

func TestExecuteNoApproverIsDeny(t *testing.T) {
	e := newExecutor(nil, writeStub())
	out := e.Execute(context.Background(), ExecutionRequest{
		SessionID: "s1", ThreadID: "t1", CallID: "c1",
		ToolName: "file-write",
		Args:     map[string]any{"path": "x"},
	})
	assert.Equal(t, types.ToolResultAborted, out.Status)
}

func TestExecutePanicBecomesFailed(t *testing.T) {
	panicky := &stubTool{
		decl: Declaration{
			Name:        "panicky",
			Schema:      []byte(`{"type":"object","properties":{}}`),
			Annotations: Annotations{ReadOnly: true},
		},
		execute: func(ctx context.Context, args map[string]any, tc *Context) (*Result, error) {
			panic("boom")
		},
	}
	e := newExecutor(nil, panicky)

	out := e.Execute(context.Background(), ExecutionRequest{ToolName: "panicky", Args: map[string]any{}})
	assert.Equal(t, types.ToolResultFailed, out.Status)
	assert.Contains(t, out.Content[0].Text, "panicked")
}

func TestExecuteHandlerErrorBecomesFailed(t *testing.T) {
	failing := &stubTool{
		decl: Declaration{
			Name:        "failing",
			Schema:      []byte(`{"type":"object","properties":{}}`),
			Annotations: Annotations{ReadOnly: true},
		},
		execute: func(ctx context.Context, args map[string]any, tc *Context) (*Result, error) {
			return nil, errors.New("disk on fire")
		},
	}
	e := newExecutor(nil, failing)

	out := e.Execute(context.Background(), ExecutionRequest{ToolName: "failing", Args: map[string]any{}})
	assert.Equal(t, types.ToolResultFailed, out.Status)
	assert.Contains(t, out.Content[0].Text, "disk on fire")
}

func TestExecuteTimeout(t *testing.T) {
	slow := &stubTool{
		decl: Declaration{
			Name:        "slow",
			Schema:      []byte(`{"type":"object","properties":{}}`),
			Annotations: Annotations{ReadOnly: true},
			Timeout:     20 * time.Millisecond,
		},
		execute: func(ctx context.Context, args map[string]any, tc *Context) (*Result, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}
	e := newExecutor(nil, slow)

	out := e.Execute(context.Background(), ExecutionRequest{ToolName: "slow", Args: map[string]any{}})
	assert.Equal(t, types.ToolResultFailed, out.Status)
	assert.Contains(t, out.Content[0].Text, "timed out")
}

func TestExecuteTurnCancellationAborts(t *testing.T) {
	started := make(chan struct{})
	slow := &stubTool{
		decl: Declaration{
			Name:        "slow",
			Schema:      []byte(`{"type":"object","properties":{}}`),
			Annotations: Annotations{ReadOnly: true},
		},
		execute: func(ctx context.Context, args map[string]any, tc *Context) (*Result, error) {
			close(started)
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}
	e := newExecutor(nil, slow)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-started
		cancel()
	}()

	out := e.Execute(ctx, ExecutionRequest{ToolName: "slow", Args: map[string]any{}})
	assert.Equal(t, types.ToolResultAborted, out.Status)
}

func TestExecuteDoomLoopForcesReapproval(t *testing.T) {
	approver := &stubApprover{decision: types.ApprovalAllowSession}
	e := newExecutor(approver, writeStub())

	args := map[string]any{"path": "same"}
	req := ExecutionRequest{
		SessionID: "s1", ThreadID: "t1",
		ToolName: "file-write", Args: args,
	}

	// First call asks and earns allow-session; the second rides it.
	out := e.Execute(context.Background(), req)
	require.Equal(t, types.ToolResultCompleted, out.Status)
	out = e.Execute(context.Background(), req)
	require.Equal(t, types.ToolResultCompleted, out.Status)
	assert.False(t, out.DoomLoop)
	require.Equal(t, int32(1), approver.calls.Load())

	// The third identical call is a doom loop: fresh approval required.
	out = e.Execute(context.Background(), req)
	assert.True(t, out.DoomLoop)
	assert.Equal(t, int32(2), approver.calls.Load())
}
