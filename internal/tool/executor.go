package tool

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/obra/lace-sub014/internal/permission"
	"github.com/obra/lace-sub014/pkg/types"
)

// DeniedMessage is the fixed text of an aborted outcome produced by an
// approval denial.
const DeniedMessage = "Tool call was not approved."

// Approver runs the approval protocol for one call and returns the
// decision. internal/approval provides the real implementation; tests
// stub it.
type Approver interface {
	Request(ctx context.Context, threadID, sessionID, callID, toolName string) (types.ApprovalDecision, error)
}

// ExecutionRequest is one tool call to run.
type ExecutionRequest struct {
	ThreadID  string
	SessionID string
	ProjectID string
	CallID    string
	ToolName  string
	Args      map[string]any
	// ProfileAction is the acting profile's configured action for this
	// tool; empty means ask.
	ProfileAction permission.Action
	WorkDir       string
}

// Outcome is what the agent records as the TOOL_RESULT payload, plus
// the doom-loop flag it surfaces as a LOCAL_SYSTEM_MESSAGE.
type Outcome struct {
	Status   types.ToolResultStatus
	Content  []types.ContentBlock
	DoomLoop bool
}

// Executor dispatches validated tool calls, gating side-effecting ones
// on the approval protocol.
type Executor struct {
	registry *Registry
	policy   *permission.Policy
	approver Approver
}

// NewExecutor creates an executor over registry. policy decides
// allow/deny/ask; approver runs the ask path.
func NewExecutor(registry *Registry, policy *permission.Policy, approver Approver) *Executor {
	return &Executor{
		registry: registry,
		policy:   policy,
		approver: approver,
	}
}

// Registry returns the underlying tool registry.
func (e *Executor) Registry() *Registry {
	return e.registry
}

// Execute runs one tool call to a terminal outcome. It never returns a
// Go error: every failure mode is encoded in the outcome status so the
// agent can record it and let the provider react.
func (e *Executor) Execute(ctx context.Context, req ExecutionRequest) Outcome {
	t, ok := e.registry.Get(req.ToolName)
	if !ok {
		return failedOutcome("Tool not found: %s", req.ToolName)
	}
	decl := t.Metadata()

	if err := ValidateArgs(decl.Schema, req.Args); err != nil {
		return failedOutcome("Invalid arguments for %s: %v", req.ToolName, err)
	}

	verdict := permission.Verdict{Action: permission.ActionAllow}
	if e.policy != nil {
		verdict = e.policy.Evaluate(req.SessionID, req.ThreadID, req.ToolName,
			decl.Annotations.ReadOnly, req.ProfileAction, req.Args)
	}

	switch verdict.Action {
	case permission.ActionDeny:
		return Outcome{
			Status:   types.ToolResultAborted,
			Content:  []types.ContentBlock{{Type: "text", Text: DeniedMessage}},
			DoomLoop: verdict.DoomLoop,
		}
	case permission.ActionAsk:
		decision, err := e.awaitApproval(ctx, req)
		if err != nil || decision == types.ApprovalDeny {
			return Outcome{
				Status:   types.ToolResultAborted,
				Content:  []types.ContentBlock{{Type: "text", Text: DeniedMessage}},
				DoomLoop: verdict.DoomLoop,
			}
		}
		if decision == types.ApprovalAllowSession && e.policy != nil {
			e.policy.AllowForSession(req.SessionID, req.ToolName)
		}
	}

	outcome := e.run(ctx, t, decl, req)
	outcome.DoomLoop = verdict.DoomLoop
	return outcome
}

func (e *Executor) awaitApproval(ctx context.Context, req ExecutionRequest) (types.ApprovalDecision, error) {
	if e.approver == nil {
		// No approval channel configured: side-effecting calls cannot
		// proceed unattended.
		return types.ApprovalDeny, nil
	}
	decision, err := e.approver.Request(ctx, req.ThreadID, req.SessionID, req.CallID, req.ToolName)
	if err != nil {
		log.Warn().Err(err).Str("call_id", req.CallID).Str("tool", req.ToolName).
			Msg("tool: approval request failed, treating as deny")
		return types.ApprovalDeny, err
	}
	return decision, nil
}

// run invokes the handler under the per-tool timeout with panic
// containment.
func (e *Executor) run(ctx context.Context, t Tool, decl Declaration, req ExecutionRequest) (outcome Outcome) {
	timeout := decl.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	defer func() {
		if p := recover(); p != nil {
			log.Error().Any("panic", p).Str("tool", decl.Name).Str("call_id", req.CallID).
				Msg("tool: handler panicked")
			outcome = failedOutcome("Tool %s panicked: %v", decl.Name, p)
		}
	}()

	workDir := req.WorkDir
	if workDir == "" {
		workDir = e.registry.WorkDir()
	}
	result, err := t.Execute(runCtx, req.Args, &Context{
		ThreadID:  req.ThreadID,
		SessionID: req.SessionID,
		ProjectID: req.ProjectID,
		CallID:    req.CallID,
		WorkDir:   workDir,
	})

	switch {
	case errors.Is(ctx.Err(), context.Canceled):
		// The enclosing turn was cancelled mid-flight.
		return Outcome{
			Status:  types.ToolResultAborted,
			Content: []types.ContentBlock{{Type: "text", Text: "Tool execution aborted."}},
		}
	case errors.Is(runCtx.Err(), context.DeadlineExceeded):
		return failedOutcome("Tool %s timed out after %v", decl.Name, timeout)
	case err != nil:
		return failedOutcome("Tool %s failed: %v", decl.Name, err)
	case result == nil:
		return failedOutcome("Tool %s returned no result", decl.Name)
	case result.IsError:
		return Outcome{Status: types.ToolResultFailed, Content: result.Content}
	default:
		return Outcome{Status: types.ToolResultCompleted, Content: result.Content}
	}
}

func failedOutcome(format string, args ...any) Outcome {
	return Outcome{
		Status:  types.ToolResultFailed,
		Content: []types.ContentBlock{{Type: "text", Text: fmt.Sprintf(format, args...)}},
	}
}
