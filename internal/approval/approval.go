// Package approval runs the protocol that gates tool execution on an
// external decision: a TOOL_APPROVAL_REQUEST event goes out, a
// TOOL_APPROVAL_RESPONSE comes back (from a UI, an operator, or a
// policy), and the waiting executor gets exactly one answer. The
// durable at-most-once guarantee is the persistence layer's unique
// index on (thread, call id); the in-memory waiter map here only
// provides wake-up.
package approval

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/obra/lace-sub014/internal/threadstore"
	"github.com/obra/lace-sub014/pkg/types"
)

// DefaultTimeout is how long a request waits before collapsing to an
// automatic deny.
const DefaultTimeout = 30 * time.Second

// Coordinator mediates between executors awaiting decisions and the
// callers writing them.
type Coordinator struct {
	threads *threadstore.Store
	timeout time.Duration

	mu      sync.Mutex
	waiters map[string]chan types.ApprovalDecision // call id -> waiter
}

// New creates a coordinator over threads with the default timeout.
func New(threads *threadstore.Store) *Coordinator {
	return &Coordinator{
		threads: threads,
		timeout: DefaultTimeout,
		waiters: make(map[string]chan types.ApprovalDecision),
	}
}

// SetTimeout overrides the wait timeout; zero restores the default.
func (c *Coordinator) SetTimeout(d time.Duration) {
	if d <= 0 {
		d = DefaultTimeout
	}
	c.timeout = d
}

// Request emits a TOOL_APPROVAL_REQUEST for callID and blocks until a
// decision arrives, the timeout elapses (deny, reason timeout), or ctx
// is cancelled (deny, reason cancelled). Implements the executor's
// Approver contract.
func (c *Coordinator) Request(ctx context.Context, threadID, sessionID, callID, toolName string) (types.ApprovalDecision, error) {
	// A decision may already be on record: a restarted process finds
	// answers given while it was down.
	if decision, ok, err := c.threads.ApprovalDecision(ctx, threadID, callID); err != nil {
		return types.ApprovalDeny, err
	} else if ok {
		return decision, nil
	}

	waiter := make(chan types.ApprovalDecision, 1)
	c.mu.Lock()
	c.waiters[callID] = waiter
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.waiters, callID)
		c.mu.Unlock()
	}()

	if _, err := c.threads.AddEvent(ctx, threadID, types.TagToolApprovalRequest,
		types.ToolApprovalRequestPayload{CallID: callID}); err != nil {
		return types.ApprovalDeny, err
	}

	select {
	case decision := <-waiter:
		return decision, nil

	case <-time.After(c.timeout):
		log.Warn().Str("call_id", callID).Str("tool", toolName).Dur("timeout", c.timeout).
			Msg("approval: request timed out, denying")
		return c.autoDeny(threadID, callID, "timeout")

	case <-ctx.Done():
		return c.autoDeny(threadID, callID, "cancelled")
	}
}

// autoDeny records a deny on the caller's behalf. If a real response
// won the race, persistence ignores ours and the stored decision wins.
func (c *Coordinator) autoDeny(threadID, callID, reason string) (types.ApprovalDecision, error) {
	// The requesting context may already be dead; the write must not be.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ev, err := c.threads.AddEvent(ctx, threadID, types.TagToolApprovalResponse,
		types.ToolApprovalResponsePayload{CallID: callID, Decision: types.ApprovalDeny, Reason: reason})
	if err != nil {
		return types.ApprovalDeny, err
	}
	if ev == nil {
		if decision, ok, err := c.threads.ApprovalDecision(ctx, threadID, callID); err == nil && ok {
			return decision, nil
		}
	}
	return types.ApprovalDeny, nil
}

// Respond records a decision for callID and wakes its waiter. Returns
// (nil, nil) when the call was already decided; the duplicate is a
// benign no-op, exactly as persistence treats it.
func (c *Coordinator) Respond(ctx context.Context, threadID, callID string, decision types.ApprovalDecision, reason string) (*types.Event, error) {
	ev, err := c.threads.AddEvent(ctx, threadID, types.TagToolApprovalResponse,
		types.ToolApprovalResponsePayload{CallID: callID, Decision: decision, Reason: reason})
	if err != nil {
		return nil, err
	}
	if ev == nil {
		return nil, nil
	}

	c.mu.Lock()
	waiter, ok := c.waiters[callID]
	c.mu.Unlock()
	if ok {
		select {
		case waiter <- decision:
		default:
		}
	}

	return ev, nil
}

// Pending lists the unanswered approval requests in a thread.
func (c *Coordinator) Pending(ctx context.Context, threadID string) ([]types.ToolApprovalRequestPayload, error) {
	pending, err := c.threads.PendingApprovals(ctx, threadID)
	if err != nil {
		return nil, err
	}
	out := make([]types.ToolApprovalRequestPayload, 0, len(pending))
	for _, p := range pending {
		out = append(out, types.ToolApprovalRequestPayload{CallID: p.CallID})
	}
	return out, nil
}
