package agent

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/obra/lace-sub014/pkg/types"
)

// Resume repairs a thread after a process restart: every TOOL_CALL
// with no matching TOOL_RESULT gets a synthetic aborted result, so the
// working conversation never carries a dangling call into the next
// provider request. Call it before the agent serves new input.
func (a *Agent) Resume(ctx context.Context) error {
	events, err := a.threads.GetAllEvents(ctx, a.threadID)
	if err != nil {
		return err
	}

	resolved := make(map[string]bool)
	for _, ev := range events {
		if p, ok := ev.Payload.(types.ToolResultPayload); ok {
			resolved[p.CallID] = true
		}
	}

	for _, ev := range events {
		p, ok := ev.Payload.(types.ToolCallPayload)
		if !ok || resolved[p.CallID] {
			continue
		}

		log.Info().Str("thread_id", a.threadID).Str("call_id", p.CallID).
			Msg("agent: aborting dangling tool call on resume")
		if _, err := a.threads.AddEvent(ctx, a.threadID, types.TagToolResult, types.ToolResultPayload{
			CallID:  p.CallID,
			Content: []types.ContentBlock{{Type: "text", Text: "Tool call interrupted by restart."}},
			Status:  types.ToolResultAborted,
		}); err != nil {
			return err
		}
	}

	return nil
}
