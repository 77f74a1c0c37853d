package compaction

import (
	"context"
	"fmt"

	"github.com/obra/lace-sub014/pkg/types"
)

// recentAgentMessages is how many trailing AGENT_MESSAGE events are kept
// verbatim alongside every USER_MESSAGE; everything else in between
// (tool calls, tool results, approvals) is collapsed into one summary.
const recentAgentMessages = 2

// Summarize asks a provider adapter for a short prose summary of the
// prefix, keeping USER_MESSAGE and the most recent AGENT_MESSAGE events
// verbatim and collapsing tool chatter into a single AGENT_MESSAGE.
type Summarize struct {
	summarizer Summarizer
}

// ID implements Strategy.
func (s *Summarize) ID() string { return "summarize" }

// Compact implements Strategy.
func (s *Summarize) Compact(ctx context.Context, events []types.Event, params map[string]any) (types.CompactionPayload, error) {
	if s.summarizer == nil {
		return types.CompactionPayload{}, fmt.Errorf("compaction: summarize strategy has no summarizer configured")
	}

	keepVerbatim, toSummarize := splitForSummary(events)

	text, err := s.summarizer(ctx, toSummarize)
	if err != nil {
		return types.CompactionPayload{}, fmt.Errorf("compaction: summarize: %w", err)
	}

	replacement := make([]types.Event, 0, len(keepVerbatim)+1)
	if len(toSummarize) > 0 {
		replacement = append(replacement, types.Event{
			Tag:     types.TagAgentMessage,
			Payload: types.AgentMessagePayload{Text: text},
		})
	}
	replacement = append(replacement, keepVerbatim...)

	return types.CompactionPayload{
		StrategyID:         s.ID(),
		OriginalEventCount: len(events),
		ReplacementEvents:  replacement,
	}, nil
}

// splitForSummary returns, in original order, the events to keep
// verbatim (all USER_MESSAGE, plus the trailing run of AGENT_MESSAGE
// events) and the events that should instead feed the summary.
func splitForSummary(events []types.Event) (keepVerbatim, toSummarize []types.Event) {
	keepFromIdx := len(events)
	agentSeen := 0
	for i := len(events) - 1; i >= 0; i-- {
		if events[i].Tag == types.TagAgentMessage {
			agentSeen++
			keepFromIdx = i
			if agentSeen >= recentAgentMessages {
				break
			}
			continue
		}
		if events[i].Tag == types.TagUserMessage {
			continue
		}
		break
	}

	for i, ev := range events {
		switch {
		case ev.Tag == types.TagUserMessage:
			keepVerbatim = append(keepVerbatim, ev)
		case i >= keepFromIdx && ev.Tag == types.TagAgentMessage:
			keepVerbatim = append(keepVerbatim, ev)
		default:
			toSummarize = append(toSummarize, ev)
		}
	}
	return keepVerbatim, toSummarize
}
