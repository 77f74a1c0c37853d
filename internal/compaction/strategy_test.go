package compaction

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/obra/lace-sub014/pkg/types"
)

func toolResult(callID, text string) types.Event {
	return types.Event{
		ID: "ev_" + callID, Tag: types.TagToolResult,
		Payload: types.ToolResultPayload{
			CallID:  callID,
			Content: []types.ContentBlock{{Type: "text", Text: text}},
			Status:  types.ToolResultCompleted,
		},
	}
}

func TestTrimToolResults(t *testing.T) {
	events := []types.Event{
		{ID: "ev1", Tag: types.TagUserMessage, Payload: types.UserMessagePayload{Text: "ls"}},
		toolResult("c1", "a\nb\nc\nd\ne"),
		toolResult("c2", "short"),
		{ID: "ev4", Tag: types.TagAgentMessage, Payload: types.AgentMessagePayload{Text: "done"}},
	}

	strat := &TrimToolResults{}
	payload, err := strat.Compact(context.Background(), events, map[string]any{"maxLines": 2})
	require.NoError(t, err)

	assert.Equal(t, "trim-tool-results", payload.StrategyID)
	assert.Equal(t, 4, payload.OriginalEventCount)
	require.Len(t, payload.ReplacementEvents, 4)

	long := payload.ReplacementEvents[1].Payload.(types.ToolResultPayload)
	assert.Equal(t, "a\nb\n[results truncated to save space.]", long.Content[0].Text)
	assert.Equal(t, "c1", long.CallID, "call identifier must survive trimming")
	assert.Equal(t, types.ToolResultCompleted, long.Status)

	short := payload.ReplacementEvents[2].Payload.(types.ToolResultPayload)
	assert.Equal(t, "short", short.Content[0].Text, "results under the limit pass through")

	// The source events were not mutated.
	original := events[1].Payload.(types.ToolResultPayload)
	assert.Equal(t, "a\nb\nc\nd\ne", original.Content[0].Text)
}

func TestTrimToolResultsJSONParams(t *testing.T) {
	events := []types.Event{toolResult("c1", "1\n2\n3\n4")}
	strat := &TrimToolResults{}

	payload, err := strat.Compact(context.Background(), events, map[string]any{"maxLines": float64(3)})
	require.NoError(t, err)

	p := payload.ReplacementEvents[0].Payload.(types.ToolResultPayload)
	assert.Equal(t, "1\n2\n3\n[results truncated to save space.]", p.Content[0].Text)
}

func TestSummarizeKeepsUserMessagesVerbatim(t *testing.T) {
	events := []types.Event{
		{ID: "u1", Tag: types.TagUserMessage, Payload: types.UserMessagePayload{Text: "find the bug"}},
		{ID: "t1", Tag: types.TagToolCall, Payload: types.ToolCallPayload{CallID: "c1", ToolName: "grep"}},
		toolResult("c1", "match in main.go"),
		{ID: "a1", Tag: types.TagAgentMessage, Payload: types.AgentMessagePayload{Text: "found it"}},
	}

	var summarized []types.Event
	summarizer := func(ctx context.Context, evs []types.Event) (string, error) {
		summarized = evs
		return "searched the tree and located the bug", nil
	}

	strat := &Summarize{summarizer: summarizer}
	payload, err := strat.Compact(context.Background(), events, nil)
	require.NoError(t, err)

	assert.Equal(t, "summarize", payload.StrategyID)
	assert.Equal(t, 4, payload.OriginalEventCount)

	// Tool chatter fed the summary; user and trailing agent messages did not.
	require.Len(t, summarized, 2)
	assert.Equal(t, types.TagToolCall, summarized[0].Tag)
	assert.Equal(t, types.TagToolResult, summarized[1].Tag)

	require.Len(t, payload.ReplacementEvents, 3)
	summary := payload.ReplacementEvents[0].Payload.(types.AgentMessagePayload)
	assert.True(t, strings.Contains(summary.Text, "located the bug"))
	assert.Equal(t, types.TagUserMessage, payload.ReplacementEvents[1].Tag)
	assert.Equal(t, types.TagAgentMessage, payload.ReplacementEvents[2].Tag)
}

func TestSummarizePropagatesProviderError(t *testing.T) {
	strat := &Summarize{summarizer: func(context.Context, []types.Event) (string, error) {
		return "", errors.New("provider unavailable")
	}}

	_, err := strat.Compact(context.Background(), []types.Event{toolResult("c1", "x")}, nil)
	assert.Error(t, err)
}

func TestRegistryUnknownStrategy(t *testing.T) {
	r := Default(nil)

	_, err := r.Get("trim-tool-results")
	assert.NoError(t, err)
	_, err = r.Get("summarize")
	assert.NoError(t, err)

	_, err = r.Get("nope")
	assert.Error(t, err)

	_, err = r.Compact(context.Background(), "nope", nil, nil)
	assert.Error(t, err)
}
