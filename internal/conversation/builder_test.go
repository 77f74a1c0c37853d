package conversation

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/obra/lace-sub014/pkg/types"
)

func userMsg(id, text string) types.Event {
	return types.Event{ID: id, Tag: types.TagUserMessage, Payload: types.UserMessagePayload{Text: text}}
}

func toolResult(id, callID string, text string) types.Event {
	return types.Event{ID: id, Tag: types.TagToolResult, Payload: types.ToolResultPayload{
		CallID: callID, Status: types.ToolResultCompleted, Content: []types.ContentBlock{{Type: "text", Text: text}},
	}}
}

func TestWorkingWithNoCompactionDedupsOnly(t *testing.T) {
	raw := []types.Event{
		userMsg("e1", "hello"),
		toolResult("e2", "call1", "first"),
		toolResult("e3", "call1", "duplicate"),
	}
	got := Working(raw)
	assert := assert.New(t)
	assert.Len(got, 2)
	assert.Equal("e1", got[0].ID)
	assert.Equal("e2", got[1].ID)
}

func TestWorkingIsOrderStable(t *testing.T) {
	raw := []types.Event{userMsg("e1", "a"), userMsg("e2", "b")}
	first := Working(raw)
	second := Working(raw)
	assert.Equal(t, first, second)
}

func TestWorkingAppliesValidCompaction(t *testing.T) {
	raw := []types.Event{
		userMsg("e1", "a"),
		userMsg("e2", "b"),
		{ID: "c1", Tag: types.TagCompaction, Payload: types.CompactionPayload{
			StrategyID:         "trim-tool-results",
			OriginalEventCount: 2,
			ReplacementEvents:  []types.Event{userMsg("r1", "summary")},
		}},
		userMsg("e3", "c"),
	}
	got := Working(raw)
	assert := assert.New(t)
	if assert.Len(got, 3) {
		assert.Equal("r1", got[0].ID)
		assert.Equal("c1", got[1].ID)
		assert.Equal("e3", got[2].ID)
	}
}

func TestWorkingFallsBackOnMalformedCompaction(t *testing.T) {
	malformed := types.Event{ID: "c1", Tag: types.TagCompaction, Payload: map[string]any{"wrongField": "oops"}}
	raw := []types.Event{userMsg("e1", "a"), malformed}
	got := Working(raw)
	assert.Equal(t, raw, got, "compaction must never break a read")
}

func TestWorkingDropsToolResultWithoutCallID(t *testing.T) {
	raw := []types.Event{
		userMsg("e1", "a"),
		{ID: "e2", Tag: types.TagToolResult, Payload: types.ToolResultPayload{Status: types.ToolResultCompleted}},
	}
	got := Working(raw)
	assert.Len(t, got, 1)
}
