package types

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventPayloadRoundTrip(t *testing.T) {
	ev := Event{
		ID:        "01ARZ3NDEKTSV4RRFFQ69G5FAV",
		ThreadID:  "lace_20250731_abc123",
		Tag:       TagToolResult,
		Timestamp: 1000,
		Payload: ToolResultPayload{
			CallID:  "call_1",
			Content: []ContentBlock{{Type: "text", Text: "a\nb\nc"}},
			Status:  ToolResultCompleted,
		},
	}

	raw, err := json.Marshal(ev)
	require.NoError(t, err)

	var decoded struct {
		Tag     Tag             `json:"tag"`
		Payload json.RawMessage `json:"payload"`
	}
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, TagToolResult, decoded.Tag)

	var payload ToolResultPayload
	require.NoError(t, json.Unmarshal(decoded.Payload, &payload))
	assert.Equal(t, "call_1", payload.CallID)
	assert.Equal(t, ToolResultCompleted, payload.Status)
}

func TestCompactionPayloadPreservesOriginalCount(t *testing.T) {
	c := CompactionPayload{
		StrategyID:         "trim-tool-results",
		OriginalEventCount: 4,
		ReplacementEvents:  []Event{{ID: "e1", Tag: TagUserMessage}},
	}
	assert.Equal(t, 4, c.OriginalEventCount)
	assert.Len(t, c.ReplacementEvents, 1)
}

func TestTaskAssigneeSentinel(t *testing.T) {
	task := Task{Assignee: AssigneeHuman}
	assert.Equal(t, "human", task.Assignee)
}

func TestEventUnmarshalTypesNestedPayloads(t *testing.T) {
	ev := Event{
		ID: "e1", ThreadID: "lace_20250731_abc123", Tag: TagCompaction,
		Payload: CompactionPayload{
			StrategyID:         "trim-tool-results",
			OriginalEventCount: 2,
			ReplacementEvents: []Event{
				{ID: "r1", Tag: TagUserMessage, Payload: UserMessagePayload{Text: "hi"}},
				{ID: "r2", Tag: TagToolResult, Payload: ToolResultPayload{
					CallID: "c1", Status: ToolResultCompleted,
					Content: []ContentBlock{{Type: "text", Text: "out"}},
				}},
			},
		},
	}

	raw, err := json.Marshal(ev)
	require.NoError(t, err)

	var decoded Event
	require.NoError(t, json.Unmarshal(raw, &decoded))

	p, ok := decoded.Payload.(CompactionPayload)
	require.True(t, ok, "compaction payload must decode typed, got %T", decoded.Payload)
	require.Len(t, p.ReplacementEvents, 2)

	_, ok = p.ReplacementEvents[0].Payload.(UserMessagePayload)
	assert.True(t, ok, "nested payloads must decode typed")
	tr, ok := p.ReplacementEvents[1].Payload.(ToolResultPayload)
	require.True(t, ok)
	assert.Equal(t, "c1", tr.CallID)
}

func TestDecodePayloadMalformedCompactionStaysRaw(t *testing.T) {
	p := DecodePayload(TagCompaction, json.RawMessage(`{"wrongField":"oops"}`))
	_, isCompaction := p.(CompactionPayload)
	assert.False(t, isCompaction, "a payload without a strategy id must not masquerade as a compaction")

	m, ok := p.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "oops", m["wrongField"])
}

func TestDecodePayloadRawStringToolResult(t *testing.T) {
	p := DecodePayload(TagToolResult, json.RawMessage(`"plain old output"`))
	assert.Equal(t, "plain old output", p)
}
