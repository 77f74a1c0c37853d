package types

import "encoding/json"

// DecodePayload reconstructs the typed payload for a tag from raw
// JSON. Data that does not fit the tag's type falls back to a generic
// JSON value (or the raw bytes, if it is not JSON at all) rather than an
// error, since a bad payload must never fail a read; the consumers that
// care (the conversation builder, the provider message assembly)
// recognise the typed shapes and pass anything else through.
func DecodePayload(tag Tag, raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}

	typed := func(v any) (any, bool) {
		if err := json.Unmarshal(raw, v); err != nil {
			return nil, false
		}
		return v, true
	}

	var (
		out any
		ok  bool
	)
	switch tag {
	case TagUserMessage:
		out, ok = typed(&UserMessagePayload{})
	case TagAgentMessage:
		out, ok = typed(&AgentMessagePayload{})
	case TagToolCall:
		out, ok = typed(&ToolCallPayload{})
	case TagToolResult:
		// Raw-string payloads from older compaction strategies stay
		// strings.
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			return s
		}
		out, ok = typed(&ToolResultPayload{})
	case TagToolApprovalRequest:
		out, ok = typed(&ToolApprovalRequestPayload{})
	case TagToolApprovalResponse:
		out, ok = typed(&ToolApprovalResponsePayload{})
	case TagLocalSystemMessage:
		out, ok = typed(&LocalSystemMessagePayload{})
	case TagSystemPrompt:
		out, ok = typed(&SystemPromptPayload{})
	case TagUserSystemPrompt:
		out, ok = typed(&UserSystemPromptPayload{})
	case TagCompaction:
		out, ok = typed(&CompactionPayload{})
		// A payload missing the strategy id is not a real compaction;
		// keep the original shape so readers see what was stored.
		if p, isC := out.(*CompactionPayload); ok && isC && p.StrategyID == "" {
			ok = false
		}
	}
	if !ok {
		var generic any
		if err := json.Unmarshal(raw, &generic); err != nil {
			return raw
		}
		return generic
	}

	// Dereference so payloads compare and type-assert as values,
	// matching how they are constructed in code.
	switch p := out.(type) {
	case *UserMessagePayload:
		return *p
	case *AgentMessagePayload:
		return *p
	case *ToolCallPayload:
		return *p
	case *ToolResultPayload:
		return *p
	case *ToolApprovalRequestPayload:
		return *p
	case *ToolApprovalResponsePayload:
		return *p
	case *LocalSystemMessagePayload:
		return *p
	case *SystemPromptPayload:
		return *p
	case *UserSystemPromptPayload:
		return *p
	case *CompactionPayload:
		return *p
	default:
		return out
	}
}

// UnmarshalJSON decodes an Event with its tag-typed payload, so nested
// events (compaction replacement lists) and wire payloads round-trip
// to the same shapes code constructs directly.
func (e *Event) UnmarshalJSON(data []byte) error {
	var aux struct {
		ID        string          `json:"id"`
		ThreadID  string          `json:"threadID"`
		Tag       Tag             `json:"tag"`
		Timestamp int64           `json:"timestamp"`
		Payload   json.RawMessage `json:"payload"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	e.ID = aux.ID
	e.ThreadID = aux.ThreadID
	e.Tag = aux.Tag
	e.Timestamp = aux.Timestamp
	e.Payload = DecodePayload(aux.Tag, aux.Payload)
	return nil
}
