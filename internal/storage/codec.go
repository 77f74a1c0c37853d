package storage

import (
	"encoding/json"

	"github.com/obra/lace-sub014/pkg/types"
)

// encodePayload serializes an Event's tag-specific payload to JSON. The
// payload is stored as opaque text; types.DecodePayload knows the
// tag-to-type mapping on the way back out.
func encodePayload(ev types.Event) ([]byte, error) {
	return json.Marshal(ev.Payload)
}

// callIDOf extracts the call identifier from a payload, for the events
// that carry one, so it can be written to the events.call_id column
// (the column the unique partial index is built on).
func callIDOf(ev types.Event) string {
	switch p := ev.Payload.(type) {
	case types.ToolCallPayload:
		return p.CallID
	case types.ToolResultPayload:
		return p.CallID
	case types.ToolApprovalRequestPayload:
		return p.CallID
	case types.ToolApprovalResponsePayload:
		return p.CallID
	default:
		return ""
	}
}

// decodePayload reconstructs the typed payload for a tag from stored
// JSON. Decoding is total: malformed data comes back in raw form, never
// as a read failure.
func decodePayload(tag types.Tag, raw []byte) (any, error) {
	return types.DecodePayload(tag, raw), nil
}
