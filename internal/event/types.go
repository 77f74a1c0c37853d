package event

import "github.com/obra/lace-sub014/pkg/types"

// TokenDeltaPayload is the payload for KindTokenDelta envelopes. Token
// deltas are transient: they exist only on the bus and are never
// persisted to a thread.
type TokenDeltaPayload struct {
	ThreadID string `json:"threadID"`
	TurnID   string `json:"turnID"`
	Delta    string `json:"delta"`
}

// TaskEventPayload is the payload for the task lifecycle kinds
// (task:created, task:updated, task:deleted, task:note_added).
type TaskEventPayload struct {
	Task    types.Task `json:"task"`
	Actor   string     `json:"actor"`
	IsHuman bool       `json:"isHuman"`
}

// ThreadEvent wraps a persisted thread event for publication. Mirrors of
// durable events always travel with Persisted=true on the envelope.
func ThreadEvent(ev types.Event, scope types.Scope) types.Envelope {
	scope.ThreadID = ev.ThreadID
	return NewEnvelope(types.KindEvent, scope, ev, true)
}
