package types

// Scope labels an Envelope for fan-out filtering. Any field may be empty;
// subscribers match on the fields they care about.
type Scope struct {
	ProjectID string `json:"projectID,omitempty"`
	SessionID string `json:"sessionID,omitempty"`
	ThreadID  string `json:"threadID,omitempty"`
	TaskID    string `json:"taskID,omitempty"`
	CallID    string `json:"callID,omitempty"`
}

// Kind discriminates an Envelope's payload, independent of Tag (Kind
// covers both persisted-event mirrors and bus-only notifications like
// token deltas and task lifecycle changes).
type Kind string

const (
	KindEvent         Kind = "event"       // mirrors a persisted Event
	KindTokenDelta    Kind = "token_delta" // transient streaming token
	KindTaskCreated   Kind = "task:created"
	KindTaskUpdated   Kind = "task:updated"
	KindTaskDeleted   Kind = "task:deleted"
	KindTaskNoteAdded Kind = "task:note_added"
)

// Envelope is the unified shape carried by the Event bus. Persisted
// distinguishes envelopes that mirror a durable Event (Persisted=true)
// from transient, UI-only notifications (Persisted=false) such as token
// deltas. Consumers must not attempt to write a transient envelope back
// to storage.
type Envelope struct {
	ID        string `json:"id"`
	Timestamp int64  `json:"timestamp"`
	Scope     Scope  `json:"scope"`
	Kind      Kind   `json:"kind"`
	Payload   any    `json:"payload"`
	Persisted bool   `json:"persisted"`
}
