// Package types holds the data shapes shared across the orchestration
// core: threads, events, sessions, tasks, projects, and the pub/sub
// envelope. These are plain data structures; behaviour lives in the
// packages that consume them (threadstore, conversation, compaction,
// session, event).
package types

// Thread is a conversation container. A Thread is either a top-level
// thread (owned directly by a Session) or a delegate thread, whose ID is
// a dot-suffixed extension of its parent's ID.
type Thread struct {
	ID        string         `json:"id"`
	SessionID string         `json:"sessionID,omitempty"`
	ProjectID string         `json:"projectID,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Created   int64          `json:"created"`
	Updated   int64          `json:"updated"`
}
