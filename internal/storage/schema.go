package storage

// schemaStatements is applied idempotently at Open. The schema is small
// and stable enough that a migration tool would be overhead.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS projects (
		id TEXT PRIMARY KEY,
		root TEXT NOT NULL,
		created INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		project_id TEXT NOT NULL,
		status TEXT NOT NULL,
		config TEXT,
		created INTEGER NOT NULL,
		updated INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS threads (
		id TEXT PRIMARY KEY,
		session_id TEXT,
		project_id TEXT,
		metadata TEXT,
		created INTEGER NOT NULL,
		updated INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS events (
		id TEXT PRIMARY KEY,
		thread_id TEXT NOT NULL,
		sequence INTEGER NOT NULL,
		tag TEXT NOT NULL,
		call_id TEXT,
		timestamp INTEGER NOT NULL,
		payload TEXT NOT NULL,
		FOREIGN KEY (thread_id) REFERENCES threads(id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_events_thread_sequence ON events(thread_id, sequence)`,
	// At most one TOOL_APPROVAL_RESPONSE per (thread, call_id). The
	// partial index keeps every other tag free of the constraint.
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_events_approval_response_unique
		ON events(thread_id, call_id)
		WHERE tag = 'TOOL_APPROVAL_RESPONSE'`,
	`CREATE TABLE IF NOT EXISTS tasks (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		thread_id TEXT,
		title TEXT NOT NULL,
		description TEXT,
		prompt TEXT,
		status TEXT NOT NULL,
		priority TEXT NOT NULL,
		assignee TEXT,
		creator TEXT,
		created INTEGER NOT NULL,
		updated INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_tasks_session ON tasks(session_id)`,
	`CREATE TABLE IF NOT EXISTS task_notes (
		task_id TEXT NOT NULL,
		seq INTEGER NOT NULL,
		author TEXT NOT NULL,
		content TEXT NOT NULL,
		timestamp INTEGER NOT NULL,
		PRIMARY KEY (task_id, seq),
		FOREIGN KEY (task_id) REFERENCES tasks(id)
	)`,
}
