package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/obra/lace-sub014/pkg/types"
)

// SaveTask inserts a new task row (without notes; use AddTaskNote).
func (s *Store) SaveTask(ctx context.Context, t types.Task) error {
	if s.degraded {
		s.mem.saveTask(t)
		return nil
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tasks (id, session_id, thread_id, title, description, prompt, status, priority, assignee, creator, created, updated)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.SessionID, t.ThreadID, t.Title, t.Description, t.Prompt,
		string(t.Status), string(t.Priority), t.Assignee, t.Creator, t.Created, t.Updated)
	if err != nil {
		return fmt.Errorf("storage: save task: %w", err)
	}
	return nil
}

// LoadTask returns a task (with its notes) or ErrNotFound.
func (s *Store) LoadTask(ctx context.Context, id string) (types.Task, error) {
	if s.degraded {
		t, ok := s.mem.loadTask(id)
		if !ok {
			return types.Task{}, ErrNotFound
		}
		return t, nil
	}

	var t types.Task
	var status, priority string
	row := s.db.QueryRowContext(ctx, `
		SELECT id, session_id, thread_id, title, description, prompt, status, priority, assignee, creator, created, updated
		FROM tasks WHERE id = ?`, id)
	if err := row.Scan(&t.ID, &t.SessionID, &t.ThreadID, &t.Title, &t.Description, &t.Prompt,
		&status, &priority, &t.Assignee, &t.Creator, &t.Created, &t.Updated); err != nil {
		if err == sql.ErrNoRows {
			return types.Task{}, ErrNotFound
		}
		return types.Task{}, fmt.Errorf("storage: load task: %w", err)
	}
	t.Status = types.TaskStatus(status)
	t.Priority = types.TaskPriority(priority)

	notes, err := s.loadTaskNotes(ctx, id)
	if err != nil {
		return types.Task{}, err
	}
	t.Notes = notes
	return t, nil
}

func (s *Store) loadTaskNotes(ctx context.Context, taskID string) ([]types.TaskNote, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT author, content, timestamp FROM task_notes WHERE task_id = ? ORDER BY seq ASC`, taskID)
	if err != nil {
		return nil, fmt.Errorf("storage: load task notes: %w", err)
	}
	defer rows.Close()
	var out []types.TaskNote
	for rows.Next() {
		var n types.TaskNote
		if err := rows.Scan(&n.Author, &n.Content, &n.Timestamp); err != nil {
			return nil, fmt.Errorf("storage: scan task note: %w", err)
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// UpdateTask overwrites a task's mutable fields (not notes).
func (s *Store) UpdateTask(ctx context.Context, t types.Task) error {
	if s.degraded {
		s.mem.saveTask(t)
		return nil
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE tasks SET title = ?, description = ?, prompt = ?, status = ?, priority = ?, assignee = ?, updated = ?
		WHERE id = ?`,
		t.Title, t.Description, t.Prompt, string(t.Status), string(t.Priority), t.Assignee, t.Updated, t.ID)
	if err != nil {
		return fmt.Errorf("storage: update task: %w", err)
	}
	return nil
}

// DeleteTask removes a task and its notes.
func (s *Store) DeleteTask(ctx context.Context, id string) error {
	if s.degraded {
		s.mem.deleteTask(id)
		return nil
	}
	return s.Transaction(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM task_notes WHERE task_id = ?`, id); err != nil {
			return fmt.Errorf("storage: delete task notes: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, id); err != nil {
			return fmt.Errorf("storage: delete task: %w", err)
		}
		return nil
	})
}

// ListTasks returns tasks owned by sessionID matching filter, oldest
// first, without notes populated (callers use LoadTask for full detail).
func (s *Store) ListTasks(ctx context.Context, sessionID string, filter types.TaskFilter) ([]types.Task, error) {
	if s.degraded {
		return s.mem.listTasks(sessionID, filter), nil
	}

	query := `SELECT id, session_id, thread_id, title, description, prompt, status, priority, assignee, creator, created, updated
		FROM tasks WHERE session_id = ?`
	args := []any{sessionID}
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if filter.Priority != "" {
		query += ` AND priority = ?`
		args = append(args, string(filter.Priority))
	}
	if filter.Assignee != "" {
		query += ` AND assignee = ?`
		args = append(args, filter.Assignee)
	}
	query += ` ORDER BY created ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("storage: list tasks: %w", err)
	}
	defer rows.Close()

	var out []types.Task
	for rows.Next() {
		var t types.Task
		var status, priority string
		if err := rows.Scan(&t.ID, &t.SessionID, &t.ThreadID, &t.Title, &t.Description, &t.Prompt,
			&status, &priority, &t.Assignee, &t.Creator, &t.Created, &t.Updated); err != nil {
			return nil, fmt.Errorf("storage: scan task: %w", err)
		}
		t.Status = types.TaskStatus(status)
		t.Priority = types.TaskPriority(priority)
		out = append(out, t)
	}
	return out, rows.Err()
}

// AddTaskNote appends a note, reporting false if the task does not exist.
func (s *Store) AddTaskNote(ctx context.Context, taskID string, note types.TaskNote) (bool, error) {
	if s.degraded {
		return s.mem.addTaskNote(taskID, note), nil
	}

	var ok bool
	err := s.Transaction(ctx, func(tx *sql.Tx) error {
		var count int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(1) FROM tasks WHERE id = ?`, taskID).Scan(&count); err != nil {
			return fmt.Errorf("storage: check task exists: %w", err)
		}
		if count == 0 {
			return nil
		}
		var seq sql.NullInt64
		if err := tx.QueryRowContext(ctx, `SELECT MAX(seq) FROM task_notes WHERE task_id = ?`, taskID).Scan(&seq); err != nil {
			return fmt.Errorf("storage: next note seq: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO task_notes (task_id, seq, author, content, timestamp) VALUES (?, ?, ?, ?, ?)`,
			taskID, seq.Int64+1, note.Author, note.Content, note.Timestamp); err != nil {
			return fmt.Errorf("storage: insert task note: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `UPDATE tasks SET updated = ? WHERE id = ?`, note.Timestamp, taskID); err != nil {
			return fmt.Errorf("storage: touch task: %w", err)
		}
		ok = true
		return nil
	})
	return ok, err
}
