package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/obra/lace-sub014/pkg/types"
)

// SaveSession inserts a new session row.
func (s *Store) SaveSession(ctx context.Context, sess types.Session) error {
	if s.degraded {
		s.mem.saveSession(sess)
		return nil
	}
	cfg, err := json.Marshal(sess.Config)
	if err != nil {
		return fmt.Errorf("storage: encode session config: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, project_id, status, config, created, updated) VALUES (?, ?, ?, ?, ?, ?)`,
		sess.ID, sess.ProjectID, string(sess.Status), string(cfg), sess.Created, sess.Updated)
	if err != nil {
		return fmt.Errorf("storage: save session: %w", err)
	}
	return nil
}

// LoadSession returns the session for id, or ErrNotFound.
func (s *Store) LoadSession(ctx context.Context, id string) (types.Session, error) {
	if s.degraded {
		sess, ok := s.mem.loadSession(id)
		if !ok {
			return types.Session{}, ErrNotFound
		}
		return sess, nil
	}
	var sess types.Session
	var status, cfg string
	row := s.db.QueryRowContext(ctx,
		`SELECT id, project_id, status, config, created, updated FROM sessions WHERE id = ?`, id)
	if err := row.Scan(&sess.ID, &sess.ProjectID, &status, &cfg, &sess.Created, &sess.Updated); err != nil {
		if err == sql.ErrNoRows {
			return types.Session{}, ErrNotFound
		}
		return types.Session{}, fmt.Errorf("storage: load session: %w", err)
	}
	sess.Status = types.SessionStatus(status)
	if cfg != "" && cfg != "null" {
		if err := json.Unmarshal([]byte(cfg), &sess.Config); err != nil {
			return types.Session{}, fmt.Errorf("storage: decode session config: %w", err)
		}
	}
	return sess, nil
}

// UpdateSession overwrites a session's mutable fields.
func (s *Store) UpdateSession(ctx context.Context, sess types.Session) error {
	if s.degraded {
		s.mem.saveSession(sess)
		return nil
	}
	cfg, err := json.Marshal(sess.Config)
	if err != nil {
		return fmt.Errorf("storage: encode session config: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		UPDATE sessions SET status = ?, config = ?, updated = ? WHERE id = ?`,
		string(sess.Status), string(cfg), sess.Updated, sess.ID)
	if err != nil {
		return fmt.Errorf("storage: update session: %w", err)
	}
	return nil
}

// DeleteSession removes a session and cascades its tasks and threads
// (which in turn cascades their events).
func (s *Store) DeleteSession(ctx context.Context, id string) error {
	if s.degraded {
		s.mem.deleteSession(id)
		return nil
	}
	return s.Transaction(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM events WHERE thread_id IN (SELECT id FROM threads WHERE session_id = ?)`, id); err != nil {
			return fmt.Errorf("storage: cascade delete events: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM threads WHERE session_id = ?`, id); err != nil {
			return fmt.Errorf("storage: cascade delete threads: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM task_notes WHERE task_id IN (SELECT id FROM tasks WHERE session_id = ?)`, id); err != nil {
			return fmt.Errorf("storage: cascade delete task notes: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM tasks WHERE session_id = ?`, id); err != nil {
			return fmt.Errorf("storage: cascade delete tasks: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id); err != nil {
			return fmt.Errorf("storage: delete session: %w", err)
		}
		return nil
	})
}
