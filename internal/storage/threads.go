package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/obra/lace-sub014/pkg/types"
)

// SaveThread inserts or updates a thread row.
func (s *Store) SaveThread(ctx context.Context, th types.Thread) error {
	if s.degraded {
		s.mem.saveThread(th)
		return nil
	}

	meta, err := json.Marshal(th.Metadata)
	if err != nil {
		return fmt.Errorf("storage: encode thread metadata: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO threads (id, session_id, project_id, metadata, created, updated)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			session_id = excluded.session_id,
			project_id = excluded.project_id,
			metadata = excluded.metadata,
			updated = excluded.updated`,
		th.ID, nullableString(th.SessionID), nullableString(th.ProjectID), string(meta), th.Created, th.Updated,
	)
	if err != nil {
		return fmt.Errorf("storage: save thread: %w", err)
	}
	return nil
}

// LoadThread returns the thread for id, or ErrNotFound.
func (s *Store) LoadThread(ctx context.Context, id string) (types.Thread, error) {
	if s.degraded {
		th, ok := s.mem.loadThread(id)
		if !ok {
			return types.Thread{}, ErrNotFound
		}
		return th, nil
	}

	var th types.Thread
	var sessionID, projectID sql.NullString
	var meta string
	row := s.db.QueryRowContext(ctx,
		`SELECT id, session_id, project_id, metadata, created, updated FROM threads WHERE id = ?`, id)
	if err := row.Scan(&th.ID, &sessionID, &projectID, &meta, &th.Created, &th.Updated); err != nil {
		if err == sql.ErrNoRows {
			return types.Thread{}, ErrNotFound
		}
		return types.Thread{}, fmt.Errorf("storage: load thread: %w", err)
	}
	th.SessionID = sessionID.String
	th.ProjectID = projectID.String
	if meta != "" && meta != "null" {
		if err := json.Unmarshal([]byte(meta), &th.Metadata); err != nil {
			return types.Thread{}, fmt.Errorf("storage: decode thread metadata: %w", err)
		}
	}
	return th, nil
}

// DeleteThread removes a thread and cascades its events.
func (s *Store) DeleteThread(ctx context.Context, id string) error {
	if s.degraded {
		s.mem.deleteThread(id)
		return nil
	}
	return s.Transaction(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM events WHERE thread_id = ?`, id); err != nil {
			return fmt.Errorf("storage: cascade delete events: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM threads WHERE id = ?`, id); err != nil {
			return fmt.Errorf("storage: delete thread: %w", err)
		}
		return nil
	})
}

// ListThreads returns every thread owned by sessionID, oldest first.
func (s *Store) ListThreads(ctx context.Context, sessionID string) ([]types.Thread, error) {
	if s.degraded {
		return s.mem.listThreads(sessionID), nil
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, project_id, metadata, created, updated FROM threads WHERE session_id = ? ORDER BY created ASC`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: list threads: %w", err)
	}
	defer rows.Close()

	var out []types.Thread
	for rows.Next() {
		var th types.Thread
		var sessID, projID sql.NullString
		var meta string
		if err := rows.Scan(&th.ID, &sessID, &projID, &meta, &th.Created, &th.Updated); err != nil {
			return nil, fmt.Errorf("storage: scan thread: %w", err)
		}
		th.SessionID = sessID.String
		th.ProjectID = projID.String
		if meta != "" && meta != "null" {
			if err := json.Unmarshal([]byte(meta), &th.Metadata); err != nil {
				return nil, fmt.Errorf("storage: decode thread metadata: %w", err)
			}
		}
		out = append(out, th)
	}
	return out, rows.Err()
}

// ChildThreadIDs returns the IDs of parentID's direct and indirect
// delegate threads (those whose ID starts with "parentID.").
func (s *Store) ChildThreadIDs(ctx context.Context, parentID string) ([]string, error) {
	if s.degraded {
		return s.mem.childThreadIDs(parentID), nil
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id FROM threads WHERE id LIKE ? ORDER BY id ASC`, parentID+".%")
	if err != nil {
		return nil, fmt.Errorf("storage: child thread ids: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("storage: scan thread id: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
