package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/obra/lace-sub014/pkg/types"
)

// SaveProject inserts a new project row.
func (s *Store) SaveProject(ctx context.Context, p types.Project) error {
	if s.degraded {
		s.mem.saveProject(p)
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO projects (id, root, created) VALUES (?, ?, ?)`, p.ID, p.Root, p.Created)
	if err != nil {
		return fmt.Errorf("storage: save project: %w", err)
	}
	return nil
}

// LoadProject returns the project for id, or ErrNotFound.
func (s *Store) LoadProject(ctx context.Context, id string) (types.Project, error) {
	if s.degraded {
		p, ok := s.mem.loadProject(id)
		if !ok {
			return types.Project{}, ErrNotFound
		}
		return p, nil
	}
	var p types.Project
	row := s.db.QueryRowContext(ctx, `SELECT id, root, created FROM projects WHERE id = ?`, id)
	if err := row.Scan(&p.ID, &p.Root, &p.Created); err != nil {
		if err == sql.ErrNoRows {
			return types.Project{}, ErrNotFound
		}
		return types.Project{}, fmt.Errorf("storage: load project: %w", err)
	}
	return p, nil
}

// ListProjects returns all known projects, oldest first.
func (s *Store) ListProjects(ctx context.Context) ([]types.Project, error) {
	if s.degraded {
		return s.mem.listProjects(), nil
	}
	rows, err := s.db.QueryContext(ctx, `SELECT id, root, created FROM projects ORDER BY created ASC`)
	if err != nil {
		return nil, fmt.Errorf("storage: list projects: %w", err)
	}
	defer rows.Close()
	var out []types.Project
	for rows.Next() {
		var p types.Project
		if err := rows.Scan(&p.ID, &p.Root, &p.Created); err != nil {
			return nil, fmt.Errorf("storage: scan project: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
