// Package storage is the durable store for threads, events, sessions,
// tasks, task notes, and projects. It is the only component that talks
// to SQLite; every operation it exposes is transactional.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"

	_ "modernc.org/sqlite"

	"github.com/rs/zerolog/log"
)

// ErrNotFound is returned when a lookup finds no row.
var ErrNotFound = errors.New("storage: not found")

// Store is the durable persistence layer. A nil db means the Store is
// running in degraded in-memory mode (see Open).
type Store struct {
	db *sql.DB

	mu       sync.RWMutex
	degraded bool
	mem      *memoryFallback
}

// Open creates or opens a SQLite database at path and applies the schema.
// On failure it logs loudly and returns a Store running in memory-only
// mode: durability is forfeit but all operations below still behave
// correctly within the process lifetime.
func Open(path string) *Store {
	db, err := sql.Open("sqlite", path)
	if err == nil {
		err = db.Ping()
	}
	if err == nil {
		err = applySchema(db)
	}
	if err != nil {
		log.Warn().Err(err).Str("path", path).Msg("storage: falling back to in-memory mode, history will not survive restart")
		if db != nil {
			db.Close()
		}
		return &Store{degraded: true, mem: newMemoryFallback()}
	}
	// SQLite allows only one writer at a time; transactions are the
	// synchronization primitive, not an in-process lock, so a single
	// connection is sufficient and avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	return &Store{db: db}
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Degraded reports whether the store is running without durable backing.
func (s *Store) Degraded() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.degraded
}

// Transaction runs fn inside a SQL transaction, committing on success and
// rolling back on error or panic. In degraded mode it runs fn under a
// mutex instead, giving the same serialization guarantee without a
// database.
func (s *Store) Transaction(ctx context.Context, fn func(tx *sql.Tx) error) error {
	if s.degraded {
		s.mu.Lock()
		defer s.mu.Unlock()
		return fn(nil)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("storage: begin transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("storage: commit transaction: %w", err)
	}
	return nil
}

func applySchema(db *sql.DB) error {
	for _, stmt := range schemaStatements {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("storage: apply schema: %w", err)
		}
	}
	return nil
}

// isUniqueViolation reports whether err came from a UNIQUE constraint,
// SQLite's way of signalling the one "expected" duplicate case (a second
// TOOL_APPROVAL_RESPONSE for a call already decided).
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	// modernc.org/sqlite reports constraint violations with this
	// substring in the driver error text; there is no typed sentinel
	// exported by the driver to match on instead.
	return strings.Contains(err.Error(), "UNIQUE constraint failed") ||
		strings.Contains(err.Error(), "constraint failed: UNIQUE")
}
