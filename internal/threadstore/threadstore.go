// Package threadstore is the sole writer of thread events. It wraps the
// durable store with a process-local read-through cache, generates
// thread and event identifiers, and derives the two views of a thread:
// the working conversation and the complete history.
package threadstore

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/obra/lace-sub014/internal/compaction"
	"github.com/obra/lace-sub014/internal/event"
	"github.com/obra/lace-sub014/internal/storage"
	"github.com/obra/lace-sub014/pkg/types"
)

// threadIDPattern is the enforced shape: lace_<yyyymmdd>_<6 alphanum>
// with optional dot-suffixed integers for the delegate hierarchy.
var threadIDPattern = regexp.MustCompile(`^lace_\d{8}_[0-9a-z]{6}(\.\d+)*$`)

// ValidThreadID reports whether id has the canonical shape.
func ValidThreadID(id string) bool {
	return threadIDPattern.MatchString(id)
}

// CanonicalID returns the identifier external callers use for a thread.
// Compaction rewrites a thread's working conversation but never its
// identifier, so this is the identity function; it exists as a named
// operation so callers never have to reason about whether a rewrite
// changed the id.
func CanonicalID(threadID string) string {
	return threadID
}

// ParentID returns the parent of a delegate thread id, or "" for a
// top-level thread.
func ParentID(threadID string) string {
	idx := strings.LastIndex(threadID, ".")
	if idx == -1 {
		return ""
	}
	return threadID[:idx]
}

// Store wraps persistence with a per-process cache of hydrated threads.
// SQLite remains the authority across processes: the cache is an
// optimisation, repopulated from persistence on a miss, and never
// updated ahead of a successful write.
type Store struct {
	db         *storage.Store
	bus        *event.Bus
	strategies *compaction.Registry

	mu    sync.Mutex
	cache map[string]*cacheEntry
}

type cacheEntry struct {
	thread types.Thread
	events []types.Event
}

// New creates a thread store over db, publishing every appended event on
// bus. strategies backs Compact; pass compaction.Default for the two
// built-ins.
func New(db *storage.Store, bus *event.Bus, strategies *compaction.Registry) *Store {
	return &Store{
		db:         db,
		bus:        bus,
		strategies: strategies,
		cache:      make(map[string]*cacheEntry),
	}
}

// CreateOptions configures CreateThread. With Parent set, the new
// thread is a delegate: its id extends the parent's and it inherits the
// parent's session and project unless overridden.
type CreateOptions struct {
	Parent    string
	SessionID string
	ProjectID string
	Metadata  map[string]any
}

// CreateThread creates and persists a new thread, returning its id.
func (s *Store) CreateThread(ctx context.Context, opts CreateOptions) (string, error) {
	var id string
	th := types.Thread{
		SessionID: opts.SessionID,
		ProjectID: opts.ProjectID,
		Metadata:  opts.Metadata,
	}

	if opts.Parent != "" {
		parent, err := s.loadThread(ctx, opts.Parent)
		if err != nil {
			return "", fmt.Errorf("threadstore: delegate parent %s: %w", opts.Parent, err)
		}
		next, err := s.nextDelegateIndex(ctx, opts.Parent)
		if err != nil {
			return "", err
		}
		id = fmt.Sprintf("%s.%d", opts.Parent, next)
		if th.SessionID == "" {
			th.SessionID = parent.SessionID
		}
		if th.ProjectID == "" {
			th.ProjectID = parent.ProjectID
		}
	} else {
		id = NewThreadID(time.Now())
	}

	now := time.Now().UnixMilli()
	th.ID = id
	th.Created = now
	th.Updated = now

	if err := s.db.SaveThread(ctx, th); err != nil {
		return "", err
	}

	s.mu.Lock()
	s.cache[id] = &cacheEntry{thread: th}
	s.mu.Unlock()

	return id, nil
}

// nextDelegateIndex returns one past the highest direct-child index of
// parent, starting at 1.
func (s *Store) nextDelegateIndex(ctx context.Context, parent string) (int, error) {
	ids, err := s.db.ChildThreadIDs(ctx, parent)
	if err != nil {
		return 0, err
	}
	max := 0
	prefix := parent + "."
	for _, id := range ids {
		rest := strings.TrimPrefix(id, prefix)
		// Direct children only; grandchildren carry another dot.
		if strings.Contains(rest, ".") {
			continue
		}
		if n, err := strconv.Atoi(rest); err == nil && n > max {
			max = n
		}
	}
	return max + 1, nil
}

// GetThread returns the thread record for id.
func (s *Store) GetThread(ctx context.Context, id string) (types.Thread, error) {
	return s.loadThread(ctx, id)
}

// DeleteThread removes a thread, cascading its events, and drops it
// from the cache.
func (s *Store) DeleteThread(ctx context.Context, id string) error {
	if err := s.db.DeleteThread(ctx, id); err != nil {
		return err
	}
	s.mu.Lock()
	delete(s.cache, id)
	s.mu.Unlock()
	return nil
}

// loadThread reads through the cache.
func (s *Store) loadThread(ctx context.Context, id string) (types.Thread, error) {
	s.mu.Lock()
	if entry, ok := s.cache[id]; ok {
		th := entry.thread
		s.mu.Unlock()
		return th, nil
	}
	s.mu.Unlock()

	th, err := s.db.LoadThread(ctx, id)
	if err != nil {
		return types.Thread{}, err
	}

	s.mu.Lock()
	if _, ok := s.cache[id]; !ok {
		s.cache[id] = &cacheEntry{thread: th}
	}
	s.mu.Unlock()
	return th, nil
}

// NewThreadID generates a fresh top-level thread id for now.
func NewThreadID(now time.Time) string {
	// ULIDs are Crockford base32; the lowercased tail provides the six
	// random alphanumerics without a second randomness source.
	suffix := strings.ToLower(ulid.Make().String())
	return fmt.Sprintf("lace_%s_%s", now.Format("20060102"), suffix[len(suffix)-6:])
}

// NewEventID generates a lexically sortable event id.
func NewEventID() string {
	return ulid.Make().String()
}
