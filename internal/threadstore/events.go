package threadstore

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/obra/lace-sub014/internal/conversation"
	"github.com/obra/lace-sub014/internal/event"
	"github.com/obra/lace-sub014/internal/storage"
	"github.com/obra/lace-sub014/pkg/types"
)

// AddEvent appends an event to threadID and publishes it on the bus.
// The write goes to persistence first; memory is only updated on
// success, so the cache can never disagree with a rolled-back write.
// Returns (nil, nil) for the one benign duplicate: a second
// TOOL_APPROVAL_RESPONSE for a call that already has one.
func (s *Store) AddEvent(ctx context.Context, threadID string, tag types.Tag, payload any) (*types.Event, error) {
	th, err := s.loadThread(ctx, threadID)
	if err != nil {
		return nil, err
	}

	ev := types.Event{
		ID:        NewEventID(),
		ThreadID:  threadID,
		Tag:       tag,
		Timestamp: time.Now().UnixMilli(),
		Payload:   payload,
	}

	saved, err := s.db.SaveEvent(ctx, ev)
	if err != nil {
		return nil, err
	}
	if !saved {
		log.Debug().Str("thread_id", threadID).Str("tag", string(tag)).
			Msg("threadstore: duplicate approval response ignored")
		return nil, nil
	}

	th.Updated = ev.Timestamp
	s.mu.Lock()
	if entry, ok := s.cache[threadID]; ok {
		entry.thread = th
		if entry.events != nil {
			entry.events = append(entry.events, ev)
		}
	}
	s.mu.Unlock()

	if s.bus != nil {
		s.bus.Publish(event.ThreadEvent(ev, types.Scope{
			ProjectID: th.ProjectID,
			SessionID: th.SessionID,
		}))
	}

	return &ev, nil
}

// GetAllEvents returns the complete, append-ordered history of
// threadID, including every COMPACTION event.
func (s *Store) GetAllEvents(ctx context.Context, threadID string) ([]types.Event, error) {
	s.mu.Lock()
	if entry, ok := s.cache[threadID]; ok && entry.events != nil {
		out := make([]types.Event, len(entry.events))
		copy(out, entry.events)
		s.mu.Unlock()
		return out, nil
	}
	s.mu.Unlock()

	events, err := s.db.LoadEvents(ctx, threadID)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	entry, ok := s.cache[threadID]
	if !ok {
		entry = &cacheEntry{}
		s.cache[threadID] = entry
	}
	entry.events = events
	out := make([]types.Event, len(events))
	copy(out, events)
	s.mu.Unlock()

	return out, nil
}

// ApprovalDecision returns the stored decision for callID in threadID,
// if one has been recorded.
func (s *Store) ApprovalDecision(ctx context.Context, threadID, callID string) (types.ApprovalDecision, bool, error) {
	return s.db.ApprovalDecision(ctx, threadID, callID)
}

// PendingApprovals returns the approval requests in threadID that have
// no recorded response yet.
func (s *Store) PendingApprovals(ctx context.Context, threadID string) ([]storage.PendingApproval, error) {
	return s.db.PendingApprovals(ctx, threadID)
}

// GetEvents returns the working conversation for threadID: the raw
// history with the latest compaction applied and tool results
// deduplicated.
func (s *Store) GetEvents(ctx context.Context, threadID string) ([]types.Event, error) {
	raw, err := s.GetAllEvents(ctx, threadID)
	if err != nil {
		return nil, err
	}
	return conversation.Working(raw), nil
}
