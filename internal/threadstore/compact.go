package threadstore

import (
	"context"
	"fmt"

	"github.com/obra/lace-sub014/pkg/types"
)

// Compact runs the named strategy over threadID's complete history and
// appends the resulting COMPACTION event. The original events stay in
// the complete history; only the working conversation changes, and the
// thread keeps its canonical identifier.
func (s *Store) Compact(ctx context.Context, threadID, strategyID string, params map[string]any) (*types.Event, error) {
	if s.strategies == nil {
		return nil, fmt.Errorf("threadstore: no compaction strategies configured")
	}

	events, err := s.GetAllEvents(ctx, threadID)
	if err != nil {
		return nil, err
	}

	payload, err := s.strategies.Compact(ctx, strategyID, events, params)
	if err != nil {
		return nil, err
	}

	ev, err := s.AddEvent(ctx, threadID, types.TagCompaction, payload)
	if err != nil {
		return nil, err
	}
	return ev, nil
}
