// Package conversation derives the working conversation presented to a
// provider from a thread's raw event list. Working is a pure function:
// called twice on an unchanged list it returns an equivalent sequence.
package conversation

import (
	"github.com/rs/zerolog/log"

	"github.com/obra/lace-sub014/pkg/types"
)

// Working applies the latest COMPACTION event (if any and if well
// formed) and deduplicates TOOL_RESULT events by call id.
func Working(raw []types.Event) []types.Event {
	return dedupToolResults(applyLatestCompaction(raw))
}

// applyLatestCompaction finds the last COMPACTION event in raw. With
// none, raw passes through unchanged. With one whose payload is
// structurally valid, the working list becomes its replacement events,
// followed by the compaction event itself, followed by whatever was
// appended after it. A malformed payload falls back to the untouched raw
// list; compaction must never break a read.
func applyLatestCompaction(raw []types.Event) []types.Event {
	lastIdx := -1
	for i, ev := range raw {
		if ev.Tag == types.TagCompaction {
			lastIdx = i
		}
	}
	if lastIdx == -1 {
		return raw
	}

	payload, ok := raw[lastIdx].Payload.(types.CompactionPayload)
	if !ok || !validCompactionPayload(payload) {
		log.Warn().Str("thread_id", raw[lastIdx].ThreadID).Str("event_id", raw[lastIdx].ID).
			Msg("conversation: malformed compaction payload, falling back to raw history")
		return raw
	}

	out := make([]types.Event, 0, len(payload.ReplacementEvents)+1+len(raw)-lastIdx-1)
	out = append(out, payload.ReplacementEvents...)
	out = append(out, raw[lastIdx])
	out = append(out, raw[lastIdx+1:]...)
	return out
}

// validCompactionPayload is the structural check: the strategy
// identifier must be a non-empty string.
// ReplacementEvents being nil is valid (a compaction may legitimately
// drop every event it summarized into zero replacements, e.g. a
// fully-collapsed prefix).
func validCompactionPayload(p types.CompactionPayload) bool {
	return p.StrategyID != ""
}

// dedupToolResults walks events in order; for each TOOL_RESULT carrying
// an object payload with a call id, keeps only the first occurrence and
// drops later duplicates. Object-form TOOL_RESULT events lacking a call
// id are dropped entirely (they are invalid). Events of any other tag
// pass through unchanged.
func dedupToolResults(events []types.Event) []types.Event {
	seen := make(map[string]bool)
	out := make([]types.Event, 0, len(events))
	for _, ev := range events {
		if ev.Tag != types.TagToolResult {
			out = append(out, ev)
			continue
		}
		p, ok := ev.Payload.(types.ToolResultPayload)
		if !ok {
			// Not an object-form payload we recognise (e.g. a raw
			// string produced by an older compaction strategy),
			// pass through unchanged.
			out = append(out, ev)
			continue
		}
		if p.CallID == "" {
			continue
		}
		if seen[p.CallID] {
			continue
		}
		seen[p.CallID] = true
		out = append(out, ev)
	}
	return out
}
