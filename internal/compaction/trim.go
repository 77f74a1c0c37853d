package compaction

import (
	"context"
	"strings"

	"github.com/obra/lace-sub014/pkg/types"
)

const (
	defaultMaxLines      = 50
	truncationMarkerText = "[results truncated to save space.]"
)

// TrimToolResults retains the first N lines of any TOOL_RESULT whose
// text content is longer, appending a truncation marker. Every
// non-TOOL_RESULT event, and any TOOL_RESULT already short enough,
// passes through untouched, with its original identifier and status
// preserved.
type TrimToolResults struct{}

// ID implements Strategy.
func (t *TrimToolResults) ID() string { return "trim-tool-results" }

// Compact implements Strategy.
func (t *TrimToolResults) Compact(_ context.Context, events []types.Event, params map[string]any) (types.CompactionPayload, error) {
	maxLines := defaultMaxLines
	switch v := params["maxLines"].(type) {
	case int:
		if v > 0 {
			maxLines = v
		}
	case float64:
		// JSON-decoded params arrive as float64.
		if v > 0 {
			maxLines = int(v)
		}
	}

	replacement := make([]types.Event, len(events))
	for i, ev := range events {
		replacement[i] = trimEvent(ev, maxLines)
	}

	return types.CompactionPayload{
		StrategyID:         t.ID(),
		OriginalEventCount: len(events),
		ReplacementEvents:  replacement,
	}, nil
}

func trimEvent(ev types.Event, maxLines int) types.Event {
	if ev.Tag != types.TagToolResult {
		return ev
	}
	p, ok := ev.Payload.(types.ToolResultPayload)
	if !ok {
		return ev
	}

	trimmed := make([]types.ContentBlock, len(p.Content))
	copy(trimmed, p.Content)
	for i, block := range trimmed {
		if block.Type != "text" {
			continue
		}
		lines := strings.Split(block.Text, "\n")
		if len(lines) <= maxLines {
			continue
		}
		kept := append(lines[:maxLines], truncationMarkerText)
		trimmed[i].Text = strings.Join(kept, "\n")
	}

	out := ev
	out.Payload = types.ToolResultPayload{
		CallID:  p.CallID,
		Content: trimmed,
		Status:  p.Status,
		Usage:   p.Usage,
	}
	return out
}
