package permission

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sync"
)

// DoomLoopThreshold is the number of identical calls before triggering.
const DoomLoopThreshold = 3

// doomLoopHistoryCap bounds per-key history growth.
const doomLoopHistoryCap = 10

// DoomLoopDetector tracks repeated tool calls to detect infinite loops.
// Keys are scope strings; callers key by thread so detection stays
// within a single conversation.
type DoomLoopDetector struct {
	mu      sync.Mutex
	history map[string][]string // key -> last N tool call hashes
}

// NewDoomLoopDetector creates a new doom loop detector.
func NewDoomLoopDetector() *DoomLoopDetector {
	return &DoomLoopDetector{
		history: make(map[string][]string),
	}
}

// Check records a call and reports whether it completes a run of
// DoomLoopThreshold identical calls (same tool and same arguments).
func (d *DoomLoopDetector) Check(key, toolName string, args any) bool {
	hash := hashCall(toolName, args)

	d.mu.Lock()
	defer d.mu.Unlock()

	history := d.history[key]

	looping := false
	if len(history) >= DoomLoopThreshold-1 {
		looping = true
		for i := len(history) - (DoomLoopThreshold - 1); i < len(history); i++ {
			if history[i] != hash {
				looping = false
				break
			}
		}
	}

	history = append(history, hash)
	if len(history) > doomLoopHistoryCap {
		history = history[len(history)-doomLoopHistoryCap:]
	}
	d.history[key] = history

	return looping
}

func hashCall(toolName string, args any) string {
	data, _ := json.Marshal(map[string]any{
		"tool": toolName,
		"args": args,
	})
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

// Clear drops the history for a key.
func (d *DoomLoopDetector) Clear(key string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.history, key)
}

// Reset restarts the history for a key.
func (d *DoomLoopDetector) Reset(key string) {
	d.Clear(key)
}
