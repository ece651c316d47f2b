// Package history keeps bounded, memory-resident conversation logs.
package history

import (
	"sync"
	"time"

	"github.com/nugget/wfm-assistant/internal/llm"
)

// DefaultCap is the per-conversation message cap (about ten exchanges).
const DefaultCap = 20

// History is an append-only message log with a hard cap. After every
// append the oldest entries are dropped until the log fits, and any
// leading non-user entries are dropped with them so the retained log
// always begins at the start of an exchange.
type History struct {
	mu        sync.RWMutex
	cap       int
	messages  []llm.Message
	updatedAt time.Time
}

// New returns an empty History holding at most cap messages.
func New(cap int) *History {
	if cap <= 0 {
		cap = DefaultCap
	}
	return &History{cap: cap}
}

// Cap returns the retention cap.
func (h *History) Cap() int { return h.cap }

// Append adds messages in order and enforces the cap.
func (h *History) Append(msgs ...llm.Message) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, m := range msgs {
		h.messages = append(h.messages, m.Clone())
	}
	h.trim()
	h.updatedAt = time.Now()
}

// trim must be called with mu held.
func (h *History) trim() {
	if len(h.messages) <= h.cap {
		return
	}
	drop := len(h.messages) - h.cap
	for drop < len(h.messages) && h.messages[drop].Role != llm.RoleUser {
		drop++
	}
	kept := make([]llm.Message, len(h.messages)-drop)
	copy(kept, h.messages[drop:])
	h.messages = kept
}

// Snapshot returns a deep copy of the log.
func (h *History) Snapshot() []llm.Message {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]llm.Message, len(h.messages))
	for i, m := range h.messages {
		out[i] = m.Clone()
	}
	return out
}

// Len returns the number of retained messages.
func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.messages)
}

// UpdatedAt returns the time of the last append, or zero.
func (h *History) UpdatedAt() time.Time {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.updatedAt
}

// Clear resets the log to empty.
func (h *History) Clear() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.messages = nil
	h.updatedAt = time.Time{}
}
