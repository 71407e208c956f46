package core

import "sync"

// History is an ordered, append-only message log. Entries are never
// reordered or removed. It is safe for concurrent readers while a single
// writer appends.
type History struct {
	mu       sync.RWMutex
	messages []Content
}

// NewHistory creates a history seeded with the given messages.
func NewHistory(initial ...Content) *History {
	h := &History{}
	h.messages = append(h.messages, initial...)
	return h
}

// Append adds messages to the end of the log.
func (h *History) Append(msgs ...Content) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.messages = append(h.messages, msgs...)
}

// Messages returns a copy of the log for safe iteration.
func (h *History) Messages() []Content {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]Content, len(h.messages))
	copy(out, h.messages)
	return out
}

// Len returns the number of stored messages.
func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.messages)
}

// Last returns the most recent message and false when the log is empty.
func (h *History) Last() (Content, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if len(h.messages) == 0 {
		return Content{}, false
	}
	return h.messages[len(h.messages)-1], true
}
