package server

import "sync"

// holder is the single recording slot. At most one session system-wide may
// hold it; the lock is held only for the check-and-set.
type holder struct {
	mu   sync.Mutex
	name string
	held bool
}

// acquire tries to take the slot for name. On failure it returns the name of
// the current occupant.
func (h *holder) acquire(name string) (occupant string, ok bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.held {
		return h.name, false
	}
	h.name = name
	h.held = true
	return name, true
}

// release frees the slot. Harmless if not held.
func (h *holder) release() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.held = false
	h.name = ""
}

// occupant returns the current slot owner, if any.
func (h *holder) occupant() (string, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.name, h.held
}
