package realtime

import (
	"sync"
	"time"
)

// SeenRegistry remembers recently delivered event identities so the same
// logical event arriving over several transports is delivered at most once
// per deduplication window.
type SeenRegistry struct {
	mu      sync.Mutex
	window  time.Duration
	entries map[string]time.Time
	now     func() time.Time
}

func NewSeenRegistry(window time.Duration) *SeenRegistry {
	return &SeenRegistry{
		window:  window,
		entries: make(map[string]time.Time),
		now:     time.Now,
	}
}

// CheckAndMark reports whether key was seen within the window. Unseen or
// expired identities are (re)marked with the current time, so the first
// caller wins and later deliveries of the same identity are suppressed.
func (r *SeenRegistry) CheckAndMark(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	if at, ok := r.entries[key]; ok && now.Sub(at) < r.window {
		return true
	}
	r.entries[key] = now
	return false
}

// Forget evicts an identity so a legitimately re-sent event is not
// suppressed.
func (r *SeenRegistry) Forget(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, key)
}

// Sweep evicts every expired entry and returns how many were removed.
func (r *SeenRegistry) Sweep() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	removed := 0
	for key, at := range r.entries {
		if now.Sub(at) >= r.window {
			delete(r.entries, key)
			removed++
		}
	}
	return removed
}

// Len returns the number of live entries.
func (r *SeenRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}
