package status

import (
	"sync"

	"driverlink/models"
)

// eventStore retains a bounded collection of the most recent events delivered
// by the coordinator. It is safe for concurrent use.
type eventStore struct {
	mu    sync.RWMutex
	items []models.Event
	limit int
}

func newEventStore(limit int) *eventStore {
	if limit <= 0 {
		limit = 200
	}
	return &eventStore{limit: limit}
}

func (s *eventStore) add(ev models.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.items = append(s.items, ev)
	if len(s.items) > s.limit {
		// keep the most recent entries only
		s.items = append([]models.Event(nil), s.items[len(s.items)-s.limit:]...)
	}
}

func (s *eventStore) snapshot() []models.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.Event, len(s.items))
	copy(out, s.items)
	return out
}
