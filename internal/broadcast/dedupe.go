package broadcast

import (
	"container/list"
	"sync"
	"time"
)

// seenSet remembers event ids for a bounded time and a bounded count.
type seenSet struct {
	mu    sync.Mutex
	ttl   time.Duration
	limit int
	order *list.List
	index map[string]*list.Element
	now   func() time.Time
}

type seenEntry struct {
	id string
	at time.Time
}

func newSeenSet(ttl time.Duration, limit int) *seenSet {
	return &seenSet{
		ttl:   ttl,
		limit: limit,
		order: list.New(),
		index: make(map[string]*list.Element),
		now:   time.Now,
	}
}

// firstSeen records id and reports whether it had not been seen in the window.
func (s *seenSet) firstSeen(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	s.evict(now)
	if _, ok := s.index[id]; ok {
		return false
	}
	s.index[id] = s.order.PushBack(seenEntry{id: id, at: now})
	for s.order.Len() > s.limit {
		s.drop(s.order.Front())
	}
	return true
}

func (s *seenSet) evict(now time.Time) {
	for e := s.order.Front(); e != nil; e = s.order.Front() {
		if now.Sub(e.Value.(seenEntry).at) < s.ttl {
			return
		}
		s.drop(e)
	}
}

func (s *seenSet) drop(e *list.Element) {
	delete(s.index, e.Value.(seenEntry).id)
	s.order.Remove(e)
}

func (s *seenSet) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.order.Len()
}
