package poller

import (
	"sync"
	"time"
)

// recentSet remembers recently applied event ids so an event observed via
// both the live channel and a poll is applied exactly once. Entries expire
// after the TTL, which is sized to cover at least one poll interval.
type recentSet struct {
	mu        sync.Mutex
	ttl       time.Duration
	entries   map[string]time.Time
	lastPrune time.Time
}

func newRecentSet(ttl time.Duration) *recentSet {
	return &recentSet{
		ttl:       ttl,
		entries:   make(map[string]time.Time),
		lastPrune: time.Now(),
	}
}

// markApplied records the key and reports whether it was new. Check and add
// are one atomic operation; two racing applications of the same id see
// exactly one true.
func (s *recentSet) markApplied(key string) bool {
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()

	if now.Sub(s.lastPrune) > s.ttl {
		for k, t := range s.entries {
			if now.Sub(t) > s.ttl {
				delete(s.entries, k)
			}
		}
		s.lastPrune = now
	}

	if t, ok := s.entries[key]; ok && now.Sub(t) <= s.ttl {
		return false
	}
	s.entries[key] = now
	return true
}
