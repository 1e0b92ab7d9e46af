package client

import (
	"sync"
	"time"
)

// suppressTTL bounds how long an unconsumed token lives: the echo it waits
// for may never arrive (hub drop, reconnect), and the set must not leak.
const suppressTTL = 30 * time.Second

// suppressMax caps the set size; the oldest token is evicted on overflow.
const suppressMax = 256

// suppressSet holds one-shot per-transfer tokens for cancel self-echoes.
type suppressSet struct {
	mu    sync.Mutex
	armed map[string]time.Time
}

func newSuppressSet() *suppressSet {
	return &suppressSet{armed: make(map[string]time.Time)}
}

func (s *suppressSet) add(id string) {
	if id == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expireLocked()
	if len(s.armed) >= suppressMax {
		var oldestID string
		var oldest time.Time
		for k, t := range s.armed {
			if oldestID == "" || t.Before(oldest) {
				oldestID, oldest = k, t
			}
		}
		delete(s.armed, oldestID)
	}
	s.armed[id] = time.Now()
}

// consume reports whether a live token existed for id and clears it.
func (s *suppressSet) consume(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expireLocked()
	if _, ok := s.armed[id]; !ok {
		return false
	}
	delete(s.armed, id)
	return true
}

func (s *suppressSet) expireLocked() {
	cutoff := time.Now().Add(-suppressTTL)
	for id, t := range s.armed {
		if t.Before(cutoff) {
			delete(s.armed, id)
		}
	}
}
