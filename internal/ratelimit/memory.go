package ratelimit

import (
	"context"
	"sync"
	"time"
)

type bucket struct {
	count     int64
	windowEnd time.Time
}

// MemoryStore keeps counters in process. Suitable for a single API instance.
type MemoryStore struct {
	mu      sync.Mutex
	clients map[string]*bucket
	now     func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{clients: make(map[string]*bucket), now: time.Now}
}

func (s *MemoryStore) Hit(_ context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.clients[key]
	if !ok || !now.Before(b.windowEnd) {
		b = &bucket{windowEnd: now.Add(window)}
		s.clients[key] = b
	}
	b.count++

	return b.count, b.windowEnd.Sub(now), nil
}

// Sweep drops expired buckets so idle keys do not accumulate.
func (s *MemoryStore) Sweep() int {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for k, b := range s.clients {
		if !now.Before(b.windowEnd) {
			delete(s.clients, k)
			n++
		}
	}
	return n
}
