package ratelimit

import (
	"context"
	"sync"
	"time"
)

var _ Limiter = (*MemoryStore)(nil)

// entry is the counter for one key in the current window.
type entry struct {
	count   int
	resetAt time.Time
}

// MemoryStore is a process-local fixed window limiter. Entries are created and
// reset lazily; nothing removes them unless Sweep is called, so the map grows
// with the number of distinct keys seen during the process lifetime.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]*entry
	now     func() time.Time
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]*entry),
		now:     time.Now,
	}
}

// Allow implements Limiter. It never returns an error.
func (s *MemoryStore) Allow(_ context.Context, key string, p Policy) (Decision, error) {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok || now.After(e.resetAt) {
		e = &entry{count: 1, resetAt: now.Add(p.Window)}
		s.entries[key] = e
		return Decision{
			Allowed:   true,
			Limit:     p.Limit,
			Remaining: max(p.Limit-1, 0),
			Reset:     e.resetAt,
		}, nil
	}

	if e.count >= p.Limit {
		return Decision{Limit: p.Limit, Reset: e.resetAt}, nil
	}

	e.count++
	return Decision{
		Allowed:   true,
		Limit:     p.Limit,
		Remaining: p.Limit - e.count,
		Reset:     e.resetAt,
	}, nil
}

// Len reports the number of tracked keys.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Sweep drops every entry whose window ended before now.
func (s *MemoryStore) Sweep(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for key, e := range s.entries {
		if now.After(e.resetAt) {
			delete(s.entries, key)
			removed++
		}
	}
	return removed
}

// StartJanitor runs Sweep every interval until ctx is cancelled. A
// non-positive interval disables the janitor.
func (s *MemoryStore) StartJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				s.Sweep(now)
			}
		}
	}()
}
