// Package ratelimit implements fixed-window request throttling.
//
// The window is approximate: a client can burst up to twice the
// configured maximum across a window boundary. That is acceptable for
// throttling; this is not a sliding-window guarantee.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Decision is the outcome of a single rate limit check.
type Decision struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time
}

// CounterStore tracks per-key fixed-window counters. Implementations
// must make the read-compare-increment sequence atomic per key.
type CounterStore interface {
	Allow(ctx context.Context, key string, max int, window time.Duration) (Decision, error)
}

// Limiter applies one configured limit over a counter store. Separate
// instances are used for anonymous (per-IP) and per-agent traffic.
type Limiter struct {
	store  CounterStore
	max    int
	window time.Duration
}

// New creates a limiter allowing max requests per window.
func New(store CounterStore, max int, window time.Duration) *Limiter {
	return &Limiter{store: store, max: max, window: window}
}

// Check records one request against key and reports whether it is
// allowed in the current window.
func (l *Limiter) Check(ctx context.Context, key string) (Decision, error) {
	return l.store.Allow(ctx, key, l.max, l.window)
}

type entry struct {
	count   int
	resetAt time.Time
}

// MemoryStore is a mutex-guarded in-process counter store. Expired
// windows are swept on every check, which bounds memory to the set of
// recently active keys.
type MemoryStore struct {
	mu      sync.Mutex
	now     func() time.Time
	entries map[string]*entry
}

// NewMemoryStore creates an in-process counter store. now may be nil,
// in which case the wall clock is used.
func NewMemoryStore(now func() time.Time) *MemoryStore {
	if now == nil {
		now = time.Now
	}
	return &MemoryStore{now: now, entries: make(map[string]*entry)}
}

// Allow implements CounterStore.
func (s *MemoryStore) Allow(_ context.Context, key string, max int, window time.Duration) (Decision, error) {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	s.sweep(now)

	e, ok := s.entries[key]
	if !ok || !e.resetAt.After(now) {
		e = &entry{count: 1, resetAt: now.Add(window)}
		s.entries[key] = e
		return Decision{Allowed: true, Remaining: max - 1, ResetAt: e.resetAt}, nil
	}

	if e.count >= max {
		return Decision{Allowed: false, Remaining: 0, ResetAt: e.resetAt}, nil
	}

	e.count++
	return Decision{Allowed: true, Remaining: max - e.count, ResetAt: e.resetAt}, nil
}

func (s *MemoryStore) sweep(now time.Time) {
	for key, e := range s.entries {
		if !e.resetAt.After(now) {
			delete(s.entries, key)
		}
	}
}
