package ratelimit

import (
	"context"
	"sync"
	"time"
)

type localEntry struct {
	count          int
	firstAttemptAt time.Time
	blockedUntil   time.Time
}

// LocalStore is an in-process attempt tracker. It backs single-instance
// deployments and serves as the fallback when the shared store is down.
type LocalStore struct {
	mu          sync.Mutex
	entries     map[string]*localEntry
	window      time.Duration
	maxAttempts int
	block       time.Duration
	lastSweep   time.Time
	now         func() time.Time
}

func NewLocalStore(window time.Duration, maxAttempts int, block time.Duration) *LocalStore {
	return &LocalStore{
		entries:     make(map[string]*localEntry),
		window:      window,
		maxAttempts: maxAttempts,
		block:       block,
		now:         time.Now,
	}
}

func (s *LocalStore) Check(_ context.Context, key string) (bool, time.Duration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	s.sweepLocked(now)

	e, ok := s.entries[key]
	if !ok {
		return false, 0, nil
	}
	if now.Before(e.blockedUntil) {
		return true, e.blockedUntil.Sub(now), nil
	}
	return false, 0, nil
}

func (s *LocalStore) Failure(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	e, ok := s.entries[key]
	if !ok || now.Sub(e.firstAttemptAt) >= s.window {
		e = &localEntry{firstAttemptAt: now}
		s.entries[key] = e
	}

	e.count++
	if e.count >= s.maxAttempts {
		e.blockedUntil = now.Add(s.block)
		e.count = 0
		e.firstAttemptAt = now
	}
	return nil
}

// Success drops the whole entry, block included: one verified attempt clears
// all tracked state for the key.
func (s *LocalStore) Success(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.entries, key)
	return nil
}

// sweepLocked drops expired entries at most once per window.
func (s *LocalStore) sweepLocked(now time.Time) {
	if now.Sub(s.lastSweep) < s.window {
		return
	}
	s.lastSweep = now

	for key, e := range s.entries {
		if now.After(e.blockedUntil) && now.Sub(e.firstAttemptAt) >= s.window {
			delete(s.entries, key)
		}
	}
}
