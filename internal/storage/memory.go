package storage

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

var (
	_ RateLimiter = (*MemoryLimiter)(nil)
	_ KeyStore    = (*MemoryKeyStore)(nil)
)

const limiterIdleTTL = 10 * time.Minute

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// MemoryLimiter is a per-process token bucket limiter keyed by caller.
type MemoryLimiter struct {
	mu        sync.Mutex
	limiters  map[string]*limiterEntry
	rateLimit rate.Limit
	rateBurst int

	done chan struct{}
}

func NewMemoryLimiter(ratePerSec float64, burst int) *MemoryLimiter {
	m := &MemoryLimiter{
		limiters:  make(map[string]*limiterEntry),
		rateLimit: rate.Limit(ratePerSec),
		rateBurst: burst,
		done:      make(chan struct{}),
	}

	go m.cleanupLoop()

	return m
}

func (m *MemoryLimiter) Allow(_ context.Context, key string) (RateLimitResult, error) {
	m.mu.Lock()
	entry, ok := m.limiters[key]
	if !ok {
		entry = &limiterEntry{limiter: rate.NewLimiter(m.rateLimit, m.rateBurst)}
		m.limiters[key] = entry
	}
	entry.lastSeen = time.Now()
	m.mu.Unlock()

	return RateLimitResult{
		Allowed:    entry.limiter.Allow(),
		RetryAfter: time.Second,
	}, nil
}

func (m *MemoryLimiter) Close() error {
	close(m.done)
	return nil
}

func (m *MemoryLimiter) cleanupLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.mu.Lock()
			now := time.Now()
			for key, entry := range m.limiters {
				if now.Sub(entry.lastSeen) > limiterIdleTTL {
					delete(m.limiters, key)
				}
			}
			m.mu.Unlock()
		case <-m.done:
			return
		}
	}
}

type MemoryKeyStore struct {
	mu        sync.RWMutex
	key       CachedKey
	expiresAt time.Time
	now       func() time.Time
}

func NewMemoryKeyStore(now func() time.Time) *MemoryKeyStore {
	if now == nil {
		now = time.Now
	}
	return &MemoryKeyStore{now: now}
}

func (s *MemoryKeyStore) GetPublicKey(_ context.Context) (CachedKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.key.Blob == "" || !s.now().Before(s.expiresAt) {
		return CachedKey{}, ErrNotFound
	}
	return s.key, nil
}

func (s *MemoryKeyStore) SetPublicKey(_ context.Context, key CachedKey, ttl time.Duration) error {
	s.mu.Lock()
	s.key = key
	s.expiresAt = s.now().Add(ttl)
	s.mu.Unlock()
	return nil
}
