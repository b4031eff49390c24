package storage

import (
	"context"
	"errors"
	"time"
)

var ErrNotFound = errors.New("not found")

type RateLimitResult struct {
	Allowed    bool
	RetryAfter time.Duration
}

type RateLimiter interface {
	Allow(ctx context.Context, key string) (RateLimitResult, error)
}

// CachedKey is a provider public key blob shared between replicas.
type CachedKey struct {
	Blob      string    `json:"blob"`
	FetchedAt time.Time `json:"fetched_at"`
}

// KeyStore shares the provider's verification key between processes so a
// fleet does not refetch it once per replica.
type KeyStore interface {
	// GetPublicKey returns ErrNotFound if no key is stored or it has expired.
	GetPublicKey(ctx context.Context) (CachedKey, error)

	// SetPublicKey stores the key until ttl elapses.
	SetPublicKey(ctx context.Context, key CachedKey, ttl time.Duration) error
}
