package pubkey

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/garrettladley/plata/internal/signature"
	"github.com/garrettladley/plata/internal/xslog"
	"golang.org/x/sync/singleflight"
)

var ErrUnavailable = errors.New("public key unavailable")

const (
	DefaultTTL                = 24 * time.Hour
	DefaultMaxStaleness       = time.Hour
	DefaultMinRefreshInterval = time.Minute
	DefaultFetchTimeout       = 10 * time.Second
)

const (
	flightGet     = "get"
	flightRefresh = "refresh"
)

// Material is a parsed verification key and the time it was obtained from
// the provider.
type Material struct {
	Key       signature.PublicKey
	FetchedAt time.Time
}

// Fetched is the raw result of a key fetch. A zero FetchedAt means "now".
type Fetched struct {
	Blob      string
	FetchedAt time.Time
}

// FetchFunc obtains the key blob. force is set when a failed verification
// needs the provider's current key, so shared copies must be skipped.
type FetchFunc func(ctx context.Context, force bool) (Fetched, error)

// FromProvider adapts a provider call returning the key blob.
func FromProvider(fn func(ctx context.Context) (string, error)) FetchFunc {
	return func(ctx context.Context, _ bool) (Fetched, error) {
		blob, err := fn(ctx)
		if err != nil {
			return Fetched{}, err
		}
		return Fetched{Blob: blob}, nil
	}
}

type Clock func() time.Time

// Cache holds the provider's current public key. Safe for concurrent use;
// concurrent misses share a single fetch.
type Cache struct {
	fetch        FetchFunc
	now          Clock
	ttl          time.Duration
	maxStaleness time.Duration
	minRefresh   time.Duration
	fetchTimeout time.Duration

	mu      sync.RWMutex
	current *Material
	// lastForced is when Refresh last went to the provider, successful or not.
	lastForced time.Time

	group singleflight.Group
}

type Option func(*Cache)

func WithClock(now Clock) Option {
	return func(c *Cache) { c.now = now }
}

// WithTTL sets how long a fetched key is trusted without refetching.
func WithTTL(d time.Duration) Option {
	return func(c *Cache) { c.ttl = d }
}

// WithMaxStaleness bounds how long past its TTL a key may still be served
// while the provider cannot be reached. Zero disables stale serving.
func WithMaxStaleness(d time.Duration) Option {
	return func(c *Cache) { c.maxStaleness = d }
}

// WithMinRefreshInterval is the minimum time between refetches forced by
// failed verifications.
func WithMinRefreshInterval(d time.Duration) Option {
	return func(c *Cache) { c.minRefresh = d }
}

func WithFetchTimeout(d time.Duration) Option {
	return func(c *Cache) { c.fetchTimeout = d }
}

func New(fetch FetchFunc, opts ...Option) *Cache {
	c := &Cache{
		fetch:        fetch,
		now:          time.Now,
		ttl:          DefaultTTL,
		maxStaleness: DefaultMaxStaleness,
		minRefresh:   DefaultMinRefreshInterval,
		fetchTimeout: DefaultFetchTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns the cached key while it is fresh, fetching a new one otherwise.
// When the fetch fails a stale key within the staleness bound is served;
// with no usable key the error wraps ErrUnavailable.
func (c *Cache) Get(ctx context.Context) (Material, error) {
	if m, ok := c.fresh(); ok {
		return m, nil
	}
	return c.load(ctx, flightGet)
}

// Refresh forces a refetch after seen failed to verify a request, so a
// rotated provider key is picked up before its TTL runs out. It is a no-op
// returning the current key if the key has already changed or the previous
// forced refetch was less than the minimum refresh interval ago.
func (c *Cache) Refresh(ctx context.Context, seen Material) (Material, error) {
	cur := c.snapshot()
	if cur == nil {
		return c.load(ctx, flightGet)
	}
	if !cur.Key.Equal(seen.Key) || !c.claimForced() {
		return *cur, nil
	}
	return c.load(ctx, flightRefresh)
}

// claimForced records a forced refetch unless one happened within the
// minimum refresh interval.
func (c *Cache) claimForced() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if !c.lastForced.IsZero() && now.Sub(c.lastForced) < c.minRefresh {
		return false
	}
	c.lastForced = now
	return true
}

func (c *Cache) snapshot() *Material {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.current
}

func (c *Cache) fresh() (Material, bool) {
	cur := c.snapshot()
	if cur == nil || c.now().Sub(cur.FetchedAt) >= c.ttl {
		return Material{}, false
	}
	return *cur, true
}

func (c *Cache) load(ctx context.Context, flight string) (Material, error) {
	ch := c.group.DoChan(flight, func() (any, error) {
		if flight == flightGet {
			if m, ok := c.fresh(); ok {
				return m, nil
			}
		}
		return c.refetch(ctx, flight == flightRefresh)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return c.fallback(ctx, res.Err)
		}
		return res.Val.(Material), nil
	case <-ctx.Done():
		return c.fallback(ctx, ctx.Err())
	}
}

func (c *Cache) refetch(ctx context.Context, force bool) (Material, error) {
	// the fetch is shared by every waiter, so it must outlive the caller
	// that happened to start it
	fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.fetchTimeout)
	defer cancel()

	fetched, err := c.fetch(fetchCtx, force)
	if err != nil {
		return Material{}, fmt.Errorf("fetch public key: %w", err)
	}

	key, err := signature.ParsePublicKey(fetched.Blob)
	if err != nil {
		return Material{}, fmt.Errorf("fetched public key is unusable: %w", err)
	}

	now := c.now()
	fetchedAt := fetched.FetchedAt
	if fetchedAt.IsZero() || fetchedAt.After(now) {
		fetchedAt = now
	}

	m := Material{Key: key, FetchedAt: fetchedAt}

	c.mu.Lock()
	prev := c.current
	c.current = &m
	c.mu.Unlock()

	level := slog.LevelInfo
	if prev != nil && prev.Key.Equal(key) {
		level = slog.LevelDebug
	}
	xslog.FromContext(ctx).LogAttrs(ctx, level, "public key refreshed",
		xslog.KeyFingerprint(key.Fingerprint()),
		xslog.KeyAge(now.Sub(fetchedAt)),
		slog.Bool("forced", force),
	)

	return m, nil
}

func (c *Cache) fallback(ctx context.Context, cause error) (Material, error) {
	cur := c.snapshot()
	if cur == nil {
		return Material{}, fmt.Errorf("%w: %w", ErrUnavailable, cause)
	}

	age := c.now().Sub(cur.FetchedAt)
	if age >= c.ttl+c.maxStaleness {
		return Material{}, fmt.Errorf("%w: cached key expired %s ago: %w", ErrUnavailable, age-c.ttl, cause)
	}

	if age >= c.ttl {
		xslog.FromContext(ctx).WarnContext(ctx, "serving stale public key",
			xslog.KeyFingerprint(cur.Key.Fingerprint()),
			xslog.KeyAge(age),
			slog.Bool("temporary", temporary(cause)),
			xslog.Error(cause),
		)
	}
	return *cur, nil
}

// temporary reports whether the provider marked the failure as worth
// retrying, such as a 429 or 5xx response.
func temporary(err error) bool {
	var t interface{ Temporary() bool }
	return errors.As(err, &t) && t.Temporary()
}
