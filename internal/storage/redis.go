package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	go_json "github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
)

var (
	_ RateLimiter = (*RedisLimiter)(nil)
	_ KeyStore    = (*RedisKeyStore)(nil)
)

const (
	rateLimitKeyPrefix = "plata:ratelimit:"
	publicKeyKey       = "plata:pubkey"
)

type RedisConfig struct {
	Client *redis.Client
}

type RedisLimiter struct {
	client     *redis.Client
	rateLimit  int
	rateWindow time.Duration
}

func NewRedisLimiter(cfg RedisConfig, rateLimit int) *RedisLimiter {
	return &RedisLimiter{
		client:     cfg.Client,
		rateLimit:  rateLimit,
		rateWindow: time.Second,
	}
}

func (r *RedisLimiter) Allow(ctx context.Context, key string) (RateLimitResult, error) {
	params := rateLimitParams{
		window: r.rateWindow,
		limit:  r.rateLimit,
		ttl:    r.rateWindow + time.Second,
	}

	allowed, err := runRateLimitScript(ctx, r.client, rateLimitKeyPrefix+key, params)
	if err != nil {
		return RateLimitResult{}, err
	}

	return RateLimitResult{
		Allowed:    allowed,
		RetryAfter: r.rateWindow,
	}, nil
}

type RedisKeyStore struct {
	client *redis.Client
}

func NewRedisKeyStore(cfg RedisConfig) *RedisKeyStore {
	return &RedisKeyStore{client: cfg.Client}
}

func (s *RedisKeyStore) GetPublicKey(ctx context.Context) (CachedKey, error) {
	data, err := s.client.Get(ctx, publicKeyKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return CachedKey{}, ErrNotFound
	}
	if err != nil {
		return CachedKey{}, fmt.Errorf("failed to get public key: %w", err)
	}

	var key CachedKey
	if err := go_json.Unmarshal(data, &key); err != nil {
		return CachedKey{}, fmt.Errorf("failed to unmarshal public key: %w", err)
	}
	return key, nil
}

func (s *RedisKeyStore) SetPublicKey(ctx context.Context, key CachedKey, ttl time.Duration) error {
	data, err := go_json.Marshal(key)
	if err != nil {
		return fmt.Errorf("failed to marshal public key: %w", err)
	}

	if err := s.client.Set(ctx, publicKeyKey, data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set public key: %w", err)
	}
	return nil
}
