package pubkey

import (
	"context"
	"errors"
	"time"

	"github.com/garrettladley/plata/internal/storage"
	"github.com/garrettladley/plata/internal/xslog"
)

// Shared consults store before calling fetch and writes fetched keys back,
// so replicas behind the same store share one provider fetch per ttl. A
// forced fetch skips the store and overwrites it, so a rotated key reaches
// every replica. Store failures are logged and fall through to fetch.
func Shared(store storage.KeyStore, fetch FetchFunc, ttl time.Duration, now Clock) FetchFunc {
	if now == nil {
		now = time.Now
	}
	return func(ctx context.Context, force bool) (Fetched, error) {
		logger := xslog.FromContext(ctx)

		if !force {
			cached, err := store.GetPublicKey(ctx)
			switch {
			case err == nil:
				if now().Sub(cached.FetchedAt) < ttl {
					return Fetched{Blob: cached.Blob, FetchedAt: cached.FetchedAt}, nil
				}
			case errors.Is(err, storage.ErrNotFound):
			default:
				logger.WarnContext(ctx, "shared key store read failed", xslog.Error(err))
			}
		}

		fetched, err := fetch(ctx, force)
		if err != nil {
			return Fetched{}, err
		}
		if fetched.FetchedAt.IsZero() {
			fetched.FetchedAt = now()
		}

		remaining := ttl - now().Sub(fetched.FetchedAt)
		if remaining > 0 {
			if err := store.SetPublicKey(ctx, storage.CachedKey{Blob: fetched.Blob, FetchedAt: fetched.FetchedAt}, remaining); err != nil {
				logger.WarnContext(ctx, "shared key store write failed", xslog.Error(err))
			}
		}

		return fetched, nil
	}
}
