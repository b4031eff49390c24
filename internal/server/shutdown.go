package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/garrettladley/plata/internal/version"
	"github.com/garrettladley/plata/internal/xslog"
)

const DefaultDrainTimeout = 30 * time.Second

// Serve runs srv on ln until ctx is canceled, then stops accepting
// connections and waits up to drain for in-flight webhooks to finish.
// Ledger writes are detached from request contexts, so draining lets
// them commit before the process exits.
func Serve(ctx context.Context, srv *http.Server, ln net.Listener, drain time.Duration) error {
	logger := xslog.FromContext(ctx)

	errCh := make(chan error, 1)
	go func() {
		logger.LogAttrs(ctx, slog.LevelInfo, "starting server",
			xslog.Version(),
			slog.Bool("dev_build", version.IsDevelopment(version.Get())),
			slog.String("addr", ln.Addr().String()),
		)
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
	}

	logger.LogAttrs(ctx, slog.LevelInfo, "shutdown signal received, draining",
		slog.Duration("drain_timeout", drain),
	)

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), drain)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}

	logger.LogAttrs(ctx, slog.LevelInfo, "server stopped")
	return nil
}
