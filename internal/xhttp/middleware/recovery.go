package middleware

import (
	"fmt"
	"net/http"

	"github.com/garrettladley/plata/internal/xerrors"
	"github.com/garrettladley/plata/internal/xslog"
)

// Recovery turns a handler panic into a 500 JSON error. http.ErrAbortHandler
// is re-raised so net/http can abort the connection.
func Recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler {
				panic(rec)
			}

			ctx := r.Context()
			xslog.FromContext(ctx).ErrorContext(ctx, "panic recovered",
				xslog.RequestGroup(r),
				xslog.ErrorGroupWithStack(rec),
			)
			xerrors.WriteError(ctx, w, xerrors.Internal(
				xerrors.WithCode("internal"),
				xerrors.WithCause(fmt.Errorf("panic: %v", rec)),
			))
		}()
		next.ServeHTTP(w, r)
	})
}
