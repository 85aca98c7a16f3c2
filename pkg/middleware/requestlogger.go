package middleware

import (
	"log/slog"
	"net/http"

	"github.com/memora-app/memora/pkg/logger"
)

// RequestLogger stores a request-scoped logger in the context, pre-tagged
// with correlation_id, user_id, trace_id and span_id where available.
// Handlers retrieve it with logger.FromContext.
//
// Mount it after RequestLogging and Tracing so both the correlation ID and
// the span context are already populated. The user ID comes from the Auth
// middleware when it has already run, or from the X-User-ID header set by
// trusted internal callers.
func RequestLogger(base *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			userID := UserIDFromContext(ctx)
			if userID == "" {
				userID = r.Header.Get("X-User-ID")
			}
			if userID != "" {
				ctx = logger.WithUserID(ctx, userID)
			}

			ctx = logger.NewContext(ctx, logger.WithContext(ctx, base))

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
