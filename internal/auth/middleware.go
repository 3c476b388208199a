package auth

import (
	"log/slog"
	"net/http"

	"github.com/shoreline-labs/llmgate/internal/gwerr"
	"github.com/shoreline-labs/llmgate/internal/httpserver"
)

// Middleware authenticates every request via the x-api-key header and
// stores the resolved Principal in the request context (spec.md §4.1,
// §4.4 step 1). Requests without a valid key are rejected with 401 before
// reaching any domain handler.
func Middleware(store *CredentialStore, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := r.Header.Get("x-api-key")

			principal, err := store.Resolve(r.Context(), token)
			if err != nil {
				logger.Warn("authentication failed", "error", err, "request_id", httpserver.RequestIDFromContext(r.Context()))
				httpserver.RespondError(w, gwerr.New(gwerr.KindUnauthorized, "invalid or missing API key").Status, "invalid or missing API key")
				return
			}

			ctx := NewContext(r.Context(), principal)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
