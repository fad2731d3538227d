package middleware

import (
	"log/slog"
	"net/http"

	"github.com/iudanet/docsync/internal/server/handlers"
	"github.com/iudanet/docsync/internal/server/token"
)

// AuthMiddleware создает middleware для проверки JWT access token.
// Subject токена попадает в контекст как user_id.
func AuthMiddleware(logger *slog.Logger, tokens *token.Manager) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenString, ok := handlers.BearerToken(r)
			if !ok {
				logger.WarnContext(r.Context(), "missing or malformed Authorization header")
				writeError(w, "missing token", http.StatusUnauthorized)
				return
			}

			claims, err := tokens.ValidateAccessToken(tokenString)
			if err != nil {
				logger.WarnContext(r.Context(), "invalid access token", "error", err)
				writeError(w, "invalid token", http.StatusUnauthorized)
				return
			}

			ctx := handlers.WithUser(r.Context(), claims.UserID(), claims.Username)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
