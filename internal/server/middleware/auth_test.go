package middleware

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iudanet/docsync/internal/server/handlers"
	"github.com/iudanet/docsync/internal/server/token"
)

func setupTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestTokens(secret string, ttl time.Duration) *token.Manager {
	return token.NewManager(token.Config{
		Secret:          []byte(secret),
		AccessTokenTTL:  ttl,
		RefreshTokenTTL: time.Hour,
	})
}

const testSecret = "0123456789abcdef0123456789abcdef"

func TestAuthMiddleware_Success(t *testing.T) {
	tokens := newTestTokens(testSecret, 15*time.Minute)
	accessToken, _, err := tokens.GenerateAccessToken("user123", "testuser")
	require.NoError(t, err)

	handler := AuthMiddleware(setupTestLogger(), tokens)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, ok := handlers.GetUserID(r.Context())
		require.True(t, ok, "user_id should be in context")
		assert.Equal(t, "user123", userID)

		username, ok := handlers.GetUsername(r.Context())
		require.True(t, ok, "username should be in context")
		assert.Equal(t, "testuser", username)

		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	req.Header.Set("Authorization", "Bearer "+accessToken)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAuthMiddleware_Rejects(t *testing.T) {
	tokens := newTestTokens(testSecret, 15*time.Minute)

	expiredToken, _, err := newTestTokens(testSecret, -time.Minute).GenerateAccessToken("user123", "testuser")
	require.NoError(t, err)
	foreignToken, _, err := newTestTokens("another-secret-another-secret-xx", time.Minute).GenerateAccessToken("user123", "testuser")
	require.NoError(t, err)

	tests := []struct {
		name    string
		header  string
		wantMsg string
	}{
		{name: "missing header", header: "", wantMsg: "missing token"},
		{name: "wrong scheme", header: "Basic abc", wantMsg: "missing token"},
		{name: "malformed token", header: "Bearer not-a-jwt", wantMsg: "invalid token"},
		{name: "expired token", header: "Bearer " + expiredToken, wantMsg: "invalid token"},
		{name: "wrong secret", header: "Bearer " + foreignToken, wantMsg: "invalid token"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := AuthMiddleware(setupTestLogger(), tokens)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
				t.Fatal("handler should not be called")
			}))

			req := httptest.NewRequest(http.MethodGet, "/test", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)

			assert.Equal(t, http.StatusUnauthorized, w.Code)
			assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
			assert.Contains(t, w.Body.String(), tt.wantMsg)
		})
	}
}
