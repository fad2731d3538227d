package storage

import (
	"context"
	"time"
)

// AuthStorage defines interface for storing the session on the client.
// This is the lowest storage layer - it keeps the token as-is.
type AuthStorage interface {
	// SaveAuth stores authentication data, replacing the previous session
	SaveAuth(ctx context.Context, auth *AuthData) error

	// GetAuth retrieves stored authentication data
	// Returns ErrAuthNotFound if no auth data exists
	GetAuth(ctx context.Context) (*AuthData, error)

	// DeleteAuth removes stored authentication data (logout)
	DeleteAuth(ctx context.Context) error

	// IsAuthenticated checks if a usable session exists
	IsAuthenticated(ctx context.Context) (bool, error)
}

// AuthData represents authentication information in storage
type AuthData struct {
	Username     string `json:"username"`
	UserID       string `json:"user_id"`
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ServerURL    string `json:"server_url"`
	ExpiresAt    int64  `json:"expires_at"` // unix seconds, срок access token
}

// Usable reports whether the session can still authorize requests at now:
// either the access token is valid or a refresh token can renew it.
func (a *AuthData) Usable(now time.Time) bool {
	if a == nil {
		return false
	}
	return a.RefreshToken != "" || now.Unix() < a.ExpiresAt
}
