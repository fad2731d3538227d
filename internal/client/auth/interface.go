package auth

import (
	"context"

	pkgapi "github.com/iudanet/docsync/pkg/api"
)

//go:generate moq -out api_mock.go . API

// API is the part of the server API the session talks to.
type API interface {
	Register(ctx context.Context, req pkgapi.RegisterRequest) (*pkgapi.RegisterResponse, error)
	GetSalt(ctx context.Context, username string) (*pkgapi.SaltResponse, error)
	Login(ctx context.Context, req pkgapi.LoginRequest) (*pkgapi.TokenResponse, error)
	Refresh(ctx context.Context, refreshToken string) (*pkgapi.TokenResponse, error)
	Logout(ctx context.Context, accessToken string) error
}

// Canceller drops operations that are still waiting to be synced.
type Canceller interface {
	CancelPendingOperations(ctx context.Context) error
}
