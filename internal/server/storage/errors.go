package storage

import (
	"errors"

	"github.com/iudanet/docsync/internal/remote"
)

// Common storage errors
var (
	// ErrUserNotFound indicates that user was not found in storage
	ErrUserNotFound = errors.New("user not found")

	// ErrUserAlreadyExists indicates that user with this username already exists
	ErrUserAlreadyExists = errors.New("user already exists")

	// ErrTokenNotFound indicates that refresh token was not found
	ErrTokenNotFound = errors.New("refresh token not found")

	// ErrPreconditionFailed indicates that a committed document changed after it was read.
	// It is the remote store sentinel so that clients can match on it directly.
	ErrPreconditionFailed = remote.ErrPreconditionFailed
)
