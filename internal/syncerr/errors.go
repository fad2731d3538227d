// Package syncerr defines the error taxonomy shared by the replication engine.
package syncerr

import (
	"errors"
	"fmt"
)

var (
	// ErrConfig indicates invalid routing or engine configuration. Fatal at construction.
	ErrConfig = errors.New("invalid configuration")

	// ErrValidation indicates an oversized or malformed payload. Never retried.
	ErrValidation = errors.New("validation failed")

	// ErrTransient indicates a network or remote store failure. Retried with a bounded count.
	ErrTransient = errors.New("sync failure")

	// ErrIntegrity indicates that fetched content does not match the advertised remote digest
	ErrIntegrity = errors.New("integrity check failed")

	// ErrConflict indicates that both replicas changed since the last agreement
	ErrConflict = errors.New("replica conflict")

	// ErrNotAuthenticated indicates that there is no valid session for remote operations
	ErrNotAuthenticated = errors.New("not authenticated")
)

// Validation wraps a formatted message with ErrValidation.
func Validation(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// Config wraps a formatted message with ErrConfig.
func Config(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConfig, fmt.Sprintf(format, args...))
}

// Transient marks err as a retryable sync failure unless it is already classified.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrTransient) || errors.Is(err, ErrValidation) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrTransient, err)
}

// IsRetryable reports whether an operation failing with err may be retried.
// Validation and configuration errors are permanent; everything else is retried.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	return !errors.Is(err, ErrValidation) && !errors.Is(err, ErrConfig)
}
