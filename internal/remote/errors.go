package remote

import "errors"

// Remote store errors
var (
	// ErrNotFound indicates that an update targeted a missing document
	ErrNotFound = errors.New("document not found")

	// ErrInvalidPath indicates a malformed document or collection path
	ErrInvalidPath = errors.New("invalid path")

	// ErrAborted indicates that an optimistic transaction lost a race too many times
	ErrAborted = errors.New("transaction aborted")

	// ErrPreconditionFailed indicates that a document changed after it was read
	ErrPreconditionFailed = errors.New("precondition failed")
)
