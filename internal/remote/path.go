package remote

import (
	"fmt"
	"strings"
)

// Join собирает иерархический путь из сегментов.
func Join(parts ...string) string {
	return strings.Join(parts, "/")
}

// Parent returns the collection path that contains a document (or the document
// that contains a collection).
func Parent(path string) string {
	i := strings.LastIndexByte(path, '/')
	if i < 0 {
		return ""
	}
	return path[:i]
}

// ID returns the last path segment.
func ID(path string) string {
	return path[strings.LastIndexByte(path, '/')+1:]
}

// ValidateDocumentPath checks that path addresses a document: a non-empty even
// number of segments, none of them empty.
func ValidateDocumentPath(path string) error {
	n, err := segments(path)
	if err != nil {
		return err
	}
	if n%2 != 0 {
		return fmt.Errorf("%w: %q is a collection path", ErrInvalidPath, path)
	}
	return nil
}

// ValidateCollectionPath checks that path addresses a collection (odd segment count).
func ValidateCollectionPath(path string) error {
	n, err := segments(path)
	if err != nil {
		return err
	}
	if n%2 != 1 {
		return fmt.Errorf("%w: %q is a document path", ErrInvalidPath, path)
	}
	return nil
}

func segments(path string) (int, error) {
	if path == "" {
		return 0, fmt.Errorf("%w: empty path", ErrInvalidPath)
	}
	parts := strings.Split(path, "/")
	for _, p := range parts {
		if p == "" || p == "." || p == ".." {
			return 0, fmt.Errorf("%w: %q", ErrInvalidPath, path)
		}
	}
	return len(parts), nil
}
