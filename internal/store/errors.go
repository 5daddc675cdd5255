package store

import (
	"github.com/jmgilman/go/errors"
)

var (
	ErrNotFound    = errors.New(errors.CodeNotFound, "cache entry not found")
	ErrUnavailable = errors.New(errors.CodeUnavailable, "persistent store unavailable")
)

// IsNotFound reports whether err is, or wraps, ErrNotFound.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
