package store

import "errors"

var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrDuplicate is returned when an insert collides with a unique
	// username, email, or short link code.
	ErrDuplicate = errors.New("already exists")
)
