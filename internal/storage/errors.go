package storage

import "errors"

var (
	// ErrDuplicate is returned when attempting to create a key that already exists.
	ErrDuplicate = errors.New("resource already exists")

	// ErrNotFound is returned when a key is not found.
	ErrNotFound = errors.New("resource not found")

	// ErrConflict is returned when a concurrent writer changed a record
	// between read and write and the update could not be applied.
	ErrConflict = errors.New("concurrent modification")
)
