package store

import "errors"

// ErrConflict is returned when an owner already has an object with the same storage name.
var ErrConflict = errors.New("object already exists")

// ErrDuplicateHandle is returned when a handle is inserted twice.
var ErrDuplicateHandle = errors.New("duplicate handle")

// ErrNotFound is returned when an object or account is not found.
var ErrNotFound = errors.New("object not found")
