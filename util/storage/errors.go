package storage

import (
	"errors"
)

var (
	// ErrNotFound means no record exists for the requested key.
	ErrNotFound = errors.New("not found")

	// ErrConflict means the write lost to an existing record, either
	// a duplicate key on create or a status that changed since it
	// was read.
	ErrConflict = errors.New("conflict")
)
