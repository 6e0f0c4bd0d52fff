// Package sentinel holds the errors stores return. Services translate them
// into domain-errors codes; handlers never see them directly.
package sentinel

import "errors"

var (
	// ErrNotFound means no row or key exists for the lookup.
	ErrNotFound = errors.New("not found")
	// ErrAlreadyUsed means an insert-if-absent found the key taken.
	ErrAlreadyUsed = errors.New("already used")
)
