package store

import "errors"

// Predefined errors for store operations
var (
	ErrCategoryNotFound  = errors.New("store: category not found")
	ErrProductNotFound   = errors.New("store: product not found")
	ErrAttributeNotFound = errors.New("store: attribute not found")
	ErrAttributeExists   = errors.New("store: attribute name already exists")
	ErrUnitNotFound      = errors.New("store: unit not found")
	ErrRunNotFound       = errors.New("store: import run not found")
	ErrStaleSnapshot     = errors.New("store: product changed since snapshot")
	ErrUpdateFailed      = errors.New("store: update failed, 0 rows affected")
)
