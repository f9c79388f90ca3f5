package repository

import "errors"

// Sentinel kinds for store errors.
var (
	ErrNotFound        = errors.New("not found")
	ErrInvalidIdentity = errors.New("invalid identity")
	ErrClosed          = errors.New("store closed")
)
