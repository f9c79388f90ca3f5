package template

import "errors"

// Sentinel errors for stored template decoding.
var (
	ErrCorruptEmbedding = errors.New("corrupt template embedding")
	ErrCorruptScalars   = errors.New("corrupt template scalars")
)
