package scoring

import "errors"

// ErrInvalidThresholds reports an inconsistent threshold pair.
var ErrInvalidThresholds = errors.New("invalid thresholds")
