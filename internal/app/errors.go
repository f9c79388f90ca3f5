package service

import (
	"errors"
	"fmt"

	"github.com/okian/keyguard/internal/adapters/repository"
)

// Sentinel error kinds returned by the service.
var (
	ErrNotStarted          = errors.New("service not started")
	ErrInvalidIdentity     = errors.New("identity is required")
	ErrNoSamples           = errors.New("no enrollment samples pending")
	ErrQueueFull           = errors.New("submission queue full")
	ErrInsufficientSample  = errors.New("insufficient enrollment data")
	ErrNotFound            = repository.ErrNotFound
	ErrAggregationFailed   = errors.New("enrollment samples produced no template")
	ErrUnknownStoreBackend = errors.New("unknown store driver")
)

// InsufficientEnrollmentError reports a sample below the enrollment minimums.
type InsufficientEnrollmentError struct {
	Chars        int
	KeyEvents    int
	MinChars     int
	MinKeyEvents int
}

func (e *InsufficientEnrollmentError) Error() string {
	return fmt.Sprintf("%s: %d chars (min %d), %d key events (min %d)",
		ErrInsufficientSample, e.Chars, e.MinChars, e.KeyEvents, e.MinKeyEvents)
}

// Is matches ErrInsufficientSample.
func (e *InsufficientEnrollmentError) Is(target error) bool {
	return target == ErrInsufficientSample
}
