// Package worker verifies queued answer submissions in the background.
package worker

import (
	"context"

	"github.com/okian/keyguard/internal/domain/model"
	"github.com/okian/keyguard/pkg/logger"
)

// Option applies a configuration option to the InMemoryWorker.
type Option func(*InMemoryWorker)

// WithName sets the worker name for identification and logging.
func WithName(name string) Option {
	return func(w *InMemoryWorker) {
		if name != "" {
			w.name = name
		}
	}
}

// WithLogger sets a custom logger for the worker.
func WithLogger(l logger.Logger) Option {
	return func(w *InMemoryWorker) {
		if l != nil {
			w.logger = l
		}
	}
}

// WithOnFailure registers a callback for submissions that could not be
// verified or recorded.
func WithOnFailure(fn func(ctx context.Context, sub model.Submission, err error)) Option {
	return func(w *InMemoryWorker) {
		if fn != nil {
			w.onFailure = fn
		}
	}
}

// withProcessedCounter registers a callback invoked after each successful
// submission.
func withProcessedCounter(fn func()) Option {
	return func(w *InMemoryWorker) {
		w.onProcessed = fn
	}
}
