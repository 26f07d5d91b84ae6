// Package watcher observes a repository for changes and emits debounced
// batches of changed paths for the indexer to reconcile.
package watcher

import (
	"context"
	"time"
)

// Watcher streams debounced batches of changed paths until Stop is called
// or its context is cancelled.
type Watcher interface {
	// Start begins watching the given root directory. The watcher runs
	// until Stop is called or ctx is cancelled.
	Start(ctx context.Context, root string) error

	// Stop stops the watcher and releases resources. Safe to call
	// multiple times.
	Stop() error

	// Events returns a channel of debounced path batches. Closed when
	// the watcher stops.
	Events() <-chan []string

	// Errors returns a channel of non-fatal watcher errors. Closed when
	// the watcher stops.
	Errors() <-chan error
}

// Options configures a watcher's debouncing and filtering behavior.
type Options struct {
	// DebounceWindow is the quiet period after the most recent
	// qualifying event before a batch is emitted.
	DebounceWindow time.Duration

	// EventBufferSize bounds the batch output channel.
	EventBufferSize int

	// IgnorePatterns are additional gitignore-syntax patterns layered
	// on top of the repository's own ignore rules.
	IgnorePatterns []string

	// Extensions restricts emitted paths to this set of recognized file
	// extensions (e.g. ".go", ".py"). Empty means no extension filter.
	Extensions map[string]bool
}

// DefaultOptions returns sensible watcher defaults.
func DefaultOptions() Options {
	return Options{
		DebounceWindow:  500 * time.Millisecond,
		EventBufferSize: 100,
	}
}

// WithDefaults returns o with zero-valued fields replaced by defaults.
func (o Options) WithDefaults() Options {
	defaults := DefaultOptions()
	if o.DebounceWindow == 0 {
		o.DebounceWindow = defaults.DebounceWindow
	}
	if o.EventBufferSize == 0 {
		o.EventBufferSize = defaults.EventBufferSize
	}
	return o
}
