package watcher

import "context"

// DisabledWatcher emits nothing. Used when watching is turned off in
// configuration or the base path is not inside a repository.
type DisabledWatcher struct {
	events chan []string
	errors chan error
}

var _ Watcher = (*DisabledWatcher)(nil)

// NewDisabledWatcher creates a watcher whose Events/Errors channels are
// closed immediately and never deliver anything.
func NewDisabledWatcher() *DisabledWatcher {
	events := make(chan []string)
	errors := make(chan error)
	close(events)
	close(errors)
	return &DisabledWatcher{events: events, errors: errors}
}

// Start returns nil immediately; there is nothing to watch.
func (DisabledWatcher) Start(context.Context, string) error { return nil }

// Stop is a no-op.
func (DisabledWatcher) Stop() error { return nil }

// Events returns an already-closed channel.
func (w *DisabledWatcher) Events() <-chan []string { return w.events }

// Errors returns an already-closed channel.
func (w *DisabledWatcher) Errors() <-chan error { return w.errors }
