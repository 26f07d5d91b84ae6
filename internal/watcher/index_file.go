package watcher

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/go-git/go-git/v5"
)

// IndexFileWatcher watches a repository's `.git/index` for writes and, on
// each write, asks go-git for the set of working-tree-changed paths
// (modified, new, deleted, renamed, typechanged), feeding that set through
// a Debouncer. This catches changes made by any tool that updates the git
// index — not just editors saving files directly.
type IndexFileWatcher struct {
	fsWatcher *fsnotify.Watcher
	debouncer *Debouncer
	repo      *git.Repository
	events    chan []string
	errors    chan error
	stopCh    chan struct{}
	rootPath  string
	mu        sync.RWMutex
	stopped   bool
}

var _ Watcher = (*IndexFileWatcher)(nil)

// NewIndexFileWatcher creates a watcher over a repository's `.git/index`.
// The root later passed to Start must be the repository's top-level
// directory, the one holding `.git`.
func NewIndexFileWatcher(opts Options) (*IndexFileWatcher, error) {
	opts = opts.WithDefaults()

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}

	return &IndexFileWatcher{
		fsWatcher: fsw,
		debouncer: NewDebouncer(opts.DebounceWindow),
		events:    make(chan []string, opts.EventBufferSize),
		errors:    make(chan error, 10),
		stopCh:    make(chan struct{}),
	}, nil
}

// Start begins watching root's git index.
func (w *IndexFileWatcher) Start(ctx context.Context, root string) error {
	absPath, err := filepath.Abs(root)
	if err != nil {
		return fmt.Errorf("resolve absolute path: %w", err)
	}
	w.rootPath = absPath

	repo, err := git.PlainOpen(absPath)
	if err != nil {
		return fmt.Errorf("open git repository: %w", err)
	}
	w.repo = repo

	indexPath := filepath.Join(absPath, ".git", "index")
	if err := w.fsWatcher.Add(filepath.Dir(indexPath)); err != nil {
		return fmt.Errorf("watch .git directory: %w", err)
	}

	go w.forwardDebouncedBatches(ctx)

	for {
		select {
		case <-ctx.Done():
			_ = w.Stop()
			return ctx.Err()
		case <-w.stopCh:
			return nil
		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return nil
			}
			if filepath.Base(event.Name) != "index" {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			w.handleIndexWrite()
		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return nil
			}
			w.emitError(err)
		}
	}
}

// handleIndexWrite queries the working-tree status and queues every
// changed path with the debouncer.
func (w *IndexFileWatcher) handleIndexWrite() {
	wt, err := w.repo.Worktree()
	if err != nil {
		w.emitError(fmt.Errorf("open worktree: %w", err))
		return
	}

	status, err := wt.Status()
	if err != nil {
		w.emitError(fmt.Errorf("read worktree status: %w", err))
		return
	}

	for path, fileStatus := range status {
		if fileStatus.Staging == git.Unmodified && fileStatus.Worktree == git.Unmodified {
			continue
		}
		w.debouncer.Add(path)
		if fileStatus.Extra != "" {
			w.debouncer.Add(fileStatus.Extra)
		}
	}
}

func (w *IndexFileWatcher) forwardDebouncedBatches(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case batch, ok := <-w.debouncer.Output():
			if !ok {
				return
			}
			if len(batch) == 0 {
				continue
			}
			w.emitBatch(batch)
		}
	}
}

func (w *IndexFileWatcher) emitBatch(batch []string) {
	w.mu.RLock()
	stopped := w.stopped
	w.mu.RUnlock()
	if stopped {
		return
	}
	select {
	case w.events <- batch:
	default:
		slog.Warn("watcher event buffer full, dropping batch", slog.Int("batch_size", len(batch)))
	}
}

func (w *IndexFileWatcher) emitError(err error) {
	w.mu.RLock()
	stopped := w.stopped
	w.mu.RUnlock()
	if stopped {
		return
	}
	select {
	case w.errors <- err:
	default:
	}
}

// Stop stops the watcher and releases resources.
func (w *IndexFileWatcher) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.stopped {
		return nil
	}
	w.stopped = true
	close(w.stopCh)
	w.debouncer.Stop()
	_ = w.fsWatcher.Close()
	close(w.events)
	close(w.errors)
	return nil
}

// Events returns the channel of debounced path batches.
func (w *IndexFileWatcher) Events() <-chan []string { return w.events }

// Errors returns the channel of non-fatal errors.
func (w *IndexFileWatcher) Errors() <-chan error { return w.errors }
