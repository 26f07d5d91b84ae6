package watcher

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/laulauland/ragrep/internal/gitignore"
)

// WorkingTreeWatcher watches a directory tree recursively with fsnotify,
// filters events to Create/Write/Remove/Rename against .gitignore rules
// and a recognized-extension set, and feeds surviving paths into a
// Debouncer.
type WorkingTreeWatcher struct {
	fsWatcher *fsnotify.Watcher
	debouncer *Debouncer
	gitignore *gitignore.Matcher
	events    chan []string
	errors    chan error
	stopCh    chan struct{}
	rootPath  string
	opts      Options
	mu        sync.RWMutex
	stopped   bool
}

var _ Watcher = (*WorkingTreeWatcher)(nil)

// NewWorkingTreeWatcher creates a fsnotify-backed working-tree watcher.
func NewWorkingTreeWatcher(opts Options) (*WorkingTreeWatcher, error) {
	opts = opts.WithDefaults()

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}

	w := &WorkingTreeWatcher{
		fsWatcher: fsw,
		debouncer: NewDebouncer(opts.DebounceWindow),
		gitignore: gitignore.New(),
		events:    make(chan []string, opts.EventBufferSize),
		errors:    make(chan error, 10),
		stopCh:    make(chan struct{}),
		opts:      opts,
	}
	for _, pattern := range opts.IgnorePatterns {
		w.gitignore.AddPattern(pattern)
	}
	w.gitignore.AddPattern(".ragrep/")
	w.gitignore.AddPattern(".ragrep/**")

	return w, nil
}

// Start begins watching root.
func (w *WorkingTreeWatcher) Start(ctx context.Context, root string) error {
	absPath, err := filepath.Abs(root)
	if err != nil {
		return fmt.Errorf("resolve absolute path: %w", err)
	}
	w.rootPath = absPath
	w.loadGitignore()

	go w.forwardDebouncedBatches(ctx)

	if err := w.addRecursive(w.rootPath); err != nil {
		return fmt.Errorf("add directories to watcher: %w", err)
	}

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
			w.handleEvent(event)
		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return nil
			}
			w.emitError(err)
		}
	}
}

func (w *WorkingTreeWatcher) handleEvent(event fsnotify.Event) {
	relPath, err := filepath.Rel(w.rootPath, event.Name)
	if err != nil {
		relPath = event.Name
	}

	isDir := false
	if info, err := os.Stat(event.Name); err == nil {
		isDir = info.IsDir()
	}

	if w.shouldIgnore(relPath, isDir) {
		return
	}

	if filepath.Base(event.Name) == ".gitignore" {
		w.loadGitignore()
		return
	}

	switch {
	case event.Op&fsnotify.Create != 0:
		if isDir {
			_ = w.fsWatcher.Add(event.Name)
			return
		}
	case event.Op&fsnotify.Write != 0:
	case event.Op&fsnotify.Remove != 0:
	case event.Op&fsnotify.Rename != 0:
	default:
		return
	}

	if !w.hasRecognizedExtension(relPath) {
		return
	}

	w.debouncer.Add(relPath)
}

func (w *WorkingTreeWatcher) hasRecognizedExtension(relPath string) bool {
	if len(w.opts.Extensions) == 0 {
		return true
	}
	return w.opts.Extensions[filepath.Ext(relPath)]
}

func (w *WorkingTreeWatcher) forwardDebouncedBatches(ctx context.Context) {
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

func (w *WorkingTreeWatcher) addRecursive(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		relPath, _ := filepath.Rel(w.rootPath, path)
		if relPath == "." {
			return w.fsWatcher.Add(path)
		}
		if w.shouldIgnoreDir(relPath) {
			return filepath.SkipDir
		}
		return w.fsWatcher.Add(path)
	})
}

func (w *WorkingTreeWatcher) shouldIgnoreDir(relPath string) bool {
	if strings.HasPrefix(relPath, ".git") || relPath == ".git" {
		return true
	}
	if strings.HasPrefix(relPath, ".ragrep") || relPath == ".ragrep" {
		return true
	}
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.gitignore.Match(relPath, true)
}

func (w *WorkingTreeWatcher) shouldIgnore(relPath string, isDir bool) bool {
	if relPath == "." || relPath == "" {
		return true
	}
	if strings.HasPrefix(relPath, ".git/") || relPath == ".git" {
		return true
	}
	if strings.HasPrefix(relPath, ".ragrep/") || relPath == ".ragrep" {
		return true
	}
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.gitignore.Match(relPath, isDir)
}

func (w *WorkingTreeWatcher) loadGitignore() {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.gitignore = gitignore.New()
	for _, pattern := range w.opts.IgnorePatterns {
		w.gitignore.AddPattern(pattern)
	}
	w.gitignore.AddPattern(".ragrep/")
	w.gitignore.AddPattern(".ragrep/**")

	gitignorePath := filepath.Join(w.rootPath, ".gitignore")
	if err := w.gitignore.AddFromFile(gitignorePath, ""); err != nil && !os.IsNotExist(err) {
		slog.Warn("failed to load root .gitignore", slog.String("path", gitignorePath), slog.String("error", err.Error()))
	}

	_ = filepath.WalkDir(w.rootPath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			return nil
		}
		if d.Name() == ".gitignore" && path != gitignorePath {
			base, _ := filepath.Rel(w.rootPath, filepath.Dir(path))
			if err := w.gitignore.AddFromFile(path, base); err != nil {
				slog.Warn("failed to read nested .gitignore", slog.String("path", path), slog.String("error", err.Error()))
			}
		}
		return nil
	})
}

func (w *WorkingTreeWatcher) emitBatch(batch []string) {
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

func (w *WorkingTreeWatcher) emitError(err error) {
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
func (w *WorkingTreeWatcher) Stop() error {
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
func (w *WorkingTreeWatcher) Events() <-chan []string { return w.events }

// Errors returns the channel of non-fatal errors.
func (w *WorkingTreeWatcher) Errors() <-chan error { return w.errors }
