package watcher

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestWorkingTreeWatcher_New(t *testing.T) {
	w, err := NewWorkingTreeWatcher(DefaultOptions())
	require.NoError(t, err)
	require.NotNil(t, w)
	defer func() { _ = w.Stop() }()
}

func TestWorkingTreeWatcher_DetectsFileCreation(t *testing.T) {
	tempDir := t.TempDir()

	opts := Options{DebounceWindow: 10 * time.Millisecond}.WithDefaults()
	w, err := NewWorkingTreeWatcher(opts)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	started := make(chan struct{})
	go func() {
		close(started)
		_ = w.Start(ctx, tempDir)
	}()
	<-started
	time.Sleep(200 * time.Millisecond)

	testFile := filepath.Join(tempDir, "test.go")
	require.NoError(t, os.WriteFile(testFile, []byte("package main"), 0o644))

	select {
	case batch := <-w.Events():
		require.NotEmpty(t, batch)
		require.Contains(t, batch, "test.go")
	case err := <-w.Errors():
		t.Fatalf("got error: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("timeout - no events received")
	}

	require.NoError(t, w.Stop())
}

func TestWorkingTreeWatcher_FiltersGitignoredPaths(t *testing.T) {
	tempDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(tempDir, ".gitignore"), []byte("ignored.go\n"), 0o644))

	opts := Options{DebounceWindow: 20 * time.Millisecond}.WithDefaults()
	w, err := NewWorkingTreeWatcher(opts)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	started := make(chan struct{})
	go func() {
		close(started)
		_ = w.Start(ctx, tempDir)
	}()
	<-started
	time.Sleep(200 * time.Millisecond)

	require.NoError(t, os.WriteFile(filepath.Join(tempDir, "ignored.go"), []byte("package main"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(tempDir, "kept.go"), []byte("package main"), 0o644))

	select {
	case batch := <-w.Events():
		require.Contains(t, batch, "kept.go")
		require.NotContains(t, batch, "ignored.go")
	case <-time.After(2 * time.Second):
		t.Fatal("timeout - no events received")
	}

	require.NoError(t, w.Stop())
}

func TestWorkingTreeWatcher_FiltersUnrecognizedExtensions(t *testing.T) {
	tempDir := t.TempDir()

	opts := Options{
		DebounceWindow: 20 * time.Millisecond,
		Extensions:     map[string]bool{".go": true},
	}.WithDefaults()
	w, err := NewWorkingTreeWatcher(opts)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	started := make(chan struct{})
	go func() {
		close(started)
		_ = w.Start(ctx, tempDir)
	}()
	<-started
	time.Sleep(200 * time.Millisecond)

	require.NoError(t, os.WriteFile(filepath.Join(tempDir, "notes.txt"), []byte("hi"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(tempDir, "main.go"), []byte("package main"), 0o644))

	select {
	case batch := <-w.Events():
		require.Contains(t, batch, "main.go")
		require.NotContains(t, batch, "notes.txt")
	case <-time.After(2 * time.Second):
		t.Fatal("timeout - no events received")
	}

	require.NoError(t, w.Stop())
}
