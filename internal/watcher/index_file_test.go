package watcher

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/stretchr/testify/require"
)

func initTestRepo(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	_, err := git.PlainInit(dir, false)
	require.NoError(t, err)
	return dir
}

func TestIndexFileWatcher_New(t *testing.T) {
	w, err := NewIndexFileWatcher(DefaultOptions())
	require.NoError(t, err)
	require.NotNil(t, w)
	defer func() { _ = w.Stop() }()
}

func TestIndexFileWatcher_StartFailsOutsideRepo(t *testing.T) {
	w, err := NewIndexFileWatcher(DefaultOptions())
	require.NoError(t, err)
	defer func() { _ = w.Stop() }()

	err = w.Start(context.Background(), t.TempDir())
	require.Error(t, err)
}

func TestIndexFileWatcher_DetectsIndexWrite(t *testing.T) {
	repoDir := initTestRepo(t)

	opts := Options{DebounceWindow: 20 * time.Millisecond}.WithDefaults()
	w, err := NewIndexFileWatcher(opts)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	started := make(chan struct{})
	go func() {
		close(started)
		_ = w.Start(ctx, repoDir)
	}()
	<-started
	time.Sleep(200 * time.Millisecond)

	filePath := filepath.Join(repoDir, "main.go")
	require.NoError(t, os.WriteFile(filePath, []byte("package main"), 0o644))

	repo, err := git.PlainOpen(repoDir)
	require.NoError(t, err)
	wt, err := repo.Worktree()
	require.NoError(t, err)
	_, err = wt.Add("main.go")
	require.NoError(t, err)

	select {
	case batch := <-w.Events():
		require.Contains(t, batch, "main.go")
	case err := <-w.Errors():
		t.Fatalf("got error: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("timeout - no events received")
	}

	require.NoError(t, w.Stop())
}
