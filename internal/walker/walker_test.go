package walker

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFiles(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for path, content := range files {
		full := filepath.Join(root, path)
		require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
		require.NoError(t, os.WriteFile(full, []byte(content), 0o644))
	}
}

func collect(t *testing.T, results <-chan Result) []*FileEntry {
	t.Helper()
	var entries []*FileEntry
	for r := range results {
		require.NoError(t, r.Error)
		entries = append(entries, r.File)
	}
	return entries
}

func paths(entries []*FileEntry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Path
	}
	return out
}

func TestWalker_BasicFiles(t *testing.T) {
	tmpDir := t.TempDir()
	writeFiles(t, tmpDir, map[string]string{
		"main.go":     "package main\n",
		"pkg/lib.go":  "package pkg\n",
		"README.md":   "# Test\n",
		"src/app.ts":  "export const x = 1;\n",
	})

	w, err := New()
	require.NoError(t, err)
	results, err := w.Walk(context.Background(), &Options{RootDir: tmpDir})
	require.NoError(t, err)

	entries := collect(t, results)
	assert.Len(t, entries, 4)
	assert.Contains(t, paths(entries), "main.go")
}

func TestWalker_ExcludesHardIgnoreDirs(t *testing.T) {
	tmpDir := t.TempDir()
	writeFiles(t, tmpDir, map[string]string{
		"index.js":                      "console.log(1)\n",
		"node_modules/lodash/index.js":  "module.exports={}\n",
		"target/debug/binary":           "\x00binary\n",
		".git/config":                   "[core]\n",
		"__pycache__/mod.pyc":           "\x00\n",
		".next/cache/x.json":            "{}\n",
		"dist/bundle.js":                "console.log(1)\n",
		"build/out.o":                   "\x00\n",
	})

	w, err := New()
	require.NoError(t, err)
	results, err := w.Walk(context.Background(), &Options{RootDir: tmpDir})
	require.NoError(t, err)

	entries := collect(t, results)
	assert.Len(t, entries, 1)
	assert.Equal(t, "index.js", entries[0].Path)
}

func TestWalker_ExcludesSensitiveFiles(t *testing.T) {
	tmpDir := t.TempDir()
	writeFiles(t, tmpDir, map[string]string{
		"main.go":     "package main\n",
		".env":        "SECRET=1\n",
		".env.local":  "SECRET=2\n",
		"id_rsa":      "PRIVATE\n",
		"server.pem":  "CERT\n",
	})

	w, err := New()
	require.NoError(t, err)
	results, err := w.Walk(context.Background(), &Options{RootDir: tmpDir})
	require.NoError(t, err)

	entries := collect(t, results)
	assert.Len(t, entries, 1)
	assert.Equal(t, "main.go", entries[0].Path)
}

func TestWalker_RespectsGitignore(t *testing.T) {
	tmpDir := t.TempDir()
	writeFiles(t, tmpDir, map[string]string{
		".gitignore": "*.log\nignored-dir/\n",
		"main.go":    "package main\n",
		"debug.log":  "log line\n",
		"ignored-dir/file.txt": "content\n",
	})

	w, err := New()
	require.NoError(t, err)
	results, err := w.Walk(context.Background(), &Options{RootDir: tmpDir})
	require.NoError(t, err)

	entries := collect(t, results)
	assert.Equal(t, []string{"main.go"}, paths(entries))
}

func TestWalker_RespectsRagrepignore(t *testing.T) {
	tmpDir := t.TempDir()
	writeFiles(t, tmpDir, map[string]string{
		".ragrepignore": "fixtures/\n",
		"main.go":       "package main\n",
		"fixtures/data.json": "{}\n",
	})

	w, err := New()
	require.NoError(t, err)
	results, err := w.Walk(context.Background(), &Options{RootDir: tmpDir})
	require.NoError(t, err)

	entries := collect(t, results)
	assert.Equal(t, []string{"main.go"}, paths(entries))
}

func TestWalker_NestedGitignore(t *testing.T) {
	tmpDir := t.TempDir()
	writeFiles(t, tmpDir, map[string]string{
		"main.go":              "package main\n",
		"sub/.gitignore":       "*.tmp\n",
		"sub/keep.go":          "package sub\n",
		"sub/scratch.tmp":      "temp data\n",
	})

	w, err := New()
	require.NoError(t, err)
	results, err := w.Walk(context.Background(), &Options{RootDir: tmpDir})
	require.NoError(t, err)

	entries := collect(t, results)
	assert.ElementsMatch(t, []string{"main.go", "sub/keep.go"}, paths(entries))
}

func TestWalker_GitignoreNegation(t *testing.T) {
	tmpDir := t.TempDir()
	writeFiles(t, tmpDir, map[string]string{
		".gitignore": "*.log\n!important.log\n",
		"debug.log":  "debug\n",
		"important.log": "important\n",
	})

	w, err := New()
	require.NoError(t, err)
	results, err := w.Walk(context.Background(), &Options{RootDir: tmpDir})
	require.NoError(t, err)

	entries := collect(t, results)
	assert.Equal(t, []string{"important.log"}, paths(entries))
}

func TestWalker_SkipsLargeFiles(t *testing.T) {
	tmpDir := t.TempDir()
	writeFiles(t, tmpDir, map[string]string{
		"small.go": "package main\n",
	})
	big := make([]byte, 2048)
	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, "big.bin"), big, 0o644))

	w, err := New()
	require.NoError(t, err)
	results, err := w.Walk(context.Background(), &Options{RootDir: tmpDir, MaxFileSize: 1024})
	require.NoError(t, err)

	entries := collect(t, results)
	assert.Equal(t, []string{"small.go"}, paths(entries))
}

func TestWalker_CustomExcludePatterns(t *testing.T) {
	tmpDir := t.TempDir()
	writeFiles(t, tmpDir, map[string]string{
		"main.go":      "package main\n",
		"main_test.go": "package main\n",
	})

	w, err := New()
	require.NoError(t, err)
	results, err := w.Walk(context.Background(), &Options{
		RootDir:       tmpDir,
		ExtraExcludes: []string{"*_test.go"},
	})
	require.NoError(t, err)

	entries := collect(t, results)
	assert.Equal(t, []string{"main.go"}, paths(entries))
}

func TestWalker_EmptyDirectory(t *testing.T) {
	tmpDir := t.TempDir()
	w, err := New()
	require.NoError(t, err)
	results, err := w.Walk(context.Background(), &Options{RootDir: tmpDir})
	require.NoError(t, err)
	assert.Empty(t, collect(t, results))
}

func TestWalker_NonExistentDirectory(t *testing.T) {
	w, err := New()
	require.NoError(t, err)
	_, err = w.Walk(context.Background(), &Options{RootDir: filepath.Join(t.TempDir(), "missing")})
	assert.Error(t, err)
}

func TestWalker_InvalidateIgnoreCache(t *testing.T) {
	tmpDir := t.TempDir()
	writeFiles(t, tmpDir, map[string]string{
		".gitignore": "*.log\n",
		"keep.go":    "package main\n",
		"debug.log":  "log\n",
	})

	w, err := New()
	require.NoError(t, err)

	results, err := w.Walk(context.Background(), &Options{RootDir: tmpDir})
	require.NoError(t, err)
	assert.Equal(t, []string{"keep.go"}, paths(collect(t, results)))

	// Widen the gitignore after the first walk populated the cache.
	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, ".gitignore"), []byte("*.log\nkeep.go\n"), 0o644))
	w.InvalidateIgnoreCache()

	results, err = w.Walk(context.Background(), &Options{RootDir: tmpDir})
	require.NoError(t, err)
	assert.Empty(t, collect(t, results))
}

func TestWalker_ContextCancellation(t *testing.T) {
	tmpDir := t.TempDir()
	writeFiles(t, tmpDir, map[string]string{"main.go": "package main\n"})

	w, err := New()
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	results, err := w.Walk(ctx, &Options{RootDir: tmpDir})
	require.NoError(t, err)
	for r := range results {
		if r.Error != nil {
			assert.ErrorIs(t, r.Error, context.Canceled)
		}
	}
}
