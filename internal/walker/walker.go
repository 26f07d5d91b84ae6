package walker

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/laulauland/ragrep/internal/gitignore"
)

// ignoreCacheSize bounds the number of per-directory ignore matchers kept
// in memory during a walk, preventing unbounded growth on very large
// repositories.
const ignoreCacheSize = 1000

// ignoreFileNames are consulted in each directory, in order; both use
// gitignore syntax.
var ignoreFileNames = []string{".gitignore", ".ragrepignore"}

// Walker discovers files under a root directory.
type Walker struct {
	cache *lru.Cache[string, *gitignore.Matcher]
	mu    sync.RWMutex
}

// New creates a Walker.
func New() (*Walker, error) {
	cache, err := lru.New[string, *gitignore.Matcher](ignoreCacheSize)
	if err != nil {
		return nil, fmt.Errorf("creating ignore matcher cache: %w", err)
	}
	return &Walker{cache: cache}, nil
}

// Walk streams every indexable file under opts.RootDir. The returned
// channel is closed once the walk completes or ctx is canceled.
func (w *Walker) Walk(ctx context.Context, opts *Options) (<-chan Result, error) {
	if opts == nil {
		opts = &Options{}
	}

	rootDir := opts.RootDir
	if rootDir == "" {
		rootDir = "."
	}
	absRoot, err := filepath.Abs(rootDir)
	if err != nil {
		return nil, fmt.Errorf("resolving root directory: %w", err)
	}
	info, err := os.Stat(absRoot)
	if err != nil {
		return nil, fmt.Errorf("stating root directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("root path is not a directory: %s", absRoot)
	}

	maxFileSize := opts.MaxFileSize
	if maxFileSize <= 0 {
		maxFileSize = DefaultMaxFileSize
	}
	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	results := make(chan Result, workers*10)
	go func() {
		defer close(results)
		w.walk(ctx, absRoot, opts, maxFileSize, results)
	}()
	return results, nil
}

func (w *Walker) walk(ctx context.Context, absRoot string, opts *Options, maxFileSize int64, results chan<- Result) {
	visited := make(map[string]bool)

	err := filepath.WalkDir(absRoot, func(path string, d fs.DirEntry, err error) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if err != nil {
			return nil
		}

		relPath, relErr := filepath.Rel(absRoot, path)
		if relErr != nil || relPath == "." {
			return nil
		}

		if d.IsDir() {
			if w.shouldSkipDir(relPath, d.Name(), opts) {
				return filepath.SkipDir
			}
			return nil
		}

		if d.Type()&fs.ModeSymlink != 0 {
			if !opts.FollowSymlinks {
				return nil
			}
			target, err := filepath.EvalSymlinks(path)
			if err != nil || visited[target] {
				return nil
			}
			visited[target] = true
		}

		if w.shouldSkipFile(relPath, absRoot, opts) {
			return nil
		}

		fi, err := d.Info()
		if err != nil {
			return nil
		}
		if fi.Size() > maxFileSize {
			return nil
		}
		if isBinary(path) {
			return nil
		}

		entry := &FileEntry{
			Path:    relPath,
			AbsPath: path,
			Size:    fi.Size(),
			ModTime: fi.ModTime(),
		}

		select {
		case results <- Result{File: entry}:
		case <-ctx.Done():
			return ctx.Err()
		}
		return nil
	})

	if err != nil && err != context.Canceled {
		select {
		case results <- Result{Error: err}:
		case <-ctx.Done():
		}
	}
}

func (w *Walker) shouldSkipDir(relPath, base string, opts *Options) bool {
	if hardIgnoreDirs[base] {
		return true
	}
	for _, pattern := range opts.ExtraExcludes {
		if matchDirPattern(relPath, pattern) {
			return true
		}
	}
	return false
}

func (w *Walker) shouldSkipFile(relPath, absRoot string, opts *Options) bool {
	base := filepath.Base(relPath)

	for _, name := range ignoreFileNames {
		if base == name {
			return true
		}
	}
	for _, pattern := range sensitiveFilePatterns {
		if matchFilePattern(base, pattern) {
			return true
		}
	}
	for _, pattern := range opts.ExtraExcludes {
		if matchFilePattern(base, pattern) {
			return true
		}
	}
	return w.isIgnored(relPath, absRoot)
}

// isIgnored checks relPath against every .gitignore/.ragrepignore found
// from the root down to the file's containing directory.
func (w *Walker) isIgnored(relPath, absRoot string) bool {
	if matcher := w.matcherFor(absRoot, ""); matcher != nil && matcher.Match(relPath, false) {
		return true
	}

	dir := filepath.Dir(relPath)
	if dir == "." {
		return false
	}

	parts := strings.Split(dir, string(filepath.Separator))
	currentDir := absRoot
	currentBase := ""
	for _, part := range parts {
		currentDir = filepath.Join(currentDir, part)
		if currentBase == "" {
			currentBase = part
		} else {
			currentBase = filepath.Join(currentBase, part)
		}
		if matcher := w.matcherFor(currentDir, currentBase); matcher != nil && matcher.Match(relPath, false) {
			return true
		}
	}
	return false
}

func (w *Walker) matcherFor(dir, base string) *gitignore.Matcher {
	w.mu.RLock()
	matcher, ok := w.cache.Get(dir)
	w.mu.RUnlock()
	if ok {
		return matcher
	}

	combined := gitignore.New()
	found := false
	for _, name := range ignoreFileNames {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err != nil {
			continue
		}
		if err := combined.AddFromFile(path, base); err == nil {
			found = true
		}
	}
	if !found {
		return nil
	}

	w.mu.Lock()
	w.cache.Add(dir, combined)
	w.mu.Unlock()
	return combined
}

// InvalidateIgnoreCache drops every cached matcher, forcing them to be
// re-read on next use.
func (w *Walker) InvalidateIgnoreCache() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.cache.Purge()
}

func isBinary(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer func() { _ = f.Close() }()

	buf := make([]byte, 512)
	n, err := f.Read(buf)
	if err != nil {
		return false
	}
	for _, b := range buf[:n] {
		if b == 0 {
			return true
		}
	}
	return false
}

func matchDirPattern(relPath, pattern string) bool {
	if strings.HasPrefix(pattern, "**/") {
		suffix := strings.TrimPrefix(pattern, "**/")
		suffix = strings.TrimSuffix(suffix, "/**")
		for _, part := range strings.Split(relPath, string(filepath.Separator)) {
			if part == suffix {
				return true
			}
		}
		return false
	}
	if strings.HasSuffix(pattern, "/**") {
		prefix := strings.TrimSuffix(pattern, "/**")
		return relPath == prefix || strings.HasPrefix(relPath, prefix+string(filepath.Separator))
	}
	return relPath == pattern || strings.HasPrefix(relPath, pattern+string(filepath.Separator))
}

func matchFilePattern(base, pattern string) bool {
	if strings.HasPrefix(pattern, "*") && strings.HasSuffix(pattern, "*") && len(pattern) > 1 {
		middle := strings.TrimSuffix(strings.TrimPrefix(pattern, "*"), "*")
		return strings.Contains(strings.ToLower(base), strings.ToLower(middle))
	}
	if strings.HasSuffix(pattern, "*") {
		return strings.HasPrefix(base, strings.TrimSuffix(pattern, "*"))
	}
	if strings.HasPrefix(pattern, "*") {
		return strings.HasSuffix(base, strings.TrimPrefix(pattern, "*"))
	}
	return base == pattern
}

// sensitiveFilePatterns are never indexed, even if not gitignored.
var sensitiveFilePatterns = []string{
	".env",
	".env.*",
	"*.pem",
	"*.key",
	"*.p12",
	"*.pfx",
	"*credentials*",
	"*secrets*",
	"*password*",
	".netrc",
	".npmrc",
	".pypirc",
	"id_rsa",
	"id_dsa",
	"id_ecdsa",
	"id_ed25519",
}
