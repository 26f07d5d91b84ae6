// Package walker discovers indexable files in a repository, honoring
// .gitignore and .ragrepignore rules plus a hard-coded directory
// ignore set.
package walker

import "time"

// FileEntry describes one discovered file.
type FileEntry struct {
	Path    string // relative to the walk root
	AbsPath string
	Size    int64
	ModTime time.Time
}

// Options configures a walk.
type Options struct {
	// RootDir is the directory to walk.
	RootDir string

	// ExtraExcludes are additional glob-style exclude patterns layered
	// on top of the hard-coded ignore set and .gitignore/.ragrepignore.
	ExtraExcludes []string

	// Workers sizes the result channel's buffer (Workers*10 entries;
	// 0 = NumCPU). The walk itself runs in a single goroutine.
	Workers int

	// MaxFileSize is the largest file size to include, in bytes
	// (0 = DefaultMaxFileSize).
	MaxFileSize int64

	// FollowSymlinks includes entries that are symbolic links (they are
	// skipped otherwise); a link whose resolved target was already seen
	// through another link is skipped. Symlinked directories are not
	// descended into.
	FollowSymlinks bool
}

// Result is streamed from Walk's channel.
type Result struct {
	File  *FileEntry
	Error error
}

// DefaultMaxFileSize is the default maximum file size walked (10MB).
const DefaultMaxFileSize = 10 * 1024 * 1024

// hardIgnoreDirs are always skipped regardless of .gitignore contents.
var hardIgnoreDirs = map[string]bool{
	"node_modules": true,
	"target":       true,
	".git":         true,
	"__pycache__":  true,
	".next":        true,
	"dist":         true,
	"build":        true,
}
