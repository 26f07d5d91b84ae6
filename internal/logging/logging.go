package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/laulauland/ragrep/internal/config"
)

// Config controls the rotating-file JSON logger.
type Config struct {
	Level         string
	FilePath      string
	MaxSizeMB     int
	MaxFiles      int
	WriteToStderr bool
}

// DefaultConfig returns the logger configuration used when the daemon
// starts without an explicit log file: a modest rotation window and no
// stderr tee, since the daemon runs detached.
func DefaultConfig() Config {
	return Config{
		Level:         "info",
		FilePath:      DefaultLogPath(),
		MaxSizeMB:     10,
		MaxFiles:      5,
		WriteToStderr: false,
	}
}

// FromConfig derives a logger Config from the loaded ragrep config,
// rooting a relative log.file at the repository root and falling back to DefaultLogPath when log.file is empty.
func FromConfig(cfg *config.Config, repoRoot string) Config {
	path := cfg.Log.File
	switch {
	case path == "":
		path = DefaultLogPath()
	case !filepath.IsAbs(path):
		path = filepath.Join(repoRoot, path)
	}
	return Config{
		Level:         cfg.Log.Level,
		FilePath:      path,
		MaxSizeMB:     10,
		MaxFiles:      5,
		WriteToStderr: false,
	}
}

// DebugConfig returns a verbose configuration that also tees to stderr,
// used by CLI commands run with --debug.
func DebugConfig() Config {
	cfg := DefaultConfig()
	cfg.Level = "debug"
	cfg.WriteToStderr = true
	return cfg
}

// Setup builds a slog.Logger writing JSON-formatted records to a rotating
// file, optionally teed to stderr, and returns a cleanup func that flushes
// and closes the underlying writer.
func Setup(cfg Config) (*slog.Logger, func(), error) {
	if err := EnsureLogDir(filepath.Dir(cfg.FilePath)); err != nil {
		return nil, nil, fmt.Errorf("preparing log directory: %w", err)
	}

	rw, err := NewRotatingWriter(cfg.FilePath, cfg.MaxSizeMB, cfg.MaxFiles)
	if err != nil {
		return nil, nil, fmt.Errorf("opening log file: %w", err)
	}

	var w io.Writer = rw
	if cfg.WriteToStderr {
		w = io.MultiWriter(rw, os.Stderr)
	}

	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: parseLevel(cfg.Level),
	})
	logger := slog.New(handler)

	cleanup := func() {
		_ = rw.Sync()
		_ = rw.Close()
	}
	return logger, cleanup, nil
}

// SetupDefault installs Setup's logger as the slog default and returns its
// cleanup func.
func SetupDefault(cfg Config) (func(), error) {
	logger, cleanup, err := Setup(cfg)
	if err != nil {
		return nil, err
	}
	slog.SetDefault(logger)
	return cleanup, nil
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// LevelFromString is the exported form of parseLevel, used by callers that
// need to validate a level string before passing it into Setup.
func LevelFromString(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug", "info", "warn", "warning", "error":
		return parseLevel(level), nil
	default:
		return 0, fmt.Errorf("unknown log level %q", level)
	}
}
