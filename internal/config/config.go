// Package config loads ragrep's TOML configuration, merging a global
// user config with a per-repository project config.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config is ragrep's complete configuration, mirroring the keys named in
// the external interfaces section of the specification plus the ambient
// logging settings every ragrep component needs.
type Config struct {
	ModelCacheDir string         `toml:"model_cache_dir"`
	Reranker      RerankerConfig `toml:"reranker"`
	GitWatch      GitWatchConfig `toml:"git_watch"`
	Log           LogConfig      `toml:"log"`
}

// RerankerConfig controls whether query reranking calls an external
// service instead of the in-process lexical reranker.
type RerankerConfig struct {
	UseExternalService bool   `toml:"use_external_service"`
	ServiceURL         string `toml:"service_url"`
}

// GitWatchConfig controls the change watcher's mode and debounce window.
type GitWatchConfig struct {
	Enabled     bool `toml:"enabled"`
	DebounceMs  int  `toml:"debounce_ms"`
}

// LogConfig holds the log.level and log.file keys, which
// logging.FromConfig turns into a logger configuration. The CLI's own
// logger setup does not read them.
type LogConfig struct {
	Level string `toml:"level"`
	File  string `toml:"file"`
}

// Default returns the configuration used when no config.toml is present
// at either the global or project level.
func Default() *Config {
	home, err := os.UserHomeDir()
	cacheDir := filepath.Join(os.TempDir(), "ragrep", "models")
	if err == nil {
		cacheDir = filepath.Join(home, ".cache", "ragrep", "models")
	}
	return &Config{
		ModelCacheDir: cacheDir,
		Reranker: RerankerConfig{
			UseExternalService: false,
			ServiceURL:         "",
		},
		GitWatch: GitWatchConfig{
			Enabled:    true,
			DebounceMs: 500,
		},
		Log: LogConfig{
			Level: "info",
			File:  "",
		},
	}
}

// GlobalConfigPath returns the path of the user-level config.toml,
// honoring XDG_CONFIG_HOME.
func GlobalConfigPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "ragrep", "config.toml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "ragrep", "config.toml")
	}
	return filepath.Join(home, ".config", "ragrep", "config.toml")
}

// ProjectConfigPath returns the path of the per-repository config.toml
// under the repository's .ragrep directory.
func ProjectConfigPath(repoRoot string) string {
	return filepath.Join(repoRoot, ".ragrep", "config.toml")
}

// Load builds a Config by layering defaults, then the global config (if
// present), then the project config (if present) — each layer
// overriding only the fields it sets.
func Load(repoRoot string) (*Config, error) {
	cfg := Default()

	if err := mergeFile(cfg, GlobalConfigPath()); err != nil {
		return nil, fmt.Errorf("loading global config: %w", err)
	}
	if err := mergeFile(cfg, ProjectConfigPath(repoRoot)); err != nil {
		return nil, fmt.Errorf("loading project config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func mergeFile(cfg *Config, path string) error {
	if _, err := os.Stat(path); err != nil {
		return nil // absent config is fine, defaults stand
	}

	var parsed Config
	md, err := toml.DecodeFile(path, &parsed)
	if err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}
	cfg.mergeWith(&parsed)
	// Enabled is a meaningful false, so it is taken from the file whenever
	// the key is present in it, whatever its value.
	if md.IsDefined("git_watch", "enabled") {
		cfg.GitWatch.Enabled = parsed.GitWatch.Enabled
	}
	return nil
}

func (c *Config) mergeWith(other *Config) {
	if other.ModelCacheDir != "" {
		c.ModelCacheDir = other.ModelCacheDir
	}
	if other.Reranker.ServiceURL != "" {
		c.Reranker.ServiceURL = other.Reranker.ServiceURL
		c.Reranker.UseExternalService = other.Reranker.UseExternalService
	}
	if other.GitWatch.DebounceMs != 0 {
		c.GitWatch.DebounceMs = other.GitWatch.DebounceMs
	}
	if other.Log.Level != "" {
		c.Log.Level = other.Log.Level
	}
	if other.Log.File != "" {
		c.Log.File = other.Log.File
	}
}

// Validate checks the configuration for internally inconsistent values.
func (c *Config) Validate() error {
	if c.Reranker.UseExternalService && c.Reranker.ServiceURL == "" {
		return fmt.Errorf("reranker.service_url is required when reranker.use_external_service is true")
	}
	if c.GitWatch.DebounceMs < 0 {
		return fmt.Errorf("git_watch.debounce_ms must be non-negative, got %d", c.GitWatch.DebounceMs)
	}
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Log.Level] {
		return fmt.Errorf("log.level must be one of debug/info/warn/error, got %q", c.Log.Level)
	}
	return nil
}

// Write serializes the configuration as TOML to path, creating parent
// directories as needed.
func (c *Config) Write(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating config file: %w", err)
	}
	defer f.Close()

	enc := toml.NewEncoder(f)
	if err := enc.Encode(c); err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	return nil
}

// FindRepoRoot walks upward from startDir looking for a .git directory,
// matching the daemon client's endpoint discovery rule.
func FindRepoRoot(startDir string) (string, error) {
	absDir, err := filepath.Abs(startDir)
	if err != nil {
		return "", fmt.Errorf("resolving absolute path: %w", err)
	}

	dir := absDir
	for {
		if info, err := os.Stat(filepath.Join(dir, ".git")); err == nil && info.IsDir() {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return absDir, nil
		}
		dir = parent
	}
}
