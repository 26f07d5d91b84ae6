package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/laulauland/ragrep/internal/chunk"
	"github.com/laulauland/ragrep/internal/config"
	"github.com/laulauland/ragrep/internal/daemon"
	"github.com/laulauland/ragrep/internal/embed"
	"github.com/laulauland/ragrep/internal/indexer"
	"github.com/laulauland/ragrep/internal/search"
	"github.com/laulauland/ragrep/internal/store"
	"github.com/laulauland/ragrep/internal/walker"
	"github.com/laulauland/ragrep/internal/watcher"
)

// repoPaths collects the well-known files ragrep keeps under a
// repository's .ragrep directory.
type repoPaths struct {
	root       string
	dataDir    string
	metadataDB string
	vectorsDB  string
	socket     string
	pidFile    string
}

func resolvePaths(root string) repoPaths {
	dataDir := filepath.Join(root, ".ragrep")
	return repoPaths{
		root:       root,
		dataDir:    dataDir,
		metadataDB: filepath.Join(dataDir, "ragrep.db"),
		vectorsDB:  filepath.Join(dataDir, "ragrep.vectors"),
		socket:     filepath.Join(dataDir, "ragrep.sock"),
		pidFile:    filepath.Join(dataDir, "server.pid"),
	}
}

func (p repoPaths) daemonConfig() daemon.Config {
	return daemon.Config{SocketPath: p.socket, PIDPath: p.pidFile}
}

// resolveRepoRoot finds the repository root for path, falling back to
// path itself when no .git directory is found above it.
func resolveRepoRoot(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("resolving path: %w", err)
	}
	return config.FindRepoRoot(abs)
}

// components bundles the constructed stack an index or query operation
// needs. Close releases the metadata and vector store handles.
type components struct {
	paths    repoPaths
	cfg      *config.Config
	provider embed.ProviderType
	walker   *walker.Walker
	chunker  chunk.Chunker
	embedder embed.Embedder
	metadata store.MetadataStore
	vectors  *store.HNSWStore
	pipeline *search.Pipeline
}

func (c *components) Close() error {
	var firstErr error
	if err := c.metadata.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if c.vectors != nil {
		if err := c.vectors.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// buildComponents wires the walker, chunker, embedder, stores and query
// pipeline together for a given repository root, loading a persisted
// vector index from disk when one already exists.
func buildComponents(ctx context.Context, root string, cfg *config.Config) (*components, error) {
	paths := resolvePaths(root)
	if err := os.MkdirAll(paths.dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	w, err := walker.New()
	if err != nil {
		return nil, fmt.Errorf("creating walker: %w", err)
	}

	provider := embed.ProviderStatic
	embedder, err := embed.NewEmbedder(ctx, provider, "")
	if err != nil {
		return nil, fmt.Errorf("creating embedder: %w", err)
	}

	metadata, err := store.NewSQLiteStore(paths.metadataDB)
	if err != nil {
		return nil, fmt.Errorf("opening metadata store: %w", err)
	}

	vectors, err := store.NewHNSWStore(store.DefaultVectorStoreConfig(embedder.Dimensions()))
	if err != nil {
		return nil, fmt.Errorf("creating vector store: %w", err)
	}
	if _, statErr := os.Stat(paths.vectorsDB); statErr == nil {
		if err := vectors.Load(paths.vectorsDB); err != nil {
			return nil, fmt.Errorf("loading vector store: %w", err)
		}
	}

	var reranker search.Reranker
	if cfg.Reranker.UseExternalService {
		reranker = search.NewHTTPReranker(cfg.Reranker.ServiceURL)
	} else {
		reranker = search.NewLexicalReranker()
	}

	return &components{
		paths:    paths,
		cfg:      cfg,
		provider: provider,
		walker:   w,
		chunker:  chunk.NewCodeChunker(),
		embedder: embedder,
		metadata: metadata,
		vectors:  vectors,
		pipeline: search.NewPipeline(embedder, vectors, metadata, reranker),
	}, nil
}

func (c *components) indexerConfig() indexer.Config {
	return indexer.Config{
		RootDir: c.paths.root,
		DataDir: c.paths.dataDir,
	}
}

func (c *components) newIndexer() *indexer.Indexer {
	return indexer.New(c.indexerConfig(), c.walker, c.chunker, c.embedder, c.metadata, c.vectors)
}

func (c *components) saveVectors() error {
	return c.vectors.Save(c.paths.vectorsDB)
}

func (c *components) newWatcher() (watcher.Watcher, error) {
	if !c.cfg.GitWatch.Enabled {
		return watcher.NewDisabledWatcher(), nil
	}
	if info, err := os.Stat(filepath.Join(c.paths.root, ".git")); err != nil || !info.IsDir() {
		return watcher.NewDisabledWatcher(), nil
	}
	opts := watcher.DefaultOptions()
	if c.cfg.GitWatch.DebounceMs > 0 {
		opts.DebounceWindow = time.Duration(c.cfg.GitWatch.DebounceMs) * time.Millisecond
	}
	return watcher.NewWorkingTreeWatcher(opts)
}
