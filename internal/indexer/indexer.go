// Package indexer orchestrates the walker, chunker, embedder and store into
// full and partial indexing runs.
package indexer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"

	"github.com/laulauland/ragrep/internal/chunk"
	"github.com/laulauland/ragrep/internal/embed"
	"github.com/laulauland/ragrep/internal/store"
	"github.com/laulauland/ragrep/internal/walker"
)

// ErrNonUTF8Content is returned for a file whose content fails utf8.Valid.
var ErrNonUTF8Content = errors.New("file content is not valid UTF-8")

// Config configures an Indexer's full and partial runs.
type Config struct {
	RootDir       string
	DataDir       string
	ExtraExcludes []string
	MaxFileSize   int64
}

// FileError records a non-fatal per-file failure; the run continues past it.
type FileError struct {
	Path string
	Err  error
}

// Result aggregates the outcome of an index run.
type Result struct {
	Files      int
	Chunks     int
	Reused     int
	Recomputed int
	Duration   time.Duration
	Errors     []FileError
}

// Indexer wires the walker, chunker, embedder and stores together.
type Indexer struct {
	config   Config
	walker   *walker.Walker
	chunker  chunk.Chunker
	embedder embed.Embedder
	metadata store.MetadataStore
	vectors  store.VectorStore
}

// New builds an Indexer from its dependencies.
func New(cfg Config, w *walker.Walker, chunker chunk.Chunker, embedder embed.Embedder, metadata store.MetadataStore, vectors store.VectorStore) *Indexer {
	return &Indexer{
		config:   cfg,
		walker:   w,
		chunker:  chunker,
		embedder: embedder,
		metadata: metadata,
		vectors:  vectors,
	}
}

// ProjectID derives the stable project ID this Indexer's root maps to.
func (idx *Indexer) ProjectID() string {
	return hashID(idx.config.RootDir)
}

// FullIndex walks the whole project and indexes every file. Progress is
// reported externally by the caller (e.g. the CLI's progress renderer).
func (idx *Indexer) FullIndex(ctx context.Context) (*Result, error) {
	start := time.Now()
	result := &Result{}

	projectID := idx.ProjectID()
	now := time.Now()

	project := &store.Project{
		ID:        projectID,
		Name:      filepath.Base(idx.config.RootDir),
		RootPath:  idx.config.RootDir,
		IndexedAt: now,
		Version:   fmt.Sprintf("%d", store.CurrentSchemaVersion),
	}
	if err := idx.metadata.SaveProject(ctx, project); err != nil {
		return nil, fmt.Errorf("save project: %w", err)
	}

	walked, err := idx.walker.Walk(ctx, &walker.Options{
		RootDir:       idx.config.RootDir,
		ExtraExcludes: idx.config.ExtraExcludes,
		MaxFileSize:   idx.config.MaxFileSize,
	})
	if err != nil {
		return nil, fmt.Errorf("walk project: %w", err)
	}

	// Per-file work (read, chunk, embed) runs across a bounded worker pool;
	// the embedder and stores do their own synchronization, so only the
	// shared Result needs a mutex.
	workers := runtime.NumCPU()
	if workers < 1 {
		workers = 1
	}
	g, gctx := errgroup.WithContext(ctx)
	sem := make(chan struct{}, workers)
	var mu sync.Mutex

	for res := range walked {
		if res.Error != nil {
			mu.Lock()
			result.Errors = append(result.Errors, FileError{Err: res.Error})
			mu.Unlock()
			continue
		}
		path := res.File.Path

		select {
		case sem <- struct{}{}:
		case <-gctx.Done():
			continue
		}

		g.Go(func() error {
			defer func() { <-sem }()
			stats, err := idx.indexFile(gctx, projectID, path, now)
			mu.Lock()
			defer mu.Unlock()
			result.Files += stats.files
			result.Chunks += stats.chunks
			result.Recomputed += stats.recomputed
			if err != nil {
				result.Errors = append(result.Errors, FileError{Path: path, Err: err})
			}
			return nil
		})
	}
	_ = g.Wait()

	if err := idx.metadata.UpdateProjectStats(ctx, projectID, result.Files, result.Chunks); err != nil {
		slog.Warn("update project stats failed", slog.String("error", err.Error()))
	}

	result.Duration = time.Since(start)
	return result, nil
}

// fileStats accumulates one file's contribution to a Result. indexFile
// returns it by value so concurrent callers can merge under a single lock
// instead of mutating a shared Result from multiple goroutines.
type fileStats struct {
	files      int
	chunks     int
	recomputed int
}

// indexFile reads, chunks, embeds and saves one file during a full index.
// Unrecognized extensions are skipped silently (not every walked file is
// indexable); non-UTF-8 content fails only that file. Safe to call
// concurrently for different paths: it touches no Indexer state beyond its
// dependencies, which synchronize themselves.
func (idx *Indexer) indexFile(ctx context.Context, projectID, relPath string, now time.Time) (fileStats, error) {
	var stats fileStats
	absPath := filepath.Join(idx.config.RootDir, relPath)

	content, err := os.ReadFile(absPath)
	if err != nil {
		return stats, fmt.Errorf("read file: %w", err)
	}

	language, ok := languageForPath(relPath)
	if !ok {
		return stats, nil
	}

	if !utf8.Valid(content) {
		return stats, ErrNonUTF8Content
	}

	chunks, err := idx.chunker.Chunk(ctx, &chunk.FileInput{Path: relPath, Content: content, Language: language})
	if err != nil {
		return stats, fmt.Errorf("chunk file: %w", err)
	}

	fileID := hashID(projectID + ":" + relPath)
	info, err := os.Stat(absPath)
	if err != nil {
		return stats, fmt.Errorf("stat file: %w", err)
	}

	file := &store.File{
		ID:          fileID,
		ProjectID:   projectID,
		Path:        relPath,
		Size:        info.Size(),
		ModTime:     info.ModTime(),
		ContentHash: hashContent(content),
		Language:    language,
		IndexedAt:   now,
	}
	if err := idx.metadata.SaveFiles(ctx, []*store.File{file}); err != nil {
		return stats, fmt.Errorf("save file: %w", err)
	}

	stats.files++
	if len(chunks) == 0 {
		return stats, nil
	}

	storeChunks := make([]*store.Chunk, len(chunks))
	contents := make([]string, len(chunks))
	ids := make([]string, len(chunks))
	for i, c := range chunks {
		storeChunks[i] = toStoreChunk(c, fileID, now)
		contents[i] = c.Content
		ids[i] = c.ID
	}

	embeddings, err := idx.embedder.EmbedBatch(ctx, contents)
	if err != nil {
		return stats, fmt.Errorf("embed chunks: %w", err)
	}

	newIDs, err := idx.metadata.SaveChunks(ctx, storeChunks)
	if err != nil {
		return stats, fmt.Errorf("save chunks: %w", err)
	}
	// Chunk IDs are content hashes: a chunk SaveChunks didn't report as new
	// is byte-identical to what's already stored, so it's a no-op on the
	// embeddings table and the vector index too, not just the chunks row.
	newEmbeddings := filterNew(ids, embeddings, newIDs)
	if len(newIDs) > 0 {
		if err := idx.metadata.SaveChunkEmbeddings(ctx, newIDs, newEmbeddings, idx.embedder.ModelName()); err != nil {
			return stats, fmt.Errorf("save embeddings: %w", err)
		}
		if err := idx.vectors.Add(ctx, newIDs, newEmbeddings); err != nil {
			return stats, fmt.Errorf("add vectors: %w", err)
		}
	}

	stats.chunks += len(chunks)
	stats.recomputed += len(newIDs)
	return stats, nil
}

// filterNew returns the subset of embeddings whose chunk ID appears in
// newIDs, preserving newIDs' order.
func filterNew(ids []string, embeddings [][]float32, newIDs []string) [][]float32 {
	if len(newIDs) == len(ids) {
		return embeddings
	}
	byID := make(map[string][]float32, len(ids))
	for i, id := range ids {
		byID[id] = embeddings[i]
	}
	out := make([][]float32, len(newIDs))
	for i, id := range newIDs {
		out[i] = byID[id]
	}
	return out
}

// PartialReindex applies the five-step reindex algorithm to a batch of
// changed paths: load the existing hash-to-embedding map, delete stale
// rows, re-read and re-chunk, reuse or recompute embeddings, and save.
func (idx *Indexer) PartialReindex(ctx context.Context, paths []string) (*Result, error) {
	start := time.Now()
	result := &Result{}
	projectID := idx.ProjectID()
	now := time.Now()

	for _, relPath := range paths {
		language, ok := languageForPath(relPath)
		if !ok {
			continue
		}
		if err := idx.reindexPath(ctx, projectID, relPath, language, now, result); err != nil {
			result.Errors = append(result.Errors, FileError{Path: relPath, Err: err})
		}
	}

	if err := idx.metadata.RefreshProjectStats(ctx, projectID); err != nil {
		slog.Warn("refresh project stats failed", slog.String("error", err.Error()))
	}

	result.Duration = time.Since(start)
	return result, nil
}

func (idx *Indexer) reindexPath(ctx context.Context, projectID, relPath, language string, now time.Time, result *Result) error {
	fileID := hashID(projectID + ":" + relPath)

	// Step 1: load the existing hash (chunk ID) to embedding map before deletion.
	existing, err := idx.metadata.GetChunksByFile(ctx, fileID)
	if err != nil {
		return fmt.Errorf("load existing chunks: %w", err)
	}
	existingIDs := make([]string, len(existing))
	for i, c := range existing {
		existingIDs[i] = c.ID
	}
	cached, err := idx.metadata.GetEmbeddingsByIDs(ctx, existingIDs)
	if err != nil {
		return fmt.Errorf("load cached embeddings: %w", err)
	}

	// Step 2: delete all store rows for this path.
	if len(existingIDs) > 0 {
		if err := idx.vectors.Delete(ctx, existingIDs); err != nil {
			return fmt.Errorf("delete vectors: %w", err)
		}
	}
	if err := idx.metadata.DeleteFile(ctx, fileID); err != nil {
		return fmt.Errorf("delete file: %w", err)
	}

	// If the file disappeared between (1) and (3), the deletion above is the
	// whole story: zero new chunks for this path is a legal final state.
	absPath := filepath.Join(idx.config.RootDir, relPath)
	content, err := os.ReadFile(absPath)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read file: %w", err)
	}

	// Step 3: read and chunk the file.
	if !utf8.Valid(content) {
		return ErrNonUTF8Content
	}

	chunks, err := idx.chunker.Chunk(ctx, &chunk.FileInput{Path: relPath, Content: content, Language: language})
	if err != nil {
		return fmt.Errorf("chunk file: %w", err)
	}

	info, err := os.Stat(absPath)
	if err != nil {
		return fmt.Errorf("stat file: %w", err)
	}
	file := &store.File{
		ID:          fileID,
		ProjectID:   projectID,
		Path:        relPath,
		Size:        info.Size(),
		ModTime:     info.ModTime(),
		ContentHash: hashContent(content),
		Language:    language,
		IndexedAt:   now,
	}
	if err := idx.metadata.SaveFiles(ctx, []*store.File{file}); err != nil {
		return fmt.Errorf("save file: %w", err)
	}

	result.Files++
	if len(chunks) == 0 {
		return nil
	}

	// Step 4: for each chunk, reuse the cached embedding by hash or embed fresh.
	storeChunks := make([]*store.Chunk, len(chunks))
	embeddings := make([][]float32, len(chunks))
	ids := make([]string, len(chunks))
	var freshIdx []int
	var freshContents []string

	for i, c := range chunks {
		storeChunks[i] = toStoreChunk(c, fileID, now)
		ids[i] = c.ID
		if emb, ok := cached[c.ID]; ok {
			embeddings[i] = emb
			result.Reused++
		} else {
			freshIdx = append(freshIdx, i)
			freshContents = append(freshContents, c.Content)
		}
	}

	if len(freshContents) > 0 {
		fresh, err := idx.embedder.EmbedBatch(ctx, freshContents)
		if err != nil {
			return fmt.Errorf("embed chunks: %w", err)
		}
		for i, idxInChunks := range freshIdx {
			embeddings[idxInChunks] = fresh[i]
		}
		result.Recomputed += len(fresh)
	}

	// Step 2 already deleted every existing chunk row for this path, so
	// all of these are necessarily new; SaveChunks' dedup is a no-op here.
	if _, err := idx.metadata.SaveChunks(ctx, storeChunks); err != nil {
		return fmt.Errorf("save chunks: %w", err)
	}
	if err := idx.metadata.SaveChunkEmbeddings(ctx, ids, embeddings, idx.embedder.ModelName()); err != nil {
		return fmt.Errorf("save embeddings: %w", err)
	}
	if err := idx.vectors.Add(ctx, ids, embeddings); err != nil {
		return fmt.Errorf("add vectors: %w", err)
	}

	result.Chunks += len(chunks)
	return nil
}

func toStoreChunk(c *chunk.Chunk, fileID string, now time.Time) *store.Chunk {
	var symbols []*store.Symbol
	for _, s := range c.Symbols {
		symbols = append(symbols, &store.Symbol{
			Name:      s.Name,
			Type:      store.SymbolType(s.Type),
			StartLine: s.StartLine,
			EndLine:   s.EndLine,
		})
	}
	return &store.Chunk{
		ID:          c.ID,
		FileID:      fileID,
		FilePath:    c.FilePath,
		Content:     c.Content,
		RawContent:  c.RawContent,
		Context:     c.Context,
		ContentType: store.ContentType(c.ContentType),
		Language:    c.Language,
		StartLine:   c.StartLine,
		EndLine:     c.EndLine,
		Symbols:     symbols,
		Metadata:    c.Metadata,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// languageForPath maps a file extension to a registered chunker language.
func languageForPath(relPath string) (string, bool) {
	ext := filepath.Ext(relPath)
	cfg, ok := chunk.DefaultRegistry().GetByExtension(ext)
	if !ok {
		return "", false
	}
	return cfg.Name, true
}

func hashID(s string) string {
	h := sha256.Sum256([]byte(s))
	return hex.EncodeToString(h[:])[:16]
}

func hashContent(content []byte) string {
	h := sha256.Sum256(content)
	return hex.EncodeToString(h[:])
}
