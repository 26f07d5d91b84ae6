package search

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/laulauland/ragrep/internal/embed"
	"github.com/laulauland/ragrep/internal/store"
)

// DefaultTopN is used when a SearchRequest omits TopN or sets it to zero.
const DefaultTopN = 20

// recallMultiplier widens the ANN recall set beyond TopN so the reranker has
// more candidates to choose from than it ultimately returns.
const recallMultiplier = 3

// Pipeline runs a query end to end: embed, recall, rerank, shape response.
type Pipeline struct {
	embedder embed.Embedder
	vectors  store.VectorStore
	metadata store.MetadataStore
	reranker Reranker
}

// NewPipeline wires the four stages of the query pipeline together.
func NewPipeline(embedder embed.Embedder, vectors store.VectorStore, metadata store.MetadataStore, reranker Reranker) *Pipeline {
	return &Pipeline{embedder: embedder, vectors: vectors, metadata: metadata, reranker: reranker}
}

// Search embeds the query, recalls nearest chunks from the vector store,
// reranks them, and shapes the final response.
func (p *Pipeline) Search(ctx context.Context, req SearchRequest) (*SearchResponse, error) {
	start := time.Now()

	query := strings.TrimSpace(req.Query)
	topN := req.TopN
	if topN <= 0 {
		topN = DefaultTopN
	}

	if query == "" {
		return &SearchResponse{Results: []SearchResult{}, Stats: Stats{TotalTimeMs: elapsedMs(start)}}, nil
	}

	queryVec, err := p.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	candidates, err := p.vectors.Search(ctx, queryVec, topN*recallMultiplier)
	if err != nil {
		return nil, fmt.Errorf("recall candidates: %w", err)
	}

	if len(candidates) == 0 {
		return &SearchResponse{
			Results: []SearchResult{},
			Stats:   Stats{TotalTimeMs: elapsedMs(start)},
		}, nil
	}

	ids := make([]string, len(candidates))
	for i, c := range candidates {
		ids[i] = c.ID
	}
	chunks, err := p.metadata.GetChunks(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("load candidate chunks: %w", err)
	}
	chunksByID := make(map[string]*store.Chunk, len(chunks))
	for _, c := range chunks {
		chunksByID[c.ID] = c
	}

	// Preserve recall order: vector search already ranks by ascending
	// distance, and missing chunks (deleted since indexing) are dropped.
	ordered := make([]*store.Chunk, 0, len(candidates))
	for _, c := range candidates {
		if chunk, ok := chunksByID[c.ID]; ok {
			ordered = append(ordered, chunk)
		}
	}

	docs := make([]Document, len(ordered))
	for i, chunk := range ordered {
		docs[i] = Document{ID: chunk.ID, Content: chunk.Content}
	}

	ranked, err := p.reranker.Rerank(ctx, query, docs, topN)
	if err != nil {
		return nil, fmt.Errorf("rerank candidates: %w", err)
	}

	results := make([]SearchResult, 0, len(ranked))
	for _, r := range ranked {
		chunk := ordered[r.Index]
		result := SearchResult{
			FilePath:  chunk.FilePath,
			StartLine: chunk.StartLine,
			EndLine:   chunk.EndLine,
			Language:  chunk.Language,
			Score:     r.Score,
		}
		if !req.FilesOnly {
			result.Text = chunk.Content
		}
		results = append(results, result)
	}

	return &SearchResponse{
		Results: results,
		Stats: Stats{
			TotalTimeMs:   elapsedMs(start),
			NumCandidates: len(ordered),
			NumResults:    len(results),
		},
	}, nil
}

func elapsedMs(start time.Time) int64 {
	return time.Since(start).Milliseconds()
}
