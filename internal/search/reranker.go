package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/laulauland/ragrep/internal/store"
)

// Document is one candidate passed into a Reranker, in recall order.
type Document struct {
	ID      string
	Content string
}

// RankedDocument is a Document with its reranked score.
type RankedDocument struct {
	Index int // position in the original Documents slice
	Score float64
}

// Reranker reorders recalled candidates by relevance to query.
type Reranker interface {
	Rerank(ctx context.Context, query string, docs []Document, topN int) ([]RankedDocument, error)
}

// LexicalReranker scores candidates by code-aware token overlap between the
// query and each document, with no external dependency.
type LexicalReranker struct {
	stopWords map[string]struct{}
}

// NewLexicalReranker builds a LexicalReranker using the same stop word set
// as the rest of the store package's tokenization.
func NewLexicalReranker() *LexicalReranker {
	return &LexicalReranker{stopWords: store.BuildStopWordMap(store.DefaultCodeStopWords)}
}

func (r *LexicalReranker) Rerank(_ context.Context, query string, docs []Document, topN int) ([]RankedDocument, error) {
	queryTokens := store.FilterStopWords(store.TokenizeCode(query), r.stopWords)
	queryCounts := make(map[string]int, len(queryTokens))
	for _, t := range queryTokens {
		queryCounts[t]++
	}

	ranked := make([]RankedDocument, len(docs))
	for i, doc := range docs {
		docTokens := store.FilterStopWords(store.TokenizeCode(doc.Content), r.stopWords)
		docCounts := make(map[string]int, len(docTokens))
		for _, t := range docTokens {
			docCounts[t]++
		}

		var overlap int
		for t, qc := range queryCounts {
			if dc, ok := docCounts[t]; ok {
				overlap += min(qc, dc)
			}
		}

		score := 0.0
		if len(queryCounts) > 0 {
			score = float64(overlap) / float64(len(queryCounts))
		}
		ranked[i] = RankedDocument{Index: i, Score: score}
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Score > ranked[j].Score
	})

	if topN > 0 && topN < len(ranked) {
		ranked = ranked[:topN]
	}
	return ranked, nil
}

// HTTPReranker delegates scoring to an externally hosted reranking
// service, mirroring the embedder's own HTTP provider.
type HTTPReranker struct {
	endpoint string
	client   *http.Client
}

// NewHTTPReranker builds a reranker backed by a JSON POST endpoint
// expecting {"query": "...", "documents": [...]} and returning
// {"scores": [...]} in input order.
func NewHTTPReranker(endpoint string) *HTTPReranker {
	return &HTTPReranker{endpoint: endpoint, client: &http.Client{Timeout: 10 * time.Second}}
}

type httpRerankRequest struct {
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
}

type httpRerankResponse struct {
	Scores []float64 `json:"scores"`
}

func (r *HTTPReranker) Rerank(ctx context.Context, query string, docs []Document, topN int) ([]RankedDocument, error) {
	contents := make([]string, len(docs))
	for i, d := range docs {
		contents[i] = d.Content
	}

	body, err := json.Marshal(httpRerankRequest{Query: query, Documents: contents})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("reranker service returned status %d", resp.StatusCode)
	}

	var decoded httpRerankResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, err
	}
	if len(decoded.Scores) != len(docs) {
		return nil, fmt.Errorf("reranker returned %d scores for %d documents", len(decoded.Scores), len(docs))
	}

	ranked := make([]RankedDocument, len(docs))
	for i, score := range decoded.Scores {
		ranked[i] = RankedDocument{Index: i, Score: score}
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Score > ranked[j].Score
	})
	if topN > 0 && topN < len(ranked) {
		ranked = ranked[:topN]
	}
	return ranked, nil
}
