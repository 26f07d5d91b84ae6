// Package search implements the query pipeline: embed the query, recall
// candidates from the vector store, rerank them lexically, and shape the
// response.
package search

// SearchRequest is the query-side wire payload, carried inside the
// daemon's Request envelope.
type SearchRequest struct {
	Query     string `json:"query"`
	TopN      int    `json:"top_n"`
	FilesOnly bool   `json:"files_only"`
}

// SearchResult is one ranked hit.
type SearchResult struct {
	FilePath  string  `json:"file_path"`
	StartLine int     `json:"start_line"`
	EndLine   int     `json:"end_line"`
	Text      string  `json:"text,omitempty"`
	Language  string  `json:"language,omitempty"`
	Score     float64 `json:"score"`
}

// Stats reports pipeline timing and candidate counts.
type Stats struct {
	TotalTimeMs   int64 `json:"total_time_ms"`
	NumCandidates int   `json:"num_candidates"`
	NumResults    int   `json:"num_results"`
}

// SearchResponse is the query-side wire payload returned in the daemon's
// Response envelope.
type SearchResponse struct {
	Results []SearchResult `json:"results"`
	Stats   Stats          `json:"stats"`
}
