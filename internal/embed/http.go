package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	ragerr "github.com/laulauland/ragrep/internal/errors"
)

// HTTPEmbedder calls an externally hosted embedding service. This is the
// concrete exercise of the reranker.service_url-style "external service"
// configuration pattern on the embedding side: ragrep never bundles a
// model, but a repository owner can point it at one they run themselves.
type HTTPEmbedder struct {
	endpoint string
	client   *http.Client
	model    string
}

type httpEmbedRequest struct {
	Text string `json:"text"`
}

type httpEmbedResponse struct {
	Embedding []float32 `json:"embedding"`
}

// NewHTTPEmbedder constructs an embedder backed by a JSON POST endpoint
// expecting {"text": "..."} and returning {"embedding": [...]}.
func NewHTTPEmbedder(endpoint string) *HTTPEmbedder {
	return &HTTPEmbedder{
		endpoint: endpoint,
		client:   &http.Client{Timeout: DefaultTimeout},
		model:    "http:" + endpoint,
	}
}

func (e *HTTPEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	var result []float32
	err := ragerr.Retry(ctx, ragerr.RetryConfig{
		MaxRetries:   DefaultMaxRetries,
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		Multiplier:   2.0,
		Jitter:       true,
	}, func() error {
		vec, err := e.doEmbed(ctx, text)
		if err != nil {
			return err
		}
		result = vec
		return nil
	})
	if err != nil {
		return nil, ragerrModelUnavailable(e.endpoint, err)
	}
	return result, nil
}

func (e *HTTPEmbedder) doEmbed(ctx context.Context, text string) ([]float32, error) {
	body, err := json.Marshal(httpEmbedRequest{Text: text})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("embedding service returned status %d", resp.StatusCode)
	}

	var decoded httpEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, err
	}
	return decoded.Embedding, nil
}

func (e *HTTPEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	results := make([][]float32, len(texts))
	for i, text := range texts {
		vec, err := e.Embed(ctx, text)
		if err != nil {
			return nil, fmt.Errorf("embedding text %d: %w", i, err)
		}
		results[i] = vec
	}
	return results, nil
}

func (e *HTTPEmbedder) Dimensions() int  { return Dimensions }
func (e *HTTPEmbedder) ModelName() string { return e.model }

func (e *HTTPEmbedder) Available(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.endpoint, nil)
	if err != nil {
		return false
	}
	resp, err := e.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode < 500
}

func (e *HTTPEmbedder) Close() error { return nil }

func ragerrModelUnavailable(endpoint string, cause error) error {
	return ragerr.ModelUnavailable(fmt.Sprintf("embedding service %s unavailable", endpoint), cause)
}
