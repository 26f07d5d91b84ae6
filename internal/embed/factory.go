package embed

import (
	"context"
	"fmt"
	"os"
	"strings"
)

// ProviderType identifies which Embedder implementation to construct.
type ProviderType string

const (
	// ProviderStatic uses the dependency-free hash-based embedder. This is
	// the only provider ragrep ships a concrete model for: downloading or
	// loading a real embedding model is out of scope.
	ProviderStatic ProviderType = "static"

	// ProviderHTTP calls an externally configured embedding endpoint,
	// mirroring the optional external reranker service.
	ProviderHTTP ProviderType = "http"
)

// NewEmbedder constructs an Embedder for the given provider. The
// RAGREP_EMBEDDER environment variable overrides provider when set.
func NewEmbedder(ctx context.Context, provider ProviderType, endpoint string) (Embedder, error) {
	if env := strings.ToLower(os.Getenv("RAGREP_EMBEDDER")); env != "" {
		provider = ProviderType(env)
	}

	var embedder Embedder
	switch provider {
	case ProviderHTTP:
		if endpoint == "" {
			return nil, fmt.Errorf("http embedder requires an endpoint")
		}
		embedder = NewHTTPEmbedder(endpoint)
	case ProviderStatic, "":
		embedder = NewStaticEmbedder()
	default:
		return nil, fmt.Errorf("unknown embedder provider %q", provider)
	}

	if !isCacheDisabled() {
		embedder = NewCachedEmbedder(embedder)
	}
	return embedder, nil
}

func isCacheDisabled() bool {
	v := strings.ToLower(os.Getenv("RAGREP_EMBED_CACHE"))
	return v == "false" || v == "0" || v == "off" || v == "disabled"
}

// ParseProvider converts a string to ProviderType, defaulting to static.
func ParseProvider(s string) ProviderType {
	switch strings.ToLower(s) {
	case "http":
		return ProviderHTTP
	default:
		return ProviderStatic
	}
}

func (p ProviderType) String() string { return string(p) }

// ValidProviders lists the recognized provider names.
func ValidProviders() []string {
	return []string{string(ProviderStatic), string(ProviderHTTP)}
}

// IsValidProvider reports whether s names a known provider.
func IsValidProvider(s string) bool {
	lower := strings.ToLower(s)
	for _, p := range ValidProviders() {
		if lower == p {
			return true
		}
	}
	return false
}

// EmbedderInfo summarizes a constructed embedder for status reporting.
type EmbedderInfo struct {
	Provider   ProviderType
	Model      string
	Dimensions int
	Available  bool
}

// GetInfo inspects embedder, unwrapping a CachedEmbedder if present.
func GetInfo(ctx context.Context, embedder Embedder) EmbedderInfo {
	info := EmbedderInfo{
		Model:      embedder.ModelName(),
		Dimensions: embedder.Dimensions(),
		Available:  embedder.Available(ctx),
	}

	inner := embedder
	if cached, ok := embedder.(*CachedEmbedder); ok {
		inner = cached.inner
	}

	switch inner.(type) {
	case *HTTPEmbedder:
		info.Provider = ProviderHTTP
	default:
		info.Provider = ProviderStatic
	}
	return info
}

// MustNewEmbedder creates an embedder and panics on failure. Use only in
// tests or initialization paths where failure is fatal.
func MustNewEmbedder(ctx context.Context, provider ProviderType, endpoint string) Embedder {
	embedder, err := NewEmbedder(ctx, provider, endpoint)
	if err != nil {
		panic(fmt.Sprintf("failed to create embedder: %v", err))
	}
	return embedder
}
