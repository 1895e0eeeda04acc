package embed

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// ProviderType represents an embedding provider
type ProviderType string

const (
	// ProviderOllama uses the Ollama HTTP API for embeddings
	ProviderOllama ProviderType = "ollama"

	// ProviderStatic uses hash-based embeddings (offline, deterministic)
	ProviderStatic ProviderType = "static"
)

// Config selects and tunes an embedding provider.
type Config struct {
	Provider          ProviderType
	Model             string
	Host              string
	Dimensions        int
	BatchSize         int
	Timeout           time.Duration
	RequestsPerSecond float64

	// CacheSize > 0 wraps the provider in a CachedEmbedder
	CacheSize int

	// FallbackToStatic uses the static embedder when Ollama is unreachable
	FallbackToStatic bool
}

// NewEmbedder creates the embedder named by cfg.Provider.
func NewEmbedder(ctx context.Context, cfg Config) (Embedder, error) {
	var embedder Embedder

	switch ParseProvider(string(cfg.Provider)) {
	case ProviderOllama:
		ollama, err := NewOllamaEmbedder(ctx, OllamaConfig{
			Host:              cfg.Host,
			Model:             cfg.Model,
			Dimensions:        cfg.Dimensions,
			BatchSize:         cfg.BatchSize,
			Timeout:           cfg.Timeout,
			RequestsPerSecond: cfg.RequestsPerSecond,
		})
		switch {
		case err == nil:
			embedder = ollama
		case cfg.FallbackToStatic:
			slog.Warn("embedder_fallback",
				slog.String("from", string(ProviderOllama)),
				slog.String("to", string(ProviderStatic)),
				slog.String("error", err.Error()))
			embedder = NewStaticEmbedder(cfg.Dimensions)
		default:
			return nil, fmt.Errorf("ollama unavailable: %w", err)
		}
	default:
		embedder = NewStaticEmbedder(cfg.Dimensions)
	}

	if cfg.CacheSize > 0 {
		embedder = NewCachedEmbedder(embedder, cfg.CacheSize)
	}
	return embedder, nil
}

// ParseProvider converts a string to ProviderType. Unknown names map to static.
func ParseProvider(s string) ProviderType {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "ollama":
		return ProviderOllama
	default:
		return ProviderStatic
	}
}

// String returns the string representation of ProviderType
func (p ProviderType) String() string {
	return string(p)
}

// ValidProviders returns all valid provider names
func ValidProviders() []string {
	return []string{string(ProviderOllama), string(ProviderStatic)}
}

// IsValidProvider checks if a provider name is valid
func IsValidProvider(s string) bool {
	lower := strings.ToLower(s)
	for _, p := range ValidProviders() {
		if lower == p {
			return true
		}
	}
	return false
}
