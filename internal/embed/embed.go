// Package embed maps text to unit-norm vectors for the semantic index.
package embed

import (
	"context"
	"fmt"
)

// Embedder is the contract every embedding backend satisfies. Vectors are
// unit-norm float32 slices of a fixed dimension, deterministic for a given
// model tag and input. The tag is persisted next to each vector and searches
// never mix tags.
type Embedder interface {
	// Embed generates an embedding vector for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embeddings for multiple texts in one call.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Model returns the model tag stored alongside each vector.
	Model() string

	// Dimension returns the embedding vector dimension.
	Dimension() int
}

// Provider names accepted by New.
const (
	ProviderHash   = "hash"
	ProviderOllama = "ollama"
)

// Config selects and parameterizes an embedding backend.
type Config struct {
	// Provider is "hash" (local, deterministic) or "ollama".
	Provider string

	// ModelTag is stored with each vector. For Ollama it doubles as the
	// model name sent to the server.
	ModelTag string

	// Endpoint is the Ollama host URL. Empty uses OLLAMA_HOST or the
	// client default.
	Endpoint string

	// Dimension is the required output dimension.
	Dimension int
}

// New creates an Embedder from the configuration.
func New(cfg Config) (Embedder, error) {
	if cfg.Dimension <= 0 {
		return nil, fmt.Errorf("embedding dimension must be positive, got %d", cfg.Dimension)
	}
	switch cfg.Provider {
	case ProviderHash, "":
		return NewHashedEmbedder(cfg.ModelTag, cfg.Dimension), nil
	case ProviderOllama:
		return NewOllamaClient(cfg.ModelTag, cfg.Endpoint, cfg.Dimension)
	default:
		return nil, fmt.Errorf("unknown embedding provider: %s", cfg.Provider)
	}
}
