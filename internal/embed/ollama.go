package embed

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"net/url"

	"github.com/ollama/ollama/api"
)

// OllamaClient embeds text through a local Ollama server.
type OllamaClient struct {
	client *api.Client
	model  string
	dim    int
}

var _ Embedder = (*OllamaClient)(nil)

// NewOllamaClient creates an Ollama embedding client. An empty endpoint
// falls back to the OLLAMA_HOST environment variable or the client default
// (http://localhost:11434).
func NewOllamaClient(model, endpoint string, dimension int) (*OllamaClient, error) {
	if model == "" {
		return nil, fmt.Errorf("ollama provider requires a model tag")
	}

	var client *api.Client
	if endpoint != "" {
		base, err := url.Parse(endpoint)
		if err != nil {
			return nil, fmt.Errorf("parse ollama endpoint: %w", err)
		}
		client = api.NewClient(base, http.DefaultClient)
	} else {
		var err error
		client, err = api.ClientFromEnvironment()
		if err != nil {
			return nil, fmt.Errorf("create ollama client: %w", err)
		}
	}

	return &OllamaClient{client: client, model: model, dim: dimension}, nil
}

func (c *OllamaClient) Model() string { return c.model }

func (c *OllamaClient) Dimension() int { return c.dim }

func (c *OllamaClient) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := c.client.Embed(ctx, &api.EmbedRequest{
		Model: c.model,
		Input: text,
	})
	if err != nil {
		return nil, fmt.Errorf("embed: %w", err)
	}
	if len(resp.Embeddings) == 0 {
		return nil, fmt.Errorf("no embeddings returned")
	}

	vec := resp.Embeddings[0]
	if len(vec) != c.dim {
		return nil, fmt.Errorf("dimension mismatch: got %d, want %d (model: %s)",
			len(vec), c.dim, c.model)
	}
	return normalize(vec), nil
}

func (c *OllamaClient) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	resp, err := c.client.Embed(ctx, &api.EmbedRequest{
		Model: c.model,
		Input: texts,
	})
	if err != nil {
		return nil, fmt.Errorf("embed batch: %w", err)
	}
	if len(resp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("embedding count mismatch: got %d, want %d",
			len(resp.Embeddings), len(texts))
	}
	out := make([][]float32, len(resp.Embeddings))
	for i, vec := range resp.Embeddings {
		if len(vec) != c.dim {
			return nil, fmt.Errorf("embedding %d dimension mismatch: got %d, want %d",
				i, len(vec), c.dim)
		}
		out[i] = normalize(vec)
	}
	return out, nil
}

// normalize scales a vector to unit L2 norm. Ollama models do not all
// return normalized embeddings, and the store's cosine scan assumes
// unit-norm vectors on both sides.
func normalize(vec []float32) []float32 {
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	if sum == 0 {
		return vec
	}
	norm := math.Sqrt(sum)
	out := make([]float32, len(vec))
	for i, v := range vec {
		out[i] = float32(float64(v) / norm)
	}
	return out
}
