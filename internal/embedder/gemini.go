package embedder

import (
	"context"

	"google.golang.org/genai"

	"github.com/54b3r/brandrag/internal/apperr"
)

// GeminiEmbedder implements Provider using the Gemini embedContent API.
// It is safe for concurrent use.
type GeminiEmbedder struct {
	// client is the Gemini API client.
	client *genai.Client
	// model is the default embedding model (e.g. "text-embedding-004").
	model string
}

// GeminiConfig holds the settings for constructing a GeminiEmbedder.
type GeminiConfig struct {
	// APIKey is the Google API key.
	APIKey string
	// Model is the embedding model name.
	Model string
}

// NewGeminiEmbedder constructs a GeminiEmbedder from the given config.
func NewGeminiEmbedder(ctx context.Context, cfg *GeminiConfig) (*GeminiEmbedder, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, apperr.Wrap(err, apperr.CodeProviderFailure, "gemini embedder: create client")
	}
	return &GeminiEmbedder{client: client, model: cfg.Model}, nil
}

// Name implements Provider.
func (e *GeminiEmbedder) Name() string { return "gemini" }

// Embed converts a batch of texts into their corresponding embeddings.
func (e *GeminiEmbedder) Embed(ctx context.Context, r Request) ([][]float32, error) {
	model := e.model
	if r.Model != "" {
		model = r.Model
	}

	contents := make([]*genai.Content, len(r.Texts))
	for i, t := range r.Texts {
		contents[i] = &genai.Content{Parts: []*genai.Part{{Text: t}}}
	}

	var cfg *genai.EmbedContentConfig
	if r.Dimensions > 0 {
		cfg = &genai.EmbedContentConfig{OutputDimensionality: genai.Ptr(int32(r.Dimensions))}
	}

	resp, err := e.client.Models.EmbedContent(ctx, model, contents, cfg)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.CodeProviderFailure, "gemini embedder: embed content",
			apperr.Field("model", model))
	}
	if len(resp.Embeddings) != len(r.Texts) {
		return nil, apperr.Errorf(apperr.CodeProviderMalformed,
			"gemini embedder: expected %d embeddings, got %d", len(r.Texts), len(resp.Embeddings))
	}

	out := make([][]float32, len(resp.Embeddings))
	for i, emb := range resp.Embeddings {
		if emb == nil {
			return nil, apperr.Errorf(apperr.CodeProviderMalformed, "gemini embedder: embedding %d is empty", i)
		}
		out[i] = emb.Values
	}
	return out, nil
}
