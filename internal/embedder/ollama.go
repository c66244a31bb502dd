package embedder

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/54b3r/brandrag/internal/apperr"
)

// OllamaEmbedder calls a local Ollama server's /api/embed endpoint.
type OllamaEmbedder struct {
	endpoint  string
	model     string
	transport *jsonTransport
}

// OllamaConfig holds the settings for constructing an OllamaEmbedder.
type OllamaConfig struct {
	// Host is the server base URL (e.g. "http://localhost:11434").
	Host  string
	Model string
}

// NewOllamaEmbedder constructs an OllamaEmbedder from the given config.
// Local models can be slow to load, hence the longer client timeout.
func NewOllamaEmbedder(cfg *OllamaConfig) *OllamaEmbedder {
	return &OllamaEmbedder{
		endpoint: strings.TrimRight(cfg.Host, "/") + "/api/embed",
		model:    cfg.Model,
		transport: &jsonTransport{
			name:   "ollama",
			client: &http.Client{Timeout: 60 * time.Second},
		},
	}
}

type ollamaEmbedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type ollamaEmbedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

// Name implements Provider.
func (e *OllamaEmbedder) Name() string { return "ollama" }

// Embed implements Provider. Ollama models have a fixed output size, so
// r.Dimensions is ignored.
func (e *OllamaEmbedder) Embed(ctx context.Context, r Request) ([][]float32, error) {
	body := ollamaEmbedRequest{Model: e.model, Input: r.Texts}
	if r.Model != "" {
		body.Model = r.Model
	}

	var out ollamaEmbedResponse
	if err := e.transport.post(ctx, e.endpoint, body, &out, ollamaError); err != nil {
		return nil, err
	}
	if len(out.Embeddings) != len(r.Texts) {
		return nil, apperr.Errorf(apperr.CodeProviderMalformed, "ollama embedder: expected %d embeddings, got %d", len(r.Texts), len(out.Embeddings))
	}
	return out.Embeddings, nil
}

func ollamaError(body []byte) string {
	var v struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(body, &v) != nil {
		return ""
	}
	return v.Error
}
