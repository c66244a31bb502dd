package embedder

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"time"

	"github.com/54b3r/brandrag/internal/apperr"
)

// OpenAIEmbedder calls the OpenAI or Azure OpenAI embeddings API. It is safe
// for concurrent use.
type OpenAIEmbedder struct {
	endpoint   string
	model      string
	dimensions int
	azure      bool
	transport  *jsonTransport
}

// OpenAIConfig holds the settings for constructing an OpenAIEmbedder.
type OpenAIConfig struct {
	// BaseURL is "https://api.openai.com/v1" for OpenAI or
	// "https://<resource>.openai.azure.com/openai" for Azure.
	BaseURL string
	APIKey  string
	// Model is the embedding model, or the deployment name on Azure.
	Model string
	// Dimensions is the default vector length (0 = model default).
	Dimensions int
	// Azure switches to the api-key header and deployment-scoped URL.
	Azure bool
	// APIVersion is the Azure api-version query parameter.
	APIVersion string
}

// NewOpenAIEmbedder constructs an OpenAIEmbedder from the given config.
func NewOpenAIEmbedder(cfg *OpenAIConfig) *OpenAIEmbedder {
	e := &OpenAIEmbedder{
		endpoint:   cfg.BaseURL + "/embeddings",
		model:      cfg.Model,
		dimensions: cfg.Dimensions,
		azure:      cfg.Azure,
	}
	header := http.Header{}
	if cfg.Azure {
		e.endpoint = cfg.BaseURL + "/deployments/" + url.PathEscape(cfg.Model) +
			"/embeddings?api-version=" + url.QueryEscape(cfg.APIVersion)
		header.Set("api-key", cfg.APIKey)
	} else {
		header.Set("Authorization", "Bearer "+cfg.APIKey)
	}
	e.transport = &jsonTransport{
		name:   e.Name(),
		client: &http.Client{Timeout: 30 * time.Second},
		header: header,
	}
	return e
}

type openaiEmbedRequest struct {
	Input      []string `json:"input"`
	Model      string   `json:"model,omitempty"`
	Dimensions int      `json:"dimensions,omitempty"`
}

type openaiEmbedResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
}

// Name implements Provider.
func (e *OpenAIEmbedder) Name() string {
	if e.azure {
		return "azure"
	}
	return "openai"
}

// Embed implements Provider. On Azure the deployment fixes the model, so
// r.Model is not sent.
func (e *OpenAIEmbedder) Embed(ctx context.Context, r Request) ([][]float32, error) {
	body := openaiEmbedRequest{Input: r.Texts, Dimensions: e.dimensions}
	if !e.azure {
		body.Model = e.model
		if r.Model != "" {
			body.Model = r.Model
		}
	}
	if r.Dimensions > 0 {
		body.Dimensions = r.Dimensions
	}

	var out openaiEmbedResponse
	if err := e.transport.post(ctx, e.endpoint, body, &out, openaiError); err != nil {
		return nil, err
	}
	if len(out.Data) != len(r.Texts) {
		return nil, apperr.Errorf(apperr.CodeProviderMalformed, "%s embedder: expected %d embeddings, got %d", e.Name(), len(r.Texts), len(out.Data))
	}

	// Data may arrive out of order.
	vecs := make([][]float32, len(r.Texts))
	for _, d := range out.Data {
		if d.Index < 0 || d.Index >= len(vecs) || vecs[d.Index] != nil {
			return nil, apperr.Errorf(apperr.CodeProviderMalformed, "%s embedder: bad index %d", e.Name(), d.Index)
		}
		vecs[d.Index] = d.Embedding
	}
	return vecs, nil
}

// openaiError reads {"error":{"message":...}}, the shape both OpenAI and
// Azure use.
func openaiError(body []byte) string {
	var v struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if json.Unmarshal(body, &v) != nil {
		return ""
	}
	return v.Error.Message
}
