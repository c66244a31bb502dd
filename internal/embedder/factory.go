package embedder

import (
	"context"
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"
)

// DefaultTimeout bounds a single embedding call including retries.
const DefaultTimeout = 10 * time.Second

// backendSpec describes how one embedding backend is configured from the
// environment.
type backendSpec struct {
	model      string
	dimensions int
	// keyVars and endpointVars are checked after EMBEDDING_API_KEY and
	// EMBEDDING_ENDPOINT. An empty keyVars means no key is needed.
	keyVars      []string
	endpointVars []string
	endpoint     string
	build        func(ctx context.Context, c resolved) (Provider, error)
}

// resolved is the per-backend configuration after env lookup.
type resolved struct {
	apiKey     string
	endpoint   string
	model      string
	dimensions int
}

var backends = map[string]backendSpec{
	"openai": {
		model:      "text-embedding-3-small",
		dimensions: 1536,
		keyVars:    []string{"OPENAI_API_KEY"},
		endpoint:   "https://api.openai.com/v1",
		build: func(_ context.Context, c resolved) (Provider, error) {
			return NewOpenAIEmbedder(&OpenAIConfig{BaseURL: c.endpoint, APIKey: c.apiKey, Model: c.model, Dimensions: c.dimensions}), nil
		},
	},
	"azure": {
		model:        "text-embedding-3-small",
		dimensions:   1536,
		keyVars:      []string{"AZURE_OPENAI_API_KEY"},
		endpointVars: []string{"AZURE_OPENAI_ENDPOINT"},
		build: func(_ context.Context, c resolved) (Provider, error) {
			return NewOpenAIEmbedder(&OpenAIConfig{
				BaseURL:    strings.TrimRight(c.endpoint, "/") + "/openai",
				APIKey:     c.apiKey,
				Model:      c.model,
				Dimensions: c.dimensions,
				Azure:      true,
				APIVersion: envOr("AZURE_OPENAI_API_VERSION", "2025-04-01-preview"),
			}), nil
		},
	},
	"ollama": {
		// nomic-embed-text; other local models differ, set EMBEDDING_DIMENSIONS.
		model:        "nomic-embed-text",
		dimensions:   768,
		endpointVars: []string{"OLLAMA_HOST"},
		endpoint:     "http://localhost:11434",
		build: func(_ context.Context, c resolved) (Provider, error) {
			return NewOllamaEmbedder(&OllamaConfig{Host: c.endpoint, Model: c.model}), nil
		},
	},
	"gemini": {
		model:      "text-embedding-004",
		dimensions: 768,
		keyVars:    []string{"GOOGLE_API_KEY"},
		build: func(ctx context.Context, c resolved) (Provider, error) {
			return NewGeminiEmbedder(ctx, &GeminiConfig{APIKey: c.apiKey, Model: c.model})
		},
	},
}

// Backend returns the configured embedding backend name (default: openai).
func Backend() string {
	return envOr("EMBEDDING_PROVIDER", "openai")
}

// DefaultDimensions returns the vector size used to pre-create stores such as
// the Qdrant collection. EMBEDDING_DIMENSIONS takes precedence; unknown
// backends fall back to the OpenAI size.
func DefaultDimensions(backend string) int {
	if v := envInt("EMBEDDING_DIMENSIONS"); v > 0 {
		return v
	}
	if be, ok := backends[backend]; ok {
		return be.dimensions
	}
	return backends["openai"].dimensions
}

// Timeout returns EMBEDDING_TIMEOUT parsed as a duration, or DefaultTimeout.
func Timeout() time.Duration {
	if d, err := time.ParseDuration(os.Getenv("EMBEDDING_TIMEOUT")); err == nil && d > 0 {
		return d
	}
	return DefaultTimeout
}

// NewFromEnv constructs the Provider selected by EMBEDDING_PROVIDER
// (openai, azure, ollama or gemini).
//
// EMBEDDING_API_KEY, EMBEDDING_ENDPOINT, EMBEDDING_MODEL and
// EMBEDDING_DIMENSIONS override the backend-specific variables and defaults.
// The model resolved here is only a fallback: the adapter sends the model
// from the system configuration on every call.
func NewFromEnv(ctx context.Context) (Provider, error) {
	be, c, err := resolve(Backend())
	if err != nil {
		return nil, err
	}
	return be.build(ctx, c)
}

// resolve looks up the backend and merges the environment into its defaults.
// It fails when a required credential or endpoint is missing.
func resolve(name string) (backendSpec, resolved, error) {
	be, ok := backends[name]
	if !ok {
		return be, resolved{}, fmt.Errorf("embedder: unknown backend %q, valid values: %s", name, strings.Join(backendNames(), ", "))
	}

	c := resolved{
		apiKey:     firstEnv(append([]string{"EMBEDDING_API_KEY"}, be.keyVars...)...),
		endpoint:   firstEnv(append([]string{"EMBEDDING_ENDPOINT"}, be.endpointVars...)...),
		model:      envOr("EMBEDDING_MODEL", be.model),
		dimensions: be.dimensions,
	}
	if v := envInt("EMBEDDING_DIMENSIONS"); v > 0 {
		c.dimensions = v
	}
	if c.endpoint == "" {
		c.endpoint = be.endpoint
	}

	if len(be.keyVars) > 0 && c.apiKey == "" {
		return be, c, fmt.Errorf("embedder: %s requires %s or EMBEDDING_API_KEY", name, be.keyVars[0])
	}
	if c.endpoint == "" && len(be.endpointVars) > 0 {
		return be, c, fmt.Errorf("embedder: %s requires %s or EMBEDDING_ENDPOINT", name, be.endpointVars[0])
	}
	return be, c, nil
}

func backendNames() []string {
	names := make([]string, 0, len(backends))
	for n := range backends {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}

func firstEnv(keys ...string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return ""
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// envInt returns 0 when key is unset or not an integer.
func envInt(key string) int {
	n, _ := strconv.Atoi(os.Getenv(key))
	return n
}
