// Package embedder turns text into dense vector embeddings.
//
// Backends (OpenAI, Azure OpenAI, Ollama, Gemini) implement [Provider].
// [Adapter] wraps a Provider with the engine's failure policy: it reads the
// model and dimension from the system configuration on every call, bounds
// each call with a timeout, retries transient failures, short-circuits
// through a circuit breaker while the backend is down, and falls back to a
// zero vector instead of returning an error.
package embedder

import "context"

// Request is a batch embedding request.
type Request struct {
	// Texts are embedded in order; the response is parallel to it.
	Texts []string
	// Model overrides the provider's configured model when non-empty.
	Model string
	// Dimensions requests a vector size when the backend supports it
	// (0 = model default).
	Dimensions int
}

// Provider is an embedding backend. Implementations must be safe for
// concurrent use.
type Provider interface {
	// Embed converts req.Texts into embeddings parallel to the input.
	Embed(ctx context.Context, req Request) ([][]float32, error)
	// Name identifies the backend in logs and metrics (e.g. "openai").
	Name() string
}
