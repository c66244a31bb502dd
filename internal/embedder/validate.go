package embedder

import (
	"log/slog"
	"strings"
)

// knownChatModelPrefixes contains name fragments that identify chat/completion
// models which are NOT suitable for embedding.
var knownChatModelPrefixes = []string{
	"gpt-4",
	"gpt-3.5",
	"gpt-35",
	"o1",
	"o3",
	"llama3",
	"llama2",
	"llama-3",
	"llama-2",
	"mistral",
	"mixtral",
	"gemma",
	"phi-",
	"phi3",
	"claude",
	"command-r",
	"deepseek",
	"qwen",
	"solar",
	"vicuna",
	"falcon",
	"yi-",
}

// looksLikeChatModel returns true when the model name resembles a known
// chat/completion model rather than a dedicated embedding model.
func looksLikeChatModel(model string) bool {
	lower := strings.ToLower(model)
	for _, prefix := range knownChatModelPrefixes {
		if strings.Contains(lower, prefix) {
			return true
		}
	}
	return false
}

// Validate is a pre-flight check run before the provider is built. It fails
// on a missing credential or endpoint and warns when a model looks like a
// chat model or does not belong to the resolved backend.
func Validate(log *slog.Logger, configuredModel string) error {
	backend := Backend()
	_, c, err := resolve(backend)
	if err != nil {
		return err
	}

	for _, model := range []string{c.model, configuredModel} {
		if model != "" && looksLikeChatModel(model) {
			log.Warn("embedder: model looks like a chat model, not an embedding model",
				slog.String("model", model),
				slog.String("hint", "use a dedicated embedding model e.g. nomic-embed-text, text-embedding-3-small"),
			)
		}
	}

	if configuredModel != "" && !modelMatchesBackend(backend, configuredModel) {
		log.Warn("embedder: system config model does not look like a model served by the backend",
			slog.String("backend", backend),
			slog.String("model", configuredModel),
			slog.String("hint", "run `brandrag settings apply` with embedding.model set for this backend"),
		)
	}

	return nil
}

// modelMatchesBackend reports whether model plausibly belongs to backend.
// Ollama serves arbitrary local models, so anything but an OpenAI or Gemini
// hosted name is accepted there.
func modelMatchesBackend(backend, model string) bool {
	lower := strings.ToLower(model)
	openaiFamily := strings.HasPrefix(lower, "text-embedding-3") || strings.HasPrefix(lower, "text-embedding-ada")
	geminiFamily := strings.HasPrefix(lower, "text-embedding-00") || strings.HasPrefix(lower, "gemini-embedding")

	switch backend {
	case "openai", "azure":
		return openaiFamily
	case "gemini":
		return geminiFamily
	case "ollama":
		return !openaiFamily && !geminiFamily
	}
	return true
}
