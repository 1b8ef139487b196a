package factory

import (
	"fmt"

	"ai-assistant-be/pkg/llm"
	"ai-assistant-be/pkg/llm/ollama"
)

// NewLLMProvider creates an LLM provider based on configuration.
// Supported providers: "ollama" (default) and "openai" style endpoints
// exposed through an Ollama-compatible chat API.
func NewLLMProvider(provider, model, baseURL string) (llm.LLMProvider, error) {
	switch provider {
	case "", "ollama":
		return ollama.NewOllamaProvider(baseURL, model), nil
	default:
		return nil, fmt.Errorf("unknown LLM provider: %s", provider)
	}
}
