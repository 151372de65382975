package llm

import (
	"fmt"

	"github.com/rs/zerolog"
	"github.com/scrypster/metacluster/internal/config"
)

// NewStructuredGenerator creates the configured provider wrapped with
// retries and, when requested, client-side rate limiting.
func NewStructuredGenerator(cfg config.LLMConfig, logger zerolog.Logger) (StructuredGenerator, error) {
	var gen StructuredGenerator
	switch cfg.Provider {
	case "openai", "":
		gen = NewOpenAIClient(OpenAIConfig{
			APIKey:          cfg.OpenAIAPIKey,
			Model:           cfg.OpenAIModel,
			BaseURL:         cfg.OpenAIBaseURL,
			Timeout:         cfg.Timeout,
			MaxOutputTokens: cfg.MaxOutputTokens,
			Logger:          logger,
		})
	case "ollama":
		gen = NewOllamaClient(OllamaConfig{
			BaseURL: cfg.OllamaURL,
			Model:   cfg.OllamaModel,
			Timeout: cfg.Timeout,
			Logger:  logger,
		})
	case "anthropic":
		gen = NewTextStructuredGenerator(NewAnthropicClient(AnthropicConfig{
			APIKey:    cfg.AnthropicAPIKey,
			Model:     cfg.AnthropicModel,
			Timeout:   cfg.Timeout,
			MaxTokens: cfg.MaxOutputTokens,
			Logger:    logger,
		}))
	default:
		return nil, fmt.Errorf("unsupported LLM provider: %q", cfg.Provider)
	}

	gen = NewRetryingGenerator(gen, cfg.MaxRetries, 0, logger)
	return NewRateLimitedGenerator(gen, cfg.RequestsPerSecond, cfg.Burst), nil
}

// NewEmbedder creates the appropriate Embedder.
// Returns (nil, nil) when no embedding model is configured or the provider
// has no embeddings endpoint (Anthropic).
func NewEmbedder(cfg config.LLMConfig, logger zerolog.Logger) (Embedder, error) {
	if cfg.EmbeddingModel == "" {
		return nil, nil
	}
	switch cfg.Provider {
	case "openai", "":
		return NewOpenAIEmbeddingClient(OpenAIEmbeddingConfig{
			APIKey:  cfg.OpenAIAPIKey,
			Model:   cfg.EmbeddingModel,
			BaseURL: cfg.OpenAIBaseURL,
			Timeout: cfg.Timeout,
			Logger:  logger,
		}), nil
	case "ollama":
		return NewOllamaClient(OllamaConfig{
			BaseURL: cfg.OllamaURL,
			Model:   cfg.EmbeddingModel,
			Timeout: cfg.Timeout,
			Logger:  logger,
		}), nil
	case "anthropic":
		return nil, nil
	default:
		return nil, fmt.Errorf("unsupported LLM provider: %q", cfg.Provider)
	}
}
