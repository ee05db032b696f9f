package pantry

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/cloudwego/eino/components/embedding"

	einoollama "github.com/cloudwego/eino-ext/components/embedding/ollama"
	einoopenai "github.com/cloudwego/eino-ext/components/embedding/openai"

	"github.com/gardehq/garde/internal/config"
	"github.com/gardehq/garde/internal/secrets"
)

// NewEmbedder builds the recipe search embedder from config. An empty
// driver returns nil: the index falls back to keyword scoring.
func NewEmbedder(ctx context.Context, cfg config.EmbeddingConfig) (embedding.Embedder, error) {
	switch strings.ToLower(cfg.Driver) {
	case "":
		return nil, nil
	case "openai":
		return newOpenAIEmbedder(ctx, cfg)
	case "ollama":
		return newOllamaEmbedder(ctx, cfg)
	default:
		return nil, fmt.Errorf("unsupported embedding driver %q (supported: openai, ollama)", cfg.Driver)
	}
}

func newOpenAIEmbedder(ctx context.Context, cfg config.EmbeddingConfig) (embedding.Embedder, error) {
	apiKey, err := secrets.ResolveValue(cfg.Auth.APIKey)
	if err != nil {
		return nil, fmt.Errorf("openai embedding: %w", err)
	}
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("openai embedding: api key not configured (set auth.api_key or OPENAI_API_KEY)")
	}

	ecfg := &einoopenai.EmbeddingConfig{
		APIKey: apiKey,
		Model:  cfg.Model,
	}
	if cfg.BaseURL != "" {
		ecfg.BaseURL = cfg.BaseURL
	}
	if cfg.Dims > 0 {
		dims := cfg.Dims
		ecfg.Dimensions = &dims
	}
	return einoopenai.NewEmbedder(ctx, ecfg)
}

func newOllamaEmbedder(ctx context.Context, cfg config.EmbeddingConfig) (embedding.Embedder, error) {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	return einoollama.NewEmbedder(ctx, &einoollama.EmbeddingConfig{
		BaseURL: baseURL,
		Model:   cfg.Model,
	})
}
