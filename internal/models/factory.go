package models

import (
	"context"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/components/model"

	"github.com/gardehq/garde/internal/config"
)

// builders maps a normalized driver name to its constructor. Every driver
// except ollama needs resolved credentials.
var builders = map[string]func(context.Context, config.ProviderConfig, ResolvedAuth) (model.ToolCallingChatModel, error){
	"claude":    NewClaude,
	"anthropic": NewClaude,
	"gemini":    NewGemini,
	"google":    NewGemini,
	"openai":    NewOpenAI,
	"mistral":   NewMistral,
}

// CreateModel builds a model.ToolCallingChatModel for a provider config.
func CreateModel(ctx context.Context, cfg config.ProviderConfig) (model.ToolCallingChatModel, error) {
	driver := strings.ToLower(cfg.Driver)
	if driver == "ollama" {
		return NewOllama(ctx, cfg)
	}

	build, ok := builders[driver]
	if !ok {
		return nil, fmt.Errorf("unknown driver: %s", cfg.Driver)
	}
	auth, err := ResolveAuth(cfg)
	if err != nil {
		return nil, fmt.Errorf("resolve auth: %w", err)
	}
	return build(ctx, cfg, auth)
}
