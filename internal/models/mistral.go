package models

import (
	"context"
	"time"

	einoopenai "github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"

	"github.com/gardehq/garde/internal/config"
)

const (
	mistralBaseURL      = "https://api.mistral.ai/v1"
	mistralDefaultModel = "mistral-small-latest"
	mistralTimeout      = 5 * time.Minute
)

// NewMistral builds a Mistral ChatModel over its OpenAI-compatible endpoint.
func NewMistral(ctx context.Context, cfg config.ProviderConfig, auth ResolvedAuth) (model.ToolCallingChatModel, error) {
	modelName := cfg.Model
	if modelName == "" {
		modelName = mistralDefaultModel
	}
	mc := openAICompatible(cfg, auth, modelName, mistralBaseURL, mistralTimeout)
	return einoopenai.NewChatModel(ctx, mc)
}
