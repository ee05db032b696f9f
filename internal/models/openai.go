package models

import (
	"context"
	"time"

	einoopenai "github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"

	"github.com/gardehq/garde/internal/config"
)

const defaultOpenAITimeout = 60 * time.Second

// NewOpenAI builds an OpenAI ChatModel.
func NewOpenAI(ctx context.Context, cfg config.ProviderConfig, auth ResolvedAuth) (model.ToolCallingChatModel, error) {
	mc := openAICompatible(cfg, auth, cfg.Model, "", defaultOpenAITimeout)
	return einoopenai.NewChatModel(ctx, mc)
}

// openAICompatible fills the eino openai driver config shared by every
// provider speaking the OpenAI wire protocol (OpenAI itself, Mistral).
func openAICompatible(cfg config.ProviderConfig, auth ResolvedAuth, modelName, baseURL string, timeout time.Duration) *einoopenai.ChatModelConfig {
	mc := &einoopenai.ChatModelConfig{
		APIKey: auth.Value,
		Model:  modelName,
	}

	if cfg.BaseURL != "" {
		baseURL = cfg.BaseURL
	}
	mc.BaseURL = baseURL

	if cfg.MaxTokens > 0 {
		n := cfg.MaxTokens
		mc.MaxCompletionTokens = &n
	}

	mc.Timeout = timeout
	if cfg.Timeout.Duration() > 0 {
		mc.Timeout = cfg.Timeout.Duration()
	}

	if v, ok := floatOption(cfg.Options, "temperature"); ok {
		t := float32(v)
		mc.Temperature = &t
	}
	if v, ok := floatOption(cfg.Options, "top_p"); ok {
		p := float32(v)
		mc.TopP = &p
	}
	return mc
}

// floatOption reads one numeric knob from the free-form provider options.
// JSON numbers decode as float64, which is the only shape accepted here.
func floatOption(options map[string]any, key string) (float64, bool) {
	v, ok := options[key].(float64)
	return v, ok
}
