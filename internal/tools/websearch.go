package tools

import (
	"context"
	"log/slog"
	"time"

	"github.com/cloudwego/eino-ext/components/tool/bingsearch"
	duckduckgo "github.com/cloudwego/eino-ext/components/tool/duckduckgo/v2"
	"github.com/cloudwego/eino-ext/components/tool/googlesearch"
	"github.com/cloudwego/eino/components/tool"

	"github.com/gardehq/garde/internal/config"
)

const (
	webSearchName = "web_search"
	webSearchDesc = "Search the web for current information such as recipes and food facts. Returns titles, URLs, and snippets."
)

// RegisterWebSearch adds the web_search tool to the local transport with
// the best configured provider. Google wins when fully configured, then
// Bing, then DuckDuckGo which needs no key. Registration failures are
// logged and skipped so a broken provider never blocks startup.
func RegisterWebSearch(ctx context.Context, cfg config.WebSearchConfig, local *LocalTransport) {
	inner, provider, err := newSearchProvider(ctx, cfg)
	if err != nil {
		slog.Warn("web_search unavailable", "provider", provider, "error", err)
		return
	}
	lt := LocalTool{
		Name:        webSearchName,
		Description: webSearchDesc,
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"query": map[string]any{
					"type":        "string",
					"description": "The search query",
				},
			},
			"required": []string{"query"},
		},
		Invokable: inner,
	}
	if err := local.Register(lt); err != nil {
		slog.Warn("failed to register web_search", "error", err)
		return
	}
	slog.Debug("web_search registered", "provider", provider)
}

func newSearchProvider(ctx context.Context, cfg config.WebSearchConfig) (tool.InvokableTool, string, error) {
	maxResults := cfg.MaxResults
	if maxResults <= 0 {
		maxResults = 5
	}

	if cfg.GoogleAPIKey != "" && cfg.GoogleSearchEngineID != "" {
		t, err := googlesearch.NewTool(ctx, &googlesearch.Config{
			APIKey:         cfg.GoogleAPIKey,
			SearchEngineID: cfg.GoogleSearchEngineID,
			Num:            maxResults,
			ToolName:       webSearchName,
			ToolDesc:       webSearchDesc,
		})
		return t, "google", err
	}

	if cfg.BingAPIKey != "" {
		t, err := bingsearch.NewTool(ctx, &bingsearch.Config{
			APIKey:     cfg.BingAPIKey,
			MaxResults: maxResults,
			ToolName:   webSearchName,
			ToolDesc:   webSearchDesc,
			Timeout:    10 * time.Second,
		})
		return t, "bing", err
	}

	t, err := duckduckgo.NewTextSearchTool(ctx, &duckduckgo.Config{
		ToolName:   webSearchName,
		ToolDesc:   webSearchDesc,
		MaxResults: maxResults,
		Timeout:    10 * time.Second,
	})
	return t, "duckduckgo", err
}
