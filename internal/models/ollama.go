package models

import (
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	einoollama "github.com/cloudwego/eino-ext/components/model/ollama"
	"github.com/cloudwego/eino/components/model"

	"github.com/gardehq/garde/internal/config"
)

const (
	ollamaBaseURL = "http://localhost:11434"
	// Local models can be slow to first token while loading weights.
	ollamaTimeout = 300 * time.Second
)

// NewOllama builds an Ollama ChatModel. No API key: local or LAN endpoints.
func NewOllama(ctx context.Context, cfg config.ProviderConfig) (model.ToolCallingChatModel, error) {
	timeout := ollamaTimeout
	if cfg.Timeout.Duration() > 0 {
		timeout = cfg.Timeout.Duration()
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = ollamaBaseURL
	}

	mc := &einoollama.ChatModelConfig{
		BaseURL: baseURL,
		Model:   cfg.Model,
		Timeout: timeout,
		Options: ollamaOptions(cfg),
		// Reverse proxies in front of ollama answer with plain text when no
		// backend is up; the driver would choke on it mid-decode. Catch that
		// at the transport and surface ErrModelUnavailable instead.
		HTTPClient: &http.Client{
			Timeout:   timeout,
			Transport: &jsonProbeTransport{inner: http.DefaultTransport, provider: "ollama"},
		},
	}
	return einoollama.NewChatModel(ctx, mc)
}

func ollamaOptions(cfg config.ProviderConfig) *einoollama.Options {
	opts := &einoollama.Options{}
	if cfg.MaxTokens > 0 {
		opts.NumPredict = cfg.MaxTokens
	}
	if v, ok := floatOption(cfg.Options, "temperature"); ok {
		opts.Temperature = float32(v)
	}
	if v, ok := floatOption(cfg.Options, "top_p"); ok {
		opts.TopP = float32(v)
	}
	if v, ok := floatOption(cfg.Options, "top_k"); ok {
		opts.TopK = int(v)
	}
	if v, ok := floatOption(cfg.Options, "num_ctx"); ok {
		opts.NumCtx = int(v)
	}
	if v, ok := floatOption(cfg.Options, "num_predict"); ok {
		opts.NumPredict = int(v)
	}
	return opts
}

// jsonProbeTransport rejects responses that cannot be the provider's JSON:
// transport errors, HTTP error statuses, and non-JSON content types all
// become ErrModelUnavailable with a short body excerpt.
type jsonProbeTransport struct {
	inner    http.RoundTripper
	provider string
}

func (t *jsonProbeTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := t.inner.RoundTrip(req)
	if err != nil {
		return nil, &ErrModelUnavailable{Provider: t.provider, Cause: err}
	}
	if resp.StatusCode >= 400 {
		return nil, t.reject(resp)
	}
	// Ollama streams application/x-ndjson and answers application/json
	// otherwise; anything else is not the model talking.
	if ct := resp.Header.Get("Content-Type"); ct != "" && !strings.Contains(ct, "json") {
		return nil, t.reject(resp)
	}
	return resp, nil
}

func (t *jsonProbeTransport) reject(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	resp.Body.Close()
	return &ErrModelUnavailable{
		Provider: t.provider,
		Body:     strings.TrimSpace(string(body)),
	}
}
