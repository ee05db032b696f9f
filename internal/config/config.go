package config

import "time"

// Config is the root configuration for Garde.
type Config struct {
	Gateway  GatewayConfig  `json:"gateway"`
	Models   ModelsConfig   `json:"models"`
	Planner  PlannerConfig  `json:"planner"`
	Tools    ToolsConfig    `json:"tools"`
	Session  SessionConfig  `json:"session"`
	Executor ExecutorConfig `json:"executor"`
	Events   EventsConfig   `json:"events"`
	Pantry   PantryConfig   `json:"pantry"`
}

// GatewayConfig holds the gateway server settings.
type GatewayConfig struct {
	Host string            `json:"host"`
	Port int               `json:"port"`
	Auth GatewayAuthConfig `json:"auth"`
}

// GatewayAuthConfig configures bearer-token identity resolution.
// Mode "remote" verifies tokens against an external auth service;
// mode "static" maps tokens to user ids directly (dev and tests).
type GatewayAuthConfig struct {
	Mode       string            `json:"mode"` // "static", "remote"
	ServiceURL string            `json:"service_url,omitempty"`
	ServiceKey string            `json:"service_key,omitempty"`
	Tokens     map[string]string `json:"tokens,omitempty"` // token -> user id
}

// ModelsConfig holds model provider configuration.
type ModelsConfig struct {
	Default   string                    `json:"default"`
	Providers map[string]ProviderConfig `json:"providers"`
}

// ProviderConfig configures a single LLM provider.
type ProviderConfig struct {
	Driver    string         `json:"driver"` // "anthropic", "openai", "ollama", "gemini"
	Model     string         `json:"model"`
	BaseURL   string         `json:"base_url,omitempty"`
	Auth      AuthConfig     `json:"auth"`
	MaxTokens int            `json:"max_tokens,omitempty"`
	Timeout   Duration       `json:"timeout,omitempty"`
	Options   map[string]any `json:"options,omitempty"`
}

// AuthConfig configures API key resolution for a provider.
type AuthConfig struct {
	APIKey string `json:"api_key,omitempty"` // Direct key, ${{ .Env.VAR }} template, or ENC[age:...] blob
	Token  string `json:"token,omitempty"`   // OAuth/Bearer token
}

// PlannerConfig holds planner settings.
type PlannerConfig struct {
	Provider          string `json:"provider,omitempty"` // models provider key; empty = models.default
	DisableToolFilter bool   `json:"disable_tool_filter,omitempty"`
}

// ToolsConfig configures tool transports and routing.
type ToolsConfig struct {
	Transports   map[string]TransportConfig `json:"transports"`
	Routes       []RouteRule                `json:"routes,omitempty"`
	Default      string                     `json:"default,omitempty"` // transport for unmatched tool names
	CallTimeout  Duration                   `json:"call_timeout,omitempty"`
	ToolTimeouts map[string]Duration        `json:"tool_timeouts,omitempty"` // per-tool override
	ServiceToken string                     `json:"service_token,omitempty"` // replaces the dummy sentinel
	DummyToken   string                     `json:"dummy_token,omitempty"`
	WebSearch    WebSearchConfig            `json:"web_search,omitempty"`
}

// TransportConfig describes one tool transport.
type TransportConfig struct {
	Kind    string   `json:"kind"` // "mcp", "mcp-stdio"
	URL     string   `json:"url,omitempty"`
	Command string   `json:"command,omitempty"`
	Args    []string `json:"args,omitempty"`
}

// RouteRule maps a tool-name glob pattern to a transport name.
// Rules are evaluated in order; first match wins.
type RouteRule struct {
	Pattern   string `json:"pattern"`
	Transport string `json:"transport"`
}

// WebSearchConfig selects the web search provider for the local transport.
type WebSearchConfig struct {
	GoogleAPIKey         string `json:"google_api_key,omitempty"`
	GoogleSearchEngineID string `json:"google_search_engine_id,omitempty"`
	BingAPIKey           string `json:"bing_api_key,omitempty"`
	MaxResults           int    `json:"max_results,omitempty"`
}

// SessionConfig holds session lifecycle settings.
type SessionConfig struct {
	Timeout        Duration `json:"timeout,omitempty"`         // inactivity expiry
	ConfirmTimeout Duration `json:"confirm_timeout,omitempty"` // pending confirmation expiry
	SweepSpec      string   `json:"sweep_spec,omitempty"`      // cron spec for the periodic sweep
}

// ExecutorConfig holds task execution settings.
type ExecutorConfig struct {
	MaxConcurrent int      `json:"max_concurrent,omitempty"` // parallel task bound per plan
	RetryBackoff  Duration `json:"retry_backoff,omitempty"`  // base backoff between attempts
}

// EventsConfig holds event bus settings.
type EventsConfig struct {
	BufferSize int    `json:"buffer_size"`
	LogDir     string `json:"log_dir,omitempty"` // empty disables the JSONL event log
}

// PantryConfig configures the bundled pantry MCP server (`garde pantry`).
type PantryConfig struct {
	DBPath     string          `json:"db_path,omitempty"`     // sqlite file; empty = in-memory
	RecipeFile string          `json:"recipe_file,omitempty"` // yaml recipe corpus; empty = built-in set
	Listen     string          `json:"listen,omitempty"`      // host:port for streamable HTTP; empty = stdio
	Embedding  EmbeddingConfig `json:"embedding,omitempty"`   // recipe search embedder; empty driver = keyword search
}

// EmbeddingConfig configures the recipe search embedder.
type EmbeddingConfig struct {
	Driver  string     `json:"driver,omitempty"` // "openai", "ollama"; empty disables embeddings
	Model   string     `json:"model,omitempty"`
	BaseURL string     `json:"base_url,omitempty"`
	Auth    AuthConfig `json:"auth,omitempty"`
	Dims    int        `json:"dims,omitempty"`
}

// Duration wraps time.Duration for JSON unmarshaling.
type Duration time.Duration

func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	// Remove quotes
	s := string(b)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	dur, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(dur)
	return nil
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return []byte(`"` + time.Duration(d).String() + `"`), nil
}
