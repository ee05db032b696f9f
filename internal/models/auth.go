package models

import (
	"fmt"
	"os"
	"strings"

	"github.com/gardehq/garde/internal/config"
	"github.com/gardehq/garde/internal/secrets"
)

// AuthKind distinguishes between API key and Bearer token auth.
type AuthKind int

const (
	AuthAPIKey AuthKind = iota
	AuthBearerToken
)

// ResolvedAuth holds the resolved credentials and their kind.
type ResolvedAuth struct {
	Kind  AuthKind
	Value string
}

// ResolveAuth resolves the credentials for a provider. Values may be
// literal, ${VAR} environment references, or ENC[age:...] blobs.
// Resolution order: direct token → direct api_key → driver default env.
func ResolveAuth(cfg config.ProviderConfig) (ResolvedAuth, error) {
	// Direct Bearer token (OAuth)
	token, err := secrets.ResolveValue(cfg.Auth.Token)
	if err != nil {
		return ResolvedAuth{}, fmt.Errorf("resolve auth token: %w", err)
	}
	if token != "" {
		return ResolvedAuth{Kind: AuthBearerToken, Value: token}, nil
	}

	// Direct API key from config
	apiKey, err := secrets.ResolveValue(cfg.Auth.APIKey)
	if err != nil {
		return ResolvedAuth{}, fmt.Errorf("resolve api key: %w", err)
	}
	if apiKey != "" {
		return ResolvedAuth{Kind: AuthAPIKey, Value: apiKey}, nil
	}

	// Default env vars per driver
	switch strings.ToLower(cfg.Driver) {
	case "claude", "anthropic":
		if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" {
			return ResolvedAuth{Kind: AuthAPIKey, Value: key}, nil
		}
		return ResolvedAuth{}, fmt.Errorf("ANTHROPIC_API_KEY not set")
	case "gemini", "google":
		if key := os.Getenv("GEMINI_API_KEY"); key != "" {
			return ResolvedAuth{Kind: AuthAPIKey, Value: key}, nil
		}
		if key := os.Getenv("GOOGLE_API_KEY"); key != "" {
			return ResolvedAuth{Kind: AuthAPIKey, Value: key}, nil
		}
		return ResolvedAuth{}, fmt.Errorf("GEMINI_API_KEY not set")
	case "openai":
		if key := os.Getenv("OPENAI_API_KEY"); key != "" {
			return ResolvedAuth{Kind: AuthAPIKey, Value: key}, nil
		}
		return ResolvedAuth{}, fmt.Errorf("OPENAI_API_KEY not set")
	case "mistral":
		if key := os.Getenv("MISTRAL_API_KEY"); key != "" {
			return ResolvedAuth{Kind: AuthAPIKey, Value: key}, nil
		}
		return ResolvedAuth{}, fmt.Errorf("MISTRAL_API_KEY not set")
	default:
		return ResolvedAuth{}, fmt.Errorf("unknown driver %q: cannot resolve auth", cfg.Driver)
	}
}
