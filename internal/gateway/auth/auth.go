// Package auth resolves gateway bearer tokens to user identities.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gardehq/garde/internal/config"
)

// ErrUnauthorized marks a token the verifier rejected, as opposed to a
// verifier that could not be reached.
var ErrUnauthorized = errors.New("unauthorized")

// Verifier resolves a bearer token to the user id it belongs to.
type Verifier interface {
	Verify(ctx context.Context, token string) (userID string, err error)
}

// FromConfig builds the verifier the config names. An empty mode means
// static, which also covers the zero-config dev setup.
func FromConfig(cfg config.GatewayAuthConfig) (Verifier, error) {
	switch cfg.Mode {
	case "static", "":
		return NewStaticVerifier(cfg.Tokens), nil
	case "remote":
		if cfg.ServiceURL == "" {
			return nil, errors.New("auth mode remote requires service_url")
		}
		return NewRemoteVerifier(cfg.ServiceURL, cfg.ServiceKey), nil
	default:
		return nil, fmt.Errorf("unknown auth mode %q", cfg.Mode)
	}
}

// StaticVerifier maps tokens to user ids from config. Dev and test use.
// The token set can be swapped live on config reload.
type StaticVerifier struct {
	mu     sync.RWMutex
	tokens map[string]string
}

func NewStaticVerifier(tokens map[string]string) *StaticVerifier {
	return &StaticVerifier{tokens: tokens}
}

func (v *StaticVerifier) Verify(_ context.Context, token string) (string, error) {
	if token == "" {
		return "", ErrUnauthorized
	}
	v.mu.RLock()
	userID, ok := v.tokens[token]
	v.mu.RUnlock()
	if ok {
		return userID, nil
	}
	return "", ErrUnauthorized
}

// Swap replaces the token set. In-flight Verify calls see either the old or
// the new set, never a mix.
func (v *StaticVerifier) Swap(tokens map[string]string) {
	v.mu.Lock()
	v.tokens = tokens
	v.mu.Unlock()
}

// RemoteVerifier asks an external auth service who a token belongs to.
// The service sees the same bearer header the gateway received and answers
// {"user_id": "..."} on 200.
type RemoteVerifier struct {
	endpoint   string
	serviceKey string
	client     *http.Client
}

func NewRemoteVerifier(endpoint, serviceKey string) *RemoteVerifier {
	return &RemoteVerifier{
		endpoint:   endpoint,
		serviceKey: serviceKey,
		client:     &http.Client{Timeout: 10 * time.Second},
	}
}

func (v *RemoteVerifier) Verify(ctx context.Context, token string) (string, error) {
	if token == "" {
		return "", ErrUnauthorized
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.endpoint, nil)
	if err != nil {
		return "", fmt.Errorf("auth request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if v.serviceKey != "" {
		req.Header.Set("X-Service-Key", v.serviceKey)
	}

	resp, err := v.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("auth service: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusUnauthorized, http.StatusForbidden:
		return "", ErrUnauthorized
	default:
		return "", fmt.Errorf("auth service returned %d", resp.StatusCode)
	}

	var out struct {
		UserID string `json:"user_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("auth response: %w", err)
	}
	if out.UserID == "" {
		return "", ErrUnauthorized
	}
	return out.UserID, nil
}

// BearerToken extracts the token from an Authorization header value, or ""
// when the header is missing or not a bearer scheme.
func BearerToken(header string) string {
	const prefix = "Bearer "
	if len(header) > len(prefix) && strings.EqualFold(header[:len(prefix)], prefix) {
		return strings.TrimSpace(header[len(prefix):])
	}
	return ""
}
