package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/urfave/cli/v3"
)

// gatewayFlags are shared by every command that talks to a running gateway.
func gatewayFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:  "gateway",
			Usage: "Gateway base URL",
			Value: "http://127.0.0.1:18620",
		},
		&cli.StringFlag{
			Name:    "token",
			Usage:   "Bearer token (prompts when unset)",
			Sources: cli.EnvVars("GARDE_TOKEN"),
		},
	}
}

// gatewayClient is a minimal authenticated client for the gateway API.
type gatewayClient struct {
	base  string
	token string
	http  *http.Client
}

func newGatewayClient(cmd *cli.Command) (*gatewayClient, error) {
	token := cmd.String("token")
	if token == "" {
		var err error
		token, err = promptSecret("gateway token: ")
		if err != nil {
			return nil, fmt.Errorf("no token: pass --token or set GARDE_TOKEN (%w)", err)
		}
	}
	return &gatewayClient{
		base:  strings.TrimRight(cmd.String("gateway"), "/"),
		token: token,
		http:  &http.Client{},
	}, nil
}

func (g *gatewayClient) get(ctx context.Context, path string, out any) error {
	return g.do(ctx, http.MethodGet, path, nil, out)
}

func (g *gatewayClient) post(ctx context.Context, path string, body, out any) error {
	return g.do(ctx, http.MethodPost, path, body, out)
}

func (g *gatewayClient) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, g.base+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+g.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := g.http.Do(req)
	if err != nil {
		return fmt.Errorf("gateway request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.NewDecoder(resp.Body).Decode(&apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("gateway: %s (status %d)", apiErr.Error, resp.StatusCode)
		}
		return fmt.Errorf("gateway: unexpected status %d", resp.StatusCode)
	}
	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
