package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/gardehq/garde/internal/sessions"
	"github.com/gardehq/garde/internal/storage"
)

// NewStatusCommand returns the status subcommand.
func NewStatusCommand() *cli.Command {
	return &cli.Command{
		Name:   "status",
		Usage:  "Show gateway and session status",
		Flags:  gatewayFlags(),
		Action: runStatus,
	}
}

func runStatus(ctx context.Context, cmd *cli.Command) error {
	base := strings.TrimRight(cmd.String("gateway"), "/")

	// Liveness needs no token.
	alive, err := checkHealth(ctx, base)
	if err != nil || !alive {
		fmt.Println("Gateway: NOT RUNNING")
		return nil
	}
	fmt.Printf("Gateway: UP (%s)\n", base)

	gw, err := newGatewayClient(cmd)
	if err != nil {
		return err
	}

	var status struct {
		Active  bool          `json:"active"`
		Session sessions.View `json:"session"`
		Usage   storage.Usage `json:"usage"`
	}
	if err := gw.get(ctx, "/session/status", &status); err != nil {
		return err
	}

	if !status.Active {
		fmt.Println("Session: none")
		return nil
	}

	s := status.Session
	fmt.Printf("Session: %s (user %s, %d items, last activity %s ago)\n",
		s.SessionID, s.UserID, s.ItemCount,
		time.Since(s.LastActivity).Truncate(time.Second))
	if s.AwaitingConfirmation {
		fmt.Println("         awaiting confirmation")
	}
	if status.Usage.Calls > 0 {
		fmt.Printf("Usage:   %d LLM calls, %d in / %d out tokens\n",
			status.Usage.Calls, status.Usage.TokensInput, status.Usage.TokensOutput)
	}
	return nil
}

func checkHealth(ctx context.Context, base string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/healthz", nil)
	if err != nil {
		return false, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	var body struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return false, err
	}
	return body.Status == "ok", nil
}
