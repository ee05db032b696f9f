package commands

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/urfave/cli/v3"

	wsclient "github.com/gardehq/garde/clients/ws"
	"github.com/gardehq/garde/internal/events"
	wsprotocol "github.com/gardehq/garde/internal/gateway/ws"
)

// NewWatchCommand returns the watch subcommand.
func NewWatchCommand() *cli.Command {
	return &cli.Command{
		Name:  "watch",
		Usage: "Tail live turn progress from the gateway",
		Flags: append(gatewayFlags(),
			&cli.StringFlag{
				Name:    "session",
				Aliases: []string{"s"},
				Usage:   "Only mirror one session (empty = all sessions)",
			},
		),
		Action: runWatch,
	}
}

func runWatch(ctx context.Context, cmd *cli.Command) error {
	gw, err := newGatewayClient(cmd)
	if err != nil {
		return err
	}

	wsURL, err := mirrorURL(gw.base, gw.token)
	if err != nil {
		return err
	}

	client, err := wsclient.Dial(ctx, wsURL)
	if err != nil {
		return fmt.Errorf("connect to gateway: %w", err)
	}
	defer client.Close()

	if session := cmd.String("session"); session != "" {
		if err := client.Subscribe(session); err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "watching session %s\n", session)
	} else {
		fmt.Fprintln(os.Stderr, "watching all sessions")
	}

	for {
		frame, err := client.ReadFrame()
		if err != nil {
			if ctx.Err() != nil {
				return nil // interrupted
			}
			return fmt.Errorf("read frame: %w", err)
		}
		if frame.Type != wsprotocol.FrameTypeProgress || frame.Event == nil {
			continue
		}
		printProgress(*frame.Event)
	}
}

// mirrorURL turns the gateway base URL into the authenticated /ws endpoint.
func mirrorURL(base, token string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse gateway url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws"
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func printProgress(ev events.ProgressEvent) {
	line := fmt.Sprintf("%s  %-8s  %s",
		ev.Timestamp.Format("15:04:05"), ev.Type, ev.SessionID)
	if p := ev.Progress; p != nil && p.TotalTasks > 0 {
		line += fmt.Sprintf("  %d/%d (%d%%)", p.CompletedTasks, p.TotalTasks, p.ProgressPercentage)
	}
	if ev.Message != "" {
		line += "  " + ev.Message
	}
	if ev.Error != nil {
		line += fmt.Sprintf("  [%s] %s", ev.Error.Code, ev.Error.Message)
	}
	fmt.Println(line)
}
