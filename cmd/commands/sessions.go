package commands

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/urfave/cli/v3"

	"github.com/gardehq/garde/internal/config"
	"github.com/gardehq/garde/internal/sessions"
)

// NewSessionsCommand returns the sessions subcommand.
func NewSessionsCommand() *cli.Command {
	return &cli.Command{
		Name:  "sessions",
		Usage: "Inspect and manage agent sessions",
		Commands: []*cli.Command{
			{
				Name:   "list",
				Usage:  "List live sessions on the gateway",
				Flags:  gatewayFlags(),
				Action: runSessionsList,
			},
			{
				Name:   "clear",
				Usage:  "Clear your own live session",
				Flags:  gatewayFlags(),
				Action: runSessionsClear,
			},
			{
				Name:   "clear-all",
				Usage:  "Clear every live session",
				Flags:  gatewayFlags(),
				Action: runSessionsClearAll,
			},
			{
				Name:   "archive",
				Usage:  "List archived sessions on local disk",
				Flags:  archiveFlags(),
				Action: runSessionsArchive,
			},
			{
				Name:      "history",
				Usage:     "Show an archived session's operation history",
				ArgsUsage: "<session_id>",
				Flags:     archiveFlags(),
				Action:    runSessionsHistory,
			},
		},
		DefaultCommand: "list",
	}
}

func archiveFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:  "dir",
			Usage: "Archive directory",
			Value: config.SessionsDir(),
		},
	}
}

func runSessionsList(ctx context.Context, cmd *cli.Command) error {
	gw, err := newGatewayClient(cmd)
	if err != nil {
		return err
	}

	var all struct {
		Sessions []sessions.View `json:"sessions"`
		Count    int             `json:"count"`
	}
	if err := gw.get(ctx, "/session/all", &all); err != nil {
		return err
	}

	if all.Count == 0 {
		fmt.Println("No live sessions.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tUSER\tITEMS\tPENDING\tLAST ACTIVITY")
	for _, s := range all.Sessions {
		pending := "-"
		if s.AwaitingConfirmation {
			pending = "yes"
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n",
			s.SessionID, s.UserID, s.ItemCount, pending,
			s.LastActivity.Format("2006-01-02 15:04:05"))
	}
	return w.Flush()
}

func runSessionsClear(ctx context.Context, cmd *cli.Command) error {
	gw, err := newGatewayClient(cmd)
	if err != nil {
		return err
	}

	var resp struct {
		Cleared bool `json:"cleared"`
	}
	if err := gw.post(ctx, "/session/clear", nil, &resp); err != nil {
		return err
	}
	if resp.Cleared {
		fmt.Println("Session cleared.")
	} else {
		fmt.Println("No live session to clear.")
	}
	return nil
}

func runSessionsClearAll(ctx context.Context, cmd *cli.Command) error {
	gw, err := newGatewayClient(cmd)
	if err != nil {
		return err
	}

	var resp struct {
		Cleared int `json:"cleared"`
	}
	if err := gw.post(ctx, "/session/clear-all", nil, &resp); err != nil {
		return err
	}
	fmt.Printf("Cleared %d sessions.\n", resp.Cleared)
	return nil
}

func runSessionsArchive(_ context.Context, cmd *cli.Command) error {
	archive := sessions.NewArchive(cmd.String("dir"))

	snaps, err := archive.List()
	if err != nil {
		return fmt.Errorf("list archive: %w", err)
	}
	if len(snaps) == 0 {
		fmt.Println("No archived sessions.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tUSER\tITEMS\tOPERATIONS\tREASON\tLAST ACTIVITY")
	for _, s := range snaps {
		reason := s.Reason
		if reason == "" {
			reason = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%s\t%s\n",
			s.SessionID, s.UserID, s.ItemCount, s.Operations, reason,
			s.LastActivity.Format("2006-01-02 15:04:05"))
	}
	return w.Flush()
}

func runSessionsHistory(_ context.Context, cmd *cli.Command) error {
	sessionID := cmd.Args().First()
	if sessionID == "" {
		return fmt.Errorf("usage: garde sessions history <session_id>")
	}

	archive := sessions.NewArchive(cmd.String("dir"))

	entries, err := archive.History(sessionID)
	if err != nil {
		return fmt.Errorf("load history: %w", err)
	}
	if len(entries) == 0 {
		fmt.Println("No history recorded for this session.")
		return nil
	}

	for _, e := range entries {
		line := fmt.Sprintf("[%s] %s", e.At.Format("15:04:05"), e.Kind)
		if e.Details != "" {
			line += ": " + e.Details
		}
		fmt.Println(line)
	}
	return nil
}
