package commands

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/glamour"
	"github.com/urfave/cli/v3"
	"golang.org/x/term"

	"github.com/gardehq/garde/internal/agent"
)

// NewAskCommand returns the ask subcommand.
func NewAskCommand() *cli.Command {
	return &cli.Command{
		Name:      "ask",
		Usage:     "Send a message to the agent and print the reply",
		ArgsUsage: "<message>",
		Flags: append(gatewayFlags(),
			&cli.StringFlag{
				Name:    "session",
				Aliases: []string{"s"},
				Usage:   "Session ID to seed a new session (empty = per-user default)",
			},
			&cli.BoolFlag{
				Name:  "plain",
				Usage: "Print raw text instead of rendered markdown",
			},
			&cli.IntFlag{
				Name:  "timeout",
				Usage: "Turn timeout in seconds",
				Value: 120,
			},
		),
		Action: runAsk,
	}
}

func runAsk(ctx context.Context, cmd *cli.Command) error {
	message := strings.TrimSpace(strings.Join(cmd.Args().Slice(), " "))
	if message == "" {
		return fmt.Errorf("usage: garde ask <message>")
	}

	gw, err := newGatewayClient(cmd)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, time.Duration(cmd.Int("timeout"))*time.Second)
	defer cancel()

	var result agent.TurnResult
	err = gw.post(ctx, "/chat", map[string]string{
		"message":    message,
		"session_id": cmd.String("session"),
	}, &result)
	if err != nil {
		return err
	}

	// A suspended turn asks its question on stderr and resumes with the
	// answer, until the agent lands on a final reply.
	scanner := bufio.NewScanner(os.Stdin)
	for result.ConfirmationRequired {
		prompt := result.Response
		if c := result.Confirmation; c != nil && len(c.Options) > 0 {
			prompt += fmt.Sprintf(" [%s]", strings.Join(c.Options, "/"))
		}
		fmt.Fprintf(os.Stderr, "\n%s\n> ", prompt)
		if !scanner.Scan() {
			return fmt.Errorf("confirmation aborted")
		}
		answer := strings.TrimSpace(scanner.Text())
		if err := gw.post(ctx, "/chat/confirm", map[string]string{"message": answer}, &result); err != nil {
			return err
		}
	}

	if cmd.String("session") == "" {
		fmt.Fprintf(os.Stderr, "session: %s\n", result.SessionID)
	}

	printReply(result.Response, cmd.Bool("plain"))
	return nil
}

// printReply renders markdown when stdout is a terminal; pipes and --plain
// get the raw text.
func printReply(text string, plain bool) {
	if plain || !term.IsTerminal(int(os.Stdout.Fd())) {
		fmt.Println(text)
		return
	}

	renderer, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(100),
	)
	if err != nil {
		fmt.Println(text)
		return
	}
	out, err := renderer.Render(text)
	if err != nil {
		fmt.Println(text)
		return
	}
	fmt.Print(out)
}
