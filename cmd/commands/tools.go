package commands

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/urfave/cli/v3"

	"github.com/gardehq/garde/internal/tools"
)

// NewToolsCommand returns the tools subcommand.
func NewToolsCommand() *cli.Command {
	return &cli.Command{
		Name:   "tools",
		Usage:  "List the tools discovered by a running gateway",
		Flags:  gatewayFlags(),
		Action: runTools,
	}
}

func runTools(ctx context.Context, cmd *cli.Command) error {
	gw, err := newGatewayClient(cmd)
	if err != nil {
		return err
	}

	var catalog struct {
		Tools []tools.ToolInfo `json:"tools"`
		Count int              `json:"count"`
	}
	if err := gw.get(ctx, "/tools", &catalog); err != nil {
		return err
	}

	if catalog.Count == 0 {
		fmt.Println("No tools discovered.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tTRANSPORT\tDESCRIPTION")
	for _, t := range catalog.Tools {
		desc := t.Description
		if len(desc) > 72 {
			desc = desc[:69] + "..."
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", t.Name, t.Transport, desc)
	}
	return w.Flush()
}
