package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/urfave/cli/v3"

	"github.com/gardehq/garde/internal/pantry"
)

// NewPantryCommand returns the pantry subcommand.
func NewPantryCommand() *cli.Command {
	return &cli.Command{
		Name:  "pantry",
		Usage: "Run the bundled pantry MCP server",
		Commands: []*cli.Command{
			{
				Name:  "serve",
				Usage: "Serve pantry tools over stdio or streamable HTTP",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "db",
						Usage: "SQLite database path (empty = in-memory)",
					},
					&cli.StringFlag{
						Name:  "recipes",
						Usage: "YAML recipe corpus (empty = built-in set)",
					},
					&cli.StringFlag{
						Name:  "listen",
						Usage: "host:port for streamable HTTP (empty = stdio)",
					},
				},
				Action: runPantryServe,
			},
		},
		DefaultCommand: "serve",
	}
}

func runPantryServe(ctx context.Context, cmd *cli.Command) error {
	// stdout belongs to the stdio transport, so logs go to stderr and stay
	// quiet unless --debug is set.
	setupLogging(cmd, slog.LevelWarn)

	cfg := loadConfig(cmd)
	if cmd.IsSet("db") {
		cfg.Pantry.DBPath = cmd.String("db")
	}
	if cmd.IsSet("recipes") {
		cfg.Pantry.RecipeFile = cmd.String("recipes")
	}
	if cmd.IsSet("listen") {
		cfg.Pantry.Listen = cmd.String("listen")
	}

	store, err := pantry.OpenStore(cfg.Pantry.DBPath)
	if err != nil {
		return err
	}
	defer store.Close()

	recipes, err := pantry.LoadRecipes(cfg.Pantry.RecipeFile)
	if err != nil {
		return err
	}

	embedder, err := pantry.NewEmbedder(ctx, cfg.Pantry.Embedding)
	if err != nil {
		slog.Warn("embedder unavailable, recipe search falls back to keywords", "error", err)
		embedder = nil
	}

	server := pantry.NewServer(store, pantry.NewIndex(recipes, embedder))

	if cfg.Pantry.Listen != "" {
		return servePantryHTTP(ctx, server, cfg.Pantry.Listen)
	}
	return server.Run(ctx, &mcpsdk.StdioTransport{})
}

func servePantryHTTP(ctx context.Context, server *mcpsdk.Server, addr string) error {
	handler := mcpsdk.NewStreamableHTTPHandler(func(*http.Request) *mcpsdk.Server {
		return server
	}, nil)

	httpServer := &http.Server{Addr: addr, Handler: handler}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("pantry server listening", "addr", addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown pantry server: %w", err)
		}
		return nil
	case err := <-errCh:
		return err
	}
}
