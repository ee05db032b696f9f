package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/gardehq/garde/cmd/commands"
	"github.com/gardehq/garde/internal/config"
)

func main() {
	os.Exit(run())
}

func run() int {
	if err := config.LoadDotenv(config.DotenvPath()); err != nil {
		slog.Warn("failed to load .env", "error", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := commands.NewRootCommand().Run(ctx, os.Args); err != nil {
		slog.Error("fatal", "error", err)
		return 1
	}
	return 0
}
