// Package commands holds the garde CLI command tree.
package commands

import (
	"log/slog"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/gardehq/garde/internal/config"
)

// NewRootCommand returns the top-level CLI command.
func NewRootCommand() *cli.Command {
	return &cli.Command{
		Name:  "garde",
		Usage: "Conversational pantry agent gateway and tooling",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to config file",
				Value:   config.ConfigPath(),
			},
			&cli.BoolFlag{
				Name:  "debug",
				Usage: "Enable debug logging",
			},
		},
		Commands: []*cli.Command{
			NewInitCommand(),
			NewServeCommand(),
			NewAskCommand(),
			NewWatchCommand(),
			NewStatusCommand(),
			NewSessionsCommand(),
			NewToolsCommand(),
			NewPantryCommand(),
			NewSecretCommand(),
		},
	}
}

// setupLogging switches the default slog handler to the requested level,
// writing to stderr so stdio transports keep stdout to themselves.
func setupLogging(cmd *cli.Command, quietLevel slog.Level) {
	level := quietLevel
	if cmd.Bool("debug") {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}

// loadConfig reads the file named by --config, falling back to defaults
// when it is missing.
func loadConfig(cmd *cli.Command) *config.Config {
	path := cmd.String("config")
	cfg, err := config.Load(path)
	if err != nil {
		slog.Warn("config not found, using defaults", "path", path, "error", err)
		return config.Default()
	}
	return cfg
}
