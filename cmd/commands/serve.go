package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	einocallbacks "github.com/cloudwego/eino/callbacks"
	"github.com/urfave/cli/v3"

	"github.com/gardehq/garde/internal/agent"
	"github.com/gardehq/garde/internal/callbacks"
	"github.com/gardehq/garde/internal/compose"
	"github.com/gardehq/garde/internal/config"
	"github.com/gardehq/garde/internal/events"
	"github.com/gardehq/garde/internal/executor"
	"github.com/gardehq/garde/internal/gateway"
	"github.com/gardehq/garde/internal/gateway/auth"
	"github.com/gardehq/garde/internal/models"
	"github.com/gardehq/garde/internal/planner"
	"github.com/gardehq/garde/internal/sessions"
	"github.com/gardehq/garde/internal/storage"
	"github.com/gardehq/garde/internal/tools"
)

// NewServeCommand returns the serve subcommand.
func NewServeCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Start the garde gateway server",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "host",
				Usage: "Host to listen on",
			},
			&cli.IntFlag{
				Name:  "port",
				Usage: "Port to listen on",
			},
		},
		Action: runServe,
	}
}

func runServe(ctx context.Context, cmd *cli.Command) error {
	setupLogging(cmd, slog.LevelInfo)

	cfg := loadConfig(cmd)

	// CLI flags override config
	if cmd.IsSet("host") {
		cfg.Gateway.Host = cmd.String("host")
	}
	if cmd.IsSet("port") {
		cfg.Gateway.Port = cmd.Int("port")
	}

	// Event bus. Model and tool telemetry flows onto it through the eino
	// callback bridge; the usage tracker and event log ride the same bus.
	bus := events.NewBus(cfg.Events.BufferSize)
	defer bus.Close()
	einocallbacks.AppendGlobalHandlers(callbacks.NewEventBusHandler(bus, events.SourceModels))

	// Model registry; the default provider must come up, the rest stay lazy.
	registry := models.NewRegistry(cfg.Models)
	chatModel, err := registry.Default(ctx)
	if err != nil {
		return fmt.Errorf("init default model: %w", err)
	}
	llm := models.NewLLM(chatModel, registry.DefaultName())

	// The planner may run on a cheaper provider than the composer.
	var planLLM models.Client = llm
	if name := cfg.Planner.Provider; name != "" && name != registry.DefaultName() {
		plannerModel, err := registry.Get(ctx, name)
		if err != nil {
			return fmt.Errorf("init planner model: %w", err)
		}
		planLLM = models.NewLLM(plannerModel, name)
	}

	// Tool registry: local transport plus the configured MCP endpoints.
	toolReg, err := tools.Setup(ctx, cfg, bus)
	if err != nil {
		return fmt.Errorf("setup tools: %w", err)
	}
	defer toolReg.Close()
	slog.Info("tools discovered", "count", len(toolReg.ListTools()))

	// Session store, archiving ended sessions to disk.
	archive := sessions.NewArchive(config.SessionsDir())
	store := sessions.NewStore(sessions.StoreConfig{
		Timeout:    cfg.Session.Timeout.Duration(),
		ConfirmTTL: cfg.Session.ConfirmTimeout.Duration(),
		Bus:        bus,
		Archive:    archive,
	})

	sweeper, err := sessions.NewSweeper(store, cfg.Session.SweepSpec)
	if err != nil {
		return fmt.Errorf("init session sweeper: %w", err)
	}
	sweeper.Start()
	defer sweeper.Stop()

	usage := storage.NewUsageTracker(bus)
	defer usage.Close()

	if cfg.Events.LogDir != "" {
		eventLog := storage.NewEventLogger(cfg.Events.LogDir, bus)
		defer eventLog.Close()
		slog.Info("event log enabled", "dir", cfg.Events.LogDir)
	}

	verifier, err := auth.FromConfig(cfg.Gateway.Auth)
	if err != nil {
		return fmt.Errorf("init auth: %w", err)
	}

	// SIGHUP re-reads config.jsonc and .env. Everything else binds at
	// startup; only the static gateway token set takes effect live.
	reloader := config.NewReloader(cmd.String("config"), config.DotenvPath(), cfg)
	if static, ok := verifier.(*auth.StaticVerifier); ok {
		reloader.OnReload(func(next *config.Config) {
			static.Swap(next.Gateway.Auth.Tokens)
			slog.Info("gateway tokens reloaded", "count", len(next.Gateway.Auth.Tokens))
		})
	}
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	go func() {
		for range hup {
			if err := reloader.Reload(); err != nil {
				slog.Warn("config reload failed", "error", err)
			}
		}
	}()

	// Turn orchestrator.
	ag := agent.New(agent.Config{
		Planner: planner.New(planLLM, planner.Options{
			DisableToolFilter: cfg.Planner.DisableToolFilter,
		}),
		Executor: executor.New(executor.Config{
			Invoker:       toolReg,
			MaxConcurrent: cfg.Executor.MaxConcurrent,
			RetryBackoff:  cfg.Executor.RetryBackoff.Duration(),
		}),
		Tools:     toolReg,
		Composer:  compose.New(llm),
		Store:     store,
		Bus:       bus,
		ModelName: registry.ModelName(registry.DefaultName()),
	})

	server := gateway.NewServer(gateway.Config{
		Host:     cfg.Gateway.Host,
		Port:     cfg.Gateway.Port,
		Chat:     ag,
		Store:    store,
		Bus:      bus,
		Verifier: verifier,
		Tools:    toolReg,
		Usage:    usage,
	})

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	select {
	case <-ctx.Done():
		slog.Info("shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
