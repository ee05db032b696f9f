package commands

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/urfave/cli/v3"

	"github.com/gardehq/garde/internal/config"
	"github.com/gardehq/garde/internal/secrets"
)

// NewInitCommand returns the onboarding subcommand.
func NewInitCommand() *cli.Command {
	return &cli.Command{
		Name:   "init",
		Usage:  "Initialize the Garde home directory (~/.garde)",
		Action: runInit,
	}
}

func runInit(_ context.Context, _ *cli.Command) error {
	root := config.GardePath()
	created := false

	// Ensure directories exist.
	dirs := []string{
		root,
		filepath.Join(root, "sessions"),
		filepath.Join(root, "events"),
	}
	for _, d := range dirs {
		if _, err := os.Stat(d); err != nil {
			if err := os.MkdirAll(d, 0o755); err != nil {
				return fmt.Errorf("create dir %s: %w", d, err)
			}
			fmt.Printf("  Created %s\n", d)
			created = true
		}
	}

	// Write default config if missing.
	configPath := config.ConfigPath()
	if _, err := os.Stat(configPath); err != nil {
		if err := os.WriteFile(configPath, []byte(defaultConfig), 0o644); err != nil {
			return fmt.Errorf("write config: %w", err)
		}
		fmt.Printf("  Created %s\n", configPath)
		created = true
	}

	// Write default .env if missing.
	dotenvPath := config.DotenvPath()
	if _, err := os.Stat(dotenvPath); err != nil {
		if err := os.WriteFile(dotenvPath, []byte(defaultDotenv), 0o600); err != nil {
			return fmt.Errorf("write .env: %w", err)
		}
		fmt.Printf("  Created %s\n", dotenvPath)
		created = true
	}

	// Generate the age key for ENC[age:...] secrets. Idempotent.
	keyPath := secrets.KeyPath()
	if _, err := os.Stat(keyPath); err != nil {
		if err := secrets.GenerateIdentity(keyPath); err != nil {
			return fmt.Errorf("generate age key: %w", err)
		}
		fmt.Printf("  Created %s\n", keyPath)
		created = true
	}

	if !created {
		fmt.Printf("Already set up: %s is complete. Nothing to do.\n", root)
		return nil
	}

	fmt.Println(initMessage(root))
	return nil
}

const defaultConfig = `{
	// Garde Configuration
	// Docs: https://github.com/gardehq/garde

	"gateway": {
		"host": "127.0.0.1",
		"port": 18620,
		"auth": {
			"mode": "static",
			"tokens": {
				// token -> user id; replace before exposing beyond localhost
				"dev-token": "dev-user"
			}
		}
	},

	"models": {
		"default": "claude",
		"providers": {
			"claude": {
				"driver": "anthropic",
				"model": "claude-sonnet-4-20250514",
				"auth": {
					// ${VAR} reads the environment at startup;
					// ENC[age:...] blobs from 'garde secret encrypt' also work
					"api_key": "${ANTHROPIC_API_KEY}"
				},
				"max_tokens": 4096
			}

			// Local model via Ollama (no auth required)
			// "local": {
			// 	"driver": "ollama",
			// 	"model": "llama3.1:8b",
			// 	"base_url": "http://localhost:11434",
			// 	"max_tokens": 4096
			// }
		}
	},

	"tools": {
		"transports": {
			// The bundled pantry server, spawned as a stdio subprocess.
			"pantry": {
				"kind": "mcp-stdio",
				"command": "garde",
				"args": ["pantry", "serve"]
			}
		}
	},

	"session": {
		"timeout": "30m",
		"confirm_timeout": "5m"
	},

	"executor": {
		"max_concurrent": 4
	},

	"events": {
		"buffer_size": 1024
	}
}
`

const defaultDotenv = `# Garde environment variables
# This file is loaded automatically. Existing env vars are never overridden.

# ANTHROPIC_API_KEY=sk-ant-...
# OPENAI_API_KEY=sk-...
# GARDE_TOKEN=dev-token
`

func initMessage(root string) string {
	return fmt.Sprintf(`
  Garde is set up.

  Home: %s
  Config, sessions, events and the age key live in there.

  Next steps:
    1. Drop your API key in %s/.env
    2. Tweak %s/config.jsonc if you feel like it
    3. Run: garde serve
    4. Talk to it: garde ask "what can you do?"
`, root, root, root)
}
