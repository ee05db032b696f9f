package commands

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/urfave/cli/v3"
	"golang.org/x/term"

	"github.com/gardehq/garde/internal/config"
	"github.com/gardehq/garde/internal/secrets"
)

// NewSecretCommand returns the secret subcommand.
func NewSecretCommand() *cli.Command {
	return &cli.Command{
		Name:  "secret",
		Usage: "Manage encrypted credentials",
		Commands: []*cli.Command{
			{
				Name:   "init",
				Usage:  "Generate the age key used to encrypt secrets",
				Action: runSecretInit,
			},
			{
				Name:      "encrypt",
				Usage:     "Encrypt a value into an ENC[age:...] blob for config files",
				ArgsUsage: "[value]",
				Action:    runSecretEncrypt,
			},
			{
				Name:      "set",
				Usage:     "Store a secret in the dotenv file",
				ArgsUsage: "<key> [value]",
				Action:    runSecretSet,
			},
		},
	}
}

func runSecretInit(_ context.Context, _ *cli.Command) error {
	keyPath := secrets.KeyPath()
	if err := secrets.GenerateIdentity(keyPath); err != nil {
		return fmt.Errorf("generate key: %w", err)
	}

	identity, err := secrets.LoadIdentity(keyPath)
	if err != nil {
		return fmt.Errorf("load key: %w", err)
	}

	fmt.Printf("Key: %s\n", keyPath)
	fmt.Printf("Recipient: %s\n", identity.Recipient())
	return nil
}

func runSecretEncrypt(_ context.Context, cmd *cli.Command) error {
	value := cmd.Args().First()
	if value == "" {
		var err error
		value, err = promptSecret("value to encrypt: ")
		if err != nil {
			return err
		}
	}
	if value == "" {
		return fmt.Errorf("nothing to encrypt")
	}

	keyPath := secrets.KeyPath()
	if err := secrets.GenerateIdentity(keyPath); err != nil {
		return fmt.Errorf("generate key: %w", err)
	}
	identity, err := secrets.LoadIdentity(keyPath)
	if err != nil {
		return fmt.Errorf("load key: %w", err)
	}

	blob, err := secrets.Encrypt(value, identity.Recipient())
	if err != nil {
		return fmt.Errorf("encrypt: %w", err)
	}

	fmt.Println(blob)
	return nil
}

func runSecretSet(_ context.Context, cmd *cli.Command) error {
	key := cmd.Args().First()
	if key == "" {
		return fmt.Errorf("usage: garde secret set <key> [value]")
	}

	value := cmd.Args().Get(1)
	if value == "" {
		var err error
		value, err = promptSecret(key + ": ")
		if err != nil {
			return err
		}
	}

	// Encrypted blobs are decrypted before writing; the dotenv file holds
	// plaintext with 0600 permissions.
	if secrets.IsEncrypted(value) {
		identity, err := secrets.LoadIdentity(secrets.KeyPath())
		if err != nil {
			return fmt.Errorf("load key: %w", err)
		}
		value, err = secrets.Decrypt(value, identity)
		if err != nil {
			return fmt.Errorf("decrypt: %w", err)
		}
	}

	path := config.DotenvPath()
	if err := secrets.SetEntry(path, key, value); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}

	fmt.Printf("Saved %s to %s\n", key, path)
	return nil
}

// promptSecret reads a value from the terminal without echoing it.
func promptSecret(label string) (string, error) {
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return "", fmt.Errorf("stdin is not a terminal; pass the value as an argument")
	}

	fmt.Fprint(os.Stderr, label)
	raw, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("read input: %w", err)
	}
	return strings.TrimSpace(string(raw)), nil
}
