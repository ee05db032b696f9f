package config

import (
	"os"
	"path/filepath"
)

// pathEnv overrides the home directory; everything garde persists lives
// under one root so a single env var relocates the whole install.
const pathEnv = "GARDE_PATH"

const (
	configFile  = "config.jsonc"
	dotenvFile  = ".env"
	sessionsDir = "sessions"
)

// GardePath returns the data root: $GARDE_PATH when set, ~/.garde
// otherwise. With no resolvable home it falls back to ./.garde, which keeps
// containerized runs working.
func GardePath() string {
	if v := os.Getenv(pathEnv); v != "" {
		return v
	}
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, ".garde")
}

// ConfigPath returns the JSONC config file location.
func ConfigPath() string {
	return filepath.Join(GardePath(), configFile)
}

// DotenvPath returns the .env file location.
func DotenvPath() string {
	return filepath.Join(GardePath(), dotenvFile)
}

// SessionsDir returns where ended sessions are archived.
func SessionsDir() string {
	return filepath.Join(GardePath(), sessionsDir)
}
