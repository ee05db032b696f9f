package config

import (
	"bufio"
	"os"
	"strings"
)

// LoadDotenv seeds the environment from a .env file at startup. Variables
// already present in the environment win; a missing file is not an error.
func LoadDotenv(path string) error {
	return applyDotenv(path, false)
}

// ReloadDotenv re-reads a .env file in override mode: file values replace
// the current environment. The config reloader uses this on SIGHUP so
// rotated credentials take effect.
func ReloadDotenv(path string) error {
	return applyDotenv(path, true)
}

func applyDotenv(path string, override bool) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		key, value, ok := parseDotenvLine(scanner.Text())
		if !ok {
			continue
		}
		if !override {
			if _, exists := os.LookupEnv(key); exists {
				continue
			}
		}
		os.Setenv(key, value)
	}
	return scanner.Err()
}

// parseDotenvLine extracts one KEY=VALUE assignment. Blank lines, comments
// and lines without an assignment are skipped; an `export ` prefix and
// matching surrounding quotes are tolerated.
func parseDotenvLine(raw string) (key, value string, ok bool) {
	line := strings.TrimSpace(raw)
	if line == "" || strings.HasPrefix(line, "#") {
		return "", "", false
	}
	line = strings.TrimPrefix(line, "export ")

	key, value, ok = strings.Cut(line, "=")
	if !ok {
		return "", "", false
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return "", "", false
	}
	value = strings.TrimSpace(value)
	if len(value) >= 2 {
		if (value[0] == '"' && value[len(value)-1] == '"') || (value[0] == '\'' && value[len(value)-1] == '\'') {
			value = value[1 : len(value)-1]
		}
	}
	return key, value, true
}
