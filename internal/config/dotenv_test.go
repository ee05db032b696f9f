package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestParseDotenvLine(t *testing.T) {
	tests := []struct {
		in        string
		key, want string
		ok        bool
	}{
		{"GARDE_TOKEN=abc", "GARDE_TOKEN", "abc", true},
		{"  OPENAI_API_KEY = sk-test  ", "OPENAI_API_KEY", "sk-test", true},
		{`ANTHROPIC_API_KEY="quoted key"`, "ANTHROPIC_API_KEY", "quoted key", true},
		{"PANTRY_DB='pantry.db'", "PANTRY_DB", "pantry.db", true},
		{"export GARDE_HOST=0.0.0.0", "GARDE_HOST", "0.0.0.0", true},
		{"# just a comment", "", "", false},
		{"", "", "", false},
		{"no assignment here", "", "", false},
		{"=orphan-value", "", "", false},
	}
	for _, tt := range tests {
		key, value, ok := parseDotenvLine(tt.in)
		if ok != tt.ok || key != tt.key || value != tt.want {
			t.Errorf("parseDotenvLine(%q) = (%q, %q, %v), want (%q, %q, %v)",
				tt.in, key, value, ok, tt.key, tt.want, tt.ok)
		}
	}
}

func TestLoadDotenv_SeedsButNeverOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	body := "GARDE_DOTENV_FRESH=from-file\nGARDE_DOTENV_HELD=from-file\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}

	os.Unsetenv("GARDE_DOTENV_FRESH")
	t.Setenv("GARDE_DOTENV_HELD", "from-env")

	if err := LoadDotenv(path); err != nil {
		t.Fatal(err)
	}
	if got := os.Getenv("GARDE_DOTENV_FRESH"); got != "from-file" {
		t.Errorf("fresh var = %q, want seeded from file", got)
	}
	if got := os.Getenv("GARDE_DOTENV_HELD"); got != "from-env" {
		t.Errorf("held var = %q, existing environment must win", got)
	}
}

func TestReloadDotenv_Overrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte("GARDE_DOTENV_ROTATED=v2\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	t.Setenv("GARDE_DOTENV_ROTATED", "v1")

	if err := ReloadDotenv(path); err != nil {
		t.Fatal(err)
	}
	if got := os.Getenv("GARDE_DOTENV_ROTATED"); got != "v2" {
		t.Errorf("rotated var = %q, reload must override", got)
	}
}

func TestLoadDotenv_MissingFile(t *testing.T) {
	if err := LoadDotenv(filepath.Join(t.TempDir(), "absent.env")); err != nil {
		t.Errorf("missing file should be ignored, got: %v", err)
	}
}
