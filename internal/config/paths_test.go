package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestGardePath_DefaultUnderHome(t *testing.T) {
	t.Setenv("GARDE_PATH", "")

	home, err := os.UserHomeDir()
	if err != nil {
		t.Fatal(err)
	}
	if got, want := GardePath(), filepath.Join(home, ".garde"); got != want {
		t.Errorf("GardePath() = %q, want %q", got, want)
	}
}

func TestPaths_EnvOverrideRelocatesEverything(t *testing.T) {
	t.Setenv("GARDE_PATH", "/srv/garde")

	cases := []struct {
		name string
		fn   func() string
		want string
	}{
		{"root", GardePath, "/srv/garde"},
		{"config", ConfigPath, "/srv/garde/config.jsonc"},
		{"dotenv", DotenvPath, "/srv/garde/.env"},
		{"sessions", SessionsDir, "/srv/garde/sessions"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.fn(); got != tc.want {
				t.Errorf("got %q, want %q", got, tc.want)
			}
		})
	}
}
