package secrets

import (
	"testing"
)

func TestResolveValue_Passthrough(t *testing.T) {
	got, err := ResolveValue("  sk-plain-key  ")
	if err != nil {
		t.Fatalf("ResolveValue: %v", err)
	}
	if got != "sk-plain-key" {
		t.Errorf("got %q, want trimmed plaintext", got)
	}

	got, err = ResolveValue("")
	if err != nil {
		t.Fatalf("ResolveValue empty: %v", err)
	}
	if got != "" {
		t.Errorf("empty input resolved to %q", got)
	}
}

func TestResolveValue_EnvTemplate(t *testing.T) {
	t.Setenv("GARDE_TEST_KEY", "from-env")

	got, err := ResolveValue("${GARDE_TEST_KEY}")
	if err != nil {
		t.Fatalf("ResolveValue: %v", err)
	}
	if got != "from-env" {
		t.Errorf("got %q, want from-env", got)
	}

	got, err = ResolveValue("${GARDE_TEST_UNSET}")
	if err != nil {
		t.Fatalf("ResolveValue unset: %v", err)
	}
	if got != "" {
		t.Errorf("unset var resolved to %q", got)
	}
}

func TestResolveValue_EncryptedBlob(t *testing.T) {
	t.Setenv("GARDE_PATH", t.TempDir())

	if err := GenerateIdentity(KeyPath()); err != nil {
		t.Fatalf("GenerateIdentity: %v", err)
	}
	identity, err := LoadIdentity(KeyPath())
	if err != nil {
		t.Fatalf("LoadIdentity: %v", err)
	}

	blob, err := Encrypt("sk-secret", identity.Recipient())
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}

	got, err := ResolveValue(blob)
	if err != nil {
		t.Fatalf("ResolveValue: %v", err)
	}
	if got != "sk-secret" {
		t.Errorf("got %q, want sk-secret", got)
	}
}

func TestResolveValue_EncryptedWithoutKey(t *testing.T) {
	t.Setenv("GARDE_PATH", t.TempDir())

	_, err := ResolveValue("ENC[age:Zm9v]")
	if err == nil {
		t.Error("expected error when no key exists")
	}
}
