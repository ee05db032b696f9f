package secrets

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"filippo.io/age"
)

func freshIdentity(t *testing.T) *age.X25519Identity {
	t.Helper()
	identity, err := age.GenerateX25519Identity()
	if err != nil {
		t.Fatalf("generate identity: %v", err)
	}
	return identity
}

func TestGenerateIdentity_FileShapeAndIdempotence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keys", ".age-key")

	if err := GenerateIdentity(path); err != nil {
		t.Fatalf("GenerateIdentity: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Errorf("key file mode = %o, want 0600", info.Mode().Perm())
	}

	first, _ := os.ReadFile(path)
	if !strings.Contains(string(first), "# public key: age1") {
		t.Error("key file missing the public key comment")
	}

	// Second run must not rotate the key.
	if err := GenerateIdentity(path); err != nil {
		t.Fatalf("second GenerateIdentity: %v", err)
	}
	second, _ := os.ReadFile(path)
	if string(first) != string(second) {
		t.Error("key file changed on re-run")
	}
}

func TestLoadIdentity_ReadsGeneratedKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".age-key")
	if err := GenerateIdentity(path); err != nil {
		t.Fatalf("GenerateIdentity: %v", err)
	}

	id, err := LoadIdentity(path)
	if err != nil {
		t.Fatalf("LoadIdentity: %v", err)
	}
	if id.Recipient() == nil {
		t.Fatal("loaded identity has no recipient")
	}
}

func TestLoadIdentity_MissingFile(t *testing.T) {
	if _, err := LoadIdentity(filepath.Join(t.TempDir(), "nope")); err == nil {
		t.Error("expected error for a missing key file")
	}
}

func TestEncryptDecrypt_RoundTrips(t *testing.T) {
	identity := freshIdentity(t)

	for _, plaintext := range []string{"sk-ant-api03-secret", "", "multi\nline\nvalue"} {
		blob, err := Encrypt(plaintext, identity.Recipient())
		if err != nil {
			t.Fatalf("Encrypt(%q): %v", plaintext, err)
		}
		if !IsEncrypted(blob) {
			t.Errorf("Encrypt(%q) produced a non-blob: %q", plaintext, blob)
		}
		got, err := Decrypt(blob, identity)
		if err != nil {
			t.Fatalf("Decrypt(%q): %v", plaintext, err)
		}
		if got != plaintext {
			t.Errorf("round trip = %q, want %q", got, plaintext)
		}
	}
}

func TestDecrypt_WrongKeyFails(t *testing.T) {
	blob, err := Encrypt("secret", freshIdentity(t).Recipient())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := Decrypt(blob, freshIdentity(t)); err == nil {
		t.Error("decrypting with a different identity should fail")
	}
}

func TestDecrypt_RejectsMalformedBlobs(t *testing.T) {
	identity := freshIdentity(t)
	for _, blob := range []string{"plaintext", "ENC[age:@@not-base64@@]", "ENC[age:trunc"} {
		if _, err := Decrypt(blob, identity); err == nil {
			t.Errorf("Decrypt(%q) should fail", blob)
		}
	}
}

func TestIsEncrypted(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{"ENC[age:abc123]", true},
		{"ENC[age:]", true},
		{"sk-plain-key", false},
		{"ENC[age:unterminated", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := IsEncrypted(tt.in); got != tt.want {
			t.Errorf("IsEncrypted(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
