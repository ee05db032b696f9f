package secrets

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"filippo.io/age"

	"github.com/gardehq/garde/internal/config"
)

// Encrypted values travel inside config and .env as ENC[age:<base64>] blobs
// so a checked-in config never carries a plaintext credential.
const (
	encPrefix = "ENC[age:"
	encSuffix = "]"
)

// KeyPath returns the default age key file path: $GARDE_PATH/.age-key.
func KeyPath() string {
	return filepath.Join(config.GardePath(), ".age-key")
}

// IsEncrypted reports whether s is an ENC[age:...] blob.
func IsEncrypted(s string) bool {
	return strings.HasPrefix(s, encPrefix) && strings.HasSuffix(s, encSuffix)
}

// GenerateIdentity writes a fresh X25519 key pair to path with mode 0600.
// An existing key file is left alone, so `garde init` can call this on
// every run.
func GenerateIdentity(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	}

	identity, err := age.GenerateX25519Identity()
	if err != nil {
		return fmt.Errorf("generate age identity: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create key directory: %w", err)
	}
	content := fmt.Sprintf("# created by garde\n# public key: %s\n%s\n",
		identity.Recipient(), identity)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		return fmt.Errorf("write age key: %w", err)
	}
	return nil
}

// LoadIdentity reads the X25519 private key from path.
func LoadIdentity(path string) (*age.X25519Identity, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open age key: %w", err)
	}
	defer f.Close()

	identities, err := age.ParseIdentities(f)
	if err != nil {
		return nil, fmt.Errorf("parse age identities: %w", err)
	}
	for _, id := range identities {
		if x, ok := id.(*age.X25519Identity); ok {
			return x, nil
		}
	}
	return nil, fmt.Errorf("no X25519 identity in %s", path)
}

// Encrypt seals plaintext for the recipient into an ENC[age:...] blob.
func Encrypt(plaintext string, recipient *age.X25519Recipient) (string, error) {
	var buf bytes.Buffer
	w, err := age.Encrypt(&buf, recipient)
	if err != nil {
		return "", fmt.Errorf("age encrypt: %w", err)
	}
	if _, err := io.WriteString(w, plaintext); err != nil {
		return "", fmt.Errorf("age encrypt: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("age encrypt: %w", err)
	}
	return encPrefix + base64.StdEncoding.EncodeToString(buf.Bytes()) + encSuffix, nil
}

// Decrypt opens an ENC[age:...] blob with the identity.
func Decrypt(blob string, identity *age.X25519Identity) (string, error) {
	ciphertext, err := stripBlob(blob)
	if err != nil {
		return "", err
	}
	r, err := age.Decrypt(bytes.NewReader(ciphertext), identity)
	if err != nil {
		return "", fmt.Errorf("age decrypt: %w", err)
	}
	plain, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("read decrypted value: %w", err)
	}
	return string(plain), nil
}

func stripBlob(blob string) ([]byte, error) {
	if !IsEncrypted(blob) {
		return nil, fmt.Errorf("not an ENC[age:...] blob")
	}
	raw, err := base64.StdEncoding.DecodeString(blob[len(encPrefix) : len(blob)-len(encSuffix)])
	if err != nil {
		return nil, fmt.Errorf("decode blob: %w", err)
	}
	return raw, nil
}
