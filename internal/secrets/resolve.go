package secrets

import (
	"fmt"
	"os"
	"strings"
)

// ResolveValue resolves one configured credential. ${VAR} reads the
// environment, ENC[age:...] blobs are decrypted with the identity at
// KeyPath(), anything else passes through trimmed.
func ResolveValue(s string) (string, error) {
	trimmed := strings.TrimSpace(s)
	switch {
	case trimmed == "":
		return "", nil
	case strings.HasPrefix(trimmed, "${") && strings.HasSuffix(trimmed, "}"):
		return os.Getenv(trimmed[2 : len(trimmed)-1]), nil
	case IsEncrypted(trimmed):
		identity, err := LoadIdentity(KeyPath())
		if err != nil {
			return "", fmt.Errorf("encrypted value needs a key: %w", err)
		}
		return Decrypt(trimmed, identity)
	default:
		return trimmed, nil
	}
}
