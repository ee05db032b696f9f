package secrets

import (
	"fmt"
	"os"
	"strings"
)

// SetEntry writes or replaces a KEY=VALUE line in a dotenv file, keeping
// comments, blank lines, and the order of existing entries intact. A new key
// is appended at the end. The file is created with 0600 if missing.
func SetEntry(path, key, value string) error {
	raw, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("read dotenv: %w", err)
	}

	entry := key + "=" + quoteValue(value)

	var lines []string
	if len(raw) > 0 {
		lines = strings.Split(strings.TrimRight(string(raw), "\n"), "\n")
	}

	replaced := false
	for i, line := range lines {
		if keyOf(line) == key {
			lines[i] = entry
			replaced = true
			break
		}
	}
	if !replaced {
		lines = append(lines, entry)
	}

	out := strings.Join(lines, "\n") + "\n"
	return os.WriteFile(path, []byte(out), 0o600)
}

// keyOf extracts the key from a dotenv line, or "" for comments, blanks, and
// lines without an assignment.
func keyOf(line string) string {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" || strings.HasPrefix(trimmed, "#") {
		return ""
	}
	k, _, ok := strings.Cut(trimmed, "=")
	if !ok {
		return ""
	}
	return strings.TrimSpace(k)
}

// quoteValue double-quotes values that would otherwise be mangled by a shell
// or a dotenv parser.
func quoteValue(v string) string {
	if !strings.ContainsAny(v, " \t\"'\\#$") {
		return v
	}
	escaped := strings.ReplaceAll(v, `\`, `\\`)
	escaped = strings.ReplaceAll(escaped, `"`, `\"`)
	return `"` + escaped + `"`
}
