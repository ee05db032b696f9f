// Package dirstore holds the directory-per-entity persistence primitives
// shared by the session archive and the event log: a meta.json document plus
// JSONL companion files under one directory per entity id.
package dirstore

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Store manages a base directory of entity subdirectories. Methods do not
// lock; callers hold Lock/RLock around multi-file operations.
type Store struct {
	mu      sync.RWMutex
	baseDir string
	entity  string // for error messages: "session", "event log"
}

// New creates a Store rooted at baseDir.
func New(baseDir, entity string) *Store {
	return &Store{baseDir: baseDir, entity: entity}
}

func (s *Store) Lock()    { s.mu.Lock() }
func (s *Store) Unlock()  { s.mu.Unlock() }
func (s *Store) RLock()   { s.mu.RLock() }
func (s *Store) RUnlock() { s.mu.RUnlock() }

// Dir returns the directory path for an entity id.
func (s *Store) Dir(id string) string {
	return filepath.Join(s.baseDir, id)
}

// Path returns the path of a named file inside an entity's directory.
func (s *Store) Path(id, name string) string {
	return filepath.Join(s.baseDir, id, name)
}

// Ensure creates the entity directory if it doesn't exist.
func (s *Store) Ensure(id string) error {
	if err := os.MkdirAll(s.Dir(id), 0o755); err != nil {
		return fmt.Errorf("create %s dir: %w", s.entity, err)
	}
	return nil
}

// Remove deletes the entity directory and everything in it.
func (s *Store) Remove(id string) error {
	return os.RemoveAll(s.Dir(id))
}

// List returns the ids present under the base directory. A missing base
// directory means no entities, not an error.
func (s *Store) List() ([]string, error) {
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("list %s dir: %w", s.entity, err)
	}

	var ids []string
	for _, entry := range entries {
		if entry.IsDir() {
			ids = append(ids, entry.Name())
		}
	}
	return ids, nil
}

// WriteMeta atomically writes the entity's meta.json via temp file + rename.
func (s *Store) WriteMeta(id string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal meta: %w", err)
	}
	return s.WriteFile(id, "meta.json", data)
}

// ReadMeta unmarshals the entity's meta.json into out.
func (s *Store) ReadMeta(id string, out any) error {
	data, err := os.ReadFile(s.Path(id, "meta.json"))
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%s not found: %s", s.entity, id)
		}
		return fmt.Errorf("read meta: %w", err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("unmarshal meta: %w", err)
	}
	return nil
}

// AppendJSONL appends one JSON-encoded line to a file inside the entity's
// directory, creating the directory on first use.
func (s *Store) AppendJSONL(id, filename string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", filename, err)
	}

	if err := s.Ensure(id); err != nil {
		return err
	}
	f, err := os.OpenFile(s.Path(id, filename), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open %s: %w", filename, err)
	}
	defer f.Close()

	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("write %s: %w", filename, err)
	}
	return nil
}

// ReadJSONL decodes every line of a JSONL file into T. Missing files read as
// empty; corrupted lines are skipped.
func ReadJSONL[T any](s *Store, id, filename string) ([]T, error) {
	f, err := os.Open(s.Path(id, filename))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open %s: %w", filename, err)
	}
	defer f.Close()

	var items []T
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var item T
		if err := json.Unmarshal(line, &item); err != nil {
			continue
		}
		items = append(items, item)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan %s: %w", filename, err)
	}
	return items, nil
}

// WriteFile atomically replaces a named file via temp file + rename.
func (s *Store) WriteFile(id, filename string, content []byte) error {
	path := s.Path(id, filename)
	tmp := path + ".tmp"

	if err := os.WriteFile(tmp, content, 0o644); err != nil {
		return fmt.Errorf("write %s tmp: %w", filename, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("rename %s: %w", filename, err)
	}
	return nil
}

// ReadFile returns a named file's content, nil if it doesn't exist.
func (s *Store) ReadFile(id, filename string) ([]byte, error) {
	data, err := os.ReadFile(s.Path(id, filename))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read %s: %w", filename, err)
	}
	return data, nil
}
