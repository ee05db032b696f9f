// Package pantry is the bundled tool backend: a sqlite inventory, a recipe
// corpus and a menu composer, exposed to the agent as an MCP server. It is
// what `garde pantry` runs so the rest of the system has a real toolset to
// talk to without any external service.
package pantry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// ErrNotFound marks lookups that matched no pantry item.
var ErrNotFound = errors.New("item not found")

// Item is one pantry record.
type Item struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Quantity  float64   `json:"quantity"`
	Unit      string    `json:"unit,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Patch holds the fields an update may change. Nil fields keep their value.
type Patch struct {
	Name     *string
	Quantity *float64
	Unit     *string
}

func (p Patch) empty() bool {
	return p.Name == nil && p.Quantity == nil && p.Unit == nil
}

// Pick selects which of several same-named items an operation touches.
type Pick int

const (
	PickAll Pick = iota
	PickOldest
	PickLatest
)

const itemSchema = `
CREATE TABLE IF NOT EXISTS items (
	id         TEXT PRIMARY KEY,
	owner      TEXT NOT NULL,
	name       TEXT NOT NULL,
	quantity   REAL NOT NULL,
	unit       TEXT NOT NULL DEFAULT '',
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS items_owner_name ON items(owner, name);
`

// Store keeps pantry items in sqlite, partitioned by owner.
type Store struct {
	db *sql.DB
}

// OpenStore opens or creates the item database. An empty path uses an
// in-memory database, the zero-config dev setup.
func OpenStore(path string) (*Store, error) {
	if path == "" {
		path = ":memory:"
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open pantry db: %w", err)
	}
	// sqlite allows one writer; a single connection sidesteps SQLITE_BUSY
	// under concurrent tool calls, and keeps :memory: databases alive.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(itemSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create pantry schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

func newItemID() string {
	return "itm_" + strings.ReplaceAll(uuid.New().String()[:8], "-", "")
}

// Add inserts a new item. Duplicate names are allowed; several cartons of
// milk are several rows.
func (s *Store) Add(ctx context.Context, owner, name string, quantity float64, unit string) (Item, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Item{}, errors.New("item name is required")
	}
	it := Item{
		ID:        newItemID(),
		Name:      name,
		Quantity:  quantity,
		Unit:      strings.TrimSpace(unit),
		CreatedAt: time.Now().UTC(),
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO items (id, owner, name, quantity, unit, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		it.ID, owner, it.Name, it.Quantity, it.Unit, it.CreatedAt.UnixNano())
	if err != nil {
		return Item{}, fmt.Errorf("insert item: %w", err)
	}
	return it, nil
}

// List returns the owner's items, oldest first.
func (s *Store) List(ctx context.Context, owner string) ([]Item, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, quantity, unit, created_at FROM items WHERE owner = ? ORDER BY created_at, id`,
		owner)
	if err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}
	defer rows.Close()
	return scanItems(rows)
}

// Get returns one item by id.
func (s *Store) Get(ctx context.Context, owner, id string) (Item, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, quantity, unit, created_at FROM items WHERE owner = ? AND id = ?`,
		owner, id)
	it, err := scanItemRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Item{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return Item{}, fmt.Errorf("get item: %w", err)
	}
	return it, nil
}

// Update patches one item by id and returns the new state.
func (s *Store) Update(ctx context.Context, owner, id string, patch Patch) (Item, error) {
	if patch.empty() {
		return Item{}, errors.New("nothing to update")
	}
	it, err := s.Get(ctx, owner, id)
	if err != nil {
		return Item{}, err
	}
	patch.apply(&it)
	_, err = s.db.ExecContext(ctx,
		`UPDATE items SET name = ?, quantity = ?, unit = ? WHERE owner = ? AND id = ?`,
		it.Name, it.Quantity, it.Unit, owner, id)
	if err != nil {
		return Item{}, fmt.Errorf("update item: %w", err)
	}
	return it, nil
}

// Delete removes one item by id and returns the removed record.
func (s *Store) Delete(ctx context.Context, owner, id string) (Item, error) {
	it, err := s.Get(ctx, owner, id)
	if err != nil {
		return Item{}, err
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM items WHERE owner = ? AND id = ?`, owner, it.ID); err != nil {
		return Item{}, fmt.Errorf("delete item: %w", err)
	}
	return it, nil
}

// Named returns the owner's items with the given name, oldest first. The
// match is case-insensitive.
func (s *Store) Named(ctx context.Context, owner, name string) ([]Item, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, quantity, unit, created_at FROM items
		 WHERE owner = ? AND lower(name) = lower(?) ORDER BY created_at, id`,
		owner, name)
	if err != nil {
		return nil, fmt.Errorf("list items named %q: %w", name, err)
	}
	defer rows.Close()
	return scanItems(rows)
}

// UpdateNamed patches the selected items carrying the name and returns the
// updated records, oldest first.
func (s *Store) UpdateNamed(ctx context.Context, owner, name string, patch Patch, pick Pick) ([]Item, error) {
	if patch.empty() {
		return nil, errors.New("nothing to update")
	}
	selected, err := s.selectNamed(ctx, owner, name, pick)
	if err != nil {
		return nil, err
	}
	updated := make([]Item, 0, len(selected))
	for _, it := range selected {
		out, err := s.Update(ctx, owner, it.ID, patch)
		if err != nil {
			return nil, err
		}
		updated = append(updated, out)
	}
	return updated, nil
}

// DeleteNamed removes the selected items carrying the name and returns the
// removed records, oldest first.
func (s *Store) DeleteNamed(ctx context.Context, owner, name string, pick Pick) ([]Item, error) {
	selected, err := s.selectNamed(ctx, owner, name, pick)
	if err != nil {
		return nil, err
	}
	for _, it := range selected {
		if _, err := s.db.ExecContext(ctx, `DELETE FROM items WHERE owner = ? AND id = ?`, owner, it.ID); err != nil {
			return nil, fmt.Errorf("delete item: %w", err)
		}
	}
	return selected, nil
}

func (s *Store) selectNamed(ctx context.Context, owner, name string, pick Pick) ([]Item, error) {
	matches, err := s.Named(ctx, owner, name)
	if err != nil {
		return nil, err
	}
	if len(matches) == 0 {
		return nil, fmt.Errorf("%w: no items named %q", ErrNotFound, name)
	}
	switch pick {
	case PickOldest:
		return matches[:1], nil
	case PickLatest:
		return matches[len(matches)-1:], nil
	default:
		return matches, nil
	}
}

func (p Patch) apply(it *Item) {
	if p.Name != nil {
		it.Name = strings.TrimSpace(*p.Name)
	}
	if p.Quantity != nil {
		it.Quantity = *p.Quantity
	}
	if p.Unit != nil {
		it.Unit = strings.TrimSpace(*p.Unit)
	}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanItemRow(r rowScanner) (Item, error) {
	var it Item
	var createdAt int64
	if err := r.Scan(&it.ID, &it.Name, &it.Quantity, &it.Unit, &createdAt); err != nil {
		return Item{}, err
	}
	it.CreatedAt = time.Unix(0, createdAt).UTC()
	return it, nil
}

func scanItems(rows *sql.Rows) ([]Item, error) {
	var items []Item
	for rows.Next() {
		it, err := scanItemRow(rows)
		if err != nil {
			return nil, fmt.Errorf("scan item: %w", err)
		}
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate items: %w", err)
	}
	return items, nil
}
