package pantry

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestStore_AddAndList(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first, err := s.Add(ctx, "alice", "  Milk  ", 2, " liters ")
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	time.Sleep(2 * time.Millisecond)
	if _, err := s.Add(ctx, "alice", "Eggs", 12, ""); err != nil {
		t.Fatalf("Add: %v", err)
	}

	if first.Name != "Milk" || first.Unit != "liters" {
		t.Errorf("Add returned %+v, want trimmed name and unit", first)
	}
	if first.ID == "" || first.CreatedAt.IsZero() {
		t.Errorf("Add returned %+v, want id and created_at set", first)
	}

	items, err := s.List(ctx, "alice")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("List returned %d items, want 2", len(items))
	}
	if items[0].Name != "Milk" || items[1].Name != "Eggs" {
		t.Errorf("List order = [%s, %s], want oldest first", items[0].Name, items[1].Name)
	}
	if items[0].Quantity != 2 {
		t.Errorf("quantity = %v, want 2", items[0].Quantity)
	}
}

func TestStore_AddRequiresName(t *testing.T) {
	s := newTestStore(t)

	if _, err := s.Add(context.Background(), "alice", "   ", 1, ""); err == nil {
		t.Error("Add with blank name should fail")
	}
}

func TestStore_GetUpdateDelete(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	added, err := s.Add(ctx, "alice", "Butter", 1, "pack")
	if err != nil {
		t.Fatalf("Add: %v", err)
	}

	got, err := s.Get(ctx, "alice", added.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Name != "Butter" || got.Quantity != 1 {
		t.Errorf("Get = %+v, want the added item", got)
	}

	if _, err := s.Update(ctx, "alice", added.ID, Patch{}); err == nil {
		t.Error("Update with empty patch should fail")
	}

	qty := 3.0
	updated, err := s.Update(ctx, "alice", added.ID, Patch{Quantity: &qty})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if updated.Quantity != 3 || updated.Name != "Butter" {
		t.Errorf("Update = %+v, want quantity patched and name kept", updated)
	}

	removed, err := s.Delete(ctx, "alice", added.ID)
	if err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if removed.ID != added.ID {
		t.Errorf("Delete returned %s, want %s", removed.ID, added.ID)
	}

	if _, err := s.Get(ctx, "alice", added.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get after delete = %v, want ErrNotFound", err)
	}
}

func TestStore_NamedSelection(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	oldest, err := s.Add(ctx, "alice", "Milk", 1, "")
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	time.Sleep(2 * time.Millisecond)
	if _, err := s.Add(ctx, "alice", "milk", 1, ""); err != nil {
		t.Fatalf("Add: %v", err)
	}
	time.Sleep(2 * time.Millisecond)
	latest, err := s.Add(ctx, "alice", "MILK", 1, "")
	if err != nil {
		t.Fatalf("Add: %v", err)
	}

	named, err := s.Named(ctx, "alice", "mIlK")
	if err != nil {
		t.Fatalf("Named: %v", err)
	}
	if len(named) != 3 {
		t.Fatalf("Named matched %d items, want 3 across casings", len(named))
	}

	qty := 2.0
	updated, err := s.UpdateNamed(ctx, "alice", "milk", Patch{Quantity: &qty}, PickOldest)
	if err != nil {
		t.Fatalf("UpdateNamed oldest: %v", err)
	}
	if len(updated) != 1 || updated[0].ID != oldest.ID {
		t.Errorf("UpdateNamed oldest touched %+v, want only %s", updated, oldest.ID)
	}

	deleted, err := s.DeleteNamed(ctx, "alice", "milk", PickLatest)
	if err != nil {
		t.Fatalf("DeleteNamed latest: %v", err)
	}
	if len(deleted) != 1 || deleted[0].ID != latest.ID {
		t.Errorf("DeleteNamed latest removed %+v, want only %s", deleted, latest.ID)
	}

	deleted, err = s.DeleteNamed(ctx, "alice", "milk", PickAll)
	if err != nil {
		t.Fatalf("DeleteNamed all: %v", err)
	}
	if len(deleted) != 2 {
		t.Errorf("DeleteNamed all removed %d items, want the 2 remaining", len(deleted))
	}

	if _, err := s.DeleteNamed(ctx, "alice", "milk", PickAll); !errors.Is(err, ErrNotFound) {
		t.Errorf("DeleteNamed with nothing left = %v, want ErrNotFound", err)
	}
	if _, err := s.UpdateNamed(ctx, "alice", "ghost", Patch{Quantity: &qty}, PickAll); !errors.Is(err, ErrNotFound) {
		t.Errorf("UpdateNamed on unknown name = %v, want ErrNotFound", err)
	}
}

func TestStore_OwnersPartitioned(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.Add(ctx, "alice", "Milk", 1, ""); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if _, err := s.Add(ctx, "bob", "Milk", 1, ""); err != nil {
		t.Fatalf("Add: %v", err)
	}

	if _, err := s.DeleteNamed(ctx, "alice", "milk", PickAll); err != nil {
		t.Fatalf("DeleteNamed: %v", err)
	}

	bobs, err := s.List(ctx, "bob")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(bobs) != 1 {
		t.Errorf("bob has %d items after alice's delete, want 1", len(bobs))
	}
	alices, err := s.List(ctx, "alice")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(alices) != 0 {
		t.Errorf("alice has %d items after delete, want 0", len(alices))
	}
}

// --- helpers ---

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := OpenStore("")
	if err != nil {
		t.Fatalf("OpenStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}
