package dirstore

import (
	"os"
	"path/filepath"
	"sort"
	"testing"
)

type testMeta struct {
	Name  string `json:"name"`
	Value int    `json:"value"`
}

type testLine struct {
	ID   int    `json:"id"`
	Text string `json:"text"`
}

func TestMeta_RoundTrip(t *testing.T) {
	s := New(t.TempDir(), "thing")

	if err := s.Ensure("abc123"); err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	want := testMeta{Name: "hello", Value: 42}
	if err := s.WriteMeta("abc123", want); err != nil {
		t.Fatalf("WriteMeta: %v", err)
	}

	var got testMeta
	if err := s.ReadMeta("abc123", &got); err != nil {
		t.Fatalf("ReadMeta: %v", err)
	}
	if got != want {
		t.Errorf("ReadMeta = %+v, want %+v", got, want)
	}
}

func TestMeta_NotFound(t *testing.T) {
	s := New(t.TempDir(), "widget")

	var out testMeta
	err := s.ReadMeta("nonexistent", &out)
	if err == nil {
		t.Fatal("expected error for missing meta")
	}
	if want := "widget not found: nonexistent"; err.Error() != want {
		t.Errorf("error = %q, want %q", err.Error(), want)
	}
}

func TestList_SkipsPlainFiles(t *testing.T) {
	base := t.TempDir()
	s := New(base, "item")

	for _, name := range []string{"dir_a", "dir_b", "dir_c"} {
		if err := os.MkdirAll(filepath.Join(base, name), 0o755); err != nil {
			t.Fatalf("MkdirAll %s: %v", name, err)
		}
	}
	if err := os.WriteFile(filepath.Join(base, "not_a_dir.txt"), []byte("hi"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	ids, err := s.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	sort.Strings(ids)
	want := []string{"dir_a", "dir_b", "dir_c"}
	if len(ids) != len(want) {
		t.Fatalf("List = %v, want %v", ids, want)
	}
	for i, id := range ids {
		if id != want[i] {
			t.Errorf("ids[%d] = %q, want %q", i, id, want[i])
		}
	}
}

func TestList_MissingBaseDir(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), "nope"), "item")

	ids, err := s.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if ids != nil {
		t.Errorf("List = %v, want nil for a missing base dir", ids)
	}
}

func TestJSONL_AppendCreatesDirAndReadsBack(t *testing.T) {
	s := New(t.TempDir(), "thing")

	lines := []testLine{
		{ID: 1, Text: "first"},
		{ID: 2, Text: "second"},
		{ID: 3, Text: "third"},
	}
	// No Ensure first: append creates the entity directory itself.
	for _, l := range lines {
		if err := s.AppendJSONL("entity1", "data.jsonl", l); err != nil {
			t.Fatalf("AppendJSONL: %v", err)
		}
	}

	got, err := ReadJSONL[testLine](s, "entity1", "data.jsonl")
	if err != nil {
		t.Fatalf("ReadJSONL: %v", err)
	}
	if len(got) != len(lines) {
		t.Fatalf("ReadJSONL returned %d items, want %d", len(got), len(lines))
	}
	for i, item := range got {
		if item != lines[i] {
			t.Errorf("item[%d] = %+v, want %+v", i, item, lines[i])
		}
	}
}

func TestJSONL_MissingFileReadsEmpty(t *testing.T) {
	s := New(t.TempDir(), "thing")

	got, err := ReadJSONL[testLine](s, "nonexistent", "data.jsonl")
	if err != nil {
		t.Fatalf("ReadJSONL: %v", err)
	}
	if got != nil {
		t.Errorf("ReadJSONL = %v, want nil", got)
	}
}

func TestJSONL_SkipsCorruptedLines(t *testing.T) {
	s := New(t.TempDir(), "thing")

	if err := s.AppendJSONL("entity1", "data.jsonl", testLine{ID: 1, Text: "ok"}); err != nil {
		t.Fatalf("AppendJSONL: %v", err)
	}
	f, err := os.OpenFile(s.Path("entity1", "data.jsonl"), os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := f.WriteString("{not json\n"); err != nil {
		t.Fatalf("write garbage: %v", err)
	}
	f.Close()
	if err := s.AppendJSONL("entity1", "data.jsonl", testLine{ID: 2, Text: "also ok"}); err != nil {
		t.Fatalf("AppendJSONL: %v", err)
	}

	got, err := ReadJSONL[testLine](s, "entity1", "data.jsonl")
	if err != nil {
		t.Fatalf("ReadJSONL: %v", err)
	}
	if len(got) != 2 || got[0].ID != 1 || got[1].ID != 2 {
		t.Errorf("ReadJSONL = %+v, want the two valid lines", got)
	}
}

func TestWriteFile_AtomicReplace(t *testing.T) {
	s := New(t.TempDir(), "thing")

	if err := s.Ensure("entity1"); err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	if err := s.WriteFile("entity1", "output.md", []byte("hello world")); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if err := s.WriteFile("entity1", "output.md", []byte("replaced")); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	got, err := s.ReadFile("entity1", "output.md")
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(got) != "replaced" {
		t.Errorf("ReadFile = %q, want %q", got, "replaced")
	}
	if _, err := os.Stat(s.Path("entity1", "output.md.tmp")); !os.IsNotExist(err) {
		t.Errorf("temp file left behind: %v", err)
	}
}

func TestReadFile_Missing(t *testing.T) {
	s := New(t.TempDir(), "thing")

	got, err := s.ReadFile("nonexistent", "output.md")
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if got != nil {
		t.Errorf("ReadFile = %v, want nil", got)
	}
}

func TestEnsureRemove_Lifecycle(t *testing.T) {
	s := New(t.TempDir(), "thing")

	if err := s.Ensure("entity1"); err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	info, err := os.Stat(s.Dir("entity1"))
	if err != nil {
		t.Fatalf("Stat after Ensure: %v", err)
	}
	if !info.IsDir() {
		t.Fatal("expected a directory")
	}

	if err := s.Remove("entity1"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, err := os.Stat(s.Dir("entity1")); !os.IsNotExist(err) {
		t.Fatalf("expected not-exist after Remove, got: %v", err)
	}
}
