package marker

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestProjectHash(t *testing.T) {
	a := ProjectHash("/work/repo")
	if len(a) != hashLen {
		t.Fatalf("ProjectHash length = %d, want %d", len(a), hashLen)
	}
	if b := ProjectHash("/work/repo/"); a != b {
		t.Errorf("trailing slash changed hash: %s vs %s", a, b)
	}
	if b := ProjectHash("/work/other/../repo"); a != b {
		t.Errorf("unclean path changed hash: %s vs %s", a, b)
	}
	if b := ProjectHash("/work/repo2"); a == b {
		t.Error("different projects share a hash")
	}
}

func TestFileStore_Lifecycle(t *testing.T) {
	store := NewFileStore(filepath.Join(t.TempDir(), "markers"))

	ok, err := store.Exists("s1", "/p")
	if err != nil || ok {
		t.Fatalf("Exists before create = %v, %v; want false, nil", ok, err)
	}

	if err := store.Create("s1", "/p"); err != nil {
		t.Fatalf("Create: %v", err)
	}
	info, err := os.Stat(store.Path("s1", "/p"))
	if err != nil {
		t.Fatalf("marker file missing: %v", err)
	}
	if info.Size() != 0 {
		t.Errorf("marker size = %d, want 0", info.Size())
	}

	if ok, _ := store.Exists("s1", "/p"); !ok {
		t.Error("Exists after create = false")
	}
	if ok, _ := store.Exists("s2", "/p"); ok {
		t.Error("marker leaked to another session")
	}
	if ok, _ := store.Exists("s1", "/q"); ok {
		t.Error("marker leaked to another project")
	}

	if err := store.Remove("s1", "/p"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if ok, _ := store.Exists("s1", "/p"); ok {
		t.Error("Exists after remove = true")
	}
	if err := store.Remove("s1", "/p"); err != nil {
		t.Errorf("second Remove: %v", err)
	}
}

func TestFileStore_CreateIsIdempotent(t *testing.T) {
	store := NewFileStore(t.TempDir())
	for i := 0; i < 2; i++ {
		if err := store.Create("sess", "/repo"); err != nil {
			t.Fatalf("Create #%d: %v", i+1, err)
		}
	}
	entries, err := store.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(entries) != 1 {
		t.Errorf("List returned %d markers, want 1", len(entries))
	}
}

func TestFileStore_EmptySession(t *testing.T) {
	store := NewFileStore(t.TempDir())
	if ok, err := store.Exists("", "/repo"); ok || err != nil {
		t.Errorf("Exists(\"\") = %v, %v; want false, nil", ok, err)
	}
	if err := store.Create("", "/repo"); !errors.Is(err, ErrSessionRequired) {
		t.Errorf("Create(\"\") err = %v, want ErrSessionRequired", err)
	}
}

func TestFileStore_ListAndRemoveSession(t *testing.T) {
	dir := t.TempDir()
	store := NewFileStore(dir)
	for _, m := range []struct{ session, project string }{
		{"abc-123", "/a"},
		{"abc-123", "/b"},
		{"other", "/a"},
	} {
		if err := store.Create(m.session, m.project); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.WriteFile(filepath.Join(dir, "unrelated.txt"), nil, 0600); err != nil {
		t.Fatal(err)
	}

	entries, err := store.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("List returned %d entries, want 3", len(entries))
	}
	if entries[0].Session != "abc-123" {
		t.Errorf("first session = %q, want abc-123", entries[0].Session)
	}

	n, err := store.RemoveSession("abc-123")
	if err != nil {
		t.Fatalf("RemoveSession: %v", err)
	}
	if n != 2 {
		t.Errorf("RemoveSession removed %d, want 2", n)
	}
	if ok, _ := store.Exists("other", "/a"); !ok {
		t.Error("RemoveSession removed another session's marker")
	}
}

func TestFileStore_DistinctSessionsDoNotCollide(t *testing.T) {
	store := NewFileStore(t.TempDir())
	if err := store.Create("a/b", "/repo"); err != nil {
		t.Fatal(err)
	}
	for _, other := range []string{"a_b", "a%2Fb", "a b"} {
		if ok, _ := store.Exists(other, "/repo"); ok {
			t.Errorf("marker for %q visible to session %q", "a/b", other)
		}
	}
	if ok, _ := store.Exists("a/b", "/repo"); !ok {
		t.Fatal("marker for a/b missing")
	}

	entries, err := store.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Session != "a/b" {
		t.Fatalf("List = %+v, want one entry for a/b", entries)
	}

	if n, err := store.RemoveSession("a_b"); err != nil || n != 0 {
		t.Errorf("RemoveSession(a_b) = %d, %v; want 0, nil", n, err)
	}
	if n, err := store.RemoveSession("a/b"); err != nil || n != 1 {
		t.Errorf("RemoveSession(a/b) = %d, %v; want 1, nil", n, err)
	}
}

func TestFileStore_ListMissingDir(t *testing.T) {
	store := NewFileStore(filepath.Join(t.TempDir(), "nope"))
	entries, err := store.List()
	if err != nil || len(entries) != 0 {
		t.Errorf("List on missing dir = %v, %v; want empty, nil", entries, err)
	}
}

func TestParseFileName(t *testing.T) {
	hash := ProjectHash("/x")
	tests := []struct {
		name    string
		session string
		ok      bool
	}{
		{"guardian-s1-" + hash, "s1", true},
		{"guardian-a-b-c-" + hash, "a-b-c", true},
		{"guardian-" + hash, "", false},
		{"other-s1-" + hash, "", false},
		{"guardian-s1-zzzzzzzzzzzzzzzz", "", false},
		{"guardian-a%2Fb-" + hash, "a/b", true},
		{"guardian-a%zz-" + hash, "", false},
	}
	for _, tt := range tests {
		session, _, ok := parseFileName(tt.name)
		if ok != tt.ok || session != tt.session {
			t.Errorf("parseFileName(%q) = %q, %v; want %q, %v", tt.name, session, ok, tt.session, tt.ok)
		}
	}
}

func TestMemStore(t *testing.T) {
	m := NewMemStore()
	if err := m.Create("s", "/p"); err != nil {
		t.Fatal(err)
	}
	if err := m.Create("s", "/p"); err != nil {
		t.Fatal(err)
	}
	if m.Count() != 1 {
		t.Errorf("Count = %d, want 1", m.Count())
	}
	if m.Creates() != 2 {
		t.Errorf("Creates = %d, want 2", m.Creates())
	}
	if ok, _ := m.Exists("s", "/p"); !ok {
		t.Error("Exists = false after Create")
	}
	if err := m.Remove("s", "/p"); err != nil {
		t.Fatal(err)
	}
	if m.Count() != 0 {
		t.Errorf("Count after Remove = %d", m.Count())
	}
}
