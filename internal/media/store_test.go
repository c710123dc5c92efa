package media

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(filepath.Join(t.TempDir(), "media"))
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	return s
}

func TestSaveAndPath(t *testing.T) {
	s := newTestStore(t)

	name, err := s.Save([]byte("ID3 fake mp3"), ".mp3")
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if !strings.HasPrefix(name, "tts_") || !strings.HasSuffix(name, ".mp3") {
		t.Fatalf("unexpected name %q", name)
	}
	if strings.Contains(name, "-") {
		t.Fatalf("name should be a bare hex id, got %q", name)
	}

	full, err := s.Path(name)
	if err != nil {
		t.Fatalf("Path: %v", err)
	}
	data, err := os.ReadFile(full)
	if err != nil {
		t.Fatalf("reading saved file: %v", err)
	}
	if string(data) != "ID3 fake mp3" {
		t.Fatalf("content = %q", data)
	}
}

func TestSaveNamesAreUnique(t *testing.T) {
	s := newTestStore(t)
	seen := make(map[string]bool)
	for i := 0; i < 20; i++ {
		name, err := s.Save([]byte("x"), ".mp3")
		if err != nil {
			t.Fatalf("Save: %v", err)
		}
		if seen[name] {
			t.Fatalf("duplicate name %q", name)
		}
		seen[name] = true
	}
	if n, _ := s.Count(); n != 20 {
		t.Fatalf("Count = %d, want 20", n)
	}
}

func TestPathRejects(t *testing.T) {
	s := newTestStore(t)
	for _, name := range []string{"", "missing.mp3", "../secret", "a/b.mp3", `a\b.mp3`, ".partial-123", ".."} {
		if _, err := s.Path(name); !errors.Is(err, ErrNotFound) {
			t.Errorf("Path(%q) error = %v, want ErrNotFound", name, err)
		}
	}
}

func TestCountIgnoresForeignFiles(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.Save([]byte("x"), ".mp3"); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := os.WriteFile(filepath.Join(s.Dir(), "README"), []byte("hi"), 0o644); err != nil {
		t.Fatal(err)
	}
	n, err := s.Count()
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if n != 1 {
		t.Fatalf("Count = %d, want 1", n)
	}
}

func TestDeleteOlderThan(t *testing.T) {
	s := newTestStore(t)

	oldName, _ := s.Save([]byte("old"), ".mp3")
	newName, _ := s.Save([]byte("new"), ".mp3")

	past := time.Now().Add(-48 * time.Hour)
	if err := os.Chtimes(filepath.Join(s.Dir(), oldName), past, past); err != nil {
		t.Fatal(err)
	}

	removed, err := s.DeleteOlderThan(24 * time.Hour)
	if err != nil {
		t.Fatalf("DeleteOlderThan: %v", err)
	}
	if len(removed) != 1 || removed[0] != oldName {
		t.Fatalf("removed = %v, want [%s]", removed, oldName)
	}
	if _, err := s.Path(oldName); !errors.Is(err, ErrNotFound) {
		t.Fatal("old file should be gone")
	}
	if _, err := s.Path(newName); err != nil {
		t.Fatalf("new file should remain: %v", err)
	}
}

func TestStartCleanupTicker(t *testing.T) {
	s := newTestStore(t)
	name, _ := s.Save([]byte("old"), ".mp3")
	past := time.Now().Add(-time.Hour)
	if err := os.Chtimes(filepath.Join(s.Dir(), name), past, past); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	StartCleanupTicker(ctx, s, 5*time.Millisecond, time.Minute)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if n, _ := s.Count(); n == 0 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("expected cleanup ticker to remove the old file")
}
