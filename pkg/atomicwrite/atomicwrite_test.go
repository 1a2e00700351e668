package atomicwrite

import (
	"os"
	"path/filepath"
	"testing"
)

func TestFileWritesAndReplaces(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.txt")

	if err := File(path, []byte("first"), 0o644); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading file: %v", err)
	}
	if string(got) != "first" {
		t.Fatalf("unexpected contents: %q", got)
	}

	if err := File(path, []byte("second"), 0o644); err != nil {
		t.Fatalf("unexpected error on replace: %v", err)
	}
	got, err = os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading file after replace: %v", err)
	}
	if string(got) != "second" {
		t.Fatalf("unexpected contents after replace: %q", got)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("reading dir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected no leftover temp files, found %d entries", len(entries))
	}
}
