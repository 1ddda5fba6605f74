package filearray

import (
	"path/filepath"
	"testing"
)

func TestCreateWriteReadBack(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "col.bin")

	rw, err := Create(path, 10, 8)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	for i := 0; i < 10; i++ {
		rec := rw.Record(i)
		for j := range rec {
			rec[j] = byte(i)
		}
	}
	if err := rw.Sync(); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if err := rw.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	ro, err := Open(path, 8)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer ro.Close()
	if ro.Len() != 10 {
		t.Fatalf("Len() = %d, want 10", ro.Len())
	}
	for i := 0; i < 10; i++ {
		rec := ro.Record(i)
		for j := range rec {
			if rec[j] != byte(i) {
				t.Fatalf("record %d byte %d = %d, want %d", i, j, rec[j], i)
			}
		}
	}
}

func TestOpenMissingFile(t *testing.T) {
	dir := t.TempDir()
	if _, err := Open(filepath.Join(dir, "nope.bin"), 8); err == nil {
		t.Fatal("expected error opening missing file")
	}
}

func TestOpenSizeMismatch(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "col.bin")
	rw, err := Create(path, 3, 7) // 21 bytes, not a multiple of 8
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	rw.Close()

	if _, err := Open(path, 8); err == nil {
		t.Fatal("expected error for size not a multiple of record size")
	}
}
