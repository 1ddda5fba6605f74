package pagecache

import (
	"os"
	"path/filepath"
	"testing"
)

func TestOpenTruncatesUp(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "col.bin")

	c, err := OpenSized(path, 4, 64, 2) // 4 pages, 64B pages, 2 pages/segment
	if err != nil {
		t.Fatalf("OpenSized: %v", err)
	}
	defer c.Close()

	fi, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if fi.Size() != 4*64 {
		t.Fatalf("size = %d, want %d", fi.Size(), 4*64)
	}
}

func TestAtMutRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "col.bin")

	c, err := OpenSized(path, 4, 64, 2)
	if err != nil {
		t.Fatalf("OpenSized: %v", err)
	}
	defer c.Close()

	page, err := c.AtMut(1)
	if err != nil {
		t.Fatalf("AtMut: %v", err)
	}
	for i := range page {
		page[i] = byte(i)
	}

	got, err := c.At(1)
	if err != nil {
		t.Fatalf("At: %v", err)
	}
	for i := range got {
		if got[i] != byte(i) {
			t.Fatalf("byte %d = %d, want %d", i, got[i], byte(i))
		}
	}
}

func TestSyncDurability(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "col.bin")

	// Real page-sized pages: writes go through O_DIRECT, which needs
	// page-aligned offsets and lengths.
	c, err := OpenSized(path, 4, DefaultPageSize, 2)
	if err != nil {
		t.Fatalf("OpenSized: %v", err)
	}
	page, err := c.AtMut(3)
	if err != nil {
		t.Fatalf("AtMut: %v", err)
	}
	for i := range page {
		page[i] = 0xAB
	}
	if err := c.Sync(); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	off := 3 * DefaultPageSize
	for i := 0; i < DefaultPageSize; i++ {
		if raw[off+i] != 0xAB {
			t.Fatalf("byte %d = %d, want 0xAB", off+i, raw[off+i])
		}
	}
}

func TestPreload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "col.bin")

	c, err := OpenSized(path, 6, 64, 2)
	if err != nil {
		t.Fatalf("OpenSized: %v", err)
	}
	defer c.Close()

	if err := c.Preload(); err != nil {
		t.Fatalf("Preload: %v", err)
	}
	if len(c.active) != 3 { // 6 pages / 2 pages-per-segment
		t.Fatalf("active segments = %d, want 3", len(c.active))
	}
}

func TestAtOutOfRangePanics(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "col.bin")

	c, err := OpenSized(path, 2, 64, 2)
	if err != nil {
		t.Fatalf("OpenSized: %v", err)
	}
	defer c.Close()

	defer func() {
		if recover() == nil {
			t.Fatal("expected panic for out-of-range page id")
		}
	}()
	c.At(100)
}
