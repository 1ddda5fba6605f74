// Package journal implements the append-only password-observation log and
// its bitmap snapshot, spec.md §3/§4.M/§6: records are
// (index: u64 LE)(password bytes)(LF); the bitmap file is
// (end: u64 LE) || gzip(bitmap bytes), published by write-tmp-then-rename.
//
// The buffered-writer-plus-explicit-Sync shape and the rescue-copy /
// atomic-rename publish discipline are grounded on
// storage/persistence-files.go's FileLogfile (buffered line writes with an
// explicit Sync/Close) and FileStorage.WriteSchema (rename the previous
// file aside / publish via os.Rename); replay here uses the same
// read-until-short-record idiom as ReplayLog's bufio.Scanner loop,
// generalised to binary fixed-header-plus-LF-terminated records instead
// of the teacher's whole-line JSON log entries.
package journal

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/ezekielnewren/hibpstore/internal/bitset"
	"github.com/ezekielnewren/hibpstore/internal/codec"
)

// DefaultFlushThreshold is the in-memory buffer size at which Submit'd
// records are flushed to disk, per spec.md §4.M's "e.g. 10 MiB".
const DefaultFlushThreshold = 10 * 1024 * 1024

// Journal is the append-only password-observation log.
type Journal struct {
	f         *os.File
	path      string
	buf       bytes.Buffer
	threshold int
}

// Open opens (creating if necessary) the journal file at path for
// read/write append.
func Open(path string) (*Journal, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, fmt.Errorf("journal: open %s: %w", path, err)
	}
	return &Journal{f: f, path: path, threshold: DefaultFlushThreshold}, nil
}

// Size returns the current on-disk size of the journal.
func (j *Journal) Size() (int64, error) {
	fi, err := j.f.Stat()
	if err != nil {
		return 0, fmt.Errorf("journal: stat %s: %w", j.path, err)
	}
	return fi.Size(), nil
}

// Submit appends (index, password, LF) to the in-memory write buffer, per
// spec.md §4.M's submit().
func (j *Journal) Submit(index uint64, password []byte) {
	var hdr [8]byte
	binary.LittleEndian.PutUint64(hdr[:], index)
	j.buf.Write(hdr[:])
	j.buf.Write(password)
	j.buf.WriteByte('\n')
}

// ShouldFlush reports whether the buffer has crossed the flush threshold.
func (j *Journal) ShouldFlush() bool { return j.buf.Len() >= j.threshold }

// Flush appends any buffered bytes to the file.
func (j *Journal) Flush() error {
	if j.buf.Len() == 0 {
		return nil
	}
	if _, err := j.f.Seek(0, io.SeekEnd); err != nil {
		return fmt.Errorf("journal: seek %s: %w", j.path, err)
	}
	if _, err := j.f.Write(j.buf.Bytes()); err != nil {
		return fmt.Errorf("journal: write %s: %w", j.path, err)
	}
	j.buf.Reset()
	return nil
}

// Sync issues a durability barrier over the journal file.
func (j *Journal) Sync() error {
	if err := j.f.Sync(); err != nil {
		return fmt.Errorf("journal: fsync %s: %w", j.path, err)
	}
	return nil
}

// Truncate shrinks the journal file to size bytes, used to discard a
// partial tail record found at open, per spec.md's invariant "truncated
// tail records are truncated on open."
func (j *Journal) Truncate(size int64) error {
	if err := j.f.Truncate(size); err != nil {
		return fmt.Errorf("journal: truncate %s: %w", j.path, err)
	}
	return nil
}

// File returns the underlying file handle, for Replay.
func (j *Journal) File() *os.File { return j.f }

// Close flushes buffered bytes and closes the file.
func (j *Journal) Close() error {
	if err := j.Flush(); err != nil {
		j.f.Close()
		return err
	}
	if err := j.f.Close(); err != nil {
		return fmt.Errorf("journal: close %s: %w", j.path, err)
	}
	return nil
}

// Replay reads (index, password) records from f starting at start until
// EOF or a short/partial record is encountered, invoking fn for each
// complete record. It returns the byte offset of the last complete record
// boundary; the caller is expected to Truncate the journal to that offset,
// per spec.md §4.M step 5.
func Replay(f *os.File, start int64, fn func(index uint64, password []byte) error) (int64, error) {
	if _, err := f.Seek(start, io.SeekStart); err != nil {
		return start, fmt.Errorf("journal: seek: %w", err)
	}
	r := bufio.NewReader(f)
	pos := start
	for {
		var hdr [8]byte
		if _, err := io.ReadFull(r, hdr[:]); err != nil {
			break
		}
		line, err := r.ReadBytes('\n')
		if err != nil {
			break
		}
		index := binary.LittleEndian.Uint64(hdr[:])
		password := line[:len(line)-1]
		if err := fn(index, password); err != nil {
			return pos, fmt.Errorf("journal: replay callback: %w", err)
		}
		pos += int64(len(hdr) + len(line))
	}
	return pos, nil
}

// ReplayWithOffset is Replay, additionally passing each record's payload
// byte offset (the position of the password bytes, immediately after the
// 8-byte index header) to fn. Used by the offline password-index build
// (spec.md §4.M) to record, per row, where its most recent observed
// password lives in the journal.
func ReplayWithOffset(f *os.File, start int64, fn func(index uint64, password []byte, payloadOffset int64) error) (int64, error) {
	if _, err := f.Seek(start, io.SeekStart); err != nil {
		return start, fmt.Errorf("journal: seek: %w", err)
	}
	r := bufio.NewReader(f)
	pos := start
	for {
		var hdr [8]byte
		if _, err := io.ReadFull(r, hdr[:]); err != nil {
			break
		}
		line, err := r.ReadBytes('\n')
		if err != nil {
			break
		}
		index := binary.LittleEndian.Uint64(hdr[:])
		password := line[:len(line)-1]
		payloadOffset := pos + int64(len(hdr))
		if err := fn(index, password, payloadOffset); err != nil {
			return pos, fmt.Errorf("journal: replay callback: %w", err)
		}
		pos += int64(len(hdr) + len(line))
	}
	return pos, nil
}

// SaveBitmap atomically publishes the bitmap snapshot: (end: u64 LE)
// followed by a gzipped bitmap, written to tmp.<name> then renamed into
// place, per spec.md §4.M's commit().
func SaveBitmap(path string, end uint64, bm *bitset.BitSet) error {
	tmpPath := filepath.Join(filepath.Dir(path), "tmp."+filepath.Base(path))

	gz, err := codec.CompressGZ(bm.Bytes())
	if err != nil {
		return fmt.Errorf("journal: compress bitmap %s: %w", path, err)
	}

	var hdr [8]byte
	binary.LittleEndian.PutUint64(hdr[:], end)

	f, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("journal: create %s: %w", tmpPath, err)
	}
	if _, err := f.Write(hdr[:]); err != nil {
		f.Close()
		return fmt.Errorf("journal: write %s: %w", tmpPath, err)
	}
	if _, err := f.Write(gz); err != nil {
		f.Close()
		return fmt.Errorf("journal: write %s: %w", tmpPath, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("journal: fsync %s: %w", tmpPath, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("journal: close %s: %w", tmpPath, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("journal: rename %s to %s: %w", tmpPath, path, err)
	}
	return nil
}

// LoadBitmap reads a bitmap snapshot written by SaveBitmap. A missing file
// is not an error: it reports end=0 and an empty bitmap, the state of a
// freshly created database.
func LoadBitmap(path string) (end uint64, bm *bitset.BitSet, err error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, bitset.New(), nil
		}
		return 0, nil, fmt.Errorf("journal: read %s: %w", path, err)
	}
	if len(raw) < 8 {
		return 0, nil, fmt.Errorf("journal: truncated bitmap file %s", path)
	}
	end = binary.LittleEndian.Uint64(raw[:8])
	decompressed, err := codec.ExtractGZ(raw[8:])
	if err != nil {
		return 0, nil, fmt.Errorf("journal: extract bitmap %s: %w", path, err)
	}
	return end, bitset.FromBytes(decompressed), nil
}
