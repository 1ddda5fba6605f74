// Package filearray implements read-only and read-write memory-mapped
// views over a file holding a dense sequence of fixed-width records,
// per spec.md §4.A. Opening enforces that the file size is a multiple of
// the record width, the same sizing discipline the teacher's pack shows in
// storj-storj's HashTbl (hashtblSize/OpenHashTbl's logSlots-from-filesize
// derivation) and RichardKnop-minisql's pager ("db file size is not
// divisible by page size").
package filearray

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// ReadOnly is an immutable memory-mapped view over a file of N records of
// width recordSize.
type ReadOnly struct {
	f          *os.File
	data       []byte
	recordSize int
	n          int
}

// Open memory-maps path read-only. It fails if the file is missing or its
// size is not a multiple of recordSize, per spec.md §4.A.
func Open(path string, recordSize int) (*ReadOnly, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("filearray: open %s: %w", path, err)
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("filearray: stat %s: %w", path, err)
	}
	size := fi.Size()
	if size == 0 {
		return &ReadOnly{f: f, recordSize: recordSize, n: 0}, nil
	}
	if size%int64(recordSize) != 0 {
		f.Close()
		return nil, fmt.Errorf("filearray: %s size %d is not a multiple of record size %d", path, size, recordSize)
	}
	data, err := unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("filearray: mmap %s: %w", path, err)
	}
	return &ReadOnly{f: f, data: data, recordSize: recordSize, n: int(size) / recordSize}, nil
}

// Len returns the number of records.
func (r *ReadOnly) Len() int { return r.n }

// RecordSize returns the fixed width, in bytes, of each record.
func (r *ReadOnly) RecordSize() int { return r.recordSize }

// Record returns a borrowed slice view over record i. The slice must not
// outlive the ReadOnly's mapping (spec.md §9: "a view holds a handle to
// the map").
func (r *ReadOnly) Record(i int) []byte {
	if i < 0 || i >= r.n {
		panic(fmt.Sprintf("filearray: index out of range: %d", i))
	}
	off := i * r.recordSize
	return r.data[off : off+r.recordSize]
}

// Bytes returns a borrowed view over the whole mapping.
func (r *ReadOnly) Bytes() []byte { return r.data }

// Close unmaps the file and closes the handle.
func (r *ReadOnly) Close() error {
	var errs []error
	if r.data != nil {
		if err := unix.Munmap(r.data); err != nil {
			errs = append(errs, err)
		}
	}
	if err := r.f.Close(); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return fmt.Errorf("filearray: close: %v", errs)
	}
	return nil
}

// ReadWrite is a mutable memory-mapped view, truncated up front to hold a
// known record count.
type ReadWrite struct {
	f          *os.File
	data       []byte
	recordSize int
	n          int
}

// Create opens (creating if necessary) path for read-write access and
// truncates it to n*recordSize bytes, per spec.md §4.A: "sets it via
// truncate when a record count is supplied."
func Create(path string, n, recordSize int) (*ReadWrite, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, fmt.Errorf("filearray: open %s: %w", path, err)
	}
	size := int64(n) * int64(recordSize)
	if err := f.Truncate(size); err != nil {
		f.Close()
		return nil, fmt.Errorf("filearray: truncate %s to %d: %w", path, size, err)
	}
	rw := &ReadWrite{f: f, recordSize: recordSize, n: n}
	if size > 0 {
		data, err := unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("filearray: mmap %s: %w", path, err)
		}
		rw.data = data
	}
	return rw, nil
}

func (r *ReadWrite) Len() int       { return r.n }
func (r *ReadWrite) RecordSize() int { return r.recordSize }

// Record returns a mutable borrowed slice view over record i.
func (r *ReadWrite) Record(i int) []byte {
	if i < 0 || i >= r.n {
		panic(fmt.Sprintf("filearray: index out of range: %d", i))
	}
	off := i * r.recordSize
	return r.data[off : off+r.recordSize]
}

func (r *ReadWrite) Bytes() []byte { return r.data }

// Sync flushes mapped pages to disk, per spec.md §4.A's explicit sync.
func (r *ReadWrite) Sync() error {
	if r.data == nil {
		return nil
	}
	if err := unix.Msync(r.data, unix.MS_SYNC); err != nil {
		return fmt.Errorf("filearray: msync: %w", err)
	}
	return nil
}

// Close syncs, unmaps and closes the underlying file.
func (r *ReadWrite) Close() error {
	if err := r.Sync(); err != nil {
		return err
	}
	var errs []error
	if r.data != nil {
		if err := unix.Munmap(r.data); err != nil {
			errs = append(errs, err)
		}
	}
	if err := r.f.Close(); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return fmt.Errorf("filearray: close: %v", errs)
	}
	return nil
}
