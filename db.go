// Package hibpstore binds the columnar hash store, password journal and
// bitmap, and query engine into one addressable unit, per spec.md §4.M.
//
// The binding shape — a struct holding every column's open handle plus a
// mutex-guarded mutable section, with a save/rebuild lifecycle driven from
// one entry point — is grounded on storage/database.go's database/table
// binding (LoadDatabases opening every table's shards into one struct,
// save() publishing via an os.Create) and storage/mysql_import.go's
// fmt.Errorf("...: %w", err) wrapping style, generalised here into
// *StoreError via the errors in errors.go.
package hibpstore

import (
	"encoding/binary"
	"fmt"
	"math/bits"
	"os"
	"path/filepath"
	"sync"

	"github.com/dc0d/onexit"

	"github.com/ezekielnewren/hibpstore/internal/bitset"
	"github.com/ezekielnewren/hibpstore/internal/filearray"
	"github.com/ezekielnewren/hibpstore/internal/journal"
	"github.com/ezekielnewren/hibpstore/internal/pagecache"
	"github.com/ezekielnewren/hibpstore/internal/query"
)

const (
	hashRecordSize      = 16
	frequencyRecordSize = 8
	offsetRecordSize    = 8
	passwordColRecord   = 8
)

// PasswordUnknown is the password.col sentinel meaning "no observation
// recorded for this row", per spec.md §9's open-question resolution
// (single u64::MAX sentinel, not a mixed bool/u64 scheme).
const PasswordUnknown uint64 = ^uint64(0)

// Config configures Open. Dir is the database directory; if empty, the
// DBDIRECTORY environment variable is consulted, per spec.md §6
// ("Environment. DBDIRECTORY (tests only)").
type Config struct {
	Dir string
}

// resolveDir applies Config.Dir / DBDIRECTORY precedence.
func resolveDir(cfg Config) (string, error) {
	dir := cfg.Dir
	if dir == "" {
		dir = os.Getenv("DBDIRECTORY")
	}
	if dir == "" {
		return "", &StoreError{Kind: KindConsistency, Err: fmt.Errorf("no database directory supplied (Config.Dir or DBDIRECTORY)")}
	}
	return dir, nil
}

// DB is the open database façade: bound column files, the password
// journal and bitmap, and the derived prefix width, per spec.md §4.M.
type DB struct {
	dir string

	hash      *filearray.ReadOnly
	hashOff   *filearray.ReadOnly
	frequency *filearray.ReadOnly
	freqIdx   *filearray.ReadOnly

	// passwordCol is the large derived row->journal-offset index (nil
	// until built by RebuildPasswordIndex), per spec.md §4.M/§9.
	passwordCol *filearray.ReadOnly

	p uint8

	mu  sync.Mutex
	j   *journal.Journal
	bm  *bitset.BitSet
	end uint64
}

// Open binds every column file read-only, opens/replays the journal and
// bitmap, and derives the prefix width P, per spec.md §4.M's open(dir)
// steps 1-5.
func Open(cfg Config) (*DB, error) {
	dir, err := resolveDir(cfg)
	if err != nil {
		return nil, err
	}

	hash, err := filearray.Open(filepath.Join(dir, "hash.col"), hashRecordSize)
	if err != nil {
		return nil, consistencyErr(filepath.Join(dir, "hash.col"), err)
	}
	hashOff, err := filearray.Open(filepath.Join(dir, "hash_offset.bin"), offsetRecordSize)
	if err != nil {
		hash.Close()
		return nil, consistencyErr(filepath.Join(dir, "hash_offset.bin"), err)
	}
	frequency, err := filearray.Open(filepath.Join(dir, "frequency.col"), frequencyRecordSize)
	if err != nil {
		hash.Close()
		hashOff.Close()
		return nil, consistencyErr(filepath.Join(dir, "frequency.col"), err)
	}
	freqIdx, err := filearray.Open(filepath.Join(dir, "frequency.idx"), frequencyRecordSize)
	if err != nil {
		hash.Close()
		hashOff.Close()
		frequency.Close()
		return nil, consistencyErr(filepath.Join(dir, "frequency.idx"), err)
	}

	// password.col is an optional, large derived index: a freshly built
	// database has only password.bm until RebuildPasswordIndex runs, per
	// spec.md §9's open-question resolution.
	var passwordCol *filearray.ReadOnly
	if _, statErr := os.Stat(filepath.Join(dir, "password.col")); statErr == nil {
		passwordCol, err = filearray.Open(filepath.Join(dir, "password.col"), passwordColRecord)
		if err != nil {
			hash.Close()
			hashOff.Close()
			frequency.Close()
			freqIdx.Close()
			return nil, consistencyErr(filepath.Join(dir, "password.col"), err)
		}
	}

	// Derive P = minbit(|hash_offset|-2), per spec.md §4.M step 2: an
	// offset table of 2^P+1 entries has |hash_offset|-1 = 2^P buckets.
	var p uint8
	if n := hashOff.Len(); n >= 2 {
		p = minbit(uint64(n - 2))
	}

	closePartial := func() {
		hash.Close()
		hashOff.Close()
		frequency.Close()
		freqIdx.Close()
		if passwordCol != nil {
			passwordCol.Close()
		}
	}

	j, err := journal.Open(filepath.Join(dir, "password.bin"))
	if err != nil {
		closePartial()
		return nil, ioErr(filepath.Join(dir, "password.bin"), err)
	}

	end, bm, err := journal.LoadBitmap(filepath.Join(dir, "password.bm"))
	if err != nil {
		j.Close()
		closePartial()
		return nil, formatErr(filepath.Join(dir, "password.bm"), err)
	}

	newEnd, err := journal.Replay(j.File(), int64(end), func(index uint64, password []byte) error {
		bm.Set(uint(index))
		return nil
	})
	if err != nil {
		j.Close()
		closePartial()
		return nil, formatErr(filepath.Join(dir, "password.bin"), err)
	}
	if err := j.Truncate(newEnd); err != nil {
		j.Close()
		closePartial()
		return nil, ioErr(filepath.Join(dir, "password.bin"), err)
	}

	db := &DB{
		dir:         dir,
		hash:        hash,
		hashOff:     hashOff,
		frequency:   frequency,
		freqIdx:     freqIdx,
		passwordCol: passwordCol,
		p:           p,
		j:           j,
		bm:          bm,
		end:         uint64(newEnd),
	}

	// Best-effort commit on process exit, the same spirit as the
	// teacher's storage/settings.go onexit.Register call.
	onexit.Register(func() { _ = db.Commit() })

	return db, nil
}

func minbit(x uint64) uint8 {
	if x == 0 {
		return 1
	}
	b := uint8(64 - bits.LeadingZeros64(x))
	if b < 1 {
		return 1
	}
	return b
}

// N returns the row count of the hash column.
func (db *DB) N() int { return db.hash.Len() }

// P returns the derived prefix-bucket width.
func (db *DB) P() uint8 { return db.p }

// HashAt returns a borrowed view of the 16-byte big-endian hash at row i.
func (db *DB) HashAt(i int) []byte { return db.hash.Record(i) }

// FrequencyAt returns the observation count recorded for row i.
// frequency.col is little-endian, the same as columnbuild's
// countLE/frequency.idx writer and cmd/hibpstore's writeU64Column.
func (db *DB) FrequencyAt(i int) uint64 {
	return beUint64LE(db.frequency.Record(i))
}

// FrequencyIndexAt returns FI[k], the row index ranked k-th by
// (frequency desc, hash asc).
func (db *DB) FrequencyIndexAt(k int) uint64 {
	return beUint64LE(db.freqIdx.Record(k))
}

func beUint64LE(b []byte) uint64 {
	var x uint64
	for i := 7; i >= 0; i-- {
		x = x<<8 | uint64(b[i])
	}
	return x
}

// Find dispatches to the query engine, per spec.md §4.M's
// "find(key) dispatches to 4.L". When a prefix-offset table is bound,
// the prefix-bucketed search is used; otherwise the interpolation-search
// fallback applies.
func (db *DB) Find(key []byte) query.Result {
	if db.p > 0 && db.hashOff.Len() > 0 {
		// hash_offset.bin can be far larger than fits in a per-query
		// allocation at the spec's target corpus size, so read just the
		// two table entries FindPrefixedAt actually needs straight off
		// the memory-mapped column instead of materializing the whole
		// table on every call.
		offsetAt := func(b int) uint64 { return beUint64LE(db.hashOff.Record(b)) }
		return query.FindPrefixedAt(key, db.p, offsetAt, db.HashAt)
	}
	return query.FindInterpolated(key, db.N(), db.HashAt)
}

// PasswordObserved reports whether at least one password is known to
// hash to row i, per spec.md §3's password bitmap definition.
func (db *DB) PasswordObserved(i uint64) bool {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.bm.Get(uint(i))
}

// PasswordOffset returns the journal byte offset of row i's most recently
// observed password payload, and whether password.col has been built at
// all. A built index reports (PasswordUnknown, true) for a row with no
// observation, per spec.md §9's single-sentinel resolution.
func (db *DB) PasswordOffset(i uint64) (offset uint64, indexed bool) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.passwordCol == nil {
		return PasswordUnknown, false
	}
	if int(i) >= db.passwordCol.Len() {
		return PasswordUnknown, true
	}
	return beUint64LE(db.passwordCol.Record(int(i))), true
}

// RebuildPasswordIndex rebuilds password.col wholesale: for every
// (index, password) record in the journal, it records the journal byte
// offset of that row's password payload into a dense u64-per-row column
// file, written through the user-space page cache, per spec.md §4.M's
// "password-index build (offline, over large N)" operation. Rows never
// observed are left at the PasswordUnknown sentinel. This is the large,
// wholesale-rebuilt derived index; password.bm remains the small durable
// per-commit summary (spec.md §9).
func (db *DB) RebuildPasswordIndex() error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if err := db.j.Flush(); err != nil {
		return ioErr(db.path("password.bin"), err)
	}

	n := db.hash.Len()
	path := db.path("password.col")
	pageSize := pagecache.DefaultPageSize
	bytesNeeded := int64(n) * int64(passwordColRecord)
	pageCount := int(bytesNeeded / int64(pageSize))
	if bytesNeeded%int64(pageSize) != 0 {
		pageCount++
	}
	if pageCount == 0 {
		pageCount = 1
	}

	pc, err := pagecache.Open(path, pageCount)
	if err != nil {
		return ioErr(path, err)
	}

	for i := 0; i < n; i++ {
		if err := writePasswordOffset(pc, pageSize, i, PasswordUnknown); err != nil {
			pc.Close()
			return ioErr(path, err)
		}
	}

	_, err = journal.ReplayWithOffset(db.j.File(), 0, func(index uint64, password []byte, payloadOffset int64) error {
		if int(index) >= n {
			return nil
		}
		return writePasswordOffset(pc, pageSize, int(index), uint64(payloadOffset))
	})
	if err != nil {
		pc.Close()
		return formatErr(db.path("password.bin"), err)
	}

	if err := pc.Close(); err != nil {
		return ioErr(path, err)
	}

	if db.passwordCol != nil {
		_ = db.passwordCol.Close()
	}
	reopened, err := filearray.Open(path, passwordColRecord)
	if err != nil {
		db.passwordCol = nil
		return consistencyErr(path, err)
	}
	db.passwordCol = reopened
	return nil
}

// writePasswordOffset writes value into row's 8-byte slot via the page
// cache, assuming (as spec.md §4.B's default page/record sizes guarantee)
// that an 8-byte record never straddles a page boundary.
func writePasswordOffset(pc *pagecache.Cache, pageSize, row int, value uint64) error {
	byteOff := row * passwordColRecord
	pageID := byteOff / pageSize
	inPage := byteOff % pageSize
	page, err := pc.AtMut(pageID)
	if err != nil {
		return err
	}
	binary.LittleEndian.PutUint64(page[inPage:inPage+passwordColRecord], value)
	return nil
}

// Submit buffers a password observation for row i, per spec.md §4.M's
// submit(i, password): appends to the in-memory journal buffer and
// flushes to disk once the buffer crosses its threshold.
func (db *DB) Submit(i uint64, password []byte) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.j.Submit(i, password)
	db.bm.Set(uint(i))
	if db.j.ShouldFlush() {
		if err := db.j.Flush(); err != nil {
			return ioErr(db.path("password.bin"), err)
		}
	}
	return nil
}

// Commit flushes any buffered journal bytes, fsyncs the journal, and
// atomically republishes the bitmap snapshot, per spec.md §4.M's
// commit(). Calling Commit twice with no intervening Submit is a no-op
// beyond re-writing an identical bitmap file (spec.md §8's idempotence
// property).
func (db *DB) Commit() error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if err := db.j.Flush(); err != nil {
		return ioErr(db.path("password.bin"), err)
	}
	if err := db.j.Sync(); err != nil {
		return ioErr(db.path("password.bin"), err)
	}
	size, err := db.j.Size()
	if err != nil {
		return ioErr(db.path("password.bin"), err)
	}
	db.end = uint64(size)
	if err := journal.SaveBitmap(db.path("password.bm"), db.end, db.bm); err != nil {
		return ioErr(db.path("password.bm"), err)
	}
	return nil
}

func (db *DB) path(name string) string { return filepath.Join(db.dir, name) }

// Close commits outstanding state and releases every bound column file
// and the journal handle.
func (db *DB) Close() error {
	commitErr := db.Commit()
	var errs []error
	if commitErr != nil {
		errs = append(errs, commitErr)
	}
	if err := db.j.Close(); err != nil {
		errs = append(errs, ioErr(db.path("password.bin"), err))
	}
	if err := db.hash.Close(); err != nil {
		errs = append(errs, ioErr(db.path("hash.col"), err))
	}
	if err := db.hashOff.Close(); err != nil {
		errs = append(errs, ioErr(db.path("hash_offset.bin"), err))
	}
	if err := db.frequency.Close(); err != nil {
		errs = append(errs, ioErr(db.path("frequency.col"), err))
	}
	if err := db.freqIdx.Close(); err != nil {
		errs = append(errs, ioErr(db.path("frequency.idx"), err))
	}
	if db.passwordCol != nil {
		if err := db.passwordCol.Close(); err != nil {
			errs = append(errs, ioErr(db.path("password.col"), err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("hibpstore: close: %v", errs)
	}
	return nil
}
