// Command hibpstore is the CLI front end for the columnar hash store,
// spec.md §6's "CLI surface (external collaborator; informative only)":
// a thin flag-based dispatcher over four subcommands (update, construct,
// ingest, left) that opens a hibpstore.DB and calls into the core
// package. No business logic lives here, matching the teacher's own
// choice not to pull in a flag-parsing library for its own (REPL-only)
// command surface.
package main

import (
	"bufio"
	"context"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/ezekielnewren/hibpstore"
	"github.com/ezekielnewren/hibpstore/internal/columnbuild"
	"github.com/ezekielnewren/hibpstore/internal/fetcher"
	"github.com/ezekielnewren/hibpstore/internal/filearray"
	"github.com/ezekielnewren/hibpstore/internal/freqindex"

	units "github.com/docker/go-units"
)

// HashPassword hashes a candidate password into its 16-byte big-endian
// key. Computing an MD4-of-UTF-16LE digest is, per spec.md §1, "treated as
// an external collaborator... specified only at its interface" — this
// variable is that interface. The default implementation is a stub; a
// real build wires in the actual hashing routine before calling ingest.
var HashPassword = func(password []byte) ([16]byte, error) {
	return [16]byte{}, errors.New("hibpstore: no password hashing routine wired (spec.md §1 out-of-scope interface)")
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	var err error
	switch os.Args[1] {
	case "update":
		err = runUpdate(os.Args[2:])
	case "construct":
		err = runConstruct(os.Args[2:])
	case "ingest":
		err = runIngest(os.Args[2:])
	case "left":
		err = runLeft(os.Args[2:])
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "hibpstore:", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: hibpstore <update|construct|ingest|left> [flags]")
}

func dirFlag(fs *flag.FlagSet) *string {
	return fs.String("dir", os.Getenv("DBDIRECTORY"), "database directory")
}

// runUpdate is spec.md §6's "update (fetch + columns + password-metadata)".
func runUpdate(args []string) error {
	fs := flag.NewFlagSet("update", flag.ExitOnError)
	dir := dirFlag(fs)
	baseURL := fs.String("baseurl", "", "corpus base URL template with one %05X verb")
	limit0 := fs.Int("limit0", fetcher.DefaultLimit0, "download concurrency cap")
	limit1 := fs.Int("limit1", fetcher.DefaultLimit1, "compaction worker cap")
	fs.Parse(args)
	if *dir == "" || *baseURL == "" {
		return errors.New("update: -dir and -baseurl are required")
	}

	ft := fetcher.New(*baseURL, filepath.Join(*dir, "range"), http.DefaultClient)
	ft.Limit0 = *limit0
	ft.Limit1 = *limit1
	ft.Progress = progressEvery(5000, "fetched")
	if err := ft.Run(context.Background()); err != nil {
		return fmt.Errorf("fetch: %w", err)
	}

	if err := buildColumns(*dir); err != nil {
		return err
	}
	return rebuildPasswordMetadata(*dir)
}

// runConstruct is spec.md §6's "construct (columns only)".
func runConstruct(args []string) error {
	fs := flag.NewFlagSet("construct", flag.ExitOnError)
	dir := dirFlag(fs)
	fs.Parse(args)
	if *dir == "" {
		return errors.New("construct: -dir is required")
	}
	return buildColumns(*dir)
}

// buildColumns runs the column builder (4.I), then derives the
// prefix-offset table (4.J) and the frequency-index permutation (4.K)
// wholesale, per spec.md's "Non-goals: no incremental re-sort."
func buildColumns(dir string) error {
	hashColPath := filepath.Join(dir, "hash.col")
	freqColPath := filepath.Join(dir, "frequency.col")

	if err := columnbuild.Build(filepath.Join(dir, "range"), hashColPath, freqColPath, progressEvery(65536, "columns")); err != nil {
		return fmt.Errorf("build columns: %w", err)
	}

	hashCol, err := filearray.Open(hashColPath, 16)
	if err != nil {
		return fmt.Errorf("open hash.col: %w", err)
	}
	defer hashCol.Close()
	freqCol, err := filearray.Open(freqColPath, 8)
	if err != nil {
		return fmt.Errorf("open frequency.col: %w", err)
	}
	defer freqCol.Close()

	n := hashCol.Len()
	hashAt := func(i int) []byte { return hashCol.Record(i) }
	freqAt := func(i int) uint64 { return binary.LittleEndian.Uint64(freqCol.Record(i)) }

	p := freqindex.ChooseP(n, hashAt)
	offsets, err := freqindex.ComputeOffsets(n, p, hashAt)
	if err != nil {
		return fmt.Errorf("compute prefix offsets: %w", err)
	}
	if err := writeU64Column(filepath.Join(dir, "hash_offset.bin"), offsets); err != nil {
		return fmt.Errorf("write hash_offset.bin: %w", err)
	}

	fi := freqindex.Sort(n, freqAt, hashAt)
	if err := writeU64Column(filepath.Join(dir, "frequency.idx"), fi); err != nil {
		return fmt.Errorf("write frequency.idx: %w", err)
	}

	fmt.Printf("columns built: N=%d P=%d hash.col=%s frequency.col=%s\n",
		n, p, units.HumanSize(float64(n)*16), units.HumanSize(float64(n)*8))
	return nil
}

func writeU64Column(path string, values []uint64) error {
	col, err := filearray.Create(path, len(values), 8)
	if err != nil {
		return err
	}
	for i, v := range values {
		binary.LittleEndian.PutUint64(col.Record(i), v)
	}
	if err := col.Sync(); err != nil {
		col.Close()
		return err
	}
	return col.Close()
}

func rebuildPasswordMetadata(dir string) error {
	db, err := hibpstore.Open(hibpstore.Config{Dir: dir})
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer db.Close()
	if err := db.RebuildPasswordIndex(); err != nil {
		return fmt.Errorf("rebuild password index: %w", err)
	}
	return db.Commit()
}

// runIngest is spec.md §6's "ingest (stream passwords on stdin, accumulate
// journal)": each stdin line is a candidate cleartext password; it is
// hashed, looked up, and on a hit recorded as an observation against its
// row, mirroring hibp/src/main.rs's go3() read/hash/find loop.
func runIngest(args []string) error {
	fs := flag.NewFlagSet("ingest", flag.ExitOnError)
	dir := dirFlag(fs)
	fs.Parse(args)
	if *dir == "" {
		return errors.New("ingest: -dir is required")
	}

	db, err := hibpstore.Open(hibpstore.Config{Dir: *dir})
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer db.Close()

	start := time.Now()
	var lines, found, miss, invalid uint64
	sc := bufio.NewScanner(os.Stdin)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		lines++
		line := sc.Bytes()
		key, hashErr := HashPassword(line)
		if hashErr != nil {
			invalid++
			continue
		}
		res := db.Find(key[:])
		if !res.Found {
			miss++
			continue
		}
		found++
		password := make([]byte, len(line))
		copy(password, line)
		if err := db.Submit(uint64(res.Index), password); err != nil {
			return fmt.Errorf("submit: %w", err)
		}
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("read stdin: %w", err)
	}
	if err := db.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	seconds := time.Since(start).Seconds()
	var rate float64
	if seconds > 0 {
		rate = float64(lines) / seconds
	}
	fmt.Printf("lines: %d, invalid: %d, found: %d, miss: %d\n", lines, invalid, found, miss)
	fmt.Printf("rate: %.0f/s\n", rate)
	return nil
}

// runLeft is spec.md §6's "left (emit remaining known-pwned hashes not yet
// observed, sorted by frequency desc)": walks the frequency-index
// permutation, the order the corpus is intended to be reported in, and
// skips every row with at least one recorded observation.
func runLeft(args []string) error {
	fs := flag.NewFlagSet("left", flag.ExitOnError)
	dir := dirFlag(fs)
	fs.Parse(args)
	if *dir == "" {
		return errors.New("left: -dir is required")
	}

	db, err := hibpstore.Open(hibpstore.Config{Dir: *dir})
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer db.Close()

	w := bufio.NewWriter(os.Stdout)
	defer w.Flush()

	n := db.N()
	for k := 0; k < n; k++ {
		row := db.FrequencyIndexAt(k)
		if db.PasswordObserved(row) {
			continue
		}
		fmt.Fprintf(w, "%s:%d\n", hex.EncodeToString(db.HashAt(int(row))), db.FrequencyAt(int(row)))
	}
	return nil
}

// progressEvery returns a progress callback that logs every interval
// completions, the same coarse periodic-log idiom the teacher's import
// paths use to avoid flooding stdout on large corpora.
func progressEvery(interval uint32, label string) func(r uint32) {
	return func(r uint32) {
		if r%interval == 0 {
			fmt.Printf("%s: range %05X\n", label, r)
		}
	}
}
