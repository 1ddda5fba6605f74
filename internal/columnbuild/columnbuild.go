// Package columnbuild streams the range/ directory's shards through the
// ordered concurrent transform and assembles the dense hash.col and
// frequency.col files, per spec.md §4.I. Because ranges are processed in
// order and each shard's lines are already sorted (an upstream guarantee),
// the emitted hash column is globally sorted.
//
// The scan-then-build, bounded-in-flight-window driver shape is grounded
// on storage/shard.go's rebuild() (its own scan/build phases over main
// and delta storage, run to a progress line per column); here "scan" is
// decode-one-shard and "build" is append-to-column-file, and the scan
// phase runs on an internal/transform.Pipeline instead of inline loops so
// decode work (including decompression) is spread across worker
// goroutines while writes stay strictly ordered.
package columnbuild

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"github.com/ezekielnewren/hibpstore/internal/codec"
	"github.com/ezekielnewren/hibpstore/internal/rangeshard"
	"github.com/ezekielnewren/hibpstore/internal/transform"
)

// window bounds the number of ranges in flight between submit and take,
// per spec.md §4.I: "never keeping more than a bounded window wp - rp <=
// 1000 in flight."
const window = 1000

type shardResult struct {
	hashBytes []byte
	freqBytes []byte
	err       error
}

func decodeShard(dir string, r uint32) shardResult {
	path := filepath.Join(dir, rangeshard.Name(r))
	raw, err := os.ReadFile(path)
	if err != nil {
		return shardResult{err: fmt.Errorf("read %s: %w", path, err)}
	}
	hr, err := rangeshard.DecodeBytes(raw)
	if err != nil {
		return shardResult{err: fmt.Errorf("decode %s: %w", path, err)}
	}
	text, err := codec.DecodeByFormat(hr.Meta.Format, hr.Payload)
	if err != nil {
		return shardResult{err: fmt.Errorf("inflate %s: %w", path, err)}
	}

	var hashBytes, freqBytes []byte
	for _, line := range strings.Split(string(text), "\n") {
		line = strings.TrimRight(line, "\r")
		if line == "" {
			continue
		}
		hash, count, err := parseLine(r, line)
		if err != nil {
			return shardResult{err: fmt.Errorf("%s: %w", path, err)}
		}
		hashBytes = append(hashBytes, hash[:]...)
		var countLE [8]byte
		binary.LittleEndian.PutUint64(countLE[:], count)
		freqBytes = append(freqBytes, countLE[:]...)
	}
	return shardResult{hashBytes: hashBytes, freqBytes: freqBytes}
}

// parseLine decodes a "{27-hex-suffix}:{decimal count}" line into its
// full 16-byte hash (the range's own 5-hex top-20-bit prefix supplies
// the remaining digits: 5+27 = 32 hex digits = 16 bytes) and frequency
// count, per spec.md §4.I.
func parseLine(r uint32, line string) (hash [16]byte, count uint64, err error) {
	idx := strings.IndexByte(line, ':')
	if idx != 27 {
		err = fmt.Errorf("malformed line %q: suffix must be 27 hex characters", line)
		return
	}
	full := fmt.Sprintf("%05X", r) + line[:idx]
	decoded, decErr := hex.DecodeString(full)
	if decErr != nil || len(decoded) != 16 {
		err = fmt.Errorf("malformed line %q: bad hex hash", line)
		return
	}
	copy(hash[:], decoded)
	count, err = strconv.ParseUint(line[idx+1:], 10, 64)
	if err != nil {
		err = fmt.Errorf("malformed line %q: bad count: %w", line, err)
	}
	return
}

// Build reads every shard under rangeDir in range order and writes the
// concatenated hash and frequency columns to hashColPath/freqColPath,
// calling progress after each completed range, per spec.md §4.I.
func Build(rangeDir, hashColPath, freqColPath string, progress func(r uint32)) error {
	return buildRange(rangeDir, hashColPath, freqColPath, rangeshard.NumBuckets, progress)
}

// buildRange is Build with an explicit upper bound on the range sweep, so
// tests can exercise the pipeline without materialising all 2^20 shards.
func buildRange(rangeDir, hashColPath, freqColPath string, numRanges uint32, progress func(r uint32)) error {
	workers := runtime.GOMAXPROCS(0)
	if workers < 1 {
		workers = 1
	}
	pipeline := transform.New(workers, func(r uint32) shardResult {
		return decodeShard(rangeDir, r)
	})

	hashFile, err := os.Create(hashColPath)
	if err != nil {
		return fmt.Errorf("columnbuild: create %s: %w", hashColPath, err)
	}
	defer hashFile.Close()
	freqFile, err := os.Create(freqColPath)
	if err != nil {
		return fmt.Errorf("columnbuild: create %s: %w", freqColPath, err)
	}
	defer freqFile.Close()

	sem := make(chan struct{}, window)
	go func() {
		for r := uint32(0); r < numRanges; r++ {
			sem <- struct{}{}
			pipeline.Submit(r)
		}
		pipeline.Close()
	}()

	for r := uint32(0); r < numRanges; r++ {
		res, ok := pipeline.Take()
		<-sem
		if !ok {
			return fmt.Errorf("columnbuild: transform pipeline closed early at range %05X", r)
		}
		if res.err != nil {
			return fmt.Errorf("columnbuild: range %05X: %w", r, res.err)
		}
		if _, err := hashFile.Write(res.hashBytes); err != nil {
			return fmt.Errorf("columnbuild: write hash column: %w", err)
		}
		if _, err := freqFile.Write(res.freqBytes); err != nil {
			return fmt.Errorf("columnbuild: write frequency column: %w", err)
		}
		if progress != nil {
			progress(r)
		}
	}

	if err := hashFile.Sync(); err != nil {
		return fmt.Errorf("columnbuild: fsync %s: %w", hashColPath, err)
	}
	if err := freqFile.Sync(); err != nil {
		return fmt.Errorf("columnbuild: fsync %s: %w", freqColPath, err)
	}
	return nil
}
