// Package query implements the exact-match lookup routines spec.md §4.L
// describes over the sorted hash column: a prefix-bucketed binary search
// when a prefix-offset table is available, and an interpolation search
// fallback that exploits the near-uniform distribution of MD4-derived
// 128-bit keys.
//
// The prefix-then-binary-search shape is grounded on sort.Search's
// well-known idiom, the same idiom storage/index.go's iterate() reaches
// for (sort.Slice) elsewhere in the teacher's indexing code; the
// interpolation-search variant has no direct analogue in the teacher or
// the rest of the retrieval pack and is implemented directly from
// spec.md §4.L's doubling-bracket-then-binary-search description.
package query

import (
	"bytes"
	"math/big"
	"sort"
)

// HashAt returns a borrowed view of the 16-byte big-endian hash at row i.
type HashAt func(i int) []byte

// Result is the outcome of a lookup: either the row index of an exact
// match, or the insertion position the key would occupy if absent.
type Result struct {
	Index int
	Found bool
}

// OffsetAt returns the prefix-offset table entry O[b], borrowed from
// wherever the table is backed (an in-memory slice, or a single record
// read out of a memory-mapped file).
type OffsetAt func(b int) uint64

// FindPrefixed performs a prefix-bucketed binary search: it computes the
// bucket from the top bits of key via the supplied offset table, then
// binary-searches within the bucket's [lo, hi) row range, per spec.md
// §4.L step 1-2.
func FindPrefixed(key []byte, p uint8, offsets []uint64, hashAt HashAt) Result {
	return FindPrefixedAt(key, p, func(b int) uint64 { return offsets[b] }, hashAt)
}

// FindPrefixedAt is FindPrefixed against an OffsetAt accessor instead of a
// materialized slice: it reads only O[b] and O[b+1], the two offset-table
// entries the bucket lookup actually needs, rather than requiring the
// whole table in memory. This is the form the façade uses against a
// memory-mapped hash_offset.bin, where the table can be far larger than
// fits comfortably in a per-query allocation.
func FindPrefixedAt(key []byte, p uint8, offsetAt OffsetAt, hashAt HashAt) Result {
	b := int(topBitsBig(key, p))
	lo := int(offsetAt(b))
	hi := int(offsetAt(b + 1))
	return binarySearchRange(key, lo, hi, hashAt)
}

func topBitsBig(key []byte, p uint8) uint64 {
	hi := beUint64(key[0:8])
	if p >= 64 {
		return hi
	}
	return hi >> (64 - p)
}

func beUint64(b []byte) uint64 {
	var x uint64
	for _, c := range b {
		x = x<<8 | uint64(c)
	}
	return x
}

func binarySearchRange(key []byte, lo, hi int, hashAt HashAt) Result {
	idx := lo + sort.Search(hi-lo, func(i int) bool {
		return bytes.Compare(hashAt(lo+i), key) >= 0
	})
	if idx < hi && bytes.Equal(hashAt(idx), key) {
		return Result{Index: idx, Found: true}
	}
	return Result{Index: idx, Found: false}
}

// FindInterpolated performs the interpolation-search variant: it
// extrapolates a starting guess from key's magnitude relative to the full
// 128-bit key space and the column length n, then doubles a search window
// outward from the guess until it brackets key, and finally binary-
// searches the bracket, per spec.md §4.L.
func FindInterpolated(key []byte, n int, hashAt HashAt) Result {
	if n == 0 {
		return Result{Index: 0, Found: false}
	}

	guess := interpolateGuess(key, n)

	if bytes.Equal(hashAt(guess), key) {
		return Result{Index: guess, Found: true}
	}

	lo, hi := guess, guess
	step := 1
	cmp := bytes.Compare(hashAt(guess), key)
	if cmp < 0 {
		// key is to the right: expand hi outward.
		for hi < n-1 {
			next := hi + step
			if next >= n {
				next = n - 1
			}
			hi = next
			if bytes.Compare(hashAt(hi), key) >= 0 {
				break
			}
			step *= 2
		}
	} else {
		// key is to the left: expand lo outward.
		for lo > 0 {
			next := lo - step
			if next < 0 {
				next = 0
			}
			lo = next
			if bytes.Compare(hashAt(lo), key) <= 0 {
				break
			}
			step *= 2
		}
	}
	return binarySearchRange(key, lo, hi+1, hashAt)
}

// interpolateGuess computes floor(key * n / 2^128), clamped to [0, n-1],
// the linear extrapolation spec.md §4.L specifies as "key / m" with slope
// m ≈ 2^128 / N.
func interpolateGuess(key []byte, n int) int {
	keyInt := new(big.Int).SetBytes(key)
	nBig := big.NewInt(int64(n))
	num := new(big.Int).Mul(keyInt, nBig)
	denom := new(big.Int).Lsh(big.NewInt(1), 128)
	guess := new(big.Int).Div(num, denom)
	g := int(guess.Int64())
	if g < 0 {
		g = 0
	}
	if g >= n {
		g = n - 1
	}
	return g
}
