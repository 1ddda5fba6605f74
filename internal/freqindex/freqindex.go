// Package freqindex implements the two offline index-derivation steps
// spec.md describes in §4.J (prefix-offset computation) and §4.K
// (frequency-index sort): choosing the bucket prefix width P and the
// O[0..2^P] offset table over the sorted hash column, and the permutation
// FI sorting rows by (frequency desc, hash asc).
//
// The "fill tmp with natural order, then sort.Slice by a derived key"
// shape is grounded on storage/index.go's iterate(), which likewise fills
// tmp[i]=i before sorting it by the comparator for the requested columns;
// here the comparator is a fixed (frequency desc, hash asc) rule instead
// of a caller-supplied column list.
package freqindex

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math/bits"
	"sort"
)

// MinBit returns max(1, 64 - leading_zeros(x)), per spec.md §4.C's minbit.
func MinBit(x uint64) uint8 {
	if x == 0 {
		return 1
	}
	b := uint8(64 - bits.LeadingZeros64(x))
	if b < 1 {
		return 1
	}
	return b
}

// TopBits returns the top p bits of a 16-byte big-endian hash as a uint64.
// p must be in [1, 64].
func TopBits(hash []byte, p uint8) uint64 {
	hi := binary.BigEndian.Uint64(hash[0:8])
	if p >= 64 {
		return hi
	}
	return hi >> (64 - p)
}

// HashAt returns a borrowed view of the 16-byte hash at row i.
type HashAt func(i int) []byte

func isContiguous(n int, p uint8, hashAt HashAt) bool {
	if n == 0 {
		return true
	}
	prev := TopBits(hashAt(0), p)
	for i := 1; i < n; i++ {
		cur := TopBits(hashAt(i), p)
		if cur < prev {
			return false
		}
		prev = cur
	}
	return true
}

// ChooseP picks the largest prefix width P, starting from minbit(n) and
// decrementing, such that every non-empty bucket of top-P bits is
// contiguous in the (already sorted) hash column, per spec.md §4.J.
func ChooseP(n int, hashAt HashAt) uint8 {
	p := MinBit(uint64(n))
	if p > 63 {
		p = 63 // 2^64 buckets is not representable as an offset-table size
	}
	for p > 1 && !isContiguous(n, p, hashAt) {
		p--
	}
	return p
}

// ComputeOffsets builds O[0..2^P] over the sorted hash column: O[b] is the
// first row index whose top-P bits equal b, per spec.md §4.J's sweep.
func ComputeOffsets(n int, p uint8, hashAt HashAt) ([]uint64, error) {
	if p == 0 || p > 63 {
		return nil, fmt.Errorf("freqindex: invalid prefix width %d", p)
	}
	numBuckets := 1 << p
	offsets := make([]uint64, numBuckets+1)
	prevBucket := 0
	for i := 0; i < n; i++ {
		b := int(TopBits(hashAt(i), p))
		if b < prevBucket {
			return nil, fmt.Errorf("freqindex: hash column not sorted at row %d", i)
		}
		if b != prevBucket {
			for k := prevBucket + 1; k <= b; k++ {
				offsets[k] = uint64(i)
			}
			prevBucket = b
		}
	}
	for k := prevBucket + 1; k <= numBuckets; k++ {
		offsets[k] = uint64(n)
	}
	return offsets, nil
}

// FreqAt returns the frequency count at row i.
type FreqAt func(i int) uint64

// Sort returns a permutation FI of [0, n) ordered by (F[i] desc, H[i] asc),
// per spec.md §4.K. Ties in frequency are broken by ascending hash, which
// makes the result deterministic.
func Sort(n int, freqAt FreqAt, hashAt HashAt) []uint64 {
	fi := make([]uint64, n)
	for i := range fi {
		fi[i] = uint64(i)
	}
	sort.Slice(fi, func(i, j int) bool {
		a, b := fi[i], fi[j]
		fa, fb := freqAt(int(a)), freqAt(int(b))
		if fa != fb {
			return fa > fb
		}
		return bytes.Compare(hashAt(int(a)), hashAt(int(b))) < 0
	})
	return fi
}
