package query

import (
	"encoding/binary"
	"math/rand"
	"testing"
)

func hash16(hi, lo uint64) []byte {
	b := make([]byte, 16)
	binary.BigEndian.PutUint64(b[0:8], hi)
	binary.BigEndian.PutUint64(b[8:16], lo)
	return b
}

func buildSortedHashes(n int, seed int64) [][]byte {
	r := rand.New(rand.NewSource(seed))
	set := make(map[uint64]bool, n)
	his := make([]uint64, 0, n)
	for len(his) < n {
		v := r.Uint64()
		if set[v] {
			continue
		}
		set[v] = true
		his = append(his, v)
	}
	sortUint64s(his)
	out := make([][]byte, n)
	for i, hi := range his {
		out[i] = hash16(hi, uint64(i))
	}
	return out
}

func sortUint64s(s []uint64) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j-1] > s[j]; j-- {
			s[j-1], s[j] = s[j], s[j-1]
		}
	}
}

func TestFindPrefixedExact(t *testing.T) {
	hashes := buildSortedHashes(64, 1)
	hashAt := func(i int) []byte { return hashes[i] }
	p := uint8(3)
	offsets := make([]uint64, 1<<p+1)
	{
		numBuckets := 1 << p
		prev := 0
		for i := 0; i < len(hashes); i++ {
			b := int(topBitsBig(hashes[i], p))
			if b != prev {
				for k := prev + 1; k <= b; k++ {
					offsets[k] = uint64(i)
				}
				prev = b
			}
		}
		for k := prev + 1; k <= numBuckets; k++ {
			offsets[k] = uint64(len(hashes))
		}
	}

	for i, h := range hashes {
		res := FindPrefixed(h, p, offsets, hashAt)
		if !res.Found || res.Index != i {
			t.Fatalf("FindPrefixed(H[%d]) = %+v, want Found at %d", i, res, i)
		}
	}
}

func TestFindInterpolatedExact(t *testing.T) {
	hashes := buildSortedHashes(1000, 2)
	hashAt := func(i int) []byte { return hashes[i] }

	for i, h := range hashes {
		res := FindInterpolated(h, len(hashes), hashAt)
		if !res.Found || res.Index != i {
			t.Fatalf("FindInterpolated(H[%d]) = %+v, want Found at %d", i, res, i)
		}
	}
}

func TestFindInterpolatedBoundaries(t *testing.T) {
	hashes := buildSortedHashes(1000, 3)
	hashAt := func(i int) []byte { return hashes[i] }

	below := hash16(0, 0)
	if !beLess(below, hashes[0]) {
		t.Skip("synthetic key not below H[0], regenerate")
	}
	res := FindInterpolated(below, len(hashes), hashAt)
	if res.Found || res.Index != 0 {
		t.Fatalf("FindInterpolated(below) = %+v, want Err(0)", res)
	}

	above := hash16(^uint64(0), ^uint64(0))
	res = FindInterpolated(above, len(hashes), hashAt)
	if res.Found || res.Index != len(hashes) {
		t.Fatalf("FindInterpolated(above) = %+v, want Err(%d)", res, len(hashes))
	}
}

func beLess(a, b []byte) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}

func TestFindPrefixedMissingReturnsInsertPos(t *testing.T) {
	hashes := [][]byte{
		hash16(0x1000000000000000, 0),
		hash16(0x3000000000000000, 0),
	}
	hashAt := func(i int) []byte { return hashes[i] }
	p := uint8(4)
	offsets := make([]uint64, 1<<p+1)
	for k := range offsets {
		offsets[k] = 2
	}
	offsets[0] = 0
	offsets[1] = 0 // bucket 1 holds row 0
	offsets[2] = 1 // bucket 2 is empty; it and bucket 3 start at row 1
	offsets[3] = 1 // bucket 3 holds row 1

	key := hash16(0x2000000000000000, 0)
	res := FindPrefixed(key, p, offsets, hashAt)
	if res.Found || res.Index != 1 {
		t.Fatalf("FindPrefixed(missing) = %+v, want Err(1)", res)
	}
}
