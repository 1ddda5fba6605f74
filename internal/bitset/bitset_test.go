package bitset

import "testing"

func TestGetSetClear(t *testing.T) {
	b := New()
	if b.Get(100) {
		t.Fatal("expected false on unset/ungrown index")
	}
	b.Set(100)
	if !b.Get(100) {
		t.Fatal("expected true after Set")
	}
	b.Clear(100)
	if b.Get(100) {
		t.Fatal("expected false after Clear")
	}
}

func TestCountOnes(t *testing.T) {
	b := New()
	for _, i := range []uint{0, 1, 63, 64, 127, 1000} {
		b.Set(i)
	}
	if got := b.CountOnes(); got != 6 {
		t.Fatalf("CountOnes() = %d, want 6", got)
	}
}

func TestCountUntil(t *testing.T) {
	b := New()
	b.Set(2)
	b.Set(5)
	b.Set(70)
	if got := b.CountUntil(3); got != 1 {
		t.Fatalf("CountUntil(3) = %d, want 1", got)
	}
	if got := b.CountUntil(10); got != 2 {
		t.Fatalf("CountUntil(10) = %d, want 2", got)
	}
	if got := b.CountUntil(1000); got != 3 {
		t.Fatalf("CountUntil(1000) = %d, want 3", got)
	}
}

func TestFirstZero(t *testing.T) {
	b := New()
	b.Set(0)
	b.Set(1)
	i, err := b.FirstZero(0, 10)
	if err != nil || i != 2 {
		t.Fatalf("FirstZero = (%d, %v), want (2, nil)", i, err)
	}
	b2 := New()
	for i := uint(0); i < 5; i++ {
		b2.Set(i)
	}
	_, err = b2.FirstZero(0, 5)
	if err == nil {
		t.Fatal("expected error when range is exhausted")
	}
	if ee, ok := err.(errRangeExhausted); !ok || ee.End() != 5 {
		t.Fatalf("expected errRangeExhausted(5), got %v", err)
	}
}

func TestCompact(t *testing.T) {
	b := New()
	b.Set(5)
	b.words = append(b.words, 0, 0, 0)
	b.Compact()
	if len(b.words) != 1 {
		t.Fatalf("Compact left %d words, want 1", len(b.words))
	}
}

func TestBytesRoundTrip(t *testing.T) {
	b := New()
	b.Set(3)
	b.Set(130)
	raw := b.Bytes()
	b2 := FromBytes(raw)
	if !b2.Get(3) || !b2.Get(130) {
		t.Fatal("round trip through Bytes/FromBytes lost set bits")
	}
	if b2.Get(4) {
		t.Fatal("round trip set an unexpected bit")
	}
}
