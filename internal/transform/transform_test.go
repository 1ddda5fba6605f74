package transform

import (
	"math/rand"
	"testing"
)

func TestOrderPreserved(t *testing.T) {
	p := New(8, func(v int) int { return v * v })

	const n = 10000
	go func() {
		for i := 0; i < n; i++ {
			p.Submit(i)
		}
		p.Close()
	}()

	for i := 0; i < n; i++ {
		got, ok := p.Take()
		if !ok {
			t.Fatalf("Take() closed early at i=%d", i)
		}
		if got != i*i {
			t.Fatalf("Take() = %d, want %d", got, i*i)
		}
	}
	if _, ok := p.Take(); ok {
		t.Fatal("expected Take() to report closed after draining")
	}
}

func TestLatencyVariance(t *testing.T) {
	// Workers finish out of submission order; Take() must still observe
	// submission order.
	p := New(16, func(v int) int {
		// deterministic pseudo-jitter keyed on v, no sleeps.
		r := rand.New(rand.NewSource(int64(v)))
		busy := r.Intn(1000)
		sum := 0
		for i := 0; i < busy; i++ {
			sum += i
		}
		_ = sum
		return v
	})

	const n = 2000
	go func() {
		for i := 0; i < n; i++ {
			p.Submit(i)
		}
		p.Close()
	}()

	for i := 0; i < n; i++ {
		got, ok := p.Take()
		if !ok || got != i {
			t.Fatalf("Take() = (%d, %v), want (%d, true)", got, ok, i)
		}
	}
}
