// Package transform implements the ordered concurrent transform pipeline
// spec.md §4.H describes: N workers apply a pure From -> To transform, and
// a consumer's take() calls observe results in exactly submission order
// regardless of per-item latency.
//
// The sequence-numbered min-heap plus mutex-and-condition-variables
// scheduling is grounded on the teacher's scm.Scheduler (scheduler.go),
// generalised from a time-ordered task heap (runAt, id) woken by a timer
// to a sequence-ordered result heap (seq, value) woken by worker
// completions; take() here plays the role the teacher's run() loop plays
// for its own heap head.
package transform

import (
	"container/heap"
	"sync"
)

// Transform is a pure function applied to each submitted item.
type Transform[From, To any] func(From) To

type item struct {
	seq int64
	val any
}

type itemHeap []item

func (h itemHeap) Len() int            { return len(h) }
func (h itemHeap) Less(i, j int) bool  { return h[i].seq < h[j].seq }
func (h itemHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *itemHeap) Push(x any)         { *h = append(*h, x.(item)) }
func (h *itemHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	*h = old[:n-1]
	return it
}

// Pipeline runs N workers over a Transform, preserving submission order
// between Submit and Take.
type Pipeline[From, To any] struct {
	fn Transform[From, To]

	in chan work[From]

	mu       sync.Mutex
	notReady *sync.Cond
	out      itemHeap
	nextRead int64
	nextSeq  int64
	closed   bool

	wg sync.WaitGroup
}

type work[From any] struct {
	seq int64
	val From
}

// New starts a Pipeline with workers goroutines applying fn. workers must
// be >= 1.
func New[From, To any](workers int, fn Transform[From, To]) *Pipeline[From, To] {
	if workers < 1 {
		workers = 1
	}
	p := &Pipeline[From, To]{
		fn: fn,
		in: make(chan work[From], workers*2),
	}
	p.notReady = sync.NewCond(&p.mu)
	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go p.worker()
	}
	return p
}

func (p *Pipeline[From, To]) worker() {
	defer p.wg.Done()
	for w := range p.in {
		result := p.fn(w.val)
		p.mu.Lock()
		heap.Push(&p.out, item{seq: w.seq, val: result})
		p.notReady.Broadcast()
		p.mu.Unlock()
	}
}

// Submit assigns the next monotonic sequence number to v and queues it for
// transformation. Submit is not safe to call concurrently with itself;
// the spec models a single sequential producer.
func (p *Pipeline[From, To]) Submit(v From) {
	p.mu.Lock()
	seq := p.nextSeq
	p.nextSeq++
	p.mu.Unlock()
	p.in <- work[From]{seq: seq, val: v}
}

// Close signals that no further items will be submitted. Close must be
// called exactly once, after the last Submit, for Take to observe the
// pipeline draining rather than blocking forever.
func (p *Pipeline[From, To]) Close() {
	close(p.in)
	go func() {
		p.wg.Wait()
		p.mu.Lock()
		p.closed = true
		p.notReady.Broadcast()
		p.mu.Unlock()
	}()
}

// Take blocks until the transformed value with the next expected sequence
// number is ready, then returns it. ok is false once the pipeline has been
// closed and fully drained.
func (p *Pipeline[From, To]) Take() (result To, ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for {
		if len(p.out) > 0 && p.out[0].seq == p.nextRead {
			it := heap.Pop(&p.out).(item)
			p.nextRead++
			return it.val.(To), true
		}
		if p.closed && len(p.out) == 0 {
			var zero To
			return zero, false
		}
		p.notReady.Wait()
	}
}
