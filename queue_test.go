// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package lfc_test

import (
	"errors"
	"sync"
	"testing"
	"time"

	"code.hybscloud.com/atomix"
	"code.hybscloud.com/iox"
	"code.hybscloud.com/lfc"
)

// =============================================================================
// Basic Operations
// =============================================================================

func TestQueueFIFO(t *testing.T) {
	for _, tc := range collectorCases() {
		t.Run(tc.name, func(t *testing.T) {
			q := lfc.NewQueue[int](tc.new())

			for i := 1; i <= 3; i++ {
				n, err := q.NewNode(i)
				if err != nil {
					t.Fatalf("NewNode(%d): %v", i, err)
				}
				q.Push(n)
			}

			for i := 1; i <= 3; i++ {
				n, err := q.Pop()
				if err != nil {
					t.Fatalf("Pop(%d): %v", i, err)
				}
				if n.Value != i {
					t.Fatalf("Pop(%d): got %d, want %d", i, n.Value, i)
				}
				n.Destroy()
			}

			if _, err := q.Pop(); !errors.Is(err, lfc.ErrWouldBlock) {
				t.Fatalf("Pop on empty: got %v, want ErrWouldBlock", err)
			}
			q.Close()
		})
	}
}

func TestQueueEmpty(t *testing.T) {
	q := lfc.BuildQueue[string](lfc.New())
	for range 3 {
		n, err := q.Pop()
		if n != nil || !lfc.IsWouldBlock(err) {
			t.Fatalf("Pop on empty: got (%v, %v), want (nil, ErrWouldBlock)", n, err)
		}
	}
	q.Close()
}

func TestQueueEnqueueDequeue(t *testing.T) {
	var fifo lfc.FIFO[int] = lfc.BuildQueue[int](lfc.New().Lazy())

	for i := range 100 {
		v := i * 10
		if err := fifo.Enqueue(&v); err != nil {
			t.Fatalf("Enqueue(%d): %v", i, err)
		}
	}
	for i := range 100 {
		v, err := fifo.Dequeue()
		if err != nil {
			t.Fatalf("Dequeue(%d): %v", i, err)
		}
		if v != i*10 {
			t.Fatalf("Dequeue(%d): got %d, want %d", i, v, i*10)
		}
	}
	if v, err := fifo.Dequeue(); !errors.Is(err, lfc.ErrWouldBlock) || v != 0 {
		t.Fatalf("Dequeue on empty: got (%d, %v), want (0, ErrWouldBlock)", v, err)
	}
	fifo.(*lfc.Queue[int]).Close()
}

func TestQueueInterleaved(t *testing.T) {
	q := lfc.BuildQueue[int](lfc.New())
	next, want := 0, 0
	for round := range 50 {
		for range round%4 + 1 {
			v := next
			next++
			if err := q.Enqueue(&v); err != nil {
				t.Fatalf("Enqueue: %v", err)
			}
		}
		for range round % 3 {
			v, err := q.Dequeue()
			if err != nil {
				break
			}
			if v != want {
				t.Fatalf("Dequeue: got %d, want %d", v, want)
			}
			want++
		}
	}
	for {
		v, err := q.Dequeue()
		if err != nil {
			break
		}
		if v != want {
			t.Fatalf("drain: got %d, want %d", v, want)
		}
		want++
	}
	if want != next {
		t.Fatalf("drained %d values, want %d", want, next)
	}
	q.Close()
}

func TestQueueDestroyUnpushedNode(t *testing.T) {
	a := lfc.NewLimitAllocator(1 << 20)
	q := lfc.BuildQueue[int](lfc.New().Allocator(a))
	base := a.InUse()

	n, err := q.NewNode(7)
	if err != nil {
		t.Fatalf("NewNode: %v", err)
	}
	if a.InUse() <= base {
		t.Fatalf("InUse after NewNode: got %d, want > %d", a.InUse(), base)
	}
	n.Destroy()
	if a.InUse() != base {
		t.Fatalf("InUse after Destroy: got %d, want %d", a.InUse(), base)
	}
	expectPanic(t, "Destroy twice", func() { n.Destroy() })
	q.Close()
}

func TestQueuePushForeignNodePanics(t *testing.T) {
	q1 := lfc.BuildQueue[int](lfc.New())
	q2 := lfc.BuildQueue[int](lfc.New())
	n, _ := q1.NewNode(1)
	expectPanic(t, "Push foreign node", func() { q2.Push(n) })
	expectPanic(t, "Push nil", func() { q2.Push(nil) })
	n.Destroy()
	q1.Close()
	q2.Close()
}

// =============================================================================
// Node Lifetime and Allocation
// =============================================================================

// TestQueueNodeRecycling bounds the arena to the dummy plus two nodes and
// checks that popped dummies return to it.
func TestQueueNodeRecycling(t *testing.T) {
	q := lfc.BuildQueue[int](lfc.New().Lazy().NodeLimit(3))

	a, err := q.NewNode(1)
	if err != nil {
		t.Fatalf("NewNode(a): %v", err)
	}
	b, err := q.NewNode(2)
	if err != nil {
		t.Fatalf("NewNode(b): %v", err)
	}
	if _, err := q.NewNode(3); !errors.Is(err, lfc.ErrAllocationFailed) {
		t.Fatalf("NewNode beyond limit: got %v, want ErrAllocationFailed", err)
	}

	q.Push(a)
	q.Push(b)

	// Popping a retires the initial dummy; the lazy collector reclaims it
	// when Pop's section ends.
	n, err := q.Pop()
	if err != nil || n.Value != 1 {
		t.Fatalf("Pop: got (%v, %v), want value 1", n, err)
	}
	n.Destroy()

	c, err := q.NewNode(3)
	if err != nil {
		t.Fatalf("NewNode after recycle: %v", err)
	}
	q.Push(c)

	for _, want := range []int{2, 3} {
		v, err := q.Dequeue()
		if err != nil || v != want {
			t.Fatalf("Dequeue: got (%d, %v), want %d", v, err, want)
		}
	}
	q.Close()
}

func TestQueueAllocatorAccounting(t *testing.T) {
	for _, tc := range collectorCases() {
		t.Run(tc.name, func(t *testing.T) {
			a := lfc.NewLimitAllocator(1 << 20)
			q := lfc.BuildQueue[[4]int](tc.builder().Allocator(a))

			for i := range 64 {
				v := [4]int{i}
				if err := q.Enqueue(&v); err != nil {
					t.Fatalf("Enqueue(%d): %v", i, err)
				}
			}
			for range 32 {
				if _, err := q.Dequeue(); err != nil {
					t.Fatalf("Dequeue: %v", err)
				}
			}
			q.Close()
			if a.InUse() != 0 {
				t.Fatalf("InUse after Close: got %d, want 0", a.InUse())
			}
		})
	}
}

func TestQueueAllocatorRefusal(t *testing.T) {
	expectPanic(t, "zero budget", func() {
		lfc.BuildQueue[int](lfc.New().Allocator(lfc.NewLimitAllocator(0)))
	})

	// Measure one node, then allow exactly the dummy and one more.
	probe := lfc.NewLimitAllocator(1 << 20)
	q0 := lfc.BuildQueue[int](lfc.New().Allocator(probe))
	nodeSize := probe.InUse()
	q0.Close()

	a := lfc.NewLimitAllocator(2 * nodeSize)
	q := lfc.BuildQueue[int](lfc.New().Allocator(a))
	v := 1
	if err := q.Enqueue(&v); err != nil {
		t.Fatalf("Enqueue within budget: %v", err)
	}
	if err := q.Enqueue(&v); !errors.Is(err, lfc.ErrAllocationFailed) {
		t.Fatalf("Enqueue beyond budget: got %v, want ErrAllocationFailed", err)
	}
	if a.InUse() != 2*nodeSize {
		t.Fatalf("InUse after refusal: got %d, want %d", a.InUse(), 2*nodeSize)
	}
	q.Close()
	if a.InUse() != 0 {
		t.Fatalf("InUse after Close: got %d, want 0", a.InUse())
	}
}

func TestQueueCloseReleasesNodes(t *testing.T) {
	for _, tc := range collectorCases() {
		t.Run(tc.name, func(t *testing.T) {
			c := tc.new()
			q := lfc.NewQueue[int](c)
			for i := range 10 {
				if err := q.Enqueue(&i); err != nil {
					t.Fatalf("Enqueue: %v", err)
				}
			}
			q.Close()
			if st := c.Stats(); st.Pending() != 0 {
				t.Fatalf("pending after Close: %+v", st)
			}
		})
	}
}

// =============================================================================
// Concurrency
// =============================================================================

// TestQueueConcurrentMPMC checks that every pushed value is popped exactly
// once and that each consumer sees every producer's values in push order.
func TestQueueConcurrentMPMC(t *testing.T) {
	if testing.Short() {
		t.Skip("skip: stress test")
	}
	if lfc.RaceEnabled {
		t.Skip("skip: lock-free algorithm uses cross-variable memory ordering")
	}

	for _, tc := range collectorCases() {
		t.Run(tc.name, func(t *testing.T) {
			const (
				numProducers = 8
				numConsumers = 8
				itemsPerProd = 2000
				totalItems   = numProducers * itemsPerProd
			)
			q := lfc.NewQueue[int](tc.new())
			seen := make([]atomix.Int64, totalItems)
			var consumed, outOfOrder atomix.Int64
			done := make(chan struct{})

			var prodWg sync.WaitGroup
			for p := range numProducers {
				prodWg.Add(1)
				go func(id int) {
					defer prodWg.Done()
					for i := range itemsPerProd {
						v := id*itemsPerProd + i
						if err := q.Enqueue(&v); err != nil {
							t.Errorf("Enqueue: %v", err)
							return
						}
					}
				}(p)
			}

			var consWg sync.WaitGroup
			for range numConsumers {
				consWg.Add(1)
				go func() {
					defer consWg.Done()
					last := make([]int, numProducers)
					for i := range last {
						last[i] = -1
					}
					backoff := iox.Backoff{}
					for consumed.Load() < totalItems {
						select {
						case <-done:
							return
						default:
						}
						v, err := q.Dequeue()
						if err != nil {
							backoff.Wait()
							continue
						}
						backoff.Reset()
						seen[v].Add(1)
						consumed.Add(1)
						p, seq := v/itemsPerProd, v%itemsPerProd
						if seq <= last[p] {
							outOfOrder.Add(1)
						}
						last[p] = seq
					}
				}()
			}

			finished := make(chan struct{})
			go func() {
				prodWg.Wait()
				consWg.Wait()
				close(finished)
			}()
			select {
			case <-finished:
			case <-time.After(30 * time.Second):
				close(done)
				t.Fatalf("timeout (consumed=%d)", consumed.Load())
			}

			var missing, duplicates int
			for i := range totalItems {
				switch n := seen[i].Load(); {
				case n == 0:
					missing++
				case n > 1:
					duplicates++
				}
			}
			if missing != 0 || duplicates != 0 {
				t.Fatalf("missing=%d duplicates=%d", missing, duplicates)
			}
			if outOfOrder.Load() != 0 {
				t.Fatalf("per-producer order violated %d times", outOfOrder.Load())
			}
			if _, err := q.Pop(); !errors.Is(err, lfc.ErrWouldBlock) {
				t.Fatalf("Pop after drain: got %v, want ErrWouldBlock", err)
			}
			q.Close()
		})
	}
}
