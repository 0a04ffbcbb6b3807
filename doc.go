// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package lfc provides lock-free memory reclamation and the concurrent
// containers built on it.
//
// The package offers:
//
//   - Collector: deferred reclamation with epoch or lazy strategies
//   - Queue: unbounded multi-producer multi-consumer FIFO of nodes
//   - IndexMap: concurrently resizable array of fixed-size elements
//   - IDPool: fixed pool of small integer IDs
//
// # Quick Start
//
// Direct constructors:
//
//	q := lfc.NewQueue[Event](lfc.NewEpochCollector())
//	m := lfc.NewIndexMap(8, 64, lfc.NewEpochCollector())
//	p := lfc.NewIDPool(runtime.GOMAXPROCS(0))
//
// Builder API:
//
//	q := lfc.BuildQueue[Event](lfc.New())                      // epoch collector
//	q := lfc.BuildQueue[Event](lfc.New().Lazy())               // lazy collector
//	m := lfc.New().ElementSize(8).ChunkSize(64).BuildIndexMap()
//
// # Critical Sections
//
// A goroutine that reads shared memory which another goroutine may unlink
// brackets the access with Begin and End. Whatever is unlinked inside a
// section is handed to Manage together with a [Reclaimer]; the reclaimer runs
// once every section that could still observe the item has ended.
//
//	g := c.Begin()
//	old := table.swap(fresh)
//	g.Manage(old, func(item any) { pool.Put(item) })
//	g.End()
//
// Queue and IndexMap open and close their own sections; callers only choose
// the strategy.
//
// # Collector Strategies
//
// Epoch ([EpochCollector]):
//
//	Three buckets rotate with a global epoch. Items retired during epoch E
//	are reclaimed on the E+2 → E+3 transition. Memory stays bounded under
//	continuous load as long as every section eventually ends.
//
// Lazy ([LazyCollector]):
//
//	One shared list and a reader count. The last section to end reclaims
//	everything. Cheapest bookkeeping, but nothing is reclaimed while any
//	section is open.
//
// A section that never ends stops reclamation in both strategies.
//
// # Queue
//
// [Queue] stores values in reference-counted nodes:
//
//	n, err := q.NewNode(ev)   // caller holds one reference
//	q.Push(n)                 // reference travels with the node
//
//	n, err := q.Pop()
//	if err == nil {
//	    handle(n.Value)
//	    n.Destroy()           // drop the travelling reference
//	}
//
// Enqueue and Dequeue wrap these steps for value-oriented callers.
// Pop returns [ErrWouldBlock] on an empty queue.
//
// # IndexMap
//
// [IndexMap] elements are opaque byte strings of a fixed size:
//
//	m := lfc.NewIndexMap(8, 16, lfc.NewEpochCollector())
//	i, err := m.Append(elem)
//	ok := m.Replace(i, next, prev)
//	ok = m.ReplaceExact(i, want, expect)
//	ok = m.Get(i, out)
//
// Point operations never wait for a resize. Append, Insert and Remove build
// new data blocks and may wait for in-flight writers to leave the old one.
// Get and Replace complete in a bounded number of steps unless resizes keep
// completing underneath them. Structural operations are lock-free: a writer
// descheduled inside a block delays resizes of that block until it leaves.
//
// # Allocation
//
// Nodes and data blocks are admitted by an [Allocator]. The default admits
// everything; [LimitAllocator] enforces a byte budget so that
// [ErrAllocationFailed] is observable:
//
//	a := lfc.NewLimitAllocator(64 << 10)
//	m := lfc.New().ElementSize(8).Allocator(a).BuildIndexMap()
//
// Refused allocations are reported through the logger set with
// Builder.Logger, which discards by default.
//
// # Error Handling
//
// Empty queues and exhausted ID pools return [ErrWouldBlock], sourced from
// [code.hybscloud.com/iox]:
//
//	lfc.IsWouldBlock(err)  // true if queue empty or pool exhausted
//	lfc.IsSemantic(err)    // true if control flow signal
//	lfc.IsNonFailure(err)  // true if nil or ErrWouldBlock
//
// Contention is retried internally and never surfaced. Recycling an
// unassigned ID panics. A guard must not be touched after End: it returns to
// a pool, and a second End or Manage panics only until the pool hands it out
// again.
//
// # Race Detection
//
// Node payloads and retired entries are published through acquire-release
// operations on separate atomix words. The race detector cannot observe
// these orderings and may report false positives; concurrent tests check
// [RaceEnabled] and skip.
//
// # Dependencies
//
// This package uses [code.hybscloud.com/atomix] for atomic primitives with
// explicit memory ordering, [code.hybscloud.com/spin] for CPU pause
// instructions, [code.hybscloud.com/iox] for semantic errors and backoff, and
// [golang.org/x/sys/cpu] for 128-bit CAS detection.
package lfc
