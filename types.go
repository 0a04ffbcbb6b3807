// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package lfc

// Reclaimer releases an item once no critical section can still observe it.
//
// A Reclaimer runs exactly once per managed item, on whichever goroutine
// ends the critical section (or closes the collector) that makes the item
// unreachable. It must not block and must not open a critical section on
// the collector that invokes it.
type Reclaimer func(item any)

// Collector defers the release of retired items until every critical
// section that might still reference them has ended.
//
// A critical section is opened with Begin and closed with [Guard.End].
// Items retired with [Guard.Manage] inside a section are reclaimed no earlier
// than the end of every section that was open when they were retired, and
// exactly once.
//
// Two strategies are provided:
//   - [EpochCollector]: three rotating buckets and a global epoch. Retired
//     items are reclaimed two epochs later, even under continuous load.
//   - [LazyCollector]: one shared list reclaimed by the last goroutine to
//     leave. Cheaper, but nothing is reclaimed while any section is open.
//
// Example:
//
//	c := lfc.NewEpochCollector()
//	g := c.Begin()
//	old := swapOut(shared)
//	g.Manage(old, func(item any) { release(item.(*Resource)) })
//	g.End()
type Collector interface {
	// Begin opens a critical section. The returned guard belongs to the
	// calling goroutine until End is called on it.
	Begin() *Guard

	// Stats returns the number of items retired and reclaimed so far.
	Stats() CollectorStats

	// Close reclaims every pending item synchronously.
	// No critical section may be open.
	Close()
}

// FIFO is the combined producer-consumer interface of [Queue].
//
// The interface intentionally excludes length because accurate counts in
// lock-free algorithms require expensive cross-core synchronization.
type FIFO[T any] interface {
	Producer[T]
	Consumer[T]
}

// Producer is the interface for enqueueing elements.
//
// The element is passed by pointer to avoid copying large structs. The queue
// stores a copy of the pointed-to value, so the original can be modified
// after Enqueue returns.
type Producer[T any] interface {
	// Enqueue adds an element to the queue.
	// Returns nil on success, ErrAllocationFailed if no node could be
	// allocated.
	Enqueue(elem *T) error
}

// Consumer is the interface for dequeueing elements.
type Consumer[T any] interface {
	// Dequeue removes and returns the oldest element.
	// Returns (zero-value, ErrWouldBlock) if the queue is empty.
	Dequeue() (T, error)
}
