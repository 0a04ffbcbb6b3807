// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package lfc

import (
	"log/slog"
	"unsafe"

	"code.hybscloud.com/atomix"
	"code.hybscloud.com/lfc/internal/slab"
	"code.hybscloud.com/spin"
)

// Node is a reference-counted queue node carrying one value.
//
// A node is created with [Queue.NewNode] holding one reference owned by the
// caller. Push adds the queue's reference and the caller's travels with the
// node to whoever pops it; that goroutine reads Value and calls Destroy.
type Node[T any] struct {
	Value T

	next  atomix.Uint64 // ref toward the head (older)
	prev  atomix.Uint64 // ref toward the tail (newer)
	refs  atomix.Int64
	index uint32
	queue *Queue[T]
}

// Destroy drops the caller's reference. When no reference remains the node
// returns to its queue's arena and may be handed out again by NewNode.
//
// Destroy a node only after popping it, or if it was never pushed.
func (n *Node[T]) Destroy() {
	n.release()
}

func (n *Node[T]) release() {
	r := n.refs.AddAcqRel(-1)
	if r > 0 {
		return
	}
	if r < 0 {
		panic("lfc: node destroyed more times than referenced")
	}
	q := n.queue
	var zero T
	n.Value = zero
	n.queue = nil
	q.nodes.Free(n.index)
	q.alloc.Free(q.nodeSize)
}

// Queue is a lock-free multi-producer multi-consumer FIFO queue.
//
// The algorithm is the optimistic FIFO queue of Ladan-Mozes and Shavit.
// Nodes form a doubly linked list from tail to head. Push links the new node
// with a single CAS on tail and sets the back link afterwards; Pop follows the
// back link from the dummy head. A missing or stale back link is repaired by
// walking the forward links from tail (fix-list).
//
// Nodes live in an index-addressed arena. Links are (index, tag) pairs in a
// single atomix.Uint64; tags advance on every successful head and tail swap,
// so a recycled index cannot satisfy a stale CAS. Popped dummies are retired
// through the queue's [Collector], which keeps node memory valid for every
// Push and Pop still in flight.
//
// Memory: one node per element plus one dummy.
type Queue[T any] struct {
	_        pad
	head     atomix.Uint64 // ref of the dummy node
	_        padShort
	tail     atomix.Uint64 // ref of the newest node
	_        padShort
	nodes    *slab.Slab[Node[T]]
	gc       Collector
	alloc    Allocator
	log      *slog.Logger
	nodeSize int
	reclaim  Reclaimer
}

// NewQueue creates an empty queue that reclaims nodes through c.
//
// The queue takes ownership of c and closes it in [Queue.Close].
// Panics if c is nil.
func NewQueue[T any](c Collector) *Queue[T] {
	return newQueue[T](c, 0, nil, nil)
}

func newQueue[T any](c Collector, limit int, a Allocator, log *slog.Logger) *Queue[T] {
	if c == nil {
		panic("lfc: collector must not be nil")
	}
	if a == nil {
		a = unbounded{}
	}
	if log == nil {
		log = discardLogger
	}
	q := &Queue[T]{
		nodes:    slab.New[Node[T]](limit),
		gc:       c,
		alloc:    a,
		log:      log,
		nodeSize: int(unsafe.Sizeof(Node[T]{})),
	}
	q.reclaim = q.reclaimNode

	var zero T
	dummy, err := q.NewNode(zero)
	if err != nil {
		panic("lfc: cannot allocate queue sentinel")
	}
	q.head.StoreRelaxed(uint64(makeRef(dummy.index, 0)))
	q.tail.StoreRelease(uint64(makeRef(dummy.index, 0)))
	return q
}

// NewNode creates a node holding v with one reference owned by the caller.
// Returns ErrAllocationFailed if the node limit or the allocator refuses.
func (q *Queue[T]) NewNode(v T) (*Node[T], error) {
	if !q.alloc.Allocate(q.nodeSize) {
		q.log.Warn("lfc: queue node allocation refused", "bytes", q.nodeSize)
		return nil, ErrAllocationFailed
	}
	idx, n, ok := q.nodes.Alloc()
	if !ok {
		q.alloc.Free(q.nodeSize)
		q.log.Warn("lfc: queue node limit reached", "live", q.nodes.Allocated())
		return nil, ErrAllocationFailed
	}
	n.Value = v
	n.next.StoreRelaxed(0)
	n.prev.StoreRelaxed(0)
	n.index = idx
	n.queue = q
	n.refs.StoreRelease(1)
	return n, nil
}

// Push appends n at the tail. The queue takes its own reference to n; the
// caller's reference passes to the goroutine that eventually pops n.
//
// n must come from this queue's NewNode and must not be pushed twice.
func (q *Queue[T]) Push(n *Node[T]) {
	if n == nil || n.queue != q {
		panic("lfc: Push of foreign node")
	}
	n.refs.AddAcqRel(1)

	g := q.gc.Begin()
	sw := spin.Wait{}
	for {
		tail := ref(q.tail.LoadAcquire())
		n.next.StoreRelaxed(uint64(makeRef(tail.index(), tail.tag()+1)))
		if q.tail.CompareAndSwapAcqRel(uint64(tail), uint64(makeRef(n.index, tail.tag()+1))) {
			q.nodes.At(tail.index()).prev.StoreRelease(uint64(makeRef(n.index, tail.tag())))
			break
		}
		sw.Once()
	}
	g.End()
}

// Pop removes the oldest node. Returns (nil, ErrWouldBlock) if the queue is
// empty.
//
// The returned node carries the reference of the goroutine that created it;
// call Destroy after reading Value.
func (q *Queue[T]) Pop() (*Node[T], error) {
	g := q.gc.Begin()
	sw := spin.Wait{}
	for {
		head := ref(q.head.LoadAcquire())
		tail := ref(q.tail.LoadAcquire())
		first := ref(q.nodes.At(head.index()).prev.LoadAcquire())
		if head != ref(q.head.LoadAcquire()) {
			sw.Once()
			continue
		}
		if tail == head {
			g.End()
			return nil, ErrWouldBlock
		}
		if first.isNil() || first.tag() != head.tag() {
			q.fixList(tail, head)
			continue
		}
		if q.head.CompareAndSwapAcqRel(uint64(head), uint64(makeRef(first.index(), head.tag()+1))) {
			g.Manage(q.nodes.At(head.index()), q.reclaim)
			g.End()
			return q.nodes.At(first.index()), nil
		}
		sw.Once()
	}
}

// fixList rebuilds back links by walking forward links from tail to head.
func (q *Queue[T]) fixList(tail, head ref) {
	cur := tail
	for ref(q.head.LoadAcquire()) == head && cur != head {
		next := ref(q.nodes.At(cur.index()).next.LoadAcquire())
		if next.isNil() {
			return
		}
		q.nodes.At(next.index()).prev.StoreRelease(uint64(makeRef(cur.index(), cur.tag()-1)))
		cur = makeRef(next.index(), cur.tag()-1)
	}
}

func (q *Queue[T]) reclaimNode(item any) {
	n := item.(*Node[T])
	n.next.StoreRelaxed(0)
	n.prev.StoreRelaxed(0)
	n.release()
}

// Enqueue copies *elem into a new node and pushes it.
// Returns ErrAllocationFailed if no node could be allocated.
func (q *Queue[T]) Enqueue(elem *T) error {
	n, err := q.NewNode(*elem)
	if err != nil {
		return err
	}
	q.Push(n)
	return nil
}

// Dequeue pops the oldest element and destroys its node.
// Returns (zero-value, ErrWouldBlock) if the queue is empty.
func (q *Queue[T]) Dequeue() (T, error) {
	n, err := q.Pop()
	if err != nil {
		var zero T
		return zero, err
	}
	v := n.Value
	n.Destroy()
	return v, nil
}

// Close pops and destroys every remaining node, releases the dummy and
// closes the collector. No other goroutine may use the queue concurrently.
func (q *Queue[T]) Close() {
	for {
		n, err := q.Pop()
		if err != nil {
			break
		}
		n.Destroy()
	}
	head := ref(q.head.LoadAcquire())
	q.head.StoreRelaxed(0)
	q.tail.StoreRelaxed(0)
	q.gc.Close()
	q.nodes.At(head.index()).release()
}
