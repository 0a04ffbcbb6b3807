// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package lfc

import (
	"log/slog"
	"sync/atomic"
	"unsafe"

	"code.hybscloud.com/atomix"
	"code.hybscloud.com/spin"
)

// IndexMap is a concurrently resizable array of fixed-size elements.
//
// Elements are byte strings of ElementSize bytes addressed by a dense index.
// Get, Replace and ReplaceExact act on one slot of the current data block
// with a single atomic operation. Append claims the first free slot past the
// count, growing the block by ChunkSize slots when it is full. Insert and
// Remove shift elements by building a new block and swapping it in.
//
// Storage depends on the element size:
//   - up to 7 bytes: inline in an atomix.Uint64 slot
//   - up to 15 bytes: inline in an atomix.Uint128 slot, where the CPU
//     provides a lock-free 128-bit CAS
//   - otherwise: an immutable heap copy per element; replaced copies are
//     retired through the collector
//
// Resizes copy into a new block and seal the old one. Every block carries a
// gate word:
//
//	[mutate:32][sealed:1][modify:31]
//
// In-place writers increment modify on entry and convert it into a mutate
// bump on exit. A resizer seals the block with a CAS that expects modify == 0
// and the mutate value it saw before copying, so a copy that raced with any
// writer is discarded. Writers that find the block sealed follow its
// forwarding pointer to the successor. Old blocks are retired through the
// collector.
//
// Get, Replace and ReplaceExact never retry because of each other: they take
// one hop per resize that completes while they run, then act with a single
// swap or CAS. Append, Insert and Remove are lock-free: a resizer waits for
// in-flight writers to leave the block.
type IndexMap struct {
	impl     indexStore
	elemSize int
	chunk    int
}

// indexStore is implemented by blockMap for each slot strategy.
type indexStore interface {
	append(elem []byte) (int, error)
	replace(i int, elem, old []byte) bool
	replaceExact(i int, elem, match []byte) bool
	insert(i int, elem []byte) error
	remove(i int, removed []byte) error
	get(i int, out []byte) bool
	count() int
	capacity() int
	close()
}

// NewIndexMap creates an empty map of elementSize-byte elements that grows by
// chunkSize slots and reclaims through c.
//
// The map takes ownership of c and closes it in [IndexMap.Close].
// Panics if elementSize < 1, chunkSize < 1, or c is nil.
func NewIndexMap(elementSize, chunkSize int, c Collector) *IndexMap {
	return newIndexMap(elementSize, chunkSize, c, nil, nil)
}

func newIndexMap(elementSize, chunkSize int, c Collector, a Allocator, log *slog.Logger) *IndexMap {
	if elementSize < 1 {
		panic("lfc: element size must be >= 1")
	}
	if chunkSize < 1 {
		panic("lfc: chunk size must be >= 1")
	}
	if c == nil {
		panic("lfc: collector must not be nil")
	}
	if a == nil {
		a = unbounded{}
	}
	if log == nil {
		log = discardLogger
	}

	m := &IndexMap{elemSize: elementSize, chunk: chunkSize}
	switch {
	case elementSize <= narrowPayload:
		m.impl = newBlockMap[atomix.Uint64](narrowOps{}, chunkSize, c, a, log)
	case elementSize <= widePayload && wideSlots:
		m.impl = newBlockMap[atomix.Uint128](wideOps{}, chunkSize, c, a, log)
	default:
		m.impl = newBlockMap[atomic.Pointer[box]](newBoxedOps(elementSize), chunkSize, c, a, log)
	}
	return m
}

func (m *IndexMap) check(elem []byte) {
	if len(elem) != m.elemSize {
		panic("lfc: element length does not match element size")
	}
}

func (m *IndexMap) checkOut(out []byte) {
	if out != nil && len(out) != m.elemSize {
		panic("lfc: buffer length does not match element size")
	}
}

// Append stores a copy of elem at the first free index at or past the count
// and returns that index. Concurrent appends get distinct indices.
//
// Returns (-1, ErrAllocationFailed) if a full block could not grow.
// Panics if len(elem) != ElementSize().
func (m *IndexMap) Append(elem []byte) (int, error) {
	m.check(elem)
	return m.impl.append(elem)
}

// Replace overwrites the element at i and copies the previous element into
// old when old is non-nil. It reports false, changing nothing, if i holds no
// element.
func (m *IndexMap) Replace(i int, elem, old []byte) bool {
	m.check(elem)
	m.checkOut(old)
	return m.impl.replace(i, elem, old)
}

// ReplaceExact overwrites the element at i only if it currently equals match.
// Among concurrent ReplaceExact calls with the same match exactly one
// succeeds.
func (m *IndexMap) ReplaceExact(i int, elem, match []byte) bool {
	m.check(elem)
	m.check(match)
	return m.impl.replaceExact(i, elem, match)
}

// Insert places elem at i, shifting elements at i and above up by one.
// i may equal the count. Returns ErrIndexOutOfRange if i > count and
// ErrAllocationFailed if the new block could not be allocated.
func (m *IndexMap) Insert(i int, elem []byte) error {
	m.check(elem)
	return m.impl.insert(i, elem)
}

// Remove deletes the element at i, shifting the elements above it down by one,
// and copies the removed element into removed when it is non-nil.
// Returns ErrIndexOutOfRange if i >= count and ErrAllocationFailed if the new
// block could not be allocated.
func (m *IndexMap) Remove(i int, removed []byte) error {
	m.checkOut(removed)
	return m.impl.remove(i, removed)
}

// Get copies the element at i into out and reports whether i holds one.
// Get never blocks and never waits for a resize.
func (m *IndexMap) Get(i int, out []byte) bool {
	m.checkOut(out)
	return m.impl.get(i, out)
}

// Len returns the element count. The value is advisory under concurrent
// modification.
func (m *IndexMap) Len() int {
	return m.impl.count()
}

// Cap returns the slot capacity of the current data block.
func (m *IndexMap) Cap() int {
	return m.impl.capacity()
}

// ElementSize returns the size of one element in bytes.
func (m *IndexMap) ElementSize() int {
	return m.elemSize
}

// ChunkSize returns the number of slots added by each growth step.
func (m *IndexMap) ChunkSize() int {
	return m.chunk
}

// Close releases the current data block and closes the collector.
// No other goroutine may use the map concurrently.
func (m *IndexMap) Close() {
	m.impl.close()
}

// =============================================================================
// Data blocks
// =============================================================================

const (
	modifyMask = 1<<31 - 1
	sealedBit  = 1 << 31
	mutateUnit = 1 << 32
)

type dataBlock[S any] struct {
	gate  atomix.Uint64 // [mutate:32][sealed:1][modify:31]
	_     padShort
	count atomix.Uint64
	_     padShort
	next  atomic.Pointer[dataBlock[S]] // successor once sealed
	slots []S
	bytes int
}

// enter registers an in-place writer. It fails if the block is sealed.
func (b *dataBlock[S]) enter() bool {
	if b.gate.AddAcqRel(1)&sealedBit != 0 {
		b.gate.AddAcqRel(^uint64(0))
		return false
	}
	return true
}

// leave unregisters an in-place writer, bumping mutate if it changed a slot.
func (b *dataBlock[S]) leave(mutated bool) {
	if mutated {
		b.gate.AddAcqRel(mutateUnit - 1)
		return
	}
	b.gate.AddAcqRel(^uint64(0))
}

func (b *dataBlock[S]) sealed() bool {
	return b.gate.LoadAcquire()&sealedBit != 0
}

// raiseCount lifts count to at least n.
func (b *dataBlock[S]) raiseCount(n uint64) {
	sw := spin.Wait{}
	for {
		cur := b.count.LoadAcquire()
		if cur >= n || b.count.CompareAndSwapAcqRel(cur, n) {
			return
		}
		sw.Once()
	}
}

// =============================================================================
// Block map
// =============================================================================

type blockMap[S any, O slotOps[S]] struct {
	_        pad
	data     atomic.Pointer[dataBlock[S]]
	_        padPtr
	ops      O
	chunk    int
	gc       Collector
	alloc    Allocator
	log      *slog.Logger
	slotSize int
	reclaim  Reclaimer
}

func newBlockMap[S any, O slotOps[S]](ops O, chunk int, c Collector, a Allocator, log *slog.Logger) *blockMap[S, O] {
	var zero S
	m := &blockMap[S, O]{
		ops:      ops,
		chunk:    chunk,
		gc:       c,
		alloc:    a,
		log:      log,
		slotSize: int(unsafe.Sizeof(zero)),
	}
	m.reclaim = m.reclaimBlock
	b, err := m.newBlock(chunk)
	if err != nil {
		panic("lfc: cannot allocate initial data block")
	}
	m.data.Store(b)
	return m
}

func (m *blockMap[S, O]) newBlock(capacity int) (*dataBlock[S], error) {
	size := int(unsafe.Sizeof(dataBlock[S]{})) + capacity*m.slotSize
	if !m.alloc.Allocate(size) {
		m.log.Warn("lfc: data block allocation refused", "capacity", capacity, "bytes", size)
		return nil, ErrAllocationFailed
	}
	return &dataBlock[S]{slots: make([]S, capacity), bytes: size}, nil
}

func (m *blockMap[S, O]) freeBlock(b *dataBlock[S]) {
	for i := range b.slots {
		m.ops.clear(&b.slots[i])
	}
	b.next.Store(nil)
	m.alloc.Free(b.bytes)
}

func (m *blockMap[S, O]) reclaimBlock(item any) {
	m.freeBlock(item.(*dataBlock[S]))
}

// enterLive enters the live block for an in-place write. A block that fails
// to admit the writer is sealed and its successor is already set.
func (m *blockMap[S, O]) enterLive() *dataBlock[S] {
	b := m.data.Load()
	for !b.enter() {
		b = b.next.Load()
	}
	return b
}

// current returns the live block, moving the map pointer past sealed blocks.
func (m *blockMap[S, O]) current() *dataBlock[S] {
	b := m.data.Load()
	for b.sealed() {
		next := b.next.Load()
		m.data.CompareAndSwap(b, next)
		b = next
	}
	return b
}

// restructure replaces b with build(b) if no writer touched b meanwhile.
// It reports false if b changed or another resize claimed it; the caller
// reloads and retries.
func (m *blockMap[S, O]) restructure(g *Guard, b *dataBlock[S], build func(*dataBlock[S]) (*dataBlock[S], error)) (bool, error) {
	v := b.gate.LoadAcquire()
	if v&(sealedBit|modifyMask) != 0 || b.next.Load() != nil {
		return false, nil
	}
	n, err := build(b)
	if err != nil {
		return false, err
	}
	if !b.next.CompareAndSwap(nil, n) {
		m.freeBlock(n)
		return false, nil
	}
	if !b.gate.CompareAndSwapAcqRel(v, v|sealedBit) {
		b.next.Store(nil)
		m.freeBlock(n)
		return false, nil
	}
	m.data.CompareAndSwap(b, n)
	g.Manage(b, m.reclaim)
	return true, nil
}

// copyRange moves src.slots[from:to] into dst.slots starting at at.
func (m *blockMap[S, O]) copyRange(dst, src *dataBlock[S], at, from, to int) {
	for i := from; i < to; i++ {
		m.ops.move(&dst.slots[at+i-from], &src.slots[i])
	}
}

func (m *blockMap[S, O]) grow(b *dataBlock[S]) (*dataBlock[S], error) {
	n, err := m.newBlock(len(b.slots) + m.chunk)
	if err != nil {
		return nil, err
	}
	m.copyRange(n, b, 0, 0, len(b.slots))
	n.count.StoreRelaxed(b.count.LoadAcquire())
	return n, nil
}

func (m *blockMap[S, O]) append(elem []byte) (int, error) {
	g := m.gc.Begin()
	defer g.End()
	sw := spin.Wait{}
	for {
		b := m.current()
		if !b.enter() {
			continue
		}
		for i := int(b.count.LoadAcquire()); i < len(b.slots); i++ {
			if m.ops.claim(&b.slots[i], elem) {
				b.raiseCount(uint64(i) + 1)
				b.leave(true)
				return i, nil
			}
		}
		b.leave(false)

		if _, err := m.restructure(g, b, m.grow); err != nil {
			return -1, err
		}
		sw.Once()
	}
}

func (m *blockMap[S, O]) replace(i int, elem, old []byte) bool {
	g := m.gc.Begin()
	defer g.End()
	b := m.enterLive()
	ok := i >= 0 && i < len(b.slots) && m.ops.exchange(&b.slots[i], elem, old, g)
	b.leave(ok)
	return ok
}

func (m *blockMap[S, O]) replaceExact(i int, elem, match []byte) bool {
	g := m.gc.Begin()
	defer g.End()
	b := m.enterLive()
	ok := i >= 0 && i < len(b.slots) && m.ops.compareExchange(&b.slots[i], elem, match, g)
	b.leave(ok)
	return ok
}

func (m *blockMap[S, O]) insert(i int, elem []byte) error {
	build := func(b *dataBlock[S]) (*dataBlock[S], error) {
		count := int(b.count.LoadAcquire())
		if i < 0 || i > count {
			return nil, ErrIndexOutOfRange
		}
		capacity := len(b.slots)
		if count+1 > capacity {
			capacity += m.chunk
		}
		n, err := m.newBlock(capacity)
		if err != nil {
			return nil, err
		}
		m.copyRange(n, b, 0, 0, i)
		m.ops.claim(&n.slots[i], elem)
		m.copyRange(n, b, i+1, i, count)
		n.count.StoreRelaxed(uint64(count + 1))
		return n, nil
	}
	return m.rebuild(build)
}

func (m *blockMap[S, O]) remove(i int, removed []byte) error {
	var from *dataBlock[S]
	build := func(b *dataBlock[S]) (*dataBlock[S], error) {
		count := int(b.count.LoadAcquire())
		if i < 0 || i >= count {
			return nil, ErrIndexOutOfRange
		}
		n, err := m.newBlock(len(b.slots))
		if err != nil {
			return nil, err
		}
		m.copyRange(n, b, 0, 0, i)
		m.copyRange(n, b, i, i+1, count)
		n.count.StoreRelaxed(uint64(count - 1))
		from = b
		return n, nil
	}
	return m.rebuild(build, func(g *Guard) {
		m.ops.load(&from.slots[i], removed)
		m.ops.retire(&from.slots[i], g)
	})
}

// rebuild retries build against the live block until a restructure commits.
// Each committed function runs inside the same critical section.
func (m *blockMap[S, O]) rebuild(build func(*dataBlock[S]) (*dataBlock[S], error), committed ...func(*Guard)) error {
	g := m.gc.Begin()
	defer g.End()
	sw := spin.Wait{}
	for {
		ok, err := m.restructure(g, m.current(), build)
		if err != nil {
			return err
		}
		if ok {
			for _, fn := range committed {
				fn(g)
			}
			return nil
		}
		sw.Once()
	}
}

func (m *blockMap[S, O]) get(i int, out []byte) bool {
	g := m.gc.Begin()
	b := m.current()
	ok := i >= 0 && i < len(b.slots) && m.ops.load(&b.slots[i], out)
	g.End()
	return ok
}

func (m *blockMap[S, O]) count() int {
	g := m.gc.Begin()
	n := int(m.current().count.LoadAcquire())
	g.End()
	return n
}

func (m *blockMap[S, O]) capacity() int {
	g := m.gc.Begin()
	n := len(m.current().slots)
	g.End()
	return n
}

func (m *blockMap[S, O]) close() {
	b := m.current()
	m.data.Store(nil)
	m.gc.Close()
	m.freeBlock(b)
}
