// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package lfc

import (
	"sync"

	"code.hybscloud.com/atomix"
	"code.hybscloud.com/lfc/internal/slab"
)

// Guard is the state of one open critical section.
//
// A guard is obtained from [Collector.Begin] and must be ended exactly once,
// by the goroutine that opened it. Items retired through the guard are kept
// on a private list until End publishes them to the collector.
type Guard struct {
	owner  collector // nil once the section has ended
	bucket uint64    // epoch bucket pinned by Begin
	head   uint32    // pending retired entries, newest first
	tail   uint32
}

// Manage retires item. fn(item) runs once no critical section that was open
// at the time of the call can still observe item.
//
// Panics if the guard has already ended.
func (g *Guard) Manage(item any, fn Reclaimer) {
	if g.owner == nil {
		panic("lfc: Manage on ended guard")
	}
	if fn == nil {
		panic("lfc: nil reclaimer")
	}
	g.owner.retire(g, item, fn)
}

// End closes the critical section and returns the guard to its collector's
// pool. The guard must not be used afterwards; a second End panics only
// while the guard has not been handed out again by Begin.
//
// End may run reclaimers of items whose grace period has elapsed.
func (g *Guard) End() {
	c := g.owner
	if c == nil {
		panic("lfc: End on ended guard")
	}
	c.end(g)
}

// collector is implemented by the concrete strategies.
type collector interface {
	Collector
	retire(g *Guard, item any, fn Reclaimer)
	end(g *Guard)
}

// CollectorStats reports reclamation progress.
type CollectorStats struct {
	Retired   uint64 // items passed to Manage
	Reclaimed uint64 // reclaimers that have run
}

// Pending returns the number of retired items not yet reclaimed.
func (s CollectorStats) Pending() uint64 {
	return s.Retired - s.Reclaimed
}

// retiredEntry is one managed item awaiting reclamation.
type retiredEntry struct {
	item    any
	reclaim Reclaimer
	next    atomix.Uint64 // index of the next entry in its list, 0 ends
}

// retiredSet owns the retired entries of one collector and the guards that
// feed it. Lists of entries are threaded through slab indices so that a list
// head and a reader count share one 64-bit word.
type retiredSet struct {
	entries   *slab.Slab[retiredEntry]
	guards    sync.Pool
	retired   atomix.Uint64
	reclaimed atomix.Uint64
}

func (s *retiredSet) init() {
	s.entries = slab.New[retiredEntry](0)
	s.guards.New = func() any { return new(Guard) }
}

func (s *retiredSet) acquire(owner collector, bucket uint64) *Guard {
	g := s.guards.Get().(*Guard)
	g.owner = owner
	g.bucket = bucket
	g.head, g.tail = 0, 0
	return g
}

func (s *retiredSet) release(g *Guard) {
	g.owner = nil
	g.head, g.tail = 0, 0
	s.guards.Put(g)
}

// push prepends a new entry to the guard's private list.
func (s *retiredSet) push(g *Guard, item any, fn Reclaimer) {
	idx, e, ok := s.entries.Alloc()
	if !ok {
		panic("lfc: retired entry arena exhausted")
	}
	e.item = item
	e.reclaim = fn
	e.next.StoreRelaxed(uint64(g.head))
	g.head = idx
	if g.tail == 0 {
		g.tail = idx
	}
	s.retired.AddAcqRel(1)
}

// link makes the entry at tail point to next.
func (s *retiredSet) link(tail, next uint32) {
	s.entries.At(tail).next.StoreRelaxed(uint64(next))
}

// last returns the final entry of the list starting at head.
func (s *retiredSet) last(head uint32) uint32 {
	for {
		next := uint32(s.entries.At(head).next.LoadAcquire())
		if next == 0 {
			return head
		}
		head = next
	}
}

// drain runs the reclaimer of every entry in the list starting at idx and
// frees the entries.
func (s *retiredSet) drain(idx uint32) {
	for idx != 0 {
		e := s.entries.At(idx)
		next := uint32(e.next.LoadAcquire())
		item, fn := e.item, e.reclaim
		e.item, e.reclaim = nil, nil
		fn(item)
		s.entries.Free(idx)
		s.reclaimed.AddAcqRel(1)
		idx = next
	}
}

func (s *retiredSet) stats() CollectorStats {
	return CollectorStats{
		Retired:   s.retired.LoadAcquire(),
		Reclaimed: s.reclaimed.LoadAcquire(),
	}
}

// A bucket word packs a retired list with the number of readers pinned to it.
//
// Layout: [list head index:32][readers:32]
func bucketWord(list, readers uint32) uint64 {
	return uint64(list)<<32 | uint64(readers)
}

func bucketList(w uint64) uint32 { return uint32(w >> 32) }

func bucketReaders(w uint64) uint32 { return uint32(w) }
