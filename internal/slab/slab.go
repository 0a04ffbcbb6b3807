// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package slab

import (
	"math/bits"
	"sync/atomic"

	"code.hybscloud.com/atomix"
	"code.hybscloud.com/spin"
	"golang.org/x/sys/cpu"
)

const (
	baseShift = 6
	base      = 1 << baseShift

	// MaxIndex is the largest index a slab can hand out.
	MaxIndex = 1<<32 - 1

	// Segment k holds base<<k entries; index i lives at position i-1+base
	// of the concatenated segments.
	segmentCount = 32 - baseShift + 1
)

type entry[T any] struct {
	link atomix.Uint64 // free-list successor index
	val  T
}

// Slab is a concurrent arena of T addressed by uint32 indices.
//
// Alloc and Free are lock-free. Freed entries are pushed onto a Treiber stack
// whose head packs (index<<32 | tag); the tag advances on every push and pop
// so a recycled index cannot satisfy a stale compare-and-swap.
type Slab[T any] struct {
	_        cpu.CacheLinePad
	free     atomix.Uint64 // index<<32 | tag
	_        cpu.CacheLinePad
	top      atomix.Uint64 // highest index handed out by bump allocation
	_        cpu.CacheLinePad
	limit    uint64
	segments [segmentCount]atomic.Pointer[[]entry[T]]
}

// New creates a slab that holds at most limit live entries.
// A limit <= 0 or above MaxIndex selects MaxIndex.
func New[T any](limit int) *Slab[T] {
	s := &Slab[T]{limit: MaxIndex}
	if limit > 0 && uint64(limit) < MaxIndex {
		s.limit = uint64(limit)
	}
	return s
}

// Alloc returns a free index and a pointer to its entry.
// The entry keeps whatever value it held when it was freed.
// Alloc reports false when limit entries are live.
func (s *Slab[T]) Alloc() (uint32, *T, bool) {
	sw := spin.Wait{}
	for {
		head := s.free.LoadAcquire()
		if idx := uint32(head >> 32); idx != 0 {
			e := s.entry(idx)
			next := e.link.LoadAcquire()
			if s.free.CompareAndSwapAcqRel(head, next<<32|uint64(uint32(head)+1)) {
				return idx, &e.val, true
			}
			sw.Once()
			continue
		}

		top := s.top.LoadAcquire()
		if top >= s.limit {
			if s.free.LoadAcquire()>>32 != 0 {
				continue
			}
			return 0, nil, false
		}
		if s.top.CompareAndSwapAcqRel(top, top+1) {
			idx := uint32(top + 1)
			e := s.grow(idx)
			return idx, &e.val, true
		}
		sw.Once()
	}
}

// Free returns idx to the slab. idx must come from Alloc and must not be
// freed twice.
func (s *Slab[T]) Free(idx uint32) {
	if idx == 0 || uint64(idx) > s.top.LoadAcquire() {
		panic("slab: free of unallocated index")
	}
	e := s.entry(idx)
	sw := spin.Wait{}
	for {
		head := s.free.LoadAcquire()
		e.link.StoreRelaxed(head >> 32)
		if s.free.CompareAndSwapAcqRel(head, uint64(idx)<<32|uint64(uint32(head)+1)) {
			return
		}
		sw.Once()
	}
}

// At returns the entry for an index previously returned by Alloc.
// The pointer stays valid for the lifetime of the slab.
func (s *Slab[T]) At(idx uint32) *T {
	return &s.entry(idx).val
}

// Allocated returns the number of distinct indices ever handed out.
func (s *Slab[T]) Allocated() int {
	return int(s.top.LoadAcquire())
}

func locate(idx uint32) (seg int, off uint64) {
	x := uint64(idx) - 1 + base
	n := bits.Len64(x)
	return n - baseShift - 1, x - 1<<(n-1)
}

func (s *Slab[T]) entry(idx uint32) *entry[T] {
	seg, off := locate(idx)
	return &(*s.segments[seg].Load())[off]
}

// grow makes sure the segment holding idx exists.
func (s *Slab[T]) grow(idx uint32) *entry[T] {
	seg, off := locate(idx)
	p := s.segments[seg].Load()
	if p == nil {
		fresh := make([]entry[T], base<<seg)
		if s.segments[seg].CompareAndSwap(nil, &fresh) {
			p = &fresh
		} else {
			p = s.segments[seg].Load()
		}
	}
	return &(*p)[off]
}
