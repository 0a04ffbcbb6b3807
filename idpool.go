// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package lfc

import (
	"math/bits"

	"code.hybscloud.com/atomix"
	"code.hybscloud.com/iox"
	"code.hybscloud.com/spin"
)

// A ring slot word is stamped with the round of the position it serves:
//
//	[empty:1][round:31][id:32]
//
// A filled slot holds an ID for the reader of its round. Taking the ID leaves
// a vacancy stamped with the next round, which only that round's recycler
// can fill. The stamp keeps a caller holding a stale position from matching
// a slot that has since moved on.
const (
	emptyFlag  = 1 << 63
	roundMask  = 1<<31 - 1
	roundShift = 32
)

func stamp(round uint64) uint64 {
	return (round & roundMask) << roundShift
}

// idSlot is one ring position.
type idSlot struct {
	word atomix.Uint64
}

func (s *idSlot) init(round uint64, id int, filled bool) {
	if filled {
		s.word.StoreRelaxed(stamp(round) | uint64(id))
		return
	}
	s.word.StoreRelaxed(emptyFlag | stamp(round))
}

// take claims the ID filled for round and leaves the vacancy for round+1.
func (s *idSlot) take(round uint64) (int, bool) {
	v := s.word.LoadAcquire()
	if v&^uint64(1<<roundShift-1) != stamp(round) {
		return -1, false
	}
	if !s.word.CompareAndSwapAcqRel(v, emptyFlag|stamp(round+1)) {
		return -1, false
	}
	return int(uint32(v)), true
}

// put fills the vacancy left for round.
func (s *idSlot) put(round uint64, id int) bool {
	return s.word.CompareAndSwapAcqRel(emptyFlag|stamp(round), stamp(round)|uint64(id))
}

// IDPool hands out the integers [0, Size()) to concurrent callers, each ID to
// at most one holder at a time.
//
// Free IDs sit in a ring of idSlots indexed by two monotonic cursors: head
// counts assignments and tail counts recycles. The ring starts full, so the
// free IDs are exactly the positions [head, tail). A position's round is
// pos / capacity; vacancy stamps keep a stale cursor from reusing a slot that
// belongs to a later round.
//
// Memory: 8 bytes per ring slot
type IDPool struct {
	_     pad
	tail  atomix.Uint64 // positions recycled into
	_     padShort
	head  atomix.Uint64 // positions assigned from
	_     padShort
	ring  []idSlot
	mask  uint64
	order uint64 // log2(len(ring))
	size  int
}

// NewIDPool creates a pool holding every ID in [0, size).
// Panics if size < 1 or size exceeds the 32-bit ID space.
func NewIDPool(size int) *IDPool {
	if size < 1 || uint64(size) > 1<<32 {
		panic("lfc: ID pool size must be in [1, 2^32]")
	}

	n := roundToPow2(size)
	p := &IDPool{
		ring:  make([]idSlot, n),
		mask:  uint64(n - 1),
		order: uint64(bits.TrailingZeros(uint(n))),
		size:  size,
	}
	for i := range p.ring {
		p.ring[i].init(0, i, i < size)
	}
	p.tail.StoreRelease(uint64(size))
	return p
}

func (p *IDPool) at(pos uint64) (*idSlot, uint64) {
	return &p.ring[pos&p.mask], pos >> p.order
}

// TryAssign takes a free ID.
// Returns (-1, ErrWouldBlock) if every ID is assigned.
func (p *IDPool) TryAssign() (int, error) {
	sw := spin.Wait{}
	for {
		pos := p.head.LoadAcquire()
		if pos >= p.tail.LoadAcquire() {
			return -1, ErrWouldBlock
		}
		slot, round := p.at(pos)
		if id, ok := slot.take(round); ok {
			p.head.CompareAndSwapAcqRel(pos, pos+1)
			return id, nil
		}
		// Every position below tail has been filled, so pos is taken.
		p.head.CompareAndSwapAcqRel(pos, pos+1)
		sw.Once()
	}
}

// Assign takes a free ID, waiting until one is recycled if necessary.
func (p *IDPool) Assign() int {
	backoff := iox.Backoff{}
	for {
		id, err := p.TryAssign()
		if err == nil {
			return id
		}
		backoff.Wait()
	}
}

// Recycle returns id to the pool.
// Panics if id is out of range or the pool already holds every ID.
func (p *IDPool) Recycle(id int) {
	if id < 0 || id >= p.size {
		panic("lfc: ID out of range")
	}

	sw := spin.Wait{}
	for {
		pos := p.tail.LoadAcquire()
		if pos >= p.head.LoadAcquire()+uint64(p.size) {
			panic("lfc: ID recycled while not assigned")
		}
		slot, round := p.at(pos)
		if slot.put(round, id) {
			p.tail.CompareAndSwapAcqRel(pos, pos+1)
			return
		}
		// The reader of the previous round has left pos, so another
		// recycler filled it.
		p.tail.CompareAndSwapAcqRel(pos, pos+1)
		sw.Once()
	}
}

// Size returns the number of IDs managed by the pool.
func (p *IDPool) Size() int {
	return p.size
}
