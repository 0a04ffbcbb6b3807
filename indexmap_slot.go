// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package lfc

import (
	"bytes"
	"runtime"
	"sync"
	"sync/atomic"

	"code.hybscloud.com/atomix"
	"golang.org/x/sys/cpu"
)

// Inline slots reserve their top bit as the "set" flag, so an all-zero slot is
// empty and a stored element is never zero.
const (
	narrowPayload = 7  // bytes carried by an atomix.Uint64 slot
	widePayload   = 15 // bytes carried by an atomix.Uint128 slot
	setFlag       = 1 << 63
)

// wideSlots reports whether 128-bit slots are lock-free on this machine.
var wideSlots = func() bool {
	switch runtime.GOARCH {
	case "amd64":
		return cpu.X86.HasCX16
	case "arm64":
		return true
	default:
		return false
	}
}()

// slotOps is an element storage strategy over slots of type S.
//
// Every operation is a bounded number of atomic steps on one slot. Boxed
// strategies also retire replaced boxes through the guard.
type slotOps[S any] interface {
	// load copies the element into out (if non-nil) and reports whether the
	// slot is set.
	load(s *S, out []byte) bool
	// claim stores elem into an empty slot.
	claim(s *S, elem []byte) bool
	// exchange replaces a set slot's element, copying the previous one into
	// old (if non-nil). The caller holds the block's gate, so a set slot
	// stays set and one swap suffices.
	exchange(s *S, elem, old []byte, g *Guard) bool
	// compareExchange replaces the element only if it equals match.
	compareExchange(s *S, elem, match []byte, g *Guard) bool
	// move copies src into dst; dst belongs to an unpublished block.
	move(dst, src *S)
	// retire hands whatever s references to the collector.
	retire(s *S, g *Guard)
	// clear empties a slot of a block no goroutine can reach.
	clear(s *S)
}

// =============================================================================
// Narrow: up to 7 bytes in one atomix.Uint64
// =============================================================================

type narrowOps struct{}

func packNarrow(elem []byte) uint64 {
	var v uint64
	for i, c := range elem {
		v |= uint64(c) << (8 * i)
	}
	return v | setFlag
}

func unpackNarrow(v uint64, out []byte) {
	for i := range out {
		out[i] = byte(v >> (8 * i))
	}
}

func (narrowOps) load(s *atomix.Uint64, out []byte) bool {
	v := s.LoadAcquire()
	if v&setFlag == 0 {
		return false
	}
	unpackNarrow(v, out)
	return true
}

func (narrowOps) claim(s *atomix.Uint64, elem []byte) bool {
	return s.CompareAndSwapAcqRel(0, packNarrow(elem))
}

func (narrowOps) exchange(s *atomix.Uint64, elem, old []byte, _ *Guard) bool {
	if s.LoadAcquire()&setFlag == 0 {
		return false
	}
	unpackNarrow(s.SwapAcqRel(packNarrow(elem)), old)
	return true
}

func (narrowOps) compareExchange(s *atomix.Uint64, elem, match []byte, _ *Guard) bool {
	return s.CompareAndSwapAcqRel(packNarrow(match), packNarrow(elem))
}

func (narrowOps) move(dst, src *atomix.Uint64) {
	dst.StoreRelaxed(src.LoadAcquire())
}

func (narrowOps) retire(*atomix.Uint64, *Guard) {}

func (narrowOps) clear(s *atomix.Uint64) {
	s.StoreRelaxed(0)
}

// =============================================================================
// Wide: up to 15 bytes in one atomix.Uint128
// =============================================================================

type wideOps struct{}

func packWide(elem []byte) (lo, hi uint64) {
	n := min(len(elem), 8)
	for i, c := range elem[:n] {
		lo |= uint64(c) << (8 * i)
	}
	for i, c := range elem[n:] {
		hi |= uint64(c) << (8 * i)
	}
	return lo, hi | setFlag
}

func unpackWide(lo, hi uint64, out []byte) {
	n := min(len(out), 8)
	unpackNarrow(lo, out[:n])
	unpackNarrow(hi, out[n:])
}

func (wideOps) load(s *atomix.Uint128, out []byte) bool {
	lo, hi := s.LoadAcquire()
	if hi&setFlag == 0 {
		return false
	}
	unpackWide(lo, hi, out)
	return true
}

func (wideOps) claim(s *atomix.Uint128, elem []byte) bool {
	lo, hi := packWide(elem)
	return s.CompareAndSwapAcqRel(0, 0, lo, hi)
}

func (wideOps) exchange(s *atomix.Uint128, elem, old []byte, _ *Guard) bool {
	if _, hi := s.LoadAcquire(); hi&setFlag == 0 {
		return false
	}
	lo, hi := s.SwapAcqRel(packWide(elem))
	unpackWide(lo, hi, old)
	return true
}

func (wideOps) compareExchange(s *atomix.Uint128, elem, match []byte, _ *Guard) bool {
	mLo, mHi := packWide(match)
	lo, hi := packWide(elem)
	return s.CompareAndSwapAcqRel(mLo, mHi, lo, hi)
}

func (wideOps) move(dst, src *atomix.Uint128) {
	dst.StoreRelaxed(src.LoadAcquire())
}

func (wideOps) retire(*atomix.Uint128, *Guard) {}

func (wideOps) clear(s *atomix.Uint128) {
	s.StoreRelaxed(0, 0)
}

// =============================================================================
// Boxed: any size, slot points at an immutable heap copy
// =============================================================================

// box is an immutable element copy. A published box is never written again;
// replacing an element publishes a new box and retires the old one.
type box struct {
	data []byte
}

type boxedOps struct {
	size       int
	boxes      *sync.Pool
	reclaimBox Reclaimer
}

func newBoxedOps(size int) boxedOps {
	boxes := &sync.Pool{New: func() any {
		return &box{data: make([]byte, size)}
	}}
	return boxedOps{
		size:       size,
		boxes:      boxes,
		reclaimBox: func(item any) { boxes.Put(item.(*box)) },
	}
}

func (o boxedOps) newBox(elem []byte) *box {
	b := o.boxes.Get().(*box)
	copy(b.data, elem)
	return b
}

func (o boxedOps) load(s *atomic.Pointer[box], out []byte) bool {
	b := s.Load()
	if b == nil {
		return false
	}
	copy(out, b.data)
	return true
}

func (o boxedOps) claim(s *atomic.Pointer[box], elem []byte) bool {
	b := o.newBox(elem)
	if s.CompareAndSwap(nil, b) {
		return true
	}
	o.boxes.Put(b)
	return false
}

func (o boxedOps) exchange(s *atomic.Pointer[box], elem, old []byte, g *Guard) bool {
	if s.Load() == nil {
		return false
	}
	cur := s.Swap(o.newBox(elem))
	copy(old, cur.data)
	g.Manage(cur, o.reclaimBox)
	return true
}

// compareExchange publishes elem only over the box it compared. A concurrent
// replacement in between makes it report false.
func (o boxedOps) compareExchange(s *atomic.Pointer[box], elem, match []byte, g *Guard) bool {
	cur := s.Load()
	if cur == nil || !bytes.Equal(cur.data, match) {
		return false
	}
	b := o.newBox(elem)
	if !s.CompareAndSwap(cur, b) {
		o.boxes.Put(b)
		return false
	}
	g.Manage(cur, o.reclaimBox)
	return true
}

func (o boxedOps) move(dst, src *atomic.Pointer[box]) {
	dst.Store(src.Load())
}

func (o boxedOps) retire(s *atomic.Pointer[box], g *Guard) {
	if b := s.Load(); b != nil {
		g.Manage(b, o.reclaimBox)
	}
}

func (o boxedOps) clear(s *atomic.Pointer[box]) {
	s.Store(nil)
}
