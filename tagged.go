// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package lfc

// ref is a slab index paired with a 32-bit generation tag.
//
// Layout: [index:32][tag:32]. Index 0 is nil. The pair is stored in a single
// atomix.Uint64 so it is loaded and compared-and-swapped as one unit; a
// recycled index carries a different tag and fails stale CAS attempts.
type ref uint64

func makeRef(index, tag uint32) ref {
	return ref(uint64(index)<<32 | uint64(tag))
}

func (r ref) index() uint32 { return uint32(r >> 32) }

func (r ref) tag() uint32 { return uint32(r) }

func (r ref) isNil() bool { return r.index() == 0 }
