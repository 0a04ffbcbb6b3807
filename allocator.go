// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package lfc

import (
	"code.hybscloud.com/atomix"
	"code.hybscloud.com/spin"
)

// Allocator accounts for the memory behind queue nodes and index map data
// blocks.
//
// Go memory is managed by the runtime; an Allocator decides whether a request
// may proceed, which makes allocation failure an observable, recoverable
// condition. Every successful Allocate is matched by exactly one Free of the
// same size once the memory is reclaimed.
//
// Implementations must be safe for concurrent use.
type Allocator interface {
	// Allocate reserves size bytes. It reports false if the request is refused.
	Allocate(size int) bool

	// Free releases size bytes previously reserved with Allocate.
	Free(size int)
}

// unbounded is the default Allocator. It never refuses.
type unbounded struct{}

func (unbounded) Allocate(int) bool { return true }

func (unbounded) Free(int) {}

// LimitAllocator is an Allocator with a fixed byte budget.
//
// Example:
//
//	a := lfc.NewLimitAllocator(1 << 20)
//	m := lfc.New().ElementSize(8).Allocator(a).BuildIndexMap()
//	if _, err := m.Append(elem); errors.Is(err, lfc.ErrAllocationFailed) {
//	    // budget exhausted
//	}
type LimitAllocator struct {
	_     pad
	inUse atomix.Int64
	_     padShort
	limit int64
}

// NewLimitAllocator creates an allocator that admits at most limit bytes.
// Panics if limit < 0.
func NewLimitAllocator(limit int) *LimitAllocator {
	if limit < 0 {
		panic("lfc: allocator limit must be >= 0")
	}
	return &LimitAllocator{limit: int64(limit)}
}

// Allocate reserves size bytes if the budget allows it.
func (a *LimitAllocator) Allocate(size int) bool {
	sw := spin.Wait{}
	for {
		cur := a.inUse.LoadAcquire()
		if cur+int64(size) > a.limit {
			return false
		}
		if a.inUse.CompareAndSwapAcqRel(cur, cur+int64(size)) {
			return true
		}
		sw.Once()
	}
}

// Free returns size bytes to the budget.
func (a *LimitAllocator) Free(size int) {
	if a.inUse.AddAcqRel(-int64(size)) < 0 {
		panic("lfc: allocator released more than reserved")
	}
}

// InUse returns the number of bytes currently reserved.
func (a *LimitAllocator) InUse() int {
	return int(a.inUse.LoadAcquire())
}

// Limit returns the byte budget.
func (a *LimitAllocator) Limit() int {
	return int(a.limit)
}
