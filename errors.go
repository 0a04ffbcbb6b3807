// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package lfc

import (
	"errors"

	"code.hybscloud.com/iox"
)

// ErrWouldBlock indicates the operation cannot proceed immediately.
//
// For Queue.Pop and Dequeue: the queue is empty.
// For IDPool.TryAssign: every ID is assigned.
//
// ErrWouldBlock is a control flow signal, not a failure. The caller should
// retry later (with backoff or yield) rather than propagating the error.
//
// This is an alias for [iox.ErrWouldBlock] for ecosystem consistency.
//
// Example:
//
//	backoff := iox.Backoff{}
//	for {
//	    n, err := q.Pop()
//	    if err == nil {
//	        backoff.Reset()
//	        handle(n.Value)
//	        n.Destroy()
//	        continue
//	    }
//	    if lfc.IsWouldBlock(err) {
//	        backoff.Wait()
//	        continue
//	    }
//	    return err
//	}
var ErrWouldBlock = iox.ErrWouldBlock

// ErrAllocationFailed indicates that a node, data block or element could not
// be allocated because the configured [Allocator] or node limit refused it.
//
// The structure is left unchanged; the operation may be retried after memory
// has been released.
var ErrAllocationFailed = errors.New("lfc: allocation failed")

// ErrIndexOutOfRange indicates that an IndexMap insert or remove addressed an
// index outside the current element count.
var ErrIndexOutOfRange = errors.New("lfc: index out of range")

// IsWouldBlock reports whether err indicates the operation would block.
// Delegates to [iox.IsWouldBlock] for wrapped error support.
func IsWouldBlock(err error) bool {
	return iox.IsWouldBlock(err)
}

// IsSemantic reports whether err is a control flow signal (not a failure).
// Delegates to [iox.IsSemantic].
func IsSemantic(err error) bool {
	return iox.IsSemantic(err)
}

// IsNonFailure reports whether err represents a non-failure condition.
// Returns true for nil, ErrWouldBlock, or ErrMore.
// Delegates to [iox.IsNonFailure].
func IsNonFailure(err error) bool {
	return iox.IsNonFailure(err)
}
