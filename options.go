// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package lfc

import (
	"log/slog"
	"unsafe"
)

// DefaultChunkSize is the IndexMap growth step used when none is configured.
const DefaultChunkSize = 16

// discardLogger is used when no logger is configured.
var discardLogger = slog.New(slog.DiscardHandler)

// Options configures structure creation.
type Options struct {
	// Reclamation strategy
	lazy bool

	// IndexMap layout
	elementSize int
	chunkSize   int

	// Queue arena bound (0 = unbounded)
	nodeLimit int

	allocator Allocator
	logger    *slog.Logger
}

// Builder creates collectors, queues and index maps with fluent
// configuration.
//
// Every structure built gets its own collector of the configured strategy.
//
// Example:
//
//	// Epoch-reclaimed queue (default)
//	q := lfc.BuildQueue[Event](lfc.New())
//
//	// Lazy-reclaimed queue with a bounded node arena
//	q := lfc.BuildQueue[Request](lfc.New().Lazy().NodeLimit(4096))
//
//	// Index map of 8-byte elements growing by 64 slots
//	m := lfc.New().ElementSize(8).ChunkSize(64).BuildIndexMap()
type Builder struct {
	opts Options
}

// New creates a builder with the epoch strategy, DefaultChunkSize and an
// unbounded allocator.
//
// Example:
//
//	b := lfc.New().Lazy()
//	q := lfc.BuildQueue[int](b)
func New() *Builder {
	return &Builder{opts: Options{chunkSize: DefaultChunkSize}}
}

// Lazy selects the [LazyCollector] strategy.
// Reclamation happens only when no critical section is open.
func (b *Builder) Lazy() *Builder {
	b.opts.lazy = true
	return b
}

// ElementSize sets the IndexMap element size in bytes.
// Panics if n < 1.
func (b *Builder) ElementSize(n int) *Builder {
	if n < 1 {
		panic("lfc: element size must be >= 1")
	}
	b.opts.elementSize = n
	return b
}

// ChunkSize sets the number of slots an IndexMap grows by.
// Panics if n < 1.
func (b *Builder) ChunkSize(n int) *Builder {
	if n < 1 {
		panic("lfc: chunk size must be >= 1")
	}
	b.opts.chunkSize = n
	return b
}

// NodeLimit bounds the number of live queue nodes, the dummy included.
// NewNode returns ErrAllocationFailed beyond the limit.
// Panics if n < 2.
func (b *Builder) NodeLimit(n int) *Builder {
	if n < 2 {
		panic("lfc: node limit must be >= 2")
	}
	b.opts.nodeLimit = n
	return b
}

// Allocator sets the allocator that admits node and data block memory.
func (b *Builder) Allocator(a Allocator) *Builder {
	b.opts.allocator = a
	return b
}

// Logger sets the logger that reports allocation failures.
// The default discards.
func (b *Builder) Logger(l *slog.Logger) *Builder {
	b.opts.logger = l
	return b
}

// BuildCollector creates a collector of the configured strategy.
func (b *Builder) BuildCollector() Collector {
	if b.opts.lazy {
		return NewLazyCollector()
	}
	return NewEpochCollector()
}

// BuildQueue creates a Queue[T] with its own collector.
func BuildQueue[T any](b *Builder) *Queue[T] {
	return newQueue[T](b.BuildCollector(), b.opts.nodeLimit, b.opts.allocator, b.opts.logger)
}

// BuildIndexMap creates an IndexMap with its own collector.
// Panics if ElementSize was not set.
func (b *Builder) BuildIndexMap() *IndexMap {
	if b.opts.elementSize == 0 {
		panic("lfc: BuildIndexMap requires ElementSize()")
	}
	return newIndexMap(b.opts.elementSize, b.opts.chunkSize, b.BuildCollector(), b.opts.allocator, b.opts.logger)
}

// roundToPow2 rounds n up to the next power of 2.
func roundToPow2(n int) int {
	if n < 2 {
		return 2
	}
	n--
	n |= n >> 1
	n |= n >> 2
	n |= n >> 4
	n |= n >> 8
	n |= n >> 16
	n |= n >> 32
	return n + 1
}

// ptrSize is the size of a pointer in bytes.
const ptrSize = int(unsafe.Sizeof(uintptr(0)))

// pad is cache line padding to prevent false sharing.
type pad [64]byte

// padShort is padding to fill cache line after 8-byte field.
type padShort [64 - 8]byte

// padPtr is padding to fill cache line after pointer-sized field.
type padPtr [64 - ptrSize]byte
