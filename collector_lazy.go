// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package lfc

import (
	"code.hybscloud.com/atomix"
	"code.hybscloud.com/spin"
)

// LazyCollector is a [Collector] that reclaims only at quiescence.
//
// A single atomix.Uint64 holds the shared retired list and the number of open
// sections. Ending a section splices its private list onto the shared one;
// the last section to end takes the whole list and runs every reclaimer.
//
// Under continuous overlapping load nothing is reclaimed. Use
// [EpochCollector] when sections never drain to zero.
type LazyCollector struct {
	_    pad
	word atomix.Uint64 // bucketWord(list, readers)
	_    padShort
	set  retiredSet
}

// NewLazyCollector creates a lazy collector.
func NewLazyCollector() *LazyCollector {
	c := &LazyCollector{}
	c.set.init()
	return c
}

// Begin opens a critical section.
func (c *LazyCollector) Begin() *Guard {
	c.word.AddAcqRel(1)
	return c.set.acquire(c, 0)
}

func (c *LazyCollector) retire(g *Guard, item any, fn Reclaimer) {
	c.set.push(g, item, fn)
}

func (c *LazyCollector) end(g *Guard) {
	head, tail := g.head, g.tail
	c.set.release(g)

	sw := spin.Wait{}
	for {
		w := c.word.LoadAcquire()
		readers := bucketReaders(w)
		list := bucketList(w)
		if head != 0 {
			c.set.link(tail, list)
			list = head
		}
		next := bucketWord(list, readers-1)
		if readers == 1 {
			next = 0
		}
		if c.word.CompareAndSwapAcqRel(w, next) {
			if readers == 1 {
				c.set.drain(list)
			}
			return
		}
		sw.Once()
	}
}

// Stats returns the retired and reclaimed counters.
func (c *LazyCollector) Stats() CollectorStats {
	return c.set.stats()
}

// Close reclaims every pending item. No critical section may be open.
func (c *LazyCollector) Close() {
	w := c.word.LoadAcquire()
	if bucketReaders(w) != 0 {
		panic("lfc: Close with open critical section")
	}
	c.word.StoreRelease(0)
	c.set.drain(bucketList(w))
}
