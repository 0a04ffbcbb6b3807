// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package lfc

import (
	"code.hybscloud.com/atomix"
	"code.hybscloud.com/spin"
)

// EpochCollector is an epoch-based [Collector].
//
// Three buckets rotate with a global epoch E:
//
//	(E+2)%3  next-to-receive: new sections pin it, retirements land in it
//	(E+1)%3  grace: sections pinned during the previous epoch
//	E%3      stale: drained on the E → E+1 transition
//
// Each bucket is one atomix.Uint64 holding its retired list and reader count,
// so splicing a list and unpinning happen in a single CAS. A section pinned
// at epoch E blocks the E+1 → E+2 transition, which bounds how far the epoch
// can move while any item retired inside it is still reachable.
//
// The epoch advances only when a section ends, and only once both the stale
// and grace buckets have no readers. The goroutine that empties the stale
// bucket runs its reclaimers before publishing the new epoch.
type EpochCollector struct {
	_       pad
	epoch   atomix.Uint64
	_       padShort
	buckets [3]epochBucket
	set     retiredSet
}

type epochBucket struct {
	word atomix.Uint64 // bucketWord(list, readers)
	_    padShort
}

// NewEpochCollector creates an epoch-based collector.
func NewEpochCollector() *EpochCollector {
	c := &EpochCollector{}
	c.set.init()
	return c
}

// Begin opens a critical section pinned to the receiving bucket.
func (c *EpochCollector) Begin() *Guard {
	return c.set.acquire(c, c.pin())
}

// pin registers a reader in the bucket the current epoch retires into and
// returns that bucket. A pin that races with an epoch change is undone and
// retried against the new epoch.
func (c *EpochCollector) pin() uint64 {
	epoch := c.epoch.LoadAcquire()
	for {
		b := (epoch + 2) % 3
		c.buckets[b].word.AddAcqRel(1)
		now := c.epoch.LoadAcquire()
		if now == epoch {
			return b
		}
		c.buckets[b].word.AddAcqRel(^uint64(0))
		epoch = now
	}
}

func (c *EpochCollector) retire(g *Guard, item any, fn Reclaimer) {
	c.set.push(g, item, fn)
}

func (c *EpochCollector) end(g *Guard) {
	epoch := c.epoch.LoadAcquire()
	b := &c.buckets[g.bucket]
	if g.head != 0 {
		c.splice(b, g.head, g.tail)
	} else {
		b.word.AddAcqRel(^uint64(0))
	}
	c.set.release(g)
	c.collect(epoch)
}

// splice prepends the list head..tail to b and drops one reader from b.
func (c *EpochCollector) splice(b *epochBucket, head, tail uint32) {
	sw := spin.Wait{}
	for {
		w := b.word.LoadAcquire()
		c.set.link(tail, bucketList(w))
		if b.word.CompareAndSwapAcqRel(w, bucketWord(head, bucketReaders(w)-1)) {
			return
		}
		sw.Once()
	}
}

// collect tries to empty the stale bucket of epoch and advance the epoch.
func (c *EpochCollector) collect(epoch uint64) {
	stale := &c.buckets[epoch%3]
	w := stale.word.LoadAcquire()
	if bucketReaders(w) != 0 {
		return
	}
	if bucketReaders(c.buckets[(epoch+1)%3].word.LoadAcquire()) != 0 {
		return
	}
	if !stale.word.CompareAndSwapAcqRel(w, 0) {
		return
	}
	list := bucketList(w)
	if c.epoch.LoadAcquire() == epoch {
		c.set.drain(list)
		c.epoch.CompareAndSwapAcqRel(epoch, epoch+1)
		return
	}
	// Another goroutine advanced the epoch first. The claimed entries may
	// belong to a younger generation, so they move to the receiving bucket.
	if list != 0 {
		tail := c.set.last(list)
		b := c.pin()
		c.splice(&c.buckets[b], list, tail)
	}
}

// Epoch returns the current global epoch.
func (c *EpochCollector) Epoch() uint64 {
	return c.epoch.LoadAcquire()
}

// Stats returns the retired and reclaimed counters.
func (c *EpochCollector) Stats() CollectorStats {
	return c.set.stats()
}

// Close reclaims every pending item. No critical section may be open.
func (c *EpochCollector) Close() {
	for i := range c.buckets {
		w := c.buckets[i].word.LoadAcquire()
		if bucketReaders(w) != 0 {
			panic("lfc: Close with open critical section")
		}
		c.buckets[i].word.StoreRelease(0)
		c.set.drain(bucketList(w))
	}
}
