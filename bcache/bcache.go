// Copyright 2019 the Go-FUSE Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package bcache is the buffer cache sitting between the filesystem and
// a block device queue (spec.md §4.E): a fixed pool of in-memory block
// copies, kept coherent by read-before-use and write-through, and reused
// least-recently-used when the pool is full.
//
// The cache is a doubly linked list ordered by recency of use, same as
// original_source/bio.c's bcache.head ring, but expressed as an index
// into a flat arena rather than raw *Buf pointers: slot len(bufs) is a
// sentinel node that never holds data, so "most recently used" is
// sentinel.next and "least recently used" is sentinel.prev.
package bcache

import (
	"github.com/xv6go/xv6go/blockdev"
	"github.com/xv6go/xv6go/hal"
	"github.com/xv6go/xv6go/sleeplock"
	"github.com/xv6go/xv6go/spinlock"
)

// Buf is one cached copy of a disk block.
type Buf struct {
	Dev     uint32
	BlockNo uint32
	Valid   bool // does Data hold the block's contents?
	Disk    bool // does the disk "own" this buffer (I/O in flight)?
	Data    []byte

	refcnt int
	lock   *sleeplock.Sleeplock

	prev, next int // arena indices; see Cache.
}

// Cache is the fixed-size buffer pool singleton, one per kernel instance.
type Cache struct {
	queue *blockdev.Queue
	lock  *spinlock.Spinlock
	bufs  []Buf

	// prev/next form a circular list over arena indices [0, len(bufs)],
	// where index len(bufs) is the sentinel head node.
	prev []int
	next []int
}

const sentinelData = -1

// NewCache allocates nbuf buffers of hal.BSIZE bytes each, backed by
// queue, all initially on the free (unused) list.
func NewCache(queue *blockdev.Queue, nbuf int) *Cache {
	c := &Cache{
		queue: queue,
		lock:  spinlock.New("bcache"),
		bufs:  make([]Buf, nbuf),
		prev:  make([]int, nbuf+1),
		next:  make([]int, nbuf+1),
	}
	sentinel := nbuf
	c.prev[sentinel] = sentinel
	c.next[sentinel] = sentinel
	for i := 0; i < nbuf; i++ {
		c.bufs[i].lock = sleeplock.New("buffer")
		c.pushFront(sentinel, i)
	}
	return c
}

func (c *Cache) sentinel() int { return len(c.bufs) }

// unlink removes node i from wherever it sits in the ring.
func (c *Cache) unlink(i int) {
	c.next[c.prev[i]] = c.next[i]
	c.prev[c.next[i]] = c.prev[i]
}

// pushFront inserts i immediately after head (the most-recently-used end).
func (c *Cache) pushFront(head, i int) {
	c.next[i] = c.next[head]
	c.prev[i] = head
	c.prev[c.next[head]] = i
	c.next[head] = i
}

// bget finds the buffer for (dev, blockno), or recycles the
// least-recently-used unreferenced buffer for it, and returns it locked.
// Grounded on bget in original_source/bio.c.
func (c *Cache) bget(p sleeplock.Parker, cpu *hal.CPU, enabled bool, holderID int, dev, blockno uint32) *Buf {
	c.lock.Acquire(cpu, enabled)

	sentinel := c.sentinel()
	for i := c.next[sentinel]; i != sentinel; i = c.next[i] {
		b := &c.bufs[i]
		if b.Dev == dev && b.BlockNo == blockno {
			b.refcnt++
			c.lock.Release(cpu)
			b.lock.Acquire(p, cpu, enabled, holderID)
			return b
		}
	}

	for i := c.prev[sentinel]; i != sentinel; i = c.prev[i] {
		b := &c.bufs[i]
		if b.refcnt == 0 {
			b.Dev = dev
			b.BlockNo = blockno
			b.Valid = false
			b.refcnt = 1
			c.unlink(i)
			c.pushFront(sentinel, i)
			c.lock.Release(cpu)
			b.lock.Acquire(p, cpu, enabled, holderID)
			return b
		}
	}

	hal.Panic("bcache: no free buffers")
	return nil
}

// Bread returns a locked buffer holding the contents of (dev, blockno),
// reading from the device if the cached copy is not valid.
func (c *Cache) Bread(p sleeplock.Parker, cpu *hal.CPU, enabled bool, holderID int, dev, blockno uint32) (*Buf, error) {
	b := c.bget(p, cpu, enabled, holderID, dev, blockno)
	if !b.Valid {
		if b.Data == nil {
			b.Data = make([]byte, hal.BSIZE)
		}
		req := hal.NewRequest(false, blockno, b.Data)
		if err := c.queue.Submit(req); err != nil {
			return nil, err
		}
		if err := req.Wait(); err != nil {
			return nil, err
		}
		b.Valid = true
	}
	return b, nil
}

// Bwrite writes b's contents to the disk. Caller must hold b's lock.
func (c *Cache) Bwrite(b *Buf) error {
	req := hal.NewRequest(true, b.BlockNo, b.Data)
	if err := c.queue.Submit(req); err != nil {
		return err
	}
	return req.Wait()
}

// Brelse releases a locked buffer, moving it to the most-recently-used
// end of the list once its reference count drops to zero.
func (c *Cache) Brelse(p sleeplock.Parker, cpu *hal.CPU, enabled bool, holderID int, b *Buf) {
	if !b.lock.Holding(holderID) {
		hal.Panic("bcache: brelse of unheld buffer")
	}
	b.lock.Release(p, cpu, enabled)

	c.lock.Acquire(cpu, enabled)
	b.refcnt--
	if b.refcnt == 0 {
		i := c.indexOf(b)
		c.unlink(i)
		c.pushFront(c.sentinel(), i) // most-recently-used end
	}
	c.lock.Release(cpu)
}

// Pin bumps b's reference count so it survives LRU reclamation even
// after the caller releases its lock, mirroring the ref-counted
// bp->b_count discipline inodes rely on when caching block pointers.
func (c *Cache) Pin(cpu *hal.CPU, enabled bool, b *Buf) {
	c.lock.Acquire(cpu, enabled)
	b.refcnt++
	c.lock.Release(cpu)
}

// Unpin is the inverse of Pin.
func (c *Cache) Unpin(cpu *hal.CPU, enabled bool, b *Buf) {
	c.lock.Acquire(cpu, enabled)
	b.refcnt--
	c.lock.Release(cpu)
}

func (c *Cache) indexOf(b *Buf) int {
	for i := range c.bufs {
		if &c.bufs[i] == b {
			return i
		}
	}
	hal.Panic("bcache: buffer not owned by this cache")
	return -1
}
