// Copyright 2019 the Go-FUSE Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package fs

import (
	"os"

	"github.com/xv6go/xv6go/bcache"
	"github.com/xv6go/xv6go/fslog"
	"github.com/xv6go/xv6go/hal"
	"github.com/xv6go/xv6go/kerrno"
	"github.com/xv6go/xv6go/sleeplock"
	"github.com/xv6go/xv6go/spinlock"
)

// NInodeCache is the number of in-memory inode cache slots, matching
// NINODE in original_source/param.h.
const NInodeCache = 50

// Inode is the in-memory half of an inode: a cached, reference-counted
// copy of a Dinode plus the bookkeeping the cache needs. The
// ref/valid/lock discipline is spec.md §3's: ref (protected by the
// cache's spinlock) keeps the slot from being recycled, valid says
// whether Dinode has been read from disk yet, and lock is the
// per-inode sleeplock serializing access to its own fields and data.
type Inode struct {
	Dev  uint32
	Inum uint32

	ref   int
	valid bool
	lock  *sleeplock.Sleeplock

	Dinode
}

// Tree is the inode-layer singleton for one mounted filesystem: the
// superblock, the inode cache, and the handles to the layers beneath it
// (buffer cache, log). One per kernel instance, constructed by boot, not
// a package-level var.
type Tree struct {
	dev   uint32
	sb    SuperBlock
	cache *bcache.Cache
	log   *fslog.Log

	cpu      *hal.CPU
	parker   sleeplock.Parker
	holderID int

	iLock  *spinlock.Spinlock
	inodes []Inode

	devsw   [NDev]DeviceSwitch
	console *consoleDevice
}

// NewTree constructs the inode layer over an already-initialized buffer
// cache and log, reading the superblock from block 1 of dev (matching
// xv6's fixed superblock location).
func NewTree(cache *bcache.Cache, log *fslog.Log, parker sleeplock.Parker, cpu *hal.CPU, holderID int, dev uint32) (*Tree, error) {
	t := &Tree{
		dev: dev, cache: cache, log: log,
		cpu: cpu, parker: parker, holderID: holderID,
		iLock:  spinlock.New("icache"),
		inodes: make([]Inode, NInodeCache),
	}
	for i := range t.inodes {
		t.inodes[i].lock = sleeplock.New("inode")
	}
	b, err := t.readBlock(1)
	if err != nil {
		return nil, err
	}
	t.sb.decode(b.Data)
	t.releaseBlock(b)

	t.console = &consoleDevice{sink: os.Stderr}
	t.RegisterDevice(ConsoleMajor, DeviceSwitch{Read: t.console.read, Write: t.console.write})
	return t, nil
}

func (t *Tree) readBlock(blockno uint32) (*bcache.Buf, error) {
	return t.cache.Bread(t.parker, t.cpu, true, t.holderID, t.dev, blockno)
}

func (t *Tree) releaseBlock(b *bcache.Buf) {
	t.cache.Brelse(t.parker, t.cpu, true, t.holderID, b)
}

// Ialloc finds a free Dinode slot of the given type on disk, marks it
// allocated, and returns an unlocked in-memory handle for it. Must be
// called within a log transaction. Grounded on ialloc.
func (t *Tree) Ialloc(kind int16) (*Inode, error) {
	for inum := uint32(1); inum < t.sb.NInodes; inum++ {
		b, err := t.readBlock(t.sb.IBlock(inum))
		if err != nil {
			return nil, err
		}
		off := (inum % (BSize / dinodeSize)) * dinodeSize
		var d Dinode
		d.decode(b.Data[off : off+dinodeSize])
		if d.Type == TypeFree {
			d = Dinode{Type: kind}
			d.encode(b.Data[off : off+dinodeSize])
			t.log.LogWrite(b)
			t.releaseBlock(b)
			return t.Iget(inum), nil
		}
		t.releaseBlock(b)
	}
	return nil, kerrno.ENOSPC
}

// Iget returns an in-memory handle for inum, incrementing its reference
// count, without locking it or reading it from disk. Grounded on iget.
func (t *Tree) Iget(inum uint32) *Inode {
	t.iLock.Acquire(t.cpu, true)
	defer t.iLock.Release(t.cpu)

	var empty *Inode
	for i := range t.inodes {
		ip := &t.inodes[i]
		if ip.ref > 0 && ip.Dev == t.dev && ip.Inum == inum {
			ip.ref++
			return ip
		}
		if empty == nil && ip.ref == 0 {
			empty = ip
		}
	}
	if empty == nil {
		hal.Panic("fs: inode cache exhausted")
	}
	empty.Dev = t.dev
	empty.Inum = inum
	empty.ref = 1
	empty.valid = false
	return empty
}

// Ilock locks ip and, if it has not yet been read, loads its Dinode from
// disk. Grounded on ilock.
func (t *Tree) Ilock(ip *Inode, holderID int) error {
	if ip == nil || ip.ref < 1 {
		hal.Panic("fs: ilock of unreferenced inode")
	}
	ip.lock.Acquire(t.parker, t.cpu, true, holderID)
	if !ip.valid {
		b, err := t.readBlock(t.sb.IBlock(ip.Inum))
		if err != nil {
			ip.lock.Release(t.parker, t.cpu, true)
			return err
		}
		off := (ip.Inum % (BSize / dinodeSize)) * dinodeSize
		ip.Dinode.decode(b.Data[off : off+dinodeSize])
		t.releaseBlock(b)
		ip.valid = true
		if ip.Type == TypeFree {
			ip.lock.Release(t.parker, t.cpu, true)
			return kerrno.ENOENT
		}
	}
	return nil
}

// Iunlock releases ip's lock.
func (t *Tree) Iunlock(ip *Inode, holderID int) {
	if !ip.lock.Holding(holderID) {
		hal.Panic("fs: iunlock of unheld inode")
	}
	ip.lock.Release(t.parker, t.cpu, true)
}

// Iupdate writes ip's in-memory Dinode back to its disk block. Must be
// called within a transaction. Grounded on iupdate.
func (t *Tree) Iupdate(ip *Inode) error {
	b, err := t.readBlock(t.sb.IBlock(ip.Inum))
	if err != nil {
		return err
	}
	off := (ip.Inum % (BSize / dinodeSize)) * dinodeSize
	ip.Dinode.encode(b.Data[off : off+dinodeSize])
	t.log.LogWrite(b)
	t.releaseBlock(b)
	return nil
}

// Iput drops a reference to ip. If that was the last reference and the
// inode has no links, its blocks and on-disk slot are freed. Must be
// called within a transaction when ip.Nlink may reach zero. Grounded on
// iput.
func (t *Tree) Iput(ip *Inode, holderID int) error {
	ip.lock.Acquire(t.parker, t.cpu, true, holderID)
	if ip.valid && ip.Nlink == 0 {
		t.iLock.Acquire(t.cpu, true)
		r := ip.ref
		t.iLock.Release(t.cpu)
		if r == 1 {
			if err := t.itrunc(ip); err != nil {
				ip.lock.Release(t.parker, t.cpu, true)
				return err
			}
			ip.Type = TypeFree
			if err := t.Iupdate(ip); err != nil {
				ip.lock.Release(t.parker, t.cpu, true)
				return err
			}
			ip.valid = false
		}
	}
	ip.lock.Release(t.parker, t.cpu, true)

	t.iLock.Acquire(t.cpu, true)
	ip.ref--
	t.iLock.Release(t.cpu)
	return nil
}

// Dup increments ip's reference count and returns ip, mirroring idup.
func (t *Tree) Dup(ip *Inode) *Inode {
	t.iLock.Acquire(t.cpu, true)
	ip.ref++
	t.iLock.Release(t.cpu)
	return ip
}

// Stat is the subset of inode metadata user space can observe, matching
// struct stat in original_source/stat.h.
type Stat struct {
	Dev   uint32
	Inum  uint32
	Type  int16
	Nlink int16
	Size  uint32
}

// IStat fills in st from ip, which must already be locked.
func (t *Tree) IStat(ip *Inode, st *Stat) {
	st.Dev = ip.Dev
	st.Inum = ip.Inum
	st.Type = ip.Type
	st.Nlink = ip.Nlink
	st.Size = ip.Size
}
