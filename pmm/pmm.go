// Copyright 2019 the Go-FUSE Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package pmm is the physical page allocator: a free-list of fixed-size
// frames (spec.md §4.C). There is no real physical memory to carve up in
// user space, so a Pool owns a fixed arena of page-sized []byte frames
// and hands out indices into it; Kalloc/Kfree keep the free-list
// semantics (LIFO reuse, junk-fill on free) faithfully.
package pmm

import (
	"github.com/xv6go/xv6go/hal"
	"github.com/xv6go/xv6go/spinlock"
)

// PageSize is the frame size xv6 uses throughout (spec.md §3).
const PageSize = 4096

// junkByte fills freed pages to catch dangling references, mirroring
// kfree's memset(v, 1, PGSIZE) in original_source/kalloc.c.
const junkByte = 0x01

// Page is a handle to one allocated frame.
type Page struct {
	idx  int
	Data []byte
}

// Pool is the process-wide page free-list singleton, constructed once
// per kernel instance (never a package-level var — see DESIGN.md).
type Pool struct {
	lock     *spinlock.Spinlock
	useLock  bool
	frames   [][]byte
	freelist []int // stack of free frame indices, LIFO like xv6's linked list
}

// NewPool preallocates n page-sized frames with no locking yet — this is
// stage 1 of the two-phase init in spec.md §4.C, safe to call before the
// rest of the kernel mapping exists.
func NewPool(n int) *Pool {
	p := &Pool{lock: spinlock.New("kmem")}
	p.frames = make([][]byte, n)
	for i := range p.frames {
		p.frames[i] = make([]byte, PageSize)
		p.freelist = append(p.freelist, i)
	}
	return p
}

// EnableLocking is stage 2 of init: turn on the spinlock once the rest of
// the kernel is ready to schedule concurrently.
func (p *Pool) EnableLocking() {
	p.useLock = true
}

// Kalloc removes and returns the most recently freed frame, or nil if the
// pool is exhausted.
func (p *Pool) Kalloc(cpu *hal.CPU, interruptsEnabled bool) *Page {
	if p.useLock {
		p.lock.Acquire(cpu, interruptsEnabled)
		defer p.lock.Release(cpu)
	}
	n := len(p.freelist)
	if n == 0 {
		return nil
	}
	idx := p.freelist[n-1]
	p.freelist = p.freelist[:n-1]
	return &Page{idx: idx, Data: p.frames[idx]}
}

// Kfree validates pg belongs to this pool, junk-fills it, and pushes it
// back on the free-list.
func (p *Pool) Kfree(cpu *hal.CPU, interruptsEnabled bool, pg *Page) {
	if pg == nil || pg.idx < 0 || pg.idx >= len(p.frames) || &p.frames[pg.idx][0] != &pg.Data[0] {
		hal.Panic("pmm: kfree of invalid page")
	}
	for i := range pg.Data {
		pg.Data[i] = junkByte
	}
	if p.useLock {
		p.lock.Acquire(cpu, interruptsEnabled)
		defer p.lock.Release(cpu)
	}
	p.freelist = append(p.freelist, pg.idx)
}

// Free reports how many frames remain available, for tests and
// diagnostics.
func (p *Pool) Free() int {
	return len(p.freelist)
}
