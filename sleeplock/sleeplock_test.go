// Copyright 2019 the Go-FUSE Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package sleeplock

import (
	"sync"
	"testing"

	"github.com/xv6go/xv6go/hal"
	"github.com/xv6go/xv6go/spinlock"
)

// fakeParker is a minimal Parker, since there's no real scheduler in this
// test: Sleep releases lk while holding its own mutex, waits for the next
// Wakeup, then reacquires lk.
type fakeParker struct {
	mu      sync.Mutex
	cond    *sync.Cond
	wokenOn []any
}

func newFakeParker() *fakeParker {
	p := &fakeParker{}
	p.cond = sync.NewCond(&p.mu)
	return p
}

func (p *fakeParker) Sleep(cpu *hal.CPU, channel any, lk *spinlock.Spinlock, enabled bool) {
	p.mu.Lock()
	lk.Release(cpu)
	p.cond.Wait()
	p.mu.Unlock()
	lk.Acquire(cpu, enabled)
}

func (p *fakeParker) Wakeup(channel any) {
	p.mu.Lock()
	p.wokenOn = append(p.wokenOn, channel)
	p.cond.Broadcast()
	p.mu.Unlock()
}

func TestAcquireReleaseHandoff(t *testing.T) {
	p := newFakeParker()
	sl := New("buf")
	cpu := hal.NewCPU(0)

	sl.Acquire(p, cpu, true, 1)
	if !sl.Holding(1) {
		t.Fatal("Holding(1) false after Acquire by 1")
	}

	done := make(chan struct{})
	go func() {
		cpu2 := hal.NewCPU(1)
		sl.Acquire(p, cpu2, true, 2)
		if !sl.Holding(2) {
			t.Error("Holding(2) false after second Acquire")
		}
		sl.Release(p, cpu2, true)
		close(done)
	}()

	// Release; the second acquirer gets the lock whether it is already
	// blocked in Acquire or arrives afterwards.
	sl.Release(p, cpu, true)
	<-done
}
