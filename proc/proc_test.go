// Copyright 2019 the Go-FUSE Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package proc

import (
	"context"
	"testing"
	"time"

	"github.com/xv6go/xv6go/hal"
	"github.com/xv6go/xv6go/kerrno"
	"github.com/xv6go/xv6go/pmm"
	"github.com/xv6go/xv6go/spinlock"
	"github.com/xv6go/xv6go/vm"
)

func newTestScheduler(ncpu int64) (*Scheduler, *hal.CPU) {
	kernel := vm.SetupKernelMap(nil)
	return New(kernel, ncpu), hal.NewCPU(0)
}

func newTestProc(t *testing.T, s *Scheduler, cpu *hal.CPU, name string) *Proc {
	p := s.allocproc(name)
	if p == nil {
		t.Fatalf("allocproc(%q): table full", name)
	}
	pool := pmm.NewPool(4)
	as := vm.NewAddressSpace(pool, s.kernel)
	if err := as.InitUVM(cpu, true, []byte("x")); err != nil {
		t.Fatalf("InitUVM: %v", err)
	}
	p.Space = as
	p.Size = vm.PageSize
	s.mu.Lock()
	p.State = Runnable
	s.mu.Unlock()
	return p
}

func TestAllocprocAssignsEmbryoState(t *testing.T) {
	s, _ := newTestScheduler(1)
	p := s.allocproc("init")
	if p == nil {
		t.Fatal("allocproc returned nil on an empty table")
	}
	if p.State != Embryo {
		t.Errorf("State = %v, want Embryo", p.State)
	}
	if p.PID != 1 {
		t.Errorf("PID = %d, want 1", p.PID)
	}
	q := s.allocproc("other")
	if q.PID != 2 {
		t.Errorf("second PID = %d, want 2 (monotonic)", q.PID)
	}
}

func TestAllocprocExhaustionReturnsNil(t *testing.T) {
	s, _ := newTestScheduler(1)
	for i := 0; i < NProc; i++ {
		if s.allocproc("p") == nil {
			t.Fatalf("allocproc failed before table was full, at i=%d", i)
		}
	}
	if s.allocproc("overflow") != nil {
		t.Error("allocproc on a full table did not return nil")
	}
}

func TestForkCopiesAddressSpaceAndMarksRunnable(t *testing.T) {
	s, cpu := newTestScheduler(1)
	parent := newTestProc(t, s, cpu, "parent")

	child, err := s.Fork(cpu, true, parent)
	if err != nil {
		t.Fatalf("Fork: %v", err)
	}
	if child.Parent != parent {
		t.Error("child.Parent != parent")
	}
	if child.State != Runnable {
		t.Errorf("child.State = %v, want Runnable", child.State)
	}
	if child.Size != parent.Size {
		t.Errorf("child.Size = %d, want %d", child.Size, parent.Size)
	}
	if child.Space == parent.Space {
		t.Error("child shares the parent's AddressSpace instead of a copy")
	}
}

func TestForkFailsWhenTableFull(t *testing.T) {
	s, cpu := newTestScheduler(1)
	parent := newTestProc(t, s, cpu, "parent")
	for i := 1; i < NProc; i++ {
		s.allocproc("filler")
	}
	if _, err := s.Fork(cpu, true, parent); err != kerrno.EAGAIN {
		t.Errorf("Fork on a full table = %v, want EAGAIN", err)
	}
}

func TestExitThenWaitReapsChild(t *testing.T) {
	s, cpu := newTestScheduler(1)
	parent := newTestProc(t, s, cpu, "parent")
	child, err := s.Fork(cpu, true, parent)
	if err != nil {
		t.Fatalf("Fork: %v", err)
	}
	childPID := child.PID // Wait clears the reaped slot, PID included

	s.Exit(child, 7)

	pid, status, err := s.Wait(parent)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if pid != childPID {
		t.Errorf("Wait returned pid %d, want %d", pid, childPID)
	}
	if status != 7 {
		t.Errorf("Wait returned status %d, want 7", status)
	}
	if child.State != Unused {
		t.Errorf("reaped child.State = %v, want Unused", child.State)
	}
}

func TestWaitWithNoChildrenReturnsECHILD(t *testing.T) {
	s, cpu := newTestScheduler(1)
	parent := newTestProc(t, s, cpu, "lonely")
	_, _, err := s.Wait(parent)
	if err != kerrno.ECHILD {
		t.Errorf("Wait with no children = %v, want ECHILD", err)
	}
}

func TestWaitBlocksUntilExit(t *testing.T) {
	s, cpu := newTestScheduler(1)
	parent := newTestProc(t, s, cpu, "parent")
	child, err := s.Fork(cpu, true, parent)
	if err != nil {
		t.Fatalf("Fork: %v", err)
	}
	childPID := child.PID // Wait clears the reaped slot, PID included

	done := make(chan int, 1)
	go func() {
		pid, _, err := s.Wait(parent)
		if err != nil {
			t.Error(err)
		}
		done <- pid
	}()

	select {
	case <-done:
		t.Fatal("Wait returned before the child exited")
	case <-time.After(20 * time.Millisecond):
	}

	s.Exit(child, 0)

	select {
	case pid := <-done:
		if pid != childPID {
			t.Errorf("Wait returned pid %d, want %d", pid, childPID)
		}
	case <-time.After(time.Second):
		t.Fatal("Wait never unblocked after Exit")
	}
}

func TestExitReparentsChildrenToInit(t *testing.T) {
	s, cpu := newTestScheduler(1)
	initProc := newTestProc(t, s, cpu, "init") // first allocproc call -> becomes s.initProc
	parent := newTestProc(t, s, cpu, "parent")
	child, err := s.Fork(cpu, true, parent)
	if err != nil {
		t.Fatalf("Fork: %v", err)
	}

	s.Exit(parent, 0)

	if child.Parent != initProc {
		t.Errorf("child.Parent = %v, want init %v", child.Parent, initProc)
	}
}

func TestSleepTicksKilledReturnsEINTR(t *testing.T) {
	s, cpu := newTestScheduler(1)
	p := newTestProc(t, s, cpu, "sleeper")
	timer := &hal.SimTimer{}

	done := make(chan error, 1)
	go func() { done <- s.SleepTicks(p, timer, 1000) }()

	time.Sleep(20 * time.Millisecond)
	s.mu.Lock()
	state := p.State
	s.mu.Unlock()
	if state != Sleeping {
		t.Fatalf("state while blocked in SleepTicks = %v, want Sleeping", state)
	}

	if err := s.Kill(p.PID); err != nil {
		t.Fatalf("Kill: %v", err)
	}

	select {
	case err := <-done:
		if err != kerrno.EINTR {
			t.Errorf("SleepTicks after Kill = %v, want EINTR", err)
		}
	case <-time.After(time.Second):
		t.Fatal("SleepTicks never returned after Kill")
	}

	s.mu.Lock()
	state = p.State
	s.mu.Unlock()
	if state != Runnable {
		t.Errorf("state after Kill = %v, want Runnable", state)
	}
}

func TestSleepTicksWakesAfterTicksAdvance(t *testing.T) {
	s, cpu := newTestScheduler(1)
	p := newTestProc(t, s, cpu, "sleeper")
	timer := &hal.SimTimer{}

	done := make(chan error, 1)
	go func() { done <- s.SleepTicks(p, timer, 3) }()

	time.Sleep(20 * time.Millisecond)
	for i := 0; i < 3; i++ {
		s.AdvanceClock(timer)
	}

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("SleepTicks = %v, want nil", err)
		}
	case <-time.After(time.Second):
		t.Fatal("SleepTicks never returned after ticks advanced")
	}

	s.mu.Lock()
	state := p.State
	s.mu.Unlock()
	if state != Runnable {
		t.Errorf("state after wake = %v, want Runnable", state)
	}
}

func TestKillUnknownPidErrors(t *testing.T) {
	s, _ := newTestScheduler(1)
	if err := s.Kill(999); err == nil {
		t.Error("Kill of a nonexistent pid did not error")
	}
}

func TestKillSetsKilledFlag(t *testing.T) {
	s, cpu := newTestScheduler(1)
	p := newTestProc(t, s, cpu, "victim")
	if err := s.Kill(p.PID); err != nil {
		t.Fatalf("Kill: %v", err)
	}
	if !p.Killed {
		t.Error("Killed flag not set after Kill")
	}
}

func TestSleepWakeupRendezvous(t *testing.T) {
	s, cpu1 := newTestScheduler(2)
	cpu2 := hal.NewCPU(1)
	lk := spinlock.New("chan")

	type waitChan struct{}
	ch := waitChan{}

	woke := make(chan struct{})
	go func() {
		lk.Acquire(cpu2, true)
		s.Sleep(cpu2, ch, lk, true)
		lk.Release(cpu2)
		close(woke)
	}()

	// Give the goroutine a chance to reach Sleep before waking it.
	time.Sleep(20 * time.Millisecond)

	lk.Acquire(cpu1, true)
	lk.Release(cpu1)
	s.Wakeup(ch)

	select {
	case <-woke:
	case <-time.After(time.Second):
		t.Fatal("Sleep never returned after Wakeup")
	}
}

func TestRunBoundsConcurrentProcs(t *testing.T) {
	s, cpu := newTestScheduler(1)
	p1 := newTestProc(t, s, cpu, "a")
	p2 := newTestProc(t, s, cpu, "b")

	entered := make(chan struct{})
	release := make(chan struct{})
	go s.Run(context.Background(), p1, func() {
		close(entered)
		<-release
	})

	select {
	case <-entered:
	case <-time.After(time.Second):
		t.Fatal("first Run never started")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	if err := s.Run(ctx, p2, func() {}); err == nil {
		t.Error("second Run acquired a slot while NCPU=1 was already in use")
	}

	close(release)
}

func TestRunMarksRunningThenRunnable(t *testing.T) {
	s, cpu := newTestScheduler(1)
	p := newTestProc(t, s, cpu, "a")

	var sawRunning State
	s.Run(context.Background(), p, func() {
		s.mu.Lock()
		sawRunning = p.State
		s.mu.Unlock()
	})

	if sawRunning != Running {
		t.Errorf("state during Run = %v, want Running", sawRunning)
	}
	if p.State != Runnable {
		t.Errorf("state after Run = %v, want Runnable", p.State)
	}
}
