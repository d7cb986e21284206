// Copyright 2019 the Go-FUSE Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package hal

import "fmt"

// CPU is the Go stand-in for xv6's per-CPU struct (spec.md §3, "CPU
// record"). Go has no goroutine-local storage, so there is no way to
// recover "the current CPU" the way xv6 reads a segment register; every
// function that needs interrupt-disable nesting takes a *CPU explicitly
// instead. One CPU is allocated per scheduler goroutine at boot and
// threaded through calls on that goroutine's stack.
type CPU struct {
	ID int

	// ncli counts nested interrupt-disable regions (pushcli/popcli in
	// spec.md §4.A); intenaWas records whether interrupts were enabled
	// before the first disable in the current nest.
	ncli      int
	intenaWas bool

	// Current holds the process presently assigned to this CPU, or nil.
	// Mirrors struct cpu's `proc` field.
	Current any
}

// NewCPU constructs an idle CPU record with the given id.
func NewCPU(id int) *CPU {
	return &CPU{ID: id}
}

// PushCLI disables "interrupts" on this CPU, incrementing the nesting
// depth. enabled reports whether interrupts were enabled before this call,
// and must be threaded through to the matching PopCLI so the first
// disable's state is what gets restored (spec.md §4.A).
func (c *CPU) PushCLI(enabled bool) {
	if c.ncli == 0 {
		c.intenaWas = enabled
	}
	c.ncli++
}

// PopCLI reverses one PushCLI. It returns whether interrupts should now be
// re-enabled: only once ncli returns to zero, and only if they were
// enabled before the very first PushCLI in the nest.
func (c *CPU) PopCLI() (reenable bool) {
	c.ncli--
	if c.ncli < 0 {
		panic(fmt.Sprintf("cpu %d: popcli without matching pushcli", c.ID))
	}
	return c.ncli == 0 && c.intenaWas
}

// Ncli reports the current interrupt-disable nesting depth, for
// assertions like sched()'s "ncli==1" precondition (spec.md §4.J).
func (c *CPU) Ncli() int { return c.ncli }
