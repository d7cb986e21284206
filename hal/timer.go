// Copyright 2019 the Go-FUSE Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package hal

import "sync/atomic"

// SimTimer is a software clock satisfying Timer: Tick advances it by one
// and Ticks reads the current count. Grounded on the global `ticks`
// counter guarded by tickslock in original_source/trap.c's clock
// interrupt handler, simulating the periodic timer interrupt without a
// real hardware clock.
type SimTimer struct {
	ticks uint64
}

// Tick advances the clock by one and returns the new count.
func (t *SimTimer) Tick() uint64 {
	return atomic.AddUint64(&t.ticks, 1)
}

// Ticks reports the current tick count, satisfying Timer.
func (t *SimTimer) Ticks() uint64 {
	return atomic.LoadUint64(&t.ticks)
}
