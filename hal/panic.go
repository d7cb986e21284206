// Copyright 2019 the Go-FUSE Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package hal

import (
	"fmt"
	"os"
	"runtime/debug"
	"sync/atomic"
)

// panicked is set the moment any CPU calls Panic, so other goroutines can
// notice and stop touching shared state; it is the Go stand-in for xv6's
// global "panicked" flag that signals other CPUs via cross-calls.
var panicked int32

// Panicked reports whether the kernel has already panicked on some
// goroutine.
func Panicked() bool {
	return atomic.LoadInt32(&panicked) != 0
}

// PanicFunc is the process-wide abort primitive (spec.md §7 tier 3). It
// must be callable from any goroutine, including one standing in for an
// interrupt handler: it takes no locks and allocates nothing beyond the
// message and backtrace it is about to print. Tests override it to avoid
// exiting the test binary.
var PanicFunc = func(format string, args ...any) {
	atomic.StoreInt32(&panicked, 1)
	fmt.Fprintf(os.Stderr, "kernel panic: "+format+"\n", args...)
	os.Stderr.Write(debug.Stack())
	os.Exit(2)
}

// Panic invokes PanicFunc. Every invariant violation in the kernel
// packages (double spinlock acquisition, release by a non-owner, cache
// exhaustion, log overflow, ...) goes through here.
func Panic(format string, args ...any) {
	PanicFunc(format, args...)
}
