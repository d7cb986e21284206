// Copyright 2019 the Go-FUSE Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package hal is the small interface vocabulary the kernel core is built
// against: a block device, a timer, a console sink and a TLB. Direct
// hardware interaction is out of scope (spec.md §1); everything here is
// satisfied either by a simulated in-memory backend (tests) or a
// file-backed one (blockdev, for the demo binary).
package hal

import "sync"

// BSIZE is the fundamental disk I/O unit, matching the host sector size
// used throughout the on-disk layout (spec.md §3).
const BSIZE = 512

// Request is one pending disk operation submitted to a BlockDevice. The
// device calls Complete once the operation completes (or fails), and Wait
// returns the result from that point on. This stands in for spec.md §4.F's
// ISR-driven completion signal.
type Request struct {
	Write   bool
	BlockNo uint32
	Data    []byte // exactly BSIZE bytes

	mu   sync.Mutex
	done chan struct{}
	err  error
}

// NewRequest allocates a Request with its completion channel ready.
func NewRequest(write bool, blockno uint32, data []byte) *Request {
	return &Request{Write: write, BlockNo: blockno, Data: data, done: make(chan struct{})}
}

// Complete marks the request done; only the device (or its ISR goroutine)
// calls this, exactly once.
func (r *Request) Complete(err error) {
	r.mu.Lock()
	r.err = err
	r.mu.Unlock()
	close(r.done)
}

// Wait blocks until the device has completed the request and returns its
// error, mirroring "callers submitting then wait on the buffer until its
// flags become {valid, not dirty}" from spec.md §4.F.
func (r *Request) Wait() error {
	<-r.done
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// BlockDevice is the disk-I/O contract consumed by the log and buffer
// cache: submit a request, and the device calls Complete on it when the
// operation finishes (SimDisk and blockdev's FileDisk do so before Submit
// returns).
type BlockDevice interface {
	NSectors() uint32
	Submit(req *Request) error
}

// Timer is the tick source sleep(ticks) waits on.
type Timer interface {
	Ticks() uint64
}

// ConsoleSink is the character-device console the kernel writes
// diagnostics and device-file data through.
type ConsoleSink interface {
	Write(p []byte) (int, error)
}

// TLB models the address-translation cache that must be invalidated
// after a page-table edit affecting the running process; real x86 TLB
// invalidation is out of scope, but the interface lets vm call a no-op
// or test double uniformly.
type TLB interface {
	Flush(asid uint32)
}

// NopTLB never needs flushing: it exists only to model the seam where
// the real MMU invalidation would happen.
type NopTLB struct{}

func (NopTLB) Flush(uint32) {}
