// Copyright 2019 the Go-FUSE Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package pipe is the in-kernel anonymous pipe (spec.md §4.I): a fixed
// capacity ring buffer shared between a read end and a write end, with
// unbounded read/write counters so "empty" and "full" are distinguished
// by nread == nwrite vs. nwrite - nread == capacity rather than by a
// separate flag.
//
// Grounded on original_source/code/pipe.c's pipewrite/piperead, and in
// shape (a struct pairing a read side and a write side with Close/Read/
// Write methods) on splice/pair.go's Pair -- reimplemented here with a
// sync.Cond wait/wakeup loop standing in for xv6's sleep(&p->nwrite, ...)
// since there is no real file-descriptor-backed OS pipe underneath.
package pipe

import (
	"sync"

	"github.com/xv6go/xv6go/kerrno"
)

// Capacity is the ring buffer size, matching PIPESIZE in
// original_source/code/pipe.h.
const Capacity = 512

// Pipe is one anonymous pipe's shared state.
type Pipe struct {
	mu   sync.Mutex
	cond *sync.Cond
	data [Capacity]byte

	nread, nwrite uint64 // unbounded counters; position mod Capacity

	readOpen, writeOpen bool
}

// New returns a pipe with both ends open.
func New() *Pipe {
	p := &Pipe{readOpen: true, writeOpen: true}
	p.cond = sync.NewCond(&p.mu)
	return p
}

// CloseWriter closes the write end, waking any blocked reader so it can
// observe end-of-file.
func (p *Pipe) CloseWriter() {
	p.mu.Lock()
	p.writeOpen = false
	p.cond.Broadcast()
	p.mu.Unlock()
}

// CloseReader closes the read end, waking any blocked writer so it can
// fail (with kerrno.EBADF) instead of blocking forever.
func (p *Pipe) CloseReader() {
	p.mu.Lock()
	p.readOpen = false
	p.cond.Broadcast()
	p.mu.Unlock()
}

// Write copies src into the pipe, blocking while the buffer is full,
// and returns the number of bytes written (less than len(src) only if
// the reader closed its end mid-write). Grounded on pipewrite.
func (p *Pipe) Write(src []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	n := 0
	for n < len(src) {
		if !p.readOpen {
			return n, kerrno.EBADF // EPIPE has no dedicated constant here
		}
		if p.nwrite-p.nread == Capacity {
			p.cond.Broadcast() // wake any waiting reader first
			p.cond.Wait()
			continue
		}
		p.data[p.nwrite%Capacity] = src[n]
		p.nwrite++
		n++
	}
	p.cond.Broadcast()
	return n, nil
}

// Read copies up to len(dst) available bytes into dst, blocking if the
// pipe is empty and the write end is still open. A read against an
// empty, write-closed pipe returns (0, nil), matching xv6's
// end-of-file-via-zero-read convention. Grounded on piperead.
func (p *Pipe) Read(dst []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for p.nread == p.nwrite && p.writeOpen {
		p.cond.Wait()
	}

	n := 0
	for n < len(dst) && p.nread < p.nwrite {
		dst[n] = p.data[p.nread%Capacity]
		p.nread++
		n++
	}
	p.cond.Broadcast() // wake any waiting writer: there is now room
	return n, nil
}
