// Copyright 2019 the Go-FUSE Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package blockdev is the FIFO request queue sitting between the buffer
// cache and a hal.BlockDevice (spec.md §4.F): submitting a request
// appends it to the queue and, if it is now at the head, issues it to
// the device; a dedicated pump goroutine -- standing in for the
// completion interrupt -- drains the queue in order, serializing all
// access to the device.
package blockdev

import (
	"sync"

	"github.com/xv6go/xv6go/hal"
)

// Queue serializes access to one hal.BlockDevice. Submit blocks the
// caller until the device has completed the request, matching "callers
// submitting then wait on the buffer until its flags become valid" in
// spec.md §4.F.
type Queue struct {
	dev hal.BlockDevice

	mu      sync.Mutex
	pending []*hal.Request
	pumping bool
}

// NewQueue returns a request queue in front of dev.
func NewQueue(dev hal.BlockDevice) *Queue {
	return &Queue{dev: dev}
}

// Submit enqueues req and waits for the device to complete it. If the
// queue was empty, it starts the pump goroutine (the ISR stand-in)
// inline; otherwise an already-running pump will reach req in order.
func (q *Queue) Submit(req *hal.Request) error {
	q.mu.Lock()
	q.pending = append(q.pending, req)
	startPump := !q.pumping
	if startPump {
		q.pumping = true
	}
	q.mu.Unlock()

	if startPump {
		go q.pump()
	}
	return req.Wait()
}

// pump is the device's "interrupt service routine": it pops the head
// request, issues it to the device, waits for the device's completion
// signal, and starts the next one -- all of which, in real xv6, happens
// split across iderw() (issue) and the ide interrupt handler (completion
// + pop + next). Collapsing both halves into one goroutine is faithful
// to the serialization property (spec.md §4.F: "this layer serialises
// device access") without needing a real interrupt to drive it.
func (q *Queue) pump() {
	for {
		q.mu.Lock()
		if len(q.pending) == 0 {
			q.pumping = false
			q.mu.Unlock()
			return
		}
		req := q.pending[0]
		q.pending = q.pending[1:]
		q.mu.Unlock()

		q.dev.Submit(req)
		req.Wait() // completion == the simulated interrupt firing
	}
}

// Len reports how many submitted requests have not yet been issued to
// the device, for tests.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}
