// Copyright 2019 the Go-FUSE Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package hal

import (
	"fmt"
	"sync"
)

// SimDisk is an in-memory BlockDevice backed by a flat byte slice, for
// unit tests that don't need a real file on disk. It completes requests
// synchronously from Submit's caller goroutine, which is enough to drive
// blockdev's queue/ISR split in tests without real async I/O.
type SimDisk struct {
	mu      sync.Mutex
	sectors [][]byte
}

// NewSimDisk allocates a zeroed disk of n BSIZE sectors.
func NewSimDisk(n uint32) *SimDisk {
	d := &SimDisk{sectors: make([][]byte, n)}
	for i := range d.sectors {
		d.sectors[i] = make([]byte, BSIZE)
	}
	return d
}

func (d *SimDisk) NSectors() uint32 { return uint32(len(d.sectors)) }

func (d *SimDisk) Submit(req *Request) error {
	d.mu.Lock()
	if int(req.BlockNo) >= len(d.sectors) {
		d.mu.Unlock()
		err := fmt.Errorf("simdisk: blockno %d out of range", req.BlockNo)
		req.Complete(err)
		return err
	}
	if req.Write {
		copy(d.sectors[req.BlockNo], req.Data)
	} else {
		copy(req.Data, d.sectors[req.BlockNo])
	}
	d.mu.Unlock()
	req.Complete(nil)
	return nil
}
