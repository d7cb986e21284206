//go:build linux
// +build linux

// Copyright 2019 the Go-FUSE Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package blockdev

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"

	"github.com/xv6go/xv6go/hal"
)

// FileDisk is a hal.BlockDevice backed by a regular file, read and
// written with pread64/pwrite64 via golang.org/x/sys/unix -- the same
// direct-syscall idiom the teacher uses to talk to the real filesystem
// in fs/loopback_linux.go, here aimed at a flat disk image instead of a
// POSIX directory tree.
type FileDisk struct {
	f       *os.File
	nsector uint32
}

// OpenFileDisk opens (or creates, if it doesn't exist) path as a flat
// disk image of nsectors hal.BSIZE-byte sectors.
func OpenFileDisk(path string, nsectors uint32) (*FileDisk, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o600)
	if err != nil {
		return nil, err
	}
	size := int64(nsectors) * hal.BSIZE
	if err := f.Truncate(size); err != nil {
		f.Close()
		return nil, err
	}
	return &FileDisk{f: f, nsector: nsectors}, nil
}

func (d *FileDisk) NSectors() uint32 { return d.nsector }

// Submit performs the read or write synchronously via unix.Pread/Pwrite
// and reports completion through req.Done -- Queue's pump goroutine is
// what gives this the appearance of an asynchronous ISR-driven device.
func (d *FileDisk) Submit(req *hal.Request) error {
	if req.BlockNo >= d.nsector {
		err := fmt.Errorf("filedisk: blockno %d out of range", req.BlockNo)
		req.Complete(err)
		return err
	}
	off := int64(req.BlockNo) * hal.BSIZE
	var err error
	if req.Write {
		_, err = unix.Pwrite(int(d.f.Fd()), req.Data, off)
	} else {
		_, err = unix.Pread(int(d.f.Fd()), req.Data, off)
	}
	req.Complete(err)
	return err
}

// Close releases the backing file.
func (d *FileDisk) Close() error {
	return d.f.Close()
}
