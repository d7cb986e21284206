//go:build !linux

// Copyright 2019 the Go-FUSE Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package blockdev

import (
	"fmt"
	"os"

	"github.com/xv6go/xv6go/hal"
)

// FileDisk is a hal.BlockDevice backed by a regular file, read and
// written with os.File.ReadAt/WriteAt. Platforms with a faster direct
// syscall path (Linux's pread64/pwrite64 via golang.org/x/sys/unix) get
// their own implementation in filedisk_linux.go; this one exists so the
// rest of the kernel builds everywhere the module's other dependencies
// do.
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

func (d *FileDisk) Submit(req *hal.Request) error {
	if req.BlockNo >= d.nsector {
		err := fmt.Errorf("filedisk: blockno %d out of range", req.BlockNo)
		req.Complete(err)
		return err
	}
	off := int64(req.BlockNo) * hal.BSIZE
	var err error
	if req.Write {
		_, err = d.f.WriteAt(req.Data, off)
	} else {
		_, err = d.f.ReadAt(req.Data, off)
	}
	req.Complete(err)
	return err
}

func (d *FileDisk) Close() error {
	return d.f.Close()
}
