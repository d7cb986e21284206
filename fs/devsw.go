// Copyright 2019 the Go-FUSE Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package fs

import (
	"github.com/xv6go/xv6go/hal"
	"github.com/xv6go/xv6go/kerrno"
)

// NDev bounds the device-switch table, matching NDEV in
// original_source/file.h.
const NDev = 10

// ConsoleMajor is the device major number reserved for the console,
// matching CONSOLE in original_source/file.h.
const ConsoleMajor = 1

// DeviceSwitch is one device driver's read/write entry points, matching
// struct devsw { int (*read)(struct inode*, char*, int); int
// (*write)(struct inode*, char*, int); } in original_source/file.h.
type DeviceSwitch struct {
	Read  func(ip *Inode, dst []byte) (int, error)
	Write func(ip *Inode, src []byte) (int, error)
}

// RegisterDevice installs sw as major's device driver, the Go
// equivalent of the devsw[CONSOLE].write = consolewrite; assignment in
// original_source/console.c's consoleinit. A zero-value DeviceSwitch
// slot behaves as "no driver" (Readi/Writei return EINVAL), matching
// devsw[major].read/write being a null function pointer.
func (t *Tree) RegisterDevice(major int16, sw DeviceSwitch) {
	t.devsw[major] = sw
}

// deviceRead and deviceWrite dispatch a TypeDev inode's I/O through the
// device-switch table, matching readi/writei's "if(ip->type ==
// T_DEV){...return devsw[ip->major].read/write(ip, dst/src, n);}"
// branch in original_source/fs.c.
func (t *Tree) deviceRead(ip *Inode, dst []byte) (int, error) {
	if ip.Major < 0 || int(ip.Major) >= NDev || t.devsw[ip.Major].Read == nil {
		return 0, kerrno.EINVAL
	}
	return t.devsw[ip.Major].Read(ip, dst)
}

func (t *Tree) deviceWrite(ip *Inode, src []byte) (int, error) {
	if ip.Major < 0 || int(ip.Major) >= NDev || t.devsw[ip.Major].Write == nil {
		return 0, kerrno.EINVAL
	}
	return t.devsw[ip.Major].Write(ip, src)
}

// consoleDevice is the trivial in-memory console driver installed at
// ConsoleMajor by default: writes go to an hal.ConsoleSink, and reads
// drain a small buffer tests/callers feed through FeedConsole, standing
// in for consoleintr's interrupt-fed input queue without simulating a
// real keyboard.
type consoleDevice struct {
	sink hal.ConsoleSink
	in   []byte
}

func (c *consoleDevice) read(ip *Inode, dst []byte) (int, error) {
	n := copy(dst, c.in)
	c.in = c.in[n:]
	return n, nil
}

func (c *consoleDevice) write(ip *Inode, src []byte) (int, error) {
	return c.sink.Write(src)
}

// FeedConsole appends data to the default console device's input queue,
// so a subsequent Readi from a console device file returns it. Grounded
// on consoleintr appending typed characters to the input buffer.
func (t *Tree) FeedConsole(data []byte) {
	t.console.in = append(t.console.in, data...)
}
