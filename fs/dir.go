// Copyright 2019 the Go-FUSE Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package fs

import (
	"github.com/xv6go/xv6go/hal"
	"github.com/xv6go/xv6go/kerrno"
)

// Dirlookup scans directory dip for name, returning the matching
// inode (unlocked, referenced) and the byte offset of its directory
// entry. dip must be locked and be a directory. Grounded on dirlookup.
func (t *Tree) Dirlookup(dip *Inode, name string) (*Inode, uint32, error) {
	if dip.Type != TypeDir {
		hal.Panic("fs: dirlookup of non-directory")
	}

	var e Dirent
	buf := make([]byte, direntSize)
	for off := uint32(0); off < dip.Size; off += direntSize {
		n, err := t.Readi(dip, buf, off)
		if err != nil {
			return nil, 0, err
		}
		if n != direntSize {
			hal.Panic("fs: dirlookup: short read")
		}
		e.decode(buf)
		if e.Inum == 0 {
			continue
		}
		if e.NameString() == name {
			return t.Iget(uint32(e.Inum)), off, nil
		}
	}
	return nil, 0, kerrno.ENOENT
}

// Dirlink writes a new entry (name -> inum) into directory dip, reusing
// an empty slot if one exists. dip must be locked and the caller must be
// inside a log transaction. Grounded on dirlink.
func (t *Tree) Dirlink(dip *Inode, name string, inum uint32) error {
	if existing, _, err := t.Dirlookup(dip, name); err == nil {
		if existing == dip {
			// dip is already locked by the caller; drop the extra
			// reference without taking its lock a second time.
			t.iLock.Acquire(t.cpu, true)
			existing.ref--
			t.iLock.Release(t.cpu)
		} else {
			t.Iput(existing, 0)
		}
		return kerrno.EEXIST
	}

	var e Dirent
	buf := make([]byte, direntSize)
	off := uint32(0)
	for ; off < dip.Size; off += direntSize {
		n, err := t.Readi(dip, buf, off)
		if err != nil {
			return err
		}
		if n != direntSize {
			hal.Panic("fs: dirlink: short read")
		}
		e.decode(buf)
		if e.Inum == 0 {
			break
		}
	}

	e = Dirent{Inum: uint16(inum)}
	setDirentName(&e, name)
	e.encode(buf)
	if _, err := t.Writei(dip, buf, off); err != nil {
		return err
	}
	return nil
}

// WriteDirent overwrites the directory entry at byte offset off with e,
// used by unlink to clear an entry in place. dip must be locked and the
// caller must be inside a log transaction.
func (t *Tree) WriteDirent(dip *Inode, off uint32, e *Dirent) error {
	buf := make([]byte, direntSize)
	e.encode(buf)
	_, err := t.Writei(dip, buf, off)
	return err
}

// LogBeginOp starts a filesystem-changing transaction.
func (t *Tree) LogBeginOp() { t.log.BeginOp() }

// LogEndOp ends a filesystem-changing transaction.
func (t *Tree) LogEndOp() { t.log.EndOp() }
