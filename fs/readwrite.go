// Copyright 2019 the Go-FUSE Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package fs

import (
	"encoding/binary"

	"github.com/xv6go/xv6go/kerrno"
)

// bmap returns the disk block number holding the bn'th block of ip's
// data, allocating it (and, if needed, the single indirect block) on
// first use. Grounded on bmap.
func (t *Tree) bmap(ip *Inode, bn uint32) (uint32, error) {
	if bn < NDirect {
		addr := ip.Addrs[bn]
		if addr == 0 {
			a, err := t.Balloc()
			if err != nil {
				return 0, err
			}
			ip.Addrs[bn] = a
			addr = a
		}
		return addr, nil
	}
	bn -= NDirect
	if bn >= NIndirect {
		return 0, kerrno.EFBIG
	}

	indirect := ip.Addrs[NDirect]
	if indirect == 0 {
		a, err := t.Balloc()
		if err != nil {
			return 0, err
		}
		ip.Addrs[NDirect] = a
		indirect = a
	}
	ib, err := t.readBlock(indirect)
	if err != nil {
		return 0, err
	}
	addr := binary.LittleEndian.Uint32(ib.Data[bn*4:])
	if addr == 0 {
		a, err := t.Balloc()
		if err != nil {
			t.releaseBlock(ib)
			return 0, err
		}
		binary.LittleEndian.PutUint32(ib.Data[bn*4:], a)
		t.log.LogWrite(ib)
		addr = a
	}
	t.releaseBlock(ib)
	return addr, nil
}

// itrunc frees all of ip's data blocks, including the indirect block,
// and sets its size to zero. Grounded on itrunc.
func (t *Tree) itrunc(ip *Inode) error {
	for i := 0; i < NDirect; i++ {
		if ip.Addrs[i] != 0 {
			if err := t.Bfree(ip.Addrs[i]); err != nil {
				return err
			}
			ip.Addrs[i] = 0
		}
	}
	if ip.Addrs[NDirect] != 0 {
		ib, err := t.readBlock(ip.Addrs[NDirect])
		if err != nil {
			return err
		}
		for i := uint32(0); i < NIndirect; i++ {
			if a := binary.LittleEndian.Uint32(ib.Data[i*4:]); a != 0 {
				if err := t.Bfree(a); err != nil {
					t.releaseBlock(ib)
					return err
				}
			}
		}
		t.releaseBlock(ib)
		if err := t.Bfree(ip.Addrs[NDirect]); err != nil {
			return err
		}
		ip.Addrs[NDirect] = 0
	}
	ip.Size = 0
	return t.Iupdate(ip)
}

// Readi copies up to len(dst) bytes from ip's data starting at off into
// dst, returning the number of bytes read. ip must be locked. Grounded
// on readi.
func (t *Tree) Readi(ip *Inode, dst []byte, off uint32) (int, error) {
	if ip.Type == TypeDev {
		return t.deviceRead(ip, dst)
	}
	if off > ip.Size {
		return 0, nil
	}
	if uint64(off)+uint64(len(dst)) > uint64(ip.Size) {
		dst = dst[:ip.Size-off]
	}

	n := 0
	for n < len(dst) {
		bn, err := t.bmap(ip, off/BSize)
		if err != nil {
			return n, err
		}
		b, err := t.readBlock(bn)
		if err != nil {
			return n, err
		}
		boff := off % BSize
		m := copy(dst[n:], b.Data[boff:])
		t.releaseBlock(b)
		n += m
		off += uint32(m)
	}
	return n, nil
}

// Writei copies src into ip's data starting at off, growing the file
// (up to MaxFile*BSize) and updating Size as needed. ip must be locked
// and the caller must be inside a log transaction. Grounded on writei.
func (t *Tree) Writei(ip *Inode, src []byte, off uint32) (int, error) {
	if ip.Type == TypeDev {
		return t.deviceWrite(ip, src)
	}
	if uint64(off)+uint64(len(src)) > uint64(MaxFile)*BSize {
		return 0, kerrno.EFBIG
	}

	n := 0
	for n < len(src) {
		bn, err := t.bmap(ip, off/BSize)
		if err != nil {
			return n, err
		}
		b, err := t.readBlock(bn)
		if err != nil {
			return n, err
		}
		boff := off % BSize
		m := copy(b.Data[boff:], src[n:])
		t.log.LogWrite(b)
		t.releaseBlock(b)
		n += m
		off += uint32(m)
	}
	if off > ip.Size {
		ip.Size = off
	}
	if err := t.Iupdate(ip); err != nil {
		return n, err
	}
	return n, nil
}
