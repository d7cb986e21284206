// Copyright 2019 the Go-FUSE Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package fs

import (
	"github.com/xv6go/xv6go/hal"
	"github.com/xv6go/xv6go/kerrno"
)

// Balloc finds the first free data block, marks it used in the bitmap,
// zero-fills it, and returns its block number. Grounded on balloc in
// original_source/fs.c.
func (t *Tree) Balloc() (uint32, error) {
	for b := uint32(0); b < t.sb.Size; b += BSize * 8 {
		bp, err := t.readBlock(t.sb.BBlock(b))
		if err != nil {
			return 0, err
		}
		for bi := uint32(0); bi < BSize*8 && b+bi < t.sb.Size; bi++ {
			m := byte(1 << (bi % 8))
			if bp.Data[bi/8]&m == 0 {
				bp.Data[bi/8] |= m
				t.log.LogWrite(bp)
				t.releaseBlock(bp)
				if err := t.zeroBlock(b + bi); err != nil {
					return 0, err
				}
				return b + bi, nil
			}
		}
		t.releaseBlock(bp)
	}
	return 0, kerrno.ENOSPC
}

// Bfree clears block b's bit in the bitmap. Grounded on bfree.
func (t *Tree) Bfree(b uint32) error {
	bp, err := t.readBlock(t.sb.BBlock(b))
	if err != nil {
		return err
	}
	bi := b % (BSize * 8)
	m := byte(1 << (bi % 8))
	if bp.Data[bi/8]&m == 0 {
		hal.Panic("fs: freeing free block %d", b)
	}
	bp.Data[bi/8] &^= m
	t.log.LogWrite(bp)
	t.releaseBlock(bp)
	return nil
}

func (t *Tree) zeroBlock(b uint32) error {
	bp, err := t.readBlock(b)
	if err != nil {
		return err
	}
	for i := range bp.Data {
		bp.Data[i] = 0
	}
	t.log.LogWrite(bp)
	t.releaseBlock(bp)
	return nil
}
