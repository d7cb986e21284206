// Copyright 2019 the Go-FUSE Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ksyscall

import (
	"github.com/xv6go/xv6go/fs"
	"github.com/xv6go/xv6go/hal"
	"github.com/xv6go/xv6go/kerrno"
	"github.com/xv6go/xv6go/pipe"
	"github.com/xv6go/xv6go/proc"
)

// Env is everything one syscall invocation needs: the calling process,
// its open-file table, the filesystem, and the scheduler. Grounded on
// the implicit "current process" struct proc* curproc that every
// syscall in original_source/sysfile.c and sysproc.c operates against.
type Env struct {
	Proc     *proc.Proc
	Files    *Table
	Tree     *fs.Tree
	Sched    *proc.Scheduler
	HolderID int
}

// Open's flags, matching O_RDONLY/O_WRONLY/O_RDWR/O_CREATE in
// original_source/fcntl.h.
const (
	OReadOnly  = 0
	OWriteOnly = 1
	OReadWrite = 2
	OCreate    = 0x200
)

// Open implements the open syscall: resolve path, optionally creating it
// (O_CREATE), and install a readable/writable File. Grounded on sys_open.
func Open(env *Env, path string, flags int, cwd *fs.Inode) (int, error) {
	env.Tree.LogBeginOp()
	defer env.Tree.LogEndOp()

	var ip *fs.Inode
	if flags&OCreate != 0 {
		dir, name, err := env.Tree.NameiParent(path, cwd, env.HolderID)
		if err != nil {
			return -1, err
		}
		if err := env.Tree.Ilock(dir, env.HolderID); err != nil {
			return -1, err
		}
		existing, _, err := env.Tree.Dirlookup(dir, name)
		if err == nil {
			env.Tree.Iunlock(dir, env.HolderID)
			env.Tree.Iput(dir, env.HolderID)
			if err := env.Tree.Ilock(existing, env.HolderID); err != nil {
				env.Tree.Iput(existing, env.HolderID)
				return -1, err
			}
			ip = existing
		} else {
			newIp, err := env.Tree.Ialloc(fs.TypeFile)
			if err != nil {
				env.Tree.Iunlock(dir, env.HolderID)
				env.Tree.Iput(dir, env.HolderID)
				return -1, err
			}
			if err := env.Tree.Ilock(newIp, env.HolderID); err != nil {
				return -1, err
			}
			newIp.Nlink = 1
			if err := env.Tree.Iupdate(newIp); err != nil {
				return -1, err
			}
			if err := env.Tree.Dirlink(dir, name, newIp.Inum); err != nil {
				return -1, err
			}
			env.Tree.Iunlock(dir, env.HolderID)
			env.Tree.Iput(dir, env.HolderID)
			ip = newIp
		}
	} else {
		var err error
		ip, err = env.Tree.Namei(path, cwd, env.HolderID)
		if err != nil {
			return -1, err
		}
		if err := env.Tree.Ilock(ip, env.HolderID); err != nil {
			return -1, err
		}
	}

	if ip.Type == fs.TypeDir && flags != OReadOnly {
		env.Tree.Iunlock(ip, env.HolderID)
		env.Tree.Iput(ip, env.HolderID)
		return -1, kerrno.EISDIR
	}

	f := &File{
		Kind:     FileInode,
		Ip:       ip,
		Readable: flags&OWriteOnly == 0,
		Writable: flags&OWriteOnly != 0 || flags&OReadWrite != 0,
	}
	env.Tree.Iunlock(ip, env.HolderID)

	fd, err := env.Files.Alloc(f)
	if err != nil {
		env.Tree.Iput(ip, env.HolderID)
		return -1, err
	}
	return fd, nil
}

// Close implements the close syscall.
func Close(env *Env, fd int) error {
	f, err := env.Files.Close(fd)
	if err != nil {
		return err
	}
	for other := 0; other < NOFile; other++ {
		if g, err := env.Files.Get(other); err == nil && g == f {
			return nil // another descriptor (from Dup) still refers to f
		}
	}
	if f.Kind == FileInode {
		env.Tree.LogBeginOp()
		defer env.Tree.LogEndOp()
	}
	return releaseFile(env.Tree, f, env.HolderID)
}

// Read implements the read syscall.
func Read(env *Env, fd int, dst []byte) (int, error) {
	f, err := env.Files.Get(fd)
	if err != nil {
		return -1, err
	}
	return readFile(env.Tree, f, dst, env.HolderID)
}

// Write implements the write syscall.
func Write(env *Env, fd int, src []byte) (int, error) {
	f, err := env.Files.Get(fd)
	if err != nil {
		return -1, err
	}
	env.Tree.LogBeginOp()
	defer env.Tree.LogEndOp()
	return writeFile(env.Tree, f, src, env.HolderID)
}

// Dup implements the dup syscall.
func Dup(env *Env, fd int) (int, error) {
	return env.Files.Dup(fd)
}

// Pipe implements the pipe syscall: allocate a pipe.Pipe and install a
// read-end and a write-end File. Grounded on sys_pipe.
func Pipe(env *Env) (readFd, writeFd int, err error) {
	p := pipe.New()
	rf := &File{Kind: FilePipe, Pipe: p, Readable: true}
	wf := &File{Kind: FilePipe, Pipe: p, Writable: true}

	readFd, err = env.Files.Alloc(rf)
	if err != nil {
		return -1, -1, err
	}
	writeFd, err = env.Files.Alloc(wf)
	if err != nil {
		env.Files.Close(readFd)
		return -1, -1, err
	}
	return readFd, writeFd, nil
}

// Fork implements the fork syscall: clone env.Proc's address space into a
// new process via proc.Scheduler.Fork. The file descriptor table is not
// duplicated: env.Files is left as it is and no open file's reference
// changes. Grounded on sys_fork / fork.
func Fork(cpu *hal.CPU, enabled bool, env *Env) (*proc.Proc, error) {
	child, err := env.Sched.Fork(cpu, enabled, env.Proc)
	if err != nil {
		return nil, err
	}
	return child, nil
}

// Sleep implements the sleep(ticks) syscall: block env.Proc, the
// calling process, until timer has advanced by n ticks or it is killed.
// Grounded on sys_sleep.
func Sleep(env *Env, timer hal.Timer, n uint64) error {
	return env.Sched.SleepTicks(env.Proc, timer, n)
}

// Uptime implements the uptime syscall, returning the number of clock
// ticks since boot. Grounded on sys_uptime.
func Uptime(timer hal.Timer) uint64 {
	return timer.Ticks()
}

// Unlink removes the directory entry for path, freeing the inode when
// its link count reaches zero. Grounded on sys_unlink.
func Unlink(env *Env, path string, cwd *fs.Inode) error {
	env.Tree.LogBeginOp()
	defer env.Tree.LogEndOp()

	dir, name, err := env.Tree.NameiParent(path, cwd, env.HolderID)
	if err != nil {
		return err
	}
	if name == "." || name == ".." {
		env.Tree.Iput(dir, env.HolderID)
		return kerrno.EPERM
	}
	if err := env.Tree.Ilock(dir, env.HolderID); err != nil {
		return err
	}
	ip, off, err := env.Tree.Dirlookup(dir, name)
	if err != nil {
		env.Tree.Iunlock(dir, env.HolderID)
		env.Tree.Iput(dir, env.HolderID)
		return err
	}
	if err := env.Tree.Ilock(ip, env.HolderID); err != nil {
		env.Tree.Iunlock(dir, env.HolderID)
		env.Tree.Iput(dir, env.HolderID)
		return err
	}
	if ip.Nlink < 1 {
		env.Tree.Iunlock(ip, env.HolderID)
		env.Tree.Iunlock(dir, env.HolderID)
		env.Tree.Iput(ip, env.HolderID)
		env.Tree.Iput(dir, env.HolderID)
		return kerrno.EINVAL
	}

	var empty fs.Dirent
	if err := env.Tree.WriteDirent(dir, off, &empty); err != nil {
		return err
	}
	ip.Nlink--
	if err := env.Tree.Iupdate(ip); err != nil {
		return err
	}

	env.Tree.Iunlock(ip, env.HolderID)
	env.Tree.Iput(ip, env.HolderID)
	env.Tree.Iunlock(dir, env.HolderID)
	env.Tree.Iput(dir, env.HolderID)
	return nil
}

// Link creates a new directory entry newpath pointing at oldpath's
// inode, incrementing its link count. Grounded on sys_link.
func Link(env *Env, oldpath, newpath string, cwd *fs.Inode) error {
	env.Tree.LogBeginOp()
	defer env.Tree.LogEndOp()

	ip, err := env.Tree.Namei(oldpath, cwd, env.HolderID)
	if err != nil {
		return err
	}
	if err := env.Tree.Ilock(ip, env.HolderID); err != nil {
		return err
	}
	if ip.Type == fs.TypeDir {
		env.Tree.Iunlock(ip, env.HolderID)
		env.Tree.Iput(ip, env.HolderID)
		return kerrno.EPERM
	}
	ip.Nlink++
	err = env.Tree.Iupdate(ip)
	env.Tree.Iunlock(ip, env.HolderID)
	if err != nil {
		env.Tree.Iput(ip, env.HolderID)
		return err
	}

	dir, name, err := env.Tree.NameiParent(newpath, cwd, env.HolderID)
	if err != nil {
		env.Tree.Iput(ip, env.HolderID)
		return err
	}
	if err := env.Tree.Ilock(dir, env.HolderID); err != nil {
		env.Tree.Iput(ip, env.HolderID)
		return err
	}
	err = env.Tree.Dirlink(dir, name, ip.Inum)
	env.Tree.Iunlock(dir, env.HolderID)
	env.Tree.Iput(dir, env.HolderID)
	if err != nil {
		env.Tree.Ilock(ip, env.HolderID)
		ip.Nlink--
		env.Tree.Iupdate(ip)
		env.Tree.Iunlock(ip, env.HolderID)
		env.Tree.Iput(ip, env.HolderID)
		return err
	}
	env.Tree.Iput(ip, env.HolderID)
	return nil
}

// Mkdir creates a new, empty directory at path with "." and ".."
// entries. Grounded on sys_mkdir / create(path, T_DIR, 0, 0).
func Mkdir(env *Env, path string, cwd *fs.Inode) error {
	env.Tree.LogBeginOp()
	defer env.Tree.LogEndOp()

	dir, name, err := env.Tree.NameiParent(path, cwd, env.HolderID)
	if err != nil {
		return err
	}
	if err := env.Tree.Ilock(dir, env.HolderID); err != nil {
		return err
	}
	if _, _, err := env.Tree.Dirlookup(dir, name); err == nil {
		env.Tree.Iunlock(dir, env.HolderID)
		env.Tree.Iput(dir, env.HolderID)
		return kerrno.EEXIST
	}

	ip, err := env.Tree.Ialloc(fs.TypeDir)
	if err != nil {
		env.Tree.Iunlock(dir, env.HolderID)
		env.Tree.Iput(dir, env.HolderID)
		return err
	}
	if err := env.Tree.Ilock(ip, env.HolderID); err != nil {
		return err
	}
	ip.Nlink = 1
	if err := env.Tree.Iupdate(ip); err != nil {
		return err
	}
	if err := env.Tree.Dirlink(ip, ".", ip.Inum); err != nil {
		return err
	}
	if err := env.Tree.Dirlink(ip, "..", dir.Inum); err != nil {
		return err
	}
	if err := env.Tree.Dirlink(dir, name, ip.Inum); err != nil {
		return err
	}

	// The new subdirectory's ".." entry is itself a link to dir, so
	// dir's link count must account for it -- dp->nlink++; iupdate(dp)
	// in original_source/code/sysfile.c's create().
	dir.Nlink++
	if err := env.Tree.Iupdate(dir); err != nil {
		return err
	}

	env.Tree.Iunlock(ip, env.HolderID)
	env.Tree.Iput(ip, env.HolderID)
	env.Tree.Iunlock(dir, env.HolderID)
	env.Tree.Iput(dir, env.HolderID)
	return nil
}

// Mknod creates a device file at path with the given major/minor
// numbers, so it can later be opened and its Read/Write routed through
// fs.Tree's device-switch table. Grounded on sys_mknod / create(path,
// T_DEV, major, minor).
func Mknod(env *Env, path string, major, minor int16, cwd *fs.Inode) error {
	env.Tree.LogBeginOp()
	defer env.Tree.LogEndOp()

	dir, name, err := env.Tree.NameiParent(path, cwd, env.HolderID)
	if err != nil {
		return err
	}
	if err := env.Tree.Ilock(dir, env.HolderID); err != nil {
		return err
	}
	if _, _, err := env.Tree.Dirlookup(dir, name); err == nil {
		env.Tree.Iunlock(dir, env.HolderID)
		env.Tree.Iput(dir, env.HolderID)
		return kerrno.EEXIST
	}

	ip, err := env.Tree.Ialloc(fs.TypeDev)
	if err != nil {
		env.Tree.Iunlock(dir, env.HolderID)
		env.Tree.Iput(dir, env.HolderID)
		return err
	}
	if err := env.Tree.Ilock(ip, env.HolderID); err != nil {
		return err
	}
	ip.Major = major
	ip.Minor = minor
	ip.Nlink = 1
	if err := env.Tree.Iupdate(ip); err != nil {
		return err
	}
	if err := env.Tree.Dirlink(dir, name, ip.Inum); err != nil {
		return err
	}

	env.Tree.Iunlock(ip, env.HolderID)
	env.Tree.Iput(ip, env.HolderID)
	env.Tree.Iunlock(dir, env.HolderID)
	env.Tree.Iput(dir, env.HolderID)
	return nil
}
