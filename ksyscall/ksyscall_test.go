// Copyright 2019 the Go-FUSE Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ksyscall

import (
	"testing"
	"time"

	"github.com/xv6go/xv6go/bcache"
	"github.com/xv6go/xv6go/blockdev"
	"github.com/xv6go/xv6go/fs"
	"github.com/xv6go/xv6go/fslog"
	"github.com/xv6go/xv6go/hal"
	"github.com/xv6go/xv6go/pmm"
	"github.com/xv6go/xv6go/proc"
	"github.com/xv6go/xv6go/vm"
)

func newTestEnv(t *testing.T) (*Env, *fs.Inode) {
	const (
		nsectors = 256
		logStart = 2
		ninodes  = 32
	)
	disk := hal.NewSimDisk(nsectors)
	q := blockdev.NewQueue(disk)
	cache := bcache.NewCache(q, 32)
	cpu := hal.NewCPU(0)
	kernel := vm.SetupKernelMap(nil)
	sched := proc.New(kernel, 1)

	sb := fs.Layout(nsectors, logStart, ninodes)
	if err := fs.Format(cache, sched, cpu, 0, 0, sb); err != nil {
		t.Fatalf("Format: %v", err)
	}

	log := fslog.NewLog(cache, sched, cpu, 0, 0, logStart, uint32(fslog.LogSize)+1)
	tree, err := fs.NewTree(cache, log, sched, cpu, 0, 0)
	if err != nil {
		t.Fatalf("NewTree: %v", err)
	}

	root := tree.Iget(fs.RootIno)
	env := &Env{Files: &Table{}, Tree: tree, Sched: sched, HolderID: 0}
	return env, root
}

func TestOpenCreateWriteReadRoundTrip(t *testing.T) {
	env, root := newTestEnv(t)

	fd, err := Open(env, "/a.txt", OCreate|OReadWrite, root)
	if err != nil {
		t.Fatalf("Open create: %v", err)
	}
	if _, err := Write(env, fd, []byte("payload")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := Close(env, fd); err != nil {
		t.Fatalf("Close: %v", err)
	}

	fd2, err := Open(env, "/a.txt", OReadOnly, root)
	if err != nil {
		t.Fatalf("Open read: %v", err)
	}
	buf := make([]byte, 7)
	n, err := Read(env, fd2, buf)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(buf[:n]) != "payload" {
		t.Errorf("got %q, want %q", buf[:n], "payload")
	}
}

func TestOpenWithoutCreateOnMissingPathFails(t *testing.T) {
	env, root := newTestEnv(t)
	if _, err := Open(env, "/nope.txt", OReadOnly, root); err == nil {
		t.Error("Open of a missing path without OCreate did not error")
	}
}

func TestDupSharesOffset(t *testing.T) {
	env, root := newTestEnv(t)
	fd, err := Open(env, "/a.txt", OCreate|OReadWrite, root)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := Write(env, fd, []byte("abcdef")); err != nil {
		t.Fatalf("Write: %v", err)
	}

	dupfd, err := Dup(env, fd)
	if err != nil {
		t.Fatalf("Dup: %v", err)
	}
	// Both descriptors alias the same underlying File (including its
	// seek offset), so a read through the dup starts after the write.
	buf := make([]byte, 1)
	n, err := Read(env, dupfd, buf)
	if err != nil {
		t.Fatalf("Read through dup: %v", err)
	}
	if n != 0 {
		t.Errorf("Read through dup returned %d bytes, want 0 (offset already past file end)", n)
	}
}

func TestUnlinkRemovesDirectoryEntry(t *testing.T) {
	env, root := newTestEnv(t)
	fd, err := Open(env, "/gone.txt", OCreate|OReadWrite, root)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	Close(env, fd)

	if err := Unlink(env, "/gone.txt", root); err != nil {
		t.Fatalf("Unlink: %v", err)
	}
	if _, err := Open(env, "/gone.txt", OReadOnly, root); err == nil {
		t.Error("path still resolves after Unlink")
	}
}

func TestLinkAddsSecondName(t *testing.T) {
	env, root := newTestEnv(t)
	fd, err := Open(env, "/one.txt", OCreate|OReadWrite, root)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	Write(env, fd, []byte("shared"))
	Close(env, fd)

	if err := Link(env, "/one.txt", "/two.txt", root); err != nil {
		t.Fatalf("Link: %v", err)
	}

	fd2, err := Open(env, "/two.txt", OReadOnly, root)
	if err != nil {
		t.Fatalf("Open linked name: %v", err)
	}
	buf := make([]byte, 6)
	n, err := Read(env, fd2, buf)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(buf[:n]) != "shared" {
		t.Errorf("got %q, want %q", buf[:n], "shared")
	}

	if err := Unlink(env, "/one.txt", root); err != nil {
		t.Fatalf("Unlink original name: %v", err)
	}
	fd3, err := Open(env, "/two.txt", OReadOnly, root)
	if err != nil {
		t.Fatalf("linked name should survive removing the other name: %v", err)
	}
	Close(env, fd3)
}

func TestMkdirCreatesNavigableDirectory(t *testing.T) {
	env, root := newTestEnv(t)
	if err := Mkdir(env, "/sub", root); err != nil {
		t.Fatalf("Mkdir: %v", err)
	}
	fd, err := Open(env, "/sub/file.txt", OCreate|OReadWrite, root)
	if err != nil {
		t.Fatalf("Open inside new directory: %v", err)
	}
	if _, err := Write(env, fd, []byte("nested")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	Close(env, fd)

	fd2, err := Open(env, "/sub/file.txt", OReadOnly, root)
	if err != nil {
		t.Fatalf("reopen nested file: %v", err)
	}
	buf := make([]byte, 6)
	n, _ := Read(env, fd2, buf)
	if string(buf[:n]) != "nested" {
		t.Errorf("got %q, want %q", buf[:n], "nested")
	}
}

func TestMkdirDuplicateNameFails(t *testing.T) {
	env, root := newTestEnv(t)
	if err := Mkdir(env, "/sub", root); err != nil {
		t.Fatalf("Mkdir: %v", err)
	}
	if err := Mkdir(env, "/sub", root); err == nil {
		t.Error("Mkdir of an already-existing name did not error")
	}
}

func TestMkdirIncrementsParentNlink(t *testing.T) {
	env, root := newTestEnv(t)
	if err := env.Tree.Ilock(root, env.HolderID); err != nil {
		t.Fatalf("Ilock root: %v", err)
	}
	before := root.Nlink
	env.Tree.Iunlock(root, env.HolderID)
	if err := Mkdir(env, "/sub", root); err != nil {
		t.Fatalf("Mkdir: %v", err)
	}
	if root.Nlink != before+1 {
		t.Errorf("root.Nlink = %d, want %d (new subdirectory's .. backlink)", root.Nlink, before+1)
	}
}

func TestMknodCreatesDeviceFileRoutedThroughDeviceSwitch(t *testing.T) {
	env, root := newTestEnv(t)
	const testMajor = 5

	var written []byte
	env.Tree.RegisterDevice(testMajor, fs.DeviceSwitch{
		Read: func(ip *fs.Inode, dst []byte) (int, error) {
			return copy(dst, "fromdev"), nil
		},
		Write: func(ip *fs.Inode, src []byte) (int, error) {
			written = append(written, src...)
			return len(src), nil
		},
	})

	if err := Mknod(env, "/dev0", testMajor, 0, root); err != nil {
		t.Fatalf("Mknod: %v", err)
	}

	fd, err := Open(env, "/dev0", OReadWrite, root)
	if err != nil {
		t.Fatalf("Open device file: %v", err)
	}
	if _, err := Write(env, fd, []byte("hello")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if string(written) != "hello" {
		t.Errorf("device received %q, want %q", written, "hello")
	}

	buf := make([]byte, 7)
	n, err := Read(env, fd, buf)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(buf[:n]) != "fromdev" {
		t.Errorf("got %q, want %q", buf[:n], "fromdev")
	}
}

func TestSleepAndUptime(t *testing.T) {
	env, _ := newTestEnv(t)
	env.Proc = &proc.Proc{PID: 1}
	timer := &hal.SimTimer{}

	if u := Uptime(timer); u != 0 {
		t.Fatalf("Uptime before any ticks = %d, want 0", u)
	}

	done := make(chan error, 1)
	go func() { done <- Sleep(env, timer, 2) }()

	time.Sleep(20 * time.Millisecond)
	env.Sched.AdvanceClock(timer)
	env.Sched.AdvanceClock(timer)

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Sleep = %v, want nil", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Sleep never returned")
	}

	if u := Uptime(timer); u != 2 {
		t.Errorf("Uptime after 2 ticks = %d, want 2", u)
	}
}

func TestForkDuplicatesProcessAddressSpace(t *testing.T) {
	env, _ := newTestEnv(t)
	cpu := hal.NewCPU(0)

	pool := pmm.NewPool(4)
	kernel := vm.SetupKernelMap(nil)
	as := vm.NewAddressSpace(pool, kernel)
	if err := as.InitUVM(cpu, true, []byte("program")); err != nil {
		t.Fatalf("InitUVM: %v", err)
	}
	parent := &proc.Proc{PID: 1, Space: as, Size: vm.PageSize, Name: "init"}
	env.Proc = parent

	child, err := Fork(cpu, true, env)
	if err != nil {
		t.Fatalf("Fork: %v", err)
	}
	if child.Parent != parent {
		t.Error("child.Parent != parent")
	}
	if child.Space == parent.Space {
		t.Error("child shares the parent's address space instead of a copy")
	}
}
