// Copyright 2019 the Go-FUSE Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package boot

import (
	"path/filepath"
	"testing"

	"github.com/xv6go/xv6go/fs"
	"github.com/xv6go/xv6go/ksyscall"
)

func smallConfig(t *testing.T) Config {
	cfg := DefaultConfig()
	cfg.DiskPath = filepath.Join(t.TempDir(), "disk.img")
	cfg.DiskSectors = 256
	cfg.NPages = 64
	cfg.NBuffers = 32
	cfg.NInodes = 32
	cfg.NCPU = 1
	return cfg
}

func TestBootFormatsBlankDiskAndCreatesFile(t *testing.T) {
	cfg := smallConfig(t)
	k, err := Boot(cfg)
	if err != nil {
		t.Fatalf("Boot: %v", err)
	}
	defer k.Shutdown()

	root := k.Tree().Iget(fs.RootIno)
	env := &ksyscall.Env{Files: &ksyscall.Table{}, Tree: k.Tree(), Sched: k.Scheduler(), HolderID: 0}

	fd, err := ksyscall.Open(env, "/greeting.txt", ksyscall.OCreate|ksyscall.OReadWrite, root)
	if err != nil {
		t.Fatalf("Open create: %v", err)
	}
	want := []byte("hello from xv6go")
	if n, err := ksyscall.Write(env, fd, want); err != nil || n != len(want) {
		t.Fatalf("Write = (%d, %v), want (%d, nil)", n, err, len(want))
	}
	if err := ksyscall.Close(env, fd); err != nil {
		t.Fatalf("Close: %v", err)
	}

	fd2, err := ksyscall.Open(env, "/greeting.txt", ksyscall.OReadOnly, root)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	got := make([]byte, len(want))
	n, err := ksyscall.Read(env, fd2, got)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if n != len(want) || string(got[:n]) != string(want) {
		t.Errorf("Read = %q (%d), want %q", got[:n], n, want)
	}
	ksyscall.Close(env, fd2)
}

// TestBootPersistsAcrossRestart exercises a clean shutdown and restart: a
// file created and written before Shutdown must still be readable after
// a second Boot against the same disk image, and the second Boot must
// not mistake the now-formatted disk for a blank one and reformat it.
func TestBootPersistsAcrossRestart(t *testing.T) {
	cfg := smallConfig(t)

	k1, err := Boot(cfg)
	if err != nil {
		t.Fatalf("first Boot: %v", err)
	}
	root1 := k1.Tree().Iget(fs.RootIno)
	env1 := &ksyscall.Env{Files: &ksyscall.Table{}, Tree: k1.Tree(), Sched: k1.Scheduler(), HolderID: 0}

	fd, err := ksyscall.Open(env1, "/persist.txt", ksyscall.OCreate|ksyscall.OReadWrite, root1)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := ksyscall.Write(env1, fd, []byte("durable")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := ksyscall.Close(env1, fd); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := k1.Shutdown(); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}

	k2, err := Boot(cfg)
	if err != nil {
		t.Fatalf("second Boot: %v", err)
	}
	defer k2.Shutdown()

	root2 := k2.Tree().Iget(fs.RootIno)
	env2 := &ksyscall.Env{Files: &ksyscall.Table{}, Tree: k2.Tree(), Sched: k2.Scheduler(), HolderID: 0}

	fd2, err := ksyscall.Open(env2, "/persist.txt", ksyscall.OReadOnly, root2)
	if err != nil {
		t.Fatalf("reopen after restart: %v", err)
	}
	want := "durable"
	got := make([]byte, len(want))
	n, err := ksyscall.Read(env2, fd2, got)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(got[:n]) != want {
		t.Errorf("got %q, want %q", got[:n], want)
	}
}

func TestPipeEchoThroughDescriptors(t *testing.T) {
	cfg := smallConfig(t)
	k, err := Boot(cfg)
	if err != nil {
		t.Fatalf("Boot: %v", err)
	}
	defer k.Shutdown()

	env := &ksyscall.Env{Files: &ksyscall.Table{}, Tree: k.Tree(), Sched: k.Scheduler(), HolderID: 0}
	rfd, wfd, err := ksyscall.Pipe(env)
	if err != nil {
		t.Fatalf("Pipe: %v", err)
	}

	writeErr := make(chan error, 1)
	go func() {
		_, err := ksyscall.Write(env, wfd, []byte("echo"))
		if err == nil {
			err = ksyscall.Close(env, wfd)
		}
		writeErr <- err
	}()

	buf := make([]byte, 4)
	n, err := ksyscall.Read(env, rfd, buf)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(buf[:n]) != "echo" {
		t.Errorf("got %q, want %q", buf[:n], "echo")
	}
	if err := <-writeErr; err != nil {
		t.Fatalf("writer goroutine: %v", err)
	}
}
