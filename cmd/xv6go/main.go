// Copyright 2019 the Go-FUSE Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command xv6go boots one kernel instance against a disk image and
// leaves it running until interrupted. Flag parsing follows the
// teacher's example/*/main.go commands: a flat set of stdlib flag.*
// options translated directly into a Config.
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/xv6go/xv6go/boot"
	"github.com/xv6go/xv6go/klog"
)

func main() {
	cfg := boot.DefaultConfig()

	diskPath := flag.String("disk", "", "path to a disk image file (empty: in-memory disk)")
	diskSectors := flag.Uint("sectors", uint(cfg.DiskSectors), "number of sectors on the disk")
	nbuf := flag.Int("buffers", cfg.NBuffers, "buffer cache size")
	npages := flag.Int("pages", cfg.NPages, "physical pages available to the allocator")
	ncpu := flag.Int64("ncpu", cfg.NCPU, "maximum concurrently running processes")
	ninodes := flag.Uint("inodes", uint(cfg.NInodes), "inode slots to reserve when formatting a blank disk")
	flag.Parse()

	cfg.DiskPath = *diskPath
	cfg.DiskSectors = uint32(*diskSectors)
	cfg.NBuffers = *nbuf
	cfg.NPages = *npages
	cfg.NCPU = *ncpu
	cfg.NInodes = uint32(*ninodes)

	k, err := boot.Boot(cfg)
	if err != nil {
		klog.Errorf("boot failed: %v", err)
		os.Exit(1)
	}

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, os.Interrupt, syscall.SIGTERM)
	<-sigc

	if err := k.Shutdown(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
