// Copyright 2019 the Go-FUSE Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package boot wires together every layer of the kernel into one
// runnable instance (spec.md §4.L) and supervises its long-running
// goroutine (the scheduler's periodic tick; the block device pump is
// started and stopped by blockdev.Queue itself) with
// golang.org/x/sync/errgroup, the same supervision idiom used
// elsewhere in the corpus for coordinated goroutine groups that should
// all stop if one of them fails.
//
// Grounded on the teacher's Mount(dir, root, options) constructor
// pattern: one function takes a Config, builds every dependent layer in
// the right order, and returns a single handle (here, Kernel) embodying
// the whole running system -- never package-level state.
package boot

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/xv6go/xv6go/bcache"
	"github.com/xv6go/xv6go/blockdev"
	"github.com/xv6go/xv6go/fs"
	"github.com/xv6go/xv6go/fslog"
	"github.com/xv6go/xv6go/hal"
	"github.com/xv6go/xv6go/klog"
	"github.com/xv6go/xv6go/pmm"
	"github.com/xv6go/xv6go/proc"
	"github.com/xv6go/xv6go/vm"
)

// Config are the knobs a caller picks before booting, mirroring the
// flag-parsed option structs built in the teacher's example/*/main.go
// commands.
type Config struct {
	NCPU        int64
	NPages      int    // physical pages available to pmm.Pool
	NBuffers    int    // buffer cache slots
	DiskPath    string // file-backed disk image path; empty uses an in-memory SimDisk
	DiskSectors uint32
	LogStart    uint32
	LogSize     uint32
	NInodes     uint32        // inode slots to reserve when formatting a blank disk
	TickPeriod  time.Duration // wall-clock interval between simulated timer interrupts
}

// DefaultConfig returns sane defaults for a small teaching instance.
func DefaultConfig() Config {
	return Config{
		NCPU:        2,
		NPages:      4096,
		NBuffers:    30,
		DiskSectors: 2048,
		LogStart:    2,
		LogSize:     30,
		NInodes:     200,
		TickPeriod:  10 * time.Millisecond,
	}
}

// Kernel is one fully wired, running kernel instance.
type Kernel struct {
	cfg   Config
	cpu   *hal.CPU
	pool  *pmm.Pool
	vmk   *vm.Kernel
	queue *blockdev.Queue
	cache *bcache.Cache
	log   *fslog.Log
	tree  *fs.Tree
	sched *proc.Scheduler
	timer *hal.SimTimer

	disk  hal.BlockDevice
	group *errgroup.Group
	ctx   context.Context
	stop  context.CancelFunc
}

// Boot constructs every layer in dependency order -- physical memory,
// virtual memory, the block device and its request queue, the buffer
// cache, the write-ahead log (which recovers any pending transaction as
// part of construction), the inode tree, and the process table -- then
// starts the supervised background goroutines.
func Boot(cfg Config) (*Kernel, error) {
	ctx, cancel := context.WithCancel(context.Background())
	group, gctx := errgroup.WithContext(ctx)

	k := &Kernel{cfg: cfg, ctx: gctx, stop: cancel, group: group}
	k.cpu = hal.NewCPU(0)

	k.pool = pmm.NewPool(cfg.NPages)
	k.pool.EnableLocking()

	k.vmk = vm.SetupKernelMap(hal.NopTLB{})

	disk, err := openDisk(cfg)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("boot: open disk: %w", err)
	}
	k.disk = disk
	k.queue = blockdev.NewQueue(disk)

	k.cache = bcache.NewCache(k.queue, cfg.NBuffers)

	k.sched = proc.New(k.vmk, cfg.NCPU)

	const bootHolderID = 0

	blank, err := fs.IsBlank(k.cache, k.sched, k.cpu, bootHolderID, 0)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("boot: probe superblock: %w", err)
	}
	if blank {
		sb := fs.Layout(cfg.DiskSectors, cfg.LogStart, cfg.NInodes)
		if err := fs.Format(k.cache, k.sched, k.cpu, bootHolderID, 0, sb); err != nil {
			cancel()
			return nil, fmt.Errorf("boot: format: %w", err)
		}
		klog.Infof("formatted a fresh filesystem on disk=%q", cfg.DiskPath)
	}

	k.log = fslog.NewLog(k.cache, k.sched, k.cpu, bootHolderID, 0, cfg.LogStart, cfg.LogSize)

	tree, err := fs.NewTree(k.cache, k.log, k.sched, k.cpu, bootHolderID, 0)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("boot: read superblock: %w", err)
	}
	k.tree = tree

	k.timer = &hal.SimTimer{}
	if cfg.TickPeriod > 0 {
		group.Go(func() error {
			ticker := time.NewTicker(cfg.TickPeriod)
			defer ticker.Stop()
			for {
				select {
				case <-gctx.Done():
					return nil
				case <-ticker.C:
					k.sched.AdvanceClock(k.timer)
				}
			}
		})
	}

	klog.Infof("booted: %d pages free, %d buffers, disk=%q", k.pool.Free(), cfg.NBuffers, cfg.DiskPath)
	return k, nil
}

func openDisk(cfg Config) (hal.BlockDevice, error) {
	if cfg.DiskPath == "" {
		return hal.NewSimDisk(cfg.DiskSectors), nil
	}
	return blockdev.OpenFileDisk(cfg.DiskPath, cfg.DiskSectors)
}

// Tree returns the kernel's inode layer, for wiring into ksyscall.Env.
func (k *Kernel) Tree() *fs.Tree { return k.tree }

// Scheduler returns the kernel's process table.
func (k *Kernel) Scheduler() *proc.Scheduler { return k.sched }

// CPU returns the kernel's (sole, simulated) boot CPU.
func (k *Kernel) CPU() *hal.CPU { return k.cpu }

// Timer returns the kernel's simulated clock, advanced once per
// cfg.TickPeriod by a supervised background goroutine and readable by
// ksyscall.Sleep/ksyscall.Uptime.
func (k *Kernel) Timer() *hal.SimTimer { return k.timer }

// Shutdown stops supervised goroutines and waits for them to exit.
func (k *Kernel) Shutdown() error {
	k.stop()
	return k.group.Wait()
}
