// Copyright 2019 the Go-FUSE Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package vm implements per-process virtual memory: a two-level page
// table per address space, a shared kernel mapping, and the
// fork/exec/grow/shrink primitives of spec.md §4.D. There is no real MMU
// to program, so a page-table "page" is a pmm.Page used purely for
// bookkeeping (so FreeVM frees exactly as many frames as were consumed
// building the tables), and translation is done by an explicit two-level
// map lookup rather than a hardware walk.
package vm

import (
	"fmt"

	"github.com/xv6go/xv6go/hal"
	"github.com/xv6go/xv6go/pmm"
)

const (
	PageSize     = pmm.PageSize
	ptesPerTable = 1024         // NPTENTRIES on x86
	pageTableSpan = PageSize * ptesPerTable // bytes one level-2 table covers (4 MiB)

	// KernelBase is the address at which the user portion ends and the
	// shared kernel mapping begins; also the maximum user process size
	// (spec.md §4.D).
	KernelBase = 0x80000000
)

// Perm is the PTE permission bits this simulation cares about.
type Perm uint8

const (
	PermWrite Perm = 1 << iota
	PermUser
)

type pte struct {
	present bool
	perm    Perm
	page    *pmm.Page
}

// pageTable is one level-2 table: PTX -> pte. It is backed by one pmm
// page purely so the frame-accounting in FreeVM balances.
type pageTable struct {
	backing *pmm.Page
	entries map[uint32]*pte
}

// AddressSpace is the Go stand-in for a page directory (spec.md §3,
// "page directory / page table"). pageDirs holds only the entries this
// address space has ever touched; entries shared with the kernel mapping
// alias the Kernel's pageTable objects directly, exactly as every
// process's page directory carries identical kernel PDEs in xv6.
type AddressSpace struct {
	pool      *pmm.Pool
	pageDirs  map[uint32]*pageTable // PDX -> table
	kernelPDX map[uint32]bool       // which PDX entries belong to the shared kernel map
	kernel    *Kernel
}

// Kernel holds the kernel-only mapping shared by every address space: it
// is built once and its page tables are aliased (not copied) into each
// new AddressSpace, mirroring "kernel mapping is identical in every
// address space" (spec.md §4.D).
type Kernel struct {
	pageDirs map[uint32]*pageTable
	tlb      hal.TLB
}

func pdx(va uint32) uint32 { return va / pageTableSpan }
func ptx(va uint32) uint32 { return (va % pageTableSpan) / PageSize }

// SetupKernelMap builds the shared kernel portion of every page table:
// four conceptual regions (I/O low memory, kernel text/rodata, kernel
// data + remaining physical memory, device region), all above
// KernelBase. Since no real kernel image exists to map in this
// simulation, none of these regions is installed: the returned Kernel
// holds no page tables and consumes no frames -- only user mappings and
// real page-table pages do.
func SetupKernelMap(tlb hal.TLB) *Kernel {
	if tlb == nil {
		tlb = hal.NopTLB{}
	}
	k := &Kernel{pageDirs: map[uint32]*pageTable{}, tlb: tlb}
	return k
}

// NewAddressSpace returns a fresh AddressSpace with the kernel mapping's
// page tables aliased in. It takes no frames from pool and cannot fail,
// since the directory itself is a Go map.
func NewAddressSpace(pool *pmm.Pool, k *Kernel) *AddressSpace {
	as := &AddressSpace{
		pool:      pool,
		pageDirs:  map[uint32]*pageTable{},
		kernelPDX: map[uint32]bool{},
		kernel:    k,
	}
	for pdxVal, pt := range k.pageDirs {
		as.pageDirs[pdxVal] = pt
		as.kernelPDX[pdxVal] = true
	}
	return as
}

func (as *AddressSpace) tableFor(cpu *hal.CPU, enabled bool, pdxVal uint32, alloc bool) *pageTable {
	if pt, ok := as.pageDirs[pdxVal]; ok {
		return pt
	}
	if !alloc {
		return nil
	}
	pg := as.pool.Kalloc(cpu, enabled)
	if pg == nil {
		return nil
	}
	pt := &pageTable{backing: pg, entries: map[uint32]*pte{}}
	as.pageDirs[pdxVal] = pt
	return pt
}

// MapPages installs PTEs for the page-aligned range [va, va+sz) backed by
// pages, one page per PAGE_SIZE chunk. It panics if any page in the range
// is already present (spec.md §4.D) and returns false (with whatever
// prefix already installed left in place, matching the "no partial
// effect visible beyond what was already installed" contract) if a
// page-table page cannot be allocated.
func (as *AddressSpace) MapPages(cpu *hal.CPU, enabled bool, va uint32, pages []*pmm.Page, perm Perm) bool {
	if va%PageSize != 0 {
		hal.Panic("vm: MapPages va %#x not page aligned", va)
	}
	for i, pg := range pages {
		a := va + uint32(i)*PageSize
		pt := as.tableFor(cpu, enabled, pdx(a), true)
		if pt == nil {
			return false
		}
		if e, ok := pt.entries[ptx(a)]; ok && e.present {
			hal.Panic("vm: remap of va %#x", a)
		}
		pt.entries[ptx(a)] = &pte{present: true, perm: perm, page: pg}
	}
	return true
}

func (as *AddressSpace) lookup(va uint32) *pte {
	pt := as.pageDirs[pdx(va)]
	if pt == nil {
		return nil
	}
	return pt.entries[ptx(va)]
}

// InitUVM allocates one zeroed frame, maps it at virtual 0 writable and
// user-accessible, and copies code into it. Used only for the first user
// program (spec.md §4.D).
func (as *AddressSpace) InitUVM(cpu *hal.CPU, enabled bool, code []byte) error {
	if len(code) >= PageSize {
		return fmt.Errorf("vm: inituvm: %d bytes exceeds one page", len(code))
	}
	pg := as.pool.Kalloc(cpu, enabled)
	if pg == nil {
		return fmt.Errorf("vm: inituvm: out of memory")
	}
	for i := range pg.Data {
		pg.Data[i] = 0
	}
	copy(pg.Data, code)
	if !as.MapPages(cpu, enabled, 0, []*pmm.Page{pg}, PermWrite|PermUser) {
		return fmt.Errorf("vm: inituvm: map failed")
	}
	return nil
}

// LoadUVM copies sz bytes read via readFn (the inode reader) to
// already-mapped pages starting at page-aligned va. The range must
// already be mapped, as in spec.md §4.D.
func (as *AddressSpace) LoadUVM(va uint32, sz uint32, readFn func(dst []byte, off uint32) (int, error)) error {
	if va%PageSize != 0 {
		return fmt.Errorf("vm: loaduvm: va %#x must be page aligned", va)
	}
	var off uint32
	for off < sz {
		a := va + off
		e := as.lookup(a)
		if e == nil || !e.present {
			return fmt.Errorf("vm: loaduvm: address %#x should exist", a)
		}
		n := sz - off
		if n > PageSize {
			n = PageSize
		}
		if _, err := readFn(e.page.Data[:n], off); err != nil {
			return err
		}
		off += n
	}
	return nil
}

// AllocUVM grows the user portion of as from oldsz to newsz, allocating
// frames and mapping them writable+user. On partial failure it undoes
// back to oldsz, per spec.md §4.D and §7 tier 2.
func (as *AddressSpace) AllocUVM(cpu *hal.CPU, enabled bool, oldsz, newsz uint32) (uint32, error) {
	if newsz >= KernelBase {
		return 0, fmt.Errorf("vm: allocuvm: %#x exceeds kernel base", newsz)
	}
	if newsz < oldsz {
		return oldsz, nil
	}
	a := roundUp(oldsz)
	for a < newsz {
		pg := as.pool.Kalloc(cpu, enabled)
		if pg == nil {
			as.DeallocUVM(cpu, enabled, newsz, oldsz)
			return 0, fmt.Errorf("vm: allocuvm: out of memory")
		}
		for i := range pg.Data {
			pg.Data[i] = 0
		}
		if !as.MapPages(cpu, enabled, a, []*pmm.Page{pg}, PermWrite|PermUser) {
			as.pool.Kfree(cpu, enabled, pg)
			as.DeallocUVM(cpu, enabled, newsz, oldsz)
			return 0, fmt.Errorf("vm: allocuvm: map failed")
		}
		a += PageSize
	}
	return newsz, nil
}

// DeallocUVM shrinks the user portion from oldsz to newsz, freeing
// frames; newsz need not be less than oldsz, in which case it is a no-op
// returning oldsz (spec.md §4.D).
func (as *AddressSpace) DeallocUVM(cpu *hal.CPU, enabled bool, oldsz, newsz uint32) uint32 {
	if newsz >= oldsz {
		return oldsz
	}
	a := roundUp(newsz)
	for a < oldsz {
		pt := as.pageDirs[pdx(a)]
		if pt == nil {
			a = nextPDX(a)
			continue
		}
		if e, ok := pt.entries[ptx(a)]; ok && e.present {
			as.pool.Kfree(cpu, enabled, e.page)
			delete(pt.entries, ptx(a))
		}
		a += PageSize
	}
	as.kernel.tlb.Flush(0)
	return newsz
}

// CopyUVM deep-copies the user portion of as (used by fork): a fresh
// AddressSpace with the same kernel mapping plus freshly allocated
// frames byte-for-byte identical to as's (spec.md §4.D).
func (as *AddressSpace) CopyUVM(cpu *hal.CPU, enabled bool, sz uint32) (*AddressSpace, error) {
	dst := NewAddressSpace(as.pool, as.kernel)
	for a := uint32(0); a < sz; a += PageSize {
		e := as.lookup(a)
		if e == nil || !e.present {
			dst.FreeVM(cpu, enabled)
			return nil, fmt.Errorf("vm: copyuvm: page missing at %#x", a)
		}
		pg := as.pool.Kalloc(cpu, enabled)
		if pg == nil {
			dst.FreeVM(cpu, enabled)
			return nil, fmt.Errorf("vm: copyuvm: out of memory")
		}
		copy(pg.Data, e.page.Data)
		if !dst.MapPages(cpu, enabled, a, []*pmm.Page{pg}, e.perm) {
			as.pool.Kfree(cpu, enabled, pg)
			dst.FreeVM(cpu, enabled)
			return nil, fmt.Errorf("vm: copyuvm: map failed")
		}
	}
	return dst, nil
}

// UVA2KA translates a user virtual address to its backing frame,
// enforcing present+user, returning nil on failure (spec.md §4.D).
func (as *AddressSpace) UVA2KA(uva uint32) []byte {
	e := as.lookup(uva - uva%PageSize)
	if e == nil || !e.present || e.perm&PermUser == 0 {
		return nil
	}
	return e.page.Data
}

// CopyOut safely copies src into the foreign address space as, walking
// page-by-page via UVA2KA (spec.md §4.D).
func (as *AddressSpace) CopyOut(va uint32, src []byte) error {
	for len(src) > 0 {
		va0 := va - va%PageSize
		pa0 := as.UVA2KA(va0)
		if pa0 == nil {
			return fmt.Errorf("vm: copyout: unmapped va %#x", va0)
		}
		n := PageSize - (va - va0)
		if n > uint32(len(src)) {
			n = uint32(len(src))
		}
		copy(pa0[va-va0:], src[:n])
		src = src[n:]
		va = va0 + PageSize
	}
	return nil
}

// FreeVM deallocates the user region, frees page-table pages, and drops
// the directory itself (spec.md §4.D). Kernel-shared page tables are
// never freed here.
func (as *AddressSpace) FreeVM(cpu *hal.CPU, enabled bool) {
	as.DeallocUVM(cpu, enabled, KernelBase, 0)
	for pdxVal, pt := range as.pageDirs {
		if as.kernelPDX[pdxVal] {
			continue
		}
		as.pool.Kfree(cpu, enabled, pt.backing)
	}
	as.pageDirs = nil
}

// ClearPTEU strips the user-accessible bit from the page at uva so user
// mode can no longer reach it -- used to place a guard page beneath the
// user stack (spec.md §4.D).
func (as *AddressSpace) ClearPTEU(uva uint32) {
	e := as.lookup(uva - uva%PageSize)
	if e == nil {
		hal.Panic("vm: clearpteu: no pte for %#x", uva)
	}
	e.perm &^= PermUser
}

func roundUp(x uint32) uint32 {
	return (x + PageSize - 1) &^ (PageSize - 1)
}

func nextPDX(a uint32) uint32 {
	return (pdx(a) + 1) * pageTableSpan
}

// SwitchKVM and SwitchUVM model loading the page-table register; with no
// real MMU, "switching" is bookkeeping only: which address space is the
// CPU's Current, used by uva2ka-style helpers that default to "current".
func (c *Kernel) SwitchKVM(cpu *hal.CPU) {
	cpu.Current = nil
}

// SwitchUVM loads as as the active address space on cpu and forbids
// user-mode I/O instructions -- the latter has no analogue without real
// ring transitions, so it is a documented no-op.
func SwitchUVM(cpu *hal.CPU, as *AddressSpace) {
	if as == nil {
		hal.Panic("vm: switchuvm: no address space")
	}
	cpu.Current = as
}
