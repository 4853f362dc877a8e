// Copyright 2026 The gVisor Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package memlayout describes the physical memory layout of the simulated
// machine: where the kernel image ends, where managed RAM stops, and how
// kernel-virtual addresses translate to physical ones.
//
// The kernel maps all of physical memory at a constant offset, KernBase, so
// translation in both directions is a single add or subtract.
package memlayout

import (
	"fmt"

	"kmem.dev/kmem/pkg/hostarch"
)

// PhysAddr is a physical address.
type PhysAddr uint64

// PFN is a physical frame number: a physical address shifted right by
// hostarch.PageShift.
type PFN uint64

// PFN returns the number of the frame containing p.
func (p PhysAddr) PFN() PFN {
	return PFN(p >> hostarch.PageShift)
}

// IsPageAligned returns true if p is aligned to a frame boundary.
func (p PhysAddr) IsPageAligned() bool {
	return p&(hostarch.PageSize-1) == 0
}

// RoundDown returns p rounded down to the nearest frame boundary.
func (p PhysAddr) RoundDown() PhysAddr {
	return p & ^PhysAddr(hostarch.PageSize-1)
}

// String implements fmt.Stringer.String.
func (p PhysAddr) String() string {
	return fmt.Sprintf("%#x", uint64(p))
}

// Addr returns the physical address of the first byte of frame f.
func (f PFN) Addr() PhysAddr {
	return PhysAddr(f) << hostarch.PageShift
}

// Layout is the fixed memory layout of a machine. It is set at boot and never
// changes.
type Layout struct {
	// KernBase is the kernel-virtual address at which physical address 0 is
	// mapped.
	KernBase hostarch.Addr

	// KernelEnd is the first kernel-virtual address past the loaded kernel
	// image (the linker's "end" symbol). It need not be page aligned.
	KernelEnd hostarch.Addr

	// PhysTop is the exclusive upper bound of managed physical memory.
	PhysTop PhysAddr

	// EntryTop is the exclusive physical end of the region mapped by the
	// bootstrap page table. Frames below it can be used before the full
	// kernel page table is installed.
	EntryTop PhysAddr
}

// Default returns the layout of a 32-bit x86 machine with 224MB of RAM, a
// kernel loaded at 1MB and a 4MB bootstrap mapping.
func Default() Layout {
	return Layout{
		KernBase:  0x80000000,
		KernelEnd: 0x801154a8,
		PhysTop:   0xE000000,
		EntryTop:  0x400000,
	}
}

// V2P translates a kernel-virtual address to a physical address.
func (l Layout) V2P(v hostarch.Addr) PhysAddr {
	return PhysAddr(v - l.KernBase)
}

// P2V translates a physical address to a kernel-virtual address.
func (l Layout) P2V(p PhysAddr) hostarch.Addr {
	return hostarch.Addr(p) + l.KernBase
}

// KernelEndPhys returns the physical address of KernelEnd.
func (l Layout) KernelEndPhys() PhysAddr {
	return l.V2P(l.KernelEnd)
}

// NumFrames returns the number of frames in [0, PhysTop), which is the size of
// any table indexed by PFN.
func (l Layout) NumFrames() uint64 {
	return uint64(l.PhysTop.PFN())
}

// ManagedRange returns the physical range [start, PhysTop) of frames that can
// be donated to an allocator, where start is KernelEnd rounded up to a frame
// boundary.
func (l Layout) ManagedRange() (start, end PhysAddr) {
	start = PhysAddr(l.KernelEnd.MustRoundUp() - l.KernBase)
	return start, l.PhysTop
}

// EarlyRange returns the kernel-virtual range that is mapped by the bootstrap
// page table and lies above the kernel image.
func (l Layout) EarlyRange() hostarch.AddrRange {
	return hostarch.AddrRange{Start: l.KernelEnd, End: l.P2V(l.EntryTop)}
}

// LateRange returns the kernel-virtual range of managed memory that is only
// reachable once the full kernel page table is installed.
func (l Layout) LateRange() hostarch.AddrRange {
	return hostarch.AddrRange{Start: l.P2V(l.EntryTop), End: l.P2V(l.PhysTop)}
}

// Validate checks the layout for consistency.
func (l Layout) Validate() error {
	if !l.KernBase.IsPageAligned() {
		return fmt.Errorf("kernel base %v is not page aligned", l.KernBase)
	}
	if !l.PhysTop.IsPageAligned() || l.PhysTop == 0 {
		return fmt.Errorf("physical top %v must be non-zero and page aligned", l.PhysTop)
	}
	if !l.EntryTop.IsPageAligned() {
		return fmt.Errorf("entry top %v is not page aligned", l.EntryTop)
	}
	if l.EntryTop > l.PhysTop {
		return fmt.Errorf("entry top %v is above physical top %v", l.EntryTop, l.PhysTop)
	}
	if _, ok := l.KernBase.AddLength(uint64(l.PhysTop)); !ok {
		return fmt.Errorf("physical memory up to %v cannot be mapped at %v", l.PhysTop, l.KernBase)
	}
	if l.KernelEnd <= l.KernBase {
		return fmt.Errorf("kernel end %v must be above kernel base %v", l.KernelEnd, l.KernBase)
	}
	if _, ok := l.KernelEnd.RoundUp(); !ok {
		return fmt.Errorf("kernel end %v cannot be rounded up", l.KernelEnd)
	}
	if end := l.KernelEndPhys(); end > l.EntryTop {
		return fmt.Errorf("kernel image ends at %v, above the bootstrap mapping %v", end, l.EntryTop)
	}
	return nil
}

// String implements fmt.Stringer.String.
func (l Layout) String() string {
	return fmt.Sprintf("kernbase=%v end=%v entrytop=%v phystop=%v", l.KernBase, l.KernelEnd, l.EntryTop, l.PhysTop)
}
