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

// Package kalloc implements the kernel's physical frame allocator.
//
// The allocator manages every frame between the end of the kernel image and
// the top of physical memory as a LIFO free list of 4KB frames, and keeps a
// reference count for each frame so that a frame mapped by several page
// tables is only reclaimed when its last owner lets go.
//
// Frames are named by kernel-virtual address (hostarch.Addr) when they are
// allocated and freed, and by physical address (memlayout.PhysAddr) when
// their reference counts are adjusted from page table entries.
//
// Lock order:
//
//	Allocator.lock
//	  interrupts disabled on the current CPU (sync.IRQ)
package kalloc

import (
	"errors"
	"fmt"

	"kmem.dev/kmem/pkg/atomicbitops"
	"kmem.dev/kmem/pkg/bitmap"
	"kmem.dev/kmem/pkg/hostarch"
	"kmem.dev/kmem/pkg/kernel"
	"kmem.dev/kmem/pkg/memlayout"
	"kmem.dev/kmem/pkg/physmem"
	"kmem.dev/kmem/pkg/sync"
)

// PoisonByte is written over every byte of a frame when it is reclaimed.
const PoisonByte = 0x01

// noFrame terminates the free list.
const noFrame = ^memlayout.PFN(0)

var (
	errInitPhase1     = &kernel.Error{Module: "kalloc", Message: "InitPhase1"}
	errInitPhase2     = &kernel.Error{Module: "kalloc", Message: "InitPhase2"}
	errNotInitialized = &kernel.Error{Module: "kalloc", Message: "not initialized"}
	errFreeFrame      = &kernel.Error{Module: "kalloc", Message: "FreeFrame"}
	errDoubleFree     = &kernel.Error{Module: "kalloc", Message: "FreeFrame: double free"}
	errNoBacking      = &kernel.Error{Module: "kalloc", Message: "FreeFrame: frame has no backing memory"}
	errIncRef         = &kernel.Error{Module: "kalloc", Message: "IncRef"}
	errDecRef         = &kernel.Error{Module: "kalloc", Message: "DecRef"}
	errGetRef         = &kernel.Error{Module: "kalloc", Message: "GetRef"}
)

// ErrNoMemory is returned by Alloc when no frame is free.
var ErrNoMemory = errors.New("out of physical memory")

// State is the initialization state of an Allocator. It only moves forward.
type State uint32

const (
	// StateUninit is the state of a new Allocator. Only InitPhase1 may be
	// called.
	StateUninit State = iota

	// StateSingleCPU is entered by InitPhase1. Exactly one CPU is running,
	// and allocation and freeing do not take the lock.
	StateSingleCPU

	// StateMultiCPU is entered at the end of InitPhase2. Every operation
	// takes the lock.
	StateMultiCPU
)

// String implements fmt.Stringer.String.
func (s State) String() string {
	switch s {
	case StateUninit:
		return "uninit"
	case StateSingleCPU:
		return "single-cpu"
	case StateMultiCPU:
		return "multi-cpu"
	default:
		return fmt.Sprintf("State(%d)", uint32(s))
	}
}

// frame is the allocator's record of one physical frame.
type frame struct {
	// refs is the number of owners of the frame. It is 0 for free frames and
	// for frames the allocator has never been given.
	refs uint32

	// free is true if the frame is on the free list.
	free bool

	// next is the next frame on the free list, or noFrame. It is only
	// meaningful if free is true.
	next memlayout.PFN
}

// Opts configures an Allocator.
type Opts struct {
	// Lock protects the allocator. If nil, an internal SpinLock named "kmem"
	// is used.
	Lock sync.Locker

	// CPU returns the interrupts of the calling CPU, which the internal
	// SpinLock masks while held. It is ignored if Lock is set. If nil,
	// interrupts are not modeled.
	CPU func() sync.IRQ
}

// Allocator is a physical frame allocator.
type Allocator struct {
	layout memlayout.Layout
	mem    physmem.Memory
	opts   Opts

	// spin is the default lock.
	spin sync.SpinLock

	// lock is set by InitPhase1 and is either &spin or opts.Lock.
	lock sync.Locker

	// state is a State. It is written only by the init functions, which run
	// before any other CPU can reach the allocator.
	state atomicbitops.Uint32

	// The following fields are protected by lock once state is
	// StateMultiCPU.

	// head is the first frame on the free list, or noFrame if it is empty.
	head memlayout.PFN

	// freePages is the length of the free list.
	freePages uint64

	// frames is indexed by PFN and covers [0, layout.PhysTop).
	frames []frame

	// donated holds the PFN of every frame ever given to the allocator by
	// InitPhase1 or InitPhase2.
	donated bitmap.Bitmap
}

// New returns an allocator for the frames of layout l whose contents live in
// mem. The allocator holds no frames until InitPhase1 is called.
func New(l memlayout.Layout, mem physmem.Memory, opts Opts) (*Allocator, error) {
	if err := l.Validate(); err != nil {
		return nil, fmt.Errorf("invalid memory layout: %w", err)
	}
	if mem == nil {
		return nil, fmt.Errorf("no backing memory")
	}
	n := l.NumFrames()
	return &Allocator{
		layout:  l,
		mem:     mem,
		opts:    opts,
		head:    noFrame,
		frames:  make([]frame, n),
		donated: bitmap.New(n),
	}, nil
}

// Layout returns the memory layout the allocator manages.
func (a *Allocator) Layout() memlayout.Layout {
	return a.layout
}

// State returns the allocator's initialization state.
func (a *Allocator) State() State {
	return State(a.state.Load())
}

// acquire takes the lock if the allocator is in StateMultiCPU, and returns
// whether it did. ok is false, after the kernel has been halted, if the
// allocator is not initialized.
func (a *Allocator) acquire() (locked, ok bool) {
	switch a.State() {
	case StateMultiCPU:
		a.lock.Lock()
		return true, true
	case StateSingleCPU:
		return false, true
	default:
		kernel.Panic(errNotInitialized)
		return false, false
	}
}

func (a *Allocator) release(locked bool) {
	if locked {
		a.lock.Unlock()
	}
}

// lockAlways takes the lock regardless of the initialization state. It
// returns false, after the kernel has been halted, if there is no lock yet.
func (a *Allocator) lockAlways() bool {
	if a.State() == StateUninit {
		kernel.Panic(errNotInitialized)
		return false
	}
	a.lock.Lock()
	return true
}

// frameAt returns the record for the frame at kernel-virtual address v, or
// nil if v is not the start of a frame the allocator may manage.
func (a *Allocator) frameAt(v hostarch.Addr) *frame {
	if !v.IsPageAligned() || v < a.layout.KernelEnd {
		return nil
	}
	p := a.layout.V2P(v)
	if p >= a.layout.PhysTop {
		return nil
	}
	return &a.frames[p.PFN()]
}
