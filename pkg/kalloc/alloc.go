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

package kalloc

import (
	"kmem.dev/kmem/pkg/hostarch"
	"kmem.dev/kmem/pkg/kernel"
)

// AllocFrame removes the most recently freed frame from the free list, gives
// it a reference count of 1 and returns its kernel-virtual address. It
// returns 0 if no frame is free.
//
// The frame's contents are not cleared. Until the caller writes to it, every
// byte is PoisonByte.
func (a *Allocator) AllocFrame() hostarch.Addr {
	locked, ok := a.acquire()
	if !ok {
		return 0
	}
	pfn := a.head
	if pfn == noFrame {
		a.release(locked)
		return 0
	}
	f := &a.frames[pfn]
	a.head = f.next
	f.next = noFrame
	f.free = false
	f.refs = 1
	a.freePages--
	a.release(locked)
	return a.layout.P2V(pfn.Addr())
}

// Alloc is AllocFrame for callers that propagate exhaustion as an error.
func (a *Allocator) Alloc() (hostarch.Addr, error) {
	if v := a.AllocFrame(); v != 0 {
		return v, nil
	}
	return 0, ErrNoMemory
}

// FreeFrame drops one reference to the frame at kernel-virtual address v. If
// that leaves the frame with no references, its contents are overwritten with
// PoisonByte and it is pushed onto the free list.
//
// v must be a frame-aligned address in [layout.KernelEnd, P2V(layout.PhysTop))
// that is not already free; anything else halts the kernel.
func (a *Allocator) FreeFrame(v hostarch.Addr) {
	f := a.frameAt(v)
	if f == nil {
		kernel.Panic(errFreeFrame)
		return
	}
	p := a.layout.V2P(v)
	page := a.mem.Page(p)
	if page == nil {
		kernel.Panic(errNoBacking)
		return
	}

	locked, ok := a.acquire()
	if !ok {
		return
	}
	if f.free {
		a.release(locked)
		kernel.Panic(errDoubleFree)
		return
	}
	if f.refs > 0 {
		f.refs--
	}
	if f.refs == 0 {
		for i := range page {
			page[i] = PoisonByte
		}
		a.freePages++
		f.free = true
		f.next = a.head
		a.head = p.PFN()
	}
	a.release(locked)
}
