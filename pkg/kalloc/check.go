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
	"fmt"

	"kmem.dev/kmem/pkg/bitmap"
	"kmem.dev/kmem/pkg/hostarch"
	"kmem.dev/kmem/pkg/memlayout"
)

// FreePages returns the number of free frames. The value may be stale as soon
// as it is returned.
func (a *Allocator) FreePages() uint64 {
	locked, ok := a.acquire()
	if !ok {
		return 0
	}
	n := a.freePages
	a.release(locked)
	return n
}

// FreeList returns the kernel-virtual addresses of the free frames in the
// order AllocFrame would return them.
func (a *Allocator) FreeList() []hostarch.Addr {
	locked, ok := a.acquire()
	if !ok {
		return nil
	}
	defer a.release(locked)

	addrs := make([]hostarch.Addr, 0, a.freePages)
	for pfn := a.head; pfn != noFrame && uint64(len(addrs)) < uint64(len(a.frames)); pfn = a.frames[pfn].next {
		addrs = append(addrs, a.layout.P2V(pfn.Addr()))
	}
	return addrs
}

// Check verifies the allocator's invariants:
//
//   - The free list has exactly FreePages() entries, with no repeats.
//   - Every free frame is frame aligned, lies in the managed range and has a
//     reference count of 0.
//   - Every donated frame is either free or has a reference count above 0.
//
// It returns an error describing the first violation found.
func (a *Allocator) Check() error {
	if s := a.State(); s == StateUninit {
		return fmt.Errorf("allocator is %v", s)
	}
	locked, _ := a.acquire()
	defer a.release(locked)

	start, end := a.layout.ManagedRange()
	visited := bitmap.New(uint64(len(a.frames)))
	var n uint64
	for pfn := a.head; pfn != noFrame; pfn = a.frames[pfn].next {
		addr := pfn.Addr()
		if addr < start || addr >= end || uint64(pfn) >= uint64(len(a.frames)) {
			return fmt.Errorf("free list entry %d at %v is outside managed memory [%v, %v)", n, addr, start, end)
		}
		if !visited.Add(uint64(pfn)) {
			return fmt.Errorf("free list entry %d at %v appears twice", n, addr)
		}
		f := &a.frames[pfn]
		if !f.free {
			return fmt.Errorf("free list entry %d at %v is not marked free", n, addr)
		}
		if f.refs != 0 {
			return fmt.Errorf("free frame %v has %d references", addr, f.refs)
		}
		n++
	}
	if n != a.freePages {
		return fmt.Errorf("free list has %d entries, free page count is %d", n, a.freePages)
	}

	var err error
	var owned uint64
	a.donated.ForEach(func(i uint64) bool {
		pfn := memlayout.PFN(i)
		f := &a.frames[pfn]
		switch {
		case f.free != visited.Contains(i):
			err = fmt.Errorf("frame %v is marked free=%t but listed=%t", pfn.Addr(), f.free, visited.Contains(i))
		case !f.free && f.refs == 0:
			err = fmt.Errorf("donated frame %v is neither free nor referenced", pfn.Addr())
		case !f.free:
			owned++
		}
		return err == nil
	})
	if err != nil {
		return err
	}
	if donated := a.donated.Count(); a.freePages+owned != donated {
		return fmt.Errorf("%d free and %d referenced frames, but %d were donated", a.freePages, owned, donated)
	}
	return nil
}
