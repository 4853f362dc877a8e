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
	"kmem.dev/kmem/pkg/kernel"
	"kmem.dev/kmem/pkg/memlayout"
)

// refFrame returns the record for the frame containing physical address p,
// halting the kernel with e if p is outside
// [layout.KernelEndPhys(), layout.PhysTop).
func (a *Allocator) refFrame(p memlayout.PhysAddr, e *kernel.Error) *frame {
	if p < a.layout.KernelEndPhys() || p >= a.layout.PhysTop {
		kernel.Panic(e)
		return nil
	}
	return &a.frames[p.PFN()]
}

// IncRef adds a reference to the frame containing physical address p. It is
// used when a new mapping of an existing frame is created.
func (a *Allocator) IncRef(p memlayout.PhysAddr) {
	f := a.refFrame(p, errIncRef)
	if f == nil || !a.lockAlways() {
		return
	}
	f.refs++
	a.lock.Unlock()
}

// DecRef drops a reference to the frame containing physical address p
// without reclaiming it; only FreeFrame returns frames to the free list.
// Decrementing a count of 0 wraps.
func (a *Allocator) DecRef(p memlayout.PhysAddr) {
	f := a.refFrame(p, errDecRef)
	if f == nil || !a.lockAlways() {
		return
	}
	f.refs--
	a.lock.Unlock()
}

// GetRef returns the reference count of the frame containing physical
// address p.
func (a *Allocator) GetRef(p memlayout.PhysAddr) uint32 {
	f := a.refFrame(p, errGetRef)
	if f == nil || !a.lockAlways() {
		return 0
	}
	refs := f.refs
	a.lock.Unlock()
	return refs
}
