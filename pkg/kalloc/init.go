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
	"kmem.dev/kmem/pkg/log"
)

// InitPhase1 empties the allocator, sets up its lock and donates the frames
// of [vstart, vend) while only the boot CPU is running. It must be called
// exactly once, before any other method.
//
// The allocator does not lock until InitPhase2 returns.
func (a *Allocator) InitPhase1(vstart, vend hostarch.Addr) {
	if a.State() != StateUninit {
		kernel.Panic(errInitPhase1)
		return
	}
	if a.opts.Lock != nil {
		a.lock = a.opts.Lock
	} else {
		a.spin.Init("kmem", a.opts.CPU)
		a.lock = &a.spin
	}
	a.head = noFrame
	a.freePages = 0
	a.state.Store(uint32(StateSingleCPU))

	n := a.freeRange(vstart, vend)
	log.Infof("kalloc: phase 1 donated %d frames from %v", n, hostarch.AddrRange{Start: vstart, End: vend})
}

// InitPhase2 donates the frames of [vstart, vend) and makes the allocator
// safe for use by every CPU. It must be called once, after InitPhase1 and
// before a second CPU can reach the allocator.
func (a *Allocator) InitPhase2(vstart, vend hostarch.Addr) {
	if a.State() != StateSingleCPU {
		kernel.Panic(errInitPhase2)
		return
	}
	n := a.freeRange(vstart, vend)

	// Publishes every write made without the lock to the CPU that next takes
	// it.
	a.state.Store(uint32(StateMultiCPU))
	log.Infof("kalloc: phase 2 donated %d frames from %v, %d frames free", n, hostarch.AddrRange{Start: vstart, End: vend}, a.FreePages())
}

// freeRange donates every whole frame in [vstart, vend) and returns the number
// of frames donated. vstart is rounded up to a frame boundary; a trailing
// partial frame is ignored.
//
// Preconditions: a.State() == StateSingleCPU.
func (a *Allocator) freeRange(vstart, vend hostarch.Addr) uint64 {
	p, ok := vstart.RoundUp()
	if !ok {
		return 0
	}
	var n uint64
	for {
		end, ok := p.AddLength(hostarch.PageSize)
		if !ok || end > vend {
			return n
		}
		f := a.frameAt(p)
		if f == nil {
			kernel.Panic(errFreeFrame)
			return n
		}
		// Donated frames are reclaimed whatever the table held before.
		f.refs = 0
		a.donated.Add(uint64(a.layout.V2P(p).PFN()))
		a.FreeFrame(p)
		n++
		p = end
	}
}
