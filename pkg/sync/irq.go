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

package sync

import (
	"kmem.dev/kmem/pkg/atomicbitops"
)

// IRQ controls the interrupt-enable flag of the CPU that is taking a lock.
//
// Disable turns interrupts off and reports whether they were on. Restore
// undoes one Disable; interrupts come back on only when the outermost
// Disable is undone and they were on before it.
type IRQ interface {
	Disable() (wasEnabled bool)
	Restore(wasEnabled bool)
}

type noIRQ struct{}

func (noIRQ) Disable() bool { return false }
func (noIRQ) Restore(bool)  {}

// NoIRQ is an IRQ for contexts with no interrupts to mask, such as host-side
// simulation where each goroutine plays a CPU.
var NoIRQ IRQ = noIRQ{}

// CPUInterrupts simulates the interrupt-enable flag of one CPU, with
// push/pop nesting across locks held at the same time.
//
// A CPUInterrupts must only be used by the goroutine that plays its CPU.
type CPUInterrupts struct {
	enabled atomicbitops.Bool
	depth   atomicbitops.Uint32
}

// NewCPUInterrupts returns a CPUInterrupts with interrupts initially enabled
// or disabled.
func NewCPUInterrupts(enabled bool) *CPUInterrupts {
	c := &CPUInterrupts{}
	c.enabled.Store(enabled)
	return c
}

// Enabled returns true if interrupts are currently on.
func (c *CPUInterrupts) Enabled() bool {
	return c.enabled.Load()
}

// Depth returns the number of outstanding Disable calls.
func (c *CPUInterrupts) Depth() uint32 {
	return c.depth.Load()
}

// Disable implements IRQ.Disable.
func (c *CPUInterrupts) Disable() bool {
	was := c.enabled.Swap(false)
	c.depth.Add(1)
	return was
}

// Restore implements IRQ.Restore.
func (c *CPUInterrupts) Restore(wasEnabled bool) {
	if c.enabled.Load() {
		panic("sync: Restore with interrupts enabled")
	}
	if c.depth.Load() == 0 {
		panic("sync: Restore without Disable")
	}
	if c.depth.Add(^uint32(0)) == 0 && wasEnabled {
		c.enabled.Store(true)
	}
}
