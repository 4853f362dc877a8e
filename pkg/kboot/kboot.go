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

// Package kboot brings up physical memory management in the order the boot
// CPU does: the frames mapped by the bootstrap page table are donated first,
// the kernel page table and the other CPUs' stacks are carved out of them,
// and only then is the rest of memory donated and the allocator opened to
// every CPU.
package kboot

import (
	"fmt"

	"kmem.dev/kmem/pkg/hostarch"
	"kmem.dev/kmem/pkg/kalloc"
	"kmem.dev/kmem/pkg/log"
	"kmem.dev/kmem/pkg/memlayout"
	"kmem.dev/kmem/pkg/physmem"
	"kmem.dev/kmem/pkg/sync"
)

// Config describes the machine to boot.
type Config struct {
	// Layout is the physical memory layout.
	Layout memlayout.Layout

	// Memory backs every managed frame.
	Memory physmem.Memory

	// CPUs is the number of CPUs, including the boot CPU. Each other CPU
	// gets a one-frame kernel stack.
	CPUs int

	// Lock and CPU are passed to the allocator.
	Lock sync.Locker
	CPU  func() sync.IRQ
}

// Kernel is a booted machine.
type Kernel struct {
	// Alloc is the frame allocator, in kalloc.StateMultiCPU.
	Alloc *kalloc.Allocator

	// PageDir is the frame holding the kernel page directory.
	PageDir hostarch.Addr

	// Stacks holds the kernel stack frame of each non-boot CPU.
	Stacks []hostarch.Addr

	mem physmem.Memory
}

// Boot initializes the frame allocator for cfg.
func Boot(cfg Config) (*Kernel, error) {
	if cfg.CPUs < 1 {
		return nil, fmt.Errorf("invalid CPU count %d", cfg.CPUs)
	}
	a, err := kalloc.New(cfg.Layout, cfg.Memory, kalloc.Opts{Lock: cfg.Lock, CPU: cfg.CPU})
	if err != nil {
		return nil, err
	}
	l := a.Layout()
	log.Infof("kboot: %v, %d CPUs", l, cfg.CPUs)

	early := l.EarlyRange()
	a.InitPhase1(early.Start, early.End)

	k := &Kernel{Alloc: a, mem: cfg.Memory}
	if k.PageDir, err = k.alloc("kernel page directory"); err != nil {
		return nil, err
	}
	for cpu := 1; cpu < cfg.CPUs; cpu++ {
		stack, err := k.alloc(fmt.Sprintf("kernel stack for CPU %d", cpu))
		if err != nil {
			return nil, err
		}
		k.Stacks = append(k.Stacks, stack)
	}

	late := l.LateRange()
	a.InitPhase2(late.Start, late.End)
	return k, nil
}

// alloc allocates a zeroed frame during boot.
func (k *Kernel) alloc(what string) (hostarch.Addr, error) {
	v, err := k.Alloc.Alloc()
	if err != nil {
		return 0, fmt.Errorf("allocating %s: %w", what, err)
	}
	l := k.Alloc.Layout()
	p := l.V2P(v)
	clear(k.mem.Page(p))
	log.Debugf("kboot: %s at %v (phys %v)", what, v, p)
	return v, nil
}

// Shutdown returns the frames allocated by Boot to the allocator.
func (k *Kernel) Shutdown() {
	for _, stack := range k.Stacks {
		k.Alloc.FreeFrame(stack)
	}
	k.Stacks = nil
	if k.PageDir != 0 {
		k.Alloc.FreeFrame(k.PageDir)
		k.PageDir = 0
	}
}

// Reserved returns the number of frames held by the kernel itself.
func (k *Kernel) Reserved() int {
	n := len(k.Stacks)
	if k.PageDir != 0 {
		n++
	}
	return n
}
