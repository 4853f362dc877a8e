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

//go:build linux

package kalloc

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"testing"

	"golang.org/x/sync/errgroup"
	"kmem.dev/kmem/pkg/hostarch"
	"kmem.dev/kmem/pkg/sync"
)

func TestSMPStress(t *testing.T) {
	const (
		frames = 64
		cpus   = 4
	)
	iterations := 100000
	if testing.Short() {
		iterations = 5000
	}
	set := sync.NewCPUSet()
	a := newDonatedOpts(t, frames, Opts{CPU: set.Current})

	irqs := make([]*sync.CPUInterrupts, cpus)
	var g errgroup.Group
	for cpu := 0; cpu < cpus; cpu++ {
		g.Go(func() error {
			irq, detach := set.Attach(true)
			defer detach()
			irqs[cpu] = irq

			rng := rand.New(rand.NewPCG(uint64(cpu), 0))
			var held [4]hostarch.Addr
			for i := 0; i < iterations; i++ {
				n := 1 + rng.IntN(len(held))
				for j := 0; j < n; j++ {
					v := a.AllocFrame()
					if v == 0 {
						return errors.New("pool exhausted")
					}
					held[j] = v
				}
				for j := 0; j < n; j++ {
					if rng.IntN(4) == 0 {
						// Share the frame, then drop both owners.
						a.IncRef(a.layout.V2P(held[j]))
						a.FreeFrame(held[j])
					}
					a.FreeFrame(held[j])
				}
				if !irq.Enabled() || irq.Depth() != 0 {
					return fmt.Errorf("CPU %d: interrupts enabled=%t depth=%d between calls", cpu, irq.Enabled(), irq.Depth())
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("stress failed: %v", err)
	}

	for cpu, irq := range irqs {
		if !irq.Enabled() || irq.Depth() != 0 {
			t.Errorf("CPU %d: interrupts enabled=%t depth=%d after stress, want enabled at depth 0", cpu, irq.Enabled(), irq.Depth())
		}
	}
	if got := a.FreePages(); got != frames {
		t.Errorf("FreePages() = %d, want %d", got, frames)
	}
	list := a.FreeList()
	distinct := make(map[hostarch.Addr]bool)
	for _, v := range list {
		distinct[v] = true
		if refs := a.GetRef(a.layout.V2P(v)); refs != 0 {
			t.Errorf("free frame %v has %d references", v, refs)
		}
	}
	if len(list) != frames || len(distinct) != frames {
		t.Errorf("free list has %d entries, %d distinct, want %d", len(list), len(distinct), frames)
	}
	checkInvariants(t, a)
}
