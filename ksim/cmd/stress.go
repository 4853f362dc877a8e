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

package cmd

import (
	"context"
	"fmt"
	"math/rand/v2"
	"os"
	"time"

	"github.com/google/subcommands"
	"golang.org/x/sync/errgroup"
	"kmem.dev/kmem/ksim/flag"
	"kmem.dev/kmem/pkg/atomicbitops"
	"kmem.dev/kmem/pkg/hostarch"
	"kmem.dev/kmem/pkg/kalloc"
	"kmem.dev/kmem/pkg/log"
	"kmem.dev/kmem/pkg/sync"
)

// Stress implements subcommands.Command for the "stress" command.
type Stress struct {
	iterations int
	hold       int
	share      int
	seed       uint64
}

// Name implements subcommands.Command.Name.
func (*Stress) Name() string {
	return "stress"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Stress) Synopsis() string {
	return "run random allocations on every simulated CPU at once"
}

// Usage implements subcommands.Command.Usage.
func (*Stress) Usage() string {
	return `stress [flags]

Boots, then runs --iterations rounds on each of --cpus goroutines. Each round
allocates up to --hold frames, shares some of them with IncRef, and frees
every reference again. When all CPUs are done the allocator must hold exactly
the frames it held after boot.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (s *Stress) SetFlags(f *flag.FlagSet) {
	f.IntVar(&s.iterations, "iterations", 100000, "rounds per CPU.")
	f.IntVar(&s.hold, "hold", 4, "maximum number of frames a CPU holds at once.")
	f.IntVar(&s.share, "share-percent", 25, "percentage of allocated frames that are shared before being freed.")
	f.Uint64Var(&s.seed, "seed", 0, "random seed. 0 uses the current time.")
}

// stressStats counts work done by all CPUs.
type stressStats struct {
	allocs atomicbitops.Uint64
	shares atomicbitops.Uint64
	frees  atomicbitops.Uint64
	empty  atomicbitops.Uint64
}

// Execute implements subcommands.Command.Execute.
func (s *Stress) Execute(ctx context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() != 0 || s.hold < 1 || s.share < 0 || s.share > 100 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	conf := confFromArgs(args)

	cpus := sync.NewCPUSet()
	k, _, release, err := bootKernelOn(conf, cpus)
	if err != nil {
		return Errorf("%v", err)
	}
	defer release()

	seed := s.seed
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	log.Infof("Stress: %d CPUs, %d iterations, seed %d", conf.CPUs, s.iterations, seed)

	a := k.Alloc
	before := a.FreePages()
	var stats stressStats
	progress := log.BasicRateLimitedLogger(time.Second)
	start := time.Now()

	g, ctx := errgroup.WithContext(ctx)
	for cpu := 0; cpu < conf.CPUs; cpu++ {
		rng := rand.New(rand.NewPCG(seed, uint64(cpu)))
		g.Go(func() error {
			irq, detach := cpus.Attach(true)
			defer detach()
			if err := s.run(ctx, cpu, a, rng, &stats, progress); err != nil {
				return err
			}
			if !irq.Enabled() || irq.Depth() != 0 {
				return fmt.Errorf("CPU %d: interrupts enabled=%t depth=%d after its last allocator call", cpu, irq.Enabled(), irq.Depth())
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Errorf("stress failed: %v", err)
	}

	fmt.Fprintf(os.Stdout, "%d allocations (%d failed), %d shares, %d frees in %v\n",
		stats.allocs.Load(), stats.empty.Load(), stats.shares.Load(), stats.frees.Load(), time.Since(start))
	if after := a.FreePages(); after != before {
		return Errorf("%d frames free after stress, want %d", after, before)
	}
	if err := a.Check(); err != nil {
		return Errorf("allocator check failed: %v", err)
	}
	fmt.Fprintf(os.Stdout, "%d frames free, allocator consistent\n", a.FreePages())
	return subcommands.ExitSuccess
}

// run is the loop executed by one simulated CPU.
func (s *Stress) run(ctx context.Context, cpu int, a *kalloc.Allocator, rng *rand.Rand, stats *stressStats, progress log.Logger) error {
	l := a.Layout()
	held := make([]hostarch.Addr, 0, s.hold)
	for i := 0; i < s.iterations; i++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		held = held[:0]
		for n := 1 + rng.IntN(s.hold); n > 0; n-- {
			v := a.AllocFrame()
			if v == 0 {
				// Other CPUs hold everything; retry next round.
				stats.empty.Add(1)
				break
			}
			stats.allocs.Add(1)
			if refs := a.GetRef(l.V2P(v)); refs != 1 {
				return fmt.Errorf("CPU %d: new frame %v has %d references", cpu, v, refs)
			}
			held = append(held, v)
		}
		for _, v := range held {
			if rng.IntN(100) < s.share {
				a.IncRef(l.V2P(v))
				stats.shares.Add(1)
				a.FreeFrame(v)
				stats.frees.Add(1)
			}
			a.FreeFrame(v)
			stats.frees.Add(1)
		}
		if progress.IsLogging(log.Debug) {
			progress.Debugf("CPU %d: iteration %d, %d frames free", cpu, i, a.FreePages())
		}
	}
	return nil
}
