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
	"os"

	"github.com/google/subcommands"
	"kmem.dev/kmem/ksim/flag"
	"kmem.dev/kmem/pkg/hostarch"
	"kmem.dev/kmem/pkg/kalloc"
)

// Drain implements subcommands.Command for the "drain" command.
type Drain struct {
	// touch writes to every allocated frame.
	touch bool
}

// Name implements subcommands.Command.Name.
func (*Drain) Name() string {
	return "drain"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Drain) Synopsis() string {
	return "allocate every free frame, then free them all"
}

// Usage implements subcommands.Command.Usage.
func (*Drain) Usage() string {
	return `drain [flags]

Boots, allocates frames until the allocator is empty, frees them again and
checks that the allocator ends where it started.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (d *Drain) SetFlags(f *flag.FlagSet) {
	f.BoolVar(&d.touch, "touch", false, "zero every frame after allocating it, forcing the backing memory to be populated.")
}

// Execute implements subcommands.Command.Execute.
func (d *Drain) Execute(_ context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() != 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	conf := confFromArgs(args)

	k, mem, release, err := bootKernel(conf)
	if err != nil {
		return Errorf("%v", err)
	}
	defer release()

	a := k.Alloc
	l := a.Layout()
	before := a.FreePages()
	frames, err := drain(a, func(v hostarch.Addr) {
		if d.touch {
			clear(mem.Page(l.V2P(v)))
		}
	})
	if err != nil {
		return Errorf("%v", err)
	}
	fmt.Fprintf(os.Stdout, "allocated %d KB in %d frames\n", uint64(len(frames))*hostarch.PageSize/1024, len(frames))

	for _, v := range frames {
		a.FreeFrame(v)
	}
	if after := a.FreePages(); after != before {
		return Errorf("%d frames free after drain, want %d", after, before)
	}
	if err := a.Check(); err != nil {
		return Errorf("allocator check failed: %v", err)
	}
	fmt.Fprintf(os.Stdout, "freed %d frames, %d free\n", len(frames), a.FreePages())
	return subcommands.ExitSuccess
}

// drain allocates frames until none are left, calling fn on each, and
// returns them in allocation order.
func drain(a *kalloc.Allocator, fn func(hostarch.Addr)) ([]hostarch.Addr, error) {
	want := a.FreePages()
	frames := make([]hostarch.Addr, 0, want)
	for {
		v, err := a.Alloc()
		if err != nil {
			break
		}
		fn(v)
		frames = append(frames, v)
	}
	if uint64(len(frames)) != want {
		return frames, fmt.Errorf("allocated %d frames, but %d were free", len(frames), want)
	}
	return frames, nil
}
