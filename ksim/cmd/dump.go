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
	"io"
	"os"

	"github.com/google/btree"
	"github.com/google/subcommands"
	"kmem.dev/kmem/ksim/flag"
	"kmem.dev/kmem/pkg/hostarch"
	"kmem.dev/kmem/pkg/kalloc"
	"kmem.dev/kmem/pkg/memlayout"
)

// Dump implements subcommands.Command for the "dump" command.
type Dump struct {
	alloc int
	order bool
}

// Name implements subcommands.Command.Name.
func (*Dump) Name() string {
	return "dump"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Dump) Synopsis() string {
	return "print the free frames of a booted machine as physical ranges"
}

// Usage implements subcommands.Command.Usage.
func (*Dump) Usage() string {
	return `dump [flags]

Boots, allocates --alloc frames, and prints the free list. By default free
frames are sorted and merged into contiguous physical ranges; with --order
they are printed one per line in the order they would be allocated.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (d *Dump) SetFlags(f *flag.FlagSet) {
	f.IntVar(&d.alloc, "alloc", 0, "number of frames to allocate before dumping.")
	f.BoolVar(&d.order, "order", false, "print frames in allocation order instead of as ranges.")
}

// Execute implements subcommands.Command.Execute.
func (d *Dump) Execute(_ context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() != 0 || d.alloc < 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	conf := confFromArgs(args)

	k, _, release, err := bootKernel(conf)
	if err != nil {
		return Errorf("%v", err)
	}
	defer release()

	a := k.Alloc
	for i := 0; i < d.alloc; i++ {
		if _, err := a.Alloc(); err != nil {
			return Errorf("allocating frame %d of %d: %v", i+1, d.alloc, err)
		}
	}

	if d.order {
		l := a.Layout()
		for i, v := range a.FreeList() {
			fmt.Fprintf(os.Stdout, "%6d %v phys %v\n", i, v, l.V2P(v))
		}
		return subcommands.ExitSuccess
	}
	ranges := freeRanges(a)
	printRanges(os.Stdout, ranges)
	return subcommands.ExitSuccess
}

// physRange is a run of contiguous free frames.
type physRange struct {
	start, end memlayout.PhysAddr
}

// freeRanges returns the allocator's free frames merged into ascending,
// maximal physical ranges.
func freeRanges(a *kalloc.Allocator) []physRange {
	l := a.Layout()
	set := btree.NewG(32, func(x, y memlayout.PFN) bool { return x < y })
	for _, v := range a.FreeList() {
		set.ReplaceOrInsert(l.V2P(v).PFN())
	}

	var ranges []physRange
	set.Ascend(func(pfn memlayout.PFN) bool {
		if n := len(ranges); n > 0 && ranges[n-1].end == pfn.Addr() {
			ranges[n-1].end += hostarch.PageSize
			return true
		}
		ranges = append(ranges, physRange{start: pfn.Addr(), end: pfn.Addr() + hostarch.PageSize})
		return true
	})
	return ranges
}

func printRanges(w io.Writer, ranges []physRange) {
	var total uint64
	for _, r := range ranges {
		frames := uint64(r.end-r.start) / hostarch.PageSize
		total += frames
		fmt.Fprintf(w, "[%v, %v) %d frames\n", r.start, r.end, frames)
	}
	fmt.Fprintf(w, "%d ranges, %d frames free\n", len(ranges), total)
}
