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
)

// Boot implements subcommands.Command for the "boot" command.
type Boot struct {
	// shutdown returns the kernel's own frames before reporting.
	shutdown bool
}

// Name implements subcommands.Command.Name.
func (*Boot) Name() string {
	return "boot"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Boot) Synopsis() string {
	return "boot a simulated machine and report the state of its frame allocator"
}

// Usage implements subcommands.Command.Usage.
func (*Boot) Usage() string {
	return `boot [flags]

Runs the two-phase allocator initialization: frames mapped by the bootstrap
page table are donated first, the kernel page directory and one stack per
additional CPU are allocated from them, and the rest of memory is donated
last.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (b *Boot) SetFlags(f *flag.FlagSet) {
	f.BoolVar(&b.shutdown, "shutdown", false, "free the kernel's frames before reporting.")
}

// Execute implements subcommands.Command.Execute.
func (b *Boot) Execute(_ context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() != 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	conf := confFromArgs(args)

	k, _, release, err := bootKernel(conf)
	if err != nil {
		return Errorf("%v", err)
	}
	defer release()

	if b.shutdown {
		k.Shutdown()
	}
	a := k.Alloc
	l := a.Layout()
	start, end := l.ManagedRange()
	fmt.Fprintf(os.Stdout, "layout:     %v\n", l)
	fmt.Fprintf(os.Stdout, "managed:    [%v, %v), %d frames\n", start, end, uint64(end-start)/hostarch.PageSize)
	fmt.Fprintf(os.Stdout, "reserved:   %d frames\n", k.Reserved())
	fmt.Fprintf(os.Stdout, "free:       %d frames\n", a.FreePages())
	fmt.Fprintf(os.Stdout, "state:      %v\n", a.State())
	if err := a.Check(); err != nil {
		return Errorf("allocator check failed: %v", err)
	}
	return subcommands.ExitSuccess
}
