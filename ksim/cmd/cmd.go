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

// Package cmd holds implementations of the ksim commands.
package cmd

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/subcommands"
	"kmem.dev/kmem/ksim/config"
	"kmem.dev/kmem/pkg/cleanup"
	"kmem.dev/kmem/pkg/kboot"
	"kmem.dev/kmem/pkg/log"
	"kmem.dev/kmem/pkg/physmem"
	"kmem.dev/kmem/pkg/sync"
)

// ErrorLogger is where error messages should be written to. These messages are
// consumed by the user, unlike the debug log.
var ErrorLogger io.Writer = os.Stderr

// Fatalf logs to stderr and the error logger, then exits with failure.
func Fatalf(format string, args ...any) {
	writeError(format, args...)
	os.Exit(128)
}

// Errorf logs to stderr and the error logger, then returns
// subcommands.ExitFailure for convenience with subcommand.Execute() methods:
//
//	return Errorf("Danger! Danger!")
func Errorf(format string, args ...any) subcommands.ExitStatus {
	writeError(format, args...)
	return subcommands.ExitFailure
}

func writeError(format string, args ...any) {
	// Always log to the debug log first.
	log.Warningf(format, args...)

	msg := fmt.Sprintf(format, args...)
	if ErrorLogger != nil {
		fmt.Fprintf(ErrorLogger, "ksim: %s\n", msg)
	}
}

// confFromArgs extracts the Config passed to Execute by subcommands.
func confFromArgs(args []any) *config.Config {
	return args[0].(*config.Config)
}

// newMemory creates the memory that backs every frame of conf's layout.
func newMemory(conf *config.Config) (*physmem.Region, error) {
	base, size := physmem.ForLayout(conf.Layout())
	switch conf.Backing {
	case config.BackingMemfd:
		return physmem.NewMemfd("ksim-ram", base, size)
	default:
		return physmem.NewHeap(base, size)
	}
}

// bootKernel boots a machine described by conf. The returned function frees
// the machine's memory.
func bootKernel(conf *config.Config) (*kboot.Kernel, *physmem.Region, func(), error) {
	return bootKernelOn(conf, nil)
}

// bootKernelOn is bootKernel for a machine whose CPUs attach to cpus, so that
// the allocator lock masks interrupts on whichever CPU takes it. The calling
// goroutine is the boot CPU until bootKernelOn returns.
func bootKernelOn(conf *config.Config, cpus *sync.CPUSet) (*kboot.Kernel, *physmem.Region, func(), error) {
	var (
		cpu  func() sync.IRQ
		boot *sync.CPUInterrupts
	)
	if cpus != nil {
		// Interrupts stay off on the boot CPU until the scheduler starts.
		var detach func()
		boot, detach = cpus.Attach(false)
		defer detach()
		cpu = cpus.Current
	}

	mem, err := newMemory(conf)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("creating %v memory: %w", conf.Backing, err)
	}
	cu := cleanup.Make(func() {
		if err := mem.Close(); err != nil {
			log.Warningf("Closing memory %v: %v", mem, err)
		}
	})
	defer cu.Clean()

	start := time.Now()
	k, err := kboot.Boot(kboot.Config{
		Layout: conf.Layout(),
		Memory: mem,
		CPUs:   conf.CPUs,
		CPU:    cpu,
	})
	if err != nil {
		return nil, nil, nil, fmt.Errorf("booting: %w", err)
	}
	if boot != nil && (boot.Enabled() || boot.Depth() != 0) {
		return nil, nil, nil, fmt.Errorf("boot CPU left with interrupts enabled=%t depth=%d", boot.Enabled(), boot.Depth())
	}
	log.Infof("Booted in %v, %d frames free", time.Since(start), k.Alloc.FreePages())
	return k, mem, cu.Release(), nil
}
