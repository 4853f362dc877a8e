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
	"bytes"
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/subcommands"
	"kmem.dev/kmem/ksim/config"
	"kmem.dev/kmem/ksim/flag"
	"kmem.dev/kmem/pkg/hostarch"
	"kmem.dev/kmem/pkg/memlayout"
	"kmem.dev/kmem/pkg/sync"
)

// smallConfig describes a 4MB machine whose bootstrap mapping covers the
// first 2MB.
func smallConfig(t *testing.T, args ...string) *config.Config {
	t.Helper()
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	config.RegisterFlags(fs)
	args = append([]string{"--phys-top=0x400000", "--entry-top=0x200000", "--cpus=2"}, args...)
	if err := fs.Parse(args); err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	conf, err := config.NewFromFlags(fs)
	if err != nil {
		t.Fatalf("NewFromFlags failed: %v", err)
	}
	return conf
}

// managedFrames is the number of frames smallConfig's allocator manages:
// everything from 0x116000 up to 4MB.
const managedFrames = (0x400000 - 0x116000) / hostarch.PageSize

func TestFreeRanges(t *testing.T) {
	k, _, release, err := bootKernel(smallConfig(t))
	if err != nil {
		t.Fatalf("bootKernel failed: %v", err)
	}
	defer release()

	// The page directory and the stack of CPU 1 are the last two frames
	// donated in phase 1.
	want := []physRange{
		{start: 0x116000, end: 0x1fe000},
		{start: 0x200000, end: 0x400000},
	}
	if diff := cmp.Diff(want, freeRanges(k.Alloc), cmp.AllowUnexported(physRange{})); diff != "" {
		t.Errorf("freeRanges() mismatch (-want +got):\n%s", diff)
	}

	var buf bytes.Buffer
	printRanges(&buf, want)
	if got := buf.String(); !strings.HasSuffix(got, "2 ranges, 744 frames free\n") {
		t.Errorf("printRanges wrote %q", got)
	}
}

func TestDrain(t *testing.T) {
	k, _, release, err := bootKernel(smallConfig(t))
	if err != nil {
		t.Fatalf("bootKernel failed: %v", err)
	}
	defer release()

	var touched int
	frames, err := drain(k.Alloc, func(hostarch.Addr) { touched++ })
	if err != nil {
		t.Fatalf("drain failed: %v", err)
	}
	if want := managedFrames - k.Reserved(); len(frames) != want || touched != want {
		t.Errorf("drain returned %d frames and touched %d, want %d", len(frames), touched, want)
	}
	if got := k.Alloc.FreePages(); got != 0 {
		t.Errorf("FreePages() = %d after drain, want 0", got)
	}
	seen := make(map[memlayout.PFN]bool)
	for _, v := range frames {
		pfn := k.Alloc.Layout().V2P(v).PFN()
		if seen[pfn] {
			t.Fatalf("frame %v allocated twice", v)
		}
		seen[pfn] = true
	}
}

func TestBootKernelOnCPUs(t *testing.T) {
	cpus := sync.NewCPUSet()
	k, _, release, err := bootKernelOn(smallConfig(t), cpus)
	if err != nil {
		t.Fatalf("bootKernelOn failed: %v", err)
	}
	defer release()
	if got := cpus.Len(); got != 0 {
		t.Errorf("%d CPUs still attached after boot, want 0", got)
	}

	done := make(chan error)
	go func() {
		irq, detach := cpus.Attach(true)
		defer detach()
		v := k.Alloc.AllocFrame()
		if v == 0 {
			done <- fmt.Errorf("AllocFrame failed after boot")
			return
		}
		l := k.Alloc.Layout()
		k.Alloc.IncRef(l.V2P(v))
		k.Alloc.FreeFrame(v)
		k.Alloc.FreeFrame(v)
		if !irq.Enabled() || irq.Depth() != 0 {
			done <- fmt.Errorf("interrupts enabled=%t depth=%d after allocator calls", irq.Enabled(), irq.Depth())
			return
		}
		done <- nil
	}()
	if err := <-done; err != nil {
		t.Error(err)
	}
}

func TestCommands(t *testing.T) {
	ErrorLogger = nil
	for _, test := range []struct {
		name string
		cmd  subcommands.Command
		args []string
		conf []string
	}{
		{name: "boot", cmd: new(Boot), args: []string{"--shutdown"}},
		{name: "drain", cmd: new(Drain), args: []string{"--touch"}},
		{name: "drain memfd", cmd: new(Drain), conf: []string{"--backing=memfd"}},
		{name: "stress", cmd: new(Stress), args: []string{"--iterations=2000", "--seed=1"}, conf: []string{"--cpus=4"}},
		{name: "dump", cmd: new(Dump), args: []string{"--alloc=10"}},
		{name: "dump order", cmd: new(Dump), args: []string{"--order"}},
	} {
		t.Run(test.name, func(t *testing.T) {
			conf := smallConfig(t, test.conf...)
			fs := flag.NewFlagSet(test.cmd.Name(), flag.ContinueOnError)
			test.cmd.SetFlags(fs)
			if err := fs.Parse(test.args); err != nil {
				t.Fatalf("Parse failed: %v", err)
			}
			if got := test.cmd.Execute(context.Background(), fs, conf); got != subcommands.ExitSuccess {
				if test.name == "drain memfd" {
					t.Skipf("memfd backing unavailable: exit status %v", got)
				}
				t.Errorf("Execute returned %v, want %v", got, subcommands.ExitSuccess)
			}
		})
	}
}

func TestUsageErrors(t *testing.T) {
	for _, test := range []struct {
		cmd  subcommands.Command
		args []string
	}{
		{cmd: new(Boot), args: []string{"extra"}},
		{cmd: new(Stress), args: []string{"--hold=0"}},
		{cmd: new(Stress), args: []string{"--share-percent=101"}},
		{cmd: new(Dump), args: []string{"--alloc=-1"}},
	} {
		fs := flag.NewFlagSet(test.cmd.Name(), flag.ContinueOnError)
		fs.SetOutput(&bytes.Buffer{})
		test.cmd.SetFlags(fs)
		if err := fs.Parse(test.args); err != nil {
			t.Fatalf("Parse(%v) failed: %v", test.args, err)
		}
		if got := test.cmd.Execute(context.Background(), fs, smallConfig(t)); got != subcommands.ExitUsageError {
			t.Errorf("%s %v returned %v, want %v", test.cmd.Name(), test.args, got, subcommands.ExitUsageError)
		}
	}
}
