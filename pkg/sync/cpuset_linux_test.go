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

package sync

import (
	"runtime"
	"testing"
)

func TestCPUSetCurrent(t *testing.T) {
	s := NewCPUSet()
	if got := s.Current(); got != NoIRQ {
		t.Errorf("Current() = %v before Attach, want NoIRQ", got)
	}
	cpu, detach := s.Attach(true)
	if got := s.Current(); got != IRQ(cpu) {
		t.Errorf("Current() = %v after Attach, want %v", got, cpu)
	}
	if got := s.Len(); got != 1 {
		t.Errorf("Len() = %d, want 1", got)
	}
	detach()
	if got := s.Len(); got != 0 {
		t.Errorf("Len() = %d after detach, want 0", got)
	}
}

func TestCPUSetAttachTwicePanics(t *testing.T) {
	s := NewCPUSet()
	_, detach := s.Attach(true)
	defer detach()
	defer func() {
		if r := recover(); r == nil {
			t.Errorf("second Attach did not panic")
		}
	}()
	s.Attach(true)
}

// Each CPU spins with its own interrupts off while another CPU holds the lock;
// contention must not leak one CPU's saved state into another's.
func TestSpinLockPerCPUInterrupts(t *testing.T) {
	const (
		numCPUs    = 4
		iterations = 5000
	)
	var (
		sl      SpinLock
		wg      WaitGroup
		counter int
	)
	s := NewCPUSet()
	sl.Init("shared", s.Current)

	cpus := make([]*CPUInterrupts, numCPUs)
	wg.Add(numCPUs)
	for i := range cpus {
		go func() {
			defer wg.Done()
			cpu, detach := s.Attach(true)
			defer detach()
			cpus[i] = cpu
			for j := 0; j < iterations; j++ {
				sl.Lock()
				if cpu.Enabled() {
					t.Errorf("CPU %d: interrupts enabled while holding the lock", i)
				}
				counter++
				runtime.Gosched()
				sl.Unlock()
			}
		}()
	}
	wg.Wait()

	if want := numCPUs * iterations; counter != want {
		t.Errorf("counter = %d, want %d", counter, want)
	}
	for i, cpu := range cpus {
		if !cpu.Enabled() || cpu.Depth() != 0 {
			t.Errorf("CPU %d: interrupts enabled=%t depth=%d, want enabled at depth 0", i, cpu.Enabled(), cpu.Depth())
		}
	}
}
