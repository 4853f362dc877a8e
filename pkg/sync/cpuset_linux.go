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

	"golang.org/x/sys/unix"
)

// CPUSet maps host threads to simulated CPUs, so that a spin lock can find
// the interrupt state of the CPU it is acquired on without being told.
//
// A goroutine becomes a CPU by calling Attach, which wires it to its host
// thread until the returned function is called.
type CPUSet struct {
	mu    Mutex
	byTID map[int]*CPUInterrupts
}

// NewCPUSet returns an empty CPUSet.
func NewCPUSet() *CPUSet {
	return &CPUSet{byTID: make(map[int]*CPUInterrupts)}
}

// Attach makes the calling goroutine a CPU whose interrupts start enabled or
// disabled. The returned function detaches it and must be called from the
// same goroutine.
func (s *CPUSet) Attach(enabled bool) (*CPUInterrupts, func()) {
	runtime.LockOSThread()
	tid := unix.Gettid()
	cpu := NewCPUInterrupts(enabled)

	s.mu.Lock()
	if _, ok := s.byTID[tid]; ok {
		s.mu.Unlock()
		runtime.UnlockOSThread()
		panic("sync: goroutine attached to a CPUSet twice")
	}
	s.byTID[tid] = cpu
	s.mu.Unlock()

	return cpu, func() {
		s.mu.Lock()
		delete(s.byTID, tid)
		s.mu.Unlock()
		runtime.UnlockOSThread()
	}
}

// Len returns the number of attached CPUs.
func (s *CPUSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.byTID)
}

// Current returns the interrupts of the CPU the caller runs on, or NoIRQ if
// the caller is not attached.
func (s *CPUSet) Current() IRQ {
	tid := unix.Gettid()
	s.mu.Lock()
	cpu, ok := s.byTID[tid]
	s.mu.Unlock()
	if !ok {
		return NoIRQ
	}
	return cpu
}
