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

package sync

import (
	"runtime"

	"kmem.dev/kmem/pkg/atomicbitops"
)

// yieldFn is called between acquisition attempts. Goroutines that play CPUs
// must let the holder run, so the default gives up the processor.
var yieldFn = runtime.Gosched

// SpinLock is a mutual exclusion lock whose waiters busy-wait. Interrupts on
// the acquiring CPU are disabled before spinning and stay disabled until
// Unlock, so an interrupt handler can never spin on a lock held by the code
// it interrupted.
//
// The zero value is an unlocked lock that masks no interrupts. A SpinLock
// must not be copied after first use, and must not be re-acquired by its
// holder.
type SpinLock struct {
	state atomicbitops.Uint32

	// name identifies the lock in diagnostics.
	name string

	// cpu returns the interrupts of the calling CPU. nil means NoIRQ.
	cpu func() IRQ

	// holder and intena are the interrupts masked by the holder and whether
	// they were on before Lock. They are only accessed by the holder.
	holder IRQ
	intena bool
}

// Init names the lock and sets the function that finds the calling CPU's
// interrupts, in the manner of mycpu(). Init must be called before the lock
// is shared.
func (l *SpinLock) Init(name string, cpu func() IRQ) {
	l.state.Store(0)
	l.name = name
	l.cpu = cpu
	l.holder = nil
	l.intena = false
}

// Name returns the name given to Init.
func (l *SpinLock) Name() string {
	return l.name
}

func (l *SpinLock) current() IRQ {
	if l.cpu == nil {
		return NoIRQ
	}
	if irq := l.cpu(); irq != nil {
		return irq
	}
	return NoIRQ
}

// Lock disables interrupts on the calling CPU and spins until the lock is
// acquired.
func (l *SpinLock) Lock() {
	irq := l.current()
	was := irq.Disable()
	for !l.state.CompareAndSwap(0, 1) {
		yieldFn()
	}
	l.holder, l.intena = irq, was
}

// TryLock disables interrupts and attempts to acquire the lock once. If it
// fails, interrupts are restored and TryLock returns false.
func (l *SpinLock) TryLock() bool {
	irq := l.current()
	was := irq.Disable()
	if !l.state.CompareAndSwap(0, 1) {
		irq.Restore(was)
		return false
	}
	l.holder, l.intena = irq, was
	return true
}

// Unlock releases the lock and restores the interrupt state saved by Lock on
// the CPU that took it. Unlocking a lock that is not held panics.
func (l *SpinLock) Unlock() {
	irq, was := l.holder, l.intena
	if !l.state.CompareAndSwap(1, 0) {
		panic("sync: unlock of unlocked SpinLock " + l.name)
	}
	irq.Restore(was)
}

// Held returns true if some CPU holds the lock. The answer may be stale by
// the time it is returned; it is meant for assertions.
func (l *SpinLock) Held() bool {
	return l.state.Load() == 1
}
