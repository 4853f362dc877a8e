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

// Package physmem provides the RAM that backs simulated physical frames.
//
// A Region covers a contiguous physical range [Base, End) and hands out the
// bytes of single frames by physical address. The frame allocator reaches
// frame contents only through the Memory interface, so tests can back RAM
// with the Go heap and the simulator can back it with a memfd.
package physmem

import (
	"fmt"

	"kmem.dev/kmem/pkg/hostarch"
	"kmem.dev/kmem/pkg/memlayout"
)

// Memory gives access to the contents of physical frames.
type Memory interface {
	// Page returns the hostarch.PageSize bytes backing the frame that starts
	// at p, or nil if p is not page aligned or not backed.
	Page(p memlayout.PhysAddr) []byte
}

// Region is a contiguous range of backed physical memory.
type Region struct {
	base memlayout.PhysAddr
	data []byte

	// release frees data; it is nil for heap regions.
	release func() error
}

// NewHeap returns a region of size bytes starting at physical address base,
// backed by a Go byte slice.
func NewHeap(base memlayout.PhysAddr, size uint64) (*Region, error) {
	if err := checkBounds(base, size); err != nil {
		return nil, err
	}
	return &Region{base: base, data: make([]byte, size)}, nil
}

// ForLayout returns the base and size of the region that backs every frame
// an allocator with layout l can manage.
func ForLayout(l memlayout.Layout) (memlayout.PhysAddr, uint64) {
	start, end := l.ManagedRange()
	if start >= end {
		return start, 0
	}
	return start, uint64(end - start)
}

func checkBounds(base memlayout.PhysAddr, size uint64) error {
	if !base.IsPageAligned() {
		return fmt.Errorf("region base %v is not page aligned", base)
	}
	if size%hostarch.PageSize != 0 {
		return fmt.Errorf("region size %#x is not a multiple of the page size", size)
	}
	if end := base + memlayout.PhysAddr(size); end < base {
		return fmt.Errorf("region [%v, +%#x) overflows", base, size)
	}
	return nil
}

// Base returns the first physical address in the region.
func (r *Region) Base() memlayout.PhysAddr {
	return r.base
}

// End returns the physical address just past the region.
func (r *Region) End() memlayout.PhysAddr {
	return r.base + memlayout.PhysAddr(len(r.data))
}

// Size returns the size of the region in bytes.
func (r *Region) Size() uint64 {
	return uint64(len(r.data))
}

// Contains returns true if p is backed by the region.
func (r *Region) Contains(p memlayout.PhysAddr) bool {
	return r.base <= p && p < r.End()
}

// Page implements Memory.Page.
func (r *Region) Page(p memlayout.PhysAddr) []byte {
	if !p.IsPageAligned() || !r.Contains(p) {
		return nil
	}
	off := uint64(p - r.base)
	return r.data[off : off+hostarch.PageSize : off+hostarch.PageSize]
}

// Close releases the memory backing the region. The region must not be used
// afterwards.
func (r *Region) Close() error {
	release := r.release
	r.release = nil
	r.data = nil
	if release == nil {
		return nil
	}
	return release()
}

// String implements fmt.Stringer.String.
func (r *Region) String() string {
	return fmt.Sprintf("[%v, %v)", r.base, r.End())
}
