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

package physmem

import (
	"fmt"

	"golang.org/x/sys/unix"
	"kmem.dev/kmem/pkg/cleanup"
	"kmem.dev/kmem/pkg/log"
	"kmem.dev/kmem/pkg/memlayout"
	"kmem.dev/kmem/pkg/memutil"
)

// NewMemfd returns a region of size bytes starting at physical address base,
// backed by a shared mapping of a new memfd. Pages of the file are only
// populated by the host when first touched.
func NewMemfd(name string, base memlayout.PhysAddr, size uint64) (*Region, error) {
	if err := checkBounds(base, size); err != nil {
		return nil, err
	}
	if size == 0 {
		return &Region{base: base}, nil
	}

	fd, err := memutil.CreateMemFD(name, unix.MFD_CLOEXEC)
	if err != nil {
		return nil, err
	}
	cu := cleanup.Make(func() { unix.Close(fd) })
	defer cu.Clean()

	if err := unix.Ftruncate(fd, int64(size)); err != nil {
		return nil, fmt.Errorf("ftruncate(%q, %#x) failed: %w", name, size, err)
	}
	data, err := memutil.MapSlice(0, uintptr(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED, uintptr(fd), 0)
	if err != nil {
		return nil, fmt.Errorf("mmap(%q, %#x) failed: %w", name, size, err)
	}
	cu.Add(func() { memutil.UnmapSlice(data) })

	log.Debugf("physmem: mapped memfd %q for %v, +%#x", name, base, size)
	r := &Region{
		base: base,
		data: data,
	}
	cu.Release()
	r.release = func() error {
		if err := memutil.UnmapSlice(data); err != nil {
			unix.Close(fd)
			return fmt.Errorf("munmap(%q) failed: %w", name, err)
		}
		return unix.Close(fd)
	}
	return r, nil
}
