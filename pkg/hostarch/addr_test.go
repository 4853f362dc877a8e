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

package hostarch

import (
	"testing"
)

func TestAddrRounding(t *testing.T) {
	for _, test := range []struct {
		addr    Addr
		down    Addr
		up      Addr
		upOK    bool
		aligned bool
		offset  uint64
	}{
		{addr: 0, down: 0, up: 0, upOK: true, aligned: true},
		{addr: 1, down: 0, up: PageSize, upOK: true, offset: 1},
		{addr: PageSize - 1, down: 0, up: PageSize, upOK: true, offset: PageSize - 1},
		{addr: PageSize, down: PageSize, up: PageSize, upOK: true, aligned: true},
		{addr: 0x80116a8c, down: 0x80116000, up: 0x80117000, upOK: true, offset: 0xa8c},
		{addr: ^Addr(0), down: ^Addr(PageSize - 1), up: 0, upOK: false, offset: PageSize - 1},
	} {
		t.Run(test.addr.String(), func(t *testing.T) {
			if got := test.addr.RoundDown(); got != test.down {
				t.Errorf("RoundDown() = %v, want %v", got, test.down)
			}
			up, ok := test.addr.RoundUp()
			if ok != test.upOK || (ok && up != test.up) {
				t.Errorf("RoundUp() = (%v, %t), want (%v, %t)", up, ok, test.up, test.upOK)
			}
			if got := test.addr.IsPageAligned(); got != test.aligned {
				t.Errorf("IsPageAligned() = %t, want %t", got, test.aligned)
			}
			if got := test.addr.PageOffset(); got != test.offset {
				t.Errorf("PageOffset() = %#x, want %#x", got, test.offset)
			}
		})
	}
}

func TestAddrRangePages(t *testing.T) {
	for _, test := range []struct {
		name string
		r    AddrRange
		want uint64
	}{
		{
			name: "Empty range",
			r:    AddrRange{PageSize, PageSize},
			want: 0,
		},
		{
			name: "Aligned range",
			r:    AddrRange{PageSize, 5 * PageSize},
			want: 4,
		},
		{
			name: "Leading partial page is dropped",
			r:    AddrRange{PageSize + 1, 5 * PageSize},
			want: 3,
		},
		{
			name: "Trailing partial page is dropped",
			r:    AddrRange{PageSize, 5*PageSize - 1},
			want: 3,
		},
		{
			name: "Range smaller than a page",
			r:    AddrRange{PageSize + 1, 2*PageSize - 1},
			want: 0,
		},
	} {
		t.Run(test.name, func(t *testing.T) {
			if got := test.r.Pages(); got != test.want {
				t.Errorf("%v.Pages() = %d, want %d", test.r, got, test.want)
			}
		})
	}
}

func TestAddLength(t *testing.T) {
	if end, ok := Addr(PageSize).AddLength(PageSize); !ok || end != 2*PageSize {
		t.Errorf("AddLength() = (%v, %t), want (%v, true)", end, ok, Addr(2*PageSize))
	}
	if _, ok := (^Addr(0)).AddLength(1); ok {
		t.Errorf("AddLength() overflow not reported")
	}
}
