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

package bitmap

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestAddRemove(t *testing.T) {
	b := New(130)
	if got := b.Size(); got != 192 {
		t.Errorf("Size() = %d, want 192", got)
	}
	for _, i := range []uint64{0, 5, 63, 64, 129} {
		if !b.Add(i) {
			t.Errorf("Add(%d) = false on first add", i)
		}
	}
	if b.Add(5) {
		t.Errorf("Add(5) = true on second add")
	}
	if got := b.Count(); got != 5 {
		t.Errorf("Count() = %d, want 5", got)
	}
	if !b.Contains(64) || b.Contains(65) || b.Contains(1000) {
		t.Errorf("Contains reports wrong membership: %v", b.ToSlice())
	}
	if !b.Remove(63) || b.Remove(63) || b.Remove(1000) {
		t.Errorf("Remove reports wrong membership")
	}
	if diff := cmp.Diff([]uint64{0, 5, 64, 129}, b.ToSlice()); diff != "" {
		t.Errorf("ToSlice() mismatch (-want +got):\n%s", diff)
	}
	b.Reset()
	if !b.IsEmpty() || len(b.ToSlice()) != 0 {
		t.Errorf("bitmap not empty after Reset: %v", b.ToSlice())
	}
}

func TestFirstOne(t *testing.T) {
	b := New(256)
	b.Add(3)
	b.Add(70)
	b.Add(200)
	for _, test := range []struct {
		start uint64
		want  uint64
		found bool
	}{
		{0, 3, true},
		{3, 3, true},
		{4, 70, true},
		{71, 200, true},
		{201, 0, false},
		{1000, 0, false},
	} {
		got, found := b.FirstOne(test.start)
		if got != test.want || found != test.found {
			t.Errorf("FirstOne(%d) = %d, %t, want %d, %t", test.start, got, found, test.want, test.found)
		}
	}
}

func TestForEachStops(t *testing.T) {
	b := New(64)
	for i := uint64(0); i < 10; i++ {
		b.Add(i * 6)
	}
	var seen []uint64
	b.ForEach(func(i uint64) bool {
		seen = append(seen, i)
		return len(seen) < 3
	})
	if diff := cmp.Diff([]uint64{0, 6, 12}, seen); diff != "" {
		t.Errorf("ForEach visited (-want +got):\n%s", diff)
	}
}
