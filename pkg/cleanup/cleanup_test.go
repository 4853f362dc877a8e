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

package cleanup

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func testCleanupHelper(order *[]string, release bool) func() {
	cu := Make(func() {
		*order = append(*order, "made")
	})
	cu.Add(func() {
		*order = append(*order, "added")
	})
	defer cu.Clean()
	if release {
		return cu.Release()
	}
	return nil
}

func TestCleanup(t *testing.T) {
	var order []string
	testCleanupHelper(&order, false)
	if diff := cmp.Diff([]string{"added", "made"}, order); diff != "" {
		t.Fatalf("cleanup order mismatch (-want +got):\n%s", diff)
	}
}

func TestRelease(t *testing.T) {
	var order []string
	cleaner := testCleanupHelper(&order, true)

	// Check that nothing was called after release.
	if len(order) != 0 {
		t.Fatalf("cleanup functions were called: %v", order)
	}

	// Call the cleaner function and check that both cleanup functions are called.
	cleaner()
	if diff := cmp.Diff([]string{"added", "made"}, order); diff != "" {
		t.Fatalf("cleanup order mismatch (-want +got):\n%s", diff)
	}
}

func TestCleanTwice(t *testing.T) {
	calls := 0
	cu := Make(func() { calls++ })
	cu.Clean()
	cu.Clean()
	if calls != 1 {
		t.Errorf("cleanup function called %d times, want 1", calls)
	}
}
