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

// Package bitmap provides a fixed-size set of small integers, used to track
// frames by frame number.
package bitmap

import (
	"math/bits"
)

// Bitmap is a set of integers in [0, Size()).
//
// The zero value is an empty set of size 0.
type Bitmap struct {
	// numOnes is the number of ones in the bitmap.
	numOnes uint64

	// bitBlock holds the bits. Each word holds 64 entries.
	bitBlock []uint64
}

// New returns an empty Bitmap that can hold integers in [0, size).
func New(size uint64) Bitmap {
	return Bitmap{bitBlock: make([]uint64, (size+63)/64)}
}

// Size returns the total number of bits in the bitmap.
func (b *Bitmap) Size() uint64 {
	return uint64(len(b.bitBlock)) * 64
}

// IsEmpty returns true if no bit is set.
func (b *Bitmap) IsEmpty() bool {
	return b.numOnes == 0
}

// Count returns the number of set bits.
func (b *Bitmap) Count() uint64 {
	return b.numOnes
}

// Contains returns true if i is set. Out-of-range values are never set.
func (b *Bitmap) Contains(i uint64) bool {
	blockNum := i / 64
	if blockNum >= uint64(len(b.bitBlock)) {
		return false
	}
	return b.bitBlock[blockNum]&(uint64(1)<<(i%64)) != 0
}

// Add sets i and returns true if it was previously unset. i must be less than
// Size().
func (b *Bitmap) Add(i uint64) bool {
	blockNum, mask := i/64, uint64(1)<<(i%64)
	oldBlock := b.bitBlock[blockNum]
	if oldBlock&mask != 0 {
		return false
	}
	b.bitBlock[blockNum] = oldBlock | mask
	b.numOnes++
	return true
}

// Remove clears i and returns true if it was previously set.
func (b *Bitmap) Remove(i uint64) bool {
	blockNum, mask := i/64, uint64(1)<<(i%64)
	if blockNum >= uint64(len(b.bitBlock)) {
		return false
	}
	oldBlock := b.bitBlock[blockNum]
	if oldBlock&mask == 0 {
		return false
	}
	b.bitBlock[blockNum] = oldBlock &^ mask
	b.numOnes--
	return true
}

// Reset clears every bit.
func (b *Bitmap) Reset() {
	clear(b.bitBlock)
	b.numOnes = 0
}

// FirstOne returns the first set bit in [start, Size()), or false if there is
// none.
func (b *Bitmap) FirstOne(start uint64) (uint64, bool) {
	i, nbit := start/64, start%64
	n := uint64(len(b.bitBlock))
	if i >= n {
		return 0, false
	}
	w := b.bitBlock[i] & (^uint64(0) << nbit)
	for {
		if w != 0 {
			return i*64 + uint64(bits.TrailingZeros64(w)), true
		}
		i++
		if i == n {
			return 0, false
		}
		w = b.bitBlock[i]
	}
}

// ForEach calls fn for each set bit in ascending order until fn returns
// false.
func (b *Bitmap) ForEach(fn func(i uint64) bool) {
	for blk, w := range b.bitBlock {
		base := uint64(blk) * 64
		for w != 0 {
			// Extract the lowest set bit.
			j := w & -w
			if !fn(base + uint64(bits.TrailingZeros64(j))) {
				return
			}
			w ^= j
		}
	}
}

// ToSlice returns the set bits in ascending order. For example, a bitmap of
// [0, 1, 0, 1] returns [1, 3].
func (b *Bitmap) ToSlice() []uint64 {
	s := make([]uint64, 0, b.numOnes)
	b.ForEach(func(i uint64) bool {
		s = append(s, i)
		return true
	})
	return s
}
