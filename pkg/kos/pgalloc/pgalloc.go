// Copyright 2026 The KOS Authors.
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

// Package pgalloc implements a buddy allocator over a fixed pool of
// fixed-size page frames.
package pgalloc

import (
	"sync"

	"github.com/kos-project/kos/pkg/kos/kerr"
)

// PageSize is the fixed frame size, in bytes.
const PageSize = 4096

// FrameNumber identifies a page frame by its index into the pool.
type FrameNumber uint64

// Frame holds the allocator's bookkeeping for one page frame. A back
// reference to the mapping that owns it (if any) is left to mm, which
// tracks ownership separately; pgalloc only tracks free/allocated and
// refcount.
type Frame struct {
	Number   FrameNumber
	Order    int
	RefCount int32
	Dirty    bool
	Locked   bool
}

// MaxOrder bounds the largest block size the allocator will track:
// 2^MaxOrder pages.
const MaxOrder = 18 // 2^18 pages * 4KiB = 1GiB max contiguous block

// Allocator is the buddy page-frame allocator of spec.md §4.1. The pool
// covers capacity pages (rounded up to a power of two), numbered
// [0, 1<<order).
type Allocator struct {
	mu        sync.Mutex
	order     int // pool is one block of this order
	frames    []frameState
	freeLists [MaxOrder + 1][]FrameNumber
}

type frameState struct {
	allocated bool
	order     int // order of the block this frame is the base of, if allocated as a base
	refCount  int32
	dirty     bool
	locked    bool
}

// New constructs an Allocator covering capacityPages page frames, capped
// at 1<<MaxOrder. The covered pool is always a power of two in size; any excess
// above capacityPages is permanently reserved (never handed out), so
// callers can rely on blocks never crossing the true capacity boundary
// unexpectedly — it is simply unavailable.
func New(capacityPages uint64) *Allocator {
	order := 0
	for (uint64(1) << order) < capacityPages {
		order++
	}
	if order > MaxOrder {
		order = MaxOrder
	}
	a := &Allocator{
		order:  order,
		frames: make([]frameState, uint64(1)<<order),
	}
	reserved := uint64(1)<<order - capacityPages
	if reserved == 0 {
		a.freeLists[order] = append(a.freeLists[order], 0)
		return a
	}
	// Mark the tail [capacityPages, 1<<order) as permanently allocated by
	// carving the pool into the largest blocks that fit capacityPages and
	// leaving the remainder untouched (never added to any free list).
	a.carveInitialFree(0, order, capacityPages)
	return a
}

func (a *Allocator) carveInitialFree(base FrameNumber, order int, usable uint64) {
	blockSize := uint64(1) << order
	if blockSize <= usable {
		a.freeLists[order] = append(a.freeLists[order], base)
		return
	}
	if order == 0 {
		return // this single page is beyond capacity; leave unusable
	}
	half := blockSize / 2
	a.carveInitialFree(base, order-1, usable)
	if usable > half {
		a.carveInitialFree(base+FrameNumber(half), order-1, usable-half)
	}
}

// Alloc returns the base frame number of a free block of exactly the
// requested order, splitting a larger block if no exact match is free.
func (a *Allocator) Alloc(order int) (FrameNumber, error) {
	if order < 0 || order > MaxOrder {
		return 0, kerr.New(kerr.InvalidArgument, "pgalloc.Alloc", "order out of range")
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	k := order
	for k <= a.order && len(a.freeLists[k]) == 0 {
		k++
	}
	if k > a.order || k > MaxOrder {
		return 0, kerr.New(kerr.OutOfMemory, "pgalloc.Alloc", "no block of requested or higher order")
	}

	// Pop the lowest-address block at order k (tie-break: lowest address).
	minIdx := 0
	for i, f := range a.freeLists[k] {
		if f < a.freeLists[k][minIdx] {
			minIdx = i
		}
	}
	base := a.freeLists[k][minIdx]
	a.freeLists[k] = append(a.freeLists[k][:minIdx], a.freeLists[k][minIdx+1:]...)

	// Split down to the requested order: lower half allocated, upper half
	// queued, per spec.md §4.1's tie-break.
	for k > order {
		k--
		half := FrameNumber(1) << k
		upper := base + half
		a.freeLists[k] = append(a.freeLists[k], upper)
	}

	a.frames[base] = frameState{allocated: true, order: order, refCount: 1}
	return base, nil
}

// buddyOf returns the buddy frame of a block of the given order.
func buddyOf(base FrameNumber, order int) FrameNumber {
	return base ^ (FrameNumber(1) << order)
}

// Free returns a previously allocated block to the free lists, coalescing
// with its buddy repeatedly while the buddy is itself free and of the
// same order, up to MaxOrder.
func (a *Allocator) Free(base FrameNumber, order int) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if int(base) >= len(a.frames) || !a.frames[base].allocated {
		return kerr.New(kerr.BadState, "pgalloc.Free", "frame not allocated")
	}
	a.frames[base] = frameState{}

	for order < a.order {
		buddy := buddyOf(base, order)
		idx, ok := a.findFree(order, buddy)
		if !ok {
			break
		}
		a.freeLists[order] = append(a.freeLists[order][:idx], a.freeLists[order][idx+1:]...)
		if buddy < base {
			base = buddy
		}
		order++
	}
	a.freeLists[order] = append(a.freeLists[order], base)
	return nil
}

func (a *Allocator) findFree(order int, frame FrameNumber) (int, bool) {
	for i, f := range a.freeLists[order] {
		if f == frame {
			return i, true
		}
	}
	return 0, false
}

// IncRef/DecRef track reference counts on an allocated frame, used by mm
// for COW sharing. DecRef to zero does not itself free the frame — mm
// decides when a frame with refcount zero should be returned via Free.
func (a *Allocator) IncRef(base FrameNumber) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.frames[base].refCount++
}

func (a *Allocator) DecRef(base FrameNumber) int32 {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.frames[base].refCount--
	return a.frames[base].refCount
}

// RefCount reports the current reference count of an allocated frame.
func (a *Allocator) RefCount(base FrameNumber) int32 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.frames[base].refCount
}

// SetDirty/SetLocked record the dirty/locked bits of spec.md §3's Page
// Frame attributes.
func (a *Allocator) SetDirty(base FrameNumber, dirty bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.frames[base].dirty = dirty
}

func (a *Allocator) SetLocked(base FrameNumber, locked bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.frames[base].locked = locked
}

// Capacity returns the total number of page frames in the pool (1<<order).
func (a *Allocator) Capacity() uint64 {
	return uint64(1) << a.order
}

// FreeCount returns the number of currently free pages, for metrics/tests.
func (a *Allocator) FreeCount() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	var total uint64
	for order, list := range a.freeLists {
		total += uint64(len(list)) * (uint64(1) << order)
	}
	return total
}
