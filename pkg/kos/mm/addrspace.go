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

package mm

import (
	"sort"
	"sync"

	"github.com/kos-project/kos/pkg/kos/kerr"
	"github.com/kos-project/kos/pkg/kos/pgalloc"
	"github.com/mohae/deepcopy"
)

// highZoneTop is the ceiling a zero addr_hint mmap grows down from, per
// spec.md §4.3 ("addr_hint=0 allocates from a high-address zone growing
// down").
const highZoneTop = 1 << 47

// AddressSpace is one process's ordered, disjoint set of virtual memory
// regions, per spec.md §3.
type AddressSpace struct {
	mu      sync.Mutex
	pages   *pgalloc.Allocator
	regions []*Region // kept sorted by Start, disjoint
	nextLow uint64    // next candidate for a growing-down allocation
}

// New constructs an empty AddressSpace backed by the given page
// allocator.
func New(pages *pgalloc.Allocator) *AddressSpace {
	return &AddressSpace{pages: pages, nextLow: highZoneTop}
}

// MmapFlags mirrors spec.md §4.3's fixed-hint semantics.
type MmapFlags struct {
	Fixed bool
}

// Mmap implements spec.md §4.3. addrHint=0 allocates from the
// high-address zone growing down; a non-zero hint with Fixed must
// succeed at exactly that address or fail; overlapping an existing
// mapping under Fixed removes the overlap first.
func (as *AddressSpace) Mmap(addrHint, length uint64, prot Prot, flags MmapFlags, kind Kind, sharing Sharing, file Backing, offset int64) (uint64, error) {
	if length == 0 {
		return 0, kerr.New(kerr.InvalidArgument, "mm.Mmap", "zero length")
	}
	length = pageAlignUp(length)

	as.mu.Lock()
	defer as.mu.Unlock()

	var start uint64
	if addrHint == 0 {
		start = as.findGrowDownSlot(length)
	} else {
		if !isPageAligned(addrHint) {
			return 0, kerr.New(kerr.InvalidArgument, "mm.Mmap", "unaligned addr_hint")
		}
		if flags.Fixed {
			as.removeOverlap(addrHint, addrHint+length)
			start = addrHint
		} else {
			if as.fitsAt(addrHint, length) {
				start = addrHint
			} else {
				start = as.findGrowDownSlot(length)
			}
		}
	}

	r := &Region{
		Start: start, End: start + length,
		Prot: prot, Kind: kind, Sharing: sharing,
		File: file, Offset: offset,
		COW:    sharing == Private,
		frames: make(map[uint64]*pageMapping),
	}
	as.insert(r)
	return start, nil
}

func (as *AddressSpace) fitsAt(start, length uint64) bool {
	end := start + length
	for _, r := range as.regions {
		if r.overlaps(start, end) {
			return false
		}
	}
	return true
}

func (as *AddressSpace) findGrowDownSlot(length uint64) uint64 {
	candidate := as.nextLow - length
	for {
		if as.fitsAt(candidate, candidate+length) {
			as.nextLow = candidate
			return candidate
		}
		candidate -= pgalloc.PageSize
	}
}

func (as *AddressSpace) removeOverlap(start, end uint64) {
	kept := as.regions[:0]
	for _, r := range as.regions {
		if !r.overlaps(start, end) {
			kept = append(kept, r)
			continue
		}
		if r.Start < start {
			left := *r
			left.End = start
			kept = append(kept, &left)
		}
		if r.End > end {
			right := *r
			right.Start = end
			kept = append(kept, &right)
		}
	}
	as.regions = kept
}

func (as *AddressSpace) insert(r *Region) {
	as.regions = append(as.regions, r)
	sort.Slice(as.regions, func(i, j int) bool { return as.regions[i].Start < as.regions[j].Start })
	as.coalesce()
}

func (as *AddressSpace) coalesce() {
	out := as.regions[:0]
	for _, r := range as.regions {
		if n := len(out); n > 0 && out[n-1].End == r.Start && sameAttrs(out[n-1], r) {
			out[n-1].End = r.End
			for off, pm := range r.frames {
				out[n-1].frames[off+(r.Start-out[n-1].Start)] = pm
			}
			continue
		}
		out = append(out, r)
	}
	as.regions = out
}

// Munmap removes any mapping in [addr, addr+length), splitting regions
// at the boundary as needed. Frames held only by the removed portion are
// returned to the page allocator.
func (as *AddressSpace) Munmap(addr, length uint64) error {
	if !isPageAligned(addr) || length == 0 {
		return kerr.New(kerr.InvalidArgument, "mm.Munmap", "unaligned address or zero length")
	}
	length = pageAlignUp(length)
	as.mu.Lock()
	defer as.mu.Unlock()

	end := addr + length
	for _, r := range as.regions {
		if !r.overlaps(addr, end) {
			continue
		}
		lo, hi := r.Start, r.End
		if addr > lo {
			lo = addr
		}
		if end < hi {
			hi = end
		}
		for pgoff := lo; pgoff < hi; pgoff += pgalloc.PageSize {
			off := pgoff - r.Start
			if pm, ok := r.frames[off]; ok {
				if as.pages.DecRef(pm.frame) == 0 {
					as.pages.Free(pm.frame, 0)
				}
				delete(r.frames, off)
			}
		}
	}
	as.removeOverlap(addr, end)
	return nil
}

// Mprotect changes the protection bits of the mapping covering
// [addr, addr+length). The region must already exist contiguously over
// that range.
func (as *AddressSpace) Mprotect(addr, length uint64, prot Prot) error {
	if !isPageAligned(addr) || length == 0 {
		return kerr.New(kerr.InvalidArgument, "mm.Mprotect", "unaligned address or zero length")
	}
	length = pageAlignUp(length)
	as.mu.Lock()
	defer as.mu.Unlock()

	end := addr + length
	covered := uint64(0)
	for _, r := range as.regions {
		if r.overlaps(addr, end) {
			lo, hi := r.Start, r.End
			if addr > lo {
				lo = addr
			}
			if end < hi {
				hi = end
			}
			covered += hi - lo
			r.Prot = prot
		}
	}
	if covered != length {
		return kerr.New(kerr.InvalidArgument, "mm.Mprotect", "range not fully mapped")
	}
	as.coalesce()
	return nil
}

// Regions returns a snapshot of the current region list, for tests and
// /proc-like introspection.
func (as *AddressSpace) Regions() []Region {
	as.mu.Lock()
	defer as.mu.Unlock()
	out := make([]Region, len(as.regions))
	for i, r := range as.regions {
		out[i] = *r
	}
	return out
}

// ForkClone duplicates the parent address space for a child process.
// Private regions become copy-on-write: both parent and child reference
// the same frames with an incremented refcount until a write fault
// triggers divergence. Shared regions remain genuinely shared (no COW).
func (as *AddressSpace) ForkClone() *AddressSpace {
	as.mu.Lock()
	defer as.mu.Unlock()

	child := New(as.pages)
	child.nextLow = as.nextLow
	for _, r := range as.regions {
		m := deepcopy.Copy(r.meta()).(meta)
		if r.Sharing == Private {
			m.COW = true
			r.COW = true
		}
		cloned := &Region{
			Start: m.Start, End: m.End, Prot: m.Prot, Kind: m.Kind,
			Sharing: m.Sharing, File: r.File, Offset: m.Offset, COW: m.COW,
			frames: make(map[uint64]*pageMapping, len(r.frames)),
		}
		for off, pm := range r.frames {
			cloned.frames[off] = &pageMapping{frame: pm.frame}
			as.pages.IncRef(pm.frame)
		}
		child.regions = append(child.regions, cloned)
	}
	return child
}
