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

// Package mm implements the per-process address space manager: virtual
// memory regions, mmap/mprotect/munmap, page faults, and copy-on-write
// fork, per spec.md §4.3.
package mm

import "github.com/kos-project/kos/pkg/kos/pgalloc"

// Prot is a bitmask of {R,W,X} protection bits.
type Prot uint8

const (
	ProtRead Prot = 1 << iota
	ProtWrite
	ProtExec
)

// Kind distinguishes anonymous from file-backed mappings.
type Kind int

const (
	Anonymous Kind = iota
	FileBacked
)

// Sharing distinguishes private (COW on write) from shared mappings.
type Sharing int

const (
	Private Sharing = iota
	Shared
)

// Backing is the minimal file surface mm needs to service a file-backed
// page fault; vfs's Open File satisfies it without mm importing vfs.
type Backing interface {
	ReadAt(buf []byte, offset int64) (int, error)
}

// Region is one entry in an address space's ordered, disjoint region set,
// per spec.md §3's Address Space data model.
type Region struct {
	Start, End uint64 // page-aligned virtual addresses, [Start, End)
	Prot       Prot
	Kind       Kind
	Sharing    Sharing
	File       Backing
	Offset     int64
	COW        bool

	// frames maps a page-aligned offset from Start to the backing frame,
	// populated lazily on first fault. Shared between parent and child
	// after fork_clone until a write fault triggers divergence. Never
	// handed to deepcopy.Copy directly (see meta() in addrspace.go) since
	// it holds allocator-owned frame handles that must be refcounted, not
	// blindly duplicated.
	frames map[uint64]*pageMapping
}

type pageMapping struct {
	frame pgalloc.FrameNumber
}

// meta is the deep-copyable subset of Region: plain attributes with no
// allocator-owned handles, used by ForkClone via mohae/deepcopy.
type meta struct {
	Start, End uint64
	Prot       Prot
	Kind       Kind
	Sharing    Sharing
	Offset     int64
	COW        bool
}

func (r *Region) meta() meta {
	return meta{r.Start, r.End, r.Prot, r.Kind, r.Sharing, r.Offset, r.COW}
}

func (r *Region) contains(addr uint64) bool {
	return addr >= r.Start && addr < r.End
}

func (r *Region) overlaps(start, end uint64) bool {
	return start < r.End && end > r.Start
}

// sameAttrs reports whether two regions could coalesce if adjacent.
func sameAttrs(a, b *Region) bool {
	return a.Prot == b.Prot && a.Kind == b.Kind && a.Sharing == b.Sharing &&
		a.File == b.File && a.COW == b.COW
}

func pageAlign(x uint64) uint64 {
	return x &^ (pgalloc.PageSize - 1)
}

func pageAlignUp(x uint64) uint64 {
	return pageAlign(x + pgalloc.PageSize - 1)
}

func isPageAligned(x uint64) bool {
	return x%pgalloc.PageSize == 0
}
