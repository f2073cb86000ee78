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
	"golang.org/x/sys/unix"

	"github.com/kos-project/kos/pkg/kos/kerr"
	"github.com/kos-project/kos/pkg/kos/pgalloc"
)

// SIGSEGV is the signal a faulting access delivers when no region covers
// it, per spec.md §4.3 ("faults outside any region signal SIGSEGV to the
// process"). Reused from golang.org/x/sys/unix rather than redefined, per
// §6; imported directly here rather than through kernel to avoid a cycle.
const SIGSEGV = int(unix.SIGSEGV)

// FaultResult reports the outcome of a page fault: either a signal to
// deliver to the faulting process, or nil on successful resolution.
type FaultResult struct {
	Signal int
}

// HandleFault resolves a page fault at addr. write indicates whether the
// faulting access was a write. A fault outside any region returns
// FaultResult{Signal: SIGSEGV}. A successful fault populates (or, on a
// COW write, duplicates) the backing frame and returns a zero
// FaultResult.
func (as *AddressSpace) HandleFault(addr uint64, write bool) (FaultResult, error) {
	as.mu.Lock()
	defer as.mu.Unlock()

	r := as.findRegion(addr)
	if r == nil {
		return FaultResult{Signal: SIGSEGV}, nil
	}
	if write && r.Prot&ProtWrite == 0 {
		return FaultResult{Signal: SIGSEGV}, nil
	}

	off := pageAlign(addr - r.Start)
	pm, ok := r.frames[off]
	if !ok {
		frame, err := as.pages.Alloc(0)
		if err != nil {
			return FaultResult{}, kerr.Wrap(kerr.OutOfMemory, "mm.HandleFault", err)
		}
		if r.Kind == FileBacked && r.File != nil {
			buf := make([]byte, pgalloc.PageSize)
			r.File.ReadAt(buf, r.Offset+int64(off))
		}
		r.frames[off] = &pageMapping{frame: frame}
		return FaultResult{}, nil
	}

	if write && r.COW && as.pages.RefCount(pm.frame) > 1 {
		newFrame, err := as.pages.Alloc(0)
		if err != nil {
			return FaultResult{}, kerr.Wrap(kerr.OutOfMemory, "mm.HandleFault", err)
		}
		as.pages.DecRef(pm.frame)
		r.frames[off] = &pageMapping{frame: newFrame}
	}
	return FaultResult{}, nil
}

func (as *AddressSpace) findRegion(addr uint64) *Region {
	for _, r := range as.regions {
		if r.contains(addr) {
			return r
		}
	}
	return nil
}
