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
	"testing"

	"github.com/kos-project/kos/pkg/kos/pgalloc"
)

func newTestSpace() *AddressSpace {
	return New(pgalloc.New(4096))
}

func TestMmapZeroLengthFails(t *testing.T) {
	as := newTestSpace()
	if _, err := as.Mmap(0, 0, ProtRead, MmapFlags{}, Anonymous, Private, nil, 0); err == nil {
		t.Fatal("expected InvalidArgument for zero length")
	}
}

func TestMmapMunmapRoundTrip(t *testing.T) {
	as := newTestSpace()
	addr, err := as.Mmap(0, pgalloc.PageSize, ProtRead|ProtWrite, MmapFlags{}, Anonymous, Private, nil, 0)
	if err != nil {
		t.Fatalf("Mmap: %v", err)
	}
	if len(as.Regions()) != 1 {
		t.Fatalf("Regions() = %d, want 1", len(as.Regions()))
	}
	if err := as.Munmap(addr, pgalloc.PageSize); err != nil {
		t.Fatalf("Munmap: %v", err)
	}
	if len(as.Regions()) != 0 {
		t.Fatalf("Regions() after Munmap = %d, want 0", len(as.Regions()))
	}
}

func TestFixedMmapOverwritesOverlap(t *testing.T) {
	as := newTestSpace()
	base := uint64(0x1000_0000)
	if _, err := as.Mmap(base, 2*pgalloc.PageSize, ProtRead, MmapFlags{Fixed: true}, Anonymous, Private, nil, 0); err != nil {
		t.Fatalf("Mmap: %v", err)
	}
	if _, err := as.Mmap(base+pgalloc.PageSize, pgalloc.PageSize, ProtRead|ProtWrite, MmapFlags{Fixed: true}, Anonymous, Private, nil, 0); err != nil {
		t.Fatalf("Mmap overlap: %v", err)
	}
	regions := as.Regions()
	if len(regions) != 2 {
		t.Fatalf("Regions() = %d, want 2 (original split)", len(regions))
	}
}

func TestHandleFaultOutsideRegionSignalsSegv(t *testing.T) {
	as := newTestSpace()
	res, err := as.HandleFault(0xdead0000, false)
	if err != nil {
		t.Fatalf("HandleFault: %v", err)
	}
	if res.Signal != SIGSEGV {
		t.Fatalf("Signal = %d, want SIGSEGV", res.Signal)
	}
}

func TestHandleFaultAllocatesAnonFrame(t *testing.T) {
	as := newTestSpace()
	addr, _ := as.Mmap(0, pgalloc.PageSize, ProtRead|ProtWrite, MmapFlags{}, Anonymous, Private, nil, 0)
	res, err := as.HandleFault(addr, true)
	if err != nil {
		t.Fatalf("HandleFault: %v", err)
	}
	if res.Signal != 0 {
		t.Fatalf("Signal = %d, want 0", res.Signal)
	}
	if len(as.regions[0].frames) != 1 {
		t.Fatal("expected one backing frame to be populated")
	}
}

func TestForkCloneSharesFramesUntilWrite(t *testing.T) {
	as := newTestSpace()
	addr, _ := as.Mmap(0, pgalloc.PageSize, ProtRead|ProtWrite, MmapFlags{}, Anonymous, Private, nil, 0)
	as.HandleFault(addr, false)

	child := as.ForkClone()
	parentFrame := as.regions[0].frames[0].frame
	childFrame := child.regions[0].frames[0].frame
	if parentFrame != childFrame {
		t.Fatal("expected parent and child to share the frame immediately after fork")
	}
	if as.pages.RefCount(parentFrame) != 2 {
		t.Fatalf("RefCount = %d, want 2 after fork", as.pages.RefCount(parentFrame))
	}

	if _, err := child.HandleFault(addr, true); err != nil {
		t.Fatalf("HandleFault: %v", err)
	}
	if child.regions[0].frames[0].frame == parentFrame {
		t.Fatal("expected child's write fault to duplicate the frame")
	}
}
