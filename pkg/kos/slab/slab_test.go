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

package slab

import (
	"testing"

	"github.com/kos-project/kos/pkg/kos/pgalloc"
)

func TestAllocFreeReuse(t *testing.T) {
	pa := pgalloc.New(64)
	c := NewCache("test-64", 64, pa, 0)

	ref, err := c.Alloc()
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	if err := c.Free(ref); err != nil {
		t.Fatalf("Free: %v", err)
	}
	if st := c.Stats(); st.LiveObjects != 0 {
		t.Fatalf("LiveObjects = %d, want 0", st.LiveObjects)
	}
}

func TestSlabExpandsAcrossPages(t *testing.T) {
	pa := pgalloc.New(64)
	c := NewCache("test-big", pgalloc.PageSize, pa, 0)

	var refs []ObjectRef
	for i := 0; i < 3; i++ {
		ref, err := c.Alloc()
		if err != nil {
			t.Fatalf("Alloc #%d: %v", i, err)
		}
		refs = append(refs, ref)
	}
	if st := c.Stats(); st.Slabs != 3 {
		t.Fatalf("Slabs = %d, want 3 (one object per page at this object size)", st.Slabs)
	}
}

func TestReleasesEmptySlabBeyondReserve(t *testing.T) {
	pa := pgalloc.New(64)
	before := pa.FreeCount()
	c := NewCache("test-release", pgalloc.PageSize, pa, 0)

	ref, err := c.Alloc()
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	if pa.FreeCount() != before-1 {
		t.Fatalf("FreeCount() = %d, want %d", pa.FreeCount(), before-1)
	}
	if err := c.Free(ref); err != nil {
		t.Fatalf("Free: %v", err)
	}
	if pa.FreeCount() != before {
		t.Fatalf("FreeCount() after release = %d, want %d", pa.FreeCount(), before)
	}
}

func TestFreeForeignObjectFails(t *testing.T) {
	pa := pgalloc.New(64)
	c := NewCache("a", 32, pa, 0)
	other := NewCache("b", 32, pa, 0)

	ref, _ := other.Alloc()
	if err := c.Free(ref); err == nil {
		t.Fatal("expected error freeing an object foreign to this cache")
	}
}
