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

// Package slab implements fixed-size object caches carved out of
// pgalloc page frames, per spec.md §4.2.
package slab

import (
	"sync"

	"github.com/kos-project/kos/pkg/kos/kerr"
	"github.com/kos-project/kos/pkg/kos/pgalloc"
)

// ObjectRef identifies a live object: the slab's base frame plus its
// index within that slab.
type ObjectRef struct {
	Frame pgalloc.FrameNumber
	Index int
}

type slab struct {
	frame     pgalloc.FrameNumber
	free      []int // free object indices
	liveCount int
	capacity  int
}

// Cache is a named object cache of fixed object size, per spec.md §4.2.
// Each cache owns a list of slabs subdivided into objects; objects are
// never shared across caches.
type Cache struct {
	name       string
	objSize    int
	pagesAlloc *pgalloc.Allocator
	reserve    int // minimum empty slabs retained before one is released

	mu     sync.Mutex
	slabs  []*slab
	bySlab map[pgalloc.FrameNumber]*slab
}

// NewCache constructs a Cache named name, with objects of objSize bytes,
// backed by allocator a. reserve is the number of fully-free slabs kept
// around before one is released back to the page allocator.
func NewCache(name string, objSize int, a *pgalloc.Allocator, reserve int) *Cache {
	if objSize <= 0 {
		objSize = 1
	}
	return &Cache{
		name:       name,
		objSize:    objSize,
		pagesAlloc: a,
		reserve:    reserve,
		bySlab:     make(map[pgalloc.FrameNumber]*slab),
	}
}

func (c *Cache) newSlab() (*slab, error) {
	frame, err := c.pagesAlloc.Alloc(0)
	if err != nil {
		return nil, kerr.Wrap(kerr.OutOfMemory, "slab.newSlab", err)
	}
	capacity := pgalloc.PageSize / c.objSize
	if capacity == 0 {
		capacity = 1
	}
	s := &slab{frame: frame, capacity: capacity}
	s.free = make([]int, capacity)
	for i := range s.free {
		s.free[i] = capacity - 1 - i
	}
	c.slabs = append(c.slabs, s)
	c.bySlab[frame] = s
	return s, nil
}

// Alloc returns a free object from a partial slab, or allocates a new
// slab if none has room.
func (c *Cache) Alloc() (ObjectRef, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var target *slab
	for _, s := range c.slabs {
		if len(s.free) > 0 {
			target = s
			break
		}
	}
	if target == nil {
		var err error
		target, err = c.newSlab()
		if err != nil {
			return ObjectRef{}, err
		}
	}

	idx := target.free[len(target.free)-1]
	target.free = target.free[:len(target.free)-1]
	target.liveCount++
	return ObjectRef{Frame: target.frame, Index: idx}, nil
}

// Free returns ref's object to its slab. If the slab becomes fully free
// and the cache holds more than reserve fully-free slabs, the slab's
// page is released back to the page allocator.
func (c *Cache) Free(ref ObjectRef) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, ok := c.bySlab[ref.Frame]
	if !ok {
		return kerr.New(kerr.BadState, "slab.Free", "object does not belong to this cache")
	}
	s.free = append(s.free, ref.Index)
	s.liveCount--

	if s.liveCount == 0 && c.countEmptySlabs() > c.reserve {
		c.releaseSlab(s)
	}
	return nil
}

func (c *Cache) countEmptySlabs() int {
	n := 0
	for _, s := range c.slabs {
		if s.liveCount == 0 {
			n++
		}
	}
	return n
}

func (c *Cache) releaseSlab(s *slab) {
	for i, cand := range c.slabs {
		if cand == s {
			c.slabs = append(c.slabs[:i], c.slabs[i+1:]...)
			break
		}
	}
	delete(c.bySlab, s.frame)
	c.pagesAlloc.Free(s.frame, 0)
}

// Stats reports the cache's current slab and live-object counts, for
// metrics and tests.
type Stats struct {
	Slabs       int
	LiveObjects int
}

func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := Stats{Slabs: len(c.slabs)}
	for _, s := range c.slabs {
		st.LiveObjects += s.liveCount
	}
	return st
}
