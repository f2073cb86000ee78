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

package vfs

import (
	"sync"
	"sync/atomic"
)

// Dentry is a cached name->VNode binding within a directory, per
// spec.md §3. Parent is a weak (non-owning) reference per spec.md §9's
// guidance on cyclic references; Dentry.VNode is the owning side.
type Dentry struct {
	Name     string
	Parent   *Dentry
	VNode    *VNode
	refCount int32
	dead     bool
}

func (d *Dentry) id() dentryKey {
	var parentID uint64
	if d.Parent != nil {
		parentID = d.Parent.VNode.InodeID
	}
	return dentryKey{parentID: parentID, name: d.Name}
}

type dentryKey struct {
	parentID uint64
	name     string
}

// Cache is the dentry cache of spec.md §4.5, keyed by (parent dentry id,
// name). A reader-writer lock guards it per spec.md §5's lock-ordering
// table (dentry cache lock is acquired after the vnode lock, before the
// FD table lock).
type Cache struct {
	mu      sync.RWMutex
	entries map[dentryKey]*Dentry
	// children indexes dentries by parent id for invalidation propagation.
	children map[uint64][]*Dentry
}

// NewCache constructs an empty dentry cache.
func NewCache() *Cache {
	return &Cache{
		entries:  make(map[dentryKey]*Dentry),
		children: make(map[uint64][]*Dentry),
	}
}

// Lookup returns the cached dentry for (parent, name), if present and
// not invalidated.
func (c *Cache) Lookup(parent *Dentry, name string) (*Dentry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var parentID uint64
	if parent != nil {
		parentID = parent.VNode.InodeID
	}
	d, ok := c.entries[dentryKey{parentID: parentID, name: name}]
	if !ok || d.dead {
		return nil, false
	}
	return d, true
}

// Insert adds (or replaces) a cached binding. A cache hit must yield the
// same result as a fresh lookup, so Insert always overwrites rather than
// appending.
func (c *Cache) Insert(parent *Dentry, name string, vnode *VNode) *Dentry {
	c.mu.Lock()
	defer c.mu.Unlock()
	d := &Dentry{Name: name, Parent: parent, VNode: vnode, refCount: 1}
	c.entries[d.id()] = d
	if parent != nil {
		pid := parent.VNode.InodeID
		c.children[pid] = append(c.children[pid], d)
	}
	return d
}

// Invalidate marks d dead and propagates invalidation to every dentry
// cached under it, per spec.md §4.5: "on invalidation propagates to
// children... cache entries may be invalidated, never stale-returned
// after invalidation."
func (c *Cache) Invalidate(d *Dentry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.invalidateLocked(d)
}

func (c *Cache) invalidateLocked(d *Dentry) {
	if d.dead {
		return
	}
	d.dead = true
	delete(c.entries, d.id())
	pid := d.VNode.InodeID
	for _, child := range c.children[pid] {
		c.invalidateLocked(child)
	}
	delete(c.children, pid)
}

func (d *Dentry) IncRef()         { atomic.AddInt32(&d.refCount, 1) }
func (d *Dentry) DecRef()         { atomic.AddInt32(&d.refCount, -1) }
func (d *Dentry) RefCount() int32 { return atomic.LoadInt32(&d.refCount) }
