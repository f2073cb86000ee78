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

import "sync"

// MountFlags records mount-time options, e.g. read-only.
type MountFlags struct {
	ReadOnly bool
}

// Mount is (mount-point dentry, root vnode of mounted FS, owning FS,
// flags), per spec.md §3.
type Mount struct {
	Point *Dentry // nil for the root mount
	Root  *VNode
	FS    FilesystemImpl
	Flags MountFlags
}

// mountTable keys mounts by the inode id of their mount-point dentry's
// vnode, so path resolution can check "does traversal cross a
// mount-point" in O(1) per spec.md §4.5 step 6.
type mountTable struct {
	mu      sync.RWMutex
	root    *Mount
	byVnode map[uint64]*Mount
}

func newMountTable() *mountTable {
	return &mountTable{byVnode: make(map[uint64]*Mount)}
}

func (t *mountTable) mountRoot(m *Mount) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.root = m
}

func (t *mountTable) mount(point *Dentry, m *Mount) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.byVnode[point.VNode.InodeID] = m
}

func (t *mountTable) unmount(point *Dentry) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.byVnode, point.VNode.InodeID)
}

// at returns the Mount whose mount-point vnode is v, if any.
func (t *mountTable) at(v *VNode) (*Mount, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	m, ok := t.byVnode[v.InodeID]
	return m, ok
}

func (t *mountTable) getRoot() *Mount {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.root
}
