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

// Package ramfs implements spec.md §4.6's mandatory in-memory filesystem:
// regular files as byte vectors, directories as name->vnode maps, with an
// optional per-mount size quota.
package ramfs

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/kos-project/kos/pkg/kos/kerr"
	"github.com/kos-project/kos/pkg/kos/vfs"
)

// FS is a mounted RamFS instance. Not persistent across core restarts,
// per spec.md §4.6.
type FS struct {
	root *vfs.VNode

	mu        sync.Mutex
	nextInode uint64

	quotaBytes int64 // 0 = unlimited
	usedBytes  int64
}

// New constructs a RamFS with the given quota (0 for unlimited).
func New(quotaBytes int64) *FS {
	fs := &FS{quotaBytes: quotaBytes}
	fs.nextInode = 1
	root := &vfs.VNode{
		InodeID: fs.allocInode(),
		Type:    vfs.TypeDirectory,
		Mode:    0o755,
		Payload: vfs.NewDirPayload(),
	}
	root.IncLinkCount()
	root.IncLinkCount() // "." and the name under its own parent slot
	root.FS = fs
	now := time.Now()
	root.Touch(true, true, true, now)
	fs.root = root
	return fs
}

func (fs *FS) allocInode() uint64 {
	return atomic.AddUint64(&fs.nextInode, 1) - 1
}

func (fs *FS) Type() string        { return "ramfs" }
func (fs *FS) GetRoot() *vfs.VNode { return fs.root }

func dirPayload(v *vfs.VNode) *vfs.DirPayload {
	return v.Payload.(*vfs.DirPayload)
}

func (fs *FS) Lookup(dir *vfs.VNode, name string) (*vfs.VNode, error) {
	dp := dirPayload(dir)
	dp.Lock()
	defer dp.Unlock()
	if name == "." {
		return dir, nil
	}
	child, ok := dp.Children[name]
	if !ok {
		return nil, kerr.New(kerr.NotFound, "ramfs.Lookup", "no such entry: "+name)
	}
	return child, nil
}

func (fs *FS) newVNode(typ vfs.FileType, mode vfs.Mode) *vfs.VNode {
	v := &vfs.VNode{InodeID: fs.allocInode(), Type: typ, Mode: mode, FS: fs}
	now := time.Now()
	v.Touch(true, true, true, now)
	switch typ {
	case vfs.TypeRegular:
		v.Payload = &vfs.RegularPayload{}
	case vfs.TypeDirectory:
		v.Payload = vfs.NewDirPayload()
		v.IncLinkCount()
		v.IncLinkCount()
	}
	return v
}

func (fs *FS) Create(dir *vfs.VNode, name string, mode vfs.Mode, typ vfs.FileType) (*vfs.VNode, error) {
	dp := dirPayload(dir)
	dp.Lock()
	defer dp.Unlock()
	if _, exists := dp.Children[name]; exists {
		return nil, kerr.New(kerr.AlreadyExists, "ramfs.Create", "entry exists: "+name)
	}
	v := fs.newVNode(typ, mode)
	v.IncLinkCount()
	dp.Children[name] = v
	return v, nil
}

func (fs *FS) Mkdir(dir *vfs.VNode, name string, mode vfs.Mode) (*vfs.VNode, error) {
	dp := dirPayload(dir)
	dp.Lock()
	if _, exists := dp.Children[name]; exists {
		dp.Unlock()
		return nil, kerr.New(kerr.AlreadyExists, "ramfs.Mkdir", "entry exists: "+name)
	}
	dp.Unlock()

	v := fs.newVNode(vfs.TypeDirectory, mode)

	dp.Lock()
	dp.Children[name] = v
	dp.Unlock()
	dir.IncLinkCount() // new subdirectory's ".." binds back, bumping parent's count
	return v, nil
}

func (fs *FS) Unlink(dir *vfs.VNode, name string) error {
	dp := dirPayload(dir)
	dp.Lock()
	defer dp.Unlock()
	v, ok := dp.Children[name]
	if !ok {
		return kerr.New(kerr.NotFound, "ramfs.Unlink", "no such entry: "+name)
	}
	if v.Type == vfs.TypeDirectory {
		return kerr.New(kerr.IsDirectory, "ramfs.Unlink", "is a directory: "+name)
	}
	delete(dp.Children, name)
	if v.DecLinkCount() == 0 && v.Destroyable() {
		fs.releaseSize(v)
	}
	return nil
}

func (fs *FS) Rmdir(dir *vfs.VNode, name string) error {
	dp := dirPayload(dir)
	dp.Lock()
	defer dp.Unlock()
	v, ok := dp.Children[name]
	if !ok {
		return kerr.New(kerr.NotFound, "ramfs.Rmdir", "no such entry: "+name)
	}
	if v.Type != vfs.TypeDirectory {
		return kerr.New(kerr.NotDirectory, "ramfs.Rmdir", "not a directory: "+name)
	}
	childDP := dirPayload(v)
	childDP.Lock()
	empty := len(childDP.Children) == 0
	childDP.Unlock()
	if !empty {
		return kerr.New(kerr.NotEmpty, "ramfs.Rmdir", "directory not empty: "+name)
	}
	delete(dp.Children, name)
	dir.DecLinkCount()
	return nil
}

func (fs *FS) Symlink(dir *vfs.VNode, name, target string) (*vfs.VNode, error) {
	dp := dirPayload(dir)
	dp.Lock()
	defer dp.Unlock()
	if _, exists := dp.Children[name]; exists {
		return nil, kerr.New(kerr.AlreadyExists, "ramfs.Symlink", "entry exists: "+name)
	}
	v := fs.newVNode(vfs.TypeSymlink, 0o777)
	v.Payload = target
	v.IncLinkCount()
	dp.Children[name] = v
	return v, nil
}

func (fs *FS) Link(dir *vfs.VNode, name string, target *vfs.VNode) error {
	dp := dirPayload(dir)
	dp.Lock()
	defer dp.Unlock()
	if _, exists := dp.Children[name]; exists {
		return kerr.New(kerr.AlreadyExists, "ramfs.Link", "entry exists: "+name)
	}
	if target.Type == vfs.TypeDirectory {
		return kerr.New(kerr.IsDirectory, "ramfs.Link", "cannot hard-link a directory")
	}
	dp.Children[name] = target
	target.IncLinkCount()
	return nil
}

// Rename implements spec.md §4.5's atomicity requirement within a single
// driver by holding both directories' locks (in a fixed inode-id order
// to avoid deadlock with a concurrent reverse rename) across the whole
// binding swap: concurrent observers never see neither or both bindings.
func (fs *FS) Rename(oldDir *vfs.VNode, oldName string, newDir *vfs.VNode, newName string) error {
	oldDP, newDP := dirPayload(oldDir), dirPayload(newDir)
	first, second := oldDP, newDP
	if oldDir.InodeID > newDir.InodeID {
		first, second = newDP, oldDP
	}
	if first == second {
		first.Lock()
		defer first.Unlock()
	} else {
		first.Lock()
		defer first.Unlock()
		second.Lock()
		defer second.Unlock()
	}

	v, ok := oldDP.Children[oldName]
	if !ok {
		return kerr.New(kerr.NotFound, "ramfs.Rename", "no such entry: "+oldName)
	}
	if existing, exists := newDP.Children[newName]; exists && existing.Type == vfs.TypeDirectory {
		childDP := dirPayload(existing)
		if len(childDP.Children) > 0 {
			return kerr.New(kerr.NotEmpty, "ramfs.Rename", "destination directory not empty")
		}
	}
	delete(oldDP.Children, oldName)
	newDP.Children[newName] = v
	return nil
}

func (fs *FS) Read(v *vfs.VNode, offset int64, buf []byte) (int, error) {
	if v.Type != vfs.TypeRegular {
		return 0, kerr.New(kerr.IsDirectory, "ramfs.Read", "not a regular file")
	}
	n := v.Payload.(*vfs.RegularPayload).Read(buf, offset)
	v.Touch(true, false, false, time.Now())
	return n, nil
}

func (fs *FS) Write(v *vfs.VNode, data []byte, offset int64) (int, error) {
	if v.Type != vfs.TypeRegular {
		return 0, kerr.New(kerr.IsDirectory, "ramfs.Write", "not a regular file")
	}
	p := v.Payload.(*vfs.RegularPayload)
	before := p.Len()
	end := offset + int64(len(data))
	if end > before {
		if err := fs.reserveSize(end - before); err != nil {
			return 0, err
		}
	}
	n := p.Write(data, offset)
	after := p.Len()
	if after > before {
		v.SetSize(after)
	}
	v.Touch(false, true, true, time.Now())
	return n, nil
}

func (fs *FS) Truncate(v *vfs.VNode, size int64) error {
	if v.Type != vfs.TypeRegular {
		return kerr.New(kerr.IsDirectory, "ramfs.Truncate", "not a regular file")
	}
	p := v.Payload.(*vfs.RegularPayload)
	before := p.Len()
	if size > before {
		if err := fs.reserveSize(size - before); err != nil {
			return err
		}
	} else if size < before {
		fs.mu.Lock()
		fs.usedBytes -= before - size
		fs.mu.Unlock()
	}
	p.Truncate(size)
	v.SetSize(size)
	v.Touch(false, true, true, time.Now())
	return nil
}

func (fs *FS) Readdir(v *vfs.VNode) ([]vfs.DirEntry, error) {
	if v.Type != vfs.TypeDirectory {
		return nil, kerr.New(kerr.NotDirectory, "ramfs.Readdir", "not a directory")
	}
	dp := dirPayload(v)
	dp.Lock()
	defer dp.Unlock()
	out := make([]vfs.DirEntry, 0, len(dp.Children))
	for name, child := range dp.Children {
		out = append(out, vfs.DirEntry{Name: name, Type: child.Type, Ino: child.InodeID})
	}
	return out, nil
}

func (fs *FS) Stat(v *vfs.VNode) (vfs.Attr, error) {
	return vfs.Attr{Mode: v.Mode, UID: v.UID, GID: v.GID, Size: v.Size()}, nil
}

func (fs *FS) Setattr(v *vfs.VNode, attr vfs.Attr, mask vfs.AttrMask) error {
	if mask&vfs.AttrMode != 0 {
		v.Mode = attr.Mode
	}
	if mask&vfs.AttrUID != 0 {
		v.UID = attr.UID
	}
	if mask&vfs.AttrGID != 0 {
		v.GID = attr.GID
	}
	if mask&vfs.AttrSize != 0 {
		return fs.Truncate(v, attr.Size)
	}
	v.Touch(false, false, true, time.Now())
	return nil
}

// reserveSize enforces the mount's quota, per spec.md §4.6: "write/create
// fail with NoSpace when exceeded."
func (fs *FS) reserveSize(delta int64) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if fs.quotaBytes > 0 && fs.usedBytes+delta > fs.quotaBytes {
		return kerr.New(kerr.NoSpace, "ramfs.reserveSize", "quota exceeded")
	}
	fs.usedBytes += delta
	return nil
}

func (fs *FS) releaseSize(v *vfs.VNode) {
	if v.Type != vfs.TypeRegular {
		return
	}
	fs.mu.Lock()
	fs.usedBytes -= v.Size()
	fs.mu.Unlock()
}
