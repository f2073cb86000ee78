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
	"path"
	"strings"

	"github.com/kos-project/kos/pkg/kos/kerr"
)

// resolveParent resolves the parent directory and base name of a path,
// for creation-family operations that need both.
func (vfs *VirtualFilesystem) resolveParent(ctx ProcContext, p string) (*Dentry, string, error) {
	dir, base := path.Split(strings.TrimSuffix(p, "/"))
	if base == "" {
		return nil, "", kerr.New(kerr.InvalidArgument, "vfs.resolveParent", "no base name in path")
	}
	if dir == "" {
		dir = "."
	}
	parent, err := vfs.Resolve(ctx, dir)
	if err != nil {
		return nil, "", err
	}
	if parent.VNode.Type != TypeDirectory {
		return nil, "", kerr.New(kerr.NotDirectory, "vfs.resolveParent", "parent is not a directory")
	}
	return parent, base, nil
}

// Create resolves p's parent and creates a new regular (or typed) file
// under it via the owning FilesystemImpl, honoring ctx.Umask.
func (vfs *VirtualFilesystem) Create(ctx ProcContext, p string, mode Mode, typ FileType) (*Dentry, error) {
	parent, base, err := vfs.resolveParent(ctx, p)
	if err != nil {
		return nil, err
	}
	if !checkPerm(ctx, parent.VNode, permWrite) {
		return nil, kerr.New(kerr.PermissionDenied, "vfs.Create", "no write permission on parent")
	}
	vnode, err := fsOf(parent).Create(parent.VNode, base, mode&^ctx.Umask, typ)
	if err != nil {
		return nil, err
	}
	return vfs.cache.Insert(parent, base, vnode), nil
}

// Mkdir creates a directory at p.
func (vfs *VirtualFilesystem) Mkdir(ctx ProcContext, p string, mode Mode) (*Dentry, error) {
	parent, base, err := vfs.resolveParent(ctx, p)
	if err != nil {
		return nil, err
	}
	if !checkPerm(ctx, parent.VNode, permWrite) {
		return nil, kerr.New(kerr.PermissionDenied, "vfs.Mkdir", "no write permission on parent")
	}
	vnode, err := fsOf(parent).Mkdir(parent.VNode, base, mode&^ctx.Umask)
	if err != nil {
		return nil, err
	}
	return vfs.cache.Insert(parent, base, vnode), nil
}

// Unlink removes a non-directory entry at p.
func (vfs *VirtualFilesystem) Unlink(ctx ProcContext, p string) error {
	parent, base, err := vfs.resolveParent(ctx, p)
	if err != nil {
		return err
	}
	if !checkPerm(ctx, parent.VNode, permWrite) {
		return kerr.New(kerr.PermissionDenied, "vfs.Unlink", "no write permission on parent")
	}
	if err := fsOf(parent).Unlink(parent.VNode, base); err != nil {
		return err
	}
	if d, ok := vfs.cache.Lookup(parent, base); ok {
		vfs.cache.Invalidate(d)
	}
	return nil
}

// Rmdir removes an empty directory at p.
func (vfs *VirtualFilesystem) Rmdir(ctx ProcContext, p string) error {
	parent, base, err := vfs.resolveParent(ctx, p)
	if err != nil {
		return err
	}
	if err := fsOf(parent).Rmdir(parent.VNode, base); err != nil {
		return err
	}
	if d, ok := vfs.cache.Lookup(parent, base); ok {
		vfs.cache.Invalidate(d)
	}
	return nil
}

// Symlink creates a symlink at p pointing at target.
func (vfs *VirtualFilesystem) Symlink(ctx ProcContext, p, target string) (*Dentry, error) {
	parent, base, err := vfs.resolveParent(ctx, p)
	if err != nil {
		return nil, err
	}
	vnode, err := fsOf(parent).Symlink(parent.VNode, base, target)
	if err != nil {
		return nil, err
	}
	return vfs.cache.Insert(parent, base, vnode), nil
}

// Link creates a hard link at p to the vnode targetDentry resolves to.
func (vfs *VirtualFilesystem) Link(ctx ProcContext, p string, targetDentry *Dentry) error {
	parent, base, err := vfs.resolveParent(ctx, p)
	if err != nil {
		return err
	}
	if err := fsOf(parent).Link(parent.VNode, base, targetDentry.VNode); err != nil {
		return err
	}
	vfs.cache.Insert(parent, base, targetDentry.VNode)
	return nil
}

// Rename atomically moves oldPath to newPath within a single FS driver,
// per spec.md §4.5's atomic-rename requirement. Both paths must resolve
// to the same filesystem (cross-filesystem rename is not supported, same
// as most POSIX filesystems without an explicit copy step).
func (vfs *VirtualFilesystem) Rename(ctx ProcContext, oldPath, newPath string) error {
	oldParent, oldBase, err := vfs.resolveParent(ctx, oldPath)
	if err != nil {
		return err
	}
	newParent, newBase, err := vfs.resolveParent(ctx, newPath)
	if err != nil {
		return err
	}
	if fsOf(oldParent) != fsOf(newParent) {
		return kerr.New(kerr.InvalidArgument, "vfs.Rename", "cross-filesystem rename not supported")
	}
	if err := fsOf(oldParent).Rename(oldParent.VNode, oldBase, newParent.VNode, newBase); err != nil {
		return err
	}
	if d, ok := vfs.cache.Lookup(oldParent, oldBase); ok {
		vfs.cache.Invalidate(d)
	}
	if d, ok := vfs.cache.Lookup(newParent, newBase); ok {
		vfs.cache.Invalidate(d)
	}
	return nil
}

// Stat returns d's attributes.
func (vfs *VirtualFilesystem) Stat(d *Dentry) (Attr, error) {
	return fsOf(d).Stat(d.VNode)
}

// Setattr applies attr to d per mask.
func (vfs *VirtualFilesystem) Setattr(d *Dentry, attr Attr, mask AttrMask) error {
	return fsOf(d).Setattr(d.VNode, attr, mask)
}

// Readdir lists d's children.
func (vfs *VirtualFilesystem) Readdir(d *Dentry) ([]DirEntry, error) {
	return fsOf(d).Readdir(d.VNode)
}
