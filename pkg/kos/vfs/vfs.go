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
	"strings"

	"github.com/kos-project/kos/pkg/kos/kerr"
)

// MaxSymlinkFollows bounds symlink expansion during path resolution, per
// spec.md §4.5/§8.
const MaxSymlinkFollows = 40

// PathMax bounds the total length of a path accepted by the resolver.
const PathMax = 4096

// ProcContext is the process context path resolution needs: identity,
// current working directory, and umask, per spec.md §4.5.
type ProcContext struct {
	UID, GID uint32
	IsRoot   bool
	Cwd      *Dentry
	Umask    Mode
}

// VirtualFilesystem is the facade of spec.md §4.5/§4.6: the mount table
// plus the dentry cache shared across all mounted filesystems.
type VirtualFilesystem struct {
	mounts *mountTable
	cache  *Cache

	nextInode uint64
}

// New constructs an empty VirtualFilesystem. MountRoot must be called
// before any path resolution.
func New() *VirtualFilesystem {
	return &VirtualFilesystem{mounts: newMountTable(), cache: NewCache()}
}

// MountRoot establishes fs as the root filesystem.
func (vfs *VirtualFilesystem) MountRoot(fs FilesystemImpl, flags MountFlags) *Dentry {
	root := fs.GetRoot()
	m := &Mount{Root: root, FS: fs, Flags: flags}
	vfs.mounts.mountRoot(m)
	d := vfs.cache.Insert(nil, "/", root)
	return d
}

// Mount attaches fs's root at the given mount-point dentry.
func (vfs *VirtualFilesystem) Mount(point *Dentry, fs FilesystemImpl, flags MountFlags) {
	m := &Mount{Point: point, Root: fs.GetRoot(), FS: fs, Flags: flags}
	vfs.mounts.mount(point, m)
}

// Unmount detaches whatever filesystem is mounted at point.
func (vfs *VirtualFilesystem) Unmount(point *Dentry) {
	vfs.mounts.unmount(point)
}

// RootDentry returns the dentry of the root mount.
func (vfs *VirtualFilesystem) RootDentry() *Dentry {
	m := vfs.mounts.getRoot()
	if m == nil {
		return nil
	}
	d, ok := vfs.cache.Lookup(nil, "/")
	if !ok {
		d = vfs.cache.Insert(nil, "/", m.Root)
	}
	return d
}

// fsOf returns the FilesystemImpl owning v's dentry's binding; since
// VNode carries its own FS backref (spec.md §3), this is just v.FS.
func fsOf(d *Dentry) FilesystemImpl {
	return d.VNode.FS
}

// Resolve implements spec.md §4.5's path resolution algorithm: canonicalize
// relative to ctx.Cwd, walk components from the root, check execute
// permission on each traversed directory, follow symlinks inline up to
// MaxSymlinkFollows, cross mount points, and reject `..` that would
// escape the root.
func (vfs *VirtualFilesystem) Resolve(ctx ProcContext, path string) (*Dentry, error) {
	follows := 0
	return vfs.resolve(ctx, path, &follows)
}

// resolve is Resolve's recursive core. follows is a single counter
// shared across the entire top-level resolution (including every nested
// symlink expansion it triggers), since MaxSymlinkFollows bounds the
// total expansions in one resolution, not per recursive call.
func (vfs *VirtualFilesystem) resolve(ctx ProcContext, path string, follows *int) (*Dentry, error) {
	if len(path) == 0 || len(path) > PathMax || strings.ContainsRune(path, 0) {
		return nil, kerr.New(kerr.InvalidArgument, "vfs.Resolve", "empty, NUL-containing, or too-long path")
	}

	var cur *Dentry
	if strings.HasPrefix(path, "/") {
		cur = vfs.RootDentry()
	} else {
		cur = ctx.Cwd
		if cur == nil {
			cur = vfs.RootDentry()
		}
	}
	if cur == nil {
		return nil, kerr.New(kerr.NotFound, "vfs.Resolve", "no root mounted")
	}

	root := vfs.RootDentry()
	components := strings.Split(path, "/")
	for _, name := range components {
		if name == "" || name == "." {
			continue
		}
		if name == ".." {
			if cur == root {
				continue // reject escaping the root: "/.." is "/"
			}
			if cur.Parent != nil {
				cur = cur.Parent
			}
			continue
		}

		if cur.VNode.Type != TypeDirectory {
			return nil, kerr.New(kerr.NotDirectory, "vfs.Resolve", "path component is not a directory")
		}
		if !checkPerm(ctx, cur.VNode, permExec) {
			return nil, kerr.New(kerr.PermissionDenied, "vfs.Resolve", "missing execute permission")
		}

		next, err := vfs.lookupChild(cur, name)
		if err != nil {
			return nil, err
		}

		if m, ok := vfs.mounts.at(next.VNode); ok {
			next = vfs.cache.Insert(next, ".", m.Root)
			next.Parent = cur
		}

		if next.VNode.Type == TypeSymlink {
			*follows++
			if *follows > MaxSymlinkFollows {
				return nil, kerr.New(kerr.SymlinkLoop, "vfs.Resolve", "too many symlink expansions")
			}
			target, _ := next.VNode.Payload.(string)
			targetCtx := ctx
			if strings.HasPrefix(target, "/") {
				targetCtx.Cwd = root
			} else {
				targetCtx.Cwd = cur
			}
			resolved, err := vfs.resolve(targetCtx, target, follows)
			if err != nil {
				return nil, err
			}
			cur = resolved
			continue
		}

		cur = next
	}
	return cur, nil
}

func (vfs *VirtualFilesystem) lookupChild(parent *Dentry, name string) (*Dentry, error) {
	if d, ok := vfs.cache.Lookup(parent, name); ok {
		return d, nil
	}
	vnode, err := fsOf(parent).Lookup(parent.VNode, name)
	if err != nil {
		return nil, err
	}
	d := vfs.cache.Insert(parent, name, vnode)
	return d, nil
}

// Invalidate drops a cached dentry (and its descendants), e.g. after
// unlink/rmdir/rename removes a binding.
func (vfs *VirtualFilesystem) Invalidate(d *Dentry) {
	vfs.cache.Invalidate(d)
}

type permBit int

const (
	permRead permBit = iota
	permWrite
	permExec
)

// checkPerm implements spec.md §4.5's "owner/group/other bits against
// process uid/gid, ROOT bypass."
func checkPerm(ctx ProcContext, v *VNode, bit permBit) bool {
	if ctx.IsRoot {
		return true
	}
	var shift uint
	switch {
	case v.UID == ctx.UID:
		shift = 6
	case v.GID == ctx.GID:
		shift = 3
	default:
		shift = 0
	}
	mask := Mode(1) << (shift + uint(2-bit))
	return v.Mode&mask != 0
}

// CheckPermission exposes checkPerm for callers outside the resolver
// (open's final access check, fdtable).
func CheckPermission(ctx ProcContext, v *VNode, read, write, exec bool) bool {
	if read && !checkPerm(ctx, v, permRead) {
		return false
	}
	if write && !checkPerm(ctx, v, permWrite) {
		return false
	}
	if exec && !checkPerm(ctx, v, permExec) {
		return false
	}
	return true
}
